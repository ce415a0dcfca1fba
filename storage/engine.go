package storage

import "go.uber.org/zap"

// Engine wires a Config, LockTable, and BufferPool together — the
// construction-time assembly every consumer (cmd/pageconsole, tests)
// otherwise repeats by hand.
type Engine struct {
	Config Config
	Locks  *LockTable
	Pool   *BufferPool
}

// NewEngine builds an Engine from cfg, using log for both the LockTable
// and BufferPool (nil is replaced with a no-op logger).
func NewEngine(cfg Config, log *zap.Logger) *Engine {
	locks := NewLockTable(cfg.DeadlockTimeout, log)
	pool := NewBufferPool(cfg.Capacity, locks, log)
	return &Engine{Config: cfg, Locks: locks, Pool: pool}
}

// Begin returns a fresh TransactionID ready for use against e.Pool.
func (e *Engine) Begin() TransactionID {
	return NewTxnID()
}
