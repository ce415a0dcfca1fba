package storage

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// LockMode is the mode a page lock is requested or held in.
type LockMode int

const (
	Shared LockMode = iota
	Exclusive
)

func (m LockMode) String() string {
	if m == Exclusive {
		return "exclusive"
	}
	return "shared"
}

// DefaultDeadlockTimeout is the maximum wall time a lock acquisition will
// block before the requester is aborted.
const DefaultDeadlockTimeout = 2000 * time.Millisecond

// lockEntry is the per-page lock state: at most one exclusive holder, or
// any number of shared holders, guarded by mu and signalled through cond.
// Whenever exclusiveHolder is set, sharedHolders contains at most that same
// transaction (a self-upgrade in progress); two or more distinct shared
// holders implies exclusiveHolder is nil.
type lockEntry struct {
	mu              sync.Mutex
	cond            *sync.Cond
	exclusiveHolder *TransactionID
	sharedHolders   map[TransactionID]struct{}
}

func newLockEntry() *lockEntry {
	e := &lockEntry{sharedHolders: make(map[TransactionID]struct{})}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// canGrantShared reports whether txn can be granted a shared lock: no
// exclusive holder, or the exclusive holder is txn itself (self-compatible).
func (e *lockEntry) canGrantShared(txn TransactionID) bool {
	return e.exclusiveHolder == nil || *e.exclusiveHolder == txn
}

// canGrantExclusive reports whether txn can be granted an exclusive lock:
// no exclusive holder (or txn already holds it), AND the shared holder set
// is empty or exactly {txn} (self-upgrade).
func (e *lockEntry) canGrantExclusive(txn TransactionID) bool {
	if e.exclusiveHolder != nil && *e.exclusiveHolder != txn {
		return false
	}
	if len(e.sharedHolders) == 0 {
		return true
	}
	if len(e.sharedHolders) == 1 {
		_, onlySelf := e.sharedHolders[txn]
		return onlySelf
	}
	return false
}

func (e *lockEntry) holds(txn TransactionID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.exclusiveHolder != nil && *e.exclusiveHolder == txn {
		return true
	}
	_, ok := e.sharedHolders[txn]
	return ok
}

// LockTable manages per-page S/X lock state: acquisition, release, and
// deadlock-by-timeout abort. Entries are created lazily on first request
// for a PageID and persist for the life of the table.
type LockTable struct {
	timeout time.Duration
	log     *zap.Logger

	mu      sync.Mutex
	entries map[PageID]*lockEntry
}

// NewLockTable builds a LockTable with the given deadlock timeout. A nil
// logger is replaced with a no-op logger.
func NewLockTable(timeout time.Duration, log *zap.Logger) *LockTable {
	if timeout <= 0 {
		timeout = DefaultDeadlockTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &LockTable{
		timeout: timeout,
		log:     log,
		entries: make(map[PageID]*lockEntry),
	}
}

func (lt *LockTable) entryFor(pid PageID) *lockEntry {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	e, ok := lt.entries[pid]
	if !ok {
		e = newLockEntry()
		lt.entries[pid] = e
	}
	return e
}

// Acquire blocks the caller until it holds mode on pid, or until
// DeadlockTimeout elapses, in which case it returns ErrAborted. Waiters
// are woken by broadcast, never by targeted signal, because a release can
// simultaneously unblock several compatible waiters (multiple readers, or
// a lone-self upgrader).
func (lt *LockTable) Acquire(txn TransactionID, pid PageID, mode LockMode) error {
	e := lt.entryFor(pid)
	deadline := time.Now().Add(lt.timeout)

	e.mu.Lock()
	defer e.mu.Unlock()

	for {
		granted := false
		if mode == Shared {
			granted = e.canGrantShared(txn)
		} else {
			granted = e.canGrantExclusive(txn)
		}
		if granted {
			if mode == Shared {
				e.sharedHolders[txn] = struct{}{}
			} else {
				t := txn
				e.exclusiveHolder = &t
				delete(e.sharedHolders, txn)
			}
			lt.log.Debug("lock granted",
				zap.Uint64("txn", uint64(txn)),
				zap.Any("page", pid),
				zap.String("mode", mode.String()))
			return nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			lt.log.Warn("lock acquisition timed out",
				zap.Uint64("txn", uint64(txn)),
				zap.Any("page", pid),
				zap.String("mode", mode.String()))
			return ErrAborted
		}

		// sync.Cond has no timed wait; a timer that grabs the same mutex
		// and broadcasts stands in for one. The predicate and deadline are
		// re-checked at the top of the loop regardless of which event
		// (a real release, or this timer) produced the wakeup.
		condWaitTimeout(e.cond, remaining)
	}
}

// condWaitTimeout waits on cond (whose lock must already be held by the
// caller) for up to d. cond.L is re-locked on return, matching
// sync.Cond.Wait's contract.
func condWaitTimeout(cond *sync.Cond, d time.Duration) {
	timer := time.AfterFunc(d, func() {
		cond.L.Lock()
		cond.Broadcast()
		cond.L.Unlock()
	})
	defer timer.Stop()
	cond.Wait()
}

// Release drops txn's hold on pid. If txn was the exclusive holder, the
// entry is cleared entirely; otherwise txn is removed from the shared set.
// Either way every waiter is broadcast, since a release can make more than
// one waiter eligible at once (multiple readers, or the remaining lone
// reader becoming upgrade-eligible).
func (lt *LockTable) Release(txn TransactionID, pid PageID) {
	lt.mu.Lock()
	e, ok := lt.entries[pid]
	lt.mu.Unlock()
	if !ok {
		return
	}

	e.mu.Lock()
	if e.exclusiveHolder != nil && *e.exclusiveHolder == txn {
		e.exclusiveHolder = nil
	}
	delete(e.sharedHolders, txn)
	e.cond.Broadcast()
	e.mu.Unlock()

	lt.log.Debug("lock released", zap.Uint64("txn", uint64(txn)), zap.Any("page", pid))
}

// Holds reports whether txn currently holds any lock on pid. Returns false
// if no entry exists for pid rather than faulting.
func (lt *LockTable) Holds(txn TransactionID, pid PageID) bool {
	lt.mu.Lock()
	e, ok := lt.entries[pid]
	lt.mu.Unlock()
	if !ok {
		return false
	}
	return e.holds(txn)
}
