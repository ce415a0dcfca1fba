package storage

import "time"

// Config bundles the storage core's tunables. No example in the pack
// reaches for a config-file/flags library at this granularity — GoDB,
// minisql, and tinySQL all thread sizing through constructor parameters —
// so Config is a plain struct passed at construction time, following
// GoDB's NewBufferPool(numPages int) convention.
type Config struct {
	PageSize        int
	Capacity        int
	DeadlockTimeout time.Duration
}

// DefaultConfig returns a reasonable baseline: 4096-byte pages, a 50-page
// pool, and a 2-second deadlock timeout.
func DefaultConfig() Config {
	return Config{
		PageSize:        DefaultPageSize,
		Capacity:        DefaultCapacity,
		DeadlockTimeout: DefaultDeadlockTimeout,
	}
}
