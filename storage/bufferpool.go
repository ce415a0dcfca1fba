package storage

import (
	"container/list"
	"sync"

	"go.uber.org/zap"
)

// DefaultCapacity is the default number of resident pages.
const DefaultCapacity = 50

// cacheEntry is the resident record for one page: its contents plus the
// list.Element tracking its position in LRU order. Representing the cache
// as a PageID-keyed map plus an ordered list of structural handles (rather
// than raw back-pointers between nodes) avoids hand-rolling a cyclic
// pointer graph.
type cacheEntry struct {
	page *Page
	elem *list.Element
}

// BufferPool is a bounded, LRU-ordered page cache sitting in front of a
// set of PageStores, coordinating access through a LockTable and tracking
// per-transaction touched pages for commit/abort.
//
// len(pages) never exceeds capacity, every resident PageID appears exactly
// once in lru, and a page with DirtyBy != nil is never evicted (NO-STEAL).
type BufferPool struct {
	capacity int
	locks    *LockTable
	log      *zap.Logger

	mu      sync.Mutex
	pages   map[PageID]*cacheEntry
	lru     *list.List // front = MRU, back = LRU
	touched map[TransactionID]map[PageID]struct{}
	stores  map[uint64]PageStore
}

// NewBufferPool builds a BufferPool of the given capacity that takes its
// page locks from lockTable. A non-positive capacity is replaced with
// DefaultCapacity, and a nil logger with a no-op logger.
func NewBufferPool(capacity int, lockTable *LockTable, log *zap.Logger) *BufferPool {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &BufferPool{
		capacity: capacity,
		locks:    lockTable,
		log:      log,
		pages:    make(map[PageID]*cacheEntry),
		lru:      list.New(),
		touched:  make(map[TransactionID]map[PageID]struct{}),
		stores:   make(map[uint64]PageStore),
	}
}

// RegisterStore makes store reachable by the TableID of the pages it
// serves, so the pool can load/revert pages on miss/abort without the
// caller re-supplying the store on every call.
func (bp *BufferPool) RegisterStore(store PageStore) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	bp.stores[store.TableID()] = store
}

func (bp *BufferPool) storeFor(pid PageID) (PageStore, bool) {
	s, ok := bp.stores[pid.TableID]
	return s, ok
}

func (bp *BufferPool) touchedSet(txn TransactionID) map[PageID]struct{} {
	set, ok := bp.touched[txn]
	if !ok {
		set = make(map[PageID]struct{})
		bp.touched[txn] = set
	}
	return set
}

// GetPage acquires the lock for pid under txn (may block up to the
// LockTable's deadlock timeout, may return ErrAborted), records pid under
// txn's touched set, and returns the cached page — loading it from the
// registered PageStore and evicting if necessary on a cache miss.
func (bp *BufferPool) GetPage(txn TransactionID, pid PageID, mode LockMode) (*Page, error) {
	if err := bp.locks.Acquire(txn, pid, mode); err != nil {
		return nil, err
	}

	bp.mu.Lock()
	defer bp.mu.Unlock()

	bp.touchedSet(txn)[pid] = struct{}{}

	if entry, ok := bp.pages[pid]; ok {
		bp.lru.MoveToFront(entry.elem)
		return entry.page, nil
	}

	store, ok := bp.storeFor(pid)
	if !ok {
		return nil, newDbError(IllegalOperationError, "no registered store for table %d", pid.TableID)
	}

	if len(bp.pages) >= bp.capacity {
		if err := bp.evictLocked(); err != nil {
			return nil, err
		}
	}

	page, err := store.ReadPage(pid.PageNumber)
	if err != nil {
		return nil, err
	}

	elem := bp.lru.PushFront(pid)
	bp.pages[pid] = &cacheEntry{page: page, elem: elem}
	bp.log.Debug("page loaded", zap.Any("page", pid))
	return page, nil
}

// evictLocked selects the least-recently-used clean page and drops it.
// Strict NO-STEAL: scans from the LRU end toward the MRU end and evicts
// the first non-dirty page found; if every resident page is dirty, it
// fails rather than stealing one.
func (bp *BufferPool) evictLocked() error {
	for e := bp.lru.Back(); e != nil; e = e.Prev() {
		pid := e.Value.(PageID)
		entry := bp.pages[pid]
		if entry.page.IsDirty() {
			continue
		}
		bp.lru.Remove(e)
		delete(bp.pages, pid)
		bp.log.Debug("page evicted", zap.Any("page", pid))
		return nil
	}
	return newDbError(BufferPoolFullError, "no clean page to evict")
}

// Resident reports whether pid is currently cached. Test/introspection hook.
func (bp *BufferPool) Resident(pid PageID) bool {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	_, ok := bp.pages[pid]
	return ok
}

// HoldsLock delegates to the LockTable.
func (bp *BufferPool) HoldsLock(txn TransactionID, pid PageID) bool {
	return bp.locks.Holds(txn, pid)
}

// UnsafeRelease is a test-only hook for releasing a lock directly without
// going through TxnComplete.
func (bp *BufferPool) UnsafeRelease(txn TransactionID, pid PageID) {
	bp.locks.Release(txn, pid)
}

// FlushPage writes a resident dirty page back through its PageStore,
// clears its dirty marker, and refreshes its before-image. A no-op if the
// page is not resident or not dirty, so repeated calls are idempotent.
func (bp *BufferPool) FlushPage(pid PageID) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return bp.flushLocked(pid)
}

func (bp *BufferPool) flushLocked(pid PageID) error {
	entry, ok := bp.pages[pid]
	if !ok || !entry.page.IsDirty() {
		return nil
	}
	store, ok := bp.storeFor(pid)
	if !ok {
		return newDbError(IllegalOperationError, "no registered store for table %d", pid.TableID)
	}
	if err := store.WritePage(entry.page); err != nil {
		return err
	}
	entry.page.clearDirty()
	return nil
}

// FlushAllPages flushes every resident dirty page that does not belong to
// a still-in-flight transaction. Recovery/checkpoint hook: under
// NO-STEAL/FORCE a transaction's own TxnComplete(commit=true) is the only
// path that is allowed to write its dirty pages before it completes, so a
// page currently owned by an active transaction (one with a live touched
// set) is left alone here — flushing it behind the transaction's back would
// let its effects become visible, and durable, before it has committed.
func (bp *BufferPool) FlushAllPages() error {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	for pid, entry := range bp.pages {
		if owner := entry.page.DirtyBy; owner != nil {
			if _, active := bp.touched[*owner]; active {
				continue
			}
		}
		if err := bp.flushLocked(pid); err != nil {
			return err
		}
	}
	return nil
}

// DiscardPage removes pid from the cache without flushing it.
func (bp *BufferPool) DiscardPage(pid PageID) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	bp.discardLocked(pid)
}

func (bp *BufferPool) discardLocked(pid PageID) {
	entry, ok := bp.pages[pid]
	if !ok {
		return
	}
	bp.lru.Remove(entry.elem)
	delete(bp.pages, pid)
}

// TxnComplete runs the commit/abort orchestration for a transaction.
//
// On commit (FORCE): every page touched by txn that is resident and dirty
// is flushed before any lock is released, so durable visibility holds
// before the call returns.
//
// On abort: every page touched by txn that is resident and dirtied by txn
// is reverted by reloading its bytes from the PageStore — correct under
// NO-STEAL because the on-disk image still reflects the last committed
// state (no dirty page was ever evicted mid-txn).
//
// Locks are released only after the commit-time flush completes, then
// txn's touched-page set is removed.
func (bp *BufferPool) TxnComplete(txn TransactionID, commit bool) error {
	bp.mu.Lock()
	touched := bp.touched[txn]
	pids := make([]PageID, 0, len(touched))
	for pid := range touched {
		pids = append(pids, pid)
	}

	var firstErr error
	if commit {
		for _, pid := range pids {
			if err := bp.flushLocked(pid); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	} else {
		for _, pid := range pids {
			bp.revertLocked(txn, pid)
		}
	}
	bp.mu.Unlock()

	for _, pid := range pids {
		bp.locks.Release(txn, pid)
	}

	bp.mu.Lock()
	delete(bp.touched, txn)
	bp.mu.Unlock()

	if commit {
		bp.log.Info("transaction committed", zap.Uint64("txn", uint64(txn)), zap.Int("pages", len(pids)))
	} else {
		bp.log.Info("transaction aborted", zap.Uint64("txn", uint64(txn)), zap.Int("pages", len(pids)))
	}
	return firstErr
}

// revertLocked undoes txn's modification to pid, if any, by reloading the
// page from its PageStore. If the store can't be located or read fails,
// the page is simply discarded so the next reader is forced to reload.
func (bp *BufferPool) revertLocked(txn TransactionID, pid PageID) {
	entry, ok := bp.pages[pid]
	if !ok || entry.page.DirtyBy == nil || *entry.page.DirtyBy != txn {
		return
	}

	store, ok := bp.storeFor(pid)
	if !ok {
		bp.discardLocked(pid)
		return
	}
	fresh, err := store.ReadPage(pid.PageNumber)
	if err != nil {
		bp.discardLocked(pid)
		return
	}
	entry.page = fresh
}
