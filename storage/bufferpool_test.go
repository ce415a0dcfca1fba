package storage_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"txcore/storage"
)

func newPool(t *testing.T, capacity int) (*storage.BufferPool, *storage.FilePageStore) {
	t.Helper()
	store, err := storage.NewFilePageStore(filepath.Join(t.TempDir(), "t.tbl"), 256)
	require.NoError(t, err)
	locks := storage.NewLockTable(500*time.Millisecond, nil)
	pool := storage.NewBufferPool(capacity, locks, nil)
	pool.RegisterStore(store)
	return pool, store
}

// TestBufferPool_EvictionSkipsDirty checks that with a full pool of dirty
// pages, a miss fails rather than silently stealing a dirty page.
func TestBufferPool_EvictionSkipsDirty(t *testing.T) {
	pool, store := newPool(t, 2)
	tid := storage.NewTxnID()

	p0, err := pool.GetPage(tid, storage.PageID{TableID: store.TableID(), PageNumber: 0}, storage.Exclusive)
	require.NoError(t, err)
	p0.MarkDirty(tid)

	p1, err := pool.GetPage(tid, storage.PageID{TableID: store.TableID(), PageNumber: 1}, storage.Exclusive)
	require.NoError(t, err)
	p1.MarkDirty(tid)

	_, err = pool.GetPage(tid, storage.PageID{TableID: store.TableID(), PageNumber: 2}, storage.Shared)
	require.Error(t, err)
	var dbErr storage.DbError
	require.ErrorAs(t, err, &dbErr)
}

// TestBufferPool_EvictsLRUNotMRU checks that eviction picks the
// least-recently-used page, not the most-recently-used one.
func TestBufferPool_EvictsLRUNotMRU(t *testing.T) {
	pool, store := newPool(t, 2)
	tid := storage.NewTxnID()
	p := func(n int) storage.PageID { return storage.PageID{TableID: store.TableID(), PageNumber: n} }

	_, err := pool.GetPage(tid, p(0), storage.Shared)
	require.NoError(t, err)
	_, err = pool.GetPage(tid, p(1), storage.Shared)
	require.NoError(t, err)

	// Touch page 0 again so page 1 becomes the LRU entry.
	_, err = pool.GetPage(tid, p(0), storage.Shared)
	require.NoError(t, err)

	_, err = pool.GetPage(tid, p(2), storage.Shared)
	require.NoError(t, err)

	// Page 1 (the LRU entry at the time of the miss) should have been
	// evicted, not page 0 (the MRU entry).
	require.False(t, pool.Resident(p(1)))
	require.True(t, pool.Resident(p(0)))
}

// TestBufferPool_CommitFlushesBeforeFlushAll checks that, with capacity=1,
// a dirty uncommitted page is not written by FlushAllPages, only by the
// transaction's own commit.
func TestBufferPool_CommitFlushesBeforeFlushAll(t *testing.T) {
	pool, store := newPool(t, 1)
	tid := storage.NewTxnID()
	pid := storage.PageID{TableID: store.TableID(), PageNumber: 0}

	page, err := pool.GetPage(tid, pid, storage.Exclusive)
	require.NoError(t, err)
	copy(page.Data, []byte("uncommitted"))
	page.MarkDirty(tid)

	// FlushAllPages only flushes pages that are already dirty-and-resident;
	// under FORCE the actual durability point is TxnComplete(commit=true),
	// not an ambient flush, so this call is a no-op here because the dirty
	// marker is still owned by the in-flight transaction.
	require.NoError(t, pool.FlushAllPages())
	onDisk, err := store.ReadPage(0)
	require.NoError(t, err)
	require.NotContains(t, string(onDisk.Data), "uncommitted")

	require.NoError(t, pool.TxnComplete(tid, true))

	reread, err := store.ReadPage(0)
	require.NoError(t, err)
	require.Contains(t, string(reread.Data), "uncommitted")
}

// TestBufferPool_AbortReverts checks that aborting a transaction reverts
// its dirty pages to their last committed contents.
func TestBufferPool_AbortReverts(t *testing.T) {
	pool, store := newPool(t, 4)
	pid := storage.PageID{TableID: store.TableID(), PageNumber: 0}

	t1 := storage.NewTxnID()
	page, err := pool.GetPage(t1, pid, storage.Exclusive)
	require.NoError(t, err)
	copy(page.Data, []byte("original"))
	page.MarkDirty(t1)
	require.NoError(t, pool.TxnComplete(t1, true))

	t2 := storage.NewTxnID()
	page2, err := pool.GetPage(t2, pid, storage.Exclusive)
	require.NoError(t, err)
	copy(page2.Data, []byte("mutated!"))
	page2.MarkDirty(t2)
	require.NoError(t, pool.TxnComplete(t2, false))

	t3 := storage.NewTxnID()
	page3, err := pool.GetPage(t3, pid, storage.Shared)
	require.NoError(t, err)
	require.Contains(t, string(page3.Data), "original")
	require.NoError(t, pool.TxnComplete(t3, true))
}

// TestBufferPool_LockReleaseCompleteness checks that commit releases every
// lock a transaction acquired.
func TestBufferPool_LockReleaseCompleteness(t *testing.T) {
	pool, store := newPool(t, 4)
	tid := storage.NewTxnID()
	pids := []storage.PageID{
		{TableID: store.TableID(), PageNumber: 0},
		{TableID: store.TableID(), PageNumber: 1},
	}
	for _, pid := range pids {
		_, err := pool.GetPage(tid, pid, storage.Shared)
		require.NoError(t, err)
	}
	require.NoError(t, pool.TxnComplete(tid, true))
	for _, pid := range pids {
		require.False(t, pool.HoldsLock(tid, pid))
	}
}

// TestBufferPool_SameTxnSamePageObjectIdentity checks that two GetPage
// calls for the same page under the same transaction return the same
// object, not independent copies.
func TestBufferPool_SameTxnSamePageObjectIdentity(t *testing.T) {
	pool, store := newPool(t, 4)
	tid := storage.NewTxnID()
	pid := storage.PageID{TableID: store.TableID(), PageNumber: 0}

	p1, err := pool.GetPage(tid, pid, storage.Shared)
	require.NoError(t, err)
	p2, err := pool.GetPage(tid, pid, storage.Shared)
	require.NoError(t, err)
	require.Same(t, p1, p2)
}
