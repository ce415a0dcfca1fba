package storage

import (
	"encoding/binary"
)

// pageHeaderSize is the 8-byte heap page header: a 32-bit slot count
// followed by a 32-bit used-slot count, exactly as heap_page.go documents.
const pageHeaderSize = 8

// RecordID identifies a record's slot within a table.
type RecordID struct {
	PageNumber int
	Slot       int
}

// Record is an opaque, fixed-length byte payload. Field/type representation
// is left to callers; a HeapFile only ever moves bytes.
type Record []byte

// HeapFile is an unordered collection of fixed-length Records backed by a
// PageStore and routed entirely through a BufferPool, so that every
// mutation participates in page-level locking and NO-STEAL/FORCE. Grounded
// in heap_file.go (page-scan-then-append insert) and heap_page.go
// (fixed-slot layout with a tombstone-on-delete).
type HeapFile struct {
	store      PageStore
	pool       *BufferPool
	recordSize int
}

// NewHeapFile wires a HeapFile over store, registering it with pool so the
// pool can load/evict/revert its pages.
func NewHeapFile(store PageStore, pool *BufferPool, recordSize int) *HeapFile {
	pool.RegisterStore(store)
	return &HeapFile{store: store, pool: pool, recordSize: recordSize}
}

func (f *HeapFile) slotsPerPage(pageSize int) int {
	return (pageSize - pageHeaderSize) / f.recordSize
}

// slotLayout reads a page's header (slot count, used-slot count).
func slotLayout(data []byte) (numSlots, usedSlots int32) {
	numSlots = int32(binary.LittleEndian.Uint32(data[0:4]))
	usedSlots = int32(binary.LittleEndian.Uint32(data[4:8]))
	return
}

func setSlotLayout(data []byte, numSlots, usedSlots int32) {
	binary.LittleEndian.PutUint32(data[0:4], uint32(numSlots))
	binary.LittleEndian.PutUint32(data[4:8], uint32(usedSlots))
}

func slotOffset(slot, recordSize int) int {
	return pageHeaderSize + slot*recordSize
}

// isSlotUsed reports whether slot holds a live record: a slot's first byte
// is a marker set to 1 on insert and to 0 when the record is tombstoned on
// delete, so an all-zero slot (the page's initial state) and a deleted slot
// are both "unused."
func isSlotUsed(data []byte, slot, recordSize int) bool {
	off := slotOffset(slot, recordSize)
	return data[off] == 1
}

func markSlot(data []byte, slot, recordSize int, used bool) {
	off := slotOffset(slot, recordSize)
	if used {
		data[off] = 1
	} else {
		data[off] = 0
	}
}

// ensurePageInit lays down a fresh header on a just-loaded empty page.
func (f *HeapFile) ensurePageInit(p *Page) {
	numSlots, _ := slotLayout(p.Data)
	if numSlots != 0 {
		return
	}
	total := f.slotsPerPage(len(p.Data))
	setSlotLayout(p.Data, int32(total), 0)
}

// InsertRecord appends rec to the first page with a free slot, scanning
// existing pages via the pool before allocating a new one — the same
// policy as heap_file.go's insertTuple. The page mutated is marked dirty
// under txn.
func (f *HeapFile) InsertRecord(txn TransactionID, rec Record) (RecordID, error) {
	if len(rec) > f.recordSize-1 {
		return RecordID{}, newDbError(IllegalOperationError, "record too large for slot size %d", f.recordSize)
	}

	pageNo := 0
	for {
		pid := PageID{TableID: f.store.TableID(), PageNumber: pageNo}
		page, err := f.pool.GetPage(txn, pid, Exclusive)
		if err != nil {
			return RecordID{}, err
		}
		f.ensurePageInit(page)
		numSlots, usedSlots := slotLayout(page.Data)

		for slot := 0; slot < int(numSlots); slot++ {
			if isSlotUsed(page.Data, slot, f.recordSize) {
				continue
			}
			off := slotOffset(slot, f.recordSize)
			markSlot(page.Data, slot, f.recordSize, true)
			copy(page.Data[off+1:off+1+len(rec)], rec)
			setSlotLayout(page.Data, numSlots, usedSlots+1)
			page.MarkDirty(txn)
			return RecordID{PageNumber: pageNo, Slot: slot}, nil
		}

		pageNo++
		if pageNo > f.store.NumPages() {
			return RecordID{}, newDbError(IllegalOperationError, "no room for new record")
		}
	}
}

// DeleteRecord tombstones the record at rid. The owning page is marked
// dirty under txn.
func (f *HeapFile) DeleteRecord(txn TransactionID, rid RecordID) error {
	pid := PageID{TableID: f.store.TableID(), PageNumber: rid.PageNumber}
	page, err := f.pool.GetPage(txn, pid, Exclusive)
	if err != nil {
		return err
	}
	numSlots, usedSlots := slotLayout(page.Data)
	if rid.Slot < 0 || rid.Slot >= int(numSlots) || !isSlotUsed(page.Data, rid.Slot, f.recordSize) {
		return newDbError(IllegalOperationError, "no record at %v", rid)
	}
	markSlot(page.Data, rid.Slot, f.recordSize, false)
	setSlotLayout(page.Data, numSlots, usedSlots-1)
	page.MarkDirty(txn)
	return nil
}

// ReadRecord fetches the record at rid under a shared lock.
func (f *HeapFile) ReadRecord(txn TransactionID, rid RecordID) (Record, error) {
	pid := PageID{TableID: f.store.TableID(), PageNumber: rid.PageNumber}
	page, err := f.pool.GetPage(txn, pid, Shared)
	if err != nil {
		return nil, err
	}
	numSlots, _ := slotLayout(page.Data)
	if rid.Slot < 0 || rid.Slot >= int(numSlots) || !isSlotUsed(page.Data, rid.Slot, f.recordSize) {
		return nil, newDbError(IllegalOperationError, "no record at %v", rid)
	}
	off := slotOffset(rid.Slot, f.recordSize)
	out := make(Record, f.recordSize-1)
	copy(out, page.Data[off+1:off+f.recordSize])
	return out, nil
}

// Scan returns every live record on pageNo under a shared lock, in slot
// order, grounded in heap_page.go's tupleIter.
func (f *HeapFile) Scan(txn TransactionID, pageNo int) ([]Record, error) {
	pid := PageID{TableID: f.store.TableID(), PageNumber: pageNo}
	page, err := f.pool.GetPage(txn, pid, Shared)
	if err != nil {
		return nil, err
	}
	numSlots, _ := slotLayout(page.Data)
	var out []Record
	for slot := 0; slot < int(numSlots); slot++ {
		if !isSlotUsed(page.Data, slot, f.recordSize) {
			continue
		}
		off := slotOffset(slot, f.recordSize)
		rec := make(Record, f.recordSize-1)
		copy(rec, page.Data[off+1:off+f.recordSize])
		out = append(out, rec)
	}
	return out, nil
}
