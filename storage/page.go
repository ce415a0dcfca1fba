package storage

import "bytes"

// DefaultPageSize is the default fixed page size in bytes.
const DefaultPageSize = 4096

// PageID identifies a page within the database as (TableID, PageNumber).
// It is a plain value type: equal under structural equality, usable as a
// map key.
type PageID struct {
	TableID    uint64
	PageNumber int
}

// TransactionID is an opaque, globally unique identifier for a transaction.
type TransactionID uint64

// Page is a fixed-size byte container cached by the BufferPool. DirtyBy
// records which transaction last mutated it (cleared on flush); Before is
// the snapshot taken at load time and refreshed after every flush, kept as
// a hook a future WAL could reuse. Abort-revert does not read Before: the
// BufferPool reloads the page from its PageStore instead.
type Page struct {
	ID      PageID
	Data    []byte
	DirtyBy *TransactionID
	Before  []byte
}

// newPage allocates a zeroed page of the given size and seeds Before with
// the same zeroed contents, as required on initial load.
func newPage(id PageID, size int) *Page {
	data := make([]byte, size)
	before := make([]byte, size)
	return &Page{ID: id, Data: data, Before: before}
}

func clonePage(p *Page) *Page {
	data := make([]byte, len(p.Data))
	copy(data, p.Data)
	before := make([]byte, len(p.Before))
	copy(before, p.Before)
	cp := &Page{ID: p.ID, Data: data, Before: before}
	if p.DirtyBy != nil {
		tid := *p.DirtyBy
		cp.DirtyBy = &tid
	}
	return cp
}

// IsDirty reports whether the page has an outstanding writer.
func (p *Page) IsDirty() bool {
	return p.DirtyBy != nil
}

// MarkDirty records tid as the page's mutator.
func (p *Page) MarkDirty(tid TransactionID) {
	t := tid
	p.DirtyBy = &t
}

// clearDirty clears the dirty marker and refreshes the before-image from
// the page's current (just-flushed) contents.
func (p *Page) clearDirty() {
	p.DirtyBy = nil
	copy(p.Before, p.Data)
}

// Equal does a byte-exact comparison of page contents, used by round-trip
// tests.
func (p *Page) Equal(other *Page) bool {
	return p.ID == other.ID && bytes.Equal(p.Data, other.Data)
}
