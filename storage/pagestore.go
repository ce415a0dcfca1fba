package storage

import (
	"hash/fnv"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// PageStore is the producer interface the core consumes from a file
// backend: read and write fixed-size pages by page number, and report the
// current logical page count.
type PageStore interface {
	TableID() uint64
	ReadPage(pageNumber int) (*Page, error)
	WritePage(p *Page) error
	NumPages() int
}

// FilePageStore is a PageStore backed by a single on-disk heap file: a
// concatenation of PageSize-byte pages, page k at offset k*PageSize.
// Grounded in heap_file.go's readPage/flushPage/NumPages trio.
type FilePageStore struct {
	mu       sync.Mutex
	path     string
	tableID  uint64
	pageSize int
	numPages int
}

// NewFilePageStore opens (creating if necessary) the backing file at path
// and computes its logical page count from the file's current size.
// TableID is the stable FNV-1a hash of the absolute backing path, so two
// stores never collide even if opened from different working directories.
func NewFilePageStore(path string, pageSize int) (*FilePageStore, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, newDbError(IOError, "resolve path %s: %v", path, err)
	}

	f, err := os.OpenFile(abs, os.O_CREATE|os.O_RDWR, 0o666)
	if err != nil {
		return nil, newDbError(IOError, "open %s: %v", abs, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, newDbError(IOError, "stat %s: %v", abs, err)
	}

	numPages := int(info.Size() / int64(pageSize))
	if info.Size()%int64(pageSize) != 0 {
		numPages++
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(abs))

	return &FilePageStore{
		path:     abs,
		tableID:  h.Sum64(),
		pageSize: pageSize,
		numPages: numPages,
	}, nil
}

func (s *FilePageStore) TableID() uint64 { return s.tableID }

// ReadPage reads PageSize bytes at offset pageNumber*PageSize. Reading the
// page whose number equals the current logical page count returns a
// freshly initialized empty page and extends the logical page count by one
// without touching the file; only WritePage physically extends it. Page
// numbers beyond the logical count fail with PageNotFoundError.
func (s *FilePageStore) ReadPage(pageNumber int) (*Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := PageID{TableID: s.tableID, PageNumber: pageNumber}

	if pageNumber == s.numPages {
		s.numPages++
		return newPage(id, s.pageSize), nil
	}
	if pageNumber > s.numPages || pageNumber < 0 {
		return nil, newDbError(PageNotFoundError, "page %d not found (num_pages=%d)", pageNumber, s.numPages)
	}

	f, err := os.OpenFile(s.path, os.O_RDONLY, 0o666)
	if err != nil {
		return nil, newDbError(IOError, "open %s: %v", s.path, err)
	}
	defer f.Close()

	offset := int64(pageNumber) * int64(s.pageSize)
	buf := make([]byte, s.pageSize)
	if _, err := f.ReadAt(buf, offset); err != nil && err != io.EOF {
		return nil, newDbError(IOError, "read page %d: %v", pageNumber, err)
	}

	p := newPage(id, s.pageSize)
	copy(p.Data, buf)
	copy(p.Before, buf)
	return p, nil
}

// WritePage writes PageSize bytes at the page's computed offset, growing
// the file if necessary. The logical page count becomes
// max(current, pageNumber+1).
func (s *FilePageStore) WritePage(p *Page) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID.TableID != s.tableID {
		return newDbError(IllegalOperationError, "page %v does not belong to this table", p.ID)
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_RDWR, 0o666)
	if err != nil {
		return newDbError(IOError, "open %s: %v", s.path, err)
	}
	defer f.Close()

	offset := int64(p.ID.PageNumber) * int64(s.pageSize)
	if len(p.Data) != s.pageSize {
		return newDbError(IllegalOperationError, "page %v has wrong size %d", p.ID, len(p.Data))
	}
	if _, err := f.WriteAt(p.Data, offset); err != nil {
		return newDbError(IOError, "write page %d: %v", p.ID.PageNumber, err)
	}

	if p.ID.PageNumber+1 > s.numPages {
		s.numPages = p.ID.PageNumber + 1
	}
	return nil
}

func (s *FilePageStore) NumPages() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.numPages
}
