package proc

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"
)

// MemoryReader is like io.ReaderAt with an Address offset. Redundant with
// ProcessController.ReadProcessMemory but more easily composed with
// buffering layers.
type MemoryReader interface {
	// ReadMemory fills buf with the target's memory starting at addr.
	ReadMemory(buf []byte, addr Address) (n int, err error)
}

type controllerMem struct {
	p ProcessController
}

// Reader adapts a ProcessController to the MemoryReader interface.
func Reader(p ProcessController) MemoryReader {
	return &controllerMem{p: p}
}

func (m *controllerMem) ReadMemory(buf []byte, addr Address) (int, error) {
	data, err := m.p.ReadProcessMemory(addr, uint64(len(buf)))
	if err != nil {
		return 0, err
	}
	return copy(buf, data), nil
}

// CachedMemory wraps a MemoryReader with a page-granular LRU read cache.
// Drivers issue many small header reads after the entry point is reached
// and each one would otherwise be a full remote round trip.
//
// The cache never observes writes, so it must not be layered under code
// that mutates the target; call Flush after any write that could overlap
// cached pages. It is not used by controller operations themselves: a range
// resolved with data always reads exactly its span from the target.
type CachedMemory struct {
	mem      MemoryReader
	pageSize uint64
	pages    *lru.Cache
}

// NewCachedMemory builds a CachedMemory reading through mem, caching up to
// maxPages pages of pageSize bytes each.
func NewCachedMemory(mem MemoryReader, pageSize uint64, maxPages int) (*CachedMemory, error) {
	if pageSize == 0 || pageSize&(pageSize-1) != 0 {
		return nil, fmt.Errorf("page size %d is not a power of two", pageSize)
	}
	pages, err := lru.New(maxPages)
	if err != nil {
		return nil, err
	}
	return &CachedMemory{mem: mem, pageSize: pageSize, pages: pages}, nil
}

// ReadMemory assembles buf from cached pages, fetching missing pages from
// the underlying reader.
func (c *CachedMemory) ReadMemory(buf []byte, addr Address) (int, error) {
	read := 0
	for read < len(buf) {
		pageAddr := addr.Add(uint64(read)).Align(c.pageSize)
		page, err := c.page(pageAddr)
		if err != nil {
			return 0, err
		}
		off := addr.Add(uint64(read)).Sub(pageAddr)
		read += copy(buf[read:], page[off:])
	}
	return read, nil
}

// Flush drops every cached page.
func (c *CachedMemory) Flush() {
	c.pages.Purge()
}

func (c *CachedMemory) page(pageAddr Address) ([]byte, error) {
	if v, ok := c.pages.Get(pageAddr); ok {
		return v.([]byte), nil
	}
	page := make([]byte, c.pageSize)
	if _, err := c.mem.ReadMemory(page, pageAddr); err != nil {
		return nil, err
	}
	c.pages.Add(pageAddr, page)
	return page, nil
}
