// Package page defines the fixed-size in-memory page buffer shared by
// the tuple store and the B+Tree index. The byte layout of the page
// body is owned by those packages; page only carries the buffer plus
// the bookkeeping the buffer pool needs to pin, dirty-track and latch
// a frame.
package page

import (
	"sync"

	"relcore/internal/types"
)

// Size is the fixed page size used throughout the storage core.
const Size = 4096

// Kind tags what a page's body holds, stamped into byte 0 on disk so
// recovery and debugging tools can tell pages apart without a catalog
// lookup.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindSuperblock
	KindFreeList
	KindTupleHeap
	KindOverflow
	KindIndexLeaf
	KindIndexInternal
	KindCatalogMeta
)

// Page is a PageSize-byte block plus the metadata a Frame needs.
// Concurrent mutation is serialized through the embedded latch; under
// the engine's single-writer model only the active transaction ever
// takes the write latch, but reads may run concurrently with it on
// pages the writer has not touched.
type Page struct {
	ID   types.PageId
	Kind Kind
	Data [Size]byte

	mu sync.RWMutex
}

func New(id types.PageId, kind Kind) *Page {
	p := &Page{ID: id, Kind: kind}
	p.Data[0] = byte(kind)
	return p
}

func (p *Page) Lock()    { p.mu.Lock() }
func (p *Page) Unlock()  { p.mu.Unlock() }
func (p *Page) RLock()   { p.mu.RLock() }
func (p *Page) RUnlock() { p.mu.RUnlock() }

// Zero clears the page body, re-stamps its kind, and is used both when
// a fresh page is allocated and when a shadow copy is taken.
func (p *Page) Zero(kind Kind) {
	for i := range p.Data {
		p.Data[i] = 0
	}
	p.Kind = kind
	p.Data[0] = byte(kind)
}

// CloneInto copies src's body into dst, used by BufferPool.Shadow to
// materialize a transaction-private copy of a page.
func CloneInto(dst, src *Page) {
	dst.Kind = src.Kind
	dst.Data = src.Data
}
