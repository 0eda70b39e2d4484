// Package bufferpool caches disk pages in a bounded set of frames and
// implements the shadow-copy primitive the transaction manager uses
// for copy-on-write commits. Eviction is LRU over unpinned frames,
// tracked the way the teacher's buffer pool tracks access order (the
// pool's recency queue), but pin count and dirty bit live on the frame
// rather than the page (spec.md §4.2).
package bufferpool

import (
	"fmt"
	"log/slog"
	"sync"

	"relcore/internal/diskmgr"
	"relcore/internal/errs"
	"relcore/internal/page"
	"relcore/internal/types"
)

type frame struct {
	page    *page.Page
	pinCnt  int32
	dirty   bool
	lastUse uint64
}

// Pool is the process-wide page cache. All storage components share
// one Pool; it never knows about transactions, only about pages.
type Pool struct {
	mu       sync.Mutex
	dm       *diskmgr.Manager
	log      *slog.Logger
	frames   map[types.PageId]*frame
	order    []types.PageId // recency queue, oldest first
	capacity int
	seq      uint64
}

func New(dm *diskmgr.Manager, capacity int, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		dm:       dm,
		log:      logger,
		frames:   make(map[types.PageId]*frame, capacity),
		capacity: capacity,
	}
}

// Handle is a pinned reference to a frame. Callers must call Release
// exactly once on every exit path; Release is safe to call from a
// defer with MarkDirty having been called earlier if the page body
// was mutated.
type Handle struct {
	pool  *Pool
	id    types.PageId
	f     *frame
	dirty bool
}

func (h *Handle) Page() *page.Page { return h.f.page }

func (h *Handle) MarkDirty() { h.dirty = true }

func (h *Handle) Release() {
	h.pool.unpin(h.id, h.dirty)
}

func (p *Pool) touch(id types.PageId) {
	for i, x := range p.order {
		if x == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	p.order = append(p.order, id)
	p.seq++
}

// Fetch pins and returns the frame holding id, loading it from disk
// on a miss and evicting an unpinned frame if the pool is full.
func (p *Pool) Fetch(id types.PageId) (*Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if f, ok := p.frames[id]; ok {
		f.pinCnt++
		p.touch(id)
		p.log.Debug("bufferpool: hit", "page", id)
		return &Handle{pool: p, id: id, f: f}, nil
	}

	p.log.Debug("bufferpool: miss", "page", id)
	pg := page.New(id, page.KindInvalid)
	if err := p.dm.ReadPage(id, &pg.Data); err != nil {
		return nil, fmt.Errorf("bufferpool: fetch %d: %w", id, err)
	}
	pg.Kind = page.Kind(pg.Data[0])

	if err := p.ensureRoom(); err != nil {
		return nil, err
	}

	f := &frame{page: pg, pinCnt: 1}
	p.frames[id] = f
	p.touch(id)
	return &Handle{pool: p, id: id, f: f}, nil
}

// NewPage allocates a fresh page on disk and returns it pinned and
// zeroed with the given kind stamped in.
func (p *Pool) NewPage(kind page.Kind) (*Handle, error) {
	id, err := p.dm.AllocatePage()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureRoom(); err != nil {
		return nil, err
	}

	pg := page.New(id, kind)
	f := &frame{page: pg, pinCnt: 1, dirty: true}
	p.frames[id] = f
	p.touch(id)
	return &Handle{pool: p, id: id, f: f}, nil
}

// Shadow materializes a transaction-private copy of id: a fresh
// physical page holding id's current committed image. The caller
// mutates the returned handle's page and, on commit, the new id
// supersedes id wherever id was referenced (spec.md §4.8).
func (p *Pool) Shadow(id types.PageId) (types.PageId, *Handle, error) {
	src, err := p.Fetch(id)
	if err != nil {
		return 0, nil, err
	}
	defer src.Release()

	dst, err := p.dm.AllocatePage()
	if err != nil {
		return 0, nil, err
	}

	p.mu.Lock()
	if err := p.ensureRoom(); err != nil {
		p.mu.Unlock()
		return 0, nil, err
	}
	pg := page.New(dst, src.Page().Kind)
	page.CloneInto(pg, src.Page())
	pg.ID = dst
	f := &frame{page: pg, pinCnt: 1, dirty: true}
	p.frames[dst] = f
	p.touch(dst)
	p.mu.Unlock()

	p.log.Debug("bufferpool: shadowed page", "from", id, "to", dst)
	return dst, &Handle{pool: p, id: dst, f: f}, nil
}

func (p *Pool) unpin(id types.PageId, dirty bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := p.frames[id]
	if !ok {
		return
	}
	if dirty {
		f.dirty = true
	}
	if f.pinCnt > 0 {
		f.pinCnt--
	}
}

// ensureRoom evicts the least-recently-used unpinned frame if the
// pool is at capacity. Caller holds p.mu.
func (p *Pool) ensureRoom() error {
	if p.capacity <= 0 || len(p.frames) < p.capacity {
		return nil
	}
	for _, id := range p.order {
		f, ok := p.frames[id]
		if !ok || f.pinCnt > 0 {
			continue
		}
		if f.dirty {
			if err := p.dm.WritePage(id, &f.page.Data); err != nil {
				return fmt.Errorf("bufferpool: evict flush %d: %w", id, err)
			}
		}
		delete(p.frames, id)
		p.removeFromOrder(id)
		p.log.Debug("bufferpool: evicted", "page", id)
		return nil
	}
	return errs.New(errs.ErrOutOfFrames, "buffer pool exhausted: all %d frames pinned", p.capacity)
}

func (p *Pool) removeFromOrder(id types.PageId) {
	for i, x := range p.order {
		if x == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			return
		}
	}
}

// Flush writes id's frame back to disk if dirty, without evicting it.
func (p *Pool) Flush(id types.PageId) error {
	p.mu.Lock()
	f, ok := p.frames[id]
	p.mu.Unlock()
	if !ok || !f.dirty {
		return nil
	}
	if err := p.dm.WritePage(id, &f.page.Data); err != nil {
		return fmt.Errorf("bufferpool: flush %d: %w", id, err)
	}
	p.mu.Lock()
	f.dirty = false
	p.mu.Unlock()
	return nil
}

// FlushAll writes back every dirty frame, used by the commit protocol
// before the catalog root descriptor is swapped.
func (p *Pool) FlushAll() error {
	p.mu.Lock()
	ids := make([]types.PageId, 0, len(p.frames))
	for id := range p.frames {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	for _, id := range ids {
		if err := p.Flush(id); err != nil {
			return err
		}
	}
	return nil
}

// Discard drops id from the cache without flushing it — used by
// rollback to discard shadow pages that must never reach disk
// accounting as live data, and by commit to evict superseded
// originals after they have been freed.
func (p *Pool) Discard(id types.PageId) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.frames, id)
	p.removeFromOrder(id)
}

// Free releases id back to the disk manager's free list and drops it
// from the cache. Callers must never hold a pinned handle to id when
// calling Free; the commit protocol calls it only on pages superseded
// by a shadow that has already been installed.
func (p *Pool) Free(id types.PageId) error {
	p.Discard(id)
	return p.dm.FreePage(id)
}

// Resolve is the identity function for a plain pool: only a
// transaction's Scoped view ever redirects an id to a private shadow.
func (p *Pool) Resolve(id types.PageId) types.PageId { return id }

func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.frames)
}

func (p *Pool) Capacity() int { return p.capacity }
