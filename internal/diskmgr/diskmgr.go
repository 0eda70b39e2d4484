// Package diskmgr owns the single backing file: page allocation, raw
// page I/O, the free list and the superblock. It never interprets
// page bodies — that is the job of the page/heap/btree packages.
package diskmgr

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"relcore/internal/errs"
	"relcore/internal/page"
	"relcore/internal/types"
)

const (
	magic = "RLC1"

	// reservedMetaPageId is kept unused, mirroring the original
	// implementation's STARTING_PAGE_ID convention of reserving low
	// page ids for engine bookkeeping before general allocation begins.
	reservedMetaPageId = types.PageId(1)

	firstAllocatablePageId = types.PageId(3)

	superblockSize = page.Size
)

// Superblock is the first PageSize bytes of the backing file: magic,
// page size, free-list head, and the catalog's current physical page
// id — spec.md §6's "page-table root descriptor", the single
// indirection the shadow-paging protocol needs (see DESIGN.md).
type Superblock struct {
	PageSize      uint32
	FreeListHead  types.PageId
	CatalogPageID types.PageId
	NextPageID    types.PageId
}

type Manager struct {
	mu   sync.Mutex
	file *os.File
	sb   Superblock
	log  *slog.Logger
}

// Open opens (creating if necessary) the single backing file at path
// and reads or initializes its superblock.
func Open(path string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("diskmgr: open %s: %w", path, err)
	}

	m := &Manager{file: f, log: logger}

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("diskmgr: stat: %w", err)
	}
	if fi.Size() == 0 {
		m.sb = Superblock{
			PageSize:      page.Size,
			FreeListHead:  types.InvalidPageId,
			CatalogPageID: types.CatalogRootPageId,
			NextPageID:    firstAllocatablePageId,
		}
		if err := m.writeSuperblock(); err != nil {
			return nil, err
		}
		// Reserve the metadata page and the catalog root physically so
		// later reads never see a short file.
		if err := m.extendTo(uint32(types.CatalogRootPageId)); err != nil {
			return nil, err
		}
		logger.Info("diskmgr: initialized new database file", "path", path)
	} else {
		if err := m.readSuperblock(); err != nil {
			return nil, err
		}
		logger.Info("diskmgr: opened existing database file", "path", path, "next_page", m.sb.NextPageID)
	}

	return m, nil
}

func (m *Manager) offset(id types.PageId) int64 {
	return int64(id) * page.Size
}

func (m *Manager) writeSuperblock() error {
	buf := make([]byte, superblockSize)
	copy(buf[0:4], magic)
	binary.LittleEndian.PutUint32(buf[4:8], m.sb.PageSize)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(m.sb.FreeListHead))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(m.sb.CatalogPageID))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(m.sb.NextPageID))
	if _, err := m.file.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("diskmgr: write superblock: %w", err)
	}
	return nil
}

func (m *Manager) readSuperblock() error {
	buf := make([]byte, superblockSize)
	if _, err := m.file.ReadAt(buf, 0); err != nil {
		return fmt.Errorf("diskmgr: read superblock: %w", err)
	}
	if string(buf[0:4]) != magic {
		return fmt.Errorf("diskmgr: %w: bad magic", errs.ErrCorrupt)
	}
	m.sb.PageSize = binary.LittleEndian.Uint32(buf[4:8])
	m.sb.FreeListHead = types.PageId(binary.LittleEndian.Uint32(buf[8:12]))
	m.sb.CatalogPageID = types.PageId(binary.LittleEndian.Uint32(buf[12:16]))
	m.sb.NextPageID = types.PageId(binary.LittleEndian.Uint32(buf[16:20]))
	return nil
}

// extendTo ensures the file has at least n+1 pages worth of space
// (pages 0..n), zero-filling any gap.
func (m *Manager) extendTo(n uint32) error {
	want := int64(n+1) * page.Size
	fi, err := m.file.Stat()
	if err != nil {
		return err
	}
	if fi.Size() >= want {
		return nil
	}
	if _, err := m.file.WriteAt([]byte{0}, want-1); err != nil {
		return fmt.Errorf("diskmgr: extend file: %w", err)
	}
	return nil
}

// AllocatePage reserves a fresh PageId, preferring the free list over
// extending the file (spec.md §4.1).
func (m *Manager) AllocatePage() (types.PageId, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sb.FreeListHead != types.InvalidPageId {
		id := m.sb.FreeListHead
		next, err := m.readFreeListNext(id)
		if err != nil {
			return 0, err
		}
		m.sb.FreeListHead = next
		if err := m.writeSuperblock(); err != nil {
			return 0, err
		}
		m.log.Debug("diskmgr: allocated page from free list", "page", id)
		return id, nil
	}

	id := m.sb.NextPageID
	m.sb.NextPageID++
	if err := m.extendTo(uint32(id)); err != nil {
		return 0, err
	}
	if err := m.writeSuperblock(); err != nil {
		return 0, err
	}
	m.log.Debug("diskmgr: allocated fresh page", "page", id)
	return id, nil
}

// FreePage pushes id onto the free list. The page's body is
// overwritten with the free-list next-pointer, so callers must not
// free a page they still hold a live reference to.
func (m *Manager) FreePage(id types.PageId) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(m.sb.FreeListHead))
	if _, err := m.file.WriteAt(buf, m.offset(id)); err != nil {
		return fmt.Errorf("diskmgr: free page %d: %w", id, err)
	}
	m.sb.FreeListHead = id
	if err := m.writeSuperblock(); err != nil {
		return err
	}
	m.log.Debug("diskmgr: freed page", "page", id)
	return nil
}

func (m *Manager) readFreeListNext(id types.PageId) (types.PageId, error) {
	buf := make([]byte, 4)
	if _, err := m.file.ReadAt(buf, m.offset(id)); err != nil {
		return 0, fmt.Errorf("diskmgr: read free-list link %d: %w", id, err)
	}
	return types.PageId(binary.LittleEndian.Uint32(buf)), nil
}

// ReadPage loads page id's body into dst.
func (m *Manager) ReadPage(id types.PageId, dst *[page.Size]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, err := m.file.ReadAt(dst[:], m.offset(id))
	if err != nil && n == 0 {
		return fmt.Errorf("diskmgr: read page %d: %w", id, err)
	}
	return nil
}

// WritePage persists src's body at id's offset.
func (m *Manager) WritePage(id types.PageId, src *[page.Size]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.file.WriteAt(src[:], m.offset(id)); err != nil {
		return fmt.Errorf("diskmgr: write page %d: %w", id, err)
	}
	return nil
}

// Sync flushes the OS buffer; the commit protocol relies on it.
func (m *Manager) Sync() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.file.Sync(); err != nil {
		return fmt.Errorf("diskmgr: sync: %w", err)
	}
	return nil
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.file.Close()
}

// CatalogPageID returns the physical page currently backing the
// catalog's logical root — the one indirection the shadow-paging
// protocol persists across commits (spec.md §4.8).
func (m *Manager) CatalogPageID() types.PageId {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sb.CatalogPageID
}

// SetCatalogPageID atomically swaps the catalog root descriptor. This
// is step 3 of the commit protocol when the committing transaction
// shadowed the catalog's own root page.
func (m *Manager) SetCatalogPageID(id types.PageId) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sb.CatalogPageID = id
	return m.writeSuperblock()
}
