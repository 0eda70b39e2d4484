// Package txn implements the single-writer transaction manager and
// the shadow-paging commit/rollback protocol. The state-machine shape
// (one active transaction, tracked rows) follows the teacher's
// transaction_manager package; the commit/rollback sequence itself is
// grounded on the original implementation's txn_manager/mod.rs, whose
// touch_page/commit/rollback this package's Touch/Commit/Rollback are
// a direct port of, replacing WAL-based logical undo with copy-on-write.
package txn

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"relcore/internal/bufferpool"
	"relcore/internal/diskmgr"
	"relcore/internal/errs"
	"relcore/internal/page"
	"relcore/internal/types"
)

// Transaction is the caller's handle to the one active write
// transaction. Its zero value is never valid; obtain one from
// Manager.Begin.
type Transaction struct {
	ID  uuid.UUID
	seq uint64

	mgr          *Manager
	shadowed     map[types.PageId]types.PageId // original logical id -> new physical id
	allocated    []types.PageId                // fresh pages with no "original", e.g. a split's new sibling
	catalogDirty bool
	catalogRoot  types.PageId
}

// SetCatalogRoot records that this transaction produced a new
// physical catalog root; called by internal/catalog after Put/Delete.
// Commit installs it as the last step of the protocol.
func (t *Transaction) SetCatalogRoot(id types.PageId) {
	t.catalogDirty = true
	t.catalogRoot = id
}

// Source returns a heap.PageSource-shaped (and btree.PageSource-shaped)
// view of the buffer pool scoped to this transaction: fetches of a
// page this transaction has already shadowed are redirected to the
// shadow, and every Shadow call is recorded for the commit/rollback
// protocol to act on.
func (t *Transaction) Source() *Scoped { return &Scoped{bp: t.mgr.bp, txn: t} }

// Scoped is the transaction-aware PageSource passed to the storage
// layers (heap, btree, catalog, table) while a write transaction is
// active. Plain readers use *bufferpool.Pool directly and never see
// this type, which is what keeps read-committed isolation by
// construction (spec.md §5): there is no shadow map for them to
// consult even by accident.
type Scoped struct {
	bp  *bufferpool.Pool
	txn *Transaction
}

func (s *Scoped) resolve(id types.PageId) types.PageId {
	if actual, ok := s.txn.shadowed[id]; ok {
		return actual
	}
	return id
}

func (s *Scoped) Fetch(id types.PageId) (*bufferpool.Handle, error) {
	return s.bp.Fetch(s.resolve(id))
}

func (s *Scoped) NewPage(kind page.Kind) (*bufferpool.Handle, error) {
	h, err := s.bp.NewPage(kind)
	if err != nil {
		return nil, err
	}
	s.txn.allocated = append(s.txn.allocated, h.Page().ID)
	return h, nil
}

// Shadow materializes (once per transaction, per logical id) a
// private copy of id and remembers the mapping so later fetches
// within this transaction are transparently redirected to it.
func (s *Scoped) Shadow(id types.PageId) (types.PageId, *bufferpool.Handle, error) {
	if actual, ok := s.txn.shadowed[id]; ok {
		h, err := s.bp.Fetch(actual)
		return actual, h, err
	}
	newID, h, err := s.bp.Shadow(id)
	if err != nil {
		return 0, nil, err
	}
	s.txn.shadowed[id] = newID
	return newID, h, nil
}

func (s *Scoped) Free(id types.PageId) error { return s.bp.Free(id) }

// Resolve reports the physical id that currently backs the logical id
// a caller captured earlier in this transaction, so a long-lived
// caller (e.g. a page-chain walk spanning several shadowed writes)
// can tell whether two ids it holds already refer to the same private
// copy without re-deriving it itself.
func (s *Scoped) Resolve(id types.PageId) types.PageId { return s.resolve(id) }

// InTransactionScope reports that this PageSource is the active
// writer's own view rather than a plain reader's. internal/catalog
// uses this to keep its decode cache from ever serving a row written
// by a transaction that has not committed (and might still roll back).
func (s *Scoped) InTransactionScope() bool { return true }

// Manager serializes all writers through a single non-reentrant
// mutex, exactly the single-writer model spec.md §5 specifies: there
// is never more than one Transaction in flight.
type Manager struct {
	mu     sync.Mutex
	active bool

	bp  *bufferpool.Pool
	dm  *diskmgr.Manager
	log *slog.Logger

	nextSeq uint64
}

func New(bp *bufferpool.Pool, dm *diskmgr.Manager, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{bp: bp, dm: dm, log: logger}
}

// Begin starts the one allowed write transaction. It returns
// errs.ErrAlreadyActive immediately, without blocking, if a
// transaction is already open — callers that want to queue behind it
// must do so explicitly.
func (m *Manager) Begin() (*Transaction, error) {
	if !m.mu.TryLock() {
		return nil, errs.New(errs.ErrAlreadyActive, "a transaction is already active")
	}
	m.active = true
	m.nextSeq++
	t := &Transaction{
		ID:       uuid.New(),
		seq:      m.nextSeq,
		mgr:      m,
		shadowed: make(map[types.PageId]types.PageId),
	}
	m.log.Info("txn: begin", "txn_id", t.ID, "seq", t.seq)
	return t, nil
}

func (m *Manager) checkActive(t *Transaction) error {
	if !m.active || t == nil || t.mgr != m {
		return errs.New(errs.ErrNoActiveTxn, "no active transaction")
	}
	return nil
}

// Commit installs t's shadow pages as the new committed state:
//
//  1. flush every shadow page and every freshly allocated page this
//     transaction produced
//  2. fsync the backing file so the flushed images are durable
//  3. atomically swap the catalog root descriptor, if the catalog
//     itself was touched (the one process-wide indirection, per
//     spec.md §4.8)
//  4. fsync again so the new superblock is durable before anything
//     frees the pages it superseded
//  5. free every original page a shadow superseded
//
// Steps 1-4 must all succeed before any freeing happens: a crash
// between 2 and 4 still leaves the previous committed state intact,
// since the superblock write in step 3 is the only thing that makes
// the new version visible.
func (m *Manager) Commit(t *Transaction) error {
	if err := m.checkActive(t); err != nil {
		return err
	}
	defer m.end()

	for orig, shadow := range t.shadowed {
		if err := m.bp.Flush(shadow); err != nil {
			return fmt.Errorf("txn: commit flush shadow of %d: %w", orig, err)
		}
	}
	for _, id := range t.allocated {
		if err := m.bp.Flush(id); err != nil {
			return fmt.Errorf("txn: commit flush allocated page %d: %w", id, err)
		}
	}
	if err := m.dm.Sync(); err != nil {
		return fmt.Errorf("txn: commit sync: %w", err)
	}

	if t.catalogDirty {
		if err := m.dm.SetCatalogPageID(t.catalogRoot); err != nil {
			return fmt.Errorf("txn: commit install catalog root: %w", err)
		}
		if err := m.dm.Sync(); err != nil {
			return fmt.Errorf("txn: commit sync catalog root: %w", err)
		}
	}

	for orig := range t.shadowed {
		if err := m.bp.Free(orig); err != nil {
			m.log.Warn("txn: commit could not free superseded page", "page", orig, "error", err)
		}
	}

	m.log.Info("txn: commit", "txn_id", t.ID, "shadowed_pages", len(t.shadowed))
	return nil
}

// Rollback discards t's shadow pages without ever touching the
// process-wide page table or the catalog root descriptor: the
// committed state was never made visible to anything outside t, so
// there is nothing to undo besides reclaiming the shadow copies.
func (m *Manager) Rollback(t *Transaction) error {
	if err := m.checkActive(t); err != nil {
		return err
	}
	defer m.end()

	for orig, shadow := range t.shadowed {
		m.bp.Discard(shadow)
		if err := m.dm.FreePage(shadow); err != nil {
			m.log.Warn("txn: rollback could not free shadow page", "page", shadow, "orig", orig, "error", err)
		}
	}
	for _, id := range t.allocated {
		m.bp.Discard(id)
		if err := m.dm.FreePage(id); err != nil {
			m.log.Warn("txn: rollback could not free allocated page", "page", id, "error", err)
		}
	}
	m.log.Info("txn: rollback", "txn_id", t.ID, "shadowed_pages", len(t.shadowed), "allocated_pages", len(t.allocated))
	return nil
}

func (m *Manager) end() {
	m.active = false
	m.mu.Unlock()
}

// Active reports whether a transaction is currently open, used by
// the engine to decide whether a statement needs an implicit
// transaction wrapper.
func (m *Manager) Active() bool { return m.active }
