// Package table implements row-level CRUD against a table's tuple
// chain and its optional UNIQUE-column index, enforcing NOT NULL and
// UNIQUE at the point of mutation. Grounded on the teacher's
// heapfile_manager call sites in query_executor/executor.go
// (ExecuteInsert/executeSimpleSelect), reworked around the
// transaction-scoped PageSource instead of direct buffer pool calls.
package table

import (
	"relcore/internal/btree"
	"relcore/internal/catalog"
	"relcore/internal/errs"
	"relcore/internal/heap"
	"relcore/internal/page"
	"relcore/internal/types"
)

// Table is a thin view over a catalog.Entry plus the PageSource the
// caller wants reads and writes routed through (plain pool for a
// read-only statement, a transaction's Scoped source while a write
// transaction is open).
type Table struct {
	Entry *catalog.Entry
	ps    heap.PageSource
}

func Open(e *catalog.Entry, ps heap.PageSource) *Table {
	return &Table{Entry: e, ps: ps}
}

func (t *Table) hasIndex() bool { return t.Entry.IndexRootPage != types.InvalidPageId }

// HasUniqueIndex reports whether the table has a UNIQUE column backed
// by a live B+Tree, which PREWHERE requires (spec.md §6).
func (t *Table) HasUniqueIndex() bool { return t.hasIndex() }

func (t *Table) uniqueColumn() int { return t.Entry.Schema.UniqueColumn() }

// Insert appends tup as a new row, enforcing NOT NULL and, if the
// table has a UNIQUE column, rejecting duplicate keys before any page
// is touched (spec.md §4.3, §4.4).
func (t *Table) Insert(tup types.Tuple) (types.RID, error) {
	if err := t.checkNotNull(tup); err != nil {
		return types.RID{}, err
	}

	var key btree.Key
	if uc := t.uniqueColumn(); uc >= 0 {
		k, err := btree.EncodeKey(tup[uc])
		if err != nil {
			return types.RID{}, err
		}
		key = k
		if t.hasIndex() {
			if _, found, err := btree.New(t.ps).Search(t.Entry.IndexRootPage, key); err != nil {
				return types.RID{}, err
			} else if found {
				return types.RID{}, errs.New(errs.ErrDuplicate, "Duplicate value %s in column %s", tup[uc].String(), t.Entry.Schema.Columns[uc].Name)
			}
		}
	}

	overflow, err := t.writeOverflowColumns(tup)
	if err != nil {
		return types.RID{}, err
	}
	data, err := heap.EncodeTuple(&t.Entry.Schema, tup, overflow)
	if err != nil {
		return types.RID{}, err
	}

	rid, newFirst, newLast, err := t.insertIntoChain(data)
	if err != nil {
		return types.RID{}, err
	}
	t.Entry.FirstPageID = newFirst
	t.Entry.LastPageID = newLast

	if t.uniqueColumn() >= 0 {
		newRoot, err := btree.New(t.ps).Insert(t.Entry.IndexRootPage, key, rid)
		if err != nil {
			return types.RID{}, err
		}
		t.Entry.IndexRootPage = newRoot
	}

	return rid, nil
}

// insertIntoChain places data in the first page with room, walking
// from FirstPageID and extending the chain if every existing page is
// full. Every page visited is shadowed via heap.ShadowChain so the
// mutation is copy-on-write all the way back to the table's root.
func (t *Table) insertIntoChain(data []byte) (rid types.RID, newFirst, newLast types.PageId, err error) {
	if t.Entry.FirstPageID == types.InvalidPageId {
		h, err := t.ps.NewPage(page.KindTupleHeap)
		if err != nil {
			return types.RID{}, 0, 0, err
		}
		heap.InitPage(h.Page())
		slot, ok := heap.InsertTuple(h.Page(), data)
		id := h.Page().ID
		h.MarkDirty()
		h.Release()
		if !ok {
			return types.RID{}, 0, 0, errs.New(errs.ErrInvariant, "row too large for an empty page")
		}
		return types.RID{PageID: id, Slot: slot}, id, id, nil
	}

	target := t.Entry.FirstPageID
	for {
		h, err := t.ps.Fetch(target)
		if err != nil {
			return types.RID{}, 0, 0, err
		}
		next := heap.NextPageID(h.Page())
		h.Release()
		if next == types.InvalidPageId {
			break
		}
		target = next
	}

	newFirst, newTarget, err := heap.ShadowChain(t.ps, t.Entry.FirstPageID, target)
	if err != nil {
		return types.RID{}, 0, 0, err
	}
	h, err := t.ps.Fetch(newTarget)
	if err != nil {
		return types.RID{}, 0, 0, err
	}
	if slot, ok := heap.InsertTuple(h.Page(), data); ok {
		h.MarkDirty()
		h.Release()
		return types.RID{PageID: newTarget, Slot: slot}, newFirst, newTarget, nil
	}
	h.Release()

	newFirst, fresh, err := heap.AppendPage(t.ps, newTarget, page.KindTupleHeap)
	if err != nil {
		return types.RID{}, 0, 0, err
	}
	fh, err := t.ps.Fetch(fresh)
	if err != nil {
		return types.RID{}, 0, 0, err
	}
	slot, ok := heap.InsertTuple(fh.Page(), data)
	fh.MarkDirty()
	fh.Release()
	if !ok {
		return types.RID{}, 0, 0, errs.New(errs.ErrInvariant, "row too large for an empty page")
	}
	return types.RID{PageID: fresh, Slot: slot}, newFirst, fresh, nil
}

func (t *Table) checkNotNull(tup types.Tuple) error {
	for i, v := range tup {
		col := t.Entry.Schema.Columns[i]
		if v.Null && !col.Nullable {
			return errs.New(errs.ErrNotNull, "NULL is not allowed in column %s", col.Name)
		}
	}
	return nil
}

// writeOverflowColumns spills any text value past heap.InlineTextLimit
// into an overflow chain, returning the locator map EncodeTuple needs.
func (t *Table) writeOverflowColumns(tup types.Tuple) (map[int]heap.OverflowLocator, error) {
	var out map[int]heap.OverflowLocator
	for i, v := range tup {
		if v.Null || v.Type != types.TypeText || len(v.S) <= heap.InlineTextLimit {
			continue
		}
		headID, err := heap.WriteOverflow(v.S, func() (*page.Page, error) {
			h, err := t.ps.NewPage(page.KindOverflow)
			if err != nil {
				return nil, err
			}
			h.MarkDirty()
			defer h.Release()
			return h.Page(), nil
		})
		if err != nil {
			return nil, err
		}
		if out == nil {
			out = make(map[int]heap.OverflowLocator)
		}
		out[i] = heap.OverflowLocator{PageID: headID, Length: uint32(len(v.S))}
	}
	return out, nil
}

// resolveOverflow is passed to heap.DecodeTuple so GetByRID and Scan
// can transparently read text values too large to have been stored
// inline.
func (t *Table) resolveOverflow(pageID types.PageId, length uint32) (string, error) {
	return heap.ReadOverflow(pageID, length, func(id types.PageId) (*page.Page, func(), error) {
		h, err := t.ps.Fetch(id)
		if err != nil {
			return nil, nil, err
		}
		return h.Page(), h.Release, nil
	})
}

// GetByRID fetches and decodes the tuple at rid, or ok=false if it has
// been deleted.
func (t *Table) GetByRID(rid types.RID) (types.Tuple, bool, error) {
	h, err := t.ps.Fetch(rid.PageID)
	if err != nil {
		return nil, false, err
	}
	raw, ok := heap.GetTuple(h.Page(), rid.Slot)
	if !ok {
		h.Release()
		return nil, false, nil
	}
	tup, err := heap.DecodeTuple(&t.Entry.Schema, raw, t.resolveOverflow)
	h.Release()
	if err != nil {
		return nil, false, err
	}
	return tup, true, nil
}

// Scan walks every live tuple in the table's chain in storage order,
// invoking fn until it returns false or the chain ends.
func (t *Table) Scan(fn func(rid types.RID, tup types.Tuple) bool) error {
	id := t.Entry.FirstPageID
	for id != types.InvalidPageId {
		h, err := t.ps.Fetch(id)
		if err != nil {
			return err
		}
		p := h.Page()
		for _, slot := range heap.Slots(p) {
			raw, ok := heap.GetTuple(p, slot)
			if !ok {
				continue
			}
			tup, err := heap.DecodeTuple(&t.Entry.Schema, raw, t.resolveOverflow)
			if err != nil {
				h.Release()
				return err
			}
			if !fn(types.RID{PageID: id, Slot: slot}, tup) {
				h.Release()
				return nil
			}
		}
		next := heap.NextPageID(p)
		h.Release()
		id = next
	}
	return nil
}

// IndexRange scans the UNIQUE column's index in key order starting at
// low (or from the beginning if low is nil), used for PREWHERE and
// equality/range WHERE predicates on that column (spec.md §4.4).
func (t *Table) IndexRange(low *btree.Key, fn func(rid types.RID) bool) error {
	if !t.hasIndex() {
		return errs.New(errs.ErrInvariant, "table %q has no index", t.Entry.Name)
	}
	return btree.New(t.ps).Range(t.Entry.IndexRootPage, low, func(_ btree.Key, rid types.RID) bool {
		return fn(rid)
	})
}

// Delete tombstones the tuple at rid and removes it from the index if
// present. A later insert that lands on the same page may reuse the
// tombstoned slot, and with it the RID.
func (t *Table) Delete(rid types.RID) error {
	tup, ok, err := t.GetByRID(rid)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	newFirst, newTarget, err := heap.ShadowChain(t.ps, t.Entry.FirstPageID, rid.PageID)
	if err != nil {
		return err
	}
	h, err := t.ps.Fetch(newTarget)
	if err != nil {
		return err
	}
	heap.DeleteTuple(h.Page(), rid.Slot)
	h.MarkDirty()
	h.Release()
	t.Entry.FirstPageID = newFirst
	if rid.PageID == t.Entry.LastPageID {
		t.Entry.LastPageID = newTarget
	}

	if uc := t.uniqueColumn(); uc >= 0 && t.hasIndex() && !tup[uc].Null {
		key, err := btree.EncodeKey(tup[uc])
		if err != nil {
			return err
		}
		newRoot, err := btree.New(t.ps).Delete(t.Entry.IndexRootPage, key)
		if err != nil {
			return err
		}
		t.Entry.IndexRootPage = newRoot
	}
	return nil
}

// Update replaces the tuple at rid with newTup. If newTup fits in the
// existing slot and the UNIQUE column (if any) is unchanged, the
// update happens in place; otherwise it becomes a delete followed by
// an insert, which may move the row to a new RID (spec.md §4.3: "an
// UPDATE that changes the UNIQUE key, or does not fit, is a
// delete+insert").
func (t *Table) Update(rid types.RID, newTup types.Tuple) (types.RID, error) {
	if err := t.checkNotNull(newTup); err != nil {
		return types.RID{}, err
	}

	oldTup, ok, err := t.GetByRID(rid)
	if err != nil {
		return types.RID{}, err
	}
	if !ok {
		return types.RID{}, errs.New(errs.ErrInvariant, "update target %s no longer exists", rid)
	}

	uc := t.uniqueColumn()
	keyChanged := uc >= 0 && !oldTup[uc].Equal(newTup[uc])

	if keyChanged {
		if t.hasIndex() {
			newKey, err := btree.EncodeKey(newTup[uc])
			if err != nil {
				return types.RID{}, err
			}
			if _, found, err := btree.New(t.ps).Search(t.Entry.IndexRootPage, newKey); err != nil {
				return types.RID{}, err
			} else if found {
				return types.RID{}, errs.New(errs.ErrDuplicate, "Duplicate value %s in column %s", newTup[uc].String(), t.Entry.Schema.Columns[uc].Name)
			}
		}
		if err := t.Delete(rid); err != nil {
			return types.RID{}, err
		}
		return t.Insert(newTup)
	}

	overflow, err := t.writeOverflowColumns(newTup)
	if err != nil {
		return types.RID{}, err
	}
	data, err := heap.EncodeTuple(&t.Entry.Schema, newTup, overflow)
	if err != nil {
		return types.RID{}, err
	}

	newFirst, newTarget, err := heap.ShadowChain(t.ps, t.Entry.FirstPageID, rid.PageID)
	if err != nil {
		return types.RID{}, err
	}
	h, err := t.ps.Fetch(newTarget)
	if err != nil {
		return types.RID{}, err
	}
	if heap.UpdateTuple(h.Page(), rid.Slot, data) {
		h.MarkDirty()
		h.Release()
		t.Entry.FirstPageID = newFirst
		return types.RID{PageID: newTarget, Slot: rid.Slot}, nil
	}
	h.Release()

	// Doesn't fit in place: delete and reinsert even though the key
	// didn't change.
	t.Entry.FirstPageID = newFirst
	if err := t.Delete(types.RID{PageID: newTarget, Slot: rid.Slot}); err != nil {
		return types.RID{}, err
	}
	return t.Insert(newTup)
}

// Truncate drops every tuple page and index page the table owns,
// freeing them, and resets the catalog entry to empty. It does not
// remove the catalog row itself (that is DROP TABLE's job, in the
// engine/catalog layer).
func (t *Table) Truncate() error {
	id := t.Entry.FirstPageID
	for id != types.InvalidPageId {
		// Shadow rather than fetch-then-Free: Free writes the free-list
		// link into the page body and advances the on-disk free-list
		// head immediately, ahead of the enclosing transaction's
		// commit. Shadowing instead puts id into the transaction's
		// shadowed set, so the original is only freed once Commit's
		// step 5 runs, and a Rollback before that leaves it untouched.
		_, h, err := t.ps.Shadow(id)
		if err != nil {
			return err
		}
		next := heap.NextPageID(h.Page())
		h.Release()
		id = next
	}
	t.Entry.FirstPageID = types.InvalidPageId
	t.Entry.LastPageID = types.InvalidPageId
	t.Entry.IndexRootPage = types.InvalidPageId
	return nil
}
