package heap

import (
	"fmt"

	"relcore/internal/bufferpool"
	"relcore/internal/page"
	"relcore/internal/types"
)

// PageSource is the slice of the buffer pool that heap chains need.
type PageSource interface {
	Fetch(id types.PageId) (*bufferpool.Handle, error)
	NewPage(kind page.Kind) (*bufferpool.Handle, error)
	Shadow(id types.PageId) (types.PageId, *bufferpool.Handle, error)
	Free(id types.PageId) error
	Resolve(id types.PageId) types.PageId
}

// ShadowChain walks the singly-linked heap chain rooted at head
// looking for target, shadows every page from target back to head,
// and rewires each predecessor's NextPageID to the new physical id of
// its successor. It returns the new physical id that now backs head
// (for the caller to persist as its root pointer) and the new
// physical id of target (for the caller to mutate further).
//
// This is the generic form of the commit protocol's "propagate the
// shadow up to the root" requirement (spec.md §4.8) applied to a
// forward-linked page chain rather than a tree: the catalog's own
// page chain and every table's tuple-page chain both use it.
//
// head and target are compared through ps.Resolve rather than by raw
// equality: a caller that touches the same page twice within one
// transaction (e.g. two rows on the same page, each update/delete
// shadowing it in turn) will pass a head that has already advanced to
// the first shadow's physical id while target still names the
// original, pre-transaction id. Resolve maps both back to whatever
// physical page is currently live for them this transaction, so the
// walk still recognizes they name the same page instead of searching
// a chain the original no longer heads.
func ShadowChain(ps PageSource, head, target types.PageId) (newHead, newTarget types.PageId, err error) {
	if ps.Resolve(head) == ps.Resolve(target) {
		// Shadow target, not head: target is either this page's
		// original id (first touch) or already a key in the
		// transaction's shadow map (a later touch), so Shadow's own
		// idempotency check finds the existing private copy instead of
		// minting a redundant one keyed off head's already-shadowed id.
		nh, h, err := ps.Shadow(target)
		if err != nil {
			return 0, 0, err
		}
		h.Release()
		return nh, nh, nil
	}

	path := []types.PageId{head}
	cur := head
	targetPhys := ps.Resolve(target)
	for ps.Resolve(cur) != targetPhys {
		h, err := ps.Fetch(cur)
		if err != nil {
			return 0, 0, err
		}
		next := NextPageID(h.Page())
		h.Release()
		if next == types.InvalidPageId {
			return 0, 0, fmt.Errorf("heap: target page %d not found in chain rooted at %d", target, head)
		}
		cur = next
		path = append(path, cur)
	}

	// path = [head, ..., target]. Shadow target first, then splice the
	// new id into each predecessor, shadowing predecessors in turn.
	newID, h, err := ps.Shadow(target)
	if err != nil {
		return 0, 0, err
	}
	h.Release()
	newTarget = newID

	for i := len(path) - 2; i >= 0; i-- {
		predNew, h, err := ps.Shadow(path[i])
		if err != nil {
			return 0, 0, err
		}
		SetNextPageID(h.Page(), newID)
		h.MarkDirty()
		h.Release()
		newID = predNew
	}
	return newID, newTarget, nil
}

// AppendPage links a fresh heap page onto the end of the chain
// reached by walking tail's NextPageID (tail must already be the
// chain's last page), shadowing tail to record the link. It returns
// the new physical id of tail and the new page's id.
func AppendPage(ps PageSource, tail types.PageId, kind page.Kind) (newTail, newPage types.PageId, err error) {
	h, err := ps.NewPage(kind)
	if err != nil {
		return 0, 0, err
	}
	InitPage(h.Page())
	fresh := h.Page().ID
	h.Release()

	newTailID, th, err := ps.Shadow(tail)
	if err != nil {
		return 0, 0, err
	}
	SetNextPageID(th.Page(), fresh)
	th.MarkDirty()
	th.Release()
	return newTailID, fresh, nil
}
