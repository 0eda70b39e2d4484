package btree

import (
	"relcore/internal/errs"
	"relcore/internal/page"
	"relcore/internal/types"
)

// splitResult carries a new separator key and right-sibling id back
// up the recursion when a node overflowed and had to split.
type splitResult struct {
	sepKey Key
	right  types.PageId
}

// Insert adds key->rid to the tree rooted at root, returning the
// possibly-new root id the caller must persist. Returns
// errs.ErrDuplicate if key already exists (the UNIQUE constraint is
// enforced by the caller before this is reached for INSERTs, but
// Insert itself stays defensive).
func (t *Tree) Insert(root types.PageId, key Key, rid types.RID) (types.PageId, error) {
	if root == types.InvalidPageId {
		h, err := t.ps.NewPage(page.KindIndexLeaf)
		if err != nil {
			return 0, err
		}
		n := &node{id: h.Page().ID, isLeaf: true, keys: []Key{key}, rids: []types.RID{rid}}
		storeNode(n, h.Page())
		h.MarkDirty()
		h.Release()
		return n.id, nil
	}

	newRoot, split, err := t.insertRec(root, key, rid)
	if err != nil {
		return 0, err
	}
	if split == nil {
		return newRoot, nil
	}

	h, err := t.ps.NewPage(page.KindIndexInternal)
	if err != nil {
		return 0, err
	}
	top := &node{
		id:       h.Page().ID,
		isLeaf:   false,
		keys:     []Key{split.sepKey},
		children: []types.PageId{newRoot, split.right},
	}
	storeNode(top, h.Page())
	h.MarkDirty()
	h.Release()
	return top.id, nil
}

func (t *Tree) insertRec(id types.PageId, key Key, rid types.RID) (types.PageId, *splitResult, error) {
	n, release, err := t.fetchNode(id)
	if err != nil {
		return 0, nil, err
	}
	isLeaf := n.isLeaf
	release()

	if isLeaf {
		return t.insertLeaf(id, key, rid)
	}

	// Re-fetch read-only to decide which child to descend into before
	// committing to a shadow of this node.
	n, release, err = t.fetchNode(id)
	if err != nil {
		return 0, nil, err
	}
	i := lowerBound(n.keys, key)
	if i < len(n.keys) && compareKeys(n.keys[i], key) == 0 {
		i++
	}
	child := n.children[i]
	release()

	newChild, split, err := t.insertRec(child, key, rid)
	if err != nil {
		return 0, nil, err
	}

	newID, sn, save, err := t.shadowNode(id)
	if err != nil {
		return 0, nil, err
	}
	sn.children[i] = newChild
	if split == nil {
		save()
		return newID, nil, nil
	}

	sn.keys = insertKey(sn.keys, i, split.sepKey)
	sn.children = insertChild(sn.children, i+1, split.right)
	if len(sn.keys) <= MaxKeys {
		save()
		return newID, nil, nil
	}

	return t.splitInternal(sn, save)
}

func (t *Tree) insertLeaf(id types.PageId, key Key, rid types.RID) (types.PageId, *splitResult, error) {
	newID, n, save, err := t.shadowNode(id)
	if err != nil {
		return 0, nil, err
	}
	i := lowerBound(n.keys, key)
	if i < len(n.keys) && compareKeys(n.keys[i], key) == 0 {
		return 0, nil, errs.New(errs.ErrDuplicate, "duplicate key on unique index")
	}
	n.keys = insertKey(n.keys, i, key)
	n.rids = insertRID(n.rids, i, rid)

	if len(n.keys) <= MaxKeys {
		save()
		return newID, nil, nil
	}
	return t.splitLeaf(n, save)
}

// splitLeaf splits an overflowing leaf in half, wiring sibling links,
// and returns the (already-saved) left id plus a splitResult for the
// caller to insert into its parent.
func (t *Tree) splitLeaf(n *node, saveLeft func()) (types.PageId, *splitResult, error) {
	mid := len(n.keys) / 2
	rightKeys := append([]Key(nil), n.keys[mid:]...)
	rightRids := append([]types.RID(nil), n.rids[mid:]...)

	h, err := t.ps.NewPage(page.KindIndexLeaf)
	if err != nil {
		return 0, nil, err
	}
	right := &node{id: h.Page().ID, isLeaf: true, keys: rightKeys, rids: rightRids, next: n.next}
	storeNode(right, h.Page())
	h.MarkDirty()
	h.Release()

	n.keys = n.keys[:mid]
	n.rids = n.rids[:mid]
	n.next = right.id
	saveLeft()

	return n.id, &splitResult{sepKey: right.keys[0], right: right.id}, nil
}

func (t *Tree) splitInternal(n *node, saveLeft func()) (types.PageId, *splitResult, error) {
	mid := len(n.keys) / 2
	sep := n.keys[mid]

	rightKeys := append([]Key(nil), n.keys[mid+1:]...)
	rightChildren := append([]types.PageId(nil), n.children[mid+1:]...)

	h, err := t.ps.NewPage(page.KindIndexInternal)
	if err != nil {
		return 0, nil, err
	}
	right := &node{id: h.Page().ID, isLeaf: false, keys: rightKeys, children: rightChildren}
	storeNode(right, h.Page())
	h.MarkDirty()
	h.Release()

	n.keys = n.keys[:mid]
	n.children = n.children[:mid+1]
	saveLeft()

	return n.id, &splitResult{sepKey: sep, right: right.id}, nil
}

func insertKey(keys []Key, i int, k Key) []Key {
	keys = append(keys, Key{})
	copy(keys[i+1:], keys[i:])
	keys[i] = k
	return keys
}

func insertRID(rids []types.RID, i int, r types.RID) []types.RID {
	rids = append(rids, types.RID{})
	copy(rids[i+1:], rids[i:])
	rids[i] = r
	return rids
}

func insertChild(children []types.PageId, i int, c types.PageId) []types.PageId {
	children = append(children, 0)
	copy(children[i+1:], children[i:])
	children[i] = c
	return children
}

// Delete removes key from the tree rooted at root, returning the
// possibly-new root id. Underflowing nodes borrow from or merge with
// a sibling, mirroring the teacher's deletion.go, but every touched
// node is shadowed rather than mutated in place.
func (t *Tree) Delete(root types.PageId, key Key) (types.PageId, error) {
	if root == types.InvalidPageId {
		return root, nil
	}
	newRoot, _, err := t.deleteRec(root, key)
	if err != nil {
		return 0, err
	}

	n, release, err := t.fetchNode(newRoot)
	if err != nil {
		return 0, err
	}
	collapse := !n.isLeaf && len(n.keys) == 0
	var onlyChild types.PageId
	if collapse {
		onlyChild = n.children[0]
	}
	release()
	if collapse {
		return onlyChild, nil
	}
	return newRoot, nil
}

// deleteRec returns the new id of the subtree rooted at id and
// whether that subtree now underflows (len(keys) < MinKeys), leaving
// rebalancing to the caller — it does not rebalance across the root.
func (t *Tree) deleteRec(id types.PageId, key Key) (types.PageId, bool, error) {
	n, release, err := t.fetchNode(id)
	if err != nil {
		return 0, false, err
	}
	isLeaf := n.isLeaf
	release()

	if isLeaf {
		newID, nn, save, err := t.shadowNode(id)
		if err != nil {
			return 0, false, err
		}
		i := lowerBound(nn.keys, key)
		if i >= len(nn.keys) || compareKeys(nn.keys[i], key) != 0 {
			save()
			return newID, len(nn.keys) < MinKeys, nil
		}
		nn.keys = append(nn.keys[:i], nn.keys[i+1:]...)
		nn.rids = append(nn.rids[:i], nn.rids[i+1:]...)
		save()
		return newID, len(nn.keys) < MinKeys, nil
	}

	n, release, err = t.fetchNode(id)
	if err != nil {
		return 0, false, err
	}
	i := lowerBound(n.keys, key)
	if i < len(n.keys) && compareKeys(n.keys[i], key) == 0 {
		i++
	}
	child := n.children[i]
	release()

	newChild, underflow, err := t.deleteRec(child, key)
	if err != nil {
		return 0, false, err
	}

	newID, nn, save, err := t.shadowNode(id)
	if err != nil {
		return 0, false, err
	}
	nn.children[i] = newChild
	if !underflow {
		save()
		return newID, len(nn.keys) < MinKeys, nil
	}

	if err := t.rebalanceChild(nn, i); err != nil {
		return 0, false, err
	}
	save()
	return newID, len(nn.keys) < MinKeys, nil
}

// rebalanceChild borrows a key from a sibling of nn.children[i], or
// merges it with one, mutating nn in place. Each sibling touched is
// fetched then shadowed, matching the rest of the mutation path.
func (t *Tree) rebalanceChild(nn *node, i int) error {
	if i > 0 {
		left, leftRelease, err := t.fetchNode(nn.children[i-1])
		if err != nil {
			return err
		}
		borrowable := len(left.keys) > MinKeys
		leftRelease()
		if borrowable {
			return t.borrowFromLeft(nn, i)
		}
	}
	if i < len(nn.children)-1 {
		right, rightRelease, err := t.fetchNode(nn.children[i+1])
		if err != nil {
			return err
		}
		borrowable := len(right.keys) > MinKeys
		rightRelease()
		if borrowable {
			return t.borrowFromRight(nn, i)
		}
	}
	if i > 0 {
		return t.mergeSiblings(nn, i-1, i)
	}
	return t.mergeSiblings(nn, i, i+1)
}

func (t *Tree) borrowFromLeft(nn *node, i int) error {
	leftID, left, saveLeft, err := t.shadowNode(nn.children[i-1])
	if err != nil {
		return err
	}
	childID, child, saveChild, err := t.shadowNode(nn.children[i])
	if err != nil {
		return err
	}

	if child.isLeaf {
		borrowedKey := left.keys[len(left.keys)-1]
		borrowedRid := left.rids[len(left.rids)-1]
		left.keys = left.keys[:len(left.keys)-1]
		left.rids = left.rids[:len(left.rids)-1]
		child.keys = insertKey(child.keys, 0, borrowedKey)
		child.rids = insertRID(child.rids, 0, borrowedRid)
		nn.keys[i-1] = child.keys[0]
	} else {
		borrowedKey := left.keys[len(left.keys)-1]
		borrowedChild := left.children[len(left.children)-1]
		left.keys = left.keys[:len(left.keys)-1]
		left.children = left.children[:len(left.children)-1]
		child.keys = insertKey(child.keys, 0, nn.keys[i-1])
		child.children = insertChild(child.children, 0, borrowedChild)
		nn.keys[i-1] = borrowedKey
	}

	saveLeft()
	saveChild()
	nn.children[i-1] = leftID
	nn.children[i] = childID
	return nil
}

func (t *Tree) borrowFromRight(nn *node, i int) error {
	childID, child, saveChild, err := t.shadowNode(nn.children[i])
	if err != nil {
		return err
	}
	rightID, right, saveRight, err := t.shadowNode(nn.children[i+1])
	if err != nil {
		return err
	}

	if child.isLeaf {
		child.keys = append(child.keys, right.keys[0])
		child.rids = append(child.rids, right.rids[0])
		right.keys = right.keys[1:]
		right.rids = right.rids[1:]
		nn.keys[i] = right.keys[0]
	} else {
		child.keys = append(child.keys, nn.keys[i])
		child.children = append(child.children, right.children[0])
		nn.keys[i] = right.keys[0]
		right.keys = right.keys[1:]
		right.children = right.children[1:]
	}

	saveChild()
	saveRight()
	nn.children[i] = childID
	nn.children[i+1] = rightID
	return nil
}

func (t *Tree) mergeSiblings(nn *node, li, ri int) error {
	_, left, saveLeft, err := t.shadowNode(nn.children[li])
	if err != nil {
		return err
	}
	// Shadowing the right sibling, rather than fetching it and freeing
	// its original id outright, puts that id into the transaction's
	// shadowed set so Commit's step 5 frees it once the merge is
	// durable. Freeing it here instead would overwrite its body with
	// a free-list link before the transaction commits, which a
	// Rollback has no record of and so cannot undo.
	_, right, saveRight, err := t.shadowNode(nn.children[ri])
	if err != nil {
		return err
	}

	if left.isLeaf {
		left.keys = append(left.keys, right.keys...)
		left.rids = append(left.rids, right.rids...)
		left.next = right.next
	} else {
		left.keys = append(left.keys, nn.keys[li])
		left.keys = append(left.keys, right.keys...)
		left.children = append(left.children, right.children...)
	}
	saveLeft()
	saveRight()

	nn.keys = append(nn.keys[:li], nn.keys[li+1:]...)
	nn.children = append(nn.children[:ri], nn.children[ri+1:]...)
	nn.children[li] = left.id
	return nil
}
