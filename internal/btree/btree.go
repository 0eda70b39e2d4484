// Package btree implements the numeric-keyed B+Tree used for the
// table's UNIQUE column index: key-to-RID leaf entries, sibling links
// for range scans, and copy-on-write split/merge under the shadow
// paging protocol. Grounded on the teacher's
// access/indexfile_manager/bplustree package (MaxKeys/MinKeys sizing,
// FindLeaf/Insertion/SplitLeaf/deletion shapes) but reworked around a
// flat PageId space and Shadow instead of in-place dirty writes.
package btree

import (
	"bytes"
	"encoding/binary"
	"math"

	"relcore/internal/bufferpool"
	"relcore/internal/errs"
	"relcore/internal/page"
	"relcore/internal/types"
)

const (
	// MaxKeys and MinKeys bound fan-out the same way the teacher's
	// implementation does, sized to fit comfortably within one page
	// for the fixed 9-byte key + 6-byte RID entry width this index uses.
	MaxKeys = 64
	MinKeys = MaxKeys / 2

	keyWidth  = 9 // 1 tag byte + 8 value bytes
	ridWidth  = 6 // 4 byte PageId + 2 byte slot
	childSize = 4
)

// Key is a canonical, order-preserving encoding of a numeric
// types.Value, byte-comparable for Int, UInt and Float alike.
type Key [keyWidth]byte

// EncodeKey canonicalizes v for use as an index key. NaN floats are
// rejected (spec.md §4.4 edge cases: "NaN cannot be indexed").
func EncodeKey(v types.Value) (Key, error) {
	var k Key
	switch v.Type {
	case types.TypeInt:
		k[0] = 0
		// Flip the sign bit so two's-complement ints sort correctly
		// under a plain byte-wise comparison.
		binary.BigEndian.PutUint64(k[1:], uint64(v.I64)^(1<<63))
	case types.TypeUInt:
		k[0] = 1
		binary.BigEndian.PutUint64(k[1:], v.U64)
	case types.TypeFloat:
		if math.IsNaN(v.F64) {
			return k, errs.New(errs.ErrInvalidKey, "NaN is not a valid index key")
		}
		k[0] = 2
		binary.BigEndian.PutUint64(k[1:], floatSortable(v.F64))
	default:
		return k, errs.New(errs.ErrInvalidKey, "column type %s cannot be indexed", v.Type)
	}
	return k, nil
}

// floatSortable maps a float64's bits onto a uint64 ordering that
// matches IEEE-754 total order for a byte-wise comparison.
func floatSortable(f float64) uint64 {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		return ^bits
	}
	return bits | (1 << 63)
}

func compareKeys(a, b Key) int { return bytes.Compare(a[:], b[:]) }

// PageSource is the slice of the buffer pool the tree needs.
type PageSource interface {
	Fetch(id types.PageId) (*bufferpool.Handle, error)
	NewPage(kind page.Kind) (*bufferpool.Handle, error)
	Shadow(id types.PageId) (types.PageId, *bufferpool.Handle, error)
	Free(id types.PageId) error
}

// Tree is a stateless view over a root page id; callers (internal/table)
// own the root id itself (it lives in the catalog row) and pass the
// current value into every call, receiving back the possibly-new root
// id to persist.
type Tree struct {
	ps PageSource
}

func New(ps PageSource) *Tree { return &Tree{ps: ps} }

// node is the decoded, in-memory form of one index page.
type node struct {
	id       types.PageId
	isLeaf   bool
	keys     []Key
	children []types.PageId // internal only, len == len(keys)+1
	rids     []types.RID    // leaf only, len == len(keys)
	next     types.PageId   // leaf only
}

const (
	offIsLeaf = 1
	offCount  = 2
	offNext   = 4
	bodyStart = 8
)

func loadNode(p *page.Page) *node {
	n := &node{id: p.ID, isLeaf: p.Data[offIsLeaf] == 1}
	count := int(binary.LittleEndian.Uint16(p.Data[offCount : offCount+2]))
	n.next = types.PageId(binary.LittleEndian.Uint32(p.Data[offNext : offNext+4]))

	off := bodyStart
	n.keys = make([]Key, count)
	for i := 0; i < count; i++ {
		copy(n.keys[i][:], p.Data[off:off+keyWidth])
		off += keyWidth
	}
	if n.isLeaf {
		n.rids = make([]types.RID, count)
		for i := 0; i < count; i++ {
			pid := binary.LittleEndian.Uint32(p.Data[off : off+4])
			slot := binary.LittleEndian.Uint16(p.Data[off+4 : off+6])
			n.rids[i] = types.RID{PageID: types.PageId(pid), Slot: slot}
			off += ridWidth
		}
	} else {
		n.children = make([]types.PageId, count+1)
		for i := 0; i <= count; i++ {
			n.children[i] = types.PageId(binary.LittleEndian.Uint32(p.Data[off : off+4]))
			off += childSize
		}
	}
	return n
}

func storeNode(n *node, p *page.Page) {
	kind := page.KindIndexInternal
	if n.isLeaf {
		kind = page.KindIndexLeaf
	}
	p.Zero(kind)
	if n.isLeaf {
		p.Data[offIsLeaf] = 1
	}
	binary.LittleEndian.PutUint16(p.Data[offCount:offCount+2], uint16(len(n.keys)))
	binary.LittleEndian.PutUint32(p.Data[offNext:offNext+4], uint32(n.next))

	off := bodyStart
	for _, k := range n.keys {
		copy(p.Data[off:off+keyWidth], k[:])
		off += keyWidth
	}
	if n.isLeaf {
		for _, r := range n.rids {
			binary.LittleEndian.PutUint32(p.Data[off:off+4], uint32(r.PageID))
			binary.LittleEndian.PutUint16(p.Data[off+4:off+6], r.Slot)
			off += ridWidth
		}
	} else {
		for _, c := range n.children {
			binary.LittleEndian.PutUint32(p.Data[off:off+4], uint32(c))
			off += childSize
		}
	}
}

func (t *Tree) fetchNode(id types.PageId) (*node, func(), error) {
	h, err := t.ps.Fetch(id)
	if err != nil {
		return nil, nil, err
	}
	n := loadNode(h.Page())
	return n, h.Release, nil
}

// shadowNode shadows id, decodes its current body into a *node the
// caller can mutate, and returns a save func that serializes the
// mutated node back into the shadow page and marks it dirty.
func (t *Tree) shadowNode(id types.PageId) (newID types.PageId, n *node, save func(), err error) {
	newID, h, err := t.ps.Shadow(id)
	if err != nil {
		return 0, nil, nil, err
	}
	n = loadNode(h.Page())
	n.id = newID
	save = func() {
		storeNode(n, h.Page())
		h.MarkDirty()
		h.Release()
	}
	return newID, n, save, nil
}

func lowerBound(keys []Key, k Key) int {
	lo, hi := 0, len(keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if compareKeys(keys[mid], k) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// Search returns the RID for key, walking the tree read-only.
func (t *Tree) Search(root types.PageId, key Key) (types.RID, bool, error) {
	id := root
	for id != types.InvalidPageId {
		n, release, err := t.fetchNode(id)
		if err != nil {
			return types.RID{}, false, err
		}
		if n.isLeaf {
			i := lowerBound(n.keys, key)
			release()
			if i < len(n.keys) && compareKeys(n.keys[i], key) == 0 {
				return n.rids[i], true, nil
			}
			return types.RID{}, false, nil
		}
		i := lowerBound(n.keys, key)
		if i < len(n.keys) && compareKeys(n.keys[i], key) == 0 {
			i++
		}
		next := n.children[i]
		release()
		id = next
	}
	return types.RID{}, false, nil
}

// Range walks leaves in key order starting from the first key >= low
// (or the leftmost leaf if low is nil), invoking fn until it returns
// false or the chain ends, for PREWHERE/WHERE range scans over the
// UNIQUE column (spec.md §4.4).
func (t *Tree) Range(root types.PageId, low *Key, fn func(key Key, rid types.RID) bool) error {
	if root == types.InvalidPageId {
		return nil
	}
	id := root
	for {
		n, release, err := t.fetchNode(id)
		if err != nil {
			return err
		}
		if n.isLeaf {
			break
		}
		i := 0
		if low != nil {
			i = lowerBound(n.keys, *low)
			if i < len(n.keys) && compareKeys(n.keys[i], *low) == 0 {
				i++
			}
		}
		next := n.children[i]
		release()
		id = next
	}

	for id != types.InvalidPageId {
		n, release, err := t.fetchNode(id)
		if err != nil {
			return err
		}
		start := 0
		if low != nil {
			start = lowerBound(n.keys, *low)
		}
		cont := true
		for i := start; i < len(n.keys); i++ {
			if !fn(n.keys[i], n.rids[i]) {
				cont = false
				break
			}
		}
		next := n.next
		release()
		if !cont {
			return nil
		}
		id = next
	}
	return nil
}
