// Package heap implements the slotted tuple page: the on-disk layout
// the tuple store reads and writes, grounded on the teacher's
// heapfile_manager page format (header + slot directory growing
// forward, tuple bodies growing backward from the page tail) but
// reworked for the NULL-bitmap/overflow-chain tuple encoding spec.md
// §4.3 requires.
package heap

import (
	"encoding/binary"
	"fmt"
	"math"

	"relcore/internal/errs"
	"relcore/internal/page"
	"relcore/internal/types"
)

// Header layout, immediately after the 1-byte Kind stamp:
//
//	offset 2:  next page id   (uint32)
//	offset 6:  slot count     (uint16)
//	offset 8:  free space ptr (uint16) -- smallest offset in use by a tuple body
const (
	offNextPage     = 2
	offSlotCount    = 6
	offFreeSpacePtr = 8
	HeaderSize      = 10

	slotSize = 4 // offset uint16, length uint16; length 0 == tombstone
)

// InitPage formats a freshly allocated page as an empty heap page.
func InitPage(p *page.Page) {
	p.Zero(page.KindTupleHeap)
	putU32(p, offNextPage, uint32(types.InvalidPageId))
	putU16(p, offSlotCount, 0)
	putU16(p, offFreeSpacePtr, uint16(page.Size))
}

func NextPageID(p *page.Page) types.PageId { return types.PageId(getU32(p, offNextPage)) }

func SetNextPageID(p *page.Page, id types.PageId) { putU32(p, offNextPage, uint32(id)) }

func slotCount(p *page.Page) int { return int(getU16(p, offSlotCount)) }

func freeSpacePtr(p *page.Page) int { return int(getU16(p, offFreeSpacePtr)) }

func slotOffset(i int) int { return HeaderSize + i*slotSize }

func readSlot(p *page.Page, i int) (offset, length uint16) {
	o := slotOffset(i)
	return getU16(p, o), getU16(p, o+2)
}

func writeSlot(p *page.Page, i int, offset, length uint16) {
	o := slotOffset(i)
	putU16(p, o, offset)
	putU16(p, o+2, length)
}

// freeSpace returns the number of bytes available for a new tuple
// body plus, if needed, a new slot.
func freeSpace(p *page.Page) int {
	return freeSpacePtr(p) - slotOffset(slotCount(p))
}

// InsertTuple writes raw bytes into the first tombstoned slot that
// fits, or appends a new slot, returning the slot index. It returns
// errs.ErrOutOfFrames-unrelated false if there isn't room, so the
// caller (table.Insert) can allocate a new heap page and chain it.
func InsertTuple(p *page.Page, data []byte) (slot uint16, ok bool) {
	n := slotCount(p)
	for i := 0; i < n; i++ {
		_, length := readSlot(p, i)
		if length == 0 && tryWriteIntoTombstone(p, i, data) {
			return uint16(i), true
		}
	}

	if freeSpace(p) < len(data)+slotSize {
		return 0, false
	}

	newOff := freeSpacePtr(p) - len(data)
	copy(p.Data[newOff:newOff+len(data)], data)
	putU16(p, offFreeSpacePtr, uint16(newOff))
	writeSlot(p, n, uint16(newOff), uint16(len(data)))
	putU16(p, offSlotCount, uint16(n+1))
	return uint16(n), true
}

// tryWriteIntoTombstone reuses a deleted slot's slot-directory entry
// whenever the page's free space can hold the new body: it always
// appends a new body (matching the teacher's UpdateRecord) and just
// repoints the slot, so tombstoned slots are only reused for their
// directory entry, never their old body bytes.
func tryWriteIntoTombstone(p *page.Page, slot int, data []byte) bool {
	if freeSpace(p) < len(data) {
		return false
	}
	newOff := freeSpacePtr(p) - len(data)
	copy(p.Data[newOff:newOff+len(data)], data)
	putU16(p, offFreeSpacePtr, uint16(newOff))
	writeSlot(p, slot, uint16(newOff), uint16(len(data)))
	return true
}

// GetTuple returns the raw bytes for slot, or ok=false if the slot is
// out of range or tombstoned.
func GetTuple(p *page.Page, slot uint16) (data []byte, ok bool) {
	if int(slot) >= slotCount(p) {
		return nil, false
	}
	off, length := readSlot(p, int(slot))
	if length == 0 {
		return nil, false
	}
	return p.Data[off : off+length], true
}

// DeleteTuple tombstones slot, preserving its index so the RIDs of the
// page's other slots stay valid. The tombstoned slot index itself is
// reused by the next InsertTuple on this page that finds room, so a
// deleted tuple's RID can later name a different tuple.
func DeleteTuple(p *page.Page, slot uint16) bool {
	if int(slot) >= slotCount(p) {
		return false
	}
	writeSlot(p, int(slot), 0, 0)
	return true
}

// UpdateTuple overwrites slot's body in place if data is no larger
// than the existing body, otherwise reports ok=false so the caller
// falls back to delete+reinsert (spec.md §4.3: "updates that don't
// fit become delete+insert").
func UpdateTuple(p *page.Page, slot uint16, data []byte) (ok bool) {
	if int(slot) >= slotCount(p) {
		return false
	}
	off, length := readSlot(p, int(slot))
	if length == 0 || len(data) > int(length) {
		return false
	}
	copy(p.Data[off:off+uint16(len(data))], data)
	if len(data) < int(length) {
		// zero the trailing slack so stale bytes never leak through a
		// shorter subsequent GetTuple at this slot.
		for i := len(data); i < int(length); i++ {
			p.Data[int(off)+i] = 0
		}
	}
	writeSlot(p, int(slot), off, uint16(len(data)))
	return true
}

// Slots iterates live (non-tombstoned) slot indices in order.
func Slots(p *page.Page) []uint16 {
	n := slotCount(p)
	out := make([]uint16, 0, n)
	for i := 0; i < n; i++ {
		_, length := readSlot(p, i)
		if length > 0 {
			out = append(out, uint16(i))
		}
	}
	return out
}

func putU16(p *page.Page, off int, v uint16) { binary.LittleEndian.PutUint16(p.Data[off:off+2], v) }
func getU16(p *page.Page, off int) uint16    { return binary.LittleEndian.Uint16(p.Data[off : off+2]) }
func putU32(p *page.Page, off int, v uint32) { binary.LittleEndian.PutUint32(p.Data[off:off+4], v) }
func getU32(p *page.Page, off int) uint32    { return binary.LittleEndian.Uint32(p.Data[off : off+4]) }

// EncodeTuple serializes a tuple against schema into the NULL-bitmap
// + typed-values layout described in spec.md §4.3. Text values longer
// than InlineTextLimit are not handled here — callers route those
// through the overflow chain (see overflow.go) and encode a locator
// in place of the inline value.
func EncodeTuple(schema *types.Schema, t types.Tuple, overflow map[int]OverflowLocator) ([]byte, error) {
	if len(t) != schema.NumCols() {
		return nil, fmt.Errorf("heap: %w: expected %d columns, got %d", errs.ErrTypeMismatch, schema.NumCols(), len(t))
	}

	bitmapLen := (len(t) + 7) / 8
	buf := make([]byte, bitmapLen)

	for i, v := range t {
		col := schema.Columns[i]
		if v.Null {
			if !col.Nullable {
				return nil, errs.New(errs.ErrNotNull, "column %q does not allow NULL", col.Name)
			}
			buf[i/8] |= 1 << uint(i%8)
			continue
		}
		if v.Type != col.Type {
			return nil, errs.New(errs.ErrTypeMismatch, "column %q expects %s, got %s", col.Name, col.Type, v.Type)
		}
		if loc, isOverflow := overflow[i]; isOverflow {
			buf = append(buf, 1)
			buf = appendU32(buf, uint32(loc.PageID))
			buf = appendU32(buf, loc.Length)
			continue
		}
		buf = appendValue(buf, v)
	}
	return buf, nil
}

// OverflowLocator points at the head of a text value's overflow page
// chain.
type OverflowLocator struct {
	PageID types.PageId
	Length uint32
}

func appendValue(buf []byte, v types.Value) []byte {
	switch v.Type {
	case types.TypeInt:
		buf = append(buf, 0)
		return appendU64(buf, uint64(v.I64))
	case types.TypeUInt:
		buf = append(buf, 0)
		return appendU64(buf, v.U64)
	case types.TypeFloat:
		buf = append(buf, 0)
		return appendU64(buf, math.Float64bits(v.F64))
	case types.TypeBool:
		if v.B {
			return append(buf, 0, 1)
		}
		return append(buf, 0, 0)
	case types.TypeText:
		buf = append(buf, 0)
		buf = appendU32(buf, uint32(len(v.S)))
		return append(buf, v.S...)
	default:
		return buf
	}
}

func appendU32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendU64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}
