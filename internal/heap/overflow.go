package heap

import (
	"encoding/binary"

	"relcore/internal/page"
	"relcore/internal/types"
)

// InlineTextLimit is the largest text value EncodeTuple will store
// inline in a tuple body. Longer values are written to an overflow
// page chain and referenced by a (page_id, length) locator instead,
// matching spec.md §4.3's "string indirection" requirement.
const InlineTextLimit = 256

// overflow page layout, after the 1-byte Kind stamp:
//
//	offset 2: next page id (uint32)
//	offset 6: chunk length (uint16)
//	offset 8: chunk bytes
const (
	offOverflowNext   = 2
	offOverflowLength = 6
	overflowHeaderSize = 8
	overflowChunkCap    = page.Size - overflowHeaderSize
)

// WriteOverflow writes s across a chain of overflow pages, allocating
// each page through alloc and returning the head page id. Pages are
// filled to capacity before a new one is chained.
func WriteOverflow(s string, alloc func() (*page.Page, error)) (types.PageId, error) {
	data := []byte(s)
	var head types.PageId
	var prev *page.Page

	for offset := 0; offset < len(data) || (len(data) == 0 && prev == nil); {
		p, err := alloc()
		if err != nil {
			return 0, err
		}
		p.Zero(page.KindOverflow)
		putU32(p, offOverflowNext, uint32(types.InvalidPageId))

		n := len(data) - offset
		if n > overflowChunkCap {
			n = overflowChunkCap
		}
		copy(p.Data[overflowHeaderSize:overflowHeaderSize+n], data[offset:offset+n])
		putU16(p, offOverflowLength, uint16(n))
		offset += n

		if prev == nil {
			head = p.ID
		} else {
			putU32(prev, offOverflowNext, uint32(p.ID))
		}
		prev = p

		if len(data) == 0 {
			break
		}
	}
	return head, nil
}

// ReadOverflow walks the chain starting at head, using fetch to load
// each page, and returns the concatenated bytes. total bounds the
// read so a corrupt chain cannot be walked forever.
func ReadOverflow(head types.PageId, total uint32, fetch func(types.PageId) (*page.Page, func(), error)) (string, error) {
	out := make([]byte, 0, total)
	id := head
	for id != types.InvalidPageId && uint32(len(out)) < total {
		p, release, err := fetch(id)
		if err != nil {
			return "", err
		}
		length := getU16(p, offOverflowLength)
		out = append(out, p.Data[overflowHeaderSize:overflowHeaderSize+int(length)]...)
		next := types.PageId(binary.LittleEndian.Uint32(p.Data[offOverflowNext : offOverflowNext+4]))
		release()
		id = next
	}
	return string(out), nil
}
