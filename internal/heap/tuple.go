package heap

import (
	"encoding/binary"
	"fmt"
	"math"

	"relcore/internal/types"
)

// DecodeTuple reverses EncodeTuple. Overflow-locator columns are
// returned as a types.Value{Type: types.TypeText} whose S field is
// populated from resolve, which the caller supplies to walk the
// overflow chain (table.go wires this to the tuple store's page
// fetches so this package stays free of a buffer pool dependency).
func DecodeTuple(schema *types.Schema, data []byte, resolve func(pageID types.PageId, length uint32) (string, error)) (types.Tuple, error) {
	n := schema.NumCols()
	bitmapLen := (n + 7) / 8
	if len(data) < bitmapLen {
		return nil, fmt.Errorf("heap: truncated tuple header")
	}
	bitmap := data[:bitmapLen]
	pos := bitmapLen

	out := make(types.Tuple, n)
	for i := 0; i < n; i++ {
		col := schema.Columns[i]
		if bitmap[i/8]&(1<<uint(i%8)) != 0 {
			out[i] = types.NullValue(col.Type)
			continue
		}
		if pos >= len(data) {
			return nil, fmt.Errorf("heap: truncated tuple body at column %q", col.Name)
		}
		marker := data[pos]
		pos++
		if marker == 1 {
			pageID := types.PageId(binary.LittleEndian.Uint32(data[pos : pos+4]))
			pos += 4
			length := binary.LittleEndian.Uint32(data[pos : pos+4])
			pos += 4
			if resolve == nil {
				return nil, fmt.Errorf("heap: overflow column %q with no resolver", col.Name)
			}
			s, err := resolve(pageID, length)
			if err != nil {
				return nil, err
			}
			out[i] = types.TextValue(s)
			continue
		}
		switch col.Type {
		case types.TypeInt:
			out[i] = types.IntValue(int64(binary.LittleEndian.Uint64(data[pos : pos+8])))
			pos += 8
		case types.TypeUInt:
			out[i] = types.UIntValue(binary.LittleEndian.Uint64(data[pos : pos+8]))
			pos += 8
		case types.TypeFloat:
			out[i] = types.FloatValue(math.Float64frombits(binary.LittleEndian.Uint64(data[pos : pos+8])))
			pos += 8
		case types.TypeBool:
			out[i] = types.BoolValue(data[pos] != 0)
			pos++
		case types.TypeText:
			length := binary.LittleEndian.Uint32(data[pos : pos+4])
			pos += 4
			out[i] = types.TextValue(string(data[pos : pos+int(length)]))
			pos += int(length)
		default:
			return nil, fmt.Errorf("heap: unknown column type for %q", col.Name)
		}
	}
	return out, nil
}
