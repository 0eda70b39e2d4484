package catalog

import (
	"fmt"
	"strconv"
	"strings"

	"relcore/internal/types"
)

// toTuple and entryFromTuple convert between an Entry and the row
// format stored in the catalog's own heap chain. A table's schema is
// flattened into a single delimited text column rather than modeled
// as nested catalog rows — simple enough to read back without a
// second catalog lookup, which matters because schema lookups sit on
// every query's hot path.
func (e *Entry) toTuple() types.Tuple {
	return types.Tuple{
		types.TextValue(e.Name),
		types.TextValue(encodeSchema(&e.Schema)),
		types.UIntValue(uint64(e.FirstPageID)),
		types.UIntValue(uint64(e.LastPageID)),
		types.UIntValue(uint64(e.IndexRootPage)),
	}
}

func entryFromTuple(t types.Tuple) (*Entry, error) {
	schema, err := decodeSchema(t[1].S)
	if err != nil {
		return nil, err
	}
	return &Entry{
		Name:          t[0].S,
		Schema:        schema,
		FirstPageID:   types.PageId(t[2].U64),
		LastPageID:    types.PageId(t[3].U64),
		IndexRootPage: types.PageId(t[4].U64),
	}, nil
}

// encodeSchema renders columns as "name:type:flags,...": flags is "n"
// for nullable and "u" for unique, concatenated, or "-" for neither.
func encodeSchema(s *types.Schema) string {
	parts := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		flags := ""
		if c.Nullable {
			flags += "n"
		}
		if c.Unique {
			flags += "u"
		}
		if flags == "" {
			flags = "-"
		}
		parts[i] = fmt.Sprintf("%s:%d:%s", c.Name, c.Type, flags)
	}
	return strings.Join(parts, ",")
}

func decodeSchema(blob string) (types.Schema, error) {
	if blob == "" {
		return types.Schema{}, nil
	}
	fields := strings.Split(blob, ",")
	cols := make([]types.Column, len(fields))
	for i, f := range fields {
		parts := strings.Split(f, ":")
		if len(parts) != 3 {
			return types.Schema{}, fmt.Errorf("catalog: malformed schema field %q", f)
		}
		typ, err := strconv.Atoi(parts[1])
		if err != nil {
			return types.Schema{}, fmt.Errorf("catalog: malformed type in %q: %w", f, err)
		}
		cols[i] = types.Column{
			Name:     parts[0],
			Type:     types.DataType(typ),
			Nullable: strings.Contains(parts[2], "n"),
			Unique:   strings.Contains(parts[2], "u"),
		}
	}
	return types.Schema{Columns: cols}, nil
}
