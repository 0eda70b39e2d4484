package engine

import (
	"relcore/internal/errs"
	"relcore/internal/sql"
	"relcore/internal/types"
)

// coerce adapts a literal value to a column's declared type where the
// conversion is lossless (Int<->UInt when the sign allows it,
// Int/UInt->Float), and otherwise reports the schema's exact
// mismatch wording.
func coerce(v types.Value, want types.DataType) (types.Value, error) {
	if v.Null {
		return types.NullValue(want), nil
	}
	if v.Type == want {
		return v, nil
	}
	switch want {
	case types.TypeInt:
		if v.Type == types.TypeUInt && v.U64 <= 1<<63-1 {
			return types.IntValue(int64(v.U64)), nil
		}
	case types.TypeUInt:
		if v.Type == types.TypeInt && v.I64 >= 0 {
			return types.UIntValue(uint64(v.I64)), nil
		}
	case types.TypeFloat:
		switch v.Type {
		case types.TypeInt:
			return types.FloatValue(float64(v.I64)), nil
		case types.TypeUInt:
			return types.FloatValue(float64(v.U64)), nil
		}
	}
	return types.Value{}, errs.New(errs.ErrTypeMismatch, "Type mismatch: Expected [%s], but got [%s].", want, v.Type)
}

// bindRow evaluates exprs (already in schema column order, with
// unreferenced trailing columns left as nil) against schema, coercing
// literal types and filling NULL for every column the statement did
// not mention.
func bindRow(schema *types.Schema, exprs []sql.Expr) (types.Tuple, error) {
	tup := make(types.Tuple, len(schema.Columns))
	for i, col := range schema.Columns {
		if exprs[i] == nil {
			tup[i] = types.NullValue(col.Type)
			continue
		}
		v, err := evalValue(exprs[i], nil)
		if err != nil {
			return nil, err
		}
		cv, err := coerce(v, col.Type)
		if err != nil {
			return nil, err
		}
		tup[i] = cv
	}
	return tup, nil
}

// orderedExprs maps an INSERT's (possibly partial, possibly permuted)
// column list onto schema order, erroring if any named column does
// not exist in schema.
func orderedExprs(schema *types.Schema, columns []string, values []sql.Expr) ([]sql.Expr, error) {
	out := make([]sql.Expr, len(schema.Columns))
	if columns == nil {
		if len(values) != len(schema.Columns) {
			return nil, errs.New(errs.ErrSchema, "Expected %d values, but got %d.", len(schema.Columns), len(values))
		}
		copy(out, values)
		return out, nil
	}

	if len(values) != len(columns) {
		return nil, errs.New(errs.ErrSchema, "Expected %d values, but got %d.", len(columns), len(values))
	}

	var missing []string
	for i, name := range columns {
		idx := schema.ColumnIndex(name)
		if idx < 0 {
			missing = append(missing, name)
			continue
		}
		out[idx] = values[i]
	}
	if len(missing) > 0 {
		return nil, errs.New(errs.ErrColumnNotFound, "Columns %s not found", formatNameList(missing))
	}
	return out, nil
}

func formatNameList(names []string) string {
	s := "["
	for i, n := range names {
		if i > 0 {
			s += ", "
		}
		s += n
	}
	return s + "]"
}
