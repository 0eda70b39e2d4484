package engine

import (
	"strings"

	"relcore/internal/errs"
	"relcore/internal/sql"
	"relcore/internal/types"
)

// tableBinding is one FROM/JOIN table's schema and, while iterating
// rows, its current tuple.
type tableBinding struct {
	alias  string
	schema *types.Schema
	tuple  types.Tuple
}

// rowCtx resolves column references against the table(s) bound for
// the row currently being evaluated: one binding for a plain SELECT,
// two for a JOIN.
type rowCtx struct {
	tables []tableBinding
}

func (r *rowCtx) resolve(ref *sql.ColumnRef) (types.Value, error) {
	if ref.Table != "" {
		for _, tb := range r.tables {
			if tb.alias == ref.Table {
				idx := tb.schema.ColumnIndex(ref.Column)
				if idx < 0 {
					return types.Value{}, errs.New(errs.ErrColumnNotFound, "Column %s not found", ref.Column)
				}
				return tb.tuple[idx], nil
			}
		}
		return types.Value{}, errs.New(errs.ErrColumnNotFound, "Column %s not found", ref.Column)
	}

	var found *types.Value
	count := 0
	for _, tb := range r.tables {
		idx := tb.schema.ColumnIndex(ref.Column)
		if idx >= 0 {
			count++
			v := tb.tuple[idx]
			found = &v
		}
	}
	switch count {
	case 0:
		return types.Value{}, errs.New(errs.ErrColumnNotFound, "Column %s not found", ref.Column)
	case 1:
		return *found, nil
	default:
		return types.Value{}, errs.New(errs.ErrAmbiguousColumn, "ambiguous column %s", ref.Column)
	}
}

// evalValue evaluates expr to a scalar value. ctx may be nil for
// expressions that must not reference a column (INSERT VALUES).
func evalValue(expr sql.Expr, ctx *rowCtx) (types.Value, error) {
	switch e := expr.(type) {
	case *sql.Literal:
		return e.Value, nil
	case *sql.ColumnRef:
		if ctx == nil {
			return types.Value{}, errs.New(errs.ErrColumnNotFound, "Column %s not found", e.Column)
		}
		return ctx.resolve(e)
	case *sql.Unary:
		switch e.Op {
		case "-":
			v, err := evalValue(e.Expr, ctx)
			if err != nil {
				return v, err
			}
			return negate(v)
		case "NOT":
			b, err := evalBool(e.Expr, ctx)
			if err != nil {
				return types.Value{}, err
			}
			return types.BoolValue(!b), nil
		}
		return types.Value{}, errs.New(errs.ErrInternal, "unknown unary operator %s", e.Op)
	case *sql.Binary, *sql.Between, *sql.IsNull:
		b, err := evalBool(expr, ctx)
		if err != nil {
			return types.Value{}, err
		}
		return types.BoolValue(b), nil
	default:
		return types.Value{}, errs.New(errs.ErrInternal, "expression %T not valid in a value context", expr)
	}
}

func negate(v types.Value) (types.Value, error) {
	if v.Null {
		return v, nil
	}
	switch v.Type {
	case types.TypeInt:
		return types.IntValue(-v.I64), nil
	case types.TypeUInt:
		return types.IntValue(-int64(v.U64)), nil
	case types.TypeFloat:
		return types.FloatValue(-v.F64), nil
	default:
		return types.Value{}, errs.New(errs.ErrTypeMismatch, "cannot negate a %s value", v.Type)
	}
}

// evalBool evaluates expr as a predicate: AND/OR/NOT, comparisons,
// BETWEEN, IS [NOT] NULL, or a bare boolean-typed column/literal.
func evalBool(expr sql.Expr, ctx *rowCtx) (bool, error) {
	switch e := expr.(type) {
	case *sql.Binary:
		switch e.Op {
		case "AND":
			l, err := evalBool(e.Left, ctx)
			if err != nil || !l {
				return false, err
			}
			return evalBool(e.Right, ctx)
		case "OR":
			l, err := evalBool(e.Left, ctx)
			if err != nil {
				return false, err
			}
			if l {
				return true, nil
			}
			return evalBool(e.Right, ctx)
		default:
			return evalCompare(e.Op, e.Left, e.Right, ctx)
		}
	case *sql.Unary:
		if e.Op == "NOT" {
			b, err := evalBool(e.Expr, ctx)
			return !b, err
		}
	case *sql.Between:
		ge, err := evalCompare(">=", e.Expr, e.Low, ctx)
		if err != nil || !ge {
			return false, err
		}
		return evalCompare("<=", e.Expr, e.High, ctx)
	case *sql.IsNull:
		v, err := evalValue(e.Expr, ctx)
		if err != nil {
			return false, err
		}
		if e.Not {
			return !v.Null, nil
		}
		return v.Null, nil
	}

	v, err := evalValue(expr, ctx)
	if err != nil {
		return false, err
	}
	if v.Null {
		return false, nil
	}
	if v.Type != types.TypeBool {
		return false, errs.New(errs.ErrTypeMismatch, "expression does not evaluate to a boolean")
	}
	return v.B, nil
}

// evalCompare implements spec's deliberately non-standard `x = NULL`
// semantics: a comparison against the literal NULL is rewritten to
// IS [NOT] NULL instead of always evaluating to false. A comparison
// between two operands that merely happen to be NULL at runtime
// (neither written as the literal NULL) always evaluates to false.
func evalCompare(op string, leftExpr, rightExpr sql.Expr, ctx *rowCtx) (bool, error) {
	if op == "=" || op == "!=" {
		if lit, ok := leftExpr.(*sql.Literal); ok && lit.Value.Null {
			return compareAgainstNullLiteral(op, rightExpr, ctx)
		}
		if lit, ok := rightExpr.(*sql.Literal); ok && lit.Value.Null {
			return compareAgainstNullLiteral(op, leftExpr, ctx)
		}
	}

	lv, err := evalValue(leftExpr, ctx)
	if err != nil {
		return false, err
	}
	rv, err := evalValue(rightExpr, ctx)
	if err != nil {
		return false, err
	}
	if lv.Null || rv.Null {
		return false, nil
	}
	cmp, err := compareValues(lv, rv)
	if err != nil {
		return false, err
	}
	switch op {
	case "=":
		return cmp == 0, nil
	case "!=":
		return cmp != 0, nil
	case "<":
		return cmp < 0, nil
	case "<=":
		return cmp <= 0, nil
	case ">":
		return cmp > 0, nil
	case ">=":
		return cmp >= 0, nil
	default:
		return false, errs.New(errs.ErrInternal, "unknown comparison operator %s", op)
	}
}

func compareAgainstNullLiteral(op string, other sql.Expr, ctx *rowCtx) (bool, error) {
	v, err := evalValue(other, ctx)
	if err != nil {
		return false, err
	}
	if op == "=" {
		return v.Null, nil
	}
	return !v.Null, nil
}

// compareValues orders two non-NULL values of possibly different
// numeric types; Bool and Text only compare against their own type.
func compareValues(a, b types.Value) (int, error) {
	if a.Type == types.TypeText && b.Type == types.TypeText {
		return strings.Compare(a.S, b.S), nil
	}
	if a.Type == types.TypeBool && b.Type == types.TypeBool {
		if a.B == b.B {
			return 0, nil
		}
		if !a.B {
			return -1, nil
		}
		return 1, nil
	}
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if !aok || !bok {
		return 0, errs.New(errs.ErrTypeMismatch, "cannot compare %s with %s", a.Type, b.Type)
	}
	switch {
	case af < bf:
		return -1, nil
	case af > bf:
		return 1, nil
	default:
		return 0, nil
	}
}

func asFloat(v types.Value) (float64, bool) {
	switch v.Type {
	case types.TypeInt:
		return float64(v.I64), true
	case types.TypeUInt:
		return float64(v.U64), true
	case types.TypeFloat:
		return v.F64, true
	default:
		return 0, false
	}
}

// exprLabel picks the display header for a projected expression that
// has no explicit AS alias.
func exprLabel(expr sql.Expr) string {
	switch e := expr.(type) {
	case *sql.ColumnRef:
		if e.Table != "" {
			return e.Table + "." + e.Column
		}
		return e.Column
	case *sql.Literal:
		return e.Raw
	default:
		return "expr"
	}
}
