package engine

import (
	"relcore/internal/catalog"
	"relcore/internal/errs"
	"relcore/internal/heap"
	"relcore/internal/sql"
	"relcore/internal/table"
	"relcore/internal/types"
)

func (e *Engine) selectStmt(ps heap.PageSource, sel *sql.Select) (*Result, error) {
	cols, rows, err := e.selectUnion(ps, sel)
	if err != nil {
		return nil, err
	}
	out := make([][]string, len(rows))
	for i, r := range rows {
		strs := make([]string, len(r))
		for j, v := range r {
			strs[j] = v.String()
		}
		out[i] = strs
	}
	return &Result{Columns: cols, Rows: out}, nil
}

// selectUnion evaluates sel's own SELECT and, if chained with UNION,
// recurses into the tail, unifying each column's type pairwise before
// concatenating the two branches in order (spec.md §6).
func (e *Engine) selectUnion(ps heap.PageSource, sel *sql.Select) ([]string, []types.Tuple, error) {
	cols, rows, err := e.selectCore(ps, &sel.Core)
	if err != nil {
		return nil, nil, err
	}
	if sel.Union == nil {
		return cols, rows, nil
	}

	_, nextRows, err := e.selectUnion(ps, sel.Union)
	if err != nil {
		return nil, nil, err
	}
	if len(rows) > 0 && len(nextRows) > 0 && len(rows[0]) != len(nextRows[0]) {
		return nil, nil, errs.New(errs.ErrSemantics, "UNION requires both SELECTs to have the same number of columns")
	}
	for i, r := range nextRows {
		u, err := unifyRow(rows, r)
		if err != nil {
			return nil, nil, err
		}
		nextRows[i] = u
	}
	return cols, append(rows, nextRows...), nil
}

// unifyRow coerces r's values to match the column types already
// established by the first branch's rows, applying spec.md §6's
// Int⊕UInt/Bool⊕Bool/Float⊕Float/Text⊕Text/NULL-compatible-with-any
// rules. An empty first branch leaves r as-is: there is nothing to
// unify against.
func unifyRow(established []types.Tuple, r types.Tuple) (types.Tuple, error) {
	if len(established) == 0 {
		return r, nil
	}
	ref := established[0]
	out := make(types.Tuple, len(r))
	for i, v := range r {
		uv, err := unifyValue(ref[i], v)
		if err != nil {
			return nil, err
		}
		out[i] = uv
	}
	return out, nil
}

func unifyValue(ref, v types.Value) (types.Value, error) {
	if v.Null || ref.Null {
		return v, nil
	}
	if ref.Type == v.Type {
		return v, nil
	}
	if ref.Type == types.TypeInt && v.Type == types.TypeUInt {
		if v.U64 > 1<<63-1 {
			return types.Value{}, errs.New(errs.ErrSemantics, "UNION column overflow unifying UInt %d into Int", v.U64)
		}
		return types.IntValue(int64(v.U64)), nil
	}
	if ref.Type == types.TypeUInt && v.Type == types.TypeInt {
		if v.I64 < 0 {
			return types.Value{}, errs.New(errs.ErrSemantics, "UNION column overflow unifying Int %d into UInt", v.I64)
		}
		return types.UIntValue(uint64(v.I64)), nil
	}
	return types.Value{}, errs.New(errs.ErrTypeMismatch, "Type mismatch: Expected [%s], but got [%s].", ref.Type, v.Type)
}

func (e *Engine) selectCore(ps heap.PageSource, core *sql.SelectCore) ([]string, []types.Tuple, error) {
	left, err := e.loadTable(ps, core.From, core.FromAs)
	if err != nil {
		return nil, nil, err
	}

	var bindings []tableBinding
	var rows []types.Tuple
	var rightTbl *table.Table
	var rightEntry *catalog.Entry

	if core.Join != nil {
		rightTbl, rightEntry, err = e.loadTableHandle(ps, core.Join.Table, core.Join.As)
		if err != nil {
			return nil, nil, err
		}
		bindings = []tableBinding{
			{alias: aliasFor(core.From, core.FromAs), schema: &left.entry.Schema},
			{alias: aliasFor(core.Join.Table, core.Join.As), schema: &rightEntry.Schema},
		}
	} else {
		bindings = []tableBinding{{alias: aliasFor(core.From, core.FromAs), schema: &left.entry.Schema}}
	}

	collect := func(tup0 types.Tuple, tup1 types.Tuple) error {
		ctx := &rowCtx{tables: append([]tableBinding{}, bindings...)}
		ctx.tables[0].tuple = tup0
		if core.Join != nil {
			ctx.tables[1].tuple = tup1
			if core.Join.On != nil {
				keep, err := evalBool(core.Join.On, ctx)
				if err != nil {
					return err
				}
				if !keep {
					return nil
				}
			}
		}
		if core.Where != nil {
			keep, err := evalBool(core.Where, ctx)
			if err != nil {
				return err
			}
			if !keep {
				return nil
			}
		}
		r, err := projectRow(core.Columns, ctx)
		if err != nil {
			return err
		}
		rows = append(rows, r)
		return nil
	}

	var scanErr error
	leftScan := func(fn func(tup types.Tuple) bool) error {
		if core.PreWhere != nil {
			if !left.tbl.HasUniqueIndex() {
				return errs.New(errs.ErrSchema, "table %s has no UNIQUE column to PREWHERE against", core.From)
			}
			return left.tbl.IndexRange(nil, func(rid types.RID) bool {
				tup, ok, err := left.tbl.GetByRID(rid)
				if err != nil {
					scanErr = err
					return false
				}
				if !ok {
					return true
				}
				pctx := &rowCtx{tables: []tableBinding{{alias: aliasFor(core.From, core.FromAs), schema: &left.entry.Schema, tuple: tup}}}
				keep, err := evalBool(core.PreWhere, pctx)
				if err != nil {
					scanErr = err
					return false
				}
				if !keep {
					return true
				}
				return fn(tup)
			})
		}
		return left.tbl.Scan(func(_ types.RID, tup types.Tuple) bool { return fn(tup) })
	}

	if core.Join == nil {
		err = leftScan(func(tup types.Tuple) bool {
			if err := collect(tup, nil); err != nil {
				scanErr = err
				return false
			}
			return true
		})
	} else {
		err = leftScan(func(ltup types.Tuple) bool {
			if innerErr := rightTbl.Scan(func(_ types.RID, rtup types.Tuple) bool {
				if err := collect(ltup, rtup); err != nil {
					scanErr = err
					return false
				}
				return true
			}); innerErr != nil {
				scanErr = innerErr
				return false
			}
			return scanErr == nil
		})
	}
	if err != nil {
		return nil, nil, err
	}
	if scanErr != nil {
		return nil, nil, scanErr
	}

	rows, err = applyLimitOffset(rows, core.Limit, core.Offset)
	if err != nil {
		return nil, nil, err
	}

	return columnNames(core.Columns, bindings), rows, nil
}

type loadedTable struct {
	tbl   *table.Table
	entry *catalog.Entry
}

func (e *Engine) loadTable(ps heap.PageSource, name, as string) (*loadedTable, error) {
	tbl, entry, err := e.loadTableHandle(ps, name, as)
	if err != nil {
		return nil, err
	}
	return &loadedTable{tbl: tbl, entry: entry}, nil
}

func (e *Engine) loadTableHandle(ps heap.PageSource, name, as string) (*table.Table, *catalog.Entry, error) {
	entry, found, err := e.cat.Get(ps, name)
	if err != nil {
		return nil, nil, err
	}
	if !found {
		return nil, nil, errs.New(errs.ErrTableNotFound, "Table %s not found", name)
	}
	return table.Open(entry, ps), entry, nil
}

func aliasFor(name, as string) string {
	if as != "" {
		return as
	}
	return name
}

// projectRow evaluates the SELECT list against ctx, expanding `*` into
// every column of every bound table in FROM/JOIN order.
func projectRow(items []sql.SelectItem, ctx *rowCtx) (types.Tuple, error) {
	var out types.Tuple
	for _, it := range items {
		if it.Star {
			for _, tb := range ctx.tables {
				out = append(out, tb.tuple...)
			}
			continue
		}
		v, err := evalValue(it.Expr, ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func columnNames(items []sql.SelectItem, bindings []tableBinding) []string {
	var out []string
	for _, it := range items {
		if it.Star {
			for _, tb := range bindings {
				for _, c := range tb.schema.Columns {
					if len(bindings) > 1 {
						out = append(out, tb.alias+"."+c.Name)
					} else {
						out = append(out, c.Name)
					}
				}
			}
			continue
		}
		if it.Alias != "" {
			out = append(out, it.Alias)
			continue
		}
		out = append(out, exprLabel(it.Expr))
	}
	return out
}

// applyLimitOffset implements `LIMIT n OFFSET m` == `LIMIT m, n`: both
// fields are already normalized to that shape by the parser.
func applyLimitOffset(rows []types.Tuple, limit, offset *int64) ([]types.Tuple, error) {
	if offset != nil && limit == nil {
		return nil, errs.New(errs.ErrSemantics, "OFFSET without LIMIT")
	}
	if limit == nil {
		return rows, nil
	}
	off := int64(0)
	if offset != nil {
		off = *offset
	}
	if off >= int64(len(rows)) {
		return nil, nil
	}
	end := off + *limit
	if end > int64(len(rows)) {
		end = int64(len(rows))
	}
	return rows[off:end], nil
}
