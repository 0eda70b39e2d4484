package engine

import (
	"fmt"

	"relcore/internal/errs"
	"relcore/internal/heap"
	"relcore/internal/sql"
	"relcore/internal/table"
	"relcore/internal/txn"
	"relcore/internal/types"
)

func (e *Engine) openTable(ps heap.PageSource, name string) (*table.Table, error) {
	entry, found, err := e.cat.Get(ps, name)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errs.New(errs.ErrTableNotFound, "Table %s not found", name)
	}
	return table.Open(entry, ps), nil
}

// saveEntry persists a table's catalog row after its Entry fields
// (FirstPageID/LastPageID/IndexRootPage) were mutated in place by the
// table layer, recording the new catalog root on t for commit.
func (e *Engine) saveEntry(ps heap.PageSource, t *txn.Transaction, tbl *table.Table) error {
	newRoot, err := e.cat.Put(ps, tbl.Entry)
	if err != nil {
		return err
	}
	t.SetCatalogRoot(newRoot)
	return nil
}

func (e *Engine) insert(ps heap.PageSource, t *txn.Transaction, s *sql.Insert) (*Result, error) {
	tbl, err := e.openTable(ps, s.Table)
	if err != nil {
		return nil, err
	}

	count := 0
	for _, row := range s.Rows {
		exprs, err := orderedExprs(&tbl.Entry.Schema, s.Columns, row)
		if err != nil {
			return nil, err
		}
		tup, err := bindRow(&tbl.Entry.Schema, exprs)
		if err != nil {
			return nil, err
		}
		if _, err := tbl.Insert(tup); err != nil {
			return nil, err
		}
		count++
	}

	if err := e.saveEntry(ps, t, tbl); err != nil {
		return nil, err
	}
	return &Result{Message: fmt.Sprintf("%d row(s) inserted", count)}, nil
}

func (e *Engine) update(ps heap.PageSource, t *txn.Transaction, s *sql.Update) (*Result, error) {
	tbl, err := e.openTable(ps, s.Table)
	if err != nil {
		return nil, err
	}

	colIdx := make([]int, len(s.Set))
	for i, a := range s.Set {
		idx := tbl.Entry.Schema.ColumnIndex(a.Column)
		if idx < 0 {
			return nil, errs.New(errs.ErrColumnNotFound, "Column %s not found", a.Column)
		}
		colIdx[i] = idx
	}

	var targets []types.RID
	ctx := &rowCtx{tables: []tableBinding{{alias: tbl.Entry.Name, schema: &tbl.Entry.Schema}}}
	if err := tbl.Scan(func(rid types.RID, tup types.Tuple) bool {
		ctx.tables[0].tuple = tup
		if s.Where == nil {
			targets = append(targets, rid)
			return true
		}
		keep, evalErr := evalBool(s.Where, ctx)
		if evalErr != nil {
			err = evalErr
			return false
		}
		if keep {
			targets = append(targets, rid)
		}
		return true
	}); err != nil {
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	count := 0
	for _, rid := range targets {
		oldTup, ok, err := tbl.GetByRID(rid)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		newTup := oldTup.Clone()
		rowCtx := &rowCtx{tables: []tableBinding{{alias: tbl.Entry.Name, schema: &tbl.Entry.Schema, tuple: oldTup}}}
		for i, a := range s.Set {
			v, err := evalValue(a.Value, rowCtx)
			if err != nil {
				return nil, err
			}
			cv, err := coerce(v, tbl.Entry.Schema.Columns[colIdx[i]].Type)
			if err != nil {
				return nil, err
			}
			newTup[colIdx[i]] = cv
		}
		if _, err := tbl.Update(rid, newTup); err != nil {
			return nil, err
		}
		count++
	}

	if err := e.saveEntry(ps, t, tbl); err != nil {
		return nil, err
	}
	return &Result{Message: fmt.Sprintf("%d row(s) updated", count)}, nil
}

func (e *Engine) delete(ps heap.PageSource, t *txn.Transaction, s *sql.Delete) (*Result, error) {
	tbl, err := e.openTable(ps, s.Table)
	if err != nil {
		return nil, err
	}

	var targets []types.RID
	ctx := &rowCtx{tables: []tableBinding{{alias: tbl.Entry.Name, schema: &tbl.Entry.Schema}}}
	if scanErr := tbl.Scan(func(rid types.RID, tup types.Tuple) bool {
		if s.Where == nil {
			targets = append(targets, rid)
			return true
		}
		ctx.tables[0].tuple = tup
		keep, evalErr := evalBool(s.Where, ctx)
		if evalErr != nil {
			err = evalErr
			return false
		}
		if keep {
			targets = append(targets, rid)
		}
		return true
	}); scanErr != nil {
		return nil, scanErr
	}
	if err != nil {
		return nil, err
	}

	for _, rid := range targets {
		if err := tbl.Delete(rid); err != nil {
			return nil, err
		}
	}

	if err := e.saveEntry(ps, t, tbl); err != nil {
		return nil, err
	}
	return &Result{Message: fmt.Sprintf("%d row(s) deleted", len(targets))}, nil
}

func (e *Engine) truncate(ps heap.PageSource, t *txn.Transaction, s *sql.Truncate) (*Result, error) {
	tbl, err := e.openTable(ps, s.Table)
	if err != nil {
		return nil, err
	}
	if err := tbl.Truncate(); err != nil {
		return nil, err
	}
	if err := e.saveEntry(ps, t, tbl); err != nil {
		return nil, err
	}
	return &Result{Message: "Table " + s.Table + " truncated"}, nil
}
