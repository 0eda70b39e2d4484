package engine

import (
	"relcore/internal/catalog"
	"relcore/internal/errs"
	"relcore/internal/heap"
	"relcore/internal/sql"
	"relcore/internal/table"
	"relcore/internal/txn"
	"relcore/internal/types"
)

func (e *Engine) createTable(ps heap.PageSource, t *txn.Transaction, s *sql.CreateTable) (*Result, error) {
	if _, found, err := e.cat.Get(ps, s.Name); err != nil {
		return nil, err
	} else if found {
		return nil, errs.New(errs.ErrTableExists, "Table %s already exists", s.Name)
	}

	seen := make(map[string]bool, len(s.Columns))
	cols := make([]types.Column, len(s.Columns))
	for i, c := range s.Columns {
		if seen[c.Name] {
			return nil, errs.New(errs.ErrSchema, "column %q is defined more than once", c.Name)
		}
		seen[c.Name] = true
		cols[i] = types.Column{Name: c.Name, Type: c.Type, Nullable: c.Nullable, Unique: c.Unique}
	}

	entry := &catalog.Entry{
		Name:          s.Name,
		Schema:        types.Schema{Columns: cols},
		FirstPageID:   types.InvalidPageId,
		LastPageID:    types.InvalidPageId,
		IndexRootPage: types.InvalidPageId,
	}
	newRoot, err := e.cat.Put(ps, entry)
	if err != nil {
		return nil, err
	}
	t.SetCatalogRoot(newRoot)
	return &Result{Message: "Table " + s.Name + " created"}, nil
}

func (e *Engine) dropTable(ps heap.PageSource, t *txn.Transaction, s *sql.DropTable) (*Result, error) {
	for _, name := range s.Names {
		entry, found, err := e.cat.Get(ps, name)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, errs.New(errs.ErrTableNotFound, "Table %s not found", name)
		}
		if err := table.Open(entry, ps).Truncate(); err != nil {
			return nil, err
		}
		newRoot, err := e.cat.Delete(ps, name)
		if err != nil {
			return nil, err
		}
		t.SetCatalogRoot(newRoot)
	}
	return &Result{Message: "Table(s) dropped"}, nil
}
