// Package engine turns parsed statements into storage-core operations:
// DDL against the catalog, DML against table chains and indexes, SELECT
// plans over scans/index-ranges/joins/unions, and the TCL verbs that
// drive internal/txn. Grounded on the teacher's query_executor/executor.go
// VM.Execute switch (one case per statement kind, implicit-transaction
// wrapping around INSERT) but built against typed AST nodes instead of
// a bytecode stream, since this engine's parser produces a tree rather
// than compiling to opcodes.
package engine

import (
	"fmt"
	"log/slog"
	"sync"

	"relcore/internal/bufferpool"
	"relcore/internal/catalog"
	"relcore/internal/diskmgr"
	"relcore/internal/errs"
	"relcore/internal/heap"
	"relcore/internal/sql"
	"relcore/internal/txn"
)

// Result is what Execute returns for one statement: exactly one of
// Rows (a SELECT), Message (DDL/DML/TCL acknowledgement) or Plan
// (EXPLAIN) is meaningfully populated.
type Result struct {
	Columns []string
	Rows    [][]string
	Message string
	Plan    string
}

// Engine is the single entry point the REPL/CLI shell drives. It owns
// the whole storage stack for one backing file.
type Engine struct {
	dm     *diskmgr.Manager
	bp     *bufferpool.Pool
	cat    *catalog.Catalog
	txnMgr *txn.Manager
	log    *slog.Logger

	mu      sync.Mutex
	current *txn.Transaction // non-nil while an explicit BEGIN...COMMIT/ROLLBACK is open
}

// Open opens (creating if necessary) the backing file at path and
// returns a ready Engine. capacity is the buffer pool's frame count.
func Open(path string, capacity int, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dm, err := diskmgr.Open(path, logger)
	if err != nil {
		return nil, err
	}
	bp := bufferpool.New(dm, capacity, logger)
	cat, err := catalog.Open(dm)
	if err != nil {
		return nil, err
	}
	return &Engine{
		dm:     dm,
		bp:     bp,
		cat:    cat,
		txnMgr: txn.New(bp, dm, logger),
		log:    logger,
	}, nil
}

func (e *Engine) Close() error { return e.dm.Close() }

// Execute parses and runs one statement.
func (e *Engine) Execute(sqlText string) (*Result, error) {
	stmt, err := sql.ParseStatement(sqlText)
	if err != nil {
		return nil, err
	}
	return e.run(stmt)
}

func (e *Engine) run(stmt sql.Stmt) (*Result, error) {
	switch s := stmt.(type) {
	case *sql.Begin:
		return e.beginExplicit()
	case *sql.Commit:
		return e.commitExplicit()
	case *sql.Rollback:
		return e.rollbackExplicit()
	case *sql.CreateTable:
		return e.execWrite(func(ps heap.PageSource, t *txn.Transaction) (*Result, error) {
			return e.createTable(ps, t, s)
		})
	case *sql.DropTable:
		return e.execWrite(func(ps heap.PageSource, t *txn.Transaction) (*Result, error) {
			return e.dropTable(ps, t, s)
		})
	case *sql.Insert:
		return e.execWrite(func(ps heap.PageSource, t *txn.Transaction) (*Result, error) {
			return e.insert(ps, t, s)
		})
	case *sql.Update:
		return e.execWrite(func(ps heap.PageSource, t *txn.Transaction) (*Result, error) {
			return e.update(ps, t, s)
		})
	case *sql.Delete:
		return e.execWrite(func(ps heap.PageSource, t *txn.Transaction) (*Result, error) {
			return e.delete(ps, t, s)
		})
	case *sql.Truncate:
		return e.execWrite(func(ps heap.PageSource, t *txn.Transaction) (*Result, error) {
			return e.truncate(ps, t, s)
		})
	case *sql.Select:
		return e.readSource(func(ps heap.PageSource) (*Result, error) {
			return e.selectStmt(ps, s)
		})
	case *sql.Explain:
		return e.explain(s)
	default:
		return nil, errs.New(errs.ErrInternal, "unhandled statement type %T", s)
	}
}

// readSource hands fn the PageSource appropriate for a read-only
// statement: the active writer's own scoped view if one is open (so a
// SELECT inside a transaction sees its own pending writes, spec.md
// §5), otherwise the plain buffer pool, which never consults any
// shadow map and so gives read-committed isolation by construction.
func (e *Engine) readSource(fn func(ps heap.PageSource) (*Result, error)) (*Result, error) {
	e.mu.Lock()
	cur := e.current
	e.mu.Unlock()
	if cur != nil {
		return fn(cur.Source())
	}
	return fn(e.bp)
}

// execWrite runs fn against the active explicit transaction's scoped
// source, or against a fresh implicit transaction that this call
// begins, commits on success and rolls back on error (spec.md §4.7).
func (e *Engine) execWrite(fn func(ps heap.PageSource, t *txn.Transaction) (*Result, error)) (*Result, error) {
	e.mu.Lock()
	cur := e.current
	e.mu.Unlock()
	if cur != nil {
		return fn(cur.Source(), cur)
	}

	t, err := e.txnMgr.Begin()
	if err != nil {
		return nil, err
	}
	res, err := fn(t.Source(), t)
	if err != nil {
		if rerr := e.txnMgr.Rollback(t); rerr != nil {
			e.log.Warn("engine: implicit rollback failed", "error", rerr)
		}
		return nil, err
	}
	if err := e.txnMgr.Commit(t); err != nil {
		return nil, fmt.Errorf("engine: commit: %w", err)
	}
	return res, nil
}

func (e *Engine) beginExplicit() (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current != nil {
		return nil, errs.New(errs.ErrAlreadyActive, "a transaction is already active")
	}
	t, err := e.txnMgr.Begin()
	if err != nil {
		return nil, err
	}
	e.current = t
	return &Result{Message: "BEGIN"}, nil
}

func (e *Engine) commitExplicit() (*Result, error) {
	e.mu.Lock()
	t := e.current
	e.mu.Unlock()
	if t == nil {
		return nil, errs.New(errs.ErrNoActiveTxn, "no active transaction")
	}
	if err := e.txnMgr.Commit(t); err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.current = nil
	e.mu.Unlock()
	return &Result{Message: "COMMIT"}, nil
}

func (e *Engine) rollbackExplicit() (*Result, error) {
	e.mu.Lock()
	t := e.current
	e.mu.Unlock()
	if t == nil {
		return nil, errs.New(errs.ErrNoActiveTxn, "no active transaction")
	}
	if err := e.txnMgr.Rollback(t); err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.current = nil
	e.mu.Unlock()
	return &Result{Message: "ROLLBACK"}, nil
}
