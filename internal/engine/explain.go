package engine

import (
	"fmt"
	"strings"

	"relcore/internal/sql"
)

// explain renders s.Stmt's logical plan as text, and for EXPLAIN
// ANALYZE also runs it and appends the number of rows the statement as
// a whole produced (spec.md §6); per-stage counts are not reported.
func (e *Engine) explain(s *sql.Explain) (*Result, error) {
	plan := describePlan(s.Stmt)
	if !s.Analyze {
		return &Result{Plan: plan}, nil
	}

	res, err := e.run(s.Stmt)
	if err != nil {
		return nil, err
	}
	rows := 0
	if res != nil {
		rows = len(res.Rows)
	}
	return &Result{Plan: fmt.Sprintf("%s\n-> produced %d row(s)", plan, rows)}, nil
}

func describePlan(stmt sql.Stmt) string {
	switch s := stmt.(type) {
	case *sql.Select:
		return describeSelect(&s.Core, s.Union != nil)
	case *sql.Insert:
		return fmt.Sprintf("Insert into %s (%d row(s))", s.Table, len(s.Rows))
	case *sql.Update:
		return fmt.Sprintf("Update %s%s", s.Table, whereSuffix(s.Where))
	case *sql.Delete:
		return fmt.Sprintf("Delete from %s%s", s.Table, whereSuffix(s.Where))
	case *sql.Truncate:
		return fmt.Sprintf("Truncate %s", s.Table)
	case *sql.CreateTable:
		return fmt.Sprintf("Create table %s (%d column(s))", s.Name, len(s.Columns))
	case *sql.DropTable:
		return fmt.Sprintf("Drop table(s) %s", strings.Join(s.Names, ", "))
	case *sql.Begin:
		return "Begin"
	case *sql.Commit:
		return "Commit"
	case *sql.Rollback:
		return "Rollback"
	default:
		return fmt.Sprintf("%T", stmt)
	}
}

func describeSelect(core *sql.SelectCore, union bool) string {
	var b strings.Builder
	if core.Join != nil {
		joinKind := "Join"
		if core.Join.Inner {
			joinKind = "Inner join"
		}
		fmt.Fprintf(&b, "%s of %s and %s on condition", joinKind, core.From, core.Join.Table)
	} else if core.PreWhere != nil {
		fmt.Fprintf(&b, "Index range scan of %s (prewhere-driven)", core.From)
	} else {
		fmt.Fprintf(&b, "Sequential scan of %s", core.From)
	}
	if core.Where != nil {
		b.WriteString(", filter by where clause")
	}
	if core.Limit != nil {
		off := int64(0)
		if core.Offset != nil {
			off = *core.Offset
		}
		fmt.Fprintf(&b, ", limit %d offset %d", *core.Limit, off)
	}
	if union {
		b.WriteString(", unioned with next select")
	}
	return b.String()
}

func whereSuffix(where sql.Expr) string {
	if where == nil {
		return ""
	}
	return " where <predicate>"
}
