package sql

import "relcore/internal/types"

// Stmt is any parsed statement. The engine switches on concrete type.
type Stmt interface{}

type ColumnDef struct {
	Name     string
	Type     types.DataType
	Nullable bool
	Unique   bool
}

type CreateTable struct {
	Name    string
	Columns []ColumnDef
}

type DropTable struct {
	Names []string
}

type Insert struct {
	Table   string
	Columns []string // nil means "all columns, in schema order"
	Rows    [][]Expr
}

type Assignment struct {
	Column string
	Value  Expr
}

type Update struct {
	Table string
	Set   []Assignment
	Where Expr
}

type Delete struct {
	Table string
	Where Expr
}

type Truncate struct {
	Table string
}

type SelectCore struct {
	Columns  []SelectItem
	From     string
	FromAs   string
	Join     *JoinClause
	PreWhere Expr
	Where    Expr
	Limit    *int64
	Offset   *int64
}

type Select struct {
	Core  SelectCore
	Union *Select // non-nil when this is "... UNION SELECT ..."
}

type SelectItem struct {
	Expr  Expr
	Alias string
	Star  bool
}

type JoinClause struct {
	Table string
	As    string
	Inner bool
	On    Expr
}

type Begin struct{}
type Commit struct{}
type Rollback struct{}

type Explain struct {
	Analyze bool
	Stmt    Stmt
}

// Expr is a scalar expression: column reference, literal, unary
// negation, binary comparison/logical op, BETWEEN, or IS [NOT] NULL.
type Expr interface{}

type ColumnRef struct {
	Table  string // "" if unqualified
	Column string
}

type Literal struct {
	Value types.Value
	// Raw preserves the input text for literals parsed with an
	// inferred numeric type, so an overflow error can quote it
	// verbatim (spec.md §6: "Failed to parse <n> as UInt...").
	Raw string
}

type Unary struct {
	Op   string // "-", "NOT"
	Expr Expr
}

type Binary struct {
	Op    string // "=", "!=", "<", "<=", ">", ">=", "AND", "OR"
	Left  Expr
	Right Expr
}

type Between struct {
	Expr Expr
	Low  Expr
	High Expr
}

type IsNull struct {
	Expr Expr
	Not  bool
}
