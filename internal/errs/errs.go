// Package errs defines the sentinel error kinds spec'd in the error
// taxonomy, plus SQLError for carrying the exact user-visible message
// text the engine must reproduce.
package errs

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Check with errors.Is.
var (
	ErrTableNotFound   = errors.New("table not found")
	ErrTableExists     = errors.New("table already exists")
	ErrColumnNotFound  = errors.New("column not found")
	ErrAmbiguousColumn = errors.New("ambiguous column")
	ErrTypeMismatch    = errors.New("type mismatch")
	ErrNotNull         = errors.New("null not allowed")
	ErrDuplicate       = errors.New("duplicate value")
	ErrInvalidKey      = errors.New("invalid key")
	ErrAlreadyActive   = errors.New("transaction already active")
	ErrNoActiveTxn     = errors.New("no active transaction")
	ErrOutOfFrames     = errors.New("out of frames")
	ErrCorrupt         = errors.New("page corruption")
	ErrInvariant       = errors.New("internal invariant violation")
)

// Top-level error-taxonomy categories (spec.md §7). A SQLError matches
// one of these via errors.Is only when it was built with the category
// itself as its Kind; the specific sentinel kinds above are standalone
// values and do not unwrap to a category.
var (
	ErrParse       = errors.New("parse error")
	ErrSchema      = errors.New("schema error")
	ErrConstraint  = errors.New("constraint violation")
	ErrSemantics   = errors.New("semantic error")
	ErrTransaction = errors.New("transaction error")
	ErrStorage     = errors.New("storage error")
	ErrInternal    = errors.New("internal error")
)

// SQLError wraps a sentinel kind with the exact message text spec.md §6
// requires to be reproduced bit-for-bit for user-facing display.
type SQLError struct {
	Kind error
	Msg  string
}

func (e *SQLError) Error() string { return e.Msg }

func (e *SQLError) Unwrap() error { return e.Kind }

func New(kind error, format string, args ...any) *SQLError {
	return &SQLError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}
