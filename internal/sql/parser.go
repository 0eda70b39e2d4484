package sql

import (
	"math"
	"strconv"
	"strings"

	"relcore/internal/errs"
	"relcore/internal/types"
)

type Parser struct {
	lex  *Lexer
	cur  Token
	peek Token
}

func NewParser(src string) (*Parser, error) {
	p := &Parser{lex: NewLexer(src)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Parser) advance() error {
	p.cur = p.peek
	t, err := p.lex.Next()
	if err != nil {
		return parseErr(err.Error())
	}
	p.peek = t
	return nil
}

func parseErr(format string, args ...any) *errs.SQLError {
	return errs.New(errs.ErrParse, format, args...)
}

func (p *Parser) isKeyword(word string) bool {
	return p.cur.Kind == KEYWORD && p.cur.Value == word
}

func (p *Parser) expectKeyword(word string) error {
	if !p.isKeyword(word) {
		return parseErr("expected %s, got %q", word, p.cur.Value)
	}
	return p.advance()
}

func (p *Parser) expectIdent() (string, error) {
	if p.cur.Kind != IDENT {
		return "", parseErr("expected identifier, got %q", p.cur.Value)
	}
	name := p.cur.Value
	return name, p.advance()
}

func (p *Parser) expect(kind TokenKind) error {
	if p.cur.Kind != kind {
		return parseErr("expected %s, got %q", kind, p.cur.Value)
	}
	return p.advance()
}

// ParseStatement parses one statement, ignoring a single optional
// trailing semicolon.
func ParseStatement(src string) (Stmt, error) {
	p, err := NewParser(src)
	if err != nil {
		return nil, err
	}
	stmt, err := p.parseStmt()
	if err != nil {
		return nil, err
	}
	if p.cur.Kind == SEMICOLON {
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	if p.cur.Kind != EOF {
		return nil, parseErr("unexpected trailing input near %q", p.cur.Value)
	}
	return stmt, nil
}

func (p *Parser) parseStmt() (Stmt, error) {
	switch {
	case p.isKeyword("CREATE"):
		return p.parseCreateTable()
	case p.isKeyword("DROP"):
		return p.parseDropTable()
	case p.isKeyword("INSERT"):
		return p.parseInsert()
	case p.isKeyword("UPDATE"):
		return p.parseUpdate()
	case p.isKeyword("DELETE"):
		return p.parseDelete()
	case p.isKeyword("TRUNCATE"):
		return p.parseTruncate()
	case p.isKeyword("SELECT"):
		return p.parseSelect()
	case p.isKeyword("BEGIN"):
		return p.advanceReturn(&Begin{})
	case p.isKeyword("COMMIT"):
		return p.advanceReturn(&Commit{})
	case p.isKeyword("ROLLBACK"):
		return p.advanceReturn(&Rollback{})
	case p.isKeyword("EXPLAIN"):
		return p.parseExplain()
	default:
		return nil, parseErr("unrecognized statement starting at %q", p.cur.Value)
	}
}

func (p *Parser) advanceReturn(s Stmt) (Stmt, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	return s, nil
}

func (p *Parser) parseExplain() (Stmt, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	analyze := false
	if p.isKeyword("ANALYZE") {
		analyze = true
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	inner, err := p.parseStmt()
	if err != nil {
		return nil, err
	}
	return &Explain{Analyze: analyze, Stmt: inner}, nil
}

func (p *Parser) parseColumnType() (types.DataType, error) {
	if p.cur.Kind != KEYWORD {
		return types.TypeInvalid, parseErr("expected column type, got %q", p.cur.Value)
	}
	var t types.DataType
	switch p.cur.Value {
	case "UINT":
		t = types.TypeUInt
	case "INT":
		t = types.TypeInt
	case "FLOAT":
		t = types.TypeFloat
	case "BOOL":
		t = types.TypeBool
	case "TEXT":
		t = types.TypeText
	default:
		return types.TypeInvalid, parseErr("unknown column type %q", p.cur.Value)
	}
	return t, p.advance()
}

func (p *Parser) parseCreateTable() (Stmt, error) {
	if err := p.expectKeyword("CREATE"); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("TABLE"); err != nil {
		return nil, err
	}
	name, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expect(LPAREN); err != nil {
		return nil, err
	}

	var cols []ColumnDef
	uniqueSeen := false
	for {
		colName, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		colType, err := p.parseColumnType()
		if err != nil {
			return nil, err
		}
		col := ColumnDef{Name: colName, Type: colType, Nullable: true}
		for p.isKeyword("NOT") || p.isKeyword("UNIQUE") {
			if p.isKeyword("NOT") {
				if err := p.advance(); err != nil {
					return nil, err
				}
				if err := p.expectKeyword("NULL"); err != nil {
					return nil, err
				}
				col.Nullable = false
			} else {
				if err := p.advance(); err != nil {
					return nil, err
				}
				if !colType.Numeric() {
					return nil, errs.New(errs.ErrSchema, "Unique field must be of type uint, int, or float")
				}
				if uniqueSeen {
					return nil, errs.New(errs.ErrSchema, "at most one UNIQUE column is allowed")
				}
				uniqueSeen = true
				col.Unique = true
			}
		}
		cols = append(cols, col)
		if p.cur.Kind == COMMA {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if err := p.expect(RPAREN); err != nil {
		return nil, err
	}
	return &CreateTable{Name: name, Columns: cols}, nil
}

func (p *Parser) parseDropTable() (Stmt, error) {
	if err := p.expectKeyword("DROP"); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("TABLE"); err != nil {
		return nil, err
	}
	var names []string
	for {
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		names = append(names, name)
		if p.cur.Kind == COMMA {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	return &DropTable{Names: names}, nil
}

func (p *Parser) parseInsert() (Stmt, error) {
	if err := p.expectKeyword("INSERT"); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("INTO"); err != nil {
		return nil, err
	}
	table, err := p.expectIdent()
	if err != nil {
		return nil, err
	}

	var cols []string
	if p.cur.Kind == LPAREN {
		if err := p.advance(); err != nil {
			return nil, err
		}
		for {
			c, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			cols = append(cols, c)
			if p.cur.Kind == COMMA {
				if err := p.advance(); err != nil {
					return nil, err
				}
				continue
			}
			break
		}
		if err := p.expect(RPAREN); err != nil {
			return nil, err
		}
	}

	if err := p.expectKeyword("VALUES"); err != nil {
		return nil, err
	}

	var rows [][]Expr
	for {
		if err := p.expect(LPAREN); err != nil {
			return nil, err
		}
		var vals []Expr
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			vals = append(vals, e)
			if p.cur.Kind == COMMA {
				if err := p.advance(); err != nil {
					return nil, err
				}
				continue
			}
			break
		}
		if err := p.expect(RPAREN); err != nil {
			return nil, err
		}
		rows = append(rows, vals)
		if p.cur.Kind == COMMA {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	return &Insert{Table: table, Columns: cols, Rows: rows}, nil
}

func (p *Parser) parseUpdate() (Stmt, error) {
	if err := p.expectKeyword("UPDATE"); err != nil {
		return nil, err
	}
	table, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("SET"); err != nil {
		return nil, err
	}
	var assigns []Assignment
	for {
		col, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		if err := p.expect(EQUAL); err != nil {
			return nil, err
		}
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		assigns = append(assigns, Assignment{Column: col, Value: val})
		if p.cur.Kind == COMMA {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	var where Expr
	if p.isKeyword("WHERE") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		where, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
	}
	return &Update{Table: table, Set: assigns, Where: where}, nil
}

func (p *Parser) parseDelete() (Stmt, error) {
	if err := p.expectKeyword("DELETE"); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	table, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	var where Expr
	if p.isKeyword("WHERE") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		where, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
	}
	return &Delete{Table: table, Where: where}, nil
}

func (p *Parser) parseTruncate() (Stmt, error) {
	if err := p.expectKeyword("TRUNCATE"); err != nil {
		return nil, err
	}
	if p.isKeyword("TABLE") {
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	table, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	return &Truncate{Table: table}, nil
}

func (p *Parser) parseSelect() (*Select, error) {
	core, err := p.parseSelectCore()
	if err != nil {
		return nil, err
	}
	sel := &Select{Core: core}
	if p.isKeyword("UNION") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if !p.isKeyword("SELECT") {
			return nil, parseErr("expected SELECT after UNION")
		}
		next, err := p.parseSelect()
		if err != nil {
			return nil, err
		}
		sel.Union = next
	}
	return sel, nil
}

func (p *Parser) parseSelectCore() (SelectCore, error) {
	var core SelectCore
	if err := p.expectKeyword("SELECT"); err != nil {
		return core, err
	}

	for {
		if p.cur.Kind == ASTERISK {
			if err := p.advance(); err != nil {
				return core, err
			}
			core.Columns = append(core.Columns, SelectItem{Star: true})
		} else {
			e, err := p.parseExpr()
			if err != nil {
				return core, err
			}
			item := SelectItem{Expr: e}
			if p.isKeyword("AS") {
				if err := p.advance(); err != nil {
					return core, err
				}
				alias, err := p.expectIdent()
				if err != nil {
					return core, err
				}
				item.Alias = alias
			}
			core.Columns = append(core.Columns, item)
		}
		if p.cur.Kind == COMMA {
			if err := p.advance(); err != nil {
				return core, err
			}
			continue
		}
		break
	}

	if err := p.expectKeyword("FROM"); err != nil {
		return core, err
	}
	from, err := p.expectIdent()
	if err != nil {
		return core, err
	}
	core.From = from
	core.FromAs = from

	if p.isKeyword("JOIN") || p.isKeyword("INNER") {
		if p.isKeyword("INNER") {
			if err := p.advance(); err != nil {
				return core, err
			}
		}
		if err := p.expectKeyword("JOIN"); err != nil {
			return core, err
		}
		joinTable, err := p.expectIdent()
		if err != nil {
			return core, err
		}
		if err := p.expectKeyword("ON"); err != nil {
			return core, err
		}
		onExpr, err := p.parseExpr()
		if err != nil {
			return core, err
		}
		core.Join = &JoinClause{Table: joinTable, As: joinTable, Inner: true, On: onExpr}
	}

	if p.isKeyword("PREWHERE") {
		if err := p.advance(); err != nil {
			return core, err
		}
		core.PreWhere, err = p.parseExpr()
		if err != nil {
			return core, err
		}
	}
	if p.isKeyword("WHERE") {
		if err := p.advance(); err != nil {
			return core, err
		}
		core.Where, err = p.parseExpr()
		if err != nil {
			return core, err
		}
	}

	if p.isKeyword("LIMIT") {
		if err := p.advance(); err != nil {
			return core, err
		}
		first, err := p.parseSignedInt()
		if err != nil {
			return core, err
		}
		if p.cur.Kind == COMMA {
			if err := p.advance(); err != nil {
				return core, err
			}
			second, err := p.parseSignedInt()
			if err != nil {
				return core, err
			}
			// LIMIT m, n
			core.Offset = &first
			core.Limit = &second
		} else if p.isKeyword("OFFSET") {
			if err := p.advance(); err != nil {
				return core, err
			}
			off, err := p.parseSignedInt()
			if err != nil {
				return core, err
			}
			core.Limit = &first
			core.Offset = &off
		} else {
			core.Limit = &first
		}
		if err := checkNonNegative(*core.Limit, "LIMIT"); err != nil {
			return core, err
		}
		if core.Offset != nil {
			if err := checkNonNegative(*core.Offset, "OFFSET"); err != nil {
				return core, err
			}
		}
	} else if p.isKeyword("OFFSET") {
		return core, errs.New(errs.ErrSemantics, "OFFSET without LIMIT")
	}

	return core, nil
}

func checkNonNegative(n int64, what string) error {
	if n < 0 {
		return errs.New(errs.ErrSemantics, "Expected %s to be an unsigned integer, but got %d", what, n)
	}
	return nil
}

func (p *Parser) parseSignedInt() (int64, error) {
	neg := false
	if p.cur.Kind == MINUS {
		neg = true
		if err := p.advance(); err != nil {
			return 0, err
		}
	}
	if p.cur.Kind != NUMBER {
		return 0, parseErr("expected integer, got %q", p.cur.Value)
	}
	n, err := strconv.ParseInt(p.cur.Value, 10, 64)
	if err != nil {
		return 0, parseErr("expected integer, got %q", p.cur.Value)
	}
	if err := p.advance(); err != nil {
		return 0, err
	}
	if neg {
		n = -n
	}
	return n, nil
}

// Expression grammar, lowest to highest precedence:
// OR < AND < comparison/BETWEEN/IS < unary < primary.

func (p *Parser) parseExpr() (Expr, error) { return p.parseOr() }

func (p *Parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("OR") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: "OR", Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseAnd() (Expr, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("AND") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: "AND", Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseComparison() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	if p.isKeyword("BETWEEN") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		low, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("AND"); err != nil {
			return nil, err
		}
		high, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Between{Expr: left, Low: low, High: high}, nil
	}

	if p.isKeyword("IS") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		not := false
		if p.isKeyword("NOT") {
			not = true
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
		if err := p.expectKeyword("NULL"); err != nil {
			return nil, err
		}
		return &IsNull{Expr: left, Not: not}, nil
	}

	var op string
	switch p.cur.Kind {
	case EQUAL:
		op = "="
	case NOTEQUAL:
		op = "!="
	case LT:
		op = "<"
	case LTE:
		op = "<="
	case GT:
		op = ">"
	case GTE:
		op = ">="
	default:
		return left, nil
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	right, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	return &Binary{Op: op, Left: left, Right: right}, nil
}

func (p *Parser) parseUnary() (Expr, error) {
	if p.isKeyword("NOT") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		e, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Unary{Op: "NOT", Expr: e}, nil
	}
	if p.cur.Kind == MINUS {
		if err := p.advance(); err != nil {
			return nil, err
		}
		e, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Unary{Op: "-", Expr: e}, nil
	}
	return p.parsePrimary()
}

func (p *Parser) parsePrimary() (Expr, error) {
	switch p.cur.Kind {
	case LPAREN:
		if err := p.advance(); err != nil {
			return nil, err
		}
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(RPAREN); err != nil {
			return nil, err
		}
		return e, nil
	case NUMBER:
		return p.parseNumberLiteral()
	case STRING:
		v := p.cur.Value
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &Literal{Value: types.TextValue(v), Raw: v}, nil
	case KEYWORD:
		switch p.cur.Value {
		case "NULL":
			if err := p.advance(); err != nil {
				return nil, err
			}
			return &Literal{Value: types.NullValue(types.TypeInvalid), Raw: "null"}, nil
		case "TRUE", "FALSE":
			raw := p.cur.Value
			b := raw == "TRUE"
			if err := p.advance(); err != nil {
				return nil, err
			}
			return &Literal{Value: types.BoolValue(b), Raw: raw}, nil
		}
		return nil, parseErr("unexpected keyword %q in expression", p.cur.Value)
	case IDENT:
		first := p.cur.Value
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.cur.Kind == DOT {
			if err := p.advance(); err != nil {
				return nil, err
			}
			col, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			return &ColumnRef{Table: first, Column: col}, nil
		}
		return &ColumnRef{Column: first}, nil
	default:
		return nil, parseErr("unexpected token %q in expression", p.cur.Value)
	}
}

// parseNumberLiteral infers Int unless the text carries a fractional
// part, in which case it's Float. Unsuffixed integer literals that
// don't fit either signed or unsigned 64 bits are a parse-time error
// mirroring spec.md §6's "Failed to parse <n> as UInt" message; the
// exact target type (Int vs UInt vs Float) is refined later against
// column type during INSERT/UPDATE binding.
func (p *Parser) parseNumberLiteral() (Expr, error) {
	raw := p.cur.Value
	if err := p.advance(); err != nil {
		return nil, err
	}
	if strings.Contains(raw, ".") {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsInf(f, 0) {
			return nil, errs.New(errs.ErrSemantics, "Failed to parse %s as Float: number too large to fit in target type", raw)
		}
		return &Literal{Value: types.FloatValue(f), Raw: raw}, nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return &Literal{Value: types.IntValue(i), Raw: raw}, nil
	}
	if u, err := strconv.ParseUint(raw, 10, 64); err == nil {
		return &Literal{Value: types.UIntValue(u), Raw: raw}, nil
	}
	return nil, errs.New(errs.ErrSemantics, "Failed to parse %s as UInt: number too large to fit in target type", raw)
}
