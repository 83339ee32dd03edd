package vectorstore

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Expr is a parsed filter-expression node.
type Expr interface {
	isExpr()
}

// AnyPred matches rows whose string field is one of the listed values.
// Written `field:ANY("a","b")`.
type AnyPred struct {
	Field  string
	Values []string
}

// RangePred matches rows whose numeric field lies in a range. Written
// `field:IN(lo,hi)`; either bound may be `*` (unbounded) and a bound may
// carry an `e` (exclusive) or `i` (inclusive, the default) suffix.
type RangePred struct {
	Field       string
	Lo, Hi      float64
	HasLo       bool
	HasHi       bool
	LoExclusive bool
	HiExclusive bool
}

// CmpPred is a single numeric comparison, written `field <op> number`.
type CmpPred struct {
	Field string
	Op    string // "<", "<=", ">=", ">", "="
	Value float64
}

// BoolExpr combines two subexpressions. AND and OR share one precedence
// level and associate left to right; grouping requires parentheses.
type BoolExpr struct {
	Op          string // "AND" or "OR"
	Left, Right Expr
}

// NotExpr negates its inner expression. Written prefix `NOT` or `-`.
type NotExpr struct {
	Inner Expr
}

func (AnyPred) isExpr()   {}
func (RangePred) isExpr() {}
func (CmpPred) isExpr()   {}
func (BoolExpr) isExpr()  {}
func (NotExpr) isExpr()   {}

// ParseFilter parses a filter string into an expression tree.
func ParseFilter(input string) (Expr, error) {
	toks, err := lexFilter(input)
	if err != nil {
		return nil, err
	}
	p := &filterParser{toks: toks}
	expr, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if !p.atEnd() {
		return nil, fmt.Errorf("unexpected %q after expression", p.peek().text)
	}
	return expr, nil
}

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokString
	tokNumber
	tokOp     // comparison operators
	tokColon
	tokLParen
	tokRParen
	tokComma
	tokStar
	tokMinus
)

type token struct {
	kind tokenKind
	text string
}

func lexFilter(input string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(input) {
		c := input[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n':
			i++
		case c == ':':
			toks = append(toks, token{tokColon, ":"})
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "("})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")"})
			i++
		case c == ',':
			toks = append(toks, token{tokComma, ","})
			i++
		case c == '*':
			toks = append(toks, token{tokStar, "*"})
			i++
		case c == '-':
			toks = append(toks, token{tokMinus, "-"})
			i++
		case c == '<' || c == '>':
			op := string(c)
			if i+1 < len(input) && input[i+1] == '=' {
				op += "="
				i++
			}
			toks = append(toks, token{tokOp, op})
			i++
		case c == '=':
			toks = append(toks, token{tokOp, "="})
			i++
		case c == '"':
			end := strings.IndexByte(input[i+1:], '"')
			if end < 0 {
				return nil, fmt.Errorf("unterminated string at offset %d", i)
			}
			toks = append(toks, token{tokString, input[i+1 : i+1+end]})
			i += end + 2
		case c >= '0' && c <= '9':
			j := i
			for j < len(input) && (input[j] >= '0' && input[j] <= '9' || input[j] == '.') {
				j++
			}
			// A trailing exclusivity suffix sticks to the number.
			if j < len(input) && (input[j] == 'e' || input[j] == 'i') {
				j++
			}
			toks = append(toks, token{tokNumber, input[i:j]})
			i = j
		case unicode.IsLetter(rune(c)) || c == '_':
			j := i
			for j < len(input) && (unicode.IsLetter(rune(input[j])) || unicode.IsDigit(rune(input[j])) || input[j] == '_') {
				j++
			}
			toks = append(toks, token{tokIdent, input[i:j]})
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q at offset %d", c, i)
		}
	}
	return toks, nil
}

type filterParser struct {
	toks []token
	pos  int
}

func (p *filterParser) atEnd() bool { return p.pos >= len(p.toks) }

func (p *filterParser) peek() token {
	if p.atEnd() {
		return token{}
	}
	return p.toks[p.pos]
}

func (p *filterParser) next() token {
	t := p.peek()
	p.pos++
	return t
}

func (p *filterParser) expect(kind tokenKind, what string) (token, error) {
	if p.atEnd() || p.peek().kind != kind {
		return token{}, fmt.Errorf("expected %s, got %q", what, p.peek().text)
	}
	return p.next(), nil
}

// parseExpr handles the infix chain. AND and OR bind identically and group
// left to right; `a AND b OR c` means `(a AND b) OR c`.
func (p *filterParser) parseExpr() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for !p.atEnd() {
		t := p.peek()
		if t.kind != tokIdent || (t.text != "AND" && t.text != "OR") {
			break
		}
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = BoolExpr{Op: t.text, Left: left, Right: right}
	}
	return left, nil
}

func (p *filterParser) parseUnary() (Expr, error) {
	t := p.peek()
	if t.kind == tokMinus || (t.kind == tokIdent && t.text == "NOT") {
		p.next()
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return NotExpr{Inner: inner}, nil
	}
	return p.parsePrimary()
}

func (p *filterParser) parsePrimary() (Expr, error) {
	if p.peek().kind == tokLParen {
		p.next()
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, "closing parenthesis"); err != nil {
			return nil, err
		}
		return expr, nil
	}
	return p.parsePredicate()
}

func (p *filterParser) parsePredicate() (Expr, error) {
	field, err := p.expect(tokIdent, "field name")
	if err != nil {
		return nil, err
	}

	switch p.peek().kind {
	case tokColon:
		p.next()
		fn, err := p.expect(tokIdent, "ANY or IN")
		if err != nil {
			return nil, err
		}
		switch fn.text {
		case "ANY":
			return p.parseAny(field.text)
		case "IN":
			return p.parseRange(field.text)
		default:
			return nil, fmt.Errorf("unknown predicate %q on field %s", fn.text, field.text)
		}
	case tokOp:
		op := p.next().text
		num, err := p.expect(tokNumber, "number")
		if err != nil {
			return nil, err
		}
		v, err := strconv.ParseFloat(num.text, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing number %q: %w", num.text, err)
		}
		return CmpPred{Field: field.text, Op: op, Value: v}, nil
	default:
		return nil, fmt.Errorf("expected ':' or comparison operator after field %s", field.text)
	}
}

func (p *filterParser) parseAny(field string) (Expr, error) {
	if _, err := p.expect(tokLParen, "opening parenthesis"); err != nil {
		return nil, err
	}
	var values []string
	for {
		t := p.next()
		switch t.kind {
		case tokString, tokIdent, tokNumber:
			values = append(values, t.text)
		default:
			return nil, fmt.Errorf("expected literal in ANY(...), got %q", t.text)
		}
		sep := p.next()
		if sep.kind == tokRParen {
			return AnyPred{Field: field, Values: values}, nil
		}
		if sep.kind != tokComma {
			return nil, fmt.Errorf("expected ',' or ')' in ANY(...), got %q", sep.text)
		}
	}
}

// parseRange handles `field:IN(lo,hi)`. A `*` bound is unbounded; a number
// may carry an `e` or `i` suffix marking the bound exclusive or inclusive.
func (p *filterParser) parseRange(field string) (Expr, error) {
	if _, err := p.expect(tokLParen, "opening parenthesis"); err != nil {
		return nil, err
	}

	r := RangePred{Field: field}
	var err error
	if r.Lo, r.HasLo, r.LoExclusive, err = p.parseBound(); err != nil {
		return nil, err
	}
	if _, err := p.expect(tokComma, "comma between range bounds"); err != nil {
		return nil, err
	}
	if r.Hi, r.HasHi, r.HiExclusive, err = p.parseBound(); err != nil {
		return nil, err
	}
	if _, err := p.expect(tokRParen, "closing parenthesis"); err != nil {
		return nil, err
	}
	if !r.HasLo && !r.HasHi {
		return nil, fmt.Errorf("range on field %s has no bounds", field)
	}
	return r, nil
}

func (p *filterParser) parseBound() (value float64, set, exclusive bool, err error) {
	t := p.next()
	switch t.kind {
	case tokStar:
		return 0, false, false, nil
	case tokNumber:
		text := t.text
		if n := len(text); n > 0 && (text[n-1] == 'e' || text[n-1] == 'i') {
			exclusive = text[n-1] == 'e'
			text = text[:n-1]
		}
		v, perr := strconv.ParseFloat(text, 64)
		if perr != nil {
			return 0, false, false, fmt.Errorf("parsing range bound %q: %w", t.text, perr)
		}
		return v, true, exclusive, nil
	default:
		return 0, false, false, fmt.Errorf("expected number or '*' as range bound, got %q", t.text)
	}
}
