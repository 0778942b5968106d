package expr

import (
	"fmt"
	"strconv"
	"strings"
)

// Parse はフィルタ式をパースする。空文字列は全件一致（All）になる
//
//	expr    := or
//	or      := and (("||" | "or") and)*
//	and     := unary (("&&" | "and") unary)*
//	unary   := ("not" | "!") unary | "(" expr ")" | cond
//	cond    := ident ["not"] "in" list | ident ["not"] "like" string
//	         | operand cmp operand [cmp operand]
func Parse(src string) (Expr, error) {
	if strings.TrimSpace(src) == "" {
		return All{}, nil
	}
	toks, err := lex(src)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", src, err)
	}
	p := &parser{toks: toks}
	e, err := p.parseOr()
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", src, err)
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, fmt.Errorf("parse %q: unexpected %q at %d", src, t.text, t.pos)
	}
	return e, nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	t := p.next()
	if t.kind != kind {
		return t, fmt.Errorf("expected %s at %d, got %q", what, t.pos, t.text)
	}
	return t, nil
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = Or{L: left, R: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAnd {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = And{L: left, R: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Expr, error) {
	switch p.peek().kind {
	case tokNot:
		p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return Not{X: x}, nil
	case tokLParen:
		p.next()
		e, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		return e, nil
	}
	return p.parseCond()
}

func (p *parser) parseCond() (Expr, error) {
	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	// field [not] in / like
	negate := false
	if p.peek().kind == tokNot && left.IsField() {
		p.next()
		negate = true
		if k := p.peek().kind; k != tokIn && k != tokLike {
			return nil, fmt.Errorf("expected 'in' or 'like' after 'not' at %d", p.peek().pos)
		}
	}
	switch p.peek().kind {
	case tokIn:
		if !left.IsField() {
			return nil, fmt.Errorf("'in' requires a field on the left at %d", p.peek().pos)
		}
		p.next()
		values, err := p.parseList()
		if err != nil {
			return nil, err
		}
		return In{Field: left.Field, Values: values, Negate: negate}, nil
	case tokLike:
		if !left.IsField() {
			return nil, fmt.Errorf("'like' requires a field on the left at %d", p.peek().pos)
		}
		p.next()
		t, err := p.expect(tokString, "pattern string")
		if err != nil {
			return nil, err
		}
		return Like{Field: left.Field, Pattern: t.text, Negate: negate, re: likeRegexp(t.text)}, nil
	}

	op, err := p.expect(tokOp, "comparison operator")
	if err != nil {
		return nil, err
	}
	mid, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	first := Compare{Left: left, Op: op.text, Right: mid}

	// 0 <= pk < 100 のような連鎖比較
	if p.peek().kind != tokOp {
		return first, nil
	}
	if !mid.IsField() {
		return nil, fmt.Errorf("chained comparison needs a field in the middle at %d", p.peek().pos)
	}
	op2 := p.next()
	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	return And{L: first, R: Compare{Left: mid, Op: op2.text, Right: right}}, nil
}

func (p *parser) parseOperand() (Operand, error) {
	t := p.next()
	switch t.kind {
	case tokIdent:
		return Operand{Field: t.text}, nil
	case tokNumber, tokString, tokBool:
		v, err := value(t)
		if err != nil {
			return Operand{}, err
		}
		return Operand{Value: v}, nil
	}
	return Operand{}, fmt.Errorf("expected field or literal at %d, got %q", t.pos, t.text)
}

func (p *parser) parseList() ([]any, error) {
	if _, err := p.expect(tokLBracket, "'['"); err != nil {
		return nil, err
	}
	var values []any
	if p.peek().kind == tokRBracket {
		p.next()
		return values, nil
	}
	for {
		t := p.next()
		v, err := value(t)
		if err != nil {
			return nil, err
		}
		values = append(values, v)

		t = p.next()
		switch t.kind {
		case tokComma:
			continue
		case tokRBracket:
			return values, nil
		}
		return nil, fmt.Errorf("expected ',' or ']' at %d, got %q", t.pos, t.text)
	}
}

// value はリテラルトークンを値に変換する。整数はint64、それ以外の数値はfloat64
func value(t token) (any, error) {
	switch t.kind {
	case tokNumber:
		if i, err := strconv.ParseInt(t.text, 10, 64); err == nil {
			return i, nil
		}
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q at %d", t.text, t.pos)
		}
		return f, nil
	case tokString:
		return t.text, nil
	case tokBool:
		return t.text == "true", nil
	}
	return nil, fmt.Errorf("expected literal at %d, got %q", t.pos, t.text)
}
