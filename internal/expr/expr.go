package expr

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Expr はパース済みのフィルタ式
type Expr interface {
	// Match は行が条件を満たすかを返す。存在しないフィールドとの比較は偽
	Match(row map[string]any) bool
	String() string
	fields(set map[string]struct{})
}

// Operand は比較の片側（フィールド参照またはリテラル）
type Operand struct {
	Field string
	Value any
}

// IsField はフィールド参照かを返す
func (o Operand) IsField() bool {
	return o.Field != ""
}

func (o Operand) resolve(row map[string]any) (any, bool) {
	if o.IsField() {
		v, ok := row[o.Field]
		return v, ok
	}
	return o.Value, true
}

func (o Operand) String() string {
	if o.IsField() {
		return o.Field
	}
	return literal(o.Value)
}

// All は常に真となる式（空の式）
type All struct{}

func (All) Match(map[string]any) bool { return true }
func (All) String() string            { return "" }
func (All) fields(map[string]struct{}) {}

// And は論理積
type And struct{ L, R Expr }

func (e And) Match(row map[string]any) bool { return e.L.Match(row) && e.R.Match(row) }
func (e And) String() string                { return "(" + e.L.String() + " && " + e.R.String() + ")" }
func (e And) fields(s map[string]struct{}) {
	e.L.fields(s)
	e.R.fields(s)
}

// Or は論理和
type Or struct{ L, R Expr }

func (e Or) Match(row map[string]any) bool { return e.L.Match(row) || e.R.Match(row) }
func (e Or) String() string                { return "(" + e.L.String() + " || " + e.R.String() + ")" }
func (e Or) fields(s map[string]struct{}) {
	e.L.fields(s)
	e.R.fields(s)
}

// Not は否定
type Not struct{ X Expr }

func (e Not) Match(row map[string]any) bool { return !e.X.Match(row) }
func (e Not) String() string                { return "not " + e.X.String() }
func (e Not) fields(s map[string]struct{})  { e.X.fields(s) }

// Compare は二項比較
type Compare struct {
	Left  Operand
	Op    string
	Right Operand
}

func (e Compare) Match(row map[string]any) bool {
	l, ok := e.Left.resolve(row)
	if !ok {
		return false
	}
	r, ok := e.Right.resolve(row)
	if !ok {
		return false
	}
	return compare(l, e.Op, r)
}

func (e Compare) String() string {
	return e.Left.String() + " " + e.Op + " " + e.Right.String()
}

func (e Compare) fields(s map[string]struct{}) {
	if e.Left.IsField() {
		s[e.Left.Field] = struct{}{}
	}
	if e.Right.IsField() {
		s[e.Right.Field] = struct{}{}
	}
}

// In はリスト包含（Negate で not in）
type In struct {
	Field  string
	Values []any
	Negate bool
}

func (e In) Match(row map[string]any) bool {
	v, ok := row[e.Field]
	if !ok {
		return false
	}
	found := false
	for _, want := range e.Values {
		if compare(v, "==", want) {
			found = true
			break
		}
	}
	return found != e.Negate
}

func (e In) String() string {
	parts := make([]string, len(e.Values))
	for i, v := range e.Values {
		parts[i] = literal(v)
	}
	op := " in "
	if e.Negate {
		op = " not in "
	}
	return e.Field + op + "[" + strings.Join(parts, ", ") + "]"
}

func (e In) fields(s map[string]struct{}) { s[e.Field] = struct{}{} }

// Like はSQL風のパターンマッチ（% は任意長、_ は1文字）
type Like struct {
	Field   string
	Pattern string
	Negate  bool
	re      *regexp.Regexp
}

func (e Like) Match(row map[string]any) bool {
	v, ok := row[e.Field]
	if !ok {
		return false
	}
	s, ok := v.(string)
	if !ok {
		return false
	}
	return e.re.MatchString(s) != e.Negate
}

func (e Like) String() string {
	op := " like "
	if e.Negate {
		op = " not like "
	}
	return e.Field + op + strconv.Quote(e.Pattern)
}

func (e Like) fields(s map[string]struct{}) { s[e.Field] = struct{}{} }

func likeRegexp(pattern string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String())
}

// Fields は式が参照するフィールド名をソートして返す
func Fields(e Expr) []string {
	set := make(map[string]struct{})
	e.fields(set)
	out := make([]string, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// MustParse はParseに失敗したらpanicする（テスト・プリセット用）
func MustParse(src string) Expr {
	e, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return e
}

// compare は型をそろえて比較する
// 数値同士は数値として、文字列同士は辞書順、boolは等値のみ。型が合わなければ == は偽
func compare(l any, op string, r any) bool {
	if li, ok := integer(l); ok {
		if ri, ok := integer(r); ok {
			return ordered(cmpInt(li, ri), op)
		}
	}
	if lf, ok := number(l); ok {
		if rf, ok := number(r); ok {
			return ordered(cmpFloat(lf, rf), op)
		}
		return op == "!="
	}
	if ls, ok := l.(string); ok {
		if rs, ok := r.(string); ok {
			return ordered(strings.Compare(ls, rs), op)
		}
		return op == "!="
	}
	if lb, ok := l.(bool); ok {
		if rb, ok := r.(bool); ok {
			switch op {
			case "==":
				return lb == rb
			case "!=":
				return lb != rb
			}
		}
		return op == "!="
	}
	return false
}

func ordered(c int, op string) bool {
	switch op {
	case "==":
		return c == 0
	case "!=":
		return c != 0
	case "<":
		return c < 0
	case "<=":
		return c <= 0
	case ">":
		return c > 0
	case ">=":
		return c >= 0
	}
	return false
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// integer は整数型をint64にそろえる（2^53を超える主キーを正確に比較するため）
func integer(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint32:
		return int64(n), true
	}
	return 0, false
}

// number は数値型をfloat64にそろえる
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case interface{ Float64() (float64, error) }:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func literal(v any) string {
	switch x := v.(type) {
	case string:
		return strconv.Quote(x)
	case nil:
		return "null"
	}
	return fmt.Sprint(v)
}
