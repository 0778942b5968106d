package expr

import (
	"fmt"
	"strings"
)

// Placeholder はn番目（1始まり）のバインド変数の表記を返す
type Placeholder func(n int) string

var (
	// Question は ? 形式（SQLite, MySQL）
	Question Placeholder = func(int) string { return "?" }
	// Dollar は $1 形式（PostgreSQL）
	Dollar Placeholder = func(n int) string { return fmt.Sprintf("$%d", n) }
)

// ToSQL は式をWHERE句の条件とバインド引数に変換する
// フィールド名はパーサが識別子として検証済みなのでそのまま埋め込む
func ToSQL(e Expr, ph Placeholder) (string, []any) {
	w := &sqlWriter{ph: ph}
	w.write(e)
	return w.b.String(), w.args
}

type sqlWriter struct {
	b    strings.Builder
	args []any
	ph   Placeholder
}

func (w *sqlWriter) bind(v any) {
	w.args = append(w.args, v)
	w.b.WriteString(w.ph(len(w.args)))
}

func (w *sqlWriter) operand(o Operand) {
	if o.IsField() {
		w.b.WriteString(o.Field)
		return
	}
	w.bind(o.Value)
}

func (w *sqlWriter) write(e Expr) {
	switch x := e.(type) {
	case All:
		w.b.WriteString("1=1")
	case And:
		w.b.WriteString("(")
		w.write(x.L)
		w.b.WriteString(" AND ")
		w.write(x.R)
		w.b.WriteString(")")
	case Or:
		w.b.WriteString("(")
		w.write(x.L)
		w.b.WriteString(" OR ")
		w.write(x.R)
		w.b.WriteString(")")
	case Not:
		w.b.WriteString("NOT (")
		w.write(x.X)
		w.b.WriteString(")")
	case Compare:
		op := x.Op
		if op == "==" {
			op = "="
		} else if op == "!=" {
			op = "<>"
		}
		w.operand(x.Left)
		w.b.WriteString(" " + op + " ")
		w.operand(x.Right)
	case In:
		if len(x.Values) == 0 {
			// 空リストは常に偽（not in なら常に真）
			if x.Negate {
				w.b.WriteString("1=1")
			} else {
				w.b.WriteString("1=0")
			}
			return
		}
		w.b.WriteString(x.Field)
		if x.Negate {
			w.b.WriteString(" NOT IN (")
		} else {
			w.b.WriteString(" IN (")
		}
		for i, v := range x.Values {
			if i > 0 {
				w.b.WriteString(", ")
			}
			w.bind(v)
		}
		w.b.WriteString(")")
	case Like:
		w.b.WriteString(x.Field)
		if x.Negate {
			w.b.WriteString(" NOT LIKE ")
		} else {
			w.b.WriteString(" LIKE ")
		}
		w.bind(x.Pattern)
	default:
		panic(fmt.Sprintf("expr: unknown node %T", e))
	}
}
