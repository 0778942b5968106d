package workload

import (
	"fmt"

	"loadcheck/internal/expr"
)

// scopeField は主キーだけから値が決まるフィールド
const scopeField = "str1"

// ParseScope は期待件数を数える対象を決めるフィルタ式を解析する
// 参照できるのは主キーと主キー由来の str1 だけ。空の式は全キーが対象
func ParseScope(filter, primaryKey string) (func(int64) bool, error) {
	if primaryKey == "" {
		primaryKey = "pk"
	}
	e, err := expr.Parse(filter)
	if err != nil {
		return nil, err
	}
	if _, all := e.(expr.All); all {
		return nil, nil
	}
	for _, f := range expr.Fields(e) {
		if f != primaryKey && f != scopeField {
			return nil, fmt.Errorf("check expression %q references %q; only %s and %s are tracked per key",
				filter, f, primaryKey, scopeField)
		}
	}
	return func(k int64) bool {
		return e.Match(map[string]any{
			primaryKey: k,
			scopeField: str1(k),
		})
	}, nil
}
