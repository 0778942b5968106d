package sqlgw

import (
	"fmt"
	"strings"

	"loadcheck/internal/expr"
)

// dialect はSQL方言ごとの差分
type dialect struct {
	driver      string
	placeholder expr.Placeholder
	// upsert は主キー衝突時に更新する INSERT 文を組み立てる
	upsert func(table, pk string, cols []string) string
	// createTable はベンチマーク用テーブルのDDLを返す
	createTable func(table, pk string) string
	maxConns    int
}

var dialects = map[string]dialect{
	"sqlite": {
		driver:      "sqlite",
		placeholder: expr.Question,
		upsert:      onConflict(expr.Question, "excluded"),
		createTable: func(table, pk string) string {
			return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s INTEGER PRIMARY KEY, int1 INTEGER, str1 TEXT, embeddings TEXT)", table, pk)
		},
		// SQLiteは書き込みを直列化する
		maxConns: 1,
	},
	"postgres": {
		driver:      "postgres",
		placeholder: expr.Dollar,
		upsert:      onConflict(expr.Dollar, "EXCLUDED"),
		createTable: func(table, pk string) string {
			return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s BIGINT PRIMARY KEY, int1 BIGINT, str1 TEXT, embeddings TEXT)", table, pk)
		},
	},
	"mysql": {
		driver:      "mysql",
		placeholder: expr.Question,
		upsert:      onDuplicateKey,
		createTable: func(table, pk string) string {
			return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s BIGINT PRIMARY KEY, int1 BIGINT, str1 VARCHAR(255), embeddings TEXT)", table, pk)
		},
	},
}

func values(ph expr.Placeholder, n int) string {
	parts := make([]string, n)
	for i := range n {
		parts[i] = ph(i + 1)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// onConflict は INSERT ... ON CONFLICT (pk) DO UPDATE 形式（SQLite, PostgreSQL）
func onConflict(ph expr.Placeholder, excluded string) func(table, pk string, cols []string) string {
	return func(table, pk string, cols []string) string {
		var sets []string
		for _, c := range cols {
			if c != pk {
				sets = append(sets, fmt.Sprintf("%s = %s.%s", c, excluded, c))
			}
		}
		action := "DO NOTHING"
		if len(sets) > 0 {
			action = "DO UPDATE SET " + strings.Join(sets, ", ")
		}
		return fmt.Sprintf("INSERT INTO %s (%s) VALUES %s ON CONFLICT (%s) %s",
			table, strings.Join(cols, ", "), values(ph, len(cols)), pk, action)
	}
}

// onDuplicateKey は INSERT ... ON DUPLICATE KEY UPDATE 形式（MySQL）
func onDuplicateKey(table, pk string, cols []string) string {
	var sets []string
	for _, c := range cols {
		if c != pk {
			sets = append(sets, fmt.Sprintf("%s = VALUES(%s)", c, c))
		}
	}
	if len(sets) == 0 {
		sets = append(sets, fmt.Sprintf("%s = %s", pk, pk))
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES %s ON DUPLICATE KEY UPDATE %s",
		table, strings.Join(cols, ", "), values(expr.Question, len(cols)), strings.Join(sets, ", "))
}

// validIdent はテーブル名・列名として埋め込める識別子かを返す
func validIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
