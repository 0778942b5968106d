package sqlgw

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"loadcheck/internal/expr"
	"loadcheck/internal/gateway"
	"loadcheck/internal/logger"
)

// Gateway はdatabase/sql経由でテーブルに読み書きするゲートウェイ
type Gateway struct {
	db    *sql.DB
	d     dialect
	table string
	pk    string

	mu      sync.Mutex
	upserts map[string]string
}

// Open はDSN（cfg.Target）に接続し、必要ならテーブルを作成する
func Open(cfg gateway.Config) (*Gateway, error) {
	d, ok := dialects[cfg.Kind]
	if !ok {
		return nil, fmt.Errorf("unsupported sql dialect %q", cfg.Kind)
	}
	if cfg.Target == "" {
		return nil, fmt.Errorf("target (DSN) is required for %s", cfg.Kind)
	}
	pk := cfg.PrimaryKey
	if pk == "" {
		pk = "pk"
	}
	if !validIdent(cfg.Collection) {
		return nil, fmt.Errorf("invalid table name %q", cfg.Collection)
	}
	if !validIdent(pk) {
		return nil, fmt.Errorf("invalid primary key column %q", pk)
	}

	db, err := sql.Open(d.driver, cfg.Target)
	if err != nil {
		return nil, fmt.Errorf("sql.Open failed: %w", err)
	}
	if d.maxConns > 0 {
		db.SetMaxOpenConns(d.maxConns)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Kind, err)
	}

	if cfg.CreateTable {
		if _, err := db.ExecContext(ctx, d.createTable(cfg.Collection, pk)); err != nil {
			db.Close()
			return nil, fmt.Errorf("create table %s: %w", cfg.Collection, err)
		}
	}

	logger.Info(cfg.Kind, "Connected (table: %s, primary key: %s)", cfg.Collection, pk)
	return &Gateway{
		db:      db,
		d:       d,
		table:   cfg.Collection,
		pk:      pk,
		upserts: make(map[string]string),
	}, nil
}

// DB は内部の接続プールを返す
func (g *Gateway) DB() *sql.DB {
	return g.db
}

func (g *Gateway) upsertSQL(cols []string) string {
	key := strings.Join(cols, ",")

	g.mu.Lock()
	defer g.mu.Unlock()
	if q, ok := g.upserts[key]; ok {
		return q
	}
	q := g.d.upsert(g.table, g.pk, cols)
	g.upserts[key] = q
	return q
}

// columns はバッチ先頭レコードの列を主キー先頭・残りは名前順で返す
func (g *Gateway) columns(r gateway.Record) ([]string, error) {
	if _, ok := r[g.pk]; !ok {
		return nil, fmt.Errorf("record has no primary key field %q", g.pk)
	}
	cols := []string{g.pk}
	var rest []string
	for c := range r {
		if c == g.pk {
			continue
		}
		if !validIdent(c) {
			return nil, fmt.Errorf("invalid column name %q", c)
		}
		rest = append(rest, c)
	}
	sort.Strings(rest)
	return append(cols, rest...), nil
}

// Mutate はレコードを1トランザクションでupsertする
func (g *Gateway) Mutate(ctx context.Context, records []gateway.Record) error {
	if len(records) == 0 {
		return nil
	}
	cols, err := g.columns(records[0])
	if err != nil {
		return err
	}
	query := g.upsertSQL(cols)

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	args := make([]any, len(cols))
	for _, r := range records {
		for i, c := range cols {
			v, err := columnValue(r[c])
			if err != nil {
				return fmt.Errorf("column %s: %w", c, err)
			}
			args[i] = v
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("upsert: %w", err)
		}
	}
	return tx.Commit()
}

// columnValue はベクトル等のスライスをJSON文字列として保存する
func columnValue(v any) (any, error) {
	switch v.(type) {
	case []float32, []float64, []int64, []string:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
	return v, nil
}

// Query はフィルタ式をWHERE句に変換して実行する
func (g *Gateway) Query(ctx context.Context, filter string, outputFields []string) ([]gateway.Row, error) {
	e, err := expr.Parse(filter)
	if err != nil {
		return nil, err
	}
	where, args := expr.ToSQL(e, g.d.placeholder)

	if gateway.IsCount(outputFields) {
		var n int64
		q := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", g.table, where)
		if err := g.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
			return nil, fmt.Errorf("count: %w", err)
		}
		return []gateway.Row{{gateway.CountField: n}}, nil
	}

	sel := "*"
	if len(outputFields) > 0 && !(len(outputFields) == 1 && outputFields[0] == "*") {
		for _, f := range outputFields {
			if !validIdent(f) {
				return nil, fmt.Errorf("invalid output field %q", f)
			}
		}
		sel = strings.Join(outputFields, ", ")
	}

	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s", sel, g.table, where)
	rows, err := g.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []gateway.Row
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		row := make(gateway.Row, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[c] = string(b)
			} else {
				row[c] = vals[i]
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Close は接続プールを閉じる
func (g *Gateway) Close() error {
	return g.db.Close()
}

func init() {
	for kind := range dialects {
		gateway.Register(kind, func(cfg gateway.Config) (gateway.Gateway, error) {
			return Open(cfg)
		})
	}
}
