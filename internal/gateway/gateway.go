package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"
)

// CountField は件数を要求するときの出力フィールド名
const CountField = "count(*)"

// ErrClosed はClose後の呼び出しで返される
var ErrClosed = errors.New("gateway: closed")

// Record は書き込む1レコード（フィールド名→値）
type Record map[string]any

// Row はクエリ結果の1行
type Row map[string]any

// Gateway はデータストアへの狭いクライアントインターフェース
// エラーの原因は呼び出し側で区別しない（失敗した呼び出しとして数えるだけ）
type Gateway interface {
	// Mutate はレコードを主キーでupsertする
	Mutate(ctx context.Context, records []Record) error
	// Query はフィルタ式に一致する行を返す
	// outputFields が [CountField] のときは件数1行を返す
	Query(ctx context.Context, expr string, outputFields []string) ([]Row, error)
	// Close は接続を閉じる
	Close() error
}

// Config はゲートウェイの接続設定
type Config struct {
	Kind        string        `yaml:"kind" json:"kind"`
	Target      string        `yaml:"target" json:"target"`
	Collection  string        `yaml:"collection" json:"collection"`
	PrimaryKey  string        `yaml:"primary_key" json:"primary_key"`
	Token       string        `yaml:"token" json:"token"`
	Timeout     time.Duration `yaml:"-" json:"-"`
	CreateTable bool          `yaml:"create_table" json:"create_table"`

	// memory バックエンド用
	Latency        time.Duration `yaml:"-" json:"-"`
	Replicas       int           `yaml:"replicas" json:"replicas"`
	ReplicationLag time.Duration `yaml:"-" json:"-"`
}

// DefaultConfig はデフォルトの接続設定を返す
func DefaultConfig() Config {
	return Config{
		Kind:       "memory",
		Collection: "loadcheck",
		PrimaryKey: "pk",
		Timeout:    10 * time.Second,
	}
}

// Key はレコードの主キーを文字列化して返す
func (c Config) Key(r Record) (string, error) {
	pk := c.PrimaryKey
	if pk == "" {
		pk = "pk"
	}
	v, ok := r[pk]
	if !ok {
		return "", fmt.Errorf("record has no primary key field %q", pk)
	}
	return KeyString(v), nil
}

// KeyString は主キー値を文字列に変換する
func KeyString(v any) string {
	switch k := v.(type) {
	case string:
		return k
	case int:
		return strconv.Itoa(k)
	case int64:
		return strconv.FormatInt(k, 10)
	case float64:
		return strconv.FormatFloat(k, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

// Factory は設定からゲートウェイを作成する
type Factory func(cfg Config) (Gateway, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register はバックエンドを種別名で登録する
func Register(kind string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[kind]; dup {
		panic("gateway: Register called twice for " + kind)
	}
	registry[kind] = f
}

// Open は設定の種別に対応するバックエンドを開く
func Open(cfg Config) (Gateway, error) {
	registryMu.RLock()
	f, ok := registry[cfg.Kind]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown gateway kind %q (available: %v)", cfg.Kind, Kinds())
	}
	if cfg.PrimaryKey == "" {
		cfg.PrimaryKey = "pk"
	}
	gw, err := f(cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s gateway: %w", cfg.Kind, err)
	}
	return gw, nil
}

// ServerSideFilter はフィルタ式をサーバー側で解釈するゲートウェイかを返す
func ServerSideFilter(kind string) bool {
	return kind == "rest"
}

// Kinds は登録済みの種別名をソートして返す
func Kinds() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	kinds := make([]string, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// IsCount は出力フィールドが件数要求かを返す
func IsCount(outputFields []string) bool {
	return len(outputFields) == 1 && outputFields[0] == CountField
}

// Count は件数クエリの結果から件数を取り出す
func Count(rows []Row) (int64, error) {
	if len(rows) != 1 {
		return 0, fmt.Errorf("count query returned %d rows, want 1", len(rows))
	}
	v, ok := rows[0][CountField]
	if !ok {
		return 0, fmt.Errorf("count query result has no %q field", CountField)
	}
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case uint64:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case interface{ Int64() (int64, error) }:
		return n.Int64()
	case string:
		return strconv.ParseInt(n, 10, 64)
	case []byte:
		return strconv.ParseInt(string(n), 10, 64)
	}
	return 0, fmt.Errorf("unexpected count type %T", v)
}

// Select はフィルタ済みの行を出力フィールドに射影する
// 件数要求なら件数1行、空または "*" なら全フィールドを返す
func Select(rows []Row, outputFields []string) []Row {
	if IsCount(outputFields) {
		return []Row{{CountField: int64(len(rows))}}
	}
	if len(outputFields) == 0 || (len(outputFields) == 1 && outputFields[0] == "*") {
		return rows
	}
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		p := make(Row, len(outputFields))
		for _, f := range outputFields {
			if v, ok := r[f]; ok {
				p[f] = v
			}
		}
		out = append(out, p)
	}
	return out
}
