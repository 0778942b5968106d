package workload

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"loadcheck/internal/gateway"
	"loadcheck/internal/logger"
	"loadcheck/internal/verify"
	"loadcheck/internal/worker"
)

// Op は操作の種類
type Op string

const (
	OpUpsert Op = "upsert"
	OpInsert Op = "insert"
	OpQuery  Op = "query"
	OpMixed  Op = "mixed"
)

// Ops は利用可能な操作の一覧
func Ops() []Op {
	return []Op{OpUpsert, OpInsert, OpQuery, OpMixed}
}

// KeyMode はupsertのキーの選び方
type KeyMode string

const (
	// KeyDisjoint はワーカーごとに重ならない範囲を順番に書く
	KeyDisjoint KeyMode = "disjoint"
	// KeyOverlap は全ワーカーが同じ範囲からランダムに選ぶ
	KeyOverlap KeyMode = "overlap"
)

// Config はワークロードの設定
type Config struct {
	Op           Op       `yaml:"op" json:"op"`
	BatchSize    int      `yaml:"batch_size" json:"batch_size"`       // 1回のMutateのレコード数
	KeySpace     int64    `yaml:"key_space" json:"key_space"`         // disjoint: ワーカーあたり、overlap: 全体
	KeyMode      KeyMode  `yaml:"key_mode" json:"key_mode"`           // disjoint | overlap
	KeyOffset    int64    `yaml:"key_offset" json:"key_offset"`       // 最初のキー
	WriteRatio   float64  `yaml:"write_ratio" json:"write_ratio"`     // mixed のときの書き込み比率
	Expr         string   `yaml:"expr" json:"expr"`                   // query のフィルタ式
	OutputFields []string `yaml:"output_fields" json:"output_fields"` // query の出力フィールド
	VectorDim    int      `yaml:"vector_dim" json:"vector_dim"`       // 0でベクトルなし
	PrimaryKey   string   `yaml:"primary_key" json:"primary_key"`
	Baseline     int64    `yaml:"baseline" json:"baseline"` // 実行前から存在する件数（Scope に一致するもの）
	Scope        string   `yaml:"scope" json:"scope"`       // 期待件数を数えるキーのフィルタ（整合性チェックの式）
	PrintResults bool     `yaml:"print_results" json:"print_results"`
	Seed         uint64   `yaml:"seed" json:"seed"` // 0で時刻から決める
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Op:           OpUpsert,
		BatchSize:    100,
		KeySpace:     100_000,
		KeyMode:      KeyDisjoint,
		KeyOffset:    100_000,
		WriteRatio:   0.5,
		Expr:         "",
		OutputFields: []string{gateway.CountField},
		PrimaryKey:   "pk",
	}
}

// Validate は設定を検証する
func (c Config) Validate() error {
	switch c.Op {
	case OpUpsert, OpInsert, OpQuery, OpMixed:
	case "":
		return fmt.Errorf("operation is required")
	default:
		return fmt.Errorf("unknown operation %q (want one of %v)", c.Op, Ops())
	}

	if c.writes() {
		if c.BatchSize <= 0 {
			return fmt.Errorf("batch size must be > 0, got %d", c.BatchSize)
		}
		if c.Op != OpInsert {
			if c.KeyMode != KeyDisjoint && c.KeyMode != KeyOverlap {
				return fmt.Errorf("unknown key mode %q", c.KeyMode)
			}
			if c.KeySpace < int64(c.BatchSize) {
				return fmt.Errorf("key space (%d) must be >= batch size (%d)", c.KeySpace, c.BatchSize)
			}
		}
	}
	if c.Op == OpMixed && (c.WriteRatio < 0 || c.WriteRatio > 1) {
		return fmt.Errorf("write ratio must be within [0, 1], got %v", c.WriteRatio)
	}
	if c.VectorDim < 0 {
		return fmt.Errorf("vector dim must be >= 0, got %d", c.VectorDim)
	}
	if c.Baseline < 0 {
		return fmt.Errorf("baseline must be >= 0, got %d", c.Baseline)
	}
	if _, err := ParseScope(c.Scope, c.PrimaryKey); err != nil {
		return fmt.Errorf("scope: %w", err)
	}
	return nil
}

func (c Config) writes() bool {
	return c.Op != OpQuery
}

// Workload は worker.Operation の実装。書き込んだキーを KeySet に集計する
type Workload struct {
	config Config
	keys   *KeySet
	next   atomic.Int64 // insert 用の次の新規キー
	seed   uint64
}

var _ worker.Operation = (*Workload)(nil)

// New は新しいワークロードを作成する
func New(config Config) (*Workload, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.PrimaryKey == "" {
		config.PrimaryKey = "pk"
	}
	if config.Op == OpQuery || config.Op == OpMixed {
		if len(config.OutputFields) == 0 {
			config.OutputFields = []string{gateway.CountField}
		}
	}

	match, err := ParseScope(config.Scope, config.PrimaryKey)
	if err != nil {
		return nil, fmt.Errorf("scope: %w", err)
	}

	w := &Workload{
		config: config,
		keys:   NewScopedKeySet(config.Baseline, match),
		seed:   config.Seed,
	}
	if w.seed == 0 {
		w.seed = uint64(time.Now().UnixNano())
	}
	w.next.Store(config.KeyOffset)
	return w, nil
}

// Name implements worker.Operation.
func (w *Workload) Name() string {
	return string(w.config.Op)
}

// Config は設定を返す
func (w *Workload) Config() Config {
	return w.config
}

// Keys は書き込み済みキーの集計を返す
func (w *Workload) Keys() *KeySet {
	return w.keys
}

// Expected は期待件数の範囲を返す（verify.ExpectedSource）
func (w *Workload) Expected() verify.Bounds {
	return w.keys.Expected()
}

// NewTask implements worker.Operation.
func (w *Workload) NewTask(id int) worker.Task {
	return &task{
		w:   w,
		id:  id,
		rng: rand.New(rand.NewPCG(w.seed, uint64(id))),
	}
}

// task はワーカー1つ分の状態。1つのゴルーチンからしか使われない
type task struct {
	w      *Workload
	id     int
	rng    *rand.Rand
	cursor int64

	kind    string
	keys    []int64
	records []gateway.Record
}

func (t *task) Kind() string {
	return t.kind
}

// Prepare は次の呼び出しの種類とペイロードを決める
func (t *task) Prepare() {
	cfg := t.w.config

	op := cfg.Op
	if op == OpMixed {
		op = OpQuery
		if t.rng.Float64() < cfg.WriteRatio {
			op = OpUpsert
		}
	}
	t.kind = string(op)

	if op == OpQuery {
		t.keys = t.keys[:0]
		t.records = t.records[:0]
		return
	}

	t.keys = t.nextKeys(op, t.keys[:0])
	t.records = t.records[:0]
	for _, k := range t.keys {
		t.records = append(t.records, newRecord(cfg, k, t.rng))
	}
	t.w.keys.Begin(t.keys)
}

func (t *task) nextKeys(op Op, keys []int64) []int64 {
	cfg := t.w.config
	n := int64(cfg.BatchSize)

	switch {
	case op == OpInsert:
		// 全ワーカーで一意な新規キー
		first := t.w.next.Add(n) - n
		for i := range n {
			keys = append(keys, first+i)
		}
	case cfg.KeyMode == KeyOverlap:
		seen := make(map[int64]struct{}, n)
		for int64(len(keys)) < n {
			k := cfg.KeyOffset + t.rng.Int64N(cfg.KeySpace)
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	default:
		// ワーカーごとの範囲を順番に、一周したら先頭に戻る
		start := cfg.KeyOffset + int64(max(t.id, 0))*cfg.KeySpace
		for i := range n {
			keys = append(keys, start+(t.cursor+i)%cfg.KeySpace)
		}
		t.cursor = (t.cursor + n) % cfg.KeySpace
	}
	return keys
}

// Call はゲートウェイを1回呼ぶ
func (t *task) Call(ctx context.Context, gw gateway.Gateway) error {
	cfg := t.w.config
	if t.kind != string(OpQuery) {
		return gw.Mutate(ctx, t.records)
	}

	rows, err := gw.Query(ctx, cfg.Expr, cfg.OutputFields)
	if err != nil {
		return err
	}
	if cfg.PrintResults && logger.DebugEnabled() {
		logger.Debug(fmt.Sprintf("worker-%d", t.id), "query %q returned %d rows: %v", cfg.Expr, len(rows), rows)
	}
	return nil
}

// Done は書き込み結果を集計に反映する
func (t *task) Done(err error) {
	if len(t.keys) == 0 {
		return
	}
	if err != nil {
		t.w.keys.Fail(t.keys)
		return
	}
	t.w.keys.Ack(t.keys)
}
