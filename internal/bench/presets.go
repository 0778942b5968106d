package bench

import (
	"time"

	"loadcheck/internal/chaos"
	"loadcheck/internal/workload"
)

// QuickPreset は短時間での動作確認用
// インメモリのストアに対して数秒だけupsertする
func QuickPreset() Config {
	c := DefaultConfig()
	c.Name = "quick"
	c.Description = "Quick self-test against the in-memory store"
	c.Concurrency = 4
	c.Duration = 3 * time.Second
	c.Workload.BatchSize = 10
	c.Workload.KeySpace = 1_000
	c.Gateway.Latency = time.Millisecond
	c.Consistency.Interval = 200 * time.Millisecond
	return c
}

// UpsertDisjointPreset はワーカーごとに重ならない範囲をupsertし続ける
// 件数は最初の一周の後は一定になる
func UpsertDisjointPreset() Config {
	c := DefaultConfig()
	c.Name = "upsert-disjoint"
	c.Description = "Concurrent upserts of disjoint key ranges with count checks"
	c.Duration = 30 * time.Second
	c.Workload.Op = workload.OpUpsert
	c.Workload.KeyMode = workload.KeyDisjoint
	return c
}

// UpsertOverlapPreset は全ワーカーが同じキー空間をupsertする
func UpsertOverlapPreset() Config {
	c := UpsertDisjointPreset()
	c.Name = "upsert-overlap"
	c.Description = "Concurrent upserts over a shared key space"
	c.Workload.KeyMode = workload.KeyOverlap
	c.Workload.KeySpace = 10_000
	return c
}

// InsertGrowthPreset は新しいキーだけを書き込み、件数が確認済みの挿入数に従って増えるかを見る
func InsertGrowthPreset() Config {
	c := DefaultConfig()
	c.Name = "insert-growth"
	c.Description = "Fresh inserts; the count must follow acknowledged inserts"
	c.Duration = 30 * time.Second
	c.Workload.Op = workload.OpInsert
	c.Workload.BatchSize = 50
	return c
}

// QueryQPSPreset はフィルタ付き count(*) クエリのQPSを測る
func QueryQPSPreset() Config {
	c := DefaultConfig()
	c.Name = "query-qps"
	c.Description = "Query throughput with a filter expression and count(*)"
	c.Concurrency = 16
	c.Duration = 30 * time.Second
	c.Workload.Op = workload.OpQuery
	c.Workload.Expr = "pk >= 0"
	c.Consistency.Enabled = false
	return c
}

// MixedPreset は読み書き混在の負荷
func MixedPreset() Config {
	c := DefaultConfig()
	c.Name = "mixed"
	c.Description = "Mixed upserts and count queries"
	c.Concurrency = 16
	c.Duration = 30 * time.Second
	c.Workload.Op = workload.OpMixed
	c.Workload.WriteRatio = 0.3
	c.Workload.KeySpace = 10_000
	return c
}

// StaleReplicaPreset はレプリケーション遅延のあるストアで違反と回復を観察する
func StaleReplicaPreset() Config {
	c := DefaultConfig()
	c.Name = "stale-replica"
	c.Description = "Reads from a lagging replica; violations are expected and should recover"
	c.Duration = 15 * time.Second
	c.Workload.BatchSize = 10
	c.Workload.KeySpace = 1_000
	c.Gateway.Kind = "memory"
	c.Gateway.Replicas = 1
	c.Gateway.ReplicationLag = 200 * time.Millisecond
	c.Consistency.Interval = 100 * time.Millisecond
	c.Consistency.Jitter = 50 * time.Millisecond
	return c
}

// ChaosPreset は障害注入ありの負荷
func ChaosPreset() Config {
	c := DefaultConfig()
	c.Name = "chaos"
	c.Description = "Upserts with injected suspend, delay and stale-read faults"
	c.Duration = 20 * time.Second
	c.CallTimeout = 2 * time.Second
	c.Consistency.Interval = 250 * time.Millisecond
	c.Chaos.Enabled = true
	c.Chaos.Interval = 2 * time.Second
	c.Chaos.AttackTypes = []chaos.AttackType{chaos.AttackSuspend, chaos.AttackDelay, chaos.AttackStale}
	c.Chaos.AttackDuration = time.Second
	return c
}

var presets = map[string]func() Config{
	"quick":           QuickPreset,
	"upsert-disjoint": UpsertDisjointPreset,
	"upsert-overlap":  UpsertOverlapPreset,
	"insert-growth":   InsertGrowthPreset,
	"query-qps":       QueryQPSPreset,
	"mixed":           MixedPreset,
	"stale-replica":   StaleReplicaPreset,
	"chaos":           ChaosPreset,
}

// GetPreset は名前からプリセットを取得する
func GetPreset(name string) (Config, bool) {
	if fn, ok := presets[name]; ok {
		return fn(), true
	}
	return Config{}, false
}

// ListPresets は利用可能なプリセット名を返す
func ListPresets() []string {
	return []string{"quick", "upsert-disjoint", "upsert-overlap", "insert-growth", "query-qps", "mixed", "stale-replica", "chaos"}
}
