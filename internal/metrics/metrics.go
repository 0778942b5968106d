package metrics

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Sample は1回の呼び出しのレイテンシ計測値
type Sample struct {
	Latency time.Duration
	Success bool
}

// Recorder はワーカーから送られるレイテンシサンプルを収集する
type Recorder struct {
	success atomic.Uint64
	failed  atomic.Uint64

	mu      sync.Mutex
	samples []Sample
}

// New は新しいRecorderを作成する
func New() *Recorder {
	return &Recorder{
		samples: make([]Sample, 0, 1024),
	}
}

// Record は1件のサンプルを記録する
// ロック区間はappendのみ
func (r *Recorder) Record(latency time.Duration, success bool) {
	r.count(success, 1)

	r.mu.Lock()
	r.samples = append(r.samples, Sample{Latency: latency, Success: success})
	r.mu.Unlock()
}

// RecordSuccess は成功したリクエストを記録する
func (r *Recorder) RecordSuccess(latency time.Duration) {
	r.Record(latency, true)
}

// RecordFailure は失敗したリクエストを記録する
func (r *Recorder) RecordFailure(latency time.Duration) {
	r.Record(latency, false)
}

func (r *Recorder) count(success bool, n uint64) {
	if success {
		r.success.Add(n)
	} else {
		r.failed.Add(n)
	}
}

// merge はワーカーローカルのサンプルをまとめて追加する
func (r *Recorder) merge(samples []Sample, success, failed uint64) {
	if len(samples) == 0 {
		return
	}
	r.success.Add(success)
	r.failed.Add(failed)

	r.mu.Lock()
	r.samples = append(r.samples, samples...)
	r.mu.Unlock()
}

// SuccessCount は記録済みの成功数を返す
func (r *Recorder) SuccessCount() uint64 {
	return r.success.Load()
}

// FailedCount は記録済みの失敗数を返す
func (r *Recorder) FailedCount() uint64 {
	return r.failed.Load()
}

// Total は記録済みのサンプル総数を返す
func (r *Recorder) Total() uint64 {
	return r.success.Load() + r.failed.Load()
}

// NewBatch はワーカー専用のローカルバッファを作成する
func (r *Recorder) NewBatch() *Batch {
	return &Batch{
		parent:  r,
		samples: make([]Sample, 0, 256),
	}
}

// Batch はワーカーローカルのサンプルバッファ
// 単一のゴルーチンからのみ使用する。Flushで親Recorderへ一度だけマージする
type Batch struct {
	parent  *Recorder
	samples []Sample
	success uint64
	failed  uint64
}

// Record はローカルにサンプルを追加する（ロックなし）
func (b *Batch) Record(latency time.Duration, success bool) {
	b.samples = append(b.samples, Sample{Latency: latency, Success: success})
	if success {
		b.success++
	} else {
		b.failed++
	}
}

// Len はローカルに溜まっているサンプル数を返す
func (b *Batch) Len() int {
	return len(b.samples)
}

// Flush はローカルサンプルを親Recorderにマージしてバッファを空にする
func (b *Batch) Flush() {
	b.parent.merge(b.samples, b.success, b.failed)
	b.samples = nil
	b.success = 0
	b.failed = 0
}

// Stat はミリ秒単位の統計値。サンプルがない場合は未定義
type Stat struct {
	Ms      float64
	Defined bool
}

// Undefined は未定義の統計値
var Undefined = Stat{}

// Millis はDurationからStatを作る
func Millis(d time.Duration) Stat {
	return Stat{Ms: float64(d) / float64(time.Millisecond), Defined: true}
}

// Duration はStatをDurationに戻す（未定義なら0）
func (s Stat) Duration() time.Duration {
	if !s.Defined {
		return 0
	}
	return time.Duration(s.Ms * float64(time.Millisecond))
}

func (s Stat) String() string {
	if !s.Defined {
		return "undefined"
	}
	return fmt.Sprintf("%.3fms", s.Ms)
}

// MarshalJSON は未定義をnullとして出力する
func (s Stat) MarshalJSON() ([]byte, error) {
	if !s.Defined {
		return []byte("null"), nil
	}
	return json.Marshal(s.Ms)
}

// UnmarshalJSON はnullを未定義として読み込む
func (s *Stat) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = Undefined
		return nil
	}
	var ms float64
	if err := json.Unmarshal(data, &ms); err != nil {
		return err
	}
	*s = Stat{Ms: ms, Defined: true}
	return nil
}

// MarshalYAML は未定義をnullとして出力する
func (s Stat) MarshalYAML() (any, error) {
	if !s.Defined {
		return nil, nil
	}
	return s.Ms, nil
}

// Snapshot はレイテンシ統計のスナップショット
type Snapshot struct {
	Count   uint64   `json:"count" yaml:"count" msgpack:"count"`
	Success uint64   `json:"success" yaml:"success" msgpack:"success"`
	Failed  uint64   `json:"failed" yaml:"failed" msgpack:"failed"`
	P0      Stat     `json:"p0_ms" yaml:"p0_ms" msgpack:"p0_ms"`
	P50     Stat     `json:"p50_ms" yaml:"p50_ms" msgpack:"p50_ms"`
	P99     Stat     `json:"p99_ms" yaml:"p99_ms" msgpack:"p99_ms"`
	Mean    Stat     `json:"mean_ms" yaml:"mean_ms" msgpack:"mean_ms"`
	Max     Stat     `json:"max_ms" yaml:"max_ms" msgpack:"max_ms"`
	Buckets []Bucket `json:"histogram,omitempty" yaml:"histogram,omitempty" msgpack:"histogram,omitempty"`
}

// Snapshot は成功サンプルから統計を計算する
// 全ワーカーの記録が終わった後に呼び出すこと
func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	latencies := make([]time.Duration, 0, len(r.samples))
	for _, s := range r.samples {
		if s.Success {
			latencies = append(latencies, s.Latency)
		}
	}
	r.mu.Unlock()

	snap := Summarize(latencies)
	snap.Success = r.success.Load()
	snap.Failed = r.failed.Load()
	return snap
}

// Summarize はレイテンシ列からパーセンタイルと平均を計算する
// 入力の並び順には依存しない（コピーしてソートする）
func Summarize(latencies []time.Duration) Snapshot {
	n := len(latencies)
	snap := Snapshot{Count: uint64(n)}
	if n == 0 {
		return snap
	}

	sorted := make([]time.Duration, n)
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var total float64
	for _, d := range sorted {
		total += float64(d)
	}

	snap.P0 = Millis(sorted[PercentileIndex(n, 0)])
	snap.P50 = Millis(sorted[PercentileIndex(n, 50)])
	snap.P99 = Millis(sorted[PercentileIndex(n, 99)])
	snap.Max = Millis(sorted[n-1])
	snap.Mean = Stat{Ms: total / float64(n) / float64(time.Millisecond), Defined: true}
	snap.Buckets = histogram(sorted)
	return snap
}

// PercentileIndex はソート済み配列に対する pN のインデックスを返す
// ceil(p/100 * n) - 1 を [0, n-1] にクランプする
func PercentileIndex(n int, p float64) int {
	if n <= 1 {
		return 0
	}
	idx := int(math.Ceil(p/100.0*float64(n))) - 1
	if idx < 0 {
		return 0
	}
	if idx >= n {
		return n - 1
	}
	return idx
}

// Counter は単調増加カウンタ（ErrorCounter等）
type Counter struct {
	n atomic.Uint64
}

// Inc はカウンタを1増やす
func (c *Counter) Inc() {
	c.n.Add(1)
}

// Add はカウンタをn増やす
func (c *Counter) Add(n uint64) {
	c.n.Add(n)
}

// Load は現在値を返す
func (c *Counter) Load() uint64 {
	return c.n.Load()
}
