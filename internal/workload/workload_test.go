package workload

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"loadcheck/internal/gateway"
	"loadcheck/internal/gateway/memory"
	"loadcheck/internal/metrics"
	"loadcheck/internal/verify"
	"loadcheck/internal/worker"
)

func TestKeySetBounds(t *testing.T) {
	s := NewKeySet(10)
	if got := s.Expected(); got != verify.Exact(10) {
		t.Errorf("expected exact baseline, got %+v", got)
	}

	s.Begin([]int64{1, 2, 3})
	if got := s.Expected(); got.Low != 10 || got.High != 13 {
		t.Errorf("expected [10, 13] while in flight, got %+v", got)
	}

	s.Ack([]int64{1, 2})
	s.Fail([]int64{3})
	if got := s.Expected(); got.Low != 12 || got.High != 13 {
		t.Errorf("expected [12, 13] with one uncertain key, got %+v", got)
	}
	if s.Live() != 2 || s.Uncertain() != 1 {
		t.Errorf("expected 2 live / 1 uncertain, got %d / %d", s.Live(), s.Uncertain())
	}

	// 再書き込みで不確定キーが確定する
	s.Begin([]int64{3})
	s.Ack([]int64{3})
	if got := s.Expected(); got != verify.Exact(13) {
		t.Errorf("expected exact 13, got %+v", got)
	}

	// 確定済みキーの失敗は件数に影響しない
	s.Begin([]int64{1})
	s.Fail([]int64{1})
	if got := s.Expected(); got != verify.Exact(13) {
		t.Errorf("expected exact 13 after failed rewrite, got %+v", got)
	}
}

func TestKeySetConcurrentSameKey(t *testing.T) {
	s := NewKeySet(0)
	s.Begin([]int64{7})
	s.Begin([]int64{7})
	if got := s.Expected(); got.Low != 0 || got.High != 1 {
		t.Errorf("expected [0, 1], got %+v", got)
	}
	s.Ack([]int64{7})
	s.Ack([]int64{7})
	if got := s.Expected(); got != verify.Exact(1) {
		t.Errorf("expected exact 1, got %+v", got)
	}
}

func TestParseScope(t *testing.T) {
	tests := []struct {
		filter string
		key    int64
		want   bool
	}{
		{"pk < 100", 99, true},
		{"pk < 100", 100, false},
		{"pk in [1, 3]", 3, true},
		{"0 <= pk < 10 && pk != 5", 5, false},
		{`str1 like "str-12%"`, 123, true},
		{`str1 like "str-12%"`, 213, false},
		{"not (pk > 7)", 7, true},
	}

	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			match, err := ParseScope(tt.filter, "pk")
			if err != nil {
				t.Fatalf("ParseScope(%q) failed: %v", tt.filter, err)
			}
			if got := match(tt.key); got != tt.want {
				t.Errorf("match(%d) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}

	if match, err := ParseScope("", "pk"); err != nil || match != nil {
		t.Errorf("expected empty filter to track every key, got %v", err)
	}
	if _, err := ParseScope("id < 10", "pk"); err == nil {
		t.Error("expected error for a field other than the primary key")
	}
	if _, err := ParseScope("id < 10", "id"); err != nil {
		t.Errorf("expected custom primary key to be accepted, got %v", err)
	}
}

func TestScopedKeySet(t *testing.T) {
	s := NewScopedKeySet(2, func(k int64) bool { return k < 10 })

	s.Begin([]int64{8, 9, 10, 11})
	if got := s.Expected(); got.Low != 2 || got.High != 4 {
		t.Errorf("expected [2, 4] counting only keys in scope, got %+v", got)
	}

	s.Ack([]int64{8, 9, 10, 11})
	if got := s.Expected(); got != verify.Exact(4) {
		t.Errorf("expected exact 4, got %+v", got)
	}

	s.Begin([]int64{12})
	s.Fail([]int64{12})
	if got := s.Expected(); got != verify.Exact(4) || s.Uncertain() != 0 {
		t.Errorf("expected keys out of scope to be ignored, got %+v", got)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"no op", func(c *Config) { c.Op = "" }, true},
		{"unknown op", func(c *Config) { c.Op = "delete" }, true},
		{"zero batch", func(c *Config) { c.BatchSize = 0 }, true},
		{"key space too small", func(c *Config) { c.KeySpace = 10 }, true},
		{"bad key mode", func(c *Config) { c.KeyMode = "random" }, true},
		{"insert ignores key space", func(c *Config) { c.Op = OpInsert; c.KeySpace = 0 }, false},
		{"query ignores batch", func(c *Config) { c.Op = OpQuery; c.BatchSize = 0 }, false},
		{"bad write ratio", func(c *Config) { c.Op = OpMixed; c.WriteRatio = 1.5 }, true},
		{"negative dim", func(c *Config) { c.VectorDim = -1 }, true},
		{"negative baseline", func(c *Config) { c.Baseline = -1 }, true},
		{"key scope", func(c *Config) { c.Scope = "pk < 100050" }, false},
		{"malformed scope", func(c *Config) { c.Scope = "pk <" }, true},
		{"scope on random field", func(c *Config) { c.Scope = "int1 > 150" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDisjointKeys(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BatchSize = 4
	cfg.KeySpace = 10
	cfg.KeyOffset = 1000
	w, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create workload: %v", err)
	}

	t0 := w.NewTask(0).(*task)
	t1 := w.NewTask(1).(*task)

	t0.Prepare()
	t1.Prepare()
	want0 := []int64{1000, 1001, 1002, 1003}
	want1 := []int64{1010, 1011, 1012, 1013}
	for i := range want0 {
		if t0.keys[i] != want0[i] || t1.keys[i] != want1[i] {
			t.Fatalf("unexpected keys %v / %v", t0.keys, t1.keys)
		}
	}
	t0.Done(nil)
	t1.Done(nil)

	// 2回目、3回目で範囲を一周する
	t0.Prepare()
	t0.Done(nil)
	t0.Prepare()
	want := []int64{1008, 1009, 1000, 1001}
	for i := range want {
		if t0.keys[i] != want[i] {
			t.Fatalf("expected wrap-around keys %v, got %v", want, t0.keys)
		}
	}
	t0.Done(nil)

	if got := w.Expected(); got != verify.Exact(14) {
		t.Errorf("expected 14 distinct keys, got %+v", got)
	}
}

func TestOverlapKeysAreUniqueWithinBatch(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KeyMode = KeyOverlap
	cfg.BatchSize = 50
	cfg.KeySpace = 60
	cfg.KeyOffset = 0
	cfg.Seed = 1
	w, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create workload: %v", err)
	}

	tk := w.NewTask(3).(*task)
	for range 20 {
		tk.Prepare()
		seen := make(map[int64]bool)
		for _, k := range tk.keys {
			if seen[k] {
				t.Fatalf("duplicate key %d in batch", k)
			}
			if k < 0 || k >= 60 {
				t.Fatalf("key %d outside key space", k)
			}
			seen[k] = true
		}
		tk.Done(nil)
	}
	if got := w.Expected(); got.Low > 60 || got.Low != got.High {
		t.Errorf("expected at most 60 settled keys, got %+v", got)
	}
}

func TestInsertKeysAreFresh(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Op = OpInsert
	cfg.BatchSize = 10
	w, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create workload: %v", err)
	}

	var mu sync.Mutex
	seen := make(map[int64]bool)
	var wg sync.WaitGroup
	for id := range 4 {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			tk := w.NewTask(id).(*task)
			for range 100 {
				tk.Prepare()
				mu.Lock()
				for _, k := range tk.keys {
					if seen[k] {
						t.Errorf("key %d reused", k)
					}
					seen[k] = true
				}
				mu.Unlock()
				tk.Done(nil)
			}
		}(id)
	}
	wg.Wait()

	if got := w.Expected(); got != verify.Exact(4000) {
		t.Errorf("expected 4000 keys, got %+v", got)
	}
}

func TestMixedRatio(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Op = OpMixed
	cfg.WriteRatio = 0.25
	cfg.Seed = 42
	w, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create workload: %v", err)
	}

	tk := w.NewTask(0)
	writes := 0
	const n = 4000
	for range n {
		tk.Prepare()
		if tk.Kind() == string(OpUpsert) {
			writes++
		}
		tk.Done(nil)
	}
	ratio := float64(writes) / n
	if ratio < 0.2 || ratio > 0.3 {
		t.Errorf("expected write ratio near 0.25, got %v", ratio)
	}
}

func TestRecordPayload(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BatchSize = 1
	cfg.VectorDim = 8
	w, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create workload: %v", err)
	}

	tk := w.NewTask(0).(*task)
	tk.Prepare()
	r := tk.records[0]
	if r["pk"] != tk.keys[0] {
		t.Errorf("expected pk %d, got %v", tk.keys[0], r["pk"])
	}
	if v, ok := r["int1"].(int64); !ok || v < 100 || v >= 300 {
		t.Errorf("unexpected int1 %v", r["int1"])
	}
	if _, ok := r["str1"].(string); !ok {
		t.Errorf("unexpected str1 %v", r["str1"])
	}
	if vec, ok := r["embeddings"].([]float32); !ok || len(vec) != 8 {
		t.Errorf("expected 8-dim vector, got %v", r["embeddings"])
	}
}

type failingGateway struct{}

func (failingGateway) Mutate(context.Context, []gateway.Record) error { return errors.New("rejected") }
func (failingGateway) Query(context.Context, string, []string) ([]gateway.Row, error) {
	return nil, errors.New("rejected")
}
func (failingGateway) Close() error { return nil }

func TestFailedWritesWidenUpperBound(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BatchSize = 5
	w, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create workload: %v", err)
	}

	tk := w.NewTask(0)
	tk.Prepare()
	err = tk.Call(context.Background(), failingGateway{})
	tk.Done(err)
	if err == nil {
		t.Fatal("expected call error")
	}
	if got := w.Expected(); got.Low != 0 || got.High != 5 {
		t.Errorf("expected [0, 5], got %+v", got)
	}
}

func TestDriverAgainstMemoryStore(t *testing.T) {
	store := memory.New(gateway.DefaultConfig())
	defer store.Close()

	cfg := DefaultConfig()
	cfg.BatchSize = 10
	cfg.KeySpace = 500
	w, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create workload: %v", err)
	}

	d := worker.NewDriver(store, metrics.New(), nil, worker.DefaultConfig())
	out, err := d.Run(context.Background(), 4, time.Now().Add(50*time.Millisecond), w)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Errors != 0 || out.Calls == 0 {
		t.Fatalf("unexpected outcome %+v", out)
	}

	rows, err := store.Query(context.Background(), "", []string{gateway.CountField})
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	n, _ := gateway.Count(rows)
	if got := w.Expected(); got != verify.Exact(n) {
		t.Errorf("expected tally to equal stored count %d, got %+v", n, got)
	}
	if n > 4*500 {
		t.Errorf("expected at most 2000 records, got %d", n)
	}
}

func TestQueryTask(t *testing.T) {
	store := memory.New(gateway.DefaultConfig())
	defer store.Close()
	if err := store.Mutate(context.Background(), []gateway.Record{{"pk": int64(1)}, {"pk": int64(20)}}); err != nil {
		t.Fatalf("mutate failed: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Op = OpQuery
	cfg.Expr = "pk < 10"
	cfg.PrintResults = true
	w, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create workload: %v", err)
	}

	tk := w.NewTask(0)
	tk.Prepare()
	if tk.Kind() != "query" {
		t.Errorf("expected query kind, got %s", tk.Kind())
	}
	if err := tk.Call(context.Background(), store); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	tk.Done(nil)
	if got := w.Expected(); got != verify.Exact(0) {
		t.Errorf("expected queries not to touch the tally, got %+v", got)
	}
}
