package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"loadcheck/internal/expr"
	"loadcheck/internal/gateway"
)

func count(t *testing.T, s *Store, filter string) int64 {
	t.Helper()
	rows, err := s.Query(context.Background(), filter, []string{gateway.CountField})
	if err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	n, err := gateway.Count(rows)
	if err != nil {
		t.Fatalf("failed to read count: %v", err)
	}
	return n
}

func TestNewNode(t *testing.T) {
	n := NewNode("test-node-1")

	if n.ID() != "test-node-1" {
		t.Errorf("expected ID 'test-node-1', got '%s'", n.ID())
	}
	if n.Status() != StatusRunning {
		t.Errorf("expected status Running, got %v", n.Status())
	}
}

func TestNodeSuspendResume(t *testing.T) {
	n := NewNode("test-node-1")

	if err := n.Suspend(); err != nil {
		t.Fatalf("failed to suspend: %v", err)
	}
	if err := n.Suspend(); err == nil {
		t.Error("expected error when suspending suspended node")
	}

	if _, err := n.Scan(expr.All{}); !errors.Is(err, ErrSuspended) {
		t.Errorf("expected ErrSuspended, got %v", err)
	}

	if err := n.Resume(); err != nil {
		t.Fatalf("failed to resume: %v", err)
	}
	if err := n.Resume(); err == nil {
		t.Error("expected error when resuming running node")
	}
	if _, err := n.Scan(expr.All{}); err != nil {
		t.Errorf("expected scan to succeed after resume, got %v", err)
	}
}

func TestStoreUpsertIsIdempotent(t *testing.T) {
	s := New(gateway.Config{})
	defer s.Close()
	ctx := context.Background()

	records := []gateway.Record{
		{"pk": int64(1), "str1": "a"},
		{"pk": int64(2), "str1": "b"},
	}
	for range 3 {
		if err := s.Mutate(ctx, records); err != nil {
			t.Fatalf("mutate failed: %v", err)
		}
	}

	if got := count(t, s, ""); got != 2 {
		t.Errorf("expected 2 rows, got %d", got)
	}

	if err := s.Mutate(ctx, []gateway.Record{{"pk": int64(1), "str1": "z"}}); err != nil {
		t.Fatalf("mutate failed: %v", err)
	}
	rows, err := s.Query(ctx, "str1 == \"z\"", []string{"pk"})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(rows) != 1 || rows[0]["pk"] != int64(1) {
		t.Errorf("expected pk 1 to be updated, got %v", rows)
	}
}

func TestStoreQueryFilter(t *testing.T) {
	s := New(gateway.Config{})
	defer s.Close()
	ctx := context.Background()

	var records []gateway.Record
	for i := range 100 {
		records = append(records, gateway.Record{"pk": int64(i), "int1": int64(i % 10)})
	}
	if err := s.Mutate(ctx, records); err != nil {
		t.Fatalf("mutate failed: %v", err)
	}

	tests := []struct {
		filter string
		want   int64
	}{
		{"", 100},
		{"pk in [1, 2, 3, 1000]", 3},
		{"10 <= pk < 20", 10},
		{"int1 == 0", 10},
		{"pk >= 50 && int1 < 5", 25},
	}
	for _, tt := range tests {
		if got := count(t, s, tt.filter); got != tt.want {
			t.Errorf("%q: expected %d, got %d", tt.filter, tt.want, got)
		}
	}

	if _, err := s.Query(ctx, "pk ==", nil); err == nil {
		t.Error("expected error for invalid filter")
	}
}

func TestStoreMissingPrimaryKey(t *testing.T) {
	s := New(gateway.Config{PrimaryKey: "id"})
	defer s.Close()

	err := s.Mutate(context.Background(), []gateway.Record{{"pk": int64(1)}})
	if err == nil {
		t.Error("expected error for record without primary key")
	}
}

func TestStoreReplicationLag(t *testing.T) {
	s := New(gateway.Config{Replicas: 1, ReplicationLag: 50 * time.Millisecond})
	defer s.Close()

	if err := s.Mutate(context.Background(), []gateway.Record{{"pk": int64(1)}}); err != nil {
		t.Fatalf("mutate failed: %v", err)
	}

	// レプリカにはまだ反映されていない
	if got := count(t, s, ""); got != 0 {
		t.Errorf("expected stale count 0, got %d", got)
	}
	if !s.Lagging() {
		t.Error("expected store to be lagging")
	}
	if s.Len() != 1 {
		t.Errorf("expected primary to hold 1 row, got %d", s.Len())
	}

	deadline := time.Now().Add(time.Second)
	for s.Lagging() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := count(t, s, ""); got != 1 {
		t.Errorf("expected count 1 after lag, got %d", got)
	}
}

func TestStoreMutateFullReplicaQueue(t *testing.T) {
	s := New(gateway.Config{Replicas: 1, ReplicationLag: time.Hour})
	defer s.Close()

	// レプリケーション側が1件を保持し、残りでキューが埋まる
	for i := range replicationQueue + 1 {
		if err := s.Mutate(context.Background(), []gateway.Record{{"pk": int64(i)}}); err != nil {
			t.Fatalf("mutate %d failed: %v", i, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := s.Mutate(ctx, []gateway.Record{{"pk": int64(-1)}})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("expected mutate to give up with its context, took %v", elapsed)
	}
}

func TestStoreLatency(t *testing.T) {
	s := New(gateway.Config{Latency: 10 * time.Millisecond})
	defer s.Close()

	start := time.Now()
	_ = s.Mutate(context.Background(), []gateway.Record{{"pk": int64(1)}})
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Errorf("expected at least 10ms latency, got %v", elapsed)
	}
}

func TestStoreSuspendAll(t *testing.T) {
	s := New(gateway.Config{Replicas: 2})
	defer s.Close()
	ctx := context.Background()

	s.SuspendAll()
	if err := s.Mutate(ctx, []gateway.Record{{"pk": int64(1)}}); !errors.Is(err, ErrSuspended) {
		t.Errorf("expected ErrSuspended on mutate, got %v", err)
	}
	if _, err := s.Query(ctx, "", []string{gateway.CountField}); !errors.Is(err, ErrSuspended) {
		t.Errorf("expected ErrSuspended on query, got %v", err)
	}

	s.ResumeAll()
	if err := s.Mutate(ctx, []gateway.Record{{"pk": int64(1)}}); err != nil {
		t.Errorf("expected mutate to succeed after resume, got %v", err)
	}
}

func TestStoreClose(t *testing.T) {
	s := New(gateway.Config{Replicas: 1, ReplicationLag: time.Hour})
	_ = s.Mutate(context.Background(), []gateway.Record{{"pk": int64(1)}})

	done := make(chan struct{})
	go func() {
		_ = s.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close blocked on pending replication")
	}

	if err := s.Mutate(context.Background(), nil); !errors.Is(err, gateway.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("expected second Close to be a no-op, got %v", err)
	}
}

func TestStoreConcurrentAccess(t *testing.T) {
	s := New(gateway.Config{Replicas: 2})
	defer s.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := range 100 {
				_ = s.Mutate(ctx, []gateway.Record{{"pk": int64(w*100 + i)}})
				_, _ = s.Query(ctx, "pk >= 0", []string{gateway.CountField})
			}
		}(w)
	}
	wg.Wait()

	if s.Len() != 800 {
		t.Errorf("expected 800 rows on primary, got %d", s.Len())
	}
}

func TestRegistered(t *testing.T) {
	gw, err := gateway.Open(gateway.Config{Kind: "memory"})
	if err != nil {
		t.Fatalf("failed to open memory gateway: %v", err)
	}
	defer gw.Close()

	if _, ok := gw.(*Store); !ok {
		t.Errorf("expected *Store, got %T", gw)
	}

	if _, err := gateway.Open(gateway.Config{Kind: "memory", Replicas: -1}); err == nil {
		t.Error("expected error for negative replicas")
	}
}
