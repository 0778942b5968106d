package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"loadcheck/internal/gateway"
	"loadcheck/internal/metrics"
)

// fakeOp は呼び出し回数を数えるだけの操作
type fakeOp struct {
	latency   time.Duration
	failEvery uint64 // n回に1回失敗（0で失敗なし）
	block     chan struct{}

	issued   atomic.Uint64
	prepared atomic.Uint64
	done     atomic.Uint64
	tasks    atomic.Int32
}

func (o *fakeOp) Name() string { return "fake" }

func (o *fakeOp) NewTask(int) Task {
	o.tasks.Add(1)
	return &fakeTask{op: o}
}

type fakeTask struct {
	op *fakeOp
}

func (t *fakeTask) Kind() string { return "fake" }
func (t *fakeTask) Prepare()     { t.op.prepared.Add(1) }
func (t *fakeTask) Done(error)   { t.op.done.Add(1) }

var errFake = errors.New("fake failure")

func (t *fakeTask) Call(ctx context.Context, _ gateway.Gateway) error {
	n := t.op.issued.Add(1)
	if t.op.block != nil {
		<-t.op.block
	}
	if t.op.latency > 0 {
		time.Sleep(t.op.latency)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if t.op.failEvery > 0 && n%t.op.failEvery == 0 {
		return errFake
	}
	return nil
}

type countingObserver struct {
	mu      sync.Mutex
	calls   int
	workers int
	peak    int
}

func (o *countingObserver) OnCall(string, time.Duration, error) {
	o.mu.Lock()
	o.calls++
	o.mu.Unlock()
}

func (o *countingObserver) OnWorker(delta int) {
	o.mu.Lock()
	o.workers += delta
	if o.workers > o.peak {
		o.peak = o.workers
	}
	o.mu.Unlock()
}

func TestStartValidation(t *testing.T) {
	d := NewDriver(nil, metrics.New(), nil, DefaultConfig())
	deadline := time.Now().Add(time.Second)

	if _, err := d.Start(context.Background(), 0, deadline, &fakeOp{}); err == nil {
		t.Error("expected error for zero concurrency")
	}
	if _, err := d.Start(context.Background(), 1, deadline, nil); err == nil {
		t.Error("expected error for nil operation")
	}
}

func TestRunCountsEveryCall(t *testing.T) {
	for _, concurrency := range []int{1, 4, 16} {
		rec := metrics.New()
		var errs metrics.Counter
		op := &fakeOp{latency: 100 * time.Microsecond, failEvery: 7}
		d := NewDriver(nil, rec, &errs, DefaultConfig())

		out, err := d.Run(context.Background(), concurrency, time.Now().Add(100*time.Millisecond), op)
		if err != nil {
			t.Fatalf("c=%d: unexpected error: %v", concurrency, err)
		}

		if int(op.tasks.Load()) != concurrency {
			t.Errorf("c=%d: expected %d tasks, got %d", concurrency, concurrency, op.tasks.Load())
		}
		if out.Calls != op.issued.Load() {
			t.Errorf("c=%d: expected %d calls, got %d", concurrency, op.issued.Load(), out.Calls)
		}
		if out.Success+out.Errors != out.Calls {
			t.Errorf("c=%d: success %d + errors %d != calls %d", concurrency, out.Success, out.Errors, out.Calls)
		}
		if rec.SuccessCount()+errs.Load() != out.Calls {
			t.Errorf("c=%d: recorder %d + error counter %d != calls %d",
				concurrency, rec.SuccessCount(), errs.Load(), out.Calls)
		}
		if rec.Total() != out.Calls {
			t.Errorf("c=%d: expected %d samples, got %d", concurrency, out.Calls, rec.Total())
		}
		if op.done.Load() != out.Calls || op.prepared.Load() != out.Calls {
			t.Errorf("c=%d: expected prepare/done once per call, got %d/%d for %d calls",
				concurrency, op.prepared.Load(), op.done.Load(), out.Calls)
		}
		if out.Stalled != 0 || out.InFlight != 0 {
			t.Errorf("c=%d: expected no stalled workers, got %d (in flight %d)", concurrency, out.Stalled, out.InFlight)
		}
	}
}

func TestRunHonoursDeadline(t *testing.T) {
	d := NewDriver(nil, metrics.New(), nil, DefaultConfig())
	op := &fakeOp{latency: time.Millisecond}

	start := time.Now()
	out, err := d.Run(context.Background(), 4, start.Add(50*time.Millisecond), op)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	elapsed := time.Since(start)

	if elapsed < 50*time.Millisecond {
		t.Errorf("expected run to last at least 50ms, got %v", elapsed)
	}
	if elapsed > 500*time.Millisecond {
		t.Errorf("expected run to end shortly after deadline, got %v", elapsed)
	}
	if out.Calls == 0 {
		t.Error("expected some calls")
	}
}

func TestRunPastDeadlineIssuesNoCalls(t *testing.T) {
	d := NewDriver(nil, metrics.New(), nil, DefaultConfig())
	op := &fakeOp{}

	out, err := d.Run(context.Background(), 4, time.Now().Add(-time.Second), op)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Calls != 0 {
		t.Errorf("expected 0 calls, got %d", out.Calls)
	}
}

func TestInFlightCallFinishesAfterStop(t *testing.T) {
	d := NewDriver(nil, metrics.New(), nil, DefaultConfig())
	op := &fakeOp{latency: 30 * time.Millisecond}

	r, err := d.Start(context.Background(), 2, time.Now().Add(time.Minute), op)
	if err != nil {
		t.Fatalf("failed to start: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	r.Stop()
	r.Stop()

	out, err := r.Wait(time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 停止後も実行中の呼び出しはキャンセルされず成功する
	if out.Errors != 0 {
		t.Errorf("expected in-flight calls to complete successfully, got %d errors", out.Errors)
	}
	if out.Calls != 2 {
		t.Errorf("expected exactly 2 calls (one per worker), got %d", out.Calls)
	}
}

func TestStopJoinsWithinTimeout(t *testing.T) {
	const trials = 50
	for i := range trials {
		d := NewDriver(nil, metrics.New(), nil, DefaultConfig())
		op := &fakeOp{latency: time.Millisecond}

		r, err := d.Start(context.Background(), 8, time.Now().Add(time.Minute), op)
		if err != nil {
			t.Fatalf("failed to start: %v", err)
		}
		time.Sleep(2 * time.Millisecond)
		r.Stop()

		out, err := r.Wait(time.Second)
		if err != nil {
			t.Fatalf("trial %d: unexpected drain timeout: %v", i, err)
		}
		if out.Success+out.Errors != out.Calls {
			t.Fatalf("trial %d: counts do not add up: %+v", i, out)
		}
	}
}

func TestStalledWorkerIsReported(t *testing.T) {
	rec := metrics.New()
	d := NewDriver(nil, rec, nil, DefaultConfig())
	op := &fakeOp{block: make(chan struct{})}
	defer close(op.block)

	r, err := d.Start(context.Background(), 3, time.Now().Add(time.Minute), op)
	if err != nil {
		t.Fatalf("failed to start: %v", err)
	}
	for op.issued.Load() < 3 {
		time.Sleep(time.Millisecond)
	}
	r.Stop()

	out, err := r.Wait(20 * time.Millisecond)
	if err == nil {
		t.Fatal("expected drain timeout error")
	}
	var dte *DrainTimeoutError
	if !errors.As(err, &dte) {
		t.Fatalf("expected *DrainTimeoutError, got %T", err)
	}
	if dte.Stalled != 3 || dte.Component != "workers" {
		t.Errorf("expected 3 stalled workers, got %+v", dte)
	}
	if !IsDrainTimeout(err) {
		t.Error("expected IsDrainTimeout to be true")
	}
	if out.InFlight != 3 || out.Calls != 3 {
		t.Errorf("expected 3 calls in flight, got %+v", out)
	}
}

func TestRunAbortedByContext(t *testing.T) {
	d := NewDriver(nil, metrics.New(), nil, DefaultConfig())
	op := &fakeOp{latency: time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := d.Run(ctx, 2, time.Now().Add(time.Minute), op)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Since(start) > time.Second {
		t.Errorf("expected abort to stop the run promptly, took %v", time.Since(start))
	}
}

func TestCallTimeout(t *testing.T) {
	var errs metrics.Counter
	d := NewDriver(nil, metrics.New(), &errs, Config{CallTimeout: 5 * time.Millisecond})
	op := &fakeOp{latency: 20 * time.Millisecond}

	out, err := d.Run(context.Background(), 1, time.Now().Add(30*time.Millisecond), op)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Errors == 0 || errs.Load() != out.Errors {
		t.Errorf("expected timed out calls to be counted as errors, got %+v (counter %d)", out, errs.Load())
	}
}

func TestObserver(t *testing.T) {
	d := NewDriver(nil, metrics.New(), nil, DefaultConfig())
	obs := &countingObserver{}
	d.AddObserver(obs)

	out, err := d.Run(context.Background(), 4, time.Now().Add(30*time.Millisecond), &fakeOp{latency: time.Millisecond})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if uint64(obs.calls) != out.Calls {
		t.Errorf("expected %d observed calls, got %d", out.Calls, obs.calls)
	}
	if obs.workers != 0 || obs.peak != 4 {
		t.Errorf("expected workers to return to 0 with peak 4, got %d (peak %d)", obs.workers, obs.peak)
	}
}

func TestProgress(t *testing.T) {
	d := NewDriver(nil, metrics.New(), nil, DefaultConfig())
	r, err := d.Start(context.Background(), 2, time.Now().Add(time.Minute), &fakeOp{latency: time.Millisecond})
	if err != nil {
		t.Fatalf("failed to start: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	p := r.Progress()
	if p.Active != 2 {
		t.Errorf("expected 2 active workers, got %d", p.Active)
	}
	if p.Calls == 0 {
		t.Error("expected calls to be in progress")
	}

	r.Stop()
	if _, err := r.Wait(time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Progress().Active != 0 {
		t.Errorf("expected 0 active workers after wait, got %d", r.Progress().Active)
	}
}
