package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"loadcheck/internal/gateway"
	"loadcheck/internal/logger"
	"loadcheck/internal/metrics"
)

// flushEvery はワーカーローカルのサンプルを途中でマージする間隔
// 停止しないワーカーがいても、それまでのサンプルは失われない
const flushEvery = 4096

// Task はワーカー1つが専有する繰り返し処理の単位
type Task interface {
	// Kind は直前の Prepare で選ばれた操作種別（upsert, query など）
	Kind() string
	// Prepare はペイロードを作る。計測対象外
	Prepare()
	// Call はゲートウェイを1回呼ぶ。この呼び出しだけが計測される
	Call(ctx context.Context, gw gateway.Gateway) error
	// Done は呼び出し結果の後処理（キー集計など）。計測対象外
	Done(err error)
}

// Operation はワーカーごとのTaskを作る
type Operation interface {
	Name() string
	NewTask(worker int) Task
}

// Observer は呼び出しごとの結果を受け取る（進捗表示、Prometheus）
type Observer interface {
	OnCall(kind string, d time.Duration, err error)
	OnWorker(delta int)
}

// Config はドライバーの設定
type Config struct {
	DrainTimeout time.Duration // 停止後の合流待ちの上限
	CallTimeout  time.Duration // 1呼び出しの上限（0で無制限）
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		DrainTimeout: 10 * time.Second,
	}
}

// DrainTimeoutError は停止要求後に合流できなかったことを表す
type DrainTimeoutError struct {
	Component string
	Stalled   int
	Timeout   time.Duration
}

func (e *DrainTimeoutError) Error() string {
	return fmt.Sprintf("%s: %d did not stop within %v", e.Component, e.Stalled, e.Timeout)
}

// IsDrainTimeout はエラーが DrainTimeoutError を含むかを返す
func IsDrainTimeout(err error) bool {
	var dte *DrainTimeoutError
	return errors.As(err, &dte)
}

// Outcome はワーカー群の実行結果
// Success + Errors + InFlight == Calls が常に成り立つ
type Outcome struct {
	Workers  int       `json:"workers"`
	Calls    uint64    `json:"calls"`
	Success  uint64    `json:"success"`
	Errors   uint64    `json:"errors"`
	Stalled  int       `json:"stalled"`
	InFlight uint64    `json:"in_flight"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
}

// Elapsed は開始から全ワーカー停止（または合流断念）までの時間
func (o Outcome) Elapsed() time.Duration {
	return o.Finished.Sub(o.Started)
}

// Driver は固定数のワーカーでゲートウェイを叩き続ける
type Driver struct {
	gw        gateway.Gateway
	recorder  *metrics.Recorder
	errors    *metrics.Counter
	config    Config
	observers []Observer
}

// NewDriver は新しいドライバーを作成する
func NewDriver(gw gateway.Gateway, recorder *metrics.Recorder, errs *metrics.Counter, config Config) *Driver {
	if config.DrainTimeout <= 0 {
		config.DrainTimeout = DefaultConfig().DrainTimeout
	}
	if errs == nil {
		errs = &metrics.Counter{}
	}
	return &Driver{
		gw:       gw,
		recorder: recorder,
		errors:   errs,
		config:   config,
	}
}

// AddObserver は呼び出し結果の通知先を追加する（Start前に呼ぶこと）
func (d *Driver) AddObserver(o Observer) {
	d.observers = append(d.observers, o)
}

// Run は1回分の実行状態
type Run struct {
	driver   *Driver
	workers  int
	deadline time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	stopped atomic.Bool

	wg   sync.WaitGroup
	done chan struct{}

	active  atomic.Int64
	calls   atomic.Uint64
	success atomic.Uint64
	errs    atomic.Uint64

	started  time.Time
	finished atomic.Int64 // UnixNano
}

// Start はちょうど concurrency 個のワーカーを起動する
func (d *Driver) Start(ctx context.Context, concurrency int, deadline time.Time, op Operation) (*Run, error) {
	if concurrency <= 0 {
		return nil, fmt.Errorf("concurrency must be > 0, got %d", concurrency)
	}
	if op == nil {
		return nil, fmt.Errorf("operation is required")
	}

	r := &Run{
		driver:   d,
		workers:  concurrency,
		deadline: deadline,
		done:     make(chan struct{}),
		started:  time.Now(),
	}
	r.ctx, r.cancel = context.WithCancel(ctx)

	for i := range concurrency {
		r.wg.Add(1)
		r.active.Add(1)
		go r.worker(i, op.NewTask(i))
	}

	go func() {
		r.wg.Wait()
		r.finished.Store(time.Now().UnixNano())
		close(r.done)
	}()

	logger.Info("", "Started %d workers (operation: %s, deadline: %s)",
		concurrency, op.Name(), deadline.Format("15:04:05.000"))
	return r, nil
}

// worker は締め切りか停止要求まで呼び出しを繰り返す
// 判定は呼び出しと呼び出しの間だけ行い、実行中の呼び出しは中断しない
func (r *Run) worker(id int, task Task) {
	d := r.driver
	tag := fmt.Sprintf("worker-%d", id)
	batch := d.recorder.NewBatch()

	for _, o := range d.observers {
		o.OnWorker(1)
	}
	defer func() {
		batch.Flush()
		r.active.Add(-1)
		for _, o := range d.observers {
			o.OnWorker(-1)
		}
		r.wg.Done()
	}()

	for {
		select {
		case <-r.ctx.Done():
			return
		default:
		}
		if !time.Now().Before(r.deadline) {
			return
		}

		task.Prepare()

		// 停止信号とは切り離す（実行中の呼び出しはキャンセルしない）
		callCtx := context.WithoutCancel(r.ctx)
		cancel := func() {}
		if d.config.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(callCtx, d.config.CallTimeout)
		}

		r.calls.Add(1)
		start := time.Now()
		err := task.Call(callCtx, d.gw)
		elapsed := time.Since(start)
		cancel()

		batch.Record(elapsed, err == nil)
		if err != nil {
			r.errs.Add(1)
			d.errors.Inc()
			logger.Debug(tag, "%s failed after %v: %v", task.Kind(), elapsed, err)
		} else {
			r.success.Add(1)
		}

		task.Done(err)
		for _, o := range d.observers {
			o.OnCall(task.Kind(), elapsed, err)
		}

		if batch.Len() >= flushEvery {
			batch.Flush()
		}
	}
}

// Stop は停止信号を送る。何度呼んでも信号は一度だけ
func (r *Run) Stop() {
	if r.stopped.CompareAndSwap(false, true) {
		r.cancel()
	}
}

// Done は全ワーカーが終了したら閉じられるチャネルを返す
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait は最大 timeout だけ全ワーカーの終了を待つ
// 間に合わなかった場合は DrainTimeoutError と、その時点の集計を返す
func (r *Run) Wait(timeout time.Duration) (Outcome, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-r.done:
		return r.outcome(), nil
	case <-timer.C:
	}

	out := r.outcome()
	logger.Error("", "%d of %d workers did not stop within %v (%d calls in flight)",
		out.Stalled, out.Workers, timeout, out.InFlight)
	return out, &DrainTimeoutError{Component: "workers", Stalled: out.Stalled, Timeout: timeout}
}

func (r *Run) outcome() Outcome {
	// success/errs を先に読むことで InFlight が負にならない
	success := r.success.Load()
	errs := r.errs.Load()
	calls := r.calls.Load()

	out := Outcome{
		Workers:  r.workers,
		Calls:    calls,
		Success:  success,
		Errors:   errs,
		Stalled:  int(r.active.Load()),
		InFlight: calls - success - errs,
		Started:  r.started,
		Finished: time.Now(),
	}
	if ns := r.finished.Load(); ns != 0 {
		out.Finished = time.Unix(0, ns)
	}
	return out
}

// Progress は実行中の集計値
type Progress struct {
	Calls  uint64
	Errors uint64
	Active int
}

// Progress は実行中の集計値を返す（ロックなし）
func (r *Run) Progress() Progress {
	return Progress{
		Calls:  r.calls.Load(),
		Errors: r.errs.Load(),
		Active: int(r.active.Load()),
	}
}

// Run は Start して締め切り（または ctx のキャンセル）まで待ち、停止して合流する
func (d *Driver) Run(ctx context.Context, concurrency int, deadline time.Time, op Operation) (Outcome, error) {
	r, err := d.Start(ctx, concurrency, deadline, op)
	if err != nil {
		return Outcome{}, err
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		logger.Warn("", "Run aborted: %v", ctx.Err())
	case <-r.Done():
	}

	r.Stop()
	return r.Wait(d.config.DrainTimeout)
}
