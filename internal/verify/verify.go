package verify

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"loadcheck/internal/events"
	"loadcheck/internal/gateway"
	"loadcheck/internal/logger"
	"loadcheck/internal/worker"
)

const tag = "verifier"

// Bounds は期待件数の範囲 [Low, High]
type Bounds struct {
	Low  int64 `json:"low"`
	High int64 `json:"high"`
}

// Exact は幅0の範囲を返す
func Exact(n int64) Bounds {
	return Bounds{Low: n, High: n}
}

// Contains は n が範囲内かを返す
func (b Bounds) Contains(n int64) bool {
	return n >= b.Low && n <= b.High
}

// Union は両方を含む最小の範囲を返す
func (b Bounds) Union(o Bounds) Bounds {
	return Bounds{Low: min(b.Low, o.Low), High: max(b.High, o.High)}
}

// ExpectedSource は現在の期待件数を返す。並行に呼ばれる
type ExpectedSource interface {
	Expected() Bounds
}

// ExpectedFunc は単一値のアクセサを ExpectedSource にする
type ExpectedFunc func() int64

// Expected implements ExpectedSource.
func (f ExpectedFunc) Expected() Bounds {
	return Exact(f())
}

// CheckObserver はチェックごとの結果を受け取る（Prometheus など）
type CheckObserver interface {
	OnCheck(matched bool, err error)
}

// Config はVerifierの設定
type Config struct {
	Interval        time.Duration // チェック間隔
	Jitter          time.Duration // 間隔に加える一様乱数 [0, Jitter)
	Expr            string        // count(*) を取るフィルタ式
	QueryTimeout    time.Duration // 1クエリの上限（0で無制限）
	Window          time.Duration // 違反率タイムラインの幅
	PersistentAfter int           // この回数以上連続した違反を持続的とみなす
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Interval:        time.Second,
		Window:          time.Second,
		PersistentAfter: 3,
	}
}

// Result は1回のチェック結果
type Result struct {
	Seq          uint64        `json:"seq" yaml:"seq" msgpack:"seq"`
	Time         time.Time     `json:"time" yaml:"time" msgpack:"time"`
	Duration     time.Duration `json:"duration_ns" yaml:"duration" msgpack:"duration_ns"`
	Expected     int64         `json:"expected" yaml:"expected" msgpack:"expected"`
	ExpectedLow  int64         `json:"expected_low" yaml:"expected_low" msgpack:"expected_low"`
	ExpectedHigh int64         `json:"expected_high" yaml:"expected_high" msgpack:"expected_high"`
	Observed     int64         `json:"observed" yaml:"observed" msgpack:"observed"`
	Matched      bool          `json:"matched" yaml:"matched" msgpack:"matched"`
	Err          string        `json:"error,omitempty" yaml:"error,omitempty" msgpack:"error,omitempty"`
}

// Violation は観測値が範囲外だったかを返す（クエリエラーは違反ではない）
func (r Result) Violation() bool {
	return r.Err == "" && !r.Matched
}

// Verifier は書き込み中に件数の不変条件を定期的に確認する
type Verifier struct {
	gw       gateway.Gateway
	expected ExpectedSource
	config   Config
	eventBus *events.Bus
	observer CheckObserver
	tracer   trace.Tracer

	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}

	mu      sync.RWMutex
	started time.Time
	results []Result
}

// New は新しいVerifierを作成する
func New(gw gateway.Gateway, expected ExpectedSource, config Config) *Verifier {
	def := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.Window <= 0 {
		config.Window = def.Window
	}
	if config.PersistentAfter <= 0 {
		config.PersistentAfter = def.PersistentAfter
	}
	return &Verifier{
		gw:       gw,
		expected: expected,
		config:   config,
		tracer:   otel.Tracer("loadcheck/verify"),
	}
}

// SetEventBus はイベントバスを設定する
func (v *Verifier) SetEventBus(bus *events.Bus) {
	v.eventBus = bus
}

// SetObserver はチェック結果の通知先を設定する
func (v *Verifier) SetObserver(o CheckObserver) {
	v.observer = o
}

// Start はチェックループを開始する。二重に呼んでも1つしか動かない
func (v *Verifier) Start(ctx context.Context) {
	if v.running.Swap(true) {
		return
	}

	var loopCtx context.Context
	loopCtx, v.cancel = context.WithCancel(ctx)
	v.done = make(chan struct{})

	v.mu.Lock()
	v.started = time.Now()
	v.mu.Unlock()

	go v.loop(loopCtx)

	logger.Info(tag, "Verifier started (interval: %v, jitter: %v, expr: %q)",
		v.config.Interval, v.config.Jitter, v.config.Expr)
}

// Stop はループを止め、最大 timeout だけ終了を待つ
// 実行中のチェックはクエリごとキャンセルされ、その結果は捨てられる
func (v *Verifier) Stop(timeout time.Duration) error {
	if !v.running.Swap(false) {
		return nil
	}
	v.cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-v.done:
	case <-timer.C:
		logger.Error(tag, "Verifier did not stop within %v", timeout)
		return &worker.DrainTimeoutError{Component: tag, Stalled: 1, Timeout: timeout}
	}

	s := v.Summary()
	logger.Info(tag, "Verifier stopped (checks: %d, violations: %d, query errors: %d)",
		s.Checks, s.Violations, s.QueryErrors)
	return nil
}

// loop はチェックを1つずつ順番に実行する（重ならない）
func (v *Verifier) loop(ctx context.Context) {
	defer close(v.done)

	var seq uint64
	for {
		seq++
		if r, ok := v.check(ctx, seq); ok {
			v.record(r)
		}

		wait := v.config.Interval
		if v.config.Jitter > 0 {
			wait += time.Duration(rand.Int64N(int64(v.config.Jitter)))
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// check は期待値を読み、クエリを1回発行し、もう一度期待値を読む
// 観測値が2回分の範囲の和に入っていれば一致とする
func (v *Verifier) check(ctx context.Context, seq uint64) (Result, bool) {
	if ctx.Err() != nil {
		return Result{}, false
	}

	ctx, span := v.tracer.Start(ctx, "verify.check",
		trace.WithAttributes(attribute.Int64("check.seq", int64(seq))))
	defer span.End()

	start := time.Now()
	before := v.expected.Expected()

	qctx := ctx
	if v.config.QueryTimeout > 0 {
		var cancel context.CancelFunc
		qctx, cancel = context.WithTimeout(ctx, v.config.QueryTimeout)
		defer cancel()
	}
	rows, err := v.gw.Query(qctx, v.config.Expr, []string{gateway.CountField})

	after := v.expected.Expected()

	// 停止によるキャンセルは結果に含めない
	if ctx.Err() != nil {
		span.SetAttributes(attribute.Bool("check.discarded", true))
		return Result{}, false
	}

	var observed int64
	if err == nil {
		observed, err = gateway.Count(rows)
	}

	bounds := before.Union(after)
	r := Result{
		Seq:          seq,
		Time:         start,
		Duration:     time.Since(start),
		Expected:     after.Low,
		ExpectedLow:  bounds.Low,
		ExpectedHigh: bounds.High,
		Observed:     observed,
	}
	if err != nil {
		r.Err = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		return r, true
	}

	r.Matched = bounds.Contains(observed)
	span.SetAttributes(
		attribute.Int64("check.observed", observed),
		attribute.Int64("check.expected_low", bounds.Low),
		attribute.Int64("check.expected_high", bounds.High),
		attribute.Bool("check.matched", r.Matched),
	)
	return r, true
}

func (v *Verifier) record(r Result) {
	v.mu.Lock()
	v.results = append(v.results, r)
	v.mu.Unlock()

	var err error
	switch {
	case r.Err != "":
		err = errors.New(r.Err)
		logger.Warn(tag, "check #%d: query failed: %s", r.Seq, r.Err)
	case !r.Matched:
		logger.Warn(tag, "check #%d: VIOLATION observed %d, expected [%d, %d]",
			r.Seq, r.Observed, r.ExpectedLow, r.ExpectedHigh)
		v.eventBus.Publish(events.NewViolationEvent(r.Seq, r.ExpectedLow, r.ExpectedHigh, r.Observed))
	default:
		logger.Debug(tag, "check #%d: observed %d within [%d, %d]",
			r.Seq, r.Observed, r.ExpectedLow, r.ExpectedHigh)
	}

	if v.observer != nil {
		v.observer.OnCheck(r.Matched, err)
	}
}

// CheckOnce はループとは別に1回だけチェックする（書き込み停止後の最終確認用）
// 結果はタイムラインには含めない
func (v *Verifier) CheckOnce(ctx context.Context) Result {
	r, ok := v.check(ctx, 0)
	if !ok {
		return Result{Time: time.Now(), Err: ctx.Err().Error()}
	}
	if r.Err == "" && !r.Matched {
		logger.Warn(tag, "final check: observed %d, expected [%d, %d]",
			r.Observed, r.ExpectedLow, r.ExpectedHigh)
	} else if r.Err == "" {
		logger.Info(tag, "final check: count matches (%d)", r.Observed)
	}
	return r
}

// Results は記録済みのチェック結果のコピーを返す
func (v *Verifier) Results() []Result {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := make([]Result, len(v.results))
	copy(out, v.results)
	return out
}

// Summary は記録済みの結果を集計する
func (v *Verifier) Summary() Summary {
	v.mu.RLock()
	start := v.started
	v.mu.RUnlock()

	return Summarize(v.Results(), start, v.config.Window, v.config.PersistentAfter)
}
