package bench

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"loadcheck/internal/chaos"
	"loadcheck/internal/events"
	"loadcheck/internal/gateway"
	"loadcheck/internal/logger"
	"loadcheck/internal/metrics"
	"loadcheck/internal/verify"
	"loadcheck/internal/worker"
	"loadcheck/internal/workload"
)

const tag = "bench"

// ErrAlreadyRunning は実行中に Run を呼んだときに返される
var ErrAlreadyRunning = errors.New("benchmark is already running")

// Opener はゲートウェイを開く関数
type Opener func(gateway.Config) (gateway.Gateway, error)

// Progress は実行中の進捗
type Progress struct {
	RunID     string        `json:"run_id"`
	Phase     Phase         `json:"phase"`
	Calls     uint64        `json:"calls"`
	Errors    uint64        `json:"errors"`
	Active    int           `json:"active"`
	Elapsed   time.Duration `json:"elapsed_ns"`
	Remaining time.Duration `json:"remaining_ns"`
}

// Engine はベンチマークの実行エンジン
// INIT → WARMUP → RUNNING → DRAINING → REPORT → DONE の順に進む
type Engine struct {
	config   Config
	eventBus *events.Bus
	exporter *metrics.Exporter
	open     Opener
	tracer   trace.Tracer

	phase   atomic.Int32
	running atomic.Bool

	mu       sync.RWMutex
	runID    string
	run      *worker.Run
	started  time.Time
	deadline time.Time
	report   *Report
}

// New は新しいEngineを作成する
func New(config Config) *Engine {
	return &Engine{
		config: config,
		open:   gateway.Open,
		tracer: otel.Tracer("loadcheck/bench"),
	}
}

// SetEventBus はイベントバスを設定する
func (e *Engine) SetEventBus(bus *events.Bus) {
	e.eventBus = bus
}

// SetExporter はPrometheusエクスポータを設定する
func (e *Engine) SetExporter(exp *metrics.Exporter) {
	e.exporter = exp
}

// SetOpener はゲートウェイの開き方を差し替える
func (e *Engine) SetOpener(open Opener) {
	e.open = open
}

// Config は設定を返す
func (e *Engine) Config() Config {
	return e.config
}

// Phase は現在のフェーズを返す
func (e *Engine) Phase() Phase {
	return Phase(e.phase.Load())
}

// IsRunning は実行中かどうかを返す
func (e *Engine) IsRunning() bool {
	return e.running.Load()
}

// RunID は直近の実行IDを返す
func (e *Engine) RunID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.runID
}

// LastReport は直近のレポートを返す（未完了なら nil）
func (e *Engine) LastReport() *Report {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.report
}

// Progress は実行中の進捗を返す
func (e *Engine) Progress() Progress {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p := Progress{RunID: e.runID, Phase: e.Phase()}
	if e.run != nil {
		rp := e.run.Progress()
		p.Calls, p.Errors, p.Active = rp.Calls, rp.Errors, rp.Active
	}
	if !e.started.IsZero() {
		p.Elapsed = time.Since(e.started)
		if p.Phase == PhaseRunning {
			p.Remaining = max(time.Until(e.deadline), 0)
		}
	}
	return p
}

func (e *Engine) setPhase(ctx context.Context, p Phase) {
	e.phase.Store(int32(p))
	if e.exporter != nil {
		e.exporter.SetPhase(int(p))
	}
	trace.SpanFromContext(ctx).AddEvent("phase", trace.WithAttributes(attribute.String("phase", p.String())))
	logger.Info(tag, "phase %s", p)
	e.eventBus.Publish(events.NewPhaseEvent(e.RunID(), p.String()))
}

// Run はベンチマークを1回実行する
// ConfigError と WarmupError のときはレポートを返さない
// 合流できなかった構成要素があればレポートの Status が incomplete になる
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	if e.running.Swap(true) {
		return nil, ErrAlreadyRunning
	}
	defer e.running.Store(false)

	runID := uuid.NewString()
	e.mu.Lock()
	e.runID = runID
	e.run = nil
	e.started = time.Time{}
	e.report = nil
	e.mu.Unlock()

	ctx, span := e.tracer.Start(ctx, "bench.run", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("run.name", e.config.Name),
		attribute.Int("run.concurrency", e.config.Concurrency),
		attribute.String("run.operation", string(e.config.Workload.Op)),
	))
	defer span.End()

	logger.Info(tag, "=== Benchmark '%s' started (run %s) ===", e.config.Name, runID)

	report, err := e.execute(ctx)
	e.setPhase(ctx, PhaseDone)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error(tag, "Benchmark '%s' failed: %v", e.config.Name, err)
		e.eventBus.Publish(events.NewRunCompleteEvent(runID, "failed", err))
		return nil, err
	}

	span.SetAttributes(attribute.String("run.status", string(report.Status)))
	e.eventBus.Publish(events.NewRunCompleteEvent(runID, string(report.Status), nil))
	logger.Info(tag, "=== Benchmark '%s' finished: %s ===", e.config.Name, report.Status)
	return report, nil
}

func (e *Engine) execute(ctx context.Context) (*Report, error) {
	cfg := e.config

	// INIT
	e.setPhase(ctx, PhaseInit)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	wl, err := workload.New(cfg.WorkloadConfig())
	if err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("workload: %w", err)}
	}
	raw, err := e.open(cfg.Gateway)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	defer func() {
		if err := raw.Close(); err != nil {
			logger.Warn(tag, "failed to close gateway: %v", err)
		}
	}()

	var gw gateway.Gateway = raw
	var monkey *chaos.Monkey
	if cfg.Chaos.Enabled {
		wrapped := chaos.Wrap(raw)
		gw = wrapped
		monkey = chaos.New(wrapped, chaos.Config{
			Interval:       cfg.Chaos.Interval,
			AttackTypes:    cfg.Chaos.AttackTypes,
			DelayDuration:  cfg.Chaos.DelayDuration,
			AttackDuration: cfg.Chaos.AttackDuration,
		})
		monkey.SetEventBus(e.eventBus)
	}

	// WARMUP
	e.setPhase(ctx, PhaseWarmup)
	if err := e.warmup(ctx, gw, wl); err != nil {
		return nil, &WarmupError{Err: err}
	}

	// RUNNING
	recorder := metrics.New()
	errCount := &metrics.Counter{}
	driver := worker.NewDriver(gw, recorder, errCount, worker.Config{
		DrainTimeout: cfg.DrainTimeout,
		CallTimeout:  cfg.CallTimeout,
	})
	if e.exporter != nil {
		driver.AddObserver(e.exporter)
	}

	var verifier *verify.Verifier
	if cfg.Consistency.Enabled {
		verifier = verify.New(gw, wl, verify.Config{
			Interval:        cfg.Consistency.Interval,
			Jitter:          cfg.Consistency.Jitter,
			Expr:            cfg.Consistency.Expr,
			QueryTimeout:    cfg.Consistency.QueryTimeout,
			Window:          cfg.Consistency.Window,
			PersistentAfter: cfg.Consistency.PersistentAfter,
		})
		verifier.SetEventBus(e.eventBus)
		if e.exporter != nil {
			verifier.SetObserver(e.exporter)
		}
	}

	e.setPhase(ctx, PhaseRunning)
	start := time.Now()
	deadline := start.Add(cfg.Duration)
	run, err := driver.Start(ctx, cfg.Concurrency, deadline, wl)
	if err != nil {
		return nil, &ConfigError{Err: err}
	}
	e.mu.Lock()
	e.run = run
	e.started = start
	e.deadline = deadline
	e.mu.Unlock()

	if verifier != nil {
		verifier.Start(ctx)
	}
	if monkey != nil {
		monkey.Start(ctx)
	}

	aborted := e.wait(ctx, run, deadline)

	// DRAINING
	e.setPhase(ctx, PhaseDraining)
	var reasons []string
	run.Stop()
	outcome, werr := run.Wait(cfg.DrainTimeout)
	if werr != nil {
		reasons = append(reasons, werr.Error())
	}
	if verifier != nil {
		if err := verifier.Stop(cfg.DrainTimeout); err != nil {
			reasons = append(reasons, err.Error())
		}
	}
	var chaosStats *chaos.Stats
	if monkey != nil {
		if err := monkey.Stop(cfg.DrainTimeout); err != nil {
			reasons = append(reasons, err.Error())
		}
		s := monkey.Stats()
		chaosStats = &s
	}
	wall := time.Since(start)

	// REPORT
	e.setPhase(ctx, PhaseReport)
	report := &Report{
		RunID:       e.RunID(),
		Name:        cfg.Name,
		Status:      StatusComplete,
		Reasons:     reasons,
		Aborted:     aborted,
		Operation:   wl.Name(),
		Gateway:     cfg.Gateway.Kind,
		Concurrency: cfg.Concurrency,
		StartTime:   start,
		EndTime:     time.Now(),
		Duration:    cfg.Duration,
		WallTime:    wall,
		Calls:       outcome.Calls,
		Success:     outcome.Success,
		Errors:      outcome.Errors,
		InFlight:    outcome.InFlight,
		Stalled:     outcome.Stalled,
		Latency:     recorder.Snapshot(),
		Chaos:       chaosStats,
	}
	if len(reasons) > 0 {
		report.Status = StatusIncomplete
	}
	if done := outcome.Success + outcome.Errors; done > 0 {
		report.ErrorRate = float64(outcome.Errors) / float64(done)
		if wall > 0 {
			report.Throughput = float64(done) / wall.Seconds()
		}
	}

	if verifier != nil {
		cr := &ConsistencyReport{
			Summary:  verifier.Summary(),
			Expected: wl.Expected(),
		}
		// 書き込みが全て止まったときだけ最終確認に意味がある
		if cfg.Consistency.FinalCheck && werr == nil && !aborted {
			fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.DrainTimeout)
			final := verifier.CheckOnce(fctx)
			cancel()
			cr.Final = &final
		}
		report.Consistency = cr
	}

	e.mu.Lock()
	e.report = report
	e.mu.Unlock()

	return report, nil
}

// warmup は1回だけ同期的に呼び出し、到達性と操作の妥当性を確認する
func (e *Engine) warmup(ctx context.Context, gw gateway.Gateway, op worker.Operation) error {
	ctx, span := e.tracer.Start(ctx, "bench.warmup")
	defer span.End()

	wctx := ctx
	if e.config.WarmupTimeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, e.config.WarmupTimeout)
		defer cancel()
	}

	task := op.NewTask(0)
	task.Prepare()
	start := time.Now()
	err := task.Call(wctx, gw)
	task.Done(err)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("%s: %w", task.Kind(), err)
	}
	logger.Info(tag, "warmup %s succeeded in %v", task.Kind(), time.Since(start).Round(time.Microsecond))
	return nil
}

// wait は締め切りか中断まで待つ。実行中は進捗イベントを発行する
// 中断された場合 true を返す
func (e *Engine) wait(ctx context.Context, run *worker.Run, deadline time.Time) bool {
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	interval := e.config.ProgressInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-timer.C:
			return false
		case <-run.Done():
			return false
		case <-ctx.Done():
			logger.Warn(tag, "run aborted: %v", ctx.Err())
			return true
		case <-ticker.C:
			p := e.Progress()
			e.eventBus.Publish(events.NewProgressEvent(p.Calls, p.Errors, p.Active, p.Elapsed))
		}
	}
}
