package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/fatih/color"
	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"loadcheck/internal/bench"
	"loadcheck/internal/config"
	"loadcheck/internal/logger"
	"loadcheck/internal/metrics"
	"loadcheck/internal/observability"
	"loadcheck/internal/workload"
)

// gatewayFlags は run と serve で共通のゲートウェイ指定
type gatewayFlags struct {
	kind           string
	target         string
	collection     string
	token          string
	latency        time.Duration
	replicas       int
	replicationLag time.Duration
}

func (g *gatewayFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&g.kind, "gateway", "memory", "Gateway kind (memory, sqlite, mysql, postgres, zookeeper, rest)")
	cmd.Flags().StringVar(&g.target, "target", "", "Gateway target (DSN, host:port, or base URL)")
	cmd.Flags().StringVar(&g.collection, "collection", "", "Collection or table name")
	cmd.Flags().StringVar(&g.token, "token", "", "Bearer token for the rest gateway")
	cmd.Flags().DurationVar(&g.latency, "latency", 0, "Artificial latency per call (memory gateway)")
	cmd.Flags().IntVar(&g.replicas, "replicas", 0, "Read replicas (memory gateway)")
	cmd.Flags().DurationVar(&g.replicationLag, "replication-lag", 0, "Replication lag per replica (memory gateway)")
}

// apply は明示されたフラグだけを設定に反映する
func (g *gatewayFlags) apply(cmd *cobra.Command, c *bench.Config) {
	f := cmd.Flags()
	if f.Changed("gateway") {
		c.Gateway.Kind = g.kind
	}
	if f.Changed("target") {
		c.Gateway.Target = g.target
	}
	if f.Changed("collection") {
		c.Gateway.Collection = g.collection
	}
	if f.Changed("token") {
		c.Gateway.Token = g.token
	}
	if f.Changed("latency") {
		c.Gateway.Latency = g.latency
	}
	if f.Changed("replicas") {
		c.Gateway.Replicas = g.replicas
	}
	if f.Changed("replication-lag") {
		c.Gateway.ReplicationLag = g.replicationLag
	}
}

var runFlags struct {
	configFile    string
	preset        string
	concurrency   int
	duration      float64
	op            string
	expr          string
	outputFields  []string
	batchSize     int
	keySpace      int64
	keyMode       string
	writeRatio    float64
	vectorDim     int
	printResults  bool
	check         bool
	checkInterval float64
	checkExpr     string
	baseline      int64
	drainTimeout  time.Duration
	chaos         bool
	output        string
	reportFile    string
	progress      bool
	metricsAddr   string
	gateway       gatewayFlags
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one benchmark and print its report",
	Example: `  # Quick self-test against the in-memory store
  loadcheck run --preset quick

  # Query QPS with a filter, 20 workers for 60 seconds
  loadcheck run --op query --expr "pk >= 0" --concurrency 20 --duration 60

  # Concurrent upserts against PostgreSQL with count checks every 0.5s
  loadcheck run --gateway postgres --target "postgres://localhost/bench?sslmode=disable" \
      --op upsert --check-interval 0.5

  # From a config file, JSON report to a file
  loadcheck run --config bench.yaml --output json --report-file report.json`,
	Args: cobra.NoArgs,
	RunE: runBenchmark,
}

func init() {
	registerRunFlags(runCmd)
}

// registerRunFlags は run のフラグを cmd に登録する
func registerRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&runFlags.configFile, "config", "", "Config file path (YAML/JSON)")
	f.StringVar(&runFlags.preset, "preset", "", "Preset name (see 'loadcheck presets')")
	f.IntVar(&runFlags.concurrency, "concurrency", 0, "Number of concurrent workers")
	f.Float64Var(&runFlags.duration, "duration", 0, "Run duration in seconds")
	f.StringVar(&runFlags.op, "op", "", "Operation (upsert, insert, query, mixed)")
	f.StringVar(&runFlags.expr, "expr", "", "Filter expression for the query operation")
	f.StringSliceVar(&runFlags.outputFields, "output-fields", nil, "Output fields for the query operation (default count(*))")
	f.IntVar(&runFlags.batchSize, "batch-size", 0, "Records per write call")
	f.Int64Var(&runFlags.keySpace, "key-space", 0, "Keys per worker (disjoint) or shared key space (overlap)")
	f.StringVar(&runFlags.keyMode, "key-mode", "", "Upsert key selection (disjoint, overlap)")
	f.Float64Var(&runFlags.writeRatio, "write-ratio", 0, "Share of writes for the mixed operation (0..1)")
	f.IntVar(&runFlags.vectorDim, "vector-dim", 0, "Add a float vector field of this dimension to written records")
	f.BoolVar(&runFlags.printResults, "print-results", false, "Log every query result at debug level")
	f.BoolVar(&runFlags.check, "check", true, "Enable periodic count verification")
	f.Float64Var(&runFlags.checkInterval, "check-interval", 0, "Seconds between consistency checks")
	f.StringVar(&runFlags.checkExpr, "check-expr", "", "Filter expression for consistency checks")
	f.Int64Var(&runFlags.baseline, "baseline", 0, "Records present before the run")
	f.DurationVar(&runFlags.drainTimeout, "drain-timeout", 0, "How long to wait for workers to stop")
	f.BoolVar(&runFlags.chaos, "chaos", false, "Inject faults into the gateway")
	f.StringVarP(&runFlags.output, "output", "o", "text", "Report format (text, json, yaml, msgpack)")
	f.StringVar(&runFlags.reportFile, "report-file", "", "Write the report to this file instead of stdout")
	f.BoolVar(&runFlags.progress, "progress", false, "Show a progress bar while running")
	f.StringVar(&runFlags.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the run")
	runFlags.gateway.register(cmd)
}

// seconds は秒数の浮動小数をDurationにする
func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// buildConfig は設定ファイル → プリセット → デフォルトの順で設定を決め、フラグで上書きする
func buildConfig(cmd *cobra.Command) (bench.Config, error) {
	var cfg bench.Config
	rf := &runFlags

	switch {
	case rf.configFile != "":
		fileConfig, err := config.LoadFile(rf.configFile)
		if err != nil {
			return cfg, err
		}
		if err := fileConfig.Validate(); err != nil {
			return cfg, err
		}
		if cfg, err = fileConfig.ToBenchConfig(); err != nil {
			return cfg, err
		}
	case rf.preset != "":
		preset, ok := bench.GetPreset(rf.preset)
		if !ok {
			return cfg, fmt.Errorf("unknown preset: %s (available: %s)",
				rf.preset, strings.Join(bench.ListPresets(), ", "))
		}
		cfg = preset
	default:
		cfg = bench.DefaultConfig()
	}

	f := cmd.Flags()
	if f.Changed("concurrency") {
		cfg.Concurrency = rf.concurrency
	}
	if f.Changed("duration") {
		cfg.Duration = seconds(rf.duration)
	}
	if f.Changed("op") {
		cfg.Workload.Op = workload.Op(strings.ToLower(rf.op))
	}
	if f.Changed("expr") {
		cfg.Workload.Expr = rf.expr
	}
	if f.Changed("output-fields") {
		cfg.Workload.OutputFields = rf.outputFields
	}
	if f.Changed("batch-size") {
		cfg.Workload.BatchSize = rf.batchSize
	}
	if f.Changed("key-space") {
		cfg.Workload.KeySpace = rf.keySpace
	}
	if f.Changed("key-mode") {
		cfg.Workload.KeyMode = workload.KeyMode(strings.ToLower(rf.keyMode))
	}
	if f.Changed("write-ratio") {
		cfg.Workload.WriteRatio = rf.writeRatio
	}
	if f.Changed("vector-dim") {
		cfg.Workload.VectorDim = rf.vectorDim
	}
	if f.Changed("print-results") {
		cfg.Workload.PrintResults = rf.printResults
	}
	if f.Changed("baseline") {
		cfg.Workload.Baseline = rf.baseline
	}
	if f.Changed("check") {
		cfg.Consistency.Enabled = rf.check
	} else if cfg.Workload.Op == workload.OpQuery && cfg.Workload.Baseline == 0 {
		// 書き込みのない query は既存件数が分からないのでチェックしない
		cfg.Consistency.Enabled = false
	}
	if f.Changed("check-interval") {
		cfg.Consistency.Interval = seconds(rf.checkInterval)
	}
	if f.Changed("check-expr") {
		cfg.Consistency.Expr = rf.checkExpr
	}
	if f.Changed("drain-timeout") {
		cfg.DrainTimeout = rf.drainTimeout
	}
	if f.Changed("chaos") {
		cfg.Chaos.Enabled = rf.chaos
	}
	rf.gateway.apply(cmd, &cfg)

	return cfg, cfg.Validate()
}

func runBenchmark(cmd *cobra.Command, args []string) error {
	format := bench.Format(strings.ToLower(runFlags.output))
	if !validFormat(format) {
		return &bench.ConfigError{Err: fmt.Errorf("unknown output format %q", runFlags.output)}
	}

	cfg, err := buildConfig(cmd)
	if err != nil {
		if !bench.IsConfigError(err) {
			err = &bench.ConfigError{Err: err}
		}
		return err
	}

	shutdown, err := observability.InitTracer(otelEnabled, "loadcheck", otelEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Warn("", "trace shutdown: %v", err)
		}
	}()

	printHeader(cfg)

	// シグナルで中断しても DRAINING と REPORT は行う
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine := bench.New(cfg)

	if runFlags.metricsAddr != "" {
		exp := metrics.NewExporter()
		engine.SetExporter(exp)
		srv := serveMetrics(runFlags.metricsAddr, exp)
		defer srv.Close()
	}

	var done chan struct{}
	if runFlags.progress {
		done = make(chan struct{})
		go showProgress(engine, cfg.Duration, done)
	}

	report, err := engine.Run(ctx)
	if done != nil {
		close(done)
	}
	if err != nil {
		return err
	}

	if err := writeReport(report, format); err != nil {
		return err
	}
	printStatus(report)

	if !report.Complete() {
		return fmt.Errorf("%w: %s", errIncomplete, strings.Join(report.Reasons, "; "))
	}
	return nil
}

func validFormat(f bench.Format) bool {
	for _, v := range bench.Formats() {
		if f == v {
			return true
		}
	}
	return false
}

func printHeader(cfg bench.Config) {
	fmt.Fprintln(os.Stderr, "loadcheck - concurrent load generator with consistency checks")
	fmt.Fprintln(os.Stderr, "==============================================================")
	fmt.Fprintf(os.Stderr, "Benchmark: %s\n", cfg.Name)
	fmt.Fprintf(os.Stderr, "Operation: %s via %s\n", cfg.Workload.Op, cfg.Gateway.Kind)
	fmt.Fprintf(os.Stderr, "Duration: %v, Concurrency: %d\n", cfg.Duration, cfg.Concurrency)
	fmt.Fprintf(os.Stderr, "Checks: %v, Chaos: %v\n", cfg.Consistency.Enabled, cfg.Chaos.Enabled)
	fmt.Fprintln(os.Stderr, "==============================================================")
}

// serveMetrics は実行中のみ /metrics を公開する
func serveMetrics(addr string, exp *metrics.Exporter) *http.Server {
	r := chi.NewRouter()
	r.Handle("/metrics", exp.Handler())

	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("", "metrics server: %v", err)
		}
	}()
	logger.Info("", "Serving metrics on http://%s/metrics", addr)
	return srv
}

const progressTemplate pb.ProgressBarTemplate = `{{string . "phase"}} {{bar . }} {{percent . }} {{string . "calls"}}`

// showProgress は経過時間を進捗バーに表示する
func showProgress(engine *bench.Engine, total time.Duration, done <-chan struct{}) {
	bar := pb.New64(total.Milliseconds()).SetTemplate(progressTemplate).SetWriter(os.Stderr).Start()
	defer bar.Finish()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			p := engine.Progress()
			bar.SetCurrent(min(p.Elapsed.Milliseconds(), total.Milliseconds()))
			bar.Set("phase", p.Phase.String())
			bar.Set("calls", fmt.Sprintf("calls=%d errors=%d", p.Calls, p.Errors))
		}
	}
}

func writeReport(report *bench.Report, format bench.Format) error {
	var w io.Writer = os.Stdout
	if runFlags.reportFile != "" {
		f, err := os.Create(runFlags.reportFile)
		if err != nil {
			return fmt.Errorf("create report file: %w", err)
		}
		defer f.Close()
		w = f
	}
	if err := report.Write(w, format); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if runFlags.reportFile != "" {
		logger.Info("", "Report written to %s", runFlags.reportFile)
	}
	return nil
}

// printStatus は結果を色付きの1行で表示する
func printStatus(report *bench.Report) {
	out := os.Stderr
	switch {
	case !report.Complete():
		color.New(color.FgRed, color.Bold).Fprintf(out, "INCOMPLETE")
	case report.Violations() > 0:
		color.New(color.FgYellow, color.Bold).Fprintf(out, "COMPLETE with %d violations", report.Violations())
	default:
		color.New(color.FgGreen, color.Bold).Fprintf(out, "COMPLETE")
	}
	fmt.Fprintf(out, "  %s\n", report.Summary())
}
