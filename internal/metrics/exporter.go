package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter はライブの計測値をPrometheus形式で公開する
// 最終レポートの値はRecorderから計算し、こちらは実行中の監視用
type Exporter struct {
	registry *prometheus.Registry

	calls    *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	checks   *prometheus.CounterVec
	phase    prometheus.Gauge
	inflight prometheus.Gauge
}

// NewExporter は専用レジストリを持つExporterを作成する
func NewExporter() *Exporter {
	e := &Exporter{
		registry: prometheus.NewRegistry(),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loadcheck",
			Name:      "calls_total",
			Help:      "Gateway calls issued by workers, by operation kind and outcome.",
		}, []string{"op", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "loadcheck",
			Name:      "call_duration_seconds",
			Help:      "Wall time of gateway calls issued by workers.",
			Buckets:   prometheus.ExponentialBuckets(0.00025, 2, 16),
		}, []string{"op"}),
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "loadcheck",
			Name:      "consistency_checks_total",
			Help:      "Consistency checks by result (match, violation, error).",
		}, []string{"result"}),
		phase: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "loadcheck",
			Name:      "run_phase",
			Help:      "Current controller phase (0=init .. 5=done).",
		}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "loadcheck",
			Name:      "workers_active",
			Help:      "Workers currently running their loop.",
		}),
	}
	e.registry.MustRegister(e.calls, e.latency, e.checks, e.phase, e.inflight)
	return e
}

// OnCall はワーカーの1呼び出しを記録する
func (e *Exporter) OnCall(op string, d time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	e.calls.WithLabelValues(op, outcome).Inc()
	e.latency.WithLabelValues(op).Observe(d.Seconds())
}

// OnWorker はアクティブなワーカー数を増減する
func (e *Exporter) OnWorker(delta int) {
	e.inflight.Add(float64(delta))
}

// OnCheck は整合性チェックの結果を記録する
func (e *Exporter) OnCheck(matched bool, err error) {
	switch {
	case err != nil:
		e.checks.WithLabelValues("error").Inc()
	case matched:
		e.checks.WithLabelValues("match").Inc()
	default:
		e.checks.WithLabelValues("violation").Inc()
	}
}

// SetPhase は現在のフェーズ番号を設定する
func (e *Exporter) SetPhase(phase int) {
	e.phase.Set(float64(phase))
}

// Registry は内部レジストリを返す
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler は /metrics 用のHTTPハンドラを返す
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}
