package bench

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/vmihailenco/msgpack"
	"gopkg.in/yaml.v3"

	"loadcheck/internal/chaos"
	"loadcheck/internal/metrics"
	"loadcheck/internal/verify"
)

// Status はレポートの完了状態
type Status string

const (
	StatusComplete   Status = "complete"
	StatusIncomplete Status = "incomplete"
)

// ConsistencyReport は整合性チェックの結果
type ConsistencyReport struct {
	verify.Summary `yaml:",inline" msgpack:",inline"`

	Expected verify.Bounds `json:"expected" yaml:"expected" msgpack:"expected"`
	Final    *verify.Result `json:"final,omitempty" yaml:"final,omitempty" msgpack:"final,omitempty"`
}

// Report はベンチマーク1回分の結果。REPORT で1度だけ作られ、以後変更されない
type Report struct {
	RunID       string   `json:"run_id" yaml:"run_id" msgpack:"run_id"`
	Name        string   `json:"name" yaml:"name" msgpack:"name"`
	Status      Status   `json:"status" yaml:"status" msgpack:"status"`
	Reasons     []string `json:"reasons,omitempty" yaml:"reasons,omitempty" msgpack:"reasons,omitempty"`
	Aborted     bool     `json:"aborted" yaml:"aborted" msgpack:"aborted"`
	Operation   string   `json:"operation" yaml:"operation" msgpack:"operation"`
	Gateway     string   `json:"gateway" yaml:"gateway" msgpack:"gateway"`
	Concurrency int      `json:"concurrency" yaml:"concurrency" msgpack:"concurrency"`

	StartTime time.Time     `json:"start_time" yaml:"start_time" msgpack:"start_time"`
	EndTime   time.Time     `json:"end_time" yaml:"end_time" msgpack:"end_time"`
	Duration  time.Duration `json:"duration_ns" yaml:"duration" msgpack:"duration_ns"`   // 設定上の実行時間
	WallTime  time.Duration `json:"wall_time_ns" yaml:"wall_time" msgpack:"wall_time_ns"` // RUNNING+DRAINING の実時間

	Throughput float64 `json:"throughput" yaml:"throughput" msgpack:"throughput"` // 完了呼び出し数 / 秒
	Calls      uint64  `json:"calls" yaml:"calls" msgpack:"calls"`
	Success    uint64  `json:"success" yaml:"success" msgpack:"success"`
	Errors     uint64  `json:"errors" yaml:"errors" msgpack:"errors"`
	InFlight   uint64  `json:"in_flight" yaml:"in_flight" msgpack:"in_flight"`
	Stalled    int     `json:"stalled_workers" yaml:"stalled_workers" msgpack:"stalled_workers"`
	ErrorRate  float64 `json:"error_rate" yaml:"error_rate" msgpack:"error_rate"`

	Latency     metrics.Snapshot   `json:"latency" yaml:"latency" msgpack:"latency"`
	Consistency *ConsistencyReport `json:"consistency,omitempty" yaml:"consistency,omitempty" msgpack:"consistency,omitempty"`
	Chaos       *chaos.Stats       `json:"chaos,omitempty" yaml:"chaos,omitempty" msgpack:"chaos,omitempty"`
}

// Complete は全ての構成要素が合流できたかを返す
func (r *Report) Complete() bool {
	return r.Status == StatusComplete
}

// Violations は違反数（チェック無効なら0）
func (r *Report) Violations() int {
	if r.Consistency == nil {
		return 0
	}
	return r.Consistency.Violations
}

// Format は出力形式
type Format string

const (
	FormatText    Format = "text"
	FormatJSON    Format = "json"
	FormatYAML    Format = "yaml"
	FormatMsgpack Format = "msgpack"
)

// Formats は利用可能な出力形式
func Formats() []Format {
	return []Format{FormatText, FormatJSON, FormatYAML, FormatMsgpack}
}

// Write はレポートを指定の形式で書き出す
func (r *Report) Write(w io.Writer, format Format) error {
	switch format {
	case FormatText, "":
		_, err := io.WriteString(w, r.Text())
		return err
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	case FormatMsgpack:
		return msgpack.NewEncoder(w).Encode(r)
	default:
		return fmt.Errorf("unknown output format %q (want one of %v)", format, Formats())
	}
}

// Summary は元のベンチマークスクリプトと同じ1行要約を返す
func (r *Report) Summary() string {
	return fmt.Sprintf("QPS: %.2f | Requests: %s (success %s, errors %s) | avg %s | p0 %s | p99 %s | duration %v | concurrency %d",
		r.Throughput,
		humanize.Comma(int64(r.Calls)),
		humanize.Comma(int64(r.Success)),
		humanize.Comma(int64(r.Errors)),
		r.Latency.Mean, r.Latency.P0, r.Latency.P99,
		r.WallTime.Round(time.Millisecond), r.Concurrency)
}

// Text は人が読むための整形済みレポートを返す
func (r *Report) Text() string {
	var b bytes.Buffer
	line := strings.Repeat("=", 80)

	fmt.Fprintf(&b, "\n%s\n%s\n%s\n\n", line, center("BENCHMARK REPORT: "+r.Name, 80), line)

	fmt.Fprintf(&b, "EXECUTION SUMMARY\n-----------------\n")
	fmt.Fprintf(&b, "  Run ID:         %s\n", r.RunID)
	fmt.Fprintf(&b, "  Status:         %s\n", r.Status)
	for _, reason := range r.Reasons {
		fmt.Fprintf(&b, "    - %s\n", reason)
	}
	if r.Aborted {
		fmt.Fprintf(&b, "  Aborted:        yes (manual stop)\n")
	}
	fmt.Fprintf(&b, "  Operation:      %s via %s\n", r.Operation, r.Gateway)
	fmt.Fprintf(&b, "  Concurrency:    %d\n", r.Concurrency)
	fmt.Fprintf(&b, "  Start Time:     %s\n", r.StartTime.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "  End Time:       %s\n", r.EndTime.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "  Duration:       %v (wall %v)\n\n", r.Duration, r.WallTime.Round(time.Millisecond))

	fmt.Fprintf(&b, "TRAFFIC METRICS\n---------------\n")
	fmt.Fprintf(&b, "  Throughput:     %.2f ops/s\n", r.Throughput)
	fmt.Fprintf(&b, "  Total Calls:    %s\n", humanize.Comma(int64(r.Calls)))
	fmt.Fprintf(&b, "  Success:        %s\n", humanize.Comma(int64(r.Success)))
	fmt.Fprintf(&b, "  Errors:         %s\n", humanize.Comma(int64(r.Errors)))
	fmt.Fprintf(&b, "  Error Rate:     %.2f%%\n", r.ErrorRate*100)
	if r.InFlight > 0 || r.Stalled > 0 {
		fmt.Fprintf(&b, "  In Flight:      %d (%d stalled workers)\n", r.InFlight, r.Stalled)
	}
	fmt.Fprintf(&b, "\nLATENCY (successful calls)\n--------------------------\n")
	fmt.Fprintf(&b, "  p0:             %s\n", r.Latency.P0)
	fmt.Fprintf(&b, "  p50:            %s\n", r.Latency.P50)
	fmt.Fprintf(&b, "  p99:            %s\n", r.Latency.P99)
	fmt.Fprintf(&b, "  mean:           %s\n", r.Latency.Mean)
	fmt.Fprintf(&b, "  max:            %s\n", r.Latency.Max)
	for _, bk := range r.Latency.Buckets {
		fmt.Fprintf(&b, "    <= %8.2fms  %s\n", bk.UpperMs, humanize.Comma(bk.Count))
	}

	if c := r.Consistency; c != nil {
		fmt.Fprintf(&b, "\nCONSISTENCY\n-----------\n")
		fmt.Fprintf(&b, "  Checks:         %d\n", c.Checks)
		fmt.Fprintf(&b, "  Violations:     %d (%.2f%%)\n", c.Violations, c.ViolationRate*100)
		fmt.Fprintf(&b, "  Query Errors:   %d\n", c.QueryErrors)
		fmt.Fprintf(&b, "  Streaks:        %d transient, %d persistent (longest %d)\n",
			c.TransientStreaks, c.PersistentStreaks, c.LongestStreak)
		fmt.Fprintf(&b, "  Recovered:      %v (max recovery %v)\n", c.Recovered, c.MaxRecovery.Round(time.Millisecond))
		fmt.Fprintf(&b, "  Expected:       [%d, %d]\n", c.Expected.Low, c.Expected.High)
		if f := c.Final; f != nil {
			switch {
			case f.Err != "":
				fmt.Fprintf(&b, "  Final Check:    error: %s\n", f.Err)
			case f.Matched:
				fmt.Fprintf(&b, "  Final Check:    ok (%d)\n", f.Observed)
			default:
				fmt.Fprintf(&b, "  Final Check:    MISMATCH observed %d, expected [%d, %d]\n",
					f.Observed, f.ExpectedLow, f.ExpectedHigh)
			}
		}
		for _, w := range c.Timeline {
			if w.Violations > 0 {
				fmt.Fprintf(&b, "    +%-8v %d/%d violations\n",
					w.Start.Sub(r.StartTime).Round(time.Second), w.Violations, w.Checks)
			}
		}
	}

	if r.Chaos != nil {
		fmt.Fprintf(&b, "\nCHAOS STATISTICS\n----------------\n")
		fmt.Fprintf(&b, "  Total Attacks:  %d\n", r.Chaos.TotalAttacks)
		for name, n := range r.Chaos.ByType {
			fmt.Fprintf(&b, "    %-10s %d\n", name+":", n)
		}
	}

	fmt.Fprintf(&b, "\n%s\n", r.Summary())
	fmt.Fprintf(&b, "%s\n", line)
	return b.String()
}

func center(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat(" ", (width-len(s))/2) + s
}
