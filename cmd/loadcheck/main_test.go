package main

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"loadcheck/internal/bench"
	"loadcheck/internal/workload"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"ok", nil, exitOK},
		{"config", &bench.ConfigError{Err: errors.New("bad")}, exitConfig},
		{"warmup", fmt.Errorf("run: %w", &bench.WarmupError{Err: errors.New("down")}), exitWarmup},
		{"incomplete", fmt.Errorf("%w: workers", errIncomplete), exitIncomplete},
		{"other", errors.New("boom"), exitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestSeconds(t *testing.T) {
	if got := seconds(1.5); got != 1500*time.Millisecond {
		t.Errorf("expected 1.5s, got %v", got)
	}
	if got := seconds(0.25); got != 250*time.Millisecond {
		t.Errorf("expected 250ms, got %v", got)
	}
}

// newRunCmd は run のフラグだけを持つコマンドを作る
func newRunCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "run"}
	registerRunFlags(cmd)
	if err := cmd.Flags().Parse(args); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	return cmd
}

func TestBuildConfigFlags(t *testing.T) {
	cmd := newRunCmd(t,
		"--preset", "query-qps",
		"--concurrency", "20",
		"--duration", "2.5",
		"--expr", "pk in [1, 2]",
		"--check-interval", "0.5",
		"--check=true",
		"--latency", "3ms",
		"--replicas", "2",
	)

	cfg, err := buildConfig(cmd)
	if err != nil {
		t.Fatalf("buildConfig: %v", err)
	}
	if cfg.Name != "query-qps" || cfg.Workload.Op != workload.OpQuery {
		t.Errorf("expected query-qps preset, got %s/%s", cfg.Name, cfg.Workload.Op)
	}
	if cfg.Concurrency != 20 {
		t.Errorf("expected concurrency 20, got %d", cfg.Concurrency)
	}
	if cfg.Duration != 2500*time.Millisecond {
		t.Errorf("expected duration 2.5s, got %v", cfg.Duration)
	}
	if cfg.Workload.Expr != "pk in [1, 2]" {
		t.Errorf("unexpected expr %q", cfg.Workload.Expr)
	}
	if !cfg.Consistency.Enabled || cfg.Consistency.Interval != 500*time.Millisecond {
		t.Errorf("expected checks every 500ms, got %+v", cfg.Consistency)
	}
	if cfg.Gateway.Latency != 3*time.Millisecond || cfg.Gateway.Replicas != 2 {
		t.Errorf("unexpected gateway %+v", cfg.Gateway)
	}
	// 指定していない項目はプリセットのまま
	if cfg.Gateway.Kind != "memory" {
		t.Errorf("expected memory gateway, got %s", cfg.Gateway.Kind)
	}
}

func TestBuildConfigQueryChecks(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want bool
	}{
		{"query without baseline", []string{"--op", "query"}, false},
		{"query with baseline", []string{"--op", "query", "--baseline", "500"}, true},
		{"query with explicit check", []string{"--op", "query", "--check=true"}, true},
		{"upsert", []string{"--op", "upsert"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := buildConfig(newRunCmd(t, tt.args...))
			if err != nil {
				t.Fatalf("buildConfig: %v", err)
			}
			if cfg.Consistency.Enabled != tt.want {
				t.Errorf("expected checks enabled=%v, got %v", tt.want, cfg.Consistency.Enabled)
			}
		})
	}
}

func TestBuildConfigBadCheckExpr(t *testing.T) {
	_, err := buildConfig(newRunCmd(t, "--check-expr", "pk <"))
	if !bench.IsConfigError(err) {
		t.Fatalf("expected ConfigError, got %v", err)
	}

	_, err = buildConfig(newRunCmd(t, "--check-expr", "int1 > 150"))
	if !bench.IsConfigError(err) {
		t.Errorf("expected ConfigError for a field not derived from the key, got %v", err)
	}
}

func TestValidFormat(t *testing.T) {
	for _, f := range bench.Formats() {
		if !validFormat(f) {
			t.Errorf("expected %s to be valid", f)
		}
	}
	if validFormat("xml") {
		t.Error("expected xml to be invalid")
	}
}
