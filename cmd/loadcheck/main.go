// Package main is the entry point for loadcheck.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"loadcheck/internal/bench"
	"loadcheck/internal/logger"

	_ "loadcheck/internal/gateway/all"
)

var version = "dev"

// 終了コード
const (
	exitOK         = 0
	exitFailure    = 1
	exitConfig     = 2
	exitWarmup     = 3
	exitIncomplete = 4
)

// errIncomplete は構成要素が合流できずにレポートが incomplete になったことを表す
var errIncomplete = errors.New("run incomplete")

var (
	logLevel     string
	otelEnabled  bool
	otelEndpoint string
)

func main() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(exitCode(err))
}

// exitCode はエラーを終了コードに対応付ける
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case bench.IsConfigError(err):
		return exitConfig
	case bench.IsWarmupError(err):
		return exitWarmup
	case errors.Is(err, errIncomplete):
		return exitIncomplete
	default:
		return exitFailure
	}
}

var rootCmd = &cobra.Command{
	Use:   "loadcheck",
	Short: "loadcheck - concurrent load generator with consistency checks",
	Long: `loadcheck drives a fixed number of concurrent workers against a datastore
for a fixed duration, records per-call latency, and periodically checks that
the observed record count matches what the workers have acknowledged.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logger.ParseLevel(logLevel)
		if err != nil {
			return &bench.ConfigError{Err: err}
		}
		logger.SetLevel(level)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("loadcheck version %s\n", version)
	},
}

var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List the available presets",
	Run: func(cmd *cobra.Command, args []string) {
		printPresets()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&otelEnabled, "otel", false, "Enable OpenTelemetry tracing")
	rootCmd.PersistentFlags().StringVar(&otelEndpoint, "otel-endpoint", "", "OTLP HTTP endpoint (host:port) for traces; if empty uses stdout exporter")

	// フラグの解析エラーは設定エラーとして扱う
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &bench.ConfigError{Err: err}
	})

	rootCmd.AddCommand(runCmd, serveCmd, presetsCmd, versionCmd)
}

// printPresets は利用可能なプリセットを表示する
func printPresets() {
	fmt.Println("Available presets:")
	fmt.Println()

	for _, name := range bench.ListPresets() {
		c, _ := bench.GetPreset(name)
		fmt.Printf("  %-16s %s\n", name, c.Description)
		fmt.Printf("  %-16s op=%s concurrency=%d duration=%v chaos=%v\n", "",
			c.Workload.Op, c.Concurrency, c.Duration, c.Chaos.Enabled)
	}

	fmt.Println()
	fmt.Println("Example: loadcheck run --preset quick")
}
