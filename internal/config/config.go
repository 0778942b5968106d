package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"loadcheck/internal/bench"
	"loadcheck/internal/chaos"
	"loadcheck/internal/workload"

	"gopkg.in/yaml.v3"
)

// FileConfig は設定ファイルの構造
type FileConfig struct {
	Benchmark BenchmarkConfig `yaml:"benchmark" json:"benchmark"`
}

// BenchmarkConfig はベンチマーク設定
type BenchmarkConfig struct {
	Preset      string `yaml:"preset" json:"preset"` // 空ならデフォルト設定から始める
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`

	Concurrency      int    `yaml:"concurrency" json:"concurrency"`
	Duration         string `yaml:"duration" json:"duration"`
	WarmupTimeout    string `yaml:"warmup_timeout" json:"warmup_timeout"`
	DrainTimeout     string `yaml:"drain_timeout" json:"drain_timeout"`
	CallTimeout      string `yaml:"call_timeout" json:"call_timeout"`
	ProgressInterval string `yaml:"progress_interval" json:"progress_interval"`

	Workload    WorkloadConfig    `yaml:"workload" json:"workload"`
	Gateway     GatewayConfig     `yaml:"gateway" json:"gateway"`
	Consistency ConsistencyConfig `yaml:"consistency" json:"consistency"`
	Chaos       ChaosConfig       `yaml:"chaos" json:"chaos"`
}

// WorkloadConfig はワークロード設定
type WorkloadConfig struct {
	Op           string   `yaml:"op" json:"op"`
	BatchSize    int      `yaml:"batch_size" json:"batch_size"`
	KeySpace     int64    `yaml:"key_space" json:"key_space"`
	KeyMode      string   `yaml:"key_mode" json:"key_mode"`
	KeyOffset    int64    `yaml:"key_offset" json:"key_offset"`
	WriteRatio   *float64 `yaml:"write_ratio" json:"write_ratio"`
	Expr         string   `yaml:"expr" json:"expr"`
	OutputFields []string `yaml:"output_fields" json:"output_fields"`
	VectorDim    int      `yaml:"vector_dim" json:"vector_dim"`
	Baseline     int64    `yaml:"baseline" json:"baseline"`
	PrintResults bool     `yaml:"print_results" json:"print_results"`
	Seed         uint64   `yaml:"seed" json:"seed"`
}

// GatewayConfig はゲートウェイ設定
type GatewayConfig struct {
	Kind           string `yaml:"kind" json:"kind"`
	Target         string `yaml:"target" json:"target"`
	Collection     string `yaml:"collection" json:"collection"`
	PrimaryKey     string `yaml:"primary_key" json:"primary_key"`
	Token          string `yaml:"token" json:"token"`
	Timeout        string `yaml:"timeout" json:"timeout"`
	CreateTable    bool   `yaml:"create_table" json:"create_table"`
	Latency        string `yaml:"latency" json:"latency"`
	Replicas       int    `yaml:"replicas" json:"replicas"`
	ReplicationLag string `yaml:"replication_lag" json:"replication_lag"`
}

// ConsistencyConfig は整合性チェック設定
// enabled と final_check は省略時にプリセットの値を残す
type ConsistencyConfig struct {
	Enabled         *bool  `yaml:"enabled" json:"enabled"`
	Interval        string `yaml:"interval" json:"interval"`
	Jitter          string `yaml:"jitter" json:"jitter"`
	Expr            string `yaml:"expr" json:"expr"`
	QueryTimeout    string `yaml:"query_timeout" json:"query_timeout"`
	Window          string `yaml:"window" json:"window"`
	PersistentAfter int    `yaml:"persistent_after" json:"persistent_after"`
	FinalCheck      *bool  `yaml:"final_check" json:"final_check"`
}

// ChaosConfig はカオス設定
type ChaosConfig struct {
	Enabled     bool     `yaml:"enabled" json:"enabled"`
	Interval    string   `yaml:"interval" json:"interval"`
	AttackTypes []string `yaml:"attack_types" json:"attack_types"`
	DelayAmount string   `yaml:"delay_amount" json:"delay_amount"`
	AttackTime  string   `yaml:"attack_time" json:"attack_time"`
}

// LoadFile は設定ファイルを読み込む
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config FileConfig
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}

	return &config, nil
}

// durations は "名前: 値" の組を順に解析し、空でないものだけ代入する
type durations []struct {
	name  string
	value string
	dst   *time.Duration
}

func (ds durations) apply() error {
	for _, d := range ds {
		if d.value == "" {
			continue
		}
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", d.name, err)
		}
		*d.dst = v
	}
	return nil
}

// ToBenchConfig はFileConfigをbench.Configに変換する
// 指定のない項目はプリセット（なければデフォルト）の値を残す
func (f *FileConfig) ToBenchConfig() (bench.Config, error) {
	bc := f.Benchmark

	config := bench.DefaultConfig()
	if bc.Preset != "" {
		p, ok := bench.GetPreset(bc.Preset)
		if !ok {
			return config, fmt.Errorf("unknown preset: %s (available: %s)",
				bc.Preset, strings.Join(bench.ListPresets(), ", "))
		}
		config = p
	}

	if bc.Name != "" {
		config.Name = bc.Name
	}
	if bc.Description != "" {
		config.Description = bc.Description
	}
	if bc.Concurrency > 0 {
		config.Concurrency = bc.Concurrency
	}

	// Workload設定
	w := bc.Workload
	if w.Op != "" {
		config.Workload.Op = workload.Op(strings.ToLower(w.Op))
	}
	if w.BatchSize > 0 {
		config.Workload.BatchSize = w.BatchSize
	}
	if w.KeySpace > 0 {
		config.Workload.KeySpace = w.KeySpace
	}
	if w.KeyMode != "" {
		config.Workload.KeyMode = workload.KeyMode(strings.ToLower(w.KeyMode))
	}
	if w.KeyOffset > 0 {
		config.Workload.KeyOffset = w.KeyOffset
	}
	if w.WriteRatio != nil {
		config.Workload.WriteRatio = *w.WriteRatio
	}
	if w.Expr != "" {
		config.Workload.Expr = w.Expr
	}
	if len(w.OutputFields) > 0 {
		config.Workload.OutputFields = w.OutputFields
	}
	if w.VectorDim > 0 {
		config.Workload.VectorDim = w.VectorDim
	}
	if w.Baseline > 0 {
		config.Workload.Baseline = w.Baseline
	}
	if w.Seed > 0 {
		config.Workload.Seed = w.Seed
	}
	config.Workload.PrintResults = config.Workload.PrintResults || w.PrintResults

	// Gateway設定
	g := bc.Gateway
	if g.Kind != "" {
		config.Gateway.Kind = g.Kind
	}
	if g.Target != "" {
		config.Gateway.Target = g.Target
	}
	if g.Collection != "" {
		config.Gateway.Collection = g.Collection
	}
	if g.PrimaryKey != "" {
		config.Gateway.PrimaryKey = g.PrimaryKey
		config.Workload.PrimaryKey = g.PrimaryKey
	}
	if g.Token != "" {
		config.Gateway.Token = g.Token
	}
	if g.Replicas > 0 {
		config.Gateway.Replicas = g.Replicas
	}
	config.Gateway.CreateTable = config.Gateway.CreateTable || g.CreateTable

	// Consistency設定
	c := bc.Consistency
	if c.Enabled != nil {
		config.Consistency.Enabled = *c.Enabled
	} else if config.Workload.Op == workload.OpQuery && config.Workload.Baseline == 0 {
		// 書き込みのない query は既存件数が分からないのでチェックしない
		config.Consistency.Enabled = false
	}
	if c.FinalCheck != nil {
		config.Consistency.FinalCheck = *c.FinalCheck
	}
	if c.Expr != "" {
		config.Consistency.Expr = c.Expr
	}
	if c.PersistentAfter > 0 {
		config.Consistency.PersistentAfter = c.PersistentAfter
	}

	// Chaos設定
	config.Chaos.Enabled = config.Chaos.Enabled || bc.Chaos.Enabled
	if len(bc.Chaos.AttackTypes) > 0 {
		attacks, err := parseAttackTypes(bc.Chaos.AttackTypes)
		if err != nil {
			return config, err
		}
		config.Chaos.AttackTypes = attacks
	}

	err := durations{
		{"duration", bc.Duration, &config.Duration},
		{"warmup_timeout", bc.WarmupTimeout, &config.WarmupTimeout},
		{"drain_timeout", bc.DrainTimeout, &config.DrainTimeout},
		{"call_timeout", bc.CallTimeout, &config.CallTimeout},
		{"progress_interval", bc.ProgressInterval, &config.ProgressInterval},
		{"gateway timeout", g.Timeout, &config.Gateway.Timeout},
		{"gateway latency", g.Latency, &config.Gateway.Latency},
		{"replication lag", g.ReplicationLag, &config.Gateway.ReplicationLag},
		{"consistency interval", c.Interval, &config.Consistency.Interval},
		{"consistency jitter", c.Jitter, &config.Consistency.Jitter},
		{"consistency query_timeout", c.QueryTimeout, &config.Consistency.QueryTimeout},
		{"consistency window", c.Window, &config.Consistency.Window},
		{"chaos interval", bc.Chaos.Interval, &config.Chaos.Interval},
		{"chaos delay_amount", bc.Chaos.DelayAmount, &config.Chaos.DelayDuration},
		{"chaos attack_time", bc.Chaos.AttackTime, &config.Chaos.AttackDuration},
	}.apply()
	return config, err
}

// parseAttackTypes は文字列の攻撃タイプをパースする
func parseAttackTypes(types []string) ([]chaos.AttackType, error) {
	var attacks []chaos.AttackType

	for _, t := range types {
		a, err := chaos.ParseAttackType(strings.ToLower(t))
		if err != nil {
			return nil, err
		}
		attacks = append(attacks, a)
	}

	return attacks, nil
}

// Validate は設定を検証する
// 値の組み合わせは bench.Config.Validate が検証する
func (f *FileConfig) Validate() error {
	bc := f.Benchmark

	if bc.Concurrency < 0 {
		return fmt.Errorf("concurrency must be non-negative")
	}

	if bc.Workload.BatchSize < 0 {
		return fmt.Errorf("workload.batch_size must be non-negative")
	}

	if r := bc.Workload.WriteRatio; r != nil && (*r < 0 || *r > 1) {
		return fmt.Errorf("workload.write_ratio must be between 0 and 1")
	}

	if bc.Gateway.Replicas < 0 {
		return fmt.Errorf("gateway.replicas must be non-negative")
	}

	if bc.Consistency.PersistentAfter < 0 {
		return fmt.Errorf("consistency.persistent_after must be non-negative")
	}

	return nil
}
