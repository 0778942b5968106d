package bench

import (
	"errors"
	"fmt"
	"time"

	"loadcheck/internal/chaos"
	"loadcheck/internal/expr"
	"loadcheck/internal/gateway"
	"loadcheck/internal/workload"
)

// ConsistencyConfig は整合性チェックの設定
type ConsistencyConfig struct {
	Enabled         bool          // チェックを行う
	Interval        time.Duration // チェック間隔
	Jitter          time.Duration // 間隔に加える揺らぎ
	Expr            string        // count(*) を取るフィルタ式
	QueryTimeout    time.Duration // 1クエリの上限
	Window          time.Duration // 違反率タイムラインの幅
	PersistentAfter int           // 持続的な違反とみなす連続回数
	FinalCheck      bool          // 書き込み停止後に最終確認を1回行う
}

// ChaosConfig は障害注入の設定
type ChaosConfig struct {
	Enabled        bool
	Interval       time.Duration
	AttackTypes    []chaos.AttackType
	DelayDuration  time.Duration
	AttackDuration time.Duration
}

// Config はベンチマーク1回分の設定
type Config struct {
	Name        string
	Description string

	Concurrency      int           // ワーカー数
	Duration         time.Duration // RUNNING の長さ
	WarmupTimeout    time.Duration // ウォームアップ呼び出しの上限
	DrainTimeout     time.Duration // 停止後の合流待ちの上限
	CallTimeout      time.Duration // 1呼び出しの上限（0で無制限）
	ProgressInterval time.Duration // 進捗イベントの間隔

	Workload    workload.Config
	Gateway     gateway.Config
	Consistency ConsistencyConfig
	Chaos       ChaosConfig
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	cc := chaos.DefaultConfig()
	return Config{
		Name:             "default",
		Description:      "Concurrent upserts with count verification",
		Concurrency:      8,
		Duration:         10 * time.Second,
		WarmupTimeout:    10 * time.Second,
		DrainTimeout:     10 * time.Second,
		ProgressInterval: time.Second,
		Workload:         workload.DefaultConfig(),
		Gateway:          gateway.DefaultConfig(),
		Consistency: ConsistencyConfig{
			Enabled:         true,
			Interval:        time.Second,
			Window:          time.Second,
			PersistentAfter: 3,
			FinalCheck:      true,
		},
		Chaos: ChaosConfig{
			Enabled:        false,
			Interval:       cc.Interval,
			AttackTypes:    cc.AttackTypes,
			DelayDuration:  cc.DelayDuration,
			AttackDuration: cc.AttackDuration,
		},
	}
}

// ConfigError は INIT で検出した設定の誤り。何も起動しない
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return "configuration error: " + e.Err.Error()
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// WarmupError はウォームアップ呼び出しの失敗。レポートは作られない
type WarmupError struct {
	Err error
}

func (e *WarmupError) Error() string {
	return "warmup failed: " + e.Err.Error()
}

func (e *WarmupError) Unwrap() error {
	return e.Err
}

// IsConfigError はエラーが ConfigError を含むかを返す
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// IsWarmupError はエラーが WarmupError を含むかを返す
func IsWarmupError(err error) bool {
	var we *WarmupError
	return errors.As(err, &we)
}

// WorkloadConfig はワークロードの設定を返す
// 整合性チェックが有効なら、期待件数はチェックの式に一致するキーだけで数える
func (c Config) WorkloadConfig() workload.Config {
	w := c.Workload
	if c.Consistency.Enabled {
		w.Scope = c.Consistency.Expr
	}
	return w
}

// Validate は設定を検証する
func (c Config) Validate() error {
	if err := c.validate(); err != nil {
		return &ConfigError{Err: err}
	}
	return nil
}

func (c Config) validate() error {
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be > 0, got %d", c.Concurrency)
	}
	if c.Duration <= 0 {
		return fmt.Errorf("duration must be > 0, got %v", c.Duration)
	}
	if c.DrainTimeout <= 0 {
		return fmt.Errorf("drain timeout must be > 0, got %v", c.DrainTimeout)
	}
	if c.WarmupTimeout < 0 || c.CallTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	if err := c.WorkloadConfig().Validate(); err != nil {
		return fmt.Errorf("workload: %w", err)
	}
	if c.Gateway.Kind == "" {
		return fmt.Errorf("gateway kind is required (one of %v)", gateway.Kinds())
	}
	if !gateway.ServerSideFilter(c.Gateway.Kind) {
		if _, err := expr.Parse(c.Workload.Expr); err != nil {
			return fmt.Errorf("workload expr: %w", err)
		}
	}

	if c.Consistency.Enabled {
		if c.Consistency.Interval <= 0 {
			return fmt.Errorf("check interval must be > 0, got %v", c.Consistency.Interval)
		}
		if c.Consistency.Jitter < 0 {
			return fmt.Errorf("check jitter must not be negative")
		}
	}

	if c.Chaos.Enabled {
		if c.Chaos.Interval <= 0 {
			return fmt.Errorf("chaos interval must be > 0, got %v", c.Chaos.Interval)
		}
		if len(c.Chaos.AttackTypes) == 0 {
			return fmt.Errorf("chaos requires at least one attack type")
		}
	}
	return nil
}
