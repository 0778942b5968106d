package chaos

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"loadcheck/internal/events"
	"loadcheck/internal/logger"
	"loadcheck/internal/worker"
)

const tag = "chaos"

// AttackType は障害の種類を表す
type AttackType int

const (
	AttackSuspend AttackType = iota
	AttackDelay
	AttackStale
)

func (a AttackType) String() string {
	switch a {
	case AttackSuspend:
		return "suspend"
	case AttackDelay:
		return "delay"
	case AttackStale:
		return "stale"
	default:
		return "unknown"
	}
}

// ParseAttackType は名前から攻撃タイプを返す
func ParseAttackType(s string) (AttackType, error) {
	for _, a := range []AttackType{AttackSuspend, AttackDelay, AttackStale} {
		if a.String() == s {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unknown attack type %q", s)
}

func (a AttackType) event() events.AttackType {
	switch a {
	case AttackSuspend:
		return events.AttackTypeSuspend
	case AttackDelay:
		return events.AttackTypeDelay
	default:
		return events.AttackTypeStale
	}
}

// Config はChaosMonkeyの設定
type Config struct {
	Interval       time.Duration // 攻撃間隔
	AttackTypes    []AttackType  // 有効な攻撃タイプ
	DelayDuration  time.Duration // Delay攻撃時の遅延時間
	AttackDuration time.Duration // 1回の攻撃の継続時間
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Interval:       5 * time.Second,
		AttackTypes:    []AttackType{AttackSuspend, AttackDelay, AttackStale},
		DelayDuration:  100 * time.Millisecond,
		AttackDuration: 2 * time.Second,
	}
}

// Stats はカオス攻撃の統計情報
type Stats struct {
	TotalAttacks uint64            `json:"total_attacks" yaml:"total_attacks" msgpack:"total_attacks"`
	ByType       map[string]uint64 `json:"attacks_by_type" yaml:"attacks_by_type" msgpack:"attacks_by_type"`
}

// Monkey はゲートウェイに定期的に障害を注入する
type Monkey struct {
	config   Config
	target   *Gateway
	eventBus *events.Bus

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu           sync.RWMutex
	attackCount  uint64
	attackByType map[AttackType]uint64
	active       map[AttackType]time.Time // 攻撃中のタイプと開始時刻
}

// New は新しいChaosMonkeyを作成する
func New(target *Gateway, config Config) *Monkey {
	if config.AttackDuration <= 0 {
		config.AttackDuration = DefaultConfig().AttackDuration
	}
	return &Monkey{
		config:       config,
		target:       target,
		attackByType: make(map[AttackType]uint64),
		active:       make(map[AttackType]time.Time),
	}
}

// SetEventBus はイベントバスを設定する
func (m *Monkey) SetEventBus(bus *events.Bus) {
	m.eventBus = bus
}

// Start はカオス注入を開始する
func (m *Monkey) Start(ctx context.Context) {
	if m.running.Swap(true) {
		return
	}

	m.ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(2)
	go m.attackLoop()
	go m.clearLoop()

	logger.Info(tag, "ChaosMonkey started (interval: %v, attacks: %v, duration: %v)",
		m.config.Interval, m.config.AttackTypes, m.config.AttackDuration)
}

// Stop はカオス注入を停止し、残っている障害を解除する
func (m *Monkey) Stop(timeout time.Duration) error {
	if !m.running.Swap(false) {
		return nil
	}
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var err error
	select {
	case <-done:
	case <-timer.C:
		err = &worker.DrainTimeoutError{Component: tag, Stalled: 1, Timeout: timeout}
	}

	m.clearAll()
	logger.Info(tag, "ChaosMonkey stopped (total attacks: %d)", m.AttackCount())
	return err
}

// attackLoop は定期的に攻撃を実行する
func (m *Monkey) attackLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.attack()
		}
	}
}

// clearLoop は継続時間が過ぎた攻撃を解除する
func (m *Monkey) clearLoop() {
	defer m.wg.Done()

	tick := min(m.config.AttackDuration/4, 500*time.Millisecond)
	ticker := time.NewTicker(max(tick, time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.clearExpired(time.Now())
		}
	}
}

// attack は攻撃中でないタイプから1つ選んで実行する
func (m *Monkey) attack() {
	attackType, ok := m.selectAttackType()
	if !ok {
		return
	}
	m.executeAttack(attackType)
}

func (m *Monkey) selectAttackType() (AttackType, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idle := make([]AttackType, 0, len(m.config.AttackTypes))
	for _, a := range m.config.AttackTypes {
		if _, busy := m.active[a]; !busy {
			idle = append(idle, a)
		}
	}
	if len(idle) == 0 {
		return 0, false
	}
	return idle[rand.IntN(len(idle))], true
}

// executeAttack は指定された攻撃を実行する
func (m *Monkey) executeAttack(attackType AttackType) {
	name := m.target.Name()
	ev := events.NewChaosAttackEvent(name, attackType.event())

	switch attackType {
	case AttackSuspend:
		m.target.Suspend()
		logger.Warn(tag, "ChaosMonkey: suspended %s", name)
	case AttackDelay:
		m.target.SetDelay(m.config.DelayDuration)
		ev = events.NewChaosAttackEventWithDelay(name, m.config.DelayDuration)
		logger.Warn(tag, "ChaosMonkey: injected %v delay to %s", m.config.DelayDuration, name)
	case AttackStale:
		m.target.SetStale(true)
		logger.Warn(tag, "ChaosMonkey: freezing query results of %s", name)
	default:
		return
	}

	m.mu.Lock()
	m.active[attackType] = time.Now()
	m.attackCount++
	m.attackByType[attackType]++
	m.mu.Unlock()

	m.eventBus.Publish(ev)
}

// clearExpired は AttackDuration を過ぎた攻撃を解除する
func (m *Monkey) clearExpired(now time.Time) {
	m.mu.Lock()
	expired := make([]AttackType, 0)
	for a, since := range m.active {
		if now.Sub(since) >= m.config.AttackDuration {
			expired = append(expired, a)
			delete(m.active, a)
		}
	}
	m.mu.Unlock()

	for _, a := range expired {
		m.clear(a)
	}
}

func (m *Monkey) clear(a AttackType) {
	switch a {
	case AttackSuspend:
		m.target.Resume()
	case AttackDelay:
		m.target.SetDelay(0)
	case AttackStale:
		m.target.SetStale(false)
	}
	logger.Info(tag, "ChaosMonkey: cleared %s on %s", a, m.target.Name())
	m.eventBus.Publish(events.NewChaosClearEvent(m.target.Name(), a.event()))
}

// clearAll は全ての攻撃を解除する
func (m *Monkey) clearAll() {
	m.mu.Lock()
	active := make([]AttackType, 0, len(m.active))
	for a := range m.active {
		active = append(active, a)
	}
	m.active = make(map[AttackType]time.Time)
	m.mu.Unlock()

	for _, a := range active {
		m.clear(a)
	}
	m.target.Clear()
}

// IsRunning は実行中かどうかを返す
func (m *Monkey) IsRunning() bool {
	return m.running.Load()
}

// AttackCount は攻撃回数を返す
func (m *Monkey) AttackCount() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.attackCount
}

// Active は攻撃中のタイプを返す
func (m *Monkey) Active() []AttackType {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]AttackType, 0, len(m.active))
	for a := range m.active {
		out = append(out, a)
	}
	return out
}

// Stats は攻撃統計を返す
func (m *Monkey) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byType := make(map[string]uint64)
	for t, count := range m.attackByType {
		byType[t.String()] = count
	}

	return Stats{
		TotalAttacks: m.attackCount,
		ByType:       byType,
	}
}
