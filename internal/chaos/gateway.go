package chaos

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"loadcheck/internal/gateway"
)

// ErrInjected は suspend 攻撃中の呼び出しで返される
var ErrInjected = errors.New("chaos: injected failure")

// Gateway は障害を注入できるゲートウェイのデコレータ
type Gateway struct {
	inner gateway.Gateway

	delay     atomic.Int64 // time.Duration
	suspended atomic.Bool
	stale     atomic.Bool

	mu    sync.RWMutex
	cache map[string][]gateway.Row // 直近のクエリ結果（stale 攻撃用）
}

var _ gateway.Gateway = (*Gateway)(nil)

// Wrap は gw を障害注入可能なゲートウェイで包む
func Wrap(gw gateway.Gateway) *Gateway {
	return &Gateway{
		inner: gw,
		cache: make(map[string][]gateway.Row),
	}
}

// Name は攻撃対象名
func (g *Gateway) Name() string {
	return "gateway"
}

// Unwrap は包んでいるゲートウェイを返す
func (g *Gateway) Unwrap() gateway.Gateway {
	return g.inner
}

// SetDelay は呼び出しごとの追加遅延を設定する（0で解除）
func (g *Gateway) SetDelay(d time.Duration) {
	g.delay.Store(int64(d))
}

// Delay は現在の追加遅延を返す
func (g *Gateway) Delay() time.Duration {
	return time.Duration(g.delay.Load())
}

// Suspend は全呼び出しを失敗させる
func (g *Gateway) Suspend() {
	g.suspended.Store(true)
}

// Resume は Suspend を解除する
func (g *Gateway) Resume() {
	g.suspended.Store(false)
}

// Suspended は suspend 中かを返す
func (g *Gateway) Suspended() bool {
	return g.suspended.Load()
}

// SetStale はクエリが攻撃前の結果を返し続けるかを設定する
func (g *Gateway) SetStale(on bool) {
	g.stale.Store(on)
}

// Stale は stale 攻撃中かを返す
func (g *Gateway) Stale() bool {
	return g.stale.Load()
}

// Clear は全ての障害を解除する
func (g *Gateway) Clear() {
	g.SetDelay(0)
	g.Resume()
	g.SetStale(false)
}

func (g *Gateway) inject(ctx context.Context) error {
	if d := g.Delay(); d > 0 {
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	if g.Suspended() {
		return ErrInjected
	}
	return nil
}

// Mutate implements gateway.Gateway.
func (g *Gateway) Mutate(ctx context.Context, records []gateway.Record) error {
	if err := g.inject(ctx); err != nil {
		return err
	}
	return g.inner.Mutate(ctx, records)
}

// Query implements gateway.Gateway.
func (g *Gateway) Query(ctx context.Context, filter string, outputFields []string) ([]gateway.Row, error) {
	if err := g.inject(ctx); err != nil {
		return nil, err
	}

	key := filter + "\x00" + strings.Join(outputFields, ",")
	if g.Stale() {
		g.mu.RLock()
		rows, ok := g.cache[key]
		g.mu.RUnlock()
		if ok {
			return rows, nil
		}
	}

	rows, err := g.inner.Query(ctx, filter, outputFields)
	if err != nil {
		return nil, err
	}
	// 件数のような小さい結果だけ保持する
	if len(rows) <= 1 {
		g.mu.Lock()
		g.cache[key] = rows
		g.mu.Unlock()
	}
	return rows, nil
}

// Close implements gateway.Gateway.
func (g *Gateway) Close() error {
	g.Clear()
	return g.inner.Close()
}
