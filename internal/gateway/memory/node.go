package memory

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"loadcheck/internal/expr"
	"loadcheck/internal/gateway"
	"loadcheck/internal/logger"
)

// ErrSuspended は一時停止中のノードへの呼び出しで返される
var ErrSuspended = errors.New("memory: node suspended")

// Status はノードの状態を表す
type Status int

const (
	StatusStopped Status = iota
	StatusRunning
	StatusSuspended
)

func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusRunning:
		return "running"
	case StatusSuspended:
		return "suspended"
	default:
		return "unknown"
	}
}

// Node はインメモリテーブルを持つ単一ノード
type Node struct {
	id     string
	status Status
	delay  time.Duration

	mu   sync.RWMutex
	rows map[string]gateway.Row
}

// NewNode は新しいノードを作成する（起動状態）
func NewNode(id string) *Node {
	return &Node{
		id:     id,
		status: StatusRunning,
		rows:   make(map[string]gateway.Row),
	}
}

// ID はノードIDを返す
func (n *Node) ID() string {
	return n.id
}

// Status はノードの現在のステータスを返す
func (n *Node) Status() Status {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.status
}

// Stop はノードを停止する
func (n *Node) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.status = StatusStopped
	logger.Debug(n.id, "Node stopped")
}

// Suspend はノードを一時停止する
func (n *Node) Suspend() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.status != StatusRunning {
		return fmt.Errorf("node %s is not running", n.id)
	}

	n.status = StatusSuspended
	logger.Info(n.id, "Node suspended")
	return nil
}

// Resume は一時停止中のノードを再開する
func (n *Node) Resume() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.status != StatusSuspended {
		return fmt.Errorf("node %s is not suspended", n.id)
	}

	n.status = StatusRunning
	logger.Info(n.id, "Node resumed")
	return nil
}

// SetDelay はレスポンス遅延を設定する
func (n *Node) SetDelay(d time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.delay = d
}

// Delay は現在の遅延設定を返す
func (n *Node) Delay() time.Duration {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.delay
}

// applyDelay は設定された遅延を適用する
func (n *Node) applyDelay() {
	if d := n.Delay(); d > 0 {
		time.Sleep(d)
	}
}

func (n *Node) check() error {
	switch n.status {
	case StatusRunning:
		return nil
	case StatusSuspended:
		return ErrSuspended
	default:
		return gateway.ErrClosed
	}
}

// Upsert は行を主キーで書き込む（遅延なし）
// 行は書き込み後に変更しないこと。プライマリとレプリカで同じ行を共有する
func (n *Node) Upsert(keys []string, rows []gateway.Row) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for i, r := range rows {
		n.rows[keys[i]] = r
	}
}

// Scan はフィルタに一致する行を返す。行は共有されるので変更しないこと
func (n *Node) Scan(filter expr.Expr) ([]gateway.Row, error) {
	n.applyDelay()

	n.mu.RLock()
	defer n.mu.RUnlock()

	if err := n.check(); err != nil {
		return nil, err
	}

	out := make([]gateway.Row, 0)
	for _, r := range n.rows {
		if filter.Match(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

// Size は保持している行数を返す
func (n *Node) Size() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.rows)
}
