package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"loadcheck/internal/expr"
	"loadcheck/internal/gateway"
	"loadcheck/internal/logger"
)

// replicationQueue はレプリカごとの適用待ちキューの長さ
const replicationQueue = 4096

type entry struct {
	at   time.Time
	keys []string
	rows []gateway.Row
}

// replica はプライマリの書き込みを遅れて適用する読み取りノード
type replica struct {
	node    *Node
	queue   chan entry
	pending atomic.Int64
}

// Store はプライマリ1台と読み取りレプリカN台からなるインメモリストア
// 書き込みはプライマリに同期適用され、レプリカには lag 後に順番通り適用される
// 読み取りはレプリカがあればラウンドロビンでレプリカから行う
type Store struct {
	cfg      gateway.Config
	primary  *Node
	replicas []*replica
	next     atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// New は新しいストアを作成し、レプリケーションを開始する
func New(cfg gateway.Config) *Store {
	if cfg.PrimaryKey == "" {
		cfg.PrimaryKey = "pk"
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		cfg:     cfg,
		primary: NewNode("primary"),
		ctx:     ctx,
		cancel:  cancel,
	}
	s.primary.SetDelay(cfg.Latency)

	for i := range cfg.Replicas {
		r := &replica{
			node:  NewNode(fmt.Sprintf("replica-%d", i+1)),
			queue: make(chan entry, replicationQueue),
		}
		r.node.SetDelay(cfg.Latency)
		s.replicas = append(s.replicas, r)

		s.wg.Add(1)
		go s.replicate(r)
	}

	logger.Debug("memory", "Store created (replicas: %d, lag: %v, latency: %v)",
		cfg.Replicas, cfg.ReplicationLag, cfg.Latency)
	return s
}

// replicate はキューの書き込みを到着順に、書き込み時刻+lag 以降に適用する
func (s *Store) replicate(r *replica) {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case e := <-r.queue:
			if wait := time.Until(e.at.Add(s.cfg.ReplicationLag)); wait > 0 {
				timer := time.NewTimer(wait)
				select {
				case <-s.ctx.Done():
					timer.Stop()
					return
				case <-timer.C:
				}
			}
			r.node.Upsert(e.keys, e.rows)
			r.pending.Add(-1)
		}
	}
}

// Mutate はプライマリに書き込み、レプリカへの適用を予約する
func (s *Store) Mutate(ctx context.Context, records []gateway.Record) error {
	if s.closed.Load() {
		return gateway.ErrClosed
	}

	keys := make([]string, len(records))
	rows := make([]gateway.Row, len(records))
	for i, r := range records {
		k, err := s.cfg.Key(r)
		if err != nil {
			return err
		}
		keys[i] = k
		row := make(gateway.Row, len(r))
		for f, v := range r {
			row[f] = v
		}
		rows[i] = row
	}

	s.primary.applyDelay()
	if err := ctx.Err(); err != nil {
		return err
	}

	s.primary.mu.RLock()
	err := s.primary.check()
	s.primary.mu.RUnlock()
	if err != nil {
		return err
	}

	s.primary.Upsert(keys, rows)

	e := entry{at: time.Now(), keys: keys, rows: rows}
	for _, r := range s.replicas {
		r.pending.Add(1)
		select {
		case r.queue <- e:
		case <-ctx.Done():
			// プライマリには適用済み。このレプリカには届かない
			r.pending.Add(-1)
			return ctx.Err()
		case <-s.ctx.Done():
			r.pending.Add(-1)
			return gateway.ErrClosed
		}
	}
	return nil
}

// Query は読み取りノードでフィルタを評価する
func (s *Store) Query(ctx context.Context, filter string, outputFields []string) ([]gateway.Row, error) {
	if s.closed.Load() {
		return nil, gateway.ErrClosed
	}

	e, err := expr.Parse(filter)
	if err != nil {
		return nil, err
	}

	rows, err := s.readNode().Scan(e)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return gateway.Select(rows, outputFields), nil
}

func (s *Store) readNode() *Node {
	if len(s.replicas) == 0 {
		return s.primary
	}
	i := s.next.Add(1) - 1
	return s.replicas[i%uint64(len(s.replicas))].node
}

// Close はレプリケーションを止めて全ノードを停止する
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.cancel()
	s.wg.Wait()

	for _, n := range s.Nodes() {
		n.Stop()
	}
	return nil
}

// Primary はプライマリノードを返す
func (s *Store) Primary() *Node {
	return s.primary
}

// Nodes はプライマリとレプリカの全ノードを返す
func (s *Store) Nodes() []*Node {
	nodes := make([]*Node, 0, len(s.replicas)+1)
	nodes = append(nodes, s.primary)
	for _, r := range s.replicas {
		nodes = append(nodes, r.node)
	}
	return nodes
}

// SuspendAll は全ノードを一時停止する
func (s *Store) SuspendAll() {
	for _, n := range s.Nodes() {
		_ = n.Suspend()
	}
}

// ResumeAll は全ノードを再開する
func (s *Store) ResumeAll() {
	for _, n := range s.Nodes() {
		_ = n.Resume()
	}
}

// SetDelay は全ノードの応答遅延を設定する
func (s *Store) SetDelay(d time.Duration) {
	for _, n := range s.Nodes() {
		n.SetDelay(d)
	}
}

// Len はプライマリの行数を返す
func (s *Store) Len() int {
	return s.primary.Size()
}

// Lagging はまだレプリカに適用されていない書き込みがあるかを返す
func (s *Store) Lagging() bool {
	for _, r := range s.replicas {
		if r.pending.Load() > 0 {
			return true
		}
	}
	return false
}

func init() {
	gateway.Register("memory", func(cfg gateway.Config) (gateway.Gateway, error) {
		if cfg.Replicas < 0 {
			return nil, fmt.Errorf("replicas must be >= 0, got %d", cfg.Replicas)
		}
		return New(cfg), nil
	})
}
