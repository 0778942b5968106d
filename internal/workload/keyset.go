package workload

import (
	"sync"

	"loadcheck/internal/verify"
)

// keyState は1キーの書き込み状況
type keyState struct {
	pending   int  // 応答待ちの書き込み数
	live      bool // 書き込みが確認済み
	uncertain bool // 失敗した書き込み（適用されたかどうか不明）
}

// KeySet はワーカー間で共有する書き込み済みキーの集計
// 期待件数の下限は確認済みキーのみ、上限は応答待ちと失敗したキーも含む
// match が設定されていれば、それを満たすキーだけを数える
type KeySet struct {
	mu       sync.Mutex
	baseline int64
	match    func(int64) bool
	keys     map[int64]*keyState
	live     int64 // live なキー数
	extra    int64 // live でないが pending か uncertain のキー数
}

// NewKeySet は既存件数 baseline から始まる集計を作成する
func NewKeySet(baseline int64) *KeySet {
	return &KeySet{
		baseline: baseline,
		keys:     make(map[int64]*keyState),
	}
}

// NewScopedKeySet は match を満たすキーだけを数える集計を作成する
// baseline は match を満たす既存件数
func NewScopedKeySet(baseline int64, match func(int64) bool) *KeySet {
	s := NewKeySet(baseline)
	s.match = match
	return s
}

// Begin は書き込み開始時に呼ぶ
func (s *KeySet) Begin(keys []int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		if s.match != nil && !s.match(k) {
			continue
		}
		st, ok := s.keys[k]
		if !ok {
			st = &keyState{}
			s.keys[k] = st
		}
		if !st.live && st.pending == 0 && !st.uncertain {
			s.extra++
		}
		st.pending++
	}
}

// Ack は書き込み成功時に呼ぶ
func (s *KeySet) Ack(keys []int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		st := s.keys[k]
		if st == nil {
			continue
		}
		st.pending--
		if !st.live {
			st.live = true
			s.live++
			s.extra--
		}
		st.uncertain = false
	}
}

// Fail は書き込み失敗時に呼ぶ。確認済みでないキーは不確定として残る
func (s *KeySet) Fail(keys []int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		st := s.keys[k]
		if st == nil {
			continue
		}
		st.pending--
		if !st.live {
			st.uncertain = true
		}
	}
}

// Expected は現在の期待件数の範囲を返す
func (s *KeySet) Expected() verify.Bounds {
	s.mu.Lock()
	defer s.mu.Unlock()

	low := s.baseline + s.live
	return verify.Bounds{Low: low, High: low + s.extra}
}

// Live は確認済みのキー数（baseline を含まない）
func (s *KeySet) Live() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

// Uncertain は失敗して不確定なキー数
func (s *KeySet) Uncertain() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, st := range s.keys {
		if st.uncertain && !st.live {
			n++
		}
	}
	return n
}
