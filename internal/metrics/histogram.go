package metrics

import (
	"time"

	"github.com/codahale/hdrhistogram"
)

const (
	histMinMicros = 1
	histMaxMicros = int64(10 * time.Minute / time.Microsecond)
	histSigFigs   = 3
)

// Bucket はレイテンシ分布の1区間（上限ミリ秒以下の件数）
type Bucket struct {
	UpperMs float64 `json:"le_ms" yaml:"le_ms" msgpack:"le_ms"`
	Count   int64   `json:"count" yaml:"count" msgpack:"count"`
}

// histogram はソート済みレイテンシを2倍刻みの区間に集計する
// 値の記録はhdrhistogramに任せ、Distributionの棒を区間にまとめ直す
func histogram(sorted []time.Duration) []Bucket {
	if len(sorted) == 0 {
		return nil
	}

	h := hdrhistogram.New(histMinMicros, histMaxMicros, histSigFigs)
	for _, d := range sorted {
		us := d.Microseconds()
		if us < histMinMicros {
			us = histMinMicros
		}
		if us > histMaxMicros {
			us = histMaxMicros
		}
		_ = h.RecordValue(us)
	}

	// 0.25ms から始めて最大値を覆うまで倍々に上限を作る
	maxUs := h.Max()
	var bounds []int64
	for b := int64(250); ; b *= 2 {
		bounds = append(bounds, b)
		if b >= maxUs {
			break
		}
	}

	counts := make([]int64, len(bounds))
	for _, bar := range h.Distribution() {
		if bar.Count == 0 {
			continue
		}
		i := 0
		for i < len(bounds)-1 && bar.From > bounds[i] {
			i++
		}
		counts[i] += bar.Count
	}

	buckets := make([]Bucket, 0, len(bounds))
	for i, b := range bounds {
		if counts[i] == 0 {
			continue
		}
		buckets = append(buckets, Bucket{
			UpperMs: float64(b) / 1000,
			Count:   counts[i],
		})
	}
	return buckets
}
