package workload

import (
	"math/rand/v2"
	"strconv"

	"loadcheck/internal/gateway"
)

// newRecord は主キー k のレコードを作る
// int1 は [100, 300)、str1 はキー由来の文字列、embeddings は VectorDim > 0 のときだけ付く
func newRecord(cfg Config, k int64, rng *rand.Rand) gateway.Record {
	r := gateway.Record{
		cfg.PrimaryKey: k,
		"int1":         100 + rng.Int64N(200),
		scopeField:     str1(k),
	}
	if cfg.VectorDim > 0 {
		r["embeddings"] = randomVector(cfg.VectorDim, rng)
	}
	return r
}

// str1 は主キーから決まる文字列フィールドの値
func str1(k int64) string {
	return "str-" + strconv.FormatInt(k, 10)
}

func randomVector(dim int, rng *rand.Rand) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = rng.Float32()
	}
	return v
}
