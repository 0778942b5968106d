package metrics

import (
	"fmt"

	"github.com/vmihailenco/msgpack"
)

// EncodeMsgpack は未定義をnilとして出力する
func (s Stat) EncodeMsgpack(enc *msgpack.Encoder) error {
	if !s.Defined {
		return enc.EncodeNil()
	}
	return enc.EncodeFloat64(s.Ms)
}

// DecodeMsgpack はnilを未定義として読み込む
func (s *Stat) DecodeMsgpack(dec *msgpack.Decoder) error {
	v, err := dec.DecodeInterface()
	if err != nil {
		return err
	}
	switch ms := v.(type) {
	case nil:
		*s = Undefined
	case float64:
		*s = Stat{Ms: ms, Defined: true}
	case float32:
		*s = Stat{Ms: float64(ms), Defined: true}
	case int64:
		*s = Stat{Ms: float64(ms), Defined: true}
	case uint64:
		*s = Stat{Ms: float64(ms), Defined: true}
	default:
		return fmt.Errorf("metrics: cannot decode %T as latency", v)
	}
	return nil
}
