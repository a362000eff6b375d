package idx

import (
	"encoding/binary"
	"math"
)

// decodeScalar interprets b, which holds exactly t.Width() bytes, as a
// big-endian value of type t.
func decodeScalar(t ElementType, b []byte) any {
	switch t {
	case UnsignedByte:
		return b[0]
	case Byte:
		return int8(b[0])
	case Short:
		return int16(binary.BigEndian.Uint16(b))
	case Int:
		return int32(binary.BigEndian.Uint32(b))
	case Float:
		return math.Float32frombits(binary.BigEndian.Uint32(b))
	case Double:
		return math.Float64frombits(binary.BigEndian.Uint64(b))
	default:
		return nil
	}
}

func decodeFloat64(t ElementType, b []byte) float64 {
	switch t {
	case UnsignedByte:
		return float64(b[0])
	case Byte:
		return float64(int8(b[0]))
	case Short:
		return float64(int16(binary.BigEndian.Uint16(b)))
	case Int:
		return float64(int32(binary.BigEndian.Uint32(b)))
	case Float:
		return float64(math.Float32frombits(binary.BigEndian.Uint32(b)))
	case Double:
		return math.Float64frombits(binary.BigEndian.Uint64(b))
	default:
		return math.NaN()
	}
}
