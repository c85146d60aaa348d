// Package operand provides the numeric and addressing-mode primitives the
// emulator needs to interpret raw instruction encodings: two's-complement
// conversion, sign extension, fixed-width pack/unpack, float/integer bit
// reinterpretation, and x86 base/index/scale resolution.
//
// All functions are pure; byte order and address width are passed in
// explicitly rather than read from global state.
package operand

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/holiman/uint256"
)

// ErrInvalidWidth is returned for pack/unpack widths other than 1, 2, 4, 8
// or 16 bytes.
var ErrInvalidWidth = errors.New("invalid pack width")

// ErrInvalidPrecision is returned for float conversions other than single
// (1) or double (2) precision.
var ErrInvalidPrecision = errors.New("invalid float precision")

// Signed reinterprets the low bitWidth bits of v as a two's-complement
// signed integer.
func Signed(v uint64, bitWidth uint) int64 {
	if bitWidth == 0 || bitWidth > 64 {
		bitWidth = 64
	}
	shift := 64 - bitWidth
	return int64(v<<shift) >> shift
}

// SignBit returns the highest bit of v at the given byte width.
func SignBit(v uint64, width int) uint64 {
	return (v >> (8*uint(width) - 1)) & 0x1
}

// Mask returns the all-ones mask for a byte size up to 8.
func Mask(size int) uint64 {
	if size >= 8 {
		return ^uint64(0)
	}
	return 1<<(8*uint(size)) - 1
}

// SignExtend widens the low origSize bytes of v to destSize bytes,
// replicating the sign bit when set.
func SignExtend(v uint64, origSize, destSize int) uint64 {
	origMax := Mask(origSize)
	destMax := Mask(destSize)
	origShift := 8 * uint(origSize)

	masked := v & origMax
	msb := masked >> (origShift - 1)
	if msb != 0 {
		if origShift >= 64 {
			return masked & destMax
		}
		return ((destMax << origShift) | masked) & destMax
	}
	return v & destMax
}

// ByteWidth returns the narrowest supported storage width for v.
func ByteWidth(v uint64) int {
	switch {
	case v <= 0xFF:
		return 1
	case v <= 0xFFFF:
		return 2
	case v <= 0xFFFFFFFF:
		return 4
	default:
		return 8
	}
}

// Pack encodes v into width bytes (1, 2, 4 or 8) using the given byte
// order. The value is masked to the width, matching hardware store
// semantics. 16-byte values go through Pack128.
func Pack(order binary.ByteOrder, v uint64, width int) ([]byte, error) {
	buf := make([]byte, width)
	switch width {
	case 1:
		buf[0] = byte(v)
	case 2:
		order.PutUint16(buf, uint16(v))
	case 4:
		order.PutUint32(buf, uint32(v))
	case 8:
		order.PutUint64(buf, v)
	case 16:
		return nil, fmt.Errorf("%w: %d (use Pack128)", ErrInvalidWidth, width)
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidWidth, width)
	}
	return buf, nil
}

// Unpack decodes a 1, 2, 4 or 8 byte buffer using the given byte order.
func Unpack(order binary.ByteOrder, buf []byte) (uint64, error) {
	switch len(buf) {
	case 1:
		return uint64(buf[0]), nil
	case 2:
		return uint64(order.Uint16(buf)), nil
	case 4:
		return uint64(order.Uint32(buf)), nil
	case 8:
		return order.Uint64(buf), nil
	case 16:
		return 0, fmt.Errorf("%w: %d (use Unpack128)", ErrInvalidWidth, len(buf))
	default:
		return 0, fmt.Errorf("%w: %d", ErrInvalidWidth, len(buf))
	}
}

// Pack128 encodes the low 128 bits of v as two 8-byte halves combined
// according to the byte order: low half first for little endian, high half
// first for big endian.
func Pack128(order binary.ByteOrder, v *uint256.Int) []byte {
	lo := v[0]
	hi := v[1]
	buf := make([]byte, 16)
	if order == binary.BigEndian {
		order.PutUint64(buf[:8], hi)
		order.PutUint64(buf[8:], lo)
	} else {
		order.PutUint64(buf[:8], lo)
		order.PutUint64(buf[8:], hi)
	}
	return buf
}

// Unpack128 decodes a 16-byte buffer produced by Pack128.
func Unpack128(order binary.ByteOrder, buf []byte) (*uint256.Int, error) {
	if len(buf) != 16 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidWidth, len(buf))
	}
	var lo, hi uint64
	if order == binary.BigEndian {
		hi = order.Uint64(buf[:8])
		lo = order.Uint64(buf[8:])
	} else {
		lo = order.Uint64(buf[:8])
		hi = order.Uint64(buf[8:])
	}
	return &uint256.Int{lo, hi, 0, 0}, nil
}

// FloatToInt reinterprets a float as its IEEE-754 integer bit pattern.
// Precision 1 is single (4-byte), 2 is double (8-byte).
func FloatToInt(val float64, precision int) (uint64, error) {
	switch precision {
	case 1:
		return uint64(math.Float32bits(float32(val))), nil
	case 2:
		return math.Float64bits(val), nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrInvalidPrecision, precision)
	}
}

// IntToFloat reinterprets an IEEE-754 integer bit pattern as a float.
// Precision 1 is single (4-byte), 2 is double (8-byte).
func IntToFloat(val uint64, precision int) (float64, error) {
	switch precision {
	case 1:
		return float64(math.Float32frombits(uint32(val))), nil
	case 2:
		return math.Float64frombits(val), nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrInvalidPrecision, precision)
	}
}
