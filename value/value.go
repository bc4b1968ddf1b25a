package value

import (
	"fmt"
	"math"
)

// Kind identifies the type carried by a Value.
type Kind uint8

const (
	KindVoid Kind = iota
	KindI32
	KindI64
	KindF32
	KindF64
	KindV128
)

// String returns the WebAssembly text name of the kind.
func (k Kind) String() string {
	switch k {
	case KindVoid:
		return "void"
	case KindI32:
		return "i32"
	case KindI64:
		return "i64"
	case KindF32:
		return "f32"
	case KindF64:
		return "f64"
	case KindV128:
		return "v128"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Words returns the number of 32-bit words the kind occupies on the wire.
func (k Kind) Words() int {
	switch k {
	case KindI32, KindF32:
		return 1
	case KindI64, KindF64:
		return 2
	case KindV128:
		return 4
	default:
		return 0
	}
}

// Value is a tagged WebAssembly value. The payload is kept as raw bits, so
// two Values compare equal with == exactly when their kinds and bit patterns
// match.
type Value struct {
	lo   uint64
	hi   uint64
	kind Kind
}

// I32 builds a 32-bit integer value.
func I32(v int32) Value {
	return Value{kind: KindI32, lo: uint64(uint32(v))}
}

// I64 builds a 64-bit integer value.
func I64(v int64) Value {
	return Value{kind: KindI64, lo: uint64(v)}
}

// F32 builds a 32-bit float value. The bit pattern, NaN payload included, is kept.
func F32(v float32) Value {
	return Value{kind: KindF32, lo: uint64(math.Float32bits(v))}
}

// F64 builds a 64-bit float value. The bit pattern, NaN payload included, is kept.
func F64(v float64) Value {
	return Value{kind: KindF64, lo: math.Float64bits(v)}
}

// V128 builds a 128-bit vector from its low and high halves.
func V128(lo, hi uint64) Value { return Value{kind: KindV128, lo: lo, hi: hi} }

// Void is the result of a function that returns nothing.
func Void() Value { return Value{} }

// Kind returns the value's kind.
func (v Value) Kind() Kind {
	return v.kind
}

// I32 returns the payload as a 32-bit integer.
func (v Value) I32() int32 {
	return int32(uint32(v.lo))
}

// I64 returns the payload as a 64-bit integer.
func (v Value) I64() int64 {
	return int64(v.lo)
}

// F32 returns the payload as a 32-bit float.
func (v Value) F32() float32 {
	return math.Float32frombits(uint32(v.lo))
}

// F64 returns the payload as a 64-bit float.
func (v Value) F64() float64 {
	return math.Float64frombits(v.lo)
}

// V128 returns the low and high halves of a vector.
func (v Value) V128() (lo, hi uint64) {
	return v.lo, v.hi
}

// Bits returns the raw payload: the low 64 bits and, for v128, the high 64.
func (v Value) Bits() (lo, hi uint64) { return v.lo, v.hi }

// String formats the value as kind(payload).
func (v Value) String() string {
	switch v.kind {
	case KindVoid:
		return "void"
	case KindI32:
		return fmt.Sprintf("i32(%d)", v.I32())
	case KindI64:
		return fmt.Sprintf("i64(%d)", v.I64())
	case KindF32:
		return fmt.Sprintf("f32(%g)", v.F32())
	case KindF64:
		return fmt.Sprintf("f64(%g)", v.F64())
	case KindV128:
		return fmt.Sprintf("v128(0x%016x%016x)", v.hi, v.lo)
	default:
		return v.kind.String()
	}
}

// Encode returns the wire words of v.
func (v Value) Encode() []uint32 {
	return AppendWords(make([]uint32, 0, v.kind.Words()), v)
}

// AppendWords appends the wire words of v to dst, least-significant first.
func AppendWords(dst []uint32, v Value) []uint32 {
	switch v.kind {
	case KindI32, KindF32:
		return append(dst, uint32(v.lo))
	case KindI64, KindF64:
		return append(dst, uint32(v.lo), uint32(v.lo>>32))
	case KindV128:
		return append(dst, uint32(v.lo), uint32(v.lo>>32), uint32(v.hi), uint32(v.hi>>32))
	default:
		return dst
	}
}

// EncodeAll encodes values in order into one contiguous word buffer.
func EncodeAll(values []Value) []uint32 {
	n := 0
	for _, v := range values {
		n += v.kind.Words()
	}
	words := make([]uint32, 0, n)
	for _, v := range values {
		words = AppendWords(words, v)
	}
	return words
}

// Decode rebuilds a value of kind k from exactly k.Words() words.
// Supplying fewer words is a programming error and panics with an index
// out of range; callers size the slice from the declared result type.
func Decode(k Kind, words []uint32) Value {
	switch k {
	case KindI32, KindF32:
		return Value{kind: k, lo: uint64(words[0])}
	case KindI64, KindF64:
		return Value{kind: k, lo: join(words[0], words[1])}
	case KindV128:
		return Value{kind: k, lo: join(words[0], words[1]), hi: join(words[2], words[3])}
	default:
		return Void()
	}
}

func join(lo, hi uint32) uint64 {
	return uint64(lo) | uint64(hi)<<32
}
