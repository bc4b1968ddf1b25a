// Package value converts typed WebAssembly values to and from the engine's
// flat word calling convention.
//
// The engine passes arguments and results through a single []uint32 buffer.
// Each value occupies as many consecutive words as its width requires:
//
//	Kind    Go type            Words
//	────────────────────────────────
//	i32     int32              1
//	f32     float32            1
//	i64     int64              2
//	f64     float64            2
//	v128    (lo, hi uint64)    4
//	void    -                  0
//
// Word 0 always holds the least-significant 32 bits. Encoding and decoding are
// pure bit reinterpretation: a float is carried as its IEEE-754 bit pattern,
// so NaN payloads and negative zero survive a round trip unchanged.
package value
