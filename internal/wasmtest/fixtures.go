package wasmtest

// Arith exports:
//
//	add(i32, i32) i32       a + b
//	gcd(i32, i32) i32       iterative Euclid
//	div_s(i32, i32) i32     traps on division by zero
//	trap()                  unreachable
//	nop()                   returns nothing
//	id_i64(i64) i64, id_f32(f32) f32, id_f64(f64) f64, id_v128(v128) v128
//	incr() i32              increments a mutable global and returns it
//	add3(i32, i64, i32) i64 mixed-width parameters
func Arith() []byte {
	m := &Module{
		Globals: []Global{{Type: I32, Mutable: true, Init: []byte{0x41, 0x00, 0x0b}}},
		Funcs: []Func{
			{
				Export:  "add",
				Params:  []byte{I32, I32},
				Results: []byte{I32},
				Body:    []byte{0x20, 0x00, 0x20, 0x01, 0x6a, 0x0b},
			},
			{
				Export:  "gcd",
				Params:  []byte{I32, I32},
				Results: []byte{I32},
				Locals:  []byte{I32},
				Body: []byte{
					0x02, 0x40, // block
					0x03, 0x40, // loop
					0x20, 0x01, 0x45, 0x0d, 0x01, // br_if 1 (b == 0)
					0x20, 0x01, 0x21, 0x02, // t = b
					0x20, 0x00, 0x20, 0x01, 0x70, 0x21, 0x01, // b = a % b
					0x20, 0x02, 0x21, 0x00, // a = t
					0x0c, 0x00, // br 0
					0x0b, 0x0b,
					0x20, 0x00, 0x0b,
				},
			},
			{
				Export:  "div_s",
				Params:  []byte{I32, I32},
				Results: []byte{I32},
				Body:    []byte{0x20, 0x00, 0x20, 0x01, 0x6d, 0x0b},
			},
			{
				Export: "trap",
				Body:   []byte{0x00, 0x0b},
			},
			{
				Export: "nop",
				Body:   []byte{0x0b},
			},
			{
				Export:  "id_i64",
				Params:  []byte{I64},
				Results: []byte{I64},
				Body:    []byte{0x20, 0x00, 0x0b},
			},
			{
				Export:  "id_f32",
				Params:  []byte{F32},
				Results: []byte{F32},
				Body:    []byte{0x20, 0x00, 0x0b},
			},
			{
				Export:  "id_f64",
				Params:  []byte{F64},
				Results: []byte{F64},
				Body:    []byte{0x20, 0x00, 0x0b},
			},
			{
				Export:  "id_v128",
				Params:  []byte{V128},
				Results: []byte{V128},
				Body:    []byte{0x20, 0x00, 0x0b},
			},
			{
				Export:  "incr",
				Results: []byte{I32},
				Body:    []byte{0x23, 0x00, 0x41, 0x01, 0x6a, 0x24, 0x00, 0x23, 0x00, 0x0b},
			},
			{
				Export:  "add3",
				Params:  []byte{I32, I64, I32},
				Results: []byte{I64},
				// i64.extend_i32_s(a) + b + i64.extend_i32_s(c)
				Body: []byte{0x20, 0x00, 0xac, 0x20, 0x01, 0x7c, 0x20, 0x02, 0xac, 0x7c, 0x0b},
			},
		},
	}
	return m.Encode()
}

// HostExtra imports env.extra() i32 and exports add_extra(a, b) = a + b + extra().
func HostExtra(namespace string) []byte {
	m := &Module{
		Imports: []Import{{Module: namespace, Name: "extra", Results: []byte{I32}}},
		Funcs: []Func{{
			Export:  "add_extra",
			Params:  []byte{I32, I32},
			Results: []byte{I32},
			Body:    []byte{0x20, 0x00, 0x20, 0x01, 0x6a, 0x10, 0x00, 0x6a, 0x0b},
		}},
	}
	return m.Encode()
}

// WASI imports environ_sizes_get, args_sizes_get and proc_exit and exports:
//
//	env_count() i32    number of environment variables
//	args_count() i32   number of arguments
//	exit_ok()          calls proc_exit(0)
func WASI() []byte {
	const wasi = "wasi_snapshot_preview1"
	m := &Module{
		HasMemory:    true,
		MemoryPages:  1,
		MemoryExport: "memory",
		Imports: []Import{
			{Module: wasi, Name: "environ_sizes_get", Params: []byte{I32, I32}, Results: []byte{I32}},
			{Module: wasi, Name: "args_sizes_get", Params: []byte{I32, I32}, Results: []byte{I32}},
			{Module: wasi, Name: "proc_exit", Params: []byte{I32}},
		},
		Funcs: []Func{
			{
				Export:  "env_count",
				Results: []byte{I32},
				Body:    []byte{0x41, 0x00, 0x41, 0x04, 0x10, 0x00, 0x1a, 0x41, 0x00, 0x28, 0x02, 0x00, 0x0b},
			},
			{
				Export:  "args_count",
				Results: []byte{I32},
				Body:    []byte{0x41, 0x00, 0x41, 0x04, 0x10, 0x01, 0x1a, 0x41, 0x00, 0x28, 0x02, 0x00, 0x0b},
			},
			{
				Export: "exit_ok",
				Body:   []byte{0x41, 0x00, 0x10, 0x02, 0x0b},
			},
		},
	}
	return m.Encode()
}

// Reactor is a WASI reactor whose _initialize sets a global to 42 and
// exports ready() i32 returning that global.
func Reactor() []byte {
	return reactor([]byte{0x41, 0x2a, 0x24, 0x00, 0x0b})
}

// FailingReactor is a WASI reactor whose _initialize traps.
func FailingReactor() []byte {
	return reactor([]byte{0x00, 0x0b})
}

func reactor(initBody []byte) []byte {
	m := &Module{
		HasMemory:    true,
		MemoryPages:  1,
		MemoryExport: "memory",
		Imports: []Import{{
			Module:  "wasi_snapshot_preview1",
			Name:    "environ_sizes_get",
			Params:  []byte{I32, I32},
			Results: []byte{I32},
		}},
		Globals: []Global{{Type: I32, Mutable: true, Init: []byte{0x41, 0x00, 0x0b}}},
		Funcs: []Func{
			{Export: "_initialize", Body: initBody},
			{Export: "ready", Results: []byte{I32}, Body: []byte{0x23, 0x00, 0x0b}},
		},
	}
	return m.Encode()
}

// Memory declares pages of linear memory and exports size() i32 returning
// the current page count.
func Memory(pages uint32) []byte {
	m := &Module{
		HasMemory:    true,
		MemoryPages:  pages,
		MemoryExport: "memory",
		Funcs:        []Func{{Export: "size", Results: []byte{I32}, Body: []byte{0x3f, 0x00, 0x0b}}},
	}
	return m.Encode()
}

// MissingImport imports env.missing, which no host provides.
func MissingImport() []byte {
	m := &Module{
		Imports: []Import{{Module: "env", Name: "missing"}},
		Funcs:   []Func{{Export: "run", Body: []byte{0x10, 0x00, 0x0b}}},
	}
	return m.Encode()
}

// Truncated is a binary with a valid header and a section cut short.
func Truncated() []byte {
	full := Arith()
	return full[:len(full)/2]
}

// Garbage is not a WebAssembly binary.
func Garbage() []byte {
	return []byte("this is not wasm")
}
