// Package engine defines the C-ABI boundary to a WebAssembly engine and
// provides the default wazero backend.
//
// # Engine Boundary
//
// Engine mirrors the native embedding API entry points one to one:
//
//	Engine method        Native entry point
//	─────────────────────────────────────────────────────────
//	Init / Destroy       wasm_runtime_full_init / wasm_runtime_destroy
//	Load / Unload        wasm_runtime_load / wasm_runtime_unload
//	SetWASIArgs          wasm_runtime_set_wasi_args
//	Instantiate          wasm_runtime_instantiate
//	ExecEnvSingleton     wasm_runtime_get_exec_env_singleton
//	LookupFunction       wasm_runtime_lookup_function
//	CallWasm             wasm_runtime_call_wasm
//	GetException         wasm_runtime_get_exception
//
// Handles are opaque pointers and a nil handle means failure. Load and
// Instantiate report failures through a NUL-terminated error buffer of
// ErrorBufSize bytes; decode it with DecodeErrorBuf.
//
// # Calling Convention
//
// CallWasm takes one []uint32 buffer. Parameters are laid out in order,
// i32/f32 in one cell, i64/f64 in two and v128 in four, least-significant
// word first. argc is the number of parameter cells. Results overwrite the
// buffer from cell 0, so it must be sized to the larger of the parameter and
// result cell counts.
//
// # Backends
//
//	WazeroEngine     pure Go, always available (this package)
//	engine/wamr      native WAMR through cgo, build tag "wamr"
//	engine/wasmer    wasmer-go through cgo, build tag "wasmer"
//
// The wazero backend emulates the native contract: compile and instantiate
// errors land in the error buffer, traps are recorded as
// "Exception: <message>", and a guest proc_exit(0) completes normally.
//
// # Thread Safety
//
// Init, Destroy, Malloc and Free are safe for concurrent use. Handles are
// owned by the caller and must not be used concurrently.
package engine
