// Package wasmbind is a safe Go binding layer over a C-ABI WebAssembly engine.
//
// The layer owns the process-wide engine lifetime, module, instance and
// function ownership, the 32-bit word calling convention used for
// cross-boundary calls, and a structured error taxonomy. Module validation
// and bytecode execution stay inside the engine.
//
// # Architecture Overview
//
//	wasmbind/
//	├── runtime/         Runtime handle, builder, modules, instances, functions
//	├── engine/          C-ABI boundary and the pure Go wazero backend
//	│   ├── wamr/        WAMR backend (cgo, -tags wamr)
//	│   └── wasmer/      wasmer backend (cgo, -tags wasmer)
//	├── value/           Typed values and their word encoding
//	├── errors/          Structured error types
//	├── config/          YAML configuration
//	└── cmd/run/         Command line runner
//
// # Quick Start
//
//	rt, err := runtime.New(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close()
//
//	mod, err := runtime.NewModuleFromFile(ctx, rt, "gcd.wasm")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer mod.Close()
//
//	inst, err := mod.Instantiate(ctx, 8192)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer inst.Close()
//
//	v, err := inst.Call(ctx, "gcd", value.I32(9), value.I32(27))
//	fmt.Println(v.I32()) // 9
//
// # Thread Safety
//
// Runtime acquisition and release are safe for concurrent use. Module and
// Instance guard their own state, but a single Instance should be driven by
// one goroutine at a time, as engine calls on one exec env are not reentrant.
//
// # Memory Model
//
// The engine may keep pointers into module binaries and WASI strings, so
// Module retains its copies until Close. Instances must be closed before
// their Module and Modules before the last Runtime.
package wasmbind
