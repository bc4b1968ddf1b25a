// Package runtime is the safe Go surface over a C-ABI WebAssembly engine.
//
// # Quick Start
//
//	ctx := context.Background()
//	rt, err := runtime.New(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close()
//
//	mod, err := runtime.NewModule(ctx, rt, wasmBytes)
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
//	sum, err := inst.Call(ctx, "add", value.I32(3), value.I32(6))
//	fmt.Println(sum.I32()) // 9
//
// # Runtime Lifetime
//
// The engine is initialized once per process. Every New or Build returns a
// holder; the first holder initializes the engine with its configuration and
// the last Close tears it down. Configuration passed while a holder is live
// is ignored and logged at warn level.
//
//	rt, err := runtime.NewBuilder().
//	    RunAsInterpreter().
//	    UseMemoryPool(make([]byte, 4<<20)).
//	    AddGoHostFunction("extra", nil, []value.Kind{value.KindI32},
//	        func(ctx context.Context, stack []uint64) { stack[0] = 100 }).
//	    Build(ctx)
//
// # Ownership
//
// Instances must be closed before their Module and Modules before the last
// Runtime. Module.Close deinstantiates instances that are still open.
// Functions hold no engine resources and are valid while their Instance is.
//
// # Threads
//
// Instantiation and calls lock the goroutine to its OS thread and set up the
// engine's per-thread environment for the duration of the engine call.
//
// # Metrics
//
// EnableMetrics registers Prometheus collectors for engine lifecycle, module
// loads, instantiations and calls.
package runtime
