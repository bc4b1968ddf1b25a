package engine

import (
	"context"
	"math"
	"slices"
	"strings"
	"testing"
	"unsafe"

	"github.com/wippyai/wasm-bind/internal/wasmtest"
)

func newInitialized(t *testing.T, args *InitArgs) *WazeroEngine {
	t.Helper()
	e := NewWazeroEngine()
	if !e.Init(context.Background(), args) {
		t.Fatal("engine init failed")
	}
	t.Cleanup(e.Destroy)
	return e
}

func load(t *testing.T, e Engine, bin []byte) ModuleHandle {
	t.Helper()
	errBuf := make([]byte, ErrorBufSize)
	mod := e.Load(context.Background(), bin, errBuf)
	if mod == nil {
		msg, _ := DecodeErrorBuf(errBuf)
		t.Fatalf("load: %s", msg)
	}
	t.Cleanup(func() { e.Unload(mod) })
	return mod
}

func instantiate(t *testing.T, e Engine, bin []byte) (ModuleHandle, InstanceHandle) {
	t.Helper()
	mod := load(t, e, bin)

	errBuf := make([]byte, ErrorBufSize)
	inst := e.Instantiate(context.Background(), mod, 8192, 0, errBuf)
	if inst == nil {
		msg, _ := DecodeErrorBuf(errBuf)
		t.Fatalf("instantiate: %s", msg)
	}
	t.Cleanup(func() { e.Deinstantiate(inst) })
	return mod, inst
}

func call(t *testing.T, e Engine, inst InstanceHandle, name string, args ...uint32) ([]uint32, bool) {
	t.Helper()
	fn := e.LookupFunction(inst, name)
	if fn == nil {
		t.Fatalf("lookup %s: not found", name)
	}

	words := CountWords(e.FuncResultTypes(fn, inst))
	argv := make([]uint32, max(len(args), words))
	copy(argv, args)
	ok := e.CallWasm(context.Background(), e.ExecEnvSingleton(inst), fn, uint32(len(args)), argv)
	return argv[:words], ok
}

func mustCall(t *testing.T, e Engine, inst InstanceHandle, name string, want []uint32, args ...uint32) {
	t.Helper()
	res, ok := call(t, e, inst, name, args...)
	if !ok {
		t.Fatalf("%s failed: %s", name, e.GetException(inst))
	}
	if !slices.Equal(res, want) {
		t.Errorf("%s = %v, want %v", name, res, want)
	}
}

func TestWazeroEngine_InitDestroy(t *testing.T) {
	e := NewWazeroEngine()
	if e.Name() != "wazero" {
		t.Errorf("Name = %q", e.Name())
	}
	if e.Malloc(16) != nil {
		t.Error("malloc before init should fail")
	}

	if !e.Init(context.Background(), nil) {
		t.Fatal("init failed")
	}
	if e.Init(context.Background(), nil) {
		t.Error("second init should fail")
	}

	p := e.Malloc(16)
	if p == nil {
		t.Fatal("malloc after init failed")
	}
	e.Free(p)

	e.Destroy()
	if e.Malloc(16) != nil {
		t.Error("malloc after destroy should fail")
	}
	e.Destroy()
}

func TestWazeroEngine_RunningModes(t *testing.T) {
	for _, mode := range []RunningMode{ModeDefault, ModeInterpreter, ModeFastJIT, ModeLLVMJIT} {
		t.Run(mode.String(), func(t *testing.T) {
			e := newInitialized(t, &InitArgs{RunningMode: mode})
			_, inst := instantiate(t, e, wasmtest.Arith())
			mustCall(t, e, inst, "add", []uint32{9}, 3, 6)
		})
	}
}

func TestWazeroEngine_PoolAllocator(t *testing.T) {
	e := NewWazeroEngine()
	if e.Init(context.Background(), &InitArgs{Allocator: AllocPool, Pool: make([]byte, 1024)}) {
		t.Fatal("pool below one page should be rejected")
	}
	if !e.Init(context.Background(), &InitArgs{Allocator: AllocPool, Pool: make([]byte, 4*wasmPageSize)}) {
		t.Fatal("init with a four page pool failed")
	}
	defer e.Destroy()

	requireMemoryRejected(t, e, 8)
}

// requireMemoryRejected checks that a module declaring pages of memory fails
// to load or instantiate.
func requireMemoryRejected(t *testing.T, e Engine, pages uint32) {
	t.Helper()
	errBuf := make([]byte, ErrorBufSize)
	if mod := e.Load(context.Background(), wasmtest.Memory(pages), errBuf); mod != nil {
		defer e.Unload(mod)
		if inst := e.Instantiate(context.Background(), mod, 8192, 0, errBuf); inst != nil {
			e.Deinstantiate(inst)
			t.Fatalf("%d pages accepted over the memory limit", pages)
		}
	}
	if msg, _ := DecodeErrorBuf(errBuf); msg == "" {
		t.Error("expected an error message for the rejected module")
	}
}

func TestWazeroEngine_MemoryLimitPages(t *testing.T) {
	e := NewWazeroEngineWithConfig(&Config{MemoryLimitPages: 2})
	if !e.Init(context.Background(), nil) {
		t.Fatal("init failed")
	}
	t.Cleanup(e.Destroy)

	_, inst := instantiate(t, e, wasmtest.Memory(2))
	mustCall(t, e, inst, "size", []uint32{2})

	requireMemoryRejected(t, e, 3)
}

func TestWazeroEngine_EnableThreads(t *testing.T) {
	e := NewWazeroEngineWithConfig(&Config{EnableThreads: true})
	if !e.Init(context.Background(), nil) {
		t.Fatal("init with threads failed")
	}
	t.Cleanup(e.Destroy)

	_, inst := instantiate(t, e, wasmtest.Arith())
	mustCall(t, e, inst, "add", []uint32{3}, 1, 2)
}

func TestWazeroEngine_LoadErrors(t *testing.T) {
	e := newInitialized(t, nil)

	for name, bin := range map[string][]byte{
		"garbage":   wasmtest.Garbage(),
		"truncated": wasmtest.Truncated(),
		"empty":     {},
	} {
		t.Run(name, func(t *testing.T) {
			errBuf := make([]byte, ErrorBufSize)
			if e.Load(context.Background(), bin, errBuf) != nil {
				t.Fatal("expected load failure")
			}
			msg, err := DecodeErrorBuf(errBuf)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if msg == "" {
				t.Error("empty error message")
			}
		})
	}
}

func TestWazeroEngine_LoadBeforeInit(t *testing.T) {
	e := NewWazeroEngine()
	errBuf := make([]byte, ErrorBufSize)
	if e.Load(context.Background(), wasmtest.Arith(), errBuf) != nil {
		t.Fatal("load before init should fail")
	}
	if msg, _ := DecodeErrorBuf(errBuf); msg != "runtime not initialized" {
		t.Errorf("message = %q", msg)
	}
}

func TestWazeroEngine_ExportedFunctions(t *testing.T) {
	e := newInitialized(t, nil)
	mod, _ := instantiate(t, e, wasmtest.Arith())

	names := e.ExportedFunctions(mod)
	if !slices.Contains(names, "add") || !slices.Contains(names, "gcd") {
		t.Errorf("missing exports in %v", names)
	}
	if !slices.IsSorted(names) {
		t.Errorf("exports not sorted: %v", names)
	}
}

func TestWazeroEngine_Signatures(t *testing.T) {
	e := newInitialized(t, nil)
	_, inst := instantiate(t, e, wasmtest.Arith())

	fn := e.LookupFunction(inst, "add3")
	if fn == nil {
		t.Fatal("add3 not found")
	}
	if got := e.FuncParamTypes(fn, inst); !slices.Equal(got, []ValKind{ValI32, ValI64, ValI32}) {
		t.Errorf("params = %v", got)
	}
	if got := e.FuncResultCount(fn, inst); got != 1 {
		t.Errorf("result count = %d", got)
	}
	if got := e.FuncResultTypes(fn, inst); !slices.Equal(got, []ValKind{ValI64}) {
		t.Errorf("results = %v", got)
	}

	nop := e.LookupFunction(inst, "nop")
	if got := e.FuncResultCount(nop, inst); got != 0 {
		t.Errorf("nop result count = %d", got)
	}

	if e.LookupFunction(inst, "add3") != fn {
		t.Error("lookup is not cached")
	}
	if e.LookupFunction(inst, "missing") != nil {
		t.Error("missing export resolved")
	}
}

func TestWazeroEngine_CallWasm(t *testing.T) {
	e := newInitialized(t, nil)
	_, inst := instantiate(t, e, wasmtest.Arith())

	mustCall(t, e, inst, "gcd", []uint32{9}, 9, 27)

	// -5 + (1<<32 + 7) + 3
	mustCall(t, e, inst, "add3", []uint32{5, 1}, uint32(0xFFFFFFFB), 7, 1, 3)

	bits := math.Float64bits(-2.5)
	lo, hi := uint32(bits), uint32(bits>>32)
	mustCall(t, e, inst, "id_f64", []uint32{lo, hi}, lo, hi)

	mustCall(t, e, inst, "id_v128", []uint32{1, 2, 3, 4}, 1, 2, 3, 4)
	mustCall(t, e, inst, "nop", []uint32{})
}

func TestWazeroEngine_CallWasmArgc(t *testing.T) {
	e := newInitialized(t, nil)
	_, inst := instantiate(t, e, wasmtest.Arith())

	fn := e.LookupFunction(inst, "add")
	argv := []uint32{1, 2}
	if e.CallWasm(context.Background(), e.ExecEnvSingleton(inst), fn, 1, argv) {
		t.Fatal("call with wrong argc succeeded")
	}
	if exc := string(e.GetException(inst)); !strings.Contains(exc, "invalid argument count") {
		t.Errorf("exception = %q", exc)
	}
}

func TestWazeroEngine_Traps(t *testing.T) {
	e := newInitialized(t, nil)
	_, inst := instantiate(t, e, wasmtest.Arith())

	if _, ok := call(t, e, inst, "div_s", 1, 0); ok {
		t.Fatal("division by zero succeeded")
	}
	if exc := string(e.GetException(inst)); exc != "Exception: integer divide by zero" {
		t.Errorf("exception = %q", exc)
	}

	if _, ok := call(t, e, inst, "trap"); ok {
		t.Fatal("unreachable succeeded")
	}
	if exc := string(e.GetException(inst)); !strings.HasPrefix(exc, "Exception: unreachable") {
		t.Errorf("exception = %q", exc)
	}

	mustCall(t, e, inst, "add", []uint32{3}, 1, 2)
	if e.GetException(inst) != nil {
		t.Error("exception not cleared by the next call")
	}
}

func TestWazeroEngine_InstancesAreIndependent(t *testing.T) {
	e := newInitialized(t, nil)
	mod, a := instantiate(t, e, wasmtest.Arith())

	errBuf := make([]byte, ErrorBufSize)
	b := e.Instantiate(context.Background(), mod, 16384, 0, errBuf)
	if b == nil {
		t.Fatal("second instance failed")
	}
	defer e.Deinstantiate(b)

	for range 3 {
		if _, ok := call(t, e, a, "incr"); !ok {
			t.Fatal("incr failed")
		}
	}
	mustCall(t, e, b, "incr", []uint32{1})
}

func TestWazeroEngine_GoHostFunction(t *testing.T) {
	extra := func(_ context.Context, stack []uint64) { stack[0] = 100 }
	e := newInitialized(t, &InitArgs{
		NativeSymbols: []NativeSymbol{{
			Name: "extra",
			Go:   &GoFunction{Fn: extra, Results: []ValKind{ValI32}},
		}},
	})
	_, inst := instantiate(t, e, wasmtest.HostExtra(DefaultHostModuleName))
	mustCall(t, e, inst, "add_extra", []uint32{116}, 8, 8)
}

func TestWazeroEngine_CustomHostModuleName(t *testing.T) {
	extra := func(_ context.Context, stack []uint64) { stack[0] = 1 }
	e := newInitialized(t, &InitArgs{
		HostModuleName: "host",
		NativeSymbols: []NativeSymbol{{
			Name: "extra",
			Go:   &GoFunction{Fn: extra, Results: []ValKind{ValI32}},
		}},
	})
	_, inst := instantiate(t, e, wasmtest.HostExtra("host"))
	mustCall(t, e, inst, "add_extra", []uint32{3}, 1, 1)
}

func TestWazeroEngine_RawSymbolRejected(t *testing.T) {
	var target int
	e := NewWazeroEngine()
	ok := e.Init(context.Background(), &InitArgs{
		NativeSymbols: []NativeSymbol{{Name: "extra", Func: unsafe.Pointer(&target), Signature: "()i"}},
	})
	if ok {
		t.Fatal("raw symbol accepted")
	}
	if e.Malloc(1) != nil {
		t.Error("failed init left the engine initialized")
	}
}

func TestWazeroEngine_MissingImport(t *testing.T) {
	e := newInitialized(t, nil)
	mod := load(t, e, wasmtest.MissingImport())

	errBuf := make([]byte, ErrorBufSize)
	if e.Instantiate(context.Background(), mod, 8192, 0, errBuf) != nil {
		t.Fatal("instantiation with a missing import succeeded")
	}
	msg, err := DecodeErrorBuf(errBuf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg == "" {
		t.Error("empty error message")
	}
}

func TestWazeroEngine_WASI(t *testing.T) {
	e := newInitialized(t, nil)
	mod := load(t, e, wasmtest.WASI())

	e.SetWASIArgs(mod, &WASIArgs{
		Env:  []string{"A=1", "B=2", "C=3"},
		Argv: []string{"prog", "--flag"},
	})
	e.SetWASIAddrPool(mod, []string{"127.0.0.1/8"})
	e.SetWASINSLookupPool(mod, []string{"localhost"})

	errBuf := make([]byte, ErrorBufSize)
	inst := e.Instantiate(context.Background(), mod, 8192, 0, errBuf)
	if inst == nil {
		msg, _ := DecodeErrorBuf(errBuf)
		t.Fatalf("instantiate: %s", msg)
	}
	defer e.Deinstantiate(inst)

	mustCall(t, e, inst, "env_count", []uint32{3})
	mustCall(t, e, inst, "args_count", []uint32{2})
	if _, ok := call(t, e, inst, "exit_ok"); !ok {
		t.Error("proc_exit(0) should complete normally")
	}
}

func TestWazeroEngine_ReactorInitialize(t *testing.T) {
	e := newInitialized(t, nil)
	_, inst := instantiate(t, e, wasmtest.Reactor())
	mustCall(t, e, inst, "ready", []uint32{42})
}

func TestWazeroEngine_ReactorInitializeTrap(t *testing.T) {
	e := newInitialized(t, nil)
	mod := load(t, e, wasmtest.FailingReactor())

	errBuf := make([]byte, ErrorBufSize)
	if inst := e.Instantiate(context.Background(), mod, 8192, 0, errBuf); inst != nil {
		e.Deinstantiate(inst)
		t.Fatal("instantiation succeeded although _initialize trapped")
	}
	if msg, _ := DecodeErrorBuf(errBuf); !strings.HasPrefix(msg, "_initialize: unreachable") {
		t.Errorf("message = %q", msg)
	}
}

func TestWazeroEngine_InvalidMapDir(t *testing.T) {
	e := newInitialized(t, nil)
	mod := load(t, e, wasmtest.WASI())

	e.SetWASIArgs(mod, &WASIArgs{MapDirs: []string{"/no-separator"}})
	errBuf := make([]byte, ErrorBufSize)
	if e.Instantiate(context.Background(), mod, 8192, 0, errBuf) != nil {
		t.Fatal("invalid map dir accepted")
	}
	if msg, _ := DecodeErrorBuf(errBuf); !strings.Contains(msg, "guest::host") {
		t.Errorf("message = %q", msg)
	}
}

func TestWazeroEngine_NilHandles(t *testing.T) {
	e := newInitialized(t, nil)

	if e.LookupFunction(nil, "add") != nil {
		t.Error("LookupFunction(nil)")
	}
	if e.ExecEnvSingleton(nil) != nil {
		t.Error("ExecEnvSingleton(nil)")
	}
	if e.GetException(nil) != nil {
		t.Error("GetException(nil)")
	}
	if e.ExportedFunctions(nil) != nil {
		t.Error("ExportedFunctions(nil)")
	}
	if e.CallWasm(context.Background(), nil, nil, 0, nil) {
		t.Error("CallWasm(nil) succeeded")
	}
	if !e.ThreadEnvInited() || !e.InitThreadEnv() {
		t.Error("thread env should be a no-op success")
	}
	e.DestroyThreadEnv()
	e.Unload(nil)
	e.Deinstantiate(nil)
}
