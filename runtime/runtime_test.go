package runtime

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/wippyai/wasm-bind/config"
	"github.com/wippyai/wasm-bind/engine"
	"github.com/wippyai/wasm-bind/errors"
	"github.com/wippyai/wasm-bind/internal/wasmtest"
	"github.com/wippyai/wasm-bind/value"
)

// countingEngine counts engine lifecycle transitions.
type countingEngine struct {
	*engine.WazeroEngine
	inits    atomic.Int32
	destroys atomic.Int32
}

func newCountingEngine() *countingEngine {
	return &countingEngine{WazeroEngine: engine.NewWazeroEngine()}
}

func (c *countingEngine) Init(ctx context.Context, args *engine.InitArgs) bool {
	c.inits.Add(1)
	return c.WazeroEngine.Init(ctx, args)
}

func (c *countingEngine) Destroy() {
	c.destroys.Add(1)
	c.WazeroEngine.Destroy()
}

func newRuntime(t *testing.T) *Runtime {
	t.Helper()
	rt, err := New(context.Background())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func requireReleased(t *testing.T) {
	t.Helper()
	if n := RefCount(); n != 0 {
		t.Fatalf("expected no live runtime, got %d holders", n)
	}
}

func TestRuntime_SingleInitDestroy(t *testing.T) {
	requireReleased(t)
	ctx := context.Background()
	counter := newCountingEngine()

	const n = 5
	holders := make([]*Runtime, 0, n)
	for i := 0; i < n; i++ {
		rt, err := NewBuilder().WithEngine(counter).Build(ctx)
		if err != nil {
			t.Fatalf("Build %d: %v", i, err)
		}
		holders = append(holders, rt)
	}
	if RefCount() != n {
		t.Fatalf("expected %d holders, got %d", n, RefCount())
	}

	for _, rt := range holders[:n-1] {
		if err := rt.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}

	ptr := holders[n-1].Engine().Malloc(16)
	if ptr == nil {
		t.Fatal("engine should still be live after partial release")
	}
	holders[n-1].Engine().Free(ptr)

	if err := holders[n-1].Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := counter.inits.Load(); got != 1 {
		t.Errorf("expected 1 init, got %d", got)
	}
	if got := counter.destroys.Load(); got != 1 {
		t.Errorf("expected 1 destroy, got %d", got)
	}
	if counter.Malloc(16) != nil {
		t.Error("engine should be torn down after the last release")
	}
	requireReleased(t)
}

func TestRuntime_ConcurrentAcquire(t *testing.T) {
	requireReleased(t)
	ctx := context.Background()
	counter := newCountingEngine()

	var wg sync.WaitGroup
	holders := make([]*Runtime, 16)
	for i := range holders {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rt, err := NewBuilder().WithEngine(counter).Build(ctx)
			if err != nil {
				t.Errorf("Build: %v", err)
				return
			}
			holders[i] = rt
		}(i)
	}
	wg.Wait()

	for i := range holders {
		wg.Add(1)
		go func(rt *Runtime) {
			defer wg.Done()
			if rt != nil {
				_ = rt.Close()
			}
		}(holders[i])
	}
	wg.Wait()

	if counter.inits.Load() != 1 || counter.destroys.Load() != 1 {
		t.Errorf("expected one init and one destroy, got %d/%d", counter.inits.Load(), counter.destroys.Load())
	}
	requireReleased(t)
}

func TestRuntime_CloseIdempotent(t *testing.T) {
	requireReleased(t)
	ctx := context.Background()

	a, err := New(ctx)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, err := New(ctx)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_ = a.Close()
	_ = a.Close()
	if RefCount() != 1 {
		t.Fatalf("double close released another holder: %d", RefCount())
	}
	if !a.Closed() || b.Closed() {
		t.Fatal("closed flags are per holder")
	}
	_ = b.Close()
	requireReleased(t)
}

func TestRuntime_FirstConfigurationWins(t *testing.T) {
	requireReleased(t)
	ctx := context.Background()
	first, second := newCountingEngine(), newCountingEngine()

	a, err := NewBuilder().WithEngine(first).RunAsInterpreter().Build(ctx)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer a.Close()

	b, err := NewBuilder().WithEngine(second).RunAsFastJIT(1 << 20).Build(ctx)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer b.Close()

	if b.Engine() != a.Engine() {
		t.Error("second holder should share the live engine")
	}
	if second.inits.Load() != 0 {
		t.Error("second engine should never be initialized")
	}
}

func TestRuntime_SharedIgnoresEngineSelection(t *testing.T) {
	requireReleased(t)
	ctx := context.Background()
	a := newRuntime(t)

	for _, name := range []string{EngineWAMR, EngineWasmer, "v8"} {
		b, err := NewBuilder().WithEngineName(name).Build(ctx)
		if err != nil {
			t.Fatalf("%s: joining a live runtime failed: %v", name, err)
		}
		if b.Engine() != a.Engine() {
			t.Errorf("%s: holder did not share the live engine", name)
		}
		_ = b.Close()
	}
	if RefCount() != 1 {
		t.Errorf("expected one holder, got %d", RefCount())
	}
}

func TestBuilder_MemoryLimitPages(t *testing.T) {
	requireReleased(t)
	ctx := context.Background()

	rt, err := NewBuilder().MemoryLimitPages(2).EnableThreads(true).Build(ctx)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer rt.Close()

	mod, err := NewModule(ctx, rt, wasmtest.Memory(2))
	if err != nil {
		t.Fatalf("NewModule: %v", err)
	}
	defer mod.Close()
	inst, err := mod.Instantiate(ctx, 8192)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	defer inst.Close()
	if v, err := inst.Call(ctx, "size"); err != nil || v.I32() != 2 {
		t.Errorf("size = %v, %v", v, err)
	}

	big, err := NewModule(ctx, rt, wasmtest.Memory(3))
	if err == nil {
		defer big.Close()
		if inst, err := big.Instantiate(ctx, 8192); err == nil {
			_ = inst.Close()
			t.Fatal("memory above the limit was accepted")
		}
	}
}

func TestRuntime_InitFailure(t *testing.T) {
	requireReleased(t)

	_, err := NewBuilder().UseMemoryPool(make([]byte, 100)).Build(context.Background())
	if !stderrors.Is(err, errors.ErrInitializationFailure) {
		t.Fatalf("expected initialization failure, got %v", err)
	}
	requireReleased(t)
}

func TestBuilder_ValidationErrors(t *testing.T) {
	requireReleased(t)
	noop := func(context.Context, []uint64) {}

	tests := map[string]*Builder{
		"empty pool":        NewBuilder().UseMemoryPool(nil),
		"nul in name":       NewBuilder().AddGoHostFunction("ex\x00tra", nil, nil, noop),
		"empty name":        NewBuilder().AddGoHostFunction("", nil, nil, noop),
		"nil pointer":       NewBuilder().AddHostFunction("native", nil),
		"nul module name":   NewBuilder().HostModuleName("e\x00nv"),
		"nil go function":   NewBuilder().AddGoHostFunction("extra", nil, nil, nil),
		"void param":        NewBuilder().AddGoHostFunction("extra", []value.Kind{value.KindVoid}, nil, noop),
		"duplicate":         NewBuilder().AddGoHostFunction("extra", nil, nil, noop).AddGoHostFunction("extra", nil, nil, noop),
		"unknown engine":    NewBuilder().WithEngineName("v8"),
		"invalid config":    NewBuilder().WithConfig(&config.Config{Engine: "v8"}),
		"first error kept":  NewBuilder().UseMemoryPool(nil).RunAsInterpreter(),
		"nul in signature":  NewBuilder().AddHostFunctionWithSignature("native", "(i\x00)i", nil, nil),
		"cgo backend stubs": NewBuilder().WithEngineName(EngineWAMR),
		"memory limit":      NewBuilder().MemoryLimitPages(65537),
	}

	for name, b := range tests {
		t.Run(name, func(t *testing.T) {
			rt, err := b.Build(context.Background())
			if err == nil {
				// The wamr backend is real when built with -tags wamr.
				_ = rt.Close()
				if name == "cgo backend stubs" {
					t.Skip("wamr backend available")
				}
				t.Fatal("expected error")
			}
			requireReleased(t)
		})
	}
}

func TestBuilder_WithConfig(t *testing.T) {
	requireReleased(t)

	cfg, err := config.Parse([]byte("runtime:\n  allocator: pool\n  pool_size: 8388608\n  running_mode: interpreter\n  memory_limit_pages: 64\n  host_module_name: host\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	b := NewBuilder().WithConfig(cfg)
	if b.args.Allocator != engine.AllocPool || len(b.args.Pool) != 8<<20 {
		t.Errorf("pool not applied: %v %d", b.args.Allocator, len(b.args.Pool))
	}
	if b.args.RunningMode != engine.ModeInterpreter {
		t.Errorf("running mode not applied: %v", b.args.RunningMode)
	}
	if b.wazero.MemoryLimitPages != 64 {
		t.Errorf("memory limit not applied: %d", b.wazero.MemoryLimitPages)
	}

	rt, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer rt.Close()
	if rt.Engine().Name() != EngineWazero {
		t.Errorf("expected wazero engine, got %s", rt.Engine().Name())
	}
}

func TestNewEngine(t *testing.T) {
	eng, err := NewEngine("")
	if err != nil || eng.Name() != EngineWazero {
		t.Fatalf("default engine: %v %v", eng, err)
	}
	if _, err := NewEngine("v8"); !stderrors.Is(err, errors.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}

	eng, err = NewEngineWithConfig(EngineWazero, &engine.Config{MemoryLimitPages: 1})
	if err != nil {
		t.Fatalf("NewEngineWithConfig: %v", err)
	}
	if _, ok := eng.(*engine.WazeroEngine); !ok {
		t.Errorf("expected *engine.WazeroEngine, got %T", eng)
	}
}
