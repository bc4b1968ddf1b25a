package runtime

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/wippyai/wasm-bind/config"
	"github.com/wippyai/wasm-bind/errors"
	"github.com/wippyai/wasm-bind/internal/wasmtest"
)

func loadWASI(t *testing.T) *Module {
	t.Helper()
	rt := newRuntime(t)
	mod, err := NewModule(context.Background(), rt, wasmtest.WASI())
	if err != nil {
		t.Fatalf("NewModule error: %v", err)
	}
	t.Cleanup(func() { _ = mod.Close() })
	return mod
}

func callI32(t *testing.T, inst *Instance, name string) int32 {
	t.Helper()
	v, err := inst.Call(context.Background(), name)
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	return v.I32()
}

func TestWASI_EnvAndArgs(t *testing.T) {
	ctx := context.Background()
	mod := loadWASI(t)

	if err := mod.SetWASIEnv([]string{"A=1", "B=2", "C=3"}); err != nil {
		t.Fatalf("SetWASIEnv: %v", err)
	}
	if err := mod.SetWASIArgs([]string{"prog", "--flag"}); err != nil {
		t.Fatalf("SetWASIArgs: %v", err)
	}
	if err := mod.SetWASIPreOpenPaths([]string{t.TempDir()}, nil); err != nil {
		t.Fatalf("SetWASIPreOpenPaths: %v", err)
	}

	inst, err := mod.Instantiate(ctx, 8192)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	defer inst.Close()

	if n := callI32(t, inst, "env_count"); n != 3 {
		t.Errorf("env_count = %d, want 3", n)
	}
	if n := callI32(t, inst, "args_count"); n != 2 {
		t.Errorf("args_count = %d, want 2", n)
	}
	if _, err := inst.Call(ctx, "exit_ok"); err != nil {
		t.Errorf("proc_exit(0) should complete normally: %v", err)
	}
}

func TestWASI_LaterChangesOnlyAffectNewInstances(t *testing.T) {
	ctx := context.Background()
	mod := loadWASI(t)

	_ = mod.SetWASIEnv([]string{"A=1"})
	first, err := mod.Instantiate(ctx, 8192)
	if err != nil {
		t.Fatal(err)
	}
	defer first.Close()

	_ = mod.SetWASIEnv([]string{"A=1", "B=2"})
	second, err := mod.Instantiate(ctx, 8192)
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()

	if n := callI32(t, first, "env_count"); n != 1 {
		t.Errorf("first env_count = %d, want 1", n)
	}
	if n := callI32(t, second, "env_count"); n != 2 {
		t.Errorf("second env_count = %d, want 2", n)
	}
}

func TestWASI_RejectsNUL(t *testing.T) {
	mod := loadWASI(t)

	tests := map[string]error{
		"env":     mod.SetWASIEnv([]string{"A=\x00"}),
		"args":    mod.SetWASIArgs([]string{"prog", "a\x00b"}),
		"dirs":    mod.SetWASIPreOpenPaths([]string{"/tmp\x00"}, nil),
		"mapped":  mod.SetWASIPreOpenPaths(nil, []string{"/a::/b\x00"}),
		"address": mod.SetWASIAllowedAddresses([]string{"127.0.0.1\x00"}),
		"dns":     mod.SetWASIAllowedDNS([]string{"local\x00host"}),
	}
	for name, err := range tests {
		if !stderrors.Is(err, errors.ErrInvalidInput) {
			t.Errorf("%s: expected invalid input, got %v", name, err)
		}
	}
}

func TestWASI_ApplyConfig(t *testing.T) {
	ctx := context.Background()
	mod := loadWASI(t)

	cfg := config.WASI{
		Env:              []string{"HOME=/", "USER=guest"},
		Args:             []string{"app"},
		AllowedAddresses: []string{"127.0.0.1/8"},
		AllowedDNS:       []string{"localhost"},
	}
	if err := mod.ApplyWASIConfig(cfg); err != nil {
		t.Fatalf("ApplyWASIConfig: %v", err)
	}

	inst, err := mod.Instantiate(ctx, 8192)
	if err != nil {
		t.Fatal(err)
	}
	defer inst.Close()

	if n := callI32(t, inst, "env_count"); n != 2 {
		t.Errorf("env_count = %d, want 2", n)
	}
	if n := callI32(t, inst, "args_count"); n != 1 {
		t.Errorf("args_count = %d, want 1", n)
	}
}

func TestWASI_ClosedModule(t *testing.T) {
	mod := loadWASI(t)
	_ = mod.Close()

	if err := mod.SetWASIEnv([]string{"A=1"}); !stderrors.Is(err, errors.ErrNotInitialized) {
		t.Errorf("expected not initialized, got %v", err)
	}
	if err := mod.SetWASIAllowedDNS([]string{"localhost"}); !stderrors.Is(err, errors.ErrNotInitialized) {
		t.Errorf("expected not initialized, got %v", err)
	}
}

func TestWASI_ReactorInitialize(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t)

	mod, err := NewModule(ctx, rt, wasmtest.Reactor())
	if err != nil {
		t.Fatalf("NewModule: %v", err)
	}
	defer mod.Close()

	inst, err := mod.Instantiate(ctx, 8192)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	defer inst.Close()
	if n := callI32(t, inst, "ready"); n != 42 {
		t.Errorf("ready = %d, want 42 after _initialize", n)
	}

	failing, err := NewModule(ctx, rt, wasmtest.FailingReactor())
	if err != nil {
		t.Fatalf("NewModule: %v", err)
	}
	defer failing.Close()
	if _, err := failing.Instantiate(ctx, 8192); !stderrors.Is(err, errors.ErrInstantiationFailure) {
		t.Errorf("expected instantiation failure, got %v", err)
	}
}
