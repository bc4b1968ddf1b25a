package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"
)

const wasmPageSize = 65536

// WazeroEngine implements Engine on top of the wazero runtime.
// It is the default backend and needs no native library.
type WazeroEngine struct {
	runtime      wazero.Runtime
	hostModule   api.Module
	allocs       map[uintptr][]byte
	cfg          Config
	mu           sync.Mutex
	wasiInitMu   sync.Mutex
	wasiInitDone atomic.Bool
}

// Config holds backend options that InitArgs does not carry.
type Config struct {
	// MemoryLimitPages caps linear memory per instance in 64KiB pages.
	// 0 means the wazero default. A memory pool in InitArgs overrides it.
	MemoryLimitPages uint32

	// EnableThreads enables the threads proposal (experimental).
	// It is also switched on when InitArgs.MaxThreadNum > 1.
	EnableThreads bool
}

type wazeroModule struct {
	compiled  wazero.CompiledModule
	wasi      WASIArgs
	addrPool  []string
	nsPool    []string
	needsWASI bool
}

type wazeroInstance struct {
	mod       api.Module
	module    *wazeroModule
	funcs     map[string]*wazeroFunction
	env       *wazeroExecEnv
	exception string
	stackSize uint32
	heapSize  uint32
}

type wazeroExecEnv struct {
	inst *wazeroInstance
}

type wazeroFunction struct {
	fn      api.Function
	inst    *wazeroInstance
	name    string
	params  []ValKind
	results []ValKind
}

// NewWazeroEngine creates an uninitialized wazero backend.
func NewWazeroEngine() *WazeroEngine {
	return NewWazeroEngineWithConfig(nil)
}

// NewWazeroEngineWithConfig creates an uninitialized wazero backend with custom options.
func NewWazeroEngineWithConfig(cfg *Config) *WazeroEngine {
	e := &WazeroEngine{}
	if cfg != nil {
		e.cfg = *cfg
	}
	return e
}

func (e *WazeroEngine) Name() string { return "wazero" }

func (e *WazeroEngine) Init(ctx context.Context, args *InitArgs) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.runtime != nil {
		Logger().Warn("wazero engine already initialized")
		return false
	}
	if args == nil {
		args = &InitArgs{}
	}

	var runtimeCfg wazero.RuntimeConfig
	switch args.RunningMode {
	case ModeInterpreter:
		runtimeCfg = wazero.NewRuntimeConfigInterpreter()
	default:
		runtimeCfg = wazero.NewRuntimeConfig()
	}
	runtimeCfg = runtimeCfg.WithCloseOnContextDone(true)

	limit := e.cfg.MemoryLimitPages
	if args.Allocator == AllocPool {
		pages := len(args.Pool) / wasmPageSize
		if pages == 0 {
			Logger().Error("memory pool smaller than one page", zap.Int("pool_size", len(args.Pool)))
			return false
		}
		limit = uint32(min(pages, 65536))
	}
	if limit > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(limit)
	}
	if e.cfg.EnableThreads || args.MaxThreadNum > 1 {
		runtimeCfg = runtimeCfg.WithCoreFeatures(api.CoreFeaturesV2 | experimental.CoreFeaturesThreads)
	}

	r := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)

	if len(args.NativeSymbols) > 0 {
		hostMod, err := instantiateHostModule(ctx, r, args.ModuleName(), args.NativeSymbols)
		if err != nil {
			Logger().Error("register host functions", zap.String("module", args.ModuleName()), zap.Error(err))
			_ = r.Close(ctx)
			return false
		}
		e.hostModule = hostMod
	}

	e.runtime = r
	e.allocs = make(map[uintptr][]byte)
	Logger().Debug("wazero engine initialized",
		zap.Stringer("mode", args.RunningMode),
		zap.Stringer("allocator", args.Allocator),
		zap.Uint32("memory_limit_pages", limit),
		zap.Int("host_symbols", len(args.NativeSymbols)))
	return true
}

func (e *WazeroEngine) Destroy() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.runtime == nil {
		return
	}
	if err := e.runtime.Close(context.Background()); err != nil {
		Logger().Warn("close wazero runtime", zap.Error(err))
	}
	e.runtime = nil
	e.hostModule = nil
	e.allocs = nil
	e.wasiInitDone.Store(false)
	Logger().Debug("wazero engine destroyed")
}

// Malloc allocates from the engine heap. It fails when the engine is not initialized.
func (e *WazeroEngine) Malloc(size uint32) unsafe.Pointer {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.runtime == nil {
		return nil
	}
	buf := make([]byte, max(size, 1))
	p := unsafe.Pointer(&buf[0])
	e.allocs[uintptr(p)] = buf
	return p
}

func (e *WazeroEngine) Free(ptr unsafe.Pointer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.allocs, uintptr(ptr))
}

func (e *WazeroEngine) currentRuntime() wazero.Runtime {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runtime
}

func (e *WazeroEngine) Load(ctx context.Context, buf []byte, errBuf []byte) ModuleHandle {
	r := e.currentRuntime()
	if r == nil {
		WriteErrorBuf(errBuf, "runtime not initialized")
		return nil
	}

	compiled, err := r.CompileModule(ctx, buf)
	if err != nil {
		WriteErrorBuf(errBuf, err.Error())
		return nil
	}

	m := &wazeroModule{compiled: compiled}
	for _, def := range compiled.ImportedFunctions() {
		if modName, _, ok := def.Import(); ok && modName == wasi_snapshot_preview1.ModuleName {
			m.needsWASI = true
			break
		}
	}
	return ModuleHandle(m)
}

func (e *WazeroEngine) Unload(mod ModuleHandle) {
	if mod == nil {
		return
	}
	m := (*wazeroModule)(mod)
	if err := m.compiled.Close(context.Background()); err != nil {
		Logger().Debug("close compiled module", zap.Error(err))
	}
}

func (e *WazeroEngine) SetWASIArgs(mod ModuleHandle, args *WASIArgs) {
	if mod == nil || args == nil {
		return
	}
	m := (*wazeroModule)(mod)
	m.wasi = WASIArgs{
		Dirs:    append([]string(nil), args.Dirs...),
		MapDirs: append([]string(nil), args.MapDirs...),
		Env:     append([]string(nil), args.Env...),
		Argv:    append([]string(nil), args.Argv...),
	}
}

// SetWASIAddrPool records the allow-list. wazero exposes no socket
// creation, so the list only matters to guests on other backends.
func (e *WazeroEngine) SetWASIAddrPool(mod ModuleHandle, addrs []string) {
	if mod == nil {
		return
	}
	(*wazeroModule)(mod).addrPool = append([]string(nil), addrs...)
}

func (e *WazeroEngine) SetWASINSLookupPool(mod ModuleHandle, names []string) {
	if mod == nil {
		return
	}
	(*wazeroModule)(mod).nsPool = append([]string(nil), names...)
}

func (e *WazeroEngine) ExportedFunctions(mod ModuleHandle) []string {
	if mod == nil {
		return nil
	}
	defs := (*wazeroModule)(mod).compiled.ExportedFunctions()
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *WazeroEngine) Instantiate(ctx context.Context, mod ModuleHandle, stackSize, heapSize uint32, errBuf []byte) InstanceHandle {
	r := e.currentRuntime()
	if r == nil {
		WriteErrorBuf(errBuf, "runtime not initialized")
		return nil
	}
	if mod == nil {
		WriteErrorBuf(errBuf, "invalid module handle")
		return nil
	}
	m := (*wazeroModule)(mod)

	if m.needsWASI {
		if err := e.InitWASI(ctx, r); err != nil {
			WriteErrorBuf(errBuf, err.Error())
			return nil
		}
	}

	cfg, err := m.moduleConfig()
	if err != nil {
		WriteErrorBuf(errBuf, err.Error())
		return nil
	}

	apiMod, err := r.InstantiateModule(ctx, m.compiled, cfg)
	if err != nil {
		WriteErrorBuf(errBuf, err.Error())
		return nil
	}
	if m.needsWASI {
		if err := initializeReactor(ctx, apiMod); err != nil {
			_ = apiMod.Close(ctx)
			WriteErrorBuf(errBuf, err.Error())
			return nil
		}
	}

	inst := &wazeroInstance{
		mod:       apiMod,
		module:    m,
		funcs:     make(map[string]*wazeroFunction),
		stackSize: stackSize,
		heapSize:  heapSize,
	}
	inst.env = &wazeroExecEnv{inst: inst}
	Logger().Debug("wazero instance created",
		zap.Uint32("stack_size", stackSize),
		zap.Uint32("heap_size", heapSize),
		zap.Bool("wasi", m.needsWASI))
	return InstanceHandle(inst)
}

// initializeReactor runs the _initialize export of a WASI reactor. Commands
// export _start instead and are left for the caller to run.
func initializeReactor(ctx context.Context, mod api.Module) error {
	fn := mod.ExportedFunction("_initialize")
	if fn == nil || mod.ExportedFunction("_start") != nil {
		return nil
	}
	if def := fn.Definition(); len(def.ParamTypes()) != 0 || len(def.ResultTypes()) != 0 {
		return fmt.Errorf("_initialize must take no params and return no results")
	}
	if _, err := fn.Call(ctx); err != nil {
		var exitErr *sys.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 0 {
			return nil
		}
		return fmt.Errorf("_initialize: %s", trapMessage(err))
	}
	return nil
}

// moduleConfig builds an anonymous module config so one compiled module can
// be instantiated many times. Start functions such as _start are not run.
func (m *wazeroModule) moduleConfig() (wazero.ModuleConfig, error) {
	cfg := wazero.NewModuleConfig().
		WithName("").
		WithStartFunctions()
	if !m.needsWASI {
		return cfg, nil
	}

	cfg = cfg.
		WithStdin(os.Stdin).
		WithStdout(os.Stdout).
		WithStderr(os.Stderr).
		WithSysWalltime().
		WithSysNanotime().
		WithSysNanosleep()

	if len(m.wasi.Argv) > 0 {
		cfg = cfg.WithArgs(m.wasi.Argv...)
	}
	for _, kv := range m.wasi.Env {
		k, v, _ := strings.Cut(kv, "=")
		cfg = cfg.WithEnv(k, v)
	}

	if len(m.wasi.Dirs) > 0 || len(m.wasi.MapDirs) > 0 {
		fsCfg := wazero.NewFSConfig()
		for _, dir := range m.wasi.Dirs {
			fsCfg = fsCfg.WithDirMount(dir, dir)
		}
		for _, mapping := range m.wasi.MapDirs {
			guest, host, ok := strings.Cut(mapping, "::")
			if !ok {
				return nil, fmt.Errorf("invalid map dir %q: expected guest::host", mapping)
			}
			fsCfg = fsCfg.WithDirMount(host, guest)
		}
		cfg = cfg.WithFSConfig(fsCfg)
	}
	return cfg, nil
}

func (e *WazeroEngine) Deinstantiate(inst InstanceHandle) {
	if inst == nil {
		return
	}
	i := (*wazeroInstance)(inst)
	if err := i.mod.Close(context.Background()); err != nil {
		Logger().Debug("close wazero instance", zap.Error(err))
	}
	i.funcs = nil
}

func (e *WazeroEngine) ExecEnvSingleton(inst InstanceHandle) ExecEnvHandle {
	if inst == nil {
		return nil
	}
	return ExecEnvHandle((*wazeroInstance)(inst).env)
}

// wazero calls are not bound to OS threads, so the thread environment is a no-op.
func (e *WazeroEngine) InitThreadEnv() bool   { return true }
func (e *WazeroEngine) ThreadEnvInited() bool { return true }
func (e *WazeroEngine) DestroyThreadEnv()     {}

func (e *WazeroEngine) LookupFunction(inst InstanceHandle, name string) FunctionHandle {
	if inst == nil {
		return nil
	}
	i := (*wazeroInstance)(inst)
	if f, ok := i.funcs[name]; ok {
		return FunctionHandle(f)
	}
	fn := i.mod.ExportedFunction(name)
	if fn == nil {
		return nil
	}
	def := fn.Definition()
	f := &wazeroFunction{
		fn:      fn,
		inst:    i,
		name:    name,
		params:  fromAPITypes(def.ParamTypes()),
		results: fromAPITypes(def.ResultTypes()),
	}
	i.funcs[name] = f
	return FunctionHandle(f)
}

func (e *WazeroEngine) FuncParamTypes(fn FunctionHandle, _ InstanceHandle) []ValKind {
	if fn == nil {
		return nil
	}
	return (*wazeroFunction)(fn).params
}

func (e *WazeroEngine) FuncResultCount(fn FunctionHandle, _ InstanceHandle) uint32 {
	if fn == nil {
		return 0
	}
	return uint32(len((*wazeroFunction)(fn).results))
}

func (e *WazeroEngine) FuncResultTypes(fn FunctionHandle, _ InstanceHandle) []ValKind {
	if fn == nil {
		return nil
	}
	return (*wazeroFunction)(fn).results
}

func (e *WazeroEngine) GetException(inst InstanceHandle) []byte {
	if inst == nil {
		return nil
	}
	i := (*wazeroInstance)(inst)
	if i.exception == "" {
		return nil
	}
	return []byte(i.exception)
}

// InitWASI instantiates wasi_snapshot_preview1 into r once per engine lifetime.
func (e *WazeroEngine) InitWASI(ctx context.Context, r wazero.Runtime) error {
	if e.wasiInitDone.Load() {
		return nil
	}

	e.wasiInitMu.Lock()
	defer e.wasiInitMu.Unlock()

	if e.wasiInitDone.Load() {
		return nil
	}
	if _, err := instantiateWASI(ctx, r); err != nil {
		return fmt.Errorf("instantiate wasi: %w", err)
	}
	e.wasiInitDone.Store(true)
	return nil
}

var _ Engine = (*WazeroEngine)(nil)
