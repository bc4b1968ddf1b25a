//go:build wasmer && cgo

package wasmer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"unsafe"

	"github.com/wasmerio/wasmer-go/wasmer"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-bind/engine"
)

// Engine implements engine.Engine on wasmer-go.
type Engine struct {
	engine     *wasmer.Engine
	hostModule string
	symbols    []engine.NativeSymbol
	allocs     map[uintptr][]byte
	mu         sync.Mutex
}

type module struct {
	store    *wasmer.Store
	module   *wasmer.Module
	wasi     *engine.WASIArgs
	isWASI   bool
	addrPool []string
	nsPool   []string
}

type instance struct {
	instance  *wasmer.Instance
	module    *module
	funcs     map[string]*function
	exception string
}

type function struct {
	fn      *wasmer.Function
	inst    *instance
	name    string
	params  []engine.ValKind
	results []engine.ValKind
}

// New returns an uninitialized wasmer engine.
func New() (engine.Engine, error) {
	return &Engine{}, nil
}

func (e *Engine) Name() string { return "wasmer" }

func (e *Engine) Init(_ context.Context, args *engine.InitArgs) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.engine != nil {
		return false
	}
	if args == nil {
		args = &engine.InitArgs{}
	}
	for _, s := range args.NativeSymbols {
		if s.Go == nil {
			engine.Logger().Error("native function pointers are not supported by the wasmer backend", zap.String("symbol", s.Name))
			return false
		}
	}

	e.engine = newWasmerEngine(args.RunningMode)
	e.hostModule = args.ModuleName()
	e.symbols = append([]engine.NativeSymbol(nil), args.NativeSymbols...)
	e.allocs = make(map[uintptr][]byte)
	engine.Logger().Debug("wasmer engine initialized",
		zap.Stringer("mode", args.RunningMode),
		zap.Int("host_symbols", len(e.symbols)))
	return true
}

// newWasmerEngine maps the running mode to a compiler. wasmer has no
// interpreter, so the interpreter and fast JIT tiers use singlepass.
func newWasmerEngine(mode engine.RunningMode) *wasmer.Engine {
	config := wasmer.NewConfig()
	switch mode {
	case engine.ModeInterpreter, engine.ModeFastJIT:
		if wasmer.IsCompilerAvailable(wasmer.SINGLEPASS) {
			return wasmer.NewEngineWithConfig(config.UseSinglepassCompiler())
		}
	case engine.ModeLLVMJIT:
		if wasmer.IsCompilerAvailable(wasmer.LLVM) {
			return wasmer.NewEngineWithConfig(config.UseLLVMCompiler())
		}
	}
	if mode != engine.ModeDefault {
		engine.Logger().Warn("requested compiler unavailable, using default", zap.Stringer("mode", mode))
	}
	return wasmer.NewEngine()
}

func (e *Engine) Destroy() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.engine = nil
	e.symbols = nil
	e.allocs = nil
}

func (e *Engine) Malloc(size uint32) unsafe.Pointer {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.engine == nil {
		return nil
	}
	buf := make([]byte, max(size, 1))
	p := unsafe.Pointer(&buf[0])
	e.allocs[uintptr(p)] = buf
	return p
}

func (e *Engine) Free(ptr unsafe.Pointer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.allocs, uintptr(ptr))
}

func (e *Engine) current() *wasmer.Engine {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.engine
}

func (e *Engine) Load(_ context.Context, buf []byte, errBuf []byte) engine.ModuleHandle {
	eng := e.current()
	if eng == nil {
		engine.WriteErrorBuf(errBuf, "runtime not initialized")
		return nil
	}

	// One store per module keeps instance counts per store bounded.
	store := wasmer.NewStore(eng)
	mod, err := wasmer.NewModule(store, buf)
	if err != nil {
		store.Close()
		engine.WriteErrorBuf(errBuf, err.Error())
		return nil
	}
	m := &module{
		store:  store,
		module: mod,
		isWASI: wasmer.GetWasiVersion(mod) != wasmer.WASI_VERSION_INVALID,
	}
	return engine.ModuleHandle(unsafe.Pointer(m))
}

func (e *Engine) Unload(mod engine.ModuleHandle) {
	if mod == nil {
		return
	}
	m := (*module)(mod)
	m.module.Close()
	m.store.Close()
}

func (e *Engine) SetWASIArgs(mod engine.ModuleHandle, args *engine.WASIArgs) {
	if mod == nil || args == nil {
		return
	}
	cp := *args
	(*module)(mod).wasi = &cp
}

func (e *Engine) SetWASIAddrPool(mod engine.ModuleHandle, addrs []string) {
	if mod != nil {
		(*module)(mod).addrPool = append([]string(nil), addrs...)
	}
}

func (e *Engine) SetWASINSLookupPool(mod engine.ModuleHandle, names []string) {
	if mod != nil {
		(*module)(mod).nsPool = append([]string(nil), names...)
	}
}

func (e *Engine) ExportedFunctions(mod engine.ModuleHandle) []string {
	if mod == nil {
		return nil
	}
	var names []string
	for _, exp := range (*module)(mod).module.Exports() {
		if exp.Type().Kind() == wasmer.FUNCTION {
			names = append(names, exp.Name())
		}
	}
	sort.Strings(names)
	return names
}

func (e *Engine) Instantiate(_ context.Context, mod engine.ModuleHandle, stackSize, heapSize uint32, errBuf []byte) engine.InstanceHandle {
	if mod == nil {
		engine.WriteErrorBuf(errBuf, "invalid module handle")
		return nil
	}
	m := (*module)(mod)

	imports, err := m.importObject()
	if err != nil {
		engine.WriteErrorBuf(errBuf, err.Error())
		return nil
	}

	e.mu.Lock()
	symbols, hostModule := e.symbols, e.hostModule
	e.mu.Unlock()

	if len(symbols) > 0 {
		externs := make(map[string]wasmer.IntoExtern, len(symbols))
		for _, s := range symbols {
			externs[s.Name] = hostFunction(m.store, s.Go)
		}
		imports.Register(hostModule, externs)
	}

	inst, err := wasmer.NewInstance(m.module, imports)
	if err != nil {
		engine.WriteErrorBuf(errBuf, err.Error())
		return nil
	}
	if m.isWASI {
		if err := initializeReactor(inst); err != nil {
			inst.Close()
			engine.WriteErrorBuf(errBuf, err.Error())
			return nil
		}
	}
	engine.Logger().Debug("wasmer instance created",
		zap.Uint32("stack_size", stackSize),
		zap.Uint32("heap_size", heapSize))
	return engine.InstanceHandle(unsafe.Pointer(&instance{
		instance: inst,
		module:   m,
		funcs:    make(map[string]*function),
	}))
}

// initializeReactor runs _initialize on WASI reactors, which export it
// instead of _start.
func initializeReactor(inst *wasmer.Instance) error {
	if _, err := inst.Exports.GetRawFunction("_start"); err == nil {
		return nil
	}
	fn, err := inst.Exports.GetRawFunction("_initialize")
	if err != nil {
		return nil
	}
	if _, err := fn.Call(); err != nil {
		return fmt.Errorf("_initialize: %w", err)
	}
	return nil
}

func (m *module) importObject() (*wasmer.ImportObject, error) {
	if !m.isWASI {
		return wasmer.NewImportObject(), nil
	}

	args := m.wasi
	if args == nil {
		args = &engine.WASIArgs{}
	}
	program := ""
	if len(args.Argv) > 0 {
		program = args.Argv[0]
	}
	builder := wasmer.NewWasiStateBuilder(program)
	if len(args.Argv) > 1 {
		for _, a := range args.Argv[1:] {
			builder = builder.Argument(a)
		}
	}
	for _, kv := range args.Env {
		k, v, _ := strings.Cut(kv, "=")
		builder = builder.Environment(k, v)
	}
	for _, dir := range args.Dirs {
		builder = builder.PreopenDirectory(dir)
	}
	for _, mapping := range args.MapDirs {
		guest, host, ok := strings.Cut(mapping, "::")
		if !ok {
			return nil, fmt.Errorf("invalid map dir %q: expected guest::host", mapping)
		}
		builder = builder.MapDirectory(guest, host)
	}

	env, err := builder.Finalize()
	if err != nil {
		return nil, err
	}
	return env.GenerateImportObject(m.store, m.module)
}

func hostFunction(store *wasmer.Store, g *engine.GoFunction) *wasmer.Function {
	ty := wasmer.NewFunctionType(valueTypes(g.Params), valueTypes(g.Results))
	return wasmer.NewFunction(store, ty, func(args []wasmer.Value) ([]wasmer.Value, error) {
		stack := make([]uint64, g.StackSize())
		for i, a := range args {
			stack[i] = toSlot(a)
		}
		g.Fn(context.Background(), stack)
		out := make([]wasmer.Value, len(g.Results))
		for i, k := range g.Results {
			out[i] = fromSlot(k, stack[i])
		}
		return out, nil
	})
}

func valueTypes(kinds []engine.ValKind) []*wasmer.ValueType {
	out := make([]wasmer.ValueKind, len(kinds))
	for i, k := range kinds {
		out[i] = toWasmerKind(k)
	}
	return wasmer.NewValueTypes(out...)
}

func toWasmerKind(k engine.ValKind) wasmer.ValueKind {
	switch k {
	case engine.ValI64:
		return wasmer.I64
	case engine.ValF32:
		return wasmer.F32
	case engine.ValF64:
		return wasmer.F64
	case engine.ValExternRef:
		return wasmer.AnyRef
	case engine.ValFuncRef:
		return wasmer.FuncRef
	default:
		return wasmer.I32
	}
}

func fromWasmerKind(k wasmer.ValueKind) engine.ValKind {
	switch k {
	case wasmer.I64:
		return engine.ValI64
	case wasmer.F32:
		return engine.ValF32
	case wasmer.F64:
		return engine.ValF64
	case wasmer.AnyRef:
		return engine.ValExternRef
	case wasmer.FuncRef:
		return engine.ValFuncRef
	default:
		return engine.ValI32
	}
}

func toSlot(v wasmer.Value) uint64 {
	switch v.Kind() {
	case wasmer.I64:
		return uint64(v.I64())
	case wasmer.F32:
		return uint64(math.Float32bits(v.F32()))
	case wasmer.F64:
		return math.Float64bits(v.F64())
	default:
		return uint64(uint32(v.I32()))
	}
}

func fromSlot(k engine.ValKind, s uint64) wasmer.Value {
	switch k {
	case engine.ValI64:
		return wasmer.NewI64(int64(s))
	case engine.ValF32:
		return wasmer.NewF32(math.Float32frombits(uint32(s)))
	case engine.ValF64:
		return wasmer.NewF64(math.Float64frombits(s))
	default:
		return wasmer.NewI32(int32(uint32(s)))
	}
}

func (e *Engine) Deinstantiate(inst engine.InstanceHandle) {
	if inst == nil {
		return
	}
	i := (*instance)(inst)
	i.instance.Close()
	i.funcs = nil
}

// ExecEnvSingleton returns the instance itself; wasmer has no exec env.
func (e *Engine) ExecEnvSingleton(inst engine.InstanceHandle) engine.ExecEnvHandle {
	return engine.ExecEnvHandle(inst)
}

func (e *Engine) InitThreadEnv() bool   { return true }
func (e *Engine) ThreadEnvInited() bool { return true }
func (e *Engine) DestroyThreadEnv()     {}

func (e *Engine) LookupFunction(inst engine.InstanceHandle, name string) engine.FunctionHandle {
	if inst == nil {
		return nil
	}
	i := (*instance)(inst)
	if f, ok := i.funcs[name]; ok {
		return engine.FunctionHandle(unsafe.Pointer(f))
	}
	fn, err := i.instance.Exports.GetRawFunction(name)
	if err != nil || fn == nil {
		return nil
	}
	ty := fn.Type()
	f := &function{fn: fn, inst: i, name: name}
	for _, p := range ty.Params() {
		f.params = append(f.params, fromWasmerKind(p.Kind()))
	}
	for _, r := range ty.Results() {
		f.results = append(f.results, fromWasmerKind(r.Kind()))
	}
	i.funcs[name] = f
	return engine.FunctionHandle(unsafe.Pointer(f))
}

func (e *Engine) FuncParamTypes(fn engine.FunctionHandle, _ engine.InstanceHandle) []engine.ValKind {
	if fn == nil {
		return nil
	}
	return (*function)(fn).params
}

func (e *Engine) FuncResultCount(fn engine.FunctionHandle, _ engine.InstanceHandle) uint32 {
	if fn == nil {
		return 0
	}
	return uint32(len((*function)(fn).results))
}

func (e *Engine) FuncResultTypes(fn engine.FunctionHandle, _ engine.InstanceHandle) []engine.ValKind {
	if fn == nil {
		return nil
	}
	return (*function)(fn).results
}

func (e *Engine) CallWasm(_ context.Context, env engine.ExecEnvHandle, fn engine.FunctionHandle, argc uint32, argv []uint32) bool {
	if env == nil || fn == nil {
		return false
	}
	inst := (*instance)(env)
	f := (*function)(fn)
	inst.exception = ""

	if want := engine.CountWords(f.params); int(argc) != want || len(argv) < want {
		inst.exception = fmt.Sprintf("Exception: invalid argument count %d, expected %d", argc, want)
		return false
	}

	params := make([]any, len(f.params))
	w := 0
	for i, k := range f.params {
		switch k {
		case engine.ValI64:
			params[i] = int64(join(argv[w], argv[w+1]))
		case engine.ValF32:
			params[i] = math.Float32frombits(argv[w])
		case engine.ValF64:
			params[i] = math.Float64frombits(join(argv[w], argv[w+1]))
		default:
			params[i] = int32(argv[w])
		}
		w += k.Words()
	}

	res, err := f.fn.Call(params...)
	if err != nil {
		var trap *wasmer.TrapError
		msg := err.Error()
		if errors.As(err, &trap) {
			msg = trap.Error()
		}
		inst.exception = "Exception: " + msg
		engine.Logger().Debug("wasm trap", zap.String("function", f.name), zap.String("exception", inst.exception))
		return false
	}

	var results []any
	switch r := res.(type) {
	case nil:
	case []any:
		results = r
	default:
		results = []any{r}
	}
	if need := engine.CountWords(f.results); len(argv) < need {
		inst.exception = fmt.Sprintf("Exception: result buffer too small: %d cells, need %d", len(argv), need)
		return false
	}

	w = 0
	for _, r := range results {
		switch v := r.(type) {
		case int32:
			argv[w] = uint32(v)
			w++
		case int64:
			argv[w], argv[w+1] = uint32(v), uint32(uint64(v)>>32)
			w += 2
		case float32:
			argv[w] = math.Float32bits(v)
			w++
		case float64:
			b := math.Float64bits(v)
			argv[w], argv[w+1] = uint32(b), uint32(b>>32)
			w += 2
		default:
			argv[w] = 0
			w++
		}
	}
	return true
}

func (e *Engine) GetException(inst engine.InstanceHandle) []byte {
	if inst == nil {
		return nil
	}
	if exc := (*instance)(inst).exception; exc != "" {
		return []byte(exc)
	}
	return nil
}

func join(lo, hi uint32) uint64 {
	return uint64(lo) | uint64(hi)<<32
}

var _ engine.Engine = (*Engine)(nil)
