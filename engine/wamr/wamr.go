//go:build wamr && cgo

package wamr

/*
#cgo LDFLAGS: -liwasm -lm -ldl -lpthread
#include <stdlib.h>
#include <string.h>
#include <wasm_export.h>

extern void wbRawTrampoline(wasm_exec_env_t env, uint64_t *args);

static void wb_set_pool(RuntimeInitArgs *args, void *buf, uint32_t size) {
	args->mem_alloc_type = Alloc_With_Pool;
	args->mem_alloc_option.pool.heap_buf = buf;
	args->mem_alloc_option.pool.heap_size = size;
}

static void wb_set_system_allocator(RuntimeInitArgs *args) {
	args->mem_alloc_type = Alloc_With_System_Allocator;
}

static void wb_set_symbol(NativeSymbol *syms, uint32_t i, const char *name, void *fn, const char *sig, void *att) {
	syms[i].symbol = name;
	syms[i].func_ptr = fn;
	syms[i].signature = sig;
	syms[i].attachment = att;
}

static void *wb_trampoline(void) {
	return (void *)wbRawTrampoline;
}

static const char *wb_export_func_name(wasm_module_t mod, int32_t i) {
	wasm_export_t e;
	wasm_runtime_get_export_type(mod, i, &e);
	if (e.kind != WASM_IMPORT_EXPORT_KIND_FUNC) {
		return NULL;
	}
	return e.name;
}
*/
import "C"

import (
	"context"
	"runtime"
	"runtime/cgo"
	"sort"
	"sync"
	"unsafe"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-bind/engine"
)

// Engine is the native WAMR backend.
type Engine struct {
	modules     map[engine.ModuleHandle]*moduleState
	cstrings    []unsafe.Pointer
	symbols     []unsafe.Pointer
	handles     []cgo.Handle
	poolPinner  runtime.Pinner
	mu          sync.Mutex
	initialized bool
}

// moduleState keeps everything WAMR may point into until unload.
type moduleState struct {
	pinner   runtime.Pinner
	cstrings []unsafe.Pointer
	arrays   []unsafe.Pointer
}

// New returns an uninitialized WAMR engine.
func New() (engine.Engine, error) {
	return &Engine{modules: make(map[engine.ModuleHandle]*moduleState)}, nil
}

func (e *Engine) Name() string { return "wamr" }

func (e *Engine) Init(_ context.Context, args *engine.InitArgs) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized {
		return false
	}
	if args == nil {
		args = &engine.InitArgs{}
	}

	var init C.RuntimeInitArgs

	if args.Allocator == engine.AllocPool {
		if len(args.Pool) == 0 {
			return false
		}
		e.poolPinner.Pin(&args.Pool[0])
		C.wb_set_pool(&init, unsafe.Pointer(&args.Pool[0]), C.uint32_t(len(args.Pool)))
	} else {
		C.wb_set_system_allocator(&init)
	}

	init.running_mode = C.RunningMode(args.RunningMode)
	init.fast_jit_code_cache_size = C.uint32_t(args.CodeCacheSize)
	init.llvm_jit_opt_level = C.uint32_t(args.LLVMOptLevel)
	init.llvm_jit_size_level = C.uint32_t(args.LLVMSizeLevel)
	init.max_thread_num = C.uint32_t(args.MaxThreadNum)

	var raw, goSyms []engine.NativeSymbol
	for _, s := range args.NativeSymbols {
		if s.Go != nil {
			goSyms = append(goSyms, s)
		} else {
			raw = append(raw, s)
		}
	}

	moduleName := e.cstring(args.ModuleName())
	if len(raw) > 0 {
		init.native_module_name = moduleName
		init.native_symbols = e.symbolTable(raw, nil)
		init.n_native_symbols = C.uint32_t(len(raw))
	}

	if !C.wasm_runtime_full_init(&init) {
		e.release()
		return false
	}

	if len(goSyms) > 0 {
		table := e.symbolTable(goSyms, C.wb_trampoline())
		if !C.wasm_runtime_register_natives_raw(moduleName, table, C.uint32_t(len(goSyms))) {
			engine.Logger().Error("register raw natives failed", zap.Int("count", len(goSyms)))
			C.wasm_runtime_destroy()
			e.release()
			return false
		}
	}

	e.initialized = true
	engine.Logger().Debug("wamr runtime initialized",
		zap.Stringer("mode", args.RunningMode),
		zap.Stringer("allocator", args.Allocator),
		zap.Int("native_symbols", len(raw)),
		zap.Int("go_symbols", len(goSyms)))
	return true
}

// symbolTable copies syms into a C array. When fn is non-nil every entry
// calls fn with a cgo handle to the Go function as its attachment.
func (e *Engine) symbolTable(syms []engine.NativeSymbol, fn unsafe.Pointer) *C.NativeSymbol {
	table := (*C.NativeSymbol)(C.calloc(C.size_t(len(syms)), C.size_t(C.sizeof_NativeSymbol)))
	e.symbols = append(e.symbols, unsafe.Pointer(table))

	for i, s := range syms {
		var sig *C.char
		ptr, att := s.Func, s.Attachment
		if fn != nil {
			h := cgo.NewHandle(s.Go)
			e.handles = append(e.handles, h)
			slot := (*C.uintptr_t)(C.malloc(C.size_t(unsafe.Sizeof(uintptr(0)))))
			*slot = C.uintptr_t(h)
			e.symbols = append(e.symbols, unsafe.Pointer(slot))
			ptr = fn
			att = unsafe.Pointer(slot)
			sig = e.cstring(rawSignature(s.Go))
		} else if s.Signature != "" {
			sig = e.cstring(s.Signature)
		}
		C.wb_set_symbol(table, C.uint32_t(i), e.cstring(s.Name), ptr, sig, att)
	}
	return table
}

func (e *Engine) cstring(s string) *C.char {
	cs := C.CString(s)
	e.cstrings = append(e.cstrings, unsafe.Pointer(cs))
	return cs
}

func (e *Engine) release() {
	for _, p := range e.cstrings {
		C.free(p)
	}
	for _, p := range e.symbols {
		C.free(p)
	}
	for _, h := range e.handles {
		h.Delete()
	}
	e.cstrings, e.symbols, e.handles = nil, nil, nil
	e.poolPinner.Unpin()
}

func (e *Engine) Destroy() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return
	}
	C.wasm_runtime_destroy()
	e.release()
	e.initialized = false
	engine.Logger().Debug("wamr runtime destroyed")
}

// Malloc allocates from the WAMR heap. It returns nil outside Init/Destroy,
// when no allocator exists.
func (e *Engine) Malloc(size uint32) unsafe.Pointer {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return nil
	}
	return C.wasm_runtime_malloc(C.uint(size))
}

func (e *Engine) Free(ptr unsafe.Pointer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ptr != nil && e.initialized {
		C.wasm_runtime_free(ptr)
	}
}

func (e *Engine) Load(_ context.Context, buf []byte, errBuf []byte) engine.ModuleHandle {
	if len(buf) == 0 {
		engine.WriteErrorBuf(errBuf, "empty module binary")
		return nil
	}
	st := &moduleState{}
	st.pinner.Pin(&buf[0])

	mod := C.wasm_runtime_load((*C.uint8_t)(unsafe.Pointer(&buf[0])), C.uint32_t(len(buf)),
		(*C.char)(unsafe.Pointer(&errBuf[0])), C.uint32_t(len(errBuf)))
	if mod == nil {
		st.pinner.Unpin()
		return nil
	}

	h := engine.ModuleHandle(unsafe.Pointer(mod))
	e.mu.Lock()
	e.modules[h] = st
	e.mu.Unlock()
	return h
}

func (e *Engine) Unload(mod engine.ModuleHandle) {
	if mod == nil {
		return
	}
	C.wasm_runtime_unload(C.wasm_module_t(unsafe.Pointer(mod)))

	e.mu.Lock()
	st := e.modules[mod]
	delete(e.modules, mod)
	e.mu.Unlock()
	if st != nil {
		st.free()
	}
}

func (st *moduleState) free() {
	for _, p := range st.cstrings {
		C.free(p)
	}
	for _, p := range st.arrays {
		C.free(p)
	}
	st.cstrings, st.arrays = nil, nil
	st.pinner.Unpin()
}

// cstringArray copies ss into a C array of C strings owned by the module.
func (st *moduleState) cstringArray(ss []string) **C.char {
	if len(ss) == 0 {
		return nil
	}
	arr := (**C.char)(C.calloc(C.size_t(len(ss)), C.size_t(unsafe.Sizeof(uintptr(0)))))
	st.arrays = append(st.arrays, unsafe.Pointer(arr))
	view := unsafe.Slice(arr, len(ss))
	for i, s := range ss {
		cs := C.CString(s)
		st.cstrings = append(st.cstrings, unsafe.Pointer(cs))
		view[i] = cs
	}
	return arr
}

func (e *Engine) state(mod engine.ModuleHandle) *moduleState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.modules[mod]
}

func (e *Engine) SetWASIArgs(mod engine.ModuleHandle, args *engine.WASIArgs) {
	st := e.state(mod)
	if st == nil || args == nil {
		return
	}
	C.wasm_runtime_set_wasi_args(C.wasm_module_t(unsafe.Pointer(mod)),
		st.cstringArray(args.Dirs), C.uint32_t(len(args.Dirs)),
		st.cstringArray(args.MapDirs), C.uint32_t(len(args.MapDirs)),
		st.cstringArray(args.Env), C.uint32_t(len(args.Env)),
		st.cstringArray(args.Argv), C.int(len(args.Argv)))
}

func (e *Engine) SetWASIAddrPool(mod engine.ModuleHandle, addrs []string) {
	st := e.state(mod)
	if st == nil {
		return
	}
	C.wasm_runtime_set_wasi_addr_pool(C.wasm_module_t(unsafe.Pointer(mod)),
		st.cstringArray(addrs), C.uint32_t(len(addrs)))
}

func (e *Engine) SetWASINSLookupPool(mod engine.ModuleHandle, names []string) {
	st := e.state(mod)
	if st == nil {
		return
	}
	C.wasm_runtime_set_wasi_ns_lookup_pool(C.wasm_module_t(unsafe.Pointer(mod)),
		st.cstringArray(names), C.uint32_t(len(names)))
}

func (e *Engine) ExportedFunctions(mod engine.ModuleHandle) []string {
	if mod == nil {
		return nil
	}
	m := C.wasm_module_t(unsafe.Pointer(mod))
	n := int32(C.wasm_runtime_get_export_count(m))
	names := make([]string, 0, n)
	for i := int32(0); i < n; i++ {
		if name := C.wb_export_func_name(m, C.int32_t(i)); name != nil {
			names = append(names, C.GoString(name))
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
	inst := C.wasm_runtime_instantiate(C.wasm_module_t(unsafe.Pointer(mod)),
		C.uint32_t(stackSize), C.uint32_t(heapSize),
		(*C.char)(unsafe.Pointer(&errBuf[0])), C.uint32_t(len(errBuf)))
	if inst == nil {
		return nil
	}
	return engine.InstanceHandle(unsafe.Pointer(inst))
}

func (e *Engine) Deinstantiate(inst engine.InstanceHandle) {
	if inst != nil {
		C.wasm_runtime_deinstantiate(moduleInst(inst))
	}
}

func (e *Engine) ExecEnvSingleton(inst engine.InstanceHandle) engine.ExecEnvHandle {
	if inst == nil {
		return nil
	}
	return engine.ExecEnvHandle(unsafe.Pointer(C.wasm_runtime_get_exec_env_singleton(moduleInst(inst))))
}

func (e *Engine) InitThreadEnv() bool   { return bool(C.wasm_runtime_init_thread_env()) }
func (e *Engine) ThreadEnvInited() bool { return bool(C.wasm_runtime_thread_env_inited()) }
func (e *Engine) DestroyThreadEnv()     { C.wasm_runtime_destroy_thread_env() }

func (e *Engine) LookupFunction(inst engine.InstanceHandle, name string) engine.FunctionHandle {
	if inst == nil {
		return nil
	}
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	fn := C.wasm_runtime_lookup_function(moduleInst(inst), cname)
	if fn == nil {
		return nil
	}
	return engine.FunctionHandle(unsafe.Pointer(fn))
}

func (e *Engine) FuncParamTypes(fn engine.FunctionHandle, inst engine.InstanceHandle) []engine.ValKind {
	f, mi := C.wasm_function_inst_t(unsafe.Pointer(fn)), moduleInst(inst)
	n := int(C.wasm_func_get_param_count(f, mi))
	if n == 0 {
		return nil
	}
	kinds := make([]C.wasm_valkind_t, n)
	C.wasm_func_get_param_types(f, mi, &kinds[0])
	return toValKinds(kinds)
}

func (e *Engine) FuncResultCount(fn engine.FunctionHandle, inst engine.InstanceHandle) uint32 {
	return uint32(C.wasm_func_get_result_count(C.wasm_function_inst_t(unsafe.Pointer(fn)), moduleInst(inst)))
}

func (e *Engine) FuncResultTypes(fn engine.FunctionHandle, inst engine.InstanceHandle) []engine.ValKind {
	f, mi := C.wasm_function_inst_t(unsafe.Pointer(fn)), moduleInst(inst)
	n := int(C.wasm_func_get_result_count(f, mi))
	if n == 0 {
		return nil
	}
	kinds := make([]C.wasm_valkind_t, n)
	C.wasm_func_get_result_types(f, mi, &kinds[0])
	return toValKinds(kinds)
}

func (e *Engine) CallWasm(_ context.Context, env engine.ExecEnvHandle, fn engine.FunctionHandle, argc uint32, argv []uint32) bool {
	var p *C.uint32_t
	if len(argv) > 0 {
		p = (*C.uint32_t)(unsafe.Pointer(&argv[0]))
	}
	return bool(C.wasm_runtime_call_wasm(C.wasm_exec_env_t(unsafe.Pointer(env)),
		C.wasm_function_inst_t(unsafe.Pointer(fn)), C.uint32_t(argc), p))
}

func (e *Engine) GetException(inst engine.InstanceHandle) []byte {
	if inst == nil {
		return nil
	}
	exc := C.wasm_runtime_get_exception(moduleInst(inst))
	if exc == nil {
		return nil
	}
	return C.GoBytes(unsafe.Pointer(exc), C.int(C.strlen(exc)))
}

func moduleInst(h engine.InstanceHandle) C.wasm_module_inst_t {
	return C.wasm_module_inst_t(unsafe.Pointer(h))
}

func toValKinds(kinds []C.wasm_valkind_t) []engine.ValKind {
	out := make([]engine.ValKind, len(kinds))
	for i, k := range kinds {
		out[i] = engine.ValKind(k)
	}
	return out
}

var _ engine.Engine = (*Engine)(nil)
