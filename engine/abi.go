package engine

import (
	"context"
	"fmt"
	"unicode/utf8"
	"unsafe"

	"github.com/wippyai/wasm-bind/value"
)

// ErrorBufSize is the size of the error buffers handed to Load and Instantiate.
const ErrorBufSize = 128

// DefaultHostModuleName is the import namespace host symbols are registered under.
const DefaultHostModuleName = "env"

// Opaque engine handles. A nil handle signals failure.
type (
	ModuleHandle   unsafe.Pointer
	InstanceHandle unsafe.Pointer
	FunctionHandle unsafe.Pointer
	ExecEnvHandle  unsafe.Pointer
)

// ValKind is the engine's value type enumeration.
type ValKind uint8

const (
	ValI32       ValKind = 0
	ValI64       ValKind = 1
	ValF32       ValKind = 2
	ValF64       ValKind = 3
	ValV128      ValKind = 4
	ValExternRef ValKind = 128
	ValFuncRef   ValKind = 129
)

func (k ValKind) String() string {
	switch k {
	case ValI32:
		return "i32"
	case ValI64:
		return "i64"
	case ValF32:
		return "f32"
	case ValF64:
		return "f64"
	case ValV128:
		return "v128"
	case ValExternRef:
		return "externref"
	case ValFuncRef:
		return "funcref"
	default:
		return fmt.Sprintf("valkind(%d)", uint8(k))
	}
}

// Words returns the number of argv cells the kind occupies.
// References are passed as a single 32-bit index.
func (k ValKind) Words() int {
	switch k {
	case ValI64, ValF64:
		return 2
	case ValV128:
		return 4
	default:
		return 1
	}
}

// ValueKind maps the engine kind to a codec kind.
func (k ValKind) ValueKind() (value.Kind, bool) {
	switch k {
	case ValI32:
		return value.KindI32, true
	case ValI64:
		return value.KindI64, true
	case ValF32:
		return value.KindF32, true
	case ValF64:
		return value.KindF64, true
	case ValV128:
		return value.KindV128, true
	default:
		return value.KindVoid, false
	}
}

// ValKindOf maps a codec kind to the engine enumeration.
func ValKindOf(k value.Kind) (ValKind, bool) {
	switch k {
	case value.KindI32:
		return ValI32, true
	case value.KindI64:
		return ValI64, true
	case value.KindF32:
		return ValF32, true
	case value.KindF64:
		return ValF64, true
	case value.KindV128:
		return ValV128, true
	default:
		return 0, false
	}
}

// CountWords returns the total argv cells for a signature.
func CountWords(kinds []ValKind) int {
	n := 0
	for _, k := range kinds {
		n += k.Words()
	}
	return n
}

// AllocatorKind selects how the engine obtains its working memory.
type AllocatorKind int

const (
	AllocSystem AllocatorKind = iota
	AllocPool
)

func (a AllocatorKind) String() string {
	if a == AllocPool {
		return "pool"
	}
	return "system"
}

// RunningMode selects the execution tier. ModeDefault leaves the choice to the engine.
type RunningMode int

const (
	ModeDefault RunningMode = iota
	ModeInterpreter
	ModeFastJIT
	ModeLLVMJIT
)

func (m RunningMode) String() string {
	switch m {
	case ModeInterpreter:
		return "interpreter"
	case ModeFastJIT:
		return "fast-jit"
	case ModeLLVMJIT:
		return "llvm-jit"
	default:
		return "default"
	}
}

// HostFunc is a host function implemented in Go. Parameters arrive in
// stack[0:len(params)] and results are written back from stack[0].
// i32 and f32 occupy the low 32 bits of a slot, f32/f64 as IEEE-754 bits.
type HostFunc func(ctx context.Context, stack []uint64)

// GoFunction describes a Go host function and its core signature.
type GoFunction struct {
	Fn      HostFunc
	Params  []ValKind
	Results []ValKind
}

// StackSize returns the number of stack slots the function needs.
func (g *GoFunction) StackSize() int {
	return max(len(g.Params), len(g.Results))
}

// NativeSymbol is one entry of the host symbol table.
// Exactly one of Func and Go is set.
type NativeSymbol struct {
	Func       unsafe.Pointer
	Attachment unsafe.Pointer
	Go         *GoFunction
	Name       string
	Signature  string
}

// InitArgs is the engine initialization request.
type InitArgs struct {
	Pool           []byte
	HostModuleName string
	NativeSymbols  []NativeSymbol
	Allocator      AllocatorKind
	RunningMode    RunningMode
	CodeCacheSize  uint32
	LLVMOptLevel   uint32
	LLVMSizeLevel  uint32
	MaxThreadNum   uint32
}

// ModuleName returns the host namespace, falling back to DefaultHostModuleName.
func (a *InitArgs) ModuleName() string {
	if a.HostModuleName == "" {
		return DefaultHostModuleName
	}
	return a.HostModuleName
}

// WASIArgs is the WASI configuration attached to a module before instantiation.
// MapDirs entries use the "guest::host" form.
type WASIArgs struct {
	Dirs    []string
	MapDirs []string
	Env     []string
	Argv    []string
}

// Engine is the C-ABI surface of a WebAssembly engine. Methods return nil
// handles or false on failure, and report details through error buffers and
// GetException exactly like the native entry points they mirror.
type Engine interface {
	Name() string

	Init(ctx context.Context, args *InitArgs) bool
	Destroy()
	Malloc(size uint32) unsafe.Pointer
	Free(ptr unsafe.Pointer)

	Load(ctx context.Context, buf []byte, errBuf []byte) ModuleHandle
	Unload(mod ModuleHandle)
	SetWASIArgs(mod ModuleHandle, args *WASIArgs)
	SetWASIAddrPool(mod ModuleHandle, addrs []string)
	SetWASINSLookupPool(mod ModuleHandle, names []string)
	ExportedFunctions(mod ModuleHandle) []string

	Instantiate(ctx context.Context, mod ModuleHandle, stackSize, heapSize uint32, errBuf []byte) InstanceHandle
	Deinstantiate(inst InstanceHandle)
	ExecEnvSingleton(inst InstanceHandle) ExecEnvHandle

	InitThreadEnv() bool
	ThreadEnvInited() bool
	DestroyThreadEnv()

	LookupFunction(inst InstanceHandle, name string) FunctionHandle
	FuncParamTypes(fn FunctionHandle, inst InstanceHandle) []ValKind
	FuncResultCount(fn FunctionHandle, inst InstanceHandle) uint32
	FuncResultTypes(fn FunctionHandle, inst InstanceHandle) []ValKind
	CallWasm(ctx context.Context, env ExecEnvHandle, fn FunctionHandle, argc uint32, argv []uint32) bool
	GetException(inst InstanceHandle) []byte
}

// WriteErrorBuf copies msg into buf as a NUL-terminated string, truncating to
// fit. Truncation never splits a UTF-8 sequence.
func WriteErrorBuf(buf []byte, msg string) {
	if len(buf) == 0 {
		return
	}
	n := copy(buf[:len(buf)-1], msg)
	if n < len(msg) {
		for n > 0 && !utf8.RuneStart(msg[n]) {
			n--
		}
	}
	buf[n] = 0
}

// DecodeErrorBuf returns the text before the first NUL. An error is returned
// when that text is not valid UTF-8.
func DecodeErrorBuf(buf []byte) (string, error) {
	for i, b := range buf {
		if b == 0 {
			buf = buf[:i]
			break
		}
	}
	if !utf8.Valid(buf) {
		return "", fmt.Errorf("error buffer is not valid utf-8: %q", buf)
	}
	return string(buf), nil
}
