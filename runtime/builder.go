package runtime

import (
	"context"
	"unsafe"

	"github.com/wippyai/wasm-bind/config"
	"github.com/wippyai/wasm-bind/engine"
	"github.com/wippyai/wasm-bind/errors"
	"github.com/wippyai/wasm-bind/value"
)

// Builder accumulates engine configuration before the runtime is acquired.
// The first error is kept and returned by Build.
type Builder struct {
	err        error
	engine     engine.Engine
	hosts      *HostRegistry
	engineName string
	args       engine.InitArgs
	wazero     engine.Config
	configured bool
}

// NewBuilder returns a builder for the system allocator and the engine's
// default running mode.
func NewBuilder() *Builder {
	return &Builder{hosts: NewHostRegistry("")}
}

func (b *Builder) fail(err error) *Builder {
	if b.err == nil && err != nil {
		b.err = err
	}
	return b
}

// UseSystemAllocator makes the engine allocate from the system heap.
func (b *Builder) UseSystemAllocator() *Builder {
	b.configured = true
	b.args.Allocator = engine.AllocSystem
	b.args.Pool = nil
	return b
}

// UseMemoryPool makes the engine allocate from pool. The pool is retained
// until the runtime is torn down.
func (b *Builder) UseMemoryPool(pool []byte) *Builder {
	b.configured = true
	if len(pool) == 0 {
		return b.fail(errors.InvalidInput(errors.PhaseInit, "memory pool is empty"))
	}
	b.args.Allocator = engine.AllocPool
	b.args.Pool = pool
	return b
}

// RunAsInterpreter selects the interpreter tier.
func (b *Builder) RunAsInterpreter() *Builder {
	b.configured = true
	b.args.RunningMode = engine.ModeInterpreter
	return b
}

// RunAsFastJIT selects the fast JIT tier with the given code cache size in bytes.
func (b *Builder) RunAsFastJIT(codeCacheSize uint32) *Builder {
	b.configured = true
	b.args.RunningMode = engine.ModeFastJIT
	b.args.CodeCacheSize = codeCacheSize
	return b
}

// RunAsLLVMJIT selects the LLVM JIT tier with the given optimization levels.
func (b *Builder) RunAsLLVMJIT(optLevel, sizeLevel uint32) *Builder {
	b.configured = true
	b.args.RunningMode = engine.ModeLLVMJIT
	b.args.LLVMOptLevel = optLevel
	b.args.LLVMSizeLevel = sizeLevel
	return b
}

// MaxThreadNum bounds the threads the engine may spawn. Values above one
// enable the threads proposal on wazero.
func (b *Builder) MaxThreadNum(n uint32) *Builder {
	b.configured = true
	b.args.MaxThreadNum = n
	return b
}

// MemoryLimitPages caps the linear memory of every instance, in 64KiB pages.
// Zero keeps the engine default. A memory pool takes precedence.
func (b *Builder) MemoryLimitPages(pages uint32) *Builder {
	b.configured = true
	if pages > 65536 {
		return b.fail(errors.InvalidInput(errors.PhaseInit, "memory limit exceeds 65536 pages"))
	}
	b.wazero.MemoryLimitPages = pages
	return b
}

// EnableThreads switches on the threads proposal.
func (b *Builder) EnableThreads(enable bool) *Builder {
	b.configured = true
	b.wazero.EnableThreads = enable
	return b
}

// HostModuleName sets the import namespace of registered host functions.
func (b *Builder) HostModuleName(name string) *Builder {
	b.configured = true
	return b.fail(b.hosts.SetModuleName(name))
}

// AddHostFunction registers a native function pointer.
func (b *Builder) AddHostFunction(name string, fn unsafe.Pointer) *Builder {
	b.configured = true
	return b.fail(b.hosts.Add(name, fn))
}

// AddHostFunctionWithSignature registers a native function pointer with an
// explicit signature string such as "(ii)i" and an opaque attachment passed
// back on every call.
func (b *Builder) AddHostFunctionWithSignature(name, signature string, fn, attachment unsafe.Pointer) *Builder {
	b.configured = true
	return b.fail(b.hosts.AddWithSignature(name, signature, fn, attachment))
}

// AddGoHostFunction registers a Go function as a host import.
func (b *Builder) AddGoHostFunction(name string, params, results []value.Kind, fn engine.HostFunc) *Builder {
	b.configured = true
	return b.fail(b.hosts.AddGo(name, params, results, fn))
}

// WithEngine selects the engine backend instance. Backend options set on the
// builder are ignored; the instance carries its own.
func (b *Builder) WithEngine(e engine.Engine) *Builder {
	b.configured = true
	b.engine = e
	return b
}

// WithEngineName selects a backend by name: wazero, wamr or wasmer.
func (b *Builder) WithEngineName(name string) *Builder {
	b.configured = true
	b.engineName = name
	return b
}

// WithConfig applies the runtime section of cfg. A pool allocator gets a
// freshly allocated pool of cfg.Runtime.PoolSize bytes.
func (b *Builder) WithConfig(cfg *config.Config) *Builder {
	if cfg == nil {
		return b
	}
	if err := cfg.Validate(); err != nil {
		return b.fail(err)
	}
	b.configured = true

	if cfg.Engine != "" && b.engine == nil {
		b.engineName = cfg.Engine
	}
	rc := cfg.Runtime
	if rc.AllocatorKind() == engine.AllocPool {
		b.UseMemoryPool(make([]byte, rc.PoolSize))
	} else {
		b.UseSystemAllocator()
	}
	b.args.RunningMode = rc.Mode()
	b.args.CodeCacheSize = rc.CodeCacheSize
	b.args.LLVMOptLevel = rc.LLVMOptLevel
	b.args.LLVMSizeLevel = rc.LLVMSizeLevel
	b.args.MaxThreadNum = rc.MaxThreadNum
	b.wazero = rc.EngineConfig()
	if rc.HostModuleName != "" {
		b.HostModuleName(rc.HostModuleName)
	}
	return b
}

// Build acquires the runtime. The configuration only takes effect when no
// other holder is live; otherwise the existing initialization is shared and
// the engine selection is not consulted.
func (b *Builder) Build(ctx context.Context) (*Runtime, error) {
	if b.err != nil {
		return nil, b.err
	}

	args := b.args
	args.HostModuleName, args.NativeSymbols, _ = b.hosts.Symbols()
	return acquire(ctx, b.newEngine, &args, b.hosts, b.configured)
}

// newEngine resolves the backend for the 0 to 1 transition.
func (b *Builder) newEngine() (engine.Engine, error) {
	if b.engine != nil {
		return b.engine, nil
	}
	cfg := b.wazero
	return NewEngineWithConfig(b.engineName, &cfg)
}
