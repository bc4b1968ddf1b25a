package runtime

import (
	"context"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-bind/engine"
	"github.com/wippyai/wasm-bind/errors"
)

// Module is a compiled WebAssembly binary owned by one engine.
// The binary and the WASI strings stay alive until Close, since the engine
// may keep pointers into them.
type Module struct {
	runtime   *Runtime
	engine    engine.Engine
	handle    engine.ModuleHandle
	instances map[*Instance]struct{}
	binary    []byte
	wasi      engine.WASIArgs
	addrPool  []string
	nsPool    []string
	mu        sync.Mutex
	closed    bool
}

// NewModuleFromFile reads path and compiles it.
func NewModuleFromFile(ctx context.Context, rt *Runtime, path string) (*Module, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		metrics.moduleLoad(false)
		return nil, errors.WasmFileFS(path, err)
	}
	return NewModule(ctx, rt, buf)
}

// NewModule compiles a copy of buf.
func NewModule(ctx context.Context, rt *Runtime, buf []byte) (*Module, error) {
	if rt == nil || rt.Closed() {
		return nil, errors.NotInitialized(errors.PhaseLoad, "runtime")
	}

	binary := append([]byte(nil), buf...)
	errBuf := make([]byte, engine.ErrorBufSize)
	eng := rt.Engine()

	handle := eng.Load(ctx, binary, errBuf)
	if handle == nil {
		metrics.moduleLoad(false)
		msg, err := engine.DecodeErrorBuf(errBuf)
		if err != nil {
			return nil, errors.New(errors.PhaseLoad, errors.KindCompilation).
				Detail("undecodable load error").
				Cause(err).
				Build()
		}
		if msg == "" {
			msg = "load module failed"
		}
		Logger().Debug("module load failed", zap.String("error", msg), zap.Int("size", len(buf)))
		return nil, errors.Compilation(msg)
	}
	metrics.moduleLoad(true)
	Logger().Debug("module loaded", zap.Int("size", len(buf)))

	return &Module{
		runtime:   rt,
		engine:    eng,
		handle:    handle,
		binary:    binary,
		instances: make(map[*Instance]struct{}),
	}, nil
}

// Instantiate creates an instance with the given stack size and no app heap.
func (m *Module) Instantiate(ctx context.Context, stackSize uint32) (*Instance, error) {
	return NewInstance(ctx, m, stackSize, 0)
}

// Export describes one exported function of a module.
type Export struct {
	Name string
}

// Exports lists the exported functions sorted by name.
func (m *Module) Exports() []Export {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	names := m.engine.ExportedFunctions(m.handle)
	if names == nil {
		return nil
	}
	exports := make([]Export, len(names))
	for i, name := range names {
		exports[i] = Export{Name: name}
	}
	return exports
}

// Close deinstantiates every live instance, then unloads the module.
func (m *Module) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	live := make([]*Instance, 0, len(m.instances))
	for inst := range m.instances {
		live = append(live, inst)
	}
	m.mu.Unlock()

	for _, inst := range live {
		_ = inst.Close()
	}

	m.engine.Unload(m.handle)
	Logger().Debug("module unloaded", zap.Int("instances_closed", len(live)))

	m.mu.Lock()
	m.handle = nil
	m.binary = nil
	m.wasi = engine.WASIArgs{}
	m.addrPool = nil
	m.nsPool = nil
	m.mu.Unlock()
	return nil
}

// Closed reports whether Close has been called.
func (m *Module) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Module) track(inst *Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.NotInitialized(errors.PhaseInstantiate, "module")
	}
	m.instances[inst] = struct{}{}
	return nil
}

func (m *Module) untrack(inst *Instance) {
	m.mu.Lock()
	delete(m.instances, inst)
	m.mu.Unlock()
}
