package runtime

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-bind/engine"
	"github.com/wippyai/wasm-bind/errors"
	"github.com/wippyai/wasm-bind/value"
)

// Instance is one instantiation of a Module with its own memory, globals and
// execution environment.
type Instance struct {
	module    *Module
	engine    engine.Engine
	handle    engine.InstanceHandle
	execEnv   engine.ExecEnvHandle
	funcs     map[string]*Function
	mu        sync.Mutex
	id        uuid.UUID
	stackSize uint32
	heapSize  uint32
	closed    bool
}

// NewInstance instantiates m with the given operand stack and app heap sizes in bytes.
func NewInstance(ctx context.Context, m *Module, stackSize, heapSize uint32) (*Instance, error) {
	if m == nil || m.Closed() {
		return nil, errors.NotInitialized(errors.PhaseInstantiate, "module")
	}

	eng := m.engine
	errBuf := make([]byte, engine.ErrorBufSize)
	var handle engine.InstanceHandle

	ok := withThreadEnv(eng, func() {
		handle = eng.Instantiate(ctx, m.handle, stackSize, heapSize, errBuf)
	})
	if !ok {
		metrics.instantiation(false)
		return nil, errors.Instantiation("init thread environment failed", nil)
	}
	if handle == nil {
		metrics.instantiation(false)
		msg, err := engine.DecodeErrorBuf(errBuf)
		if err != nil {
			return nil, errors.Instantiation("undecodable instantiation error", err)
		}
		if msg == "" {
			msg = "instantiation failed"
		}
		return nil, errors.Instantiation(msg, nil)
	}

	execEnv := eng.ExecEnvSingleton(handle)
	if execEnv == nil {
		eng.Deinstantiate(handle)
		metrics.instantiation(false)
		return nil, errors.Instantiation("create exec env failed", nil)
	}

	inst := &Instance{
		id:        uuid.New(),
		module:    m,
		engine:    eng,
		handle:    handle,
		execEnv:   execEnv,
		stackSize: stackSize,
		heapSize:  heapSize,
		funcs:     make(map[string]*Function),
	}
	if err := m.track(inst); err != nil {
		eng.Deinstantiate(handle)
		metrics.instantiation(false)
		return nil, err
	}
	metrics.instantiation(true)

	Logger().Debug("instance created",
		zap.Stringer("id", inst.id),
		zap.Uint32("stack_size", stackSize),
		zap.Uint32("heap_size", heapSize))
	return inst, nil
}

// ID identifies the instance in logs.
func (i *Instance) ID() uuid.UUID {
	return i.id
}

// Module returns the module the instance was created from.
func (i *Instance) Module() *Module {
	return i.module
}

func (i *Instance) StackSize() uint32 { return i.stackSize }
func (i *Instance) HeapSize() uint32  { return i.heapSize }

// LookupFunction finds an exported function by name. Results are cached.
func (i *Instance) LookupFunction(name string) (*Function, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return nil, errors.NotInitialized(errors.PhaseLookup, "instance")
	}
	if fn, ok := i.funcs[name]; ok {
		return fn, nil
	}
	fn, err := lookup(i, name)
	if err != nil {
		return nil, err
	}
	i.funcs[name] = fn
	return fn, nil
}

// Call looks up name and invokes it with params.
func (i *Instance) Call(ctx context.Context, name string, params ...value.Value) (value.Value, error) {
	fn, err := i.LookupFunction(name)
	if err != nil {
		return value.Void(), err
	}
	return fn.Call(ctx, params...)
}

// Close deinstantiates the instance and detaches it from its module.
func (i *Instance) Close() error {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return nil
	}
	i.closed = true
	handle := i.handle
	i.handle = nil
	i.execEnv = nil
	i.funcs = nil
	i.mu.Unlock()

	i.engine.Deinstantiate(handle)
	i.module.untrack(i)
	Logger().Debug("instance closed", zap.Stringer("id", i.id))
	return nil
}

func (i *Instance) live() (engine.InstanceHandle, engine.ExecEnvHandle, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.handle, i.execEnv, !i.closed
}
