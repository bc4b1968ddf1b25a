package runtime

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-bind/engine"
	"github.com/wippyai/wasm-bind/errors"
	"github.com/wippyai/wasm-bind/value"
)

// Function is an exported function of an Instance. It is valid only while
// the instance is open.
type Function struct {
	instance *Instance
	handle   engine.FunctionHandle
	name     string
	params   []engine.ValKind
	results  []engine.ValKind
}

// FindFunction looks up an exported function of inst by name without caching.
func FindFunction(inst *Instance, name string) (*Function, error) {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.closed {
		return nil, errors.NotInitialized(errors.PhaseLookup, "instance")
	}
	return lookup(inst, name)
}

// lookup resolves name. Caller holds inst.mu.
func lookup(inst *Instance, name string) (*Function, error) {
	fn := inst.engine.LookupFunction(inst.handle, name)
	if fn == nil {
		return nil, errors.FunctionNotFound(name)
	}
	return &Function{
		instance: inst,
		handle:   fn,
		name:     name,
		params:   inst.engine.FuncParamTypes(fn, inst.handle),
		results:  inst.engine.FuncResultTypes(fn, inst.handle),
	}, nil
}

// Name returns the export name the function was resolved by.
func (f *Function) Name() string { return f.name }

// ParamKinds returns the declared parameter kinds.
func (f *Function) ParamKinds() []engine.ValKind { return f.params }

// ResultKinds returns the declared result kinds.
func (f *Function) ResultKinds() []engine.ValKind { return f.results }

// Call encodes params, invokes the function and decodes its first result.
// A function without results returns value.Void(). Traps surface as
// execution errors carrying the engine's exception text.
func (f *Function) Call(ctx context.Context, params ...value.Value) (value.Value, error) {
	inst, env, ok := f.instance.live()
	if !ok {
		return value.Void(), errors.NotInitialized(errors.PhaseCall, "instance")
	}

	argv := value.EncodeAll(params)
	argc := uint32(len(argv))
	if n := engine.CountWords(f.results); n > len(argv) {
		argv = append(argv, make([]uint32, n-len(argv))...)
	}

	eng := f.instance.engine
	start := time.Now()
	var called bool
	if !withThreadEnv(eng, func() {
		called = eng.CallWasm(ctx, env, f.handle, argc, argv)
	}) {
		metrics.call(false, time.Since(start))
		return value.Void(), errors.Execution("init thread environment failed")
	}
	elapsed := time.Since(start)

	if !called {
		metrics.call(false, elapsed)
		msg := strings.ToValidUTF8(string(trimNUL(eng.GetException(inst))), "�")
		if msg == "" {
			msg = "unknown exception"
		}
		Logger().Debug("call trapped",
			zap.String("function", f.name),
			zap.Stringer("instance", f.instance.id),
			zap.String("exception", msg))
		return value.Void(), errors.Execution(msg)
	}
	metrics.call(true, elapsed)

	if len(f.results) == 0 {
		return value.Void(), nil
	}
	kind, ok := f.results[0].ValueKind()
	if !ok || kind == value.KindV128 {
		return value.Void(), errors.InvalidResult(f.results[0])
	}
	return value.Decode(kind, argv[:kind.Words()]), nil
}

func trimNUL(b []byte) []byte {
	for i, c := range b {
		if c == 0 {
			return b[:i]
		}
	}
	return b
}
