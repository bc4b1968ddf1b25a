package runtime

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-bind/engine"
	"github.com/wippyai/wasm-bind/errors"
)

// process holds the single live engine initialization. count, engine, args
// and hosts change together under mu.
var process struct {
	engine engine.Engine
	args   *engine.InitArgs
	hosts  *HostRegistry
	mu     sync.Mutex
	count  int
}

// Runtime is one holder of the process-wide engine initialization.
// Every holder must be closed; the engine is torn down when the last one is.
type Runtime struct {
	engine engine.Engine
	closed atomic.Bool
}

// New acquires the runtime with the default configuration.
func New(ctx context.Context) (*Runtime, error) {
	return NewBuilder().Build(ctx)
}

// acquire increments the reference count. Only the 0 to 1 transition creates
// an engine with newEngine and initializes it. While the engine is live the
// requested configuration is ignored.
func acquire(ctx context.Context, newEngine func() (engine.Engine, error), args *engine.InitArgs, hosts *HostRegistry, configured bool) (*Runtime, error) {
	process.mu.Lock()
	defer process.mu.Unlock()

	if process.count > 0 {
		if configured {
			Logger().Warn("runtime already initialized, ignoring new configuration",
				zap.String("engine", process.engine.Name()),
				zap.Int("refs", process.count))
		}
		process.count++
		metrics.setRefs(process.count)
		return &Runtime{engine: process.engine}, nil
	}

	eng, err := newEngine()
	if err != nil {
		metrics.engineInit(false)
		return nil, err
	}
	if !eng.Init(ctx, args) {
		metrics.engineInit(false)
		return nil, errors.InitializationFailure(eng.Name()+" engine initialization failed", nil)
	}
	metrics.engineInit(true)

	process.engine = eng
	process.args = args
	process.hosts = hosts
	process.count = 1
	metrics.setRefs(1)

	Logger().Debug("runtime initialized",
		zap.String("engine", eng.Name()),
		zap.Stringer("mode", args.RunningMode),
		zap.Stringer("allocator", args.Allocator),
		zap.Int("host_functions", len(args.NativeSymbols)))
	return &Runtime{engine: eng}, nil
}

// Close releases this holder. It is safe to call more than once.
func (r *Runtime) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}

	process.mu.Lock()
	defer process.mu.Unlock()

	process.count--
	metrics.setRefs(process.count)
	if process.count > 0 {
		return nil
	}

	process.engine.Destroy()
	metrics.engineTeardown()
	Logger().Debug("runtime destroyed", zap.String("engine", process.engine.Name()))

	process.engine = nil
	process.args = nil
	process.hosts = nil
	return nil
}

// Engine returns the engine this runtime holds.
func (r *Runtime) Engine() engine.Engine {
	return r.engine
}

// Closed reports whether Close has been called on this holder.
func (r *Runtime) Closed() bool {
	return r.closed.Load()
}

// RefCount returns the number of live runtime holders in the process.
func RefCount() int {
	process.mu.Lock()
	defer process.mu.Unlock()
	return process.count
}
