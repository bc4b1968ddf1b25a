package runtime

import (
	"fmt"

	"github.com/wippyai/wasm-bind/engine"
	"github.com/wippyai/wasm-bind/engine/wamr"
	"github.com/wippyai/wasm-bind/engine/wasmer"
	"github.com/wippyai/wasm-bind/errors"
)

// Engine backend names accepted by NewEngine.
const (
	EngineWazero = "wazero"
	EngineWAMR   = "wamr"
	EngineWasmer = "wasmer"
)

// NewEngine creates an uninitialized backend by name. An empty name selects wazero.
func NewEngine(name string) (engine.Engine, error) {
	return NewEngineWithConfig(name, nil)
}

// NewEngineWithConfig is NewEngine with backend options. cfg only applies to
// wazero; the cgo backends take their limits from InitArgs.
func NewEngineWithConfig(name string, cfg *engine.Config) (engine.Engine, error) {
	var (
		eng engine.Engine
		err error
	)
	switch name {
	case "", EngineWazero:
		return engine.NewWazeroEngineWithConfig(cfg), nil
	case EngineWAMR:
		eng, err = wamr.New()
	case EngineWasmer:
		eng, err = wasmer.New()
	default:
		return nil, errors.InvalidInput(errors.PhaseInit, fmt.Sprintf("unknown engine %q", name))
	}
	if err != nil {
		return nil, errors.InitializationFailure(fmt.Sprintf("create %s engine", name), err)
	}
	return eng, nil
}
