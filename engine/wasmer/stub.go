//go:build !wasmer || !cgo

package wasmer

import (
	"errors"

	"github.com/wippyai/wasm-bind/engine"
)

// New reports that the wasmer backend is not compiled in.
func New() (engine.Engine, error) {
	return nil, errors.New("wasmer engine requires building with cgo and -tags wasmer")
}
