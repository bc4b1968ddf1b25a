//go:build !wamr || !cgo

package wamr

import (
	"errors"

	"github.com/wippyai/wasm-bind/engine"
)

// New reports that the native backend is not compiled in.
func New() (engine.Engine, error) {
	return nil, errors.New("wamr engine requires building with cgo and -tags wamr")
}
