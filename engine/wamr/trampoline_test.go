//go:build wamr && cgo

package wamr

import (
	"testing"

	"github.com/wippyai/wasm-bind/engine"
)

func TestRawSignature(t *testing.T) {
	tests := []struct {
		fn   *engine.GoFunction
		want string
	}{
		{&engine.GoFunction{}, "()"},
		{&engine.GoFunction{Results: []engine.ValKind{engine.ValI32}}, "()i"},
		{&engine.GoFunction{
			Params:  []engine.ValKind{engine.ValI32, engine.ValI64, engine.ValF32, engine.ValF64, engine.ValExternRef},
			Results: []engine.ValKind{engine.ValF64},
		}, "(iIfFr)F"},
	}
	for _, tt := range tests {
		if got := rawSignature(tt.fn); got != tt.want {
			t.Errorf("expected %q, got %q", tt.want, got)
		}
	}
}
