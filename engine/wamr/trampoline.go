//go:build wamr && cgo

package wamr

/*
#include <stdint.h>
#include <wasm_export.h>
*/
import "C"

import (
	"context"
	"runtime/cgo"
	"strings"
	"unsafe"

	"github.com/wippyai/wasm-bind/engine"
)

// wbRawTrampoline is registered as the func_ptr of every Go host symbol.
// WAMR passes one uint64 slot per parameter and reads results from slot 0.
//
//export wbRawTrampoline
func wbRawTrampoline(env C.wasm_exec_env_t, args *C.uint64_t) {
	slot := (*C.uintptr_t)(C.wasm_runtime_get_function_attachment(env))
	g := cgo.Handle(*slot).Value().(*engine.GoFunction)

	n := g.StackSize()
	if n == 0 {
		g.Fn(context.Background(), nil)
		return
	}
	g.Fn(context.Background(), unsafe.Slice((*uint64)(unsafe.Pointer(args)), n))
}

// rawSignature renders a core signature in WAMR notation, e.g. "(iI)f".
func rawSignature(g *engine.GoFunction) string {
	var b strings.Builder
	b.WriteByte('(')
	for _, k := range g.Params {
		b.WriteByte(sigChar(k))
	}
	b.WriteByte(')')
	for _, k := range g.Results {
		b.WriteByte(sigChar(k))
	}
	return b.String()
}

func sigChar(k engine.ValKind) byte {
	switch k {
	case engine.ValI64:
		return 'I'
	case engine.ValF32:
		return 'f'
	case engine.ValF64:
		return 'F'
	case engine.ValV128:
		return 'V'
	case engine.ValExternRef, engine.ValFuncRef:
		return 'r'
	default:
		return 'i'
	}
}
