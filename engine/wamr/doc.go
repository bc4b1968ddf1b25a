// Package wamr binds engine.Engine to the native WAMR library (libiwasm).
//
// The backend is only compiled with cgo and the "wamr" build tag:
//
//	CGO_CFLAGS="-I$WAMR/core/iwasm/include" \
//	CGO_LDFLAGS="-L$WAMR/product-mini/platforms/linux/build" \
//	go build -tags wamr ./...
//
// Without the tag New returns an error.
//
// Module binaries and memory pools handed to WAMR are pinned with
// runtime.Pinner for as long as WAMR may reference them. WASI strings and
// host symbol names are copied into C memory and freed on unload or
// destroy. Go host functions are registered through the raw native API and
// dispatched by a single exported trampoline.
package wamr
