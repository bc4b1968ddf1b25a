// Package wasmer binds engine.Engine to wasmer-go.
//
// The backend needs cgo and the "wasmer" build tag; without it New returns
// an error. wasmer has no interpreter, so ModeInterpreter and ModeFastJIT
// select the singlepass compiler and ModeLLVMJIT selects LLVM when the
// shared library was built with it. Native function pointer symbols are not
// supported; register Go host functions instead.
package wasmer
