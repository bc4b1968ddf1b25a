// Package errors provides the error taxonomy of the binding layer.
//
// Every failure reported by the engine boundary is returned as an *Error
// categorized by Phase (where the error occurred) and Kind (what went wrong):
//
//	Kind                     Raised when
//	───────────────────────────────────────────────────────────────
//	initialization_failure   engine init failed on the first acquire
//	wasm_file_fs_error       a module file could not be read
//	compilation_error        the engine rejected a binary
//	instantiation_failure    instantiation or thread env setup failed
//	function_not_found       export lookup failed
//	execution_error          a call trapped or raised an exception
//	not_implemented          a result type cannot be decoded
//
// Match kinds with the standard library:
//
//	if errors.Is(err, wbErrors.ErrFunctionNotFound) { ... }
//
// Use the Builder for ad-hoc construction:
//
//	err := errors.New(errors.PhaseCall, errors.KindExecution).
//		Detail("integer divide by zero").
//		Build()
package errors
