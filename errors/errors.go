package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates where in the binding lifecycle the error occurred
type Phase string

const (
	PhaseInit        Phase = "init"        // runtime initialization
	PhaseConfig      Phase = "config"      // configuration loading
	PhaseHost        Phase = "host"        // host function registration
	PhaseLoad        Phase = "load"        // module loading
	PhaseWASI        Phase = "wasi"        // WASI configuration
	PhaseInstantiate Phase = "instantiate" // module instantiation
	PhaseLookup      Phase = "lookup"      // export lookup
	PhaseCall        Phase = "call"        // function invocation
)

// Kind categorizes the error
type Kind string

const (
	KindInitialization   Kind = "initialization_failure"
	KindFileSystem       Kind = "wasm_file_fs_error"
	KindCompilation      Kind = "compilation_error"
	KindInstantiation    Kind = "instantiation_failure"
	KindFunctionNotFound Kind = "function_not_found"
	KindExecution        Kind = "execution_error"
	KindNotImplemented   Kind = "not_implemented"
	KindInvalidInput     Kind = "invalid_input"
	KindInvalidConfig    Kind = "invalid_config"
	KindNotInitialized   Kind = "not_initialized"
)

// Error is the structured error type used throughout the binding
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	if e.Phase != "" {
		b.WriteByte('[')
		b.WriteString(string(e.Phase))
		b.WriteString("] ")
	}
	b.WriteString(string(e.Kind))

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// A target with an empty Phase matches any phase of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Phase == "" || t.Phase == e.Phase
}

// Sentinels for errors.Is matching by kind.
var (
	ErrInitializationFailure = &Error{Kind: KindInitialization}
	ErrWasmFileFS            = &Error{Kind: KindFileSystem}
	ErrCompilation           = &Error{Kind: KindCompilation}
	ErrInstantiationFailure  = &Error{Kind: KindInstantiation}
	ErrFunctionNotFound      = &Error{Kind: KindFunctionNotFound}
	ErrExecution             = &Error{Kind: KindExecution}
	ErrNotImplemented        = &Error{Kind: KindNotImplemented}
	ErrInvalidInput          = &Error{Kind: KindInvalidInput}
	ErrInvalidConfig         = &Error{Kind: KindInvalidConfig}
	ErrNotInitialized        = &Error{Kind: KindNotInitialized}

	// ErrInvalidResult is the spelling used by callers that decode results.
	ErrInvalidResult = ErrNotImplemented
)

// KindOf returns the Kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// InitializationFailure creates an engine initialization error
func InitializationFailure(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseInit,
		Kind:   KindInitialization,
		Detail: detail,
		Cause:  cause,
	}
}

// WasmFileFS wraps a failure to read a module file
func WasmFileFS(path string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindFileSystem,
		Detail: fmt.Sprintf("read %s", path),
		Value:  path,
		Cause:  cause,
	}
}

// Compilation creates a module load error carrying the engine's message
func Compilation(text string) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindCompilation,
		Detail: text,
	}
}

// Instantiation creates an instantiation error carrying the engine's message
func Instantiation(text string, cause error) *Error {
	return &Error{
		Phase:  PhaseInstantiate,
		Kind:   KindInstantiation,
		Detail: text,
		Cause:  cause,
	}
}

// FunctionNotFound creates an export lookup error
func FunctionNotFound(name string) *Error {
	return &Error{
		Phase:  PhaseLookup,
		Kind:   KindFunctionNotFound,
		Detail: fmt.Sprintf("function %q not found", name),
		Value:  name,
	}
}

// Execution creates a trap or exception error carrying the engine's message
func Execution(message string) *Error {
	return &Error{
		Phase:  PhaseCall,
		Kind:   KindExecution,
		Detail: message,
	}
}

// NotImplemented creates an unsupported operation error
func NotImplemented(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotImplemented,
		Detail: what,
	}
}

// InvalidResult reports a result type the binding cannot decode
func InvalidResult(kind any) *Error {
	return &Error{
		Phase:  PhaseCall,
		Kind:   KindNotImplemented,
		Detail: fmt.Sprintf("unsupported result type %v", kind),
		Value:  kind,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// InvalidConfig wraps a configuration load or validation failure
func InvalidConfig(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseConfig,
		Kind:   KindInvalidConfig,
		Detail: detail,
		Cause:  cause,
	}
}

// NotInitialized creates a use-after-close error
func NotInitialized(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", component),
	}
}
