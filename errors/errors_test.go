package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name:     "full error",
			err:      &Error{Phase: PhaseLoad, Kind: KindCompilation, Detail: "magic header not detected"},
			contains: []string{"[load]", "compilation_error", "magic header not detected"},
		},
		{
			name:     "minimal error",
			err:      &Error{Kind: KindExecution},
			contains: []string{"execution_error"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseInstantiate,
				Kind:   KindInstantiation,
				Detail: "stack overflow",
				Cause:  errors.New("underlying error"),
			},
			contains: []string{"[instantiate]", "instantiation_failure", "stack overflow", "caused by", "underlying error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("%q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := WasmFileFS("/missing.wasm", cause)

	if err.Unwrap() != cause {
		t.Error("Unwrap did not return the cause")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is does not reach the cause")
	}
}

func TestError_Is(t *testing.T) {
	err := Execution("Exception: integer divide by zero")

	if !err.Is(&Error{Phase: PhaseCall, Kind: KindExecution}) {
		t.Error("same phase and kind should match")
	}
	if err.Is(&Error{Phase: PhaseLoad, Kind: KindExecution}) {
		t.Error("different phase matched")
	}
	if err.Is(&Error{Phase: PhaseCall, Kind: KindCompilation}) {
		t.Error("different kind matched")
	}
	if err.Is(errors.New("plain")) {
		t.Error("plain error matched")
	}

	if !errors.Is(err, ErrExecution) {
		t.Error("expected ErrExecution")
	}
	if errors.Is(err, ErrCompilation) {
		t.Error("unexpected ErrCompilation")
	}

	wrapped := fmt.Errorf("calling gcd: %w", err)
	if !errors.Is(wrapped, ErrExecution) {
		t.Error("wrapped error lost its kind")
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseHost, KindInvalidInput).
		Detail("duplicate symbol %q", "extra").
		Value("extra").
		Cause(cause).
		Build()

	if err.Phase != PhaseHost || err.Kind != KindInvalidInput {
		t.Errorf("got phase %q kind %q", err.Phase, err.Kind)
	}
	if err.Detail != `duplicate symbol "extra"` {
		t.Errorf("Detail = %q", err.Detail)
	}
	if err.Value != "extra" {
		t.Errorf("Value = %v", err.Value)
	}
	if !errors.Is(err, cause) {
		t.Error("cause not wrapped")
	}
}

func TestBuilder_DetailWithoutArgs(t *testing.T) {
	msg := "100%"
	err := New(PhaseCall, KindExecution).Detail(msg, []any{}...).Build()
	if err.Detail != "100%" {
		t.Errorf("Detail = %q", err.Detail)
	}
}

func TestConvenienceConstructors(t *testing.T) {
	tests := []struct {
		err   *Error
		phase Phase
		kind  Kind
	}{
		{InitializationFailure("pool too small", nil), PhaseInit, KindInitialization},
		{WasmFileFS("a.wasm", errors.New("enoent")), PhaseLoad, KindFileSystem},
		{Compilation("bad"), PhaseLoad, KindCompilation},
		{Instantiation("bad", nil), PhaseInstantiate, KindInstantiation},
		{FunctionNotFound("nope"), PhaseLookup, KindFunctionNotFound},
		{Execution("trap"), PhaseCall, KindExecution},
		{NotImplemented(PhaseCall, "v128 result"), PhaseCall, KindNotImplemented},
		{InvalidResult("externref"), PhaseCall, KindNotImplemented},
		{InvalidInput(PhaseWASI, "nul byte"), PhaseWASI, KindInvalidInput},
		{InvalidConfig("bad yaml", nil), PhaseConfig, KindInvalidConfig},
		{NotInitialized(PhaseLoad, "runtime"), PhaseLoad, KindNotInitialized},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if tt.err.Phase != tt.phase {
				t.Errorf("Phase = %q, want %q", tt.err.Phase, tt.phase)
			}
			if tt.err.Kind != tt.kind {
				t.Errorf("Kind = %q, want %q", tt.err.Kind, tt.kind)
			}
			if got := KindOf(tt.err); got != tt.kind {
				t.Errorf("KindOf = %q, want %q", got, tt.kind)
			}
		})
	}
}

func TestFunctionNotFound_Detail(t *testing.T) {
	err := FunctionNotFound("missing")
	if !strings.Contains(err.Error(), `"missing"`) {
		t.Errorf("message = %q", err.Error())
	}
	if err.Value != "missing" {
		t.Errorf("Value = %v", err.Value)
	}
	if !errors.Is(err, ErrFunctionNotFound) {
		t.Error("expected ErrFunctionNotFound")
	}
}

func TestKindOf(t *testing.T) {
	if got := KindOf(nil); got != "" {
		t.Errorf("KindOf(nil) = %q", got)
	}
	if got := KindOf(errors.New("plain")); got != "" {
		t.Errorf("KindOf(plain) = %q", got)
	}
	if got := KindOf(fmt.Errorf("load: %w", Compilation("x"))); got != KindCompilation {
		t.Errorf("KindOf(wrapped) = %q", got)
	}
}

func TestInvalidResultAlias(t *testing.T) {
	err := InvalidResult("v128")
	if !errors.Is(err, ErrInvalidResult) || !errors.Is(err, ErrNotImplemented) {
		t.Error("InvalidResult should match both sentinels")
	}
}
