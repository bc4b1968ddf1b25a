package runtime

import (
	"fmt"
	"strings"
	"sync"
	"unsafe"

	"github.com/wippyai/wasm-bind/engine"
	"github.com/wippyai/wasm-bind/errors"
	"github.com/wippyai/wasm-bind/value"
)

// HostRegistry collects host functions exposed to guests under one import
// namespace. Names are unique and must not contain NUL bytes.
type HostRegistry struct {
	names      map[string]struct{}
	moduleName string
	symbols    []engine.NativeSymbol
	mu         sync.Mutex
}

// NewHostRegistry creates an empty registry for moduleName. An empty name
// selects engine.DefaultHostModuleName.
func NewHostRegistry(moduleName string) *HostRegistry {
	if moduleName == "" {
		moduleName = engine.DefaultHostModuleName
	}
	return &HostRegistry{
		names:      make(map[string]struct{}),
		moduleName: moduleName,
	}
}

// SetModuleName changes the import namespace.
func (r *HostRegistry) SetModuleName(name string) error {
	if err := checkName("host module name", name); err != nil {
		return err
	}
	r.mu.Lock()
	r.moduleName = name
	r.mu.Unlock()
	return nil
}

// Add registers a native function pointer. The engine infers its signature.
func (r *HostRegistry) Add(name string, fn unsafe.Pointer) error {
	return r.AddWithSignature(name, "", fn, nil)
}

// AddWithSignature registers a native function pointer with an explicit
// signature string such as "(ii)i" and an attachment the function can read
// back from its exec env.
func (r *HostRegistry) AddWithSignature(name, signature string, fn, attachment unsafe.Pointer) error {
	if fn == nil {
		return errors.InvalidInput(errors.PhaseHost, fmt.Sprintf("host function %q has a nil pointer", name))
	}
	if strings.IndexByte(signature, 0) >= 0 {
		return errors.InvalidInput(errors.PhaseHost, fmt.Sprintf("signature of %q contains a NUL byte", name))
	}
	return r.add(engine.NativeSymbol{
		Name:       name,
		Func:       fn,
		Signature:  signature,
		Attachment: attachment,
	})
}

// AddGo registers a Go function. Parameters are read from stack[0:len(params)]
// and results written from stack[0], one slot per value.
func (r *HostRegistry) AddGo(name string, params, results []value.Kind, fn engine.HostFunc) error {
	if fn == nil {
		return errors.InvalidInput(errors.PhaseHost, fmt.Sprintf("host function %q is nil", name))
	}
	p, err := valKinds(name, params)
	if err != nil {
		return err
	}
	res, err := valKinds(name, results)
	if err != nil {
		return err
	}
	return r.add(engine.NativeSymbol{
		Name: name,
		Go:   &engine.GoFunction{Fn: fn, Params: p, Results: res},
	})
}

func (r *HostRegistry) add(sym engine.NativeSymbol) error {
	if err := checkName("host function name", sym.Name); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.names[sym.Name]; ok {
		return errors.New(errors.PhaseHost, errors.KindInvalidInput).
			Detail("duplicate host function %q", sym.Name).
			Value(sym.Name).
			Build()
	}
	r.names[sym.Name] = struct{}{}
	r.symbols = append(r.symbols, sym)
	return nil
}

// Symbols returns the namespace and the registered symbol table.
func (r *HostRegistry) Symbols() (moduleName string, symbols []engine.NativeSymbol, count uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	symbols = append([]engine.NativeSymbol(nil), r.symbols...)
	return r.moduleName, symbols, uint32(len(symbols))
}

// Len returns the number of registered functions.
func (r *HostRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.symbols)
}

func valKinds(name string, kinds []value.Kind) ([]engine.ValKind, error) {
	if len(kinds) == 0 {
		return nil, nil
	}
	out := make([]engine.ValKind, len(kinds))
	for i, k := range kinds {
		vk, ok := engine.ValKindOf(k)
		if !ok {
			return nil, errors.InvalidInput(errors.PhaseHost, fmt.Sprintf("host function %q: unsupported type %s", name, k))
		}
		out[i] = vk
	}
	return out, nil
}

func checkName(what, name string) error {
	if name == "" {
		return errors.InvalidInput(errors.PhaseHost, what+" is empty")
	}
	if strings.IndexByte(name, 0) >= 0 {
		return errors.New(errors.PhaseHost, errors.KindInvalidInput).
			Detail("%s %q contains a NUL byte", what, name).
			Value(name).
			Build()
	}
	return nil
}
