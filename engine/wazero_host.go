package engine

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// Value types the api package does not name.
const (
	valueTypeV128    api.ValueType = 0x7b
	valueTypeFuncref api.ValueType = 0x70
)

func fromAPIType(t api.ValueType) ValKind {
	switch t {
	case api.ValueTypeI32:
		return ValI32
	case api.ValueTypeI64:
		return ValI64
	case api.ValueTypeF32:
		return ValF32
	case api.ValueTypeF64:
		return ValF64
	case valueTypeV128:
		return ValV128
	case api.ValueTypeExternref:
		return ValExternRef
	case valueTypeFuncref:
		return ValFuncRef
	default:
		return ValKind(t)
	}
}

func fromAPITypes(types []api.ValueType) []ValKind {
	if len(types) == 0 {
		return nil
	}
	kinds := make([]ValKind, len(types))
	for i, t := range types {
		kinds[i] = fromAPIType(t)
	}
	return kinds
}

func toAPIType(k ValKind) (api.ValueType, error) {
	switch k {
	case ValI32:
		return api.ValueTypeI32, nil
	case ValI64:
		return api.ValueTypeI64, nil
	case ValF32:
		return api.ValueTypeF32, nil
	case ValF64:
		return api.ValueTypeF64, nil
	case ValExternRef:
		return api.ValueTypeExternref, nil
	default:
		return 0, fmt.Errorf("host functions cannot use %s", k)
	}
}

func toAPITypes(kinds []ValKind) ([]api.ValueType, error) {
	types := make([]api.ValueType, len(kinds))
	for i, k := range kinds {
		t, err := toAPIType(k)
		if err != nil {
			return nil, err
		}
		types[i] = t
	}
	return types, nil
}

// instantiateHostModule exports every Go host symbol under moduleName.
// Symbols backed by raw native pointers cannot be called from wazero.
func instantiateHostModule(ctx context.Context, r wazero.Runtime, moduleName string, symbols []NativeSymbol) (api.Module, error) {
	builder := r.NewHostModuleBuilder(moduleName)
	for _, sym := range symbols {
		if sym.Go == nil || sym.Go.Fn == nil {
			return nil, fmt.Errorf("symbol %q: native function pointers are not supported by the wazero backend", sym.Name)
		}
		params, err := toAPITypes(sym.Go.Params)
		if err != nil {
			return nil, fmt.Errorf("symbol %q: %w", sym.Name, err)
		}
		results, err := toAPITypes(sym.Go.Results)
		if err != nil {
			return nil, fmt.Errorf("symbol %q: %w", sym.Name, err)
		}
		builder = builder.NewFunctionBuilder().
			WithGoFunction(api.GoFunc(sym.Go.Fn), params, results).
			WithName(sym.Name).
			Export(sym.Name)
	}
	return builder.Instantiate(ctx)
}
