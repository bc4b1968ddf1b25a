package main

import (
	"fmt"
	"strconv"
	"strings"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/wasm-bind/engine"
	"github.com/wippyai/wasm-bind/runtime"
	"github.com/wippyai/wasm-bind/value"
)

type funcInfo struct {
	name       string
	resultType string
	params     []paramInfo
}

type paramInfo struct {
	witType wit.Type
	name    string
	typeStr string
}

// describeExports resolves the signature of every exported function.
func describeExports(mod *runtime.Module, inst *runtime.Instance) ([]funcInfo, error) {
	var funcs []funcInfo
	for _, e := range mod.Exports() {
		fn, err := inst.LookupFunction(e.Name)
		if err != nil {
			return nil, err
		}
		fi := funcInfo{name: e.Name}
		for i, k := range fn.ParamKinds() {
			t := witType(k)
			fi.params = append(fi.params, paramInfo{
				name:    fmt.Sprintf("arg%d", i),
				witType: t,
				typeStr: kindStr(k, t),
			})
		}
		if res := fn.ResultKinds(); len(res) > 0 {
			fi.resultType = kindStr(res[0], witType(res[0]))
		}
		funcs = append(funcs, fi)
	}
	return funcs, nil
}

func findInfo(funcs []funcInfo, name string) (funcInfo, bool) {
	for _, f := range funcs {
		if f.name == name {
			return f, true
		}
	}
	return funcInfo{}, false
}

func (f funcInfo) signature() string {
	params := make([]string, len(f.params))
	for i, p := range f.params {
		params[i] = p.name + ": " + p.typeStr
	}
	result := ""
	if f.resultType != "" {
		result = " -> " + f.resultType
	}
	return f.name + "(" + strings.Join(params, ", ") + ")" + result
}

// parseArgs converts textual arguments by the declared parameter types.
func (f funcInfo) parseArgs(args []string) ([]value.Value, error) {
	if len(args) != len(f.params) {
		return nil, fmt.Errorf("%s takes %d arguments, got %d", f.name, len(f.params), len(args))
	}
	out := make([]value.Value, len(args))
	for i, s := range args {
		v, err := convertArg(s, f.params[i].witType)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.params[i].name, err)
		}
		out[i] = v
	}
	return out, nil
}

// witType maps a core value kind to its WIT primitive. Kinds without a
// scalar WIT form return nil.
func witType(k engine.ValKind) wit.Type {
	switch k {
	case engine.ValI32:
		return wit.S32{}
	case engine.ValI64:
		return wit.S64{}
	case engine.ValF32:
		return wit.F32{}
	case engine.ValF64:
		return wit.F64{}
	default:
		return nil
	}
}

func convertArg(s string, t wit.Type) (value.Value, error) {
	switch t.(type) {
	case wit.S32:
		v, err := strconv.ParseInt(s, 0, 32)
		if err != nil {
			// Accept unsigned spellings of the same bits.
			u, uerr := strconv.ParseUint(s, 0, 32)
			if uerr != nil {
				return value.Void(), err
			}
			return value.I32(int32(uint32(u))), nil
		}
		return value.I32(int32(v)), nil
	case wit.S64:
		v, err := strconv.ParseInt(s, 0, 64)
		if err != nil {
			u, uerr := strconv.ParseUint(s, 0, 64)
			if uerr != nil {
				return value.Void(), err
			}
			return value.I64(int64(u)), nil
		}
		return value.I64(v), nil
	case wit.F32:
		v, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return value.Void(), err
		}
		return value.F32(float32(v)), nil
	case wit.F64:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return value.Void(), err
		}
		return value.F64(v), nil
	default:
		return value.Void(), fmt.Errorf("unsupported parameter type")
	}
}

func kindStr(k engine.ValKind, t wit.Type) string {
	switch t.(type) {
	case wit.S32:
		return "s32"
	case wit.S64:
		return "s64"
	case wit.F32:
		return "f32"
	case wit.F64:
		return "f64"
	default:
		return k.String()
	}
}
