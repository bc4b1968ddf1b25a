package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"
)

// CallWasm runs fn with argc parameter cells taken from argv. On success the
// results are written back to argv starting at cell 0. On failure the message
// is available from GetException.
func (e *WazeroEngine) CallWasm(ctx context.Context, env ExecEnvHandle, fn FunctionHandle, argc uint32, argv []uint32) bool {
	if env == nil || fn == nil {
		return false
	}
	inst := (*wazeroExecEnv)(env).inst
	f := (*wazeroFunction)(fn)
	inst.exception = ""

	if want := CountWords(f.params); int(argc) != want || len(argv) < want {
		inst.exception = fmt.Sprintf("Exception: invalid argument count %d, expected %d", argc, want)
		return false
	}
	if need := CountWords(f.results); len(argv) < need {
		inst.exception = fmt.Sprintf("Exception: result buffer too small: %d cells, need %d", len(argv), need)
		return false
	}

	stack := make([]uint64, max(stackSlots(f.params), stackSlots(f.results)))
	wordsToStack(f.params, argv, stack)

	if err := f.fn.CallWithStack(ctx, stack); err != nil {
		var exitErr *sys.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 0 {
			Logger().Debug("guest exited", zap.String("function", f.name))
			clear(argv)
			return true
		}
		inst.exception = "Exception: " + trapMessage(err)
		Logger().Debug("wasm trap", zap.String("function", f.name), zap.String("exception", inst.exception))
		return false
	}

	stackToWords(f.results, stack, argv)
	return true
}

// stackSlots returns the number of uint64 slots wazero uses for kinds.
// v128 takes two slots.
func stackSlots(kinds []ValKind) int {
	n := 0
	for _, k := range kinds {
		if k == ValV128 {
			n += 2
		} else {
			n++
		}
	}
	return n
}

func wordsToStack(kinds []ValKind, words []uint32, stack []uint64) {
	w, s := 0, 0
	for _, k := range kinds {
		switch k {
		case ValI64, ValF64:
			stack[s] = join(words[w], words[w+1])
			w += 2
			s++
		case ValV128:
			stack[s] = join(words[w], words[w+1])
			stack[s+1] = join(words[w+2], words[w+3])
			w += 4
			s += 2
		default:
			stack[s] = uint64(words[w])
			w++
			s++
		}
	}
}

func stackToWords(kinds []ValKind, stack []uint64, words []uint32) {
	w, s := 0, 0
	for _, k := range kinds {
		switch k {
		case ValI64, ValF64:
			words[w], words[w+1] = uint32(stack[s]), uint32(stack[s]>>32)
			w += 2
			s++
		case ValV128:
			words[w], words[w+1] = uint32(stack[s]), uint32(stack[s]>>32)
			words[w+2], words[w+3] = uint32(stack[s+1]), uint32(stack[s+1]>>32)
			w += 4
			s += 2
		default:
			words[w] = uint32(stack[s])
			w++
			s++
		}
	}
}

func join(lo, hi uint32) uint64 {
	return uint64(lo) | uint64(hi)<<32
}

// trapMessage reduces a wazero call error to its first line without the
// "wasm error: " prefix, e.g. "integer divide by zero".
func trapMessage(err error) string {
	msg := err.Error()
	if line, _, ok := strings.Cut(msg, "\n"); ok {
		msg = line
	}
	return strings.TrimPrefix(msg, "wasm error: ")
}
