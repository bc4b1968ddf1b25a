package runtime

import (
	goruntime "runtime"

	"github.com/wippyai/wasm-bind/engine"
)

// withThreadEnv runs fn on a locked OS thread with the engine's per-thread
// environment set up. An environment created here is destroyed afterwards.
// It reports false when the environment could not be initialized.
func withThreadEnv(eng engine.Engine, fn func()) bool {
	goruntime.LockOSThread()
	defer goruntime.UnlockOSThread()

	if !eng.ThreadEnvInited() {
		if !eng.InitThreadEnv() {
			return false
		}
		defer eng.DestroyThreadEnv()
	}
	fn()
	return true
}
