package runtime

import (
	"strings"

	"github.com/wippyai/wasm-bind/config"
	"github.com/wippyai/wasm-bind/errors"
)

// SetWASIPreOpenPaths sets the directories visible to the guest. realPaths
// are mounted as-is; mappedPaths use the "guest::host" form.
// WASI settings only affect instances created afterwards.
func (m *Module) SetWASIPreOpenPaths(realPaths, mappedPaths []string) error {
	if err := checkStrings("pre-open path", realPaths); err != nil {
		return err
	}
	if err := checkStrings("mapped path", mappedPaths); err != nil {
		return err
	}
	return m.updateWASI(func() {
		m.wasi.Dirs = clone(realPaths)
		m.wasi.MapDirs = clone(mappedPaths)
	})
}

// SetWASIEnv sets the environment, each entry in "KEY=VALUE" form.
func (m *Module) SetWASIEnv(vars []string) error {
	if err := checkStrings("environment variable", vars); err != nil {
		return err
	}
	return m.updateWASI(func() { m.wasi.Env = clone(vars) })
}

// SetWASIArgs sets argv as seen by the guest.
func (m *Module) SetWASIArgs(argv []string) error {
	if err := checkStrings("argument", argv); err != nil {
		return err
	}
	return m.updateWASI(func() { m.wasi.Argv = clone(argv) })
}

// SetWASIAllowedAddresses sets the socket address allow-list.
func (m *Module) SetWASIAllowedAddresses(addrs []string) error {
	if err := checkStrings("address", addrs); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.NotInitialized(errors.PhaseWASI, "module")
	}
	m.addrPool = clone(addrs)
	m.engine.SetWASIAddrPool(m.handle, m.addrPool)
	return nil
}

// SetWASIAllowedDNS sets the name lookup allow-list.
func (m *Module) SetWASIAllowedDNS(names []string) error {
	if err := checkStrings("dns name", names); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.NotInitialized(errors.PhaseWASI, "module")
	}
	m.nsPool = clone(names)
	m.engine.SetWASINSLookupPool(m.handle, m.nsPool)
	return nil
}

// ApplyWASIConfig applies every non-empty setting of cfg.
func (m *Module) ApplyWASIConfig(cfg config.WASI) error {
	if cfg.IsZero() {
		return nil
	}
	if len(cfg.Dirs) > 0 || len(cfg.MapDirs) > 0 {
		if err := m.SetWASIPreOpenPaths(cfg.Dirs, cfg.MapDirs); err != nil {
			return err
		}
	}
	if len(cfg.Env) > 0 {
		if err := m.SetWASIEnv(cfg.Env); err != nil {
			return err
		}
	}
	if len(cfg.Args) > 0 {
		if err := m.SetWASIArgs(cfg.Args); err != nil {
			return err
		}
	}
	if len(cfg.AllowedAddresses) > 0 {
		if err := m.SetWASIAllowedAddresses(cfg.AllowedAddresses); err != nil {
			return err
		}
	}
	if len(cfg.AllowedDNS) > 0 {
		return m.SetWASIAllowedDNS(cfg.AllowedDNS)
	}
	return nil
}

// updateWASI applies set and resends the whole argument set, since the
// engine entry point replaces all of it at once.
func (m *Module) updateWASI(set func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.NotInitialized(errors.PhaseWASI, "module")
	}
	set()
	args := m.wasi
	m.engine.SetWASIArgs(m.handle, &args)
	return nil
}

func checkStrings(what string, values []string) error {
	for i, s := range values {
		if strings.IndexByte(s, 0) >= 0 {
			return errors.New(errors.PhaseWASI, errors.KindInvalidInput).
				Detail("%s %d contains a NUL byte", what, i).
				Value(s).
				Build()
		}
	}
	return nil
}

func clone(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	return append([]string(nil), values...)
}
