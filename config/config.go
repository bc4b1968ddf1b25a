// Package config loads runtime, instance and WASI settings from YAML.
package config

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/wasm-bind/engine"
	"github.com/wippyai/wasm-bind/errors"
)

var validate = validator.New()

// Config is the top-level configuration document.
type Config struct {
	Engine   string   `yaml:"engine" validate:"omitempty,oneof=wazero wamr wasmer"`
	LogLevel string   `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	Runtime  Runtime  `yaml:"runtime"`
	WASI     WASI     `yaml:"wasi"`
	Instance Instance `yaml:"instance"`
}

// Runtime holds engine initialization settings.
type Runtime struct {
	Allocator        string `yaml:"allocator" validate:"omitempty,oneof=system pool"`
	RunningMode      string `yaml:"running_mode" validate:"omitempty,oneof=default interpreter fast-jit llvm-jit"`
	HostModuleName   string `yaml:"host_module_name"`
	PoolSize         uint32 `yaml:"pool_size" validate:"required_if=Allocator pool"`
	CodeCacheSize    uint32 `yaml:"code_cache_size"`
	LLVMOptLevel     uint32 `yaml:"llvm_opt_level" validate:"lte=3"`
	LLVMSizeLevel    uint32 `yaml:"llvm_size_level" validate:"lte=3"`
	MaxThreadNum     uint32 `yaml:"max_thread_num"`
	MemoryLimitPages uint32 `yaml:"memory_limit_pages" validate:"lte=65536"`
	EnableThreads    bool   `yaml:"enable_threads"`
}

// Instance holds per-instance sizes in bytes.
type Instance struct {
	StackSize uint32 `yaml:"stack_size" validate:"gt=0"`
	HeapSize  uint32 `yaml:"heap_size"`
}

// WASI holds the pass-through WASI settings applied to every loaded module.
// MapDirs use the "guest::host" form and Env the "KEY=VALUE" form.
type WASI struct {
	Dirs             []string `yaml:"dirs" validate:"dive,required"`
	MapDirs          []string `yaml:"map_dirs" validate:"dive,contains=::"`
	Env              []string `yaml:"env" validate:"dive,contains=="`
	Args             []string `yaml:"args"`
	AllowedAddresses []string `yaml:"allowed_addresses" validate:"dive,cidr|ip"`
	AllowedDNS       []string `yaml:"allowed_dns" validate:"dive,required"`
}

// IsZero reports whether no WASI setting is present.
func (w WASI) IsZero() bool {
	return len(w.Dirs) == 0 && len(w.MapDirs) == 0 && len(w.Env) == 0 &&
		len(w.Args) == 0 && len(w.AllowedAddresses) == 0 && len(w.AllowedDNS) == 0
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Engine:   "wazero",
		LogLevel: "info",
		Runtime: Runtime{
			Allocator:   "system",
			RunningMode: "default",
		},
		Instance: Instance{
			StackSize: 64 * 1024,
		},
	}
}

// Load reads and validates a YAML file. Unset fields keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.InvalidConfig(fmt.Sprintf("read %s", path), err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML document. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !stderrors.Is(err, io.EOF) {
		return nil, errors.InvalidConfig("decode yaml", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.InvalidConfig("validation failed", err)
	}
	return nil
}

// AllocatorKind maps the allocator name to the engine enumeration.
func (r Runtime) AllocatorKind() engine.AllocatorKind {
	if r.Allocator == "pool" {
		return engine.AllocPool
	}
	return engine.AllocSystem
}

// EngineConfig returns the backend options of the wazero engine.
func (r Runtime) EngineConfig() engine.Config {
	return engine.Config{MemoryLimitPages: r.MemoryLimitPages, EnableThreads: r.EnableThreads}
}

// Mode maps the running mode name to the engine enumeration.
func (r Runtime) Mode() engine.RunningMode {
	switch r.RunningMode {
	case "interpreter":
		return engine.ModeInterpreter
	case "fast-jit":
		return engine.ModeFastJIT
	case "llvm-jit":
		return engine.ModeLLVMJIT
	default:
		return engine.ModeDefault
	}
}
