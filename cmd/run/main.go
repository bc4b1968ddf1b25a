package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/wippyai/wasm-bind/config"
	"github.com/wippyai/wasm-bind/engine"
	"github.com/wippyai/wasm-bind/runtime"
)

type options struct {
	wasmFile   string
	configFile string
	engineName string
	funcName   string
	args       string
	env        string
	argv       string
	dirs       string
	mapDirs    string
	list       bool
}

func main() {
	var (
		opts        options
		interactive bool
	)
	flag.StringVar(&opts.wasmFile, "wasm", "", "Path to wasm module")
	flag.StringVar(&opts.configFile, "config", "", "YAML configuration file")
	flag.StringVar(&opts.engineName, "engine", "", "Engine backend (wazero, wamr, wasmer)")
	flag.StringVar(&opts.funcName, "func", "", "Function to call (optional)")
	flag.StringVar(&opts.args, "args", "", "Function arguments (comma-separated, typed by signature)")
	flag.StringVar(&opts.env, "env", "", "Environment variables (KEY=VAL,KEY2=VAL2)")
	flag.StringVar(&opts.argv, "argv", "", "CLI arguments (comma-separated)")
	flag.StringVar(&opts.dirs, "dirs", "", "Pre-opened directories (comma-separated)")
	flag.StringVar(&opts.mapDirs, "map-dirs", "", "Mapped directories (/guest::/host,...)")
	flag.BoolVar(&opts.list, "list", false, "List exported functions and exit")
	flag.BoolVar(&interactive, "i", false, "Interactive mode with TUI")
	flag.Parse()

	if opts.wasmFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: run -wasm <file.wasm> [-func name] [-args 1,2] [-env K=V,...] [-config file.yaml]")
		fmt.Fprintln(os.Stderr, "       run -wasm <file.wasm> -list")
		fmt.Fprintln(os.Stderr, "       run -wasm <file.wasm> -i  (interactive mode)")
		os.Exit(1)
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()
	runtime.SetLogger(logger)
	engine.SetLogger(logger)

	if interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			fmt.Fprintln(os.Stderr, "Error: interactive mode needs a terminal")
			os.Exit(1)
		}
		if err := runInteractive(opts.wasmFile, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(opts, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the optional config file and applies command line overrides.
func loadConfig(opts options) (*config.Config, error) {
	cfg := config.Default()
	if opts.configFile != "" {
		var err error
		if cfg, err = config.Load(opts.configFile); err != nil {
			return nil, err
		}
	}
	if opts.engineName != "" {
		cfg.Engine = opts.engineName
	}
	cfg.WASI.Env = append(cfg.WASI.Env, splitList(opts.env)...)
	cfg.WASI.Args = append(cfg.WASI.Args, splitList(opts.argv)...)
	cfg.WASI.Dirs = append(cfg.WASI.Dirs, splitList(opts.dirs)...)
	cfg.WASI.MapDirs = append(cfg.WASI.MapDirs, splitList(opts.mapDirs)...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(level string) *zap.Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	zc := zap.NewDevelopmentConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := zc.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// session is a loaded module with one instance.
type session struct {
	rt   *runtime.Runtime
	mod  *runtime.Module
	inst *runtime.Instance
}

func openSession(ctx context.Context, path string, cfg *config.Config) (*session, error) {
	rt, err := runtime.NewBuilder().WithConfig(cfg).Build(ctx)
	if err != nil {
		return nil, fmt.Errorf("create runtime: %w", err)
	}

	mod, err := runtime.NewModuleFromFile(ctx, rt, path)
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("load module: %w", err)
	}
	if err := mod.ApplyWASIConfig(cfg.WASI); err != nil {
		_ = mod.Close()
		_ = rt.Close()
		return nil, fmt.Errorf("configure WASI: %w", err)
	}

	inst, err := runtime.NewInstance(ctx, mod, cfg.Instance.StackSize, cfg.Instance.HeapSize)
	if err != nil {
		_ = mod.Close()
		_ = rt.Close()
		return nil, fmt.Errorf("instantiate: %w", err)
	}
	return &session{rt: rt, mod: mod, inst: inst}, nil
}

func (s *session) Close() {
	_ = s.inst.Close()
	_ = s.mod.Close()
	_ = s.rt.Close()
}

func run(opts options, cfg *config.Config) error {
	ctx := context.Background()

	s, err := openSession(ctx, opts.wasmFile, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	funcs, err := describeExports(s.mod, s.inst)
	if err != nil {
		return err
	}

	fmt.Printf("Module: %s\n", opts.wasmFile)
	fmt.Printf("Engine: %s\n", s.rt.Engine().Name())
	fmt.Printf("\nExported functions:\n")
	for _, f := range funcs {
		fmt.Printf("  %s\n", f.signature())
	}

	if opts.list {
		return nil
	}

	funcName := opts.funcName
	if funcName == "" {
		funcName = entryPoint(funcs)
		if funcName == "" {
			fmt.Printf("\nNo function specified and no common entry point found.\n")
			fmt.Printf("Use -func to specify a function to call.\n")
			return nil
		}
	}

	f, ok := findInfo(funcs, funcName)
	if !ok {
		return fmt.Errorf("function %q is not exported", funcName)
	}
	params, err := f.parseArgs(splitList(opts.args))
	if err != nil {
		return err
	}

	fmt.Printf("\nCalling %s(%s)...\n", funcName, opts.args)
	result, err := s.inst.Call(ctx, funcName, params...)
	if err != nil {
		return fmt.Errorf("call %s: %w", funcName, err)
	}

	fmt.Printf("Result: %v\n", result)
	return nil
}

func entryPoint(funcs []funcInfo) string {
	for _, name := range []string{"_start", "run", "main"} {
		if _, ok := findInfo(funcs, name); ok {
			return name
		}
	}
	if len(funcs) == 1 {
		return funcs[0].name
	}
	return ""
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
