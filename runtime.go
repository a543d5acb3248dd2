// Package dtvm is the embedder-facing entry point for the engine: it ties
// internal/wasm (loader, validator, instance model), internal/interp (the
// stack-machine interpreter) and internal/host (the host-module registry)
// together into the Runtime → Module → Isolation → Instance control flow
// spec.md §2 describes. Host applications import this package and api,
// never internal/...
package dtvm

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/dtvmgo/dtvm/internal/host"
	"github.com/dtvmgo/dtvm/internal/interp"
	"github.com/dtvmgo/dtvm/internal/wasm"
)

// Mode selects the execution back-end a Runtime uses. Only ModeInterpreter
// is implemented; the others are named so NewRuntime can reject them with a
// clear error instead of silently falling back (spec.md §6
// "mode": interp / singlepass / multipass, the JIT back-ends being out of
// core scope).
type Mode string

const (
	ModeInterpreter Mode = "interp"
	ModeSinglepass  Mode = "singlepass"
	ModeMultipass   Mode = "multipass"
)

// RuntimeConfig controls Runtime behavior, built with With* copy-on-write
// methods the way the teacher's config.go builds RuntimeConfig: clone(),
// then mutate the clone (see DESIGN.md).
type RuntimeConfig struct {
	ctx               context.Context
	mode              Mode
	maxMemoryPages    uint32
	disableMemoryMap  bool
	statisticsEnabled bool
	spectestMode      bool
	logger            *logrus.Logger
}

// engineLessConfig mirrors the teacher's base value of the same name: a
// single place that fixes every default so With* methods never have to
// reconstruct them.
var engineLessConfig = &RuntimeConfig{
	ctx:            context.Background(),
	mode:           ModeInterpreter,
	maxMemoryPages: wasm.MaxMemoryPages,
	logger:         logrus.New(),
}

// NewRuntimeConfig returns a RuntimeConfig with the engine's defaults.
func NewRuntimeConfig() *RuntimeConfig {
	return engineLessConfig.clone()
}

func (c *RuntimeConfig) clone() *RuntimeConfig {
	ret := *c
	return &ret
}

// WithContext stores ctx on the config. Defaults to context.Background.
// Instantiation, the start function and Instance.Call do not receive or
// consult it.
func (c *RuntimeConfig) WithContext(ctx context.Context) *RuntimeConfig {
	if ctx == nil {
		ctx = context.Background()
	}
	ret := c.clone()
	ret.ctx = ctx
	return ret
}

// WithMode selects the execution back-end. Only ModeInterpreter is
// supported; NewRuntime rejects any other value (spec.md §6 "mode").
func (c *RuntimeConfig) WithMode(m Mode) *RuntimeConfig {
	ret := c.clone()
	ret.mode = m
	return ret
}

// WithMemoryMaxPages clamps every instantiated memory to at most n pages,
// regardless of what its Module declares (spec.md §6 "vm_max_memory_pages").
func (c *RuntimeConfig) WithMemoryMaxPages(n uint32) *RuntimeConfig {
	ret := c.clone()
	ret.maxMemoryPages = n
	return ret
}

// WithDisableWasmMemoryMap forces the malloc allocation strategy in C6
// instead of the mmap-bucket strategy (spec.md §6 "disable_wasm_memory_map").
func (c *RuntimeConfig) WithDisableWasmMemoryMap(disabled bool) *RuntimeConfig {
	ret := c.clone()
	ret.disableMemoryMap = disabled
	return ret
}

// WithStatistics turns on per-phase timing and trap/gas counters recorded
// through a dedicated prometheus.Registry (spec.md §6 "enable_statistics").
func (c *RuntimeConfig) WithStatistics(enabled bool) *RuntimeConfig {
	ret := c.clone()
	ret.statisticsEnabled = enabled
	return ret
}

// WithSpectestMode sets the spec-test compatibility flag on the config.
// Loading, instantiation and execution do not read it, so a Runtime behaves
// the same with it on or off. In particular, table, memory and global
// imports are accepted and resolved whether or not the flag is set.
func (c *RuntimeConfig) WithSpectestMode(enabled bool) *RuntimeConfig {
	ret := c.clone()
	ret.spectestMode = enabled
	return ret
}

// WithLogger overrides the Runtime's *logrus.Logger. Passing nil restores
// the default logger.
func (c *RuntimeConfig) WithLogger(l *logrus.Logger) *RuntimeConfig {
	ret := c.clone()
	if l == nil {
		l = logrus.New()
	}
	ret.logger = l
	return ret
}

// Runtime owns the services spec.md §2 calls global: the symbol-pool-backed
// host registry, the interpreter engine, the logger, and, optionally, a
// Statistics collector. One Runtime can load many Modules and open many
// Isolations.
type Runtime struct {
	config *RuntimeConfig

	registry *host.Registry
	engine   *interp.Engine
	log      *logrus.Logger
	stats    *Statistics
}

// NewRuntime creates a Runtime from config, or the default configuration if
// config is nil. It returns an error only if config names an unsupported
// Mode.
func NewRuntime(config *RuntimeConfig) (*Runtime, error) {
	if config == nil {
		config = NewRuntimeConfig()
	}
	if config.mode != ModeInterpreter {
		return nil, &unsupportedModeError{mode: config.mode}
	}
	r := &Runtime{
		config:   config,
		registry: host.NewRegistry(),
		engine:   interp.NewEngine(),
		log:      config.logger,
	}
	if config.statisticsEnabled {
		r.stats = NewStatistics()
	}
	r.log.WithField("mode", config.mode).Debug("runtime created")
	return r, nil
}

// Statistics returns the Runtime's Statistics collector, or nil if
// RuntimeConfig.WithStatistics was never enabled.
func (r *Runtime) Statistics() *Statistics { return r.stats }

// NewHostModule begins registering a native host module under name. Call
// AddFunction/AddGlobal on the result, then RegisterHostModule to make it
// visible to import resolution in subsequent Instantiate calls (spec.md
// §4.9).
func (r *Runtime) NewHostModule(name string) *HostModule {
	return &HostModule{name: name, raw: host.NewModule(name)}
}

// RegisterHostModule adds hm to the Runtime's host registry. It fails if a
// module with the same name is already registered.
func (r *Runtime) RegisterHostModule(hm *HostModule) error {
	if err := r.registry.Register(hm.raw); err != nil {
		return err
	}
	r.log.WithField("module", hm.name).Debug("host module registered")
	return nil
}

type unsupportedModeError struct{ mode Mode }

func (e *unsupportedModeError) Error() string {
	return "dtvm: unsupported mode " + string(e.mode) + " (only \"interp\" is implemented)"
}
