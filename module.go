package dtvm

import (
	"time"

	"github.com/dtvmgo/dtvm/internal/wasm"
)

// Module is an immutable, validated Wasm module (spec.md §3 "Module"). One
// Module can back many Instances across many Isolations.
type Module struct {
	raw *wasm.Module
}

// LoadModule decodes and validates binary, a raw Wasm 1.0 MVP module, into a
// Module. hint names the module for diagnostics (e.g. its source file path);
// it never affects decoding.
func (r *Runtime) LoadModule(binary []byte, hint string) (*Module, error) {
	start := time.Now()
	m, err := wasm.DecodeModule(binary, hint)
	if r.stats != nil {
		r.stats.observeLoad(time.Since(start))
	}
	if err != nil {
		r.log.WithField("hint", hint).WithField("error", err.Message()).Warn("module load failed")
		return nil, err
	}
	r.log.WithField("hint", hint).Debug("module loaded")
	return &Module{raw: m}, nil
}

// Name returns the module's debug hint, the name Runtime.LoadModule was
// given.
func (m *Module) Name() string { return m.raw.NameHint }
