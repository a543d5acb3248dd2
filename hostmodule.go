package dtvm

import (
	"github.com/dtvmgo/dtvm/api"
	"github.com/dtvmgo/dtvm/internal/host"
	"github.com/dtvmgo/dtvm/internal/wasm"
	"github.com/dtvmgo/dtvm/internal/werr"
)

// HostModule is a named collection of native functions and globals an
// embedder registers with a Runtime, built up before Runtime.
// RegisterHostModule makes it visible to import resolution (spec.md §4.9,
// C9). It wraps internal/host.Module so that this package's public surface
// never needs to expose internal/wasm types directly.
type HostModule struct {
	name string
	raw  *host.Module
}

// AddFunction registers a native function under name with the given
// declared Wasm signature. It fails if name is already registered in this
// module.
func (m *HostModule) AddFunction(name string, params, results []api.ValueType, fn api.HostFunc) error {
	return m.raw.AddFunction(name, toWasmTypes(params), toWasmTypes(results), adaptHostFunc(fn))
}

// AddGlobal registers an immutable global value under name.
func (m *HostModule) AddGlobal(name string, t api.ValueType, value uint64) error {
	return m.raw.AddGlobal(name, wasm.ValueType(t), value)
}

// Whitelist restricts this module to exactly the named functions, e.g. to
// expose a curated subset of a shared host module (spec.md §4.9).
func (m *HostModule) Whitelist(names ...string) { m.raw.Whitelist(names...) }

func toWasmTypes(ts []api.ValueType) []wasm.ValueType {
	if ts == nil {
		return nil
	}
	out := make([]wasm.ValueType, len(ts))
	for i, t := range ts {
		out[i] = wasm.ValueType(t)
	}
	return out
}

// adaptHostFunc wraps an embedder's api.HostFunc, which sees a CallContext,
// as the wasm.HostFunc the instantiator and interpreter actually invoke,
// which sees the raw *wasm.Instance. A fresh instanceCallContext is cheap
// enough to allocate per call: it is a one-pointer wrapper, not a copy of
// the instance state.
func adaptHostFunc(fn api.HostFunc) wasm.HostFunc {
	return func(inst *wasm.Instance, args []uint64) ([]uint64, *werr.Error) {
		results, err := fn(instanceCallContext{inst}, args)
		if err != nil {
			if we, ok := err.(*werr.Error); ok {
				return nil, we
			}
			return nil, werr.New(werr.PhaseExecution, werr.KindUnreachable).WithExtra("%s", err.Error())
		}
		return results, nil
	}
}

// instanceCallContext adapts a raw *wasm.Instance to api.CallContext for
// the duration of one host-function call, without pulling the full Instance
// wrapper (and the Engine/Isolation references it carries) into the call.
type instanceCallContext struct{ raw *wasm.Instance }

func (c instanceCallContext) Memory() []byte {
	if c.raw.Memory == nil {
		return nil
	}
	return c.raw.Memory.Region.Bytes
}

func (c instanceCallContext) CustomData() interface{} { return c.raw.CustomData }

func (c instanceCallContext) SetCustomData(v interface{}) { c.raw.CustomData = v }

func (c instanceCallContext) Exit(code int32) {
	c.raw.ExitCode = code
	c.raw.HasExitCode = true
}
