// Package host implements the host-module registry (spec.md §4.9): the
// Runtime-wide mapping from (module, field) import names to native
// functions, consulted by internal/wasm's loader during import resolution.
package host

import (
	"fmt"

	"github.com/dtvmgo/dtvm/internal/symbol"
	"github.com/dtvmgo/dtvm/internal/wasm"
	"github.com/dtvmgo/dtvm/internal/werr"
)

// Func is one registered native function: its declared Wasm signature plus
// the implementation invoked through the uint64-cell ABI every Wasm call
// uses, regardless of how many Go parameters that implementation has.
type Func struct {
	Name    string
	Params  []wasm.ValueType
	Results []wasm.ValueType
	Fn      wasm.HostFunc

	// reserved mirrors spec.md §6's is_reserved field on the conceptual
	// HostFunc struct. The spec defines no pure-interpreter behavior for
	// it (reserved host functions matter to a JIT's stack-bounds checks,
	// which this build has none of), so it is carried but never set or
	// read here, the same "reserved field — unused by the pure-interpreter
	// core" status spec.md §4.7 gives the analogous per-instance field.
	reserved bool
}

// Module is a named collection of host functions and globals, registered
// once per Runtime. Two functions sharing a name within one Module are
// rejected at AddFunction time.
type Module struct {
	name    string
	handle  symbol.Handle
	funcs   map[string]*Func
	globals map[string]*wasm.GlobalInstance
	// minHandle/maxHandle bound the symbol range this module's name and
	// function names were interned into, recorded by Registry.Register.
	// Registry.ResolveFunc does not consult them: it finds a function by
	// its field name in the funcs map.
	minHandle, maxHandle symbol.Handle
}

// NewModule creates an empty host module named name.
func NewModule(name string) *Module {
	return &Module{name: name, funcs: make(map[string]*Func), globals: make(map[string]*wasm.GlobalInstance)}
}

// AddFunction registers a native function under name. It fails if name is
// already registered in this module.
func (m *Module) AddFunction(name string, params, results []wasm.ValueType, fn wasm.HostFunc) error {
	if _, dup := m.funcs[name]; dup {
		return fmt.Errorf("host module %q: duplicate function %q", m.name, name)
	}
	m.funcs[name] = &Func{Name: name, Params: params, Results: results, Fn: fn}
	return nil
}

// AddGlobal registers an immutable global value under name.
func (m *Module) AddGlobal(name string, t wasm.ValueType, value uint64) error {
	if _, dup := m.globals[name]; dup {
		return fmt.Errorf("host module %q: duplicate global %q", m.name, name)
	}
	m.globals[name] = &wasm.GlobalInstance{Type: wasm.GlobalType{ValType: t, Mutable: false}, Value: value}
	return nil
}

// Whitelist removes every function whose name is not in names, e.g. to
// expose only a subset of a shared host module (spec.md §4.9 "a host
// module can be filtered by a whitelist of function names").
func (m *Module) Whitelist(names ...string) {
	keep := make(map[string]bool, len(names))
	for _, n := range names {
		keep[n] = true
	}
	for name := range m.funcs {
		if !keep[name] {
			delete(m.funcs, name)
		}
	}
}

// Registry is the Runtime-wide collection of registered host modules,
// consulted by internal/wasm.Instantiate through the ImportResolver
// interface.
type Registry struct {
	pool    *symbol.Pool
	modules map[string]*Module
}

// NewRegistry returns an empty Registry backed by its own symbol pool.
func NewRegistry() *Registry {
	return &Registry{pool: symbol.NewPool(), modules: make(map[string]*Module)}
}

// Register adds m to the registry. It fails if a module with the same name
// is already registered (spec.md §4.9: "two modules with the same name
// cannot both be registered").
func (r *Registry) Register(m *Module) error {
	if _, dup := r.modules[m.name]; dup {
		return fmt.Errorf("host registry: duplicate module %q", m.name)
	}
	h, err := r.pool.Intern(m.name)
	if err != nil {
		return err
	}
	m.handle = h
	m.minHandle, m.maxHandle = h, h
	for name := range m.funcs {
		fh, err := r.pool.Intern(m.name + "." + name)
		if err != nil {
			return err
		}
		if fh < m.minHandle {
			m.minHandle = fh
		}
		if fh > m.maxHandle {
			m.maxHandle = fh
		}
	}
	r.modules[m.name] = m
	return nil
}

// ResolveFunc implements wasm.ImportResolver: it looks up (module, field)
// and type-checks the found function's signature against ft exactly (spec
// §4.4: "signatures must match exactly").
func (r *Registry) ResolveFunc(module, field string, ft *wasm.FunctionType) (wasm.HostFunc, *werr.Error) {
	mod, ok := r.modules[module]
	if !ok {
		return nil, werr.New(werr.PhaseLoad, werr.KindHostModuleNotFound).WithExtra("module %q", module)
	}
	fn, ok := mod.funcs[field]
	if !ok {
		return nil, werr.New(werr.PhaseLoad, werr.KindHostFunctionNotFound).WithExtra("%s.%s", module, field)
	}
	if mismatch := signatureMismatch(fn, ft); mismatch != "" {
		return nil, werr.New(werr.PhaseLoad, werr.KindImportSignatureMismatch).WithExtra("%s.%s: %s", module, field, mismatch)
	}
	return fn.Fn, nil
}

// ResolveGlobal implements wasm.ImportResolver for imported globals.
func (r *Registry) ResolveGlobal(module, field string, gt wasm.GlobalType) (*wasm.GlobalInstance, *werr.Error) {
	mod, ok := r.modules[module]
	if !ok {
		return nil, werr.New(werr.PhaseLoad, werr.KindHostModuleNotFound).WithExtra("module %q", module)
	}
	g, ok := mod.globals[field]
	if !ok {
		return nil, werr.New(werr.PhaseLoad, werr.KindHostFunctionNotFound).WithExtra("%s.%s", module, field)
	}
	if g.Type.ValType != gt.ValType {
		return nil, werr.New(werr.PhaseLoad, werr.KindImportSignatureMismatch).WithExtra("%s.%s: global type mismatch", module, field)
	}
	return g, nil
}

func signatureMismatch(fn *Func, ft *wasm.FunctionType) string {
	if len(fn.Results) != len(ft.Results) {
		return fmt.Sprintf("return count mismatch (expected %d, actual %d)", len(fn.Results), len(ft.Results))
	}
	if len(fn.Params) != len(ft.Params) {
		return fmt.Sprintf("param count mismatch (expected %d, actual %d)", len(fn.Params), len(ft.Params))
	}
	for i := range fn.Params {
		if fn.Params[i] != ft.Params[i] {
			return fmt.Sprintf("param type mismatch (param index: %d, expected %s, actual %s)",
				i, wasm.ValueTypeName(fn.Params[i]), wasm.ValueTypeName(ft.Params[i]))
		}
	}
	for i := range fn.Results {
		if fn.Results[i] != ft.Results[i] {
			return fmt.Sprintf("result type mismatch (result index: %d, expected %s, actual %s)",
				i, wasm.ValueTypeName(fn.Results[i]), wasm.ValueTypeName(ft.Results[i]))
		}
	}
	return ""
}
