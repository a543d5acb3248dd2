package dtvm

import (
	"math"
	"time"

	"github.com/dtvmgo/dtvm/api"
	"github.com/dtvmgo/dtvm/internal/wasm"
	"github.com/dtvmgo/dtvm/internal/werr"
)

var _ api.CallContext = (*Instance)(nil)

// Instance is one instantiated, sandboxed execution context for a Module
// (spec.md §3 "Instance"). It implements api.CallContext directly so an
// embedder can pass an Instance itself wherever host code expects one,
// alongside the fuller Call/GasLeft/ExitCode surface host code does not
// need.
type Instance struct {
	raw       *wasm.Instance
	isolation *Isolation
}

// Instantiate builds a fresh Instance of m within iso, with gasLimit as its
// starting gas budget (0 means unmetered: the budget starts at
// math.MaxUint64). Instantiation runs the module's start function, if any,
// before returning.
func (iso *Isolation) Instantiate(m *Module, gasLimit uint64) (*Instance, error) {
	r := iso.runtime
	start := time.Now()
	if gasLimit == 0 {
		gasLimit = math.MaxUint64
	}
	raw, err := wasm.Instantiate(m.raw, wasm.InstantiateOptions{
		Resolver:       r.registry,
		Call:           r.engine.AsCallFunc(),
		MaxGas:         gasLimit,
		PreferMmap:     !r.config.disableMemoryMap,
		MaxMemoryPages: r.config.maxMemoryPages,
	})
	if r.stats != nil {
		r.stats.observeInstantiate(time.Since(start))
	}
	if err != nil {
		r.log.WithField("module", m.Name()).WithField("error", err.Message()).Warn("instantiation failed")
		return nil, err
	}
	r.log.WithField("module", m.Name()).Debug("instance created")
	return &Instance{raw: raw, isolation: iso}, nil
}

// Memory returns the instance's linear memory, or nil if it declares none.
func (inst *Instance) Memory() []byte {
	if inst.raw.Memory == nil {
		return nil
	}
	return inst.raw.Memory.Region.Bytes
}

// CustomData returns the embedder-attached opaque value last set with
// SetCustomData, or nil.
func (inst *Instance) CustomData() interface{} { return inst.raw.CustomData }

// SetCustomData replaces the instance's opaque embedder-attached value
// (SPEC_FULL.md "per-instance custom_data").
func (inst *Instance) SetCustomData(v interface{}) { inst.raw.CustomData = v }

// Exit records code as the instance's exit code and marks it as exited
// rather than trapped. Embedders normally only see this already set, via
// ExitCode, after a Call returns the KindInstanceExit error; Exit itself
// exists so host functions (through their CallContext) can raise it.
func (inst *Instance) Exit(code int32) {
	inst.raw.ExitCode = code
	inst.raw.HasExitCode = true
}

// ExitCode reports whether Exit has been called on the instance, and if
// so, with what code (SPEC_FULL.md "instance exit code").
func (inst *Instance) ExitCode() (int32, bool) {
	return inst.raw.ExitCode, inst.raw.HasExitCode
}

// GasLeft is the instance's remaining gas budget.
func (inst *Instance) GasLeft() uint64 { return inst.raw.GasLeft }

// Call invokes the exported function named name with args already in Wasm
// cell order, returning its results or the trap that unwound it (spec.md §6
// "call(instance, func_name_or_idx, [TypedValue])").
func (inst *Instance) Call(name string, args ...uint64) ([]uint64, error) {
	exp, ok := inst.raw.Module.FindExport(name)
	if !ok || exp.Kind != wasm.ExternKindFunc {
		return nil, werr.New(werr.PhaseBeforeExecution, werr.KindUnknownFunction).WithExtra("export %q", name)
	}
	return inst.CallIndex(exp.Index, args...)
}

// CallIndex invokes the function at funcIdx in the combined function index
// space directly, bypassing export-name lookup.
func (inst *Instance) CallIndex(funcIdx uint32, args ...uint64) ([]uint64, error) {
	r := inst.isolation.runtime
	before := inst.raw.GasLeft
	start := time.Now()
	results, err := r.engine.Call(inst.raw, funcIdx, args)
	if r.stats != nil {
		r.stats.observeExecute(time.Since(start))
		if before > inst.raw.GasLeft {
			r.stats.addGasConsumed(before - inst.raw.GasLeft)
		}
	}
	if err != nil {
		if r.stats != nil {
			r.stats.recordTrap(trapKindName(err.Kind))
		}
		r.log.WithField("func", funcIdx).WithField("error", err.Message()).Warn("call trapped")
		return nil, err
	}
	if inst.raw.HasExitCode {
		return results, werr.New(werr.PhaseExecution, werr.KindInstanceExit).WithExtra("code %d", inst.raw.ExitCode)
	}
	return results, nil
}

func trapKindName(k werr.Kind) string {
	switch k {
	case werr.KindUnreachable:
		return "unreachable"
	case werr.KindOutOfBoundsMemory:
		return "out_of_bounds_memory"
	case werr.KindIntegerOverflow:
		return "integer_overflow"
	case werr.KindIntegerDivByZero:
		return "integer_div_by_zero"
	case werr.KindInvalidConversionToInteger:
		return "invalid_conversion_to_integer"
	case werr.KindUndefinedElement:
		return "undefined_element"
	case werr.KindUninitializedElement:
		return "uninitialized_element"
	case werr.KindIndirectCallTypeMismatch:
		return "indirect_call_type_mismatch"
	case werr.KindCallStackExhausted:
		return "call_stack_exhausted"
	case werr.KindGasLimitExceeded:
		return "gas_limit_exceeded"
	default:
		return "other"
	}
}
