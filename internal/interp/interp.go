// Package interp implements the stack-machine interpreter (spec.md §4.8):
// a direct fetch-decode-execute loop over a Module's validated, possibly
// validator-rewritten bytecode. It mirrors the teacher's callEngine/
// callFrame vocabulary for call-stack bookkeeping, but walks raw opcode
// bytes rather than a compiled intermediate representation, since the
// engine this module implements never introduces one (see DESIGN.md).
package interp

import (
	"math"

	"github.com/dtvmgo/dtvm/internal/leb128"
	"github.com/dtvmgo/dtvm/internal/wasm"
	"github.com/dtvmgo/dtvm/internal/werr"
)

// defaultCallStackCeiling bounds recursion depth; exceeding it raises
// CallStackExhausted rather than overflowing the Go runtime's own stack.
const defaultCallStackCeiling = 8192

// Engine runs bytecode for any number of Instances. It is stateless between
// calls and safe for concurrent use.
type Engine struct {
	CallStackCeiling int
}

// NewEngine returns an Engine with the default call-stack ceiling.
func NewEngine() *Engine {
	return &Engine{CallStackCeiling: defaultCallStackCeiling}
}

func (e *Engine) ceiling() int {
	if e.CallStackCeiling <= 0 {
		return defaultCallStackCeiling
	}
	return e.CallStackCeiling
}

// AsCallFunc adapts e to wasm.CallFunc, for wiring into wasm.InstantiateOptions
// so that instantiation can run a module's start function.
func (e *Engine) AsCallFunc() wasm.CallFunc {
	return func(inst *wasm.Instance, funcIdx uint32, args []uint64) ([]uint64, *werr.Error) {
		return e.Call(inst, funcIdx, args)
	}
}

// Call invokes funcIdx on inst with args already in wasm cell order.
func (e *Engine) Call(inst *wasm.Instance, funcIdx uint32, args []uint64) ([]uint64, *werr.Error) {
	ce := &callEngine{engine: e}
	return ce.callFunction(inst, funcIdx, args)
}

// callEngine holds the frame stack for one top-level Engine.Call invocation.
type callEngine struct {
	engine *Engine
	frames []*callFrame
}

// callFrame is one activation record: its own locals and operand/control
// stacks (spec §4.8 "Frame"), adapted to Go slices rather than hand-laid
// byte regions within a single isolation-wide stack.
type callFrame struct {
	fn     *wasm.FunctionInstance
	locals []uint64
	stack  []uint64
	ctrl   []ctrlEntry
	ip     int
}

// ctrlEntry is the runtime counterpart of the validator's controlBlock: just
// enough to perform a branch without re-deriving arity or jump targets.
type ctrlEntry struct {
	paramTypes  []wasm.ValueType
	resultTypes []wasm.ValueType
	stackBase   int
	isLoop      bool
	startIP     int // loop re-entry point; -1 for non-loop blocks
	endIP       int // position just after the matching `end`
}

func (c *ctrlEntry) branchArity() []wasm.ValueType {
	if c.isLoop {
		return c.paramTypes
	}
	return c.resultTypes
}

func newCallFrame(fn *wasm.FunctionInstance, args []uint64) *callFrame {
	locals := make([]uint64, len(fn.Type.Params)+fn.Code.NumLocalCells)
	copy(locals, args)
	cap := fn.Code.MaxStackSizeBytes/4 + 8
	return &callFrame{
		fn:     fn,
		locals: locals,
		stack:  make([]uint64, 0, cap),
		ctrl: []ctrlEntry{{
			resultTypes: fn.Type.Results,
			stackBase:   0,
			startIP:     -1,
			endIP:       len(fn.Code.Body),
		}},
	}
}

func (f *callFrame) top() *ctrlEntry { return &f.ctrl[len(f.ctrl)-1] }

func (f *callFrame) push(v uint64)  { f.stack = append(f.stack, v) }
func (f *callFrame) pop() uint64 {
	n := len(f.stack) - 1
	v := f.stack[n]
	f.stack = f.stack[:n]
	return v
}
func (f *callFrame) pushI32(v int32)     { f.push(uint64(uint32(v))) }
func (f *callFrame) popI32() int32       { return int32(uint32(f.pop())) }
func (f *callFrame) pushU32(v uint32)    { f.push(uint64(v)) }
func (f *callFrame) popU32() uint32      { return uint32(f.pop()) }
func (f *callFrame) pushI64(v int64)     { f.push(uint64(v)) }
func (f *callFrame) popI64() int64       { return int64(f.pop()) }
func (f *callFrame) pushF32(v float32)   { f.push(uint64(math.Float32bits(v))) }
func (f *callFrame) popF32() float32     { return math.Float32frombits(uint32(f.pop())) }
func (f *callFrame) pushF64(v float64)   { f.push(math.Float64bits(v)) }
func (f *callFrame) popF64() float64     { return math.Float64frombits(f.pop()) }

func (ce *callEngine) callFunction(inst *wasm.Instance, funcIdx uint32, args []uint64) ([]uint64, *werr.Error) {
	if inst.GasFuncIndex != nil && funcIdx == *inst.GasFuncIndex {
		return ce.chargeGas(inst, args)
	}
	fn := inst.Functions[funcIdx]
	if fn.Kind == wasm.FuncKindNative {
		results, err := fn.Native(inst, args)
		if err == nil && inst.HasExitCode {
			return nil, werr.New(werr.PhaseExecution, werr.KindInstanceExit).WithExtra("code %d", inst.ExitCode)
		}
		return results, err
	}
	if len(ce.frames) >= ce.engine.ceiling() {
		return nil, werr.New(werr.PhaseExecution, werr.KindCallStackExhausted)
	}
	frame := newCallFrame(fn, args)
	ce.frames = append(ce.frames, frame)
	results, err := ce.run(inst, frame)
	ce.frames = ce.frames[:len(ce.frames)-1]
	return results, err
}

// chargeGas implements the designated func_gas interception (spec §4.8
// "Call"): the function's body is never executed, only its u64 argument is
// debited from the instance's gas budget.
func (ce *callEngine) chargeGas(inst *wasm.Instance, args []uint64) ([]uint64, *werr.Error) {
	delta := args[0]
	if delta > inst.GasLeft {
		inst.GasLeft = 0
		return nil, werr.New(werr.PhaseExecution, werr.KindGasLimitExceeded)
	}
	inst.GasLeft -= delta
	return nil, nil
}

func readU32(body []byte, ip *int) (uint32, *werr.Error) {
	v, n, err := leb128.Uint32(body[*ip:])
	if err != nil {
		return 0, err
	}
	*ip += n
	return v, nil
}

func readI32(body []byte, ip *int) (int32, *werr.Error) {
	v, n, err := leb128.Int32(body[*ip:])
	if err != nil {
		return 0, err
	}
	*ip += n
	return v, nil
}

func readI64(body []byte, ip *int) (int64, *werr.Error) {
	v, n, err := leb128.Int64(body[*ip:])
	if err != nil {
		return 0, err
	}
	*ip += n
	return v, nil
}

func readF32Bits(body []byte, ip *int) (uint32, *werr.Error) {
	v, n, err := leb128.Fixed32(body[*ip:])
	if err != nil {
		return 0, err
	}
	*ip += n
	return v, nil
}

func readF64Bits(body []byte, ip *int) (uint64, *werr.Error) {
	v, n, err := leb128.Fixed64(body[*ip:])
	if err != nil {
		return 0, err
	}
	*ip += n
	return v, nil
}

const (
	canonicalNaN32 = 0x7fc00000
	canonicalNaN64 = 0x7ff8000000000000
)

func canon32(v float32) float32 {
	if math.IsNaN(float64(v)) {
		return math.Float32frombits(canonicalNaN32)
	}
	return v
}

func canon64(v float64) float64 {
	if math.IsNaN(v) {
		return math.Float64frombits(canonicalNaN64)
	}
	return v
}

// branch performs a validated branch to control-stack depth N: it discards
// the arity-matching values' enclosing scratch space, jumps, and pops (or
// keeps, for loops) the target control entry.
func (f *callFrame) branch(depth uint32) {
	idx := len(f.ctrl) - 1 - int(depth)
	target := f.ctrl[idx]
	arity := target.branchArity()
	saved := make([]uint64, len(arity))
	copy(saved, f.stack[len(f.stack)-len(arity):])
	f.stack = f.stack[:target.stackBase]
	f.stack = append(f.stack, saved...)
	if target.isLoop {
		f.ctrl = f.ctrl[:idx+1]
		f.ip = target.startIP
	} else {
		f.ctrl = f.ctrl[:idx]
		f.ip = target.endIP
	}
}
