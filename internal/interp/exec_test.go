package interp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dtvmgo/dtvm/internal/wasm"
	"github.com/dtvmgo/dtvm/internal/werr"
)

func instantiate(t *testing.T, bin []byte, resolver wasm.ImportResolver, maxGas uint64) (*wasm.Instance, *Engine) {
	t.Helper()
	m, derr := wasm.DecodeModule(bin, t.Name())
	require.Nil(t, derr)
	engine := NewEngine()
	inst, ierr := wasm.Instantiate(m, wasm.InstantiateOptions{Resolver: resolver, Call: engine.AsCallFunc(), MaxGas: maxGas})
	require.Nil(t, ierr)
	return inst, engine
}

func i32Type(params, results []wasm.ValueType) [2][]wasm.ValueType {
	return [2][]wasm.ValueType{params, results}
}

// TestAddWraparound is scenario (1) from spec.md §8: i32.add wraps modulo
// 2^32 rather than trapping.
func TestAddWraparound(t *testing.T) {
	fm := fixtureModule{
		types: [][2][]wasm.ValueType{i32Type([]wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeI32}, []wasm.ValueType{wasm.ValueTypeI32})},
		funcs: []fixtureFunc{{
			typeIdx: 0,
			body:    []byte{opGetLocal, 0x00, opGetLocal, 0x01, opI32Add, opEnd},
			export:  "add",
		}},
	}
	inst, engine := instantiate(t, fm.build(), nil, 0)

	results, err := engine.Call(inst, 0, []uint64{uint64(uint32(math.MaxInt32)), 1})
	require.Nil(t, err)
	require.Equal(t, uint32(0x80000000), uint32(results[0]))
}

// TestIntegerDivByZero is scenario (4): i32.div_s by zero traps.
func TestIntegerDivByZero(t *testing.T) {
	fm := fixtureModule{
		types: [][2][]wasm.ValueType{i32Type([]wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeI32}, []wasm.ValueType{wasm.ValueTypeI32})},
		funcs: []fixtureFunc{{
			typeIdx: 0,
			body:    []byte{opGetLocal, 0x00, opGetLocal, 0x01, opI32DivS, opEnd},
			export:  "div",
		}},
	}
	inst, engine := instantiate(t, fm.build(), nil, 0)

	_, err := engine.Call(inst, 0, []uint64{10, 0})
	require.True(t, err.Is(werr.KindIntegerDivByZero))
}

// TestIntegerOverflowMinDivByNegOne covers the INT_MIN/-1 boundary behavior
// spec.md §8 calls out explicitly.
func TestIntegerOverflowMinDivByNegOne(t *testing.T) {
	fm := fixtureModule{
		types: [][2][]wasm.ValueType{i32Type([]wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeI32}, []wasm.ValueType{wasm.ValueTypeI32})},
		funcs: []fixtureFunc{{
			typeIdx: 0,
			body:    []byte{opGetLocal, 0x00, opGetLocal, 0x01, opI32DivS, opEnd},
			export:  "div",
		}},
	}
	inst, engine := instantiate(t, fm.build(), nil, 0)

	_, err := engine.Call(inst, 0, []uint64{uint64(uint32(math.MinInt32)), uint64(uint32(-1))})
	require.True(t, err.Is(werr.KindIntegerOverflow))
}

// TestRemSMinByNegOneDoesNotTrap: unlike div_s, rem_s(INT_MIN, -1) == 0 and
// must not be classified as overflow.
func TestRemSMinByNegOneDoesNotTrap(t *testing.T) {
	fm := fixtureModule{
		types: [][2][]wasm.ValueType{i32Type([]wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeI32}, []wasm.ValueType{wasm.ValueTypeI32})},
		funcs: []fixtureFunc{{
			typeIdx: 0,
			body:    []byte{opGetLocal, 0x00, opGetLocal, 0x01, opI32RemS, opEnd},
			export:  "rem",
		}},
	}
	inst, engine := instantiate(t, fm.build(), nil, 0)

	results, err := engine.Call(inst, 0, []uint64{uint64(uint32(math.MinInt32)), uint64(uint32(-1))})
	require.Nil(t, err)
	require.Equal(t, uint32(0), uint32(results[0]))
}

// TestCallStackExhausted is scenario (3): unbounded self-recursion traps
// rather than overflowing the Go stack.
func TestCallStackExhausted(t *testing.T) {
	fm := fixtureModule{
		types: [][2][]wasm.ValueType{i32Type(nil, nil)},
		funcs: []fixtureFunc{{
			typeIdx: 0,
			body:    []byte{opCall, 0x00, opEnd},
			export:  "loop",
		}},
	}
	m, derr := wasm.DecodeModule(fm.build(), t.Name())
	require.Nil(t, derr)
	engine := &Engine{CallStackCeiling: 16}
	inst, ierr := wasm.Instantiate(m, wasm.InstantiateOptions{Call: engine.AsCallFunc()})
	require.Nil(t, ierr)

	_, err := engine.Call(inst, 0, nil)
	require.True(t, err.Is(werr.KindCallStackExhausted))
}

// TestGasLimitExceeded is scenario (5): a func_gas call that would overdraw
// the budget traps instead of proceeding.
func TestGasLimitExceeded(t *testing.T) {
	fm := fixtureModule{
		types: [][2][]wasm.ValueType{
			i32Type([]wasm.ValueType{wasm.ValueTypeI64}, nil), // func_gas
			i32Type(nil, nil),                                 // run
		},
		funcs: []fixtureFunc{
			{typeIdx: 0, body: []byte{opEnd}, export: "func_gas"},
			{typeIdx: 1, body: []byte{opI64Const, 0x0a, opCall, 0x00, opEnd}, export: "run"},
		},
	}
	inst, engine := instantiate(t, fm.build(), nil, 5)

	_, err := engine.Call(inst, 1, nil)
	require.True(t, err.Is(werr.KindGasLimitExceeded))
}

// TestGasAccountingDebitsBudget checks the non-trapping path: a charge
// within budget decrements GasLeft and lets execution continue.
func TestGasAccountingDebitsBudget(t *testing.T) {
	fm := fixtureModule{
		types: [][2][]wasm.ValueType{
			i32Type([]wasm.ValueType{wasm.ValueTypeI64}, nil),
			i32Type(nil, nil),
		},
		funcs: []fixtureFunc{
			{typeIdx: 0, body: []byte{opEnd}, export: "func_gas"},
			{typeIdx: 1, body: []byte{opI64Const, 0x0a, opCall, 0x00, opEnd}, export: "run"},
		},
	}
	inst, engine := instantiate(t, fm.build(), nil, 100)

	_, err := engine.Call(inst, 1, nil)
	require.Nil(t, err)
	require.Equal(t, uint64(90), inst.GasLeft)
}

// TestMemoryGrowReturnsOldPageCount is scenario (6): memory.grow returns the
// prior page count and the newly exposed page reads as zero.
func TestMemoryGrowReturnsOldPageCount(t *testing.T) {
	fm := fixtureModule{
		types:     [][2][]wasm.ValueType{i32Type([]wasm.ValueType{wasm.ValueTypeI32}, []wasm.ValueType{wasm.ValueTypeI32})},
		hasMemory: true,
		memMin:    1,
		memMax:    2,
		funcs: []fixtureFunc{{
			typeIdx: 0,
			body:    []byte{opGetLocal, 0x00, opMemoryGrow, 0x00, opEnd},
			export:  "grow",
		}},
	}
	inst, engine := instantiate(t, fm.build(), nil, 0)

	results, err := engine.Call(inst, 0, []uint64{1})
	require.Nil(t, err)
	require.Equal(t, uint32(1), uint32(results[0]))
	require.Equal(t, uint32(2), inst.Memory.PageCount())

	newPageStart := int(wasm.PageSize)
	for i := newPageStart; i < newPageStart+16; i++ {
		require.Equal(t, byte(0), inst.Memory.Region.Bytes[i])
	}
}

// TestMemoryGrowBeyondMaxFails: growing past the declared max returns
// 0xFFFFFFFF and leaves memory unchanged.
func TestMemoryGrowBeyondMaxFails(t *testing.T) {
	fm := fixtureModule{
		types:     [][2][]wasm.ValueType{i32Type([]wasm.ValueType{wasm.ValueTypeI32}, []wasm.ValueType{wasm.ValueTypeI32})},
		hasMemory: true,
		memMin:    1,
		memMax:    1,
		funcs: []fixtureFunc{{
			typeIdx: 0,
			body:    []byte{opGetLocal, 0x00, opMemoryGrow, 0x00, opEnd},
			export:  "grow",
		}},
	}
	inst, engine := instantiate(t, fm.build(), nil, 0)

	results, err := engine.Call(inst, 0, []uint64{1})
	require.Nil(t, err)
	require.Equal(t, uint32(0xFFFFFFFF), uint32(results[0]))
	require.Equal(t, uint32(1), inst.Memory.PageCount())
}

// TestOutOfBoundsMemoryAccess checks a load one byte past the end of memory
// traps rather than reading unmapped bytes.
func TestOutOfBoundsMemoryAccess(t *testing.T) {
	fm := fixtureModule{
		types:     [][2][]wasm.ValueType{i32Type([]wasm.ValueType{wasm.ValueTypeI32}, []wasm.ValueType{wasm.ValueTypeI32})},
		hasMemory: true,
		memMin:    1,
		funcs: []fixtureFunc{{
			typeIdx: 0,
			// i32.load align=0 offset=0
			body:   []byte{opGetLocal, 0x00, opI32Load, 0x00, 0x00, opEnd},
			export: "load",
		}},
	}
	inst, engine := instantiate(t, fm.build(), nil, 0)

	_, err := engine.Call(inst, 0, []uint64{uint64(wasm.PageSize - 3)})
	require.True(t, err.Is(werr.KindOutOfBoundsMemory))
}

func addFunc(_ *wasm.Instance, args []uint64) ([]uint64, *werr.Error) {
	return []uint64{args[0] + args[1]}, nil
}

type stubResolver struct{}

func (stubResolver) ResolveFunc(module, field string, ft *wasm.FunctionType) (wasm.HostFunc, *werr.Error) {
	if module == "env" && field == "add" {
		return addFunc, nil
	}
	return nil, werr.New(werr.PhaseLoad, werr.KindHostFunctionNotFound)
}

func (stubResolver) ResolveGlobal(module, field string, gt wasm.GlobalType) (*wasm.GlobalInstance, *werr.Error) {
	return nil, werr.New(werr.PhaseLoad, werr.KindHostFunctionNotFound)
}

// TestHostImportCall is scenario (2): a function call through an import
// resolves to the native implementation and its result flows back in.
func TestHostImportCall(t *testing.T) {
	fm := fixtureModule{
		types: [][2][]wasm.ValueType{i32Type([]wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeI32}, []wasm.ValueType{wasm.ValueTypeI32})},
		imports: []fixtureImport{
			{module: "env", field: "add", typeIdx: 0},
		},
		funcs: []fixtureFunc{{
			typeIdx: 0,
			body:    []byte{opGetLocal, 0x00, opGetLocal, 0x01, opCall, 0x00, opEnd},
			export:  "run",
		}},
	}
	inst, engine := instantiate(t, fm.build(), stubResolver{}, 0)

	results, err := engine.Call(inst, 1, []uint64{2, 40})
	require.Nil(t, err)
	require.Equal(t, uint64(42), results[0])
}

// TestCallIndirectTypeMismatch is the indirect-call boundary case: the
// table entry's actual signature must exactly match the call site's
// declared type, by canonical index rather than structural comparison.
func TestCallIndirectTypeMismatch(t *testing.T) {
	fm := fixtureModule{
		types: [][2][]wasm.ValueType{
			i32Type([]wasm.ValueType{wasm.ValueTypeI32}, []wasm.ValueType{wasm.ValueTypeI32}), // type 0: (i32)->i32
			i32Type([]wasm.ValueType{wasm.ValueTypeI64}, []wasm.ValueType{wasm.ValueTypeI64}), // type 1: (i64)->i64
			i32Type([]wasm.ValueType{wasm.ValueTypeI32}, []wasm.ValueType{wasm.ValueTypeI32}), // type 2: call-site expects (i32)->i32
		},
		hasTable:  true,
		tableMin:  1,
		tableInit: []uint32{0},
		funcs: []fixtureFunc{
			{typeIdx: 1, body: []byte{opGetLocal, 0x00, opEnd}, export: "identity64"},
			{
				typeIdx: 0,
				body: []byte{
					opI32Const, 0x00, // argument for the call-site's declared (i32)->i32 type
					opI32Const, 0x00, // table index, popped last per call_indirect's operand order
					opCallIndirect, 0x02, 0x00,
					opEnd,
				},
				export: "run",
			},
		},
	}
	inst, engine := instantiate(t, fm.build(), nil, 0)

	_, err := engine.Call(inst, 1, []uint64{0})
	require.True(t, err.Is(werr.KindIndirectCallTypeMismatch))
}
