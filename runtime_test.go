package dtvm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dtvmgo/dtvm/api"
	"github.com/dtvmgo/dtvm/internal/wasm"
)

// Raw Wasm 1.0 opcode bytes, used only to hand-assemble fixture modules the
// way the teacher's own suite embeds small compiled binaries (spec.md §6
// "Binary format"). internal/wasm keeps its own opcode table unexported, so
// this package's tests, like internal/interp's, carry their own minimal set.
const (
	opEnd      = 0x0b
	opCall     = 0x10
	opGetLocal = 0x20
	opI32Const = 0x41
	opI32Add   = 0x6a
)

func uleb(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
		} else {
			out = append(out, b)
			return out
		}
	}
}

func section(id byte, body []byte) []byte {
	out := []byte{id}
	out = append(out, uleb(uint32(len(body)))...)
	return append(out, body...)
}

func nameBytes(s string) []byte {
	return append(uleb(uint32(len(s))), []byte(s)...)
}

// addModuleBinary encodes a single-function module: func $add(i32,i32)->i32
// { local.get 0; local.get 1; i32.add }, exported as "add".
func addModuleBinary() []byte {
	typeBody := append([]byte{0x60}, uleb(2)...)
	typeBody = append(typeBody, byte(wasm.ValueTypeI32), byte(wasm.ValueTypeI32))
	typeBody = append(typeBody, uleb(1)...)
	typeBody = append(typeBody, byte(wasm.ValueTypeI32))

	funcBody := uleb(0) // type index 0

	code := append(uleb(0), opGetLocal, 0x00, opGetLocal, 0x01, opI32Add, opEnd)
	codeBody := append(uleb(uint32(len(code))), code...)

	exportBody := append(nameBytes("add"), byte(wasm.ExternKindFunc))
	exportBody = append(exportBody, uleb(0)...)

	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	out = append(out, section(1, append(uleb(1), typeBody...))...)
	out = append(out, section(3, append(uleb(1), funcBody...))...)
	out = append(out, section(7, append(uleb(1), exportBody...))...)
	out = append(out, section(10, append(uleb(1), codeBody...))...)
	return out
}

// hostCallModuleBinary imports env.double(i32)->i32 and exports "run"(i32)
// that calls it, exercising the full Runtime → Isolation → Instance path
// through a host function registered via HostModule.
func hostCallModuleBinary() []byte {
	typeBody := append([]byte{0x60}, uleb(1)...)
	typeBody = append(typeBody, byte(wasm.ValueTypeI32))
	typeBody = append(typeBody, uleb(1)...)
	typeBody = append(typeBody, byte(wasm.ValueTypeI32))

	importBody := append(nameBytes("env"), nameBytes("double")...)
	importBody = append(importBody, byte(wasm.ExternKindFunc))
	importBody = append(importBody, uleb(0)...)

	funcBody := uleb(0)

	code := append(uleb(0), opGetLocal, 0x00, opCall, 0x00, opEnd)
	codeBody := append(uleb(uint32(len(code))), code...)

	exportBody := append(nameBytes("run"), byte(wasm.ExternKindFunc))
	exportBody = append(exportBody, uleb(1)...)

	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	out = append(out, section(1, append(uleb(1), typeBody...))...)
	out = append(out, section(2, append(uleb(1), importBody...))...)
	out = append(out, section(3, append(uleb(1), funcBody...))...)
	out = append(out, section(7, append(uleb(1), exportBody...))...)
	out = append(out, section(10, append(uleb(1), codeBody...))...)
	return out
}

func TestRuntimeLoadInstantiateAndCall(t *testing.T) {
	rt, err := NewRuntime(nil)
	require.NoError(t, err)

	module, werr := rt.LoadModule(addModuleBinary(), "add.wasm")
	require.Nil(t, werr)
	require.Equal(t, "add.wasm", module.Name())

	iso := rt.NewIsolation()
	require.Same(t, rt, iso.Runtime())

	inst, ierr := iso.Instantiate(module, 0)
	require.Nil(t, ierr)

	results, callErr := inst.Call("add", 19, 23)
	require.Nil(t, callErr)
	require.Equal(t, []uint64{42}, results)
}

func TestRuntimeRejectsUnsupportedMode(t *testing.T) {
	_, err := NewRuntime(NewRuntimeConfig().WithMode(ModeSinglepass))
	require.Error(t, err)
}

func TestHostModuleRoundTripsThroughInstance(t *testing.T) {
	rt, err := NewRuntime(NewRuntimeConfig().WithStatistics(true))
	require.NoError(t, err)
	require.NotNil(t, rt.Statistics())

	hm := rt.NewHostModule("env")
	require.NoError(t, hm.AddFunction("double", []api.ValueType{api.ValueTypeI32}, []api.ValueType{api.ValueTypeI32},
		func(ctx api.CallContext, args []uint64) ([]uint64, error) {
			return []uint64{args[0] * 2}, nil
		}))
	require.NoError(t, rt.RegisterHostModule(hm))

	module, werr := rt.LoadModule(hostCallModuleBinary(), "host-call.wasm")
	require.Nil(t, werr)

	inst, ierr := rt.NewIsolation().Instantiate(module, 0)
	require.Nil(t, ierr)

	results, callErr := inst.Call("run", 21)
	require.Nil(t, callErr)
	require.Equal(t, []uint64{42}, results)
}

func TestInstanceCustomDataRoundTrips(t *testing.T) {
	rt, err := NewRuntime(nil)
	require.NoError(t, err)
	module, werr := rt.LoadModule(addModuleBinary(), "add.wasm")
	require.Nil(t, werr)
	inst, ierr := rt.NewIsolation().Instantiate(module, 0)
	require.Nil(t, ierr)

	require.Nil(t, inst.CustomData())
	inst.SetCustomData("tenant-7")
	require.Equal(t, "tenant-7", inst.CustomData())

	_, ok := inst.ExitCode()
	require.False(t, ok)
	inst.Exit(3)
	code, ok := inst.ExitCode()
	require.True(t, ok)
	require.Equal(t, int32(3), code)
}

func TestInstanceUnknownExportFails(t *testing.T) {
	rt, err := NewRuntime(nil)
	require.NoError(t, err)
	module, werr := rt.LoadModule(addModuleBinary(), "add.wasm")
	require.Nil(t, werr)
	inst, ierr := rt.NewIsolation().Instantiate(module, 0)
	require.Nil(t, ierr)

	_, callErr := inst.Call("missing")
	require.Error(t, callErr)
}
