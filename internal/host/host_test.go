package host

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dtvmgo/dtvm/internal/wasm"
	"github.com/dtvmgo/dtvm/internal/werr"
)

func addFunc(inst *wasm.Instance, args []uint64) ([]uint64, *werr.Error) {
	return []uint64{args[0] + args[1]}, nil
}

func TestResolveFuncExactMatch(t *testing.T) {
	m := NewModule("env")
	require.NoError(t, m.AddFunction("add", []wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeI32}, []wasm.ValueType{wasm.ValueTypeI32}, addFunc))

	r := NewRegistry()
	require.NoError(t, r.Register(m))

	fn, err := r.ResolveFunc("env", "add", &wasm.FunctionType{Params: []wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeI32}, Results: []wasm.ValueType{wasm.ValueTypeI32}})
	require.Nil(t, err)
	results, rerr := fn(nil, []uint64{2, 3})
	require.Nil(t, rerr)
	require.Equal(t, []uint64{5}, results)
}

func TestResolveFuncSignatureMismatch(t *testing.T) {
	m := NewModule("env")
	require.NoError(t, m.AddFunction("add", []wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeI32}, []wasm.ValueType{wasm.ValueTypeI32}, addFunc))
	r := NewRegistry()
	require.NoError(t, r.Register(m))

	_, err := r.ResolveFunc("env", "add", &wasm.FunctionType{Params: []wasm.ValueType{wasm.ValueTypeI64, wasm.ValueTypeI32}, Results: []wasm.ValueType{wasm.ValueTypeI32}})
	require.True(t, err.Is(werr.KindImportSignatureMismatch))
}

func TestResolveFuncUnknownModuleOrField(t *testing.T) {
	r := NewRegistry()
	_, err := r.ResolveFunc("env", "missing", &wasm.FunctionType{})
	require.True(t, err.Is(werr.KindHostModuleNotFound))

	m := NewModule("env")
	require.NoError(t, r.Register(m))
	_, err = r.ResolveFunc("env", "missing", &wasm.FunctionType{})
	require.True(t, err.Is(werr.KindHostFunctionNotFound))
}

func TestDuplicateFunctionRejected(t *testing.T) {
	m := NewModule("env")
	require.NoError(t, m.AddFunction("add", nil, nil, addFunc))
	require.Error(t, m.AddFunction("add", nil, nil, addFunc))
}

func TestDuplicateModuleRejected(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NewModule("env")))
	require.Error(t, r.Register(NewModule("env")))
}

func TestWhitelistFiltersFunctions(t *testing.T) {
	m := NewModule("env")
	require.NoError(t, m.AddFunction("add", nil, nil, addFunc))
	require.NoError(t, m.AddFunction("sub", nil, nil, addFunc))
	m.Whitelist("add")

	r := NewRegistry()
	require.NoError(t, r.Register(m))
	_, err := r.ResolveFunc("env", "add", &wasm.FunctionType{})
	require.Nil(t, err)
	_, err = r.ResolveFunc("env", "sub", &wasm.FunctionType{})
	require.True(t, err.Is(werr.KindHostFunctionNotFound))
}
