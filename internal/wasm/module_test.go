package wasm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dtvmgo/dtvm/internal/werr"
)

// addI32Body is `local.get 0; local.get 1; i32.add; end`.
var addI32Body = []byte{opGetLocal, 0x00, opGetLocal, 0x01, opI32Add, opEnd}

func TestDecodeModuleRejectsBadMagic(t *testing.T) {
	_, err := DecodeModule([]byte{0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00}, "bad")
	require.True(t, err.Is(werr.KindMagicNotDetected))
}

func TestDecodeModuleRejectsBadVersion(t *testing.T) {
	buf := append(append([]byte{}, magic...), 0x02, 0x00, 0x00, 0x00)
	_, err := DecodeModule(buf, "bad-version")
	require.True(t, err.Is(werr.KindVersionMismatch))
}

func TestDecodeModuleTruncatedHeaderFails(t *testing.T) {
	_, err := DecodeModule([]byte{0x00, 0x61, 0x73}, "short")
	require.NotNil(t, err)
}

func TestDecodeModuleTypeSectionDeduplicates(t *testing.T) {
	b := newModuleBuilder()
	t0 := b.addType([]ValueType{ValueTypeI32, ValueTypeI32}, []ValueType{ValueTypeI32})
	t1 := b.addType([]ValueType{ValueTypeI32, ValueTypeI32}, []ValueType{ValueTypeI32})
	require.NotEqual(t, t0, t1)
	b.addFunction(t1, nil, addI32Body)
	b.addExportFunc("add", 0)

	m, err := DecodeModule(b.build(), "dedup")
	require.Nil(t, err)
	require.Equal(t, m.Types[0].canonicalIndex, m.Types[1].canonicalIndex)
}

func TestDecodeModuleDuplicateExportNameRejected(t *testing.T) {
	b := newModuleBuilder()
	ty := b.addType(nil, nil)
	b.addFunction(ty, nil, []byte{opEnd})
	b.addFunction(ty, nil, []byte{opEnd})
	b.addExportFunc("same", 0)
	b.addExportFunc("same", 1)

	_, err := DecodeModule(b.build(), "dup-export")
	require.True(t, err.Is(werr.KindDuplicateExportName))
}

func TestDecodeModuleUnknownFunctionExportRejected(t *testing.T) {
	b := newModuleBuilder()
	ty := b.addType(nil, nil)
	b.addFunction(ty, nil, []byte{opEnd})
	b.addExportFunc("oops", 5)

	_, err := DecodeModule(b.build(), "unknown-export")
	require.True(t, err.Is(werr.KindUnknownFunction))
}

func TestDecodeModuleSectionOutOfOrderRejected(t *testing.T) {
	buf := append([]byte{}, magic...)
	buf = append(buf, version...)
	// Function section (id 3) before Type section (id 1): out of order.
	buf = append(buf, section(byte(sectionFunction), uleb(0))...)
	buf = append(buf, section(byte(sectionType), uleb(0))...)

	_, err := DecodeModule(buf, "out-of-order")
	require.True(t, err.Is(werr.KindSectionOutOfOrder))
}

func TestDecodeModuleAddFunctionRoundTrips(t *testing.T) {
	b := newModuleBuilder()
	ty := b.addType([]ValueType{ValueTypeI32, ValueTypeI32}, []ValueType{ValueTypeI32})
	b.addFunction(ty, nil, addI32Body)
	b.addExportFunc("add", 0)

	m, err := DecodeModule(b.build(), "add")
	require.Nil(t, err)
	require.Equal(t, 1, len(m.Functions))
	exp, ok := m.FindExport("add")
	require.True(t, ok)
	require.Equal(t, ExternKindFunc, exp.Kind)
}

func TestDecodeModuleGasFunctionAutoDetected(t *testing.T) {
	b := newModuleBuilder()
	ty := b.addType([]ValueType{ValueTypeI64}, nil)
	b.addFunction(ty, nil, []byte{opEnd})
	b.addExportFunc("func_gas", 0)

	m, err := DecodeModule(b.build(), "gas")
	require.Nil(t, err)
	require.NotNil(t, m.GasFuncIndex)
	require.Equal(t, uint32(0), *m.GasFuncIndex)
}
