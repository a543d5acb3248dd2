package api

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValueTypeString(t *testing.T) {
	require.Equal(t, "i32", ValueTypeI32.String())
	require.Equal(t, "i64", ValueTypeI64.String())
	require.Equal(t, "f32", ValueTypeF32.String())
	require.Equal(t, "f64", ValueTypeF64.String())
	require.Contains(t, ValueType(0x00).String(), "unknown")
}
