package werr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNilIsDistinguishableFromNoError(t *testing.T) {
	var e *Error
	require.Nil(t, e)
	require.Equal(t, "", e.Error())
	require.False(t, e.Is(KindUnreachable))
}

func TestSameComparesKindOnly(t *testing.T) {
	a := New(PhaseExecution, KindIntegerDivByZero)
	b := New(PhaseExecution, KindIntegerDivByZero).WithExtra("div by #3")
	c := New(PhaseExecution, KindIntegerOverflow)

	require.True(t, a.Same(b))
	require.False(t, a.Same(c))
}

func TestMessageIncludesExtra(t *testing.T) {
	e := New(PhaseLoad, KindImportSignatureMismatch).WithExtra("param index: 2, expected i32, actual i64")
	require.Contains(t, e.Message(), "param index: 2")
	require.Contains(t, e.Error(), "load error:")
}

func TestIsTrapOnlyForExecutionPhase(t *testing.T) {
	require.True(t, New(PhaseExecution, KindCallStackExhausted).IsTrap())
	require.False(t, New(PhaseLoad, KindMagicNotDetected).IsTrap())
}
