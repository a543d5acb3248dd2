package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseArgs(t *testing.T) {
	args, err := parseArgs([]string{"1", "-2", " 3 "})
	require.NoError(t, err)
	require.Equal(t, []uint64{1, uint64(int64(-2)), 3}, args)
}

func TestParseArgsRejectsNonInteger(t *testing.T) {
	_, err := parseArgs([]string{"nope"})
	require.Error(t, err)
}

func TestExitCodeForExitError(t *testing.T) {
	require.Equal(t, 7, exitCodeFor(&exitError{code: 7}))
}

func TestExitCodeForOtherErrorIsOne(t *testing.T) {
	require.Equal(t, 1, exitCodeFor(assertError("boom")))
}

type assertError string

func (e assertError) Error() string { return string(e) }
