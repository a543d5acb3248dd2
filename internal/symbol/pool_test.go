package symbol

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReservedSymbolsArePinned(t *testing.T) {
	p := NewPool()
	s, ok := p.Lookup(Env)
	require.True(t, ok)
	require.Equal(t, "env", s)

	// Releasing a reserved symbol must never free it.
	p.Release(Env)
	p.Release(Env)
	s, ok = p.Lookup(Env)
	require.True(t, ok)
	require.Equal(t, "env", s)
}

func TestInternDeduplicates(t *testing.T) {
	p := NewPool()
	a, err := p.Intern("hello")
	require.NoError(t, err)
	b, err := p.Intern("hello")
	require.NoError(t, err)
	require.Equal(t, a, b)

	c, err := p.Intern("world")
	require.NoError(t, err)
	require.NotEqual(t, a, c)
}

func TestReleaseFreesNonReservedSymbol(t *testing.T) {
	p := NewPool()
	h, err := p.Intern("scratch")
	require.NoError(t, err)
	p.Release(h)
	_, ok := p.Lookup(h)
	require.False(t, ok)
}

func TestRehashPreservesLookups(t *testing.T) {
	p := NewPool()
	handles := make(map[string]Handle)
	for i := 0; i < 500; i++ {
		name := fmt.Sprintf("sym-%d", i)
		h, err := p.Intern(name)
		require.NoError(t, err)
		handles[name] = h
	}
	for name, h := range handles {
		s, ok := p.Lookup(h)
		require.True(t, ok)
		require.Equal(t, name, s)
	}
}

func TestNullHandleNeverResolves(t *testing.T) {
	p := NewPool()
	_, ok := p.Lookup(handleNull)
	require.False(t, ok)
}
