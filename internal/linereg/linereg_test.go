package linereg_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wiedmann/zlogger/internal/linereg"
)

func TestRegistry_SourceThenDest_InstallsMapping(t *testing.T) {
	r := linereg.New()

	assert.False(t, r.AddSource(7, "SLStart"))
	assert.True(t, r.AddDest(42, "SLStart"))

	id, err := r.Resolve(7)
	require.NoError(t, err)
	assert.Equal(t, int32(42), id)
}

func TestRegistry_DestThenSource_InstallsMapping(t *testing.T) {
	r := linereg.New()

	assert.False(t, r.AddDest(42, "Finish"))
	assert.True(t, r.AddSource(3, "Finish"))

	id, err := r.Resolve(3)
	require.NoError(t, err)
	assert.Equal(t, int32(42), id)
}

func TestRegistry_Resolve_UnknownLocalID_ReturnsMissingLine(t *testing.T) {
	r := linereg.New()

	_, err := r.Resolve(99)
	require.Error(t, err)

	var missing *linereg.MissingLineError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, int32(99), missing.LocalID)
}

func TestRegistry_MappingStableAcrossReplay(t *testing.T) {
	// Rebuilding from persisted rows and replaying LINE events must yield
	// the same mapping.
	build := func() *linereg.Registry {
		r := linereg.New()
		r.AddDest(10, "Start A")
		r.AddDest(11, "Finish")
		r.AddSource(1, "Start A")
		r.AddSource(2, "Finish")
		return r
	}

	a, b := build(), build()
	for local := int32(1); local <= 2; local++ {
		idA, errA := a.Resolve(local)
		idB, errB := b.Resolve(local)
		require.NoError(t, errA)
		require.NoError(t, errB)
		assert.Equal(t, idA, idB)
	}
}

func TestRegistry_SameNameRemapped_UsesLatestLocalID(t *testing.T) {
	r := linereg.New()
	r.AddDest(42, "Start A")
	r.AddSource(1, "Start A")
	r.AddSource(5, "Start A")

	id, err := r.Resolve(5)
	require.NoError(t, err)
	assert.Equal(t, int32(42), id)
}
