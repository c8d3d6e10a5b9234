package collector

import (
	"github.com/Avi18971911/spanstream/internal/codec/codectest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func TestAssemblyCacheImpl_Get(t *testing.T) {
	t.Run("Returns error if key is not found", func(t *testing.T) {
		ac := getNewAssemblyCacheImpl(t)
		_, err := ac.Get("key")
		assert.Equal(t, ErrKeyNotFound, err)
	})

	t.Run("Returns the assembly if key is found", func(t *testing.T) {
		ac := getNewAssemblyCacheImpl(t)
		span := codectest.NewSpan(2)
		units := decodeAll(t, span, 65000, true)
		require.Len(t, units, 1)

		_, err := ac.Merge(span.Key(), units[0])
		require.NoError(t, err)
		snap, err := ac.Get(span.Key())
		require.NoError(t, err)
		assert.Equal(t, 1, snap.Units)
		assert.False(t, snap.Incomplete)
		assert.Len(t, snap.Span.Events, 2)
	})
}

func TestAssemblyCacheImpl_Merge(t *testing.T) {
	t.Run("Accumulates units of the same span", func(t *testing.T) {
		ac := getNewAssemblyCacheImpl(t)
		span := codectest.NewSpan(12)
		units := decodeAll(t, span, 120, true)
		require.Greater(t, len(units), 2)

		var snap Snapshot
		var err error
		for i := len(units) - 1; i >= 0; i-- {
			snap, err = ac.Merge(span.Key(), units[i])
			require.NoError(t, err)
		}
		assert.Equal(t, len(units), snap.Units)
		assert.Equal(t, int64(len(units)), snap.Revision())
		assert.False(t, snap.Incomplete)
		assert.Equal(t, span.Events, snap.Span.Events)
	})

	t.Run("Reports a span as incomplete until its core arrives", func(t *testing.T) {
		ac := getNewAssemblyCacheImpl(t)
		span := codectest.NewSpan(12)
		units := decodeAll(t, span, 120, true)

		snap, err := ac.Merge(span.Key(), units[len(units)-1])
		require.NoError(t, err)
		assert.True(t, snap.Incomplete)
		assert.Equal(t, span.AgentID, snap.Span.AgentID)
	})

	t.Run("Counts failed units against the span", func(t *testing.T) {
		ac := getNewAssemblyCacheImpl(t)
		span := codectest.NewSpan(1)
		units := decodeAll(t, span, 65000, true)

		_, err := ac.Merge(span.Key(), units[0])
		require.NoError(t, err)
		snap, err := ac.MarkFailed(span.Key())
		require.NoError(t, err)
		assert.True(t, snap.Incomplete)
		assert.Equal(t, 1, snap.Failed)
		assert.Equal(t, int64(2), snap.Revision())
	})
}

func getNewAssemblyCacheImpl(t *testing.T) *AssemblyCacheImpl {
	cache, err := NewRistrettoCache(1 << 20)
	require.NoError(t, err)
	t.Cleanup(cache.Close)
	return NewAssemblyCacheImpl(cache)
}

