package locator

import (
	"context"
	"errors"
	"github.com/Avi18971911/spanstream/internal/codec"
	"github.com/Avi18971911/spanstream/internal/codec/codectest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func TestSerialize(t *testing.T) {
	ctx := context.Background()
	stub := &codectest.FixedSerializer{CoreSize: 7, ChunkSize: 9, EventSize: 20}

	t.Run("Should lay out core, chunk identity and events in one buffer", func(t *testing.T) {
		loc, err := NewSerializer(codectest.NewPool(stub)).Serialize(ctx, codectest.NewSpan(3))
		require.NoError(t, err)

		assert.Equal(t, codectest.StubID, loc.Codec())
		assert.Equal(t, 7+9+3*20, loc.Size())
		assert.Len(t, loc.Core(), 7)
		chunk, ok := loc.ChunkIdentity()
		require.True(t, ok)
		assert.Len(t, chunk, 9)
		require.Equal(t, 3, loc.EventCount())
		for i := 0; i < 3; i++ {
			assert.Equal(t, int32(i), codectest.EventSequence(loc.Event(i)))
		}

		regions := loc.Regions()
		require.Len(t, regions, 5)
		assert.Equal(t, Region{Kind: codec.KindSpan, Offset: 0, Length: 7}, regions[0])
		assert.Equal(t, Region{Kind: codec.KindSpanChunk, Offset: 7, Length: 9}, regions[1])
		assert.Equal(t, Region{Kind: codec.KindSpanEvent, Offset: 16, Length: 20}, regions[2])
	})

	t.Run("Should omit the chunk identity when disabled", func(t *testing.T) {
		loc, err := NewSerializer(codectest.NewPool(stub), WithChunkIdentity(false)).Serialize(ctx, codectest.NewSpan(2))
		require.NoError(t, err)
		_, ok := loc.ChunkIdentity()
		assert.False(t, ok)
		assert.Len(t, loc.Regions(), 3)
	})

	t.Run("Should hand out slices that cannot grow into the next region", func(t *testing.T) {
		loc, err := NewSerializer(codectest.NewPool(stub)).Serialize(ctx, codectest.NewSpan(2))
		require.NoError(t, err)
		core := loc.Core()
		assert.Equal(t, len(core), cap(core))
	})

	t.Run("Should abort the whole span on an encode failure", func(t *testing.T) {
		span := codectest.NewSpan(2)
		span.AgentID = ""
		loc, err := NewSerializer(codectest.NewPool(stub)).Serialize(ctx, span)
		assert.Nil(t, loc)
		var encodeErr *codec.EncodeError
		assert.True(t, errors.As(err, &encodeErr))
	})

	t.Run("Should reject a nil span", func(t *testing.T) {
		_, err := NewSerializer(codectest.NewPool(stub)).Serialize(ctx, nil)
		assert.ErrorIs(t, err, codec.ErrNilValue)
	})
}
