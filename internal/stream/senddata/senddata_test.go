package senddata

import (
	"bytes"
	"errors"
	"github.com/Avi18971911/spanstream/internal/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func TestFactory(t *testing.T) {
	t.Run("Should frame components with the header and length prefixes", func(t *testing.T) {
		f, err := NewFactory(100)
		require.NoError(t, err)

		data, err := f.Create([]byte{0x01, 0x01, 0xAA}, []byte{0x02, 0x01})
		require.NoError(t, err)

		expected := []byte{
			Signature, Version, 0x02,
			0x00, 0x03, 0x01, 0x01, 0xAA,
			0x00, 0x02, 0x02, 0x01,
		}
		assert.Equal(t, expected, data.Bytes())
		assert.Equal(t, len(expected), data.Size())
		assert.Len(t, data.Components(), 2)
	})

	t.Run("Should write the same bytes through vectored writes more than once", func(t *testing.T) {
		f := NewUnboundedFactory()
		data, err := f.Create([]byte{0x01, 0x01, 0xAA})
		require.NoError(t, err)

		var first, second bytes.Buffer
		n, err := data.WriteTo(&first)
		require.NoError(t, err)
		assert.Equal(t, int64(data.Size()), n)
		_, err = data.WriteTo(&second)
		require.NoError(t, err)
		assert.Equal(t, data.Bytes(), first.Bytes())
		assert.Equal(t, first.Bytes(), second.Bytes())
	})

	t.Run("Should reject a unit over the maximum size without splitting", func(t *testing.T) {
		f, err := NewFactory(10)
		require.NoError(t, err)

		_, err = f.Create(make([]byte, 4), make([]byte, 2))
		var sizeErr *SizeViolationError
		require.True(t, errors.As(err, &sizeErr))
		assert.ErrorIs(t, err, ErrUnitTooLarge)
		assert.Equal(t, 13, sizeErr.Size)
		assert.Equal(t, 10, sizeErr.Limit)
	})

	t.Run("Should accept a unit of exactly the maximum size", func(t *testing.T) {
		f, err := NewFactory(10)
		require.NoError(t, err)

		data, err := f.Create(make([]byte, 5))
		require.NoError(t, err)
		assert.Equal(t, 10, data.Size())
	})

	t.Run("Should reject an empty unit", func(t *testing.T) {
		_, err := NewUnboundedFactory().Create()
		assert.ErrorIs(t, err, ErrNoComponents)
	})

	t.Run("Should reject more components than the count byte holds", func(t *testing.T) {
		components := make([][]byte, MaxComponents+1)
		for i := range components {
			components[i] = []byte{byte(codec.KindSpanEvent), 0x01}
		}
		_, err := NewUnboundedFactory().Create(components...)
		assert.ErrorIs(t, err, ErrTooManyComponents)
	})

	t.Run("Should reject a component longer than the length prefix holds even when unbounded", func(t *testing.T) {
		component := make([]byte, MaxComponentLength+1)
		component[0] = byte(codec.KindSpanEvent)

		_, err := NewUnboundedFactory().Create(component)
		var sizeErr *SizeViolationError
		require.True(t, errors.As(err, &sizeErr))
		assert.Equal(t, codec.KindSpanEvent, sizeErr.Kind)
		assert.ErrorIs(t, err, ErrComponentTooLarge)
	})

	t.Run("Should reject a maximum size that cannot hold any component", func(t *testing.T) {
		_, err := NewFactory(HeaderSize + LengthPrefixSize)
		assert.ErrorIs(t, err, ErrInvalidMaxUnitSize)
	})

	t.Run("Should count header and prefix overhead in Fits", func(t *testing.T) {
		f, err := NewFactory(100)
		require.NoError(t, err)

		assert.True(t, f.Fits(UnitSize(20, 20, 20), 20))
		assert.False(t, f.Fits(UnitSize(20, 20, 20, 20), 20))
		assert.True(t, NewUnboundedFactory().Fits(1<<20, 20))
		assert.False(t, NewUnboundedFactory().Fits(HeaderSize, MaxComponentLength+1))
	})
}
