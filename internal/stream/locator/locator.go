package locator

import (
	"context"
	"github.com/Avi18971911/spanstream/internal/codec"
	"github.com/Avi18971911/spanstream/internal/codec/pool"
	"github.com/Avi18971911/spanstream/internal/span/model"
)

const estimatedEventSize = 64

// Region addresses one encoded component inside a Locator buffer.
type Region struct {
	Kind   codec.ComponentKind
	Offset int
	Length int
}

// Locator holds a span encoded once into a single buffer, with one region for
// the core, an optional chunk identity region and one region per event.
type Locator struct {
	buf    []byte
	codec  codec.ID
	core   Region
	chunk  Region
	events []Region
}

func (l *Locator) Core() []byte {
	return l.slice(l.core)
}

// ChunkIdentity reports false when the span was serialized without one.
func (l *Locator) ChunkIdentity() ([]byte, bool) {
	if l.chunk.Length == 0 {
		return nil, false
	}
	return l.slice(l.chunk), true
}

func (l *Locator) EventCount() int {
	return len(l.events)
}

func (l *Locator) Event(i int) []byte {
	return l.slice(l.events[i])
}

func (l *Locator) Regions() []Region {
	regions := make([]Region, 0, len(l.events)+2)
	regions = append(regions, l.core)
	if l.chunk.Length > 0 {
		regions = append(regions, l.chunk)
	}
	return append(regions, l.events...)
}

func (l *Locator) Size() int {
	return len(l.buf)
}

func (l *Locator) Codec() codec.ID {
	return l.codec
}

func (l *Locator) slice(r Region) []byte {
	end := r.Offset + r.Length
	return l.buf[r.Offset:end:end]
}

type Option func(*Serializer)

// WithChunkIdentity controls whether continuation units can be tied back to
// their span. Enabled by default.
func WithChunkIdentity(enabled bool) Option {
	return func(s *Serializer) {
		s.chunkIdentity = enabled
	}
}

// Serializer builds Locators with codecs leased from a pool.
type Serializer struct {
	serializers   *pool.Pool[codec.Serializer]
	chunkIdentity bool
}

func NewSerializer(serializers *pool.Pool[codec.Serializer], opts ...Option) *Serializer {
	s := &Serializer{serializers: serializers, chunkIdentity: true}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Serialize encodes the span exactly once. Any encode failure aborts the whole span.
func (s *Serializer) Serialize(ctx context.Context, span *model.Span) (*Locator, error) {
	if span == nil {
		return nil, &codec.EncodeError{Kind: codec.KindSpan, Err: codec.ErrNilValue}
	}
	loc := &Locator{events: make([]Region, 0, len(span.Events))}
	err := s.serializers.Do(ctx, func(enc codec.Serializer) error {
		loc.codec = enc.ID()
		buf := make([]byte, 0, estimatedEventSize*(len(span.Events)+2))

		var err error
		start := len(buf)
		if buf, err = enc.AppendSpan(buf, span); err != nil {
			return err
		}
		loc.core = Region{Kind: codec.KindSpan, Offset: start, Length: len(buf) - start}

		if s.chunkIdentity {
			chunk := span.ChunkIdentity()
			start = len(buf)
			if buf, err = enc.AppendChunk(buf, &chunk); err != nil {
				return err
			}
			loc.chunk = Region{Kind: codec.KindSpanChunk, Offset: start, Length: len(buf) - start}
		}

		for i := range span.Events {
			start = len(buf)
			if buf, err = enc.AppendEvent(buf, i, &span.Events[i]); err != nil {
				return err
			}
			loc.events = append(loc.events, Region{Kind: codec.KindSpanEvent, Offset: start, Length: len(buf) - start})
		}
		loc.buf = buf
		return nil
	})
	if err != nil {
		return nil, err
	}
	return loc, nil
}
