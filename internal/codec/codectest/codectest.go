// Package codectest provides a serializer with predictable component sizes.
package codectest

import (
	"encoding/binary"
	"github.com/Avi18971911/spanstream/internal/codec"
	"github.com/Avi18971911/spanstream/internal/codec/pool"
	"github.com/Avi18971911/spanstream/internal/span/model"
	"go.uber.org/zap"
)

// StubID is outside the range of registered codecs, so decoders skip it.
const StubID codec.ID = 0x7e

const minEventSize = codec.TagSize + 4

// FixedSerializer emits components of fixed total length (tag included).
// Event bodies start with the big-endian event sequence so tests can check ordering.
type FixedSerializer struct {
	CoreSize   int
	ChunkSize  int
	EventSize  int
	EventSizes map[int32]int
}

func (f *FixedSerializer) ID() codec.ID {
	return StubID
}

func (f *FixedSerializer) AppendSpan(dst []byte, span *model.Span) ([]byte, error) {
	if err := codec.ValidateSpan(span); err != nil {
		return dst, &codec.EncodeError{Kind: codec.KindSpan, Err: err}
	}
	return pad(codec.AppendTag(dst, codec.KindSpan, StubID), f.CoreSize-codec.TagSize), nil
}

func (f *FixedSerializer) AppendChunk(dst []byte, chunk *model.ChunkIdentity) ([]byte, error) {
	if err := codec.ValidateChunk(chunk); err != nil {
		return dst, &codec.EncodeError{Kind: codec.KindSpanChunk, Err: err}
	}
	return pad(codec.AppendTag(dst, codec.KindSpanChunk, StubID), f.ChunkSize-codec.TagSize), nil
}

func (f *FixedSerializer) AppendEvent(dst []byte, index int, event *model.SpanEvent) ([]byte, error) {
	if err := codec.ValidateEvent(index, event); err != nil {
		return dst, &codec.EncodeError{Kind: codec.KindSpanEvent, Err: err}
	}
	size := f.EventSize
	if override, ok := f.EventSizes[event.Sequence]; ok {
		size = override
	}
	if size < minEventSize {
		size = minEventSize
	}
	dst = codec.AppendTag(dst, codec.KindSpanEvent, StubID)
	dst = binary.BigEndian.AppendUint32(dst, uint32(event.Sequence))
	return pad(dst, size-minEventSize), nil
}

// EventSequence reads back the sequence written by AppendEvent.
func EventSequence(component []byte) int32 {
	return int32(binary.BigEndian.Uint32(component[codec.TagSize:minEventSize]))
}

// NewPool wraps a FixedSerializer in a single-instance pool.
func NewPool(f *FixedSerializer) *pool.Pool[codec.Serializer] {
	return pool.New(
		func() (codec.Serializer, error) { return f, nil },
		pool.Config{Capacity: 1},
		zap.NewNop(),
	)
}

// NewSpan builds a valid span with n events numbered from 0.
func NewSpan(n int) *model.Span {
	span := &model.Span{
		AgentID:         "agent",
		ApplicationName: "app",
		TraceID: model.TraceID{
			Transaction:  model.TransactionID{AgentID: "agent", AgentStartTime: 1, Sequence: 1},
			SpanID:       1,
			ParentSpanID: model.RootParentSpanID,
		},
	}
	for i := 0; i < n; i++ {
		span.Events = append(span.Events, model.SpanEvent{Sequence: int32(i), APIDescriptor: "call"})
	}
	return span
}

func pad(dst []byte, n int) []byte {
	for i := 0; i < n; i++ {
		dst = append(dst, 0)
	}
	return dst
}
