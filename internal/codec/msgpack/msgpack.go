package msgpack

import (
	"bytes"
	"fmt"
	"github.com/Avi18971911/spanstream/internal/codec"
	"github.com/Avi18971911/spanstream/internal/span/model"
	"github.com/vmihailenco/msgpack/v5"
)

// Serializer reuses one encoder and scratch buffer across components.
type Serializer struct {
	buf   bytes.Buffer
	enc   *msgpack.Encoder
	span  spanWire
	event eventWire
	chunk chunkWire
}

func NewSerializer() *Serializer {
	s := &Serializer{}
	s.enc = msgpack.NewEncoder(&s.buf)
	s.enc.UseCompactInts(true)
	return s
}

func (s *Serializer) ID() codec.ID {
	return codec.MsgpackID
}

func (s *Serializer) AppendSpan(dst []byte, span *model.Span) ([]byte, error) {
	if err := codec.ValidateSpan(span); err != nil {
		return dst, &codec.EncodeError{Kind: codec.KindSpan, Err: err}
	}
	toSpanWire(span, &s.span)
	return s.appendEncoded(dst, codec.KindSpan, &s.span)
}

func (s *Serializer) AppendEvent(dst []byte, index int, event *model.SpanEvent) ([]byte, error) {
	if err := codec.ValidateEvent(index, event); err != nil {
		return dst, &codec.EncodeError{Kind: codec.KindSpanEvent, Err: err}
	}
	toEventWire(index, event, &s.event)
	return s.appendEncoded(dst, codec.KindSpanEvent, &s.event)
}

func (s *Serializer) AppendChunk(dst []byte, chunk *model.ChunkIdentity) ([]byte, error) {
	if err := codec.ValidateChunk(chunk); err != nil {
		return dst, &codec.EncodeError{Kind: codec.KindSpanChunk, Err: err}
	}
	toChunkWire(chunk, &s.chunk)
	return s.appendEncoded(dst, codec.KindSpanChunk, &s.chunk)
}

func (s *Serializer) appendEncoded(dst []byte, kind codec.ComponentKind, v interface{}) ([]byte, error) {
	s.buf.Reset()
	if err := s.enc.Encode(v); err != nil {
		return dst, &codec.EncodeError{Kind: kind, Err: err}
	}
	dst = codec.AppendTag(dst, kind, codec.MsgpackID)
	return append(dst, s.buf.Bytes()...), nil
}

// Deserializer reuses one decoder bound to a resettable reader.
type Deserializer struct {
	reader bytes.Reader
	dec    *msgpack.Decoder
}

func NewDeserializer() *Deserializer {
	d := &Deserializer{}
	d.dec = msgpack.NewDecoder(&d.reader)
	return d
}

func (d *Deserializer) ID() codec.ID {
	return codec.MsgpackID
}

func (d *Deserializer) Deserialize(component []byte) (codec.Component, error) {
	kind, id, body, err := codec.ParseTag(component)
	if err != nil {
		return codec.Component{}, err
	}
	if id != codec.MsgpackID {
		return codec.Component{}, fmt.Errorf("%w: %s", codec.ErrUnknownCodec, id)
	}
	d.reader.Reset(body)
	d.dec.ResetReader(&d.reader)

	switch kind {
	case codec.KindSpan:
		var w spanWire
		if err := d.dec.Decode(&w); err != nil {
			return codec.Component{}, fmt.Errorf("failed to decode span component: %w", err)
		}
		return codec.Component{Kind: kind, Span: fromSpanWire(&w), EventCount: int(w.EventCount)}, nil
	case codec.KindSpanEvent:
		var w eventWire
		if err := d.dec.Decode(&w); err != nil {
			return codec.Component{}, fmt.Errorf("failed to decode span event component: %w", err)
		}
		return codec.Component{Kind: kind, Event: fromEventWire(&w), Index: int(w.Index)}, nil
	case codec.KindSpanChunk:
		var w chunkWire
		if err := d.dec.Decode(&w); err != nil {
			return codec.Component{}, fmt.Errorf("failed to decode span chunk component: %w", err)
		}
		return codec.Component{Kind: kind, Chunk: fromChunkWire(&w)}, nil
	default:
		return codec.Component{Kind: kind}, fmt.Errorf("%w: %s", codec.ErrUnknownKind, kind)
	}
}
