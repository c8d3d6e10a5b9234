package otlp

import (
	"encoding/binary"
	"fmt"
	"github.com/Avi18971911/spanstream/internal/codec"
	"github.com/Avi18971911/spanstream/internal/span/model"
	commonv1 "go.opentelemetry.io/proto/otlp/common/v1"
	tracev1 "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/protobuf/proto"
)

var marshalOptions = proto.MarshalOptions{Deterministic: true}

// Serializer maps span components onto OTLP trace messages. The span core and
// the chunk identity both travel as a tracev1.Span, events as a tracev1.Span_Event.
type Serializer struct {
	span  tracev1.Span
	event tracev1.Span_Event
	attrs []*commonv1.KeyValue
}

func NewSerializer() *Serializer {
	return &Serializer{}
}

func (s *Serializer) ID() codec.ID {
	return codec.OTLPID
}

func (s *Serializer) AppendSpan(dst []byte, span *model.Span) ([]byte, error) {
	if err := codec.ValidateSpan(span); err != nil {
		return dst, &codec.EncodeError{Kind: codec.KindSpan, Err: err}
	}
	s.span.Reset()
	setIdentity(&s.span, span.TraceID)
	s.span.Name = span.RPC
	s.span.StartTimeUnixNano = uint64(unixNano(span.StartTime))
	s.span.EndTimeUnixNano = uint64(unixNano(span.EndTime))
	s.span.Kind = tracev1.Span_SPAN_KIND_SERVER

	attrs := appendAgentAttributes(s.attrs[:0], span.AgentID, span.ApplicationName, span.AgentStartTime, span.TraceID)
	attrs = appendInt(attrs, attrServiceType, int64(span.ServiceType))
	attrs = appendString(attrs, attrEndPoint, span.EndPoint)
	attrs = appendString(attrs, attrRemoteAddr, span.RemoteAddr)
	attrs = appendInt(attrs, attrAPIID, int64(span.APIID))
	attrs = appendInt(attrs, attrErr, int64(span.Err))
	attrs = appendException(attrs, span.Exception)
	attrs = appendAnnotations(attrs, span.Annotations)
	attrs = appendInt(attrs, attrEventCount, int64(len(span.Events)))
	s.span.Attributes = attrs
	s.attrs = attrs

	if span.Err != 0 {
		s.span.Status = &tracev1.Status{Code: tracev1.Status_STATUS_CODE_ERROR}
		if span.Exception != nil {
			s.span.Status.Message = span.Exception.Message
		}
	}
	return s.appendMarshaled(dst, codec.KindSpan, &s.span)
}

func (s *Serializer) AppendEvent(dst []byte, index int, event *model.SpanEvent) ([]byte, error) {
	if err := codec.ValidateEvent(index, event); err != nil {
		return dst, &codec.EncodeError{Kind: codec.KindSpanEvent, Err: err}
	}
	s.event.Reset()
	// event timestamps are offsets from the span start, not wall clock time
	s.event.TimeUnixNano = uint64(event.StartElapsed)
	s.event.Name = event.APIDescriptor

	attrs := appendInt(s.attrs[:0], attrSequence, int64(event.Sequence))
	attrs = appendInt(attrs, attrDepth, int64(event.Depth))
	attrs = appendInt(attrs, attrElapsed, int64(event.Elapsed))
	attrs = appendInt(attrs, attrServiceType, int64(event.ServiceType))
	attrs = appendInt(attrs, attrAPIID, int64(event.APIID))
	attrs = appendString(attrs, attrEndPoint, event.EndPoint)
	attrs = appendString(attrs, attrDestinationID, event.DestinationID)
	attrs = appendInt(attrs, attrNextSpanID, event.NextSpanID)
	attrs = appendInt(attrs, attrAsyncID, int64(event.AsyncID))
	attrs = appendException(attrs, event.Exception)
	attrs = appendAnnotations(attrs, event.Annotations)
	attrs = appendInt(attrs, attrEventIndex, int64(index))
	s.event.Attributes = attrs
	s.attrs = attrs

	return s.appendMarshaled(dst, codec.KindSpanEvent, &s.event)
}

func (s *Serializer) AppendChunk(dst []byte, chunk *model.ChunkIdentity) ([]byte, error) {
	if err := codec.ValidateChunk(chunk); err != nil {
		return dst, &codec.EncodeError{Kind: codec.KindSpanChunk, Err: err}
	}
	s.span.Reset()
	setIdentity(&s.span, chunk.TraceID)
	attrs := appendAgentAttributes(s.attrs[:0], chunk.AgentID, chunk.ApplicationName, chunk.AgentStartTime, chunk.TraceID)
	s.span.Attributes = attrs
	s.attrs = attrs
	return s.appendMarshaled(dst, codec.KindSpanChunk, &s.span)
}

func (s *Serializer) appendMarshaled(dst []byte, kind codec.ComponentKind, m proto.Message) ([]byte, error) {
	tagged := codec.AppendTag(dst, kind, codec.OTLPID)
	out, err := marshalOptions.MarshalAppend(tagged, m)
	if err != nil {
		return dst, &codec.EncodeError{Kind: kind, Err: err}
	}
	return out, nil
}

type Deserializer struct {
	span  tracev1.Span
	event tracev1.Span_Event
}

func NewDeserializer() *Deserializer {
	return &Deserializer{}
}

func (d *Deserializer) ID() codec.ID {
	return codec.OTLPID
}

func (d *Deserializer) Deserialize(component []byte) (codec.Component, error) {
	kind, id, body, err := codec.ParseTag(component)
	if err != nil {
		return codec.Component{}, err
	}
	if id != codec.OTLPID {
		return codec.Component{}, fmt.Errorf("%w: %s", codec.ErrUnknownCodec, id)
	}

	switch kind {
	case codec.KindSpan:
		if err := proto.Unmarshal(body, &d.span); err != nil {
			return codec.Component{}, fmt.Errorf("failed to decode span component: %w", err)
		}
		span, eventCount, err := toSpan(&d.span)
		if err != nil {
			return codec.Component{}, err
		}
		return codec.Component{Kind: kind, Span: span, EventCount: eventCount}, nil
	case codec.KindSpanEvent:
		if err := proto.Unmarshal(body, &d.event); err != nil {
			return codec.Component{}, fmt.Errorf("failed to decode span event component: %w", err)
		}
		event, index := toEvent(&d.event)
		return codec.Component{Kind: kind, Event: event, Index: index}, nil
	case codec.KindSpanChunk:
		if err := proto.Unmarshal(body, &d.span); err != nil {
			return codec.Component{}, fmt.Errorf("failed to decode span chunk component: %w", err)
		}
		chunk, err := toChunk(&d.span)
		if err != nil {
			return codec.Component{}, err
		}
		return codec.Component{Kind: kind, Chunk: chunk}, nil
	default:
		return codec.Component{Kind: kind}, fmt.Errorf("%w: %s", codec.ErrUnknownKind, kind)
	}
}

func toSpan(m *tracev1.Span) (*model.Span, int, error) {
	traceID, err := traceIDFrom(m)
	if err != nil {
		return nil, 0, err
	}
	span := &model.Span{
		TraceID:   traceID,
		StartTime: fromUnixNano(int64(m.StartTimeUnixNano)),
		EndTime:   fromUnixNano(int64(m.EndTimeUnixNano)),
		RPC:       m.Name,
	}
	var eventCount int
	for _, kv := range m.Attributes {
		switch kv.Key {
		case attrAgentID:
			span.AgentID = kv.Value.GetStringValue()
		case attrApplicationName:
			span.ApplicationName = kv.Value.GetStringValue()
		case attrAgentStartTime:
			span.AgentStartTime = kv.Value.GetIntValue()
		case attrTransactionAgentID:
			span.TraceID.Transaction.AgentID = kv.Value.GetStringValue()
		case attrServiceType:
			span.ServiceType = int16(kv.Value.GetIntValue())
		case attrEndPoint:
			span.EndPoint = kv.Value.GetStringValue()
		case attrRemoteAddr:
			span.RemoteAddr = kv.Value.GetStringValue()
		case attrAPIID:
			span.APIID = int32(kv.Value.GetIntValue())
		case attrErr:
			span.Err = int32(kv.Value.GetIntValue())
		case attrEventCount:
			eventCount = int(kv.Value.GetIntValue())
		default:
			span.Exception = readException(span.Exception, kv)
			span.Annotations = readAnnotation(span.Annotations, kv)
		}
	}
	return span, eventCount, nil
}

func toEvent(m *tracev1.Span_Event) (*model.SpanEvent, int) {
	event := &model.SpanEvent{
		StartElapsed:  durationFrom(m.TimeUnixNano),
		APIDescriptor: m.Name,
	}
	var index int
	for _, kv := range m.Attributes {
		switch kv.Key {
		case attrSequence:
			event.Sequence = int32(kv.Value.GetIntValue())
		case attrDepth:
			event.Depth = int32(kv.Value.GetIntValue())
		case attrElapsed:
			event.Elapsed = durationFrom(uint64(kv.Value.GetIntValue()))
		case attrServiceType:
			event.ServiceType = int16(kv.Value.GetIntValue())
		case attrAPIID:
			event.APIID = int32(kv.Value.GetIntValue())
		case attrEndPoint:
			event.EndPoint = kv.Value.GetStringValue()
		case attrDestinationID:
			event.DestinationID = kv.Value.GetStringValue()
		case attrNextSpanID:
			event.NextSpanID = kv.Value.GetIntValue()
		case attrAsyncID:
			event.AsyncID = int32(kv.Value.GetIntValue())
		case attrEventIndex:
			index = int(kv.Value.GetIntValue())
		default:
			event.Exception = readException(event.Exception, kv)
			event.Annotations = readAnnotation(event.Annotations, kv)
		}
	}
	return event, index
}

func toChunk(m *tracev1.Span) (*model.ChunkIdentity, error) {
	traceID, err := traceIDFrom(m)
	if err != nil {
		return nil, err
	}
	chunk := &model.ChunkIdentity{TraceID: traceID}
	for _, kv := range m.Attributes {
		switch kv.Key {
		case attrAgentID:
			chunk.AgentID = kv.Value.GetStringValue()
		case attrApplicationName:
			chunk.ApplicationName = kv.Value.GetStringValue()
		case attrAgentStartTime:
			chunk.AgentStartTime = kv.Value.GetIntValue()
		case attrTransactionAgentID:
			chunk.TraceID.Transaction.AgentID = kv.Value.GetStringValue()
		}
	}
	return chunk, nil
}

// The OTLP trace id carries the transaction start time and sequence, the span
// and parent ids carry the int64 ids big-endian.
func setIdentity(m *tracev1.Span, id model.TraceID) {
	traceID := make([]byte, traceIDSize)
	binary.BigEndian.PutUint64(traceID[:8], uint64(id.Transaction.AgentStartTime))
	binary.BigEndian.PutUint64(traceID[8:], uint64(id.Transaction.Sequence))
	m.TraceId = traceID
	m.SpanId = binary.BigEndian.AppendUint64(nil, uint64(id.SpanID))
	m.ParentSpanId = binary.BigEndian.AppendUint64(nil, uint64(id.ParentSpanID))
	m.Flags = uint32(uint16(id.Flags))
}

func traceIDFrom(m *tracev1.Span) (model.TraceID, error) {
	if len(m.TraceId) != traceIDSize || len(m.SpanId) != spanIDSize || len(m.ParentSpanId) != spanIDSize {
		return model.TraceID{}, ErrMalformedIdentity
	}
	return model.TraceID{
		Transaction: model.TransactionID{
			AgentStartTime: int64(binary.BigEndian.Uint64(m.TraceId[:8])),
			Sequence:       int64(binary.BigEndian.Uint64(m.TraceId[8:])),
		},
		SpanID:       int64(binary.BigEndian.Uint64(m.SpanId)),
		ParentSpanID: int64(binary.BigEndian.Uint64(m.ParentSpanId)),
		Flags:        int16(uint16(m.Flags)),
	}, nil
}
