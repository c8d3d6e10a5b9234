package codec

import (
	"errors"
	"fmt"
	"github.com/Avi18971911/spanstream/internal/span/model"
	"math"
	"strings"
	"unicode/utf8"
)

// ComponentKind identifies what a component payload carries.
type ComponentKind byte

const (
	KindSpan      ComponentKind = 0x01
	KindSpanEvent ComponentKind = 0x02
	KindSpanChunk ComponentKind = 0x03
)

func (k ComponentKind) String() string {
	switch k {
	case KindSpan:
		return "span"
	case KindSpanEvent:
		return "span_event"
	case KindSpanChunk:
		return "span_chunk"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(k))
	}
}

func (k ComponentKind) Known() bool {
	return k == KindSpan || k == KindSpanEvent || k == KindSpanChunk
}

// ID identifies the body encoding of a component.
type ID byte

const (
	MsgpackID ID = 0x01
	OTLPID    ID = 0x02
)

func (id ID) String() string {
	switch id {
	case MsgpackID:
		return "msgpack"
	case OTLPID:
		return "otlp"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(id))
	}
}

func ParseID(name string) (ID, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "msgpack", "":
		return MsgpackID, nil
	case "otlp", "protobuf":
		return OTLPID, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}

// TagSize is the number of bytes preceding every component body: kind then codec id.
const TagSize = 2

// Serializer appends header-tagged components to a caller-owned buffer.
// Implementations hold reusable encoder state and are not safe for concurrent use.
// AppendSpan writes the span core and len(span.Events), never the events themselves.
// AppendEvent writes the event with its position in the span.
type Serializer interface {
	ID() ID
	AppendSpan(dst []byte, span *model.Span) ([]byte, error)
	AppendEvent(dst []byte, index int, event *model.SpanEvent) ([]byte, error)
	AppendChunk(dst []byte, chunk *model.ChunkIdentity) ([]byte, error)
}

// Deserializer decodes one header-tagged component.
// Implementations hold reusable decoder state and are not safe for concurrent use.
type Deserializer interface {
	ID() ID
	Deserialize(component []byte) (Component, error)
}

type Component struct {
	Kind  ComponentKind
	Span  *model.Span
	Event *model.SpanEvent
	Chunk *model.ChunkIdentity
	// EventCount is the number of events announced by a span core.
	EventCount int
	// Index is the position of an event within its span.
	Index int
}

func AppendTag(dst []byte, kind ComponentKind, id ID) []byte {
	return append(dst, byte(kind), byte(id))
}

func ParseTag(component []byte) (ComponentKind, ID, []byte, error) {
	if len(component) < TagSize {
		return 0, 0, nil, ErrShortComponent
	}
	return ComponentKind(component[0]), ID(component[1]), component[TagSize:], nil
}

// EncodeError reports span or event fields that cannot be serialized.
type EncodeError struct {
	Kind ComponentKind
	Err  error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("failed to encode %s component: %v", e.Kind, e.Err)
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}

func ValidateSpan(span *model.Span) error {
	if span == nil {
		return ErrNilValue
	}
	if span.AgentID == "" {
		return ErrMissingAgentID
	}
	if err := validateStrings(span.AgentID, span.ApplicationName, span.RPC, span.EndPoint, span.RemoteAddr); err != nil {
		return err
	}
	if err := validateException(span.Exception); err != nil {
		return err
	}
	return validateAnnotations(span.Annotations)
}

func ValidateEvent(index int, event *model.SpanEvent) error {
	if event == nil {
		return ErrNilValue
	}
	if index < 0 || index > math.MaxInt32 {
		return fmt.Errorf("%w: %d", ErrEventIndex, index)
	}
	if err := validateStrings(event.APIDescriptor, event.EndPoint, event.DestinationID); err != nil {
		return err
	}
	if err := validateException(event.Exception); err != nil {
		return err
	}
	return validateAnnotations(event.Annotations)
}

func ValidateChunk(chunk *model.ChunkIdentity) error {
	if chunk == nil {
		return ErrNilValue
	}
	if chunk.AgentID == "" {
		return ErrMissingAgentID
	}
	return validateStrings(chunk.AgentID, chunk.ApplicationName)
}

func validateStrings(values ...string) error {
	for _, v := range values {
		if !utf8.ValidString(v) {
			return fmt.Errorf("%w: %q", ErrInvalidString, v)
		}
	}
	return nil
}

func validateException(info *model.ExceptionInfo) error {
	if info == nil {
		return nil
	}
	return validateStrings(info.Message)
}

func validateAnnotations(annotations []model.Annotation) error {
	for _, a := range annotations {
		if err := validateStrings(a.Value); err != nil {
			return fmt.Errorf("annotation %d: %w", a.Key, err)
		}
	}
	return nil
}

var (
	ErrUnknownKind    = errors.New("unknown component kind")
	ErrUnknownCodec   = errors.New("unknown codec")
	ErrShortComponent = errors.New("component shorter than its tag")
	ErrNilValue       = errors.New("nil value")
	ErrMissingAgentID = errors.New("agent id is required")
	ErrInvalidString  = errors.New("field is not valid utf-8")
	ErrEventIndex     = errors.New("event index out of range")
)
