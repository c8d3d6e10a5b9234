package decoder

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"github.com/Avi18971911/spanstream/internal/codec"
	"github.com/Avi18971911/spanstream/internal/codec/registry"
	"github.com/Avi18971911/spanstream/internal/stream/senddata"
	"go.uber.org/zap"
)

type DecodedUnit struct {
	Components []codec.Component
	// Skipped counts components of unknown kind or codec.
	Skipped int
}

// Key returns the span key carried by the unit's span core or chunk identity.
func (u *DecodedUnit) Key() (string, bool) {
	for _, c := range u.Components {
		switch {
		case c.Span != nil:
			return c.Span.Key(), true
		case c.Chunk != nil:
			return c.Chunk.Key(), true
		}
	}
	return "", false
}

// DecodeError is scoped to a single unit. Component is -1 for header errors.
type DecodeError struct {
	Component int
	Offset    int
	Err       error
}

func (e *DecodeError) Error() string {
	if e.Component < 0 {
		return fmt.Sprintf("failed to decode unit header: %v", e.Err)
	}
	return fmt.Sprintf("failed to decode component %d at offset %d: %v", e.Component, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

type Decoder struct {
	registry *registry.Registry
	logger   *zap.Logger
}

func New(registry *registry.Registry, logger *zap.Logger) *Decoder {
	logger.Info("Creating new Decoder")
	return &Decoder{registry: registry, logger: logger}
}

// DecodeUnit decodes one transmission unit. A header error returns no unit. A
// component error returns the components decoded before it along with a
// *DecodeError. Pool errors are returned as is.
func (d *Decoder) DecodeUnit(ctx context.Context, data []byte) (*DecodedUnit, error) {
	count, err := parseHeader(data)
	if err != nil {
		return nil, &DecodeError{Component: -1, Err: err}
	}

	unit := &DecodedUnit{Components: make([]codec.Component, 0, count)}
	offset := senddata.HeaderSize
	for i := 0; i < count; i++ {
		if len(data)-offset < senddata.LengthPrefixSize {
			return unit, &DecodeError{Component: i, Offset: offset, Err: ErrTruncatedComponent}
		}
		length := int(binary.BigEndian.Uint16(data[offset:]))
		offset += senddata.LengthPrefixSize
		if len(data)-offset < length {
			return unit, &DecodeError{Component: i, Offset: offset, Err: ErrTruncatedComponent}
		}
		component := data[offset : offset+length]
		offset += length

		kind, id, _, err := codec.ParseTag(component)
		if err != nil {
			return unit, &DecodeError{Component: i, Offset: offset - length, Err: err}
		}
		deserializers, ok := d.registry.Deserializers(id)
		if !kind.Known() || !ok {
			d.logger.Debug(
				"Skipping unsupported component",
				zap.Stringer("kind", kind),
				zap.Stringer("codec", id),
			)
			unit.Skipped++
			continue
		}

		var decoded codec.Component
		err = deserializers.Do(ctx, func(deserializer codec.Deserializer) error {
			var decodeErr error
			decoded, decodeErr = deserializer.Deserialize(component)
			if decodeErr != nil {
				return &DecodeError{Component: i, Offset: offset - length, Err: decodeErr}
			}
			return nil
		})
		if err != nil {
			return unit, err
		}
		unit.Components = append(unit.Components, decoded)
	}
	if offset != len(data) {
		return unit, &DecodeError{Component: count, Offset: offset, Err: ErrTrailingBytes}
	}
	return unit, nil
}

func parseHeader(data []byte) (int, error) {
	if len(data) < senddata.HeaderSize {
		return 0, ErrTruncatedHeader
	}
	if data[0] != senddata.Signature {
		return 0, fmt.Errorf("%w: 0x%02x", ErrBadSignature, data[0])
	}
	if data[1] != senddata.Version {
		return 0, fmt.Errorf("%w: 0x%02x", ErrUnsupportedVersion, data[1])
	}
	if data[2] == 0 {
		return 0, ErrEmptyUnit
	}
	return int(data[2]), nil
}

var (
	ErrTruncatedHeader    = errors.New("unit shorter than its header")
	ErrBadSignature       = errors.New("bad unit signature")
	ErrUnsupportedVersion = errors.New("unsupported unit version")
	ErrEmptyUnit          = errors.New("unit has no components")
	ErrTruncatedComponent = errors.New("component truncated")
	ErrTrailingBytes      = errors.New("trailing bytes after last component")
)
