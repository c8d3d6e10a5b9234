package senddata

import (
	"encoding/binary"
	"errors"
	"fmt"
	"github.com/Avi18971911/spanstream/internal/codec"
	"io"
	"net"
)

const (
	Signature          byte = 0xEF
	Version            byte = 0x01
	HeaderSize              = 3
	LengthPrefixSize        = 2
	MaxComponents           = 255
	MaxComponentLength      = 65535
)

// Factory frames components into transmission units. A bounded factory
// enforces a maximum unit size; it never splits, that is the planner's job.
type Factory struct {
	maxUnitSize int
	bounded     bool
}

func NewFactory(maxUnitSize int) (*Factory, error) {
	if maxUnitSize < HeaderSize+LengthPrefixSize+1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMaxUnitSize, maxUnitSize)
	}
	return &Factory{maxUnitSize: maxUnitSize, bounded: true}, nil
}

// NewUnboundedFactory packs any number of bytes into one unit. The component
// count and per-component length limits of the wire format still apply.
func NewUnboundedFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Bounded() bool {
	return f.bounded
}

// MaxUnitSize is 0 for an unbounded factory.
func (f *Factory) MaxUnitSize() int {
	return f.maxUnitSize
}

// UnitSize is the framed size of a unit holding components of the given lengths.
func UnitSize(lengths ...int) int {
	size := HeaderSize
	for _, l := range lengths {
		size += LengthPrefixSize + l
	}
	return size
}

// Fits reports whether a component of componentLength can join a unit whose
// framed size is currentSize.
func (f *Factory) Fits(currentSize, componentLength int) bool {
	if componentLength > MaxComponentLength {
		return false
	}
	return !f.bounded || currentSize+LengthPrefixSize+componentLength <= f.maxUnitSize
}

func (f *Factory) Create(components ...[]byte) (*SendData, error) {
	if len(components) == 0 {
		return nil, ErrNoComponents
	}
	if len(components) > MaxComponents {
		return nil, &SizeViolationError{Index: -1, Size: len(components), Limit: MaxComponents, Err: ErrTooManyComponents}
	}
	size := HeaderSize
	for i, c := range components {
		if len(c) > MaxComponentLength {
			return nil, &SizeViolationError{
				Kind:  kindOf(c),
				Index: i,
				Size:  len(c),
				Limit: MaxComponentLength,
				Err:   ErrComponentTooLarge,
			}
		}
		size += LengthPrefixSize + len(c)
	}
	if f.bounded && size > f.maxUnitSize {
		return nil, &SizeViolationError{Index: -1, Size: size, Limit: f.maxUnitSize, Err: ErrUnitTooLarge}
	}

	prefixes := make([]byte, LengthPrefixSize*len(components))
	buffers := make(net.Buffers, 0, 1+2*len(components))
	buffers = append(buffers, []byte{Signature, Version, byte(len(components))})
	for i, c := range components {
		prefix := prefixes[i*LengthPrefixSize : (i+1)*LengthPrefixSize]
		binary.BigEndian.PutUint16(prefix, uint16(len(c)))
		buffers = append(buffers, prefix, c)
	}
	return &SendData{buffers: buffers, components: components, size: size}, nil
}

// SendData is one framed transmission unit. Its buffers alias the locator
// that produced the components and must not be modified.
type SendData struct {
	buffers    net.Buffers
	components [][]byte
	size       int
}

func (d *SendData) Size() int {
	return d.size
}

func (d *SendData) Components() [][]byte {
	return d.components
}

// Buffers returns a fresh net.Buffers view, safe to consume with WriteTo.
func (d *SendData) Buffers() net.Buffers {
	buffers := make(net.Buffers, len(d.buffers))
	copy(buffers, d.buffers)
	return buffers
}

func (d *SendData) WriteTo(w io.Writer) (int64, error) {
	buffers := d.Buffers()
	return buffers.WriteTo(w)
}

func (d *SendData) Bytes() []byte {
	out := make([]byte, 0, d.size)
	for _, b := range d.buffers {
		out = append(out, b...)
	}
	return out
}

// SizeViolationError reports a unit or an atomic component that cannot be
// framed within the configured limits. Index is -1 for unit-level violations.
type SizeViolationError struct {
	Kind  codec.ComponentKind
	Index int
	Size  int
	Limit int
	Err   error
}

func (e *SizeViolationError) Error() string {
	if e.Kind != 0 {
		return fmt.Sprintf("%v: %s component %d is %d bytes, limit %d", e.Err, e.Kind, e.Index, e.Size, e.Limit)
	}
	return fmt.Sprintf("%v: %d exceeds limit %d", e.Err, e.Size, e.Limit)
}

func (e *SizeViolationError) Unwrap() error {
	return e.Err
}

func kindOf(component []byte) codec.ComponentKind {
	if len(component) == 0 {
		return 0
	}
	return codec.ComponentKind(component[0])
}

var (
	ErrInvalidMaxUnitSize = errors.New("max unit size cannot hold a single component")
	ErrNoComponents       = errors.New("unit needs at least one component")
	ErrTooManyComponents  = errors.New("too many components in unit")
	ErrComponentTooLarge  = errors.New("component too large")
	ErrUnitTooLarge       = errors.New("unit too large")
)
