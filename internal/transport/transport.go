package transport

import (
	"context"
	"errors"
	"github.com/Avi18971911/spanstream/internal/stream/senddata"
)

// UnitWriter delivers framed transmission units. key groups units of one span
// for transports that partition by key.
type UnitWriter interface {
	WriteUnit(ctx context.Context, key string, unit *senddata.SendData) error
	Close() error
}

// UnitSource pushes raw received units to out until ctx is done or Close is called.
type UnitSource interface {
	Run(ctx context.Context, out chan<- []byte) error
	Close() error
}

const (
	KindUDP   = "udp"
	KindKafka = "kafka"
)

var (
	ErrUnknownTransport = errors.New("unknown transport")
	ErrShortWrite       = errors.New("unit was not written in full")
)
