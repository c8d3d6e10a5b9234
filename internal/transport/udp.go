package transport

import (
	"context"
	"errors"
	"fmt"
	"github.com/Avi18971911/spanstream/internal/stream/senddata"
	"go.uber.org/zap"
	"net"
	"sync"
)

// MaxUDPPayload is the largest unit that fits one IPv4 UDP datagram.
const MaxUDPPayload = 65507

// the source accepts anything the socket can deliver
const readBufferSize = 65535

// UDPWriter sends each unit as one datagram using a vectored write.
type UDPWriter struct {
	conn   *net.UDPConn
	mu     sync.Mutex
	logger *zap.Logger
}

func NewUDPWriter(addr string, logger *zap.Logger) (*UDPWriter, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve udp address %s: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial udp address %s: %w", addr, err)
	}
	logger.Info("Creating new UDPWriter", zap.String("addr", raddr.String()))
	return &UDPWriter{conn: conn, logger: logger}, nil
}

func (w *UDPWriter) WriteUnit(ctx context.Context, _ string, unit *senddata.SendData) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if unit.Size() > MaxUDPPayload {
		return fmt.Errorf("%w: %d bytes exceeds a datagram", ErrShortWrite, unit.Size())
	}
	// writes from concurrent senders must not interleave within one datagram
	w.mu.Lock()
	defer w.mu.Unlock()
	n, err := unit.WriteTo(w.conn)
	if err != nil {
		return fmt.Errorf("failed to write unit: %w", err)
	}
	if int(n) != unit.Size() {
		return fmt.Errorf("%w: wrote %d of %d bytes", ErrShortWrite, n, unit.Size())
	}
	return nil
}

func (w *UDPWriter) Close() error {
	return w.conn.Close()
}

type UDPSource struct {
	conn   *net.UDPConn
	logger *zap.Logger
}

func NewUDPSource(addr string, logger *zap.Logger) (*UDPSource, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve udp address %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on udp address %s: %w", addr, err)
	}
	logger.Info("Creating new UDPSource", zap.String("addr", conn.LocalAddr().String()))
	return &UDPSource{conn: conn, logger: logger}, nil
}

func (s *UDPSource) Addr() net.Addr {
	return s.conn.LocalAddr()
}

func (s *UDPSource) Run(ctx context.Context, out chan<- []byte) error {
	stop := context.AfterFunc(ctx, func() {
		s.conn.Close()
	})
	defer stop()

	buf := make([]byte, readBufferSize)
	for {
		n, _, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Error("Failed to read datagram", zap.Error(err))
			continue
		}
		datagram := make([]byte, n)
		copy(datagram, buf[:n])
		select {
		case out <- datagram:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *UDPSource) Close() error {
	err := s.conn.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
