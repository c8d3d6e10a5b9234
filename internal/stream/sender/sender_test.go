package sender

import (
	"context"
	"errors"
	"github.com/Avi18971911/spanstream/internal/codec"
	"github.com/Avi18971911/spanstream/internal/codec/codectest"
	"github.com/Avi18971911/spanstream/internal/codec/pool"
	"github.com/Avi18971911/spanstream/internal/codec/registry"
	"github.com/Avi18971911/spanstream/internal/metrics"
	"github.com/Avi18971911/spanstream/internal/stream/decoder"
	"github.com/Avi18971911/spanstream/internal/stream/senddata"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"sync"
	"testing"
	"time"
)

func TestSend(t *testing.T) {
	logger := zap.NewNop()
	ctx := context.Background()

	t.Run("Should write every unit of a span under its key", func(t *testing.T) {
		writer := &recordingWriter{}
		m := metrics.New(prometheus.NewRegistry())
		stub := &codectest.FixedSerializer{CoreSize: 7, EventSize: 20}
		s := createSender(t, stub, writer, Config{MaxUnitSize: 100}, m)
		span := codectest.NewSpan(10)

		n, err := s.Send(ctx, span)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		assert.Len(t, writer.units, 3)
		for _, key := range writer.keys {
			assert.Equal(t, span.Key(), key)
		}
		assert.Equal(t, float64(3), testutil.ToFloat64(m.UnitsProduced))
		assert.Equal(t, float64(1), testutil.ToFloat64(m.SpansSent))
	})

	t.Run("Should send a single unit when unbounded", func(t *testing.T) {
		writer := &recordingWriter{}
		stub := &codectest.FixedSerializer{CoreSize: 7, EventSize: 20}
		s := createSender(t, stub, writer, Config{Unbounded: true}, metrics.New(prometheus.NewRegistry()))

		n, err := s.Send(ctx, codectest.NewSpan(10))
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("Should drop an oversize span without writing anything", func(t *testing.T) {
		writer := &recordingWriter{}
		m := metrics.New(prometheus.NewRegistry())
		stub := &codectest.FixedSerializer{CoreSize: 7, EventSize: 20, EventSizes: map[int32]int{9: 500}}
		s := createSender(t, stub, writer, Config{MaxUnitSize: 100}, m)

		n, err := s.Send(ctx, codectest.NewSpan(10))
		var sizeErr *senddata.SizeViolationError
		assert.True(t, errors.As(err, &sizeErr))
		assert.Equal(t, 0, n)
		assert.Empty(t, writer.units)
		assert.Equal(t, float64(1), testutil.ToFloat64(m.SpansDropped.WithLabelValues(metrics.ReasonSize)))
	})

	t.Run("Should drop a span that cannot be encoded", func(t *testing.T) {
		writer := &recordingWriter{}
		m := metrics.New(prometheus.NewRegistry())
		s := createSender(t, &codectest.FixedSerializer{CoreSize: 7}, writer, Config{MaxUnitSize: 100}, m)
		span := codectest.NewSpan(1)
		span.AgentID = ""

		_, err := s.Send(ctx, span)
		var encodeErr *codec.EncodeError
		assert.True(t, errors.As(err, &encodeErr))
		assert.Empty(t, writer.units)
		assert.Equal(t, float64(1), testutil.ToFloat64(m.SpansDropped.WithLabelValues(metrics.ReasonEncode)))
	})

	t.Run("Should surface pool exhaustion as back-pressure", func(t *testing.T) {
		writer := &recordingWriter{}
		m := metrics.New(prometheus.NewRegistry())
		serializers := pool.New(
			func() (codec.Serializer, error) { return &codectest.FixedSerializer{CoreSize: 7}, nil },
			pool.Config{Capacity: 1, AcquireTimeout: time.Millisecond},
			logger,
		)
		held, err := serializers.Acquire(ctx)
		require.NoError(t, err)
		defer held.Release()
		s, err := New(serializers, writer, Config{MaxUnitSize: 100}, m, logger)
		require.NoError(t, err)

		_, err = s.Send(ctx, codectest.NewSpan(1))
		assert.ErrorIs(t, err, pool.ErrPoolExhausted)
		assert.Equal(t, float64(1), testutil.ToFloat64(m.SpansDropped.WithLabelValues(metrics.ReasonPoolExhausted)))
	})

	t.Run("Should report how many units were written before a transport failure", func(t *testing.T) {
		writer := &recordingWriter{failAfter: 1}
		m := metrics.New(prometheus.NewRegistry())
		stub := &codectest.FixedSerializer{CoreSize: 7, EventSize: 20}
		s := createSender(t, stub, writer, Config{MaxUnitSize: 100}, m)

		n, err := s.Send(ctx, codectest.NewSpan(10))
		assert.ErrorIs(t, err, errWrite)
		assert.Equal(t, 1, n)
		assert.Equal(t, float64(1), testutil.ToFloat64(m.SpansDropped.WithLabelValues(metrics.ReasonTransport)))
	})

	t.Run("Should leave units written before a transport failure decodable as an incomplete span", func(t *testing.T) {
		reg := registry.New(pool.Config{Capacity: 1}, logger)
		defer reg.Close()
		serializers, err := reg.Serializers(codec.MsgpackID)
		require.NoError(t, err)
		writer := &recordingWriter{failAfter: 1}
		s, err := New(serializers, writer, Config{MaxUnitSize: 300}, metrics.New(prometheus.NewRegistry()), logger)
		require.NoError(t, err)
		span := codectest.NewSpan(40)

		n, err := s.Send(ctx, span)
		assert.ErrorIs(t, err, errWrite)
		require.Equal(t, 1, n)

		unit, err := decoder.New(reg, logger).DecodeUnit(ctx, writer.units[0].Bytes())
		require.NoError(t, err)
		rebuilt, incomplete, err := decoder.Reassemble([]*decoder.DecodedUnit{unit}, 0)
		require.NoError(t, err)
		assert.True(t, incomplete)
		assert.Less(t, len(rebuilt.Events), len(span.Events))
	})

	t.Run("Should reject an impossible maximum unit size", func(t *testing.T) {
		_, err := New(codectest.NewPool(&codectest.FixedSerializer{}), &recordingWriter{}, Config{MaxUnitSize: 2}, metrics.New(prometheus.NewRegistry()), logger)
		assert.ErrorIs(t, err, senddata.ErrInvalidMaxUnitSize)
	})
}

func TestBuild(t *testing.T) {
	ctx := context.Background()
	stub := &codectest.FixedSerializer{CoreSize: 7, EventSize: 20}
	s := createSender(t, stub, &recordingWriter{}, Config{MaxUnitSize: 65000}, metrics.New(prometheus.NewRegistry()))

	t.Run("Should honor the maximum unit size given per call", func(t *testing.T) {
		p, err := s.BuildTransmissionUnits(ctx, codectest.NewSpan(10), 100)
		require.NoError(t, err)
		units, err := p.Collect()
		require.NoError(t, err)
		assert.Len(t, units, 3)
	})

	t.Run("Should pack everything into one unit when unbounded", func(t *testing.T) {
		p, err := s.BuildUnbounded(ctx, codectest.NewSpan(10))
		require.NoError(t, err)
		units, err := p.Collect()
		require.NoError(t, err)
		require.Len(t, units, 1)
		assert.Len(t, units[0].Components(), 11)
	})
}

func createSender(
	t *testing.T,
	stub *codectest.FixedSerializer,
	writer *recordingWriter,
	config Config,
	m *metrics.Metrics,
) *Sender {
	s, err := New(codectest.NewPool(stub), writer, config, m, zap.NewNop())
	require.NoError(t, err)
	return s
}

type recordingWriter struct {
	mu        sync.Mutex
	keys      []string
	units     []*senddata.SendData
	failAfter int
}

func (w *recordingWriter) WriteUnit(_ context.Context, key string, unit *senddata.SendData) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failAfter > 0 && len(w.units) == w.failAfter {
		return errWrite
	}
	w.keys = append(w.keys, key)
	w.units = append(w.units, unit)
	return nil
}

func (w *recordingWriter) Close() error {
	return nil
}

var errWrite = errors.New("write failed")
