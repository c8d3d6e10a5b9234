package collector

import (
	"context"
	"github.com/Avi18971911/spanstream/internal/codec"
	"github.com/Avi18971911/spanstream/internal/codec/codectest"
	"github.com/Avi18971911/spanstream/internal/codec/pool"
	"github.com/Avi18971911/spanstream/internal/codec/registry"
	"github.com/Avi18971911/spanstream/internal/metrics"
	"github.com/Avi18971911/spanstream/internal/span/model"
	"github.com/Avi18971911/spanstream/internal/stream/decoder"
	"github.com/Avi18971911/spanstream/internal/stream/locator"
	"github.com/Avi18971911/spanstream/internal/stream/planner"
	"github.com/Avi18971911/spanstream/internal/stream/senddata"
	"github.com/Avi18971911/spanstream/internal/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"sync"
	"testing"
)

func TestCollector_Run(t *testing.T) {
	t.Run("Should group the units of each span by key", func(t *testing.T) {
		first := codectest.NewSpan(15)
		second := codectest.NewSpan(9)
		second.TraceID.SpanID = 2
		firstUnits := encodeAll(t, first, 120, true)
		secondUnits := encodeAll(t, second, 120, true)
		require.Greater(t, len(firstUnits), 1)

		sink := &recordingBuffer{}
		m := metrics.New(prometheus.NewRegistry())
		c := createCollector(t, &sliceSource{units: interleave(firstUnits, secondUnits)}, sink, m)

		require.NoError(t, c.Run(context.Background()))

		latest := sink.latest()
		require.Len(t, latest, 2)
		for _, span := range []*model.Span{first, second} {
			doc := latest[span.Key()]
			assert.True(t, doc.Complete)
			assert.Equal(t, span.Events, doc.Span.Events)
			assert.Equal(t, span.Key(), doc.Id)
		}
		assert.Equal(t, int64(len(firstUnits)), latest[first.Key()].Revision)
		assert.Equal(t, float64(len(firstUnits)+len(secondUnits)), testutil.ToFloat64(m.UnitsDecoded))
		assert.Equal(t, 1, sink.flushes)
	})

	t.Run("Should reject a unit with a bad signature without affecting its siblings", func(t *testing.T) {
		span := codectest.NewSpan(15)
		units := encodeAll(t, span, 120, true)
		bad := append([]byte{}, units[1]...)
		bad[0] = 0x00

		sink := &recordingBuffer{}
		m := metrics.New(prometheus.NewRegistry())
		c := createCollector(t, &sliceSource{units: append(units, bad)}, sink, m)

		require.NoError(t, c.Run(context.Background()))

		doc := sink.latest()[span.Key()]
		assert.True(t, doc.Complete)
		assert.Len(t, doc.Span.Events, 15)
		assert.Equal(t, float64(1), testutil.ToFloat64(m.DecodeErrors.WithLabelValues(metrics.StageHeader)))
	})

	t.Run("Should drop continuation units that carry no span identity", func(t *testing.T) {
		span := codectest.NewSpan(15)
		units := encodeAll(t, span, 120, false)
		require.Greater(t, len(units), 1)

		sink := &recordingBuffer{}
		m := metrics.New(prometheus.NewRegistry())
		c := createCollector(t, &sliceSource{units: units}, sink, m)

		require.NoError(t, c.Run(context.Background()))

		doc := sink.latest()[span.Key()]
		assert.False(t, doc.Complete)
		assert.Equal(t, 0, doc.FailedUnits)
		assert.Less(t, doc.EventCount, 15)
		assert.Equal(t, float64(len(units)-1), testutil.ToFloat64(m.DecodeErrors.WithLabelValues(metrics.StageOrphan)))
	})

	t.Run("Should mark a span incomplete when one of its units is lost", func(t *testing.T) {
		span := codectest.NewSpan(15)
		units := encodeAll(t, span, 120, true)
		require.Greater(t, len(units), 2)
		lost := append(append([][]byte{}, units[:1]...), units[2:]...)

		sink := &recordingBuffer{}
		m := metrics.New(prometheus.NewRegistry())
		c := createCollector(t, &sliceSource{units: lost}, sink, m)

		require.NoError(t, c.Run(context.Background()))

		doc := sink.latest()[span.Key()]
		assert.False(t, doc.Complete)
		assert.Equal(t, 0, doc.FailedUnits)
		assert.Less(t, doc.EventCount, 15)
		assert.Zero(t, testutil.ToFloat64(m.SpansAssembled.WithLabelValues("true")))
	})

	t.Run("Should keep every event when sequences repeat or descend", func(t *testing.T) {
		span := codectest.NewSpan(15)
		for i := range span.Events {
			span.Events[i].Sequence = 3
		}
		span.Events[14].Sequence = -2
		units := encodeAll(t, span, 120, true)

		sink := &recordingBuffer{}
		m := metrics.New(prometheus.NewRegistry())
		c := createCollector(t, &sliceSource{units: units}, sink, m)

		require.NoError(t, c.Run(context.Background()))

		doc := sink.latest()[span.Key()]
		assert.True(t, doc.Complete)
		assert.Equal(t, 15, doc.EventCount)
		assert.Equal(t, span.Events, doc.Span.Events)
	})

	t.Run("Should mark a span incomplete when one of its units is truncated", func(t *testing.T) {
		span := codectest.NewSpan(15)
		units := encodeAll(t, span, 120, true)
		last := units[len(units)-1]
		units[len(units)-1] = last[:len(last)-3]

		sink := &recordingBuffer{}
		m := metrics.New(prometheus.NewRegistry())
		c := createCollector(t, &sliceSource{units: units}, sink, m)

		require.NoError(t, c.Run(context.Background()))

		doc := sink.latest()[span.Key()]
		assert.False(t, doc.Complete)
		assert.Equal(t, 1, doc.FailedUnits)
		assert.Equal(t, float64(1), testutil.ToFloat64(m.DecodeErrors.WithLabelValues(metrics.StageComponent)))
	})

	t.Run("Should stop cleanly when the context is cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		sink := &recordingBuffer{}
		c := createCollector(t, &blockingSource{}, sink, metrics.New(prometheus.NewRegistry()))

		done := make(chan error, 1)
		go func() { done <- c.Run(ctx) }()
		cancel()
		assert.NoError(t, <-done)
		assert.Equal(t, 1, sink.flushes)
	})
}

func createCollector(t *testing.T, source transport.UnitSource, sink *recordingBuffer, m *metrics.Metrics) *Collector {
	reg := registry.New(pool.Config{Capacity: 4}, zap.NewNop())
	t.Cleanup(reg.Close)
	cache, err := NewRistrettoCache(1 << 20)
	require.NoError(t, err)
	t.Cleanup(cache.Close)
	return New(
		source,
		decoder.New(reg, zap.NewNop()),
		NewAssemblyCacheImpl(cache),
		sink,
		Config{Workers: 3},
		m,
		zap.NewNop(),
	)
}

// encodeAll plans a span with the msgpack codec and returns the raw units.
func encodeAll(t *testing.T, span *model.Span, max int, chunkIdentity bool) [][]byte {
	reg := registry.New(pool.Config{Capacity: 1}, zap.NewNop())
	defer reg.Close()
	serializers, err := reg.Serializers(codec.MsgpackID)
	require.NoError(t, err)
	loc, err := locator.NewSerializer(serializers, locator.WithChunkIdentity(chunkIdentity)).Serialize(context.Background(), span)
	require.NoError(t, err)
	factory, err := senddata.NewFactory(max)
	require.NoError(t, err)
	p, err := planner.New(loc, factory)
	require.NoError(t, err)
	planned, err := p.Collect()
	require.NoError(t, err)
	units := make([][]byte, len(planned))
	for i, unit := range planned {
		units[i] = unit.Bytes()
	}
	return units
}

func decodeAll(t *testing.T, span *model.Span, max int, chunkIdentity bool) []*decoder.DecodedUnit {
	reg := registry.New(pool.Config{Capacity: 1}, zap.NewNop())
	defer reg.Close()
	dec := decoder.New(reg, zap.NewNop())
	var units []*decoder.DecodedUnit
	for _, data := range encodeAll(t, span, max, chunkIdentity) {
		unit, err := dec.DecodeUnit(context.Background(), data)
		require.NoError(t, err)
		units = append(units, unit)
	}
	return units
}

func interleave(a, b [][]byte) [][]byte {
	var out [][]byte
	for i := 0; i < len(a) || i < len(b); i++ {
		if i < len(a) {
			out = append(out, a[i])
		}
		if i < len(b) {
			out = append(out, b[i])
		}
	}
	return out
}

type sliceSource struct {
	units [][]byte
}

func (s *sliceSource) Run(ctx context.Context, out chan<- []byte) error {
	for _, unit := range s.units {
		select {
		case out <- unit:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *sliceSource) Close() error {
	return nil
}

type blockingSource struct{}

func (s *blockingSource) Run(ctx context.Context, _ chan<- []byte) error {
	<-ctx.Done()
	return ctx.Err()
}

func (s *blockingSource) Close() error {
	return nil
}

type recordingBuffer struct {
	mu      sync.Mutex
	docs    []SpanDocument
	flushes int
}

func (b *recordingBuffer) WriteToBuffer(docs []SpanDocument) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.docs = append(b.docs, docs...)
}

func (b *recordingBuffer) Flush(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushes++
	return nil
}

// latest keeps the highest revision written for each span, as versioned indexing would.
func (b *recordingBuffer) latest() map[string]SpanDocument {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]SpanDocument)
	for _, doc := range b.docs {
		if prev, ok := out[doc.Id]; !ok || doc.Revision > prev.Revision {
			out[doc.Id] = doc
		}
	}
	return out
}
