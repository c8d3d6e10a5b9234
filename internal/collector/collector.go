package collector

import (
	"context"
	"errors"
	"fmt"
	"github.com/Avi18971911/spanstream/internal/db/write_buffer"
	"github.com/Avi18971911/spanstream/internal/metrics"
	"github.com/Avi18971911/spanstream/internal/stream/decoder"
	"github.com/Avi18971911/spanstream/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"strconv"
	"time"
)

type Config struct {
	Workers   int
	QueueSize int
}

// Collector decodes received units, groups them by span key and writes the
// current reconstruction of every touched span to the write buffer.
type Collector struct {
	source      transport.UnitSource
	decoder     *decoder.Decoder
	cache       AssemblyCache
	writeBuffer write_buffer.DatabaseWriteBuffer[SpanDocument]
	config      Config
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

func New(
	source transport.UnitSource,
	decoder *decoder.Decoder,
	cache AssemblyCache,
	writeBuffer write_buffer.DatabaseWriteBuffer[SpanDocument],
	config Config,
	metrics *metrics.Metrics,
	logger *zap.Logger,
) *Collector {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.QueueSize <= 0 {
		config.QueueSize = config.Workers * 64
	}
	logger.Info("Creating new Collector", zap.Int("workers", config.Workers))
	return &Collector{
		source:      source,
		decoder:     decoder,
		cache:       cache,
		writeBuffer: writeBuffer,
		config:      config,
		metrics:     metrics,
		logger:      logger,
	}
}

// Run reads units from the source until ctx is done or the source stops, then
// flushes the write buffer.
func (c *Collector) Run(ctx context.Context) error {
	units := make(chan []byte, c.config.QueueSize)
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(units)
		return c.source.Run(gCtx, units)
	})
	// units already queued are still decoded after ctx is done
	workCtx := context.WithoutCancel(ctx)
	for i := 0; i < c.config.Workers; i++ {
		g.Go(func() error {
			for data := range units {
				c.handle(workCtx, data)
			}
			return nil
		})
	}

	err := g.Wait()
	flushCtx, cancel := context.WithTimeout(context.Background(), flushTimeOut)
	defer cancel()
	if flushErr := c.writeBuffer.Flush(flushCtx); flushErr != nil {
		c.logger.Error("Failed to flush span documents", zap.Error(flushErr))
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *Collector) handle(ctx context.Context, data []byte) {
	c.metrics.UnitsReceived.Inc()
	unit, decodeErr := c.decoder.DecodeUnit(ctx, data)
	if decodeErr != nil {
		c.metrics.DecodeErrors.WithLabelValues(decodeStage(decodeErr)).Inc()
		c.logger.Warn("Failed to decode unit", zap.Int("size", len(data)), zap.Error(decodeErr))
	} else {
		c.metrics.UnitsDecoded.Inc()
	}
	if unit == nil {
		return
	}
	if unit.Skipped > 0 {
		c.metrics.ComponentsSkipped.Add(float64(unit.Skipped))
	}

	key, ok := unit.Key()
	if !ok {
		c.metrics.DecodeErrors.WithLabelValues(metrics.StageOrphan).Inc()
		c.logger.Warn("Dropping unit without span identity", zap.Int("components", len(unit.Components)))
		return
	}

	snap, err := c.merge(key, unit, decodeErr != nil)
	if err != nil {
		c.metrics.DecodeErrors.WithLabelValues(metrics.StageAssembly).Inc()
		c.logger.Error("Failed to assemble span", zap.String("key", key), zap.Error(err))
		return
	}
	if snap.Span == nil {
		return
	}
	c.writeBuffer.WriteToBuffer([]SpanDocument{NewSpanDocument(snap, time.Now().UTC())})
	c.metrics.SpansAssembled.WithLabelValues(strconv.FormatBool(!snap.Incomplete)).Inc()
}

// merge folds the unit into its span. A unit that failed part way still
// contributes what was decoded before the failure.
func (c *Collector) merge(key string, unit *decoder.DecodedUnit, failed bool) (Snapshot, error) {
	snap, err := c.cache.Merge(key, unit)
	if err != nil {
		return Snapshot{}, err
	}
	if failed {
		if snap, err = c.cache.MarkFailed(key); err != nil {
			return Snapshot{}, fmt.Errorf("failed to mark unit as failed: %w", err)
		}
	}
	return snap, nil
}

func decodeStage(err error) string {
	var decodeErr *decoder.DecodeError
	if !errors.As(err, &decodeErr) {
		return metrics.StagePool
	}
	if decodeErr.Component < 0 {
		return metrics.StageHeader
	}
	return metrics.StageComponent
}

const flushTimeOut = 10 * time.Second
