package sender

import (
	"context"
	"errors"
	"fmt"
	"github.com/Avi18971911/spanstream/internal/codec"
	"github.com/Avi18971911/spanstream/internal/codec/pool"
	"github.com/Avi18971911/spanstream/internal/metrics"
	"github.com/Avi18971911/spanstream/internal/span/model"
	"github.com/Avi18971911/spanstream/internal/stream/locator"
	"github.com/Avi18971911/spanstream/internal/stream/planner"
	"github.com/Avi18971911/spanstream/internal/stream/senddata"
	"github.com/Avi18971911/spanstream/internal/transport"
	"go.uber.org/zap"
)

type Config struct {
	MaxUnitSize   int
	Unbounded     bool
	ChunkIdentity bool
}

// Sender turns finished spans into transmission units and writes them.
type Sender struct {
	serializer *locator.Serializer
	factory    *senddata.Factory
	writer     transport.UnitWriter
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

func New(
	serializers *pool.Pool[codec.Serializer],
	writer transport.UnitWriter,
	config Config,
	metrics *metrics.Metrics,
	logger *zap.Logger,
) (*Sender, error) {
	factory := senddata.NewUnboundedFactory()
	if !config.Unbounded {
		var err error
		if factory, err = senddata.NewFactory(config.MaxUnitSize); err != nil {
			return nil, fmt.Errorf("failed to create send data factory: %w", err)
		}
	}
	logger.Info(
		"Creating new Sender",
		zap.Int("max_unit_size", config.MaxUnitSize),
		zap.Bool("unbounded", config.Unbounded),
		zap.Bool("chunk_identity", config.ChunkIdentity),
	)
	return &Sender{
		serializer: locator.NewSerializer(serializers, locator.WithChunkIdentity(config.ChunkIdentity)),
		factory:    factory,
		writer:     writer,
		metrics:    metrics,
		logger:     logger,
	}, nil
}

// BuildTransmissionUnits encodes the span once and returns a planner bounded by maxUnitSize.
func (s *Sender) BuildTransmissionUnits(ctx context.Context, span *model.Span, maxUnitSize int) (*planner.Planner, error) {
	factory, err := senddata.NewFactory(maxUnitSize)
	if err != nil {
		return nil, err
	}
	return s.build(ctx, span, factory)
}

// BuildUnbounded plans the span without a unit size limit.
func (s *Sender) BuildUnbounded(ctx context.Context, span *model.Span) (*planner.Planner, error) {
	return s.build(ctx, span, senddata.NewUnboundedFactory())
}

func (s *Sender) build(ctx context.Context, span *model.Span, factory *senddata.Factory) (*planner.Planner, error) {
	loc, err := s.serializer.Serialize(ctx, span)
	if err != nil {
		return nil, err
	}
	return planner.New(loc, factory)
}

// Send writes every unit of the span and returns how many were written. A span
// that cannot be planned in full is dropped before anything is written. A
// transport failure part way through is not rolled back.
func (s *Sender) Send(ctx context.Context, span *model.Span) (int, error) {
	p, err := s.build(ctx, span, s.factory)
	if err != nil {
		s.drop(span, dropReason(err), err)
		return 0, err
	}
	units, err := p.Collect()
	if err != nil {
		s.drop(span, dropReason(err), err)
		return 0, err
	}

	// Units written before a failure stay on the wire. The receiver sees fewer
	// events than the span core announced and marks the span incomplete.
	key := span.Key()
	for i, unit := range units {
		if err := s.writer.WriteUnit(ctx, key, unit); err != nil {
			s.drop(span, metrics.ReasonTransport, err)
			return i, fmt.Errorf("failed to write unit %d of %d: %w", i+1, len(units), err)
		}
		s.metrics.UnitsProduced.Inc()
		s.metrics.BytesProduced.Add(float64(unit.Size()))
	}
	s.metrics.SpansSent.Inc()
	s.metrics.UnitsPerSpan.Observe(float64(len(units)))
	return len(units), nil
}

func (s *Sender) drop(span *model.Span, reason string, err error) {
	s.metrics.SpansDropped.WithLabelValues(reason).Inc()

	fields := []zap.Field{zap.String("reason", reason), zap.Error(err)}
	if span != nil {
		fields = append(fields, zap.String("span_key", span.Key()), zap.Int("events", len(span.Events)))
	}
	var sizeErr *senddata.SizeViolationError
	if errors.As(err, &sizeErr) {
		fields = append(fields, zap.Stringer("component", sizeErr.Kind), zap.Int("size", sizeErr.Size), zap.Int("limit", sizeErr.Limit))
	}
	s.logger.Warn("Dropping span", fields...)
}

func dropReason(err error) string {
	var encodeErr *codec.EncodeError
	var sizeErr *senddata.SizeViolationError
	switch {
	case errors.As(err, &encodeErr):
		return metrics.ReasonEncode
	case errors.As(err, &sizeErr):
		return metrics.ReasonSize
	case errors.Is(err, pool.ErrPoolExhausted):
		return metrics.ReasonPoolExhausted
	default:
		return metrics.ReasonOther
	}
}
