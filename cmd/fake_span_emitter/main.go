package main

import (
	"context"
	"fmt"
	"github.com/Avi18971911/spanstream/internal/codec/registry"
	"github.com/Avi18971911/spanstream/internal/config"
	"github.com/Avi18971911/spanstream/internal/logging"
	"github.com/Avi18971911/spanstream/internal/metrics"
	"github.com/Avi18971911/spanstream/internal/span/model"
	"github.com/Avi18971911/spanstream/internal/stream/sender"
	"github.com/Avi18971911/spanstream/internal/transport"
	"github.com/google/uuid"
	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

type EmitterConfig struct {
	Workers   int           `envconfig:"EMITTER_WORKERS" default:"5"`   // Number of concurrent fake agents
	Duration  time.Duration `envconfig:"EMITTER_DURATION" default:"1m"` // Test duration
	Interval  time.Duration `envconfig:"EMITTER_INTERVAL" default:"10ms"`
	MaxEvents int           `envconfig:"EMITTER_MAX_EVENTS" default:"300"`
}

type result struct {
	units int
	err   error
}

// worker plays one agent: a fresh agent id and an increasing transaction sequence.
func worker(ctx context.Context, emitterConfig EmitterConfig, spanSender *sender.Sender, results chan<- result) error {
	agentID := uuid.NewString()
	agentStartTime := time.Now().UnixMilli()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	ticker := time.NewTicker(emitterConfig.Interval)
	defer ticker.Stop()

	for sequence := int64(0); ; sequence++ {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			span := newFakeSpan(rng, agentID, agentStartTime, sequence, emitterConfig.MaxEvents)
			units, err := spanSender.Send(ctx, span)
			results <- result{units: units, err: err}
		}
	}
}

func newFakeSpan(rng *rand.Rand, agentID string, agentStartTime int64, sequence int64, maxEvents int) *model.Span {
	start := time.Now().Add(-time.Duration(rng.Intn(500)) * time.Millisecond)
	span := &model.Span{
		AgentID:         agentID,
		ApplicationName: "fake-checkout",
		AgentStartTime:  agentStartTime,
		TraceID: model.TraceID{
			Transaction:  model.TransactionID{AgentID: agentID, AgentStartTime: agentStartTime, Sequence: sequence},
			SpanID:       rng.Int63(),
			ParentSpanID: model.RootParentSpanID,
		},
		StartTime:   start,
		EndTime:     time.Now(),
		ServiceType: 1010,
		RPC:         "/accounts/login",
		EndPoint:    "localhost:8080",
		RemoteAddr:  "127.0.0.1",
		Annotations: []model.Annotation{{Key: 46, Value: "200"}},
	}
	events := rng.Intn(maxEvents + 1)
	span.Events = make([]model.SpanEvent, events)
	for i := range span.Events {
		span.Events[i] = model.SpanEvent{
			Sequence:      int32(i),
			Depth:         int32(i%5 + 1),
			StartElapsed:  time.Duration(i) * time.Millisecond,
			Elapsed:       time.Duration(rng.Intn(20)) * time.Millisecond,
			ServiceType:   5050,
			APIID:         int32(rng.Intn(1000)),
			APIDescriptor: "AccountRepository.findByUsername(" + strings.Repeat("x", rng.Intn(200)) + ")",
			NextSpanID:    -1,
		}
	}
	return span
}

func runLoadTest(emitterConfig EmitterConfig, spanSender *sender.Sender, logger *zap.Logger) {
	results := make(chan result, 1000)

	ctx, cancel := context.WithTimeout(context.Background(), emitterConfig.Duration)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var g errgroup.Group

	logger.Info(
		"Starting load test",
		zap.Int("workers", emitterConfig.Workers),
		zap.Duration("duration", emitterConfig.Duration),
	)

	for i := 0; i < emitterConfig.Workers; i++ {
		g.Go(func() error {
			return worker(ctx, emitterConfig, spanSender, results)
		})
	}

	go func() {
		g.Wait()
		close(results)
	}()

	// Process results
	var sent, dropped, units int
	for r := range results {
		if r.err != nil {
			dropped++
			continue
		}
		sent++
		units += r.units
	}

	avgUnits := 0.0
	if sent > 0 {
		avgUnits = float64(units) / float64(sent)
	}
	logger.Info(
		"Load test completed",
		zap.Int("spans_sent", sent),
		zap.Int("spans_dropped", dropped),
		zap.Int("units", units),
		zap.String("units_per_span", fmt.Sprintf("%.2f", avgUnits)),
	)

	if err := g.Wait(); err != nil {
		logger.Error("Load test encountered errors", zap.Error(err))
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.Must(zap.NewProduction()).Fatal("Failed to load configuration", zap.Error(err))
	}
	var emitterConfig EmitterConfig
	if err := envconfig.Process("", &emitterConfig); err != nil {
		zap.Must(zap.NewProduction()).Fatal("Failed to load emitter configuration", zap.Error(err))
	}
	logger := logging.NewOrNop(logging.Config{Level: cfg.Logging.Level, Development: cfg.Logging.Development})
	defer logger.Sync()

	codecs := registry.New(cfg.PoolConfig(), logger)
	defer codecs.Close()
	serializers, err := codecs.Serializers(cfg.CodecID())
	if err != nil {
		logger.Fatal("Failed to find serializers", zap.Error(err))
	}

	var writer transport.UnitWriter
	if cfg.Transport.Kind == transport.KindKafka {
		writer = transport.NewKafkaWriter(cfg.KafkaConfig(), logger)
	} else if writer, err = transport.NewUDPWriter(cfg.Transport.UDPAddr, logger); err != nil {
		logger.Fatal("Failed to create unit writer", zap.Error(err))
	}
	defer writer.Close()

	spanSender, err := sender.New(
		serializers,
		writer,
		sender.Config{
			MaxUnitSize:   cfg.Span.MaxUnitSize,
			Unbounded:     cfg.Span.Unbounded,
			ChunkIdentity: cfg.Span.ChunkIdentity,
		},
		metrics.New(prometheus.NewRegistry()),
		logger,
	)
	if err != nil {
		logger.Fatal("Failed to create sender", zap.Error(err))
	}

	runLoadTest(emitterConfig, spanSender, logger)
}
