package main

import (
	"context"
	"github.com/Avi18971911/spanstream/internal/codec"
	"github.com/Avi18971911/spanstream/internal/codec/pool"
	"github.com/Avi18971911/spanstream/internal/codec/registry"
	"github.com/Avi18971911/spanstream/internal/config"
	"github.com/Avi18971911/spanstream/internal/logging"
	"github.com/Avi18971911/spanstream/internal/metrics"
	traceServer "github.com/Avi18971911/spanstream/internal/otel_server/trace/server"
	"github.com/Avi18971911/spanstream/internal/stream/sender"
	"github.com/Avi18971911/spanstream/internal/transport"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	protoTrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	_ "google.golang.org/grpc/encoding/gzip"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.Must(zap.NewProduction()).Fatal("Failed to load configuration", zap.Error(err))
	}
	logger := logging.NewOrNop(logging.Config{Level: cfg.Logging.Level, Development: cfg.Logging.Development})
	defer logger.Sync()

	agentID := cfg.Agent.AgentID
	if agentID == "" {
		agentID = uuid.NewString()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	promRegistry := prometheus.NewRegistry()
	m := metrics.New(promRegistry)

	codecs := registry.New(cfg.PoolConfig(), logger)
	defer codecs.Close()
	codecs.EachSerializerPool(func(id codec.ID, p *pool.Pool[codec.Serializer]) {
		metrics.ObservePool(m, id, "serializer", p)
	})
	serializers, err := codecs.Serializers(cfg.CodecID())
	if err != nil {
		logger.Fatal("Failed to find serializers", zap.Error(err))
	}

	writer, err := newUnitWriter(cfg, logger)
	if err != nil {
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
		m,
		logger,
	)
	if err != nil {
		logger.Fatal("Failed to create sender", zap.Error(err))
	}

	listener, err := net.Listen("tcp", cfg.Agent.OTLPListenAddr)
	if err != nil {
		logger.Fatal("Failed to listen", zap.Error(err))
	}

	srv := grpc.NewServer()
	traceServiceServer := traceServer.NewTraceServiceServerImpl(
		spanSender,
		traceServer.Config{
			AgentID:         agentID,
			ApplicationName: cfg.Agent.ApplicationName,
			AgentStartTime:  time.Now().UnixMilli(),
		},
		logger,
	)
	protoTrace.RegisterTraceServiceServer(srv, traceServiceServer)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return metrics.Serve(gCtx, cfg.Metrics.Addr, promRegistry, logger)
	})
	g.Go(func() error {
		logger.Info("gRPC service started, listening for OpenTelemetry traces...", zap.String("addr", listener.Addr().String()))
		return srv.Serve(listener)
	})
	g.Go(func() error {
		<-gCtx.Done()
		srv.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("Failed to serve", zap.Error(err))
	}
	logger.Info("Span agent stopped")
}

func newUnitWriter(cfg *config.Config, logger *zap.Logger) (transport.UnitWriter, error) {
	if cfg.Transport.Kind == transport.KindKafka {
		return transport.NewKafkaWriter(cfg.KafkaConfig(), logger), nil
	}
	return transport.NewUDPWriter(cfg.Transport.UDPAddr, logger)
}
