package main

import (
	"context"
	"github.com/Avi18971911/spanstream/internal/codec"
	"github.com/Avi18971911/spanstream/internal/codec/pool"
	"github.com/Avi18971911/spanstream/internal/codec/registry"
	"github.com/Avi18971911/spanstream/internal/collector"
	"github.com/Avi18971911/spanstream/internal/config"
	"github.com/Avi18971911/spanstream/internal/db/elasticsearch/bootstrapper"
	"github.com/Avi18971911/spanstream/internal/db/elasticsearch/client"
	"github.com/Avi18971911/spanstream/internal/db/write_buffer"
	"github.com/Avi18971911/spanstream/internal/logging"
	"github.com/Avi18971911/spanstream/internal/metrics"
	"github.com/Avi18971911/spanstream/internal/stream/decoder"
	"github.com/Avi18971911/spanstream/internal/transport"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.Must(zap.NewProduction()).Fatal("Failed to load configuration", zap.Error(err))
	}
	logger := logging.NewOrNop(logging.Config{Level: cfg.Logging.Level, Development: cfg.Logging.Development})
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	promRegistry := prometheus.NewRegistry()
	m := metrics.New(promRegistry)

	codecs := registry.New(cfg.PoolConfig(), logger)
	defer codecs.Close()
	codecs.EachDeserializerPool(func(id codec.ID, p *pool.Pool[codec.Deserializer]) {
		metrics.ObservePool(m, id, "deserializer", p)
	})

	source, err := newUnitSource(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create unit source", zap.Error(err))
	}
	defer source.Close()

	cache, err := collector.NewRistrettoCache(cfg.Collector.CacheMaxCost)
	if err != nil {
		logger.Fatal("Failed to create assembly cache", zap.Error(err))
	}
	defer cache.Close()

	g, gCtx := errgroup.WithContext(ctx)

	var writeBuffer write_buffer.DatabaseWriteBuffer[collector.SpanDocument]
	if cfg.Storage.Enabled {
		es, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: cfg.Storage.Addresses})
		if err != nil {
			logger.Fatal("Failed to create elasticsearch client", zap.Error(err))
		}
		bs := bootstrapper.NewBootstrapper(es, logger)
		if err := bs.BootstrapElasticsearch(); err != nil {
			logger.Fatal("Failed to bootstrap elasticsearch", zap.Error(err))
		}
		ac := client.NewSpanstreamClientImpl(es, client.Async, logger)
		esBuffer := write_buffer.NewDatabaseWriteBufferImpl[collector.SpanDocument](
			ac,
			bootstrapper.SpanIndexName,
			logger,
		)
		g.Go(func() error {
			return esBuffer.Run(gCtx)
		})
		writeBuffer = esBuffer
	} else {
		writeBuffer = collector.NewLogSink(logger)
	}

	c := collector.New(
		source,
		decoder.New(codecs, logger),
		collector.NewAssemblyCacheImpl(cache),
		writeBuffer,
		collector.Config{Workers: cfg.Collector.Workers},
		m,
		logger,
	)

	g.Go(func() error {
		return metrics.Serve(gCtx, cfg.Metrics.Addr, promRegistry, logger)
	})
	g.Go(func() error {
		return c.Run(gCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("Collector failed", zap.Error(err))
	}
	logger.Info("Span collector stopped")
}

func newUnitSource(cfg *config.Config, logger *zap.Logger) (transport.UnitSource, error) {
	if cfg.Transport.Kind == transport.KindKafka {
		return transport.NewKafkaSource(cfg.KafkaConfig(), logger), nil
	}
	return transport.NewUDPSource(cfg.Collector.ListenAddr, logger)
}
