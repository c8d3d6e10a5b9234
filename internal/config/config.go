package config

import (
	"errors"
	"fmt"
	"github.com/Avi18971911/spanstream/internal/codec"
	"github.com/Avi18971911/spanstream/internal/codec/pool"
	"github.com/Avi18971911/spanstream/internal/stream/senddata"
	"github.com/Avi18971911/spanstream/internal/transport"
	"github.com/kelseyhightower/envconfig"
	"time"
)

type Config struct {
	Span      SpanConfig
	Pool      PoolConfig
	Transport TransportConfig
	Agent     AgentConfig
	Collector CollectorConfig
	Storage   StorageConfig
	Metrics   MetricsConfig
	Logging   LogConfig
}

type SpanConfig struct {
	MaxUnitSize   int    `envconfig:"SPAN_MAX_UNIT_SIZE" default:"65000"`
	Unbounded     bool   `envconfig:"SPAN_UNBOUNDED" default:"false"`
	Codec         string `envconfig:"SPAN_CODEC" default:"msgpack"`
	ChunkIdentity bool   `envconfig:"SPAN_CHUNK_IDENTITY" default:"true"`
}

type PoolConfig struct {
	Capacity       int           `envconfig:"POOL_CAPACITY" default:"16"`
	AcquireTimeout time.Duration `envconfig:"POOL_ACQUIRE_TIMEOUT" default:"100ms"`
	Overflow       bool          `envconfig:"POOL_OVERFLOW" default:"false"`
}

type TransportConfig struct {
	Kind         string   `envconfig:"TRANSPORT" default:"udp"`
	UDPAddr      string   `envconfig:"UDP_ADDR" default:"localhost:9996"`
	KafkaBrokers []string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	KafkaTopic   string   `envconfig:"KAFKA_TOPIC" default:"span-units"`
	KafkaGroupID string   `envconfig:"KAFKA_GROUP_ID" default:"span-collector"`
}

type AgentConfig struct {
	OTLPListenAddr  string `envconfig:"OTLP_LISTEN_ADDR" default:":4317"`
	AgentID         string `envconfig:"AGENT_ID"`
	ApplicationName string `envconfig:"APPLICATION_NAME" default:"spanstream"`
}

type CollectorConfig struct {
	ListenAddr   string `envconfig:"COLLECTOR_LISTEN_ADDR" default:":9996"`
	Workers      int    `envconfig:"COLLECTOR_WORKERS" default:"4"`
	CacheMaxCost int64  `envconfig:"CACHE_MAX_COST" default:"100000"`
}

type StorageConfig struct {
	Enabled   bool     `envconfig:"ES_ENABLED" default:"false"`
	Addresses []string `envconfig:"ES_ADDRESSES" default:"http://localhost:9200"`
}

type MetricsConfig struct {
	Addr string `envconfig:"METRICS_ADDR" default:":2112"`
}

type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func Default() *Config {
	return &Config{
		Span: SpanConfig{
			MaxUnitSize:   65000,
			Codec:         "msgpack",
			ChunkIdentity: true,
		},
		Pool: PoolConfig{
			Capacity:       pool.DefaultCapacity,
			AcquireTimeout: pool.DefaultAcquireTimeout,
		},
		Transport: TransportConfig{
			Kind:         transport.KindUDP,
			UDPAddr:      "localhost:9996",
			KafkaBrokers: []string{"localhost:9092"},
			KafkaTopic:   "span-units",
			KafkaGroupID: "span-collector",
		},
		Agent: AgentConfig{
			OTLPListenAddr:  ":4317",
			ApplicationName: "spanstream",
		},
		Collector: CollectorConfig{
			ListenAddr:   ":9996",
			Workers:      4,
			CacheMaxCost: 100000,
		},
		Storage: StorageConfig{
			Addresses: []string{"http://localhost:9200"},
		},
		Metrics: MetricsConfig{Addr: ":2112"},
		Logging: LogConfig{Level: "info"},
	}
}

func (c *Config) Validate() error {
	if _, err := codec.ParseID(c.Span.Codec); err != nil {
		return err
	}
	if !c.Span.Unbounded && c.Span.MaxUnitSize < senddata.HeaderSize+senddata.LengthPrefixSize+1 {
		return fmt.Errorf("%w: SPAN_MAX_UNIT_SIZE=%d", ErrInvalidConfig, c.Span.MaxUnitSize)
	}
	if c.Span.Unbounded && c.Transport.Kind == transport.KindUDP {
		return fmt.Errorf("%w: SPAN_UNBOUNDED cannot be used with the udp transport", ErrInvalidConfig)
	}
	if !c.Span.Unbounded && c.Transport.Kind == transport.KindUDP && c.Span.MaxUnitSize > transport.MaxUDPPayload {
		return fmt.Errorf("%w: SPAN_MAX_UNIT_SIZE=%d exceeds a udp datagram", ErrInvalidConfig, c.Span.MaxUnitSize)
	}
	switch c.Transport.Kind {
	case transport.KindUDP:
	case transport.KindKafka:
		if len(c.Transport.KafkaBrokers) == 0 || c.Transport.KafkaTopic == "" {
			return fmt.Errorf("%w: kafka transport needs KAFKA_BROKERS and KAFKA_TOPIC", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: %q", transport.ErrUnknownTransport, c.Transport.Kind)
	}
	if c.Pool.Capacity <= 0 {
		return fmt.Errorf("%w: POOL_CAPACITY=%d", ErrInvalidConfig, c.Pool.Capacity)
	}
	if c.Collector.Workers <= 0 {
		return fmt.Errorf("%w: COLLECTOR_WORKERS=%d", ErrInvalidConfig, c.Collector.Workers)
	}
	return nil
}

func (c *Config) CodecID() codec.ID {
	id, _ := codec.ParseID(c.Span.Codec)
	return id
}

func (c *Config) PoolConfig() pool.Config {
	policy := pool.PolicyBlock
	if c.Pool.Overflow {
		policy = pool.PolicyOverflow
	}
	return pool.Config{
		Capacity:       c.Pool.Capacity,
		AcquireTimeout: c.Pool.AcquireTimeout,
		Policy:         policy,
	}
}

func (c *Config) KafkaConfig() transport.KafkaConfig {
	return transport.KafkaConfig{
		Brokers: c.Transport.KafkaBrokers,
		Topic:   c.Transport.KafkaTopic,
		GroupID: c.Transport.KafkaGroupID,
	}
}

var (
	ErrInvalidConfig = errors.New("invalid configuration")
)
