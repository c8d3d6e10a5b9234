package metrics

import (
	"github.com/Avi18971911/spanstream/internal/codec"
	"github.com/Avi18971911/spanstream/internal/codec/pool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "spanstream"

// Drop reasons recorded by SpansDropped.
const (
	ReasonEncode        = "encode"
	ReasonSize          = "size"
	ReasonPoolExhausted = "pool_exhausted"
	ReasonTransport     = "transport"
	ReasonOther         = "other"
)

// Decode stages recorded by DecodeErrors.
const (
	StageHeader    = "header"
	StageComponent = "component"
	StagePool      = "pool"
	StageOrphan    = "orphan"
	StageAssembly  = "assembly"
)

type Metrics struct {
	// producer side
	SpansSent     prometheus.Counter
	SpansDropped  *prometheus.CounterVec
	UnitsProduced prometheus.Counter
	BytesProduced prometheus.Counter
	UnitsPerSpan  prometheus.Histogram

	// collector side
	UnitsReceived     prometheus.Counter
	UnitsDecoded      prometheus.Counter
	DecodeErrors      *prometheus.CounterVec
	ComponentsSkipped prometheus.Counter
	SpansAssembled    *prometheus.CounterVec

	registerer prometheus.Registerer
}

func New(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		SpansSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spans_sent_total",
			Help:      "Spans whose units were all written",
		}),
		SpansDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "spans_dropped_total",
				Help:      "Spans dropped before or during transmission",
			},
			[]string{"reason"},
		),
		UnitsProduced: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_produced_total",
			Help:      "Transmission units written",
		}),
		BytesProduced: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unit_bytes_produced_total",
			Help:      "Bytes of transmission units written",
		}),
		UnitsPerSpan: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "units_per_span",
			Help:      "Transmission units produced per span",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 50},
		}),
		UnitsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_received_total",
			Help:      "Transmission units received by the collector",
		}),
		UnitsDecoded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_decoded_total",
			Help:      "Transmission units decoded without error",
		}),
		DecodeErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decode_errors_total",
				Help:      "Units that failed to decode",
			},
			[]string{"stage"},
		),
		ComponentsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "components_skipped_total",
			Help:      "Components of unknown kind or codec",
		}),
		SpansAssembled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "spans_assembled_total",
				Help:      "Span documents written by the collector",
			},
			[]string{"complete"},
		),
		registerer: registerer,
	}
}

// ObservePool exports gauges that read the pool's stats on every scrape.
func ObservePool[T any](m *Metrics, id codec.ID, role string, p *pool.Pool[T]) {
	factory := promauto.With(m.registerer)
	labels := prometheus.Labels{"codec": id.String(), "role": role}
	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "codec_pool_in_use",
			Help:        "Pooled codec instances currently leased",
			ConstLabels: labels,
		},
		func() float64 { return float64(p.Stats().InUse) },
	)
	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "codec_pool_idle",
			Help:        "Pooled codec instances waiting for a lease",
			ConstLabels: labels,
		},
		func() float64 { return float64(p.Stats().Idle) },
	)
	factory.NewCounterFunc(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "codec_pool_exhausted_total",
			Help:        "Acquisitions that timed out on a full pool",
			ConstLabels: labels,
		},
		func() float64 { return float64(p.Stats().Exhausted) },
	)
	factory.NewCounterFunc(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "codec_pool_overflowed_total",
			Help:        "Transient instances created past capacity",
			ConstLabels: labels,
		},
		func() float64 { return float64(p.Stats().Overflowed) },
	)
}
