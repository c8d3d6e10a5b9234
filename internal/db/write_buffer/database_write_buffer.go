package write_buffer

import (
	"context"
	"fmt"
	spanstreamElasticsearch "github.com/Avi18971911/spanstream/internal/db/elasticsearch/client"
	"go.uber.org/zap"
	"sync"
	"time"
)

const WriteQueueSize = 30
const flushInterval = 2 * time.Second
const flushTimeOut = 10 * time.Second

type DatabaseWriteBuffer[ValueType any] interface {
	WriteToBuffer(value []ValueType)
	Flush(ctx context.Context) error
}

// DatabaseWriteBufferImpl batches values and bulk indexes them once more than
// WriteQueueSize are queued, or on every tick of Run.
type DatabaseWriteBufferImpl[ValueType interface{}] struct {
	writeQueue  []ValueType
	ac          spanstreamElasticsearch.SpanstreamClient
	esIndexName string
	logger      *zap.Logger
	mu          sync.Mutex
	flushMu     sync.Mutex
}

func NewDatabaseWriteBufferImpl[ValueType interface{}](
	ac spanstreamElasticsearch.SpanstreamClient,
	esIndexName string,
	logger *zap.Logger,
) *DatabaseWriteBufferImpl[ValueType] {
	logger.Info("Creating new DatabaseWriteBufferImpl", zap.String("index", esIndexName))
	return &DatabaseWriteBufferImpl[ValueType]{
		writeQueue:  []ValueType{},
		ac:          ac,
		esIndexName: esIndexName,
		logger:      logger,
	}
}

func (wbc *DatabaseWriteBufferImpl[ValueType]) WriteToBuffer(
	value []ValueType,
) {
	wbc.mu.Lock()
	wbc.writeQueue = append(wbc.writeQueue, value...)
	full := len(wbc.writeQueue) > WriteQueueSize
	wbc.mu.Unlock()
	if full {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), flushTimeOut)
			defer cancel()
			if err := wbc.Flush(ctx); err != nil {
				wbc.logger.Error("Failed to flush to Elasticsearch", zap.Error(err))
			}
		}()
	}
}

// Run flushes on a fixed interval until ctx is done, then flushes what is left.
func (wbc *DatabaseWriteBufferImpl[ValueType]) Run(ctx context.Context) error {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			flushCtx, cancel := context.WithTimeout(ctx, flushTimeOut)
			if err := wbc.Flush(flushCtx); err != nil {
				wbc.logger.Error("Failed to flush to Elasticsearch", zap.Error(err))
			}
			cancel()
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), flushTimeOut)
			defer cancel()
			return wbc.Flush(flushCtx)
		}
	}
}

// Flush bulk indexes everything queued so far. Flushes are serialized so
// batches reach Elasticsearch in the order they were queued.
func (wbc *DatabaseWriteBufferImpl[ValueType]) Flush(ctx context.Context) error {
	wbc.flushMu.Lock()
	defer wbc.flushMu.Unlock()

	wbc.mu.Lock()
	queue := wbc.writeQueue
	wbc.writeQueue = []ValueType{}
	wbc.mu.Unlock()

	if len(queue) == 0 {
		return nil
	}
	metaMap, dataMap, err := spanstreamElasticsearch.ToMetaAndDataMap(queue)
	if err != nil {
		return fmt.Errorf("error converting write queue to meta and data map: %w", err)
	}
	if err := wbc.ac.BulkIndex(ctx, metaMap, dataMap, wbc.esIndexName); err != nil {
		return fmt.Errorf("error bulk indexing %d documents to Elasticsearch: %w", len(queue), err)
	}
	return nil
}
