package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"
)

type RefreshRate string

const (
	// Wait for the changes made by the request to be made visible by a refresh before replying.
	Wait RefreshRate = "wait_for"
	// Immediate refreshes the relevant primary and replica shards immediately after the operation occurs.
	Immediate RefreshRate = "true"
	// Async takes no refresh related actions.
	Async RefreshRate = "false"
)

type SpanstreamClient interface {
	// BulkIndex indexes (inserts) multiple documents in the same index
	// https://www.elastic.co/guide/en/elasticsearch/reference/master/docs-bulk.html
	BulkIndex(ctx context.Context, metaInfo []MetaMap, documentInfo []DocumentMap, index string) error
	// Index indexes (inserts) a single document in the index
	Index(ctx context.Context, metaInfo MetaMap, documentInfo DocumentMap, index string) error
}

type SpanstreamClientImpl struct {
	es          *elasticsearch.Client
	refreshRate string
	logger      *zap.Logger
}

func NewSpanstreamClientImpl(es *elasticsearch.Client, refreshRate RefreshRate, logger *zap.Logger) *SpanstreamClientImpl {
	logger.Info("Creating new SpanstreamClientImpl", zap.String("refresh", string(refreshRate)))
	return &SpanstreamClientImpl{es: es, refreshRate: string(refreshRate), logger: logger}
}

func (c *SpanstreamClientImpl) BulkIndex(
	ctx context.Context,
	metaInfo []MetaMap,
	documentInfo []DocumentMap,
	index string,
) error {
	body, err := bulkBody(metaInfo, documentInfo)
	if err != nil {
		return err
	}

	options := []func(*esapi.BulkRequest){
		c.es.Bulk.WithContext(ctx),
		c.es.Bulk.WithRefresh(c.refreshRate),
	}
	if len(index) > 0 {
		options = append(options, c.es.Bulk.WithIndex(index))
	}
	res, err := c.es.Bulk(bytes.NewReader(body), options...)
	if err != nil {
		return fmt.Errorf("error bulk indexing: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("bulk index error: %s", res.String())
	}

	var bulkRes bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&bulkRes); err != nil {
		return fmt.Errorf("error decoding bulk index response: %w", err)
	}
	if bulkRes.Errors {
		c.logBulkItemErrors(bulkRes)
	}
	return nil
}

func (c *SpanstreamClientImpl) Index(
	ctx context.Context,
	metaInfo MetaMap,
	documentInfo DocumentMap,
	index string,
) error {
	if metaInfo == nil {
		return c.BulkIndex(ctx, nil, []DocumentMap{documentInfo}, index)
	}
	return c.BulkIndex(ctx, []MetaMap{metaInfo}, []DocumentMap{documentInfo}, index)
}

// logBulkItemErrors reports failed items. Version conflicts are expected when a
// newer revision of a document was already indexed, so they are only debug logged.
func (c *SpanstreamClientImpl) logBulkItemErrors(bulkRes bulkResponse) {
	for _, item := range bulkRes.Items {
		for _, result := range item {
			if result.Error == nil {
				continue
			}
			if result.Status == versionConflictStatus {
				c.logger.Debug("Skipped stale document revision", zap.String("id", result.ID))
				continue
			}
			c.logger.Error(
				"Failed to index document",
				zap.String("id", result.ID),
				zap.Int("status", result.Status),
				zap.String("type", result.Error.Type),
				zap.String("reason", result.Error.Reason),
			)
		}
	}
}

func bulkBody(metaInfo []MetaMap, documentInfo []DocumentMap) ([]byte, error) {
	var buf bytes.Buffer
	for i, d := range documentInfo {
		var meta MetaMap
		if metaInfo != nil && i < len(metaInfo) {
			meta = metaInfo[i]
		} else {
			// empty meta for bulk index
			meta = MetaMap{"index": map[string]interface{}{}}
		}
		metaJSON, err := json.Marshal(meta)
		if err != nil {
			return nil, fmt.Errorf("error marshaling meta to bulk index: %w", err)
		}
		buf.Write(metaJSON)
		buf.WriteByte('\n')

		dataJSON, err := json.Marshal(d)
		if err != nil {
			return nil, fmt.Errorf("error marshaling data to bulk index: %w", err)
		}
		buf.Write(dataJSON)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

const versionConflictStatus = 409

type bulkResponse struct {
	Errors bool                           `json:"errors"`
	Items  []map[string]bulkItemResponse `json:"items"`
}

type bulkItemResponse struct {
	ID     string         `json:"_id"`
	Status int            `json:"status"`
	Error  *bulkItemError `json:"error,omitempty"`
}

type bulkItemError struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}
