package bootstrapper

import (
	"bytes"
	"encoding/json"
	"fmt"
	"github.com/elastic/go-elasticsearch/v8"
	"go.uber.org/zap"
	"io"
	"strings"
	"time"
)

const retries = 30
const waitTime = 5 * time.Second

type Bootstrapper struct {
	esClient *elasticsearch.Client
	retries  int
	waitTime time.Duration
	logger   *zap.Logger
}

func NewBootstrapper(esClient *elasticsearch.Client, logger *zap.Logger) *Bootstrapper {
	logger.Info("Creating new Bootstrapper")
	return &Bootstrapper{
		esClient: esClient,
		retries:  retries,
		waitTime: waitTime,
		logger:   logger,
	}
}

// BootstrapElasticsearch waits for the cluster and creates the span index.
// An index left over from a previous run is kept as is.
func (bs *Bootstrapper) BootstrapElasticsearch() error {
	if err := bs.waitForElasticsearch(bs.retries, bs.waitTime); err != nil {
		return fmt.Errorf("failed to connect to Elasticsearch: %w", err)
	}

	if err := bs.createIndex(SpanIndexName, spanIndex); err != nil {
		return fmt.Errorf("error creating span index: %w", err)
	}
	return nil
}

func (bs *Bootstrapper) waitForElasticsearch(maxRetries int, delay time.Duration) error {
	for i := 0; i < maxRetries; i++ {
		res, err := bs.esClient.Info()
		if err == nil {
			res.Body.Close()
			if res.StatusCode == 200 {
				bs.logger.Info("Elasticsearch is available")
				return nil
			}
		}
		bs.logger.Warn(
			"Elasticsearch not available, retrying",
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", maxRetries),
		)

		time.Sleep(delay)
	}

	return fmt.Errorf("Elasticsearch is not available after %d attempts", maxRetries)
}

func (bs *Bootstrapper) createIndex(indexName string, index map[string]interface{}) error {
	body, err := json.Marshal(index)
	if err != nil {
		return fmt.Errorf("error marshaling index input during bootstrap: %w", err)
	}

	res, err := bs.esClient.Indices.Create(
		indexName,
		bs.esClient.Indices.Create.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return fmt.Errorf("error creating index during bootstrap %s: %w", indexName, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		resBody, _ := io.ReadAll(res.Body)
		if strings.Contains(string(resBody), indexExistsError) {
			bs.logger.Info("Index already exists", zap.String("index_name", indexName))
			return nil
		}
		return fmt.Errorf("error response for index %s: [%d] %s", indexName, res.StatusCode, resBody)
	}

	bs.logger.Info("Successfully created index", zap.String("index_name", indexName))
	return nil
}

const indexExistsError = "resource_already_exists_exception"
