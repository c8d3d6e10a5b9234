package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestToMetaAndDataMap(t *testing.T) {
	t.Run("Should move _id and _version into the index action", func(t *testing.T) {
		meta, data, err := ToMetaAndDataMap([]versionedDoc{{ID: "a", Version: 3, Name: "span"}})
		require.NoError(t, err)
		require.Len(t, meta, 1)
		action := meta[0]["index"].(map[string]interface{})
		assert.Equal(t, "a", action["_id"])
		assert.Equal(t, float64(3), action["version"])
		assert.Equal(t, "external", action["version_type"])
		assert.Equal(t, DocumentMap{"name": "span"}, data[0])
	})

	t.Run("Should leave the action empty without an id", func(t *testing.T) {
		meta, data, err := ToMetaAndDataMap([]plainDoc{{Name: "span"}})
		require.NoError(t, err)
		assert.Equal(t, MetaMap{"index": map[string]interface{}{}}, meta[0])
		assert.Equal(t, "span", data[0]["name"])
	})
}

func TestBulkIndex(t *testing.T) {
	t.Run("Should send one action and one document line per value", func(t *testing.T) {
		var path, refresh string
		var lines []string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path = r.URL.Path
			refresh = r.URL.Query().Get("refresh")
			body, _ := io.ReadAll(r.Body)
			scanner := bufio.NewScanner(bytes.NewReader(body))
			for scanner.Scan() {
				lines = append(lines, scanner.Text())
			}
			writeBulkResponse(w, `{"took":1,"errors":false,"items":[]}`)
		}))
		defer srv.Close()

		c := createClient(t, srv.URL)
		meta, data, err := ToMetaAndDataMap([]versionedDoc{{ID: "a", Version: 1, Name: "x"}, {ID: "b", Version: 2, Name: "y"}})
		require.NoError(t, err)

		err = c.BulkIndex(context.Background(), meta, data, "span_index")
		require.NoError(t, err)
		assert.Equal(t, "/span_index/_bulk", path)
		assert.Equal(t, string(Wait), refresh)
		require.Len(t, lines, 4)

		var action map[string]map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(lines[2]), &action))
		assert.Equal(t, "b", action["index"]["_id"])
		assert.JSONEq(t, `{"name":"y"}`, lines[3])
	})

	t.Run("Should tolerate version conflicts on individual items", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeBulkResponse(w, `{"took":1,"errors":true,"items":[{"index":{"_id":"a","status":409,"error":{"type":"version_conflict_engine_exception","reason":"stale"}}}]}`)
		}))
		defer srv.Close()

		c := createClient(t, srv.URL)
		err := c.Index(context.Background(), nil, DocumentMap{"name": "x"}, "span_index")
		assert.NoError(t, err)
	})

	t.Run("Should return an error for a failed request", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Elastic-Product", "Elasticsearch")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"bad"}`))
		}))
		defer srv.Close()

		c := createClient(t, srv.URL)
		err := c.Index(context.Background(), nil, DocumentMap{"name": "x"}, "span_index")
		assert.Error(t, err)
	})
}

func createClient(t *testing.T, url string) *SpanstreamClientImpl {
	es, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{url}})
	require.NoError(t, err)
	return NewSpanstreamClientImpl(es, Wait, zap.NewNop())
}

func writeBulkResponse(w http.ResponseWriter, body string) {
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(body))
}

type versionedDoc struct {
	ID      string `json:"_id"`
	Version int64  `json:"_version"`
	Name    string `json:"name"`
}

type plainDoc struct {
	Name string `json:"name"`
}
