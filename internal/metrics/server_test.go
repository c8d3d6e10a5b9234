package metrics

import (
	"context"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"io"
	"net"
	"net/http"
	"testing"
)

func TestServe(t *testing.T) {
	t.Run("Should expose metrics until the context is done", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		m := New(reg)
		m.UnitsProduced.Add(3)

		listener, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- serve(ctx, listener, reg, zap.NewNop()) }()

		res, err := http.Get("http://" + listener.Addr().String() + "/metrics")
		require.NoError(t, err)
		body, err := io.ReadAll(res.Body)
		res.Body.Close()
		require.NoError(t, err)
		assert.Contains(t, string(body), "spanstream_units_produced_total 3")

		cancel()
		assert.NoError(t, <-done)
	})
}
