package telemetry

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.Consumed.WithLabelValues("people").Inc()
	m.Skipped.WithLabelValues("people", "avro").Add(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Consumed.WithLabelValues("people")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Skipped.WithLabelValues("people", "avro")))

	assert.Panics(t, func() { NewMetrics(reg) }, "duplicate registration must fail")
}

func TestServe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.State.Set(2)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	addr, err := Serve(ctx, &wg, ServerOpts{Addr: "127.0.0.1:0", Gatherer: reg})
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr.String() + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.True(t, strings.Contains(string(body), "relay_state 2"), string(body))

	cancel()
	wg.Wait()
}
