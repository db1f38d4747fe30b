package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"cdcrelay/internal/config"
	"cdcrelay/internal/pipeline"
	"cdcrelay/internal/record"
	"cdcrelay/internal/transport"
	"cdcrelay/source/kafka"

	_ "cdcrelay/sink/stdout"
)

// flakyConsumer refuses to subscribe until failures is used up.
type flakyConsumer struct {
	mu       sync.Mutex
	failures int
	err      error
	attempts int
	closed   bool
}

func (c *flakyConsumer) Configure(kafka.Config) error { return nil }

func (c *flakyConsumer) Subscribe(_ context.Context, _ []string, hooks kafka.Hooks) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts++
	if c.failures != 0 {
		if c.failures > 0 {
			c.failures--
		}
		return c.err
	}
	hooks.OnAssigned(record.Assignment{{Topic: "people", Partition: 0}})
	return nil
}

func (c *flakyConsumer) ConsumeNext(ctx context.Context, timeout time.Duration) (record.Event, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, nil
	}
}

func (c *flakyConsumer) Commit(context.Context, *record.Envelope) error { return nil }

func (c *flakyConsumer) Close(context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *flakyConsumer) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

var refused = &record.ConnectionError{Brokers: []string{"localhost:9092"}, Err: errors.New("connection refused")}

func testConfig(t *testing.T, c *flakyConsumer) config.Config {
	t.Helper()
	driver := "flaky-" + t.Name()
	kafka.Register(driver, func() kafka.Adapter { return c })

	var cfg config.Config
	cfg.Kafka.Driver = driver
	cfg.Kafka.Brokers = []string{"localhost:9092"}
	cfg.Kafka.GroupID = "person-relay"
	cfg.Kafka.Topics = []string{"people"}
	cfg.Kafka.PollTimeout = 10 * time.Millisecond
	cfg.Sink.Driver = "stdout"
	cfg.Sink.Topic = "people-sink"
	cfg.Schema.Format = "json"
	cfg.Startup.MaxRetries = 3
	cfg.Startup.InitialInterval = time.Millisecond
	cfg.Startup.MaxInterval = 2 * time.Millisecond
	cfg.Relay.DrainTimeout = time.Second
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestBootstrapRetriesConnectionErrors(t *testing.T) {
	c := &flakyConsumer{failures: 2, err: refused}
	cfg := testConfig(t, c)
	cfg.Health.Enabled = true
	cfg.Health.Port = 0
	cfg.Metrics.Enabled = true
	cfg.Metrics.Addr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e, err := Bootstrap(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, 3, c.Attempts())
	assert.Equal(t, 3.0, testutil.ToFloat64(e.metrics.StartupAttempts))
	assert.Equal(t, pipeline.Running, e.Runner().State())

	addr := fmt.Sprintf("127.0.0.1:%d", e.HealthAddr().(*net.TCPAddr).Port)
	hctx, hcancel := context.WithTimeout(ctx, 5*time.Second)
	defer hcancel()
	st, err := transport.Check(hctx, addr, transport.Service)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, st)

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not drain")
	}
	assert.Equal(t, pipeline.Closed, e.Runner().State())
	assert.True(t, c.closed)
}

func TestBootstrapGivesUp(t *testing.T) {
	c := &flakyConsumer{failures: -1, err: refused}
	cfg := testConfig(t, c)

	_, err := Bootstrap(context.Background(), cfg)
	require.Error(t, err)
	var ce *record.ConnectionError
	assert.ErrorAs(t, err, &ce)
	assert.Equal(t, int(cfg.Startup.MaxRetries)+1, c.Attempts())
	assert.True(t, c.closed, "consumer must be released after a failed startup")
}

func TestBootstrapPermanentError(t *testing.T) {
	c := &flakyConsumer{failures: -1, err: errors.New("unknown topic")}
	cfg := testConfig(t, c)

	_, err := Bootstrap(context.Background(), cfg)
	require.Error(t, err)
	assert.Equal(t, 1, c.Attempts())
}

func TestBootstrapCancelled(t *testing.T) {
	c := &flakyConsumer{failures: -1, err: refused}
	cfg := testConfig(t, c)
	cfg.Startup.InitialInterval = time.Hour
	cfg.Startup.MaxInterval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := Bootstrap(ctx, cfg)
	require.Error(t, err)
	assert.Equal(t, 1, c.Attempts())
}
