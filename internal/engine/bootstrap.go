package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"cdcrelay/internal/config"
	"cdcrelay/internal/logging"
	"cdcrelay/internal/pipeline"
	"cdcrelay/internal/record"
	"cdcrelay/internal/telemetry"
	"cdcrelay/internal/topics"
	"cdcrelay/internal/transport"
)

// Bootstrap brings the relay up to Subscribed: metrics and health servers,
// topic ensure, then Runner.Start retried on connection errors. On failure
// everything already started is torn down again.
func Bootstrap(ctx context.Context, cfg config.Config) (_ *Engine, err error) {
	logging.Configure(logging.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON})
	e := &Engine{cfg: cfg, log: logging.Component("engine")}
	defer func() {
		if err != nil {
			e.shutdown(ctx)
		}
	}()

	// 1. metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	e.metrics = telemetry.NewMetrics(reg)
	if cfg.Metrics.Enabled {
		mctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		e.stopMetrics = cancel
		addr, err := telemetry.Serve(mctx, &e.wg, telemetry.ServerOpts{
			Addr:     cfg.Metrics.Addr,
			Path:     cfg.Metrics.Path,
			Gatherer: reg,
		})
		if err != nil {
			return nil, fmt.Errorf("metrics: %w", err)
		}
		e.log.Info("metrics listening", "addr", addr.String(), "path", cfg.Metrics.Path)
	}

	// 2. health transport
	if cfg.Health.Enabled {
		if e.health, err = transport.StartServer(cfg.Health.Port); err != nil {
			return nil, fmt.Errorf("transport: %w", err)
		}
		go func() {
			if err := e.health.Serve(); err != nil {
				e.log.Warn("health server stopped", "err", err)
			}
		}()
		e.log.Info("health listening", "addr", e.health.Addr().String())
	}

	// 3. pipeline runner
	if e.runner, err = pipeline.Compile(cfg, e.metrics); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	e.runner.OnStateChange(e.observe)

	// 4. topics
	if cfg.Admin.EnsureTopics {
		e.ensureTopics(ctx)
	}

	// 5. connect
	if err = e.start(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) observe(s pipeline.State) {
	e.metrics.State.Set(float64(s))
	if e.health != nil {
		e.health.SetServing(s == pipeline.Running)
	}
}

// ensureTopics is best effort: a relay without admin rights still runs
// against topics created elsewhere.
func (e *Engine) ensureTopics(ctx context.Context) {
	names := append([]string(nil), e.cfg.Kafka.Topics...)
	if e.cfg.Sink.Driver != "stdout" {
		names = append(names, e.cfg.Sink.Topic)
	}
	en, err := topics.New(e.cfg.Kafka.Driver, e.cfg.Kafka.Config, e.cfg.Admin)
	if err != nil {
		e.log.Warn("topic ensure skipped", "err", err)
		return
	}
	defer en.Close()
	ectx, cancel := context.WithTimeout(ctx, e.cfg.Kafka.DiscoveryTimeout)
	defer cancel()
	if err := en.Ensure(ectx, names...); err != nil {
		e.log.Warn("topic ensure failed", "topics", names, "err", err)
	}
}

func (e *Engine) startBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.cfg.Startup.InitialInterval
	b.MaxInterval = e.cfg.Startup.MaxInterval
	b.MaxElapsedTime = e.cfg.Startup.MaxElapsed
	return backoff.WithContext(backoff.WithMaxRetries(b, e.cfg.Startup.MaxRetries), ctx)
}

// start retries Runner.Start while the broker is unreachable. Any other
// error is permanent.
func (e *Engine) start(ctx context.Context) error {
	op := func() error {
		e.metrics.StartupAttempts.Inc()
		err := e.runner.Start(ctx)
		var ce *record.ConnectionError
		if err != nil && !errors.As(err, &ce) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		e.log.Warn("broker unreachable, retrying", "err", err, "wait", wait)
	}
	if err := backoff.RetryNotify(op, e.startBackOff(ctx), notify); err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	e.log.Info("relay started", "state", e.runner.State().String())
	return nil
}

// HealthAddr is nil when the health server is disabled.
func (e *Engine) HealthAddr() net.Addr {
	if e.health == nil {
		return nil
	}
	return e.health.Addr()
}
