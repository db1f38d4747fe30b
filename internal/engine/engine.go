// Package engine owns the relay process: it bootstraps the runner with its
// servers, runs it until the context is cancelled and shuts everything down.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"cdcrelay/internal/config"
	"cdcrelay/internal/pipeline"
	"cdcrelay/internal/telemetry"
	"cdcrelay/internal/transport"
)

type Engine struct {
	cfg     config.Config
	log     *slog.Logger
	runner  *pipeline.Runner
	metrics *telemetry.Metrics
	health  *transport.Server

	stopMetrics context.CancelFunc
	wg          sync.WaitGroup
}

// Run blocks until ctx is cancelled and the runner has drained. Cancellation
// is a clean exit and returns nil.
func (e *Engine) Run(ctx context.Context) error {
	err := e.runner.Run(ctx)
	e.shutdown(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (e *Engine) Runner() *pipeline.Runner { return e.runner }

func (e *Engine) shutdown(ctx context.Context) {
	if e.runner != nil {
		if err := e.runner.Close(context.WithoutCancel(ctx)); err != nil {
			e.log.Warn("runner close", "err", err)
		}
	}
	if e.health != nil {
		e.health.Stop()
	}
	if e.stopMetrics != nil {
		e.stopMetrics()
	}
	e.wg.Wait()
}
