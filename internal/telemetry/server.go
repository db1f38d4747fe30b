package telemetry

import (
	"cmp"
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cdcrelay/internal/logging"
)

type ServerOpts struct {
	Addr              string
	Path              string        // defaults to "/metrics"
	ShutdownTimeout   time.Duration // defaults to 5 seconds
	ReadHeaderTimeout time.Duration // defaults to 3 seconds
	Gatherer          prometheus.Gatherer
}

// Serve starts the metrics server on a listener bound before it returns, so
// address errors surface to the caller. The server shuts down gracefully when
// ctx is cancelled; wg is released once it has stopped.
func Serve(ctx context.Context, wg *sync.WaitGroup, opts ServerOpts) (net.Addr, error) {
	opts.Addr = cmp.Or(opts.Addr, ":9100")
	opts.Path = cmp.Or(opts.Path, "/metrics")
	opts.ShutdownTimeout = cmp.Or(opts.ShutdownTimeout, 5*time.Second)
	opts.ReadHeaderTimeout = cmp.Or(opts.ReadHeaderTimeout, 3*time.Second)

	handler := promhttp.Handler()
	if opts.Gatherer != nil {
		handler = promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})
	}
	mux := http.NewServeMux()
	mux.Handle(opts.Path, handler)
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: opts.ReadHeaderTimeout,
	}

	ln, err := net.Listen("tcp", opts.Addr)
	if err != nil {
		return nil, err
	}
	log := logging.Component("metrics")

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info("metrics server listening", "addr", ln.Addr().String(), "path", opts.Path)
		if err := server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server stopped", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("metrics server shutdown", "err", err)
		}
	}()
	return ln.Addr(), nil
}
