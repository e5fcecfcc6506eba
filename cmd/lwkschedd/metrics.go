package main

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServeMetrics registers the daemon's stats collectors and serves
// /metrics on addr until ctx is cancelled, periodically draining the
// atomic counters into the Prometheus vectors (internal/stats.Collect
// is documented as unsafe to call from the pick_next hot path, so it
// runs on its own ticker here instead).
func ServeMetrics(ctx context.Context, d *Daemon, addr string, collectEvery time.Duration) error {
	d.stats.MustRegister(prometheus.DefaultRegisterer)

	go func() {
		ticker := time.NewTicker(collectEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.stats.Collect()
			}
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
