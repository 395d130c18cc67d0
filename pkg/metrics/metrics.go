// Package metrics exposes the exporter's Prometheus metrics. The metrics
// themselves are defined in their respective packages (client, pagination,
// collector, export, cache, ratelimit) via promauto; this package documents
// them and serves the /metrics endpoint for long runs.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Registry is the default Prometheus registry used by the exporter.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler returns the /metrics handler for the default gatherer.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Server serves /metrics and /health until its context is cancelled.
type Server struct {
	srv      *http.Server
	listener net.Listener
	logger   zerolog.Logger
}

// Listen binds addr (":0" picks a free port) without serving yet.
func Listen(addr string, logger zerolog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	})

	return &Server{
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		listener: ln,
		logger:   logger,
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve blocks until ctx is done, then shuts the server down.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.Addr()).Msg("Serving metrics")
		errCh <- s.srv.Serve(s.listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown metrics server: %w", err)
		}
		return nil
	}
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - lingq_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - lingq_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - lingq_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network, decode)
//
// Pagination Metrics (pkg/pagination):
//   - lingq_pages_fetched_total{language} (Counter): Non-empty pages accepted
//   - lingq_records_fetched_total{language} (Counter): Records accepted
//   - lingq_duplicate_records_total{language} (Counter): Records dropped as already seen
//   - lingq_throttles_total{language} (Counter): 429 responses
//   - lingq_throttle_backoff_seconds (Histogram): Backoff slept after a 429
//   - lingq_partition_outcomes_total{state} (Counter): Finished walks by terminal state
//
// Collection Metrics (pkg/collector):
//   - lingq_partitions_total{outcome} (Counter): Partitions complete, incomplete or skipped
//   - lingq_language_resolutions_total{method} (Counter): How languages were resolved
//   - lingq_language_probes_total{result} (Counter): Fallback probes by result
//
// Export Metrics (pkg/export):
//   - lingq_artifacts_written_total{kind} (Counter): Artifacts written (json, csv, sqlite)
//   - lingq_artifact_errors_total{kind} (Counter): Artifacts that failed to write
//   - lingq_mirror_uploads_total{result} (Counter): S3 mirror uploads
//
// Cache Metrics (pkg/cache):
//   - lingq_cache_hits_total (Counter): Listing cache hits
//   - lingq_cache_misses_total (Counter): Listing cache misses
//   - lingq_cache_size_bytes (Counter): Bytes written to the listing cache
//   - lingq_cache_errors_total{operation} (Counter): Cache operation errors
//
// Shared Cooldown Metrics (pkg/ratelimit):
//   - lingq_cooldown_remaining_seconds (Gauge): Cooldown announced for the account
//   - lingq_throttle_announcements_total (Counter): Cooldowns published to Redis
//
// Example Prometheus Queries:
//
//   # Throttle rate per language
//   rate(lingq_throttles_total[5m])
//
//   # Records per minute
//   sum(rate(lingq_records_fetched_total[1m])) * 60
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(lingq_request_duration_seconds_bucket[5m]))
//
//   # Cache Hit Rate
//   sum(rate(lingq_cache_hits_total[5m])) /
//   (sum(rate(lingq_cache_hits_total[5m])) + sum(rate(lingq_cache_misses_total[5m])))
