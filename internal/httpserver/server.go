// Package httpserver exposes the pipeline's /metrics and /health endpoints.
// Concrete HTTP/gRPC API surfaces for triggering or inspecting runs are out
// of scope; this server only carries observability.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/landrecords-sl/etl-pipeline/internal/framework"
	"github.com/landrecords-sl/etl-pipeline/internal/metrics"
)

// Server serves /metrics (Prometheus scrape) and /health (liveness/readiness).
type Server struct {
	http   *http.Server
	ready  *framework.ServiceBase
}

// New constructs a Server bound to addr. ready, if non-nil, backs /health
// with the orchestrator's readiness state; a nil ready always reports healthy.
func New(addr string, reg *metrics.Registry, ready *framework.ServiceBase) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())
	mux.Handle("/health", healthHandler(ready, reg))

	return &Server{
		http:  &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		ready: ready,
	}
}

func healthHandler(ready *framework.ServiceBase, reg *metrics.Registry) http.Handler {
	if ready == nil {
		return reg.HealthHandler()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := ready.Ready(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(err.Error()))
			return
		}
		reg.HealthHandler().ServeHTTP(w, r)
	})
}

// ListenAndServe runs the server until ctx is cancelled or Shutdown is called
// directly.
func (s *Server) ListenAndServe(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.http.Shutdown(shutdownCtx)
	}()

	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
