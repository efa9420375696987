package common

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/arl/statsviz"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// OpsServer exposes process metrics, liveness and readiness over HTTP.
type OpsServer struct {
	server *http.Server
	ready  *atomic.Bool
}

// NewOpsServer builds the ops endpoints on addr. Readiness reports ready once
// the flag is set by the caller.
func NewOpsServer(addr string, ready *atomic.Bool) (*OpsServer, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	if err := statsviz.Register(mux); err != nil {
		return nil, fmt.Errorf("failed to register statsviz: %w", err)
	}

	return &OpsServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		ready: ready,
	}, nil
}

// Handler returns the mux serving the ops endpoints.
func (s *OpsServer) Handler() http.Handler { return s.server.Handler }

// Run serves until Shutdown is called.
func (s *OpsServer) Run() error {
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *OpsServer) Shutdown(ctx context.Context) error { return s.server.Shutdown(ctx) }
