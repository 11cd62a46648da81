// Package api is the ops-only HTTP surface: health and metrics. It runs
// on its own port with the standard net/http stack and never touches the
// raw-TCP data path.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// Pinger is anything the health check can probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	store Pinger
	cache Pinger
	log   *zap.SugaredLogger
	http  *http.Server
}

func NewServer(addr string, store, cache Pinger, registry *prometheus.Registry, log *zap.SugaredLogger) *Server {
	s := &Server{store: store, cache: cache, log: log}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods("GET")

	c := cors.New(cors.Options{
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	})

	s.http = &http.Server{
		Addr:         addr,
		Handler:      c.Handler(router),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start blocks until the server exits. A clean Shutdown returns nil.
func (s *Server) Start() error {
	s.log.Infow("ops_server_starting", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]string{"store": "ok", "cache": "ok"}
	healthy := true
	if err := s.store.Ping(ctx); err != nil {
		status["store"] = err.Error()
		healthy = false
	}
	if err := s.cache.Ping(ctx); err != nil {
		status["cache"] = err.Error()
		healthy = false
	}

	w.Header().Set("Content-Type", "application/json")
	if !healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}
