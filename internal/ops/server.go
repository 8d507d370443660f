// Package ops serves the operator surface: /health with store-derived
// status and /metrics in Prometheus exposition format.
package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/tmflab/tmftrader/internal/metrics"
	"github.com/tmflab/tmftrader/internal/store"
)

// Server exposes health and metrics over HTTP.
type Server struct {
	store store.Store
	reg   *prometheus.Registry
	log   zerolog.Logger
}

// NewServer wires the ops endpoints over the store and metric registry.
func NewServer(st store.Store, m *metrics.Registry, log zerolog.Logger) *Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := m.Register(reg); err != nil {
		panic(err)
	}
	return &Server{
		store: st,
		reg:   reg,
		log:   log.With().Str("component", "ops").Logger(),
	}
}

// Router builds the HTTP routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return r
}

// healthResponse is the /health payload.
type healthResponse struct {
	Status       string              `json:"status"`
	TS           string              `json:"ts"`
	Orders       int64               `json:"orders"`
	KillSwitch   store.JSONMap       `json:"kill_switch,omitempty"`
	Cooldown     store.JSONMap       `json:"cooldown,omitempty"`
	RecentChecks []store.HealthCheck `json:"recent_checks,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := healthResponse{Status: "ok", TS: time.Now().Format(time.RFC3339)}

	n, err := s.store.CountOrders(ctx)
	if err != nil {
		s.writeUnhealthy(w, err)
		return
	}
	resp.Orders = n

	if ks, err := s.store.SafetyState(ctx, store.SafetyKeyKill); err == nil && ks != nil {
		resp.KillSwitch = ks.Value
		if enabled, _ := ks.Value["enabled"].(bool); enabled {
			resp.Status = "killed"
		}
	}
	if cd, err := s.store.SafetyState(ctx, store.SafetyKeyCooldown); err == nil && cd != nil {
		resp.Cooldown = cd.Value
	}
	if checks, err := s.store.RecentHealthChecks(ctx, 5); err == nil {
		resp.RecentChecks = checks
		for _, hc := range checks {
			if hc.Status != "OK" && resp.Status == "ok" {
				resp.Status = "degraded"
			}
		}
	}

	code := http.StatusOK
	if resp.Status == "killed" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *Server) writeUnhealthy(w http.ResponseWriter, err error) {
	s.log.Error().Err(err).Msg("health probe failed")
	writeJSON(w, http.StatusServiceUnavailable, map[string]any{
		"status": "unhealthy",
		"error":  err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Serve blocks until ctx is cancelled, then shuts the listener down with a
// short grace period.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info().Str("addr", addr).Msg("ops server listening")

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
