// Package httpapi hosts the ambient operational HTTP surface: /healthz
// and /metrics. It carries no business logic, only process introspection
// (§6 "Operational HTTP surface").
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sawpanic/perpingest/internal/infrastructure/db"
	"github.com/sawpanic/perpingest/internal/metrics"
	"github.com/sawpanic/perpingest/internal/telemetry/latency"
)

// Status tracks per-venue collector readiness so /healthz can report
// it; callers flip a venue to ready via SetReady (cmd/ingestd does so on
// each WebSocket pull-complete heartbeat). Venues that have not reported
// yet are not counted, so with none reported only storage is checked.
type Status struct {
	mu         sync.RWMutex
	ready      map[string]bool
	db         *db.Manager
	upsertLatency func() latency.LatencyMetrics
}

func NewStatus(dbm *db.Manager) *Status {
	return &Status{ready: make(map[string]bool), db: dbm}
}

// SetUpsertLatencyFunc wires the storage gateway's rolling latency
// histogram into /healthz; optional, nil-safe.
func (s *Status) SetUpsertLatencyFunc(f func() latency.LatencyMetrics) {
	s.upsertLatency = f
}

func (s *Status) SetReady(venue string, ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready[venue] = ready
}

func (s *Status) snapshot() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]bool, len(s.ready))
	for k, v := range s.ready {
		out[k] = v
	}
	return out
}

func (s *Status) allReady() bool {
	for _, ready := range s.snapshot() {
		if !ready {
			return false
		}
	}
	return true
}

// NewServer builds the *http.Server for the operational surface.
func NewServer(addr string, status *Status, promReg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", status.healthzHandler)
	mux.Handle("/metrics", metrics.Handler(promReg))

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func (s *Status) healthzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	dbOK := true
	if s.db != nil {
		dbOK = s.db.Ping(ctx) == nil
	}

	collectors := s.snapshot()
	ready := dbOK && s.allReady()

	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	body := map[string]any{
		"storage_ok": dbOK,
		"collectors": collectors,
		"ready":      ready,
		"ts":         time.Now().UTC().Format(time.RFC3339),
	}
	if s.upsertLatency != nil {
		body["storage_upsert_latency"] = s.upsertLatency()
	}
	_ = json.NewEncoder(w).Encode(body)
}
