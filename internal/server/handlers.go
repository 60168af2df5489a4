// Package server exposes the token broker's operator endpoints: health,
// per-destination token status, a test acquisition, a reset, and the
// Prometheus metrics. Tokens themselves are never written to a response.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"token-broker/internal/circuitbreaker"
	apperrors "token-broker/internal/common/errors"
	"token-broker/internal/common/logging"
	"token-broker/internal/middleware"
	"token-broker/internal/tokens"
)

// APIVersion is reported in every response envelope
const APIVersion = "2.0"

// Handlers serves the status API for one registry
type Handlers struct {
	registry *tokens.Registry
	version  string
	started  time.Time
	clock    func() time.Time
}

// NewHandlers creates handlers for registry. version is the build version.
func NewHandlers(registry *tokens.Registry, version string) *Handlers {
	return &Handlers{
		registry: registry,
		version:  version,
		started:  time.Now(),
		clock:    time.Now,
	}
}

// Router wires the endpoints. metrics may be nil to leave metricsPath unserved.
func (h *Handlers) Router(metrics http.Handler, metricsPath string) *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.Correlation, middleware.LoggingMiddleware)

	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
	if metrics != nil {
		router.Handle(metricsPath, metrics).Methods("GET")
	}

	api := router.PathPrefix("/oauth").Subrouter()
	api.HandleFunc("/status", h.GetStatus).Methods("GET")
	api.HandleFunc("/servers", h.GetServers).Methods("GET")
	api.HandleFunc("/servers/{name}", h.GetServer).Methods("GET")
	api.HandleFunc("/servers/{name}/token", h.TestToken).Methods("GET", "POST")
	api.HandleFunc("/servers/{name}/reset", h.ResetServer).Methods("POST")

	return router
}

// HealthCheck reports liveness. It never contacts a token endpoint.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "healthy",
		"timestamp":      h.clock().UTC(),
		"version":        h.version,
		"uptime_seconds": int(h.clock().Sub(h.started).Seconds()),
	})
}

// GetStatus summarizes every destination
func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	statuses := h.registry.Statuses()

	overall := "healthy"
	for _, s := range statuses {
		if s.CircuitBreaker != nil && s.CircuitBreaker.State != circuitbreaker.StateClosed.String() {
			overall = "degraded"
			break
		}
	}

	h.respond(w, http.StatusOK, map[string]interface{}{
		"status":             overall,
		"servers_configured": len(statuses),
		"servers":            statuses,
	})
}

// GetServers lists the destination statuses
func (h *Handlers) GetServers(w http.ResponseWriter, r *http.Request) {
	h.respond(w, http.StatusOK, map[string]interface{}{
		"servers": h.registry.Statuses(),
	})
}

// GetServer returns one destination's status
func (h *Handlers) GetServer(w http.ResponseWriter, r *http.Request) {
	m, ok := h.lookup(w, r)
	if !ok {
		return
	}
	h.respond(w, http.StatusOK, m.Status())
}

// TestToken acquires a token (or reuses the cached one) and reports the
// outcome with the resulting status. The token is not returned.
func (h *Handlers) TestToken(w http.ResponseWriter, r *http.Request) {
	m, ok := h.lookup(w, r)
	if !ok {
		return
	}

	ctx := logging.WithDestination(r.Context(), m.Destination())
	if _, err := m.GetToken(ctx); err != nil {
		appErr, _ := apperrors.As(err)
		h.respond(w, http.StatusServiceUnavailable, map[string]interface{}{
			"server":         m.Destination(),
			"status":         "error",
			"token_acquired": false,
			"error":          appErr,
		})
		return
	}

	h.respond(w, http.StatusOK, map[string]interface{}{
		"server":         m.Destination(),
		"status":         "success",
		"token_acquired": true,
		"token":          m.Status(),
	})
}

// ResetServer drops the cached token and closes the circuit breaker
func (h *Handlers) ResetServer(w http.ResponseWriter, r *http.Request) {
	m, ok := h.lookup(w, r)
	if !ok {
		return
	}

	m.Invalidate()
	breakerReset := m.ResetBreaker()

	logging.WithContext(r.Context()).Info("Destination reset",
		logging.String("destination", m.Destination()),
		logging.Bool("breaker_reset", breakerReset),
	)

	h.respond(w, http.StatusOK, map[string]interface{}{
		"server":        m.Destination(),
		"token_cleared": true,
		"breaker_reset": breakerReset,
	})
}

func (h *Handlers) lookup(w http.ResponseWriter, r *http.Request) (*tokens.Manager, bool) {
	name := mux.Vars(r)["name"]
	m, ok := h.registry.Get(name)
	if !ok {
		err := apperrors.ConfigError("destination is not configured").WithDetail("destination", name)
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"error": err})
		return nil, false
	}
	return m, true
}

// respond wraps data in the versioned envelope
func (h *Handlers) respond(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, map[string]interface{}{
		"version":     h.version,
		"api_version": APIVersion,
		"timestamp":   h.clock().UTC().Format(time.RFC3339),
		"data":        data,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Error("Failed to encode response", err)
	}
}
