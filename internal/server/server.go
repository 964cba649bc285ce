// Package server exposes metrics and the artifact ledger over HTTP while a
// session runs.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/psantana5/ffrec/internal/tracing"
	"github.com/psantana5/ffrec/pkg/ledger"
	"github.com/psantana5/ffrec/pkg/logging"
	"github.com/psantana5/ffrec/pkg/manager"
	"github.com/psantana5/ffrec/pkg/metrics"
)

// Session is the live view of the running session
type Session interface {
	Tracked() []manager.Tracked
	PendingTasks() int
}

// Handler serves the HTTP API
type Handler struct {
	Ledger  ledger.Ledger
	Metrics *metrics.Metrics
	Session Session
	Tracing *tracing.Provider
	Logger  *logging.Logger
}

// HealthResponse is returned by /health
type HealthResponse struct {
	Status       string `json:"status"`
	Ledger       string `json:"ledger"`
	Tracked      int    `json:"tracked"`
	PendingTasks int    `json:"pending_tasks"`
}

// Router builds the routes
func (h *Handler) Router() *mux.Router {
	if h.Logger == nil {
		h.Logger = logging.NewNopLogger()
	}

	router := mux.NewRouter()
	if h.Tracing != nil {
		router.Use(tracing.HTTPMiddleware(h.Tracing))
	}

	router.HandleFunc("/health", h.HandleHealth).Methods("GET")
	if h.Metrics != nil {
		router.Handle("/metrics", h.Metrics.Handler()).Methods("GET")
	}
	router.HandleFunc("/artifacts", h.HandleListArtifacts).Methods("GET")
	router.HandleFunc("/artifacts/{id}", h.HandleGetArtifact).Methods("GET")
	router.HandleFunc("/tracked", h.HandleTracked).Methods("GET")

	return router
}

// HandleHealth reports whether the ledger is reachable
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "healthy", Ledger: "ok"}
	code := http.StatusOK

	if h.Ledger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.Ledger.HealthCheck(ctx); err != nil {
			resp.Status = "degraded"
			resp.Ledger = err.Error()
			code = http.StatusServiceUnavailable
		}
	} else {
		resp.Ledger = "disabled"
	}

	if h.Session != nil {
		resp.Tracked = len(h.Session.Tracked())
		resp.PendingTasks = h.Session.PendingTasks()
	}

	writeJSON(w, code, resp)
}

// HandleListArtifacts lists ledger entries.
// Query parameters: session, kind, outcome, limit.
func (h *Handler) HandleListArtifacts(w http.ResponseWriter, r *http.Request) {
	if h.Ledger == nil {
		http.Error(w, "Ledger disabled", http.StatusNotFound)
		return
	}

	q := r.URL.Query()
	filter := ledger.Filter{
		SessionID: q.Get("session"),
		Kind:      q.Get("kind"),
		Outcome:   ledger.Outcome(q.Get("outcome")),
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			http.Error(w, fmt.Sprintf("Invalid limit: %q", limit), http.StatusBadRequest)
			return
		}
		filter.Limit = n
	}

	entries, err := h.Ledger.List(r.Context(), filter)
	if err != nil {
		h.Logger.Error("Failed to list artifacts", map[string]interface{}{"error": err.Error()})
		http.Error(w, fmt.Sprintf("Failed to list artifacts: %v", err), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []*ledger.Entry{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"artifacts": entries,
		"count":     len(entries),
	})
}

// HandleGetArtifact returns one ledger entry
func (h *Handler) HandleGetArtifact(w http.ResponseWriter, r *http.Request) {
	if h.Ledger == nil {
		http.Error(w, "Ledger disabled", http.StatusNotFound)
		return
	}

	id := mux.Vars(r)["id"]
	entry, err := h.Ledger.Get(r.Context(), id)
	if errors.Is(err, ledger.ErrNotFound) {
		http.Error(w, fmt.Sprintf("Artifact not found: %s", id), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to get artifact: %v", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

// HandleTracked lists recordings that are not finalized yet
func (h *Handler) HandleTracked(w http.ResponseWriter, r *http.Request) {
	tracked := []manager.Tracked{}
	if h.Session != nil {
		tracked = h.Session.Tracked()
	}
	writeJSON(w, http.StatusOK, tracked)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// New returns an http.Server for the handler
func New(addr string, h *Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      h.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Serve runs srv in the background. Errors other than a clean shutdown are logged.
func Serve(srv *http.Server, logger *logging.Logger) {
	go func() {
		logger.Info("HTTP server listening", map[string]interface{}{"addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", map[string]interface{}{"error": err.Error()})
		}
	}()
}
