// Package api serves the tenant-scoped HTTP surface: zone occupancy,
// sensor health, alerts, thresholds and batch ingestion.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/saaga0h/parkwatch/internal/alerting"
	"github.com/saaga0h/parkwatch/internal/classify"
	"github.com/saaga0h/parkwatch/internal/ingest"
	"github.com/saaga0h/parkwatch/internal/occupancy"
	"github.com/saaga0h/parkwatch/internal/sensorhealth"
	"github.com/saaga0h/parkwatch/internal/store"
	"github.com/saaga0h/parkwatch/internal/tenant"
	"github.com/saaga0h/parkwatch/internal/thresholds"
)

// Deps are the components the API delegates to
type Deps struct {
	Store      store.Store
	Tenants    tenant.Resolver
	Classifier *classify.Service
	Machine    *occupancy.Machine
	Scorer     *sensorhealth.Scorer
	Alerts     *alerting.Engine
	Thresholds *thresholds.Resolver
	Pipeline   *ingest.Pipeline
	// Cursors makes uploads with a source name resumable; may be nil
	Cursors ingest.CursorStore
}

// Server handles HTTP requests
type Server struct {
	deps   Deps
	logger *slog.Logger
	now    func() time.Time
}

// NewServer creates an API server
func NewServer(deps Deps, logger *slog.Logger) *Server {
	return &Server{
		deps:   deps,
		logger: logger,
		now:    time.Now,
	}
}

type scopeKey struct{}

// Handler returns the routed handler with panic recovery
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	t := r.PathPrefix("/api/v1/tenants/{tenant}").Subrouter()
	t.Use(s.tenantScope)

	t.HandleFunc("/zones/{zone}/occupancy", s.zoneOccupancy).Methods(http.MethodGet)
	t.HandleFunc("/zones/{zone}/reconcile", s.reconcileZone).Methods(http.MethodPost)
	t.HandleFunc("/bays/{bay}/bind", s.bindBay).Methods(http.MethodPost)
	t.HandleFunc("/sensors/{sensor}/health", s.sensorHealth).Methods(http.MethodGet)
	t.HandleFunc("/alerts", s.listAlerts).Methods(http.MethodGet)
	t.HandleFunc("/alerts/{id}/acknowledge", s.acknowledgeAlert).Methods(http.MethodPost)
	t.HandleFunc("/alerts/{id}/resolve", s.resolveAlert).Methods(http.MethodPost)
	t.HandleFunc("/thresholds", s.getThresholds).Methods(http.MethodGet)
	t.HandleFunc("/thresholds", s.putThresholds).Methods(http.MethodPut)
	t.HandleFunc("/ingest", s.ingestBatch).Methods(http.MethodPost)

	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{s.logger}),
		handlers.PrintRecoveryStack(true),
	)(r)
}

// tenantScope resolves the tenant path segment to an authorized scope
func (s *Server) tenantScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := mux.Vars(r)["tenant"]

		scope, err := s.deps.Tenants.Resolve(r.Context(), tenantID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), scopeKey{}, scope)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func scopeFrom(r *http.Request) tenant.Scope {
	scope, _ := r.Context().Value(scopeKey{}).(tenant.Scope)
	return scope
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(started))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

type recoveryLogger struct {
	logger *slog.Logger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.logger.Error("Recovered from panic in HTTP handler", "detail", fmt.Sprint(v...))
}

// errOutOfScope hides entities outside the tenant's scope behind a 404
var errOutOfScope = fmt.Errorf("%w: outside tenant scope", store.ErrNotFound)

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *ingest.ValidationError

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, tenant.ErrUnknownTenant):
		status = http.StatusForbidden
	case errors.Is(err, alerting.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, alerting.ErrMissingActor), errors.As(err, &verr), errors.Is(err, errBadRequest):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}

	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}

var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}
