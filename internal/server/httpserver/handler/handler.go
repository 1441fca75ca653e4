package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/yndnr/deltamesh-go/internal/core/domain"
	"github.com/yndnr/deltamesh-go/internal/core/replica"
	"github.com/yndnr/deltamesh-go/internal/core/service"
	"github.com/yndnr/deltamesh-go/internal/infra/buildinfo"
	"github.com/yndnr/deltamesh-go/internal/storage/memory"
	"github.com/yndnr/deltamesh-go/internal/storage/snapshot"
)

// Directory is the part of the client directory the API reads.
type Directory interface {
	Stats() memory.Stats
	Lookup(id domain.ObjectID) (*replica.Object, error)
	Subscribers(id domain.ObjectID) ([]domain.ClientID, error)
}

// Scheduler is the part of the sync scheduler the API drives.
type Scheduler interface {
	Running() bool
	Interval() time.Duration
	Flush(ctx context.Context) service.TickReport
}

// Snapshotter writes a snapshot of the persisted records.
type Snapshotter interface {
	Snapshot(ctx context.Context) (*snapshot.Info, error)
}

// Handler serves the admin API.
type Handler struct {
	dir       Directory
	sched     Scheduler
	snapshots Snapshotter
	logger    *slog.Logger
	mux       *http.ServeMux
}

// Option configures a Handler.
type Option func(*Handler)

// WithSnapshotter enables POST /admin/v1/snapshots.
func WithSnapshotter(s Snapshotter) Option {
	return func(h *Handler) {
		h.snapshots = s
	}
}

// New creates a Handler.
func New(dir Directory, sched Scheduler, logger *slog.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		dir:    dir,
		sched:  sched,
		logger: logger,
		mux:    http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.registerRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /ready", h.handleReady)

	h.mux.HandleFunc("GET /admin/v1/status/summary", h.handleStatus)
	h.mux.HandleFunc("GET /admin/v1/objects/{id}", h.handleGetObject)
	h.mux.HandleFunc("POST /admin/v1/sync/flush", h.handleFlush)
	if h.snapshots != nil {
		h.mux.HandleFunc("POST /admin/v1/snapshots", h.handleSnapshot)
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	if !h.sched.Running() {
		h.writeError(w, r, http.StatusServiceUnavailable, domain.ErrSchedulerStopped.Code, "sync scheduler not running", nil)
		return
	}
	h.writeJSON(w, r, http.StatusOK, map[string]string{
		"status": "ready",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	s := h.dir.Stats()
	h.writeJSON(w, r, http.StatusOK, StatusSummary{
		Version:       buildinfo.Version,
		SyncRunning:   h.sched.Running(),
		SyncInterval:  h.sched.Interval().String(),
		Objects:       s.Objects,
		Subscriptions: s.Subscriptions,
		Clients:       s.Clients,
		Pinned:        s.Pinned,
		Dirty:         s.Dirty,
		Registrations: s.Registrations,
		Evictions:     s.Evictions,
		LargestShard:  s.LargestShard,
	})
}

func (h *Handler) handleGetObject(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseObjectID(r.PathValue("id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	obj, err := h.dir.Lookup(id)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	subs, err := h.dir.Subscribers(id)
	if err != nil && !errors.Is(err, domain.ErrObjectNotFound) {
		h.handleServiceError(w, r, err)
		return
	}

	view := ObjectView{
		ID:            id.String(),
		Version:       obj.Version(),
		Dirty:         obj.IsDirty(),
		PendingDeltas: obj.PendingCount(),
		Values:        make(map[string]any),
		Subscribers:   make([]string, 0, len(subs)),
	}
	reg := obj.Registry()
	for pid, v := range obj.NonDefaultSnapshot() {
		name := pid.String()
		if d, ok := reg.Lookup(pid); ok {
			name = d.Key()
		}
		view.Values[name] = v
	}
	for _, c := range subs {
		view.Subscribers = append(view.Subscribers, c.String())
	}

	h.writeJSON(w, r, http.StatusOK, view)
}

func (h *Handler) handleFlush(w http.ResponseWriter, r *http.Request) {
	report := h.sched.Flush(r.Context())

	res := FlushResult{
		Result:     report.Result,
		Batch:      report.Batch,
		Persisted:  report.Persisted,
		Failed:     report.Failed,
		DurationMS: report.Duration.Milliseconds(),
	}
	if report.Err != nil {
		res.Error = report.Err.Error()
	}

	status := http.StatusOK
	if report.Result == service.TickFailed {
		status = http.StatusInternalServerError
	}
	h.writeJSON(w, r, status, res)
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	info, err := h.snapshots.Snapshot(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusCreated, info)
}

// writeJSON writes a success envelope.
func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	requestID := getRequestID(r)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(NewResponse(requestID, data)); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

// writeError writes an error envelope.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	requestID := getRequestID(r)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Error-Code", code)
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(NewErrorResponse(requestID, code, message, details))
}

// getRequestID returns the id set by the RequestID middleware.
func getRequestID(r *http.Request) string {
	return r.Header.Get("X-Request-ID")
}

// handleServiceError maps domain errors to responses. Anything else is
// logged and reported as DM-SYS-5000.
func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if de, ok := domain.AsDomainError(err); ok {
		h.writeError(w, r, de.Status(), de.Code, de.Error(), nil)
		return
	}

	h.logger.Error("internal error", "error", err)
	h.writeError(w, r, http.StatusInternalServerError, domain.ErrInternal.Code, "internal server error", nil)
}
