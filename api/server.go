package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"job-queue/pkg/database"
	"job-queue/pkg/job"
	"job-queue/pkg/observability"
)

// store is what the HTTP surface needs from *database.Client.
type store interface {
	Ping(ctx context.Context) error
	Insert(ctx context.Context, req job.Request) (uuid.UUID, bool, error)
	GetJob(ctx context.Context, id uuid.UUID) (*job.Job, error)
	Fetch(ctx context.Context, name string, batchSize int) ([]job.Ref, error)
	Complete(ctx context.Context, id uuid.UUID) (*job.Ref, error)
	Cancel(ctx context.Context, id uuid.UUID) (*job.Ref, error)
	Fail(ctx context.Context, id uuid.UUID) (*job.Ref, error)
	CompleteMany(ctx context.Context, ids []uuid.UUID) (int64, error)
	CancelMany(ctx context.Context, ids []uuid.UUID) (int64, error)
	FailMany(ctx context.Context, ids []uuid.UUID) (int64, error)
	CountStates(ctx context.Context) (job.StateCounts, error)
}

type server struct {
	db         store
	logger     *slog.Logger
	retryLimit int
}

type resolveFunc func(context.Context, uuid.UUID) (*job.Ref, error)
type resolveManyFunc func(context.Context, []uuid.UUID) (int64, error)

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /jobs", s.handleInsert)
	mux.HandleFunc("GET /jobs/{id}", s.handleGetJob)
	mux.HandleFunc("POST /jobs/{id}/complete", s.handleResolve("completed", s.db.Complete))
	mux.HandleFunc("POST /jobs/{id}/cancel", s.handleResolve("cancelled", s.db.Cancel))
	mux.HandleFunc("POST /jobs/{id}/fail", s.handleResolve("failed", s.db.Fail))
	mux.HandleFunc("POST /jobs/complete", s.handleResolveMany("completed", s.db.CompleteMany))
	mux.HandleFunc("POST /jobs/cancel", s.handleResolveMany("cancelled", s.db.CancelMany))
	mux.HandleFunc("POST /jobs/fail", s.handleResolveMany("failed", s.db.FailMany))
	mux.HandleFunc("POST /queues/{name}/fetch", s.handleFetch)
	mux.HandleFunc("GET /states", s.handleStates)
	return mux
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		s.logger.Warn("health check failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleInsert(w http.ResponseWriter, r *http.Request) {
	// RetryLimit shadows the embedded field so an explicit 0 is kept.
	var body struct {
		job.Request
		RetryLimit *int `json:"retry_limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req := body.Request
	req.RetryLimit = s.retryLimit
	if body.RetryLimit != nil {
		req.RetryLimit = *body.RetryLimit
	}

	id, inserted, err := s.db.Insert(r.Context(), req)
	if err != nil {
		if errors.Is(err, job.ErrInvalidRequest) {
			observability.JobsInserted.WithLabelValues(req.Name, "invalid").Inc()
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		observability.JobsInserted.WithLabelValues(req.Name, "error").Inc()
		s.logger.Error("failed to insert job", "job_name", req.Name, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	status, result := http.StatusCreated, "inserted"
	if !inserted {
		status, result = http.StatusOK, "duplicate"
	}
	observability.JobsInserted.WithLabelValues(req.Name, result).Inc()
	s.logger.Info("job submitted", "job_id", id.String(), "job_name", req.Name, "inserted", inserted)
	writeJSON(w, status, map[string]any{"id": id, "inserted": inserted})
}

func (s *server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	j, err := s.db.GetJob(r.Context(), id)
	if errors.Is(err, database.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to load job", "job_id", id.String(), "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (s *server) handleResolve(outcome string, resolve resolveFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		ref, err := resolve(r.Context(), id)
		if err != nil {
			s.logger.Error("failed to resolve job", "job_id", id.String(), "outcome", outcome, "error", err)
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		if ref == nil {
			observability.JobsResolved.WithLabelValues("skipped").Inc()
			writeError(w, http.StatusConflict, "job is not in a state that allows this")
			return
		}
		observability.JobsResolved.WithLabelValues(outcome).Inc()
		writeJSON(w, http.StatusOK, ref)
	}
}

type idsBody struct {
	IDs []string `json:"ids"`
}

func (s *server) handleResolveMany(outcome string, resolve resolveManyFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body idsBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		ids, err := job.ParseIDs(body.IDs)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		n, err := resolve(r.Context(), ids)
		if err != nil {
			s.logger.Error("failed to resolve jobs", "count", len(ids), "outcome", outcome, "error", err)
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		observability.JobsResolved.WithLabelValues(outcome).Add(float64(n))
		if skipped := int64(len(ids)) - n; skipped > 0 {
			observability.JobsResolved.WithLabelValues("skipped").Add(float64(skipped))
		}
		writeJSON(w, http.StatusOK, map[string]int64{"affected": n})
	}
}

func (s *server) handleFetch(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	batch := 1
	if v := r.URL.Query().Get("batch"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "batch must be a positive integer")
			return
		}
		batch = n
	}

	refs, err := s.db.Fetch(r.Context(), name, batch)
	if errors.Is(err, job.ErrInvalidRequest) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("failed to fetch jobs", "job_name", name, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if refs == nil {
		refs = []job.Ref{}
	}
	observability.JobsFetched.WithLabelValues(name).Add(float64(len(refs)))
	writeJSON(w, http.StatusOK, refs)
}

func (s *server) handleStates(w http.ResponseWriter, r *http.Request) {
	counts, err := s.db.CountStates(r.Context())
	if err != nil {
		s.logger.Error("failed to count states", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := job.ParseID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
