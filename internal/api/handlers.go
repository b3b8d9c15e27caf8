package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/leadflow/internal/model"
	"github.com/sells-group/leadflow/internal/pipeline"
)

type startResponse struct {
	JobID      string          `json:"job_id"`
	Steps      []model.Step    `json:"steps"`
	TotalItems int             `json:"total_items"`
	Status     model.JobStatus `json:"status"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]any{"error": err.Error()})
}

// statusFor maps registry errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrEmptyScope):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pipeline.ErrNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeRegistryErr(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		zap.L().Error("api: request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeErr(w, code, err)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.db.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req pipeline.StartRequest
	if err := decodeValidated(r, startRequestSchema, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	snap, err := s.jobs.Start(r.Context(), req)
	if err != nil {
		writeRegistryErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, startResponse{
		JobID:      snap.ID,
		Steps:      snap.Steps,
		TotalItems: snap.TotalItems,
		Status:     snap.Status,
	})
}

func (s *Server) handleListJobs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.jobs.ListActive())
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	snap, err := s.jobs.Status(chi.URLParam(r, "id"))
	if err != nil {
		writeRegistryErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	snap, err := s.jobs.Stop(chi.URLParam(r, "id"))
	if err != nil {
		writeRegistryErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleForceStop(w http.ResponseWriter, r *http.Request) {
	snap, err := s.jobs.ForceStop(chi.URLParam(r, "id"))
	if err != nil {
		writeRegistryErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeErr(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = min(n, 500)
	}
	jobs, err := s.jobs.History(r.Context(), limit)
	if err != nil {
		writeRegistryErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}
