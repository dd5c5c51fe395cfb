package httpserver

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fairyhunter13/wholesale-order-core/internal/domain"
)

// MountAdmin registers the operator endpoints on r. Callers wrap r with
// BasicAuth before mounting.
func (s *Server) MountAdmin(r chi.Router) {
	r.Post("/jobs/{id}/retry", s.AdminRetryJobHandler())
	r.Get("/safe-mode", s.AdminSafeModeGetHandler())
	r.Put("/safe-mode", s.AdminSafeModeSetHandler())
}

// AdminRetryJobHandler restores a dead-lettered job and rewinds its
// artifact so the pipeline picks it back up.
func (s *Server) AdminRetryJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "id")
		if err := s.admin.RetryFromDLQ(r.Context(), jobID); err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "state": "WAITING"})
	}
}

// AdminSafeModeGetHandler reads the gate.
func (s *Server) AdminSafeModeGetHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		on, err := s.admin.SafeMode(r.Context())
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"safe_mode": on})
	}
}

type safeModeRequest struct {
	SafeMode *bool `json:"safe_mode"`
}

// AdminSafeModeSetHandler flips the gate. Clearing it drains any deferred
// ingestion jobs back into the live queue.
func (s *Server) AdminSafeModeSetHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req safeModeRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, err, nil)
			return
		}
		if req.SafeMode == nil {
			writeError(w, r, fmt.Errorf("%w: safe_mode is required", domain.ErrInvalidArgument), nil)
			return
		}
		if err := s.admin.SetSafeMode(r.Context(), *req.SafeMode); err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"safe_mode": *req.SafeMode})
	}
}
