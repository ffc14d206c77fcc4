package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-consensus/internal/service/consensus"
)

// handleConsult runs one consultation. Per-model failures are part of the
// 200 report; only whole-call failures map to an error status.
func (s *Server) handleConsult(w http.ResponseWriter, r *http.Request) {
	var req consensus.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			respondError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		case errors.Is(err, io.EOF):
			respondError(w, http.StatusBadRequest, "request body is empty")
		default:
			respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		}
		return
	}

	report, err := s.consulter.Consult(r.Context(), req)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

type threadResponse struct {
	*core.Thread
	RemainingTurns int `json:"remaining_turns"`
}

// handleGetThread returns a stored continuation thread.
func (s *Server) handleGetThread(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "threadID")
	if s.threads == nil {
		respondError(w, http.StatusNotImplemented, "thread storage is disabled")
		return
	}

	thread, err := s.threads.GetThread(r.Context(), id)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	if thread == nil {
		s.respondDomainError(w, r, core.ErrNotFound("thread", id))
		return
	}
	respondJSON(w, http.StatusOK, threadResponse{
		Thread:         thread,
		RemainingTurns: thread.RemainingTurns(s.threads.MaxTurns()),
	})
}

func (s *Server) handleListModels(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string][]string{"models": s.models.Models()})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{"models": s.metrics.Snapshot()})
}
