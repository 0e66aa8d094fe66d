// Copyright 2025 Veralex
// SPDX-License-Identifier: BUSL-1.1

package job

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"veralex/platform/ledger/estimate"
	"veralex/platform/ledger/meter"
	"veralex/platform/ledger/reservation"
)

// Handler exposes the job lifecycle over HTTP. Submission and resume
// return 202 and run the stage loop in the background; status polling
// observes progress.
type Handler struct {
	orchestrator *Orchestrator

	// runTimeout bounds a background stage loop detached from the
	// submitting request's context.
	runTimeout time.Duration
}

func NewHandler(orchestrator *Orchestrator) *Handler {
	return &Handler{orchestrator: orchestrator, runTimeout: 2 * time.Hour}
}

// RegisterRoutes mounts the job API under /api/v1.
func (h *Handler) RegisterRoutes(router *mux.Router) {
	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/jobs", h.handleSubmit).Methods("POST")
	api.HandleFunc("/jobs/{id}", h.handleStatus).Methods("GET")
	api.HandleFunc("/jobs/{id}/resume", h.handleResume).Methods("POST")
	api.HandleFunc("/jobs/{id}/abandon", h.handleAbandon).Methods("POST")
	api.HandleFunc("/jobs/{id}/checkpoints", h.handleCheckpoints).Methods("GET")
	api.HandleFunc("/accounts/{id}/jobs", h.handleListByAccount).Methods("GET")
}

// StatusResponse is the job record plus live usage totals.
type StatusResponse struct {
	Job   *Job         `json:"job"`
	Usage *meter.Usage `json:"usage"`
}

// AbandonResponse reports the funds released by an abandon.
type AbandonResponse struct {
	JobID         string `json:"job_id"`
	Status        string `json:"status"`
	ReleasedCents int64  `json:"released_cents"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	j, err := h.orchestrator.Submit(r.Context(), &req)
	if err != nil {
		writeSubmitError(w, err)
		return
	}

	h.runDetached(j.ID, h.orchestrator.Run)

	w.Header().Set("Location", "/api/v1/jobs/"+j.ID)
	writeJSON(w, http.StatusAccepted, j)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	j, usage, err := h.orchestrator.Status(r.Context(), jobID)
	if err != nil {
		writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Job: j, Usage: usage})
}

func (h *Handler) handleResume(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	// Validate resumability synchronously so the caller gets a real
	// error instead of a 202 for a hopeless resume.
	j, _, err := h.orchestrator.Status(r.Context(), jobID)
	if err != nil {
		writeJobError(w, err)
		return
	}
	if !j.Status.Resumable() {
		writeError(w, http.StatusConflict, "job is not resumable from status "+string(j.Status))
		return
	}

	h.runDetached(jobID, h.orchestrator.Resume)
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID, "status": "resuming"})
}

func (h *Handler) handleAbandon(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	result, err := h.orchestrator.Abandon(r.Context(), jobID)
	if err != nil {
		writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AbandonResponse{
		JobID:         jobID,
		Status:        string(StatusAbandoned),
		ReleasedCents: result.ReleasedCents,
	})
}

func (h *Handler) handleCheckpoints(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	checkpoints, err := h.orchestrator.Checkpoints(r.Context(), jobID)
	if err != nil {
		writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"job_id":      jobID,
		"checkpoints": checkpoints,
	})
}

func (h *Handler) handleListByAccount(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["id"]
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	jobs, err := h.orchestrator.ListByAccount(r.Context(), accountID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []*Job{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account_id": accountID,
		"jobs":       jobs,
	})
}

// runDetached runs a stage loop in the background with its own context
// so it survives the HTTP request that triggered it.
func (h *Handler) runDetached(jobID string, fn func(context.Context, string) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.runTimeout)
		defer cancel()
		if err := fn(ctx, jobID); err != nil {
			log.Printf("[Jobs] Background run for job %s ended with error: %v", jobID, err)
		}
	}()
}

func writeSubmitError(w http.ResponseWriter, err error) {
	var insufficient *reservation.InsufficientFundsError
	switch {
	case errors.As(err, &insufficient):
		writeJSON(w, http.StatusPaymentRequired, map[string]interface{}{
			"error":           "insufficient funds",
			"requested_cents": insufficient.RequestedCents,
			"available_cents": insufficient.AvailableCents,
		})
	case errors.Is(err, reservation.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, "account not found")
	case errors.Is(err, estimate.ErrUnknownTier),
		errors.Is(err, estimate.ErrUnknownStageType),
		errors.Is(err, estimate.ErrEmptyWorkload),
		errors.Is(err, estimate.ErrInvalidDocumentSize):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "failed to submit job")
	}
}

func writeJobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, ErrNotResumable), errors.Is(err, ErrNotAbandonable), errors.Is(err, ErrAlreadyRunning):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("[Jobs] Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
