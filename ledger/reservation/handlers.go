// Copyright 2025 Veralex
// SPDX-License-Identifier: BUSL-1.1

package reservation

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
)

// Handler provides HTTP handlers for account and ledger APIs
type Handler struct {
	manager *Manager
}

// NewHandler creates a new ledger handler
func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

// RegisterRoutes registers account and reservation routes with a gorilla/mux router
func (h *Handler) RegisterRoutes(r *mux.Router) {
	// Account endpoints
	r.HandleFunc("/api/v1/accounts", h.CreateAccount).Methods("POST")
	r.HandleFunc("/api/v1/accounts/{id}/summary", h.GetAccountSummary).Methods("GET")
	r.HandleFunc("/api/v1/accounts/{id}/transactions", h.ListTransactions).Methods("GET")
	r.HandleFunc("/api/v1/accounts/{id}/credit", h.CreditAccount).Methods("POST")

	// Operator reconciliation for jobs whose reservation was left open
	r.HandleFunc("/api/v1/reservations/{job_id}", h.GetReservation).Methods("GET")
	r.HandleFunc("/api/v1/reservations/{job_id}/settle", h.SettleReservation).Methods("POST")
	r.HandleFunc("/api/v1/reservations/{job_id}/cancel", h.CancelReservation).Methods("POST")
}

// CreateAccountRequest is the request body for creating an account
type CreateAccountRequest struct {
	ID                  string `json:"id"`
	Name                string `json:"name,omitempty"`
	OpeningBalanceCents int64  `json:"opening_balance_cents"`
}

// CreateAccount handles POST /api/v1/accounts
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ID == "" {
		writeError(w, "Account ID is required", http.StatusBadRequest)
		return
	}

	account, err := h.manager.CreateAccount(r.Context(), req.ID, req.Name, req.OpeningBalanceCents)
	if err != nil {
		if err == ErrAccountExists {
			writeError(w, "Account already exists", http.StatusConflict)
			return
		}
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusCreated, account)
}

// AccountSummaryResponse exposes balance, blocked and available funds
type AccountSummaryResponse struct {
	AccountID      string `json:"account_id"`
	BalanceCents   int64  `json:"balance_cents"`
	BlockedCents   int64  `json:"blocked_cents"`
	AvailableCents int64  `json:"available_cents"`
}

// GetAccountSummary handles GET /api/v1/accounts/{id}/summary
func (h *Handler) GetAccountSummary(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	account, err := h.manager.AccountSummary(r.Context(), id)
	if err != nil {
		if err == ErrAccountNotFound {
			writeError(w, "Account not found", http.StatusNotFound)
			return
		}
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, AccountSummaryResponse{
		AccountID:      account.ID,
		BalanceCents:   account.BalanceCents,
		BlockedCents:   account.BlockedCents,
		AvailableCents: account.AvailableCents(),
	})
}

// ListTransactions handles GET /api/v1/accounts/{id}/transactions
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	query := r.URL.Query()

	opts := ListTransactionsOptions{
		Kind:  TransactionKind(query.Get("kind")),
		JobID: query.Get("job_id"),
	}
	if v := query.Get("start_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			opts.StartTime = t
		}
	}
	if v := query.Get("end_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			opts.EndTime = t
		}
	}
	if v := query.Get("limit"); v != "" {
		opts.Limit, _ = strconv.Atoi(v)
	}
	if v := query.Get("offset"); v != "" {
		opts.Offset, _ = strconv.Atoi(v)
	}

	txns, total, err := h.manager.ListTransactions(r.Context(), id, opts)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if txns == nil {
		txns = []Transaction{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": txns,
		"total":        total,
		"limit":        opts.Limit,
		"offset":       opts.Offset,
	})
}

// CreditRequest is the request body for a manual credit
type CreditRequest struct {
	AmountCents int64  `json:"amount_cents"`
	Memo        string `json:"memo,omitempty"`
}

// CreditAccount handles POST /api/v1/accounts/{id}/credit
func (h *Handler) CreditAccount(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req CreditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	txn, err := h.manager.Credit(r.Context(), id, req.AmountCents, req.Memo)
	if err != nil {
		switch err {
		case ErrAccountNotFound:
			writeError(w, "Account not found", http.StatusNotFound)
		case ErrInvalidAmount:
			writeError(w, "Amount must be greater than 0", http.StatusBadRequest)
		default:
			writeError(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusCreated, txn)
}

// GetReservation handles GET /api/v1/reservations/{job_id}
func (h *Handler) GetReservation(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["job_id"]

	res, err := h.manager.OpenReservation(r.Context(), jobID)
	if err != nil {
		if err == ErrNoOpenReservation {
			writeError(w, "No open reservation for job", http.StatusNotFound)
			return
		}
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// SettleReservationRequest is the operator settlement request body
type SettleReservationRequest struct {
	RealCostCents int64 `json:"real_cost_cents"`
	MarkupBps     int64 `json:"markup_bps"`
}

// SettleReservation handles POST /api/v1/reservations/{job_id}/settle.
// Used by operators to reconcile jobs that failed with the reservation
// left open.
func (h *Handler) SettleReservation(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["job_id"]

	var req SettleReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.MarkupBps == 0 {
		req.MarkupBps = 10000
	}

	result, err := h.manager.Settle(r.Context(), jobID, req.RealCostCents, req.MarkupBps)
	if err != nil {
		switch {
		case err == ErrNoOpenReservation:
			writeError(w, "No open reservation for job", http.StatusConflict)
		case err == ErrInvalidAmount || err == ErrInvalidMarkup:
			writeError(w, err.Error(), http.StatusBadRequest)
		default:
			writeError(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// CancelReservation handles POST /api/v1/reservations/{job_id}/cancel
func (h *Handler) CancelReservation(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["job_id"]

	result, err := h.manager.Cancel(r.Context(), jobID)
	if err != nil {
		if err == ErrNoOpenReservation {
			writeError(w, "No open reservation for job", http.StatusConflict)
			return
		}
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
