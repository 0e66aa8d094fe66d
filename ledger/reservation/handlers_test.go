// Copyright 2025 Veralex
// SPDX-License-Identifier: BUSL-1.1

package reservation

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHandlerServer(t *testing.T) (*httptest.Server, *Manager) {
	t.Helper()

	m := NewManager(NewMemoryRepository())
	router := mux.NewRouter()
	NewHandler(m).RegisterRoutes(router)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, m
}

func post(t *testing.T, url string, payload interface{}) *http.Response {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	return resp
}

func TestCreateAccountHandler(t *testing.T) {
	srv, _ := newHandlerServer(t)

	resp := post(t, srv.URL+"/api/v1/accounts", CreateAccountRequest{
		ID:                  "acct-1",
		Name:                "Harmon & Lowe LLP",
		OpeningBalanceCents: 50000,
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Same ID again conflicts.
	dup := post(t, srv.URL+"/api/v1/accounts", CreateAccountRequest{ID: "acct-1"})
	defer dup.Body.Close()
	assert.Equal(t, http.StatusConflict, dup.StatusCode)
}

func TestCreateAccountHandler_RequiresID(t *testing.T) {
	srv, _ := newHandlerServer(t)

	resp := post(t, srv.URL+"/api/v1/accounts", CreateAccountRequest{Name: "No ID"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAccountSummaryHandler(t *testing.T) {
	srv, m := newHandlerServer(t)
	ctx := context.Background()

	_, err := m.CreateAccount(ctx, "acct-1", "Test", 1000)
	require.NoError(t, err)
	_, err = m.Block(ctx, "acct-1", "job-1", 400)
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/api/v1/accounts/acct-1/summary")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var summary AccountSummaryResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summary))
	assert.Equal(t, int64(1000), summary.BalanceCents)
	assert.Equal(t, int64(400), summary.BlockedCents)
	assert.Equal(t, int64(600), summary.AvailableCents)
}

func TestAccountSummaryHandler_NotFound(t *testing.T) {
	srv, _ := newHandlerServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/accounts/ghost/summary")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreditHandler(t *testing.T) {
	srv, m := newHandlerServer(t)

	_, err := m.CreateAccount(context.Background(), "acct-1", "Test", 100)
	require.NoError(t, err)

	resp := post(t, srv.URL+"/api/v1/accounts/acct-1/credit", CreditRequest{
		AmountCents: 900,
		Memo:        "wire transfer",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var txn Transaction
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&txn))
	assert.Equal(t, KindCredit, txn.Kind)
	assert.Equal(t, int64(1000), txn.BalanceAfterCents)
}

func TestCreditHandler_RejectsNonPositiveAmount(t *testing.T) {
	srv, m := newHandlerServer(t)

	_, err := m.CreateAccount(context.Background(), "acct-1", "Test", 100)
	require.NoError(t, err)

	resp := post(t, srv.URL+"/api/v1/accounts/acct-1/credit", CreditRequest{AmountCents: 0})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSettleReservationHandler_OperatorReconciliation(t *testing.T) {
	srv, m := newHandlerServer(t)
	ctx := context.Background()

	_, err := m.CreateAccount(ctx, "acct-1", "Test", 1000)
	require.NoError(t, err)
	_, err = m.Block(ctx, "acct-1", "job-1", 600)
	require.NoError(t, err)

	resp := post(t, srv.URL+"/api/v1/reservations/job-1/settle", SettleReservationRequest{
		RealCostCents: 400,
		MarkupBps:     12000,
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result SettleResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, int64(480), result.ChargedCents)

	// A repeat settle surfaces as a conflict, not a silent success.
	again := post(t, srv.URL+"/api/v1/reservations/job-1/settle", SettleReservationRequest{RealCostCents: 400})
	defer again.Body.Close()
	assert.Equal(t, http.StatusConflict, again.StatusCode)
}

func TestCancelReservationHandler(t *testing.T) {
	srv, m := newHandlerServer(t)
	ctx := context.Background()

	_, err := m.CreateAccount(ctx, "acct-1", "Test", 1000)
	require.NoError(t, err)
	_, err = m.Block(ctx, "acct-1", "job-1", 600)
	require.NoError(t, err)

	resp := post(t, srv.URL+"/api/v1/reservations/job-1/cancel", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result CancelResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, int64(600), result.ReleasedCents)
}

func TestListTransactionsHandler_Pagination(t *testing.T) {
	srv, m := newHandlerServer(t)
	ctx := context.Background()

	_, err := m.CreateAccount(ctx, "acct-1", "Test", 100000)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := m.Credit(ctx, "acct-1", 100, "top-up")
		require.NoError(t, err)
	}

	resp, err := http.Get(srv.URL + "/api/v1/accounts/acct-1/transactions?limit=2&offset=0")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Transactions []Transaction `json:"transactions"`
		Total        int           `json:"total"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 5, body.Total)
	assert.Len(t, body.Transactions, 2)
}
