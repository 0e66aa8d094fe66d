// Copyright 2025 Veralex
// SPDX-License-Identifier: BUSL-1.1

package job

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, openingBalanceCents int64) (*httptest.Server, *testHarness) {
	t.Helper()

	h := newHarness(t, openingBalanceCents)
	router := mux.NewRouter()
	NewHandler(h.orchestrator).RegisterRoutes(router)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, h
}

func postJSON(t *testing.T, url string, payload interface{}) *http.Response {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	return resp
}

func TestHandleSubmit_AcceptedAndRunsToCompletion(t *testing.T) {
	srv, _ := newTestServer(t, 100000)

	resp := postJSON(t, srv.URL+"/api/v1/jobs", submitReq())
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var j Job
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&j))
	assert.NotEmpty(t, j.ID)
	assert.Equal(t, "/api/v1/jobs/"+j.ID, resp.Header.Get("Location"))

	// The stage loop runs in the background; poll until terminal.
	require.Eventually(t, func() bool {
		statusResp, err := http.Get(srv.URL + "/api/v1/jobs/" + j.ID)
		if err != nil {
			return false
		}
		defer statusResp.Body.Close()
		var status StatusResponse
		if err := json.NewDecoder(statusResp.Body).Decode(&status); err != nil {
			return false
		}
		return status.Job.Status == StatusCompleted
	}, 5*time.Second, 20*time.Millisecond)
}

func TestHandleSubmit_InsufficientFundsReturns402(t *testing.T) {
	srv, _ := newTestServer(t, 5)

	resp := postJSON(t, srv.URL+"/api/v1/jobs", submitReq())
	defer resp.Body.Close()
	require.Equal(t, http.StatusPaymentRequired, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "insufficient funds", body["error"])
	assert.Contains(t, body, "requested_cents")
	assert.Contains(t, body, "available_cents")
}

func TestHandleSubmit_BadTierReturns400(t *testing.T) {
	srv, _ := newTestServer(t, 100000)

	req := submitReq()
	req.Tier = "platinum"
	resp := postJSON(t, srv.URL+"/api/v1/jobs", req)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleStatus_NotFound(t *testing.T) {
	srv, _ := newTestServer(t, 100000)

	resp, err := http.Get(srv.URL + "/api/v1/jobs/no-such-job")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleResume_ConflictForCompletedJob(t *testing.T) {
	srv, h := newTestServer(t, 100000)

	j, err := h.orchestrator.Submit(context.Background(), submitReq())
	require.NoError(t, err)
	require.NoError(t, h.orchestrator.Run(context.Background(), j.ID))

	resp := postJSON(t, srv.URL+"/api/v1/jobs/"+j.ID+"/resume", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestHandleAbandon_ReleasesFunds(t *testing.T) {
	srv, h := newTestServer(t, 100000)

	j, err := h.orchestrator.Submit(context.Background(), submitReq())
	require.NoError(t, err)

	resp := postJSON(t, srv.URL+"/api/v1/jobs/"+j.ID+"/abandon", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var abandoned AbandonResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&abandoned))
	assert.Equal(t, j.PreAuthCents, abandoned.ReleasedCents)
}

func TestHandleCheckpoints_ListsStageOutputs(t *testing.T) {
	srv, h := newTestServer(t, 100000)

	j, err := h.orchestrator.Submit(context.Background(), submitReq())
	require.NoError(t, err)
	require.NoError(t, h.orchestrator.Run(context.Background(), j.ID))

	resp, err := http.Get(srv.URL + "/api/v1/jobs/" + j.ID + "/checkpoints")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		JobID       string        `json:"job_id"`
		Checkpoints []interface{} `json:"checkpoints"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Len(t, body.Checkpoints, 3)
}
