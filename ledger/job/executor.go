// Copyright 2025 Veralex
// SPDX-License-Identifier: BUSL-1.1

package job

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"veralex/platform/ledger/estimate"
)

// StageExecutor runs one analysis stage and reports what it actually
// cost. Implementations wrap the model-serving backends; the
// orchestrator stays ignorant of how a stage produces its output.
type StageExecutor interface {
	Execute(ctx context.Context, req *ExecuteRequest) (*StageResult, error)
}

// ExecuteRequest is the executor's view of one stage invocation.
// Context is the orchestration state returned by the previous stage,
// nil on the first stage of a fresh run.
type ExecuteRequest struct {
	JobID      string             `json:"job_id"`
	StageIndex int                `json:"stage_index"`
	StageType  estimate.StageType `json:"stage_type"`
	Tier       estimate.Tier      `json:"tier"`
	Document   json.RawMessage    `json:"document,omitempty"`
	Context    json.RawMessage    `json:"context,omitempty"`
}

// HTTPExecutor calls a stage-execution service over HTTP. The service
// contract is POST {baseURL}/execute with an ExecuteRequest body and a
// StageResult response.
type HTTPExecutor struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

func NewHTTPExecutor(baseURL, authToken string, timeout time.Duration) *HTTPExecutor {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &HTTPExecutor{
		baseURL:    baseURL,
		authToken:  authToken,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (e *HTTPExecutor) Execute(ctx context.Context, req *ExecuteRequest) (*StageResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal execute request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create execute request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if e.authToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.authToken)
	}

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("executor request failed for job %s stage %d: %w", req.JobID, req.StageIndex, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read executor response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("executor returned status %d for job %s stage %d: %s",
			resp.StatusCode, req.JobID, req.StageIndex, truncate(string(payload), 200))
	}

	var result StageResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("failed to parse executor response: %w", err)
	}
	if result.CostCents < 0 || result.Tokens < 0 {
		return nil, fmt.Errorf("executor reported negative usage for job %s stage %d", req.JobID, req.StageIndex)
	}
	return &result, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
