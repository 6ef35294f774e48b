package automation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/antoniostano/donna/internal/reliability"
)

// A run in flight tolerates this many consecutive transient status-poll
// failures before the run is reported failed.
const maxPollFailures = 3

// HTTPRunner drives a browser-automation service over HTTP: one call starts
// the run and returns the live session URL, then the runner polls the run
// status until it settles. Every request carries the configured bounded
// timeout.
type HTTPRunner struct {
	baseURL      string
	client       *http.Client
	pollInterval time.Duration
}

func NewHTTPRunner(baseURL string, timeout time.Duration) *HTTPRunner {
	return &HTTPRunner{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client: &http.Client{
			Timeout: timeout,
		},
		pollInterval: 2 * time.Second,
	}
}

type startRequest struct {
	Instruction string `json:"instruction"`
}

type startResponse struct {
	RunID      string `json:"run_id"`
	SessionURL string `json:"session_url"`
}

type statusResponse struct {
	Status string `json:"status"`
	Output string `json:"output"`
	Error  string `json:"error"`
}

func (r *HTTPRunner) Start(ctx context.Context, instruction string) (Run, error) {
	payload, err := json.Marshal(startRequest{Instruction: instruction})
	if err != nil {
		return nil, fmt.Errorf("marshal start request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/runs", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create start request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("start automation run: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return nil, fmt.Errorf("automation http status %d: %s", res.StatusCode, string(body))
	}

	var started startResponse
	if err := json.NewDecoder(res.Body).Decode(&started); err != nil {
		return nil, fmt.Errorf("decode start response: %w", err)
	}
	if started.RunID == "" {
		return nil, fmt.Errorf("automation start response missing run_id")
	}

	return &httpRun{runner: r, runID: started.RunID, sessionURL: started.SessionURL}, nil
}

type httpRun struct {
	runner     *HTTPRunner
	runID      string
	sessionURL string
}

func (h *httpRun) SessionURL() string { return h.sessionURL }

func (h *httpRun) Wait(ctx context.Context) (Result, error) {
	ticker := time.NewTicker(h.runner.pollInterval)
	defer ticker.Stop()

	failures := 0
	for {
		status, retryable, err := h.runner.fetchStatus(ctx, h.runID)
		if err != nil {
			failures++
			if !retryable || failures >= maxPollFailures {
				return Result{}, err
			}
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			case <-ticker.C:
			}
			continue
		}
		failures = 0
		switch strings.ToLower(status.Status) {
		case "done", "completed":
			return Result{Output: status.Output}, nil
		case "failed", "error":
			detail := status.Error
			if detail == "" {
				detail = "automation run failed"
			}
			return Result{}, fmt.Errorf("automation run %s: %s", h.runID, detail)
		}

		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *HTTPRunner) fetchStatus(ctx context.Context, runID string) (statusResponse, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/runs/"+runID, nil)
	if err != nil {
		return statusResponse{}, false, fmt.Errorf("create status request: %w", err)
	}
	res, err := r.client.Do(req)
	if err != nil {
		return statusResponse{}, true, fmt.Errorf("fetch run status: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		err := fmt.Errorf("automation status http %d: %s", res.StatusCode, string(body))
		return statusResponse{}, reliability.IsRetryableHTTPStatus(res.StatusCode), err
	}
	var status statusResponse
	if err := json.NewDecoder(res.Body).Decode(&status); err != nil {
		return statusResponse{}, false, fmt.Errorf("decode status response: %w", err)
	}
	return status, false, nil
}
