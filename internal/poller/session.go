// Package poller drives the client side of a menu analysis: pre-flight
// health probe, optional advisory connection reset, the submission itself,
// and the polling loop that follows incremental image completion.
package poller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/kalambet/menulens/internal/config"
	"github.com/kalambet/menulens/internal/menu"
)

// Result is what a submission returns immediately. Updates carries each
// polled item snapshot and is closed when polling ends for any reason
// (completion, budget, failure, cancellation). When the job needs no
// polling, Updates is already closed.
type Result struct {
	JobID   string
	Items   []menu.Item
	Updates <-chan []menu.Item
}

// Session owns at most one active analysis pursuit. Starting a new one
// atomically cancels the previous submission and its polling loop, so a
// consumer never receives updates from a superseded job.
type Session struct {
	cfg    config.ClientConfig
	http   *http.Client
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewSession creates a Session against cfg.BaseURL.
func NewSession(cfg config.ClientConfig) *Session {
	return &Session{
		cfg:    cfg,
		http:   &http.Client{},
		logger: slog.Default(),
	}
}

// Analyze submits a base64-encoded menu image and returns the immediate
// text result. When the response contains items still awaiting images, a
// background loop polls for updates until every item settles, the polling
// budget runs out, or the pursuit is cancelled.
//
// Cancellation (via Cancel, a newer Analyze, or ctx) is silent: the Updates
// channel closes without a final send, and in-flight poll responses that
// arrive after cancellation are dropped.
func (s *Session) Analyze(ctx context.Context, imageB64 string) (Result, error) {
	opCtx := s.replaceActive(ctx)

	s.maybeReset(opCtx)

	jobID, items, err := s.submit(opCtx, imageB64)
	if err != nil {
		return Result{}, err
	}

	updates := make(chan []menu.Item)
	res := Result{JobID: jobID, Items: items, Updates: updates}

	if jobID == "" || menu.AllTerminal(items) {
		close(updates)
		return res, nil
	}

	go s.pollLoop(opCtx, jobID, updates)
	return res, nil
}

// Cancel tears down the active pursuit, if any. Safe to call repeatedly.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// replaceActive cancels the previous pursuit and installs a new one derived
// from ctx.
func (s *Session) replaceActive(ctx context.Context) context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	opCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	return opCtx
}

// maybeReset probes server health and, when the upstream looks both
// unhealthy and stale (or has never succeeded), issues one best-effort
// connection reset. Purely advisory; every outcome proceeds to submission.
func (s *Session) maybeReset(ctx context.Context) {
	if !s.cfg.ResetWhenStale {
		return
	}

	healthy, lastSuccess, err := s.Health(ctx)
	if err != nil {
		s.logger.Debug("health probe failed", "error", err)
		return
	}
	if healthy {
		return
	}

	stale := lastSuccess == nil || time.Since(*lastSuccess) > s.cfg.StaleAfter
	if !stale {
		return
	}

	if s.Reset(ctx) {
		s.logger.Info("issued advisory connection reset")
	}
}

// Health queries GET /health with a bounded timeout.
func (s *Session) Health(ctx context.Context) (healthy bool, lastSuccess *time.Time, err error) {
	hctx, cancel := context.WithTimeout(ctx, s.cfg.HealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(hctx, http.MethodGet, s.cfg.BaseURL+"/health", nil)
	if err != nil {
		return false, nil, err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return false, nil, err
	}
	defer resp.Body.Close()

	var body struct {
		Healthy     bool       `json:"healthy"`
		LastSuccess *time.Time `json:"lastSuccess"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, nil, fmt.Errorf("decoding health response: %w", err)
	}
	return body.Healthy, body.LastSuccess, nil
}

// Reset issues POST /reset. It reports whether the server acknowledged, and
// never fails the caller's flow.
func (s *Session) Reset(ctx context.Context) bool {
	rctx, cancel := context.WithTimeout(ctx, s.cfg.HealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(rctx, http.MethodPost, s.cfg.BaseURL+"/reset", nil)
	if err != nil {
		return false
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	var body struct {
		Success bool `json:"success"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false
	}
	return body.Success
}

func (s *Session) submit(ctx context.Context, imageB64 string) (string, []menu.Item, error) {
	payload, err := json.Marshal(map[string]string{"image": imageB64})
	if err != nil {
		return "", nil, fmt.Errorf("marshaling submission: %w", err)
	}

	sctx, cancel := context.WithTimeout(ctx, s.cfg.SubmitTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(sctx, http.MethodPost, s.cfg.BaseURL+"/analyze", bytes.NewReader(payload))
	if err != nil {
		return "", nil, fmt.Errorf("creating submission: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("submitting image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errBody struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&errBody); decodeErr == nil && errBody.Error != "" {
			if errBody.Message != "" {
				return "", nil, fmt.Errorf("analysis failed (%d): %s: %s", resp.StatusCode, errBody.Error, errBody.Message)
			}
			return "", nil, fmt.Errorf("analysis failed (%d): %s", resp.StatusCode, errBody.Error)
		}
		return "", nil, fmt.Errorf("analysis failed: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		JobID string      `json:"jobId"`
		Items []menu.Item `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", nil, fmt.Errorf("decoding submission response: %w", err)
	}
	return body.JobID, body.Items, nil
}

// pollLoop queries job status until every item settles, the budget expires,
// or ctx is cancelled. The first query fires immediately, then the loop runs
// on the configured interval. A failed query gets one retry after the longer
// delay; a second consecutive failure ends the loop silently.
func (s *Session) pollLoop(ctx context.Context, jobID string, updates chan<- []menu.Item) {
	defer close(updates)

	deadline := time.Now().Add(s.cfg.PollBudget)
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	failedOnce := false
	for {
		if time.Now().After(deadline) {
			s.logger.Debug("polling budget exhausted", "job_id", jobID)
			return
		}

		items, err := s.getStatus(ctx, jobID)
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			if failedOnce {
				s.logger.Debug("polling gave up", "job_id", jobID, "error", err)
				return
			}
			failedOnce = true
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.RetryDelay):
			}
			continue
		default:
			failedOnce = false
		}

		select {
		case updates <- items:
		case <-ctx.Done():
			return
		}

		if menu.AllTerminal(items) {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Session) getStatus(ctx context.Context, jobID string) ([]menu.Item, error) {
	pctx, cancel := context.WithTimeout(ctx, s.cfg.PollTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(pctx, http.MethodGet, s.cfg.BaseURL+"/jobs/"+jobID, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Items []menu.Item `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding status response: %w", err)
	}
	return body.Items, nil
}
