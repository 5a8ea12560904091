package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/menulens/internal/enrich"
	"github.com/kalambet/menulens/internal/health"
	"github.com/kalambet/menulens/internal/menu"
	"github.com/kalambet/menulens/internal/store"
)

type mockDescriber struct {
	fn func(ctx context.Context, imageB64, prompt string) ([]menu.Item, error)
}

func (m *mockDescriber) Describe(ctx context.Context, imageB64, prompt string) ([]menu.Item, error) {
	return m.fn(ctx, imageB64, prompt)
}

type mockIllustrator struct {
	calls atomic.Int32
	fn    func(description string) (string, error)
}

func (m *mockIllustrator) Illustrate(_ context.Context, description string) (string, error) {
	m.calls.Add(1)
	if m.fn == nil {
		return "data:image/jpeg;base64,QUJD", nil
	}
	return m.fn(description)
}

type testEnv struct {
	handler     http.Handler
	store       *store.Store
	tracker     *health.Tracker
	illustrator *mockIllustrator
	resets      atomic.Int32
}

func (e *testEnv) ResetConnections() { e.resets.Add(1) }

func newTestEnv(t *testing.T, describe func(ctx context.Context, imageB64, prompt string) ([]menu.Item, error)) *testEnv {
	t.Helper()

	env := &testEnv{
		store:       store.New(time.Minute),
		tracker:     health.NewTracker(),
		illustrator: &mockIllustrator{},
	}
	t.Cleanup(env.store.Close)

	env.handler = NewHandler(Deps{
		Describer:     &mockDescriber{fn: describe},
		Worker:        enrich.NewWorker(env.store, env.illustrator, 5),
		Store:         env.store,
		Health:        env.tracker,
		Resetter:      env,
		MaxImageBytes: 1024,
	})
	return env
}

func describeItems(n int) func(context.Context, string, string) ([]menu.Item, error) {
	return func(context.Context, string, string) ([]menu.Item, error) {
		items := make([]menu.Item, n)
		for i := range items {
			items[i] = menu.Item{
				Title:       fmt.Sprintf("dish %d", i),
				Description: fmt.Sprintf("description %d", i),
				Calories:    100 * (i + 1),
			}
		}
		return items, nil
	}
}

func postAnalyze(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/analyze", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeAnalyze(t *testing.T, rec *httptest.ResponseRecorder) (string, []menu.Item) {
	t.Helper()
	var resp struct {
		JobID string      `json:"jobId"`
		Items []menu.Item `json:"items"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding analyze response: %v", err)
	}
	return resp.JobID, resp.Items
}

func getJob(t *testing.T, h http.Handler, id string) (*httptest.ResponseRecorder, []menu.Item) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/jobs/"+id, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp struct {
		Items []menu.Item `json:"items"`
	}
	if rec.Code == http.StatusOK {
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decoding status response: %v", err)
		}
	}
	return rec, resp.Items
}

func TestAnalyze_MissingImage(t *testing.T) {
	env := newTestEnv(t, describeItems(1))

	rec := postAnalyze(t, env.handler, `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "image is required") {
		t.Errorf("body = %q, want it to mention the missing image", rec.Body.String())
	}
}

func TestAnalyze_OversizedImage(t *testing.T) {
	env := newTestEnv(t, describeItems(1))

	big := strings.Repeat("A", 2048)
	rec := postAnalyze(t, env.handler, `{"image":"`+big+`"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "image too large") {
		t.Errorf("body = %q, want image too large", rec.Body.String())
	}
}

func TestAnalyze_UpstreamFailure(t *testing.T) {
	env := newTestEnv(t, func(context.Context, string, string) ([]menu.Item, error) {
		return nil, errors.New("describe upstream failed after 3 attempts: timeout")
	})

	rec := postAnalyze(t, env.handler, `{"image":"aW1n"}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "timeout") {
		t.Errorf("body = %q, want it to carry the upstream message", rec.Body.String())
	}
	if env.store.Len() != 0 {
		t.Error("job created despite describe failure")
	}
}

func TestAnalyze_NoItems(t *testing.T) {
	env := newTestEnv(t, describeItems(0))

	rec := postAnalyze(t, env.handler, `{"image":"aW1n"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	jobID, items := decodeAnalyze(t, rec)
	if jobID != "" {
		t.Errorf("jobId = %q, want empty for zero items", jobID)
	}
	if len(items) != 0 {
		t.Errorf("items = %+v, want empty", items)
	}
	if env.store.Len() != 0 {
		t.Error("empty job should not be stored")
	}
}

func TestAnalyze_ThreeItems_FullScenario(t *testing.T) {
	env := newTestEnv(t, describeItems(3))

	rec := postAnalyze(t, env.handler, `{"image":"aW1n"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	jobID, items := decodeAnalyze(t, rec)
	if jobID == "" {
		t.Fatal("missing jobId")
	}
	if len(items) != 3 {
		t.Fatalf("got %d items, want 3", len(items))
	}
	for i, it := range items {
		if it.ImageStatus != menu.StatusLoading {
			t.Errorf("items[%d].ImageStatus = %q, want loading", i, it.ImageStatus)
		}
	}

	// Poll until the background pass settles every item.
	deadline := time.Now().Add(2 * time.Second)
	for {
		rec, polled := getJob(t, env.handler, jobID)
		if rec.Code != http.StatusOK {
			t.Fatalf("status poll = %d, want 200", rec.Code)
		}
		if menu.AllTerminal(polled) {
			for i, it := range polled {
				if it.Title != fmt.Sprintf("dish %d", i) {
					t.Errorf("items[%d].Title = %q, order not preserved", i, it.Title)
				}
				if it.ImageStatus != menu.StatusSuccess {
					t.Errorf("items[%d].ImageStatus = %q, want success", i, it.ImageStatus)
				}
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("enrichment never completed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if calls := env.illustrator.calls.Load(); calls != 3 {
		t.Errorf("illustrate calls = %d, want 3", calls)
	}
}

func TestAnalyze_OversizedMenuSkipped(t *testing.T) {
	env := newTestEnv(t, describeItems(7))

	rec := postAnalyze(t, env.handler, `{"image":"aW1n"}`)
	jobID, items := decodeAnalyze(t, rec)
	if len(items) != 7 {
		t.Fatalf("got %d items, want 7", len(items))
	}
	for i, it := range items {
		if it.ImageStatus != menu.StatusSkipped {
			t.Errorf("items[%d].ImageStatus = %q, want skipped", i, it.ImageStatus)
		}
	}

	// Give any stray goroutine a moment, then confirm no upstream calls.
	time.Sleep(50 * time.Millisecond)
	if calls := env.illustrator.calls.Load(); calls != 0 {
		t.Errorf("illustrate calls = %d, want 0", calls)
	}

	rec2, polled := getJob(t, env.handler, jobID)
	if rec2.Code != http.StatusOK {
		t.Fatalf("status poll = %d, want 200", rec2.Code)
	}
	for i, it := range polled {
		if it.ImageStatus != menu.StatusSkipped {
			t.Errorf("polled[%d].ImageStatus = %q, want skipped", i, it.ImageStatus)
		}
	}
}

func TestJobStatus_NotFound(t *testing.T) {
	env := newTestEnv(t, describeItems(1))

	rec, _ := getJob(t, env.handler, "does-not-exist")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "not found") {
		t.Errorf("body = %q, want not found", rec.Body.String())
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, describeItems(1))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	var resp struct {
		Healthy     bool       `json:"healthy"`
		LastSuccess *time.Time `json:"lastSuccess"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding health: %v", err)
	}
	if !resp.Healthy {
		t.Error("healthy = false on fresh tracker")
	}
	if resp.LastSuccess != nil {
		t.Errorf("lastSuccess = %v, want null before any success", resp.LastSuccess)
	}

	env.tracker.RecordSuccess()
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding health: %v", err)
	}
	if resp.LastSuccess == nil {
		t.Error("lastSuccess = null after a recorded success")
	}
}

func TestReset(t *testing.T) {
	env := newTestEnv(t, describeItems(1))

	req := httptest.NewRequest(http.MethodPost, "/reset", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp map[string]bool
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding reset: %v", err)
	}
	if !resp["success"] {
		t.Error("success = false")
	}
	if env.resets.Load() != 1 {
		t.Errorf("resets = %d, want 1", env.resets.Load())
	}
}
