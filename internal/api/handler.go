// Package api exposes the menu analysis HTTP surface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/menulens/internal/enrich"
	"github.com/kalambet/menulens/internal/health"
	"github.com/kalambet/menulens/internal/menu"
	"github.com/kalambet/menulens/internal/store"
)

// Describer is the synchronous vision extraction upstream.
type Describer interface {
	Describe(ctx context.Context, imageB64, prompt string) ([]menu.Item, error)
}

// Resetter drops idle upstream connections on request.
type Resetter interface {
	ResetConnections()
}

// Deps carries everything the handlers need. Handlers never keep item slices
// across suspension points; all job state flows through Store.
type Deps struct {
	Describer Describer
	Worker    *enrich.Worker
	Store     *store.Store
	Health    *health.Tracker
	Resetter  Resetter
	// MaxImageBytes bounds the base64-encoded image accepted by analyze.
	MaxImageBytes int64
}

// NewHandler builds the router: analyze, job status, health, reset.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Post("/analyze", handleAnalyze(deps))
	r.Get("/jobs/{jobID}", handleJobStatus(deps))
	r.Get("/health", handleHealth(deps))
	r.Post("/reset", handleReset(deps))

	return r
}

type analyzeRequest struct {
	Image  string `json:"image"`
	Prompt string `json:"prompt,omitempty"`
}

type analyzeResponse struct {
	JobID string      `json:"jobId"`
	Items []menu.Item `json:"items"`
}

func handleAnalyze(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Allow headroom for the JSON envelope around the image field.
		r.Body = http.MaxBytesReader(w, r.Body, deps.MaxImageBytes+4096)
		defer r.Body.Close()

		var req analyzeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusBadRequest, "image too large",
					fmt.Sprintf("encoded image must not exceed %d bytes", deps.MaxImageBytes))
				return
			}
			writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
			return
		}

		if req.Image == "" {
			writeError(w, http.StatusBadRequest, "image is required", "")
			return
		}
		if int64(len(req.Image)) > deps.MaxImageBytes {
			writeError(w, http.StatusBadRequest, "image too large",
				fmt.Sprintf("encoded image must not exceed %d bytes", deps.MaxImageBytes))
			return
		}

		prompt := req.Prompt
		if prompt == "" {
			prompt = menu.ExtractionPrompt
		}

		items, err := deps.Describer.Describe(r.Context(), req.Image, prompt)
		if err != nil {
			writeError(w, http.StatusBadGateway, "failed to process the menu image", err.Error())
			return
		}

		if len(items) == 0 {
			writeJSON(w, analyzeResponse{Items: []menu.Item{}})
			return
		}

		eligible := deps.Worker.Eligible(len(items))
		initial := menu.StatusLoading
		if !eligible {
			initial = menu.StatusSkipped
		}
		for i := range items {
			items[i].ImageStatus = initial
			items[i].ImageRef = ""
		}

		jobID := deps.Store.Create(items)
		deps.Store.ScheduleEviction(jobID)

		if eligible {
			// Enrichment runs off the response path; the request context
			// ends with this response, so detach from its cancellation.
			go deps.Worker.Run(context.WithoutCancel(r.Context()), jobID, items)
		}

		slog.Info("job created", "job_id", jobID, "items", len(items), "eligible", eligible)
		writeJSON(w, analyzeResponse{JobID: jobID, Items: items})
	}
}

type statusResponse struct {
	Items []menu.Item `json:"items"`
}

func handleJobStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "jobID")

		items, err := deps.Store.Get(id)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not found", "")
			return
		}

		writeJSON(w, statusResponse{Items: items})
	}
}

type healthResponse struct {
	Healthy     bool       `json:"healthy"`
	LastSuccess *time.Time `json:"lastSuccess"`
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		healthy, last := deps.Health.Snapshot()

		resp := healthResponse{Healthy: healthy}
		if !last.IsZero() {
			resp.LastSuccess = &last
		}
		writeJSON(w, resp)
	}
}

// handleReset drops idle upstream connections. Advisory only: the response
// never signals failure in a way the caller's flow should act on.
func handleReset(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Resetter != nil {
			deps.Resetter.ResetConnections()
		}
		writeJSON(w, map[string]bool{"success": true})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("writing response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, errMsg, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	payload := map[string]string{"error": errMsg}
	if detail != "" {
		payload["message"] = detail
	}
	json.NewEncoder(w).Encode(payload)
}
