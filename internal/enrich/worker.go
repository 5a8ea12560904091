// Package enrich generates illustrative images for a job's items in the
// background, after the text result has already been returned to the client.
package enrich

import (
	"context"
	"log/slog"

	"github.com/kalambet/menulens/internal/menu"
)

// Illustrator is the image generation upstream. An empty ref with a nil
// error means the upstream produced no image.
type Illustrator interface {
	Illustrate(ctx context.Context, description string) (string, error)
}

// JobStore is the slice of the store the worker needs.
type JobStore interface {
	UpdateItem(id string, index int, imageRef string, status menu.Status)
	MarkAll(id string, status menu.Status)
	ScheduleEviction(id string)
}

// breakerThreshold is how many consecutive illustrate failures trip the
// per-job circuit breaker. The counter is monotonic within a job: a late
// success does not un-trip it, since upstream failures cluster.
const breakerThreshold = 2

// Worker runs one enrichment pass per job. Items are processed sequentially
// to respect upstream rate limits; jobs larger than maxItems are skipped
// whole because generation is too expensive to run for minutes.
type Worker struct {
	store       JobStore
	illustrator Illustrator
	maxItems    int
	logger      *slog.Logger
}

// NewWorker creates a Worker. maxItems <= 0 defaults to 5.
func NewWorker(store JobStore, illustrator Illustrator, maxItems int) *Worker {
	if maxItems <= 0 {
		maxItems = 5
	}
	return &Worker{
		store:       store,
		illustrator: illustrator,
		maxItems:    maxItems,
		logger:      slog.Default(),
	}
}

// Eligible reports whether a job with n items receives image enrichment.
func (w *Worker) Eligible(n int) bool {
	return n >= 1 && n <= w.maxItems
}

// Run enriches one job. Failures never propagate anywhere; they are only
// visible as item statuses. Eviction is (re-)scheduled when the pass ends,
// whatever its outcome.
func (w *Worker) Run(ctx context.Context, jobID string, items []menu.Item) {
	n := len(items)
	if n == 0 {
		return
	}
	defer w.store.ScheduleEviction(jobID)

	if n > w.maxItems {
		w.logger.Info("skipping image generation for oversized job",
			"job_id", jobID, "items", n, "max", w.maxItems)
		w.store.MarkAll(jobID, menu.StatusSkipped)
		return
	}

	failures := 0
	for i, item := range items {
		if failures >= breakerThreshold {
			w.store.UpdateItem(jobID, i, "", menu.StatusSkipped)
			continue
		}

		ref, err := w.illustrator.Illustrate(ctx, item.Description)
		switch {
		case err != nil:
			w.logger.Warn("image generation error", "job_id", jobID, "index", i, "error", err)
			w.store.UpdateItem(jobID, i, "", menu.StatusError)
			failures++
		case ref == "":
			w.store.UpdateItem(jobID, i, "", menu.StatusFailed)
			failures++
		default:
			w.store.UpdateItem(jobID, i, ref, menu.StatusSuccess)
		}
	}

	w.logger.Info("enrichment pass complete", "job_id", jobID, "items", n, "failures", failures)
}
