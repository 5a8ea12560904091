// Package health tracks the observed health of the describe upstream.
//
// The record is deliberately coarse: a single flag plus the timestamp of the
// last fully successful describe call. Polling clients combine the two to
// decide whether an advisory connection reset is worth issuing before
// submitting.
package health

import (
	"sync"
	"time"
)

// Tracker is a process-wide health record. It starts optimistic (healthy,
// no recorded success) and is safe for concurrent use.
type Tracker struct {
	mu          sync.Mutex
	healthy     bool
	lastSuccess time.Time
}

// NewTracker returns a Tracker in the initial healthy state.
func NewTracker() *Tracker {
	return &Tracker{healthy: true}
}

// RecordSuccess marks the upstream healthy and stamps the success time.
func (t *Tracker) RecordSuccess() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.healthy = true
	t.lastSuccess = time.Now().UTC()
}

// RecordFailure marks the upstream unhealthy. The last success timestamp is
// kept so staleness can still be judged.
func (t *Tracker) RecordFailure() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.healthy = false
}

// Snapshot returns the current flag and last success time. A zero time means
// no describe call has ever succeeded.
func (t *Tracker) Snapshot() (healthy bool, lastSuccess time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.healthy, t.lastSuccess
}
