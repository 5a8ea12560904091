// Package store holds per-job item state in memory. Jobs live for a bounded
// retention window and are then evicted; nothing survives a process restart.
package store

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/menulens/internal/menu"
)

// ErrNotFound is returned when a job does not exist or has been evicted.
// The two cases are indistinguishable on purpose.
var ErrNotFound = errors.New("not found")

// Store is the single owner of all job state. Handlers and workers read and
// mutate items only through its methods; Get hands out copies so no caller
// ever holds a reference into the live array.
type Store struct {
	ttl time.Duration

	mu     sync.Mutex
	jobs   map[string][]menu.Item
	timers map[string]*time.Timer
	closed bool
}

// New creates a Store whose jobs are evicted ttl after eviction is scheduled.
func New(ttl time.Duration) *Store {
	return &Store{
		ttl:    ttl,
		jobs:   make(map[string][]menu.Item),
		timers: make(map[string]*time.Timer),
	}
}

// Create registers a new job with the given items and returns its ID.
// The items slice is copied.
func (s *Store) Create(items []menu.Item) string {
	id := uuid.New().String()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[id] = append([]menu.Item(nil), items...)
	return id
}

// Get returns a copy of the job's item array, or ErrNotFound.
func (s *Store) Get(id string) ([]menu.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]menu.Item(nil), items...), nil
}

// UpdateItem sets one item's image reference and status in place. Unknown
// IDs, out-of-range indices, and items already in a terminal status are
// silently ignored: terminal statuses never regress, and a write racing an
// eviction is simply lost.
func (s *Store) UpdateItem(id string, index int, imageRef string, status menu.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, ok := s.jobs[id]
	if !ok || index < 0 || index >= len(items) {
		return
	}
	if items[index].ImageStatus.Terminal() {
		return
	}
	items[index].ImageRef = imageRef
	items[index].ImageStatus = status
}

// MarkAll moves every non-terminal item of the job to the given status.
func (s *Store) MarkAll(id string, status menu.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, ok := s.jobs[id]
	if !ok {
		return
	}
	for i := range items {
		if items[i].ImageStatus.Terminal() {
			continue
		}
		items[i].ImageStatus = status
	}
}

// ScheduleEviction arranges for the job to be removed after the store's TTL.
// Scheduling twice for the same job keeps the earlier deadline.
func (s *Store) ScheduleEviction(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if _, ok := s.jobs[id]; !ok {
		return
	}
	if _, ok := s.timers[id]; ok {
		return
	}
	s.timers[id] = time.AfterFunc(s.ttl, func() { s.evict(id) })
}

func (s *Store) evict(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	delete(s.timers, id)
}

// Len reports the number of live jobs.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Close stops all pending eviction timers. Jobs are left in place; the
// process is shutting down anyway.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}
