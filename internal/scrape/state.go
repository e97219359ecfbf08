package scrape

import (
	"sync"
	"time"
)

// Stats aggregates per-run observability counters.
type Stats struct {
	PagesProcessed int
	JobsSaved      int
	Requests       int
	Errors         int
}

// RunState is the mutable state scoped to a single run: the dedup set, the
// cached build token, the saved count and counters. It is created at run
// start and discarded at run end, never shared across runs, so concurrent
// runs (tests included) cannot interfere. Listing tasks run on separate
// goroutines, so every check-then-mutate path is guarded by the mutex.
type RunState struct {
	mu                   sync.Mutex
	seen                 map[string]struct{}
	buildID              string
	requiresVerification bool
	saved                int
	started              time.Time
	stats                Stats
}

// NewRunState returns run state anchored at the given start time.
func NewRunState(started time.Time) *RunState {
	return &RunState{
		seen:    make(map[string]struct{}),
		started: started,
	}
}

// MarkSeen records the identity key and reports whether it was new. The
// check and insert are a single critical section so interleaved listing
// tasks cannot both claim the same key.
func (s *RunState) MarkSeen(key string) bool {
	if key == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[key]; ok {
		return false
	}
	s.seen[key] = struct{}{}
	return true
}

// BuildID returns the cached release token, if any.
func (s *RunState) BuildID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buildID
}

// SetBuildID caches a release token discovered in a hydration payload.
func (s *RunState) SetBuildID(id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buildID = id
}

// InvalidateBuildID forgets the cached token, forcing rediscovery.
func (s *RunState) InvalidateBuildID() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buildID = ""
}

// MarkVerificationRequired records that some tier hit a verification gate.
func (s *RunState) MarkVerificationRequired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requiresVerification = true
}

// VerificationRequired reports whether a verification gate was observed.
func (s *RunState) VerificationRequired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requiresVerification
}

// Saved returns the number of records emitted so far.
func (s *RunState) Saved() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved
}

// IncSaved bumps the saved count and returns the new value.
func (s *RunState) IncSaved() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved++
	s.stats.JobsSaved = s.saved
	return s.saved
}

// CountRequest increments the request counter. The retry executor calls it
// once per attempt, success or failure.
func (s *RunState) CountRequest() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Requests++
}

// CountError increments the error counter.
func (s *RunState) CountError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Errors++
}

// SetPagesProcessed records the highest page number reached.
func (s *RunState) SetPagesProcessed(page int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.PagesProcessed = page
}

// Snapshot returns a copy of the counters.
func (s *RunState) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Started returns the run start time.
func (s *RunState) Started() time.Time {
	return s.started
}
