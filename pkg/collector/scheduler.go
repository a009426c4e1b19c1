package collector

import (
	"context"
	"errors"
	"sync"
)

// ErrSuperseded is the cancellation cause of a run replaced by a newer run
// over the same scope
var ErrSuperseded = errors.New("superseded by a newer collection")

// Scheduler runs collection requests so that at most one run per scope is in
// flight: starting a run cancels the previous run of the same scope. Runs of
// different scopes do not affect each other.
type Scheduler struct {
	collector *Collector

	mu       sync.Mutex
	inflight map[string]*scheduledRun
}

type scheduledRun struct {
	cancel context.CancelCauseFunc
}

// NewScheduler creates a scheduler backed by c
func NewScheduler(c *Collector) *Scheduler {
	return &Scheduler{
		collector: c,
		inflight:  make(map[string]*scheduledRun),
	}
}

// Run collects req, superseding any in-flight run of req.Scope. A superseded
// run returns an error matching ErrSuperseded.
func (s *Scheduler) Run(ctx context.Context, req Request) (*Result, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	run := &scheduledRun{cancel: cancel}

	s.mu.Lock()
	if prev, ok := s.inflight[req.Scope]; ok {
		prev.cancel(ErrSuperseded)
	}
	s.inflight[req.Scope] = run
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.inflight[req.Scope] == run {
			delete(s.inflight, req.Scope)
		}
		s.mu.Unlock()
		cancel(nil)
	}()

	result, err := s.collector.Collect(ctx, req)
	if err != nil && ctx.Err() != nil {
		return nil, context.Cause(ctx)
	}
	return result, err
}

// Cancel stops the in-flight run of scope, if any
func (s *Scheduler) Cancel(scope string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run, ok := s.inflight[scope]; ok {
		run.cancel(context.Canceled)
		delete(s.inflight, scope)
	}
}

// InFlight reports whether a run of scope is active
func (s *Scheduler) InFlight(scope string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inflight[scope]
	return ok
}
