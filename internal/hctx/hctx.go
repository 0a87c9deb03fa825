package hctx

import (
	"context"
	"sync"
)

// Info describes the task being executed.
type Info struct {
	ID            string
	TenantID      string
	Type          string
	CorrelationID string
	WorkerID      string
	Attempts      int
	MaxAttempts   int
}

// State holds per-execution, handler-provided metadata that the runtime
// can capture after handler returns.
type State struct {
	Info Info
	// OnProgress, when set, is called synchronously on every progress update.
	OnProgress func(int)

	mu       sync.Mutex
	progress int
	result   []byte
}

// New creates a fresh handler state container.
func New() *State { return &State{} }

// SetProgress records p and forwards it to OnProgress.
func (s *State) SetProgress(p int) {
	s.mu.Lock()
	s.progress = p
	s.mu.Unlock()
	if s.OnProgress != nil {
		s.OnProgress(p)
	}
}

// Progress returns the last recorded progress.
func (s *State) Progress() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

// SetResult replaces the result; last write wins.
func (s *State) SetResult(b []byte) {
	s.mu.Lock()
	s.result = b
	s.mu.Unlock()
}

// Result returns the current result.
func (s *State) Result() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

type ctxKey struct{}

// WithState returns a child context carrying the given handler state.
func WithState(parent context.Context, s *State) context.Context {
	return context.WithValue(parent, ctxKey{}, s)
}

// From extracts the handler state from context if present.
func From(ctx context.Context) (*State, bool) {
	v := ctx.Value(ctxKey{})
	if v == nil {
		return nil, false
	}
	st, ok := v.(*State)
	return st, ok
}
