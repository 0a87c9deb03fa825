package tenantq

import (
	"context"
	"time"
)

// EventKind names a task lifecycle transition.
type EventKind string

const (
	EventEnqueued     EventKind = "enqueued"
	EventDequeued     EventKind = "dequeued"
	EventCompleted    EventKind = "completed"
	EventRetried      EventKind = "retried"
	EventFailed       EventKind = "failed"
	EventDeadLettered EventKind = "dead_lettered"
	EventCancelled    EventKind = "cancelled"
	EventReclaimed    EventKind = "reclaimed"
	EventRateLimited  EventKind = "rate_limited"
)

// Event describes one transition. Wait is the queue wait on dequeue and the
// run time on completion/failure.
type Event struct {
	Kind     EventKind
	TaskID   string
	TenantID string
	TaskType TaskType
	Priority Priority
	Attempts int
	Wait     time.Duration
	Err      error

	// LimitSubject and LimitID identify the rejected subject of a
	// rate_limited event. TenantID is set too only for the "tenant" subject.
	LimitSubject string
	LimitID      string
}

// Observer receives lifecycle events. Implementations must be safe for concurrent use
// and must not block.
type Observer interface {
	Observe(ctx context.Context, ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ev Event)

func (f ObserverFunc) Observe(ctx context.Context, ev Event) { f(ctx, ev) }

// NoopObserver discards events.
type NoopObserver struct{}

func (NoopObserver) Observe(context.Context, Event) {}
