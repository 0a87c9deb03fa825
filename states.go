package tenantq

// Status is the lifecycle state of a task.
// Use the exported constants (StatusQueued, StatusRunning, etc.) instead of
// raw strings to avoid typos.
type Status string

const (
	// StatusQueued tasks are ready in the priority structures.
	StatusQueued Status = "queued"
	// StatusRunning tasks are leased by exactly one worker.
	StatusRunning Status = "running"
	// StatusCompleted tasks finished successfully.
	StatusCompleted Status = "completed"
	// StatusRetrying tasks failed and wait in the delayed set for backoff to elapse.
	StatusRetrying Status = "retrying"
	// StatusFailed tasks exhausted their attempts (or were failed without retry).
	StatusFailed Status = "failed"
	// StatusDeadLetter marks records held by the dead-letter queue.
	StatusDeadLetter Status = "dead_letter"
	// StatusCancelled tasks were cancelled before completion.
	StatusCancelled Status = "cancelled"
)

// AllStatuses lists every valid status in a stable order.
var AllStatuses = []Status{
	StatusQueued, StatusRunning, StatusCompleted, StatusRetrying,
	StatusFailed, StatusDeadLetter, StatusCancelled,
}

// String returns the raw string value of the status.
func (s Status) String() string { return string(s) }

// IsTerminal reports whether no further transition is possible without a re-enqueue.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusDeadLetter, StatusCancelled:
		return true
	}
	return false
}

// ParseStatus converts a string into a Status, returning an error for unknown values.
func ParseStatus(s string) (Status, error) {
	for _, st := range AllStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", ErrUnknownStatus
}
