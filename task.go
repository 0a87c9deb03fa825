package tenantq

import (
	"strconv"
	"strings"
)

// TaskType names a category of work; Mux routes on it and every type has its
// own global priority queue. Any non-empty name without ':' is accepted.
type TaskType string

const (
	TaskEmbedding    TaskType = "embedding"
	TaskAgent        TaskType = "agent"
	TaskExport       TaskType = "export"
	TaskNotification TaskType = "notification"
	TaskCleanup      TaskType = "cleanup"
	TaskHealthCheck  TaskType = "health_check"
	TaskBatch        TaskType = "batch"
)

func (t TaskType) String() string { return string(t) }

// Priority orders ready tasks; higher values are dequeued first.
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityNormal   Priority = 2
	PriorityHigh     Priority = 3
	PriorityCritical Priority = 4
	PriorityUrgent   Priority = 5
)

var priorityNames = map[Priority]string{
	PriorityLow:      "low",
	PriorityNormal:   "normal",
	PriorityHigh:     "high",
	PriorityCritical: "critical",
	PriorityUrgent:   "urgent",
}

// Valid reports whether p is one of the defined priorities.
func (p Priority) Valid() bool { return p >= PriorityLow && p <= PriorityUrgent }

func (p Priority) String() string {
	if n, ok := priorityNames[p]; ok {
		return n
	}
	return "priority(" + strconv.Itoa(int(p)) + ")"
}

// ParsePriority accepts a name ("high") or a number ("3").
func ParsePriority(s string) (Priority, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for p, n := range priorityNames {
		if n == s {
			return p, nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil && Priority(n).Valid() {
		return Priority(n), nil
	}
	return 0, ErrUnknownPriority
}

// Task represents a unit of work owned by exactly one tenant.
// It is stored in Redis as a hash; timestamps are Unix milliseconds.
type Task struct {
	// ID is the unique identifier for the task.
	ID string `json:"id"`
	// Type defines the task category, used by Mux to route to the correct handler.
	Type TaskType `json:"type"`
	// TenantID is the owning tenant; immutable after enqueue.
	TenantID string `json:"tenant_id"`
	Priority Priority `json:"priority"`
	// Payload is the raw task data (opaque JSON).
	Payload []byte `json:"payload"`
	Status  Status `json:"status"`
	// MaxAttempts bounds how many failed attempts are allowed before the task fails for good.
	MaxAttempts int `json:"max_attempts"`
	// Attempts is the number of failed attempts so far.
	Attempts int `json:"attempts"`
	// ScheduledAt is the earliest time (ms) the task may run.
	ScheduledAt int64 `json:"scheduled_at,omitempty"`
	// CreatedAt is the timestamp (ms) when the task was enqueued.
	CreatedAt int64 `json:"created_at"`
	// StartedAt is the timestamp (ms) when the current lease began.
	StartedAt int64 `json:"started_at,omitempty"`
	// CompletedAt is the timestamp (ms) when the task reached a terminal status.
	CompletedAt int64 `json:"completed_at,omitempty"`
	// WorkerID identifies the lease holder while running.
	WorkerID      string `json:"worker_id,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	// LastError is the error message from the last failed attempt.
	LastError string `json:"last_error,omitempty"`
	// LastErrorAt is the timestamp (ms) of the last failed attempt.
	LastErrorAt int64 `json:"last_error_at,omitempty"`
	// Result is the execution result stored as JSON.
	Result []byte `json:"result,omitempty"`
	// Progress is the last reported progress (0..100).
	Progress int `json:"progress,omitempty"`
}

// taskFromHash decodes the flat hash representation used by the scripts.
func taskFromHash(m map[string]string) *Task {
	t := &Task{
		ID:            m["id"],
		Type:          TaskType(m["type"]),
		TenantID:      m["tenant_id"],
		Status:        Status(m["status"]),
		WorkerID:      m["worker_id"],
		CorrelationID: m["correlation_id"],
		LastError:     m["last_error"],
	}
	if v, ok := m["payload"]; ok {
		t.Payload = []byte(v)
	}
	if v, ok := m["result"]; ok && v != "" {
		t.Result = []byte(v)
	}
	t.Priority = Priority(atoi(m["priority"]))
	t.MaxAttempts = atoi(m["max_attempts"])
	t.Attempts = atoi(m["attempts"])
	t.Progress = atoi(m["progress"])
	t.ScheduledAt = atoi64(m["scheduled_at"])
	t.CreatedAt = atoi64(m["created_at"])
	t.StartedAt = atoi64(m["started_at"])
	t.CompletedAt = atoi64(m["completed_at"])
	t.LastErrorAt = atoi64(m["last_error_at"])
	return t
}

// taskFromPairs decodes a flat HGETALL reply returned from a script.
func taskFromPairs(v []any) *Task {
	m := make(map[string]string, len(v)/2)
	for i := 0; i+1 < len(v); i += 2 {
		k, _ := v[i].(string)
		s, _ := v[i+1].(string)
		m[k] = s
	}
	return taskFromHash(m)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func atoi64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
