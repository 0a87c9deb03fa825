package tenantq

import "time"

const (
	defaultMaxAttempts  = 3
	defaultPollInterval = 500 * time.Millisecond
	defaultBackoffBase  = 2 * time.Second
	defaultBackoffMax   = 10 * time.Minute
	defaultRetention    = 24 * time.Hour
)

type enqueueOptions struct {
	id            string
	priority      Priority
	maxAttempts   int
	scheduledAt   time.Time
	delay         time.Duration
	correlationID string
}

// EnqueueOption configures a single Enqueue call.
type EnqueueOption func(*enqueueOptions)

// WithTaskID sets a custom ID for the task. If not provided, a random UUID will be generated.
func WithTaskID(id string) EnqueueOption {
	return func(o *enqueueOptions) {
		o.id = id
	}
}

// WithPriority sets the task priority. Default is PriorityNormal.
func WithPriority(p Priority) EnqueueOption {
	return func(o *enqueueOptions) {
		o.priority = p
	}
}

// WithMaxAttempts sets how many failed attempts are allowed. Default is 3.
func WithMaxAttempts(n int) EnqueueOption {
	return func(o *enqueueOptions) {
		o.maxAttempts = n
	}
}

// ScheduleAt holds the task in the delayed set until t.
func ScheduleAt(t time.Time) EnqueueOption {
	return func(o *enqueueOptions) {
		o.scheduledAt = t
	}
}

// Delay schedules the task to be executed after the specified duration.
func Delay(d time.Duration) EnqueueOption {
	return func(o *enqueueOptions) {
		o.delay = d
	}
}

// WithCorrelationID links the task to an external request; progress is published on it.
func WithCorrelationID(id string) EnqueueOption {
	return func(o *enqueueOptions) {
		o.correlationID = id
	}
}

type dequeueOptions struct {
	tenant string
	block  time.Duration
}

// DequeueOption configures a single Dequeue call.
type DequeueOption func(*dequeueOptions)

// PreferTenant pops from the tenant's own queue first, falling back to the global queue.
func PreferTenant(tenantID string) DequeueOption {
	return func(o *dequeueOptions) {
		o.tenant = tenantID
	}
}

// BlockFor waits up to d for a task to become ready.
func BlockFor(d time.Duration) DequeueOption {
	return func(o *dequeueOptions) {
		o.block = d
	}
}

type managerOptions struct {
	log          Logger
	observer     Observer
	encoder      Encoder
	pollInterval time.Duration
	backoffBase  time.Duration
	backoffMax   time.Duration
	retention    time.Duration
	dlqOpts      []DeadLetterOption
	now          func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*managerOptions)

// WithLogger sets the logger. Default is NoopLogger.
func WithLogger(l Logger) ManagerOption {
	return func(o *managerOptions) {
		o.log = l
	}
}

// WithObserver receives lifecycle events (see metrics.Observer).
func WithObserver(obs Observer) ManagerOption {
	return func(o *managerOptions) {
		o.observer = obs
	}
}

// WithEncoder replaces the JSON encoder used for payloads and results.
func WithEncoder(e Encoder) ManagerOption {
	return func(o *managerOptions) {
		o.encoder = e
	}
}

// WithPollInterval sets how often a blocking Dequeue retries. Default is 500ms.
func WithPollInterval(d time.Duration) ManagerOption {
	return func(o *managerOptions) {
		o.pollInterval = d
	}
}

// WithBackoff sets the retry delay to min(base * 2^attempts, max).
func WithBackoff(base, max time.Duration) ManagerOption {
	return func(o *managerOptions) {
		o.backoffBase = base
		o.backoffMax = max
	}
}

// WithRetention sets how long terminal task records are kept. Zero or negative keeps them forever.
func WithRetention(d time.Duration) ManagerOption {
	return func(o *managerOptions) {
		o.retention = d
	}
}

// WithDeadLetterOptions configures the Manager's dead-letter queue.
func WithDeadLetterOptions(opts ...DeadLetterOption) ManagerOption {
	return func(o *managerOptions) {
		o.dlqOpts = append(o.dlqOpts, opts...)
	}
}

func withClock(now func() time.Time) ManagerOption {
	return func(o *managerOptions) {
		o.now = now
	}
}
