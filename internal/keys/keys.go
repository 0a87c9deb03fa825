package keys

// Package keys centralizes Redis key construction.
// It is kept in internal to avoid leaking key formats to public API.
//
// Tenant-scoped records follow tenant:<tenant>:<component>:<entity>:<id>.
// Cross-tenant structures live under queue:<task_type>:... and ratelimit:...
// The Lua scripts in internal/scripts build the same names from the namespace
// prefix, so any change here must be mirrored there.

import "strconv"

// Space builds keys under an optional namespace prefix (e.g. "app1:").
type Space struct {
	ns string
}

// New returns a key space for the given namespace. An empty namespace
// produces bare keys.
func New(ns string) Space { return Space{ns: ns} }

// NS returns the raw namespace prefix.
func (s Space) NS() string { return s.ns }

// Tenant returns tenant:<tenant>:<component>:<entity>:<id>.
func (s Space) Tenant(tenant, component, entity, id string) string {
	return s.ns + "tenant:" + tenant + ":" + component + ":" + entity + ":" + id
}

// TaskData is the hash holding a task record.
func (s Space) TaskData(tenant, id string) string { return s.Tenant(tenant, "task", "data", id) }

// TenantPending is the tenant's ready ZSET for one task type.
func (s Space) TenantPending(tenant, taskType string) string {
	return s.Tenant(tenant, "queue", "pending", taskType)
}

func (s Space) DeadLetter(tenant, id string) string { return s.Tenant(tenant, "deadletter", "task", id) }

// DeadLetterPattern matches every dead-letter record of a tenant (SCAN MATCH).
func (s Space) DeadLetterPattern(tenant string) string {
	return s.Tenant(tenant, "deadletter", "task", "*")
}

// DeadLetterIndex is a ZSET of task ids scored by last failure time (ms).
func (s Space) DeadLetterIndex(tenant string) string {
	return s.Tenant(tenant, "deadletter", "meta", "index")
}

// DeadLetterStats is a hash of aggregate counters (count, category:*, severity:*).
func (s Space) DeadLetterStats(tenant string) string {
	return s.Tenant(tenant, "deadletter", "meta", "stats")
}

// Progress is the pub/sub channel for progress updates of one correlation id.
func (s Space) Progress(tenant, correlationID string) string {
	return s.Tenant(tenant, "progress", "channel", correlationID)
}

// Owner maps a task id to its tenant. It lets lease operations that only
// carry a task id find the tenant-scoped record.
func (s Space) Owner(id string) string { return s.ns + "task:owner:" + id }

// Types is the SET of task types ever enqueued.
func (s Space) Types() string { return s.ns + "queue:types" }

// Tenants is the SET of tenants ever seen; used by cross-tenant sweeps.
func (s Space) Tenants() string { return s.ns + "queue:tenants" }

// Seq is the logical enqueue clock used as the FIFO component of scores.
func (s Space) Seq() string { return s.ns + "queue:seq" }

// Queue holds all precomputed global keys for a task type to avoid repeated concatenations.
type Queue struct {
	Priority string
	Delayed  string
	Running  string
	Stats    string
	// Handoff holds failed task ids still waiting for their dead-letter record.
	Handoff string
}

// For returns a set of precomputed keys for the provided task type.
func (s Space) For(taskType string) Queue {
	prefix := s.ns + "queue:" + taskType + ":"
	return Queue{
		Priority: prefix + "priority",
		Delayed:  prefix + "delayed",
		Running:  prefix + "running",
		Stats:    prefix + "stats",
		Handoff:  prefix + "deadletter:pending",
	}
}

// RateLimit returns ratelimit:<subject>:<identifier>:<window_seconds>.
func (s Space) RateLimit(subject, identifier string, windowSeconds int64) string {
	return s.ns + "ratelimit:" + subject + ":" + identifier + ":" + strconv.FormatInt(windowSeconds, 10)
}

// RateLimitLog is the sliding-window log ZSET paired with a counter key.
func (s Space) RateLimitLog(subject, identifier string, windowSeconds int64) string {
	return s.RateLimit(subject, identifier, windowSeconds) + ":log"
}

// RateLimitPattern matches every rate-limit key (SCAN MATCH).
func (s Space) RateLimitPattern() string { return s.ns + "ratelimit:*" }

// RateLimitPrefix is stripped from scanned keys to recover the subject type.
func (s Space) RateLimitPrefix() string { return s.ns + "ratelimit:" }
