package tenantq

import (
	"errors"
	"fmt"

	rtm "github.com/UniQw/tenantq/internal/runtime"
)

// ErrDuplicateTask is returned when Enqueue is called with an ID that belongs to a live task.
var ErrDuplicateTask = errors.New("tenantq: duplicate task id")

// ErrTaskNotFound is returned when a task with the specified ID is not found.
var ErrTaskNotFound = errors.New("tenantq: task not found")

// ErrTenantRequired is returned when an operation is called without a tenant id.
var ErrTenantRequired = errors.New("tenantq: tenant id required")

// ErrInvalidArgument is returned for malformed input, before the store is touched.
var ErrInvalidArgument = errors.New("tenantq: invalid argument")

// ErrTenantMismatch is returned when a write targets a record owned by another tenant.
var ErrTenantMismatch = errors.New("tenantq: tenant mismatch")

// ErrUnknownStatus is returned when an invalid status is parsed.
var ErrUnknownStatus = errors.New("tenantq: unknown status")

// ErrUnknownPriority is returned when an invalid priority is parsed.
var ErrUnknownPriority = errors.New("tenantq: unknown priority")

// ErrLimiterUnavailable is wrapped by rate limiter errors when the store cannot be reached.
// The accompanying result is always allowed (fail-open).
var ErrLimiterUnavailable = errors.New("tenantq: rate limiter unavailable")

// ErrNoHandler is returned by the server when no handler is registered for a task type.
// Such tasks fail without retry.
var ErrNoHandler = rtm.ErrNoHandler

// ErrSkipRetry can be returned (or wrapped) by a handler to fail the task
// without further attempts.
var ErrSkipRetry = rtm.ErrSkipRetry

// OpError records a failed store operation together with the task and tenant it concerned.
type OpError struct {
	Op       string
	TaskID   string
	TenantID string
	Err      error
}

func (e *OpError) Error() string {
	s := "tenantq: " + e.Op
	if e.TaskID != "" {
		s += " task=" + e.TaskID
	}
	if e.TenantID != "" {
		s += " tenant=" + e.TenantID
	}
	return s + ": " + e.Err.Error()
}

func (e *OpError) Unwrap() error { return e.Err }

func opErr(op, taskID, tenantID string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, TaskID: taskID, TenantID: tenantID, Err: err}
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidArgument}, args...)...)
}
