package tenantq

import (
	"context"

	"github.com/UniQw/tenantq/internal/hctx"
)

// TaskInfo describes the task a handler is executing.
type TaskInfo struct {
	ID            string
	TenantID      string
	Type          TaskType
	CorrelationID string
	WorkerID      string
	// Attempts is the number of failed attempts before this one.
	Attempts    int
	MaxAttempts int
}

// GetTaskInfo returns the running task's metadata. ok is false outside the server runtime.
func GetTaskInfo(ctx context.Context) (TaskInfo, bool) {
	st, ok := hctx.From(ctx)
	if !ok || st == nil {
		return TaskInfo{}, false
	}
	i := st.Info
	return TaskInfo{
		ID:            i.ID,
		TenantID:      i.TenantID,
		Type:          TaskType(i.Type),
		CorrelationID: i.CorrelationID,
		WorkerID:      i.WorkerID,
		Attempts:      i.Attempts,
		MaxAttempts:   i.MaxAttempts,
	}, true
}

// SetProgress allows a handler to report progress (0..100) for the current task.
// The runtime stores it on the task and publishes it on the correlation channel.
// It is a no-op if the context is not provided by the server runtime.
func SetProgress(ctx context.Context, p int) {
	st, ok := hctx.From(ctx)
	if !ok || st == nil {
		return
	}
	if p < 0 {
		p = 0
	} else if p > 100 {
		p = 100
	}
	st.SetProgress(p)
}

// SetResult encodes the provided value using the default JSON encoder and
// attaches it as the handler result. It is safe to call multiple times; last wins.
// It is a no-op if the context is not provided by the server runtime.
func SetResult(ctx context.Context, v any) error {
	st, ok := hctx.From(ctx)
	if !ok || st == nil {
		return nil
	}
	var enc Encoder = &JSONEncoder{}
	b, err := enc.Encode(v)
	if err != nil {
		return err
	}
	st.SetResult(b)
	return nil
}

// SetResultBytes attaches raw JSON bytes as the handler result without encoding.
// It is a no-op if the context is not provided by the server runtime.
func SetResultBytes(ctx context.Context, b []byte) {
	st, ok := hctx.From(ctx)
	if !ok || st == nil {
		return
	}
	st.SetResult(b)
}
