package tenantq

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	ikeys "github.com/UniQw/tenantq/internal/keys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDLQ(t *testing.T, opts ...DeadLetterOption) (*DeadLetterQueue, *Manager, *testClock) {
	t.Helper()
	m, _, clk := newTestManager(t, WithDeadLetterOptions(opts...))
	return m.DeadLetters(), m, clk
}

func failedTask(id, tenant string) *Task {
	return &Task{
		ID: id, TenantID: tenant, Type: TaskExport, Priority: PriorityHigh,
		Payload: []byte(`{"k":"v"}`), MaxAttempts: 3, CorrelationID: "corr-" + id,
	}
}

func TestDeadLetter_AddGet(t *testing.T) {
	d, _, clk := newTestDLQ(t)
	ctx := context.Background()

	first := clk.Now().UnixMilli()
	require.NoError(t, d.Add(ctx, failedTask("t1", "acme"), errors.New("quota exhausted"), "w1", 3, CategoryResource, SeverityMedium))

	rec, err := d.Get(ctx, "acme", "t1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "acme", rec.TenantID)
	assert.Equal(t, TaskExport, rec.TaskType)
	assert.Equal(t, PriorityHigh, rec.Priority)
	assert.Equal(t, "quota exhausted", rec.ErrorMessage)
	assert.Equal(t, "*errors.errorString", rec.ErrorType)
	assert.Equal(t, CategoryResource, rec.Category)
	assert.Equal(t, SeverityMedium, rec.Severity)
	assert.True(t, rec.AutoRetry)
	assert.Equal(t, "corr-t1", rec.CorrelationID)
	assert.Equal(t, first, rec.FirstFailedAt)
	assert.JSONEq(t, `{"k":"v"}`, string(rec.Payload))

	// replacing keeps the first failure time and does not double count
	clk.Advance(time.Minute)
	require.NoError(t, d.Add(ctx, failedTask("t1", "acme"), errors.New("invalid payload"), "w2", 3, CategoryValidation, SeverityHigh))
	rec, err = d.Get(ctx, "acme", "t1")
	require.NoError(t, err)
	assert.Equal(t, first, rec.FirstFailedAt)
	assert.Equal(t, clk.Now().UnixMilli(), rec.LastFailedAt)
	assert.False(t, rec.AutoRetry)

	stats, err := d.GetStatistics(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Count)
	assert.Equal(t, map[Category]int64{CategoryValidation: 1}, stats.ByCategory)
	assert.Equal(t, map[Severity]int64{SeverityHigh: 1}, stats.BySeverity)

	missing, err := d.Get(ctx, "acme", "nope")
	require.NoError(t, err)
	require.Nil(t, missing)

	require.ErrorIs(t, d.Add(ctx, nil, nil, "", 0, "", ""), ErrInvalidArgument)
	require.ErrorIs(t, d.Add(ctx, failedTask("t2", ""), nil, "", 0, "", ""), ErrTenantRequired)
}

func TestDeadLetter_DefaultsWhenUnclassified(t *testing.T) {
	d, _, _ := newTestDLQ(t)
	ctx := context.Background()

	require.NoError(t, d.Add(ctx, failedTask("t1", "acme"), nil, "w1", 1, "", ""))
	rec, err := d.Get(ctx, "acme", "t1")
	require.NoError(t, err)
	assert.Equal(t, CategoryUnknown, rec.Category)
	assert.Equal(t, SeverityMedium, rec.Severity)
	assert.Equal(t, "unknown error", rec.ErrorMessage)
}

func TestDeadLetter_TenantMismatchIsInvisible(t *testing.T) {
	d, m, _ := newTestDLQ(t)
	ctx := context.Background()
	rdb := m.rdb

	// a record stored under globex whose body claims acme
	key := ikeys.New("").DeadLetter("globex", "forged")
	require.NoError(t, rdb.HSet(ctx, key, "task_id", "forged", "tenant_id", "acme", "last_failed_at", "1").Err())

	rec, err := d.Get(ctx, "globex", "forged")
	require.NoError(t, err)
	require.Nil(t, rec)
	rec, err = d.Get(ctx, "acme", "forged")
	require.NoError(t, err)
	require.Nil(t, rec)

	list, err := d.List(ctx, "globex", 10)
	require.NoError(t, err)
	require.Empty(t, list)

	ok, err := d.Remove(ctx, "globex", "forged")
	require.ErrorIs(t, err, ErrTenantMismatch)
	require.False(t, ok)
	ok, err = d.Retry(ctx, "globex", "forged")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDeadLetter_List(t *testing.T) {
	d, _, clk := newTestDLQ(t, WithScanCount(3))
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		require.NoError(t, d.Add(ctx, failedTask(fmt.Sprintf("t%02d", i), "acme"), errors.New("boom"), "w", 3, CategoryInternal, SeverityHigh))
		clk.Advance(time.Second)
	}
	require.NoError(t, d.Add(ctx, failedTask("other", "globex"), errors.New("boom"), "w", 3, CategoryInternal, SeverityHigh))

	all, err := d.List(ctx, "acme", 0)
	require.NoError(t, err)
	require.Len(t, all, 12)
	require.Equal(t, "t11", all[0].TaskID)
	require.Equal(t, "t00", all[11].TaskID)
	for _, r := range all {
		require.Equal(t, "acme", r.TenantID)
	}

	top, err := d.List(ctx, "acme", 5)
	require.NoError(t, err)
	require.Len(t, top, 5)
	require.Equal(t, "t11", top[0].TaskID)

	_, err = d.List(ctx, "", 5)
	require.ErrorIs(t, err, ErrTenantRequired)
}

func TestDeadLetter_Remove(t *testing.T) {
	d, m, _ := newTestDLQ(t)
	ctx := context.Background()

	require.NoError(t, d.Add(ctx, failedTask("t1", "acme"), errors.New("boom"), "w", 3, CategoryInternal, SeverityHigh))
	ok, err := d.Remove(ctx, "acme", "t1")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = d.Remove(ctx, "acme", "t1")
	require.NoError(t, err)
	require.False(t, ok)

	stats, err := d.GetStatistics(ctx, "acme")
	require.NoError(t, err)
	require.Zero(t, stats.Count)
	require.Empty(t, stats.ByCategory)
	n, _ := m.rdb.ZCard(ctx, ikeys.New("").DeadLetterIndex("acme")).Result()
	require.Zero(t, n)
}

func TestDeadLetter_Statistics(t *testing.T) {
	d, _, clk := newTestDLQ(t)
	ctx := context.Background()

	empty, err := d.GetStatistics(ctx, "acme")
	require.NoError(t, err)
	require.Zero(t, empty.Count)
	require.Zero(t, empty.OldestAge)

	require.NoError(t, d.Add(ctx, failedTask("a", "acme"), errors.New("timeout"), "w", 1, CategoryTimeout, SeverityLow))
	clk.Advance(time.Minute)
	require.NoError(t, d.Add(ctx, failedTask("b", "acme"), errors.New("timeout"), "w", 1, CategoryTimeout, SeverityLow))
	require.NoError(t, d.Add(ctx, failedTask("c", "acme"), errors.New("forbidden"), "w", 1, CategoryPermission, SeverityHigh))
	clk.Advance(time.Minute)

	s, err := d.GetStatistics(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, int64(3), s.Count)
	assert.Equal(t, int64(2), s.ByCategory[CategoryTimeout])
	assert.Equal(t, int64(1), s.ByCategory[CategoryPermission])
	assert.Equal(t, int64(2), s.BySeverity[SeverityLow])
	assert.Equal(t, 2*time.Minute, s.OldestAge)
}

func TestDeadLetter_Alert(t *testing.T) {
	var mu sync.Mutex
	var alerted []string
	d, _, _ := newTestDLQ(t, WithAlert(func(_ context.Context, rec *DeadLetterTask) {
		mu.Lock()
		alerted = append(alerted, rec.TaskID)
		mu.Unlock()
	}))
	ctx := context.Background()

	require.NoError(t, d.Add(ctx, failedTask("low", "acme"), errors.New("x"), "w", 1, CategoryNetwork, SeverityLow))
	require.NoError(t, d.Add(ctx, failedTask("high", "acme"), errors.New("x"), "w", 1, CategoryInternal, SeverityHigh))
	require.NoError(t, d.Add(ctx, failedTask("crit", "acme"), errors.New("x"), "w", 1, CategoryInternal, SeverityCritical))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"high", "crit"}, alerted)
}

func TestDeadLetter_AutoRetry(t *testing.T) {
	d, m, clk := newTestDLQ(t, WithAutoRetry(1, time.Minute))
	ctx := context.Background()

	netID, _ := m.Enqueue(ctx, TaskAgent, "acme", "n", WithMaxAttempts(1))
	valID, _ := m.Enqueue(ctx, TaskAgent, "acme", "v", WithMaxAttempts(1))
	for i := 0; i < 2; i++ {
		task, err := m.Dequeue(ctx, TaskAgent, "w1")
		require.NoError(t, err)
		msg := "connection reset by peer"
		if task.ID == valID {
			msg = "invalid payload"
		}
		_, err = m.Fail(ctx, task.ID, "w1", errors.New(msg), true)
		require.NoError(t, err)
	}

	// still cooling down
	n, err := d.ProcessAutoRetries(ctx, "acme")
	require.NoError(t, err)
	require.Zero(t, n)

	clk.Advance(2 * time.Minute)
	n, err = d.ProcessAutoRetries(ctx, "acme")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	status, err := m.GetTaskStatus(ctx, netID)
	require.NoError(t, err)
	require.Equal(t, StatusQueued, status)
	status, err = m.GetTaskStatus(ctx, valID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, status)

	// fails again: the retry budget is spent
	task, err := m.Dequeue(ctx, TaskAgent, "w1")
	require.NoError(t, err)
	require.Equal(t, netID, task.ID)
	_, err = m.Fail(ctx, netID, "w1", errors.New("connection reset by peer"), true)
	require.NoError(t, err)
	rec, err := d.Get(ctx, "acme", netID)
	require.NoError(t, err)
	require.Equal(t, 1, rec.AutoRetryCount)

	clk.Advance(2 * time.Minute)
	n, err = d.ProcessAutoRetries(ctx, "acme")
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestDeadLetter_AutoRetryDisabled(t *testing.T) {
	d, _, clk := newTestDLQ(t)
	ctx := context.Background()
	require.NoError(t, d.Add(ctx, failedTask("t1", "acme"), errors.New("timeout"), "w", 1, CategoryTimeout, SeverityLow))
	clk.Advance(time.Hour)
	n, err := d.ProcessAutoRetries(ctx, "acme")
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestDeadLetter_CleanupOldTasks(t *testing.T) {
	d, _, clk := newTestDLQ(t)
	ctx := context.Background()

	require.NoError(t, d.Add(ctx, failedTask("old", "acme"), errors.New("x"), "w", 1, CategoryInternal, SeverityHigh))
	clk.Advance(48 * time.Hour)
	require.NoError(t, d.Add(ctx, failedTask("new", "acme"), errors.New("x"), "w", 1, CategoryInternal, SeverityHigh))

	n, err := d.CleanupOldTasks(ctx, "acme", 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	rec, err := d.Get(ctx, "acme", "old")
	require.NoError(t, err)
	require.Nil(t, rec)
	rec, err = d.Get(ctx, "acme", "new")
	require.NoError(t, err)
	require.NotNil(t, rec)

	_, err = d.CleanupOldTasks(ctx, "acme", 0)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestErrorType(t *testing.T) {
	op := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("refused")}
	assert.Equal(t, "*net.OpError", errorType(WithCategory(op, CategoryNetwork)))
	assert.Equal(t, "*net.OpError", errorType(&OpError{Op: "x", Err: op}))
	assert.Equal(t, "*fmt.wrapError", errorType(fmt.Errorf("wrapped: %w", op)))
}

func TestDeadLetter_AutoRetry_PagesPastSkippedRecords(t *testing.T) {
	d, m, clk := newTestDLQ(t, WithScanCount(2), WithAutoRetry(3, time.Minute))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("val-%d", i)
		require.NoError(t, d.Add(ctx, failedTask(id, "acme"), errors.New("invalid payload"), "w", 3, CategoryValidation, ""))
		clk.Advance(time.Second)
	}
	require.NoError(t, d.Add(ctx, failedTask("net-1", "acme"), errors.New("connection reset by peer"), "w", 3, CategoryNetwork, ""))

	clk.Advance(time.Hour)
	n, err := d.ProcessAutoRetries(ctx, "acme")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	status, err := m.GetTaskStatus(ctx, "net-1")
	require.NoError(t, err)
	require.Equal(t, StatusQueued, status)
	rec, err := d.Get(ctx, "acme", "net-1")
	require.NoError(t, err)
	require.Nil(t, rec)

	stats, err := d.GetStatistics(ctx, "acme")
	require.NoError(t, err)
	require.EqualValues(t, 5, stats.Count)

	n, err = d.ProcessAutoRetries(ctx, "acme")
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestDeadLetter_Validation(t *testing.T) {
	d, _, _ := newTestDLQ(t)
	ctx := context.Background()

	_, err := d.Get(ctx, "acme", "")
	require.ErrorIs(t, err, ErrInvalidArgument)
	_, err = d.Remove(ctx, "acme", "")
	require.ErrorIs(t, err, ErrInvalidArgument)
	_, err = d.Retry(ctx, "acme", "")
	require.ErrorIs(t, err, ErrInvalidArgument)
	_, err = d.Retry(ctx, "", "t1")
	require.ErrorIs(t, err, ErrTenantRequired)

	for _, limit := range []int{-3, 1001, 5000} {
		_, err = d.List(ctx, "acme", limit)
		require.ErrorIs(t, err, ErrInvalidArgument, "limit %d", limit)
	}
	list, err := d.List(ctx, "acme", maxListLimit)
	require.NoError(t, err)
	require.Empty(t, list)
}
