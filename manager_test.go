package tenantq

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	ikeys "github.com/UniQw/tenantq/internal/keys"
	mrd "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock { return &testClock{t: time.Now()} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newMiniClient(t testing.TB) (*redis.Client, *mrd.Miniredis) {
	t.Helper()
	s := mrd.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, s
}

func newTestManager(t *testing.T, opts ...ManagerOption) (*Manager, *redis.Client, *testClock) {
	t.Helper()
	rdb, _ := newMiniClient(t)
	clk := newTestClock()
	opts = append([]ManagerOption{withClock(clk.Now), WithPollInterval(10 * time.Millisecond)}, opts...)
	return NewManager(NewConnFactory(rdb), opts...), rdb, clk
}

func TestManager_Enqueue_Basics(t *testing.T) {
	m, rdb, _ := newTestManager(t)
	ctx := context.Background()
	k := ikeys.New("")

	id, err := m.Enqueue(ctx, TaskEmbedding, "acme", map[string]int{"a": 1})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	// ready in both the global and the tenant structure
	n, _ := rdb.ZCard(ctx, k.For("embedding").Priority).Result()
	require.Equal(t, int64(1), n)
	n, _ = rdb.ZCard(ctx, k.TenantPending("acme", "embedding")).Result()
	require.Equal(t, int64(1), n)

	task, err := m.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, task.Status)
	assert.Equal(t, "acme", task.TenantID)
	assert.Equal(t, PriorityNormal, task.Priority)
	assert.Equal(t, 3, task.MaxAttempts)
	assert.Equal(t, 0, task.Attempts)
	assert.JSONEq(t, `{"a":1}`, string(task.Payload))

	// delayed
	_, err = m.Enqueue(ctx, TaskEmbedding, "acme", nil, Delay(time.Hour))
	require.NoError(t, err)
	n, _ = rdb.ZCard(ctx, k.For("embedding").Delayed).Result()
	require.Equal(t, int64(1), n)

	// duplicate id rejection
	_, err = m.Enqueue(ctx, TaskEmbedding, "acme", nil, WithTaskID("dup-one"))
	require.NoError(t, err)
	_, err = m.Enqueue(ctx, TaskEmbedding, "acme", nil, WithTaskID("dup-one"))
	require.ErrorIs(t, err, ErrDuplicateTask)
	// an id owned by another tenant is also a duplicate
	_, err = m.Enqueue(ctx, TaskEmbedding, "globex", nil, WithTaskID("dup-one"))
	require.ErrorIs(t, err, ErrDuplicateTask)
}

func TestManager_Enqueue_Validation(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Enqueue(ctx, TaskExport, "", nil)
	require.ErrorIs(t, err, ErrTenantRequired)
	_, err = m.Enqueue(ctx, TaskExport, "a:b", nil)
	require.ErrorIs(t, err, ErrInvalidArgument)
	_, err = m.Enqueue(ctx, "", "acme", nil)
	require.ErrorIs(t, err, ErrInvalidArgument)
	_, err = m.Enqueue(ctx, TaskExport, "acme", nil, WithPriority(9))
	require.ErrorIs(t, err, ErrInvalidArgument)
	_, err = m.Enqueue(ctx, TaskExport, "acme", nil, WithMaxAttempts(0))
	require.ErrorIs(t, err, ErrInvalidArgument)
	_, err = m.Dequeue(ctx, TaskExport, "")
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestManager_PriorityOrder(t *testing.T) {
	cases := [][]Priority{
		{PriorityLow, PriorityCritical, PriorityNormal, PriorityHigh},
		{PriorityLow, PriorityNormal, PriorityCritical, PriorityHigh, PriorityHigh},
		{PriorityHigh, PriorityLow, PriorityHigh, PriorityNormal, PriorityLow},
		{PriorityCritical, PriorityUrgent, PriorityLow},
		{PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical, PriorityUrgent},
		{PriorityUrgent, PriorityCritical, PriorityUrgent, PriorityNormal},
	}
	cases = append(cases, permutePriorities([]Priority{PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical})...)

	for _, order := range cases {
		t.Run(priorityCaseName(order), func(t *testing.T) {
			m, _, _ := newTestManager(t)
			ctx := context.Background()

			ids := make([]string, len(order))
			for i, p := range order {
				id, err := m.Enqueue(ctx, TaskBatch, "acme", i, WithPriority(p))
				require.NoError(t, err)
				ids[i] = id
			}

			// Highest band first, enqueue order within a band.
			idx := make([]int, len(order))
			for i := range idx {
				idx[i] = i
			}
			sort.SliceStable(idx, func(a, b int) bool { return order[idx[a]] > order[idx[b]] })

			for n, i := range idx {
				task, err := m.Dequeue(ctx, TaskBatch, "w1")
				require.NoError(t, err)
				require.NotNil(t, task, "dequeue %d", n)
				require.Equal(t, ids[i], task.ID, "dequeue %d want %s", n, order[i])
				require.Equal(t, order[i], task.Priority)
				require.Equal(t, StatusRunning, task.Status)
				require.Equal(t, "w1", task.WorkerID)
			}
			task, err := m.Dequeue(ctx, TaskBatch, "w1")
			require.NoError(t, err)
			require.Nil(t, task)
		})
	}
}

func permutePriorities(ps []Priority) [][]Priority {
	if len(ps) <= 1 {
		return [][]Priority{append([]Priority(nil), ps...)}
	}
	var out [][]Priority
	for i, p := range ps {
		rest := make([]Priority, 0, len(ps)-1)
		rest = append(rest, ps[:i]...)
		rest = append(rest, ps[i+1:]...)
		for _, tail := range permutePriorities(rest) {
			out = append(out, append([]Priority{p}, tail...))
		}
	}
	return out
}

func priorityCaseName(order []Priority) string {
	names := make([]string, len(order))
	for i, p := range order {
		names[i] = p.String()
	}
	return strings.Join(names, "_")
}

func TestManager_ConcurrentDequeue_ExactlyOnce(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	const total = 60
	for i := 0; i < total; i++ {
		_, err := m.Enqueue(ctx, TaskAgent, fmt.Sprintf("tenant-%d", i%3), i)
		require.NoError(t, err)
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(worker string) {
			defer wg.Done()
			for {
				task, err := m.Dequeue(ctx, TaskAgent, worker)
				if err != nil || task == nil {
					return
				}
				mu.Lock()
				seen[task.ID]++
				mu.Unlock()
			}
		}(fmt.Sprintf("w%d", w))
	}
	wg.Wait()

	require.Len(t, seen, total)
	for id, n := range seen {
		require.Equal(t, 1, n, "task %s delivered %d times", id, n)
	}
}

func TestManager_TenantIsolation(t *testing.T) {
	m, _, _ := newTestManager(t, WithBackoff(time.Millisecond, time.Millisecond))
	ctx := context.Background()

	idA, err := m.Enqueue(ctx, TaskExport, "tenant-a", "a")
	require.NoError(t, err)
	idB, err := m.Enqueue(ctx, TaskExport, "tenant-b", "b")
	require.NoError(t, err)

	// tenant-preferring pop takes the tenant's own task even though A was first globally
	task, err := m.Dequeue(ctx, TaskExport, "w1", PreferTenant("tenant-b"))
	require.NoError(t, err)
	require.Equal(t, idB, task.ID)
	// and falls back to the global queue once the tenant's queue is empty
	task, err = m.Dequeue(ctx, TaskExport, "w1", PreferTenant("tenant-b"))
	require.NoError(t, err)
	require.Equal(t, idA, task.ID)

	_, err = m.GetTenantTask(ctx, "tenant-b", idA)
	require.ErrorIs(t, err, ErrTaskNotFound)
	got, err := m.GetTenantTask(ctx, "tenant-a", idA)
	require.NoError(t, err)
	require.Equal(t, "tenant-a", got.TenantID)

	// dead-letter records are invisible to other tenants
	ok, err := m.Fail(ctx, idA, "w1", errors.New("bad input"), false)
	require.NoError(t, err)
	require.True(t, ok)
	rec, err := m.DeadLetters().Get(ctx, "tenant-b", idA)
	require.NoError(t, err)
	require.Nil(t, rec)
	rec, err = m.DeadLetters().Get(ctx, "tenant-a", idA)
	require.NoError(t, err)
	require.NotNil(t, rec)

	list, err := m.DeadLetters().List(ctx, "tenant-b", 10)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestManager_RetryThenDeadLetter(t *testing.T) {
	m, rdb, clk := newTestManager(t, WithBackoff(100*time.Millisecond, time.Second))
	ctx := context.Background()

	id, err := m.Enqueue(ctx, TaskNotification, "acme", map[string]string{"to": "x"}, WithMaxAttempts(2))
	require.NoError(t, err)

	task, err := m.Dequeue(ctx, TaskNotification, "w1")
	require.NoError(t, err)
	require.Equal(t, id, task.ID)

	ok, err := m.Fail(ctx, id, "w1", errors.New("connection refused"), true)
	require.NoError(t, err)
	require.True(t, ok)
	task, err = m.GetTask(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StatusRetrying, task.Status)
	require.Equal(t, 1, task.Attempts)
	require.Equal(t, "connection refused", task.LastError)
	// backoff: base * 2^attempts
	require.Equal(t, clk.Now().Add(200*time.Millisecond).UnixMilli(), task.ScheduledAt)

	// not due yet
	none, err := m.Dequeue(ctx, TaskNotification, "w1")
	require.NoError(t, err)
	require.Nil(t, none)

	clk.Advance(time.Second)
	task, err = m.Dequeue(ctx, TaskNotification, "w2")
	require.NoError(t, err)
	require.NotNil(t, task)
	require.Equal(t, id, task.ID)
	require.Equal(t, 1, task.Attempts)

	ok, err = m.Fail(ctx, id, "w2", errors.New("connection refused"), true)
	require.NoError(t, err)
	require.True(t, ok)
	status, err := m.GetTaskStatus(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, status)

	rec, err := m.DeadLetters().Get(ctx, "acme", id)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 2, rec.Attempts)
	assert.Equal(t, 2, rec.MaxAttempts)
	assert.Equal(t, CategoryNetwork, rec.Category)
	assert.Equal(t, SeverityLow, rec.Severity)
	assert.Equal(t, "w2", rec.WorkerID)
	assert.True(t, rec.AutoRetry)
	assert.JSONEq(t, `{"to":"x"}`, string(rec.Payload))

	stats, err := m.GetQueueStats(ctx, TaskNotification)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Retried)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(1), stats.DeadLettered)

	// retry from the dead-letter queue resets attempts and removes the record
	ok, err = m.DeadLetters().Retry(ctx, "acme", id)
	require.NoError(t, err)
	require.True(t, ok)
	task, err = m.GetTask(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StatusQueued, task.Status)
	require.Equal(t, 0, task.Attempts)
	require.JSONEq(t, `{"to":"x"}`, string(task.Payload))
	rec, err = m.DeadLetters().Get(ctx, "acme", id)
	require.NoError(t, err)
	require.Nil(t, rec)
	n, _ := rdb.ZCard(ctx, ikeys.New("").DeadLetterIndex("acme")).Result()
	require.Zero(t, n)

	task, err = m.Dequeue(ctx, TaskNotification, "w3")
	require.NoError(t, err)
	require.Equal(t, id, task.ID)
}

func TestManager_Complete_Idempotent(t *testing.T) {
	m, rdb, _ := newTestManager(t)
	ctx := context.Background()

	id, _ := m.Enqueue(ctx, TaskCleanup, "acme", nil)
	_, err := m.Dequeue(ctx, TaskCleanup, "w1")
	require.NoError(t, err)

	// only the lease holder may complete
	ok, err := m.Complete(ctx, id, "someone-else", nil)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = m.Complete(ctx, id, "w1", map[string]int{"rows": 3})
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = m.Complete(ctx, id, "w1", nil)
	require.NoError(t, err)
	require.False(t, ok)

	task, err := m.GetTask(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, task.Status)
	require.JSONEq(t, `{"rows":3}`, string(task.Result))
	require.NotZero(t, task.CompletedAt)
	n, _ := rdb.ZCard(ctx, ikeys.New("").For("cleanup").Running).Result()
	require.Zero(t, n)

	// terminal records expire
	ttl, _ := rdb.PTTL(ctx, ikeys.New("").TaskData("acme", id)).Result()
	require.Greater(t, ttl, time.Duration(0))
}

func TestManager_Cancel(t *testing.T) {
	m, rdb, _ := newTestManager(t)
	ctx := context.Background()
	k := ikeys.New("")

	// queued
	id, _ := m.Enqueue(ctx, TaskExport, "acme", nil)
	ok, err := m.Cancel(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	n, _ := rdb.ZCard(ctx, k.For("export").Priority).Result()
	require.Zero(t, n)
	n, _ = rdb.ZCard(ctx, k.TenantPending("acme", "export")).Result()
	require.Zero(t, n)
	task, err := m.Dequeue(ctx, TaskExport, "w1")
	require.NoError(t, err)
	require.Nil(t, task)

	// cancelling again is a no-op
	ok, err = m.Cancel(ctx, id)
	require.NoError(t, err)
	require.False(t, ok)

	// running: the worker observes the flag and cannot complete
	id2, _ := m.Enqueue(ctx, TaskExport, "acme", nil)
	_, err = m.Dequeue(ctx, TaskExport, "w1")
	require.NoError(t, err)
	ok, err = m.Cancel(ctx, id2)
	require.NoError(t, err)
	require.True(t, ok)
	cancelled, err := m.IsCancelled(ctx, id2)
	require.NoError(t, err)
	require.True(t, cancelled)
	ok, err = m.Complete(ctx, id2, "w1", nil)
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = m.Fail(ctx, id2, "w1", errors.New("late"), true)
	require.NoError(t, err)
	require.False(t, ok)

	// unknown ids
	ok, err = m.Cancel(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)
	_, err = m.GetTaskStatus(ctx, "missing")
	require.ErrorIs(t, err, ErrTaskNotFound)
	cancelled, err = m.IsCancelled(ctx, "missing")
	require.NoError(t, err)
	require.False(t, cancelled)
}

func TestManager_CleanupExpiredTasks(t *testing.T) {
	m, _, clk := newTestManager(t)
	ctx := context.Background()

	requeue, _ := m.Enqueue(ctx, TaskHealthCheck, "acme", nil, WithMaxAttempts(3))
	exhaust, _ := m.Enqueue(ctx, TaskHealthCheck, "acme", nil, WithMaxAttempts(1))
	_, err := m.Dequeue(ctx, TaskHealthCheck, "w1")
	require.NoError(t, err)
	_, err = m.Dequeue(ctx, TaskHealthCheck, "w1")
	require.NoError(t, err)

	// not stale yet
	n, err := m.CleanupExpiredTasks(ctx, 5*time.Minute)
	require.NoError(t, err)
	require.Zero(t, n)

	clk.Advance(10 * time.Minute)
	n, err = m.CleanupExpiredTasks(ctx, 5*time.Minute)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	task, err := m.GetTask(ctx, requeue)
	require.NoError(t, err)
	require.Equal(t, StatusQueued, task.Status)
	require.Equal(t, 1, task.Attempts)
	require.Empty(t, task.WorkerID)

	task, err = m.GetTask(ctx, exhaust)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, task.Status)
	rec, err := m.DeadLetters().Get(ctx, "acme", exhaust)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, CategoryTimeout, rec.Category)
	require.Equal(t, "w1", rec.WorkerID)

	// the reclaimed task is leasable again
	again, err := m.Dequeue(ctx, TaskHealthCheck, "w2")
	require.NoError(t, err)
	require.Equal(t, requeue, again.ID)

	_, err = m.CleanupExpiredTasks(ctx, 0)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestManager_Delayed_Promotion(t *testing.T) {
	m, _, clk := newTestManager(t)
	ctx := context.Background()

	id, _ := m.Enqueue(ctx, TaskBatch, "acme", nil, ScheduleAt(clk.Now().Add(time.Minute)), WithPriority(PriorityUrgent))
	normal, _ := m.Enqueue(ctx, TaskBatch, "acme", nil)

	task, err := m.Dequeue(ctx, TaskBatch, "w1")
	require.NoError(t, err)
	require.Equal(t, normal, task.ID)
	task, err = m.Dequeue(ctx, TaskBatch, "w1")
	require.NoError(t, err)
	require.Nil(t, task)

	clk.Advance(2 * time.Minute)
	task, err = m.Dequeue(ctx, TaskBatch, "w1", PreferTenant("acme"))
	require.NoError(t, err)
	require.NotNil(t, task)
	require.Equal(t, id, task.ID)
}

func TestManager_Dequeue_Blocking(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	start := time.Now()
	task, err := m.Dequeue(ctx, TaskAgent, "w1", BlockFor(80*time.Millisecond))
	require.NoError(t, err)
	require.Nil(t, task)
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)

	go func() {
		time.Sleep(30 * time.Millisecond)
		_, _ = m.Enqueue(context.Background(), TaskAgent, "acme", "late")
	}()
	task, err = m.Dequeue(ctx, TaskAgent, "w1", BlockFor(2*time.Second))
	require.NoError(t, err)
	require.NotNil(t, task)

	// context cancellation ends the wait early
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	task, err = m.Dequeue(cctx, TaskAgent, "w1", BlockFor(time.Second))
	require.NoError(t, err)
	require.Nil(t, task)
}

func TestManager_QueueStats(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	_, _ = m.Enqueue(ctx, TaskEmbedding, "acme", nil)
	_, _ = m.Enqueue(ctx, TaskEmbedding, "acme", nil, Delay(time.Hour))
	id, _ := m.Enqueue(ctx, TaskExport, "globex", nil)
	_, _ = m.Enqueue(ctx, TaskExport, "globex", nil)
	_, err := m.Dequeue(ctx, TaskExport, "w1")
	require.NoError(t, err)
	ok, err := m.Complete(ctx, id, "w1", nil)
	require.NoError(t, err)
	require.True(t, ok)

	s, err := m.GetQueueStats(ctx, TaskEmbedding)
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.Queued)
	assert.Equal(t, int64(1), s.Delayed)
	assert.Equal(t, int64(2), s.Enqueued)

	all, err := m.GetAllQueueStats(ctx)
	require.NoError(t, err)
	require.Len(t, all.ByType, 2)
	assert.Equal(t, int64(1), all.ByType[TaskExport].Completed)
	assert.Equal(t, int64(2), all.Total.Queued)
	assert.Equal(t, int64(4), all.Total.Enqueued)

	tenants, err := m.Factory().Admin().Tenants(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"acme", "globex"}, tenants)
}

func TestManager_TenantQueue(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.ForTenant("")
	require.ErrorIs(t, err, ErrTenantRequired)

	acme, err := m.ForTenant("acme")
	require.NoError(t, err)
	globex, err := m.ForTenant("globex")
	require.NoError(t, err)

	id, err := acme.Enqueue(ctx, TaskAgent, "hello")
	require.NoError(t, err)
	_, err = globex.GetTask(ctx, id)
	require.ErrorIs(t, err, ErrTaskNotFound)
	ok, err := globex.Cancel(ctx, id)
	require.NoError(t, err)
	require.False(t, ok)

	task, err := acme.Dequeue(ctx, TaskAgent, "w1")
	require.NoError(t, err)
	require.Equal(t, id, task.ID)
}

func TestManager_Observer(t *testing.T) {
	var mu sync.Mutex
	var kinds []EventKind
	obs := ObserverFunc(func(_ context.Context, ev Event) {
		mu.Lock()
		kinds = append(kinds, ev.Kind)
		mu.Unlock()
	})
	m, _, _ := newTestManager(t, WithObserver(obs))
	ctx := context.Background()

	id, _ := m.Enqueue(ctx, TaskAgent, "acme", nil, WithMaxAttempts(1))
	_, _ = m.Dequeue(ctx, TaskAgent, "w1")
	_, err := m.Fail(ctx, id, "w1", errors.New("permission denied"), true)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []EventKind{EventEnqueued, EventDequeued, EventFailed, EventDeadLettered}, kinds)
}

func TestManager_UpdateProgress_Publishes(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	id, _ := m.Enqueue(ctx, TaskExport, "acme", nil, WithCorrelationID("req-1"))
	task, err := m.Dequeue(ctx, TaskExport, "w1")
	require.NoError(t, err)

	ps, err := m.Notifier().Subscribe(ctx, "acme", "req-1")
	require.NoError(t, err)
	defer ps.Close()

	require.NoError(t, m.UpdateProgress(ctx, task, 40))
	msg, err := ps.ReceiveMessage(ctx)
	require.NoError(t, err)
	p, err := m.Notifier().DecodeProgress(msg)
	require.NoError(t, err)
	require.Equal(t, id, p.TaskID)
	require.Equal(t, 40, p.Progress)

	got, err := m.GetTask(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 40, got.Progress)
}

func TestManager_ConcurrentEnqueue_DuplicateID(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.Enqueue(ctx, TaskBatch, "acme", map[string]int{"i": i}, WithTaskID("same"))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	ok, dup := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrDuplicateTask):
			dup++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, n-1, dup)

	st, err := m.GetQueueStats(ctx, TaskBatch)
	require.NoError(t, err)
	require.EqualValues(t, 1, st.Queued)
}
