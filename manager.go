package tenantq

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	ikeys "github.com/UniQw/tenantq/internal/keys"
	"github.com/UniQw/tenantq/internal/scripts"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// promoteBatch bounds how many due delayed tasks a single dequeue promotes.
const promoteBatch = 256

// reclaimBatch bounds how many stale leases one reclaim script call handles.
const reclaimBatch = 128

// handoffGrace is how long a failed task may wait for its dead-letter record
// before a sweep writes it instead of the failing caller.
const handoffGrace = 30 * time.Second

// leaseExpired is the last_error Reclaim stores on a task it takes back.
const leaseExpired = "lease expired"

// Manager provides APIs to enqueue, lease and manage tasks in Redis.
type Manager struct {
	f    *ConnFactory
	rdb  redis.UniversalClient
	keys ikeys.Space

	enc         Encoder
	log         Logger
	obs         Observer
	poll        time.Duration
	backoffBase time.Duration
	backoffMax  time.Duration
	retention   time.Duration
	now         func() time.Time

	dlq      *DeadLetterQueue
	notifier *Notifier
}

// NewManager creates a queue manager over the factory's client.
func NewManager(f *ConnFactory, opts ...ManagerOption) *Manager {
	o := managerOptions{
		log:          NoopLogger{},
		observer:     NoopObserver{},
		encoder:      &JSONEncoder{},
		pollInterval: defaultPollInterval,
		backoffBase:  defaultBackoffBase,
		backoffMax:   defaultBackoffMax,
		retention:    defaultRetention,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = NoopLogger{}
	}
	if o.observer == nil {
		o.observer = NoopObserver{}
	}
	if o.pollInterval <= 0 {
		o.pollInterval = defaultPollInterval
	}
	m := &Manager{
		f:           f,
		rdb:         f.rdb,
		keys:        f.keys,
		enc:         o.encoder,
		log:         o.log,
		obs:         o.observer,
		poll:        o.pollInterval,
		backoffBase: o.backoffBase,
		backoffMax:  o.backoffMax,
		retention:   o.retention,
		now:         o.now,
		notifier:    NewNotifier(f),
	}
	dopts := append([]DeadLetterOption{WithDeadLetterLogger(o.log), withDeadLetterClock(o.now)}, o.dlqOpts...)
	m.dlq = NewDeadLetterQueue(f, m, dopts...)
	return m
}

// DeadLetters returns the dead-letter queue fed by Fail and CleanupExpiredTasks.
func (m *Manager) DeadLetters() *DeadLetterQueue { return m.dlq }

// Notifier returns the progress notifier.
func (m *Manager) Notifier() *Notifier { return m.notifier }

// Factory returns the connection factory.
func (m *Manager) Factory() *ConnFactory { return m.f }

// Ping checks store connectivity.
func (m *Manager) Ping(ctx context.Context) error { return m.f.Admin().Ping(ctx) }

// LoadScripts preloads the Lua scripts.
func (m *Manager) LoadScripts(ctx context.Context) error { return m.f.Admin().LoadScripts(ctx) }

func validateTaskType(t TaskType) error {
	if t == "" {
		return invalidf("task type required")
	}
	if strings.ContainsAny(string(t), ":*{} ") {
		return invalidf("task type %q contains a reserved character", t)
	}
	return nil
}

func (m *Manager) retentionMs() int64 {
	if m.retention <= 0 {
		return 0
	}
	return m.retention.Milliseconds()
}

// Enqueue adds a task for tenantID and returns its id.
// It returns ErrDuplicateTask if an explicit id belongs to a live task or to another tenant.
func (m *Manager) Enqueue(ctx context.Context, taskType TaskType, tenantID string, payload any, opts ...EnqueueOption) (string, error) {
	if err := validateTenant(tenantID); err != nil {
		return "", err
	}
	if err := validateTaskType(taskType); err != nil {
		return "", err
	}
	cfg := enqueueOptions{priority: PriorityNormal, maxAttempts: defaultMaxAttempts}
	for _, opt := range opts {
		opt(&cfg)
	}
	if !cfg.priority.Valid() {
		return "", invalidf("priority %d out of range", cfg.priority)
	}
	if cfg.maxAttempts < 1 {
		return "", invalidf("max attempts must be at least 1")
	}
	data, err := m.enc.Encode(payload)
	if err != nil {
		return "", err
	}
	id := cfg.id
	if id == "" {
		id = uuid.NewString()
	}

	now := m.now()
	sched := now
	if !cfg.scheduledAt.IsZero() {
		sched = cfg.scheduledAt
	} else if cfg.delay > 0 {
		sched = now.Add(cfg.delay)
	}

	ok, err := scripts.Enqueue.Run(ctx, m.rdb,
		[]string{m.keys.TaskData(tenantID, id), m.keys.Owner(id)},
		m.keys.NS(), id, tenantID, string(taskType), int(cfg.priority), data,
		cfg.maxAttempts, sched.UnixMilli(), now.UnixMilli(), cfg.correlationID,
	).Int()
	if err != nil {
		return "", opErr("enqueue", id, tenantID, err)
	}
	if ok == 0 {
		return "", ErrDuplicateTask
	}
	m.log.Debugf("enqueued id=%s tenant=%s type=%s priority=%s", id, tenantID, taskType, cfg.priority)
	m.obs.Observe(ctx, Event{Kind: EventEnqueued, TaskID: id, TenantID: tenantID, TaskType: taskType, Priority: cfg.priority})
	return id, nil
}

// Dequeue leases the highest-priority ready task of taskType to workerID.
// It returns (nil, nil) when nothing is ready, or when a blocking wait times out.
func (m *Manager) Dequeue(ctx context.Context, taskType TaskType, workerID string, opts ...DequeueOption) (*Task, error) {
	if err := validateTaskType(taskType); err != nil {
		return nil, err
	}
	if workerID == "" {
		return nil, invalidf("worker id required")
	}
	var cfg dequeueOptions
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.tenant != "" {
		if err := validateTenant(cfg.tenant); err != nil {
			return nil, err
		}
	}
	if cfg.block <= 0 {
		return m.dequeueOnce(ctx, taskType, workerID, cfg.tenant)
	}
	deadline := time.Now().Add(cfg.block)
	for {
		t, err := m.dequeueOnce(ctx, taskType, workerID, cfg.tenant)
		if err != nil || t != nil {
			return t, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		wait := m.poll
		if remaining < wait {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, nil
		case <-timer.C:
		}
	}
}

func (m *Manager) dequeueOnce(ctx context.Context, taskType TaskType, workerID, tenant string) (*Task, error) {
	q := m.keys.For(string(taskType))
	pending := q.Priority
	if tenant != "" {
		pending = m.keys.TenantPending(tenant, string(taskType))
	}
	v, err := scripts.Dequeue.Run(ctx, m.rdb,
		[]string{q.Priority, q.Delayed, q.Running, pending},
		m.keys.NS(), string(taskType), workerID, m.now().UnixMilli(), tenant, promoteBatch,
	).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, opErr("dequeue", "", tenant, err)
	}
	t := taskFromPairs(v)
	readyAt := t.CreatedAt
	if t.ScheduledAt > readyAt {
		readyAt = t.ScheduledAt
	}
	m.log.Debugf("dequeued id=%s tenant=%s type=%s worker=%s", t.ID, t.TenantID, t.Type, workerID)
	m.obs.Observe(ctx, Event{
		Kind: EventDequeued, TaskID: t.ID, TenantID: t.TenantID, TaskType: t.Type,
		Priority: t.Priority, Attempts: t.Attempts,
		Wait: time.Duration(t.StartedAt-readyAt) * time.Millisecond,
	})
	return t, nil
}

// Complete marks a running task completed. It returns false when the task is
// not running or workerID does not hold its lease.
func (m *Manager) Complete(ctx context.Context, taskID, workerID string, result any) (bool, error) {
	if taskID == "" || workerID == "" {
		return false, invalidf("task id and worker id required")
	}
	var data []byte
	if result != nil {
		b, err := m.enc.Encode(result)
		if err != nil {
			return false, err
		}
		data = b
	}
	now := m.now().UnixMilli()
	v, err := scripts.Complete.Run(ctx, m.rdb, []string{m.keys.Owner(taskID)},
		m.keys.NS(), taskID, workerID, now, data, m.retentionMs(),
	).Slice()
	if err != nil {
		return false, opErr("complete", taskID, "", err)
	}
	if code, _ := v[0].(int64); code != 1 {
		m.log.Debugf("complete ignored id=%s worker=%s", taskID, workerID)
		return false, nil
	}
	ttype, _ := v[1].(string)
	tenant, _ := v[2].(string)
	started, _ := v[3].(string)
	m.log.Debugf("completed id=%s tenant=%s type=%s", taskID, tenant, ttype)
	m.obs.Observe(ctx, Event{
		Kind: EventCompleted, TaskID: taskID, TenantID: tenant, TaskType: TaskType(ttype),
		Wait: time.Duration(now-atoi64(started)) * time.Millisecond,
	})
	return true, nil
}

// Fail records a failed attempt of a running task. With retry set and
// attempts left the task is rescheduled with exponential backoff; otherwise
// it fails for good and is dead-lettered. It returns false when the task is
// not running or workerID does not hold its lease.
func (m *Manager) Fail(ctx context.Context, taskID, workerID string, taskErr error, retry bool) (bool, error) {
	if taskID == "" || workerID == "" {
		return false, invalidf("task id and worker id required")
	}
	msg := "unknown error"
	if taskErr != nil {
		msg = taskErr.Error()
	}
	v, err := scripts.Fail.Run(ctx, m.rdb, []string{m.keys.Owner(taskID)},
		m.keys.NS(), taskID, workerID, m.now().UnixMilli(), msg, boolFlag(retry),
		m.backoffBase.Milliseconds(), m.backoffMax.Milliseconds(), m.retentionMs(),
	).Slice()
	if err != nil {
		return false, opErr("fail", taskID, "", err)
	}
	code, _ := v[0].(int64)
	attempts64, _ := v[1].(int64)
	attempts := int(attempts64)
	ttype, _ := v[2].(string)
	tenant, _ := v[3].(string)
	ev := Event{TaskID: taskID, TenantID: tenant, TaskType: TaskType(ttype), Attempts: attempts, Err: taskErr}
	switch code {
	case 0:
		m.log.Debugf("fail ignored id=%s worker=%s", taskID, workerID)
		return false, nil
	case 1:
		m.log.Warnf("retrying id=%s tenant=%s type=%s attempts=%d err=%s", taskID, tenant, ttype, attempts, msg)
		ev.Kind = EventRetried
		m.obs.Observe(ctx, ev)
		return true, nil
	}
	m.log.Warnf("failed id=%s tenant=%s type=%s attempts=%d err=%s", taskID, tenant, ttype, attempts, msg)
	ev.Kind = EventFailed
	m.obs.Observe(ctx, ev)
	t, err := m.GetTask(ctx, taskID)
	if err != nil {
		m.log.Errorf("dead-letter lookup failed id=%s tenant=%s err=%v", taskID, tenant, err)
		return true, err
	}
	// On error the task stays in the handoff set and a later sweep records it.
	if err := m.deadLetter(ctx, t, taskErr, workerID, attempts); err != nil {
		return true, err
	}
	return true, nil
}

func (m *Manager) deadLetter(ctx context.Context, t *Task, taskErr error, workerID string, attempts int) error {
	cat, sev := Classify(taskErr, attempts)
	if err := m.dlq.Add(ctx, t, taskErr, workerID, attempts, cat, sev); err != nil {
		m.log.Errorf("dead-letter failed id=%s tenant=%s type=%s err=%v", t.ID, t.TenantID, t.Type, err)
		return err
	}
	if err := m.rdb.HIncrBy(ctx, m.keys.For(string(t.Type)).Stats, "dead_lettered", 1).Err(); err != nil {
		m.log.Warnf("stats update failed id=%s type=%s err=%v", t.ID, t.Type, err)
	}
	m.obs.Observe(ctx, Event{
		Kind: EventDeadLettered, TaskID: t.ID, TenantID: t.TenantID, TaskType: t.Type,
		Priority: t.Priority, Attempts: attempts, Err: taskErr,
	})
	return nil
}

// Cancel cancels a queued, retrying or running task. A running task's worker
// observes the cancellation through IsCancelled. It returns false when the
// task is missing or already terminal.
func (m *Manager) Cancel(ctx context.Context, taskID string) (bool, error) {
	if taskID == "" {
		return false, invalidf("task id required")
	}
	v, err := scripts.Cancel.Run(ctx, m.rdb, []string{m.keys.Owner(taskID)},
		m.keys.NS(), taskID, m.now().UnixMilli(), m.retentionMs(),
	).Slice()
	if err != nil {
		return false, opErr("cancel", taskID, "", err)
	}
	code, _ := v[0].(int64)
	if code == 0 {
		return false, nil
	}
	ttype, _ := v[1].(string)
	tenant, _ := v[2].(string)
	m.log.Infof("cancelled id=%s tenant=%s type=%s running=%t", taskID, tenant, ttype, code == 2)
	m.obs.Observe(ctx, Event{Kind: EventCancelled, TaskID: taskID, TenantID: tenant, TaskType: TaskType(ttype)})
	return true, nil
}

// IsCancelled reports whether the task has been cancelled. Missing tasks are not cancelled.
func (m *Manager) IsCancelled(ctx context.Context, taskID string) (bool, error) {
	st, err := m.GetTaskStatus(ctx, taskID)
	if errors.Is(err, ErrTaskNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return st == StatusCancelled, nil
}

// GetTask returns the full task record.
func (m *Manager) GetTask(ctx context.Context, taskID string) (*Task, error) {
	if taskID == "" {
		return nil, invalidf("task id required")
	}
	tenant, err := m.rdb.Get(ctx, m.keys.Owner(taskID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, opErr("get task", taskID, "", err)
	}
	return m.GetTenantTask(ctx, tenant, taskID)
}

// GetTenantTask returns the record only if it belongs to tenantID.
func (m *Manager) GetTenantTask(ctx context.Context, tenantID, taskID string) (*Task, error) {
	if err := validateTenant(tenantID); err != nil {
		return nil, err
	}
	if taskID == "" {
		return nil, invalidf("task id required")
	}
	h, err := m.rdb.HGetAll(ctx, m.keys.TaskData(tenantID, taskID)).Result()
	if err != nil {
		return nil, opErr("get task", taskID, tenantID, err)
	}
	if len(h) == 0 || h["tenant_id"] != tenantID {
		return nil, ErrTaskNotFound
	}
	return taskFromHash(h), nil
}

// GetTaskStatus returns only the task's status.
func (m *Manager) GetTaskStatus(ctx context.Context, taskID string) (Status, error) {
	if taskID == "" {
		return "", invalidf("task id required")
	}
	tenant, err := m.rdb.Get(ctx, m.keys.Owner(taskID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrTaskNotFound
	}
	if err != nil {
		return "", opErr("get status", taskID, "", err)
	}
	s, err := m.rdb.HGet(ctx, m.keys.TaskData(tenant, taskID), "status").Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrTaskNotFound
	}
	if err != nil {
		return "", opErr("get status", taskID, tenant, err)
	}
	return ParseStatus(s)
}

// UpdateProgress stores the progress on the task record and publishes it on
// the task's correlation channel when it has one.
func (m *Manager) UpdateProgress(ctx context.Context, t *Task, progress int) error {
	if progress < 0 {
		progress = 0
	} else if progress > 100 {
		progress = 100
	}
	key := m.keys.TaskData(t.TenantID, t.ID)
	n, err := m.rdb.Exists(ctx, key).Result()
	if err != nil {
		return opErr("progress", t.ID, t.TenantID, err)
	}
	if n == 0 {
		return ErrTaskNotFound
	}
	if err := m.rdb.HSet(ctx, key, "progress", progress).Err(); err != nil {
		return opErr("progress", t.ID, t.TenantID, err)
	}
	if t.CorrelationID == "" {
		return nil
	}
	return m.notifier.Publish(ctx, t.TenantID, t.CorrelationID, Progress{
		TaskID:   t.ID,
		TenantID: t.TenantID,
		Status:   StatusRunning,
		Progress: progress,
		At:       m.now().UnixMilli(),
	})
}

// QueueStats describes one task type across all tenants.
type QueueStats struct {
	TaskType TaskType `json:"task_type"`
	// Queued is the number of ready tasks.
	Queued int64 `json:"queued"`
	// Delayed counts scheduled tasks and retries waiting for backoff.
	Delayed int64 `json:"delayed"`
	Running int64 `json:"running"`

	Enqueued     int64 `json:"enqueued"`
	Completed    int64 `json:"completed"`
	Failed       int64 `json:"failed"`
	Retried      int64 `json:"retried"`
	DeadLettered int64 `json:"dead_lettered"`
	Cancelled    int64 `json:"cancelled"`
	Reclaimed    int64 `json:"reclaimed"`
}

func (s *QueueStats) add(o QueueStats) {
	s.Queued += o.Queued
	s.Delayed += o.Delayed
	s.Running += o.Running
	s.Enqueued += o.Enqueued
	s.Completed += o.Completed
	s.Failed += o.Failed
	s.Retried += o.Retried
	s.DeadLettered += o.DeadLettered
	s.Cancelled += o.Cancelled
	s.Reclaimed += o.Reclaimed
}

// AllQueueStats holds per-type stats and their sum.
type AllQueueStats struct {
	ByType map[TaskType]QueueStats `json:"by_type"`
	Total  QueueStats              `json:"total"`
}

// GetQueueStats returns depth and lifetime counters for one task type.
func (m *Manager) GetQueueStats(ctx context.Context, taskType TaskType) (QueueStats, error) {
	out := QueueStats{TaskType: taskType}
	if err := validateTaskType(taskType); err != nil {
		return out, err
	}
	q := m.keys.For(string(taskType))
	var queued, delayed, running *redis.IntCmd
	var counters *redis.MapStringStringCmd
	_, err := m.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		queued = p.ZCard(ctx, q.Priority)
		delayed = p.ZCard(ctx, q.Delayed)
		running = p.ZCard(ctx, q.Running)
		counters = p.HGetAll(ctx, q.Stats)
		return nil
	})
	if err != nil {
		return out, opErr("queue stats", "", "", err)
	}
	out.Queued, out.Delayed, out.Running = queued.Val(), delayed.Val(), running.Val()
	c := counters.Val()
	get := func(k string) int64 {
		n, _ := strconv.ParseInt(c[k], 10, 64)
		return n
	}
	out.Enqueued = get("enqueued")
	out.Completed = get("completed")
	out.Failed = get("failed")
	out.Retried = get("retried")
	out.DeadLettered = get("dead_lettered")
	out.Cancelled = get("cancelled")
	out.Reclaimed = get("reclaimed")
	return out, nil
}

// GetAllQueueStats returns stats for every task type ever enqueued.
func (m *Manager) GetAllQueueStats(ctx context.Context) (AllQueueStats, error) {
	out := AllQueueStats{ByType: map[TaskType]QueueStats{}}
	types, err := m.f.Admin().TaskTypes(ctx)
	if err != nil {
		return out, opErr("queue stats", "", "", err)
	}
	for _, tt := range types {
		s, err := m.GetQueueStats(ctx, TaskType(tt))
		if err != nil {
			return out, err
		}
		out.ByType[TaskType(tt)] = s
		out.Total.add(s)
	}
	return out, nil
}

// CleanupExpiredTasks reclaims tasks that have been running longer than
// maxAge. Each counts as a failed attempt: the task is re-queued while
// attempts remain and dead-lettered as a timeout otherwise. The sweep also
// writes dead-letter records that an earlier Fail or sweep could not store.
// It returns the number of tasks reclaimed; per-task store errors are joined
// into the returned error after the sweep completes.
func (m *Manager) CleanupExpiredTasks(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, invalidf("max age must be positive")
	}
	types, err := m.f.Admin().TaskTypes(ctx)
	if err != nil {
		return 0, opErr("cleanup", "", "", err)
	}
	now := m.now()
	cutoff := strconv.FormatInt(now.Add(-maxAge).UnixMilli(), 10)
	total := 0
	var errs []error
	for _, tt := range types {
		running := m.keys.For(tt).Running
		for {
			v, err := scripts.Reclaim.Run(ctx, m.rdb, []string{running},
				m.keys.NS(), tt, cutoff, now.UnixMilli(), m.retentionMs(), reclaimBatch,
			).StringSlice()
			if err != nil {
				return total, errors.Join(append(errs, opErr("cleanup", "", "", err))...)
			}
			for i := 0; i+2 < len(v); i += 3 {
				id, outcome, worker := v[i], v[i+1], v[i+2]
				total++
				if outcome == "requeued" {
					m.log.Warnf("reclaimed id=%s type=%s worker=%s", id, tt, worker)
					m.obs.Observe(ctx, Event{Kind: EventReclaimed, TaskID: id, TaskType: TaskType(tt)})
					continue
				}
				t, err := m.GetTask(ctx, id)
				if err != nil {
					m.log.Errorf("dead-letter lookup failed id=%s err=%v", id, err)
					errs = append(errs, err)
					continue
				}
				lease := WithCategory(errors.New(leaseExpired+" after "+maxAge.String()), CategoryTimeout)
				if err := m.deadLetter(ctx, t, lease, worker, t.Attempts); err != nil {
					errs = append(errs, err)
				}
			}
			if len(v)/3 < reclaimBatch {
				break
			}
		}
		if _, err := m.recoverHandoffs(ctx, tt, now); err != nil {
			errs = append(errs, err)
		}
	}
	if total > 0 {
		m.log.Infof("cleanup reclaimed=%d max_age=%s", total, maxAge)
	}
	return total, errors.Join(errs...)
}

// recoverHandoffs writes the dead-letter record of failed tasks that have
// waited longer than handoffGrace in the type's handoff set.
func (m *Manager) recoverHandoffs(ctx context.Context, taskType string, now time.Time) (int, error) {
	key := m.keys.For(taskType).Handoff
	ids, err := m.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.Add(-handoffGrace).UnixMilli(), 10),
		Count: reclaimBatch,
	}).Result()
	if err != nil {
		return 0, opErr("dead-letter handoff", "", "", err)
	}
	n := 0
	var errs []error
	for _, id := range ids {
		t, err := m.GetTask(ctx, id)
		if errors.Is(err, ErrTaskNotFound) || (err == nil && t.Status != StatusFailed) {
			m.log.Warnf("dead-letter handoff dropped id=%s type=%s", id, taskType)
			if err := m.rdb.ZRem(ctx, key, id).Err(); err != nil {
				errs = append(errs, opErr("dead-letter handoff", id, "", err))
			}
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		cause := errors.New(t.LastError)
		if strings.HasPrefix(t.LastError, leaseExpired) {
			cause = WithCategory(cause, CategoryTimeout)
		}
		if err := m.deadLetter(ctx, t, cause, t.WorkerID, t.Attempts); err != nil {
			errs = append(errs, err)
			continue
		}
		m.log.Infof("dead-letter handoff recovered id=%s tenant=%s type=%s", id, t.TenantID, taskType)
		n++
	}
	return n, errors.Join(errs...)
}

// ForTenant returns a view bound to one tenant.
func (m *Manager) ForTenant(tenantID string) (*TenantQueue, error) {
	if err := validateTenant(tenantID); err != nil {
		return nil, err
	}
	return &TenantQueue{m: m, tenant: tenantID}, nil
}

// TenantQueue is a Manager view whose operations always act for one tenant.
type TenantQueue struct {
	m      *Manager
	tenant string
}

// TenantID returns the bound tenant.
func (q *TenantQueue) TenantID() string { return q.tenant }

func (q *TenantQueue) Enqueue(ctx context.Context, taskType TaskType, payload any, opts ...EnqueueOption) (string, error) {
	return q.m.Enqueue(ctx, taskType, q.tenant, payload, opts...)
}

// Dequeue prefers the tenant's own queue.
func (q *TenantQueue) Dequeue(ctx context.Context, taskType TaskType, workerID string, opts ...DequeueOption) (*Task, error) {
	return q.m.Dequeue(ctx, taskType, workerID, append([]DequeueOption{PreferTenant(q.tenant)}, opts...)...)
}

func (q *TenantQueue) GetTask(ctx context.Context, taskID string) (*Task, error) {
	return q.m.GetTenantTask(ctx, q.tenant, taskID)
}

// Cancel cancels the task only if it belongs to the tenant.
func (q *TenantQueue) Cancel(ctx context.Context, taskID string) (bool, error) {
	if _, err := q.m.GetTenantTask(ctx, q.tenant, taskID); err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			return false, nil
		}
		return false, err
	}
	return q.m.Cancel(ctx, taskID)
}

func (q *TenantQueue) DeadLetters(ctx context.Context, limit int) ([]*DeadLetterTask, error) {
	return q.m.dlq.List(ctx, q.tenant, limit)
}
