package tenantq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	ikeys "github.com/UniQw/tenantq/internal/keys"
	"github.com/UniQw/tenantq/internal/scripts"
	"github.com/redis/go-redis/v9"
)

const (
	maxListLimit     = 1000
	defaultListLimit = 100
	defaultScanCount = 100
	autoRetryTTL     = 7 * 24 * time.Hour
)

// Enqueuer is what the dead-letter queue needs to put a task back in line.
// *Manager implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, taskType TaskType, tenantID string, payload any, opts ...EnqueueOption) (string, error)
}

// DeadLetterTask is a task that exhausted its attempts, with failure metadata.
// Timestamps are Unix milliseconds.
type DeadLetterTask struct {
	TaskID         string   `json:"task_id"`
	TenantID       string   `json:"tenant_id"`
	TaskType       TaskType `json:"task_type"`
	Priority       Priority `json:"priority"`
	Payload        []byte   `json:"payload"`
	CorrelationID  string   `json:"correlation_id,omitempty"`
	ErrorMessage   string   `json:"error_message"`
	ErrorType      string   `json:"error_type,omitempty"`
	WorkerID       string   `json:"worker_id,omitempty"`
	Attempts       int      `json:"attempts"`
	MaxAttempts    int      `json:"max_attempts"`
	Category       Category `json:"category"`
	Severity       Severity `json:"severity"`
	AutoRetry      bool     `json:"auto_retry"`
	AutoRetryCount int      `json:"auto_retry_count"`
	FirstFailedAt  int64    `json:"first_failed_at"`
	LastFailedAt   int64    `json:"last_failed_at"`
}

// DeadLetterStats aggregates one tenant's dead-letter queue.
type DeadLetterStats struct {
	Count      int64
	ByCategory map[Category]int64
	BySeverity map[Severity]int64
	// OldestAge is how long the oldest record has been waiting; zero when empty.
	OldestAge time.Duration
}

// DeadLetterOption configures a DeadLetterQueue.
type DeadLetterOption func(*DeadLetterQueue)

// WithAlert is called for every record whose severity is high or critical.
func WithAlert(fn func(ctx context.Context, rec *DeadLetterTask)) DeadLetterOption {
	return func(d *DeadLetterQueue) { d.alert = fn }
}

// WithAutoRetry enables ProcessAutoRetries: transient failures older than
// cooldown are re-enqueued, at most max times per task.
func WithAutoRetry(max int, cooldown time.Duration) DeadLetterOption {
	return func(d *DeadLetterQueue) {
		d.maxAutoRetries = max
		d.cooldown = cooldown
	}
}

// WithScanCount sets the SCAN COUNT hint used by List and the page size of
// ProcessAutoRetries. Values below 1 keep the default.
func WithScanCount(n int64) DeadLetterOption {
	return func(d *DeadLetterQueue) {
		if n > 0 {
			d.scanCount = n
		}
	}
}

// WithDeadLetterLogger sets the logger.
func WithDeadLetterLogger(l Logger) DeadLetterOption {
	return func(d *DeadLetterQueue) { d.log = l }
}

func withDeadLetterClock(now func() time.Time) DeadLetterOption {
	return func(d *DeadLetterQueue) { d.now = now }
}

// DeadLetterQueue stores failed tasks per tenant. Every operation takes the
// tenant explicitly; records never cross tenants.
type DeadLetterQueue struct {
	f    *ConnFactory
	keys ikeys.Space
	rdb  redis.UniversalClient
	q    Enqueuer
	log  Logger
	now  func() time.Time

	alert          func(ctx context.Context, rec *DeadLetterTask)
	maxAutoRetries int
	cooldown       time.Duration
	scanCount      int64
}

// NewDeadLetterQueue creates a dead-letter queue that re-enqueues through q.
func NewDeadLetterQueue(f *ConnFactory, q Enqueuer, opts ...DeadLetterOption) *DeadLetterQueue {
	d := &DeadLetterQueue{
		f:         f,
		keys:      f.keys,
		rdb:       f.rdb,
		q:         q,
		log:       NoopLogger{},
		now:       time.Now,
		scanCount: defaultScanCount,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.log == nil {
		d.log = NoopLogger{}
	}
	return d
}

func (d *DeadLetterQueue) tenantKeys(tenantID string) (rec func(string) string, index, stats string) {
	return func(id string) string { return d.keys.DeadLetter(tenantID, id) },
		d.keys.DeadLetterIndex(tenantID), d.keys.DeadLetterStats(tenantID)
}

// Add stores a dead-letter record for t. A second Add for the same task
// replaces the record but keeps its first failure time.
func (d *DeadLetterQueue) Add(ctx context.Context, t *Task, taskErr error, workerID string, attempts int, cat Category, sev Severity) error {
	if t == nil || t.ID == "" {
		return invalidf("dead-letter add without task")
	}
	if err := validateTenant(t.TenantID); err != nil {
		return err
	}
	if cat == "" {
		cat = CategoryUnknown
	}
	if sev == "" {
		sev = severityFor(cat, attempts)
	}
	msg, typ := "unknown error", ""
	if taskErr != nil {
		msg = taskErr.Error()
		typ = errorType(taskErr)
	}
	now := d.now().UnixMilli()
	rec := &DeadLetterTask{
		TaskID:        t.ID,
		TenantID:      t.TenantID,
		TaskType:      t.Type,
		Priority:      t.Priority,
		Payload:       t.Payload,
		CorrelationID: t.CorrelationID,
		ErrorMessage:  msg,
		ErrorType:     typ,
		WorkerID:      workerID,
		Attempts:      attempts,
		MaxAttempts:   t.MaxAttempts,
		Category:      cat,
		Severity:      sev,
		AutoRetry:     cat.Transient(),
		FirstFailedAt: now,
		LastFailedAt:  now,
	}
	recKey, index, stats := d.tenantKeys(t.TenantID)
	args := append([]any{t.ID, now, string(cat), string(sev)}, rec.fields()...)
	if err := scripts.DeadLetterAdd.Run(ctx, d.rdb, []string{recKey(t.ID), index, stats, d.keys.For(string(t.Type)).Handoff}, args...).Err(); err != nil {
		return opErr("dead-letter add", t.ID, t.TenantID, err)
	}
	d.log.Warnf("dead-lettered id=%s tenant=%s type=%s category=%s severity=%s attempts=%d err=%s",
		t.ID, t.TenantID, t.Type, cat, sev, attempts, msg)
	if d.alert != nil && sev.AtLeast(SeverityHigh) {
		d.alert(ctx, rec)
	}
	return nil
}

// Get returns the record, or nil when it does not exist for this tenant.
func (d *DeadLetterQueue) Get(ctx context.Context, tenantID, taskID string) (*DeadLetterTask, error) {
	if err := validateTenant(tenantID); err != nil {
		return nil, err
	}
	if taskID == "" {
		return nil, invalidf("task id required")
	}
	h, err := d.rdb.HGetAll(ctx, d.keys.DeadLetter(tenantID, taskID)).Result()
	if err != nil {
		return nil, opErr("dead-letter get", taskID, tenantID, err)
	}
	if len(h) == 0 {
		return nil, nil
	}
	rec := deadLetterFromHash(h)
	if rec.TenantID != tenantID {
		d.log.Warnf("dead-letter tenant mismatch id=%s tenant=%s embedded=%s", taskID, tenantID, rec.TenantID)
		return nil, nil
	}
	if n, err := d.rdb.Get(ctx, d.autoRetryKey(tenantID, taskID)).Int(); err == nil {
		rec.AutoRetryCount = n
	}
	return rec, nil
}

// List returns up to limit records of the tenant, most recent failure first.
// limit must be within 1..1000; zero means 100.
func (d *DeadLetterQueue) List(ctx context.Context, tenantID string, limit int) ([]*DeadLetterTask, error) {
	tc, err := d.f.Tenant(tenantID)
	if err != nil {
		return nil, err
	}
	if limit < 0 || limit > maxListLimit {
		return nil, invalidf("limit %d outside 1..%d", limit, maxListLimit)
	}
	if limit == 0 {
		limit = defaultListLimit
	}
	pattern := d.keys.DeadLetterPattern(tenantID)
	seen := make(map[string]struct{})
	out := make([]*DeadLetterTask, 0, limit)
	err = tc.WithConn(ctx, func(c Scoped) error {
		var cursor uint64
		for {
			keys, next, err := c.Scan(ctx, cursor, pattern, d.scanCount).Result()
			if err != nil {
				return err
			}
			for _, k := range keys {
				if _, dup := seen[k]; dup {
					continue
				}
				seen[k] = struct{}{}
				h, err := c.HGetAll(ctx, k).Result()
				if err != nil {
					return err
				}
				if len(h) == 0 {
					continue
				}
				rec := deadLetterFromHash(h)
				if rec.TenantID != tenantID {
					d.log.Warnf("dead-letter tenant mismatch key=%s tenant=%s embedded=%s", k, tenantID, rec.TenantID)
					continue
				}
				out = append(out, rec)
			}
			cursor = next
			if cursor == 0 {
				return nil
			}
		}
	})
	if err != nil {
		return nil, opErr("dead-letter list", "", tenantID, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastFailedAt > out[j].LastFailedAt })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Retry re-enqueues the task under its original id with attempts reset and
// removes the record. It returns false when there is no such record.
func (d *DeadLetterQueue) Retry(ctx context.Context, tenantID, taskID string) (bool, error) {
	if err := validateTenant(tenantID); err != nil {
		return false, err
	}
	if taskID == "" {
		return false, invalidf("task id required")
	}
	rec, err := d.Get(ctx, tenantID, taskID)
	if err != nil || rec == nil {
		return false, err
	}
	prio := rec.Priority
	if !prio.Valid() {
		prio = PriorityNormal
	}
	maxAttempts := rec.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = defaultMaxAttempts
	}
	opts := []EnqueueOption{WithTaskID(rec.TaskID), WithPriority(prio), WithMaxAttempts(maxAttempts)}
	if rec.CorrelationID != "" {
		opts = append(opts, WithCorrelationID(rec.CorrelationID))
	}
	payload := json.RawMessage(rec.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	if _, err := d.q.Enqueue(ctx, rec.TaskType, rec.TenantID, payload, opts...); err != nil {
		return false, fmt.Errorf("tenantq: dead-letter retry task=%s tenant=%s: %w", taskID, tenantID, err)
	}
	if _, err := d.Remove(ctx, tenantID, taskID); err != nil {
		d.log.Errorf("dead-letter remove after retry failed id=%s tenant=%s err=%v", taskID, tenantID, err)
	}
	d.log.Infof("dead-letter retried id=%s tenant=%s type=%s", taskID, tenantID, rec.TaskType)
	return true, nil
}

// Remove deletes the record. It returns false when there was none.
func (d *DeadLetterQueue) Remove(ctx context.Context, tenantID, taskID string) (bool, error) {
	if err := validateTenant(tenantID); err != nil {
		return false, err
	}
	if taskID == "" {
		return false, invalidf("task id required")
	}
	recKey, index, stats := d.tenantKeys(tenantID)
	n, err := scripts.DeadLetterRemove.Run(ctx, d.rdb, []string{recKey(taskID), index, stats}, taskID, tenantID).Int()
	if err != nil {
		return false, opErr("dead-letter remove", taskID, tenantID, err)
	}
	switch n {
	case 1:
		return true, nil
	case -1:
		return false, ErrTenantMismatch
	}
	return false, nil
}

// GetStatistics returns the tenant's aggregate counters.
func (d *DeadLetterQueue) GetStatistics(ctx context.Context, tenantID string) (DeadLetterStats, error) {
	out := DeadLetterStats{ByCategory: map[Category]int64{}, BySeverity: map[Severity]int64{}}
	if err := validateTenant(tenantID); err != nil {
		return out, err
	}
	_, index, stats := d.tenantKeys(tenantID)
	var hcmd *redis.MapStringStringCmd
	var zcmd *redis.ZSliceCmd
	_, err := d.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		hcmd = p.HGetAll(ctx, stats)
		zcmd = p.ZRangeWithScores(ctx, index, 0, 0)
		return nil
	})
	if err != nil {
		return out, opErr("dead-letter stats", "", tenantID, err)
	}
	for k, v := range hcmd.Val() {
		n, _ := strconv.ParseInt(v, 10, 64)
		if n <= 0 {
			continue
		}
		switch {
		case k == "count":
			out.Count = n
		case len(k) > 9 && k[:9] == "category:":
			out.ByCategory[Category(k[9:])] = n
		case len(k) > 9 && k[:9] == "severity:":
			out.BySeverity[Severity(k[9:])] = n
		}
	}
	if z := zcmd.Val(); len(z) > 0 {
		age := d.now().UnixMilli() - int64(z[0].Score)
		if age > 0 {
			out.OldestAge = time.Duration(age) * time.Millisecond
		}
	}
	return out, nil
}

// ProcessAutoRetries retries auto-retryable records whose last failure is
// older than the cooldown. It walks the whole due part of the age index in
// pages of the scan count, so records that are skipped never hide later ones.
// It returns how many were re-enqueued.
func (d *DeadLetterQueue) ProcessAutoRetries(ctx context.Context, tenantID string) (int, error) {
	if err := validateTenant(tenantID); err != nil {
		return 0, err
	}
	if d.maxAutoRetries <= 0 {
		return 0, nil
	}
	max := strconv.FormatInt(d.now().Add(-d.cooldown).UnixMilli(), 10)
	index := d.keys.DeadLetterIndex(tenantID)
	n := 0
	// Retried records leave the index, so the due prefix holds exactly the
	// skipped ones followed by those not yet visited.
	var skipped int64
	for {
		ids, err := d.rdb.ZRangeByScore(ctx, index, &redis.ZRangeBy{
			Min: "-inf", Max: max, Offset: skipped, Count: d.scanCount,
		}).Result()
		if err != nil {
			return n, opErr("dead-letter auto-retry", "", tenantID, err)
		}
		for _, id := range ids {
			retried, err := d.autoRetryOne(ctx, tenantID, id)
			if err != nil {
				return n, err
			}
			if retried {
				n++
			} else {
				skipped++
			}
		}
		if int64(len(ids)) < d.scanCount {
			return n, nil
		}
	}
}

func (d *DeadLetterQueue) autoRetryOne(ctx context.Context, tenantID, id string) (bool, error) {
	rec, err := d.Get(ctx, tenantID, id)
	if err != nil {
		return false, err
	}
	if rec == nil || !rec.AutoRetry || rec.AutoRetryCount >= d.maxAutoRetries {
		return false, nil
	}
	ok, err := d.Retry(ctx, tenantID, id)
	if err != nil {
		d.log.Warnf("auto-retry failed id=%s tenant=%s err=%v", id, tenantID, err)
		return false, nil
	}
	if !ok {
		return false, nil
	}
	k := d.autoRetryKey(tenantID, id)
	if _, err := d.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, k)
		p.Expire(ctx, k, autoRetryTTL)
		return nil
	}); err != nil {
		d.log.Warnf("auto-retry counter failed id=%s tenant=%s err=%v", id, tenantID, err)
	}
	return true, nil
}

// CleanupOldTasks removes records whose last failure is older than maxAge.
func (d *DeadLetterQueue) CleanupOldTasks(ctx context.Context, tenantID string, maxAge time.Duration) (int, error) {
	if err := validateTenant(tenantID); err != nil {
		return 0, err
	}
	if maxAge <= 0 {
		return 0, invalidf("max age must be positive")
	}
	cutoff := d.now().Add(-maxAge).UnixMilli()
	ids, err := d.rdb.ZRangeByScore(ctx, d.keys.DeadLetterIndex(tenantID), &redis.ZRangeBy{
		Min: "-inf", Max: strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return 0, opErr("dead-letter cleanup", "", tenantID, err)
	}
	n := 0
	for _, id := range ids {
		ok, err := d.Remove(ctx, tenantID, id)
		if err != nil && !errors.Is(err, ErrTenantMismatch) {
			return n, err
		}
		if ok {
			n++
		}
	}
	if n > 0 {
		d.log.Infof("dead-letter cleanup tenant=%s removed=%d", tenantID, n)
	}
	return n, nil
}

func (d *DeadLetterQueue) autoRetryKey(tenantID, taskID string) string {
	return d.keys.Tenant(tenantID, "deadletter", "autoretry", taskID)
}

func (r *DeadLetterTask) fields() []any {
	return []any{
		"task_id", r.TaskID,
		"tenant_id", r.TenantID,
		"task_type", string(r.TaskType),
		"priority", int(r.Priority),
		"payload", r.Payload,
		"correlation_id", r.CorrelationID,
		"error_message", r.ErrorMessage,
		"error_type", r.ErrorType,
		"worker_id", r.WorkerID,
		"attempts", r.Attempts,
		"max_attempts", r.MaxAttempts,
		"category", string(r.Category),
		"severity", string(r.Severity),
		"auto_retry", boolFlag(r.AutoRetry),
		"first_failed_at", r.FirstFailedAt,
		"last_failed_at", r.LastFailedAt,
	}
}

func deadLetterFromHash(h map[string]string) *DeadLetterTask {
	return &DeadLetterTask{
		TaskID:        h["task_id"],
		TenantID:      h["tenant_id"],
		TaskType:      TaskType(h["task_type"]),
		Priority:      Priority(atoi(h["priority"])),
		Payload:       []byte(h["payload"]),
		CorrelationID: h["correlation_id"],
		ErrorMessage:  h["error_message"],
		ErrorType:     h["error_type"],
		WorkerID:      h["worker_id"],
		Attempts:      atoi(h["attempts"]),
		MaxAttempts:   atoi(h["max_attempts"]),
		Category:      Category(h["category"]),
		Severity:      Severity(h["severity"]),
		AutoRetry:     h["auto_retry"] == "1",
		FirstFailedAt: atoi64(h["first_failed_at"]),
		LastFailedAt:  atoi64(h["last_failed_at"]),
	}
}

// errorType names the innermost error's concrete type, e.g. "*net.OpError".
func errorType(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			break
		}
		if _, ok := err.(*categorized); !ok {
			if _, ok := err.(*OpError); !ok {
				break
			}
		}
		err = next
	}
	return fmt.Sprintf("%T", err)
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
