package runtime

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/UniQw/tenantq/internal/hctx"
	"golang.org/x/time/rate"
)

// ErrNoHandler indicates there is no handler for the task type; the runtime fails the task without retry.
var ErrNoHandler = errors.New("tenantq: no handler")

// ErrSkipRetry makes the runtime fail the task without retry.
var ErrSkipRetry = errors.New("tenantq: skip retry")

// Logger is a minimal logging interface used internally by the runtime.
// It mirrors the public logger in the root package to avoid an import cycle.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debugf(string, ...any) {}
func (noopLogger) Infof(string, ...any)  {}
func (noopLogger) Warnf(string, ...any)  {}
func (noopLogger) Errorf(string, ...any) {}

// Job is a leased task as seen by the runtime.
type Job struct {
	ID            string
	TenantID      string
	Type          string
	CorrelationID string
	Payload       []byte
	Attempts      int
	MaxAttempts   int
}

// Source is the queue the runtime pulls from and reports to.
type Source interface {
	// Dequeue returns (nil, nil) when nothing became ready within block.
	Dequeue(ctx context.Context, taskType, workerID string, block time.Duration) (*Job, error)
	Complete(ctx context.Context, job *Job, workerID string, result []byte) error
	Fail(ctx context.Context, job *Job, workerID string, err error, retry bool) error
	Cancelled(ctx context.Context, id string) (bool, error)
	Progress(ctx context.Context, job *Job, progress int) error
	// Sweep reclaims jobs leased longer than staleAfter.
	Sweep(ctx context.Context, staleAfter time.Duration) (int, error)
	// AutoRetry re-enqueues eligible dead-lettered jobs.
	AutoRetry(ctx context.Context) (int, error)
}

type Config struct {
	// TaskTypes maps task types to relative dequeue weights.
	TaskTypes   map[string]int
	Concurrency int
	// WorkerID prefixes the per-goroutine lease holder ids.
	WorkerID       string
	DequeueTimeout time.Duration
	// DequeueRate caps dequeue attempts per second across all workers; zero is unlimited.
	DequeueRate  float64
	DequeueBurst int
	// CancelPollInterval is how often a running job's cancellation is checked; zero disables.
	CancelPollInterval time.Duration
	StaleAfter         time.Duration
	SweepInterval      time.Duration
	AutoRetryInterval  time.Duration
	Logger             Logger
}

// Executor executes a job.
type Executor func(ctx context.Context, job *Job) error

type Runtime struct {
	src      Source
	cfg      Config
	exec     Executor
	wg       sync.WaitGroup
	mu       sync.Mutex
	started  bool
	ctx      context.Context
	cancel   context.CancelFunc
	typeList []string
	limiter  *rate.Limiter
	log      Logger
}

// idleWait is how long a worker sleeps after an empty non-blocking dequeue.
const idleWait = 50 * time.Millisecond

// errorWait is how long a worker backs off after a store error.
const errorWait = 250 * time.Millisecond

// New creates a new background runtime that manages workers and maintenance routines.
func New(src Source, cfg Config, exec Executor) *Runtime {
	ctx, cancel := context.WithCancel(context.Background())
	lg := cfg.Logger
	if lg == nil {
		lg = noopLogger{}
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = "worker"
	}
	var lim *rate.Limiter
	if cfg.DequeueRate > 0 {
		burst := cfg.DequeueBurst
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(cfg.DequeueRate), burst)
	}
	return &Runtime{
		src:      src,
		cfg:      cfg,
		exec:     exec,
		ctx:      ctx,
		cancel:   cancel,
		typeList: expandTypes(cfg.TaskTypes),
		limiter:  lim,
		log:      lg,
	}
}

// Start launches workers and background maintenance goroutines.
func (rt *Runtime) Start() {
	rt.mu.Lock()
	if rt.started {
		rt.log.Warnf("runtime already started; ignoring Start()")
		rt.mu.Unlock()
		return
	}
	rt.started = true
	rt.mu.Unlock()
	rt.log.Infof("runtime starting: concurrency=%d task_types=%d", rt.cfg.Concurrency, len(rt.cfg.TaskTypes))

	// workers
	for i := 0; i < rt.cfg.Concurrency; i++ {
		rt.wg.Add(1)
		seed := time.Now().UnixNano() + int64(i)
		rng := rand.New(rand.NewSource(seed))
		workerID := rt.cfg.WorkerID + "-" + strconv.Itoa(i)
		go func(r *rand.Rand, id string) {
			defer rt.wg.Done()
			rt.workerLoop(r, id)
		}(rng, workerID)
	}

	// Stale lease sweeper
	if rt.cfg.SweepInterval > 0 && rt.cfg.StaleAfter > 0 {
		rt.every(rt.cfg.SweepInterval, "sweeper", func(ctx context.Context) (int, error) {
			return rt.src.Sweep(ctx, rt.cfg.StaleAfter)
		})
	}

	// Dead-letter auto-retry
	if rt.cfg.AutoRetryInterval > 0 {
		rt.every(rt.cfg.AutoRetryInterval, "auto-retry", rt.src.AutoRetry)
	}
}

func (rt *Runtime) every(interval time.Duration, name string, fn func(context.Context) (int, error)) {
	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-rt.ctx.Done():
				return
			case <-ticker.C:
				n, err := fn(rt.ctx)
				if err != nil {
					if rt.ctx.Err() == nil {
						rt.log.Warnf("%s: failed err=%v", name, err)
					}
					continue
				}
				if n > 0 {
					rt.log.Infof("%s: handled=%d", name, n)
				}
			}
		}
	}()
}

// Stop cancels the internal context and waits for all goroutines to exit.
// In-flight jobs see their context cancelled and are finalized before Stop returns.
func (rt *Runtime) Stop() {
	rt.mu.Lock()
	if !rt.started {
		rt.log.Warnf("runtime not started; ignoring Stop()")
		rt.mu.Unlock()
		return
	}
	rt.started = false
	rt.mu.Unlock()
	rt.log.Infof("runtime stopping")

	rt.cancel()
	rt.wg.Wait()
}

func (rt *Runtime) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-rt.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (rt *Runtime) workerLoop(rng *rand.Rand, workerID string) {
	tl := rt.typeList
	if len(tl) == 0 {
		return
	}
	for {
		select {
		case <-rt.ctx.Done():
			return
		default:
		}
		if rt.limiter != nil {
			if err := rt.limiter.Wait(rt.ctx); err != nil {
				return
			}
		}

		taskType := tl[rng.Intn(len(tl))]
		job, err := rt.src.Dequeue(rt.ctx, taskType, workerID, rt.cfg.DequeueTimeout)
		if err != nil {
			if rt.ctx.Err() != nil {
				return
			}
			rt.log.Warnf("dequeue failed: type=%s worker=%s err=%v", taskType, workerID, err)
			if !rt.sleep(errorWait) {
				return
			}
			continue
		}
		if job == nil {
			if rt.cfg.DequeueTimeout <= 0 && !rt.sleep(idleWait) {
				return
			}
			continue
		}
		rt.process(job, workerID)
	}
}

func (rt *Runtime) process(job *Job, workerID string) {
	// Finalization must survive shutdown.
	fin := context.WithoutCancel(rt.ctx)

	st := hctx.New()
	st.Info = hctx.Info{
		ID:            job.ID,
		TenantID:      job.TenantID,
		Type:          job.Type,
		CorrelationID: job.CorrelationID,
		WorkerID:      workerID,
		Attempts:      job.Attempts,
		MaxAttempts:   job.MaxAttempts,
	}
	st.OnProgress = func(p int) {
		if err := rt.src.Progress(fin, job, p); err != nil {
			rt.log.Warnf("progress failed: id=%s tenant=%s err=%v", job.ID, job.TenantID, err)
		}
	}
	jctx, cancel := context.WithCancel(rt.ctx)
	defer cancel()
	var cancelled atomic.Bool
	stopWatch := rt.watchCancel(jctx, job.ID, func() {
		cancelled.Store(true)
		cancel()
	})

	err := rt.safeExec(hctx.WithState(jctx, st), job)
	stopWatch()

	if cancelled.Load() {
		rt.log.Infof("cancelled while running: id=%s tenant=%s type=%s", job.ID, job.TenantID, job.Type)
		return
	}
	if err != nil {
		retry := !errors.Is(err, ErrNoHandler) && !errors.Is(err, ErrSkipRetry)
		if errors.Is(err, ErrNoHandler) {
			rt.log.Warnf("no handler for task: id=%s tenant=%s type=%s", job.ID, job.TenantID, job.Type)
		}
		if e := rt.src.Fail(fin, job, workerID, err, retry); e != nil {
			rt.log.Errorf("fail transition failed: id=%s tenant=%s type=%s err=%v", job.ID, job.TenantID, job.Type, e)
		} else {
			rt.log.Warnf("handler error: id=%s tenant=%s type=%s err=%v", job.ID, job.TenantID, job.Type, err)
		}
		return
	}
	if e := rt.src.Complete(fin, job, workerID, st.Result()); e != nil {
		rt.log.Errorf("complete failed: id=%s tenant=%s type=%s err=%v", job.ID, job.TenantID, job.Type, e)
		return
	}
	rt.log.Debugf("processed: id=%s tenant=%s type=%s", job.ID, job.TenantID, job.Type)
}

func (rt *Runtime) safeExec(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return rt.exec(ctx, job)
}

// watchCancel polls the job's cancellation flag until stop is called.
func (rt *Runtime) watchCancel(ctx context.Context, id string, onCancel func()) (stop func()) {
	if rt.cfg.CancelPollInterval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(rt.cfg.CancelPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				ok, err := rt.src.Cancelled(ctx, id)
				if err != nil {
					continue
				}
				if ok {
					onCancel()
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

// CfgConcurrency exposes configured worker concurrency.
func (rt *Runtime) CfgConcurrency() int { return rt.cfg.Concurrency }

// CfgTaskTypes exposes configured task type weights.
func (rt *Runtime) CfgTaskTypes() map[string]int { return rt.cfg.TaskTypes }

func expandTypes(q map[string]int) []string {
	// Rough preallocation
	n := 0
	for _, w := range q {
		n += w
	}
	out := make([]string, 0, n)
	for name, weight := range q {
		for i := 0; i < weight; i++ {
			out = append(out, name)
		}
	}
	return out
}
