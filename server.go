package tenantq

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	rtm "github.com/UniQw/tenantq/internal/runtime"
	"github.com/google/uuid"
)

// ServerConfig defines the configuration for a worker server.
type ServerConfig struct {
	// TaskTypes defines the task types to process and their relative weights.
	TaskTypes map[TaskType]int
	// Concurrency is the number of worker goroutines.
	Concurrency int
	// WorkerID prefixes lease holder ids; defaults to hostname plus a random suffix.
	WorkerID string
	// TenantID, when set, makes workers prefer that tenant's queue.
	TenantID string
	// DequeueTimeout is how long a worker blocks waiting for work.
	DequeueTimeout time.Duration
	// DequeueRate caps dequeue attempts per second across the server; zero is unlimited.
	DequeueRate  float64
	DequeueBurst int
	// CancelPollInterval is how often running tasks are checked for cancellation.
	CancelPollInterval time.Duration
	// StaleAfter is the lease age after which a running task is reclaimed.
	StaleAfter    time.Duration
	SweepInterval time.Duration
	// AutoRetryInterval runs dead-letter auto-retries for every tenant; zero disables.
	AutoRetryInterval time.Duration
	// Logger is the logger used for server events.
	Logger Logger
}

// Server processes tasks from the Manager's queues using workers.
type Server struct {
	rt      *rtm.Runtime
	mux     *Mux
	mu      sync.Mutex
	started bool
	log     Logger
}

// NewServer creates a new worker server.
func NewServer(m *Manager, cfg ServerConfig, mux *Mux) *Server {
	l := cfg.Logger
	if l == nil {
		l = NewFmtLogger()
	}
	types := cfg.TaskTypes
	if len(types) == 0 {
		types = make(map[TaskType]int)
		for _, t := range mux.TaskTypes() {
			types[t] = 1
		}
	}
	weights := make(map[string]int, len(types))
	for t, w := range types {
		weights[string(t)] = w
	}
	workerID := cfg.WorkerID
	if workerID == "" {
		host, _ := os.Hostname()
		workerID = host + "-" + uuid.NewString()[:8]
	}
	exec := func(ctx context.Context, job *rtm.Job) error {
		return mux.ProcessTask(ctx, TaskType(job.Type), job.Payload)
	}

	rtc := rtm.Config{
		TaskTypes:          weights,
		Concurrency:        cfg.Concurrency,
		WorkerID:           workerID,
		DequeueTimeout:     cfg.DequeueTimeout,
		DequeueRate:        cfg.DequeueRate,
		DequeueBurst:       cfg.DequeueBurst,
		CancelPollInterval: cfg.CancelPollInterval,
		StaleAfter:         cfg.StaleAfter,
		SweepInterval:      cfg.SweepInterval,
		AutoRetryInterval:  cfg.AutoRetryInterval,
		Logger:             rtLogger{Logger: l},
	}
	src := &managerSource{m: m, tenant: cfg.TenantID, log: l}
	return &Server{rt: rtm.New(src, rtc, exec), mux: mux, log: l}
}

// Start launches the server workers and background maintenance routines.
// It is idempotent and non-blocking.
func (s *Server) Start() {
	s.mu.Lock()
	if s.started {
		if s.log != nil {
			s.log.Warnf("server already started; ignoring Start()")
		}
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()
	if s.log != nil {
		s.log.Infof("starting server: concurrency=%d task_types=%d", s.rt.CfgConcurrency(), len(s.rt.CfgTaskTypes()))
	}
	s.rt.Start()
}

// Stop gracefully shuts down the server, waiting for workers to finish current tasks.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.started {
		if s.log != nil {
			s.log.Warnf("server not started; ignoring Stop()")
		}
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()
	if s.log != nil {
		s.log.Infof("stopping server")
	}
	s.rt.Stop()
}

// rtLogger adapts the public Logger to the internal runtime logger interface.
type rtLogger struct{ Logger }

// managerSource adapts Manager to the runtime's Source port.
type managerSource struct {
	m      *Manager
	tenant string
	log    Logger
}

func (s *managerSource) Dequeue(ctx context.Context, taskType, workerID string, block time.Duration) (*rtm.Job, error) {
	opts := []DequeueOption{BlockFor(block)}
	if s.tenant != "" {
		opts = append(opts, PreferTenant(s.tenant))
	}
	t, err := s.m.Dequeue(ctx, TaskType(taskType), workerID, opts...)
	if err != nil || t == nil {
		return nil, err
	}
	return &rtm.Job{
		ID:            t.ID,
		TenantID:      t.TenantID,
		Type:          string(t.Type),
		CorrelationID: t.CorrelationID,
		Payload:       t.Payload,
		Attempts:      t.Attempts,
		MaxAttempts:   t.MaxAttempts,
	}, nil
}

func (s *managerSource) Complete(ctx context.Context, job *rtm.Job, workerID string, result []byte) error {
	var res any
	if len(result) > 0 {
		res = json.RawMessage(result)
	}
	ok, err := s.m.Complete(ctx, job.ID, workerID, res)
	if err == nil && !ok {
		s.log.Warnf("lease lost before completion: id=%s tenant=%s worker=%s", job.ID, job.TenantID, workerID)
	}
	return err
}

func (s *managerSource) Fail(ctx context.Context, job *rtm.Job, workerID string, err error, retry bool) error {
	ok, ferr := s.m.Fail(ctx, job.ID, workerID, err, retry)
	if ferr == nil && !ok {
		s.log.Warnf("lease lost before failure: id=%s tenant=%s worker=%s", job.ID, job.TenantID, workerID)
	}
	return ferr
}

func (s *managerSource) Cancelled(ctx context.Context, id string) (bool, error) {
	return s.m.IsCancelled(ctx, id)
}

func (s *managerSource) Progress(ctx context.Context, job *rtm.Job, progress int) error {
	return s.m.UpdateProgress(ctx, &Task{ID: job.ID, TenantID: job.TenantID, CorrelationID: job.CorrelationID}, progress)
}

func (s *managerSource) Sweep(ctx context.Context, staleAfter time.Duration) (int, error) {
	return s.m.CleanupExpiredTasks(ctx, staleAfter)
}

func (s *managerSource) AutoRetry(ctx context.Context) (int, error) {
	tenants, err := s.m.f.Admin().Tenants(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, tid := range tenants {
		n, err := s.m.dlq.ProcessAutoRetries(ctx, tid)
		if err != nil {
			s.log.Warnf("auto-retry failed tenant=%s err=%v", tid, err)
			continue
		}
		total += n
	}
	return total, nil
}
