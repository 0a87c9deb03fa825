// Package metrics exports queue lifecycle events and queue depth to Prometheus.
package metrics

import (
	"context"
	"time"

	"github.com/UniQw/tenantq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tenantq"

// Observer implements tenantq.Observer on Prometheus collectors.
type Observer struct {
	events     *prometheus.CounterVec
	limited    *prometheus.CounterVec
	wait       *prometheus.HistogramVec
	depth      *prometheus.GaugeVec
	deadLetter *prometheus.GaugeVec
	collectErr prometheus.Counter
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer to
// expose them on the default /metrics handler.
func New(reg prometheus.Registerer) *Observer {
	f := promauto.With(reg)
	return &Observer{
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "task",
			Name:      "events_total",
			Help:      "Task lifecycle transitions (kind=enqueued/dequeued/completed/retried/failed/dead_lettered/cancelled/reclaimed)",
		}, []string{"kind", "task_type"}),
		limited: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "rejected_total",
			Help:      "Rate limit rejections per subject type",
		}, []string{"subject"}),
		wait: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "task",
			Name:      "duration_seconds",
			Help:      "Queue wait on dequeue and run time on completion",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"kind", "task_type"}),
		depth: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Tasks per type and state (state=queued/delayed/running)",
		}, []string{"task_type", "state"}),
		deadLetter: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "deadletter",
			Name:      "records",
			Help:      "Dead-letter records per tenant",
		}, []string{"tenant"}),
		collectErr: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "errors_total",
			Help:      "Failed queue stat collections",
		}),
	}
}

// Observe records one lifecycle event.
func (o *Observer) Observe(_ context.Context, ev tenantq.Event) {
	if ev.Kind == tenantq.EventRateLimited {
		o.limited.WithLabelValues(ev.LimitSubject).Inc()
		return
	}
	tt := string(ev.TaskType)
	o.events.WithLabelValues(string(ev.Kind), tt).Inc()
	switch ev.Kind {
	case tenantq.EventDequeued, tenantq.EventCompleted:
		if ev.Wait > 0 {
			o.wait.WithLabelValues(string(ev.Kind), tt).Observe(ev.Wait.Seconds())
		}
	}
}

// RecordQueueStats sets the depth gauges from a stats snapshot.
func (o *Observer) RecordQueueStats(s tenantq.AllQueueStats) {
	for tt, q := range s.ByType {
		o.depth.WithLabelValues(string(tt), "queued").Set(float64(q.Queued))
		o.depth.WithLabelValues(string(tt), "delayed").Set(float64(q.Delayed))
		o.depth.WithLabelValues(string(tt), "running").Set(float64(q.Running))
	}
}

// RecordDeadLetterStats sets the tenant's dead-letter gauge.
func (o *Observer) RecordDeadLetterStats(tenantID string, s tenantq.DeadLetterStats) {
	o.deadLetter.WithLabelValues(tenantID).Set(float64(s.Count))
}

// Collect reads queue and dead-letter stats from m once.
func (o *Observer) Collect(ctx context.Context, m *tenantq.Manager) error {
	all, err := m.GetAllQueueStats(ctx)
	if err != nil {
		o.collectErr.Inc()
		return err
	}
	o.RecordQueueStats(all)
	tenants, err := m.Factory().Admin().Tenants(ctx)
	if err != nil {
		o.collectErr.Inc()
		return err
	}
	for _, tid := range tenants {
		s, err := m.DeadLetters().GetStatistics(ctx, tid)
		if err != nil {
			o.collectErr.Inc()
			return err
		}
		o.RecordDeadLetterStats(tid, s)
	}
	return nil
}

// Run calls Collect every interval until ctx is done.
func (o *Observer) Run(ctx context.Context, m *tenantq.Manager, interval time.Duration, log tenantq.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := o.Collect(ctx, m); err != nil && ctx.Err() == nil && log != nil {
				log.Warnf("metrics collect failed err=%v", err)
			}
		}
	}
}
