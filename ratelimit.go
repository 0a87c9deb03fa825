package tenantq

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	ikeys "github.com/UniQw/tenantq/internal/keys"
	"github.com/UniQw/tenantq/internal/scripts"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Algorithm selects how requests are counted.
type Algorithm int

const (
	// FixedWindow counts requests in aligned windows that start on the first
	// request. A burst straddling two windows can reach twice the limit.
	FixedWindow Algorithm = iota
	// SlidingWindow logs request times and counts those inside the trailing window.
	SlidingWindow
)

func (a Algorithm) String() string {
	if a == SlidingWindow {
		return "sliding"
	}
	return "fixed"
}

// SubjectTenant is the subject type whose identifier is a tenant id.
const SubjectTenant = "tenant"

// RateLimitConfig describes one limit.
type RateLimitConfig struct {
	RequestsPerWindow int
	Window            time.Duration
	Algorithm         Algorithm
}

// RateLimitResult is the outcome of a check.
type RateLimitResult struct {
	Allowed      bool
	CurrentCount int
	Remaining    int
	Limit        int
	// RetryAfter is set when the request was rejected.
	RetryAfter time.Duration
	ResetAt    time.Time
	LimitType  string
	// FailOpen is set when the store could not be reached and the request was allowed anyway.
	FailOpen bool
}

// RateLimitMetrics summarizes the live limit keys.
type RateLimitMetrics struct {
	TotalActiveLimits int
	LimitsByType      map[string]int
}

// LimiterOption configures a RateLimiter.
type LimiterOption func(*RateLimiter)

// WithLimiterLogger sets the logger.
func WithLimiterLogger(l Logger) LimiterOption {
	return func(r *RateLimiter) { r.log = l }
}

// WithLimiterObserver reports rejected requests as EventRateLimited.
func WithLimiterObserver(o Observer) LimiterOption {
	return func(r *RateLimiter) { r.obs = o }
}

func withLimiterClock(now func() time.Time) LimiterOption {
	return func(r *RateLimiter) { r.now = now }
}

// RateLimiter enforces per-subject request limits shared by every process
// using the same store. It fails open: store errors never block traffic.
type RateLimiter struct {
	rdb  redis.UniversalClient
	keys ikeys.Space
	log  Logger
	obs  Observer
	now  func() time.Time
}

// NewRateLimiter creates a limiter over the factory's client.
func NewRateLimiter(f *ConnFactory, opts ...LimiterOption) *RateLimiter {
	r := &RateLimiter{rdb: f.rdb, keys: f.keys, log: NoopLogger{}, obs: NoopObserver{}, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func validateLimit(subjectType, identifier string, cfg RateLimitConfig) error {
	if subjectType == "" || identifier == "" {
		return invalidf("subject type and identifier required")
	}
	if strings.Contains(subjectType, ":") {
		return invalidf("subject type %q contains ':'", subjectType)
	}
	if cfg.RequestsPerWindow <= 0 {
		return invalidf("requests per window must be positive")
	}
	if cfg.Window < time.Millisecond {
		return invalidf("window must be at least 1ms")
	}
	return nil
}

func windowSeconds(d time.Duration) int64 {
	s := int64(math.Ceil(d.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}

// Check consumes cost units for the subject if that keeps it within the limit.
// A rejected request consumes nothing.
func (r *RateLimiter) Check(ctx context.Context, subjectType, identifier string, cfg RateLimitConfig, cost int) (RateLimitResult, error) {
	if err := validateLimit(subjectType, identifier, cfg); err != nil {
		return RateLimitResult{}, err
	}
	if cost < 1 {
		cost = 1
	}
	now := r.now()
	win := windowSeconds(cfg.Window)
	var (
		v   []any
		err error
	)
	switch cfg.Algorithm {
	case SlidingWindow:
		v, err = scripts.SlidingWindow.Run(ctx, r.rdb,
			[]string{r.keys.RateLimitLog(subjectType, identifier, win)},
			cfg.RequestsPerWindow, cfg.Window.Milliseconds(), cost, now.UnixMilli(), uuid.NewString(),
		).Slice()
	default:
		v, err = scripts.FixedWindow.Run(ctx, r.rdb,
			[]string{r.keys.RateLimit(subjectType, identifier, win)},
			cfg.RequestsPerWindow, cfg.Window.Milliseconds(), cost,
		).Slice()
	}
	if err != nil {
		return r.failOpen(subjectType, identifier, cfg, err)
	}
	allowed, _ := v[0].(int64)
	count, _ := v[1].(int64)
	ttl, _ := v[2].(int64)
	res := r.result(subjectType, cfg, allowed == 1, int(count), ttl, now)
	if !res.Allowed {
		r.log.Debugf("rate limited subject=%s id=%s count=%d limit=%d retry_after=%s",
			subjectType, identifier, res.CurrentCount, res.Limit, res.RetryAfter)
		ev := Event{Kind: EventRateLimited, LimitSubject: subjectType, LimitID: identifier}
		if subjectType == SubjectTenant {
			ev.TenantID = identifier
		}
		r.obs.Observe(ctx, ev)
	}
	return res, nil
}

// Status reports the current state without consuming anything.
func (r *RateLimiter) Status(ctx context.Context, subjectType, identifier string, cfg RateLimitConfig) (RateLimitResult, error) {
	if err := validateLimit(subjectType, identifier, cfg); err != nil {
		return RateLimitResult{}, err
	}
	now := r.now()
	win := windowSeconds(cfg.Window)
	var count, ttl int64
	switch cfg.Algorithm {
	case SlidingWindow:
		key := r.keys.RateLimitLog(subjectType, identifier, win)
		from := "(" + strconv.FormatInt(now.UnixMilli()-cfg.Window.Milliseconds(), 10)
		var cnt *redis.IntCmd
		var oldest *redis.ZSliceCmd
		_, err := r.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
			cnt = p.ZCount(ctx, key, from, "+inf")
			oldest = p.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{Min: from, Max: "+inf", Count: 1})
			return nil
		})
		if err != nil {
			return r.failOpen(subjectType, identifier, cfg, err)
		}
		count = cnt.Val()
		ttl = cfg.Window.Milliseconds()
		if z := oldest.Val(); len(z) > 0 {
			ttl = int64(z[0].Score) + cfg.Window.Milliseconds() - now.UnixMilli()
		}
	default:
		key := r.keys.RateLimit(subjectType, identifier, win)
		var get *redis.StringCmd
		var pttl *redis.DurationCmd
		_, err := r.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
			get = p.Get(ctx, key)
			pttl = p.PTTL(ctx, key)
			return nil
		})
		if err != nil && !errors.Is(err, redis.Nil) {
			return r.failOpen(subjectType, identifier, cfg, err)
		}
		count, _ = strconv.ParseInt(get.Val(), 10, 64)
		ttl = cfg.Window.Milliseconds()
		if d := pttl.Val(); d > 0 {
			ttl = d.Milliseconds()
		}
	}
	return r.result(subjectType, cfg, int(count) < cfg.RequestsPerWindow, int(count), ttl, now), nil
}

// Reset clears the subject's counters. It reports whether anything was removed.
func (r *RateLimiter) Reset(ctx context.Context, subjectType, identifier string, window time.Duration) (bool, error) {
	if subjectType == "" || identifier == "" {
		return false, invalidf("subject type and identifier required")
	}
	win := windowSeconds(window)
	n, err := r.rdb.Del(ctx,
		r.keys.RateLimit(subjectType, identifier, win),
		r.keys.RateLimitLog(subjectType, identifier, win),
	).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
	}
	return n > 0, nil
}

// Metrics counts live limit keys per subject type.
func (r *RateLimiter) Metrics(ctx context.Context) (RateLimitMetrics, error) {
	out := RateLimitMetrics{LimitsByType: map[string]int{}}
	prefix := r.keys.RateLimitPrefix()
	iter := r.rdb.Scan(ctx, 0, r.keys.RateLimitPattern(), 200).Iterator()
	seen := make(map[string]struct{})
	for iter.Next(ctx) {
		k := iter.Val()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		rest := strings.TrimPrefix(k, prefix)
		subject, _, _ := strings.Cut(rest, ":")
		out.LimitsByType[subject]++
		out.TotalActiveLimits++
	}
	if err := iter.Err(); err != nil {
		return out, fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
	}
	return out, nil
}

func (r *RateLimiter) result(subjectType string, cfg RateLimitConfig, allowed bool, count int, ttlMs int64, now time.Time) RateLimitResult {
	if ttlMs <= 0 {
		ttlMs = cfg.Window.Milliseconds()
	}
	remaining := cfg.RequestsPerWindow - count
	if remaining < 0 {
		remaining = 0
	}
	res := RateLimitResult{
		Allowed:      allowed,
		CurrentCount: count,
		Remaining:    remaining,
		Limit:        cfg.RequestsPerWindow,
		ResetAt:      now.Add(time.Duration(ttlMs) * time.Millisecond),
		LimitType:    subjectType,
	}
	if !allowed {
		res.RetryAfter = time.Duration(ttlMs) * time.Millisecond
	}
	return res
}

func (r *RateLimiter) failOpen(subjectType, identifier string, cfg RateLimitConfig, err error) (RateLimitResult, error) {
	r.log.Warnf("rate limiter unavailable, allowing subject=%s id=%s err=%v", subjectType, identifier, err)
	return RateLimitResult{
		Allowed:   true,
		FailOpen:  true,
		Remaining: cfg.RequestsPerWindow,
		Limit:     cfg.RequestsPerWindow,
		ResetAt:   r.now().Add(cfg.Window),
		LimitType: subjectType,
	}, fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
}
