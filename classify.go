package tenantq

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"
)

// Category groups failures by likely cause.
type Category string

const (
	CategoryTimeout    Category = "timeout"
	CategoryNetwork    Category = "network"
	CategoryRateLimit  Category = "rate_limit"
	CategoryValidation Category = "validation"
	CategoryPermission Category = "permission"
	CategoryResource   Category = "resource"
	CategoryInternal   Category = "internal"
	CategoryUnknown    Category = "unknown"
)

// Transient reports whether failures of this category tend to resolve on their own,
// which makes them eligible for automatic dead-letter retries.
func (c Category) Transient() bool {
	switch c {
	case CategoryTimeout, CategoryNetwork, CategoryRateLimit, CategoryResource:
		return true
	}
	return false
}

// Severity ranks how urgently a dead-lettered task needs attention.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityOrder = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

func (s Severity) rank() int {
	for i, v := range severityOrder {
		if v == s {
			return i
		}
	}
	return 0
}

// AtLeast reports whether s is as severe as other.
func (s Severity) AtLeast(other Severity) bool { return s.rank() >= other.rank() }

// escalateAfter is the attempt count from which severity is raised one level.
const escalateAfter = 5

type categorized struct {
	err error
	cat Category
}

func (c *categorized) Error() string { return c.err.Error() }
func (c *categorized) Unwrap() error { return c.err }

// WithCategory tags err so Classify returns cat regardless of the message.
func WithCategory(err error, cat Category) error {
	if err == nil {
		return nil
	}
	return &categorized{err: err, cat: cat}
}

var keywordRules = []struct {
	cat   Category
	words []string
}{
	{CategoryTimeout, []string{"timeout", "timed out", "deadline exceeded"}},
	{CategoryRateLimit, []string{"rate limit", "too many requests", "429", "throttl"}},
	{CategoryNetwork, []string{"connection", "network", "refused", "unreachable", "broken pipe", "eof", "dns"}},
	{CategoryPermission, []string{"permission", "forbidden", "unauthorized", "denied", "401", "403"}},
	{CategoryValidation, []string{"invalid", "validation", "malformed", "required", "unmarshal", "parse"}},
	{CategoryResource, []string{"out of memory", "quota", "disk", "capacity", "resource", "exhausted"}},
	{CategoryInternal, []string{"panic", "internal", "nil pointer", "index out of range"}},
}

// Classify derives a category and severity from an error and the number of
// attempts already made.
func Classify(err error, attempts int) (Category, Severity) {
	cat := classifyCategory(err)
	return cat, severityFor(cat, attempts)
}

func classifyCategory(err error) Category {
	if err == nil {
		return CategoryUnknown
	}
	var c *categorized
	if errors.As(err, &c) {
		return c.cat
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return CategoryTimeout
	}
	switch {
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, ErrTenantRequired):
		return CategoryValidation
	case errors.Is(err, ErrTenantMismatch):
		return CategoryPermission
	case errors.Is(err, ErrNoHandler):
		return CategoryInternal
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, io.ErrUnexpectedEOF):
		return CategoryNetwork
	}
	var oe *net.OpError
	if errors.As(err, &oe) {
		return CategoryNetwork
	}
	msg := strings.ToLower(err.Error())
	for _, r := range keywordRules {
		for _, w := range r.words {
			if strings.Contains(msg, w) {
				return r.cat
			}
		}
	}
	return CategoryUnknown
}

func severityFor(cat Category, attempts int) Severity {
	var s Severity
	switch cat {
	case CategoryTimeout, CategoryNetwork, CategoryRateLimit:
		s = SeverityLow
	case CategoryResource, CategoryUnknown:
		s = SeverityMedium
	default:
		s = SeverityHigh
	}
	if attempts >= escalateAfter && s != SeverityCritical {
		s = severityOrder[s.rank()+1]
	}
	return s
}
