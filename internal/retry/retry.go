// Package retry categorizes transient errors and drives exponential backoff
// for model and tool calls.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/strandlabs/strand/internal/infra"
)

// Category labels an error for retry purposes.
type Category string

const (
	CategoryRateLimit    Category = "rate_limit"
	CategoryOverload     Category = "overload"
	CategoryNetwork      Category = "network"
	CategoryNonRetriable Category = "non_retriable"
	CategoryUnknown      Category = "unknown"
)

// Classification is the outcome of categorizing one error.
type Classification struct {
	Category Category

	// Retriable reports whether another attempt may succeed.
	Retriable bool

	// RetryAfter is the category's minimum wait before the next attempt.
	// Zero for non_retriable and unknown.
	RetryAfter time.Duration
}

// Substring hints checked in priority order. Matching is case-insensitive;
// the first matching group decides the category.
var (
	rateLimitHints = []string{"rate limit", "rate_limit", "ratelimit", "429", "too many requests", "quota"}
	overloadHints  = []string{"overload", "529", "capacity", "server busy"}
	networkHints   = []string{"network", "timeout", "timed out", "connection", "econnreset", "econnrefused", "broken pipe", "eof", "unavailable", "503"}
	fatalHints     = []string{"authentication", "unauthorized", "401", "403", "permission", "forbidden", "invalid input", "invalid request", "invalid_request", "not found", "400"}
)

// PermanentError marks an error a caller knows must not be retried,
// whatever its message says.
type PermanentError struct{ Err error }

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as non-retriable. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Categorize classifies err. A circuit-breaker rejection or a permanent-marked
// error is never retriable regardless of its message.
func Categorize(err error) Classification {
	if err == nil {
		return Classification{Category: CategoryUnknown, Retriable: false}
	}
	var permanent *PermanentError
	if errors.Is(err, infra.ErrCircuitOpen) || errors.As(err, &permanent) {
		return Classification{Category: CategoryNonRetriable, Retriable: false}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, rateLimitHints):
		return Classification{Category: CategoryRateLimit, Retriable: true, RetryAfter: 60 * time.Second}
	case containsAny(msg, overloadHints):
		return Classification{Category: CategoryOverload, Retriable: true, RetryAfter: 10 * time.Second}
	case containsAny(msg, networkHints):
		return Classification{Category: CategoryNetwork, Retriable: true, RetryAfter: 5 * time.Second}
	case containsAny(msg, fatalHints):
		return Classification{Category: CategoryNonRetriable, Retriable: false}
	}
	return Classification{Category: CategoryUnknown, Retriable: true}
}

func containsAny(msg string, hints []string) bool {
	for _, h := range hints {
		if strings.Contains(msg, h) {
			return true
		}
	}
	return false
}

// Policy configures backoff. The zero value is unusable; use DefaultPolicy.
type Policy struct {
	// MaxRetries is the retry budget per call, not counting the first
	// attempt.
	MaxRetries int

	// BaseDelay seeds the exponential backoff.
	BaseDelay time.Duration

	// BackoffMultiplier grows the delay per attempt.
	BackoffMultiplier float64

	// MaxDelay caps the pre-jitter delay.
	MaxDelay time.Duration

	// OnRetry is called before each sleep, for logging.
	OnRetry func(attempt int, delay time.Duration, err error)

	// rand is swappable for deterministic tests; nil uses the global source.
	rand func() float64
}

// DefaultPolicy returns the standard per-call retry budget.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:        3,
		BaseDelay:         time.Second,
		BackoffMultiplier: 2.0,
		MaxDelay:          30 * time.Second,
	}
}

// Delay computes the backoff for a zero-based attempt:
// min(maxDelay, base*mult^attempt) plus up to 10% additive jitter.
func (p Policy) Delay(attempt int) time.Duration {
	base := float64(p.BaseDelay) * math.Pow(p.BackoffMultiplier, float64(attempt))
	if capped := float64(p.MaxDelay); base > capped {
		base = capped
	}
	r := p.rand
	if r == nil {
		r = rand.Float64
	}
	return time.Duration(base * (1 + r()*0.1))
}

// Do runs fn with the policy's retry budget. Each failure is categorized;
// non-retriable errors and exhausted budgets return the last error. The wait
// before a retry is the larger of the backoff and the category's RetryAfter
// floor, and aborts early when ctx is done.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		cls := Categorize(lastErr)
		if !cls.Retriable || attempt >= p.MaxRetries {
			return lastErr
		}

		delay := p.Delay(attempt)
		if cls.RetryAfter > delay {
			delay = cls.RetryAfter
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, delay, lastErr)
		}
		if err := sleep(ctx, delay); err != nil {
			return lastErr
		}
	}
}

// DoWithResult is Do for functions returning a value.
func DoWithResult[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context) error {
		var fnErr error
		out, fnErr = fn(ctx)
		return fnErr
	})
	return out, err
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
