package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/strandlabs/strand/internal/infra"
)

func TestCategorize(t *testing.T) {
	tests := []struct {
		msg       string
		category  Category
		retriable bool
		after     time.Duration
	}{
		{"429 Too Many Requests", CategoryRateLimit, true, 60 * time.Second},
		{"rate limit exceeded for model", CategoryRateLimit, true, 60 * time.Second},
		{"upstream 529: overloaded_error", CategoryOverload, true, 10 * time.Second},
		{"dial tcp: connection refused", CategoryNetwork, true, 5 * time.Second},
		{"request timed out", CategoryNetwork, true, 5 * time.Second},
		{"401 authentication failed", CategoryNonRetriable, false, 0},
		{"permission denied", CategoryNonRetriable, false, 0},
		{"invalid input: missing field", CategoryNonRetriable, false, 0},
		{"something odd happened", CategoryUnknown, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			cls := Categorize(errors.New(tt.msg))
			if cls.Category != tt.category {
				t.Errorf("category = %s, want %s", cls.Category, tt.category)
			}
			if cls.Retriable != tt.retriable {
				t.Errorf("retriable = %v, want %v", cls.Retriable, tt.retriable)
			}
			if cls.RetryAfter != tt.after {
				t.Errorf("retryAfter = %v, want %v", cls.RetryAfter, tt.after)
			}
		})
	}
}

func TestCategorizeOrderRateLimitBeforeNetwork(t *testing.T) {
	// An error carrying both hints takes the higher-priority category.
	cls := Categorize(errors.New("rate limit hit: connection throttled"))
	if cls.Category != CategoryRateLimit {
		t.Errorf("category = %s, want rate_limit", cls.Category)
	}
}

func TestCircuitOpenNeverRetriable(t *testing.T) {
	cls := Categorize(fmt.Errorf("tool call blocked: %w", infra.ErrCircuitOpen))
	if cls.Retriable {
		t.Errorf("circuit-open must not be retriable")
	}
	if cls.Category != CategoryNonRetriable {
		t.Errorf("category = %s", cls.Category)
	}
}

func TestPermanentNeverRetried(t *testing.T) {
	cls := Categorize(Permanent(errors.New("transient hiccup")))
	if cls.Retriable || cls.Category != CategoryNonRetriable {
		t.Errorf("permanent-marked error classified %+v", cls)
	}

	p := DefaultPolicy()
	p.BaseDelay = time.Millisecond
	attempts := 0
	err := p.Do(context.Background(), func(context.Context) error {
		attempts++
		return Permanent(errors.New("timed out after 50ms"))
	})
	if err == nil || err.Error() != "timed out after 50ms" {
		t.Fatalf("err = %v, want the wrapped message", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
	if Permanent(nil) != nil {
		t.Errorf("Permanent(nil) must stay nil")
	}
}

func TestDelayBackoff(t *testing.T) {
	p := Policy{
		BaseDelay:         time.Second,
		BackoffMultiplier: 2.0,
		MaxDelay:          5 * time.Second,
		rand:              func() float64 { return 0 },
	}

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for attempt, w := range want {
		if got := p.Delay(attempt); got != w {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, w)
		}
	}
}

func TestDelayJitterBounds(t *testing.T) {
	p := Policy{
		BaseDelay:         time.Second,
		BackoffMultiplier: 2.0,
		MaxDelay:          30 * time.Second,
		rand:              func() float64 { return 1 },
	}
	if got := p.Delay(0); got != 1100*time.Millisecond {
		t.Errorf("Delay(0) with max jitter = %v, want 1.1s", got)
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	p := DefaultPolicy()
	p.BaseDelay = time.Millisecond
	p.MaxDelay = time.Millisecond

	attempts := 0
	err := p.Do(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("weird transient thing")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestDoStopsOnNonRetriable(t *testing.T) {
	p := DefaultPolicy()
	p.BaseDelay = time.Millisecond

	attempts := 0
	err := p.Do(context.Background(), func(context.Context) error {
		attempts++
		return errors.New("authentication failed")
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 for non-retriable", attempts)
	}
}

func TestDoExhaustsBudget(t *testing.T) {
	p := Policy{MaxRetries: 2, BaseDelay: time.Millisecond, BackoffMultiplier: 1, MaxDelay: time.Millisecond}

	attempts := 0
	sentinel := errors.New("flaky")
	err := p.Do(context.Background(), func(context.Context) error {
		attempts++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 1 initial + 2 retries", attempts)
	}
}

func TestDoHonorsContextCancel(t *testing.T) {
	p := Policy{MaxRetries: 5, BaseDelay: time.Minute, BackoffMultiplier: 1, MaxDelay: time.Minute}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := p.Do(ctx, func(context.Context) error {
		return errors.New("flaky")
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("cancellation did not interrupt backoff sleep")
	}
}

func TestDoFloorsDelayAtRetryAfter(t *testing.T) {
	var observed time.Duration
	p := Policy{
		MaxRetries:        1,
		BaseDelay:         time.Millisecond,
		BackoffMultiplier: 1,
		MaxDelay:          time.Millisecond,
		OnRetry: func(_ int, delay time.Duration, _ error) {
			observed = delay
		},
	}

	// Cancelled context aborts the sleep immediately; OnRetry still sees the
	// computed delay.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = p.Do(ctx, func(context.Context) error {
		return errors.New("429 too many requests")
	})

	if observed < 60*time.Second {
		t.Errorf("delay = %v, want at least the rate-limit floor", observed)
	}
}

func TestDoWithResult(t *testing.T) {
	p := DefaultPolicy()
	p.BaseDelay = time.Millisecond
	p.MaxDelay = time.Millisecond

	attempts := 0
	v, err := DoWithResult(context.Background(), p, func(context.Context) (string, error) {
		attempts++
		if attempts == 1 {
			return "", errors.New("transient hiccup")
		}
		return "done", nil
	})
	if err != nil || v != "done" {
		t.Fatalf("DoWithResult = %q, %v", v, err)
	}
}
