package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
)

func TestExecuteRetriesTemporaryFailure(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 1 * time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	})

	attempts := 0
	errTemp := errors.New("temporary")
	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errTemp
		}
		return nil
	}, func(err error) ErrorClassification {
		return ErrorClassification{
			Retryable:     errors.Is(err, errTemp),
			RecordFailure: true,
		}
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestExecuteDoesNotRetryPermanentFailure(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 1 * time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
		BreakerEnabled:      false,
	})

	attempts := 0
	errPermanent := errors.New("permanent")
	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		attempts++
		return errPermanent
	}, func(error) ErrorClassification {
		return ErrorClassification{
			Retryable:     false,
			RecordFailure: false,
		}
	})
	if !errors.Is(err, errPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestExecuteOpensCircuitAfterFailures(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:        1,
		RetryInitialBackoff:     1 * time.Millisecond,
		RetryMaxBackoff:         1 * time.Millisecond,
		RetryMultiplier:         2,
		BreakerEnabled:          true,
		BreakerMinRequests:      2,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      50 * time.Millisecond,
		BreakerHalfOpenMaxCalls: 1,
	})

	errTemp := errors.New("temporary")
	classifier := func(error) ErrorClassification {
		return ErrorClassification{
			Retryable:     false,
			RecordFailure: true,
		}
	}

	for i := 0; i < 2; i++ {
		err := exec.Execute(context.Background(), "op", func(context.Context) error {
			return errTemp
		}, classifier)
		if !errors.Is(err, errTemp) {
			t.Fatalf("expected temporary error on iteration %d, got %v", i, err)
		}
	}

	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		t.Fatalf("circuit should be open and must not call operation")
		return nil
	}, classifier)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open state error, got %v", err)
	}
}

type observerFake struct {
	retries int
	states  []string
}

func (o *observerFake) RetryAttempted(string) { o.retries++ }

func (o *observerFake) BreakerStateChanged(_ string, state string) {
	o.states = append(o.states, state)
}

func TestDoReturnsValueAndReportsRetries(t *testing.T) {
	obs := &observerFake{}
	exec := NewExecutor(Config{
		RetryMaxAttempts:    2,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     time.Millisecond,
		BreakerEnabled:      true,
		BreakerMinRequests:  100,
	}).WithObserver(obs)

	calls := 0
	got, err := Do(context.Background(), exec, "embed", func(context.Context) ([]float32, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("flaky")
		}
		return []float32{1, 2}, nil
	}, func(error) ErrorClassification {
		return ErrorClassification{Retryable: true, RecordFailure: true}
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if len(got) != 2 || obs.retries != 1 {
		t.Fatalf("unexpected result %v with %d retries", got, obs.retries)
	}
	if exec.State("embed") != "closed" {
		t.Fatalf("expected closed breaker, got %s", exec.State("embed"))
	}
}

func TestDoWithoutExecutorRunsOnce(t *testing.T) {
	got, err := Do(context.Background(), nil, "op", func(context.Context) (int, error) { return 7, nil }, nil)
	if err != nil || got != 7 {
		t.Fatalf("Do() = %d, %v", got, err)
	}
}

func TestBreakerTransitionsAreObserved(t *testing.T) {
	obs := &observerFake{}
	exec := NewExecutor(Config{
		RetryMaxAttempts:        1,
		BreakerEnabled:          true,
		BreakerMinRequests:      1,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      time.Minute,
		BreakerHalfOpenMaxCalls: 1,
	}).WithObserver(obs)

	_ = exec.Execute(context.Background(), "search", func(context.Context) error {
		return errors.New("down")
	}, nil)
	if len(obs.states) != 1 || obs.states[0] != "open" || exec.State("search") != "open" {
		t.Fatalf("expected open transition, got %v", obs.states)
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	bad := DefaultConfig()
	bad.BreakerFailureRatio = 1.5
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected ratio validation error")
	}
	if DefaultConfig().OneShot().BreakerEnabled {
		t.Fatalf("one-shot config must disable the breaker")
	}
}
