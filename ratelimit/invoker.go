package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-github-app/core"
)

const (
	defaultMaxRetries = 3
	defaultBuffer     = time.Second
	defaultMaxWait    = 5 * time.Minute
)

type Operation func(ctx context.Context) error

// Invoker retries an operation only when it fails with a RateLimitError.
// The retry budget is an explicit loop bound, not recursion depth, so it is
// testable and cannot grow the call stack.
type Invoker struct {
	MaxRetries int
	// Buffer is added on top of the reset timestamp before retrying.
	Buffer time.Duration
	// MaxWait clamps the computed backoff so a malformed or far-future reset
	// value cannot suspend a dispatch indefinitely.
	MaxWait time.Duration
	Now     func() time.Time
	Sleep   func(ctx context.Context, d time.Duration) error
}

func NewInvoker() *Invoker {
	return &Invoker{
		MaxRetries: defaultMaxRetries,
		Buffer:     defaultBuffer,
		MaxWait:    defaultMaxWait,
		Now: func() time.Time {
			return time.Now().UTC()
		},
		Sleep: sleepContext,
	}
}

// Invoke executes op once, then retries on rate-limit signals until the
// budget is exhausted. Any non-rate-limit failure propagates untouched after
// a single attempt.
func (i *Invoker) Invoke(ctx context.Context, op Operation) error {
	if i == nil || op == nil {
		return goerrors.New("ratelimit: invoker requires an operation", goerrors.CategoryInternal).
			WithCode(http.StatusInternalServerError).
			WithTextCode(core.AppErrorInternal)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	retries := i.maxRetries()
	for attempt := 0; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		var signal *RateLimitError
		if !errors.As(err, &signal) {
			return err
		}
		if attempt >= retries {
			return rateLimitExceeded(signal, attempt+1)
		}

		wait := signal.ResetAt.Sub(i.now()) + i.buffer()
		if wait < 0 {
			wait = 0
		}
		if maxWait := i.maxWait(); wait > maxWait {
			wait = maxWait
		}
		if err := i.sleep(ctx, wait); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryOperation, "ratelimit: backoff interrupted").
				WithCode(http.StatusServiceUnavailable).
				WithTextCode(core.AppErrorRateLimited)
		}
	}
}

// Do is Invoke for operations that produce a value.
func Do[T any](ctx context.Context, invoker *Invoker, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := invoker.Invoke(ctx, func(ctx context.Context) error {
		value, opErr := op(ctx)
		if opErr != nil {
			return opErr
		}
		result = value
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

func rateLimitExceeded(signal *RateLimitError, attempts int) error {
	return goerrors.Wrap(signal, goerrors.CategoryRateLimit, "ratelimit: retry budget exhausted").
		WithCode(http.StatusTooManyRequests).
		WithTextCode(core.AppErrorRateLimited).
		WithMetadata(map[string]any{
			"attempts": attempts,
			"reset_at": signal.ResetAt.UTC().Format(time.RFC3339),
		})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (i *Invoker) maxRetries() int {
	if i != nil && i.MaxRetries >= 0 {
		return i.MaxRetries
	}
	return defaultMaxRetries
}

func (i *Invoker) buffer() time.Duration {
	if i != nil && i.Buffer > 0 {
		return i.Buffer
	}
	return defaultBuffer
}

func (i *Invoker) maxWait() time.Duration {
	if i != nil && i.MaxWait > 0 {
		return i.MaxWait
	}
	return defaultMaxWait
}

func (i *Invoker) now() time.Time {
	if i != nil && i.Now != nil {
		return i.Now().UTC()
	}
	return time.Now().UTC()
}

func (i *Invoker) sleep(ctx context.Context, d time.Duration) error {
	if i != nil && i.Sleep != nil {
		return i.Sleep(ctx, d)
	}
	return sleepContext(ctx, d)
}
