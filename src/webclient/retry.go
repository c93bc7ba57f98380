package webclient

import (
	"context"
	"net/http"
	"time"
)

type AttemptFunc func(ctx context.Context) (status int, body []byte, err error)

// Retryable reports whether a response is worth another attempt.
func Retryable(status int, err error) bool {
	if err != nil {
		return true
	}
	return status == http.StatusTooManyRequests || status >= 500
}

// DoWithRetry retries the attempt function on transient errors (429/5xx) or
// non-nil errors. The caller's context bounds the whole sequence, so a short
// deadline simply means fewer attempts.
func DoWithRetry(ctx context.Context, attempts int, initialDelay time.Duration, fn AttemptFunc) (int, []byte, error) {
	if attempts <= 0 {
		attempts = 1
	}
	if initialDelay <= 0 {
		initialDelay = 250 * time.Millisecond
	}
	delay := initialDelay
	var (
		status int
		body   []byte
		err    error
	)
	for i := 0; i < attempts; i++ {
		status, body, err = fn(ctx)
		if !Retryable(status, err) {
			return status, body, nil
		}
		if ctx.Err() != nil || i == attempts-1 {
			break
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return status, body, ctx.Err()
		case <-t.C:
		}
		if delay < 4*time.Second {
			delay *= 2
		}
	}
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	return status, body, err
}
