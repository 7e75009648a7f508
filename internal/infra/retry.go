package infra

import (
	"context"
	"time"
)

// Retry runs fn up to attempts times, sleeping base, 2*base, 4*base ...
// between failures. It stops early when ctx is done or when shouldRetry
// rejects the error. The last error is returned on exhaustion.
func Retry(ctx context.Context, attempts int, base time.Duration, shouldRetry func(error) bool, fn func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	delay := base
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if shouldRetry != nil && !shouldRetry(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
