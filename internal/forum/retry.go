package forum

import (
	"context"
	"time"
)

// CallWithRetry runs fn under policy. Fatal errors stop immediately, everything
// else is retried with linear backoff until MaxAttempts is spent. A failure is
// always returned as *ClassifiedError.
func CallWithRetry[T any](ctx context.Context, policy Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	maxAttempts := max(policy.MaxAttempts, 1)

	var (
		lastErr   error
		lastClass Class
	)
	for attempt := range maxAttempts {
		if err := ctx.Err(); err != nil {
			return zero, &ClassifiedError{Class: ClassRetriable, Attempts: attempt, Err: err}
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		lastClass = policy.Classify(err)
		if lastClass == ClassFatal {
			return zero, &ClassifiedError{Class: ClassFatal, Attempts: attempt + 1, Err: err}
		}

		if attempt == maxAttempts-1 {
			break
		}

		backoff := time.Duration(attempt+1) * policy.Backoff
		if backoff <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return zero, &ClassifiedError{Class: lastClass, Attempts: attempt + 1, Err: lastErr}
		case <-time.After(backoff):
		}
	}
	return zero, &ClassifiedError{Class: lastClass, Attempts: maxAttempts, Err: lastErr}
}
