package drs

import (
	"context"
	"errors"
	"time"

	"github.com/aws/smithy-go"
	"github.com/cenkalti/backoff/v5"
)

const maxAttempts = 5

// newBackOff is a variable so tests can substitute a zero-delay policy.
var newBackOff = func() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second
	// RandomizationFactor stays at the default so attempts are jittered.
	return bo
}

func isThrottle(err error) bool {
	var ae smithy.APIError
	if !errors.As(err, &ae) {
		return false
	}
	switch ae.ErrorCode() {
	case "ThrottlingException", "TooManyRequestsException", "RequestThrottled", "RequestLimitExceeded", "SlowDown":
		return true
	default:
		return false
	}
}

// retryCall runs fn with exponential backoff and jitter on throttling
// signals, up to a fixed attempt ceiling. Exhausted retries and context
// timeouts surface as *TransientError; everything else passes through.
func retryCall[T any](ctx context.Context, op string, fn func(context.Context) (T, error)) (T, error) {
	operation := func() (T, error) {
		out, err := fn(ctx)
		if err != nil && !isThrottle(err) {
			return out, backoff.Permanent(err)
		}
		return out, err
	}

	out, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(newBackOff()),
		backoff.WithMaxTries(maxAttempts),
	)
	if err == nil {
		return out, nil
	}

	if isThrottle(err) || errors.Is(err, context.DeadlineExceeded) {
		return out, &TransientError{Op: op, Err: err}
	}
	return out, err
}
