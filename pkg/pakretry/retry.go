// Retries operations that failed for transient data-layer reasons (lock contention,
// concurrent modification) with jittered exponential backoff and a capped attempt count
package pakretry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/function61/pakka/pkg/paktypes"
	"go.etcd.io/bbolt"
)

var ErrRetriesExhausted = errors.New("retries exhausted")

const (
	DefaultMaxAttempts = 5
)

type Policy struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// 0.5 => each delay is randomized in [0.5*d, 1.5*d]
	Jitter float64
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     DefaultMaxAttempts,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		Jitter:          0.5,
	}
}

// explicit classification instead of matching on error strings
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var marked *transientError
	return errors.Is(err, paktypes.ErrVersionConflict) ||
		errors.Is(err, bbolt.ErrTimeout) ||
		errors.As(err, &marked)
}

type transientError struct {
	err error
}

func (t *transientError) Error() string { return t.err.Error() }
func (t *transientError) Unwrap() error { return t.err }

// lets collaborators (e.g. a remote catalog) declare their own errors transient
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err}
}

func Do(ctx context.Context, op func(ctx context.Context) error) error {
	return DoWithPolicy(ctx, DefaultPolicy(), op, nil)
}

// "failed" (if non-nil) is called for each transient failure that will be retried
func DoWithPolicy(
	ctx context.Context,
	policy Policy,
	op func(ctx context.Context) error,
	failed func(attempt int, err error),
) error {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = policy.InitialInterval
	expBackoff.MaxInterval = policy.MaxInterval
	expBackoff.RandomizationFactor = policy.Jitter

	attempt := 0

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++

		err := op(ctx)
		if err == nil {
			return struct{}{}, nil
		}

		if !IsTransient(err) {
			return struct{}{}, backoff.Permanent(err)
		}

		if failed != nil && uint(attempt) < policy.MaxAttempts {
			failed(attempt, err)
		}

		return struct{}{}, err
	},
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(policy.MaxAttempts))
	if err == nil {
		return nil
	}

	if IsTransient(err) {
		return fmt.Errorf("%w after %d attempt(s): %w", ErrRetriesExhausted, attempt, err)
	}

	return err
}
