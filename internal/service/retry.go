package service

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	apperrors "floatingtimer/backend/internal/errors"
	"floatingtimer/backend/internal/repository"
)

// isEntryError reports errors the store uses to describe entry state. They
// are answers, not faults, and are never retried.
func isEntryError(err error) bool {
	return errors.Is(err, repository.ErrNotFound) ||
		errors.Is(err, repository.ErrConflict) ||
		errors.Is(err, repository.ErrFinalized)
}

// storeCall runs fn under the store timeout. With retry set, I/O failures are
// retried with exponential backoff; only idempotent writes should pass it.
// Failures that remain are wrapped in a StorageError.
func (s *TimerService) storeCall(ctx context.Context, op string, retry bool, fn func(ctx context.Context) error) error {
	attempt := func() error {
		callCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
		defer cancel()

		err := fn(callCtx)
		if err == nil {
			return nil
		}
		if isEntryError(err) {
			return backoff.Permanent(err)
		}
		s.logger.Printf("store %s failed: %v", op, err)
		return err
	}

	var err error
	if retry && s.opts.RetryAttempts > 0 {
		err = backoff.Retry(attempt, s.retryPolicy(ctx))
	} else {
		err = attempt()
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Err
		}
	}

	if err == nil || isEntryError(err) {
		return err
	}
	return &apperrors.StorageError{Op: op, Err: err}
}

func (s *TimerService) retryPolicy(ctx context.Context) backoff.BackOffContext {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.opts.RetryInitialInterval
	policy.MaxInterval = 2 * time.Second
	policy.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(policy, uint64(s.opts.RetryAttempts)), ctx)
}
