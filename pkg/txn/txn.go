// Package txn runs a unit of work inside a storage transaction and retries
// the whole unit, from a fresh transaction, when the commit loses a
// serialization race.
package txn

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrConflict marks a storage error that a fresh attempt may not hit, such
// as a serialization failure or a deadlock victim.
var ErrConflict = errors.New("transaction conflict")

type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type Policy struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// Notify is called before each retry with the error of the failed attempt.
	Notify func(err error, wait time.Duration)
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: 20 * time.Millisecond,
		MaxInterval:     200 * time.Millisecond,
	}
}

// Run begins a transaction, calls fn and commits. Any error from fn rolls
// the transaction back. Errors for which permanent returns true, and context
// errors, end the loop; everything else is retried up to p.MaxAttempts.
//
// Cancellation of ctx is honoured until commit starts. Commit and rollback
// run on a context detached from ctx's cancellation so that a started commit
// always resolves to committed or rolled back.
func Run[X Tx, T any](
	ctx context.Context,
	p Policy,
	begin func(context.Context) (X, error),
	fn func(context.Context, X) (T, error),
	permanent func(error) bool,
) (T, error) {
	classify := func(err error) error {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || (permanent != nil && permanent(err)) {
			return backoff.Permanent(err)
		}
		return err
	}

	attempt := func() (T, error) {
		var zero T
		if err := ctx.Err(); err != nil {
			return zero, backoff.Permanent(err)
		}

		tx, err := begin(ctx)
		if err != nil {
			return zero, classify(err)
		}

		res, err := fn(ctx, tx)
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			return zero, classify(err)
		}

		detached := context.WithoutCancel(ctx)
		if err := tx.Commit(detached); err != nil {
			_ = tx.Rollback(detached)
			return zero, classify(err)
		}
		return res, nil
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(p.BackOff()),
		backoff.WithMaxTries(max(p.MaxAttempts, 1)),
	}
	if p.Notify != nil {
		opts = append(opts, backoff.WithNotify(p.Notify))
	}
	return backoff.Retry(ctx, attempt, opts...)
}

// BackOff is the exponential schedule between attempts.
func (p Policy) BackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	return b
}
