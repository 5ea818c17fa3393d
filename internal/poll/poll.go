package poll

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is returned when the condition never held within the budget.
var ErrTimeout = errors.New("poll timeout")

// Options bounds a polling loop. At least one of Timeout or MaxAttempts
// must be set, otherwise the loop could run forever.
type Options struct {
	Interval    time.Duration // sleep between attempts
	Timeout     time.Duration // total budget, 0 = bounded by MaxAttempts only
	MaxAttempts int           // 0 = bounded by Timeout only
	Delayed     bool          // sleep one interval before the first attempt
}

// Condition reads page state and reports whether the awaited value is present.
// It must not mutate anything.
type Condition[T any] func(ctx context.Context) (T, bool)

// Until evaluates cond every opts.Interval until it returns ok, the attempt or
// time budget is spent (ErrTimeout) or ctx ends (ctx.Err()).
func Until[T any](ctx context.Context, opts Options, cond Condition[T]) (T, error) {
	var zero T
	if opts.Timeout <= 0 && opts.MaxAttempts <= 0 {
		return zero, errors.New("poll: unbounded options")
	}

	parent := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	timer := time.NewTimer(0)
	defer timer.Stop()
	if opts.Delayed {
		timer.Reset(opts.Interval)
	}

	attempts := 0
	for {
		select {
		case <-ctx.Done():
			if err := parent.Err(); err != nil {
				return zero, err
			}
			return zero, fmt.Errorf("%w after %d attempts", ErrTimeout, attempts)
		case <-timer.C:
		}

		attempts++
		if v, ok := cond(ctx); ok {
			return v, nil
		}
		if opts.MaxAttempts > 0 && attempts >= opts.MaxAttempts {
			return zero, fmt.Errorf("%w after %d attempts", ErrTimeout, attempts)
		}
		timer.Reset(opts.Interval)
	}
}
