// Package lock provides keyed mutual exclusion with bounded waiting. The
// scheduling engine serialises bookings per slot through it.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when a key stays held for longer than the wait budget.
var ErrTimeout = errors.New("lock wait timed out")

// Locker acquires exclusive ownership of a key. The returned release func
// must be called exactly once; calling it after the lock expired is harmless.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// Options bound how long a lock is held and how long callers wait for it.
type Options struct {
	// TTL caps how long a held key survives a crashed holder. Only the
	// Redis backend honours it.
	TTL time.Duration
	// Wait is the longest Acquire blocks before returning ErrTimeout.
	Wait time.Duration
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = 10 * time.Second
	}
	if o.Wait <= 0 {
		o.Wait = 3 * time.Second
	}
	return o
}

// waitContext derives the acquisition deadline from the caller's context and
// the wait budget, whichever ends first.
func waitContext(ctx context.Context, wait time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, wait)
}

// acquireErr tells a wait-budget expiry apart from the caller giving up.
func acquireErr(parent, waitCtx context.Context) error {
	if err := parent.Err(); err != nil {
		return err
	}
	if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return waitCtx.Err()
}
