package streamer

import (
	"context"
	"time"
)

// semaphore is a counting semaphore built on a buffered channel, the
// same admission-control idiom boomballa-df2redis uses for bounding its
// replica fan-out: acquiring blocks until a slot is free, respecting a
// context deadline or an explicit timeout.
type semaphore struct {
	slots chan struct{}
}

func newSemaphore(n int) *semaphore {
	return &semaphore{slots: make(chan struct{}, n)}
}

// acquire blocks until a permit is available, the context is done, or
// timeout elapses (Unlimited meaning no timeout on top of ctx).
func (s *semaphore) acquire(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	select {
	case s.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return ErrTimeout
		}
		return ErrInterrupted
	}
}

func (s *semaphore) release() {
	select {
	case <-s.slots:
	default:
		// release without a matching acquire is a programming error;
		// dropping silently would hide it, so this panics like an
		// unbalanced mutex unlock would.
		panic("streamer: semaphore released more times than acquired")
	}
}

// inUse reports the number of permits currently held, the quantity
// bounded by P2 (bounded parallelism). No test in this package calls it.
func (s *semaphore) inUse() int { return len(s.slots) }

// capacity reports the total number of permits.
func (s *semaphore) capacity() int { return cap(s.slots) }
