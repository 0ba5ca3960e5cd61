// Package future implements the single-completion futures the streamer
// hands back to callers. A Future completes exactly once, successfully
// or with an error, and any number of goroutines may wait on it.
package future

import (
	"context"
	"sync"
)

// Future is a write-once completion signal.
type Future struct {
	done chan struct{}
	once sync.Once
	mu   sync.Mutex
	err  error
}

// New creates a pending Future.
func New() *Future {
	return &Future{done: make(chan struct{})}
}

// Complete resolves the future with err (nil for success). Only the
// first call has any effect — later calls are no-ops, matching the
// "completes exactly once" invariant on PerStripeBuffer.current_future
// and NodeBuffer in-flight entries.
func (f *Future) Complete(err error) {
	f.once.Do(func() {
		f.mu.Lock()
		f.err = err
		f.mu.Unlock()
		close(f.done)
	})
}

// Done returns a channel closed when the future completes.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// IsDone reports whether the future has completed, without blocking.
func (f *Future) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Err blocks until the future completes and returns its error (nil on
// success).
func (f *Future) Err() error {
	<-f.done
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Wait blocks until the future completes or ctx is cancelled, whichever
// happens first. Returns ctx.Err() on cancellation, the future's error
// otherwise.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Join is a composite future that completes when every child future it
// has been told about has completed, failing with the first error
// observed. Children may be
// added after Join is created and even after some children have already
// completed, which is what lets Streamer.add keep growing the aggregate
// future as a ThreadBuffer accumulates more destinations.
type Join struct {
	mu       sync.Mutex
	pending  int
	firstErr error
	closed   bool
	result   *Future
}

// NewJoin creates an empty Join. Call Add for each child future the
// caller's submission fans out to, then Seal once no more children will
// be added.
func NewJoin() *Join {
	return &Join{result: New()}
}

// Add registers a child future. Safe to call concurrently with other
// Add calls and with the child futures completing.
func (j *Join) Add(child *Future) {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return
	}
	j.pending++
	j.mu.Unlock()

	go func() {
		err := child.Err()
		j.childDone(err)
	}()
}

func (j *Join) childDone(err error) {
	j.mu.Lock()
	if err != nil && j.firstErr == nil {
		j.firstErr = err
	}
	j.pending--
	done := j.closed && j.pending == 0
	var finalErr error
	if done {
		finalErr = j.firstErr
	}
	j.mu.Unlock()

	if done {
		j.result.Complete(finalErr)
	}
}

// Seal marks that no more children will be added. Once sealed and every
// already-added child has completed, the Join's Future resolves.
func (j *Join) Seal() {
	j.mu.Lock()
	j.closed = true
	done := j.pending == 0
	finalErr := j.firstErr
	j.mu.Unlock()

	if done {
		j.result.Complete(finalErr)
	}
}

// Future returns the composite future. It only resolves after Seal has
// been called and all added children have completed.
func (j *Join) Future() *Future {
	return j.result
}
