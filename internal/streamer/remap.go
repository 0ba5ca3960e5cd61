package streamer

import (
	"context"
	"sync"
	"time"
)

// remapPermits bounds how many remappable failures can be queued for
// re-routing at once, picked in the same ballpark as a node's default
// parallelism so a burst of failures across many NodeBuffers doesn't
// itself become a bottleneck.
const remapPermits = 8

// remapController guarantees that once a batch fails remappably, all
// new (non-remap) submissions pause until every currently-queued
// remap has drained, preserving each caller's observed completion
// order.
type remapController struct {
	sema *semaphore

	mu       sync.Mutex
	queue    []func()
	draining bool
}

func newRemapController() *remapController {
	return &remapController{sema: newSemaphore(remapPermits)}
}

// checkpoint is called by every new (non-remap) submission before it is
// dispatched: it takes every permit and immediately releases them,
// which blocks for as long as any remap is in flight and returns
// instantly otherwise.
func (c *remapController) checkpoint(ctx context.Context, timeout time.Duration) error {
	n := c.sema.capacity()
	acquired := 0
	for acquired < n {
		if err := c.sema.acquire(ctx, timeout); err != nil {
			for ; acquired > 0; acquired-- {
				c.sema.release()
			}
			return err
		}
		acquired++
	}
	for ; acquired > 0; acquired-- {
		c.sema.release()
	}
	return nil
}

// submitRemap acquires one permit for a failed batch, enqueues its
// re-routing closure, and ensures the single drainer goroutine is
// running. job is expected to re-route and resubmit the batch; it must
// not itself call submitRemap synchronously in a way that would
// deadlock waiting on its own permit.
func (c *remapController) submitRemap(ctx context.Context, timeout time.Duration, job func()) error {
	if err := c.sema.acquire(ctx, timeout); err != nil {
		return err
	}

	c.mu.Lock()
	c.queue = append(c.queue, job)
	start := !c.draining
	if start {
		c.draining = true
	}
	c.mu.Unlock()

	if start {
		go c.drain()
	}
	return nil
}

// drain runs queued remap closures one at a time, in FIFO order,
// releasing the closure's permit only after it returns — this is what
// gives P4 its ordering guarantee: an earlier remap fully completes
// before a later one (or any checkpoint-gated new submission) proceeds.
func (c *remapController) drain() {
	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			c.draining = false
			c.mu.Unlock()
			return
		}
		job := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()

		job()
		c.sema.release()
	}
}
