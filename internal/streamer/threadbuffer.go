package streamer

import (
	"sync"

	"github.com/distkv/streamer/internal/future"
	"github.com/distkv/streamer/internal/kvmodel"
)

// threadBuffer is a producer-affine accumulator amortizing per-call
// overhead. A caller identifies its
// producer lane with an opaque id passed to Streamer.Add; Go has no
// stable OS-thread identity to key on, so the id is the caller's own
// choice (e.g. a worker-pool slot name), and this buffer is guarded by
// its own mutex rather than relying on single-writer discipline.
type threadBuffer struct {
	mu      sync.Mutex
	entries []kvmodel.Entry
	future  *future.Future
}

func newThreadBuffer() *threadBuffer {
	return &threadBuffer{}
}

// append adds entries and returns the future the caller should wait on
// plus, if the threshold was crossed, the batch to hand off to load.
// The buffer is cleared on hand-off.
func (t *threadBuffer) append(entries []kvmodel.Entry, threshold int) (*future.Future, []kvmodel.Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.future == nil {
		t.future = future.New()
	}
	joined := t.future
	t.entries = append(t.entries, entries...)

	if len(t.entries) >= threshold {
		drained := t.entries
		t.entries = nil
		t.future = nil
		return joined, drained
	}
	return joined, nil
}

// forceDrain hands off whatever is buffered regardless of threshold
// (used by flush/close), returning nil if empty.
func (t *threadBuffer) forceDrain() (*future.Future, []kvmodel.Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.entries) == 0 {
		return nil, nil
	}
	drained := t.entries
	f := t.future
	t.entries = nil
	t.future = nil
	return f, drained
}
