package streamer

import (
	"sync"

	"github.com/distkv/streamer/internal/future"
	"github.com/distkv/streamer/internal/kvmodel"
)

// perStripeBuffer accumulates entries for one (node, stripe) pair. All
// fields are guarded by mu; no operation on a stripe may be observed
// across another stripe's lock, and the lock is never held across
// submit (network send or local receiver invocation).
type perStripeBuffer struct {
	mu sync.Mutex

	entries    []kvmodel.Entry
	future     *future.Future
	topology   kvmodel.TopologyVersion
	assignment kvmodel.AffinityAssignment
	topologySet bool
}

// drainResult is what a stripe hands off once its buffer crosses the
// size threshold or is force-flushed: the entries to submit, the future
// to complete, and the topology/assignment they were composed against.
type drainResult struct {
	entries    []kvmodel.Entry
	future     *future.Future
	topology   kvmodel.TopologyVersion
	assignment kvmodel.AffinityAssignment
}

func newPerStripeBuffer() *perStripeBuffer {
	return &perStripeBuffer{}
}

// append adds one entry under the stripe's lock, initializing topology
// and assignment if unset, and returns a drainResult when the buffer
// has crossed perNodeBufferSize — the caller must hand that batch off
// for submission after releasing the lock (the lock is released before
// this function returns in every case; there is no separate unlock
// step for callers).
func (s *perStripeBuffer) append(e kvmodel.Entry, topology kvmodel.TopologyVersion, assignment kvmodel.AffinityAssignment, perNodeBufferSize int) (*future.Future, *drainResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.future == nil {
		s.future = future.New()
	}
	joined := s.future

	if !s.topologySet {
		s.topology = topology
		s.assignment = assignment
		s.topologySet = true
	} else if topology.Compare(s.topology) > 0 && s.assignment.Equal(assignment) {
		// Topology advanced but the assignment vector is unchanged: no
		// routing decision is stale, so just adopt the newer version.
		s.topology = topology
	}

	s.entries = append(s.entries, e)

	if len(s.entries) >= perNodeBufferSize {
		return joined, s.rotateLocked()
	}
	return joined, nil
}

// forceDrain hands off whatever is currently buffered (used by flush),
// returning nil if the stripe is empty.
func (s *perStripeBuffer) forceDrain() *drainResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return nil
	}
	return s.rotateLocked()
}

// rotateLocked captures the current batch and resets the stripe to a
// fresh future and empty entries; callers must hold mu.
func (s *perStripeBuffer) rotateLocked() *drainResult {
	res := &drainResult{
		entries:    s.entries,
		future:     s.future,
		topology:   s.topology,
		assignment: s.assignment,
	}
	s.entries = nil
	s.future = nil
	s.topologySet = false
	s.topology = kvmodel.TopologyVersion{}
	s.assignment = kvmodel.AffinityAssignment{}
	return res
}

// completeWith fails the stripe's in-flight future (if any) with err,
// used when the owning NodeBuffer is torn down on node departure.
func (s *perStripeBuffer) completeWith(err error) {
	s.mu.Lock()
	f := s.future
	if f != nil {
		s.entries = nil
		s.future = nil
		s.topologySet = false
	}
	s.mu.Unlock()
	if f != nil {
		f.Complete(err)
	}
}
