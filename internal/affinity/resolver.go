// Package affinity resolves keys to partitions and caches the
// partition→node assignment published for the current cluster topology.
// It is the streamer's view of the external affinity resolver
// collaborator.
package affinity

import (
	"context"
	"sync"

	"github.com/distkv/streamer/internal/kvmodel"
)

// Resolver is the contract the streamer consumes from the key/value
// store's affinity subsystem: partition(key), assignment(topology), and
// a future that resolves once a topology version's assignment is ready
// to be read.
type Resolver interface {
	// Partition computes the partition for key under the given topology.
	Partition(topology kvmodel.TopologyVersion, key []byte) int32

	// Assignment returns the node-list-per-partition snapshot for
	// topology. The returned value must be treated as immutable.
	Assignment(ctx context.Context, topology kvmodel.TopologyVersion) (kvmodel.AffinityAssignment, error)

	// Ready returns a channel that closes once topology's assignment has
	// been published and is safe to read without blocking.
	Ready(topology kvmodel.TopologyVersion) <-chan struct{}
}

// View is a cached snapshot of a resolver's output for one topology
// version, readable without round-tripping to the Resolver on every
// entry. The Streamer does not use it: Streamer.load fetches the
// assignment from the Resolver on each call.
//
// Grounded on boomballa-df2redis's ClusterClient: a topology cache keyed
// by version, refreshed wholesale on change, read under an RWMutex.
type View struct {
	mu         sync.RWMutex
	topology   kvmodel.TopologyVersion
	assignment kvmodel.AffinityAssignment
}

// NewView creates an empty View; call Update before first use.
func NewView() *View {
	return &View{}
}

// Update publishes a new (topology, assignment) pair. Callers should
// never publish an assignment for a topology older than the one already
// cached — the Streamer's discovery-event handler is responsible for
// that ordering.
func (v *View) Update(topology kvmodel.TopologyVersion, assignment kvmodel.AffinityAssignment) {
	v.mu.Lock()
	v.topology = topology
	v.assignment = assignment
	v.mu.Unlock()
}

// Snapshot returns the current topology version and assignment.
func (v *View) Snapshot() (kvmodel.TopologyVersion, kvmodel.AffinityAssignment) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.topology, v.assignment
}

// Topology returns the current cached topology version.
func (v *View) Topology() kvmodel.TopologyVersion {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.topology
}
