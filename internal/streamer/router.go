package streamer

import (
	"fmt"

	"github.com/distkv/streamer/internal/affinity"
	"github.com/distkv/streamer/internal/kvmodel"
)

// route resolves each entry's destination node(s) against assignment
// and distributes it into per-node sub-batches. It never
// mutates the input slice's backing array; entries are copied into the
// per-node slices with their Partition resolved.
func route(resolver affinity.Resolver, topology kvmodel.TopologyVersion, assignment kvmodel.AffinityAssignment, entries []kvmodel.Entry, allowOverwrite bool) (map[kvmodel.NodeID][]kvmodel.Entry, error) {
	out := make(map[kvmodel.NodeID][]kvmodel.Entry)

	for _, e := range entries {
		if e.Partition == kvmodel.UnresolvedPartition {
			e.Partition = resolver.Partition(topology, e.Key)
		}

		var targets []kvmodel.NodeID
		if e.RemapCount() > 0 && topology.Compare(e.RemapTopology) == 0 {
			targets = []kvmodel.NodeID{e.RemapNode}
		} else {
			nodes := assignment.NodesForPartition(e.Partition)
			if len(nodes) == 0 {
				return nil, fmt.Errorf("entry for partition %d: %w", e.Partition, ErrNoServerForKey)
			}
			if allowOverwrite {
				targets = nodes[:1]
			} else {
				targets = nodes
			}
		}

		if len(targets) == 0 {
			return nil, fmt.Errorf("entry for partition %d: %w", e.Partition, ErrNoServerForKey)
		}

		for _, node := range targets {
			out[node] = append(out[node], e)
		}
	}

	return out, nil
}
