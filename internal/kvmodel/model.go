// Package kvmodel defines the data model shared by the streamer and its
// collaborators: entries, node identifiers, topology versions, partition
// assignments, and the batches that move between them.
package kvmodel

import "fmt"

// UnresolvedPartition marks an Entry whose partition has not yet been
// computed from its key.
const UnresolvedPartition int32 = -1

// Entry is a single key/value ingestion unit. A nil Value denotes a
// deletion. Partition is UnresolvedPartition until the affinity resolver
// assigns it.
type Entry struct {
	Key       []byte
	Value     []byte // nil means deletion
	Partition int32

	// RemapNode and RemapTopology, when RemapNode is non-empty, pin this
	// entry to a specific node for one routing attempt — set by the
	// RemapController after a remappable failure so the retry targets
	// the node the caller's remap decided on instead of being re-hashed.
	RemapNode     NodeID
	RemapTopology TopologyVersion

	// remapCount tracks how many times this entry has been re-routed
	// after a remappable failure. Compared against max_remap_count.
	remapCount int
}

// IsDelete reports whether this entry represents a deletion.
func (e Entry) IsDelete() bool { return e.Value == nil }

// RemapCount returns how many times this entry has already been remapped.
func (e Entry) RemapCount() int { return e.remapCount }

// WithRemap returns a copy of e pinned to node at the given topology
// version, with the remap counter incremented.
func (e Entry) WithRemap(node NodeID, topo TopologyVersion) Entry {
	e.RemapNode = node
	e.RemapTopology = topo
	e.remapCount++
	return e
}

// ClearRemap returns a copy of e with any remap hint removed, keeping the
// remap counter (used once the hinted delivery has been attempted).
func (e Entry) ClearRemap() Entry {
	e.RemapNode = ""
	e.RemapTopology = TopologyVersion{}
	return e
}

// NodeID is an opaque, stable identifier for a cluster member.
type NodeID string

// TopologyVersion is a monotonically non-decreasing (major, minor) pair.
type TopologyVersion struct {
	Major int64
	Minor int32
}

// Compare returns -1, 0, or 1 as t is less than, equal to, or greater
// than other.
func (t TopologyVersion) Compare(other TopologyVersion) int {
	switch {
	case t.Major != other.Major:
		if t.Major < other.Major {
			return -1
		}
		return 1
	case t.Minor != other.Minor:
		if t.Minor < other.Minor {
			return -1
		}
		return 1
	default:
		return 0
	}
}

// Less reports whether t is strictly older than other.
func (t TopologyVersion) Less(other TopologyVersion) bool { return t.Compare(other) < 0 }

// String implements fmt.Stringer for log output.
func (t TopologyVersion) String() string {
	return fmt.Sprintf("%d.%d", t.Major, t.Minor)
}

// AffinityAssignment is an ordered, partition-indexed list of node lists:
// primary first, then backups. Immutable once published for a given
// topology version.
type AffinityAssignment struct {
	Topology TopologyVersion
	// Nodes[partition] is the ordered node list for that partition.
	Nodes [][]NodeID
}

// NodesForPartition returns the node list for partition p, or nil if p is
// out of range.
func (a AffinityAssignment) NodesForPartition(p int32) []NodeID {
	if p < 0 || int(p) >= len(a.Nodes) {
		return nil
	}
	return a.Nodes[p]
}

// PartitionCount returns the number of partitions in this assignment.
func (a AffinityAssignment) PartitionCount() int { return len(a.Nodes) }

// Equal reports whether two assignments carry the same node lists,
// independent of topology version — used by NodeBuffer to decide
// whether a topology bump actually changed partition ownership.
func (a AffinityAssignment) Equal(other AffinityAssignment) bool {
	if len(a.Nodes) != len(other.Nodes) {
		return false
	}
	for i, nodes := range a.Nodes {
		o := other.Nodes[i]
		if len(nodes) != len(o) {
			return false
		}
		for j, n := range nodes {
			if n != o[j] {
				return false
			}
		}
	}
	return true
}

// Batch is an ordered list of entries destined for one node.
type Batch struct {
	Entries    []Entry
	Topology   TopologyVersion
	Assignment AffinityAssignment
}

// Len returns the number of entries in the batch.
func (b Batch) Len() int { return len(b.Entries) }
