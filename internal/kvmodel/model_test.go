package kvmodel

import "testing"

func TestTopologyVersionCompare(t *testing.T) {
	cases := []struct {
		a, b TopologyVersion
		want int
	}{
		{TopologyVersion{1, 0}, TopologyVersion{1, 0}, 0},
		{TopologyVersion{1, 0}, TopologyVersion{1, 1}, -1},
		{TopologyVersion{1, 5}, TopologyVersion{1, 1}, 1},
		{TopologyVersion{1, 9}, TopologyVersion{2, 0}, -1},
		{TopologyVersion{2, 0}, TopologyVersion{1, 9}, 1},
	}
	for _, c := range cases {
		if got := c.a.Compare(c.b); got != c.want {
			t.Errorf("%v.Compare(%v) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestTopologyVersionLess(t *testing.T) {
	if !(TopologyVersion{1, 0}).Less(TopologyVersion{1, 1}) {
		t.Error("expected 1.0 < 1.1")
	}
	if (TopologyVersion{1, 1}).Less(TopologyVersion{1, 0}) {
		t.Error("expected 1.1 not < 1.0")
	}
}

func TestEntryWithRemap(t *testing.T) {
	e := Entry{Key: []byte("k"), Value: []byte("v"), Partition: 3}
	r := e.WithRemap("node-b", TopologyVersion{1, 2})
	if r.RemapNode != "node-b" || r.RemapTopology != (TopologyVersion{1, 2}) {
		t.Fatalf("unexpected remap fields: %+v", r)
	}
	if r.RemapCount() != 1 {
		t.Fatalf("expected remapCount 1, got %d", r.RemapCount())
	}
	r2 := r.WithRemap("node-c", TopologyVersion{1, 3})
	if r2.RemapCount() != 2 {
		t.Fatalf("expected remapCount 2, got %d", r2.RemapCount())
	}

	cleared := r.ClearRemap()
	if cleared.RemapNode != "" {
		t.Fatalf("expected cleared remap node, got %q", cleared.RemapNode)
	}
	if cleared.RemapCount() != 1 {
		t.Fatalf("expected remapCount to survive clear, got %d", cleared.RemapCount())
	}
}

func TestEntryIsDelete(t *testing.T) {
	if (Entry{Value: []byte("v")}).IsDelete() {
		t.Error("non-nil value should not be a delete")
	}
	if !(Entry{Value: nil}).IsDelete() {
		t.Error("nil value should be a delete")
	}
}

func TestAffinityAssignmentEqual(t *testing.T) {
	a := AffinityAssignment{Nodes: [][]NodeID{{"a", "b"}, {"c"}}}
	b := AffinityAssignment{Nodes: [][]NodeID{{"a", "b"}, {"c"}}}
	c := AffinityAssignment{Nodes: [][]NodeID{{"a", "x"}, {"c"}}}

	if !a.Equal(b) {
		t.Error("expected a == b")
	}
	if a.Equal(c) {
		t.Error("expected a != c")
	}
}

func TestAffinityAssignmentNodesForPartition(t *testing.T) {
	a := AffinityAssignment{Nodes: [][]NodeID{{"a"}, {"b", "c"}}}
	if got := a.NodesForPartition(1); len(got) != 2 || got[0] != "b" {
		t.Fatalf("unexpected nodes for partition 1: %v", got)
	}
	if got := a.NodesForPartition(5); got != nil {
		t.Fatalf("expected nil for out-of-range partition, got %v", got)
	}
	if a.PartitionCount() != 2 {
		t.Fatalf("expected partition count 2, got %d", a.PartitionCount())
	}
}
