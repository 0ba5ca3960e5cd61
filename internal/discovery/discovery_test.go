package discovery

import (
	"testing"
	"time"

	"github.com/distkv/streamer/internal/kvmodel"
)

func TestInMemoryNodeLifecycle(t *testing.T) {
	d := NewInMemory("local")
	d.AddNode(Node{ID: "a", Addr: "10.0.0.1:9000"})

	if !d.Alive("a") {
		t.Fatal("expected node a to be alive")
	}
	if d.Alive("b") {
		t.Fatal("expected node b to be absent")
	}
	if d.LocalNode() != "local" {
		t.Fatalf("unexpected local node: %s", d.LocalNode())
	}
}

func TestInMemoryPublishRemovesNodeAndNotifies(t *testing.T) {
	d := NewInMemory("local")
	d.AddNode(Node{ID: "a"})

	received := make(chan Event, 1)
	d.Subscribe([]EventKind{NodeLeft, NodeFailed}, func(e Event) {
		received <- e
	})

	d.Publish(Event{Kind: NodeFailed, Node: "a", Topology: kvmodel.TopologyVersion{Major: 2}})

	select {
	case e := <-received:
		if e.Node != "a" || e.Kind != NodeFailed {
			t.Fatalf("unexpected event: %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive event")
	}

	if d.Alive("a") {
		t.Fatal("expected node a removed after publish")
	}
}

func TestInMemorySubscribeFiltersKind(t *testing.T) {
	d := NewInMemory("local")
	got := make(chan Event, 1)
	d.Subscribe([]EventKind{NodeFailed}, func(e Event) { got <- e })

	d.Publish(Event{Kind: NodeLeft, Node: "x"})

	select {
	case e := <-got:
		t.Fatalf("unexpected event delivered for unfiltered kind: %+v", e)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestInMemoryUnsubscribeStopsDelivery(t *testing.T) {
	d := NewInMemory("local")
	got := make(chan Event, 2)
	unsub := d.Subscribe([]EventKind{NodeLeft}, func(e Event) { got <- e })

	d.Publish(Event{Kind: NodeLeft, Node: "a"})
	<-got

	unsub()
	d.Publish(Event{Kind: NodeLeft, Node: "b"})

	select {
	case e := <-got:
		t.Fatalf("unexpected delivery after unsubscribe: %+v", e)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestInMemoryTopologyVersion(t *testing.T) {
	d := NewInMemory("local")
	d.SetTopologyVersion(kvmodel.TopologyVersion{Major: 5, Minor: 2})
	if got := d.TopologyVersion(); got != (kvmodel.TopologyVersion{Major: 5, Minor: 2}) {
		t.Fatalf("unexpected topology version: %+v", got)
	}
}

func TestInMemoryPublishDoesNotBlockOnSlowSubscriber(t *testing.T) {
	d := NewInMemory("local")
	block := make(chan struct{})
	d.Subscribe([]EventKind{NodeLeft}, func(Event) {
		<-block // would hang forever if Publish ran this synchronously
	})

	done := make(chan struct{})
	go func() {
		d.Publish(Event{Kind: NodeLeft, Node: "a"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
	close(block)
}
