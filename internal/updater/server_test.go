package updater

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/distkv/streamer/internal/kvmodel"
	"github.com/distkv/streamer/internal/protocol"
	"github.com/distkv/streamer/internal/receiver"
	"github.com/distkv/streamer/internal/transport"
)

type fakeCache struct {
	data map[string][]byte
}

func newFakeCache() *fakeCache { return &fakeCache{data: make(map[string][]byte)} }

func (c *fakeCache) Get(key []byte) ([]byte, bool) { v, ok := c.data[string(key)]; return v, ok }
func (c *fakeCache) Put(key, value []byte)         { c.data[string(key)] = value }
func (c *fakeCache) Delete(key []byte)             { delete(c.data, string(key)) }

type fakeLocator struct {
	caches   map[string]receiver.CacheHandle
	topology kvmodel.TopologyVersion
}

func (l *fakeLocator) CacheHandle(name string) (receiver.CacheHandle, bool) {
	c, ok := l.caches[name]
	return c, ok
}

func (l *fakeLocator) CurrentTopology() kvmodel.TopologyVersion { return l.topology }

func encodeRequest(t *testing.T, req *protocol.LoadRequest) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := protocol.WriteLoadRequest(&buf, req); err != nil {
		t.Fatalf("WriteLoadRequest: %v", err)
	}
	return buf.Bytes()
}

func decodeResponse(t *testing.T, payload []byte) *protocol.LoadResponse {
	t.Helper()
	resp, err := protocol.ReadLoadResponse(bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("ReadLoadResponse: %v", err)
	}
	return resp
}

func TestHandleAppliesEntries(t *testing.T) {
	cache := newFakeCache()
	locator := &fakeLocator{caches: map[string]receiver.CacheHandle{"demo": cache}}
	s := NewServer(locator, receiver.NewIndividual(nil), nil)

	payload := encodeRequest(t, &protocol.LoadRequest{
		RequestID: 1,
		CacheName: "demo",
		NeedAck:   true,
		Entries: []protocol.WireEntry{
			{Key: []byte("a"), Value: []byte("1")},
		},
	})

	replyPayload, err := s.Handle(context.Background(), "node-b", transport.Message{Topic: protocol.LoadTopic, Payload: payload})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	resp := decodeResponse(t, replyPayload)
	if resp.HasError {
		t.Fatalf("unexpected error response: %s", resp.ErrorBlob)
	}
	if v, ok := cache.Get([]byte("a")); !ok || string(v) != "1" {
		t.Fatalf("expected a=1 applied, got %q ok=%v", v, ok)
	}
	if s.Applied() != 1 {
		t.Fatalf("expected Applied()=1, got %d", s.Applied())
	}
}

func TestHandleRejectsWhenReadOnly(t *testing.T) {
	cache := newFakeCache()
	locator := &fakeLocator{caches: map[string]receiver.CacheHandle{"demo": cache}}
	s := NewServer(locator, receiver.NewIndividual(nil), nil)
	s.SetReadOnly(true)

	payload := encodeRequest(t, &protocol.LoadRequest{
		RequestID: 2,
		CacheName: "demo",
		Entries:   []protocol.WireEntry{{Key: []byte("a"), Value: []byte("1")}},
	})

	replyPayload, err := s.Handle(context.Background(), "node-b", transport.Message{Topic: protocol.LoadTopic, Payload: payload})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	resp := decodeResponse(t, replyPayload)
	if !resp.HasError || !strings.HasPrefix(string(resp.ErrorBlob), "read_only\x00") {
		t.Fatalf("expected read_only error blob, got %q", resp.ErrorBlob)
	}
	if s.Rejected() != 1 {
		t.Fatalf("expected Rejected()=1, got %d", s.Rejected())
	}
}

func TestHandleRejectsStaleTopology(t *testing.T) {
	cache := newFakeCache()
	locator := &fakeLocator{caches: map[string]receiver.CacheHandle{"demo": cache}, topology: kvmodel.TopologyVersion{Major: 5}}
	s := NewServer(locator, receiver.NewIndividual(nil), nil)

	payload := encodeRequest(t, &protocol.LoadRequest{
		RequestID: 3,
		CacheName: "demo",
		Topology:  protocol.TopologyVersionWire{Major: 1},
		Entries:   []protocol.WireEntry{{Key: []byte("a"), Value: []byte("1")}},
	})

	replyPayload, err := s.Handle(context.Background(), "node-b", transport.Message{Topic: protocol.LoadTopic, Payload: payload})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	resp := decodeResponse(t, replyPayload)
	if !resp.HasError || !strings.HasPrefix(string(resp.ErrorBlob), "topology_changed\x00") {
		t.Fatalf("expected topology_changed error blob, got %q", resp.ErrorBlob)
	}
}

func TestHandleUnknownCache(t *testing.T) {
	locator := &fakeLocator{caches: map[string]receiver.CacheHandle{}}
	s := NewServer(locator, receiver.NewIndividual(nil), nil)

	payload := encodeRequest(t, &protocol.LoadRequest{
		RequestID: 4,
		CacheName: "missing",
		Entries:   []protocol.WireEntry{{Key: []byte("a"), Value: []byte("1")}},
	})

	replyPayload, err := s.Handle(context.Background(), "node-b", transport.Message{Topic: protocol.LoadTopic, Payload: payload})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	resp := decodeResponse(t, replyPayload)
	if !resp.HasError || !strings.HasPrefix(string(resp.ErrorBlob), "no_server\x00") {
		t.Fatalf("expected no_server error blob, got %q", resp.ErrorBlob)
	}
}

func TestEventLogRecordsApplyEvent(t *testing.T) {
	cache := newFakeCache()
	locator := &fakeLocator{caches: map[string]receiver.CacheHandle{"demo": cache}}
	s := NewServer(locator, receiver.NewIndividual(nil), nil)

	payload := encodeRequest(t, &protocol.LoadRequest{
		RequestID: 5,
		CacheName: "demo",
		Entries:   []protocol.WireEntry{{Key: []byte("a"), Value: []byte("1")}},
	})
	if _, err := s.Handle(context.Background(), "node-b", transport.Message{Topic: protocol.LoadTopic, Payload: payload}); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	events := s.Events.Recent(10)
	if len(events) != 1 || events[0].Type != "applied" {
		t.Fatalf("expected one applied event, got %+v", events)
	}
}
