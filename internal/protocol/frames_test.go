package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestLoadRequestRoundTrip(t *testing.T) {
	req := &LoadRequest{
		RequestID:     42,
		ResponseTopic: []byte("topic/resp/42"),
		CacheName:     "orders",
		Receiver:      []byte("receiver-blob"),
		Entries: []WireEntry{
			{Key: []byte("k1"), Value: []byte("v1")},
			{Key: []byte("k2"), Value: nil},
		},
		NeedAck:    true,
		SkipStore:  false,
		KeepBinary: true,
		Topology:   TopologyVersionWire{Major: 7, Minor: 3},
		StripeHint: 2,
	}

	var buf bytes.Buffer
	if err := WriteLoadRequest(&buf, req); err != nil {
		t.Fatalf("WriteLoadRequest: %v", err)
	}

	got, err := ReadLoadRequest(&buf)
	if err != nil {
		t.Fatalf("ReadLoadRequest: %v", err)
	}

	if got.RequestID != req.RequestID {
		t.Fatalf("RequestID: got %d want %d", got.RequestID, req.RequestID)
	}
	if string(got.ResponseTopic) != string(req.ResponseTopic) {
		t.Fatalf("ResponseTopic mismatch")
	}
	if got.CacheName != req.CacheName {
		t.Fatalf("CacheName mismatch")
	}
	if string(got.Receiver) != string(req.Receiver) {
		t.Fatalf("Receiver mismatch")
	}
	if len(got.Entries) != len(req.Entries) {
		t.Fatalf("entry count: got %d want %d", len(got.Entries), len(req.Entries))
	}
	if !bytes.Equal(got.Entries[0].Value, req.Entries[0].Value) {
		t.Fatalf("entry 0 value mismatch")
	}
	if got.Entries[1].Value != nil {
		t.Fatalf("expected entry 1 (delete) to decode nil value, got %v", got.Entries[1].Value)
	}
	if got.NeedAck != req.NeedAck || got.SkipStore != req.SkipStore || got.KeepBinary != req.KeepBinary {
		t.Fatalf("flag mismatch: %+v", got)
	}
	if got.HasDeployment {
		t.Fatalf("expected HasDeployment false")
	}
	if got.Topology != req.Topology {
		t.Fatalf("topology mismatch: got %+v want %+v", got.Topology, req.Topology)
	}
	if got.StripeHint != req.StripeHint {
		t.Fatalf("stripe hint mismatch")
	}
}

func TestLoadRequestRoundTripWithDeployment(t *testing.T) {
	req := &LoadRequest{
		RequestID:     1,
		ResponseTopic: []byte("t"),
		CacheName:     "c",
		Receiver:      []byte("r"),
		Entries:       []WireEntry{},
		NeedAck:       true,
		HasDeployment: true,
		Deployment: Deployment{
			Mode:          "ISOLATED",
			ClassName:     "com.example.Receiver",
			UserVersion:   3,
			Participants:  []string{"nodeA", "nodeB"},
			ClassLoaderID: "cl-1",
		},
		Topology:   TopologyVersionWire{Major: 1, Minor: 0},
		StripeHint: StripeDisabled,
	}

	var buf bytes.Buffer
	if err := WriteLoadRequest(&buf, req); err != nil {
		t.Fatalf("WriteLoadRequest: %v", err)
	}
	got, err := ReadLoadRequest(&buf)
	if err != nil {
		t.Fatalf("ReadLoadRequest: %v", err)
	}
	if len(got.Entries) != 0 {
		t.Fatalf("expected zero entries, got %d", len(got.Entries))
	}
	if !got.HasDeployment {
		t.Fatalf("expected HasDeployment true")
	}
	if got.Deployment.Mode != req.Deployment.Mode || got.Deployment.UserVersion != req.Deployment.UserVersion {
		t.Fatalf("deployment mismatch: %+v", got.Deployment)
	}
	if len(got.Deployment.Participants) != 2 || got.Deployment.Participants[1] != "nodeB" {
		t.Fatalf("participants mismatch: %+v", got.Deployment.Participants)
	}
	if got.StripeHint != StripeDisabled {
		t.Fatalf("expected stripe hint disabled, got %d", got.StripeHint)
	}
}

func TestLoadResponseRoundTripNoError(t *testing.T) {
	resp := &LoadResponse{RequestID: 99}
	var buf bytes.Buffer
	if err := WriteLoadResponse(&buf, resp); err != nil {
		t.Fatalf("WriteLoadResponse: %v", err)
	}
	got, err := ReadLoadResponse(&buf)
	if err != nil {
		t.Fatalf("ReadLoadResponse: %v", err)
	}
	if got.RequestID != resp.RequestID || got.HasError {
		t.Fatalf("unexpected response: %+v", got)
	}
}

func TestLoadResponseRoundTripWithError(t *testing.T) {
	resp := &LoadResponse{RequestID: 7, HasError: true, ErrorBlob: []byte("boom")}
	var buf bytes.Buffer
	if err := WriteLoadResponse(&buf, resp); err != nil {
		t.Fatalf("WriteLoadResponse: %v", err)
	}
	got, err := ReadLoadResponse(&buf)
	if err != nil {
		t.Fatalf("ReadLoadResponse: %v", err)
	}
	if !got.HasError || !bytes.Equal(got.ErrorBlob, resp.ErrorBlob) {
		t.Fatalf("unexpected response: %+v", got)
	}
}

func TestReadLoadRequestRejectsWrongMagic(t *testing.T) {
	buf := bytes.NewBufferString("XXXX")
	_, err := ReadLoadRequest(buf)
	if !errors.Is(err, ErrInvalidMagic) {
		t.Fatalf("expected ErrInvalidMagic, got %v", err)
	}
}

func TestReadLoadRequestRejectsTruncatedFrame(t *testing.T) {
	var buf bytes.Buffer
	req := &LoadRequest{ResponseTopic: []byte("t"), CacheName: "c", Receiver: []byte("r")}
	if err := WriteLoadRequest(&buf, req); err != nil {
		t.Fatalf("WriteLoadRequest: %v", err)
	}
	truncated := bytes.NewBuffer(buf.Bytes()[:buf.Len()/2])
	_, err := ReadLoadRequest(truncated)
	if !errors.Is(err, ErrTruncatedFrame) {
		t.Fatalf("expected ErrTruncatedFrame, got %v", err)
	}
}

func TestReadLoadRequestRejectsOversizedPayload(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(MagicLoadRequest[:])
	buf.WriteByte(ProtocolVersion)
	var reqID [8]byte
	buf.Write(reqID[:])
	// response topic length prefix claiming more than MaxFrameBytes.
	oversized := []byte{0xFF, 0xFF, 0xFF, 0xFF}
	buf.Write(oversized)

	_, err := ReadLoadRequest(&buf)
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}
