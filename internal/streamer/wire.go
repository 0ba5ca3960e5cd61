package streamer

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/distkv/streamer/internal/protocol"
)

// loadTopic is the single transport topic this engine registers a
// LoadRequest handler on; kept as an alias of protocol.LoadTopic so
// callers elsewhere in this package don't need to import protocol just
// for the topic name.
const loadTopic = protocol.LoadTopic

// encodeErrorBlob encodes a streamer error kind and message as
// "kind\x00message" — a deliberately minimal stand-in for the opaque
// Serializer collaborator, which this engine treats as
// out of scope beyond this narrow contract.
func encodeErrorBlob(kind string, err error) []byte {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return []byte(kind + "\x00" + msg)
}

func classifyWireError(blob []byte) error {
	kind, msg, ok := strings.Cut(string(blob), "\x00")
	if !ok {
		kind = string(blob)
	}
	switch kind {
	case "topology_changed":
		return fmt.Errorf("%s: %w", msg, ErrTopologyChanged)
	case "read_only":
		return fmt.Errorf("%s: %w", msg, ErrReadOnlyCluster)
	case "no_server":
		return fmt.Errorf("%s: %w", msg, ErrNoServerForKey)
	case "receiver":
		return &ReceiverError{Inner: fmt.Errorf("%s", msg)}
	case "serialization":
		return fmt.Errorf("%s: %w", msg, ErrSerialization)
	default:
		return fmt.Errorf("%s: %w", msg, ErrWire)
	}
}

func encodeLoadRequest(req *protocol.LoadRequest) ([]byte, error) {
	var buf bytes.Buffer
	if err := protocol.WriteLoadRequest(&buf, req); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeLoadRequest(payload []byte) (*protocol.LoadRequest, error) {
	return protocol.ReadLoadRequest(bytes.NewReader(payload))
}

func encodeLoadResponse(resp *protocol.LoadResponse) ([]byte, error) {
	var buf bytes.Buffer
	if err := protocol.WriteLoadResponse(&buf, resp); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeLoadResponse(payload []byte) (*protocol.LoadResponse, error) {
	return protocol.ReadLoadResponse(bytes.NewReader(payload))
}
