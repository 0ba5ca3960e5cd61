// Package protocol implements the binary wire protocol between the
// client-side streamer and the server-side updater: LoadRequest /
// LoadResponse framing, in a magic-byte, length-prefixed frame style.
package protocol

import "errors"

// MagicLoadRequest identifies a LoadRequest frame on the wire.
var MagicLoadRequest = [4]byte{'L', 'O', 'A', 'D'}

// MagicLoadResponse identifies a LoadResponse frame on the wire.
var MagicLoadResponse = [4]byte{'L', 'R', 'S', 'P'}

// ProtocolVersion is the current wire protocol version.
const ProtocolVersion byte = 0x01

// LoadTopic is the transport topic a ServerUpdater registers its
// LoadRequest handler on, and the topic a Streamer's nodeBuffer sends
// to. A deployment with many caches sharing one transport
// still multiplexes through cache_name inside the request.
const LoadTopic = "streamer.load"

// StripeDisabled is the stripe_hint value sent when allow_overwrite is
// true.
const StripeDisabled int32 = -1

// Errors returned while decoding frames.
var (
	ErrInvalidMagic    = errors.New("protocol: invalid magic bytes")
	ErrUnsupportedVer  = errors.New("protocol: unsupported protocol version")
	ErrTruncatedFrame  = errors.New("protocol: truncated frame")
	ErrPayloadTooLarge = errors.New("protocol: payload exceeds maximum frame size")
)

// MaxFrameBytes bounds a single LoadRequest payload to guard against a
// corrupted length prefix causing an unbounded allocation.
const MaxFrameBytes = 64 * 1024 * 1024 // 64MB

// WireEntry is the on-wire shape of one kvmodel.Entry: a key and an
// optional value (absent means delete).
type WireEntry struct {
	Key   []byte
	Value []byte // nil means delete
}

// Deployment carries optional "peer deployment" metadata on a request.
// This implementation never populates it on encode and decodes
// HasDeployment=false in the common case, keeping the field only for
// wire-format completeness with peers that do set it.
type Deployment struct {
	Mode          string
	ClassName     string
	UserVersion   int32
	Participants  []string
	ClassLoaderID string
}

// TopologyVersionWire is the wire shape of kvmodel.TopologyVersion.
type TopologyVersionWire struct {
	Major int64
	Minor int32
}

// LoadRequest is the client → server frame carrying one node's batch.
type LoadRequest struct {
	RequestID     uint64
	ResponseTopic []byte // opaque, pre-serialized
	CacheName     string
	Receiver      []byte // serialized receiver descriptor
	Entries       []WireEntry
	NeedAck       bool // always true for this engine
	SkipStore     bool
	KeepBinary    bool
	HasDeployment bool
	Deployment    Deployment
	Topology      TopologyVersionWire
	StripeHint    int32
}

// LoadResponse is the server → client frame acknowledging a LoadRequest.
type LoadResponse struct {
	RequestID uint64
	HasError  bool
	ErrorBlob []byte // serialized cause; meaningful only if HasError
}
