// Package transport implements the message-send collaborator consumed
// by the streamer: send(NodeId, Topic, Message, policy) -> Result, plus
// topic registration with a handler that receives (sender_id, Message).
// The concrete TCP implementation dials over mutual TLS and throttles
// outbound bytes with a token bucket.
package transport

import (
	"context"
	"errors"
	"time"

	"github.com/distkv/streamer/internal/kvmodel"
)

// ErrUnknownTopic is returned when no handler is registered for a topic
// a peer tried to deliver a message to.
var ErrUnknownTopic = errors.New("transport: no handler registered for topic")

// ErrNodeUnreachable is returned when a node's address cannot be
// resolved or the connection attempt failed outright — the streamer
// treats this as a transient condition worth a topology remap.
var ErrNodeUnreachable = errors.New("transport: node unreachable")

// ErrClosed is returned by Send once the transport has been closed.
var ErrClosed = errors.New("transport: closed")

// Message is the payload exchanged between streamer and updater over a
// named topic; the streamer treats it as an opaque, already-serialized
// blob (the wire encoding itself lives in package protocol).
type Message struct {
	Topic   string
	Payload []byte
}

// Policy configures a single Send call: a Timeout <= 0 means "use the
// transport's default timeout". Unlike the streamer's own
// -1-means-unlimited convention, a Timeout of -1 here also falls back
// to DefaultTimeout rather than blocking forever.
type Policy struct {
	Timeout time.Duration
}

// Handler processes an inbound Message and returns the reply payload to
// send back, or an error to report to the sender as a failed Send.
type Handler func(ctx context.Context, sender kvmodel.NodeID, msg Message) ([]byte, error)

// Transport is the contract the streamer consumes: send a
// message to a node and get back the reply payload, and register a
// handler for inbound messages on a topic.
type Transport interface {
	Send(ctx context.Context, node kvmodel.NodeID, msg Message, policy Policy) ([]byte, error)
	RegisterHandler(topic string, h Handler)
	Close() error
}

// DefaultTimeout is used when a Policy's Timeout is zero or negative.
const DefaultTimeout = 30 * time.Second

func effectiveTimeout(p Policy) time.Duration {
	if p.Timeout <= 0 {
		return DefaultTimeout
	}
	return p.Timeout
}
