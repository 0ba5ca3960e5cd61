package updater

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/distkv/streamer/internal/kvmodel"
	"github.com/distkv/streamer/internal/protocol"
	"github.com/distkv/streamer/internal/receiver"
	"github.com/distkv/streamer/internal/transport"
)

// ErrReadOnly is returned when the cluster has been put into read-only
// mode and a LoadRequest tries to mutate it.
var ErrReadOnly = errors.New("updater: cluster is read-only")

// ErrUnknownCache is returned when a LoadRequest names a cache this
// updater has no CacheHandle for.
var ErrUnknownCache = errors.New("updater: unknown cache")

// ErrTopologyStale is returned when the requesting client's topology
// version trails this node's own — the client must remap and resend.
var ErrTopologyStale = errors.New("updater: client topology is stale")

// CacheLocator resolves a cache name to the CacheHandle the Receiver
// should apply entries against, and reports the topology version this
// node currently believes is current.
type CacheLocator interface {
	CacheHandle(cacheName string) (receiver.CacheHandle, bool)
	CurrentTopology() kvmodel.TopologyVersion
}

// Server is the server-side wire receiver: it decodes a LoadRequest,
// authorizes and applies it through a Receiver, and encodes a
// LoadResponse — the updater half of the client-side Streamer, tracking
// in-flight requests and traffic counters and keeping an events ring
// buffer for observability.
type Server struct {
	cache    CacheLocator
	receiver receiver.Receiver
	logger   *slog.Logger

	readOnly atomic.Bool

	// inFlight tracks requests currently being applied, keyed by
	// (sender, request_id), for diagnostics and graceful-shutdown
	// draining.
	inFlight sync.Map // map[inFlightKey]struct{}

	applied  atomic.Int64 // entries successfully applied, cumulative
	rejected atomic.Int64 // requests rejected, cumulative

	Events *EventLog
}

type inFlightKey struct {
	sender    kvmodel.NodeID
	requestID uint64
}

// NewServer constructs a Server. A nil logger defaults to slog.Default.
func NewServer(cache CacheLocator, rcv receiver.Receiver, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cache:    cache,
		receiver: rcv,
		logger:   logger,
		Events:   NewEventLog(256),
	}
}

// SetReadOnly toggles read-only mode: every subsequent LoadRequest that
// would mutate the store fails with ErrReadOnly until cleared.
func (s *Server) SetReadOnly(readOnly bool) {
	s.readOnly.Store(readOnly)
}

// InFlightCount reports how many requests this server is currently
// applying, for graceful-shutdown draining.
func (s *Server) InFlightCount() int {
	n := 0
	s.inFlight.Range(func(_, _ any) bool { n++; return true })
	return n
}

// Applied and Rejected report cumulative counters for a stats reporter.
func (s *Server) Applied() int64  { return s.applied.Load() }
func (s *Server) Rejected() int64 { return s.rejected.Load() }

// Handle implements transport.Handler, registered on the engine's
// single load topic. It never returns a transport-level error for a
// domain failure (wrong topology, denied receiver, read-only) —
// those are reported inside the LoadResponse's error blob so the
// client's nodeBuffer can classify and remap them; Handle's own error
// return is reserved for frame corruption.
func (s *Server) Handle(ctx context.Context, sender kvmodel.NodeID, msg transport.Message) ([]byte, error) {
	req, err := protocol.ReadLoadRequest(bytes.NewReader(msg.Payload))
	if err != nil {
		return nil, fmt.Errorf("decoding load request: %w", err)
	}

	key := inFlightKey{sender: sender, requestID: req.RequestID}
	s.inFlight.Store(key, struct{}{})
	defer s.inFlight.Delete(key)

	resp := s.apply(ctx, sender, req)

	var buf bytes.Buffer
	if err := protocol.WriteLoadResponse(&buf, resp); err != nil {
		return nil, fmt.Errorf("encoding load response: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *Server) apply(ctx context.Context, sender kvmodel.NodeID, req *protocol.LoadRequest) *protocol.LoadResponse {
	reqTopology := kvmodel.TopologyVersion{Major: req.Topology.Major, Minor: req.Topology.Minor}

	if current := s.cache.CurrentTopology(); reqTopology.Less(current) {
		s.rejected.Add(1)
		s.Events.Push(EventEntry{Level: "warn", Type: "topology_stale", Node: sender, CacheName: req.CacheName, Entries: len(req.Entries), Message: fmt.Sprintf("request topology %s trails local %s", reqTopology, current)})
		return errorResponse(req.RequestID, "topology_changed", ErrTopologyStale)
	}

	if !req.SkipStore && s.readOnly.Load() {
		s.rejected.Add(1)
		s.Events.Push(EventEntry{Level: "warn", Type: "rejected", Node: sender, CacheName: req.CacheName, Message: "cluster is read-only"})
		return errorResponse(req.RequestID, "read_only", ErrReadOnly)
	}

	cache, ok := s.cache.CacheHandle(req.CacheName)
	if !ok {
		s.rejected.Add(1)
		return errorResponse(req.RequestID, "no_server", fmt.Errorf("%s: %w", req.CacheName, ErrUnknownCache))
	}

	if req.SkipStore {
		s.applied.Add(int64(len(req.Entries)))
		return &protocol.LoadResponse{RequestID: req.RequestID}
	}

	entries := make([]kvmodel.Entry, len(req.Entries))
	for i, e := range req.Entries {
		entries[i] = kvmodel.Entry{Key: e.Key, Value: e.Value}
	}

	result, err := s.receiver.Receive(ctx, cache, req.CacheName, entries)
	if err != nil {
		s.rejected.Add(1)
		s.Events.Push(EventEntry{Level: "error", Type: "rejected", Node: sender, CacheName: req.CacheName, Entries: len(entries), Message: err.Error()})
		return errorResponse(req.RequestID, "receiver", err)
	}

	s.applied.Add(int64(result.Applied))
	s.Events.Push(EventEntry{Level: "info", Type: "applied", Node: sender, CacheName: req.CacheName, Entries: result.Applied, Message: fmt.Sprintf("applied=%d skipped=%d", result.Applied, result.Skipped)})
	return &protocol.LoadResponse{RequestID: req.RequestID}
}

func errorResponse(requestID uint64, kind string, err error) *protocol.LoadResponse {
	return &protocol.LoadResponse{
		RequestID: requestID,
		HasError:  true,
		ErrorBlob: []byte(kind + "\x00" + err.Error()),
	}
}

// RegisterOn wires this server's Handle method as the handler for
// protocol.LoadTopic on tp, the topic every Streamer sends its
// LoadRequests to.
func (s *Server) RegisterOn(tp transport.Transport) {
	tp.RegisterHandler(protocol.LoadTopic, s.Handle)
}
