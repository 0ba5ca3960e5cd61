package streamer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/distkv/streamer/internal/future"
	"github.com/distkv/streamer/internal/kvmodel"
	"github.com/distkv/streamer/internal/protocol"
	"github.com/distkv/streamer/internal/receiver"
	"github.com/distkv/streamer/internal/transport"
)

// nodeBufferDeps bundles everything a nodeBuffer needs but does not own
// itself — the collaborators and callbacks supplied by the owning
// Streamer.
type nodeBufferDeps struct {
	transport transport.Transport
	local     LocalStore // nil unless this buffer's node is the local node
	receiver  receiver.Receiver
	opts      Options
	remapCtl  *remapController
	logger    *slog.Logger

	// redispatch re-routes entries against a fresh topology/assignment
	// and ultimately completes target once the new attempt (which may
	// itself remap again) settles. Supplied by the Streamer so a
	// nodeBuffer never needs its own reference back to the router.
	redispatch func(ctx context.Context, entries []kvmodel.Entry, target *future.Future)

	// onFail increments the Streamer's aggregate fail_count.
	onFail func()
}

// nodeBuffer is the per-destination-node accumulator: it owns a fixed
// number of stripes, a bounded parallelism semaphore, and the in-flight
// request table for batches sent over the wire.
type nodeBuffer struct {
	node    kvmodel.NodeID
	isLocal bool
	stripes []*perStripeBuffer

	inFlightMu sync.Mutex
	inFlight   map[uint64]*future.Future

	localMu      sync.Mutex
	localFutures map[*future.Future]struct{}

	nextRequestID uint64 // atomic
	parallelism   *semaphore

	deps nodeBufferDeps
}

func newNodeBuffer(node kvmodel.NodeID, isLocal bool, stripeCount int, deps nodeBufferDeps) *nodeBuffer {
	stripes := make([]*perStripeBuffer, stripeCount)
	for i := range stripes {
		stripes[i] = newPerStripeBuffer()
	}
	return &nodeBuffer{
		node:         node,
		isLocal:      isLocal,
		stripes:      stripes,
		inFlight:     make(map[uint64]*future.Future),
		localFutures: make(map[*future.Future]struct{}),
		parallelism:  newSemaphore(deps.opts.PerNodeParallelOps),
		deps:         deps,
	}
}

// inFlightCount reports |in_flight| + |local_futures|, the quantity
// bounded by per_node_parallel_ops (invariant P2).
func (nb *nodeBuffer) inFlightCount() int {
	nb.inFlightMu.Lock()
	n := len(nb.inFlight)
	nb.inFlightMu.Unlock()
	nb.localMu.Lock()
	n += len(nb.localFutures)
	nb.localMu.Unlock()
	return n
}

func stripeIndex(partition int32, stripeCount int) int {
	idx := int(partition) % stripeCount
	if idx < 0 {
		idx += stripeCount
	}
	return idx
}

// update appends entries to their stripes and hands off any stripe that
// crosses per_node_buffer_size. join collects
// every distinct per-stripe future touched by this call.
func (nb *nodeBuffer) update(ctx context.Context, entries []kvmodel.Entry, topology kvmodel.TopologyVersion, assignment kvmodel.AffinityAssignment, join *future.Join, isRemap bool) {
	seen := make(map[*future.Future]bool)
	var handoffs []*drainResult
	var stale []*drainResult

	for _, e := range entries {
		idx := stripeIndex(e.Partition, len(nb.stripes))
		joined, drained := nb.stripes[idx].append(e, topology, assignment, nb.deps.opts.PerNodeBufferSize)
		if !seen[joined] {
			seen[joined] = true
			join.Add(joined)
		}
		if drained != nil {
			handoffs = append(handoffs, drained)
		}
	}

	if !nb.deps.opts.AllowOverwrite {
		for _, s := range nb.stripes {
			if drained := nb.staleDrain(s, topology); drained != nil {
				stale = append(stale, drained)
			}
		}
	}

	for _, d := range handoffs {
		go nb.submit(context.Background(), d.entries, d.topology, d.future, isRemap)
	}
	for _, d := range stale {
		go nb.failOrRemap(d.entries, d.topology, d.future, fmt.Errorf("stripe rotated under a newer topology: %w", ErrTopologyChanged))
	}
}

// staleDrain recovers a stripe that was still holding a batch composed
// against an older topology. The drained entries never reach submit:
// they are routed straight to failOrRemap so they fail with
// ErrTopologyChanged and either remap to the now-correct owner or
// surface the error, instead of being silently resubmitted as if
// nothing had changed.
func (nb *nodeBuffer) staleDrain(s *perStripeBuffer, newTopology kvmodel.TopologyVersion) *drainResult {
	s.mu.Lock()
	if s.future == nil || !s.topologySet || newTopology.Compare(s.topology) <= 0 {
		s.mu.Unlock()
		return nil
	}
	drained := s.rotateLocked()
	s.mu.Unlock()
	return drained
}

// forceFlush hands off every non-empty stripe unconditionally (used by
// Streamer.flush).
func (nb *nodeBuffer) forceFlush(ctx context.Context, join *future.Join, isRemap bool) {
	for _, s := range nb.stripes {
		d := s.forceDrain()
		if d == nil {
			continue
		}
		join.Add(d.future)
		go nb.submit(ctx, d.entries, d.topology, d.future, isRemap)
	}
}

// submit dispatches one stripe's drained batch, either to the local
// receiver or over the wire. It never holds a
// stripe lock while doing so.
func (nb *nodeBuffer) submit(ctx context.Context, entries []kvmodel.Entry, topology kvmodel.TopologyVersion, f *future.Future, isRemap bool) {
	if !isRemap {
		if err := nb.deps.remapCtl.checkpoint(ctx, nb.deps.opts.Timeout); err != nil {
			f.Complete(err)
			return
		}
		if err := nb.parallelism.acquire(ctx, nb.deps.opts.Timeout); err != nil {
			f.Complete(err)
			return
		}
	}

	if nb.isLocal {
		nb.submitLocal(ctx, entries, topology, f, isRemap)
		return
	}
	nb.submitRemote(ctx, entries, topology, f, isRemap)
}

func (nb *nodeBuffer) submitLocal(ctx context.Context, entries []kvmodel.Entry, topology kvmodel.TopologyVersion, f *future.Future, isRemap bool) {
	nb.localMu.Lock()
	nb.localFutures[f] = struct{}{}
	nb.localMu.Unlock()

	release := func() {
		if !isRemap {
			nb.parallelism.release()
		}
		nb.localMu.Lock()
		delete(nb.localFutures, f)
		nb.localMu.Unlock()
	}

	if nb.deps.local.CurrentTopology().Compare(topology) > 0 && !nb.deps.opts.AllowOverwrite {
		release()
		nb.failOrRemap(entries, topology, f, fmt.Errorf("local store advanced past submission topology: %w", ErrTopologyChanged))
		return
	}

	cache := nb.deps.local.CacheHandle(nb.deps.opts.CacheName)
	err := nb.deps.local.WithPartitionLock(ctx, func() error {
		_, err := nb.deps.receiver.Receive(ctx, cache, nb.deps.opts.CacheName, entries)
		return err
	})
	release()

	if err != nil {
		nb.failOrRemap(entries, topology, f, &ReceiverError{Inner: err})
		return
	}
	f.Complete(nil)
}

// submitRemote sends one stripe's batch as a LoadRequest and blocks
// (within its own goroutine, spawned by update/forceFlush) for the
// LoadResponse.
func (nb *nodeBuffer) submitRemote(ctx context.Context, entries []kvmodel.Entry, topology kvmodel.TopologyVersion, f *future.Future, isRemap bool) {
	requestID := atomic.AddUint64(&nb.nextRequestID, 1)

	nb.inFlightMu.Lock()
	nb.inFlight[requestID] = f
	nb.inFlightMu.Unlock()

	release := func() {
		if !isRemap {
			nb.parallelism.release()
		}
		nb.inFlightMu.Lock()
		delete(nb.inFlight, requestID)
		nb.inFlightMu.Unlock()
	}

	wireEntries := make([]protocol.WireEntry, len(entries))
	for i, e := range entries {
		wireEntries[i] = protocol.WireEntry{Key: e.Key, Value: e.Value}
	}
	stripeHint := protocol.StripeDisabled
	if !nb.deps.opts.AllowOverwrite {
		stripeHint = 0
	}
	req := &protocol.LoadRequest{
		RequestID:  requestID,
		CacheName:  nb.deps.opts.CacheName,
		Entries:    wireEntries,
		NeedAck:    true,
		SkipStore:  nb.deps.opts.SkipStore,
		KeepBinary: nb.deps.opts.KeepBinary,
		Topology:   protocol.TopologyVersionWire{Major: topology.Major, Minor: topology.Minor},
		StripeHint: stripeHint,
	}

	payload, err := encodeLoadRequest(req)
	if err != nil {
		release()
		f.Complete(fmt.Errorf("%w: %v", ErrSerialization, err))
		return
	}

	replyPayload, sendErr := nb.deps.transport.Send(ctx, nb.node, transport.Message{Topic: loadTopic, Payload: payload}, transport.Policy{Timeout: nb.deps.opts.Timeout})
	if sendErr != nil {
		nb.deps.logger.Warn("send failed, treating as topology change", "node", nb.node, "request_id", requestID, "error", sendErr)
		release()
		nb.failOrRemap(entries, topology, f, fmt.Errorf("sending to %s: %w", nb.node, ErrTopologyChanged))
		return
	}
	release()

	resp, decodeErr := decodeLoadResponse(replyPayload)
	if decodeErr != nil {
		f.Complete(fmt.Errorf("%w: %v", ErrSerialization, decodeErr))
		return
	}
	if resp.HasError {
		nb.failOrRemap(entries, topology, f, classifyWireError(resp.ErrorBlob))
		return
	}
	f.Complete(nil)
}

// onNodeLeft fails every in-flight and stripe-buffered future with
// ErrTopologyChanged, run after this buffer has already been removed
// from the Streamer's node map so no new work lands on it.
func (nb *nodeBuffer) onNodeLeft() {
	nb.inFlightMu.Lock()
	futures := make([]*future.Future, 0, len(nb.inFlight))
	for id, f := range nb.inFlight {
		futures = append(futures, f)
		delete(nb.inFlight, id)
	}
	nb.inFlightMu.Unlock()

	for _, f := range futures {
		f.Complete(ErrTopologyChanged)
	}

	for _, s := range nb.stripes {
		s.completeWith(ErrTopologyChanged)
	}
}

// failOrRemap decides whether a failure should be recovered locally by
// the RemapController or surfaced to the caller. Recoverable entries
// are pinned to this node at topology (the version this failed attempt
// was composed against) and have their remap counter bumped before
// redispatch: if the topology has since advanced, route will see the
// stale pin and re-resolve against the new assignment instead of
// retrying the same node; if it hasn't, the pin sends the retry back to
// the same node and topology.Compare(e.RemapTopology) == 0 short-circuits
// that re-resolution.
func (nb *nodeBuffer) failOrRemap(entries []kvmodel.Entry, topology kvmodel.TopologyVersion, f *future.Future, err error) {
	if !remappable(err) {
		f.Complete(err)
		return
	}

	for _, e := range entries {
		if e.RemapCount() >= nb.deps.opts.MaxRemapCount {
			nb.deps.onFail()
			f.Complete(fmt.Errorf("after %d attempts: %w", nb.deps.opts.MaxRemapCount, ErrRemapExhausted))
			return
		}
	}

	remapped := make([]kvmodel.Entry, len(entries))
	for i, e := range entries {
		remapped[i] = e.WithRemap(nb.node, topology)
	}

	job := func() {
		nb.deps.redispatch(context.Background(), remapped, f)
	}
	if submitErr := nb.deps.remapCtl.submitRemap(context.Background(), nb.deps.opts.Timeout, job); submitErr != nil {
		nb.deps.onFail()
		f.Complete(submitErr)
	}
}
