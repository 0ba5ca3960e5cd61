package streamer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/distkv/streamer/internal/affinity"
	"github.com/distkv/streamer/internal/discovery"
	"github.com/distkv/streamer/internal/future"
	"github.com/distkv/streamer/internal/kvmodel"
	"github.com/distkv/streamer/internal/receiver"
	"github.com/distkv/streamer/internal/transport"
)

// autoFlush is the process-wide delay queue every Streamer
// with a non-zero AutoFlushPeriod enqueues itself into. Lazily started so a process that never configures
// auto-flush never spins up the background goroutine.
var (
	autoFlushOnce sync.Once
	autoFlush     *flushQueue
)

func globalFlushQueue() *flushQueue {
	autoFlushOnce.Do(func() { autoFlush = newFlushQueue() })
	return autoFlush
}

// Streamer is the public entry point: callers submit entries through
// Add, and the Streamer fans them out through per-node buffers, the
// router, and (on remappable failure) the RemapController, completing
// the caller's future once every destination has acknowledged.
type Streamer struct {
	opts     Options
	receiver receiver.Receiver

	resolver  affinity.Resolver
	discovery discovery.Discovery
	transport transport.Transport
	local     LocalStore
	logger    *slog.Logger

	nodeMu  sync.Mutex
	nodes   map[kvmodel.NodeID]*nodeBuffer

	threadMu sync.Mutex
	threads  map[string]*threadBuffer

	remapCtl *remapController

	busyLock sync.RWMutex

	failCount int64 // atomic

	closed    int32 // atomic, CAS guard for Close
	cancelled atomic.Bool
	cancelMu  sync.Mutex
	cancelErr error

	unsubscribe func()
}

// New constructs a Streamer. resolver, disc, and tp are the external
// affinity/discovery/transport collaborators; local may be
// nil for deployments where this process never owns a local node.
func New(opts Options, resolver affinity.Resolver, disc discovery.Discovery, tp transport.Transport, local LocalStore, logger *slog.Logger) (*Streamer, error) {
	resolved, err := opts.resolve()
	if err != nil {
		return nil, err
	}
	if resolved.Receiver == nil {
		resolved.Receiver = receiver.ForAllowOverwrite(resolved.AllowOverwrite, receiver.AllowAll{})
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Streamer{
		opts:      resolved,
		receiver:  resolved.Receiver,
		resolver:  resolver,
		discovery: disc,
		transport: tp,
		local:     local,
		logger:    logger,
		nodes:     make(map[kvmodel.NodeID]*nodeBuffer),
		threads:   make(map[string]*threadBuffer),
		remapCtl:  newRemapController(),
	}

	s.unsubscribe = disc.Subscribe([]discovery.EventKind{discovery.NodeLeft, discovery.NodeFailed}, s.handleTopologyEvent)

	if resolved.AutoFlushPeriod > 0 {
		globalFlushQueue().schedule(s, resolved.AutoFlushPeriod)
	}

	return s, nil
}

// Add appends entries to the ThreadBuffer identified by producerID,
// dispatching the accumulated batch once it crosses
// PerThreadBufferSize. The returned future
// completes once every entry in this call has been acknowledged or
// failed.
func (s *Streamer) Add(ctx context.Context, producerID string, entries []kvmodel.Entry) (*future.Future, error) {
	s.busyLock.RLock()
	defer s.busyLock.RUnlock()

	if err := s.rejectIfClosed(); err != nil {
		return nil, err
	}

	tb := s.getOrCreateThreadBuffer(producerID)
	joined, drained := tb.append(entries, s.opts.PerThreadBufferSize)
	if drained != nil {
		s.load(ctx, drained, joined, false)
	}
	return joined, nil
}

func (s *Streamer) rejectIfClosed() error {
	if atomic.LoadInt32(&s.closed) == 0 {
		return nil
	}
	if s.cancelled.Load() {
		s.cancelMu.Lock()
		cause := s.cancelErr
		s.cancelMu.Unlock()
		return fmt.Errorf("%w: %v", ErrClosed, &CancelledError{Cause: cause})
	}
	return ErrClosed
}

func (s *Streamer) getOrCreateThreadBuffer(producerID string) *threadBuffer {
	s.threadMu.Lock()
	defer s.threadMu.Unlock()
	tb, ok := s.threads[producerID]
	if !ok {
		tb = newThreadBuffer()
		s.threads[producerID] = tb
	}
	return tb
}

func (s *Streamer) getOrCreateNodeBuffer(node kvmodel.NodeID) *nodeBuffer {
	s.nodeMu.Lock()
	defer s.nodeMu.Unlock()
	nb, ok := s.nodes[node]
	if ok {
		return nb
	}
	nb = newNodeBuffer(node, node == s.discovery.LocalNode(), s.opts.StripeCount, nodeBufferDeps{
		transport: s.transport,
		local:     s.localFor(node),
		receiver:  s.receiver,
		opts:      s.opts,
		remapCtl:  s.remapCtl,
		logger:    s.logger,
		redispatch: func(ctx context.Context, entries []kvmodel.Entry, target *future.Future) {
			s.load(ctx, entries, target, true)
		},
		onFail: s.incrFail,
	})
	s.nodes[node] = nb
	return nb
}

// localFor returns the LocalStore collaborator only for this process's
// own node; every other node buffer routes over the wire.
func (s *Streamer) localFor(node kvmodel.NodeID) LocalStore {
	if node == s.discovery.LocalNode() {
		return s.local
	}
	return nil
}

// load resolves topology/assignment, routes entries to their
// destination nodes, and fans each per-node sub-batch into target
// through a Join — the single dispatch path shared by a fresh
// ThreadBuffer hand-off and a RemapController-driven redispatch.
func (s *Streamer) load(ctx context.Context, entries []kvmodel.Entry, target *future.Future, isRemap bool) {
	topology := s.discovery.TopologyVersion()
	assignment, err := s.resolver.Assignment(ctx, topology)
	if err != nil {
		target.Complete(fmt.Errorf("resolving assignment for topology %s: %w", topology, err))
		return
	}

	routed, err := route(s.resolver, topology, assignment, entries, s.opts.AllowOverwrite)
	if err != nil {
		target.Complete(err)
		return
	}

	join := future.NewJoin()
	for node, nodeEntries := range routed {
		nb := s.getOrCreateNodeBuffer(node)
		nb.update(ctx, nodeEntries, topology, assignment, join, isRemap)
	}
	join.Seal()

	go func() {
		target.Complete(join.Future().Err())
	}()
}

func (s *Streamer) incrFail() {
	atomic.AddInt64(&s.failCount, 1)
}

// Flush drains every ThreadBuffer and forces every NodeBuffer's
// non-empty stripes to hand off, waiting bounded by Options.Timeout for
// the result.
func (s *Streamer) Flush(ctx context.Context) error {
	s.busyLock.Lock()
	defer s.busyLock.Unlock()
	return s.flushLocked(ctx)
}

// TryFlush is the non-blocking variant used by the auto-flush worker:
// it returns immediately without error if the write lock is contended,
// and swallows any flush error otherwise.
func (s *Streamer) TryFlush() {
	if !s.busyLock.TryLock() {
		return
	}
	defer s.busyLock.Unlock()
	_ = s.flushLocked(context.Background())
}

// flushLocked assumes busyLock is already held for writing.
func (s *Streamer) flushLocked(ctx context.Context) error {
	join := future.NewJoin()

	s.threadMu.Lock()
	threads := make([]*threadBuffer, 0, len(s.threads))
	for _, tb := range s.threads {
		threads = append(threads, tb)
	}
	s.threadMu.Unlock()

	for _, tb := range threads {
		f, drained := tb.forceDrain()
		if f == nil {
			continue
		}
		join.Add(f)
		s.load(ctx, drained, f, false)
	}

	s.nodeMu.Lock()
	nodes := make([]*nodeBuffer, 0, len(s.nodes))
	for _, nb := range s.nodes {
		nodes = append(nodes, nb)
	}
	s.nodeMu.Unlock()

	for _, nb := range nodes {
		nb.forceFlush(ctx, join, false)
	}

	join.Seal()

	waitCtx := ctx
	if s.opts.Timeout != Unlimited {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	if err := join.Future().Wait(waitCtx); err != nil {
		if waitCtx.Err() != nil {
			return ErrTimeout
		}
		return err
	}
	return nil
}

// Close idempotently shuts the Streamer down.
// With cancel=true every outstanding future is completed with a
// CancelledError carrying cancel_reason (the context's own error, if
// any); otherwise a final flush runs first. The aggregate fail count is
// reported as the returned error.
func (s *Streamer) Close(ctx context.Context, cancel bool) error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}

	s.busyLock.Lock()
	defer s.busyLock.Unlock()

	if s.unsubscribe != nil {
		s.unsubscribe()
	}

	var flushErr error
	if cancel {
		cause := ctx.Err()
		s.cancelMu.Lock()
		s.cancelErr = cause
		s.cancelMu.Unlock()
		s.cancelled.Store(true)
		s.cancelAllLocked(cause)
	} else {
		flushErr = s.flushLocked(ctx)
	}

	if flushErr != nil {
		return flushErr
	}
	if n := atomic.LoadInt64(&s.failCount); n > 0 {
		return fmt.Errorf("streamer: %d batches failed before close", n)
	}
	return nil
}

func (s *Streamer) cancelAllLocked(cause error) {
	s.threadMu.Lock()
	for id, tb := range s.threads {
		if f, _ := tb.forceDrain(); f != nil {
			f.Complete(&CancelledError{Cause: cause})
		}
		delete(s.threads, id)
	}
	s.threadMu.Unlock()

	s.nodeMu.Lock()
	nodes := make([]*nodeBuffer, 0, len(s.nodes))
	for id, nb := range s.nodes {
		nodes = append(nodes, nb)
		delete(s.nodes, id)
	}
	s.nodeMu.Unlock()

	for _, nb := range nodes {
		for _, st := range nb.stripes {
			st.completeWith(&CancelledError{Cause: cause})
		}
		nb.inFlightMu.Lock()
		pending := make([]*future.Future, 0, len(nb.inFlight))
		for id, f := range nb.inFlight {
			pending = append(pending, f)
			delete(nb.inFlight, id)
		}
		nb.inFlightMu.Unlock()
		for _, f := range pending {
			f.Complete(&CancelledError{Cause: cause})
		}
	}
}

// autoFlushPeriod and isClosed satisfy flushQueue's re-arm check after
// every TryFlush.
func (s *Streamer) autoFlushPeriod() time.Duration {
	return s.opts.AutoFlushPeriod
}

func (s *Streamer) isClosed() bool {
	return atomic.LoadInt32(&s.closed) != 0
}

// handleTopologyEvent is the discovery subscriber callback: it must never block, so the actual NodeBuffer teardown runs on
// its own goroutine, gated on the affinity resolver's Ready signal for
// the event's topology version (the node's removal from the map is
// itself synchronous and cheap).
func (s *Streamer) handleTopologyEvent(e discovery.Event) {
	s.nodeMu.Lock()
	nb, ok := s.nodes[e.Node]
	if ok {
		delete(s.nodes, e.Node)
	}
	s.nodeMu.Unlock()
	if !ok {
		return
	}

	go func() {
		<-s.resolver.Ready(e.Topology)
		nb.onNodeLeft()
	}()
}
