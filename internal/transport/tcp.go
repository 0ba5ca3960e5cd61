package transport

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/distkv/streamer/internal/kvmodel"
)

// frameMagic identifies a transport frame on the wire, distinct from
// the protocol package's LoadRequest/LoadResponse magic since a
// transport frame wraps an arbitrary already-serialized Message.
var frameMagic = [4]byte{'X', 'F', 'R', 'M'}

const maxFramePayload = 64 * 1024 * 1024

// AddressBook resolves a node id to a dial address. A real deployment
// backs this with the discovery collaborator; tests and demos can use
// a plain map.
type AddressBook interface {
	Address(node kvmodel.NodeID) (string, bool)
}

// StaticAddressBook is a fixed NodeID -> address map.
type StaticAddressBook map[kvmodel.NodeID]string

func (b StaticAddressBook) Address(node kvmodel.NodeID) (string, bool) {
	addr, ok := b[node]
	return addr, ok
}

// TCPConfig configures a TCPTransport. ClientTLS / ServerTLS may be nil
// to run in plaintext, which NewTCPTransport only accepts when
// AllowInsecure is true — mTLS is required for anything that isn't a
// local test harness. A listen-only transport (ListenAddr set, no
// Addresses) never dials out and needs no ClientTLS.
type TCPConfig struct {
	ListenAddr      string
	Addresses       AddressBook
	ClientTLS       *tls.Config
	ServerTLS       *tls.Config
	AllowInsecure   bool
	BytesPerSecond  int64 // 0 disables throttling
	DialTimeout     time.Duration
	Logger          *slog.Logger
}

// TCPTransport is a mutual-TLS, length-framed Transport implementation.
// Outbound connections are dialed lazily and cached per node; inbound
// connections are served by a listener goroutine that dispatches each
// frame to the handler registered for its topic.
type TCPTransport struct {
	cfg    TCPConfig
	logger *slog.Logger

	connMu sync.Mutex
	conns  map[kvmodel.NodeID]net.Conn

	handlerMu sync.RWMutex
	handlers  map[string]Handler

	listener net.Listener

	closeOnce sync.Once
	closed    chan struct{}
}

// NewTCPTransport validates cfg and constructs a TCPTransport. If
// ListenAddr is set it starts accepting inbound connections immediately.
func NewTCPTransport(cfg TCPConfig) (*TCPTransport, error) {
	if cfg.ClientTLS == nil && !cfg.AllowInsecure && (cfg.ListenAddr == "" || cfg.Addresses != nil) {
		return nil, fmt.Errorf("transport: ClientTLS required unless AllowInsecure is set")
	}
	if cfg.ListenAddr != "" && cfg.ServerTLS == nil && !cfg.AllowInsecure {
		return nil, fmt.Errorf("transport: ServerTLS required to listen unless AllowInsecure is set")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}

	t := &TCPTransport{
		cfg:      cfg,
		logger:   cfg.Logger,
		conns:    make(map[kvmodel.NodeID]net.Conn),
		handlers: make(map[string]Handler),
		closed:   make(chan struct{}),
	}

	if cfg.ListenAddr != "" {
		if err := t.listen(); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *TCPTransport) listen() error {
	var ln net.Listener
	var err error
	if t.cfg.ServerTLS != nil {
		ln, err = tls.Listen("tcp", t.cfg.ListenAddr, t.cfg.ServerTLS)
	} else {
		ln, err = net.Listen("tcp", t.cfg.ListenAddr)
	}
	if err != nil {
		return fmt.Errorf("transport: listening on %s: %w", t.cfg.ListenAddr, err)
	}
	t.listener = ln

	go t.acceptLoop(ln)
	return nil
}

func (t *TCPTransport) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-t.closed:
				return
			default:
				t.logger.Warn("transport: accept failed", "error", err)
				return
			}
		}
		go t.serveConn(conn)
	}
}

// serveConn reads frames from one inbound connection until it errors or
// the transport closes, dispatching each to its topic handler and
// writing back the reply frame. A connection is never held across
// handler execution for any other connection.
func (t *TCPTransport) serveConn(conn net.Conn) {
	defer conn.Close()
	for {
		sender, topic, payload, err := readFrame(conn)
		if err != nil {
			if err != io.EOF {
				t.logger.Debug("transport: reading frame failed", "error", err)
			}
			return
		}

		t.handlerMu.RLock()
		h := t.handlers[topic]
		t.handlerMu.RUnlock()

		if h == nil {
			writeReply(conn, nil, ErrUnknownTopic)
			continue
		}

		reply, handlerErr := h(context.Background(), sender, Message{Topic: topic, Payload: payload})
		if err := writeReply(conn, reply, handlerErr); err != nil {
			t.logger.Debug("transport: writing reply failed", "error", err)
			return
		}
	}
}

// RegisterHandler implements Transport.
func (t *TCPTransport) RegisterHandler(topic string, h Handler) {
	t.handlerMu.Lock()
	t.handlers[topic] = h
	t.handlerMu.Unlock()
}

// Send implements Transport: dial (or reuse) a connection to node,
// write the framed message, and wait for the reply frame or the
// policy's timeout, whichever comes first.
func (t *TCPTransport) Send(ctx context.Context, node kvmodel.NodeID, msg Message, policy Policy) ([]byte, error) {
	select {
	case <-t.closed:
		return nil, ErrClosed
	default:
	}

	conn, err := t.connFor(ctx, node)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, effectiveTimeout(policy))
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
		defer conn.SetDeadline(time.Time{})
	}

	w := io.Writer(conn)
	if t.cfg.BytesPerSecond > 0 {
		w = newThrottledWriter(ctx, conn, t.cfg.BytesPerSecond)
	}

	if err := writeFrame(w, "local", msg.Topic, msg.Payload); err != nil {
		t.dropConn(node)
		return nil, fmt.Errorf("transport: sending to %s: %w", node, err)
	}

	reply, replyErr, err := readReply(conn)
	if err != nil {
		t.dropConn(node)
		return nil, fmt.Errorf("transport: waiting for reply from %s: %w", node, err)
	}
	if replyErr != "" {
		return nil, fmt.Errorf("transport: %s refused message on %q: %s", node, msg.Topic, replyErr)
	}
	return reply, nil
}

func (t *TCPTransport) connFor(ctx context.Context, node kvmodel.NodeID) (net.Conn, error) {
	t.connMu.Lock()
	if c, ok := t.conns[node]; ok {
		t.connMu.Unlock()
		return c, nil
	}
	t.connMu.Unlock()

	if t.cfg.Addresses == nil {
		return nil, fmt.Errorf("%w: %s (no address book configured)", ErrNodeUnreachable, node)
	}
	addr, ok := t.cfg.Addresses.Address(node)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeUnreachable, node)
	}

	dialer := &net.Dialer{Timeout: t.cfg.DialTimeout}
	var conn net.Conn
	var err error
	if t.cfg.ClientTLS != nil {
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, t.cfg.ClientTLS)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: dialing %s at %s: %v", ErrNodeUnreachable, node, addr, err)
	}

	t.connMu.Lock()
	t.conns[node] = conn
	t.connMu.Unlock()
	return conn, nil
}

func (t *TCPTransport) dropConn(node kvmodel.NodeID) {
	t.connMu.Lock()
	if c, ok := t.conns[node]; ok {
		c.Close()
		delete(t.conns, node)
	}
	t.connMu.Unlock()
}

// Close implements Transport: stops accepting new connections and
// closes every cached outbound connection. Idempotent.
func (t *TCPTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
		if t.listener != nil {
			t.listener.Close()
		}
		t.connMu.Lock()
		for node, c := range t.conns {
			c.Close()
			delete(t.conns, node)
		}
		t.connMu.Unlock()
	})
	return nil
}

// --- framing ---

func writeFrame(w io.Writer, sender, topic string, payload []byte) error {
	if _, err := w.Write(frameMagic[:]); err != nil {
		return fmt.Errorf("writing frame magic: %w", err)
	}
	if err := writeLenPrefixed(w, []byte(sender)); err != nil {
		return fmt.Errorf("writing sender: %w", err)
	}
	if err := writeLenPrefixed(w, []byte(topic)); err != nil {
		return fmt.Errorf("writing topic: %w", err)
	}
	if err := writeLenPrefixed(w, payload); err != nil {
		return fmt.Errorf("writing payload: %w", err)
	}
	return nil
}

func readFrame(r io.Reader) (sender kvmodel.NodeID, topic string, payload []byte, err error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return "", "", nil, err
	}
	if magic != frameMagic {
		return "", "", nil, fmt.Errorf("transport: invalid frame magic")
	}
	senderBytes, err := readLenPrefixed(r)
	if err != nil {
		return "", "", nil, fmt.Errorf("reading sender: %w", err)
	}
	topicBytes, err := readLenPrefixed(r)
	if err != nil {
		return "", "", nil, fmt.Errorf("reading topic: %w", err)
	}
	payload, err = readLenPrefixed(r)
	if err != nil {
		return "", "", nil, fmt.Errorf("reading payload: %w", err)
	}
	return kvmodel.NodeID(senderBytes), string(topicBytes), payload, nil
}

func writeReply(w io.Writer, payload []byte, replyErr error) error {
	errMsg := ""
	if replyErr != nil {
		errMsg = replyErr.Error()
	}
	if err := writeLenPrefixed(w, payload); err != nil {
		return fmt.Errorf("writing reply payload: %w", err)
	}
	if err := writeLenPrefixed(w, []byte(errMsg)); err != nil {
		return fmt.Errorf("writing reply error: %w", err)
	}
	return nil
}

func readReply(r io.Reader) (payload []byte, replyErr string, err error) {
	payload, err = readLenPrefixed(r)
	if err != nil {
		return nil, "", fmt.Errorf("reading reply payload: %w", err)
	}
	errBytes, err := readLenPrefixed(r)
	if err != nil {
		return nil, "", fmt.Errorf("reading reply error: %w", err)
	}
	return payload, string(errBytes), nil
}

func writeLenPrefixed(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(b))); err != nil {
		return err
	}
	if len(b) == 0 {
		return nil
	}
	_, err := w.Write(b)
	return err
}

func readLenPrefixed(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	if n > maxFramePayload {
		return nil, fmt.Errorf("transport: frame payload %d exceeds maximum", n)
	}
	if n == 0 {
		return []byte{}, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// newThrottledWriter wraps w in a token-bucket rate limiter applied to
// one transport connection's outbound sends.
func newThrottledWriter(ctx context.Context, w io.Writer, bytesPerSec int64) io.Writer {
	burst := int(bytesPerSec)
	const maxBurst = 256 * 1024
	if burst > maxBurst {
		burst = maxBurst
	}
	return &throttledWriter{w: w, limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst), ctx: ctx}
}

type throttledWriter struct {
	w       io.Writer
	limiter *rate.Limiter
	ctx     context.Context
}

func (tw *throttledWriter) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		chunk := len(p)
		if chunk > tw.limiter.Burst() {
			chunk = tw.limiter.Burst()
		}
		if err := tw.limiter.WaitN(tw.ctx, chunk); err != nil {
			return total, err
		}
		n, err := tw.w.Write(p[:chunk])
		total += n
		if err != nil {
			return total, err
		}
		p = p[n:]
	}
	return total, nil
}
