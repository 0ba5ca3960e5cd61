package streamer

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Each is matched with errors.Is;
// the two kinds that carry a payload (Cancelled, ReceiverError) are
// custom types implementing Is() against their own sentinel so callers
// can still write errors.Is(err, streamer.ErrCancelled).
var (
	// ErrClosed is returned by Add once the streamer has reached the
	// Closed state.
	ErrClosed = errors.New("streamer: closed")

	// ErrTimeout is returned when a blocking wait (semaphore, flush,
	// close) exceeds its configured timeout.
	ErrTimeout = errors.New("streamer: timeout")

	// ErrNoServerForKey is returned when the affinity resolver's
	// assignment has no node for a key's partition.
	ErrNoServerForKey = errors.New("streamer: no server owns this key's partition")

	// ErrTopologyChanged is a remappable failure: the RemapController
	// recovers it locally up to max_remap_count before it ever reaches
	// a caller.
	ErrTopologyChanged = errors.New("streamer: topology changed")

	// ErrRemapExhausted is returned once a batch has been remapped
	// max_remap_count times without success.
	ErrRemapExhausted = errors.New("streamer: remap count exhausted")

	// ErrReadOnlyCluster is a non-remappable failure surfaced directly.
	ErrReadOnlyCluster = errors.New("streamer: cluster is read-only")

	// ErrClientDisconnected is a sticky terminal error: once set, every
	// present and future submission fails with it.
	ErrClientDisconnected = errors.New("streamer: client disconnected")

	// ErrSerialization is returned when encoding or decoding a wire
	// frame fails.
	ErrSerialization = errors.New("streamer: serialization failed")

	// ErrWire is returned when a LoadResponse carries an error kind the
	// client does not recognise. A failed transport Send is never
	// classified as ErrWire: every Send error is treated as
	// ErrTopologyChanged.
	ErrWire = errors.New("streamer: wire error")

	// ErrInterrupted is returned when a blocking wait is cancelled via
	// context before completing normally.
	ErrInterrupted = errors.New("streamer: interrupted")

	// ErrCancelled is the sentinel matched by errors.Is against a
	// *CancelledError; see close(cancel=true).
	ErrCancelled = errors.New("streamer: cancelled")

	// ErrReceiverFailed is the sentinel matched by errors.Is against a
	// *ReceiverError.
	ErrReceiverFailed = errors.New("streamer: receiver failed")
)

// CancelledError wraps the cause recorded the first time close(cancel)
// runs; the cause is sticky (first writer wins).
type CancelledError struct {
	Cause error
}

func (e *CancelledError) Error() string {
	if e.Cause == nil {
		return ErrCancelled.Error()
	}
	return fmt.Sprintf("%s: %v", ErrCancelled, e.Cause)
}

func (e *CancelledError) Unwrap() error { return e.Cause }

func (e *CancelledError) Is(target error) bool { return target == ErrCancelled }

// ReceiverError wraps whatever error a Receiver plug-in returned while
// applying a batch.
type ReceiverError struct {
	Inner error
}

func (e *ReceiverError) Error() string {
	return fmt.Sprintf("%s: %v", ErrReceiverFailed, e.Inner)
}

func (e *ReceiverError) Unwrap() error { return e.Inner }

func (e *ReceiverError) Is(target error) bool { return target == ErrReceiverFailed }

// remappable reports whether err should be recovered locally by the
// RemapController rather than surfaced to the caller.
func remappable(err error) bool {
	return errors.Is(err, ErrTopologyChanged)
}
