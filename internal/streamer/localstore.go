package streamer

import (
	"context"

	"github.com/distkv/streamer/internal/kvmodel"
	"github.com/distkv/streamer/internal/receiver"
)

// LocalStore is the narrow slice of the underlying key-value store the
// streamer needs for its local-execution fast path: the
// store's own notion of the topology it has caught up to, a handle to
// apply entries against, and a way to run the receiver under the
// store's read-lock on partition topology so partitions can't be
// evicted mid-batch.
type LocalStore interface {
	// CurrentTopology returns the topology version the store has
	// applied locally. The streamer compares this against the batch's
	// composition-time topology to detect staleness.
	CurrentTopology() kvmodel.TopologyVersion

	// CacheHandle returns the receiver-facing view of the named cache.
	CacheHandle(cacheName string) receiver.CacheHandle

	// WithPartitionLock runs fn with the store's partition-topology
	// read-lock held, guaranteeing no partition it touches is evicted
	// while fn executes.
	WithPartitionLock(ctx context.Context, fn func() error) error
}
