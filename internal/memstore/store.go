// Package memstore provides a single-process, in-memory, multi-cache
// key-value store: the demo backing collaborator both cmd/streamclient
// (as a streamer.LocalStore) and cmd/updaterd (as an updater.CacheLocator)
// are wired against, standing in for a real partitioned store engine.
package memstore

import (
	"context"
	"sync"

	"github.com/distkv/streamer/internal/kvmodel"
	"github.com/distkv/streamer/internal/receiver"
)

// cache is one named key-value space, guarded by its own mutex so
// concurrent receivers on unrelated caches never contend.
type cache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newCache() *cache { return &cache{data: make(map[string][]byte)} }

func (c *cache) Get(key []byte) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[string(key)]
	return v, ok
}

func (c *cache) Put(key, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[string(key)] = value
}

func (c *cache) Delete(key []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, string(key))
}

func (c *cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

// Store is an in-memory collection of named caches sharing one
// topology version, safe for concurrent use. It implements
// streamer.LocalStore directly and updater.CacheLocator through the
// ServerView adapter, so a single process can
// run both sides of the wire protocol against the same backing state,
// the way a real cluster node hosts both a client Streamer and a
// ServerUpdater over its own partitions.
type Store struct {
	partitionLock sync.RWMutex // held read-side across a receiver Apply

	mu       sync.Mutex
	caches   map[string]*cache
	topology kvmodel.TopologyVersion
}

// New creates an empty Store at the given initial topology version.
func New(topology kvmodel.TopologyVersion) *Store {
	return &Store{caches: make(map[string]*cache), topology: topology}
}

// EnsureCache creates name if absent and returns nothing; callers that
// need to pre-declare the caches an updater serves use this at startup.
func (s *Store) EnsureCache(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.caches[name]; !ok {
		s.caches[name] = newCache()
	}
}

// SetTopology advances the store's current topology version, as a
// cluster rebalance would once this node has caught up.
func (s *Store) SetTopology(v kvmodel.TopologyVersion) {
	s.partitionLock.Lock()
	defer s.partitionLock.Unlock()
	s.mu.Lock()
	s.topology = v
	s.mu.Unlock()
}

// CurrentTopology implements streamer.LocalStore and updater.CacheLocator.
func (s *Store) CurrentTopology() kvmodel.TopologyVersion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.topology
}

// CacheHandle implements streamer.LocalStore: an unknown name is
// created lazily, since the local fast path never rejects a cache a
// caller's own Streamer was configured against.
func (s *Store) CacheHandle(name string) receiver.CacheHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.caches[name]
	if !ok {
		c = newCache()
		s.caches[name] = c
	}
	return c
}

// Lookup backs ServerView's updater.CacheLocator CacheHandle method: unlike
// the client-side fast path, an updater must reject a cache name it was
// never configured to serve.
func (s *Store) Lookup(name string) (receiver.CacheHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.caches[name]
	return c, ok
}

// WithPartitionLock implements streamer.LocalStore: runs fn with the
// store's partition-topology read-lock held, so a concurrent
// SetTopology can't advance the version out from under an in-flight
// local apply.
func (s *Store) WithPartitionLock(ctx context.Context, fn func() error) error {
	s.partitionLock.RLock()
	defer s.partitionLock.RUnlock()
	return fn()
}

// Size reports how many entries a named cache holds, for demo output.
func (s *Store) Size(name string) int {
	s.mu.Lock()
	c, ok := s.caches[name]
	s.mu.Unlock()
	if !ok {
		return 0
	}
	return c.Len()
}

// ServerView adapts a Store to updater.CacheLocator: its CacheHandle
// reports whether a cache exists instead of creating it, since an
// updater must refuse a request against a cache it was never
// configured to serve.
type ServerView struct {
	*Store
}

// CacheHandle implements updater.CacheLocator.
func (v ServerView) CacheHandle(name string) (receiver.CacheHandle, bool) {
	return v.Lookup(name)
}
