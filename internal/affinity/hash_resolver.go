package affinity

import (
	"context"
	"fmt"
	"sync"

	"github.com/distkv/streamer/internal/kvmodel"
)

// HashResolver is a self-contained Resolver for tests, demos, and
// single-process deployments: it hashes keys with CRC16-CCITT — the
// same checksum boomballa-df2redis uses to compute Redis Cluster slots
// — folded down from the fixed 16384-slot space to an arbitrary
// partition count, and it stores assignments set directly by the
// caller (standing in for a real cluster's discovery-driven publish).
type HashResolver struct {
	partitions int

	mu          sync.RWMutex
	assignments map[kvmodel.TopologyVersion]kvmodel.AffinityAssignment
	ready       map[kvmodel.TopologyVersion]chan struct{}
}

// NewHashResolver creates a HashResolver with a fixed partition count.
func NewHashResolver(partitions int) *HashResolver {
	if partitions <= 0 {
		partitions = 1
	}
	return &HashResolver{
		partitions:  partitions,
		assignments: make(map[kvmodel.TopologyVersion]kvmodel.AffinityAssignment),
		ready:       make(map[kvmodel.TopologyVersion]chan struct{}),
	}
}

// Partition hashes key with CRC16-CCITT modulo the partition count.
// Honors Redis-style hash tags ("{tag}") so co-located keys land on the
// same partition.
func (r *HashResolver) Partition(_ kvmodel.TopologyVersion, key []byte) int32 {
	tagged := hashTag(key)
	return int32(crc16(tagged) % uint16(r.partitions))
}

// Publish installs the assignment for a topology version and wakes any
// goroutine blocked on Ready for that version. Idempotent re-publishes
// of the same version overwrite the prior assignment.
func (r *HashResolver) Publish(assignment kvmodel.AffinityAssignment) {
	r.mu.Lock()
	r.assignments[assignment.Topology] = assignment
	ch, ok := r.ready[assignment.Topology]
	if !ok {
		ch = make(chan struct{})
		r.ready[assignment.Topology] = ch
	}
	r.mu.Unlock()

	select {
	case <-ch:
	default:
		close(ch)
	}
}

// Assignment returns the published assignment for topology, blocking
// until it is published or ctx is cancelled.
func (r *HashResolver) Assignment(ctx context.Context, topology kvmodel.TopologyVersion) (kvmodel.AffinityAssignment, error) {
	select {
	case <-r.Ready(topology):
	case <-ctx.Done():
		return kvmodel.AffinityAssignment{}, ctx.Err()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.assignments[topology]
	if !ok {
		return kvmodel.AffinityAssignment{}, fmt.Errorf("affinity: no assignment published for topology %s", topology)
	}
	return a, nil
}

// Ready returns a channel that closes once topology's assignment has
// been Published.
func (r *HashResolver) Ready(topology kvmodel.TopologyVersion) <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.ready[topology]
	if !ok {
		ch = make(chan struct{})
		r.ready[topology] = ch
	}
	return ch
}

// hashTag extracts the substring between the first '{' and the next '}'
// in key, if present; otherwise it returns key unchanged. This is the
// same hash-tag convention df2redis honors when computing Redis Cluster
// slots, letting callers force co-location of related keys.
func hashTag(key []byte) []byte {
	start := -1
	for i, c := range key {
		if c == '{' && start < 0 {
			start = i + 1
			continue
		}
		if c == '}' && start >= 0 {
			if i == start {
				// Empty tag "{}" — treat as no tag, per Redis Cluster semantics.
				break
			}
			return key[start:i]
		}
	}
	return key
}

// crc16 implements CRC16-CCITT (polynomial 0x1021), ported from
// boomballa-df2redis's Redis Cluster slot calculator.
func crc16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc = (crc << 8) ^ crc16Table[((crc>>8)^uint16(b))&0xFF]
	}
	return crc
}

var crc16Table = [256]uint16{
	0x0000, 0x1021, 0x2042, 0x3063, 0x4084, 0x50A5, 0x60C6, 0x70E7,
	0x8108, 0x9129, 0xA14A, 0xB16B, 0xC18C, 0xD1AD, 0xE1CE, 0xF1EF,
	0x1231, 0x0210, 0x3273, 0x2252, 0x52B5, 0x4294, 0x72F7, 0x62D6,
	0x9339, 0x8318, 0xB37B, 0xA35A, 0xD3BD, 0xC39C, 0xF3FF, 0xE3DE,
	0x2462, 0x3443, 0x0420, 0x1401, 0x64E6, 0x74C7, 0x44A4, 0x5485,
	0xA56A, 0xB54B, 0x8528, 0x9509, 0xE5EE, 0xF5CF, 0xC5AC, 0xD58D,
	0x3653, 0x2672, 0x1611, 0x0630, 0x76D7, 0x66F6, 0x5695, 0x46B4,
	0xB75B, 0xA77A, 0x9719, 0x8738, 0xF7DF, 0xE7FE, 0xD79D, 0xC7BC,
	0x48C4, 0x58E5, 0x6886, 0x78A7, 0x0840, 0x1861, 0x2802, 0x3823,
	0xC9CC, 0xD9ED, 0xE98E, 0xF9AF, 0x8948, 0x9969, 0xA90A, 0xB92B,
	0x5AF5, 0x4AD4, 0x7AB7, 0x6A96, 0x1A71, 0x0A50, 0x3A33, 0x2A12,
	0xDBFD, 0xCBDC, 0xFBBF, 0xEB9E, 0x9B79, 0x8B58, 0xBB3B, 0xAB1A,
	0x6CA6, 0x7C87, 0x4CE4, 0x5CC5, 0x2C22, 0x3C03, 0x0C60, 0x1C41,
	0xEDAE, 0xFD8F, 0xCDEC, 0xDDCD, 0xAD2A, 0xBD0B, 0x8D68, 0x9D49,
	0x7E97, 0x6EB6, 0x5ED5, 0x4EF4, 0x3E13, 0x2E32, 0x1E51, 0x0E70,
	0xFF9F, 0xEFBE, 0xDFDD, 0xCFFC, 0xBF1B, 0xAF3A, 0x9F59, 0x8F78,
	0x9188, 0x81A9, 0xB1CA, 0xA1EB, 0xD10C, 0xC12D, 0xF14E, 0xE16F,
	0x1080, 0x00A1, 0x30C2, 0x20E3, 0x5004, 0x4025, 0x7046, 0x6067,
	0x83B9, 0x9398, 0xA3FB, 0xB3DA, 0xC33D, 0xD31C, 0xE37F, 0xF35E,
	0x02B1, 0x1290, 0x22F3, 0x32D2, 0x4235, 0x5214, 0x6277, 0x7256,
	0xB5EA, 0xA5CB, 0x95A8, 0x8589, 0xF56E, 0xE54F, 0xD52C, 0xC50D,
	0x34E2, 0x24C3, 0x14A0, 0x0481, 0x7466, 0x6447, 0x5424, 0x4405,
	0xA7DB, 0xB7FA, 0x8799, 0x97B8, 0xE75F, 0xF77E, 0xC71D, 0xD73C,
	0x26D3, 0x36F2, 0x0691, 0x16B0, 0x6657, 0x7676, 0x4615, 0x5634,
	0xD94C, 0xC96D, 0xF90E, 0xE92F, 0x99C8, 0x89E9, 0xB98A, 0xA9AB,
	0x5844, 0x4865, 0x7806, 0x6827, 0x18C0, 0x08E1, 0x3882, 0x28A3,
	0xCB7D, 0xDB5C, 0xEB3F, 0xFB1E, 0x8BF9, 0x9BD8, 0xABBB, 0xBB9A,
	0x4A75, 0x5A54, 0x6A37, 0x7A16, 0x0AF1, 0x1AD0, 0x2AB3, 0x3A92,
	0xFD2E, 0xED0F, 0xDD6C, 0xCD4D, 0xBDAA, 0xAD8B, 0x9DE8, 0x8DC9,
	0x7C26, 0x6C07, 0x5C64, 0x4C45, 0x3CA2, 0x2C83, 0x1CE0, 0x0CC1,
	0xEF1F, 0xFF3E, 0xCF5D, 0xDF7C, 0xAF9B, 0xBFBA, 0x8FD9, 0x9FF8,
	0x6E17, 0x7E36, 0x4E55, 0x5E74, 0x2E93, 0x3EB2, 0x0ED1, 0x1EF0,
}
