package streamer

import (
	"fmt"
	"runtime"
	"time"

	"github.com/distkv/streamer/internal/receiver"
)

// DefaultMaxRemapCount is used when Options.MaxRemapCount is zero.
const DefaultMaxRemapCount = 32

// Options configures a Streamer. All fields except CacheName are
// optional; resolve fills in defaults and rejects a missing CacheName.
// A Timeout of zero is not rejected: it resolves to Unlimited, the same
// as -1.
type Options struct {
	CacheName          string        `yaml:"cache_name"`
	PerThreadBufferSize int          `yaml:"per_thread_buffer_size"`
	PerNodeBufferSize   int          `yaml:"per_node_buffer_size"`
	PerNodeParallelOps  int          `yaml:"per_node_parallel_ops"`
	StripeCount         int          `yaml:"stripe_count"`
	Timeout             time.Duration `yaml:"timeout"` // -1 or 0 means unlimited
	AutoFlushPeriod     time.Duration `yaml:"auto_flush_period"` // 0 disables
	AllowOverwrite      bool          `yaml:"allow_overwrite"`
	SkipStore           bool          `yaml:"skip_store"`
	KeepBinary          bool          `yaml:"keep_binary"`
	MaxRemapCount       int           `yaml:"max_remap_count"`

	// Receiver overrides the receiver selected by AllowOverwrite. Most
	// callers leave this nil and let the Streamer pick isolated vs.
	// individual.
	Receiver receiver.Receiver `yaml:"-"`
}

// Unlimited is the Timeout value meaning "wait forever".
const Unlimited time.Duration = -1

func (o Options) resolve() (Options, error) {
	if o.PerThreadBufferSize <= 0 {
		o.PerThreadBufferSize = 128
	}
	if o.PerNodeBufferSize <= 0 {
		o.PerNodeBufferSize = 512
	}
	if o.PerNodeParallelOps <= 0 {
		o.PerNodeParallelOps = 4
	}
	if o.StripeCount <= 0 {
		o.StripeCount = runtime.NumCPU()
	}
	// A zero Options.Timeout is the Go zero value for an unset field,
	// not a caller asking for an instant timeout, so it resolves to
	// Unlimited. A caller that wants a rejected explicit zero must say
	// so through a non-zero sentinel; see DESIGN.md for this call.
	if o.Timeout == 0 {
		o.Timeout = Unlimited
	}
	if o.MaxRemapCount <= 0 {
		o.MaxRemapCount = DefaultMaxRemapCount
	}
	if o.CacheName == "" {
		return o, fmt.Errorf("streamer: CacheName is required")
	}
	return o, nil
}
