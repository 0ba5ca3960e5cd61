package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ClientConfig is the YAML configuration for cmd/streamclient: the TLS
// material and server address used to build a transport.TCPTransport,
// plus the StreamerOptions each named cache is opened with. Shaped the
// same way AgentConfig pairs ServerAddr/TLSClient with a list of named
// work units (there, backups; here, streamers).
type ClientConfig struct {
	Server    ServerAddr        `yaml:"server"`
	TLS       TLSClient         `yaml:"tls"`
	Streamers []StreamerOptions `yaml:"streamers"`
	Logging   LoggingInfo       `yaml:"logging"`

	// BandwidthLimit throttles the transport's outbound writes, e.g.
	// "50mb" for 50MB/s. Empty disables throttling.
	BandwidthLimit string `yaml:"bandwidth_limit"`
	// BandwidthLimitRaw is filled by validate(); not read from YAML.
	BandwidthLimitRaw int64 `yaml:"-"`

	// FlushSchedule is an optional cron expression driving a calendar
	// flush of every configured streamer, independent of each
	// streamer's own AutoFlushPeriod deadline — e.g. "0 */6 * * *" to
	// guarantee a flush every six hours regardless of producer
	// activity. Empty disables the scheduled flush.
	FlushSchedule string `yaml:"flush_schedule"`
}

// StreamerOptions is the YAML shape of streamer.Options. It mirrors that
// struct's fields except Receiver; cmd/streamclient copies them field
// by field into a streamer.Options.
type StreamerOptions struct {
	CacheName           string        `yaml:"cache_name"`
	PerThreadBufferSize int           `yaml:"per_thread_buffer_size"`
	PerNodeBufferSize   int           `yaml:"per_node_buffer_size"`
	PerNodeParallelOps  int           `yaml:"per_node_parallel_ops"`
	StripeCount         int           `yaml:"stripe_count"`
	Timeout             time.Duration `yaml:"timeout"`
	AutoFlushPeriod     time.Duration `yaml:"auto_flush_period"`
	AllowOverwrite      bool          `yaml:"allow_overwrite"`
	SkipStore           bool          `yaml:"skip_store"`
	KeepBinary          bool          `yaml:"keep_binary"`
	MaxRemapCount       int           `yaml:"max_remap_count"`
}

// LoadClientConfig reads and validates the YAML configuration file for
// a streamclient process.
func LoadClientConfig(path string) (*ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading client config: %w", err)
	}

	var cfg ClientConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing client config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating client config: %w", err)
	}

	return &cfg, nil
}

func (c *ClientConfig) validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}
	if c.TLS.CACert == "" {
		return fmt.Errorf("tls.ca_cert is required")
	}
	if c.TLS.ClientCert == "" {
		return fmt.Errorf("tls.client_cert is required")
	}
	if c.TLS.ClientKey == "" {
		return fmt.Errorf("tls.client_key is required")
	}
	if len(c.Streamers) == 0 {
		return fmt.Errorf("streamers must have at least one entry")
	}
	for i, s := range c.Streamers {
		if s.CacheName == "" {
			return fmt.Errorf("streamers[%d].cache_name is required", i)
		}
		if s.PerThreadBufferSize < 0 {
			return fmt.Errorf("streamers[%d].per_thread_buffer_size must be >= 0, got %d", i, s.PerThreadBufferSize)
		}
		if s.PerNodeBufferSize < 0 {
			return fmt.Errorf("streamers[%d].per_node_buffer_size must be >= 0, got %d", i, s.PerNodeBufferSize)
		}
		if s.PerNodeParallelOps < 0 {
			return fmt.Errorf("streamers[%d].per_node_parallel_ops must be >= 0, got %d", i, s.PerNodeParallelOps)
		}
		if s.StripeCount < 0 {
			return fmt.Errorf("streamers[%d].stripe_count must be >= 0, got %d", i, s.StripeCount)
		}
		if s.MaxRemapCount < 0 {
			return fmt.Errorf("streamers[%d].max_remap_count must be >= 0, got %d", i, s.MaxRemapCount)
		}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.BandwidthLimit != "" {
		parsed, err := ParseByteSize(c.BandwidthLimit)
		if err != nil {
			return fmt.Errorf("bandwidth_limit: %w", err)
		}
		c.BandwidthLimitRaw = parsed
	}
	return nil
}
