package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// UpdaterConfig is the YAML configuration for cmd/updaterd: the TLS
// material and listen address used to build a transport.TCPTransport
// server side, the set of cache names this node serves, and the
// read-only toggle an operator flips during a topology change.
type UpdaterConfig struct {
	Server   ServerListen `yaml:"server"`
	TLS      TLSServer    `yaml:"tls"`
	Caches   []string     `yaml:"caches"`
	ReadOnly bool         `yaml:"read_only"`
	Logging  LoggingInfo  `yaml:"logging"`
}

// LoadUpdaterConfig reads and validates the YAML configuration file for
// an updaterd process.
func LoadUpdaterConfig(path string) (*UpdaterConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading updater config: %w", err)
	}

	var cfg UpdaterConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing updater config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating updater config: %w", err)
	}

	return &cfg, nil
}

func (c *UpdaterConfig) validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}
	if c.TLS.CACert == "" {
		return fmt.Errorf("tls.ca_cert is required")
	}
	if c.TLS.ServerCert == "" {
		return fmt.Errorf("tls.server_cert is required")
	}
	if c.TLS.ServerKey == "" {
		return fmt.Errorf("tls.server_key is required")
	}
	if len(c.Caches) == 0 {
		return fmt.Errorf("caches must have at least one entry")
	}
	seen := make(map[string]bool, len(c.Caches))
	for i, name := range c.Caches {
		if name == "" {
			return fmt.Errorf("caches[%d] is empty", i)
		}
		if seen[name] {
			return fmt.Errorf("caches[%d] %q is a duplicate", i, name)
		}
		seen[name] = true
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	return nil
}
