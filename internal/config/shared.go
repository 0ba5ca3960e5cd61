package config

import (
	"fmt"
	"strconv"
	"strings"
)

// ServerAddr is the dial address of the updater side of a transport
// connection, as seen from a client config.
type ServerAddr struct {
	Address string `yaml:"address"`
}

// ServerListen is the listen address an updater binds, as seen from a
// server config.
type ServerListen struct {
	Listen string `yaml:"listen"`
}

// TLSClient holds the mTLS certificate paths a client dials with.
type TLSClient struct {
	CACert     string `yaml:"ca_cert"`
	ClientCert string `yaml:"client_cert"`
	ClientKey  string `yaml:"client_key"`
}

// TLSServer holds the mTLS certificate paths a server listens with.
type TLSServer struct {
	CACert     string `yaml:"ca_cert"`
	ServerCert string `yaml:"server_cert"`
	ServerKey  string `yaml:"server_key"`
}

// LoggingInfo configures the process-wide slog.Logger built by
// logging.NewLogger.
type LoggingInfo struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// ParseByteSize converts human-readable sizes such as "256mb" or "1gb"
// into a raw byte count. Suffixes are matched longest-first so "mb"
// never matches the "b" suffix first.
func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	type suffix struct {
		s string
		m int64
	}
	suffixes := []suffix{
		{"gb", 1024 * 1024 * 1024},
		{"mb", 1024 * 1024},
		{"kb", 1024},
		{"b", 1},
	}

	for _, sfx := range suffixes {
		if strings.HasSuffix(s, sfx.s) {
			numStr := strings.TrimSuffix(s, sfx.s)
			num, err := strconv.ParseInt(numStr, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid number %q: %w", numStr, err)
			}
			return num * sfx.m, nil
		}
	}

	num, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unknown size format %q", s)
	}
	return num, nil
}
