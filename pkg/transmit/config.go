// Package transmit streams one payload per TCP connection to a fixed
// endpoint, in bounded chunks.
package transmit

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Framing selects what precedes the payload on the wire.
type Framing string

const (
	// FramingRaw writes the payload bytes only. Frame boundaries are
	// connection boundaries.
	FramingRaw Framing = "raw"

	// FramingHeader writes a protocol.FrameHeader before the payload so the
	// receiver can detect truncation. Receivers must be configured to match.
	FramingHeader Framing = "header"
)

// Config holds transmitter configuration.
type Config struct {
	// Endpoint is the destination as "ipv4:port".
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	// ChunkSize bounds every write request.
	ChunkSize int `yaml:"chunk_size" json:"chunk_size"`

	// ConnectTimeout bounds the dial. Zero blocks until the OS gives up.
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout"`

	// WriteTimeout bounds each chunk write. Zero means no deadline.
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`

	Framing Framing `yaml:"framing" json:"framing"`
}

// Defaults.
const (
	DefaultEndpoint  = "192.168.0.24:42"
	DefaultChunkSize = 1024
)

// DefaultConfig returns the stock destination with 1 KiB chunks, raw framing
// and no timeouts.
func DefaultConfig() Config {
	return Config{
		Endpoint:  DefaultEndpoint,
		ChunkSize: DefaultChunkSize,
		Framing:   FramingRaw,
	}
}

// Validate checks the endpoint is an IPv4 literal with a valid port.
func (c *Config) Validate() error {
	host, port, err := net.SplitHostPort(c.Endpoint)
	if err != nil {
		return fmt.Errorf("transmit: endpoint %q: %w", c.Endpoint, err)
	}
	ip := net.ParseIP(host)
	if ip == nil || ip.To4() == nil {
		return fmt.Errorf("transmit: endpoint host %q must be an IPv4 address", host)
	}
	p, err := strconv.Atoi(port)
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("transmit: endpoint port %q must be 1-65535", port)
	}
	if c.ChunkSize < 1 {
		return fmt.Errorf("transmit: chunk_size must be positive, got %d", c.ChunkSize)
	}
	if c.ConnectTimeout < 0 || c.WriteTimeout < 0 {
		return fmt.Errorf("transmit: timeouts must not be negative")
	}
	switch c.Framing {
	case FramingRaw, FramingHeader:
	default:
		return fmt.Errorf("transmit: framing must be raw or header, got %q", c.Framing)
	}
	return nil
}
