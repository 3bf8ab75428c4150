// Package streamer runs the device: it brings up storage, Wi-Fi and the
// camera in a fixed order, then repeatedly captures a frame, sends it and
// releases it.
package streamer

import (
	"fmt"
	"time"

	"github.com/teslashibe/go-wificam/pkg/camera"
	"github.com/teslashibe/go-wificam/pkg/wifi"
)

// LoopConfig drives the capture loop.
type LoopConfig struct {
	// Iterations is the loop budget. The counter is decremented before the
	// guard, so a budget of N runs N-1 cycles. Negative runs forever.
	Iterations int `yaml:"iterations" json:"iterations"`

	// Delay is the fixed pause after every cycle.
	Delay time.Duration `yaml:"delay" json:"delay"`
}

// DefaultLoopConfig returns 10 iterations (9 cycles) two seconds apart.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		Iterations: 10,
		Delay:      2 * time.Second,
	}
}

// Config holds all configuration for the streamer application.
// Flag parsing is done in cmd/framecast/main.go; this struct is data only.
type Config struct {
	Credentials wifi.Credentials `yaml:"wifi" json:"wifi"`
	Camera      camera.Config    `yaml:"camera" json:"camera"`
	Loop        LoopConfig       `yaml:"loop" json:"loop"`

	// NetworkSettle is the pause after Wi-Fi bring-up.
	NetworkSettle time.Duration `yaml:"network_settle" json:"network_settle"`

	// CameraSettle is the pause after camera bring-up.
	CameraSettle time.Duration `yaml:"camera_settle" json:"camera_settle"`

	// WaitForLink replaces the network settle pause with a wait for
	// Connected, bounded by NetworkSettle. The loop starts either way.
	WaitForLink bool `yaml:"wait_for_link" json:"wait_for_link"`

	// StatsInterval is how often stats are reported while idle. Zero
	// reports once when the loop ends.
	StatsInterval time.Duration `yaml:"stats_interval" json:"stats_interval"`
}

// DefaultConfig returns the stock sequence: 5s settles, 10 iterations, 2s
// apart.
func DefaultConfig() Config {
	return Config{
		Credentials:   wifi.DefaultCredentials(),
		Camera:        camera.DefaultConfig(),
		Loop:          DefaultLoopConfig(),
		NetworkSettle: 5 * time.Second,
		CameraSettle:  5 * time.Second,
	}
}

// Validate checks the timing fields. Component configs are validated by
// their owners during Init.
func (c *Config) Validate() error {
	if c.Loop.Delay < 0 {
		return &ConfigError{Field: "loop.delay", Message: fmt.Sprintf("must not be negative, got %v", c.Loop.Delay)}
	}
	if c.NetworkSettle < 0 {
		return &ConfigError{Field: "network_settle", Message: "must not be negative"}
	}
	if c.CameraSettle < 0 {
		return &ConfigError{Field: "camera_settle", Message: "must not be negative"}
	}
	if c.WaitForLink && c.NetworkSettle == 0 {
		return &ConfigError{Field: "network_settle", Message: "must be positive when wait_for_link is set"}
	}
	if c.StatsInterval < 0 {
		return &ConfigError{Field: "stats_interval", Message: "must not be negative"}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("streamer: %s %s", e.Field, e.Message)
}
