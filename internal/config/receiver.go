package config

import (
	"os"

	"github.com/teslashibe/go-wificam/pkg/receiver"
	"github.com/teslashibe/go-wificam/pkg/web"
)

// ReceiverConfig configures framesink.
type ReceiverConfig struct {
	Receiver receiver.Config `yaml:"receiver" json:"receiver"`
	Web      web.Config      `yaml:"web" json:"web"`

	// MaxPayload overrides Receiver.MaxPayload with a human size.
	MaxPayload ByteSize `yaml:"max_payload" json:"max_payload"`

	// LabelsPath enables card labeling when set.
	LabelsPath string `yaml:"labels_path" json:"labels_path"`

	// Devices accepts device telemetry on /ws/device.
	Devices bool `yaml:"devices" json:"devices"`

	LogLevel string `yaml:"log_level" json:"log_level"`
}

// DefaultReceiver listens for frames on 0.0.0.0:42 and serves the
// dashboard on :8080 with device telemetry enabled.
func DefaultReceiver() ReceiverConfig {
	rx := receiver.DefaultConfig()
	return ReceiverConfig{
		Receiver:   rx,
		Web:        web.DefaultConfig(),
		MaxPayload: ByteSize(rx.MaxPayload),
		LabelsPath: "labels.json",
		Devices:    true,
		LogLevel:   "info",
	}
}

// LoadReceiver returns defaults overlaid with the YAML file at path (if it
// exists) and then the environment.
func LoadReceiver(path string) (ReceiverConfig, error) {
	cfg := DefaultReceiver()
	if err := load(path, &cfg); err != nil {
		return cfg, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from FRAMESINK_LISTEN, FRAMESINK_FORMAT,
// FRAMESINK_FRAMING, FRAMESINK_OUT_DIR, FRAMESINK_WEB_LISTEN,
// FRAMESINK_LABELS, FRAMESINK_MAX_PAYLOAD and FRAMESINK_LOG_LEVEL.
func (c *ReceiverConfig) ApplyEnv() error {
	envString("FRAMESINK_LISTEN", &c.Receiver.Listen)
	envString("FRAMESINK_FORMAT", &c.Receiver.Format)
	envString("FRAMESINK_FRAMING", &c.Receiver.Framing)
	envString("FRAMESINK_OUT_DIR", &c.Receiver.OutDir)
	envString("FRAMESINK_WEB_LISTEN", &c.Web.Listen)
	envString("FRAMESINK_LABELS", &c.LabelsPath)
	envString("FRAMESINK_LOG_LEVEL", &c.LogLevel)

	if v, ok := os.LookupEnv("FRAMESINK_MAX_PAYLOAD"); ok && v != "" {
		n, err := ParseByteSize(v)
		if err != nil {
			return fieldError("FRAMESINK_MAX_PAYLOAD", err)
		}
		c.MaxPayload = n
	}
	return nil
}

// ReceiverSettings returns the receiver config with MaxPayload applied.
func (c *ReceiverConfig) ReceiverSettings() receiver.Config {
	rx := c.Receiver
	if c.MaxPayload > 0 {
		rx.MaxPayload = int(c.MaxPayload)
	}
	return rx
}

// Validate checks the receiver and dashboard sections.
func (c *ReceiverConfig) Validate() error {
	rx := c.ReceiverSettings()
	if err := rx.Validate(); err != nil {
		return fieldError("receiver", err)
	}
	if c.Web.Listen == "" {
		return &ConfigError{Field: "web.listen", Message: "is required"}
	}
	if c.Web.StatusInterval < 0 {
		return &ConfigError{Field: "web.status_interval", Message: "must not be negative"}
	}
	return nil
}
