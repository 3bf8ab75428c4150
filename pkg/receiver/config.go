// Package receiver accepts frames from framecast devices: one TCP
// connection per frame, read until EOF or until the expected size arrives.
// Each frame is saved as a numbered BMP, kept in a bounded in-memory store
// and handed to a Sink such as the dashboard.
package receiver

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// Framing values. They match the transmitter's.
const (
	FramingRaw    = "raw"
	FramingHeader = "header"
)

// Config configures a Receiver.
type Config struct {
	Listen string `yaml:"listen" json:"listen"`

	// Width, Height and Format describe raw frames. With header framing
	// they are taken from each header instead.
	Width  int    `yaml:"width" json:"width"`
	Height int    `yaml:"height" json:"height"`
	Format string `yaml:"format" json:"format"`

	Framing string `yaml:"framing" json:"framing"`

	// OutDir receives received_image_<n>.bmp files. Empty disables saving.
	OutDir string `yaml:"out_dir" json:"out_dir"`

	// ReadTimeout bounds one connection. Zero waits forever.
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`

	// MaxPayload caps JPEG and header-declared payloads.
	MaxPayload int `yaml:"max_payload" json:"max_payload"`

	// Keep is how many recent frames stay in memory.
	Keep int `yaml:"keep" json:"keep"`

	// PreviewQuality is the JPEG quality of dashboard previews.
	PreviewQuality int `yaml:"preview_quality" json:"preview_quality"`
}

// DefaultConfig listens on 0.0.0.0:42 for 640x480 grayscale frames.
func DefaultConfig() Config {
	return Config{
		Listen:         "0.0.0.0:42",
		Width:          640,
		Height:         480,
		Format:         "grayscale",
		Framing:        FramingRaw,
		OutDir:         ".",
		MaxPayload:     4 << 20,
		Keep:           32,
		PreviewQuality: 75,
	}
}

// bytesPerPixel returns 0 for compressed formats.
func bytesPerPixel(format string) (int, bool) {
	switch format {
	case "grayscale":
		return 1, true
	case "rgb565", "yuv422":
		return 2, true
	case "jpeg":
		return 0, true
	}
	return 0, false
}

// ExpectedSize is width*height*bpp, or 0 for JPEG.
func (c Config) ExpectedSize() int {
	bpp, _ := bytesPerPixel(c.Format)
	return c.Width * c.Height * bpp
}

// Validate checks the configuration.
func (c Config) Validate() error {
	var errs []error
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		errs = append(errs, fmt.Errorf("listen: %w", err))
	}
	if c.Width <= 0 || c.Height <= 0 || c.Width > 0xffff || c.Height > 0xffff {
		errs = append(errs, fmt.Errorf("dimensions %dx%d out of range", c.Width, c.Height))
	}
	if _, ok := bytesPerPixel(c.Format); !ok {
		errs = append(errs, fmt.Errorf("unknown format %q", c.Format))
	}
	if c.Framing != FramingRaw && c.Framing != FramingHeader {
		errs = append(errs, fmt.Errorf("framing must be %q or %q, got %q", FramingRaw, FramingHeader, c.Framing))
	}
	if c.MaxPayload <= 0 {
		errs = append(errs, errors.New("max_payload must be positive"))
	}
	if c.Keep <= 0 {
		errs = append(errs, errors.New("keep must be positive"))
	}
	if c.PreviewQuality < 1 || c.PreviewQuality > 100 {
		errs = append(errs, fmt.Errorf("preview_quality %d outside 1-100", c.PreviewQuality))
	}
	if c.ReadTimeout < 0 {
		errs = append(errs, errors.New("read_timeout must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("receiver: %w", err)
	}
	return nil
}
