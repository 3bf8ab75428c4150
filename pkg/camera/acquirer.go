package camera

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Stats holds acquirer counters.
type Stats struct {
	Captures      uint64 `json:"captures"`
	CaptureErrors uint64 `json:"capture_errors"`
	Releases      uint64 `json:"releases"`
	Outstanding   bool   `json:"outstanding"`
}

// Acquirer owns a camera driver and enforces single-frame ownership:
// every frame returned by Capture must be passed to Release exactly once
// before the next Capture.
type Acquirer struct {
	logger    *slog.Logger
	newDriver func(Config, *slog.Logger) (Driver, error)

	mu          sync.Mutex
	driver      Driver
	config      Config
	configured  bool
	capturing   bool
	outstanding *Frame
	seq         uint64
	stats       Stats
}

// AcquirerOption configures an Acquirer.
type AcquirerOption func(*Acquirer)

// WithDriver uses d instead of creating one from the config backend.
func WithDriver(d Driver) AcquirerOption {
	return func(a *Acquirer) {
		a.newDriver = func(Config, *slog.Logger) (Driver, error) { return d, nil }
	}
}

// NewAcquirer creates an unconfigured acquirer.
func NewAcquirer(logger *slog.Logger, opts ...AcquirerOption) *Acquirer {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Acquirer{
		logger:    logger.With("component", "camera"),
		newDriver: NewDriver,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Configure validates cfg and initializes the driver. Any failure is
// returned as *InitError.
func (a *Acquirer) Configure(cfg Config) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.configured {
		return ErrAlreadyConfigured
	}

	if problems := cfg.Validate(); len(problems) > 0 {
		return &InitError{Backend: cfg.Backend, Err: &ValidationError{Problems: problems}}
	}

	driver, err := a.newDriver(cfg, a.logger)
	if err != nil {
		return &InitError{Backend: cfg.Backend, Err: err}
	}
	if err := driver.Init(cfg); err != nil {
		return &InitError{Backend: cfg.Backend, Err: err}
	}

	a.driver = driver
	a.config = cfg
	a.configured = true

	a.logger.Info("camera configured",
		"board", cfg.Board,
		"frame_size", cfg.FrameSize,
		"pixel_format", cfg.PixelFormat,
		"xclk_hz", cfg.XCLKFreqHz,
		"fb_count", cfg.FBCount,
		"fb_location", cfg.FBLocation,
	)
	return nil
}

// Capture blocks until the driver produces a frame. It returns ErrNoFrame
// (wrapped) when none is ready; nothing needs releasing in that case.
func (a *Acquirer) Capture(ctx context.Context) (*Frame, error) {
	a.mu.Lock()
	if !a.configured {
		a.mu.Unlock()
		return nil, ErrNotConfigured
	}
	if a.outstanding != nil || a.capturing {
		a.mu.Unlock()
		return nil, ErrFrameOutstanding
	}
	a.capturing = true
	driver := a.driver
	a.mu.Unlock()

	frame, err := driver.Get(ctx)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.capturing = false

	if err != nil {
		a.stats.CaptureErrors++
		return nil, fmt.Errorf("capture: %w", err)
	}
	if frame == nil {
		a.stats.CaptureErrors++
		return nil, fmt.Errorf("capture: %w", ErrNoFrame)
	}

	a.seq++
	frame.Seq = a.seq
	frame.owner = a
	a.outstanding = frame
	a.stats.Captures++
	return frame, nil
}

// Release hands the frame back to the driver pool.
func (a *Acquirer) Release(f *Frame) error {
	if f == nil {
		return ErrUnknownFrame
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if f.owner != a {
		return ErrUnknownFrame
	}
	if f.released {
		return ErrAlreadyReleased
	}
	if a.outstanding != f {
		return ErrUnknownFrame
	}

	f.released = true
	a.outstanding = nil
	a.stats.Releases++
	a.driver.Return(f)
	return nil
}

// Stats returns a snapshot of the counters.
func (a *Acquirer) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.stats
	s.Outstanding = a.outstanding != nil
	return s
}

// Config returns the active configuration.
func (a *Acquirer) Config() Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.config
}

// Close returns an outstanding frame, if any, and shuts the driver down.
func (a *Acquirer) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.configured {
		return nil
	}
	if a.outstanding != nil {
		a.logger.Warn("closing with outstanding frame", "seq", a.outstanding.Seq)
		a.outstanding.released = true
		a.driver.Return(a.outstanding)
		a.outstanding = nil
	}
	a.configured = false
	return a.driver.Deinit()
}
