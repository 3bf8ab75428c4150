package camera

import (
	"context"
	"fmt"
	"log/slog"
)

// Driver is the sensor driver contract. Get blocks until a frame is ready
// and returns ErrNoFrame when the driver cannot produce one. Every frame
// from Get goes back through Return.
type Driver interface {
	Init(cfg Config) error
	Get(ctx context.Context) (*Frame, error)
	Return(f *Frame)
	Deinit() error
}

// NewDriver creates a driver for cfg.Backend.
// If cfg.Backend is BackendAuto, the best available backend is selected.
func NewDriver(cfg Config, logger *slog.Logger) (Driver, error) {
	if logger == nil {
		logger = slog.Default()
	}

	backend := cfg.Backend
	if backend == BackendAuto {
		backend = detectBestBackend()
	}

	logger.Info("creating camera driver",
		"backend", backend,
		"board", cfg.Board,
		"frame_size", cfg.FrameSize,
		"pixel_format", cfg.PixelFormat,
		"fb_count", cfg.FBCount,
	)

	switch backend {
	case BackendMock:
		return NewMockDriver(logger), nil
	case BackendGoCV:
		return newGoCVDriver(logger)
	default:
		return nil, fmt.Errorf("unsupported backend: %s", backend)
	}
}

// detectBestBackend prefers a real camera when OpenCV is compiled in.
func detectBestBackend() Backend {
	if gocvAvailable {
		return BackendGoCV
	}
	return BackendMock
}

// AvailableBackends returns the backends compiled into this binary.
func AvailableBackends() []Backend {
	backends := []Backend{BackendMock}
	if gocvAvailable {
		backends = append(backends, BackendGoCV)
	}
	return backends
}
