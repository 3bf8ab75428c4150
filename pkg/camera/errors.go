package camera

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for common error conditions.
var (
	// ErrNoFrame is returned when the driver has no frame ready.
	ErrNoFrame = errors.New("camera: no frame available")

	// ErrFrameOutstanding is returned by Capture while the previous frame
	// has not been released.
	ErrFrameOutstanding = errors.New("camera: previous frame not released")

	// ErrNotConfigured is returned before a successful Configure.
	ErrNotConfigured = errors.New("camera: not configured")

	// ErrAlreadyConfigured is returned by a second Configure.
	ErrAlreadyConfigured = errors.New("camera: already configured")

	// ErrAlreadyReleased is returned when a frame is released twice.
	ErrAlreadyReleased = errors.New("camera: frame already released")

	// ErrUnknownFrame is returned when releasing a frame this acquirer
	// never handed out.
	ErrUnknownFrame = errors.New("camera: unknown frame")

	// ErrBackendUnavailable is returned when a backend is not compiled in.
	ErrBackendUnavailable = errors.New("camera: backend not available")
)

// InitError is a driver configuration or bring-up failure.
type InitError struct {
	Backend Backend
	Err     error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("camera [%s]: init failed: %v", e.Backend, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// ValidationError lists every invalid config field.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "camera: invalid config: " + strings.Join(e.Problems, "; ")
}
