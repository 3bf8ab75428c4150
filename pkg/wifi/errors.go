package wifi

import (
	"errors"
	"fmt"
)

var (
	// ErrMaxRetries is reported when the reconnect policy gives up.
	ErrMaxRetries = errors.New("wifi: max reconnect retries exceeded")

	// ErrAlreadyInitialized is returned by a second Initialize call.
	ErrAlreadyInitialized = errors.New("wifi: already initialized")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("wifi: manager closed")

	// ErrNoAddress is returned by the host station when the interface has
	// no usable IPv4 address.
	ErrNoAddress = errors.New("wifi: no ipv4 address on interface")
)

// InitError is a station bring-up failure. It is not recoverable.
type InitError struct {
	// Stage is the bring-up step that failed: validate, init, configure
	// or start.
	Stage string
	Err   error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("wifi: %s failed: %v", e.Stage, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}
