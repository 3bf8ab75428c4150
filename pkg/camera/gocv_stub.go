//go:build !gocv

package camera

import (
	"fmt"
	"log/slog"
)

const gocvAvailable = false

// newGoCVDriver returns an error when built without the gocv tag.
func newGoCVDriver(logger *slog.Logger) (Driver, error) {
	return nil, fmt.Errorf("%w: build with -tags gocv", ErrBackendUnavailable)
}
