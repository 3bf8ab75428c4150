package streamer

import (
	"context"
	"errors"
	"fmt"

	"github.com/teslashibe/go-wificam/pkg/camera"
	"github.com/teslashibe/go-wificam/pkg/nvs"
	"github.com/teslashibe/go-wificam/pkg/protocol"
	"github.com/teslashibe/go-wificam/pkg/transmit"
	"github.com/teslashibe/go-wificam/pkg/wifi"
)

// The interfaces are defined where they are consumed. *nvs.Store,
// *wifi.Manager, *camera.Acquirer and *transmit.Transmitter satisfy them.

// Storage is the persistent store.
type Storage interface {
	Init() (nvs.InitResult, error)
	Incr(key string) (uint64, error)
	Set(key, value string) error
}

// Network is the Wi-Fi connectivity manager.
type Network interface {
	Initialize(ctx context.Context, creds wifi.Credentials) error
	WaitConnected(ctx context.Context) error
	Subscribe(buffer int) (<-chan wifi.Transition, func())
	Stats() wifi.Stats
	Close() error
}

// Camera is the frame acquirer.
type Camera interface {
	Configure(cfg camera.Config) error
	Capture(ctx context.Context) (*camera.Frame, error)
	Release(f *camera.Frame) error
	Close() error
}

// Sender is the frame transmitter.
type Sender interface {
	SendFrame(ctx context.Context, payload []byte, info transmit.FrameInfo) (transmit.Result, error)
}

// Reporter receives best-effort telemetry. Implementations must not block.
type Reporter interface {
	ReportLink(link protocol.LinkData)
	ReportStats(stats protocol.StatsData)
}

// Deps are the components the application drives.
type Deps struct {
	Storage  Storage
	Network  Network
	Camera   Camera
	Sender   Sender
	Reporter Reporter // optional
}

func (d Deps) validate() error {
	var missing []string
	if d.Storage == nil {
		missing = append(missing, "storage")
	}
	if d.Network == nil {
		missing = append(missing, "network")
	}
	if d.Camera == nil {
		missing = append(missing, "camera")
	}
	if d.Sender == nil {
		missing = append(missing, "sender")
	}
	if len(missing) > 0 {
		return fmt.Errorf("streamer: missing components: %v", missing)
	}
	return nil
}

// ErrNotInitialized is returned by Run before a successful Init.
var ErrNotInitialized = errors.New("streamer: not initialized")

// FatalInitError is a bring-up failure the process cannot recover from.
type FatalInitError struct {
	// Stage is storage, network or camera.
	Stage string
	Err   error
}

func (e *FatalInitError) Error() string {
	return fmt.Sprintf("streamer: %s init failed: %v", e.Stage, e.Err)
}

func (e *FatalInitError) Unwrap() error {
	return e.Err
}

type nopReporter struct{}

func (nopReporter) ReportLink(protocol.LinkData)   {}
func (nopReporter) ReportStats(protocol.StatsData) {}
