package streamer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	units "github.com/docker/go-units"

	"github.com/teslashibe/go-wificam/pkg/camera"
	"github.com/teslashibe/go-wificam/pkg/nvs"
	"github.com/teslashibe/go-wificam/pkg/protocol"
	"github.com/teslashibe/go-wificam/pkg/transmit"
	"github.com/teslashibe/go-wificam/pkg/wifi"
)

// App is the device application.
type App struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger

	// sleep and loopDone are replaced in tests.
	sleep    func(ctx context.Context, d time.Duration) error
	loopDone func()

	started   time.Time
	bootCount atomic.Uint64
	ready     atomic.Bool

	cycles        atomic.Uint64
	framesSent    atomic.Uint64
	bytesSent     atomic.Uint64
	connectErrors atomic.Uint64
	sendErrors    atomic.Uint64
	captureErrors atomic.Uint64
	releaseErrors atomic.Uint64

	unsubscribe func()
	watchWG     sync.WaitGroup

	shutdownOnce sync.Once
}

// Stats is a snapshot of the loop counters.
type Stats struct {
	Cycles        uint64 `json:"cycles"`
	FramesSent    uint64 `json:"frames_sent"`
	BytesSent     uint64 `json:"bytes_sent"`
	ConnectErrors uint64 `json:"connect_errors"`
	SendErrors    uint64 `json:"send_errors"`
	CaptureErrors uint64 `json:"capture_errors"`
	ReleaseErrors uint64 `json:"release_errors"`
	BootCount     uint64 `json:"boot_count"`
}

// New creates a new App.
func New(cfg Config, deps Deps, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if deps.Reporter == nil {
		deps.Reporter = nopReporter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &App{
		cfg:    cfg,
		deps:   deps,
		logger:   logger.With("component", "streamer"),
		sleep:    sleepCtx,
		loopDone: func() {},
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Init brings the device up in order: storage, network, camera. Failures in
// any of the three are returned as *FatalInitError.
func (a *App) Init(ctx context.Context) error {
	a.started = time.Now()
	a.logger.Info("initializing device")

	// 1. Storage
	res, err := a.deps.Storage.Init()
	if err != nil {
		return &FatalInitError{Stage: "storage", Err: err}
	}
	if res.Erased {
		a.logger.Warn("storage was erased", "reason", res.Reason)
	}
	boots, err := a.deps.Storage.Incr(nvs.KeyBootCount)
	if err != nil {
		return &FatalInitError{Stage: "storage", Err: err}
	}
	a.bootCount.Store(boots)
	a.logger.Info("storage ready", "boot_count", boots)

	// 2. Network
	transitions, cancel := a.deps.Network.Subscribe(16)
	a.unsubscribe = cancel
	a.watchWG.Add(1)
	go a.watchLink(transitions)

	if err := a.deps.Network.Initialize(ctx, a.cfg.Credentials); err != nil {
		return &FatalInitError{Stage: "network", Err: err}
	}
	a.logger.Info("network started", "ssid", a.cfg.Credentials.SSID)

	if a.cfg.WaitForLink {
		wctx, wcancel := context.WithTimeout(ctx, a.cfg.NetworkSettle)
		err := a.deps.Network.WaitConnected(wctx)
		wcancel()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger.Warn("link not up after settle timeout, continuing", "timeout", a.cfg.NetworkSettle, "error", err)
		}
	} else if err := a.sleep(ctx, a.cfg.NetworkSettle); err != nil {
		return err
	}

	// 3. Camera
	if err := a.deps.Camera.Configure(a.cfg.Camera); err != nil {
		return &FatalInitError{Stage: "camera", Err: err}
	}
	a.logger.Info("camera ready",
		"frame_size", a.cfg.Camera.FrameSize,
		"format", a.cfg.Camera.PixelFormat,
		"frame_bytes", units.HumanSize(float64(a.cfg.Camera.FrameBytes())))

	if err := a.sleep(ctx, a.cfg.CameraSettle); err != nil {
		return err
	}

	a.ready.Store(true)
	return nil
}

// watchLink forwards link transitions to the reporter and remembers the
// last assigned address.
func (a *App) watchLink(transitions <-chan wifi.Transition) {
	defer a.watchWG.Done()
	for t := range transitions {
		link := protocol.LinkData{
			From:    t.From.String(),
			To:      t.To.String(),
			Reason:  t.Reason,
			IP:      t.IP,
			Retries: a.deps.Network.Stats().ConsecutiveRetries,
			GaveUp:  errors.Is(t.Err, wifi.ErrMaxRetries),
		}
		a.deps.Reporter.ReportLink(link)

		if t.To == wifi.StateConnected && t.IP != "" {
			if err := a.deps.Storage.Set(nvs.KeyLastIP, t.IP); err != nil {
				a.logger.Warn("failed to store address", "ip", t.IP, "error", err)
			}
		}
	}
}

// Run drives the capture loop and then idles until ctx is cancelled. It
// returns nil on cancellation.
func (a *App) Run(ctx context.Context) error {
	if !a.ready.Load() {
		return ErrNotInitialized
	}

	n := a.cfg.Loop.Iterations
	a.logger.Info("capture loop starting", "iterations", n, "delay", a.cfg.Loop.Delay)

	counter := n
	for {
		if n >= 0 {
			counter--
			if counter <= 0 {
				break
			}
		}
		if ctx.Err() != nil {
			return nil
		}

		a.cycle(ctx)
		a.reportStats()

		if err := a.sleep(ctx, a.cfg.Loop.Delay); err != nil {
			return nil
		}
	}

	s := a.Stats()
	a.logger.Info("capture loop finished",
		"cycles", s.Cycles,
		"frames_sent", s.FramesSent,
		"bytes_sent", units.HumanSize(float64(s.BytesSent)),
		"errors", s.ConnectErrors+s.SendErrors+s.CaptureErrors)
	a.reportStats()
	a.loopDone()

	if a.cfg.StatsInterval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(a.cfg.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.reportStats()
		}
	}
}

// cycle captures, sends and releases one frame. The frame is released
// exactly once whatever the send outcome.
func (a *App) cycle(ctx context.Context) {
	a.cycles.Add(1)

	frame, err := a.deps.Camera.Capture(ctx)
	if err != nil {
		a.captureErrors.Add(1)
		a.logger.Warn("capture failed, skipping", "error", err)
		return
	}
	defer func() {
		if err := a.deps.Camera.Release(frame); err != nil {
			a.releaseErrors.Add(1)
			a.logger.Error("release failed", "seq", frame.Seq, "error", err)
		}
	}()

	info := transmit.FrameInfo{
		Seq:    uint32(frame.Seq),
		Width:  frame.Width,
		Height: frame.Height,
		Format: string(frame.Format),
	}
	res, err := a.deps.Sender.SendFrame(ctx, frame.Data, info)
	a.bytesSent.Add(uint64(res.Sent))

	var connErr *transmit.ConnectError
	var sendErr *transmit.SendError
	switch {
	case err == nil:
		a.framesSent.Add(1)
	case errors.As(err, &connErr):
		a.connectErrors.Add(1)
		a.logger.Warn("connect failed, frame dropped", "seq", frame.Seq, "endpoint", connErr.Endpoint, "error", connErr.Err)
	case errors.As(err, &sendErr):
		a.sendErrors.Add(1)
		a.logger.Warn("send failed, frame truncated", "seq", frame.Seq, "sent", sendErr.Sent, "total", sendErr.Total, "error", sendErr.Err)
	default:
		a.sendErrors.Add(1)
		a.logger.Warn("send failed", "seq", frame.Seq, "error", err)
	}
}

func (a *App) reportStats() {
	s := a.Stats()
	a.deps.Reporter.ReportStats(protocol.StatsData{
		Cycles:        s.Cycles,
		FramesSent:    s.FramesSent,
		BytesSent:     s.BytesSent,
		ConnectErrors: s.ConnectErrors,
		SendErrors:    s.SendErrors,
		CaptureErrors: s.CaptureErrors,
		BootCount:     s.BootCount,
		UptimeMs:      time.Since(a.started).Milliseconds(),
		LinkState:     a.deps.Network.Stats().State.String(),
	})
}

// Stats returns the loop counters.
func (a *App) Stats() Stats {
	return Stats{
		Cycles:        a.cycles.Load(),
		FramesSent:    a.framesSent.Load(),
		BytesSent:     a.bytesSent.Load(),
		ConnectErrors: a.connectErrors.Load(),
		SendErrors:    a.sendErrors.Load(),
		CaptureErrors: a.captureErrors.Load(),
		ReleaseErrors: a.releaseErrors.Load(),
		BootCount:     a.bootCount.Load(),
	}
}

// Shutdown closes the camera and the network and waits for the link
// watcher to exit. It is safe to call more than once.
func (a *App) Shutdown() {
	a.shutdownOnce.Do(func() {
		a.logger.Info("shutting down")
		if err := a.deps.Camera.Close(); err != nil {
			a.logger.Warn("camera close failed", "error", err)
		}
		if err := a.deps.Network.Close(); err != nil && !errors.Is(err, wifi.ErrClosed) {
			a.logger.Warn("network close failed", "error", err)
		}
		if a.unsubscribe != nil {
			a.unsubscribe()
		}
		a.watchWG.Wait()
	})
}

var _ Camera = (*camera.Acquirer)(nil)
var _ Sender = (*transmit.Transmitter)(nil)
var _ Network = (*wifi.Manager)(nil)
var _ Storage = (*nvs.Store)(nil)
