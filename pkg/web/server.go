// Package web provides the receiver dashboard: a JSON API over received
// frames, BMP downloads, and live websocket feeds of previews and status.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-wificam/pkg/cloud"
	"github.com/teslashibe/go-wificam/pkg/hub"
	"github.com/teslashibe/go-wificam/pkg/protocol"
	"github.com/teslashibe/go-wificam/pkg/receiver"
)

// Config configures the dashboard.
type Config struct {
	Listen string `yaml:"listen" json:"listen"`

	// StaticDir is served at / when set.
	StaticDir string `yaml:"static_dir" json:"static_dir"`

	// StatusInterval is how often status is pushed without new frames.
	StatusInterval time.Duration `yaml:"status_interval" json:"status_interval"`
}

// DefaultConfig listens on :8080 and pushes status every 5 seconds.
func DefaultConfig() Config {
	return Config{
		Listen:         ":8080",
		StatusInterval: 5 * time.Second,
	}
}

// Server is the web dashboard server
type Server struct {
	cfg    Config
	app    *fiber.App
	logger *slog.Logger

	rx      *receiver.Receiver
	devices *cloud.Hub       // optional
	labels  *receiver.Labels // optional

	statusHub *hub.Hub
	framesHub *hub.Hub

	hubsOnce sync.Once
	cancel   context.CancelFunc
}

// Option configures a Server.
type Option func(*Server)

// WithDevices mounts device telemetry ingest and lists devices in status.
func WithDevices(h *cloud.Hub) Option {
	return func(s *Server) {
		s.devices = h
	}
}

// WithLabels enables the frame label endpoint.
func WithLabels(l *receiver.Labels) Option {
	return func(s *Server) {
		s.labels = l
	}
}

// NewServer creates a dashboard for rx and registers itself as a frame sink.
func NewServer(cfg Config, rx *receiver.Receiver, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:       cfg,
		rx:        rx,
		logger:    logger.With("component", "web"),
		statusHub: hub.New("status", logger),
		framesHub: hub.New("frames", logger),
	}
	for _, opt := range opts {
		opt(s)
	}

	app := fiber.New(fiber.Config{
		AppName:               "framesink",
		DisableStartupMessage: true,
	})

	// CORS for local development
	app.Use(cors.New())

	if cfg.StaticDir != "" {
		app.Static("/", cfg.StaticDir)
	}

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/frames", s.handleListFrames)
	api.Get("/frames/latest", s.handleLatestFrame)
	api.Get("/frames/:id", s.handleGetFrame)
	api.Get("/frames/:id/preview", s.handleGetPreview)
	api.Post("/frames/:id/label", s.handleLabelFrame)
	api.Get("/labels", s.handleListLabels)

	app.Use("/ws/frames", requireUpgrade)
	app.Use("/ws/status", requireUpgrade)
	app.Get("/ws/frames", websocket.New(s.handleFramesWS))
	app.Get("/ws/status", websocket.New(s.handleStatusWS))

	if s.devices != nil {
		s.devices.RegisterRoutes(app)
		s.devices.RegisterAPIRoutes(api)
		s.devices.OnHello(func(string, *protocol.HelloData) { s.PublishStatus() })
		s.devices.OnStats(func(string, *protocol.StatsData) { s.PublishStatus() })
	}

	rx.AddSink(s)
	s.app = app
	return s
}

func requireUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// App returns the underlying Fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// startHubs runs the broadcast hubs and the status ticker until ctx is done.
func (s *Server) startHubs(ctx context.Context) {
	s.hubsOnce.Do(func() {
		ctx, s.cancel = context.WithCancel(ctx)
		go s.statusHub.Run(ctx)
		go s.framesHub.Run(ctx)

		if s.cfg.StatusInterval > 0 {
			go func() {
				t := time.NewTicker(s.cfg.StatusInterval)
				defer t.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-t.C:
						s.PublishStatus()
					}
				}
			}()
		}
	})
}

// Start listens on the configured address until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves the dashboard on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.startHubs(ctx)
	stop := context.AfterFunc(ctx, func() { s.app.Shutdown() })
	defer stop()

	s.logger.Info("dashboard listening", "addr", ln.Addr().String())
	err := s.app.Listener(ln)
	if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// FrameReceived pushes the preview to frame subscribers and refreshes
// status.
func (s *Server) FrameReceived(rec receiver.Record) {
	if len(rec.Preview) > 0 {
		s.framesHub.BroadcastBinary(rec.Preview)
	}
	s.PublishStatus()
}

// Status builds the current status snapshot.
func (s *Server) Status() protocol.StatusData {
	st := s.rx.Stats()
	status := protocol.StatusData{
		Listen:      st.Listen,
		Connections: st.Connections,
		Frames:      st.Frames,
		Truncated:   st.Truncated,
		Rejected:    st.Rejected,
		Devices:     []string{},
	}
	if s.devices != nil {
		status.Devices = s.devices.DeviceIDs()
	}
	return status
}

// PublishStatus broadcasts the current status to status subscribers.
func (s *Server) PublishStatus() {
	msg, err := protocol.NewStatusMessage(s.Status())
	if err != nil {
		s.logger.Debug("encode status failed", "error", err)
		return
	}
	m, err := hub.EnvelopeMessage(msg)
	if err != nil {
		return
	}
	s.statusHub.Broadcast(m)
}

// Shutdown gracefully stops the web server and its hubs.
func (s *Server) Shutdown() error {
	if s.cancel != nil {
		s.cancel()
	}
	return s.app.Shutdown()
}
