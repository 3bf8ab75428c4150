// Package telemetry sends best-effort device telemetry (hello, link
// transitions, stats and pings) over a WebSocket to a receiver. Reports are
// queued without blocking and dropped when the queue is full or the link is
// down.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/teslashibe/go-wificam/pkg/protocol"
)

const (
	// writeWait is how long to wait for a write to complete
	writeWait = 5 * time.Second

	// maxMessageSize bounds pongs and server notices.
	maxMessageSize = 64 * 1024
)

// Config configures the telemetry client.
type Config struct {
	// URL is the receiver ingest endpoint, e.g. ws://192.168.0.24:8080/ws/device.
	URL string `yaml:"url" json:"url"`

	// DeviceID is appended to the URL path. Empty generates one.
	DeviceID string `yaml:"device_id" json:"device_id"`

	QueueSize      int           `yaml:"queue_size" json:"queue_size"`
	PingInterval   time.Duration `yaml:"ping_interval" json:"ping_interval"`
	RedialInterval time.Duration `yaml:"redial_interval" json:"redial_interval"`
	DialTimeout    time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
}

// DefaultConfig returns defaults with telemetry disabled (no URL).
func DefaultConfig() Config {
	return Config{
		QueueSize:      64,
		PingInterval:   15 * time.Second,
		RedialInterval: 2 * time.Second,
		DialTimeout:    5 * time.Second,
	}
}

// Enabled reports whether a URL is configured.
func (c Config) Enabled() bool {
	return c.URL != ""
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if !c.Enabled() {
		return nil
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("telemetry: url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("telemetry: url scheme must be ws or wss, got %q", u.Scheme)
	}
	if c.QueueSize <= 0 {
		return errors.New("telemetry: queue_size must be positive")
	}
	if c.RedialInterval <= 0 {
		return errors.New("telemetry: redial_interval must be positive")
	}
	if c.PingInterval < 0 || c.DialTimeout < 0 {
		return errors.New("telemetry: intervals must not be negative")
	}
	return nil
}

// Stats holds client counters.
type Stats struct {
	Connected  bool   `json:"connected"`
	Dials      uint64 `json:"dials"`
	DialErrors uint64 `json:"dial_errors"`
	Sent       uint64 `json:"sent"`
	Dropped    uint64 `json:"dropped"`
	Pongs      uint64 `json:"pongs"`
}

// Client is the telemetry uplink.
type Client struct {
	cfg      Config
	hello    protocol.HelloData
	endpoint string
	logger   *slog.Logger
	dialer   *websocket.Dialer
	limiter  *rate.Limiter

	queue chan *protocol.Message

	connected  atomic.Bool
	dials      atomic.Uint64
	dialErrors atomic.Uint64
	sent       atomic.Uint64
	dropped    atomic.Uint64
	pongs      atomic.Uint64

	mu     sync.Mutex
	lastRx time.Time
}

// New creates a client. hello is sent first on every connection.
func New(cfg Config, hello protocol.HelloData, logger *slog.Logger) (*Client, error) {
	if !cfg.Enabled() {
		return nil, errors.New("telemetry: no url configured")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DeviceID == "" {
		cfg.DeviceID = uuid.NewString()
	}
	if hello.DeviceID == "" {
		hello.DeviceID = cfg.DeviceID
	}

	endpoint, err := url.JoinPath(cfg.URL, url.PathEscape(cfg.DeviceID))
	if err != nil {
		return nil, fmt.Errorf("telemetry: url: %w", err)
	}

	return &Client{
		cfg:      cfg,
		hello:    hello,
		endpoint: endpoint,
		logger:   logger.With("component", "telemetry", "device_id", cfg.DeviceID),
		dialer:   &websocket.Dialer{HandshakeTimeout: cfg.DialTimeout},
		limiter:  rate.NewLimiter(rate.Every(cfg.RedialInterval), 1),
		queue:    make(chan *protocol.Message, cfg.QueueSize),
	}, nil
}

// DeviceID returns the identifier sent in hello.
func (c *Client) DeviceID() string {
	return c.cfg.DeviceID
}

// ReportLink queues a link transition.
func (c *Client) ReportLink(link protocol.LinkData) {
	msg, err := protocol.NewLinkMessage(link)
	if err != nil {
		c.logger.Debug("encode link failed", "error", err)
		return
	}
	c.enqueue(msg)
}

// ReportStats queues a stats snapshot.
func (c *Client) ReportStats(stats protocol.StatsData) {
	msg, err := protocol.NewStatsMessage(stats)
	if err != nil {
		c.logger.Debug("encode stats failed", "error", err)
		return
	}
	c.enqueue(msg)
}

func (c *Client) enqueue(msg *protocol.Message) {
	select {
	case c.queue <- msg:
	default:
		c.dropped.Add(1)
	}
}

// Run connects and pumps queued messages until ctx is done, redialing at
// most once per RedialInterval. It returns nil on cancellation.
func (c *Client) Run(ctx context.Context) error {
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil
		}

		c.dials.Add(1)
		conn, _, err := c.dialer.DialContext(ctx, c.endpoint, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.dialErrors.Add(1)
			c.logger.Debug("dial failed", "url", c.endpoint, "error", err)
			continue
		}

		c.logger.Info("telemetry connected", "url", c.endpoint)
		c.connected.Store(true)
		err = c.serve(ctx, conn)
		c.connected.Store(false)
		conn.Close()

		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("telemetry disconnected", "error", err)
	}
}

// serve owns conn until it fails or ctx is done. Only this goroutine
// writes to conn.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	hello, err := protocol.NewHelloMessage(c.hello)
	if err != nil {
		return err
	}
	if err := c.write(conn, hello); err != nil {
		return err
	}

	readErr := make(chan error, 1)
	go c.readPump(conn, readErr)

	var tick <-chan time.Time
	if c.cfg.PingInterval > 0 {
		ticker := time.NewTicker(c.cfg.PingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return ctx.Err()

		case err := <-readErr:
			return err

		case msg := <-c.queue:
			if err := c.write(conn, msg); err != nil {
				return err
			}

		case <-tick:
			ping, err := protocol.NewPingMessage(uuid.NewString())
			if err != nil {
				return err
			}
			if err := c.write(conn, ping); err != nil {
				return err
			}
		}
	}
}

func (c *Client) write(conn *websocket.Conn, msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	c.sent.Add(1)
	return nil
}

// readPump consumes pongs and detects disconnection.
func (c *Client) readPump(conn *websocket.Conn, errc chan<- error) {
	conn.SetReadLimit(maxMessageSize)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			errc <- err
			return
		}
		c.mu.Lock()
		c.lastRx = time.Now()
		c.mu.Unlock()

		msg, err := protocol.ParseMessage(data)
		if err != nil {
			continue
		}
		if msg.Type == protocol.TypePong {
			c.pongs.Add(1)
		}
	}
}

// LastReceived returns when the receiver last sent anything.
func (c *Client) LastReceived() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRx
}

// Stats returns client counters.
func (c *Client) Stats() Stats {
	return Stats{
		Connected:  c.connected.Load(),
		Dials:      c.dials.Load(),
		DialErrors: c.dialErrors.Load(),
		Sent:       c.sent.Load(),
		Dropped:    c.dropped.Load(),
		Pongs:      c.pongs.Load(),
	}
}
