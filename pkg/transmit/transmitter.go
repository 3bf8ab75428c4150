package transmit

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"sync/atomic"
	"time"

	"github.com/docker/go-units"
	"github.com/google/uuid"

	"github.com/teslashibe/go-wificam/pkg/protocol"
)

// Dialer opens connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Result describes one completed send.
type Result struct {
	SessionID   string        `json:"session_id"`
	Sent        int           `json:"sent"`
	Chunks      int           `json:"chunks"`
	HeaderBytes int           `json:"header_bytes,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// FrameInfo describes the payload for header framing. Ignored for raw
// framing.
type FrameInfo struct {
	Seq    uint32
	Width  int
	Height int
	Format string
}

// Stats holds transmitter counters.
type Stats struct {
	Sessions      uint64 `json:"sessions"`
	Completed     uint64 `json:"completed"`
	BytesSent     uint64 `json:"bytes_sent"`
	ConnectErrors uint64 `json:"connect_errors"`
	SendErrors    uint64 `json:"send_errors"`
}

// Transmitter sends payloads to a fixed endpoint, one connection each.
// Nothing is retried: a failed send is reported and the caller moves on.
type Transmitter struct {
	cfg    Config
	dialer Dialer
	logger *slog.Logger

	sessions      atomic.Uint64
	completed     atomic.Uint64
	bytesSent     atomic.Uint64
	connectErrors atomic.Uint64
	sendErrors    atomic.Uint64
}

// Option configures a Transmitter.
type Option func(*Transmitter)

// WithDialer replaces the default net.Dialer.
func WithDialer(d Dialer) Option {
	return func(t *Transmitter) {
		t.dialer = d
	}
}

// New creates a transmitter. A nil logger uses slog.Default.
func New(cfg Config, logger *slog.Logger, opts ...Option) (*Transmitter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	t := &Transmitter{
		cfg:    cfg,
		dialer: &net.Dialer{},
		logger: logger.With("component", "transmit"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Config returns the transmitter configuration.
func (t *Transmitter) Config() Config {
	return t.cfg
}

// Send streams payload over a new connection with raw framing semantics.
func (t *Transmitter) Send(ctx context.Context, payload []byte) (Result, error) {
	return t.SendFrame(ctx, payload, FrameInfo{})
}

// SendFrame streams payload over a new connection. Every write request is
// min(ChunkSize, remaining) bytes. The first failing write ends the send and
// is reported as *SendError with the bytes delivered so far; a failed dial is
// reported as *ConnectError. Frame info the header cannot describe fails
// as *SendError before dialing. The connection is closed before returning
// on every path.
func (t *Transmitter) SendFrame(ctx context.Context, payload []byte, info FrameInfo) (Result, error) {
	res := Result{SessionID: uuid.NewString()}
	start := time.Now()
	t.sessions.Add(1)

	log := t.logger.With("session", res.SessionID, "endpoint", t.cfg.Endpoint)

	var hdr []byte
	if t.cfg.Framing == FramingHeader {
		var err error
		if hdr, err = frameHeader(payload, info); err != nil {
			return t.fail(log, res, start, len(payload), err)
		}
	}

	dialCtx := ctx
	if t.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, t.cfg.ConnectTimeout)
		defer cancel()
	}

	conn, err := t.dialer.DialContext(dialCtx, "tcp", t.cfg.Endpoint)
	if err != nil {
		if conn != nil {
			conn.Close()
		}
		t.connectErrors.Add(1)
		res.Duration = time.Since(start)
		log.Error("unable to connect to server", "error", err)
		return res, &ConnectError{Endpoint: t.cfg.Endpoint, Err: err}
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			log.Debug("close failed", "error", cerr)
		}
	}()

	// Unblock pending writes when ctx ends.
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	if hdr != nil {
		n, err := t.write(conn, hdr)
		res.HeaderBytes = n
		if err != nil {
			return t.fail(log, res, start, len(payload), fmt.Errorf("header: %w", err))
		}
	}

	for res.Sent < len(payload) {
		n := min(t.cfg.ChunkSize, len(payload)-res.Sent)
		w, err := t.write(conn, payload[res.Sent:res.Sent+n])
		res.Sent += w
		res.Chunks++
		if err != nil {
			return t.fail(log, res, start, len(payload), err)
		}
	}

	res.Duration = time.Since(start)
	t.completed.Add(1)
	t.bytesSent.Add(uint64(res.Sent))
	log.Debug("payload sent",
		"bytes", res.Sent,
		"size", units.HumanSize(float64(res.Sent)),
		"chunks", res.Chunks,
		"duration", res.Duration,
	)
	return res, nil
}

// frameHeader encodes the header for payload. It refuses what the header
// cannot describe rather than sending a frame the receiver would misread.
func frameHeader(payload []byte, info FrameInfo) ([]byte, error) {
	code, ok := protocol.FormatCode(info.Format)
	if !ok {
		return nil, fmt.Errorf("header: unknown format %q", info.Format)
	}
	if info.Width <= 0 || info.Width > math.MaxUint16 || info.Height <= 0 || info.Height > math.MaxUint16 {
		return nil, fmt.Errorf("header: dimensions %dx%d out of range", info.Width, info.Height)
	}
	if uint64(len(payload)) > math.MaxUint32 {
		return nil, fmt.Errorf("header: payload of %d bytes too large", len(payload))
	}
	return protocol.NewFrameHeader(info.Seq, info.Width, info.Height, code, payload).MarshalBinary()
}

// write issues a single write request of len(p) bytes.
func (t *Transmitter) write(conn net.Conn, p []byte) (int, error) {
	if t.cfg.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout)); err != nil {
			return 0, err
		}
	}
	n, err := conn.Write(p)
	if err == nil && n == 0 && len(p) > 0 {
		err = io.ErrShortWrite
	}
	return n, err
}

func (t *Transmitter) fail(log *slog.Logger, res Result, start time.Time, total int, err error) (Result, error) {
	res.Duration = time.Since(start)
	t.sendErrors.Add(1)
	t.bytesSent.Add(uint64(res.Sent))
	log.Error("send failed", "error", err, "sent", res.Sent, "total", total, "chunks", res.Chunks)
	return res, &SendError{Endpoint: t.cfg.Endpoint, Sent: res.Sent, Total: total, Err: err}
}

// Stats returns a snapshot of the counters.
func (t *Transmitter) Stats() Stats {
	return Stats{
		Sessions:      t.sessions.Load(),
		Completed:     t.completed.Load(),
		BytesSent:     t.bytesSent.Load(),
		ConnectErrors: t.connectErrors.Load(),
		SendErrors:    t.sendErrors.Load(),
	}
}
