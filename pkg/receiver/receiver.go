package receiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	units "github.com/docker/go-units"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/teslashibe/go-wificam/pkg/protocol"
)

// Sink is notified of every stored frame. It must not block.
type Sink interface {
	FrameReceived(r Record)
}

// Stats holds receiver counters.
type Stats struct {
	Listen      string `json:"listen"`
	Connections uint64 `json:"connections"`
	Frames      uint64 `json:"frames"`
	Empty       uint64 `json:"empty"`
	Truncated   uint64 `json:"truncated"`
	Rejected    uint64 `json:"rejected"`
	Bytes       uint64 `json:"bytes"`
}

// Receiver is the frame server.
type Receiver struct {
	cfg    Config
	logger *slog.Logger
	store  *Store

	sinkMu sync.RWMutex
	sinks  []Sink

	addrMu sync.Mutex
	addr   net.Addr

	connections atomic.Uint64
	frames      atomic.Uint64
	empty       atomic.Uint64
	truncated   atomic.Uint64
	rejected    atomic.Uint64
	bytes       atomic.Uint64

	// warnLog throttles per-frame warnings when a device keeps misbehaving.
	warnLog rate.Sometimes

	wg sync.WaitGroup
}

// New creates a receiver.
func New(cfg Config, logger *slog.Logger) (*Receiver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.OutDir != "" {
		if err := os.MkdirAll(cfg.OutDir, 0o755); err != nil {
			return nil, fmt.Errorf("receiver: out dir: %w", err)
		}
	}
	return &Receiver{
		cfg:     cfg,
		logger:  logger.With("component", "receiver"),
		store:   NewStore(cfg.Keep),
		warnLog: rate.Sometimes{First: 3, Interval: 10 * time.Second},
	}, nil
}

// AddSink registers s for frame notifications.
func (r *Receiver) AddSink(s Sink) {
	r.sinkMu.Lock()
	r.sinks = append(r.sinks, s)
	r.sinkMu.Unlock()
}

// Store returns the frame store.
func (r *Receiver) Store() *Store {
	return r.store
}

// Config returns the receiver configuration.
func (r *Receiver) Config() Config {
	return r.cfg
}

// Addr returns the bound address once listening.
func (r *Receiver) Addr() net.Addr {
	r.addrMu.Lock()
	defer r.addrMu.Unlock()
	return r.addr
}

// ListenAndServe listens on the configured address and serves until ctx is
// done.
func (r *Receiver) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", r.cfg.Listen)
	if err != nil {
		return fmt.Errorf("receiver: listen: %w", err)
	}
	return r.Serve(ctx, ln)
}

// Serve accepts frame connections on ln until ctx is done. It closes ln and
// waits for in-flight connections before returning nil.
func (r *Receiver) Serve(ctx context.Context, ln net.Listener) error {
	r.addrMu.Lock()
	r.addr = ln.Addr()
	r.addrMu.Unlock()

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer r.wg.Wait()

	r.logger.Info("receiver listening",
		"addr", ln.Addr().String(),
		"framing", r.cfg.Framing,
		"format", r.cfg.Format,
		"size", fmt.Sprintf("%dx%d", r.cfg.Width, r.cfg.Height))

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("receiver: accept: %w", err)
		}

		n := r.connections.Add(1)
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			defer conn.Close()
			r.handle(ctx, conn, n)
		}()
	}
}

// frameMeta is what the receiver knows about a payload before reading it.
type frameMeta struct {
	seq      uint64
	width    int
	height   int
	format   string
	expected int
	header   *protocol.FrameHeader
}

func (r *Receiver) handle(ctx context.Context, conn net.Conn, n uint64) {
	remote := conn.RemoteAddr().String()
	log := r.logger.With("conn", n, "remote", remote)

	if r.cfg.ReadTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(r.cfg.ReadTimeout))
	}
	stop := context.AfterFunc(ctx, func() { conn.SetReadDeadline(time.Now()) })
	defer stop()

	meta, err := r.readMeta(conn)
	if err != nil {
		r.rejected.Add(1)
		r.warn(log, "frame rejected", "error", err)
		return
	}

	limit := meta.expected
	if limit == 0 {
		limit = r.cfg.MaxPayload
	}
	data, err := io.ReadAll(io.LimitReader(conn, int64(limit)))
	if err != nil && len(data) == 0 {
		r.rejected.Add(1)
		r.warn(log, "read failed", "error", err)
		return
	}
	if len(data) == 0 {
		r.empty.Add(1)
		log.Debug("empty connection")
		return
	}

	rec := Record{
		ID:         uuid.NewString(),
		Conn:       n,
		Seq:        meta.seq,
		Width:      meta.width,
		Height:     meta.height,
		Format:     meta.format,
		Bytes:      len(data),
		Expected:   meta.expected,
		Remote:     remote,
		ReceivedAt: time.Now(),
	}
	if meta.expected > 0 && len(data) < meta.expected {
		rec.Truncated = true
	}
	if meta.header != nil && !rec.Truncated {
		if err := meta.header.Verify(data); err != nil {
			rec.Corrupt = true
			r.warn(log, "payload failed verification", "error", err)
		}
	}

	r.bytes.Add(uint64(len(data)))
	r.frames.Add(1)
	if rec.Truncated {
		r.truncated.Add(1)
		r.warn(log, "frame truncated", "got", len(data), "want", meta.expected)
	}

	r.render(log, &rec, data)
	r.store.Add(&rec)

	log.Info("frame received",
		"id", rec.ID,
		"size", units.HumanSize(float64(rec.Bytes)),
		"truncated", rec.Truncated,
		"path", rec.Path)

	r.sinkMu.RLock()
	sinks := r.sinks
	r.sinkMu.RUnlock()
	for _, s := range sinks {
		s.FrameReceived(rec)
	}
}

// readMeta reads the frame header when header framing is on, otherwise it
// describes the configured raw frame.
func (r *Receiver) readMeta(conn net.Conn) (frameMeta, error) {
	if r.cfg.Framing != FramingHeader {
		return frameMeta{
			width:    r.cfg.Width,
			height:   r.cfg.Height,
			format:   r.cfg.Format,
			expected: r.cfg.ExpectedSize(),
		}, nil
	}

	hdr, err := protocol.ReadFrameHeader(conn)
	if err != nil {
		return frameMeta{}, err
	}
	if int(hdr.Length) > r.cfg.MaxPayload {
		return frameMeta{}, fmt.Errorf("payload of %d bytes exceeds limit %d", hdr.Length, r.cfg.MaxPayload)
	}
	format := protocol.FormatName(hdr.Format)
	if err := checkDimensions(int(hdr.Width), int(hdr.Height), format, int(hdr.Length)); err != nil {
		return frameMeta{}, err
	}
	return frameMeta{
		seq:      uint64(hdr.Seq),
		width:    int(hdr.Width),
		height:   int(hdr.Height),
		format:   format,
		expected: int(hdr.Length),
		header:   &hdr,
	}, nil
}

// checkDimensions rejects header dimensions the payload cannot back. Raw
// images are allocated from width and height, so they must fit in length.
func checkDimensions(width, height int, format string, length int) error {
	if width == 0 || height == 0 {
		return fmt.Errorf("empty dimensions %dx%d", width, height)
	}
	bpp, ok := bytesPerPixel(format)
	if !ok {
		return fmt.Errorf("unknown format %q", format)
	}
	if bpp == 0 {
		if width*height > maxDecodePixels {
			return fmt.Errorf("jpeg of %dx%d exceeds %d pixels", width, height, maxDecodePixels)
		}
		return nil
	}
	if need := width * height * bpp; need > length {
		return fmt.Errorf("%dx%d %s needs %d bytes, header declares %d", width, height, format, need, length)
	}
	return nil
}

// render writes the numbered BMP and builds the dashboard preview. A frame
// that cannot be decoded is still counted and stored without images.
func (r *Receiver) render(log *slog.Logger, rec *Record, data []byte) {
	img, err := Decode(data, rec.Width, rec.Height, rec.Format)
	if err != nil {
		r.warn(log, "cannot decode frame", "error", err)
		return
	}

	if rec.BMP, err = EncodeBMP(img); err != nil {
		r.warn(log, "cannot encode bmp", "error", err)
	} else if r.cfg.OutDir != "" {
		name := fmt.Sprintf("received_image_%d.bmp", rec.Conn)
		path := filepath.Join(r.cfg.OutDir, name)
		if err := os.WriteFile(path, rec.BMP, 0o644); err != nil {
			r.warn(log, "cannot save frame", "path", path, "error", err)
		} else {
			rec.Path = path
		}
	}

	if rec.Format == "jpeg" {
		rec.Preview = data
		return
	}
	if rec.Preview, err = EncodePreview(img, r.cfg.PreviewQuality); err != nil {
		r.warn(log, "cannot encode preview", "error", err)
	}
}

func (r *Receiver) warn(log *slog.Logger, msg string, args ...any) {
	r.warnLog.Do(func() { log.Warn(msg, args...) })
}

// Stats returns the receiver counters.
func (r *Receiver) Stats() Stats {
	listen := r.cfg.Listen
	if a := r.Addr(); a != nil {
		listen = a.String()
	}
	return Stats{
		Listen:      listen,
		Connections: r.connections.Load(),
		Frames:      r.frames.Load(),
		Empty:       r.empty.Load(),
		Truncated:   r.truncated.Load(),
		Rejected:    r.rejected.Load(),
		Bytes:       r.bytes.Load(),
	}
}
