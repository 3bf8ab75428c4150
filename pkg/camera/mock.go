package camera

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"log/slog"
	"sync"
	"time"
)

// MockDriver produces synthetic frames from a fixed pool of FBCount buffers.
// Raw formats are exactly width*height*bpp bytes; JPEG frames are encoded
// from a gradient.
type MockDriver struct {
	logger *slog.Logger

	mu       sync.Mutex
	cfg      Config
	pool     [][]byte
	inUse    []bool
	seq      uint64
	inited   bool
	initErr  error
	failGets int
	failNth  int
	delay    time.Duration

	gets    int
	returns int
	deinits int
	pullups []int
}

// MockDriverOption configures a MockDriver.
type MockDriverOption func(*MockDriver)

// WithInitError makes Init fail with err.
func WithInitError(err error) MockDriverOption {
	return func(m *MockDriver) {
		m.initErr = err
	}
}

// WithFailures makes the next n Get calls return ErrNoFrame.
func WithFailures(n int) MockDriverOption {
	return func(m *MockDriver) {
		m.failGets = n
	}
}

// WithFailEvery makes every nth Get call return ErrNoFrame.
func WithFailEvery(n int) MockDriverOption {
	return func(m *MockDriver) {
		m.failNth = n
	}
}

// WithCaptureDelay simulates sensor exposure time.
func WithCaptureDelay(d time.Duration) MockDriverOption {
	return func(m *MockDriver) {
		m.delay = d
	}
}

// NewMockDriver creates a new mock camera driver.
func NewMockDriver(logger *slog.Logger, opts ...MockDriverOption) *MockDriver {
	if logger == nil {
		logger = slog.Default()
	}
	m := &MockDriver{logger: logger}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MockDriver) Init(cfg Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initErr != nil {
		return m.initErr
	}

	m.cfg = cfg
	m.pullups = append([]int(nil), cfg.PullupPins...)
	size := cfg.FrameBytes()
	m.pool = make([][]byte, cfg.FBCount)
	m.inUse = make([]bool, cfg.FBCount)
	for i := range m.pool {
		// JPEG buffers grow on first encode.
		m.pool[i] = make([]byte, size)
	}
	m.inited = true

	m.logger.Debug("mock camera initialized", "frame_bytes", size, "buffers", cfg.FBCount)
	return nil
}

func (m *MockDriver) Get(ctx context.Context) (*Frame, error) {
	if m.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.delay):
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.inited {
		return nil, ErrNotConfigured
	}

	m.gets++
	if m.failGets > 0 {
		m.failGets--
		return nil, ErrNoFrame
	}
	if m.failNth > 0 && m.gets%m.failNth == 0 {
		return nil, ErrNoFrame
	}

	slot := -1
	for i, used := range m.inUse {
		if !used {
			slot = i
			break
		}
	}
	if slot < 0 {
		return nil, ErrNoFrame
	}

	m.seq++
	w, h := m.cfg.Width(), m.cfg.Height()
	m.pool[slot] = m.fill(m.pool[slot], w, h, m.seq)
	m.inUse[slot] = true

	return &Frame{
		Data:       m.pool[slot],
		Width:      w,
		Height:     h,
		Format:     m.cfg.PixelFormat,
		CapturedAt: time.Now(),
		slot:       slot,
	}, nil
}

// fill paints a diagonal gradient that shifts with seq.
func (m *MockDriver) fill(buf []byte, w, h int, seq uint64) []byte {
	shift := int(seq * 8)
	switch m.cfg.PixelFormat {
	case PixelGrayscale:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				buf[y*w+x] = byte(x + y + shift)
			}
		}
	case PixelRGB565, PixelYUV422:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				v := byte(x + y + shift)
				r, g, b := uint16(v>>3), uint16(byte(y)>>2), uint16(byte(x)>>3)
				px := r<<11 | g<<5 | b
				i := (y*w + x) * 2
				buf[i] = byte(px)
				buf[i+1] = byte(px >> 8)
			}
		}
	case PixelJPEG:
		img := image.NewGray(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				img.SetGray(x, y, color.Gray{Y: byte(x + y + shift)})
			}
		}
		var out bytes.Buffer
		// Sensor quality 0-63 (lower is better) maps onto 100-1.
		q := 100 - m.cfg.JPEGQuality*99/63
		if err := jpeg.Encode(&out, img, &jpeg.Options{Quality: q}); err != nil {
			m.logger.Warn("mock jpeg encode failed", "error", err)
			return buf[:0]
		}
		return append(buf[:0], out.Bytes()...)
	}
	return buf
}

func (m *MockDriver) Return(f *Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f == nil || f.slot < 0 || f.slot >= len(m.inUse) {
		return
	}
	m.inUse[f.slot] = false
	m.returns++
}

func (m *MockDriver) Deinit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inited = false
	m.pool = nil
	m.inUse = nil
	m.deinits++
	return nil
}

// InUse returns how many pool buffers are currently handed out.
func (m *MockDriver) InUse() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, used := range m.inUse {
		if used {
			n++
		}
	}
	return n
}

// Counts returns the number of Get, Return and Deinit calls.
func (m *MockDriver) Counts() (gets, returns, deinits int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gets, m.returns, m.deinits
}

// PullupPins returns the pins configured as pulled-up inputs at Init.
func (m *MockDriver) PullupPins() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.pullups...)
}
