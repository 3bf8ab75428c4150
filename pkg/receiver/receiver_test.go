package receiver

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"

	"github.com/teslashibe/go-wificam/internal/log"
	"github.com/teslashibe/go-wificam/pkg/protocol"
)

type recordingSink struct {
	mu      sync.Mutex
	records []Record
}

func (s *recordingSink) FrameReceived(r Record) {
	s.mu.Lock()
	s.records = append(s.records, r)
	s.mu.Unlock()
}

func (s *recordingSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func smallConfig(t *testing.T) Config {
	cfg := DefaultConfig()
	cfg.Listen = "127.0.0.1:0"
	cfg.Width = 32
	cfg.Height = 24
	cfg.OutDir = t.TempDir()
	return cfg
}

// startReceiver serves on a loopback port and stops on cleanup.
func startReceiver(t *testing.T, cfg Config) (*Receiver, *recordingSink, string) {
	t.Helper()
	r, err := New(cfg, log.Discard())
	require.NoError(t, err)
	sink := &recordingSink{}
	r.AddSink(sink)

	ln, err := net.Listen("tcp", cfg.Listen)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return r, sink, ln.Addr().String()
}

func sendFrame(t *testing.T, addr string, parts ...[]byte) {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	for _, p := range parts {
		_, err := conn.Write(p)
		require.NoError(t, err)
	}
	require.NoError(t, conn.Close())
}

func gradient(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

func TestReceiver_RawGrayscale(t *testing.T) {
	cfg := smallConfig(t)
	r, sink, addr := startReceiver(t, cfg)

	payload := gradient(32 * 24)
	sendFrame(t, addr, payload[:100], payload[100:])

	require.Eventually(t, func() bool { return sink.len() == 1 }, 2*time.Second, 10*time.Millisecond)
	rec := sink.records[0]
	assert.False(t, rec.Truncated)
	assert.Equal(t, 32*24, rec.Bytes)
	assert.EqualValues(t, 1, rec.Conn)
	assert.Equal(t, filepath.Join(cfg.OutDir, "received_image_1.bmp"), rec.Path)
	assert.NotEmpty(t, rec.Preview)

	f, err := os.Open(rec.Path)
	require.NoError(t, err)
	defer f.Close()
	img, err := bmp.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 32, 24), img.Bounds())
	gray, _, _, _ := img.At(5, 0).RGBA()
	assert.EqualValues(t, 5, gray>>8)

	s := r.Stats()
	assert.EqualValues(t, 1, s.Connections)
	assert.EqualValues(t, 1, s.Frames)
	assert.Zero(t, s.Truncated)

	stored, ok := r.Store().Get(rec.ID)
	assert.True(t, ok)
	assert.Equal(t, rec.Path, stored.Path)
}

func TestReceiver_ShortPayloadIsTruncated(t *testing.T) {
	r, sink, addr := startReceiver(t, smallConfig(t))

	sendFrame(t, addr, gradient(300))

	require.Eventually(t, func() bool { return sink.len() == 1 }, 2*time.Second, 10*time.Millisecond)
	rec := sink.records[0]
	assert.True(t, rec.Truncated)
	assert.Equal(t, 300, rec.Bytes)
	assert.Equal(t, 32*24, rec.Expected)
	assert.NotEmpty(t, rec.BMP)
	assert.EqualValues(t, 1, r.Stats().Truncated)
}

func TestReceiver_ExcessBytesAreIgnored(t *testing.T) {
	_, sink, addr := startReceiver(t, smallConfig(t))

	sendFrame(t, addr, gradient(32*24+500))

	require.Eventually(t, func() bool { return sink.len() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 32*24, sink.records[0].Bytes)
	assert.False(t, sink.records[0].Truncated)
}

func TestReceiver_EmptyConnectionCountsButSavesNothing(t *testing.T) {
	cfg := smallConfig(t)
	r, sink, addr := startReceiver(t, cfg)

	sendFrame(t, addr)
	sendFrame(t, addr, gradient(32*24))

	require.Eventually(t, func() bool { return sink.len() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return r.Stats().Empty == 1 }, 2*time.Second, 10*time.Millisecond)

	// Connection numbering includes the empty one.
	assert.EqualValues(t, 2, r.Stats().Connections)
	_, err := os.Stat(filepath.Join(cfg.OutDir, "received_image_1.bmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestReceiver_RGB565(t *testing.T) {
	cfg := smallConfig(t)
	cfg.Format = "rgb565"
	_, sink, addr := startReceiver(t, cfg)

	payload := make([]byte, 32*24*2)
	// First pixel pure red, little-endian.
	payload[0], payload[1] = 0x00, 0xf8
	sendFrame(t, addr, payload)

	require.Eventually(t, func() bool { return sink.len() == 1 }, 2*time.Second, 10*time.Millisecond)
	img, err := bmp.Decode(bytes.NewReader(sink.records[0].BMP))
	require.NoError(t, err)
	r, g, b, _ := img.At(0, 0).RGBA()
	assert.EqualValues(t, 0xf8, r>>8)
	assert.Zero(t, g)
	assert.Zero(t, b)
}

func TestReceiver_HeaderFraming(t *testing.T) {
	cfg := smallConfig(t)
	cfg.Framing = FramingHeader
	r, sink, addr := startReceiver(t, cfg)

	payload := gradient(16 * 8)
	hdr := protocol.NewFrameHeader(7, 16, 8, protocol.FormatGrayscale, payload)
	hb, err := hdr.MarshalBinary()
	require.NoError(t, err)
	sendFrame(t, addr, hb, payload)

	require.Eventually(t, func() bool { return sink.len() == 1 }, 2*time.Second, 10*time.Millisecond)
	rec := sink.records[0]
	assert.EqualValues(t, 7, rec.Seq)
	assert.Equal(t, 16, rec.Width)
	assert.Equal(t, 8, rec.Height)
	assert.False(t, rec.Truncated)
	assert.False(t, rec.Corrupt)

	// Header promises more than arrives.
	short := protocol.NewFrameHeader(8, 16, 8, protocol.FormatGrayscale, payload)
	hb, _ = short.MarshalBinary()
	sendFrame(t, addr, hb, payload[:50])

	require.Eventually(t, func() bool { return sink.len() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, sink.records[1].Truncated)

	// Right length, wrong bytes.
	bad := append([]byte(nil), payload...)
	bad[0] ^= 0xff
	hb, _ = hdr.MarshalBinary()
	sendFrame(t, addr, hb, bad)

	require.Eventually(t, func() bool { return sink.len() == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, sink.records[2].Corrupt)

	// Not a header at all.
	sendFrame(t, addr, gradient(64))
	require.Eventually(t, func() bool { return r.Stats().Rejected == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestReceiver_HeaderDimensionsMustFitPayload(t *testing.T) {
	cfg := smallConfig(t)
	cfg.Framing = FramingHeader
	r, sink, addr := startReceiver(t, cfg)

	tiny := gradient(4)
	for _, hdr := range []protocol.FrameHeader{
		protocol.NewFrameHeader(1, 20000, 20000, protocol.FormatRGB565, tiny),
		protocol.NewFrameHeader(2, 0, 8, protocol.FormatGrayscale, tiny),
		protocol.NewFrameHeader(3, 2, 2, 99, tiny),
	} {
		hb, err := hdr.MarshalBinary()
		require.NoError(t, err)
		sendFrame(t, addr, hb, tiny)
	}
	require.Eventually(t, func() bool { return r.Stats().Rejected == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, sink.len())

	payload := gradient(16 * 8)
	hb, err := protocol.NewFrameHeader(9, 16, 8, protocol.FormatGrayscale, payload).MarshalBinary()
	require.NoError(t, err)
	sendFrame(t, addr, hb, payload)
	require.Eventually(t, func() bool { return sink.len() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 9, sink.records[0].Seq)
}

func TestCheckDimensions(t *testing.T) {
	assert.NoError(t, checkDimensions(16, 8, "grayscale", 128))
	assert.NoError(t, checkDimensions(16, 8, "rgb565", 256))
	assert.Error(t, checkDimensions(16, 8, "rgb565", 255))
	assert.NoError(t, checkDimensions(1600, 1200, "jpeg", 4))
	assert.Error(t, checkDimensions(65535, 65535, "jpeg", 4))
	assert.Error(t, checkDimensions(16, 8, "format_7", 128))
}

func TestReceiver_JPEG(t *testing.T) {
	cfg := smallConfig(t)
	cfg.Format = "jpeg"
	_, sink, addr := startReceiver(t, cfg)

	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, 40, 30)), nil))
	sendFrame(t, addr, buf.Bytes())

	require.Eventually(t, func() bool { return sink.len() == 1 }, 2*time.Second, 10*time.Millisecond)
	rec := sink.records[0]
	assert.False(t, rec.Truncated)
	assert.Equal(t, buf.Bytes(), rec.Preview)
	assert.NotEmpty(t, rec.BMP)
}

func TestReceiver_ConnectionNumbersAreSequential(t *testing.T) {
	cfg := smallConfig(t)
	_, sink, addr := startReceiver(t, cfg)

	for i := 0; i < 3; i++ {
		sendFrame(t, addr, gradient(32*24))
		n := i + 1
		require.Eventually(t, func() bool { return sink.len() == n }, 2*time.Second, 10*time.Millisecond)
	}
	for i := 1; i <= 3; i++ {
		_, err := os.Stat(filepath.Join(cfg.OutDir, fmt.Sprintf("received_image_%d.bmp", i)))
		assert.NoError(t, err)
	}
}

func TestStore_Eviction(t *testing.T) {
	s := NewStore(2)
	s.Add(&Record{ID: "a"})
	s.Add(&Record{ID: "b"})
	s.Add(&Record{ID: "c"})

	_, ok := s.Get("a")
	assert.False(t, ok)
	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, "c", list[0].ID)
	latest, ok := s.Latest()
	assert.True(t, ok)
	assert.Equal(t, "c", latest.ID)

	assert.True(t, s.SetLabel("b", "101"))
	b, _ := s.Get("b")
	assert.Equal(t, "101", b.Label)
	assert.False(t, s.SetLabel("a", "101"))
}

func TestDecode_YUV422(t *testing.T) {
	// Y=128 U=V=128 is mid gray.
	data := bytes.Repeat([]byte{128}, 4*2*2)
	img, err := Decode(data, 4, 2, "yuv422")
	require.NoError(t, err)
	r, g, b, a := img.At(3, 1).RGBA()
	assert.EqualValues(t, 128, r>>8)
	assert.EqualValues(t, 128, g>>8)
	assert.EqualValues(t, 128, b>>8)
	assert.EqualValues(t, 0xff, a>>8)

	_, err = Decode(data, 4, 2, "bayer")
	assert.Error(t, err)
}

func TestDecode_OversizedJPEG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, 8, 8)), nil))
	data := buf.Bytes()

	// Rewrite the SOF0 dimensions to 65535x65535.
	sof := bytes.Index(data, []byte{0xff, 0xc0})
	require.Positive(t, sof)
	copy(data[sof+5:sof+9], []byte{0xff, 0xff, 0xff, 0xff})

	_, err := Decode(data, 0, 0, "jpeg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds")
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Equal(t, 640*480, DefaultConfig().ExpectedSize())

	for name, mutate := range map[string]func(*Config){
		"listen":  func(c *Config) { c.Listen = "42" },
		"width":   func(c *Config) { c.Width = 0 },
		"format":  func(c *Config) { c.Format = "bayer" },
		"framing": func(c *Config) { c.Framing = "length" },
		"keep":    func(c *Config) { c.Keep = 0 },
		"quality": func(c *Config) { c.PreviewQuality = 101 },
	} {
		c := DefaultConfig()
		mutate(&c)
		assert.Error(t, c.Validate(), name)
	}
}
