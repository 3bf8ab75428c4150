package transmit

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-wificam/internal/log"
	"github.com/teslashibe/go-wificam/pkg/protocol"
)

// fakeConn records write request sizes and can fail the nth write.
type fakeConn struct {
	mu       sync.Mutex
	requests []int
	written  bytes.Buffer
	failAt   int // 1-based write index to fail, 0 never
	short    int // when >0, accept at most this many bytes per write
	closes   int
}

func (c *fakeConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, len(p))
	if c.failAt > 0 && len(c.requests) == c.failAt {
		return 0, errors.New("connection reset by peer")
	}
	n := len(p)
	if c.short > 0 && n > c.short {
		n = c.short
	}
	c.written.Write(p[:n])
	return n, nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

func (c *fakeConn) Read([]byte) (int, error)         { return 0, io.EOF }
func (c *fakeConn) LocalAddr() net.Addr              { return &net.TCPAddr{} }
func (c *fakeConn) RemoteAddr() net.Addr             { return &net.TCPAddr{} }
func (c *fakeConn) SetDeadline(time.Time) error      { return nil }
func (c *fakeConn) SetReadDeadline(time.Time) error  { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

type fakeDialer struct {
	conn  *fakeConn
	err   error
	dials int
	addr  string
}

func (d *fakeDialer) DialContext(_ context.Context, _, address string) (net.Conn, error) {
	d.dials++
	d.addr = address
	if d.err != nil {
		return nil, d.err
	}
	return d.conn, nil
}

func newTestTransmitter(t *testing.T, cfg Config, d Dialer) *Transmitter {
	t.Helper()
	tx, err := New(cfg, log.Discard(), WithDialer(d))
	require.NoError(t, err)
	return tx
}

func TestSend_ChunkSizesAreClamped(t *testing.T) {
	conn := &fakeConn{}
	d := &fakeDialer{conn: conn}
	tx := newTestTransmitter(t, DefaultConfig(), d)

	payload := bytes.Repeat([]byte{7}, 2500)
	res, err := tx.Send(context.Background(), payload)
	require.NoError(t, err)

	assert.Equal(t, []int{1024, 1024, 452}, conn.requests)
	assert.Equal(t, 2500, res.Sent)
	assert.Equal(t, 3, res.Chunks)
	assert.NotEmpty(t, res.SessionID)
	assert.Equal(t, payload, conn.written.Bytes())
	assert.Equal(t, 1, conn.closes)
	assert.Equal(t, DefaultEndpoint, d.addr)
}

func TestSend_ChunkProperty(t *testing.T) {
	for _, tc := range []struct{ length, chunk int }{
		{0, 1024}, {1, 1024}, {1024, 1024}, {1025, 1024}, {307200, 1024},
		{307200, 1000}, {99, 7}, {4096, 4096},
	} {
		conn := &fakeConn{}
		cfg := DefaultConfig()
		cfg.ChunkSize = tc.chunk
		tx := newTestTransmitter(t, cfg, &fakeDialer{conn: conn})

		_, err := tx.Send(context.Background(), make([]byte, tc.length))
		require.NoError(t, err)

		var want []int
		for i := 0; i < tc.length/tc.chunk; i++ {
			want = append(want, tc.chunk)
		}
		if rem := tc.length % tc.chunk; rem != 0 {
			want = append(want, rem)
		}
		assert.Equal(t, want, conn.requests, "L=%d C=%d", tc.length, tc.chunk)
		assert.Equal(t, 1, conn.closes)
	}
}

func TestSend_ShortWritesAdvanceAndReclamp(t *testing.T) {
	conn := &fakeConn{short: 600}
	tx := newTestTransmitter(t, DefaultConfig(), &fakeDialer{conn: conn})

	res, err := tx.Send(context.Background(), make([]byte, 2500))
	require.NoError(t, err)

	// 2500 -> 1024(600) -> 1024(600) -> 1024(600) -> 700(600) -> 100
	assert.Equal(t, []int{1024, 1024, 1024, 700, 100}, conn.requests)
	assert.Equal(t, 2500, res.Sent)
}

func TestSend_ConnectFailure(t *testing.T) {
	refused := errors.New("connection refused")
	d := &fakeDialer{err: refused}
	tx := newTestTransmitter(t, DefaultConfig(), d)

	res, err := tx.Send(context.Background(), make([]byte, 2500))

	var ce *ConnectError
	require.ErrorAs(t, err, &ce)
	assert.ErrorIs(t, err, refused)
	assert.Equal(t, 0, res.Sent)
	assert.Equal(t, 0, res.Chunks)
	assert.Equal(t, 1, d.dials)
	assert.EqualValues(t, 1, tx.Stats().ConnectErrors)
}

func TestSend_MidStreamFailure(t *testing.T) {
	conn := &fakeConn{failAt: 2}
	d := &fakeDialer{conn: conn}
	tx := newTestTransmitter(t, DefaultConfig(), d)

	res, err := tx.Send(context.Background(), make([]byte, 2500))

	var se *SendError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 1024, se.Sent)
	assert.Equal(t, 2500, se.Total)
	assert.Equal(t, 1024, res.Sent)
	// The remaining 1476 bytes are never requested and nothing is retried.
	assert.Equal(t, []int{1024, 1024}, conn.requests)
	assert.Equal(t, 1, conn.closes)
	assert.Equal(t, 1, d.dials)

	stats := tx.Stats()
	assert.EqualValues(t, 1, stats.SendErrors)
	assert.EqualValues(t, 1024, stats.BytesSent)
}

func TestSend_HeaderFraming(t *testing.T) {
	conn := &fakeConn{}
	cfg := DefaultConfig()
	cfg.Framing = FramingHeader
	tx := newTestTransmitter(t, cfg, &fakeDialer{conn: conn})

	payload := bytes.Repeat([]byte{1, 2, 3}, 100)
	res, err := tx.SendFrame(context.Background(), payload, FrameInfo{Seq: 4, Width: 20, Height: 15, Format: "grayscale"})
	require.NoError(t, err)
	assert.Equal(t, protocol.HeaderSize, res.HeaderBytes)
	assert.Equal(t, []int{protocol.HeaderSize, 300}, conn.requests)

	hdr, err := protocol.ReadFrameHeader(&conn.written)
	require.NoError(t, err)
	assert.EqualValues(t, 4, hdr.Seq)
	assert.EqualValues(t, 20, hdr.Width)
	assert.Equal(t, protocol.FormatGrayscale, hdr.Format)
	assert.NoError(t, hdr.Verify(conn.written.Bytes()))
}

func TestSend_HeaderRejectsBadFrameInfo(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Framing = FramingHeader

	for name, info := range map[string]FrameInfo{
		"unknown format": {Seq: 1, Width: 20, Height: 15, Format: "bayer"},
		"wide":           {Seq: 2, Width: 70000, Height: 1, Format: "grayscale"},
		"no height":      {Seq: 3, Width: 20, Format: "grayscale"},
	} {
		conn := &fakeConn{}
		d := &fakeDialer{conn: conn}
		tx := newTestTransmitter(t, cfg, d)

		res, err := tx.SendFrame(context.Background(), make([]byte, 300), info)

		var se *SendError
		require.ErrorAs(t, err, &se, name)
		assert.Equal(t, 0, se.Sent, name)
		assert.Equal(t, 300, se.Total, name)
		assert.Equal(t, 0, res.Sent, name)
		assert.Zero(t, d.dials, name)
		assert.Empty(t, conn.requests, name)
		assert.EqualValues(t, 1, tx.Stats().SendErrors, name)
	}
}

func TestSend_RealListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan []byte, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		data, _ := io.ReadAll(c)
		received <- data
	}()

	cfg := DefaultConfig()
	cfg.Endpoint = ln.Addr().String()
	cfg.ConnectTimeout = time.Second
	cfg.WriteTimeout = time.Second
	tx, err := New(cfg, log.Discard())
	require.NoError(t, err)

	payload := make([]byte, 640*480)
	for i := range payload {
		payload[i] = byte(i)
	}
	res, err := tx.Send(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, 300, res.Chunks)

	select {
	case got := <-received:
		assert.Equal(t, payload, got)
	case <-time.After(5 * time.Second):
		t.Fatal("receiver never saw EOF")
	}
}

func TestSend_RealConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	cfg := DefaultConfig()
	cfg.Endpoint = addr
	tx, err := New(cfg, log.Discard())
	require.NoError(t, err)

	_, err = tx.Send(context.Background(), []byte("hello"))
	var ce *ConnectError
	assert.ErrorAs(t, err, &ce)
}

func TestConfig_Validate(t *testing.T) {
	ok := DefaultConfig()
	assert.NoError(t, ok.Validate())

	for name, mutate := range map[string]func(*Config){
		"hostname":   func(c *Config) { c.Endpoint = "receiver.local:42" },
		"ipv6":       func(c *Config) { c.Endpoint = "[::1]:42" },
		"no port":    func(c *Config) { c.Endpoint = "192.168.0.24" },
		"bad port":   func(c *Config) { c.Endpoint = "192.168.0.24:70000" },
		"zero chunk": func(c *Config) { c.ChunkSize = 0 },
		"framing":    func(c *Config) { c.Framing = "length-prefix" },
		"timeout":    func(c *Config) { c.WriteTimeout = -time.Second },
	} {
		c := DefaultConfig()
		mutate(&c)
		assert.Error(t, c.Validate(), name)
	}

	_, err := New(Config{}, nil)
	assert.Error(t, err)
}
