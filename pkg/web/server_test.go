package web

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-wificam/internal/log"
	"github.com/teslashibe/go-wificam/pkg/cloud"
	"github.com/teslashibe/go-wificam/pkg/protocol"
	"github.com/teslashibe/go-wificam/pkg/receiver"
)

type fixture struct {
	rx     *receiver.Receiver
	srv    *Server
	rxAddr string
	webURL string
}

// newFixture runs a receiver on loopback and a dashboard in front of it.
func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	rcfg := receiver.DefaultConfig()
	rcfg.Listen = "127.0.0.1:0"
	rcfg.Width, rcfg.Height = 16, 8
	rcfg.OutDir = t.TempDir()
	rx, err := receiver.New(rcfg, log.Discard())
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.StatusInterval = 0
	srv := NewServer(cfg, rx, log.Discard(), opts...)

	rxLn, err := net.Listen("tcp", rcfg.Listen)
	require.NoError(t, err)
	webLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go rx.Serve(ctx, rxLn)
	go srv.Serve(ctx, webLn)
	t.Cleanup(cancel)

	return &fixture{
		rx:     rx,
		srv:    srv,
		rxAddr: rxLn.Addr().String(),
		webURL: webLn.Addr().String(),
	}
}

func (f *fixture) sendFrame(t *testing.T, payload []byte) {
	t.Helper()
	conn, err := net.Dial("tcp", f.rxAddr)
	require.NoError(t, err)
	_, err = conn.Write(payload)
	require.NoError(t, err)
	require.NoError(t, conn.Close())
	n := f.rx.Stats().Frames + 1
	require.Eventually(t, func() bool { return f.rx.Stats().Frames == n }, 2*time.Second, 10*time.Millisecond)
}

func (f *fixture) get(t *testing.T, path string) (int, []byte, string) {
	t.Helper()
	resp, err := f.srv.App().Test(httptest.NewRequest("GET", path, nil))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, body, resp.Header.Get("Content-Type")
}

func TestAPI_Status(t *testing.T) {
	f := newFixture(t)
	f.sendFrame(t, make([]byte, 16*8))

	code, body, _ := f.get(t, "/api/status")
	require.Equal(t, 200, code)

	var resp struct {
		Status protocol.StatusData `json:"status"`
	}
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.EqualValues(t, 1, resp.Status.Frames)
	assert.EqualValues(t, 1, resp.Status.Connections)
	assert.Equal(t, f.rxAddr, resp.Status.Listen)
	assert.NotNil(t, resp.Status.Devices)
}

func TestAPI_Frames(t *testing.T) {
	f := newFixture(t)

	code, _, _ := f.get(t, "/api/frames/latest")
	assert.Equal(t, 404, code)

	f.sendFrame(t, make([]byte, 16*8))
	f.sendFrame(t, make([]byte, 40))

	code, body, _ := f.get(t, "/api/frames")
	require.Equal(t, 200, code)
	var list struct {
		Frames []struct {
			ID        string `json:"id"`
			Conn      int    `json:"conn"`
			Truncated bool   `json:"truncated"`
			BMPURL    string `json:"bmp_url"`
		} `json:"frames"`
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(body, &list))
	require.Equal(t, 2, list.Count)
	assert.Equal(t, 2, list.Frames[0].Conn)
	assert.True(t, list.Frames[0].Truncated)
	assert.False(t, list.Frames[1].Truncated)

	code, bmp, ctype := f.get(t, list.Frames[1].BMPURL)
	require.Equal(t, 200, code)
	assert.Equal(t, "image/bmp", ctype)
	assert.Equal(t, "BM", string(bmp[:2]))

	code, jpg, ctype := f.get(t, "/api/frames/"+list.Frames[1].ID+"/preview")
	require.Equal(t, 200, code)
	assert.Equal(t, "image/jpeg", ctype)
	assert.Equal(t, []byte{0xff, 0xd8}, jpg[:2])

	code, _, _ = f.get(t, "/api/frames/does-not-exist")
	assert.Equal(t, 404, code)
}

func TestAPI_Label(t *testing.T) {
	labels := receiver.NewLabels(filepath.Join(t.TempDir(), "labels.json"))
	f := newFixture(t, WithLabels(labels))
	f.sendFrame(t, make([]byte, 16*8))
	rec, ok := f.rx.Store().Latest()
	require.True(t, ok)

	post := func(body string) int {
		req := httptest.NewRequest("POST", "/api/frames/"+rec.ID+"/label", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := f.srv.App().Test(req)
		require.NoError(t, err)
		return resp.StatusCode
	}

	assert.Equal(t, 400, post(`{"label":"joker"}`))
	assert.Equal(t, 200, post(`{"label":"queen of spades"}`))
	assert.Equal(t, 409, post(`{"label":"hearts-ace"}`))

	stored, _ := f.rx.Store().Get(rec.ID)
	assert.Equal(t, "412", stored.Label)

	all, err := labels.All()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"received_image_1.bmp": "412"}, all)

	code, body, _ := f.get(t, "/api/labels")
	assert.Equal(t, 200, code)
	assert.Contains(t, string(body), "412")
}

func TestAPI_LabelNotConfigured(t *testing.T) {
	f := newFixture(t)
	f.sendFrame(t, make([]byte, 16*8))
	rec, _ := f.rx.Store().Latest()

	req := httptest.NewRequest("POST", "/api/frames/"+rec.ID+"/label", strings.NewReader(`{"label":"101"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.srv.App().Test(req)
	require.NoError(t, err)
	assert.Equal(t, 501, resp.StatusCode)
}

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	var ws *websocket.Conn
	require.Eventually(t, func() bool {
		var err error
		ws, _, err = websocket.DefaultDialer.Dial(url, nil)
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func TestWS_FramesStreamsPreviews(t *testing.T) {
	f := newFixture(t)
	ws := dialWS(t, "ws://"+f.webURL+"/ws/frames")
	require.Eventually(t, func() bool { return f.srv.framesHub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	f.sendFrame(t, make([]byte, 16*8))

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, kind)
	assert.Equal(t, []byte{0xff, 0xd8}, data[:2])
}

func TestWS_StatusSendsSnapshotThenUpdates(t *testing.T) {
	f := newFixture(t)
	ws := dialWS(t, "ws://"+f.webURL+"/ws/status")

	read := func() protocol.StatusData {
		ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := ws.ReadMessage()
		require.NoError(t, err)
		msg, err := protocol.ParseMessage(data)
		require.NoError(t, err)
		require.Equal(t, protocol.TypeStatus, msg.Type)
		var st protocol.StatusData
		require.NoError(t, msg.ParseData(&st))
		return st
	}

	assert.Zero(t, read().Frames)

	require.Eventually(t, func() bool { return f.srv.statusHub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	f.sendFrame(t, make([]byte, 16*8))
	assert.EqualValues(t, 1, read().Frames)
}

func TestDevicesAreListed(t *testing.T) {
	devices := cloud.NewHub(log.Discard())
	f := newFixture(t, WithDevices(devices))

	dev := dialWS(t, "ws://"+f.webURL+"/ws/device/cam-7")
	msg, _ := protocol.NewHelloMessage(protocol.HelloData{DeviceID: "cam-7", Board: "esp-eye"})
	data, _ := msg.Bytes()
	require.NoError(t, dev.WriteMessage(websocket.TextMessage, data))

	require.Eventually(t, func() bool { return devices.DeviceCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"cam-7"}, f.srv.Status().Devices)

	code, body, _ := f.get(t, "/api/devices/cam-7")
	assert.Equal(t, 200, code)
	assert.Contains(t, string(body), "cam-7")
}

func TestWS_UpgradeRequired(t *testing.T) {
	f := newFixture(t)
	code, _, _ := f.get(t, "/ws/frames")
	assert.Equal(t, 426, code)
}
