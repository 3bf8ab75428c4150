package streamer

import (
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
	"github.com/teslashibe/go-wificam/pkg/camera"
	"github.com/teslashibe/go-wificam/pkg/nvs"
	"github.com/teslashibe/go-wificam/pkg/protocol"
	"github.com/teslashibe/go-wificam/pkg/transmit"
	"github.com/teslashibe/go-wificam/pkg/wifi"
)

type fakeStorage struct {
	initErr error
	erased  bool
	boots   uint64
	sets    map[string]string
	mu      sync.Mutex
}

func (s *fakeStorage) Init() (nvs.InitResult, error) {
	if s.initErr != nil {
		return nvs.InitResult{}, s.initErr
	}
	return nvs.InitResult{Erased: s.erased}, nil
}

func (s *fakeStorage) Incr(string) (uint64, error) {
	s.boots++
	return s.boots, nil
}

func (s *fakeStorage) Set(k, v string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sets == nil {
		s.sets = map[string]string{}
	}
	s.sets[k] = v
	return nil
}

type fakeNetwork struct {
	initErr   error
	waitErr   error
	waits     int
	closed    bool
	ch        chan wifi.Transition
	closeOnce sync.Once
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{ch: make(chan wifi.Transition, 16)}
}

func (n *fakeNetwork) Initialize(context.Context, wifi.Credentials) error { return n.initErr }

func (n *fakeNetwork) WaitConnected(ctx context.Context) error {
	n.waits++
	if n.waitErr != nil {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (n *fakeNetwork) Subscribe(int) (<-chan wifi.Transition, func()) {
	return n.ch, func() { n.closeOnce.Do(func() { close(n.ch) }) }
}

func (n *fakeNetwork) Stats() wifi.Stats { return wifi.Stats{State: wifi.StateConnected} }

func (n *fakeNetwork) Close() error {
	n.closed = true
	return nil
}

// fakeSender returns the scripted errors in order, then succeeds.
type fakeSender struct {
	errs  []error
	calls int
	sizes []int
}

func (s *fakeSender) SendFrame(_ context.Context, payload []byte, _ transmit.FrameInfo) (transmit.Result, error) {
	s.calls++
	s.sizes = append(s.sizes, len(payload))
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			var se *transmit.SendError
			if errors.As(err, &se) {
				return transmit.Result{Sent: se.Sent}, err
			}
			return transmit.Result{}, err
		}
	}
	return transmit.Result{Sent: len(payload)}, nil
}

type fakeReporter struct {
	mu    sync.Mutex
	links []protocol.LinkData
	stats []protocol.StatsData
}

func (r *fakeReporter) ReportLink(l protocol.LinkData) {
	r.mu.Lock()
	r.links = append(r.links, l)
	r.mu.Unlock()
}

func (r *fakeReporter) ReportStats(s protocol.StatsData) {
	r.mu.Lock()
	r.stats = append(r.stats, s)
	r.mu.Unlock()
}

type fixture struct {
	app      *App
	storage  *fakeStorage
	network  *fakeNetwork
	driver   *camera.MockDriver
	sender   *fakeSender
	reporter *fakeReporter
	sleeps   []time.Duration
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Camera.Backend = camera.BackendMock
	return cfg
}

func newFixture(t *testing.T, cfg Config, driverOpts ...camera.MockDriverOption) *fixture {
	t.Helper()
	f := &fixture{
		storage:  &fakeStorage{},
		network:  newFakeNetwork(),
		driver:   camera.NewMockDriver(log.Discard(), driverOpts...),
		sender:   &fakeSender{},
		reporter: &fakeReporter{},
	}
	app, err := New(cfg, Deps{
		Storage:  f.storage,
		Network:  f.network,
		Camera:   camera.NewAcquirer(log.Discard(), camera.WithDriver(f.driver)),
		Sender:   f.sender,
		Reporter: f.reporter,
	}, log.Discard())
	require.NoError(t, err)
	app.sleep = func(ctx context.Context, d time.Duration) error {
		f.sleeps = append(f.sleeps, d)
		return ctx.Err()
	}
	f.app = app
	t.Cleanup(app.Shutdown)
	return f
}

// runLoop runs the app until the loop finishes and it starts idling.
func runLoop(t *testing.T, app *App) {
	t.Helper()
	finished := make(chan struct{})
	app.loopDone = func() { close(finished) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("capture loop did not finish")
	}
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestApp_InitSequence(t *testing.T) {
	f := newFixture(t, testConfig())
	require.NoError(t, f.app.Init(context.Background()))

	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, f.sleeps)
	assert.EqualValues(t, 1, f.app.Stats().BootCount)
	assert.Zero(t, f.network.waits)
}

func TestApp_TenIterationsRunNineCycles(t *testing.T) {
	f := newFixture(t, testConfig())
	require.NoError(t, f.app.Init(context.Background()))
	runLoop(t, f.app)

	s := f.app.Stats()
	assert.EqualValues(t, 9, s.Cycles)
	assert.EqualValues(t, 9, s.FramesSent)
	assert.EqualValues(t, 9*640*480, s.BytesSent)
	assert.Equal(t, 9, f.sender.calls)

	gets, returns, _ := f.driver.Counts()
	assert.Equal(t, 9, gets)
	assert.Equal(t, 9, returns)

	// Two settles then one delay per cycle.
	require.Len(t, f.sleeps, 11)
	for _, d := range f.sleeps[2:] {
		assert.Equal(t, 2*time.Second, d)
	}
}

func TestApp_SlowCyclesAllComplete(t *testing.T) {
	f := newFixture(t, testConfig())
	require.NoError(t, f.app.Init(context.Background()))
	f.app.sleep = func(ctx context.Context, d time.Duration) error {
		return sleepCtx(ctx, 20*time.Millisecond)
	}
	runLoop(t, f.app)

	assert.EqualValues(t, 9, f.app.Stats().Cycles)
	assert.Equal(t, 9, f.sender.calls)
}

func TestApp_IterationBudgets(t *testing.T) {
	for _, tc := range []struct {
		n      int
		cycles uint64
	}{
		{0, 0}, {1, 0}, {2, 1}, {5, 4},
	} {
		cfg := testConfig()
		cfg.Loop.Iterations = tc.n
		f := newFixture(t, cfg)
		require.NoError(t, f.app.Init(context.Background()))
		runLoop(t, f.app)
		assert.Equal(t, tc.cycles, f.app.Stats().Cycles, "N=%d", tc.n)
	}
}

func TestApp_ReleaseOnEverySendOutcome(t *testing.T) {
	f := newFixture(t, testConfig())
	f.sender.errs = []error{
		nil,
		&transmit.ConnectError{Endpoint: "192.168.0.24:42", Err: errors.New("refused")},
		&transmit.SendError{Endpoint: "192.168.0.24:42", Sent: 1024, Total: 307200, Err: errors.New("reset")},
		errors.New("unexpected"),
	}
	require.NoError(t, f.app.Init(context.Background()))
	runLoop(t, f.app)

	s := f.app.Stats()
	assert.EqualValues(t, 9, s.Cycles)
	assert.EqualValues(t, 6, s.FramesSent)
	assert.EqualValues(t, 1, s.ConnectErrors)
	assert.EqualValues(t, 2, s.SendErrors)
	assert.EqualValues(t, 6*640*480+1024, s.BytesSent)
	assert.Zero(t, s.ReleaseErrors)

	gets, returns, _ := f.driver.Counts()
	assert.Equal(t, gets, returns)
	assert.Zero(t, f.driver.InUse())
}

func TestApp_CaptureFailureSkipsIteration(t *testing.T) {
	f := newFixture(t, testConfig(), camera.WithFailures(3))
	require.NoError(t, f.app.Init(context.Background()))
	runLoop(t, f.app)

	s := f.app.Stats()
	assert.EqualValues(t, 9, s.Cycles)
	assert.EqualValues(t, 3, s.CaptureErrors)
	assert.EqualValues(t, 6, s.FramesSent)
	assert.Equal(t, 6, f.sender.calls)

	// The delay still follows failed cycles.
	assert.Len(t, f.sleeps, 11)
}

func TestApp_FatalInit(t *testing.T) {
	t.Run("storage", func(t *testing.T) {
		f := newFixture(t, testConfig())
		f.storage.initErr = errors.New("disk gone")
		err := f.app.Init(context.Background())

		var fe *FatalInitError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, "storage", fe.Stage)
	})

	t.Run("network", func(t *testing.T) {
		f := newFixture(t, testConfig())
		f.network.initErr = &wifi.InitError{Stage: "start", Err: errors.New("no radio")}
		err := f.app.Init(context.Background())

		var fe *FatalInitError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, "network", fe.Stage)
		var ie *wifi.InitError
		assert.ErrorAs(t, err, &ie)
	})

	t.Run("camera", func(t *testing.T) {
		f := newFixture(t, testConfig(), camera.WithInitError(errors.New("sensor not found")))
		err := f.app.Init(context.Background())

		var fe *FatalInitError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, "camera", fe.Stage)
		var ce *camera.InitError
		assert.ErrorAs(t, err, &ce)
	})

	t.Run("run before init", func(t *testing.T) {
		f := newFixture(t, testConfig())
		assert.ErrorIs(t, f.app.Run(context.Background()), ErrNotInitialized)
	})
}

func TestApp_WaitForLink(t *testing.T) {
	cfg := testConfig()
	cfg.WaitForLink = true
	cfg.NetworkSettle = 20 * time.Millisecond
	f := newFixture(t, cfg)
	f.network.waitErr = errors.New("never connects")

	// A link that never comes up is logged, not fatal.
	require.NoError(t, f.app.Init(context.Background()))
	assert.Equal(t, 1, f.network.waits)
	assert.Equal(t, []time.Duration{5 * time.Second}, f.sleeps)
}

func TestApp_LinkTransitionsAreReported(t *testing.T) {
	f := newFixture(t, testConfig())
	require.NoError(t, f.app.Init(context.Background()))

	f.network.ch <- wifi.Transition{From: wifi.StateAssociating, To: wifi.StateConnected, IP: "192.168.0.50"}
	f.network.ch <- wifi.Transition{From: wifi.StateConnected, To: wifi.StateFailed, Err: wifi.ErrMaxRetries}
	f.app.Shutdown()

	require.Len(t, f.reporter.links, 2)
	assert.Equal(t, "connected", f.reporter.links[0].To)
	assert.True(t, f.reporter.links[1].GaveUp)
	assert.Equal(t, "192.168.0.50", f.storage.sets[nvs.KeyLastIP])
	assert.True(t, f.network.closed)
}

func TestApp_StatsAreReported(t *testing.T) {
	cfg := testConfig()
	cfg.Loop.Iterations = 3
	f := newFixture(t, cfg)
	require.NoError(t, f.app.Init(context.Background()))
	runLoop(t, f.app)

	f.reporter.mu.Lock()
	defer f.reporter.mu.Unlock()
	// One per cycle plus the final summary.
	require.Len(t, f.reporter.stats, 3)
	last := f.reporter.stats[len(f.reporter.stats)-1]
	assert.EqualValues(t, 2, last.Cycles)
	assert.Equal(t, "connected", last.LinkState)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(testConfig(), Deps{}, nil)
	assert.Error(t, err)

	cfg := testConfig()
	cfg.Loop.Delay = -time.Second
	_, err = New(cfg, Deps{}, nil)
	var ce *ConfigError
	assert.ErrorAs(t, err, &ce)
}

// TestApp_EndToEnd wires the real components: file storage, a simulated
// station, the mock camera and a TCP transmitter aimed at a local listener.
func TestApp_EndToEnd(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	var mu sync.Mutex
	var frames [][]byte
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			data, _ := io.ReadAll(c)
			c.Close()
			mu.Lock()
			frames = append(frames, data)
			mu.Unlock()
		}
	}()

	store := nvs.Open(t.TempDir(), log.Discard())
	station := wifi.NewSimStation("192.168.0.50")
	station.RejectAuth(1)
	rc := wifi.ReconnectConfig{RetryDelay: time.Millisecond, MaxRetryDelay: 10 * time.Millisecond}
	network := wifi.NewManager(station, rc, log.Discard())

	txCfg := transmit.DefaultConfig()
	txCfg.Endpoint = ln.Addr().String()
	tx, err := transmit.New(txCfg, log.Discard())
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Credentials.SSID = "lab"
	cfg.Credentials.Password = "secret"
	cfg.Camera.FrameSize = camera.FrameQQVGA
	cfg.Loop.Iterations = 4
	cfg.Loop.Delay = 0
	cfg.CameraSettle = 0
	cfg.NetworkSettle = 2 * time.Second
	cfg.WaitForLink = true

	app, err := New(cfg, Deps{
		Storage: store,
		Network: network,
		Camera:  camera.NewAcquirer(log.Discard(), camera.WithDriver(camera.NewMockDriver(log.Discard()))),
		Sender:  tx,
	}, log.Discard())
	require.NoError(t, err)
	defer app.Shutdown()

	require.NoError(t, app.Init(context.Background()))
	assert.Equal(t, wifi.StateConnected, network.State())
	runLoop(t, app)

	assert.EqualValues(t, 3, app.Stats().FramesSent)
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(frames) == 3
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	for _, fr := range frames {
		assert.Len(t, fr, 160*120)
	}
	mu.Unlock()

	boots, ok := store.Get(nvs.KeyBootCount)
	assert.True(t, ok)
	assert.Equal(t, "1", boots)
}
