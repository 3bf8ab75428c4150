package wifi

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// timer is the subset of *time.Timer the manager uses.
type timer interface {
	Stop() bool
}

// Manager drives a Station through the connection state machine.
//
// HandleEvent is the only writer of the state. It is safe to call from the
// station's dispatch goroutine while other goroutines read State, IP and Stats
// or consume transitions from Subscribe.
type Manager struct {
	station   Station
	reconnect ReconnectConfig
	logger    *slog.Logger

	state atomic.Int32
	ip    atomic.Pointer[string]

	connectAttempts atomic.Uint64
	connectFailures atomic.Uint64
	disconnects     atomic.Uint64
	dropped         atomic.Uint64

	// mu serializes event handling and retry timers.
	mu          sync.Mutex
	initialized bool
	closed      bool
	retries     int
	lastReason  string
	pending     timer

	subMu  sync.Mutex
	subs   map[int]chan Transition
	nextID int

	// after schedules delayed reconnects; replaced in tests.
	after func(d time.Duration, f func()) timer
}

// NewManager creates a manager for the given station. A nil logger uses
// slog.Default.
func NewManager(station Station, reconnect ReconnectConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		station:   station,
		reconnect: reconnect,
		logger:    logger.With("component", "wifi"),
		subs:      make(map[int]chan Transition),
		after: func(d time.Duration, f func()) timer {
			return time.AfterFunc(d, f)
		},
	}
	m.state.Store(int32(StateIdle))
	return m
}

// Initialize validates the credentials and brings the station up:
// Init, Configure, Start. Any failure is returned as *InitError.
// The first association attempt is issued when the station reports
// EventStationStarted.
func (m *Manager) Initialize(ctx context.Context, creds Credentials) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.initialized {
		m.mu.Unlock()
		return ErrAlreadyInitialized
	}
	m.initialized = true
	m.mu.Unlock()

	if err := creds.Validate(); err != nil {
		return &InitError{Stage: "validate", Err: err}
	}
	if err := m.reconnect.Validate(); err != nil {
		return &InitError{Stage: "validate", Err: err}
	}
	if err := m.station.Init(ctx); err != nil {
		return &InitError{Stage: "init", Err: err}
	}
	if err := m.station.Configure(creds); err != nil {
		return &InitError{Stage: "configure", Err: err}
	}
	if err := m.station.Start(ctx, m); err != nil {
		return &InitError{Stage: "start", Err: err}
	}

	m.logger.Info("station started", "ssid", creds.SSID, "scan", creds.ScanMethod,
		"min_rssi", creds.MinRSSI, "min_auth", creds.MinAuthMode)
	return nil
}

// HandleEvent applies one link event. It implements EventSink.
func (m *Manager) HandleEvent(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	switch e := ev.(type) {
	case EventStationStarted:
		m.setState(StateAssociating, "station started", "", nil)
		m.attempt()

	case EventDisconnected:
		m.disconnects.Add(1)
		reason := e.Reason.String()
		m.lastReason = reason
		m.logger.Warn("link lost", "reason", reason, "retries", m.retries)
		m.setState(StateDisconnected, reason, "", nil)
		m.scheduleRetry(false)

	case EventAddressAssigned:
		ip := e.IP
		m.ip.Store(&ip)
		m.retries = 0
		m.stopPending()
		m.setState(StateConnected, "address assigned", ip, nil)
		m.logger.Info("connected", "ip", ip)
	}
}

// attempt issues one Connect. Caller holds mu.
func (m *Manager) attempt() {
	m.connectAttempts.Add(1)
	if err := m.station.Connect(); err != nil {
		m.connectFailures.Add(1)
		m.lastReason = err.Error()
		m.logger.Warn("connect failed", "error", err, "retries", m.retries)
		m.setState(StateDisconnected, "connect failed", "", nil)
		// Never retry inline here: a driver that fails synchronously with a
		// zero delay would recurse.
		m.scheduleRetry(true)
	}
}

// scheduleRetry counts one failed attempt and issues the next one per the
// reconnect policy. Caller holds mu.
func (m *Manager) scheduleRetry(async bool) {
	m.stopPending()
	m.retries++

	if m.reconnect.MaxRetries > 0 && m.retries > m.reconnect.MaxRetries {
		m.logger.Error("giving up on reconnect", "retries", m.retries-1, "max_retries", m.reconnect.MaxRetries)
		m.setState(StateFailed, m.lastReason, "", ErrMaxRetries)
		return
	}

	delay := m.reconnect.Backoff(m.retries)
	if delay == 0 && !async {
		m.setState(StateAssociating, "reconnect", "", nil)
		m.attempt()
		return
	}

	m.logger.Debug("reconnect scheduled", "delay", delay, "attempt", m.retries)
	var t timer
	t = m.after(delay, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.closed || m.pending != t || State(m.state.Load()) != StateDisconnected {
			return
		}
		m.pending = nil
		m.setState(StateAssociating, "reconnect", "", nil)
		m.attempt()
	})
	m.pending = t
}

func (m *Manager) stopPending() {
	if m.pending != nil {
		m.pending.Stop()
		m.pending = nil
	}
}

// setState stores the new state and publishes the transition. Caller holds mu.
func (m *Manager) setState(to State, reason, ip string, err error) {
	from := State(m.state.Swap(int32(to)))
	m.publish(Transition{
		From:   from,
		To:     to,
		At:     time.Now(),
		Reason: reason,
		IP:     ip,
		Err:    err,
	})
}

func (m *Manager) publish(t Transition) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- t:
		default:
			m.dropped.Add(1)
		}
	}
}

// Subscribe returns a channel receiving every subsequent transition and a
// cancel function. Transitions are dropped for a subscriber whose buffer is
// full.
func (m *Manager) Subscribe(buffer int) (<-chan Transition, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Transition, buffer)

	m.subMu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = ch
	m.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.subMu.Lock()
			if _, ok := m.subs[id]; ok {
				delete(m.subs, id)
				close(ch)
			}
			m.subMu.Unlock()
		})
	}
	return ch, cancel
}

// State returns the current connection state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// IP returns the last assigned address, or "" if none was assigned yet.
func (m *Manager) IP() string {
	if p := m.ip.Load(); p != nil {
		return *p
	}
	return ""
}

// Stats returns a snapshot of the manager counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	retries := m.retries
	reason := m.lastReason
	m.mu.Unlock()

	return Stats{
		State:              m.State(),
		IP:                 m.IP(),
		ConnectAttempts:    m.connectAttempts.Load(),
		ConnectFailures:    m.connectFailures.Load(),
		Disconnects:        m.disconnects.Load(),
		ConsecutiveRetries: retries,
		LastReason:         reason,
		DroppedTransitions: m.dropped.Load(),
	}
}

// WaitConnected blocks until the state is Connected, the manager gives up,
// or ctx is done.
func (m *Manager) WaitConnected(ctx context.Context) error {
	ch, cancel := m.Subscribe(16)
	defer cancel()

	switch m.State() {
	case StateConnected:
		return nil
	case StateFailed:
		return ErrMaxRetries
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t, ok := <-ch:
			if !ok {
				return ErrClosed
			}
			switch t.To {
			case StateConnected:
				return nil
			case StateFailed:
				return ErrMaxRetries
			}
		}
	}
}

// Close stops pending reconnects, stops the station and closes all
// subscription channels.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.stopPending()
	started := m.initialized
	m.mu.Unlock()

	m.subMu.Lock()
	for id, ch := range m.subs {
		delete(m.subs, id)
		close(ch)
	}
	m.subMu.Unlock()

	if started {
		return m.station.Stop()
	}
	return nil
}
