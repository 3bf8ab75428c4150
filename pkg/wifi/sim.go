package wifi

import (
	"context"
	"errors"
	"sync"
	"time"
)

// SimStation is an in-process radio. It associates after AssociateDelay and
// hands out IP, and it can be scripted to fail or drop the link. Events are
// delivered in order on a single dispatch goroutine.
type SimStation struct {
	// IP is the address assigned on association.
	IP string

	// AssociateDelay is the time between Connect and the resulting event.
	AssociateDelay time.Duration

	mu           sync.Mutex
	sink         EventSink
	queue        []Event
	wake         chan struct{}
	done         chan struct{}
	wg           sync.WaitGroup
	creds        Credentials
	connectCalls int
	failConnects int
	rejectAuth   int
	started      bool
	stopped      bool
}

var errSimConnect = errors.New("wifi: simulated connect failure")

// NewSimStation returns a station that assigns ip on every association.
func NewSimStation(ip string) *SimStation {
	return &SimStation{
		IP:   ip,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// FailConnects makes the next n Connect calls fail synchronously.
func (s *SimStation) FailConnects(n int) {
	s.mu.Lock()
	s.failConnects = n
	s.mu.Unlock()
}

// RejectAuth makes the next n association attempts end in
// EventDisconnected{ReasonAuthFail}.
func (s *SimStation) RejectAuth(n int) {
	s.mu.Lock()
	s.rejectAuth = n
	s.mu.Unlock()
}

// Drop simulates link loss.
func (s *SimStation) Drop(reason DisconnectReason) {
	s.enqueue(EventDisconnected{Reason: reason})
}

// ConnectCalls returns how many times Connect was called.
func (s *SimStation) ConnectCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectCalls
}

// Credentials returns the last configured credentials.
func (s *SimStation) Credentials() Credentials {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds
}

func (s *SimStation) Init(ctx context.Context) error {
	return ctx.Err()
}

func (s *SimStation) Configure(creds Credentials) error {
	s.mu.Lock()
	s.creds = creds
	s.mu.Unlock()
	return nil
}

func (s *SimStation) Start(ctx context.Context, sink EventSink) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("wifi: station already started")
	}
	s.started = true
	s.sink = sink
	s.mu.Unlock()

	s.wg.Add(1)
	go s.dispatch()
	s.enqueue(EventStationStarted{})
	return nil
}

func (s *SimStation) Connect() error {
	s.mu.Lock()
	s.connectCalls++
	if s.failConnects > 0 {
		s.failConnects--
		s.mu.Unlock()
		return errSimConnect
	}
	var ev Event = EventAddressAssigned{IP: s.IP}
	if s.rejectAuth > 0 {
		s.rejectAuth--
		ev = EventDisconnected{Reason: ReasonAuthFail}
	}
	delay := s.AssociateDelay
	s.mu.Unlock()

	if delay <= 0 {
		s.enqueue(ev)
		return nil
	}
	time.AfterFunc(delay, func() { s.enqueue(ev) })
	return nil
}

func (s *SimStation) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	close(s.done)
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}

func (s *SimStation) enqueue(ev Event) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *SimStation) dispatch() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			s.mu.Lock()
			if len(s.queue) == 0 || s.stopped {
				s.mu.Unlock()
				break
			}
			ev := s.queue[0]
			s.queue = s.queue[1:]
			sink := s.sink
			s.mu.Unlock()

			sink.HandleEvent(ev)
		}
	}
}
