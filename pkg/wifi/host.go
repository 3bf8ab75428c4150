package wifi

import (
	"context"
	"fmt"
	"net"
	"sync"
)

// HostStation rides on the host's existing network connection. Start reports
// the station as started and each Connect resolves the first non-loopback
// IPv4 address of Interface (or of any interface when empty).
type HostStation struct {
	Interface string

	mu     sync.Mutex
	sink   EventSink
	events chan Event
	done   chan struct{}
	wg     sync.WaitGroup

	// addrs is replaced in tests.
	addrs func(iface string) ([]net.Addr, error)
}

// NewHostStation returns a station bound to the named interface.
func NewHostStation(iface string) *HostStation {
	return &HostStation{
		Interface: iface,
		events:    make(chan Event, 16),
		done:      make(chan struct{}),
		addrs:     interfaceAddrs,
	}
}

func interfaceAddrs(iface string) ([]net.Addr, error) {
	if iface == "" {
		return net.InterfaceAddrs()
	}
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, err
	}
	return ifi.Addrs()
}

func (h *HostStation) Init(ctx context.Context) error {
	if h.Interface == "" {
		return ctx.Err()
	}
	if _, err := net.InterfaceByName(h.Interface); err != nil {
		return fmt.Errorf("wifi: interface %q: %w", h.Interface, err)
	}
	return ctx.Err()
}

func (h *HostStation) Configure(Credentials) error {
	// The host OS owns association; credentials are informational only.
	return nil
}

func (h *HostStation) Start(ctx context.Context, sink EventSink) error {
	h.mu.Lock()
	h.sink = sink
	h.mu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for {
			select {
			case <-h.done:
				return
			case ev := <-h.events:
				sink.HandleEvent(ev)
			}
		}
	}()
	return h.post(EventStationStarted{})
}

func (h *HostStation) Connect() error {
	ip, err := h.firstIPv4()
	if err != nil {
		return h.post(EventDisconnected{Reason: ReasonNoAPFound})
	}
	return h.post(EventAddressAssigned{IP: ip})
}

func (h *HostStation) Stop() error {
	select {
	case <-h.done:
	default:
		close(h.done)
	}
	h.wg.Wait()
	return nil
}

func (h *HostStation) post(ev Event) error {
	select {
	case h.events <- ev:
		return nil
	case <-h.done:
		return ErrClosed
	default:
		return fmt.Errorf("wifi: host event queue full")
	}
}

func (h *HostStation) firstIPv4() (string, error) {
	addrs, err := h.addrs(h.Interface)
	if err != nil {
		return "", err
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if v4 := ipnet.IP.To4(); v4 != nil {
			return v4.String(), nil
		}
	}
	return "", ErrNoAddress
}
