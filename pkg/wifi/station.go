package wifi

import (
	"context"
	"fmt"
)

// Station is the radio driver contract.
//
// Init brings up the network stack, Configure applies credentials, and Start
// puts the radio in station mode and begins delivering events to sink on the
// driver's own goroutine. Connect issues one association attempt; its outcome
// arrives later as EventAddressAssigned or EventDisconnected. A synchronous
// error from Connect means the attempt was never issued.
type Station interface {
	Init(ctx context.Context) error
	Configure(creds Credentials) error
	Start(ctx context.Context, sink EventSink) error
	Connect() error
	Stop() error
}

// NewStation returns a station backend by name: "sim" or "host".
func NewStation(backend, iface, simIP string) (Station, error) {
	switch backend {
	case "sim", "":
		return NewSimStation(simIP), nil
	case "host":
		return NewHostStation(iface), nil
	default:
		return nil, fmt.Errorf("wifi: unknown station backend %q", backend)
	}
}
