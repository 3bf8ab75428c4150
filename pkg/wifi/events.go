package wifi

import "fmt"

// Event is a link event pushed by a Station.
type Event interface {
	isEvent()
}

// EventStationStarted is emitted once the radio is up in station mode.
type EventStationStarted struct{}

// EventDisconnected is emitted whenever the link is lost or an association
// attempt fails, for any reason.
type EventDisconnected struct {
	Reason DisconnectReason
}

// EventAddressAssigned is emitted when DHCP hands the station an address.
type EventAddressAssigned struct {
	IP string
}

func (EventStationStarted) isEvent()  {}
func (EventDisconnected) isEvent()    {}
func (EventAddressAssigned) isEvent() {}

// EventSink receives link events. Station drivers call HandleEvent from their
// dispatch goroutine, never from inside Connect.
type EventSink interface {
	HandleEvent(Event)
}

// DisconnectReason mirrors the 802.11 reason codes reported by the radio.
type DisconnectReason uint8

const (
	ReasonUnspecified      DisconnectReason = 1
	ReasonAuthExpire       DisconnectReason = 2
	ReasonAuthLeave        DisconnectReason = 3
	ReasonAssocExpire      DisconnectReason = 4
	ReasonAssocLeave       DisconnectReason = 8
	ReasonHandshakeTimeout DisconnectReason = 15
	ReasonBeaconTimeout    DisconnectReason = 200
	ReasonNoAPFound        DisconnectReason = 201
	ReasonAuthFail         DisconnectReason = 202
	ReasonAssocFail        DisconnectReason = 203
	ReasonConnectionFail   DisconnectReason = 205
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonUnspecified:
		return "unspecified"
	case ReasonAuthExpire:
		return "auth_expire"
	case ReasonAuthLeave:
		return "auth_leave"
	case ReasonAssocExpire:
		return "assoc_expire"
	case ReasonAssocLeave:
		return "assoc_leave"
	case ReasonHandshakeTimeout:
		return "4way_handshake_timeout"
	case ReasonBeaconTimeout:
		return "beacon_timeout"
	case ReasonNoAPFound:
		return "no_ap_found"
	case ReasonAuthFail:
		return "auth_fail"
	case ReasonAssocFail:
		return "assoc_fail"
	case ReasonConnectionFail:
		return "connection_fail"
	default:
		return fmt.Sprintf("reason_%d", uint8(r))
	}
}
