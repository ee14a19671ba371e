package engine

import "fmt"

// Event is a node or network lifecycle event code.
type Event int

const (
	EventNodeUp      Event = 200
	EventNodeOnline  Event = 201
	EventNodeOffline Event = 202
	EventNodeDown    Event = 203

	EventNetworkNotFound     Event = 210
	EventNetworkReqConfig    Event = 212
	EventNetworkOK           Event = 213
	EventNetworkAccessDenied Event = 214
	EventNetworkReadyIP4     Event = 215
	EventNetworkReadyIP6     Event = 216
	EventNetworkReadyIP4IP6  Event = 217
	EventNetworkDown         Event = 218

	EventPeerDirect Event = 240

	EventAddrAddedIP4   Event = 260
	EventAddrRemovedIP4 Event = 261
	EventAddrAddedIP6   Event = 262
	EventAddrRemovedIP6 Event = 263
)

var eventNames = map[Event]string{
	EventNodeUp:              "NODE_UP",
	EventNodeOnline:          "NODE_ONLINE",
	EventNodeOffline:         "NODE_OFFLINE",
	EventNodeDown:            "NODE_DOWN",
	EventNetworkNotFound:     "NETWORK_NOT_FOUND",
	EventNetworkReqConfig:    "NETWORK_REQ_CONFIG",
	EventNetworkOK:           "NETWORK_OK",
	EventNetworkAccessDenied: "NETWORK_ACCESS_DENIED",
	EventNetworkReadyIP4:     "NETWORK_READY_IP4",
	EventNetworkReadyIP6:     "NETWORK_READY_IP6",
	EventNetworkReadyIP4IP6:  "NETWORK_READY_IP4_IP6",
	EventNetworkDown:         "NETWORK_DOWN",
	EventPeerDirect:          "PEER_DIRECT",
	EventAddrAddedIP4:        "ADDR_ADDED_IP4",
	EventAddrRemovedIP4:      "ADDR_REMOVED_IP4",
	EventAddrAddedIP6:        "ADDR_ADDED_IP6",
	EventAddrRemovedIP6:      "ADDR_REMOVED_IP6",
}

func (e Event) String() string {
	if s, ok := eventNames[e]; ok {
		return s
	}
	return fmt.Sprintf("EVENT(%d)", int(e))
}

// IsNetworkEvent reports whether the event concerns a single network.
func (e Event) IsNetworkEvent() bool {
	return (e >= EventNetworkNotFound && e <= EventNetworkDown) ||
		(e >= EventAddrAddedIP4 && e <= EventAddrRemovedIP6)
}

// EventMessage is delivered to an EventHandler. NetworkID is set for
// network and address events, PeerID for peer events.
type EventMessage struct {
	Code      Event
	NodeID    uint64
	NetworkID uint64
	PeerID    uint64
	Addr      string
}

// EventHandler receives engine events.
type EventHandler func(EventMessage)
