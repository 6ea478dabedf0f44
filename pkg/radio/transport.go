package radio

import (
	"github.com/towerlink-protocol/towerlink-go/pkg/wire"
)

// ReceiveFunc is invoked for every inbound frame. src is the sender's
// hardware address, payload the raw frame bytes, rssi a signal-strength
// estimate in dBm (negative; closer to zero is stronger).
type ReceiveFunc func(src wire.HWAddr, payload []byte, rssi int)

// Transport is the connectionless radio link the pairing engines send
// through. Both methods are fire-and-forget: a true return means the frame
// was handed to the radio, not that it was delivered.
type Transport interface {
	// SendUnicast sends a frame to a single peer.
	SendUnicast(to wire.HWAddr, payload []byte) bool

	// SendBroadcast sends a frame to every peer in range.
	SendBroadcast(payload []byte) bool
}

// Receiver is implemented by transports that deliver inbound frames.
type Receiver interface {
	// SetReceiveFunc registers the inbound frame callback. Passing nil
	// stops delivery.
	SetReceiveFunc(fn ReceiveFunc)
}
