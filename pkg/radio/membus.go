package radio

import (
	"sync"

	"github.com/towerlink-protocol/towerlink-go/pkg/wire"
)

// BroadcastAddr is the destination address a FilterFunc sees for broadcast
// frames.
var BroadcastAddr = wire.HWAddr{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// FilterFunc decides whether a frame travelling from one port to another is
// delivered. Returning false drops the frame. Used to simulate loss.
type FilterFunc func(from, to wire.HWAddr, payload []byte) bool

// MemBus is an in-process radio medium connecting any number of MemPorts.
// Frames are delivered synchronously on the sender's goroutine, which keeps
// tests deterministic. A FilterFunc can drop selected frames to simulate an
// unreliable channel.
type MemBus struct {
	mu     sync.Mutex
	ports  map[wire.HWAddr]*MemPort
	filter FilterFunc
	rssi   int
}

// NewMemBus creates an empty bus. The default signal-strength estimate
// reported to receivers is -40 dBm.
func NewMemBus() *MemBus {
	return &MemBus{
		ports: make(map[wire.HWAddr]*MemPort),
		rssi:  -40,
	}
}

// SetFilter installs a frame filter. Passing nil removes it.
func (b *MemBus) SetFilter(fn FilterFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.filter = fn
}

// SetRSSI sets the signal-strength estimate reported for delivered frames.
func (b *MemBus) SetRSSI(rssi int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rssi = rssi
}

// Attach joins a new port with the given hardware address to the bus.
// Attaching the same address twice replaces the earlier port.
func (b *MemBus) Attach(addr wire.HWAddr) *MemPort {
	b.mu.Lock()
	defer b.mu.Unlock()

	p := &MemPort{bus: b, addr: addr}
	b.ports[addr] = p
	return p
}

// Detach removes a port from the bus.
func (b *MemBus) Detach(addr wire.HWAddr) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.ports, addr)
}

// deliver routes one frame. Receive callbacks run outside the bus lock so a
// receiver may send a reply from within its callback.
func (b *MemBus) deliver(from, to wire.HWAddr, payload []byte) bool {
	b.mu.Lock()
	filter := b.filter
	rssi := b.rssi

	var targets []*MemPort
	if to == BroadcastAddr {
		for addr, p := range b.ports {
			if addr != from {
				targets = append(targets, p)
			}
		}
	} else if p, ok := b.ports[to]; ok {
		targets = append(targets, p)
	}
	b.mu.Unlock()

	if len(targets) == 0 {
		// Unicast to an unknown peer fails; broadcast into silence is fine.
		return to == BroadcastAddr
	}

	for _, p := range targets {
		if filter != nil && !filter(from, to, payload) {
			continue
		}
		p.receive(from, payload, rssi)
	}
	return true
}

// MemPort is one attachment point on a MemBus.
type MemPort struct {
	bus  *MemBus
	addr wire.HWAddr

	mu   sync.Mutex
	recv ReceiveFunc
}

// Addr returns the port's hardware address.
func (p *MemPort) Addr() wire.HWAddr {
	return p.addr
}

// SendUnicast sends a frame to a single peer on the bus.
func (p *MemPort) SendUnicast(to wire.HWAddr, payload []byte) bool {
	return p.bus.deliver(p.addr, to, payload)
}

// SendBroadcast sends a frame to every other port on the bus.
func (p *MemPort) SendBroadcast(payload []byte) bool {
	return p.bus.deliver(p.addr, BroadcastAddr, payload)
}

// SetReceiveFunc registers the inbound frame callback.
func (p *MemPort) SetReceiveFunc(fn ReceiveFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recv = fn
}

func (p *MemPort) receive(from wire.HWAddr, payload []byte, rssi int) {
	p.mu.Lock()
	fn := p.recv
	p.mu.Unlock()

	if fn != nil {
		// Hand the receiver its own copy; senders may reuse buffers.
		buf := make([]byte, len(payload))
		copy(buf, payload)
		fn(from, buf, rssi)
	}
}

// Compile-time interface satisfaction checks.
var (
	_ Transport = (*MemPort)(nil)
	_ Receiver  = (*MemPort)(nil)
)
