package radio

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/enbility/zeroconf/v3"

	"github.com/towerlink-protocol/towerlink-go/pkg/wire"
)

// mDNS service parameters for UDP transport peer discovery.
const (
	ServiceType = "_towerlink._udp"
	Domain      = "local."

	// txtKeyHWAddr is the TXT record key carrying a peer's hardware
	// address.
	txtKeyHWAddr = "hw"
)

// udpHeaderSize is the per-frame overhead: the sender's hardware address.
const udpHeaderSize = 6

// UDPConfig configures a UDPTransport.
type UDPConfig struct {
	// Addr is this endpoint's hardware address. Required.
	Addr wire.HWAddr

	// Port is the UDP listen port. Zero picks an ephemeral port.
	Port int

	// Instance overrides the mDNS instance name. Defaults to
	// "towerlink-<addr>".
	Instance string

	// Logger is the operational logger. Defaults to slog.Default().
	Logger *slog.Logger
}

// UDPTransport carries pairing frames over UDP, standing in for the real
// radio during development and integration testing. Peers find each other
// via mDNS: each transport registers a service instance whose TXT record
// carries its hardware address, and browses for everyone else's. Broadcast
// is emulated by unicasting to every known peer.
//
// Frames are prefixed with the sender's 6-byte hardware address, mirroring
// the source field the real radio delivers out of band.
type UDPTransport struct {
	hwaddr wire.HWAddr
	logger *slog.Logger

	conn   *net.UDPConn
	server *zeroconf.Server
	cancel context.CancelFunc

	mu     sync.Mutex
	peers  map[wire.HWAddr]*net.UDPAddr
	recv   ReceiveFunc
	closed bool
}

// NewUDPTransport binds a socket, registers the mDNS instance and starts
// browsing for peers. Close must be called to release them.
func NewUDPTransport(cfg UDPConfig) (*UDPTransport, error) {
	if cfg.Addr.IsZero() {
		return nil, fmt.Errorf("udp transport: hardware address required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: cfg.Port})
	if err != nil {
		return nil, fmt.Errorf("udp transport: listening: %w", err)
	}
	port := conn.LocalAddr().(*net.UDPAddr).Port

	instance := cfg.Instance
	if instance == "" {
		instance = "towerlink-" + strings.ReplaceAll(cfg.Addr.String(), ":", "")
	}
	txt := []string{txtKeyHWAddr + "=" + cfg.Addr.String()}

	server, err := zeroconf.Register(instance, ServiceType, Domain, port, txt, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("udp transport: registering mdns service: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &UDPTransport{
		hwaddr: cfg.Addr,
		logger: logger.With("component", "radio", "addr", cfg.Addr.String()),
		conn:   conn,
		server: server,
		cancel: cancel,
		peers:  make(map[wire.HWAddr]*net.UDPAddr),
	}

	go t.browse(ctx)
	go t.readLoop()

	t.logger.Info("udp transport up", "port", port, "instance", instance)
	return t, nil
}

// Addr returns the transport's hardware address.
func (t *UDPTransport) Addr() wire.HWAddr {
	return t.hwaddr
}

// Peers returns the hardware addresses of all currently known peers.
func (t *UDPTransport) Peers() []wire.HWAddr {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]wire.HWAddr, 0, len(t.peers))
	for addr := range t.peers {
		out = append(out, addr)
	}
	return out
}

// SendUnicast sends a frame to a single peer. Returns false if the peer is
// not (yet) known or the write fails.
func (t *UDPTransport) SendUnicast(to wire.HWAddr, payload []byte) bool {
	t.mu.Lock()
	dst := t.peers[to]
	closed := t.closed
	t.mu.Unlock()

	if closed || dst == nil {
		return false
	}
	return t.write(dst, payload)
}

// SendBroadcast sends a frame to every known peer.
func (t *UDPTransport) SendBroadcast(payload []byte) bool {
	t.mu.Lock()
	dsts := make([]*net.UDPAddr, 0, len(t.peers))
	for _, d := range t.peers {
		dsts = append(dsts, d)
	}
	closed := t.closed
	t.mu.Unlock()

	if closed {
		return false
	}
	for _, dst := range dsts {
		t.write(dst, payload)
	}
	return true
}

// SetReceiveFunc registers the inbound frame callback.
func (t *UDPTransport) SetReceiveFunc(fn ReceiveFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recv = fn
}

// Close shuts down mDNS and the socket. The transport is unusable
// afterwards.
func (t *UDPTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.cancel()
	t.server.Shutdown()
	return t.conn.Close()
}

func (t *UDPTransport) write(dst *net.UDPAddr, payload []byte) bool {
	frame := make([]byte, udpHeaderSize+len(payload))
	copy(frame, t.hwaddr[:])
	copy(frame[udpHeaderSize:], payload)

	if _, err := t.conn.WriteToUDP(frame, dst); err != nil {
		t.logger.Debug("udp write failed", "dst", dst.String(), "err", err)
		return false
	}
	return true
}

func (t *UDPTransport) readLoop() {
	buf := make([]byte, udpHeaderSize+wire.MaxFrameSize)
	for {
		n, _, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			t.mu.Lock()
			closed := t.closed
			t.mu.Unlock()
			if !closed {
				t.logger.Warn("udp read failed", "err", err)
			}
			return
		}
		if n < udpHeaderSize {
			continue
		}

		var src wire.HWAddr
		copy(src[:], buf[:udpHeaderSize])
		if src == t.hwaddr {
			continue // our own emulated broadcast echoed back
		}

		payload := make([]byte, n-udpHeaderSize)
		copy(payload, buf[udpHeaderSize:n])

		t.mu.Lock()
		fn := t.recv
		t.mu.Unlock()
		if fn != nil {
			// No real signal measurement on an IP network.
			fn(src, payload, -40)
		}
	}
}

// browse tracks peer arrivals and departures via mDNS.
func (t *UDPTransport) browse(ctx context.Context) {
	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	go func() {
		for {
			select {
			case entry, ok := <-entries:
				if !ok {
					return
				}
				t.addPeer(entry)
			case entry, ok := <-removed:
				if !ok {
					continue
				}
				t.removePeer(entry)
			case <-ctx.Done():
				return
			}
		}
	}()

	_ = zeroconf.Browse(ctx, ServiceType, Domain, entries, removed)
}

func (t *UDPTransport) addPeer(entry *zeroconf.ServiceEntry) {
	addr, ok := peerHWAddr(entry)
	if !ok || addr == t.hwaddr || len(entry.AddrIPv4) == 0 {
		return
	}

	dst := &net.UDPAddr{IP: entry.AddrIPv4[0], Port: entry.Port}
	t.mu.Lock()
	t.peers[addr] = dst
	t.mu.Unlock()
	t.logger.Debug("peer discovered", "peer", addr.String(), "endpoint", dst.String())
}

func (t *UDPTransport) removePeer(entry *zeroconf.ServiceEntry) {
	addr, ok := peerHWAddr(entry)
	if !ok {
		return
	}
	t.mu.Lock()
	delete(t.peers, addr)
	t.mu.Unlock()
	t.logger.Debug("peer gone", "peer", addr.String())
}

func peerHWAddr(entry *zeroconf.ServiceEntry) (wire.HWAddr, bool) {
	for _, kv := range entry.Text {
		if v, found := strings.CutPrefix(kv, txtKeyHWAddr+"="); found {
			addr, err := wire.ParseHWAddr(v)
			if err != nil {
				return wire.HWAddr{}, false
			}
			return addr, true
		}
	}
	return wire.HWAddr{}, false
}

var (
	_ Transport = (*UDPTransport)(nil)
	_ Receiver  = (*UDPTransport)(nil)
)
