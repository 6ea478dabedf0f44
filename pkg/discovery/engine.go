package discovery

import (
	crand "crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/towerlink-protocol/towerlink-go/pkg/log"
	"github.com/towerlink-protocol/towerlink-go/pkg/radio"
	"github.com/towerlink-protocol/towerlink-go/pkg/wire"
)

// Engine errors.
var (
	ErrNoEntry      = errors.New("no such discovery entry")
	ErrBadState     = errors.New("entry state does not allow this operation")
	ErrNoTransport  = errors.New("no transport configured")
	ErrSendFailed   = errors.New("sending pairing frame failed")
	ErrWindowClosed = errors.New("permit-join window is closed")
)

// Config carries the coordinator engine's injected capabilities and
// timing overrides. Zero-valued durations fall back to the wire package
// defaults.
type Config struct {
	// Transport sends pairing frames. Required for offers and confirms.
	Transport radio.Transport

	// Registry persists completed bindings and allocates binding
	// identifiers. Required.
	Registry Registry

	// Keys derives per-link keys. Nil means confirms carry no key.
	Keys KeyDeriver

	// Events receives engine notifications. Optional.
	Events EventFunc

	// Logger is the operational logger. Defaults to slog.Default().
	Logger *slog.Logger

	// ProtocolLog captures the machine-readable event trace. Optional.
	ProtocolLog log.Logger

	// Timing overrides, for tests.
	DiscoveryTTL   time.Duration
	BindingTimeout time.Duration
	MaxWindow      time.Duration

	// TableCapacity overrides the discovery table bound.
	TableCapacity int

	// Rand overrides the entropy source for offer tokens.
	Rand func() uint32
}

// Engine is the coordinator-side discovery and binding engine. It is not
// internally synchronized: Tick and the Handle* methods must be called
// from one logical goroutine.
type Engine struct {
	identity CoordinatorIdentity
	cfg      Config
	logger   *slog.Logger
	plog     log.Logger

	table  *table
	window *window

	// offerAt tracks when each in-flight offer went out, for the binding
	// timeout.
	offerAt map[wire.HWAddr]time.Time
}

// NewEngine creates a coordinator engine for the given identity.
func NewEngine(identity CoordinatorIdentity, cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ProtocolLog == nil {
		cfg.ProtocolLog = log.NoopLogger{}
	}
	if cfg.DiscoveryTTL <= 0 {
		cfg.DiscoveryTTL = wire.DiscoveryTTL
	}
	if cfg.BindingTimeout <= 0 {
		cfg.BindingTimeout = wire.BindingTimeout
	}
	if cfg.Rand == nil {
		cfg.Rand = cryptoRandUint32
	}

	return &Engine{
		identity: identity,
		cfg:      cfg,
		logger:   cfg.Logger.With("component", "discovery", "coordinator_id", identity.CoordinatorID),
		plog:     cfg.ProtocolLog,
		table:    newTable(cfg.TableCapacity),
		window:   newWindow(cfg.MaxWindow),
	}
}

// PermitJoin opens (or extends) the permit-join window. A non-positive
// duration selects the protocol default; anything longer than the maximum
// is clamped. Returns the applied duration.
func (e *Engine) PermitJoin(now time.Time, d time.Duration) time.Duration {
	applied := e.window.openFor(now, d)
	e.logger.Info("permit-join window open", "duration", applied)
	e.plog.Log(log.WindowEvent(log.RoleCoordinator, "open", "operator"))
	e.emit(Event{Kind: EventWindowOpened})
	return applied
}

// ClosePermitJoin closes the window immediately and clears every entry
// that is not bound.
func (e *Engine) ClosePermitJoin(now time.Time) {
	if !e.window.isOpen(now) {
		return
	}
	e.window.close()
	e.closeWindow("operator")
}

// PermitJoinRemaining returns the time left on the window, or 0.
func (e *Engine) PermitJoinRemaining(now time.Time) time.Duration {
	return e.window.remaining(now)
}

// PermitJoinOpen reports whether the window is open.
func (e *Engine) PermitJoinOpen(now time.Time) bool {
	return e.window.isOpen(now)
}

// Entries returns snapshots of the discovery table ordered by first
// appearance.
func (e *Engine) Entries() []Entry {
	return e.table.snapshot()
}

// Entry returns a snapshot of one entry.
func (e *Engine) Entry(addr wire.HWAddr) (Entry, bool) {
	if ent := e.table.get(addr); ent != nil {
		return *ent, true
	}
	return Entry{}, false
}

// Forget removes an entry outright, in any state. Removing a bound entry
// drops it from the table only; the registry record is untouched.
func (e *Engine) Forget(addr wire.HWAddr) bool {
	if e.table.get(addr) == nil {
		return false
	}
	e.table.remove(addr)
	delete(e.offerAt, addr)
	e.logger.Info("entry forgotten", "addr", addr.String())
	return true
}

// Tick drives window expiry, binding timeouts and table expiry.
func (e *Engine) Tick(now time.Time) {
	if e.window.tick(now) {
		e.closeWindow("expired")
	}

	for addr, at := range e.offerAt {
		if now.Sub(at) < e.cfg.BindingTimeout {
			continue
		}
		ent := e.table.get(addr)
		delete(e.offerAt, addr)
		if ent == nil || (ent.State != EntryOfferSent && ent.State != EntryBinding) {
			continue
		}
		e.logger.Warn("binding timed out", "addr", addr.String(),
			"state", ent.State.String(), "after", e.cfg.BindingTimeout)
		e.setState(ent, EntryFailed, "binding_timeout")
	}

	for _, expired := range e.table.sweep(now, e.cfg.DiscoveryTTL) {
		delete(e.offerAt, expired.Addr)
		e.logger.Debug("entry expired", "addr", expired.Addr.String(),
			"state", expired.State.String())
		e.emit(Event{Kind: EventExpired, Entry: expired})
	}
}

// HandleFrame decodes an inbound frame and dispatches it. Frames the
// coordinator side has no business receiving are dropped and logged.
func (e *Engine) HandleFrame(now time.Time, src wire.HWAddr, payload []byte, rssi int) {
	msg, err := wire.Decode(payload)
	if err != nil {
		e.logger.Debug("dropping undecodable frame", "src", src.String(), "err", err)
		e.plog.Log(log.DropEvent(log.RoleCoordinator, src.String(), 0, "undecodable"))
		return
	}

	e.plog.Log(log.MessageEvent(log.RoleCoordinator, log.DirectionIn, src.String(), wire.MessageType(msg)))

	switch m := msg.(type) {
	case *wire.Advertisement:
		e.HandleAdvertisement(now, m, rssi)
	case *wire.Accept:
		e.HandleAccept(now, m, src)
	case *wire.Abort:
		e.HandleAbort(now, m, src)
	default:
		e.logger.Debug("ignoring unexpected message",
			"type", wire.MessageTypeName(wire.MessageType(msg)), "src", src.String())
	}
}

// HandleAdvertisement folds an advertisement into the discovery table.
// Advertisements are dropped while the window is closed, on protocol
// version mismatch, or when the table is full.
func (e *Engine) HandleAdvertisement(now time.Time, adv *wire.Advertisement, rssi int) {
	if adv.Version != wire.ProtocolVersion {
		e.logger.Debug("advertisement protocol version mismatch",
			"addr", adv.Addr.String(), "got", adv.Version, "want", wire.ProtocolVersion)
		e.plog.Log(log.DropEvent(log.RoleCoordinator, adv.Addr.String(), wire.MsgAdvertisement, "version_mismatch"))
		return
	}

	if !e.window.isOpen(now) {
		// A bound node re-advertising outside the window still refreshes
		// its own entry so it never ages out mid-conversation.
		if ent := e.table.get(adv.Addr); ent != nil && ent.State == EntryBound {
			ent.LastSeen = now
			return
		}
		e.plog.Log(log.DropEvent(log.RoleCoordinator, adv.Addr.String(), wire.MsgAdvertisement, "window_closed"))
		return
	}

	ent, res := e.table.observe(now, adv, rssi)
	switch res {
	case observeCreated:
		e.logger.Info("node discovered",
			"addr", ent.Addr.String(),
			"device_type", ent.DeviceType.String(),
			"firmware", ent.Firmware.String(),
			"rssi", rssi)
		e.emit(Event{Kind: EventDiscovered, Entry: *ent})

	case observeUpdated:
		// A fresh advertisement from an entry mid-binding means the node
		// gave up on our offer (or never saw it) and is advertising again.
		if ent.State == EntryOfferSent || ent.State == EntryBinding {
			delete(e.offerAt, ent.Addr)
			e.setState(ent, EntryDiscovered, "node_readvertised")
		}
		e.emit(Event{Kind: EventUpdated, Entry: *ent})

	case observeDuplicate:
		// Retransmit of a frame already folded in; the entry is untouched
		// so it still ages toward the TTL.

	case observeFull:
		e.logger.Warn("discovery table full, dropping advertisement",
			"addr", adv.Addr.String(), "capacity", e.table.capacity)
		e.plog.Log(log.DropEvent(log.RoleCoordinator, adv.Addr.String(), wire.MsgAdvertisement, "table_full"))
	}
}

// BeginOffer approves an entry and unicasts an Offer to it. Allowed from
// DISCOVERED, PENDING and FAILED, and from OFFER_SENT, where the new offer
// replaces the outstanding one with a fresh token and binding identifier.
func (e *Engine) BeginOffer(now time.Time, addr wire.HWAddr) error {
	if e.cfg.Transport == nil {
		return ErrNoTransport
	}
	ent := e.table.get(addr)
	if ent == nil {
		return fmt.Errorf("%w: %s", ErrNoEntry, addr)
	}
	switch ent.State {
	case EntryDiscovered, EntryPending, EntryFailed, EntryOfferSent:
	default:
		return fmt.Errorf("%w: %s is %s", ErrBadState, addr, ent.State)
	}
	if !e.window.isOpen(now) {
		return ErrWindowClosed
	}

	bindingID, err := e.cfg.Registry.NextBindingID()
	if err != nil {
		return fmt.Errorf("allocating binding id: %w", err)
	}
	token := e.cfg.Rand()

	offer := &wire.Offer{
		MsgType:       wire.MsgOffer,
		Version:       wire.ProtocolVersion,
		CoordAddr:     e.identity.Addr,
		CoordinatorID: e.identity.CoordinatorID,
		FarmID:        e.identity.FarmID,
		BindingID:     bindingID,
		NonceEcho:     ent.Nonce,
		Token:         token,
		Channel:       e.identity.Channel,
	}
	if err := e.sendUnicast(addr, offer); err != nil {
		return err
	}

	ent.Token = token
	ent.BindingID = bindingID
	if e.offerAt == nil {
		e.offerAt = make(map[wire.HWAddr]time.Time)
	}
	e.offerAt[addr] = now

	e.logger.Info("offer sent", "addr", addr.String(),
		"binding_id", bindingID, "token", token)
	e.setState(ent, EntryOfferSent, "offer_sent")
	return nil
}

// MarkPending queues an entry for operator review. Valid from DISCOVERED.
func (e *Engine) MarkPending(addr wire.HWAddr) error {
	ent := e.table.get(addr)
	if ent == nil {
		return fmt.Errorf("%w: %s", ErrNoEntry, addr)
	}
	if ent.State != EntryDiscovered {
		return fmt.Errorf("%w: %s is %s", ErrBadState, addr, ent.State)
	}
	e.setState(ent, EntryPending, "marked_pending")
	return nil
}

// HandleAccept validates an Accept against the outstanding offer and, on
// success, sends the Confirm and commits the binding. An accept with a
// stale or mismatched token is dropped, never applied to the wrong offer.
func (e *Engine) HandleAccept(now time.Time, acc *wire.Accept, src wire.HWAddr) {
	ent := e.table.get(acc.Addr)
	if ent == nil {
		e.logger.Debug("accept from unknown node", "addr", acc.Addr.String())
		e.plog.Log(log.DropEvent(log.RoleCoordinator, src.String(), wire.MsgAccept, "unknown_node"))
		return
	}
	if !src.IsZero() && src != acc.Addr {
		e.logger.Warn("accept sender mismatch",
			"src", src.String(), "claimed", acc.Addr.String())
		e.plog.Log(log.DropEvent(log.RoleCoordinator, src.String(), wire.MsgAccept, "sender_mismatch"))
		return
	}
	if ent.State != EntryOfferSent {
		e.logger.Debug("accept in wrong state",
			"addr", acc.Addr.String(), "state", ent.State.String())
		e.plog.Log(log.DropEvent(log.RoleCoordinator, src.String(), wire.MsgAccept, "wrong_state"))
		return
	}
	if acc.Token != ent.Token || acc.BindingID != ent.BindingID {
		e.logger.Warn("accept token mismatch",
			"addr", acc.Addr.String(),
			"got_token", acc.Token, "want_token", ent.Token,
			"got_binding", acc.BindingID, "want_binding", ent.BindingID)
		e.plog.Log(log.DropEvent(log.RoleCoordinator, src.String(), wire.MsgAccept, "token_mismatch"))
		return
	}

	e.setState(ent, EntryBinding, "accept_received")

	confirm := &wire.Confirm{
		MsgType:   wire.MsgConfirm,
		CoordAddr: e.identity.Addr,
		BindingID: ent.BindingID,
	}
	var linkKey []byte
	if e.cfg.Keys != nil {
		key, err := e.cfg.Keys.DeriveLinkKey(ent.Addr)
		if err != nil {
			e.logger.Error("link key derivation failed",
				"addr", ent.Addr.String(), "err", err)
			e.failBinding(ent, wire.ReasonInternalError)
			return
		}
		linkKey = key
		confirm.SetLinkKey(key)
	}
	if e.identity.Channel != 0 {
		confirm.SetFixedChannel(e.identity.Channel)
	}

	if err := e.sendUnicast(ent.Addr, confirm); err != nil {
		e.logger.Warn("sending confirm failed", "addr", ent.Addr.String(), "err", err)
		e.failBinding(ent, wire.ReasonInternalError)
		return
	}

	bound := BoundNode{
		Addr:         ent.Addr,
		BindingID:    ent.BindingID,
		DeviceType:   ent.DeviceType,
		Firmware:     ent.Firmware,
		Capabilities: ent.Capabilities,
		LinkKey:      linkKey,
		BoundAt:      now,
	}
	if err := e.cfg.Registry.Commit(bound); err != nil {
		// The node already holds a Confirm it will persist; reject so it
		// does not end up bound against a registry with no record.
		e.logger.Error("committing binding failed", "addr", ent.Addr.String(), "err", err)
		e.failBinding(ent, wire.ReasonInternalError)
		return
	}

	delete(e.offerAt, ent.Addr)
	e.logger.Info("node bound", "addr", ent.Addr.String(), "binding_id", ent.BindingID)
	e.setState(ent, EntryBound, "confirm_sent")
	e.plog.Log(log.CompletionEvent(log.RoleCoordinator, ent.Addr.String(), "SUCCESS"))
	e.emit(Event{Kind: EventBound, Entry: *ent})
}

// HandleAbort processes a node-side cancellation of an in-flight binding.
func (e *Engine) HandleAbort(now time.Time, abort *wire.Abort, src wire.HWAddr) {
	ent := e.table.get(abort.Addr)
	if ent == nil {
		return
	}
	if ent.State != EntryOfferSent && ent.State != EntryBinding {
		e.logger.Debug("abort in wrong state",
			"addr", abort.Addr.String(), "state", ent.State.String())
		return
	}
	if abort.Token != 0 && abort.Token != ent.Token {
		e.logger.Debug("abort token mismatch, ignoring",
			"got", abort.Token, "want", ent.Token)
		return
	}

	delete(e.offerAt, ent.Addr)
	e.logger.Info("binding aborted by node",
		"addr", abort.Addr.String(), "reason", abort.Reason.String())
	e.setState(ent, EntryFailed, "node_abort:"+abort.Reason.String())
	e.plog.Log(log.CompletionEvent(log.RoleCoordinator, ent.Addr.String(), "ABORTED"))
}

// RejectEntry declines a node and notifies it. The entry is marked
// REJECTED and kept until the discovery TTL expires it, so the node does
// not immediately reappear as a fresh discovery.
func (e *Engine) RejectEntry(addr wire.HWAddr, reason wire.Reason) error {
	ent := e.table.get(addr)
	if ent == nil {
		return fmt.Errorf("%w: %s", ErrNoEntry, addr)
	}
	if ent.State == EntryBound {
		return fmt.Errorf("%w: %s is bound", ErrBadState, addr)
	}

	reject := &wire.Reject{
		MsgType: wire.MsgReject,
		Addr:    e.identity.Addr,
		Reason:  reason,
		Token:   ent.Token,
	}
	if err := e.sendUnicast(addr, reject); err != nil {
		e.logger.Warn("sending reject failed", "addr", addr.String(), "err", err)
	}

	delete(e.offerAt, addr)
	e.logger.Info("entry rejected", "addr", addr.String(), "reason", reason.String())
	e.setState(ent, EntryRejected, "rejected:"+reason.String())
	return nil
}

// -----------------------------------------------------------------------
// Internal helpers
// -----------------------------------------------------------------------

func (e *Engine) closeWindow(why string) {
	e.logger.Info("permit-join window closed", "reason", why)
	e.plog.Log(log.WindowEvent(log.RoleCoordinator, "closed", why))
	for _, cleared := range e.table.clearUnbound() {
		delete(e.offerAt, cleared.Addr)
		e.emit(Event{Kind: EventExpired, Entry: cleared})
	}
	e.emit(Event{Kind: EventWindowClosed})
}

func (e *Engine) failBinding(ent *Entry, reason wire.Reason) {
	reject := &wire.Reject{
		MsgType: wire.MsgReject,
		Addr:    e.identity.Addr,
		Reason:  reason,
		Token:   ent.Token,
	}
	if err := e.sendUnicast(ent.Addr, reject); err != nil {
		e.logger.Debug("sending failure reject failed", "addr", ent.Addr.String(), "err", err)
	}
	delete(e.offerAt, ent.Addr)
	e.setState(ent, EntryFailed, "binding_failed:"+reason.String())
	e.plog.Log(log.CompletionEvent(log.RoleCoordinator, ent.Addr.String(), "FAILED"))
}

func (e *Engine) setState(ent *Entry, newState EntryState, reason string) {
	if ent.State == newState {
		return
	}
	oldState := ent.State
	ent.State = newState
	e.logger.Debug("entry state change", "addr", ent.Addr.String(),
		"from", oldState.String(), "to", newState.String())
	e.plog.Log(log.StateEvent(log.RoleCoordinator, ent.Addr.String(),
		oldState.String(), newState.String(), reason))
	e.emit(Event{Kind: EventStateChanged, Entry: *ent})
}

func (e *Engine) emit(ev Event) {
	if e.cfg.Events != nil {
		e.cfg.Events(ev)
	}
}

func (e *Engine) sendUnicast(to wire.HWAddr, msg interface{}) error {
	if e.cfg.Transport == nil {
		return ErrNoTransport
	}
	payload, err := wire.Encode(msg)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", wire.MessageTypeName(wire.MessageType(msg)), err)
	}
	if !e.cfg.Transport.SendUnicast(to, payload) {
		return fmt.Errorf("%w: %s to %s", ErrSendFailed,
			wire.MessageTypeName(wire.MessageType(msg)), to)
	}
	e.plog.Log(log.MessageEvent(log.RoleCoordinator, log.DirectionOut, to.String(), wire.MessageType(msg)))
	return nil
}

func cryptoRandUint32() uint32 {
	var b [4]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b[:])
}
