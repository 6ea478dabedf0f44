package pairing

import (
	crand "crypto/rand"
	"encoding/binary"
	"log/slog"
	"time"

	"github.com/towerlink-protocol/towerlink-go/pkg/log"
	"github.com/towerlink-protocol/towerlink-go/pkg/radio"
	"github.com/towerlink-protocol/towerlink-go/pkg/wire"
)

// Config carries the engine's injected capabilities and timing overrides.
// Zero-valued durations fall back to the wire package defaults.
type Config struct {
	// Store persists binding credentials. Required.
	Store CredentialStore

	// Transport sends pairing frames. StartAdvertising fails while nil.
	Transport radio.Transport

	// Completion receives the outcome of each pairing attempt. Optional.
	Completion CompletionSink

	// States observes state transitions. Optional.
	States StateListener

	// Logger is the operational logger. Defaults to slog.Default().
	Logger *slog.Logger

	// ProtocolLog captures the machine-readable event trace. Optional.
	ProtocolLog log.Logger

	// Timing overrides, for tests.
	AdvertiseInterval time.Duration
	AdvertiseJitter   time.Duration
	AdvertiseTimeout  time.Duration
	NonceRotation     time.Duration
	ConfirmTimeout    time.Duration
	OfferStallTimeout time.Duration

	// Rand overrides the entropy source for nonces, tokens and sequence
	// offsets. Defaults to crypto/rand.
	Rand func() uint32
}

// pendingBinding is the offer data held between OFFER_RECEIVED and the end
// of WAITING_CONFIRM. It must be zeroed whenever the engine leaves those
// states, successful or not.
type pendingBinding struct {
	coord     wire.HWAddr
	token     uint32
	bindingID uint16
}

// Engine is the node-side pairing state machine. It is not internally
// synchronized: Tick and the Handle* methods must be called from one
// logical goroutine.
type Engine struct {
	identity Identity
	cfg      Config
	logger   *slog.Logger
	plog     log.Logger

	state       State
	initialized bool

	// Advertisement timing.
	advStart time.Time
	nextAdv  time.Time
	sequence uint16

	// Nonce management.
	nonce        uint32
	lastRotation time.Time

	// Binding state.
	pending    pendingBinding
	offerAt    time.Time
	acceptSent time.Time
	bindingID  uint16
}

// NewEngine creates a node pairing engine for the given identity.
// Call Initialize before anything else.
func NewEngine(identity Identity, cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ProtocolLog == nil {
		cfg.ProtocolLog = log.NoopLogger{}
	}
	if cfg.AdvertiseInterval <= 0 {
		cfg.AdvertiseInterval = wire.AdvertiseInterval
	}
	if cfg.AdvertiseJitter < 0 {
		cfg.AdvertiseJitter = 0
	} else if cfg.AdvertiseJitter == 0 {
		cfg.AdvertiseJitter = wire.AdvertiseJitter
	}
	if cfg.AdvertiseTimeout <= 0 {
		cfg.AdvertiseTimeout = wire.AdvertiseTimeout
	}
	if cfg.NonceRotation <= 0 {
		cfg.NonceRotation = wire.NonceRotation
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = wire.ConfirmTimeout
	}
	if cfg.OfferStallTimeout <= 0 {
		cfg.OfferStallTimeout = wire.OfferStallTimeout
	}
	if cfg.Rand == nil {
		cfg.Rand = cryptoRandUint32
	}

	return &Engine{
		identity: identity,
		cfg:      cfg,
		logger:   cfg.Logger.With("component", "pairing", "addr", identity.Addr.String()),
		plog:     cfg.ProtocolLog,
		state:    StateInit,
	}
}

// Initialize loads persisted credentials and settles the engine into BOUND
// or UNPAIRED. Reinitializing an already-initialized engine is a no-op with
// a warning, not an error.
func (e *Engine) Initialize(now time.Time) {
	if e.initialized {
		e.logger.Warn("engine already initialized, ignoring")
		return
	}

	e.sequence = uint16(e.cfg.Rand())
	e.nonce = e.cfg.Rand()
	e.lastRotation = now

	creds, err := e.cfg.Store.Load()
	switch {
	case err != nil:
		e.logger.Error("loading credentials failed, starting unpaired", "err", err)
		e.transitionTo(StateUnpaired, "load_error")
	case creds != nil:
		e.bindingID = creds.BindingID
		e.logger.Info("found existing credentials",
			"binding_id", creds.BindingID, "coordinator", creds.CoordAddr.String())
		e.transitionTo(StateBound, "credentials_loaded")
	default:
		e.transitionTo(StateUnpaired, "no_credentials")
	}

	e.initialized = true
}

// State returns the current engine state.
func (e *Engine) State() State {
	return e.state
}

// Identity returns the engine's immutable identity.
func (e *Engine) Identity() Identity {
	return e.identity
}

// Nonce returns the current advertisement nonce.
func (e *Engine) Nonce() uint32 {
	return e.nonce
}

// Sequence returns the advertisement sequence counter.
func (e *Engine) Sequence() uint16 {
	return e.sequence
}

// BindingID returns the assigned binding identifier, or 0 if unbound.
func (e *Engine) BindingID() uint16 {
	return e.bindingID
}

// IsPairing reports whether a pairing attempt is in flight.
func (e *Engine) IsPairing() bool {
	return e.state == StateAdvertising ||
		e.state == StateOfferReceived ||
		e.state == StateWaitingConfirm
}

// IsBound reports whether the node holds a binding.
func (e *Engine) IsBound() bool {
	return e.state == StateBound || e.state == StateOperational
}

// AdvertisingRemaining returns the time left before the advertising timeout,
// or 0 if the engine is not advertising.
func (e *Engine) AdvertisingRemaining(now time.Time) time.Duration {
	if e.state != StateAdvertising {
		return 0
	}
	remaining := e.cfg.AdvertiseTimeout - now.Sub(e.advStart)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// StartAdvertising begins a pairing attempt. Valid only from UNPAIRED, and
// only if a transport is wired up. The sequence counter restarts at a random
// offset so a reboot mid-session is not mistaken for replay, and a fresh
// nonce is generated for the session.
func (e *Engine) StartAdvertising(now time.Time) bool {
	if e.state != StateUnpaired {
		e.logger.Warn("cannot start advertising", "state", e.state.String())
		return false
	}
	if e.cfg.Transport == nil {
		e.logger.Error("cannot start advertising: no transport configured")
		return false
	}

	e.advStart = now
	e.nextAdv = now // first advertisement goes out on the next tick
	e.sequence = uint16(e.cfg.Rand())
	e.nonce = e.cfg.Rand()
	e.lastRotation = now

	e.logger.Info("advertising started", "timeout", e.cfg.AdvertiseTimeout)
	e.transitionTo(StateAdvertising, "start_advertising")
	return true
}

// CancelPairing aborts an in-flight pairing attempt. While WAITING_CONFIRM
// it notifies the coordinator with an Abort carrying the pending offer token
// before clearing state. Always completes with ResultCancelled.
func (e *Engine) CancelPairing(now time.Time) bool {
	if !e.IsPairing() {
		e.logger.Debug("not pairing, nothing to cancel")
		return false
	}

	if e.state == StateWaitingConfirm {
		e.sendAbort(wire.ReasonNodeCancelled)
	}

	e.logger.Info("pairing cancelled", "state", e.state.String())
	e.complete(ResultCancelled)
	return true
}

// EnterOperational advances from BOUND to OPERATIONAL. No protocol messages
// are exchanged.
func (e *Engine) EnterOperational() {
	if e.state != StateBound {
		e.logger.Warn("cannot enter operational", "state", e.state.String())
		return
	}
	e.transitionTo(StateOperational, "enter_operational")
}

// Reset is the factory-reset path: it erases persisted credentials, clears
// all pending state and forces UNPAIRED regardless of the current state.
func (e *Engine) Reset() {
	if err := e.cfg.Store.Erase(); err != nil {
		e.logger.Error("erasing credentials failed", "err", err)
	}
	e.pending = pendingBinding{}
	e.bindingID = 0
	e.logger.Info("pairing state reset")
	e.transitionTo(StateUnpaired, "reset")
}

// Tick drives all time-based behavior. Call it every 10-50ms.
func (e *Engine) Tick(now time.Time) {
	if !e.initialized {
		return
	}

	switch e.state {
	case StateAdvertising:
		e.rotateNonceIfDue(now)

		if now.Sub(e.advStart) >= e.cfg.AdvertiseTimeout {
			e.logger.Info("advertising timed out", "after", e.cfg.AdvertiseTimeout)
			e.complete(ResultTimeout)
			return
		}

		if !now.Before(e.nextAdv) {
			e.sendAdvertisement()
			e.nextAdv = now.Add(e.nextAdvDelay())
		}

	case StateWaitingConfirm:
		if now.Sub(e.acceptSent) >= e.cfg.ConfirmTimeout {
			e.logger.Warn("confirm timed out", "after", e.cfg.ConfirmTimeout)
			e.sendAbort(wire.ReasonTimeout)
			e.complete(ResultTimeout)
		}

	case StateOfferReceived:
		// Transient: the accept is sent synchronously on offer receipt.
		// Being here this long means the send path went wrong.
		if now.Sub(e.offerAt) >= e.cfg.OfferStallTimeout {
			e.logger.Warn("stuck in OFFER_RECEIVED, resuming advertising")
			e.pending = pendingBinding{}
			e.transitionTo(StateAdvertising, "offer_stall")
		}
	}
}

// HandleFrame decodes an inbound frame and dispatches it to the appropriate
// typed handler. Frames the node side has no business receiving are dropped
// and logged.
func (e *Engine) HandleFrame(now time.Time, src wire.HWAddr, payload []byte) {
	msg, err := wire.Decode(payload)
	if err != nil {
		e.logger.Debug("dropping undecodable frame", "src", src.String(), "err", err)
		e.plog.Log(log.DropEvent(log.RoleNode, src.String(), 0, "undecodable"))
		return
	}

	e.plog.Log(log.MessageEvent(log.RoleNode, log.DirectionIn, src.String(), wire.MessageType(msg)))

	switch m := msg.(type) {
	case *wire.Offer:
		e.HandleOffer(now, m, src)
	case *wire.Confirm:
		e.HandleConfirm(now, m, src)
	case *wire.Reject:
		e.HandleReject(now, m)
	default:
		e.logger.Debug("ignoring unexpected message",
			"type", wire.MessageTypeName(wire.MessageType(msg)), "src", src.String())
	}
}

// HandleOffer validates an Offer and, on success, sends the Accept and moves
// to WAITING_CONFIRM. Valid only while ADVERTISING. An offer echoing
// anything but the engine's current nonce completes with NONCE_MISMATCH:
// that is the replay/race defense, since a delayed or forged offer built
// against an earlier nonce is provably stale.
func (e *Engine) HandleOffer(now time.Time, offer *wire.Offer, src wire.HWAddr) bool {
	if e.state != StateAdvertising {
		e.logger.Debug("ignoring offer", "state", e.state.String(), "src", src.String())
		return false
	}

	if offer.Version != wire.ProtocolVersion {
		e.logger.Warn("offer protocol version mismatch",
			"got", offer.Version, "want", wire.ProtocolVersion)
		e.plog.Log(log.DropEvent(log.RoleNode, src.String(), wire.MsgOffer, "version_mismatch"))
		return false
	}

	if offer.NonceEcho != e.nonce {
		e.logger.Warn("offer nonce mismatch",
			"got", offer.NonceEcho, "want", e.nonce)
		e.complete(ResultNonceMismatch)
		return false
	}

	e.logger.Info("valid offer received",
		"coordinator", offer.CoordAddr.String(),
		"binding_id", offer.BindingID,
		"token", offer.Token)

	e.pending = pendingBinding{
		coord:     offer.CoordAddr,
		token:     offer.Token,
		bindingID: offer.BindingID,
	}
	e.offerAt = now
	e.transitionTo(StateOfferReceived, "offer_received")

	accept := &wire.Accept{
		MsgType:   wire.MsgAccept,
		Addr:      e.identity.Addr,
		Token:     offer.Token,
		BindingID: offer.BindingID,
	}
	if !e.sendUnicast(e.pending.coord, accept) {
		// The coordinator's own binding timeout recovers the attempt.
		e.logger.Warn("failed to send accept, resuming advertising")
		e.pending = pendingBinding{}
		e.transitionTo(StateAdvertising, "accept_send_failed")
		return false
	}

	e.acceptSent = now
	e.transitionTo(StateWaitingConfirm, "accept_sent")
	return true
}

// HandleConfirm validates a Confirm, persists credentials and completes the
// attempt. Valid only while WAITING_CONFIRM. A confirm from the wrong
// coordinator is dropped; a confirm for the wrong binding identifier
// completes with TOKEN_MISMATCH so a confirm meant for another device's
// concurrent attempt is never misapplied.
func (e *Engine) HandleConfirm(now time.Time, confirm *wire.Confirm, src wire.HWAddr) bool {
	if e.state != StateWaitingConfirm {
		e.logger.Debug("ignoring confirm", "state", e.state.String())
		return false
	}

	if !src.IsZero() && src != e.pending.coord {
		e.logger.Warn("confirm from wrong sender",
			"got", src.String(), "want", e.pending.coord.String())
		e.plog.Log(log.DropEvent(log.RoleNode, src.String(), wire.MsgConfirm, "wrong_sender"))
		return false
	}
	if confirm.CoordAddr != e.pending.coord {
		e.logger.Warn("confirm names wrong coordinator",
			"got", confirm.CoordAddr.String(), "want", e.pending.coord.String())
		e.plog.Log(log.DropEvent(log.RoleNode, src.String(), wire.MsgConfirm, "wrong_coordinator"))
		return false
	}

	if confirm.BindingID != e.pending.bindingID {
		e.logger.Warn("confirm binding id mismatch",
			"got", confirm.BindingID, "want", e.pending.bindingID)
		e.complete(ResultTokenMismatch)
		return false
	}

	creds := &Credentials{
		BindingID: confirm.BindingID,
		CoordAddr: e.pending.coord,
		Channel:   confirm.FixedChannel(),
	}
	if confirm.HasLinkKey() {
		creds.LinkKey = append([]byte(nil), confirm.LinkKey...)
	}

	if err := e.cfg.Store.Save(creds); err != nil {
		e.logger.Error("saving credentials failed", "err", err)
		e.complete(ResultStorageError)
		return false
	}

	e.bindingID = confirm.BindingID
	e.logger.Info("pairing complete", "binding_id", e.bindingID,
		"link_key", confirm.HasLinkKey())
	e.complete(ResultSuccess)
	return true
}

// HandleReject processes a coordinator Reject. Valid while any pairing
// attempt is in flight. While WAITING_CONFIRM the token must match the
// pending offer; a zero token applies regardless.
func (e *Engine) HandleReject(now time.Time, reject *wire.Reject) bool {
	if !e.IsPairing() {
		e.logger.Debug("ignoring reject", "state", e.state.String())
		return false
	}

	if e.state == StateWaitingConfirm &&
		reject.Token != 0 && reject.Token != e.pending.token {
		e.logger.Debug("reject token mismatch, ignoring",
			"got", reject.Token, "want", e.pending.token)
		return false
	}

	e.logger.Info("pairing rejected by coordinator", "reason", reject.Reason.String())
	e.complete(ResultRejected)
	return true
}

// -----------------------------------------------------------------------
// Internal helpers
// -----------------------------------------------------------------------

func (e *Engine) transitionTo(newState State, reason string) {
	if e.state == newState {
		return
	}
	oldState := e.state
	e.state = newState

	e.logger.Debug("state change", "from", oldState.String(), "to", newState.String())
	e.plog.Log(log.StateEvent(log.RoleNode, "", oldState.String(), newState.String(), reason))

	if e.cfg.States != nil {
		e.cfg.States.StateChanged(oldState, newState)
	}
}

// complete finishes a pairing attempt: pending data is zeroed, the engine
// settles into BOUND or UNPAIRED, and the sink is notified.
func (e *Engine) complete(result Result) {
	bindingID := uint16(0)
	if result == ResultSuccess {
		bindingID = e.bindingID
	}

	e.pending = pendingBinding{}
	e.acceptSent = time.Time{}
	e.offerAt = time.Time{}

	if result == ResultSuccess {
		e.transitionTo(StateBound, result.String())
	} else {
		e.transitionTo(StateUnpaired, result.String())
	}

	e.plog.Log(log.CompletionEvent(log.RoleNode, "", result.String()))
	if e.cfg.Completion != nil {
		e.cfg.Completion.PairingComplete(result, bindingID)
	}
}

func (e *Engine) rotateNonceIfDue(now time.Time) {
	if now.Sub(e.lastRotation) >= e.cfg.NonceRotation {
		e.nonce = e.cfg.Rand()
		e.lastRotation = now
		e.logger.Debug("nonce rotated", "nonce", e.nonce)
	}
}

// nextAdvDelay is the base interval plus symmetric jitter, so co-located
// nodes sharing a channel do not transmit in lockstep.
func (e *Engine) nextAdvDelay() time.Duration {
	if e.cfg.AdvertiseJitter == 0 {
		return e.cfg.AdvertiseInterval
	}
	span := 2*e.cfg.AdvertiseJitter + 1
	jitter := time.Duration(e.cfg.Rand())%span - e.cfg.AdvertiseJitter
	return e.cfg.AdvertiseInterval + jitter
}

func (e *Engine) sendAdvertisement() {
	adv := wire.NewAdvertisement(
		e.identity.Addr,
		e.identity.DeviceType,
		e.identity.Firmware,
		e.identity.Capabilities,
		e.nonce,
		e.sequence,
	)
	e.sequence++

	payload, err := wire.Encode(adv)
	if err != nil {
		e.logger.Error("encoding advertisement failed", "err", err)
		return
	}
	if !e.cfg.Transport.SendBroadcast(payload) {
		e.logger.Warn("failed to send advertisement")
		return
	}
	e.plog.Log(log.MessageEvent(log.RoleNode, log.DirectionOut, "", wire.MsgAdvertisement))
}

func (e *Engine) sendAbort(reason wire.Reason) {
	if e.cfg.Transport == nil || e.pending.coord.IsZero() {
		return
	}
	abort := &wire.Abort{
		MsgType: wire.MsgAbort,
		Addr:    e.identity.Addr,
		Reason:  reason,
		Token:   e.pending.token,
	}
	if e.sendUnicast(e.pending.coord, abort) {
		e.logger.Info("sent abort", "reason", reason.String())
	}
}

func (e *Engine) sendUnicast(to wire.HWAddr, msg interface{}) bool {
	payload, err := wire.Encode(msg)
	if err != nil {
		e.logger.Error("encoding message failed",
			"type", wire.MessageTypeName(wire.MessageType(msg)), "err", err)
		return false
	}
	if !e.cfg.Transport.SendUnicast(to, payload) {
		return false
	}
	e.plog.Log(log.MessageEvent(log.RoleNode, log.DirectionOut, to.String(), wire.MessageType(msg)))
	return true
}

func cryptoRandUint32() uint32 {
	var b [4]byte
	if _, err := crand.Read(b[:]); err != nil {
		// crypto/rand failing means the platform is broken; a zero nonce
		// still pairs, it just loses replay hardening for this session.
		return 0
	}
	return binary.LittleEndian.Uint32(b[:])
}
