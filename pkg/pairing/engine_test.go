package pairing

import (
	"errors"
	"testing"
	"time"

	"github.com/towerlink-protocol/towerlink-go/pkg/wire"
)

var (
	testNodeAddr  = wire.HWAddr{0xAA, 0xBB, 0xCC, 0x01, 0x02, 0x03}
	testCoordAddr = wire.HWAddr{0xDE, 0xAD, 0xBE, 0xEF, 0x00, 0x01}
)

func testIdentity() Identity {
	return Identity{
		Addr:         testNodeAddr,
		DeviceType:   wire.DeviceTower,
		Firmware:     wire.PackFirmware(1, 4, 2),
		Capabilities: wire.CapClimateSensor | wire.CapBattery,
	}
}

// sentFrame records one outbound frame for inspection.
type sentFrame struct {
	to        wire.HWAddr
	broadcast bool
	msg       interface{}
}

// fakeTransport records sent frames and optionally fails sends.
type fakeTransport struct {
	sent        []sentFrame
	failUnicast bool
}

func (t *fakeTransport) SendUnicast(to wire.HWAddr, payload []byte) bool {
	if t.failUnicast {
		return false
	}
	msg, err := wire.Decode(payload)
	if err != nil {
		panic("transport received undecodable payload: " + err.Error())
	}
	t.sent = append(t.sent, sentFrame{to: to, msg: msg})
	return true
}

func (t *fakeTransport) SendBroadcast(payload []byte) bool {
	msg, err := wire.Decode(payload)
	if err != nil {
		panic("transport received undecodable payload: " + err.Error())
	}
	t.sent = append(t.sent, sentFrame{broadcast: true, msg: msg})
	return true
}

func (t *fakeTransport) lastMsg() interface{} {
	if len(t.sent) == 0 {
		return nil
	}
	return t.sent[len(t.sent)-1].msg
}

// memStore is a minimal in-memory CredentialStore with injectable failures.
type memStore struct {
	creds    *Credentials
	loadErr  error
	saveErr  error
	eraseErr error
}

func (s *memStore) Load() (*Credentials, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.creds, nil
}

func (s *memStore) Save(c *Credentials) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.creds = c
	return nil
}

func (s *memStore) Erase() error {
	if s.eraseErr != nil {
		return s.eraseErr
	}
	s.creds = nil
	return nil
}

// sinkRecorder captures completion callbacks.
type sinkRecorder struct {
	results    []Result
	bindingIDs []uint16
}

func (s *sinkRecorder) PairingComplete(result Result, bindingID uint16) {
	s.results = append(s.results, result)
	s.bindingIDs = append(s.bindingIDs, bindingID)
}

func (s *sinkRecorder) last() (Result, bool) {
	if len(s.results) == 0 {
		return 0, false
	}
	return s.results[len(s.results)-1], true
}

// stateRecorder captures state transitions.
type stateRecorder struct {
	transitions []State
}

func (s *stateRecorder) StateChanged(_, newState State) {
	s.transitions = append(s.transitions, newState)
}

// seqRand returns a rand func yielding the given values, then repeating the
// last one forever.
func seqRand(values ...uint32) func() uint32 {
	i := 0
	return func() uint32 {
		v := values[i]
		if i < len(values)-1 {
			i++
		}
		return v
	}
}

type testRig struct {
	engine    *Engine
	transport *fakeTransport
	store     *memStore
	sink      *sinkRecorder
	states    *stateRecorder
}

func newTestRig(t *testing.T, mutate func(*Config)) *testRig {
	t.Helper()
	rig := &testRig{
		transport: &fakeTransport{},
		store:     &memStore{},
		sink:      &sinkRecorder{},
		states:    &stateRecorder{},
	}
	cfg := Config{
		Store:      rig.store,
		Transport:  rig.transport,
		Completion: rig.sink,
		States:     rig.states,
		// Jitter off so advertisement timing is deterministic.
		AdvertiseJitter: -1,
		Rand:            seqRand(7),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	rig.engine = NewEngine(testIdentity(), cfg)
	return rig
}

// offerFor builds a valid offer against the engine's current nonce.
func offerFor(e *Engine) *wire.Offer {
	return &wire.Offer{
		MsgType:       wire.MsgOffer,
		Version:       wire.ProtocolVersion,
		CoordAddr:     testCoordAddr,
		CoordinatorID: 1,
		FarmID:        42,
		BindingID:     9,
		NonceEcho:     e.Nonce(),
		Token:         0xCAFE,
	}
}

func confirmFor(offer *wire.Offer) *wire.Confirm {
	return &wire.Confirm{
		MsgType:   wire.MsgConfirm,
		CoordAddr: offer.CoordAddr,
		BindingID: offer.BindingID,
	}
}

func TestInitializeWithoutCredentials(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.engine.Initialize(time.Now())

	if got := rig.engine.State(); got != StateUnpaired {
		t.Errorf("state = %v, want %v", got, StateUnpaired)
	}
}

func TestInitializeWithCredentials(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.store.creds = &Credentials{BindingID: 17, CoordAddr: testCoordAddr}
	rig.engine.Initialize(time.Now())

	if got := rig.engine.State(); got != StateBound {
		t.Errorf("state = %v, want %v", got, StateBound)
	}
	if got := rig.engine.BindingID(); got != 17 {
		t.Errorf("binding id = %d, want 17", got)
	}
}

func TestInitializeLoadErrorFallsBackToUnpaired(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.store.loadErr = errors.New("flash corruption")
	rig.engine.Initialize(time.Now())

	if got := rig.engine.State(); got != StateUnpaired {
		t.Errorf("state = %v, want %v", got, StateUnpaired)
	}
}

func TestInitializeTwiceIsIgnored(t *testing.T) {
	rig := newTestRig(t, nil)
	now := time.Now()
	rig.engine.Initialize(now)
	rig.engine.StartAdvertising(now)
	rig.engine.Initialize(now)

	if got := rig.engine.State(); got != StateAdvertising {
		t.Errorf("state after reinit = %v, want %v", got, StateAdvertising)
	}
}

func TestStartAdvertisingRequiresUnpaired(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.store.creds = &Credentials{BindingID: 1, CoordAddr: testCoordAddr}
	now := time.Now()
	rig.engine.Initialize(now)

	if rig.engine.StartAdvertising(now) {
		t.Error("StartAdvertising succeeded from BOUND")
	}
}

func TestStartAdvertisingRequiresTransport(t *testing.T) {
	rig := newTestRig(t, func(cfg *Config) {
		cfg.Transport = nil
	})
	now := time.Now()
	rig.engine.Initialize(now)

	if rig.engine.StartAdvertising(now) {
		t.Error("StartAdvertising succeeded without a transport")
	}
	if got := rig.engine.State(); got != StateUnpaired {
		t.Errorf("state = %v, want %v", got, StateUnpaired)
	}
}

func TestAdvertisementCadence(t *testing.T) {
	rig := newTestRig(t, nil)
	now := time.Now()
	rig.engine.Initialize(now)
	rig.engine.StartAdvertising(now)

	// First advertisement goes out on the first tick.
	rig.engine.Tick(now)
	if len(rig.transport.sent) != 1 {
		t.Fatalf("sent %d frames after first tick, want 1", len(rig.transport.sent))
	}
	adv, ok := rig.transport.sent[0].msg.(*wire.Advertisement)
	if !ok {
		t.Fatalf("first frame is %T, want *wire.Advertisement", rig.transport.sent[0].msg)
	}
	if !rig.transport.sent[0].broadcast {
		t.Error("advertisement was not broadcast")
	}
	if adv.Addr != testNodeAddr {
		t.Errorf("advertisement addr = %v, want %v", adv.Addr, testNodeAddr)
	}
	if adv.Version != wire.ProtocolVersion {
		t.Errorf("advertisement version = %#x, want %#x", adv.Version, wire.ProtocolVersion)
	}

	// A tick before the interval elapses sends nothing.
	rig.engine.Tick(now.Add(wire.AdvertiseInterval / 2))
	if len(rig.transport.sent) != 1 {
		t.Fatalf("sent %d frames before interval elapsed, want 1", len(rig.transport.sent))
	}

	// At the interval boundary, the next one goes out with seq+1.
	rig.engine.Tick(now.Add(wire.AdvertiseInterval))
	if len(rig.transport.sent) != 2 {
		t.Fatalf("sent %d frames after interval, want 2", len(rig.transport.sent))
	}
	second := rig.transport.sent[1].msg.(*wire.Advertisement)
	if second.Sequence != adv.Sequence+1 {
		t.Errorf("second sequence = %d, want %d", second.Sequence, adv.Sequence+1)
	}
}

func TestAdvertisingTimeout(t *testing.T) {
	rig := newTestRig(t, nil)
	now := time.Now()
	rig.engine.Initialize(now)
	rig.engine.StartAdvertising(now)

	rig.engine.Tick(now.Add(wire.AdvertiseTimeout))

	if got := rig.engine.State(); got != StateUnpaired {
		t.Errorf("state = %v, want %v", got, StateUnpaired)
	}
	result, ok := rig.sink.last()
	if !ok || result != ResultTimeout {
		t.Errorf("completion = %v (%v), want %v", result, ok, ResultTimeout)
	}
}

func TestNonceRotation(t *testing.T) {
	rig := newTestRig(t, func(cfg *Config) {
		cfg.Rand = seqRand(1111, 2222, 3333)
	})
	now := time.Now()
	rig.engine.Initialize(now)
	rig.engine.StartAdvertising(now)

	before := rig.engine.Nonce()
	rig.engine.Tick(now.Add(wire.NonceRotation))
	after := rig.engine.Nonce()

	if after == before {
		t.Errorf("nonce did not rotate, still %d", after)
	}
}

func TestRotationInvalidatesOldOffer(t *testing.T) {
	rig := newTestRig(t, func(cfg *Config) {
		cfg.Rand = seqRand(1111, 2222, 3333)
	})
	now := time.Now()
	rig.engine.Initialize(now)
	rig.engine.StartAdvertising(now)

	// Capture an offer against the pre-rotation nonce, then rotate.
	stale := offerFor(rig.engine)
	now = now.Add(wire.NonceRotation)
	rig.engine.Tick(now)

	if rig.engine.HandleOffer(now, stale, testCoordAddr) {
		t.Error("stale offer was accepted after nonce rotation")
	}
	result, ok := rig.sink.last()
	if !ok || result != ResultNonceMismatch {
		t.Errorf("completion = %v (%v), want %v", result, ok, ResultNonceMismatch)
	}
	if got := rig.engine.State(); got != StateUnpaired {
		t.Errorf("state = %v, want %v", got, StateUnpaired)
	}
}

func TestHappyPath(t *testing.T) {
	rig := newTestRig(t, nil)
	now := time.Now()
	rig.engine.Initialize(now)
	rig.engine.StartAdvertising(now)

	offer := offerFor(rig.engine)
	if !rig.engine.HandleOffer(now, offer, testCoordAddr) {
		t.Fatal("valid offer was not accepted")
	}
	if got := rig.engine.State(); got != StateWaitingConfirm {
		t.Fatalf("state after offer = %v, want %v", got, StateWaitingConfirm)
	}

	accept, ok := rig.transport.lastMsg().(*wire.Accept)
	if !ok {
		t.Fatalf("last frame is %T, want *wire.Accept", rig.transport.lastMsg())
	}
	if accept.Token != offer.Token {
		t.Errorf("accept token = %#x, want %#x", accept.Token, offer.Token)
	}
	if accept.BindingID != offer.BindingID {
		t.Errorf("accept binding id = %d, want %d", accept.BindingID, offer.BindingID)
	}
	if rig.transport.sent[len(rig.transport.sent)-1].to != testCoordAddr {
		t.Error("accept was not unicast to the coordinator")
	}

	confirm := confirmFor(offer)
	confirm.SetLinkKey(make([]byte, wire.LinkKeySize))
	confirm.SetFixedChannel(6)
	if !rig.engine.HandleConfirm(now, confirm, testCoordAddr) {
		t.Fatal("valid confirm was not accepted")
	}

	if got := rig.engine.State(); got != StateBound {
		t.Errorf("state after confirm = %v, want %v", got, StateBound)
	}
	result, ok := rig.sink.last()
	if !ok || result != ResultSuccess {
		t.Fatalf("completion = %v (%v), want %v", result, ok, ResultSuccess)
	}
	if got := rig.sink.bindingIDs[len(rig.sink.bindingIDs)-1]; got != offer.BindingID {
		t.Errorf("completed binding id = %d, want %d", got, offer.BindingID)
	}

	if rig.store.creds == nil {
		t.Fatal("credentials were not persisted")
	}
	if rig.store.creds.BindingID != offer.BindingID {
		t.Errorf("stored binding id = %d, want %d", rig.store.creds.BindingID, offer.BindingID)
	}
	if rig.store.creds.CoordAddr != testCoordAddr {
		t.Errorf("stored coordinator = %v, want %v", rig.store.creds.CoordAddr, testCoordAddr)
	}
	if len(rig.store.creds.LinkKey) != wire.LinkKeySize {
		t.Errorf("stored link key length = %d, want %d", len(rig.store.creds.LinkKey), wire.LinkKeySize)
	}
	if rig.store.creds.Channel != 6 {
		t.Errorf("stored channel = %d, want 6", rig.store.creds.Channel)
	}
}

func TestHandleFrameDispatch(t *testing.T) {
	rig := newTestRig(t, nil)
	now := time.Now()
	rig.engine.Initialize(now)
	rig.engine.StartAdvertising(now)

	offer := offerFor(rig.engine)
	payload, err := wire.Encode(offer)
	if err != nil {
		t.Fatalf("encode offer: %v", err)
	}
	rig.engine.HandleFrame(now, testCoordAddr, payload)
	if got := rig.engine.State(); got != StateWaitingConfirm {
		t.Fatalf("state after raw offer frame = %v, want %v", got, StateWaitingConfirm)
	}

	payload, err = wire.Encode(confirmFor(offer))
	if err != nil {
		t.Fatalf("encode confirm: %v", err)
	}
	rig.engine.HandleFrame(now, testCoordAddr, payload)
	if got := rig.engine.State(); got != StateBound {
		t.Errorf("state after raw confirm frame = %v, want %v", got, StateBound)
	}

	// Garbage does not disturb the engine.
	rig.engine.HandleFrame(now, testCoordAddr, []byte{0xFF, 0x00})
	if got := rig.engine.State(); got != StateBound {
		t.Errorf("state after garbage frame = %v, want %v", got, StateBound)
	}
}

func TestOfferVersionMismatchDropped(t *testing.T) {
	rig := newTestRig(t, nil)
	now := time.Now()
	rig.engine.Initialize(now)
	rig.engine.StartAdvertising(now)

	offer := offerFor(rig.engine)
	offer.Version = wire.ProtocolVersion + 1
	if rig.engine.HandleOffer(now, offer, testCoordAddr) {
		t.Error("offer with wrong protocol version was accepted")
	}
	// The attempt keeps advertising: a version mismatch is not fatal.
	if got := rig.engine.State(); got != StateAdvertising {
		t.Errorf("state = %v, want %v", got, StateAdvertising)
	}
	if _, ok := rig.sink.last(); ok {
		t.Error("version mismatch reported a completion")
	}
}

func TestOfferOutsideAdvertisingIgnored(t *testing.T) {
	rig := newTestRig(t, nil)
	now := time.Now()
	rig.engine.Initialize(now)

	offer := offerFor(rig.engine)
	if rig.engine.HandleOffer(now, offer, testCoordAddr) {
		t.Error("offer was accepted while UNPAIRED")
	}
}

func TestSecondOfferReplacesFirst(t *testing.T) {
	rig := newTestRig(t, nil)
	now := time.Now()
	rig.engine.Initialize(now)
	rig.engine.StartAdvertising(now)

	first := offerFor(rig.engine)
	if !rig.engine.HandleOffer(now, first, testCoordAddr) {
		t.Fatal("first offer was not accepted")
	}

	// Second coordinator's offer arrives late: engine is no longer
	// advertising, so it is ignored and the first binding stands.
	other := offerFor(rig.engine)
	other.CoordAddr = wire.HWAddr{0x02, 0x02, 0x02, 0x02, 0x02, 0x02}
	other.Token = 0xBEEF
	if rig.engine.HandleOffer(now, other, other.CoordAddr) {
		t.Error("second offer was accepted while WAITING_CONFIRM")
	}

	confirm := confirmFor(first)
	if !rig.engine.HandleConfirm(now, confirm, testCoordAddr) {
		t.Error("confirm for the standing offer was rejected")
	}
}

func TestConfirmFromWrongSenderDropped(t *testing.T) {
	rig := newTestRig(t, nil)
	now := time.Now()
	rig.engine.Initialize(now)
	rig.engine.StartAdvertising(now)

	offer := offerFor(rig.engine)
	rig.engine.HandleOffer(now, offer, testCoordAddr)

	confirm := confirmFor(offer)
	imposter := wire.HWAddr{0x66, 0x66, 0x66, 0x66, 0x66, 0x66}
	if rig.engine.HandleConfirm(now, confirm, imposter) {
		t.Error("confirm from wrong sender was accepted")
	}
	// Not fatal: the real confirm may still arrive.
	if got := rig.engine.State(); got != StateWaitingConfirm {
		t.Errorf("state = %v, want %v", got, StateWaitingConfirm)
	}
}

func TestConfirmBindingIDMismatch(t *testing.T) {
	rig := newTestRig(t, nil)
	now := time.Now()
	rig.engine.Initialize(now)
	rig.engine.StartAdvertising(now)

	offer := offerFor(rig.engine)
	rig.engine.HandleOffer(now, offer, testCoordAddr)

	confirm := confirmFor(offer)
	confirm.BindingID = offer.BindingID + 1
	if rig.engine.HandleConfirm(now, confirm, testCoordAddr) {
		t.Error("confirm with wrong binding id was accepted")
	}
	result, ok := rig.sink.last()
	if !ok || result != ResultTokenMismatch {
		t.Errorf("completion = %v (%v), want %v", result, ok, ResultTokenMismatch)
	}
	if got := rig.engine.State(); got != StateUnpaired {
		t.Errorf("state = %v, want %v", got, StateUnpaired)
	}
}

func TestConfirmSaveFailure(t *testing.T) {
	rig := newTestRig(t, nil)
	now := time.Now()
	rig.engine.Initialize(now)
	rig.engine.StartAdvertising(now)

	offer := offerFor(rig.engine)
	rig.engine.HandleOffer(now, offer, testCoordAddr)

	rig.store.saveErr = errors.New("flash write failed")
	if rig.engine.HandleConfirm(now, confirmFor(offer), testCoordAddr) {
		t.Error("confirm was accepted despite save failure")
	}
	result, ok := rig.sink.last()
	if !ok || result != ResultStorageError {
		t.Errorf("completion = %v (%v), want %v", result, ok, ResultStorageError)
	}
	if got := rig.engine.State(); got != StateUnpaired {
		t.Errorf("state = %v, want %v", got, StateUnpaired)
	}
}

func TestConfirmTimeoutSendsAbort(t *testing.T) {
	rig := newTestRig(t, nil)
	now := time.Now()
	rig.engine.Initialize(now)
	rig.engine.StartAdvertising(now)

	offer := offerFor(rig.engine)
	rig.engine.HandleOffer(now, offer, testCoordAddr)

	rig.engine.Tick(now.Add(wire.ConfirmTimeout))

	abort, ok := rig.transport.lastMsg().(*wire.Abort)
	if !ok {
		t.Fatalf("last frame is %T, want *wire.Abort", rig.transport.lastMsg())
	}
	if abort.Reason != wire.ReasonTimeout {
		t.Errorf("abort reason = %v, want %v", abort.Reason, wire.ReasonTimeout)
	}
	if abort.Token != offer.Token {
		t.Errorf("abort token = %#x, want %#x", abort.Token, offer.Token)
	}
	result, ok := rig.sink.last()
	if !ok || result != ResultTimeout {
		t.Errorf("completion = %v (%v), want %v", result, ok, ResultTimeout)
	}
}

func TestOfferStallResumesAdvertising(t *testing.T) {
	rig := newTestRig(t, nil)
	now := time.Now()
	rig.engine.Initialize(now)
	rig.engine.StartAdvertising(now)

	// OFFER_RECEIVED is normally left synchronously inside HandleOffer;
	// force the stuck state directly to exercise the self-heal path.
	rig.engine.state = StateOfferReceived
	rig.engine.offerAt = now
	rig.engine.pending = pendingBinding{coord: testCoordAddr, token: 0xBEEF, bindingID: 9}

	rig.engine.Tick(now.Add(wire.OfferStallTimeout / 2))
	if rig.engine.State() != StateOfferReceived {
		t.Fatalf("state = %v before the stall timeout, want OFFER_RECEIVED", rig.engine.State())
	}

	rig.engine.Tick(now.Add(wire.OfferStallTimeout))
	if rig.engine.State() != StateAdvertising {
		t.Fatalf("state = %v after the stall timeout, want ADVERTISING", rig.engine.State())
	}
	if rig.engine.pending != (pendingBinding{}) {
		t.Errorf("pending = %+v after self-heal, want zeroed", rig.engine.pending)
	}
	if _, ok := rig.sink.last(); ok {
		t.Error("self-heal emitted a completion; the attempt is still live")
	}

	// The resumed session keeps advertising.
	sent := len(rig.transport.sent)
	rig.engine.Tick(now.Add(wire.OfferStallTimeout + wire.AdvertiseInterval))
	if len(rig.transport.sent) != sent+1 {
		t.Error("engine did not resume the advertisement cadence")
	}
}

func TestCancelWhileWaitingConfirmSendsAbort(t *testing.T) {
	rig := newTestRig(t, nil)
	now := time.Now()
	rig.engine.Initialize(now)
	rig.engine.StartAdvertising(now)

	offer := offerFor(rig.engine)
	rig.engine.HandleOffer(now, offer, testCoordAddr)

	if !rig.engine.CancelPairing(now) {
		t.Fatal("CancelPairing returned false while WAITING_CONFIRM")
	}

	abort, ok := rig.transport.lastMsg().(*wire.Abort)
	if !ok {
		t.Fatalf("last frame is %T, want *wire.Abort", rig.transport.lastMsg())
	}
	if abort.Reason != wire.ReasonNodeCancelled {
		t.Errorf("abort reason = %v, want %v", abort.Reason, wire.ReasonNodeCancelled)
	}
	result, ok := rig.sink.last()
	if !ok || result != ResultCancelled {
		t.Errorf("completion = %v (%v), want %v", result, ok, ResultCancelled)
	}
}

func TestCancelWhileAdvertisingSendsNothing(t *testing.T) {
	rig := newTestRig(t, nil)
	now := time.Now()
	rig.engine.Initialize(now)
	rig.engine.StartAdvertising(now)
	before := len(rig.transport.sent)

	if !rig.engine.CancelPairing(now) {
		t.Fatal("CancelPairing returned false while ADVERTISING")
	}
	if len(rig.transport.sent) != before {
		t.Error("cancel from ADVERTISING sent a frame")
	}
	result, ok := rig.sink.last()
	if !ok || result != ResultCancelled {
		t.Errorf("completion = %v (%v), want %v", result, ok, ResultCancelled)
	}
}

func TestCancelWhenIdle(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.engine.Initialize(time.Now())
	if rig.engine.CancelPairing(time.Now()) {
		t.Error("CancelPairing returned true while UNPAIRED")
	}
}

func TestRejectDuringAdvertising(t *testing.T) {
	rig := newTestRig(t, nil)
	now := time.Now()
	rig.engine.Initialize(now)
	rig.engine.StartAdvertising(now)

	reject := &wire.Reject{
		MsgType: wire.MsgReject,
		Addr:    testCoordAddr,
		Reason:  wire.ReasonUserRejected,
	}
	if !rig.engine.HandleReject(now, reject) {
		t.Fatal("reject was not processed while ADVERTISING")
	}
	result, ok := rig.sink.last()
	if !ok || result != ResultRejected {
		t.Errorf("completion = %v (%v), want %v", result, ok, ResultRejected)
	}
}

func TestRejectTokenMatching(t *testing.T) {
	rig := newTestRig(t, nil)
	now := time.Now()
	rig.engine.Initialize(now)
	rig.engine.StartAdvertising(now)

	offer := offerFor(rig.engine)
	rig.engine.HandleOffer(now, offer, testCoordAddr)

	// A reject for someone else's token is ignored.
	wrong := &wire.Reject{MsgType: wire.MsgReject, Addr: testCoordAddr,
		Reason: wire.ReasonPermitJoinDisabled, Token: offer.Token + 1}
	if rig.engine.HandleReject(now, wrong) {
		t.Error("reject with mismatched token was processed")
	}
	if got := rig.engine.State(); got != StateWaitingConfirm {
		t.Fatalf("state = %v, want %v", got, StateWaitingConfirm)
	}

	// A zero token is a wildcard.
	wildcard := &wire.Reject{MsgType: wire.MsgReject, Addr: testCoordAddr,
		Reason: wire.ReasonPermitJoinDisabled}
	if !rig.engine.HandleReject(now, wildcard) {
		t.Error("wildcard reject was not processed")
	}
	result, ok := rig.sink.last()
	if !ok || result != ResultRejected {
		t.Errorf("completion = %v (%v), want %v", result, ok, ResultRejected)
	}
}

func TestAcceptSendFailureResumesAdvertising(t *testing.T) {
	rig := newTestRig(t, nil)
	now := time.Now()
	rig.engine.Initialize(now)
	rig.engine.StartAdvertising(now)

	rig.transport.failUnicast = true
	offer := offerFor(rig.engine)
	if rig.engine.HandleOffer(now, offer, testCoordAddr) {
		t.Error("HandleOffer reported success despite send failure")
	}
	if got := rig.engine.State(); got != StateAdvertising {
		t.Errorf("state = %v, want %v", got, StateAdvertising)
	}

	// The attempt can still succeed once the radio recovers.
	rig.transport.failUnicast = false
	retry := offerFor(rig.engine)
	if !rig.engine.HandleOffer(now, retry, testCoordAddr) {
		t.Error("retried offer was not accepted")
	}
}

func TestReset(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.store.creds = &Credentials{BindingID: 5, CoordAddr: testCoordAddr}
	now := time.Now()
	rig.engine.Initialize(now)

	rig.engine.Reset()

	if got := rig.engine.State(); got != StateUnpaired {
		t.Errorf("state = %v, want %v", got, StateUnpaired)
	}
	if rig.store.creds != nil {
		t.Error("credentials survived reset")
	}
	if got := rig.engine.BindingID(); got != 0 {
		t.Errorf("binding id = %d, want 0", got)
	}
}

func TestEnterOperational(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.store.creds = &Credentials{BindingID: 3, CoordAddr: testCoordAddr}
	now := time.Now()
	rig.engine.Initialize(now)

	rig.engine.EnterOperational()
	if got := rig.engine.State(); got != StateOperational {
		t.Errorf("state = %v, want %v", got, StateOperational)
	}

	// Only BOUND may enter OPERATIONAL.
	rig2 := newTestRig(t, nil)
	rig2.engine.Initialize(now)
	rig2.engine.EnterOperational()
	if got := rig2.engine.State(); got != StateUnpaired {
		t.Errorf("state = %v, want %v", got, StateUnpaired)
	}
}

func TestAdvertisingRemaining(t *testing.T) {
	rig := newTestRig(t, nil)
	now := time.Now()
	rig.engine.Initialize(now)

	if got := rig.engine.AdvertisingRemaining(now); got != 0 {
		t.Errorf("remaining while idle = %v, want 0", got)
	}

	rig.engine.StartAdvertising(now)
	half := now.Add(wire.AdvertiseTimeout / 2)
	if got := rig.engine.AdvertisingRemaining(half); got != wire.AdvertiseTimeout/2 {
		t.Errorf("remaining at half = %v, want %v", got, wire.AdvertiseTimeout/2)
	}
}

func TestStateListenerSeesTransitions(t *testing.T) {
	rig := newTestRig(t, nil)
	now := time.Now()
	rig.engine.Initialize(now)
	rig.engine.StartAdvertising(now)
	offer := offerFor(rig.engine)
	rig.engine.HandleOffer(now, offer, testCoordAddr)
	rig.engine.HandleConfirm(now, confirmFor(offer), testCoordAddr)

	want := []State{
		StateUnpaired, StateAdvertising,
		StateOfferReceived, StateWaitingConfirm, StateBound,
	}
	if len(rig.states.transitions) != len(want) {
		t.Fatalf("saw %d transitions %v, want %d", len(rig.states.transitions),
			rig.states.transitions, len(want))
	}
	for i, s := range want {
		if rig.states.transitions[i] != s {
			t.Errorf("transition %d = %v, want %v", i, rig.states.transitions[i], s)
		}
	}
}
