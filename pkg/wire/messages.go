package wire

import (
	"errors"
)

// Pairing message types. The values double as the frame discriminator byte
// range used by the firmware's binary framing, so captures line up.
const (
	// MsgAdvertisement announces an unpaired node to any listening coordinator.
	MsgAdvertisement uint8 = 0x20

	// MsgOffer invites an advertising node to bind (coordinator -> node).
	MsgOffer uint8 = 0x21

	// MsgAccept accepts an offer (node -> coordinator).
	MsgAccept uint8 = 0x22

	// MsgConfirm completes the binding and delivers credentials.
	MsgConfirm uint8 = 0x23

	// MsgReject denies or cancels a pairing attempt (coordinator -> node).
	MsgReject uint8 = 0x24

	// MsgAbort cancels a pairing attempt from the node side.
	MsgAbort uint8 = 0x25
)

// Codec errors.
var (
	ErrInvalidMessage = errors.New("invalid pairing message")
)

// Confirm config flag layout: bit 0 = link key present, upper nibble = fixed
// radio channel (0 = stay on the current channel).
const (
	confirmFlagLinkKey  uint8 = 0x01
	confirmChannelShift       = 4
)

// Advertisement is broadcast periodically by an unpaired node.
// CBOR: { 1: msgType, 2: version, 3: addr, 4: deviceType, 5: firmware,
// 6: capabilities, 7: nonce, 8: sequence, 9: rssiHint }
type Advertisement struct {
	MsgType      uint8           `cbor:"1,keyasint"`
	Version      uint8           `cbor:"2,keyasint"`
	Addr         HWAddr          `cbor:"3,keyasint"`
	DeviceType   DeviceType      `cbor:"4,keyasint"`
	Firmware     FirmwareVersion `cbor:"5,keyasint"`
	Capabilities Capability      `cbor:"6,keyasint"`
	Nonce        uint32          `cbor:"7,keyasint"`
	Sequence     uint16          `cbor:"8,keyasint"`
	RSSIHint     int8            `cbor:"9,keyasint,omitempty"` // node's own signal estimate, informational
}

// Offer is unicast by the coordinator after operator approval.
// CBOR: { 1: msgType, 2: version, 3: coordAddr, 4: coordinatorId, 5: farmId,
// 6: bindingId, 7: nonceEcho, 8: token, 9: channel }
type Offer struct {
	MsgType       uint8  `cbor:"1,keyasint"`
	Version       uint8  `cbor:"2,keyasint"`
	CoordAddr     HWAddr `cbor:"3,keyasint"`
	CoordinatorID uint16 `cbor:"4,keyasint"`
	FarmID        uint16 `cbor:"5,keyasint"`
	BindingID     uint16 `cbor:"6,keyasint"` // offered binding identifier
	NonceEcho     uint32 `cbor:"7,keyasint"` // must equal the node's current nonce
	Token         uint32 `cbor:"8,keyasint"` // fresh per-offer correlation token
	Channel       uint8  `cbor:"9,keyasint,omitempty"`
}

// Accept is unicast by the node in response to a valid Offer.
// CBOR: { 1: msgType, 2: addr, 3: token, 4: bindingId }
type Accept struct {
	MsgType   uint8  `cbor:"1,keyasint"`
	Addr      HWAddr `cbor:"2,keyasint"`
	Token     uint32 `cbor:"3,keyasint"` // echoed offer token, proves receipt
	BindingID uint16 `cbor:"4,keyasint"` // echoed binding identifier
}

// Confirm completes a binding. LinkKey and a fixed channel are optional;
// their presence is signalled via Flags.
// CBOR: { 1: msgType, 2: coordAddr, 3: bindingId, 4: linkKey, 5: flags }
type Confirm struct {
	MsgType   uint8  `cbor:"1,keyasint"`
	CoordAddr HWAddr `cbor:"2,keyasint"`
	BindingID uint16 `cbor:"3,keyasint"`
	LinkKey   []byte `cbor:"4,keyasint,omitempty"` // 16 bytes when present
	Flags     uint8  `cbor:"5,keyasint,omitempty"`
}

// HasLinkKey reports whether the confirm carries a per-link symmetric key.
func (c *Confirm) HasLinkKey() bool {
	return c.Flags&confirmFlagLinkKey != 0 && len(c.LinkKey) == LinkKeySize
}

// SetLinkKey attaches a per-link key and sets the corresponding flag.
func (c *Confirm) SetLinkKey(key []byte) {
	c.LinkKey = key
	if len(key) == LinkKeySize {
		c.Flags |= confirmFlagLinkKey
	} else {
		c.Flags &^= confirmFlagLinkKey
	}
}

// FixedChannel returns the fixed radio channel, or 0 if the node should stay
// on its current channel.
func (c *Confirm) FixedChannel() uint8 {
	return c.Flags >> confirmChannelShift
}

// SetFixedChannel encodes a fixed radio channel (1-13) into the flags byte.
func (c *Confirm) SetFixedChannel(ch uint8) {
	c.Flags = c.Flags&0x0F | ch<<confirmChannelShift
}

// Reject denies a pairing attempt. A zero Token applies regardless of any
// outstanding offer.
// CBOR: { 1: msgType, 2: addr, 3: reason, 4: token }
type Reject struct {
	MsgType uint8  `cbor:"1,keyasint"`
	Addr    HWAddr `cbor:"2,keyasint"` // sender (coordinator) address
	Reason  Reason `cbor:"3,keyasint"`
	Token   uint32 `cbor:"4,keyasint,omitempty"`
}

// Abort cancels a pairing attempt from the node side.
// CBOR: { 1: msgType, 2: addr, 3: reason, 4: token }
type Abort struct {
	MsgType uint8  `cbor:"1,keyasint"`
	Addr    HWAddr `cbor:"2,keyasint"` // sender (node) address
	Reason  Reason `cbor:"3,keyasint"`
	Token   uint32 `cbor:"4,keyasint,omitempty"`
}

// NewAdvertisement builds an advertisement frame for the given identity and
// replay-protection state.
func NewAdvertisement(addr HWAddr, dt DeviceType, fw FirmwareVersion, caps Capability, nonce uint32, seq uint16) *Advertisement {
	return &Advertisement{
		MsgType:      MsgAdvertisement,
		Version:      ProtocolVersion,
		Addr:         addr,
		DeviceType:   dt,
		Firmware:     fw,
		Capabilities: caps,
		Nonce:        nonce,
		Sequence:     seq,
	}
}
