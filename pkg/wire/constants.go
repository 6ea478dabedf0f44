package wire

import "time"

// ProtocolVersion is the pairing protocol version implemented by this library.
const ProtocolVersion uint8 = 0x02

// Protocol timing constants.
const (
	// AdvertiseInterval is the base interval between advertisement broadcasts.
	AdvertiseInterval = 100 * time.Millisecond

	// AdvertiseJitter is the symmetric random jitter applied to each
	// advertisement interval so co-located nodes don't transmit in lockstep.
	AdvertiseJitter = 20 * time.Millisecond

	// AdvertiseTimeout is how long a node advertises before giving up.
	AdvertiseTimeout = 5 * time.Minute

	// NonceRotation is how often an advertising node generates a new nonce.
	NonceRotation = 30 * time.Second

	// DiscoveryTTL is how long a coordinator keeps an unrefreshed,
	// non-bound discovery entry before expiring it.
	DiscoveryTTL = 30 * time.Second

	// DefaultPermitJoin is the default permit-join window duration.
	DefaultPermitJoin = 60 * time.Second

	// MaxPermitJoin is the longest permit-join window an operator may open.
	MaxPermitJoin = 5 * time.Minute

	// BindingTimeout is how long a coordinator waits for an Accept after
	// sending an Offer before failing the binding attempt.
	BindingTimeout = 10 * time.Second

	// ConfirmTimeout is how long a node waits for a Confirm after sending
	// an Accept before aborting the attempt.
	ConfirmTimeout = 5 * time.Second

	// OfferStallTimeout bounds the transient OFFER_RECEIVED state on the
	// node; past it the node assumes the accept send went wrong and
	// resumes advertising.
	OfferStallTimeout = 1 * time.Second
)

// Capacity limits.
const (
	// MaxDiscovered bounds the coordinator's discovery table.
	MaxDiscovered = 32

	// MaxFrameSize is the radio frame payload budget in bytes.
	MaxFrameSize = 250

	// LinkKeySize is the length of the optional per-link symmetric key.
	LinkKeySize = 16
)

// DeviceType identifies the kind of field device advertising for pairing.
type DeviceType uint8

const (
	DeviceUnknown     DeviceType = 0
	DeviceTower       DeviceType = 1
	DeviceSensor      DeviceType = 2
	DeviceLightNode   DeviceType = 3
	DeviceCoordinator DeviceType = 4
)

// String returns a human-readable device type name.
func (t DeviceType) String() string {
	switch t {
	case DeviceUnknown:
		return "UNKNOWN"
	case DeviceTower:
		return "TOWER"
	case DeviceSensor:
		return "SENSOR"
	case DeviceLightNode:
		return "LIGHT_NODE"
	case DeviceCoordinator:
		return "COORDINATOR"
	default:
		return "UNKNOWN"
	}
}

// Capability is the device capability bitmask reported in advertisements.
type Capability uint16

const (
	CapNone           Capability = 0x0000
	CapClimateSensor  Capability = 0x0001 // temperature/humidity sensor
	CapLightSensor    Capability = 0x0002
	CapPumpRelay      Capability = 0x0004
	CapGrowLight      Capability = 0x0008
	CapRGBWLED        Capability = 0x0010
	CapDeepSleep      Capability = 0x0020
	CapButton         Capability = 0x0040
	CapTempI2C        Capability = 0x0080
	CapPresenceSensor Capability = 0x0100
	CapBattery        Capability = 0x0200
)

// Has reports whether all bits of c are set.
func (caps Capability) Has(c Capability) bool {
	return caps&c == c
}

// Reason is a reject/abort reason code. The coordinator-originated set is a
// superset of the reasons a node will ever send.
type Reason uint8

const (
	ReasonNone               Reason = 0
	ReasonPermitJoinDisabled Reason = 1
	ReasonCapacityFull       Reason = 2
	ReasonDuplicateAddr      Reason = 3
	ReasonTimeout            Reason = 4
	ReasonUserRejected       Reason = 5
	ReasonProtocolMismatch   Reason = 6
	ReasonInternalError      Reason = 7
	ReasonNodeCancelled      Reason = 8
	ReasonInvalidToken       Reason = 9
	ReasonAlreadyPaired      Reason = 10
)

// String returns a human-readable reason name.
func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "NONE"
	case ReasonPermitJoinDisabled:
		return "PERMIT_JOIN_DISABLED"
	case ReasonCapacityFull:
		return "CAPACITY_FULL"
	case ReasonDuplicateAddr:
		return "DUPLICATE_ADDR"
	case ReasonTimeout:
		return "TIMEOUT"
	case ReasonUserRejected:
		return "USER_REJECTED"
	case ReasonProtocolMismatch:
		return "PROTOCOL_MISMATCH"
	case ReasonInternalError:
		return "INTERNAL_ERROR"
	case ReasonNodeCancelled:
		return "NODE_CANCELLED"
	case ReasonInvalidToken:
		return "INVALID_TOKEN"
	case ReasonAlreadyPaired:
		return "ALREADY_PAIRED"
	default:
		return "UNKNOWN"
	}
}
