package discovery

import (
	"time"

	"github.com/towerlink-protocol/towerlink-go/pkg/wire"
)

// EntryState is the per-entry binding state in the discovery table.
type EntryState uint8

const (
	// EntryDiscovered means the node was seen but no decision was made.
	EntryDiscovered EntryState = iota

	// EntryPending means the entry is queued for operator review.
	EntryPending

	// EntryOfferSent means an Offer is out and an Accept is awaited.
	EntryOfferSent

	// EntryBinding means the Accept matched and the Confirm is being sent.
	EntryBinding

	// EntryBound means the binding completed and was committed.
	EntryBound

	// EntryRejected means the operator declined the node. The entry stays
	// in the table until the discovery TTL expires it.
	EntryRejected

	// EntryFailed means the binding attempt timed out or was aborted.
	EntryFailed
)

// String returns the entry state name.
func (s EntryState) String() string {
	switch s {
	case EntryDiscovered:
		return "DISCOVERED"
	case EntryPending:
		return "PENDING"
	case EntryOfferSent:
		return "OFFER_SENT"
	case EntryBinding:
		return "BINDING"
	case EntryBound:
		return "BOUND"
	case EntryRejected:
		return "REJECTED"
	case EntryFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Entry is one discovered node. Engine methods return copies; mutating a
// returned Entry has no effect on the table.
type Entry struct {
	Addr         wire.HWAddr
	DeviceType   wire.DeviceType
	Firmware     wire.FirmwareVersion
	Capabilities wire.Capability

	// Nonce and Sequence mirror the node's most recent advertisement.
	Nonce    uint32
	Sequence uint16
	RSSI     int

	FirstSeen time.Time
	LastSeen  time.Time

	State EntryState

	// Token and BindingID are set once an offer goes out.
	Token     uint32
	BindingID uint16
}

// CoordinatorIdentity is the coordinator's own identity as sent in offers
// and confirms.
type CoordinatorIdentity struct {
	Addr          wire.HWAddr
	CoordinatorID uint16
	FarmID        uint16

	// Channel, when nonzero, is delivered to nodes as the fixed radio
	// channel in the Confirm.
	Channel uint8
}

// BoundNode is a completed binding handed to the registry.
type BoundNode struct {
	Addr         wire.HWAddr
	BindingID    uint16
	DeviceType   wire.DeviceType
	Firmware     wire.FirmwareVersion
	Capabilities wire.Capability
	LinkKey      []byte
	BoundAt      time.Time
}

// Registry persists completed bindings and allocates binding identifiers.
type Registry interface {
	// NextBindingID returns a binding identifier not used by any current
	// binding. Identifiers are nonzero.
	NextBindingID() (uint16, error)

	// Commit durably records a completed binding.
	Commit(node BoundNode) error
}

// KeyDeriver produces the per-link symmetric key delivered in the Confirm.
// A nil deriver means bindings carry no link key.
type KeyDeriver interface {
	DeriveLinkKey(addr wire.HWAddr) ([]byte, error)
}
