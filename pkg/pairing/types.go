package pairing

import (
	"github.com/towerlink-protocol/towerlink-go/pkg/wire"
)

// State is the node pairing engine state.
type State uint8

const (
	// StateInit is the transient startup state before Initialize runs.
	StateInit State = iota

	// StateUnpaired means no credentials exist and pairing is idle.
	StateUnpaired

	// StateAdvertising means the node is broadcasting advertisements.
	StateAdvertising

	// StateOfferReceived is the brief window between validating an offer
	// and getting the accept onto the air.
	StateOfferReceived

	// StateWaitingConfirm means an accept was sent and the node is
	// waiting for the coordinator's confirm.
	StateWaitingConfirm

	// StateBound means credentials are persisted and the binding holds.
	StateBound

	// StateOperational is normal operation after pairing.
	StateOperational
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateUnpaired:
		return "UNPAIRED"
	case StateAdvertising:
		return "ADVERTISING"
	case StateOfferReceived:
		return "OFFER_RECEIVED"
	case StateWaitingConfirm:
		return "WAITING_CONFIRM"
	case StateBound:
		return "BOUND"
	case StateOperational:
		return "OPERATIONAL"
	default:
		return "UNKNOWN"
	}
}

// Result is the outcome of a completed pairing attempt.
type Result uint8

const (
	// ResultSuccess means the node is bound and credentials are persisted.
	ResultSuccess Result = iota

	// ResultTimeout means advertising or the confirm wait timed out.
	ResultTimeout

	// ResultRejected means the coordinator sent a Reject.
	ResultRejected

	// ResultCancelled means the operator cancelled the attempt locally.
	ResultCancelled

	// ResultNonceMismatch means an offer echoed a nonce that is not the
	// engine's current nonce.
	ResultNonceMismatch

	// ResultTokenMismatch means a confirm carried an unexpected binding
	// identifier.
	ResultTokenMismatch

	// ResultStorageError means credential persistence failed.
	ResultStorageError

	// ResultInternalError covers everything that should not happen.
	ResultInternalError
)

// String returns the result name.
func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "SUCCESS"
	case ResultTimeout:
		return "TIMEOUT"
	case ResultRejected:
		return "REJECTED"
	case ResultCancelled:
		return "CANCELLED"
	case ResultNonceMismatch:
		return "NONCE_MISMATCH"
	case ResultTokenMismatch:
		return "TOKEN_MISMATCH"
	case ResultStorageError:
		return "STORAGE_ERROR"
	case ResultInternalError:
		return "INTERNAL_ERROR"
	default:
		return "UNKNOWN"
	}
}

// Identity is a device's immutable pairing identity, established once at
// engine initialization.
type Identity struct {
	Addr         wire.HWAddr
	DeviceType   wire.DeviceType
	Firmware     wire.FirmwareVersion
	Capabilities wire.Capability
}

// Credentials is the persisted record of a successful binding.
type Credentials struct {
	// BindingID is the identifier assigned by the coordinator.
	BindingID uint16 `json:"binding_id"`

	// CoordAddr is the coordinator's hardware address.
	CoordAddr wire.HWAddr `json:"coord_addr"`

	// LinkKey is the optional 16-byte per-link symmetric key.
	LinkKey []byte `json:"link_key,omitempty"`

	// Channel is the optional fixed radio channel (0 = unchanged).
	Channel uint8 `json:"channel,omitempty"`
}

// CredentialStore persists a node's binding credentials. Save must be atomic
// from the caller's perspective: either the whole record survives a power
// loss or none of it does.
type CredentialStore interface {
	// Load returns the stored credentials, or (nil, nil) if none exist.
	Load() (*Credentials, error)

	// Save persists the credentials atomically.
	Save(c *Credentials) error

	// Erase removes any stored credentials. Erasing an empty store is
	// not an error.
	Erase() error
}

// CompletionSink receives the outcome of each pairing attempt. bindingID is
// only meaningful when result is ResultSuccess.
type CompletionSink interface {
	PairingComplete(result Result, bindingID uint16)
}

// StateListener observes engine state transitions.
type StateListener interface {
	StateChanged(oldState, newState State)
}
