package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Encode encodes a pairing message to CBOR bytes.
func Encode(msg interface{}) ([]byte, error) {
	data, err := cbor.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encoding pairing message: %w", err)
	}
	if len(data) > MaxFrameSize {
		return nil, fmt.Errorf("%w: encoded size %d exceeds frame budget", ErrInvalidMessage, len(data))
	}
	return data, nil
}

// Decode decodes CBOR bytes to the appropriate pairing message type.
func Decode(data []byte) (interface{}, error) {
	// First, decode just the discriminator.
	var header struct {
		MsgType uint8 `cbor:"1,keyasint"`
	}
	if err := cbor.Unmarshal(data, &header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	switch header.MsgType {
	case MsgAdvertisement:
		var msg Advertisement
		if err := cbor.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		return &msg, nil

	case MsgOffer:
		var msg Offer
		if err := cbor.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		return &msg, nil

	case MsgAccept:
		var msg Accept
		if err := cbor.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		return &msg, nil

	case MsgConfirm:
		var msg Confirm
		if err := cbor.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		return &msg, nil

	case MsgReject:
		var msg Reject
		if err := cbor.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		return &msg, nil

	case MsgAbort:
		var msg Abort
		if err := cbor.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		return &msg, nil

	default:
		return nil, fmt.Errorf("%w: unknown message type 0x%02x", ErrInvalidMessage, header.MsgType)
	}
}

// MessageType returns the discriminator of a decoded message, or 0 if the
// value is not a pairing message.
func MessageType(msg interface{}) uint8 {
	switch m := msg.(type) {
	case *Advertisement:
		return m.MsgType
	case *Offer:
		return m.MsgType
	case *Accept:
		return m.MsgType
	case *Confirm:
		return m.MsgType
	case *Reject:
		return m.MsgType
	case *Abort:
		return m.MsgType
	default:
		return 0
	}
}

// MessageTypeName returns a human-readable name for a discriminator byte.
func MessageTypeName(t uint8) string {
	switch t {
	case MsgAdvertisement:
		return "ADVERTISEMENT"
	case MsgOffer:
		return "OFFER"
	case MsgAccept:
		return "ACCEPT"
	case MsgConfirm:
		return "CONFIRM"
	case MsgReject:
		return "REJECT"
	case MsgAbort:
		return "ABORT"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", t)
	}
}
