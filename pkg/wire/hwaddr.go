package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// HWAddr is a 6-byte radio hardware address.
type HWAddr [6]byte

// ParseHWAddr parses a "AA:BB:CC:DD:EE:FF" formatted address.
// Lowercase hex digits and '-' separators are accepted.
func ParseHWAddr(s string) (HWAddr, error) {
	var a HWAddr
	if len(s) != 17 {
		return a, fmt.Errorf("invalid hardware address %q: want 17 characters", s)
	}
	for i := 0; i < 6; i++ {
		hi, ok1 := hexNibble(s[i*3])
		lo, ok2 := hexNibble(s[i*3+1])
		if !ok1 || !ok2 {
			return HWAddr{}, fmt.Errorf("invalid hardware address %q: bad hex at octet %d", s, i)
		}
		a[i] = hi<<4 | lo
		if i < 5 {
			if sep := s[i*3+2]; sep != ':' && sep != '-' {
				return HWAddr{}, fmt.Errorf("invalid hardware address %q: bad separator", s)
			}
		}
	}
	return a, nil
}

// String formats the address as "AA:BB:CC:DD:EE:FF".
func (a HWAddr) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a[0], a[1], a[2], a[3], a[4], a[5])
}

// IsZero reports whether the address is all zeroes.
func (a HWAddr) IsZero() bool {
	return a == HWAddr{}
}

// MarshalCBOR encodes the address as a 6-byte CBOR byte string.
func (a HWAddr) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(a[:])
}

// UnmarshalCBOR decodes the address from a CBOR byte string.
func (a *HWAddr) UnmarshalCBOR(data []byte) error {
	var b []byte
	if err := cbor.Unmarshal(data, &b); err != nil {
		return fmt.Errorf("hardware address: %w", err)
	}
	if len(b) != 6 {
		return fmt.Errorf("hardware address: got %d bytes, want 6", len(b))
	}
	copy(a[:], b)
	return nil
}

// MarshalJSON encodes the address as its "AA:BB:CC:DD:EE:FF" string form.
func (a HWAddr) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON decodes the address from its string form.
func (a *HWAddr) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("hardware address: not a JSON string")
	}
	addr, err := ParseHWAddr(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*a = addr
	return nil
}

func hexNibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
