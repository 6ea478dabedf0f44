package discovery

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/towerlink-protocol/towerlink-go/pkg/wire"
)

// HKDFKeyDeriver derives per-link keys from a farm-wide master secret via
// HKDF-SHA256, with the node's hardware address as the info parameter. The
// same (secret, addr) pair always yields the same key, so a re-pairing node
// gets its previous key back.
type HKDFKeyDeriver struct {
	secret []byte
	salt   []byte
}

// NewHKDFKeyDeriver creates a deriver from the master secret. The secret
// must be at least 16 bytes.
func NewHKDFKeyDeriver(secret, salt []byte) (*HKDFKeyDeriver, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("master secret too short: %d bytes, need at least 16", len(secret))
	}
	return &HKDFKeyDeriver{
		secret: append([]byte(nil), secret...),
		salt:   append([]byte(nil), salt...),
	}, nil
}

// DeriveLinkKey returns the 16-byte link key for the given node address.
func (d *HKDFKeyDeriver) DeriveLinkKey(addr wire.HWAddr) ([]byte, error) {
	info := append([]byte("towerlink-linkkey-v1:"), addr[:]...)
	r := hkdf.New(sha256.New, d.secret, d.salt, info)
	key := make([]byte, wire.LinkKeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("deriving link key for %s: %w", addr, err)
	}
	return key, nil
}

var _ KeyDeriver = (*HKDFKeyDeriver)(nil)
