package orbit

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const hkdfInfo = "kepler host key"

// Secret is the host's static secret material, read once at startup and
// never exposed as an ambient global: every component that needs a
// per-orbit host key gets it by calling DeriveHostKey explicitly.
type Secret struct {
	material []byte
}

// NewSecret wraps raw secret bytes (§6 "keys.secret", ≥32 bytes).
func NewSecret(material []byte) (*Secret, error) {
	if len(material) < 32 {
		return nil, fmt.Errorf("orbit: static secret must be at least 32 bytes, got %d", len(material))
	}
	return &Secret{material: material}, nil
}

// DeriveHostKey derives the host's per-orbit Ed25519 keypair via
// HKDF(static_secret, salt=orbit_id, info="kepler host key") (§4.6 step 1).
func (s *Secret) DeriveHostKey(orbitID string) (ed25519.PrivateKey, error) {
	hk := hkdf.New(sha256.New, s.material, []byte(orbitID), []byte(hkdfInfo))
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(hk, seed); err != nil {
		return nil, fmt.Errorf("orbit: hkdf expand failed: %w", err)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}
