package capability

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
)

// Signature algorithm identifiers carried in a capability/invocation's
// PROOF section, mirroring the teacher's dual-suite signer.
const (
	AlgEd25519    = "ed25519"
	AlgDilithium3 = "dilithium3"
)

func encodeBase64(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(b)
}

func decodeBase64(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}

// Signer signs a digest-over-scope with one of Kepler's two supported
// suites. Sign and verifySignature below are the only places that dispatch
// on the signature suite, so adding a third suite touches only this file
// (keystore.go handles Ed25519 key files only).
type Signer struct {
	Alg          string
	Ed25519Key   ed25519.PrivateKey
	DilithiumKey *mode3.PrivateKey
}

// Sign signs sha256(scope) and returns the raw signature bytes.
func (s *Signer) Sign(scope []byte) ([]byte, error) {
	digest := sha256.Sum256(scope)
	switch s.Alg {
	case AlgEd25519:
		if s.Ed25519Key == nil {
			return nil, fmt.Errorf("capability: signer missing ed25519 key")
		}
		return ed25519.Sign(s.Ed25519Key, digest[:]), nil
	case AlgDilithium3:
		if s.DilithiumKey == nil {
			return nil, fmt.Errorf("capability: signer missing dilithium3 key")
		}
		sig := make([]byte, mode3.SignatureSize)
		mode3.SignTo(s.DilithiumKey, digest[:], sig)
		return sig, nil
	default:
		return nil, fmt.Errorf("capability: unsupported signature-alg %q", s.Alg)
	}
}

// NewEd25519Signer constructs a Signer from a raw Ed25519 private key.
func NewEd25519Signer(priv ed25519.PrivateKey) *Signer {
	return &Signer{Alg: AlgEd25519, Ed25519Key: priv}
}

// NewDilithium3Signer constructs a Signer from a Dilithium3 private key.
func NewDilithium3Signer(priv *mode3.PrivateKey) *Signer {
	return &Signer{Alg: AlgDilithium3, DilithiumKey: priv}
}

// GenerateDilithium3Keypair returns a new Dilithium3 keypair, grounded on
// the teacher's keys.GenerateDilithium3Keypair.
func GenerateDilithium3Keypair(rand io.Reader) (*mode3.PublicKey, *mode3.PrivateKey, error) {
	return mode3.GenerateKey(rand)
}

// verifySignature checks sig over sha256(scope) under pub, dispatching on
// alg. pub is the raw verification-method key bytes as resolved from the
// issuer's DID document.
func verifySignature(alg string, pub, sig, scope []byte) error {
	digest := sha256.Sum256(scope)
	switch alg {
	case AlgEd25519:
		if len(pub) != ed25519.PublicKeySize {
			return fmt.Errorf("capability: invalid ed25519 public key length")
		}
		if !ed25519.Verify(ed25519.PublicKey(pub), digest[:], sig) {
			return fmt.Errorf("capability: signature invalid")
		}
		return nil
	case AlgDilithium3:
		var pk mode3.PublicKey
		if err := pk.UnmarshalBinary(pub); err != nil {
			return fmt.Errorf("capability: invalid dilithium3 public key: %w", err)
		}
		if !mode3.Verify(&pk, digest[:], sig) {
			return fmt.Errorf("capability: signature invalid")
		}
		return nil
	default:
		return fmt.Errorf("capability: unsupported signature-alg %q", alg)
	}
}
