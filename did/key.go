package did

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"strings"

	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-varint"
)

// multicodec code for an Ed25519 public key, per the did:key method spec.
const edPubMulticodec = 0xed

// KeyResolver resolves did:key identifiers entirely offline: the DID
// itself is a multibase-encoded, multicodec-tagged public key, so no
// network round-trip or registry lookup is needed (§9 "Pluggable DID
// resolution" — this is the simplest possible Resolver implementation).
type KeyResolver struct{}

func (KeyResolver) Resolve(ctx context.Context, didStr string) (*Document, error) {
	const prefix = "did:key:"
	if !strings.HasPrefix(didStr, prefix) {
		return nil, fmt.Errorf("did: not a did:key: %q", didStr)
	}
	encoded := strings.TrimPrefix(didStr, prefix)

	_, data, err := multibase.Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("did:key: multibase decode failed: %w", err)
	}
	code, n, err := varint.FromUvarint(data)
	if err != nil {
		return nil, fmt.Errorf("did:key: multicodec decode failed: %w", err)
	}
	pub := data[n:]

	switch code {
	case edPubMulticodec:
		if len(pub) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("did:key: invalid ed25519 key length %d", len(pub))
		}
		return &Document{
			ID: didStr,
			VerificationMethod: []VerificationMethod{{
				ID:             didStr + "#" + encoded,
				Type:           "Ed25519VerificationKey2020",
				PublicKeyBytes: pub,
			}},
		}, nil
	default:
		return nil, fmt.Errorf("did:key: unsupported multicodec 0x%x", code)
	}
}

// NewKeyDID encodes a raw Ed25519 public key as a did:key identifier.
func NewKeyDID(pub ed25519.PublicKey) (string, error) {
	prefixed := varint.ToUvarint(edPubMulticodec)
	prefixed = append(prefixed, pub...)
	encoded, err := multibase.Encode(multibase.Base58BTC, prefixed)
	if err != nil {
		return "", err
	}
	return "did:key:" + encoded, nil
}
