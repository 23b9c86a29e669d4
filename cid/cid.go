// Package cid computes and normalizes the content identifiers Kepler uses to
// address blocks. A CID is self-describing: version, multicodec, and
// multihash are all carried in the identifier itself, so two CIDs are equal
// iff their binary forms match, regardless of which multibase produced the
// textual form on the wire (§3 "CID (Content Identifier)").
package cid

import (
	"fmt"

	gocid "github.com/ipfs/go-cid"
	"github.com/multiformats/go-multibase"
	"github.com/multiformats/go-multihash"
)

// Codec identifies the IPLD codec a block was encoded with.
type Codec uint64

const (
	Raw     Codec = gocid.Raw
	DagJSON Codec = 0x0129
	DagCBOR Codec = gocid.DagCBOR
	// MsgPack has no IANA-assigned multicodec; Kepler reserves a private-use
	// code for it so MsgPack blocks remain distinguishable from DAG-CBOR ones.
	MsgPack Codec = 0x0301
)

// DefaultBase is the multibase Kepler normalizes to internally and on output
// (§4.4 "default multibase Base32 lowercase").
const DefaultBase = multibase.Base32

// Of computes the CIDv1 (given codec, sha2-256) for data.
func Of(codec Codec, data []byte) (gocid.Cid, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return gocid.Undef, fmt.Errorf("cid: hashing failed: %w", err)
	}
	return gocid.NewCidV1(uint64(codec), sum), nil
}

// OfRaw is the common case: CIDv1, raw codec, sha2-256.
func OfRaw(data []byte) (gocid.Cid, error) {
	return Of(Raw, data)
}

// String renders c in the default (Base32 lowercase) multibase.
func String(c gocid.Cid) (string, error) {
	return c.StringOfBase(DefaultBase)
}

// Parse decodes a textual CID in any multibase and normalizes it: the
// returned Cid's canonical String() always uses DefaultBase, so two textual
// forms of the same bytes compare equal after Parse regardless of which
// multibase the caller used (§3 "CID… Equality").
func Parse(s string) (gocid.Cid, error) {
	c, err := gocid.Decode(s)
	if err != nil {
		return gocid.Undef, fmt.Errorf("cid: %w", err)
	}
	if !c.Defined() {
		return gocid.Undef, fmt.Errorf("cid: undefined CID")
	}
	return c, nil
}

// Equal reports whether two CIDs refer to byte-identical content, independent
// of the multibase used to parse either one.
func Equal(a, b gocid.Cid) bool {
	return a.Equals(b)
}

// CodecOf extracts the Codec tag from a CID.
func CodecOf(c gocid.Cid) Codec {
	return Codec(c.Type())
}
