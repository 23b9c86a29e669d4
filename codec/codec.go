// Package codec maps HTTP content types to the IPLD codecs a block may be
// stored under, and validates that a part's bytes actually parse under the
// codec it claims (§4.4).
package codec

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/vmihailenco/msgpack/v5"

	"kepler.host/kepler/cid"
)

// ForContentType resolves an HTTP Content-Type to a codec. An absent or
// octet-stream content type is Raw (§4.4 table).
func ForContentType(contentType string) (cid.Codec, error) {
	ct := strings.TrimSpace(strings.ToLower(contentType))
	if semi := strings.IndexByte(ct, ';'); semi >= 0 {
		ct = strings.TrimSpace(ct[:semi])
	}
	switch ct {
	case "", "application/octet-stream":
		return cid.Raw, nil
	case "application/json":
		return cid.DagJSON, nil
	case "application/msgpack", "application/x-msgpack":
		return cid.MsgPack, nil
	case "application/cbor":
		return cid.DagCBOR, nil
	default:
		return 0, fmt.Errorf("codec: unsupported content-type %q", contentType)
	}
}

// ContentTypeFor is ForContentType's inverse, used when serving a stored
// block back over HTTP so the response Content-Type reflects the codec it
// was written under.
func ContentTypeFor(c cid.Codec) string {
	switch c {
	case cid.DagJSON:
		return "application/json"
	case cid.MsgPack:
		return "application/msgpack"
	case cid.DagCBOR:
		return "application/cbor"
	default:
		return "application/octet-stream"
	}
}

// Validate checks that data parses under codec. Bytes are never
// transformed: on success the original bytes are what gets stored
// (§4.4 "stored verbatim").
func Validate(c cid.Codec, data []byte) error {
	switch c {
	case cid.Raw:
		return nil
	case cid.DagJSON:
		if !json.Valid(data) {
			return fmt.Errorf("codec: invalid JSON body")
		}
		return nil
	case cid.DagCBOR:
		var v any
		if err := cbor.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("codec: invalid CBOR body: %w", err)
		}
		return nil
	case cid.MsgPack:
		var v any
		if err := msgpack.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("codec: invalid MsgPack body: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("codec: unknown codec %d", c)
	}
}
