// Package storage is the block store layer (§4.1): a pluggable,
// content-addressed key/value store keyed by CID, shared across all orbits.
package storage

import (
	"kepler.host/kepler/storage/storeerr"
)

// BlockStore is the block store capability set (§4.1). Implementations are
// expected to be thread-safe; the block store is shared across all orbits
// concurrently (§5 "Shared resources").
type BlockStore = storeerr.BlockStore

// Iterator lazily yields CIDs. Callers must call Close when done, even on
// early return.
type Iterator = storeerr.Iterator

// Verifier is implemented by backends that can optionally re-hash bytes on
// Put to confirm they match the caller-supplied CID (§4.1 "the caller
// provides a CID and the store optionally re-verifies on put"). Cheap
// backends (local disk) default this on; costly ones (S3) default it off.
type Verifier = storeerr.Verifier
