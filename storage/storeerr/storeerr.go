// Package storeerr holds the BlockStore capability interface, the
// Iterator/Verifier interfaces, and the sentinel errors shared by package
// storage and its backend implementations (localfs, s3, blockgrpc).
//
// It exists as a separate, dependency-free leaf so that the backend
// packages can implement/use these types without importing package
// storage, which itself imports the backend packages to dispatch Open —
// importing storage from a backend would otherwise be a cycle. Package
// storage re-exports everything here under its original names, so this
// split is invisible to callers outside the storage tree.
package storeerr

import (
	"context"
	"errors"

	"github.com/ipfs/go-cid"
)

// BlockStore is the block store capability set (§4.1). Implementations are
// expected to be thread-safe; the block store is shared across all orbits
// concurrently (§5 "Shared resources").
type BlockStore interface {
	// Put is idempotent: an existing identical block returns ErrExists
	// (not an error the caller need treat as failure). A collision with
	// different bytes under the same CID returns ErrConflict.
	Put(ctx context.Context, id cid.Cid, data []byte) error
	Get(ctx context.Context, id cid.Cid) ([]byte, error)
	Has(ctx context.Context, id cid.Cid) (bool, error)
	// Delete is called only by GC: gc.Collector.SweepOrbit calls it under
	// the index-store transaction that drops a block's last pin, and
	// gc.Collector.Sweep calls it for blocks with no positive pin in any
	// orbit, without a transaction.
	Delete(ctx context.Context, id cid.Cid) error
	// Enumerate streams every CID currently held. It need not be
	// consistent with concurrent writes (§4.1 "used by GC for sweep
	// mode"); it is consumed via Next until ok is false.
	Enumerate(ctx context.Context) (Iterator, error)
}

// Iterator lazily yields CIDs. Callers must call Close when done, even on
// early return.
type Iterator interface {
	Next(ctx context.Context) (id cid.Cid, ok bool, err error)
	Close() error
}

// Verifier is implemented by backends that can optionally re-hash bytes on
// Put to confirm they match the caller-supplied CID (§4.1 "the caller
// provides a CID and the store optionally re-verifies on put"). Cheap
// backends (local disk) default this on; costly ones (S3) default it off.
type Verifier interface {
	SetVerifyOnPut(bool)
}

var (
	ErrNotFound    = errors.New("storage: not found")
	ErrExists      = errors.New("storage: block already exists")
	ErrInvalidCID  = errors.New("storage: invalid cid")
	ErrCIDMismatch = errors.New("storage: cid mismatch")
	// ErrConflict signals a hash collision: the backend already holds a
	// block under this CID whose bytes differ (§4.1 "a collision with
	// different bytes fails fatally"). Callers treat this as §7's
	// *conflict* kind and abort the process after logging.
	ErrConflict = errors.New("storage: cid collision with distinct bytes")
)

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
func IsExists(err error) bool   { return errors.Is(err, ErrExists) }
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }
