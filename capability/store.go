package capability

import (
	"context"
	"time"

	gocid "github.com/ipfs/go-cid"
)

// Store is everything the verification engine needs from the index store
// (§4.2): capability lookup by CID, revocation status, and nonce
// replay-checking. The index package implements this against gorm; the
// engine depends only on this contract so it can be tested without a
// database.
type Store interface {
	// FindCapability returns the capability row for id, or ErrNotFound.
	FindCapability(ctx context.Context, id gocid.Cid) (*Capability, error)

	// RevokedAt returns the revocation timestamp for id, or the zero time
	// if id has not been revoked.
	RevokedAt(ctx context.Context, id gocid.Cid) (time.Time, error)

	// NonceSeen reports whether nonce has already been recorded for
	// orbitID.
	NonceSeen(ctx context.Context, orbitID, nonce string) (bool, error)

	// MarkNonceSeen records nonce for orbitID. Engine.VerifyInvocation
	// calls it once all of its checks pass, before the authorized
	// operation runs; the two do not share a transaction, so a nonce stays
	// recorded even if that operation later fails.
	MarkNonceSeen(ctx context.Context, orbitID, nonce string) error

	// Revoke marks id revoked as of at (§4.5 "Revocation ... stored as
	// revoked_at on the row").
	Revoke(ctx context.Context, id gocid.Cid, at time.Time) error
}
