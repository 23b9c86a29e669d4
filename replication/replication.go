// Package replication defines the hook a future peer-to-peer transport
// would implement without Kepler's core needing to change. It ships no
// network code: storage.BlockStore already gives a second host a way to
// mount a remote block store (see storage/blockgrpc), and Replicator names
// the orbit-aware piece on top of that a relay would add.
package replication

import (
	"context"

	"github.com/ipfs/go-cid"
)

// Announcement describes one block newly committed to an orbit, the unit
// a Replicator would propagate to peers (§4.1 "must not preclude
// peer-to-peer replication").
type Announcement struct {
	OrbitID string
	CID     cid.Cid
}

// Replicator pushes block announcements to peers and answers peers asking
// for blocks this host holds. No implementation ships in this module; a
// relay built on storage/blockgrpc would satisfy this by dialing peer
// hosts' gRPC block-store endpoints.
type Replicator interface {
	// Announce notifies peers that a is newly available. Callers should
	// treat it as best-effort: a failed announce must not fail the write
	// that produced it.
	Announce(ctx context.Context, a Announcement) error

	// Fetch asks peers for a block this host does not have, returning
	// ErrNoPeer if none can be reached.
	Fetch(ctx context.Context, orbitID string, id cid.Cid) ([]byte, error)
}

// ErrNoPeer is returned by Fetch when no peer answered.
type ErrNoPeer struct{ OrbitID string }

func (e *ErrNoPeer) Error() string {
	return "replication: no peer had block for orbit " + e.OrbitID
}

// NoopReplicator discards announcements and never finds a block. It is the
// zero-value Replicator a single, non-networked host runs with — wiring a
// real one later is additive, not a breaking change to callers.
type NoopReplicator struct{}

func (NoopReplicator) Announce(ctx context.Context, a Announcement) error { return nil }

func (NoopReplicator) Fetch(ctx context.Context, orbitID string, id cid.Cid) ([]byte, error) {
	return nil, &ErrNoPeer{OrbitID: orbitID}
}
