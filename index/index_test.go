package index_test

import (
	"context"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"kepler.host/kepler/capability"
	kcid "kepler.host/kepler/cid"
	"kepler.host/kepler/index"
)

func setupStore(t *testing.T) *index.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(index.AllModels()...); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return index.New(db)
}

func TestOrbitStore_GetOrCreateIsIdempotent(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	o1, err := s.Orbits().GetOrCreate(ctx, "did:key:zabc", "did:key:zabc")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	o2, err := s.Orbits().GetOrCreate(ctx, "did:key:zabc", "did:key:zabc")
	if err != nil {
		t.Fatalf("GetOrCreate (again): %v", err)
	}
	if o1.CreatedAt != o2.CreatedAt {
		t.Fatalf("second GetOrCreate must return the existing row, not recreate it")
	}
}

func TestNonceStore_MarkThenSeen(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	seen, err := s.Nonces().Seen(ctx, "orbit-1", "n1")
	if err != nil {
		t.Fatalf("Seen: %v", err)
	}
	if seen {
		t.Fatalf("nonce should not be seen before Mark")
	}
	if err := s.Nonces().Mark(ctx, "orbit-1", "n1"); err != nil {
		t.Fatalf("Mark: %v", err)
	}
	seen, err = s.Nonces().Seen(ctx, "orbit-1", "n1")
	if err != nil {
		t.Fatalf("Seen (after mark): %v", err)
	}
	if !seen {
		t.Fatalf("nonce should be seen after Mark")
	}
	// Marking twice must not error (concurrent invocation retries).
	if err := s.Nonces().Mark(ctx, "orbit-1", "n1"); err != nil {
		t.Fatalf("Mark (duplicate): %v", err)
	}
}

func TestPinStore_IncrementDecrement(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	if err := s.Pins().Increment(ctx, "orbit-1", "cid-a"); err != nil {
		t.Fatalf("Increment: %v", err)
	}
	if err := s.Pins().Increment(ctx, "orbit-1", "cid-a"); err != nil {
		t.Fatalf("Increment (again): %v", err)
	}
	count, err := s.Pins().Get(ctx, "orbit-1", "cid-a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if count != 2 {
		t.Fatalf("refcount = %d, want 2", count)
	}

	if _, err := s.Pins().Decrement(ctx, "orbit-1", "cid-a"); err != nil {
		t.Fatalf("Decrement: %v", err)
	}
	count, err = s.Pins().Get(ctx, "orbit-1", "cid-a")
	if err != nil {
		t.Fatalf("Get (after decrement): %v", err)
	}
	if count != 1 {
		t.Fatalf("refcount = %d, want 1", count)
	}

	zeros, err := s.Pins().ZeroRefcountCIDs(ctx, "orbit-1")
	if err != nil {
		t.Fatalf("ZeroRefcountCIDs: %v", err)
	}
	if len(zeros) != 0 {
		t.Fatalf("expected no zero-refcount CIDs yet, got %v", zeros)
	}

	if _, err := s.Pins().Decrement(ctx, "orbit-1", "cid-a"); err != nil {
		t.Fatalf("Decrement (to zero): %v", err)
	}
	zeros, err = s.Pins().ZeroRefcountCIDs(ctx, "orbit-1")
	if err != nil {
		t.Fatalf("ZeroRefcountCIDs (after zeroing): %v", err)
	}
	if len(zeros) != 1 || zeros[0] != "cid-a" {
		t.Fatalf("ZeroRefcountCIDs = %v, want [cid-a]", zeros)
	}
}

func TestObjectStore_AppendVersionAssignsSequentialSeq(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		v := &index.ObjectVersion{OrbitID: "orbit-1", UserKey: "greeting", CID: "cid-x"}
		if err := s.Objects().AppendVersion(ctx, v); err != nil {
			t.Fatalf("AppendVersion #%d: %v", i, err)
		}
		if v.VersionSeq != int64(i+1) {
			t.Fatalf("VersionSeq = %d, want %d", v.VersionSeq, i+1)
		}
	}

	head, err := s.Objects().Head(ctx, "orbit-1", "greeting")
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if head.VersionSeq != 3 {
		t.Fatalf("Head.VersionSeq = %d, want 3", head.VersionSeq)
	}
}

func TestObjectStore_ListHeadsFiltersByPrefix(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	for _, key := range []string{"logs/a", "logs/b", "other"} {
		v := &index.ObjectVersion{OrbitID: "orbit-1", UserKey: key, CID: "cid-" + key}
		if err := s.Objects().AppendVersion(ctx, v); err != nil {
			t.Fatalf("AppendVersion(%s): %v", key, err)
		}
	}

	heads, err := s.Objects().ListHeads(ctx, "orbit-1", "logs/")
	if err != nil {
		t.Fatalf("ListHeads: %v", err)
	}
	if len(heads) != 2 {
		t.Fatalf("ListHeads returned %d rows, want 2", len(heads))
	}
	if heads[0].UserKey != "logs/a" || heads[1].UserKey != "logs/b" {
		t.Fatalf("ListHeads order = %v", heads)
	}
}

func TestCapabilityStore_RoundTripAndRevoke(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	c := &capability.Capability{
		IssuerDID:    "did:key:zissuer",
		AudienceDID:  "did:key:zaudience",
		Resources:    []capability.Resource{{OrbitID: "orbit-1", Actions: capability.ActionRead, KeyPattern: "*"}},
		NotBefore:    time.Now().Add(-time.Hour).UTC(),
		NotAfter:     time.Now().Add(time.Hour).UTC(),
		Nonce:        "root-n",
		SignatureAlg: capability.AlgEd25519,
		Signature:    []byte("fake-signature-bytes"),
	}
	_, id, err := capability.EncodeCapability(c)
	if err != nil {
		t.Fatalf("EncodeCapability: %v", err)
	}
	c.CID = id

	if err := s.Capabilities().Insert(ctx, c); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := s.Capabilities().FindCapability(ctx, id)
	if err != nil {
		t.Fatalf("FindCapability: %v", err)
	}
	if got.IssuerDID != c.IssuerDID || got.AudienceDID != c.AudienceDID {
		t.Fatalf("round-tripped capability mismatch: %+v", got)
	}
	if len(got.Resources) != 1 || got.Resources[0].OrbitID != "orbit-1" {
		t.Fatalf("round-tripped resources mismatch: %+v", got.Resources)
	}

	revokedAt, err := s.Capabilities().RevokedAt(ctx, id)
	if err != nil {
		t.Fatalf("RevokedAt: %v", err)
	}
	if !revokedAt.IsZero() {
		t.Fatalf("capability should not be revoked yet")
	}

	now := time.Now().UTC().Truncate(time.Second)
	if err := s.Capabilities().Revoke(ctx, id, now); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	revokedAt, err = s.Capabilities().RevokedAt(ctx, id)
	if err != nil {
		t.Fatalf("RevokedAt (after revoke): %v", err)
	}
	if revokedAt.IsZero() {
		t.Fatalf("capability should be revoked")
	}
}

func TestCapabilityStore_FindCapability_NotFound(t *testing.T) {
	s := setupStore(t)
	dummy, err := kcid.OfRaw([]byte("does-not-exist"))
	if err != nil {
		t.Fatalf("OfRaw: %v", err)
	}
	_, err = s.Capabilities().FindCapability(context.Background(), dummy)
	if err != index.ErrNotFound {
		t.Fatalf("FindCapability: got %v, want ErrNotFound", err)
	}
}
