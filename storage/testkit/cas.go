// Package testkit is a conformance suite for BlockStore backends, grounded
// on the teacher's storage/testkit/cas.go. The localfs tests run it; the
// s3 and blockgrpc packages do not.
package testkit

import (
	"bytes"
	"context"
	"testing"

	gocid "github.com/ipfs/go-cid"

	kcid "kepler.host/kepler/cid"
	storage "kepler.host/kepler/storage/storeerr"
)

// NewStore constructs a fresh, empty BlockStore for a test. The returned
// store MUST be isolated from other tests.
type NewStore func(t *testing.T) storage.BlockStore

func RunConformance(t *testing.T, newStore NewStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("PutGetRoundTrip", func(t *testing.T) {
		s := newStore(t)
		want := []byte("hello, kepler block store")

		wantID, err := kcid.OfRaw(want)
		if err != nil {
			t.Fatalf("OfRaw failed: %v", err)
		}
		if err := s.Put(ctx, wantID, want); err != nil {
			t.Fatalf("Put failed: %v", err)
		}

		got, err := s.Get(ctx, wantID)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("Get bytes mismatch")
		}
	})

	t.Run("PutIdempotent", func(t *testing.T) {
		s := newStore(t)
		b := []byte("same bytes")
		id, err := kcid.OfRaw(b)
		if err != nil {
			t.Fatalf("OfRaw failed: %v", err)
		}

		if err := s.Put(ctx, id, b); err != nil {
			t.Fatalf("Put(1) failed: %v", err)
		}
		err = s.Put(ctx, id, b)
		if !storage.IsExists(err) {
			t.Fatalf("Put(2): got err=%v want ErrExists", err)
		}
	})

	t.Run("PutConflictFailsFatally", func(t *testing.T) {
		s := newStore(t)
		b := []byte("real bytes")
		id, err := kcid.OfRaw(b)
		if err != nil {
			t.Fatalf("OfRaw failed: %v", err)
		}
		if err := s.Put(ctx, id, b); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		// Force a collision by putting different bytes under the same CID,
		// bypassing verify-on-put (this is what a re-verifying backend
		// would reject with ErrCIDMismatch before it ever gets here; here
		// we exercise the stored-bytes-differ path directly).
		if v, ok := s.(storage.Verifier); ok {
			v.SetVerifyOnPut(false)
		}
		err = s.Put(ctx, id, []byte("different bytes, same cid slot"))
		if err != storage.ErrConflict && !storage.IsExists(err) {
			t.Fatalf("Put collision: got %v want ErrConflict or ErrExists", err)
		}
	})

	t.Run("HasAndNotFound", func(t *testing.T) {
		s := newStore(t)
		b := []byte("missing")
		id, err := kcid.OfRaw(b)
		if err != nil {
			t.Fatalf("OfRaw failed: %v", err)
		}

		has, err := s.Has(ctx, id)
		if err != nil {
			t.Fatalf("Has failed: %v", err)
		}
		if has {
			t.Fatalf("Has returned true for missing CID")
		}
		_, err = s.Get(ctx, id)
		if !storage.IsNotFound(err) {
			t.Fatalf("Get missing: got err=%v want ErrNotFound", err)
		}

		if err := s.Put(ctx, id, b); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		has, err = s.Has(ctx, id)
		if err != nil {
			t.Fatalf("Has failed: %v", err)
		}
		if !has {
			t.Fatalf("Has returned false after Put")
		}
	})

	t.Run("RejectUndefCID", func(t *testing.T) {
		s := newStore(t)
		var undef gocid.Cid
		if has, _ := s.Has(ctx, undef); has {
			t.Fatalf("Has should be false for undefined CID")
		}
		if _, err := s.Get(ctx, undef); err == nil {
			t.Fatalf("Get should fail for undefined CID")
		}
		if err := s.Put(ctx, undef, []byte("x")); err == nil {
			t.Fatalf("Put should fail for undefined CID")
		}
	})

	t.Run("DeleteThenNotFound", func(t *testing.T) {
		s := newStore(t)
		b := []byte("to be deleted")
		id, err := kcid.OfRaw(b)
		if err != nil {
			t.Fatalf("OfRaw failed: %v", err)
		}
		if err := s.Put(ctx, id, b); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if err := s.Delete(ctx, id); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := s.Get(ctx, id); !storage.IsNotFound(err) {
			t.Fatalf("Get after delete: got %v want ErrNotFound", err)
		}
	})

	t.Run("EnumerateSeesPutBlocks", func(t *testing.T) {
		s := newStore(t)
		want := map[string]bool{}
		for _, s2 := range []string{"one", "two", "three"} {
			b := []byte(s2)
			id, err := kcid.OfRaw(b)
			if err != nil {
				t.Fatalf("OfRaw failed: %v", err)
			}
			if err := s.Put(ctx, id, b); err != nil {
				t.Fatalf("Put failed: %v", err)
			}
			want[id.String()] = true
		}

		it, err := s.Enumerate(ctx)
		if err != nil {
			t.Fatalf("Enumerate failed: %v", err)
		}
		defer it.Close()
		got := map[string]bool{}
		for {
			id, ok, err := it.Next(ctx)
			if err != nil {
				t.Fatalf("Next failed: %v", err)
			}
			if !ok {
				break
			}
			got[id.String()] = true
		}
		for k := range want {
			if !got[k] {
				t.Fatalf("Enumerate missing CID %s", k)
			}
		}
	})
}
