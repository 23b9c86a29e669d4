package localfs

import (
	"context"
	"os"
	"testing"

	kcid "kepler.host/kepler/cid"
	storage "kepler.host/kepler/storage/storeerr"
	"kepler.host/kepler/storage/testkit"
)

func TestLocalFS_Conformance(t *testing.T) {
	testkit.RunConformance(t, func(t *testing.T) storage.BlockStore {
		t.Helper()
		dir := t.TempDir()
		s, err := New(dir)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		return s
	})
}

func TestLocalFS_RejectCorruption(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	orig := []byte("original")
	id, err := kcid.OfRaw(orig)
	if err != nil {
		t.Fatalf("OfRaw failed: %v", err)
	}
	if err := s.Put(ctx, id, orig); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// Corrupt the stored block out-of-band.
	path := s.pathFor(id)
	if err := os.Chmod(path, 0o644); err != nil {
		t.Fatalf("Chmod failed: %v", err)
	}
	if err := os.WriteFile(path, []byte("corrupted"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	// Get must detect the hash mismatch rather than hand back bad bytes.
	if _, err := s.Get(ctx, id); err != storage.ErrCIDMismatch {
		t.Fatalf("Get on corrupted block: got %v want %v", err, storage.ErrCIDMismatch)
	}
}
