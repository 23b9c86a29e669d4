package object

import (
	"bytes"
	"context"
	"testing"

	"github.com/spf13/afero"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	kcid "kepler.host/kepler/cid"
	"kepler.host/kepler/index"
	"kepler.host/kepler/orbit"
	"kepler.host/kepler/staging"
	"kepler.host/kepler/storage/localfs"
)

func setupService(t *testing.T) (*Service, *orbit.Handle) {
	t.Helper()
	ctx := context.Background()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(index.AllModels()...); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	idx := index.New(db)

	blocks, err := localfs.New(t.TempDir())
	if err != nil {
		t.Fatalf("localfs.New: %v", err)
	}

	svc := New(blocks, idx, staging.NewMemoryArea(0))

	secret, err := orbit.NewSecret(make([]byte, 32))
	if err != nil {
		t.Fatalf("NewSecret: %v", err)
	}
	mgr := orbit.NewManager(secret, idx, 10, 0)
	h, release, err := mgr.Acquire(ctx, "did:key:ztest", "did:key:ztest")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	t.Cleanup(release)
	return svc, h
}

func TestService_PutGetRoundTrip(t *testing.T) {
	svc, h := setupService(t)
	ctx := context.Background()

	id, err := svc.Put(ctx, h, "greeting", "application/octet-stream", bytes.NewReader([]byte("hello")))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	gotID, data, err := svc.Get(ctx, h, "greeting")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !gotID.Equals(id) {
		t.Fatalf("Get CID = %s, want %s", gotID, id)
	}
	if string(data) != "hello" {
		t.Fatalf("Get data = %q, want %q", data, "hello")
	}
}

func TestService_PutOverwriteCreatesNewVersionAndRepins(t *testing.T) {
	svc, h := setupService(t)
	ctx := context.Background()

	id1, err := svc.Put(ctx, h, "greeting", "application/octet-stream", bytes.NewReader([]byte("v1")))
	if err != nil {
		t.Fatalf("Put v1: %v", err)
	}
	id2, err := svc.Put(ctx, h, "greeting", "application/octet-stream", bytes.NewReader([]byte("v2")))
	if err != nil {
		t.Fatalf("Put v2: %v", err)
	}
	if id1.Equals(id2) {
		t.Fatalf("expected distinct CIDs for distinct content")
	}

	gotID, data, err := svc.Get(ctx, h, "greeting")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !gotID.Equals(id2) || string(data) != "v2" {
		t.Fatalf("Get returned stale version: %s %q", gotID, data)
	}

	id1Str, err := kcid.String(id1)
	if err != nil {
		t.Fatalf("kcid.String: %v", err)
	}
	refcount, err := svc.Index.Pins().Get(ctx, h.ID, id1Str)
	if err != nil {
		t.Fatalf("Pins().Get: %v", err)
	}
	if refcount != 0 {
		t.Fatalf("prior head refcount = %d, want 0 after being superseded", refcount)
	}
}

func TestService_DeleteThenGetNotFound(t *testing.T) {
	svc, h := setupService(t)
	ctx := context.Background()

	if _, err := svc.Put(ctx, h, "greeting", "application/octet-stream", bytes.NewReader([]byte("hi"))); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := svc.Delete(ctx, h, "greeting"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, _, err := svc.Get(ctx, h, "greeting"); err == nil {
		t.Fatalf("expected Get on deleted key to fail")
	}
}

func TestService_ListFiltersByPrefix(t *testing.T) {
	svc, h := setupService(t)
	ctx := context.Background()

	for _, key := range []string{"logs/a", "logs/b", "other"} {
		if _, err := svc.Put(ctx, h, key, "application/octet-stream", bytes.NewReader([]byte(key))); err != nil {
			t.Fatalf("Put(%s): %v", key, err)
		}
	}

	entries, err := svc.List(ctx, h, "logs/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("List returned %d entries, want 2", len(entries))
	}
}

func TestService_PutRejectsOversizedBodyViaStaging(t *testing.T) {
	ctx := context.Background()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(index.AllModels()...); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	idx := index.New(db)
	blocks, err := localfs.New(t.TempDir())
	if err != nil {
		t.Fatalf("localfs.New: %v", err)
	}
	svc := New(blocks, idx, staging.NewFileSystemArea(afero.NewMemMapFs(), "/stage", 4))

	secret, err := orbit.NewSecret(make([]byte, 32))
	if err != nil {
		t.Fatalf("NewSecret: %v", err)
	}
	mgr := orbit.NewManager(secret, idx, 10, 0)
	h, release, err := mgr.Acquire(ctx, "did:key:ztest", "did:key:ztest")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer release()

	if _, err := svc.Put(ctx, h, "big", "application/octet-stream", bytes.NewReader([]byte("way too big"))); err == nil {
		t.Fatalf("expected oversized Put to fail")
	}
}
