package gc

import (
	"context"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	kcid "kepler.host/kepler/cid"
	"kepler.host/kepler/index"
	"kepler.host/kepler/storage/localfs"
)

func setupCollector(t *testing.T) (*Collector, *index.Store, *localfs.Store) {
	t.Helper()
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
	return New(blocks, idx, 4), idx, blocks
}

func putBlock(t *testing.T, blocks *localfs.Store, data []byte) (string, error) {
	t.Helper()
	id, err := kcid.OfRaw(data)
	if err != nil {
		t.Fatalf("kcid.OfRaw: %v", err)
	}
	if err := blocks.Put(context.Background(), id, data); err != nil {
		return "", err
	}
	s, err := kcid.String(id)
	if err != nil {
		t.Fatalf("kcid.String: %v", err)
	}
	return s, nil
}

func TestCollector_SweepOrbitReclaimsZeroRefcountBlock(t *testing.T) {
	c, idx, blocks := setupCollector(t)
	ctx := context.Background()

	idStr, err := putBlock(t, blocks, []byte("orphaned"))
	if err != nil {
		t.Fatalf("putBlock: %v", err)
	}
	if err := idx.Pins().Increment(ctx, "orbit1", idStr); err != nil {
		t.Fatalf("Increment: %v", err)
	}
	if _, err := idx.Pins().Decrement(ctx, "orbit1", idStr); err != nil {
		t.Fatalf("Decrement: %v", err)
	}

	res, err := c.SweepOrbit(ctx, "orbit1")
	if err != nil {
		t.Fatalf("SweepOrbit: %v", err)
	}
	if res.Reclaimed != 1 {
		t.Fatalf("Reclaimed = %d, want 1", res.Reclaimed)
	}

	id, _ := kcid.Parse(idStr)
	if _, err := blocks.Get(ctx, id); err == nil {
		t.Fatalf("expected block to be deleted after sweep")
	}
}

func TestCollector_SweepOrbitLeavesPinnedBlocksAlone(t *testing.T) {
	c, idx, blocks := setupCollector(t)
	ctx := context.Background()

	idStr, err := putBlock(t, blocks, []byte("kept"))
	if err != nil {
		t.Fatalf("putBlock: %v", err)
	}
	if err := idx.Pins().Increment(ctx, "orbit1", idStr); err != nil {
		t.Fatalf("Increment: %v", err)
	}

	res, err := c.SweepOrbit(ctx, "orbit1")
	if err != nil {
		t.Fatalf("SweepOrbit: %v", err)
	}
	if res.Scanned != 0 {
		t.Fatalf("Scanned = %d, want 0 (block is still pinned)", res.Scanned)
	}

	id, _ := kcid.Parse(idStr)
	if _, err := blocks.Get(ctx, id); err != nil {
		t.Fatalf("expected pinned block to survive sweep: %v", err)
	}
}

func TestCollector_SweepReclaimsUnpinnedAcrossOrbits(t *testing.T) {
	c, idx, blocks := setupCollector(t)
	ctx := context.Background()

	pinnedID, err := putBlock(t, blocks, []byte("pinned"))
	if err != nil {
		t.Fatalf("putBlock pinned: %v", err)
	}
	if err := idx.Pins().Increment(ctx, "orbit1", pinnedID); err != nil {
		t.Fatalf("Increment: %v", err)
	}

	orphanID, err := putBlock(t, blocks, []byte("orphan"))
	if err != nil {
		t.Fatalf("putBlock orphan: %v", err)
	}

	res, err := c.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.Scanned != 2 {
		t.Fatalf("Scanned = %d, want 2", res.Scanned)
	}
	if res.Reclaimed != 1 {
		t.Fatalf("Reclaimed = %d, want 1", res.Reclaimed)
	}

	pinned, _ := kcid.Parse(pinnedID)
	if _, err := blocks.Get(ctx, pinned); err != nil {
		t.Fatalf("expected pinned block to survive: %v", err)
	}
	orphan, _ := kcid.Parse(orphanID)
	if _, err := blocks.Get(ctx, orphan); err == nil {
		t.Fatalf("expected orphan block to be reclaimed")
	}
}
