// Package gc implements the garbage collector described by spec.md §4.1 and
// §4.2: a block is live iff some orbit holds a pin for its CID with a
// positive refcount. Collection never touches a block directly from a
// request path — only GC calls storage.BlockStore.Delete. SweepOrbit calls
// it inside the index-store transaction that drops a CID's last pin; Sweep
// calls it for any enumerated block with no positive pin in any orbit,
// checked and deleted without a transaction.
package gc

import (
	"context"
	"fmt"
	"sync"

	gocid "github.com/ipfs/go-cid"
	"golang.org/x/sync/errgroup"

	kcid "kepler.host/kepler/cid"
	"kepler.host/kepler/index"
	"kepler.host/kepler/storage"
)

// Collector sweeps one block store against one index store's pin table.
type Collector struct {
	Blocks  storage.BlockStore
	Index   *index.Store
	Workers int
}

func New(blocks storage.BlockStore, idx *index.Store, workers int) *Collector {
	if workers <= 0 {
		workers = 1
	}
	return &Collector{Blocks: blocks, Index: idx, Workers: workers}
}

// Result summarizes one collection pass.
type Result struct {
	Scanned   int
	Reclaimed int
	Errors    []error
}

// SweepOrbit marks every CID currently at refcount 0 in orbitID, then
// deletes each one from the block store inside the transaction that
// removes its pin row, so a crash between delete and commit leaves the
// pin in place for a future sweep to retry (§4.2 "partial failure … rolls
// back block-store effects by queueing the new block for GC").
func (c *Collector) SweepOrbit(ctx context.Context, orbitID string) (Result, error) {
	candidates, err := c.Index.Pins().ZeroRefcountCIDs(ctx, orbitID)
	if err != nil {
		return Result{}, fmt.Errorf("gc: list zero-refcount pins: %w", err)
	}

	var res Result
	for _, cidStr := range candidates {
		res.Scanned++
		reclaimed, err := c.collectOne(ctx, orbitID, cidStr)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Errorf("gc: %s: %w", cidStr, err))
			continue
		}
		if reclaimed {
			res.Reclaimed++
		}
	}
	return res, nil
}

// collectOne reports whether it deleted the pin row and block for cidStr.
func (c *Collector) collectOne(ctx context.Context, orbitID, cidStr string) (bool, error) {
	id, err := kcid.Parse(cidStr)
	if err != nil {
		return false, err
	}
	reclaimed := false
	err = c.Index.WithTx(ctx, func(tx *index.Store) error {
		refcount, err := tx.Pins().Get(ctx, orbitID, cidStr)
		if err != nil {
			return err
		}
		if refcount != 0 {
			// Repinned between the mark read and this transaction; leave
			// the block alone.
			return nil
		}
		if err := tx.Pins().Delete(ctx, orbitID, cidStr); err != nil {
			return err
		}
		if err := c.Blocks.Delete(ctx, id); err != nil && !storage.IsNotFound(err) {
			return err
		}
		reclaimed = true
		return nil
	})
	return reclaimed && err == nil, err
}

// Sweep runs Enumerate over the whole block store (§4.1 "used by GC for
// sweep mode") and deletes any block with no pin in any orbit, fanning the
// per-block liveness check out across a worker pool. It is the
// orbit-agnostic counterpart to SweepOrbit, intended for periodic
// whole-store reclamation rather than the per-put path.
func (c *Collector) Sweep(ctx context.Context) (Result, error) {
	it, err := c.Blocks.Enumerate(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("gc: enumerate: %w", err)
	}
	defer it.Close()

	var mu sync.Mutex
	var res Result

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.Workers)

	for {
		id, ok, err := it.Next(gctx)
		if err != nil {
			return res, fmt.Errorf("gc: enumerate next: %w", err)
		}
		if !ok {
			break
		}
		g.Go(func() error {
			reclaimed, sweepErr := c.sweepOne(gctx, id)
			mu.Lock()
			res.Scanned++
			if sweepErr != nil {
				res.Errors = append(res.Errors, sweepErr)
			} else if reclaimed {
				res.Reclaimed++
			}
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()
	return res, nil
}

// sweepOne deletes id if no orbit's index holds a live pin for it, and
// reports whether it deleted the block.
func (c *Collector) sweepOne(ctx context.Context, id gocid.Cid) (bool, error) {
	idStr, err := kcid.String(id)
	if err != nil {
		return false, err
	}
	pinned, err := c.Index.Pins().AnyOrbitPinned(ctx, idStr)
	if err != nil {
		return false, err
	}
	if pinned {
		return false, nil
	}
	if err := c.Blocks.Delete(ctx, id); err != nil {
		if storage.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
