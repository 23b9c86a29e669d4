// Package object implements §4.7's per-orbit CRUD over named keys, wired
// atomically through the staging area, block store, and index store.
package object

import (
	"context"
	"fmt"
	"io"

	gocid "github.com/ipfs/go-cid"

	"kepler.host/kepler/codec"
	"kepler.host/kepler/index"
	"kepler.host/kepler/kerr"
	"kepler.host/kepler/orbit"
	"kepler.host/kepler/staging"
	"kepler.host/kepler/storage"
	kcid "kepler.host/kepler/cid"
)

// Service implements the object operations of §4.7 against a shared block
// store and index store, scoped per call to one orbit handle.
type Service struct {
	Blocks  storage.BlockStore
	Index   *index.Store
	Staging staging.Area
}

func New(blocks storage.BlockStore, idx *index.Store, stagingArea staging.Area) *Service {
	return &Service{Blocks: blocks, Index: idx, Staging: stagingArea}
}

// Put stages body, computes its CID under contentType's codec, writes the
// block to the block store, and then records the pin and new version in
// one index-store transaction (§4.7 put).
func (s *Service) Put(ctx context.Context, h *orbit.Handle, key, contentType string, body io.Reader) (gocid.Cid, error) {
	unlock := h.Lock(key)
	defer unlock()

	c, err := codec.ForContentType(contentType)
	if err != nil {
		return gocid.Undef, kerr.Wrap(kerr.KindMalformedRequest, "unsupported content-type", err)
	}

	res, err := s.Staging.NewResource(ctx)
	if err != nil {
		return gocid.Undef, kerr.Wrap(kerr.KindInternal, "staging allocation failed", err)
	}
	defer res.Close()

	if _, err := io.Copy(res, body); err != nil {
		if err == staging.ErrTooLarge {
			return gocid.Undef, kerr.Wrap(kerr.KindPayloadTooLarge, "request body exceeds staging limit", err)
		}
		return gocid.Undef, kerr.Wrap(kerr.KindMalformedRequest, "failed reading request body", err)
	}

	reader, err := res.Reader()
	if err != nil {
		return gocid.Undef, kerr.Wrap(kerr.KindInternal, "staging reader failed", err)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return gocid.Undef, kerr.Wrap(kerr.KindInternal, "staging read failed", err)
	}
	if err := codec.Validate(c, data); err != nil {
		return gocid.Undef, kerr.Wrap(kerr.KindMalformedRequest, "body does not parse under declared codec", err)
	}

	id, err := kcid.Of(c, data)
	if err != nil {
		return gocid.Undef, kerr.Wrap(kerr.KindInternal, "cid computation failed", err)
	}

	if err := s.Blocks.Put(ctx, id, data); err != nil {
		if storage.IsConflict(err) {
			// Hash collision with distinct bytes under the same CID: §7
			// treats this as fatal. The caller decides whether to crash
			// the process; this layer only reports the kind.
			return gocid.Undef, kerr.Wrap(kerr.KindConflict, "cid collision with distinct bytes", err)
		}
		if !storage.IsExists(err) {
			return gocid.Undef, kerr.Wrap(kerr.KindInternal, "block store put failed", err)
		}
	}

	idStr, err := kcid.String(id)
	if err != nil {
		return gocid.Undef, kerr.Wrap(kerr.KindInternal, "cid render failed", err)
	}

	var priorHead *index.ObjectVersion
	head, err := s.Index.Objects().Head(ctx, h.ID, key)
	if err == nil {
		priorHead = head
	} else if err != index.ErrNotFound {
		return gocid.Undef, kerr.Wrap(kerr.KindInternal, "head lookup failed", err)
	}

	err = s.Index.WithTx(ctx, func(tx *index.Store) error {
		if err := tx.Pins().Increment(ctx, h.ID, idStr); err != nil {
			return err
		}
		v := &index.ObjectVersion{
			OrbitID: h.ID,
			UserKey: key,
			CID:     idStr,
			Codec:   uint64(c),
			Size:    int64(len(data)),
		}
		if priorHead != nil {
			v.SupersedesCID = &priorHead.CID
		}
		if err := tx.Objects().AppendVersion(ctx, v); err != nil {
			return err
		}
		if priorHead != nil && !priorHead.Tombstone {
			if _, err := tx.Pins().Decrement(ctx, h.ID, priorHead.CID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return gocid.Undef, kerr.Wrap(kerr.KindInternal, "index transaction failed", err)
	}

	return id, nil
}

// Get reads the head of key, returning *kerr.Error(KindNotFound) if the key
// has never been written or its head is a tombstone (§4.7 get).
func (s *Service) Get(ctx context.Context, h *orbit.Handle, key string) (gocid.Cid, []byte, error) {
	head, err := s.Index.Objects().Head(ctx, h.ID, key)
	if err != nil {
		if err == index.ErrNotFound {
			return gocid.Undef, nil, kerr.New(kerr.KindNotFound, "key not found")
		}
		return gocid.Undef, nil, kerr.Wrap(kerr.KindInternal, "head lookup failed", err)
	}
	if head.Tombstone {
		return gocid.Undef, nil, kerr.New(kerr.KindNotFound, "key was deleted")
	}
	id, err := kcid.Parse(head.CID)
	if err != nil {
		return gocid.Undef, nil, kerr.Wrap(kerr.KindInternal, "stored cid unparseable", err)
	}
	data, err := s.Blocks.Get(ctx, id)
	if err != nil {
		return gocid.Undef, nil, kerr.Wrap(kerr.KindInternal, "block store get failed", err)
	}
	return id, data, nil
}

// GetByCID performs a raw content-addressed fetch, bypassing the key index
// (§4.7 get_by_cid — callers gate this on a read capability over the orbit
// before calling).
func (s *Service) GetByCID(ctx context.Context, id gocid.Cid) ([]byte, error) {
	data, err := s.Blocks.Get(ctx, id)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, kerr.New(kerr.KindNotFound, "cid not found")
		}
		return nil, kerr.Wrap(kerr.KindInternal, "block store get failed", err)
	}
	return data, nil
}

// ListEntry is one row of a List result.
type ListEntry struct {
	Key string
	CID gocid.Cid
}

// List returns the current head of every non-tombstoned key under prefix,
// ordered ascending by key (§4.7 list).
func (s *Service) List(ctx context.Context, h *orbit.Handle, prefix string) ([]ListEntry, error) {
	heads, err := s.Index.Objects().ListHeads(ctx, h.ID, prefix)
	if err != nil {
		return nil, kerr.Wrap(kerr.KindInternal, "list failed", err)
	}
	out := make([]ListEntry, 0, len(heads))
	for _, v := range heads {
		if v.Tombstone {
			continue
		}
		id, err := kcid.Parse(v.CID)
		if err != nil {
			return nil, kerr.Wrap(kerr.KindInternal, "stored cid unparseable", err)
		}
		out = append(out, ListEntry{Key: v.UserKey, CID: id})
	}
	return out, nil
}

// Delete appends a tombstone version and decrements the prior head's pin
// (§4.7 delete).
func (s *Service) Delete(ctx context.Context, h *orbit.Handle, key string) error {
	unlock := h.Lock(key)
	defer unlock()

	head, err := s.Index.Objects().Head(ctx, h.ID, key)
	if err != nil {
		if err == index.ErrNotFound {
			return kerr.New(kerr.KindNotFound, "key not found")
		}
		return kerr.Wrap(kerr.KindInternal, "head lookup failed", err)
	}
	if head.Tombstone {
		return kerr.New(kerr.KindNotFound, "key already deleted")
	}

	return s.Index.WithTx(ctx, func(tx *index.Store) error {
		v := &index.ObjectVersion{
			OrbitID:       h.ID,
			UserKey:       key,
			CID:           head.CID,
			Tombstone:     true,
			SupersedesCID: &head.CID,
		}
		if err := tx.Objects().AppendVersion(ctx, v); err != nil {
			return err
		}
		_, err := tx.Pins().Decrement(ctx, h.ID, head.CID)
		return err
	})
}

// BatchPart is one input to PutBatch.
type BatchPart struct {
	Key         string
	ContentType string
	Body        io.Reader
}

// BatchResult is one outcome of PutBatch, matching BatchPart by index.
type BatchResult struct {
	CID gocid.Cid
	Err error
}

// PutBatch runs each part through Put independently; the batch itself is
// not atomic (§4.7 "the batch is not atomic as a whole (documented
// property)").
func (s *Service) PutBatch(ctx context.Context, h *orbit.Handle, parts []BatchPart) []BatchResult {
	out := make([]BatchResult, len(parts))
	for i, p := range parts {
		id, err := s.Put(ctx, h, p.Key, p.ContentType, p.Body)
		if err != nil {
			out[i] = BatchResult{Err: fmt.Errorf("part %d (%s): %w", i, p.Key, err)}
			continue
		}
		out[i] = BatchResult{CID: id}
	}
	return out
}
