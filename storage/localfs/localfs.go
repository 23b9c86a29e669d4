// Package localfs is the local-disk BlockStore backend (§4.1): blocks are
// written immutably, one file per CID, inside a subdirectory named by the
// first two characters of the CID's base32 string. Every base32 CIDv1
// string begins with "ba", so all blocks end up in the same subdirectory.
package localfs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	gocid "github.com/ipfs/go-cid"
	"github.com/spf13/afero"

	kcid "kepler.host/kepler/cid"
	storage "kepler.host/kepler/storage/storeerr"
)

// Store is a local filesystem-backed BlockStore.
//
// Writes go through a temp file in the same directory as the final path,
// fsync'd and renamed into place, so a crash mid-write never leaves a
// partial block visible under its CID.
type Store struct {
	fs          afero.Fs
	root        string
	verifyOnPut bool
}

// New constructs a Store rooted at root on the real filesystem. The
// directory is created if it does not exist.
func New(root string) (*Store, error) {
	return NewWithFs(afero.NewOsFs(), root)
}

// NewWithFs constructs a Store against an arbitrary afero.Fs, primarily so
// tests can run against afero.NewMemMapFs without touching disk.
func NewWithFs(fs afero.Fs, root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("localfs: root directory is required")
	}
	if err := fs.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Store{fs: fs, root: root, verifyOnPut: true}, nil
}

// SetVerifyOnPut implements storage.Verifier. Local disk is cheap to hash,
// so verification defaults on; tests of corrupted-store behavior may want
// to turn it off.
func (s *Store) SetVerifyOnPut(v bool) { s.verifyOnPut = v }

func (s *Store) Put(ctx context.Context, id gocid.Cid, data []byte) error {
	if !id.Defined() {
		return storage.ErrInvalidCID
	}
	if s.verifyOnPut {
		got, err := kcid.Of(kcid.CodecOf(id), data)
		if err != nil {
			return err
		}
		if !kcid.Equal(got, id) {
			return storage.ErrCIDMismatch
		}
	}

	path := s.pathFor(id)
	if existing, err := afero.ReadFile(s.fs, path); err == nil {
		if string(existing) == string(data) {
			return storage.ErrExists
		}
		return storage.ErrConflict
	} else if !os.IsNotExist(err) {
		return err
	}

	if err := s.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp := path + ".tmp-" + uuid.NewString()
	f, err := s.fs.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o444)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = s.fs.Remove(tmp)
		return err
	}
	if syncer, ok := f.(interface{ Sync() error }); ok {
		if err := syncer.Sync(); err != nil {
			_ = f.Close()
			_ = s.fs.Remove(tmp)
			return err
		}
	}
	if err := f.Close(); err != nil {
		_ = s.fs.Remove(tmp)
		return err
	}

	if err := s.fs.Rename(tmp, path); err != nil {
		_ = s.fs.Remove(tmp)
		return err
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id gocid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, storage.ErrInvalidCID
	}
	b, err := afero.ReadFile(s.fs, s.pathFor(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	got, err := kcid.Of(kcid.CodecOf(id), b)
	if err != nil {
		return nil, err
	}
	if !kcid.Equal(got, id) {
		return nil, storage.ErrCIDMismatch
	}
	return b, nil
}

func (s *Store) Has(ctx context.Context, id gocid.Cid) (bool, error) {
	if !id.Defined() {
		return false, nil
	}
	_, err := s.fs.Stat(s.pathFor(id))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (s *Store) Delete(ctx context.Context, id gocid.Cid) error {
	if !id.Defined() {
		return storage.ErrInvalidCID
	}
	err := s.fs.Remove(s.pathFor(id))
	if os.IsNotExist(err) {
		return storage.ErrNotFound
	}
	return err
}

func (s *Store) Enumerate(ctx context.Context) (storage.Iterator, error) {
	var paths []string
	err := afero.Walk(s.fs, s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if filepath.Ext(path) == ".tmp" {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &dirIterator{paths: paths}, nil
}

type dirIterator struct {
	paths []string
	pos   int
}

func (it *dirIterator) Next(ctx context.Context) (gocid.Cid, bool, error) {
	for it.pos < len(it.paths) {
		p := it.paths[it.pos]
		it.pos++
		id, err := kcid.Parse(filepath.Base(p))
		if err != nil {
			continue // skip stray non-block files
		}
		return id, true, nil
	}
	return gocid.Undef, false, nil
}

func (it *dirIterator) Close() error { return nil }

func (s *Store) pathFor(id gocid.Cid) string {
	str, err := kcid.String(id)
	if err != nil {
		str = id.String()
	}
	if len(str) < 2 {
		return filepath.Join(s.root, str)
	}
	return filepath.Join(s.root, str[:2], str)
}
