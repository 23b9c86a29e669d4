// Package staging implements §4.3: an in-flight request body is absorbed
// into a Resource before it is committed to the block store, computing its
// content hash streaming so an invocation's body_hash caveat can be checked
// without re-reading the bytes. Grounded on the teacher's localfs block
// store for the FileSystem mode's atomic-temp-file discipline.
package staging

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	gocid "github.com/ipfs/go-cid"
	"github.com/spf13/afero"

	kcid "kepler.host/kepler/cid"
)

// ErrTooLarge is returned when a Resource's Write would exceed its area's
// size limit (§4.3 Memory mode, §6 *payload-too-large*).
var ErrTooLarge = errors.New("staging: payload too large")

// Resource absorbs one request body. Callers must call Close when done
// with it (success or failure) to release its backing storage; Close is
// idempotent and safe to defer unconditionally.
type Resource interface {
	io.Writer

	// BodyHash returns a raw-codec CID computed over the sha2-256 digest
	// of the bytes written so far (not over the bytes themselves), usable
	// to check an invocation's body_hash caveat as soon
	// as streaming completes, without re-reading.
	BodyHash() (gocid.Cid, error)

	// Size reports the number of bytes written so far.
	Size() int64

	// Reader returns a fresh reader over everything written, for handing
	// to the block store's Put. Callers must not write further after
	// calling Reader.
	Reader() (io.ReadSeeker, error)

	// Close discards the resource, freeing any backing memory or
	// temporary file. Safe to call multiple times.
	Close() error
}

// Area creates Resources in one of the two modes described by §4.3.
type Area interface {
	NewResource(ctx context.Context) (Resource, error)
}

// --- Memory mode -----------------------------------------------------------

// MemoryArea buffers resources entirely in memory, bounded by MaxBytes
// (§4.3 "bounded buffer per request; exceeding the limit fails … with
// payload-too-large").
type MemoryArea struct {
	MaxBytes int64
}

func NewMemoryArea(maxBytes int64) *MemoryArea {
	return &MemoryArea{MaxBytes: maxBytes}
}

func (a *MemoryArea) NewResource(ctx context.Context) (Resource, error) {
	return &memoryResource{max: a.MaxBytes}, nil
}

type memoryResource struct {
	buf    []byte
	hasher hash.Hash
	max    int64
	size   int64
	closed bool
}

func (r *memoryResource) Write(p []byte) (int, error) {
	if r.closed {
		return 0, errors.New("staging: write to closed resource")
	}
	if r.max > 0 && r.size+int64(len(p)) > r.max {
		return 0, ErrTooLarge
	}
	if r.hasher == nil {
		r.hasher = sha256.New()
	}
	r.hasher.Write(p)
	r.buf = append(r.buf, p...)
	r.size += int64(len(p))
	return len(p), nil
}

func (r *memoryResource) BodyHash() (gocid.Cid, error) {
	if r.hasher == nil {
		r.hasher = sha256.New()
	}
	return kcid.Of(kcid.Raw, r.hasher.Sum(nil))
}

func (r *memoryResource) Size() int64 { return r.size }

func (r *memoryResource) Reader() (io.ReadSeeker, error) {
	return &byteSliceReadSeeker{data: r.buf}, nil
}

func (r *memoryResource) Close() error {
	r.buf = nil
	r.closed = true
	return nil
}

type byteSliceReadSeeker struct {
	data []byte
	pos  int64
}

func (b *byteSliceReadSeeker) Read(p []byte) (int, error) {
	if b.pos >= int64(len(b.data)) {
		return 0, io.EOF
	}
	n := copy(p, b.data[b.pos:])
	b.pos += int64(n)
	return n, nil
}

func (b *byteSliceReadSeeker) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = b.pos + offset
	case io.SeekEnd:
		newPos = int64(len(b.data)) + offset
	default:
		return 0, fmt.Errorf("staging: invalid whence %d", whence)
	}
	if newPos < 0 {
		return 0, errors.New("staging: negative seek position")
	}
	b.pos = newPos
	return newPos, nil
}

// --- FileSystem mode --------------------------------------------------------

// FileSystemArea spills resources to temp files under Dir, with
// scoped-resource semantics: Close always removes the backing file,
// guaranteeing cleanup on every exit path (§4.3).
type FileSystemArea struct {
	Fs       afero.Fs
	Dir      string
	MaxBytes int64
}

func NewFileSystemArea(fs afero.Fs, dir string, maxBytes int64) *FileSystemArea {
	return &FileSystemArea{Fs: fs, Dir: dir, MaxBytes: maxBytes}
}

func (a *FileSystemArea) NewResource(ctx context.Context) (Resource, error) {
	if err := a.Fs.MkdirAll(a.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("staging: mkdir: %w", err)
	}
	name := filepath.Join(a.Dir, "stage-"+uuid.New().String()+".tmp")
	f, err := a.Fs.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("staging: create temp file: %w", err)
	}
	return &fileResource{
		fs:     a.Fs,
		path:   name,
		file:   f,
		hasher: sha256.New(),
		max:    a.MaxBytes,
	}, nil
}

type fileResource struct {
	fs     afero.Fs
	path   string
	file   afero.File
	hasher hash.Hash
	max    int64
	size   int64
	closed bool
}

func (r *fileResource) Write(p []byte) (int, error) {
	if r.closed {
		return 0, errors.New("staging: write to closed resource")
	}
	if r.max > 0 && r.size+int64(len(p)) > r.max {
		return 0, ErrTooLarge
	}
	n, err := r.file.Write(p)
	if n > 0 {
		r.hasher.Write(p[:n])
		r.size += int64(n)
	}
	return n, err
}

func (r *fileResource) BodyHash() (gocid.Cid, error) {
	return kcid.Of(kcid.Raw, r.hasher.Sum(nil))
}

func (r *fileResource) Size() int64 { return r.size }

func (r *fileResource) Reader() (io.ReadSeeker, error) {
	if _, err := r.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("staging: seek: %w", err)
	}
	return r.file, nil
}

// Close removes the temp file unconditionally: staged bytes only become
// durable once the block store has them under their computed CID (§4.3
// "on any failure the staged resource is discarded").
func (r *fileResource) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	closeErr := r.file.Close()
	removeErr := r.fs.Remove(r.path)
	if closeErr != nil {
		return closeErr
	}
	if removeErr != nil && !os.IsNotExist(removeErr) {
		return removeErr
	}
	return nil
}
