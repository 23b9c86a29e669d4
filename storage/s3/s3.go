// Package s3 is the S3-backed BlockStore (§4.1), grounded on the
// aws-sdk-go v1 usage in oneconcern-datamon's storage/sthree package:
// keys are CID strings, objects are written once and never mutated.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io/ioutil"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	gocid "github.com/ipfs/go-cid"

	kcid "kepler.host/kepler/cid"
	storage "kepler.host/kepler/storage/storeerr"
)

// Store is a BlockStore backed by a single S3 bucket. Keys are the
// block's normalized CID string; no prefix sharding is needed, S3 handles
// partitioning internally.
type Store struct {
	bucket      string
	s3          *s3.S3
	uploader    *s3manager.Uploader
	downloader  *s3manager.Downloader
	verifyOnPut bool
}

// Option configures a Store at construction time.
type Option func(*Store)

func Bucket(bucket string) Option {
	return func(s *Store) { s.bucket = bucket }
}

func AWSConfig(cfg *aws.Config) Option {
	return func(s *Store) {
		sess := session.Must(session.NewSession(cfg))
		s.s3 = s3.New(sess)
		s.uploader = s3manager.NewUploaderWithClient(s.s3)
		s.downloader = s3manager.NewDownloaderWithClient(s.s3)
	}
}

// New constructs an S3 Store. AWSConfig must be one of the options, or the
// client will be nil.
func New(opts ...Option) *Store {
	s := &Store{}
	for _, apply := range opts {
		apply(s)
	}
	return s
}

// SetVerifyOnPut implements storage.Verifier. Re-hashing on put means
// buffering the whole body in memory, so S3 defaults this off; callers that
// need it (small blocks, high-assurance paths) can opt back in.
func (s *Store) SetVerifyOnPut(v bool) { s.verifyOnPut = v }

func (s *Store) key(id gocid.Cid) (string, error) {
	return kcid.String(id)
}

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
	key, err := s.key(id)
	if err != nil {
		return err
	}

	has, err := s.Has(ctx, id)
	if err != nil {
		return err
	}
	if has {
		existing, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		if string(existing) == string(data) {
			return storage.ErrExists
		}
		return storage.ErrConflict
	}

	_, err = s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	return err
}

func (s *Store) Get(ctx context.Context, id gocid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, storage.ErrInvalidCID
	}
	key, err := s.key(id)
	if err != nil {
		return nil, err
	}
	obj, err := s.s3.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if rerr, ok := err.(awserr.RequestFailure); ok && rerr.StatusCode() == 404 {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	defer obj.Body.Close()
	data, err := ioutil.ReadAll(obj.Body)
	if err != nil {
		return nil, err
	}
	got, err := kcid.Of(kcid.CodecOf(id), data)
	if err != nil {
		return nil, err
	}
	if !kcid.Equal(got, id) {
		return nil, storage.ErrCIDMismatch
	}
	return data, nil
}

func (s *Store) Has(ctx context.Context, id gocid.Cid) (bool, error) {
	if !id.Defined() {
		return false, nil
	}
	key, err := s.key(id)
	if err != nil {
		return false, err
	}
	_, err = s.s3.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if rerr, ok := err.(awserr.RequestFailure); ok && rerr.StatusCode() == 404 {
			return false, nil
		}
		return false, fmt.Errorf("s3: head object: %w", err)
	}
	return true, nil
}

func (s *Store) Delete(ctx context.Context, id gocid.Cid) error {
	if !id.Defined() {
		return storage.ErrInvalidCID
	}
	key, err := s.key(id)
	if err != nil {
		return err
	}
	has, err := s.Has(ctx, id)
	if err != nil {
		return err
	}
	if !has {
		return storage.ErrNotFound
	}
	_, err = s.s3.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	return err
}

func (s *Store) Enumerate(ctx context.Context) (storage.Iterator, error) {
	var ids []gocid.Cid
	params := &s3.ListObjectsInput{Bucket: aws.String(s.bucket)}
	err := s.s3.ListObjectsPagesWithContext(ctx, params, func(page *s3.ListObjectsOutput, more bool) bool {
		for _, obj := range page.Contents {
			key := aws.StringValue(obj.Key)
			if key == "" {
				continue
			}
			id, err := kcid.Parse(key)
			if err != nil {
				continue
			}
			ids = append(ids, id)
		}
		return more
	})
	if err != nil {
		return nil, err
	}
	return &sliceIterator{ids: ids}, nil
}

type sliceIterator struct {
	ids []gocid.Cid
	pos int
}

func (it *sliceIterator) Next(ctx context.Context) (gocid.Cid, bool, error) {
	if it.pos >= len(it.ids) {
		return gocid.Undef, false, nil
	}
	id := it.ids[it.pos]
	it.pos++
	return id, true, nil
}

func (it *sliceIterator) Close() error { return nil }
