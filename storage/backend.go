package storage

import (
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"

	"kepler.host/kepler/storage/blockgrpc"
	"kepler.host/kepler/storage/localfs"
	"kepler.host/kepler/storage/s3"
)

// Kind tags which concrete BlockStore backend a Config selects. A tagged
// variant is preferred here over a deeper interface hierarchy: there are
// exactly three shapes of "where do blocks live", and callers configuring a
// host want one flat switch rather than a constructor per package wired up
// by hand (design note: tagged-variant dispatch over interface depth).
type Kind string

const (
	KindLocal Kind = "local"
	KindS3    Kind = "s3"
	KindGRPC  Kind = "grpc"
)

// Config selects and parameterizes one BlockStore backend. Only the fields
// for the selected Kind are read.
type Config struct {
	Kind Kind

	// Local
	LocalRoot string

	// S3
	S3Bucket    string
	S3AWSConfig *aws.Config

	// GRPC
	GRPCTarget      string
	GRPCDialTimeout int // seconds
}

// Open constructs the BlockStore named by cfg.Kind.
func Open(cfg Config) (BlockStore, error) {
	switch cfg.Kind {
	case KindLocal:
		return localfs.New(cfg.LocalRoot)
	case KindS3:
		if cfg.S3AWSConfig == nil {
			return nil, fmt.Errorf("storage: s3 backend requires an aws config")
		}
		return s3.New(s3.Bucket(cfg.S3Bucket), s3.AWSConfig(cfg.S3AWSConfig)), nil
	case KindGRPC:
		return blockgrpc.Dial(cfg.GRPCTarget, blockgrpc.DialOptions{
			Timeout: time.Duration(cfg.GRPCDialTimeout) * time.Second,
		})
	default:
		return nil, fmt.Errorf("storage: unknown backend kind %q", cfg.Kind)
	}
}
