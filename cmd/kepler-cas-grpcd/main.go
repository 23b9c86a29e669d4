// Command kepler-cas-grpcd runs a standalone block-store daemon, exposing
// a storage.BlockStore over gRPC via storage/blockgrpc. This is the seam a
// second host (or a future P2P relay) mounts as a remote block store,
// without Kepler's core needing any replication logic of its own.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"

	"github.com/aws/aws-sdk-go/aws"
	"google.golang.org/grpc"

	"kepler.host/kepler/storage"
	"kepler.host/kepler/storage/blockgrpc"
)

func main() {
	fs := flag.NewFlagSet("kepler-cas-grpcd", flag.ExitOnError)
	listen := fs.String("listen", "127.0.0.1:7777", "listen address")
	backend := fs.String("backend", "local", "block store backend: local|s3|grpc")
	localRoot := fs.String("local-root", "./kepler-blocks", "root directory for the local backend")
	s3Bucket := fs.String("s3-bucket", "", "bucket name for the s3 backend")
	s3Region := fs.String("s3-region", "us-east-1", "AWS region for the s3 backend")
	grpcTarget := fs.String("grpc-target", "", "upstream gRPC target to proxy for the grpc backend")

	_ = fs.Parse(os.Args[1:])

	cfg := storage.Config{
		Kind:        storage.Kind(*backend),
		LocalRoot:   *localRoot,
		S3Bucket:    *s3Bucket,
		S3AWSConfig: aws.NewConfig().WithRegion(*s3Region),
		GRPCTarget:  *grpcTarget,
	}
	store, err := storage.Open(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	lis, err := net.Listen("tcp", *listen)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer lis.Close()

	s := grpc.NewServer()
	blockgrpc.RegisterBlockServer(s, &blockgrpc.Server{Store: store})

	fmt.Fprintf(os.Stderr, "kepler-cas-grpcd listening on %s (backend=%s)\n", lis.Addr().String(), *backend)
	if err := s.Serve(lis); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
