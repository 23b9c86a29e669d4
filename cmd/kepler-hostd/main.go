// Command kepler-hostd wires every core package into a running HTTP host.
// It is deliberately a flag binder, not a generic TOML/env configuration
// framework (spec.md's non-goal): one flag per knob, no config file
// schema, no hot reload.
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"

	"kepler.host/kepler/capability"
	"kepler.host/kepler/did"
	"kepler.host/kepler/httpapi"
	"kepler.host/kepler/index"
	"kepler.host/kepler/object"
	"kepler.host/kepler/orbit"
	"kepler.host/kepler/staging"
	"kepler.host/kepler/storage"
	"kepler.host/kepler/telemetry"
)

func main() {
	fs := flag.NewFlagSet("kepler-hostd", flag.ExitOnError)
	addr := fs.String("addr", ":8080", "HTTP listen address")
	dsn := fs.String("db", "sqlite:kepler.db", "index store DSN (sqlite:/mysql://.../postgres://...)")
	logSQL := fs.Bool("log-sql", false, "log index store SQL statements")
	debug := fs.Bool("debug", false, "use development (console) logging")
	secretHex := fs.String("secret", "", "hex-encoded host static secret, >=32 bytes (required)")
	maxOpenOrbits := fs.Int("max-open-orbits", 256, "maximum concurrently cached orbit handles")
	orbitLinger := fs.Duration("orbit-linger", 30*time.Second, "how long an idle orbit handle stays cached")
	invocationTimeout := fs.Duration("invocation-timeout", 30*time.Second, "per-request wall-clock timeout")
	stagingMaxBytes := fs.Int64("staging-max-bytes", 64<<20, "maximum staged body size, 0 = unbounded")

	blockBackend := fs.String("block-backend", "local", "block store backend: local|s3|grpc")
	blockLocalRoot := fs.String("block-local-root", "./kepler-blocks", "root directory for the local block backend")
	blockS3Bucket := fs.String("block-s3-bucket", "", "bucket for the s3 block backend")
	blockS3Region := fs.String("block-s3-region", "us-east-1", "AWS region for the s3 block backend")
	blockGRPCTarget := fs.String("block-grpc-target", "", "upstream target for the grpc block backend")

	_ = fs.Parse(os.Args[1:])

	if err := run(hostConfig{
		addr: *addr, dsn: *dsn, logSQL: *logSQL, debug: *debug, secretHex: *secretHex,
		maxOpenOrbits: *maxOpenOrbits, orbitLinger: *orbitLinger, invocationTimeout: *invocationTimeout,
		stagingMaxBytes: *stagingMaxBytes, blockBackend: *blockBackend, blockLocalRoot: *blockLocalRoot,
		blockS3Bucket: *blockS3Bucket, blockS3Region: *blockS3Region, blockGRPCTarget: *blockGRPCTarget,
	}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type hostConfig struct {
	addr, dsn, secretHex            string
	logSQL, debug                   bool
	maxOpenOrbits                   int
	orbitLinger, invocationTimeout  time.Duration
	stagingMaxBytes                 int64
	blockBackend, blockLocalRoot    string
	blockS3Bucket, blockS3Region    string
	blockGRPCTarget                 string
}

func run(cfg hostConfig) error {
	if cfg.secretHex == "" {
		return fmt.Errorf("kepler-hostd: -secret is required")
	}
	secretBytes, err := hex.DecodeString(cfg.secretHex)
	if err != nil {
		return fmt.Errorf("kepler-hostd: -secret must be hex: %w", err)
	}
	secret, err := orbit.NewSecret(secretBytes)
	if err != nil {
		return err
	}

	logger, err := telemetry.NewLogger(cfg.debug)
	if err != nil {
		return err
	}
	defer logger.Sync()

	db, err := index.Open(index.Config{DSN: cfg.dsn, LogSQL: cfg.logSQL})
	if err != nil {
		return err
	}
	idx := index.New(db)

	var s3Cfg *aws.Config
	if cfg.blockBackend == string(storage.KindS3) {
		s3Cfg = aws.NewConfig().WithRegion(cfg.blockS3Region)
	}
	blocks, err := storage.Open(storage.Config{
		Kind:        storage.Kind(cfg.blockBackend),
		LocalRoot:   cfg.blockLocalRoot,
		S3Bucket:    cfg.blockS3Bucket,
		S3AWSConfig: s3Cfg,
		GRPCTarget:  cfg.blockGRPCTarget,
	})
	if err != nil {
		return err
	}

	stagingArea := staging.NewFileSystemArea(afero.NewOsFs(), os.TempDir()+"/kepler-staging", cfg.stagingMaxBytes)
	objSvc := object.New(blocks, idx, stagingArea)

	mgr := orbit.NewManager(secret, idx, cfg.maxOpenOrbits, cfg.orbitLinger)

	resolver := did.NewRegistry()
	resolver.Register("key", did.KeyResolver{})
	engine := capability.NewEngine(idx.Capabilities(), resolver)

	hostKey, err := secret.DeriveHostKey("__host__")
	if err != nil {
		return err
	}
	hostDID, err := did.NewKeyDID(hostKey.Public().(ed25519.PublicKey))
	if err != nil {
		return err
	}

	srv := &httpapi.Server{
		Engine:            engine,
		Capabilities:      idx.Capabilities(),
		Index:             idx,
		Objects:           objSvc,
		Orbits:            mgr,
		Logger:            logger,
		Metrics:           telemetry.NewMetrics(prometheus.NewRegistry()),
		HostID:            hostDID,
		InvocationTimeout: cfg.invocationTimeout,
	}

	httpSrv := &http.Server{Addr: cfg.addr, Handler: srv.Router()}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()

	logger.Sugar().Infow("kepler-hostd listening", "addr", cfg.addr, "host_did", hostDID)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	}
	return nil
}
