package blockgrpc

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	kcid "kepler.host/kepler/cid"
	"kepler.host/kepler/storage/localfs"
)

func TestBlockGRPC_LocalFS_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	backing, err := localfs.New(dir)
	if err != nil {
		t.Fatalf("localfs.New: %v", err)
	}

	lis := bufconn.Listen(1024 * 1024)
	srv := grpc.NewServer()
	RegisterBlockServer(srv, &Server{Store: backing})

	go func() {
		_ = srv.Serve(lis)
	}()
	defer srv.Stop()

	dialer := func(ctx context.Context, s string) (net.Conn, error) { return lis.Dial() }
	cc, err := grpc.DialContext(
		context.Background(),
		"bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("DialContext: %v", err)
	}
	defer cc.Close()

	client := &Client{cc: cc, client: NewBlockClient(cc), Timeout: 2 * time.Second}

	ctx := context.Background()
	payload := []byte("hello block store")
	id, err := kcid.OfRaw(payload)
	if err != nil {
		t.Fatalf("OfRaw: %v", err)
	}

	if err := client.Put(ctx, id, payload); err != nil {
		t.Fatalf("Put: %v", err)
	}
	has, err := client.Has(ctx, id)
	if err != nil {
		t.Fatalf("Has: %v", err)
	}
	if !has {
		t.Fatalf("Has: expected true")
	}
	got, err := client.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("payload mismatch")
	}
	if err := client.Delete(ctx, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	has, err = client.Has(ctx, id)
	if err != nil {
		t.Fatalf("Has after delete: %v", err)
	}
	if has {
		t.Fatalf("Has after delete: expected false")
	}
}
