package memory

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/dancxjo/psyche/internal/rpcutil"
)

// startTestRPCServer wires a fresh Service onto a Unix-socket JSON-RPC
// server, matching how cmd/memoryd assembles the two, and returns a Client
// dialed against it.
func startTestRPCServer(t *testing.T) *Client {
	t.Helper()
	dir := t.TempDir()
	svc, err := NewService(dir, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	t.Cleanup(func() { svc.Close() })

	server := rpcutil.NewServer(nil)
	svc.RegisterRPC(server)

	sockPath := filepath.Join(dir, "memory.sock")
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go server.Serve(ctx, ln)

	return NewClient("unix", sockPath)
}

func TestRPCPing(t *testing.T) {
	client := startTestRPCServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestRPCMemorizeThenList(t *testing.T) {
	client := startTestRPCServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Memorize(ctx, "instant", map[string]string{"how": "the interlocutor feels lonely"}); err != nil {
		t.Fatalf("memorize: %v", err)
	}

	recs, err := client.List(ctx, "instant")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
}

func TestRPCUnknownMethodReturnsErrorWithoutClosingConnection(t *testing.T) {
	client := startTestRPCServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := client.Call(ctx, "not_a_method", struct{}{}, nil)
	if err == nil {
		t.Fatal("expected an rpc error for an unknown method")
	}
	rpcErr, ok := err.(*rpcutil.RPCError)
	if !ok {
		t.Fatalf("got %T, want *rpcutil.RPCError", err)
	}
	if rpcErr.Code != rpcutil.CodeMethodNotFound {
		t.Errorf("got code %d, want %d", rpcErr.Code, rpcutil.CodeMethodNotFound)
	}

	// The transport must still work for a subsequent request.
	if err := client.Ping(ctx); err != nil {
		t.Fatalf("ping after error: %v", err)
	}
}

func TestRPCMalformedJSONReturnsParseError(t *testing.T) {
	dir := t.TempDir()
	svc, err := NewService(dir, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	defer svc.Close()
	server := rpcutil.NewServer(nil)
	svc.RegisterRPC(server)

	sockPath := filepath.Join(dir, "memory.sock")
	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go server.Serve(ctx, ln)

	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	conn.(*net.UnixConn).CloseWrite()

	buf := make([]byte, 4096)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n == 0 {
		t.Fatal("expected a non-empty error response")
	}
}

func TestRPCQueryVectorWithoutStoreReturnsEmptyNotError(t *testing.T) {
	client := startTestRPCServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var hits []VectorHit
	err := client.Call(ctx, "query_vector", queryVectorParams{Kind: "instant", Vector: []float32{1, 2}, TopK: 5}, &hits)
	if err != nil {
		t.Fatalf("query_vector: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("got %d hits, want 0", len(hits))
	}
}
