package fabric

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dancxjo/psyche/internal/bus"
)

// TestDependencyGating mirrors scenario S6: a tailer depending
// on a socket that doesn't exist yet must not read anything until that
// socket appears, and then must pick up what's written to it within one
// beat interval.
func TestDependencyGating(t *testing.T) {
	t.Setenv("FAST_TEST", "1")

	dir := t.TempDir()
	dep := filepath.Join(dir, "whisperd.sock")
	upstream := filepath.Join(dir, "hearing.sock")

	b := bus.New(nil)
	tailer := &Tailer{Name: "hearing", SocketPath: upstream, Kind: "sensation/hearing", DependsOn: []string{dep}, Bus: b}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = tailer.Run(ctx)
	}()

	// No dependency yet: the tailer must still be blocked after a short wait.
	time.Sleep(50 * time.Millisecond)

	ln, err := net.Listen("unix", upstream)
	if err != nil {
		t.Fatalf("listen upstream: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	select {
	case <-accepted:
		t.Fatal("tailer dialed upstream before its dependency existed")
	case <-time.After(100 * time.Millisecond):
	}

	// Now satisfy the dependency: create the socket file it polls for.
	depLn, err := net.Listen("unix", dep)
	if err != nil {
		t.Fatalf("listen dep: %v", err)
	}
	defer depLn.Close()
	go func() {
		for {
			conn, err := depLn.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	out, unsubscribe := b.SubscribeBroadcast("sensation/hearing")
	defer unsubscribe()

	var conn net.Conn
	select {
	case conn = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("tailer never dialed upstream after dependency appeared")
	}
	conn.Write([]byte("ping\n"))
	conn.Close()

	select {
	case ev := <-out:
		text, _ := ev.Sensation.What.String()
		if text != "ping" {
			t.Fatalf("expected text %q, got %q", "ping", text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sensation after dependency satisfied")
	}

	cancel()
	<-done
	_ = os.Remove(upstream)
}
