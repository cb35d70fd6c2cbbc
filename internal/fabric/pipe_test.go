package fabric

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dancxjo/psyche/internal/bus"
)

// decodeIngressPayload unmarshals a pipe-ingress sensation's structured
// {path,text} payload, matching ingressPayload in pipe.go.
func decodeIngressPayload(t *testing.T, raw json.RawMessage) (path, text string) {
	t.Helper()
	var p struct {
		Path string `json:"path"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		t.Fatalf("decode ingress payload: %v", err)
	}
	return p.Path, p.Text
}

func TestPipeListenerParsesRecord(t *testing.T) {
	dir := t.TempDir()
	sock := filepath.Join(dir, "chat.sock")

	b := bus.New(nil)
	listener := &PipeListener{Name: "chat", SocketPath: sock, KindPrefix: "sensation", Bus: b}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = listener.Listen(ctx) }()
	waitForSocket(t, sock)

	out, unsubscribe := b.SubscribeBroadcast("sensation/chat")
	defer unsubscribe()

	conn, err := net.Dial("unix", sock)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if _, err := conn.Write([]byte("/chat\nI feel lonely\n---\n")); err != nil {
		t.Fatal(err)
	}
	conn.Close()

	select {
	case ev := <-out:
		raw, ok := ev.Sensation.What.JSON()
		if !ok {
			t.Fatalf("unexpected sensation: %+v", ev.Sensation)
		}
		path, text := decodeIngressPayload(t, raw)
		if path != "/chat" || text != "I feel lonely" {
			t.Fatalf("unexpected sensation payload: path=%q text=%q", path, text)
		}
		if ev.Sensation.Source != "/chat" {
			t.Fatalf("expected source /chat, got %q", ev.Sensation.Source)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sensation")
	}
}

func TestPipeListenerMultiLineBody(t *testing.T) {
	dir := t.TempDir()
	sock := filepath.Join(dir, "multi.sock")

	b := bus.New(nil)
	listener := &PipeListener{Name: "multi", SocketPath: sock, KindPrefix: "sensation", Bus: b}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = listener.Listen(ctx) }()
	waitForSocket(t, sock)

	out, unsubscribe := b.SubscribeBroadcast("sensation/note")
	defer unsubscribe()

	conn, err := net.Dial("unix", sock)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if _, err := conn.Write([]byte("/note\nline one\nline two\n---\n")); err != nil {
		t.Fatal(err)
	}
	conn.Close()

	select {
	case ev := <-out:
		raw, ok := ev.Sensation.What.JSON()
		if !ok {
			t.Fatalf("unexpected sensation: %+v", ev.Sensation)
		}
		_, text := decodeIngressPayload(t, raw)
		if text != "line one\nline two" {
			t.Fatalf("unexpected multi-line body: %q", text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sensation")
	}
}

func waitForSocket(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("socket %q never appeared", path)
}
