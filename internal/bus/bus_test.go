package bus

import (
	"log/slog"
	"testing"
	"time"

	"github.com/dancxjo/psyche/internal/sensation"
)

func testSensation(kind, text string) sensation.Sensation {
	return sensation.Sensation{Kind: kind, When: time.Now().UTC(), What: sensation.StringPayload(text)}
}

func TestBroadcastDeliversToAllSubscribers(t *testing.T) {
	b := New(slog.Default())
	ch1, unsub1 := b.SubscribeBroadcast("sensation/chat")
	defer unsub1()
	ch2, unsub2 := b.SubscribeBroadcast("sensation/chat")
	defer unsub2()

	b.Publish("sensation/chat", testSensation("sensation/chat", "hello"))

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			text, _ := ev.Sensation.What.String()
			if text != "hello" {
				t.Fatalf("subscriber %d: got %q, want %q", i, text, "hello")
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: timed out waiting for publish", i)
		}
	}
}

func TestBroadcastLagMarksOverflowRatherThanSilentDrop(t *testing.T) {
	b := New(slog.Default())
	ch, unsub := b.SubscribeBroadcast("sensation/flood")
	defer unsub()

	// Flood well past the subscriber's buffer without ever reading.
	for i := 0; i < broadcastBufferSize+5; i++ {
		b.Publish("sensation/flood", testSensation("sensation/flood", "x"))
	}

	sawLag := false
	for i := 0; i < broadcastBufferSize+5; i++ {
		select {
		case ev := <-ch:
			if ev.Lagged > 0 {
				sawLag = true
			}
		default:
		}
	}
	if !sawLag {
		t.Fatal("expected at least one Lagged marker after overflowing the subscriber buffer")
	}
}

func TestFaninDropsNewestOnOverflowAndCountsDrops(t *testing.T) {
	b := New(slog.Default())
	ch := b.SubscribeFanin("sensation/motion", 1)

	b.Publish("sensation/motion", testSensation("sensation/motion", "first"))
	b.Publish("sensation/motion", testSensation("sensation/motion", "second")) // dropped, buffer full

	got := <-ch
	text, _ := got.What.String()
	if text != "first" {
		t.Fatalf("got %q, want %q (fan-in must keep the oldest, drop the newest)", text, "first")
	}
	if d := b.Drops("sensation/motion"); d != 1 {
		t.Fatalf("Drops() = %d, want 1", d)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New(slog.Default())
	ch, unsub := b.SubscribeBroadcast("sensation/x")
	unsub()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected channel to be closed after unsubscribe")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}

func TestMergeCombinesMultipleStreamsPreservingPerStreamOrder(t *testing.T) {
	a := make(chan sensation.Sensation, 2)
	b := make(chan sensation.Sensation, 2)
	a <- testSensation("a", "a1")
	a <- testSensation("a", "a2")
	b <- testSensation("b", "b1")
	close(a)
	close(b)

	merged := Merge(a, b)
	var gotA []string
	count := 0
	for s := range merged {
		count++
		if s.Kind == "a" {
			text, _ := s.What.String()
			gotA = append(gotA, text)
		}
	}
	if count != 3 {
		t.Fatalf("got %d merged sensations, want 3", count)
	}
	if len(gotA) != 2 || gotA[0] != "a1" || gotA[1] != "a2" {
		t.Fatalf("stream a order not preserved: %v", gotA)
	}
}
