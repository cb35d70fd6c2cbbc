package conversation

import "testing"

func TestTailBoundedFullUnbounded(t *testing.T) {
	w := NewWindow("be helpful", 2)
	w.Append("user", "one")
	w.Append("assistant", "two")
	w.Append("user", "three")

	tail := w.Tail()
	if len(tail) != 3 { // system + 2 tail turns
		t.Fatalf("expected 3 tail entries, got %d: %+v", len(tail), tail)
	}
	if tail[0].Role != "system" || tail[0].Text != "be helpful" {
		t.Errorf("expected system message first, got %+v", tail[0])
	}
	if tail[1].Text != "two" || tail[2].Text != "three" {
		t.Errorf("unexpected tail contents: %+v", tail[1:])
	}

	full := w.Full()
	if len(full) != 3 {
		t.Errorf("expected full log to retain all 3 turns, got %d", len(full))
	}
}

func TestTailShorterThanMax(t *testing.T) {
	w := NewWindow("", 10)
	w.Append("user", "hi")
	tail := w.Tail()
	if len(tail) != 1 || tail[0].Text != "hi" {
		t.Errorf("unexpected tail: %+v", tail)
	}
}
