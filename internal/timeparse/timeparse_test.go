package timeparse

import "testing"

func TestParsePrefixValid(t *testing.T) {
	input := "@{2025-07-31T14:00:00-07:00}foo"
	ts, n, ok := ParsePrefix(input)
	if !ok {
		t.Fatalf("expected a match")
	}
	if n != 28 {
		t.Errorf("expected 28 bytes consumed, got %d", n)
	}
	if got := ts.Format("2006-01-02T15:04:05-07:00"); got != "2025-07-31T14:00:00-07:00" {
		t.Errorf("got %q", got)
	}
}

func TestParsePrefixMalformed(t *testing.T) {
	if _, _, ok := ParsePrefix("@{not a date}"); ok {
		t.Errorf("expected no match for malformed date")
	}
}

func TestParsePrefixMissingBrace(t *testing.T) {
	if _, _, ok := ParsePrefix("@{2025-01-01T00:00:00Z"); ok {
		t.Errorf("expected no match when closing brace is missing")
	}
}

func TestParsePrefixNoPrefix(t *testing.T) {
	if _, _, ok := ParsePrefix("plain text"); ok {
		t.Errorf("expected no match without @{ prefix")
	}
}
