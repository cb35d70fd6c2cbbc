package template

import (
	"testing"
	"time"

	"github.com/dancxjo/psyche/internal/sensation"
)

func TestRenderSubstitutesKnownAndUnknownKeys(t *testing.T) {
	out := Render("These things happened: {{current}}. Before: {{previous}}. Stray: {{missing}}", map[string]string{
		"current":  "I feel lonely",
		"previous": "",
	})
	want := "These things happened: I feel lonely. Before: . Stray: "
	if out != want {
		t.Errorf("got %q, want %q", out, want)
	}
}

func TestBuildTimelineSortsAndDedupesConsecutive(t *testing.T) {
	base := time.Date(2024, 2, 3, 12, 34, 56, 0, time.UTC)
	s1 := sensation.Sensation{Kind: "a", When: base.Add(time.Second), What: sensation.StringPayload("hi")}
	s2 := sensation.Sensation{Kind: "a", When: base, What: sensation.StringPayload("hi")}

	tl := BuildTimeline([]sensation.Sensation{s1, s2})
	lines := splitLines(tl)
	if len(lines) != 1 {
		t.Fatalf("expected 1 deduped line, got %d: %v", len(lines), lines)
	}
	want := "2024-02-03 12:34:56 a \"hi\""
	if lines[0] != want {
		t.Errorf("got %q, want %q", lines[0], want)
	}
}

func TestBuildTimelineKeepsNonConsecutiveDuplicates(t *testing.T) {
	base := time.Date(2024, 2, 3, 12, 34, 56, 0, time.UTC)
	s1 := sensation.Sensation{Kind: "a", When: base, What: sensation.StringPayload("hi")}
	s2 := sensation.Sensation{Kind: "b", When: base.Add(time.Second), What: sensation.StringPayload("other")}
	s3 := sensation.Sensation{Kind: "a", When: base.Add(2 * time.Second), What: sensation.StringPayload("hi")}

	tl := BuildTimeline([]sensation.Sensation{s1, s2, s3})
	lines := splitLines(tl)
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines (non-consecutive duplicate kept), got %d: %v", len(lines), lines)
	}
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}
