// Package template renders wit prompt templates and the textual timeline
// substituted into them.
package template

import (
	"sort"
	"strings"

	"github.com/dancxjo/psyche/internal/sensation"
)

// Render substitutes {{current}}, {{previous}}, {{input}}, and any other
// {{name}} placeholder found in tpl with the corresponding value from vars.
// Unknown placeholders substitute to the empty string rather than erroring,
// since a missing optional slot (e.g. {{previous}} before the first tick) is
// expected, not exceptional.
func Render(tpl string, vars map[string]string) string {
	var out strings.Builder
	rest := tpl
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			out.WriteString(rest)
			break
		}
		out.WriteString(rest[:start])
		rest = rest[start+2:]

		end := strings.Index(rest, "}}")
		if end < 0 {
			// Unterminated placeholder; emit the rest verbatim.
			out.WriteString("{{")
			out.WriteString(rest)
			break
		}
		name := strings.TrimSpace(rest[:end])
		out.WriteString(vars[name])
		rest = rest[end+2:]
	}
	return out.String()
}

// BuildTimeline renders sensations as a textual timeline: sorted by When,
// deduplicated on consecutive (Kind, plain-text) pairs, one line per entry
// formatted "YYYY-MM-DD HH:MM:SS kind \"text\"".
func BuildTimeline(sensations []sensation.Sensation) string {
	sorted := append([]sensation.Sensation(nil), sensations...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].When.Before(sorted[j].When)
	})

	var deduped []sensation.Sensation
	for _, s := range sorted {
		if n := len(deduped); n > 0 {
			prev := deduped[n-1]
			if prev.Kind == s.Kind && prev.What.PlainText() == s.What.PlainText() {
				continue
			}
		}
		deduped = append(deduped, s)
	}

	lines := make([]string, len(deduped))
	for i, s := range deduped {
		lines[i] = s.When.Format("2006-01-02 15:04:05") + " " + s.Kind + " \"" + s.What.PlainText() + "\""
	}
	return strings.Join(lines, "\n")
}
