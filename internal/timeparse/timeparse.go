// Package timeparse parses the "@{RFC3339}" timestamp prefix some sensor
// daemons attach to raw text.
package timeparse

import (
	"strings"
	"time"
)

// ParsePrefix parses a timestamp prefix of the form "@{<RFC3339 datetime>}"
// at the start of buf. It returns the parsed time and the number of bytes
// the prefix occupies. ok is false if buf doesn't start with "@{", has no
// closing "}", or the enclosed text isn't valid RFC3339.
func ParsePrefix(buf string) (t time.Time, n int, ok bool) {
	if !strings.HasPrefix(buf, "@{") {
		return time.Time{}, 0, false
	}
	endBrace := strings.IndexByte(buf, '}')
	if endBrace < 0 {
		return time.Time{}, 0, false
	}
	ts := buf[2:endBrace]
	parsed, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return time.Time{}, 0, false
	}
	return parsed, endBrace + 1, true
}
