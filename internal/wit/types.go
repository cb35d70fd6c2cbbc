// Package wit implements the wit pipeline: a directed graph of distillers
// running on a shared clock, each consuming a typed memory kind, emitting
// another kind, with feedback edges and per-wit beat divisors and
// priority
package wit

import (
	"context"

	"github.com/dancxjo/psyche/internal/sensation"
)

// Definition is a config-loaded, immutable-for-the-run wit description,
// matching 's Wit Definition.
type Definition struct {
	Name        string
	Input       string
	Output      string
	Prompt      string
	Priority    *int // nil means this is a pipeline wit, not conversational
	BeatMod     int  // positive; pipeline wits fire when tick % BeatMod == 0
	Feedback    string
	LLMProfile  string // empty means the default profile
	Postprocess string // "", "none", "first_sentence", "trim"
	HistoryDepth int   // default 16 if zero
}

// item is one pending input: the sensation itself, plus an identifier if
// one is already known (e.g. it arrived via a feedback edge and was minted
// by the producing wit) and whether that identifier names a prior
// impression rather than a raw sensation — this drives the sensation_ids
// vs impression_ids split on the stored impression, which references only
// the items of the evaluated batch and never the wit's previous output.
type item struct {
	sensation    sensation.Sensation
	id           string // empty if not yet known; minted at evaluation time
	isImpression bool
}

// MemoryClient is the subset of the memory service client a wit needs:
// durable append of raw sensations and impressions it distills.
type MemoryClient interface {
	Memorize(ctx context.Context, kind string, data any) error
}
