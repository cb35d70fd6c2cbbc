// Package conversation implements the conversation window: an
// ever-growing, single-writer log of (role, text) turns with a bounded
// "tail" used for prompting Window.
package conversation

import "sync"

// Message is one turn of a conversation.
type Message struct {
	Role string
	Text string
}

// Window holds the full conversation log plus a system message prepended
// to every rendered prompt. The full log is retained for audit; Tail
// returns only the bounded suffix used for prompting.
type Window struct {
	mu         sync.Mutex
	system     string
	full       []Message
	maxTailLen int
}

// NewWindow creates a Window with the given unconditional system message
// and tail length.
func NewWindow(system string, maxTailLen int) *Window {
	if maxTailLen < 0 {
		maxTailLen = 0
	}
	return &Window{system: system, maxTailLen: maxTailLen}
}

// Append records one turn at the end of the full log.
func (w *Window) Append(role, text string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.full = append(w.full, Message{Role: role, Text: text})
}

// Tail returns the system message followed by the last maxTailLen turns of
// the full log. The full log itself is never truncated.
func (w *Window) Tail() []Message {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]Message, 0, w.maxTailLen+1)
	if w.system != "" {
		out = append(out, Message{Role: "system", Text: w.system})
	}
	start := 0
	if len(w.full) > w.maxTailLen {
		start = len(w.full) - w.maxTailLen
	}
	out = append(out, w.full[start:]...)
	return out
}

// Full returns every turn ever appended, for audit purposes.
func (w *Window) Full() []Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Message, len(w.full))
	copy(out, w.full)
	return out
}
