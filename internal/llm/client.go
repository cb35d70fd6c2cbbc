package llm

import "context"

// TokenStream is a lazy, finite, single-use stream of UTF-8 fragments from a
// chat completion. Fragments may split UTF-8 characters across calls to
// Next, but each individual fragment is itself valid UTF-8; callers must
// accumulate before decoding arbitrary glyphs out of it.
type TokenStream interface {
	// Next blocks until the next fragment is available, the stream ends
	// (ok == false, err == nil), or ctx is canceled. Once ok is false, or an
	// error is returned, the stream must not be read again.
	Next(ctx context.Context) (fragment string, ok bool, err error)
	// Close releases any resources (and, for a fairness-wrapped stream, the
	// concurrency permit) without requiring the stream to be drained.
	Close() error
}

// Client is the interface every LLM provider adapter implements: an
// abstract chat-streaming and embedding capability, independent of any
// concrete wire format.
type Client interface {
	// ChatStream streams a chat completion for the given ordered messages.
	ChatStream(ctx context.Context, messages []Message) (TokenStream, error)
	// Embed returns a fixed-dimension embedding vector for text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// Ping checks whether the provider is reachable.
	Ping(ctx context.Context) error
}

// Collect drains a TokenStream into a single string. It is a convenience for
// callers (like the wit pipeline) that don't need incremental access to
// tokens.
func Collect(ctx context.Context, stream TokenStream) (string, error) {
	defer stream.Close()
	var out []byte
	for {
		frag, ok, err := stream.Next(ctx)
		if err != nil {
			return string(out), err
		}
		if !ok {
			return string(out), nil
		}
		out = append(out, frag...)
	}
}
