package llm

import (
	"context"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicDefaultMaxTokens int64 = 4096

// AnthropicClient adapts github.com/anthropics/anthropic-sdk-go's streaming
// Messages API to the Client/TokenStream interfaces.
type AnthropicClient struct {
	sdk       anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropicClient builds a Client backed by the Anthropic Messages API.
// baseURL may be empty to use the SDK's default.
func NewAnthropicClient(apiKey, baseURL, model string) *AnthropicClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(baseURL, "/")))
	}
	if model == "" {
		model = string(anthropic.ModelClaude3_7SonnetLatest)
	}
	return &AnthropicClient{
		sdk:       anthropic.NewClient(opts...),
		model:     model,
		maxTokens: anthropicDefaultMaxTokens,
	}
}

func toAnthropicMessages(messages []Message) (system string, out []anthropic.MessageParam) {
	var sysParts []string
	for _, m := range messages {
		switch m.Role {
		case "system":
			sysParts = append(sysParts, m.Text)
		case "assistant":
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Text)))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Text)))
		}
	}
	return strings.Join(sysParts, "\n\n"), out
}

// ChatStream starts a streaming Messages call and pumps text deltas into a
// TokenStream, discarding non-text events (tool use, thinking) since this
// substrate has no tool-calling concept.
func (c *AnthropicClient) ChatStream(ctx context.Context, messages []Message) (TokenStream, error) {
	system, converted := toAnthropicMessages(messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		Messages:  converted,
		MaxTokens: c.maxTokens,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	streamCtx, cancel := context.WithCancel(ctx)
	stream := c.sdk.Messages.NewStreaming(streamCtx, params)

	fragments := make(chan string)
	errs := make(chan error, 1)
	go func() {
		defer close(fragments)
		for stream.Next() {
			event := stream.Current()
			blockDelta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
			if !ok {
				continue
			}
			textDelta, ok := blockDelta.Delta.AsAny().(anthropic.TextDelta)
			if !ok || textDelta.Text == "" {
				continue
			}
			select {
			case fragments <- textDelta.Text:
			case <-streamCtx.Done():
				return
			}
		}
		if err := stream.Err(); err != nil {
			errs <- fmt.Errorf("anthropic stream: %w", err)
		}
	}()

	return &anthropicStream{stream: stream, fragments: fragments, errs: errs, cancel: cancel}, nil
}

// sdkMessageStream is the subset of *anthropic.Stream[anthropic.MessageStreamEventUnion]
// this adapter needs, named locally so the struct field below doesn't have
// to spell out the SDK's generic instantiation.
type sdkMessageStream interface {
	Next() bool
	Current() anthropic.MessageStreamEventUnion
	Err() error
	Close() error
}

type anthropicStream struct {
	stream    sdkMessageStream
	fragments chan string
	errs      chan error
	cancel    context.CancelFunc
}

func (s *anthropicStream) Next(ctx context.Context) (string, bool, error) {
	select {
	case frag, ok := <-s.fragments:
		if !ok {
			select {
			case err := <-s.errs:
				return "", false, err
			default:
				return "", false, nil
			}
		}
		return frag, true, nil
	case err := <-s.errs:
		return "", false, err
	case <-ctx.Done():
		return "", false, ctx.Err()
	}
}

func (s *anthropicStream) Close() error {
	s.cancel()
	return s.stream.Close()
}

// Embed is not offered by the Anthropic Messages API; callers needing
// embeddings should route to a provider that supports them (e.g. Ollama or
// OpenAI).
func (c *AnthropicClient) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("anthropic: embeddings are not supported by this provider")
}

// Ping issues a minimal streaming call and closes it immediately; the SDK
// has no dedicated health endpoint.
func (c *AnthropicClient) Ping(ctx context.Context) error {
	stream, err := c.ChatStream(ctx, []Message{{Role: "user", Text: "ping"}})
	if err != nil {
		return err
	}
	return stream.Close()
}
