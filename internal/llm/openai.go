package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// OpenAIClient adapts github.com/openai/openai-go/v2's streaming Chat
// Completions and Embeddings APIs to the Client/TokenStream interfaces.
type OpenAIClient struct {
	sdk        openai.Client
	model      string
	embedModel string
}

// NewOpenAIClient builds a Client backed by the OpenAI (or OpenAI-compatible)
// Chat Completions API. baseURL may be empty to use the SDK's default.
func NewOpenAIClient(apiKey, baseURL, chatModel, embedModel string) *OpenAIClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(baseURL, "/")))
	}
	return &OpenAIClient{
		sdk:        openai.NewClient(opts...),
		model:      chatModel,
		embedModel: embedModel,
	}
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Text))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Text))
		default:
			out = append(out, openai.UserMessage(m.Text))
		}
	}
	return out
}

// ChatStream starts a streaming Chat Completions call and pumps content
// deltas into a TokenStream.
func (c *OpenAIClient) ChatStream(ctx context.Context, messages []Message) (TokenStream, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: toOpenAIMessages(messages),
	}

	streamCtx, cancel := context.WithCancel(ctx)
	stream := c.sdk.Chat.Completions.NewStreaming(streamCtx, params)

	fragments := make(chan string)
	errs := make(chan error, 1)
	go func() {
		defer close(fragments)
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			content := chunk.Choices[0].Delta.Content
			if content == "" {
				continue
			}
			select {
			case fragments <- content:
			case <-streamCtx.Done():
				return
			}
		}
		if err := stream.Err(); err != nil {
			errs <- fmt.Errorf("openai stream: %w", err)
		}
	}()

	return &openAIStream{stream: stream, fragments: fragments, errs: errs, cancel: cancel}, nil
}

// sdkChatStream is the subset of the SDK's streaming chat completion
// response this adapter needs, named locally so the struct field below
// doesn't have to spell out the SDK's generic instantiation.
type sdkChatStream interface {
	Next() bool
	Current() openai.ChatCompletionChunk
	Err() error
	Close() error
}

type openAIStream struct {
	stream    sdkChatStream
	fragments chan string
	errs      chan error
	cancel    context.CancelFunc
}

func (s *openAIStream) Next(ctx context.Context) (string, bool, error) {
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

func (s *openAIStream) Close() error {
	s.cancel()
	return s.stream.Close()
}

// Embed requests a single embedding vector via the Embeddings API.
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.sdk.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(c.embedModel),
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
	})
	if err != nil {
		return nil, fmt.Errorf("openai embed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai embed: empty response")
	}
	vec := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

// Ping issues a minimal streaming call and closes it immediately; the SDK
// has no dedicated health endpoint.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	stream, err := c.ChatStream(ctx, []Message{{Role: "user", Text: "ping"}})
	if err != nil {
		return err
	}
	return stream.Close()
}
