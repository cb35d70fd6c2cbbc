package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dancxjo/psyche/internal/httpkit"
)

// OllamaClient talks to a local or remote Ollama server's /api/chat and
// /api/embeddings endpoints, streaming chat completions as NDJSON.
type OllamaClient struct {
	baseURL string
	model   string
	embed   string
	http    *http.Client
	logger  *slog.Logger
}

// NewOllamaClient builds a Client backed by an Ollama server at baseURL
// (e.g. "http://localhost:11434"), using chatModel for ChatStream and
// embedModel for Embed.
func NewOllamaClient(baseURL, chatModel, embedModel string, logger *slog.Logger) *OllamaClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &OllamaClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   chatModel,
		embed:   embedModel,
		http:    httpkit.NewClient(httpkit.WithTimeout(0), httpkit.WithLogger(logger)),
		logger:  logger,
	}
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
}

type ollamaChatChunk struct {
	Message ollamaChatMessage `json:"message"`
	Done    bool              `json:"done"`
}

func toOllamaMessages(messages []Message) []ollamaChatMessage {
	out := make([]ollamaChatMessage, len(messages))
	for i, m := range messages {
		out[i] = ollamaChatMessage{Role: m.Role, Content: m.Text}
	}
	return out
}

// ChatStream posts a streaming chat request and returns a TokenStream that
// yields each chunk's message content as it arrives over the NDJSON body.
// On a missing-model error it pulls the model once and retries exactly
// once; it does not retry any other failure.
func (c *OllamaClient) ChatStream(ctx context.Context, messages []Message) (TokenStream, error) {
	resp, err := c.doChat(ctx, messages)
	if err != nil {
		if !isModelNotFoundError(err) {
			return nil, err
		}
		c.logger.Warn("ollama model not found, pulling once and retrying", "model", c.model)
		if pullErr := c.pullModel(ctx); pullErr != nil {
			return nil, fmt.Errorf("%w (pull failed: %s)", err, pullErr)
		}
		resp, err = c.doChat(ctx, messages)
		if err != nil {
			return nil, err
		}
	}
	return &ollamaStream{resp: resp, scanner: bufio.NewScanner(resp.Body), logger: c.logger}, nil
}

func (c *OllamaClient) doChat(ctx context.Context, messages []Message) (*http.Response, error) {
	body, err := json.Marshal(ollamaChatRequest{
		Model:    c.model,
		Messages: toOllamaMessages(messages),
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal ollama chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build ollama chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama chat request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := httpkit.ReadErrorBody(resp.Body, 4096)
		return nil, fmt.Errorf("ollama chat: status %d: %s", resp.StatusCode, msg)
	}
	return resp, nil
}

func isModelNotFoundError(err error) bool {
	return strings.Contains(err.Error(), "not found") || strings.Contains(err.Error(), "status 404")
}

type ollamaPullRequest struct {
	Name string `json:"name"`
}

// pullModel issues a single blocking POST /api/pull for c.model, draining
// the progress stream until it completes.
func (c *OllamaClient) pullModel(ctx context.Context) error {
	body, err := json.Marshal(ollamaPullRequest{Name: c.model})
	if err != nil {
		return fmt.Errorf("marshal ollama pull request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build ollama pull request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ollama pull request: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 1<<24)
	if resp.StatusCode != http.StatusOK {
		msg := httpkit.ReadErrorBody(resp.Body, 4096)
		return fmt.Errorf("ollama pull: status %d: %s", resp.StatusCode, msg)
	}
	return nil
}

type ollamaStream struct {
	resp    *http.Response
	scanner *bufio.Scanner
	logger  *slog.Logger
}

func (s *ollamaStream) Next(ctx context.Context) (string, bool, error) {
	type result struct {
		frag string
		ok   bool
		err  error
	}
	done := make(chan result, 1)
	go func() {
		for s.scanner.Scan() {
			line := bytes.TrimSpace(s.scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var chunk ollamaChatChunk
			if err := json.Unmarshal(line, &chunk); err != nil {
				done <- result{err: fmt.Errorf("decode ollama chunk: %w", err)}
				return
			}
			if chunk.Done {
				done <- result{ok: false}
				return
			}
			if chunk.Message.Content != "" {
				done <- result{frag: chunk.Message.Content, ok: true}
				return
			}
		}
		if err := s.scanner.Err(); err != nil {
			done <- result{err: fmt.Errorf("read ollama stream: %w", err)}
			return
		}
		done <- result{ok: false}
	}()

	select {
	case r := <-done:
		return r.frag, r.ok, r.err
	case <-ctx.Done():
		return "", false, ctx.Err()
	}
}

func (s *ollamaStream) Close() error {
	return s.resp.Body.Close()
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed requests a single embedding vector for text via /api/embeddings.
func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: c.embed, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshal ollama embed request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build ollama embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embed request: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 1<<20)
	if resp.StatusCode != http.StatusOK {
		msg := httpkit.ReadErrorBody(resp.Body, 4096)
		return nil, fmt.Errorf("ollama embed: status %d: %s", resp.StatusCode, msg)
	}

	var out ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode ollama embed response: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("ollama embed: empty response")
	}
	return out.Embedding, nil
}

// Ping checks that the Ollama server answers on its base path.
func (c *OllamaClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return fmt.Errorf("build ollama ping request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ping ollama: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 1024)
	return nil
}
