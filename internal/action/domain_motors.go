package action

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"bytes"

	"github.com/google/go-github/v69/github"
	"github.com/yuin/goldmark"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/dancxjo/psyche/internal/sensation"
)

// NoteMotor is the "note" action: it renders the collected markdown body to
// HTML and emits a "note.html" sensation.
type NoteMotor struct {
	mu   sync.Mutex
	body strings.Builder
}

func (m *NoteMotor) Start(ctx context.Context, intention Intention) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.body.Reset()
	return nil
}

func (m *NoteMotor) Body(ctx context.Context, chunk string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.body.WriteString(chunk)
	return nil
}

func (m *NoteMotor) End(ctx context.Context) (Completion, []sensation.Sensation, error) {
	m.mu.Lock()
	md := m.body.String()
	m.body.Reset()
	m.mu.Unlock()

	now := time.Now().UTC()
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return Completion{}, nil, fmt.Errorf("render note markdown: %w", err)
	}

	return Completion{
			Name:       "note",
			Result:     buf.String(),
			FinishedAt: now,
		}, []sensation.Sensation{{
			Kind:   "note.html",
			When:   now,
			What:   sensation.StringPayload(buf.String()),
			Source: "motor:note",
		}}, nil
}

func (m *NoteMotor) Cancel(ctx context.Context) (Interruption, error) {
	m.mu.Lock()
	m.body.Reset()
	m.mu.Unlock()
	return Interruption{Reason: "canceled", At: time.Now().UTC()}, nil
}

// FetchMotor is the "fetch" action: it treats the collected body as a URL,
// retrieves it, and emits the extracted readable text as a "web.text"
// sensation.
type FetchMotor struct {
	HTTPClient *http.Client

	mu  sync.Mutex
	url strings.Builder
}

var fetchSkipElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Iframe:   true,
	atom.Svg:      true,
	atom.Nav:      true,
	atom.Footer:   true,
	atom.Header:   true,
}

func (m *FetchMotor) Start(ctx context.Context, intention Intention) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.url.Reset()
	return nil
}

func (m *FetchMotor) Body(ctx context.Context, chunk string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.url.WriteString(chunk)
	return nil
}

func (m *FetchMotor) End(ctx context.Context) (Completion, []sensation.Sensation, error) {
	m.mu.Lock()
	target := strings.TrimSpace(m.url.String())
	m.url.Reset()
	m.mu.Unlock()

	now := time.Now().UTC()
	client := m.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Completion{}, nil, fmt.Errorf("build fetch request for %q: %w", target, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return Completion{FinishedAt: now}, []sensation.Sensation{{
			Kind:   "web.unavailable",
			When:   now,
			What:   sensation.StringPayload(fmt.Sprintf("could not fetch %s: %v", target, err)),
			Source: "motor:fetch",
		}}, nil
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Completion{}, nil, fmt.Errorf("read fetch response from %q: %w", target, err)
	}

	text := extractReadableText(string(raw))
	return Completion{
			Name:       "fetch",
			Result:     text,
			FinishedAt: now,
		}, []sensation.Sensation{{
			Kind:   "web.text",
			When:   now,
			What:   sensation.StringPayload(text),
			Source: "motor:fetch " + target,
		}}, nil
}

func (m *FetchMotor) Cancel(ctx context.Context) (Interruption, error) {
	m.mu.Lock()
	m.url.Reset()
	m.mu.Unlock()
	return Interruption{Reason: "canceled", At: time.Now().UTC()}, nil
}

// extractReadableText strips script/style/nav/etc. elements and collapses
// whitespace, falling back to the raw text on parse failure.
func extractReadableText(raw string) string {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return raw
	}
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && fetchSkipElements[n.DataAtom] {
			return
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				buf.WriteString(t)
				buf.WriteByte(' ')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.TrimSpace(buf.String())
}

// GitHubMotor is the "github" action: it opens an issue in a configured
// repository from the collected body text (first line used as the title).
type GitHubMotor struct {
	Client *github.Client
	Repo   string // "owner/name"

	mu   sync.Mutex
	body strings.Builder
}

func (m *GitHubMotor) Start(ctx context.Context, intention Intention) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.body.Reset()
	if repo, ok := intention.Parameters["repo"]; ok && repo != "" {
		m.Repo = repo
	}
	return nil
}

func (m *GitHubMotor) Body(ctx context.Context, chunk string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.body.WriteString(chunk)
	return nil
}

func (m *GitHubMotor) End(ctx context.Context) (Completion, []sensation.Sensation, error) {
	m.mu.Lock()
	text := strings.TrimSpace(m.body.String())
	repo := m.Repo
	m.body.Reset()
	m.mu.Unlock()

	now := time.Now().UTC()
	owner, name, err := splitGitHubRepo(repo)
	if err != nil {
		return Completion{}, nil, err
	}

	title, bodyText, _ := strings.Cut(text, "\n")
	if title == "" {
		title = "(untitled)"
	}

	issue, _, err := m.Client.Issues.Create(ctx, owner, name, &github.IssueRequest{
		Title: &title,
		Body:  &bodyText,
	})
	if err != nil {
		return Completion{FinishedAt: now}, []sensation.Sensation{{
			Kind:   "github.unavailable",
			When:   now,
			What:   sensation.StringPayload(fmt.Sprintf("could not open issue on %s: %v", repo, err)),
			Source: "motor:github",
		}}, nil
	}

	result := fmt.Sprintf("opened %s#%d: %s", repo, issue.GetNumber(), title)
	return Completion{
			Name:       "github",
			Result:     result,
			FinishedAt: now,
		}, []sensation.Sensation{{
			Kind:   "github.issue",
			When:   now,
			What:   sensation.StringPayload(result),
			Source: "motor:github",
		}}, nil
}

func (m *GitHubMotor) Cancel(ctx context.Context) (Interruption, error) {
	m.mu.Lock()
	m.body.Reset()
	m.mu.Unlock()
	return Interruption{Reason: "canceled", At: time.Now().UTC()}, nil
}

func splitGitHubRepo(repo string) (owner, name string, err error) {
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo format %q, expected owner/repo", repo)
	}
	return parts[0], parts[1], nil
}
