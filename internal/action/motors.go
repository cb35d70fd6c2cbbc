package action

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dancxjo/psyche/internal/sensation"
)

// LogMotor is the "log" action: it appends the collected body text to a
// file and emits a "log" sensation describing what it logged.
type LogMotor struct {
	Path string

	mu   sync.Mutex
	body strings.Builder
}

func (m *LogMotor) Start(ctx context.Context, intention Intention) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.body.Reset()
	return nil
}

func (m *LogMotor) Body(ctx context.Context, chunk string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.body.WriteString(chunk)
	return nil
}

func (m *LogMotor) End(ctx context.Context) (Completion, []sensation.Sensation, error) {
	m.mu.Lock()
	text := m.body.String()
	m.body.Reset()
	m.mu.Unlock()

	now := time.Now().UTC()
	if m.Path != "" {
		f, err := os.OpenFile(m.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%s %s\n", now.Format(time.RFC3339), text)
			f.Close()
		}
	}
	return Completion{
			Name:       "log",
			Result:     text,
			FinishedAt: now,
		}, []sensation.Sensation{{
			Kind: "log",
			When: now,
			What: sensation.StringPayload(text),
		}}, nil
}

func (m *LogMotor) Cancel(ctx context.Context) (Interruption, error) {
	m.mu.Lock()
	m.body.Reset()
	m.mu.Unlock()
	return Interruption{Reason: "canceled", At: time.Now().UTC()}, nil
}

// SayMotor is the "say" action: it forwards the collected body text to a
// text-to-speech HTTP endpoint and emits a "spoken" sensation.
type SayMotor struct {
	TTSURL     string
	SpeakerID  string
	LanguageID string
	HTTPClient *http.Client

	mu   sync.Mutex
	body strings.Builder
	pitch string
}

func (m *SayMotor) Start(ctx context.Context, intention Intention) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.body.Reset()
	m.pitch = intention.Parameters["pitch"]
	return nil
}

func (m *SayMotor) Body(ctx context.Context, chunk string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.body.WriteString(chunk)
	return nil
}

func (m *SayMotor) End(ctx context.Context) (Completion, []sensation.Sensation, error) {
	m.mu.Lock()
	text := m.body.String()
	pitch := m.pitch
	m.body.Reset()
	m.mu.Unlock()

	now := time.Now().UTC()
	if m.TTSURL != "" {
		client := m.HTTPClient
		if client == nil {
			client = http.DefaultClient
		}
		req, err := http.NewRequest(http.MethodPost, m.TTSURL, bytes.NewBufferString(text))
		if err == nil {
			req.Header.Set("Content-Type", "text/plain")
			if resp, err := client.Do(req); err == nil {
				resp.Body.Close()
			}
		}
	}

	return Completion{
			Name:       "say",
			Params:     map[string]string{"pitch": pitch},
			Result:     text,
			FinishedAt: now,
		}, []sensation.Sensation{{
			Kind:   "spoken",
			When:   now,
			What:   sensation.StringPayload(text),
			Source: "motor:say",
		}}, nil
}

func (m *SayMotor) Cancel(ctx context.Context) (Interruption, error) {
	m.mu.Lock()
	m.body.Reset()
	m.mu.Unlock()
	return Interruption{Reason: "superseded by newer utterance", At: time.Now().UTC()}, nil
}

// DrawMotor is the "draw" action: it broadcasts the collected SVG body to
// connected canvas clients over Broadcast and emits a "drawing.svg"
// sensation.
type DrawMotor struct {
	Broadcast func(svg string)

	mu   sync.Mutex
	body strings.Builder
}

func (m *DrawMotor) Start(ctx context.Context, intention Intention) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.body.Reset()
	return nil
}

func (m *DrawMotor) Body(ctx context.Context, chunk string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.body.WriteString(chunk)
	return nil
}

func (m *DrawMotor) End(ctx context.Context) (Completion, []sensation.Sensation, error) {
	m.mu.Lock()
	svg := m.body.String()
	m.body.Reset()
	m.mu.Unlock()

	now := time.Now().UTC()
	if m.Broadcast != nil {
		m.Broadcast(svg)
	}
	return Completion{
			Name:       "draw",
			Result:     svg,
			FinishedAt: now,
		}, []sensation.Sensation{{
			Kind:   "drawing.svg",
			When:   now,
			What:   sensation.StringPayload(svg),
			Source: "motor:draw",
		}}, nil
}

func (m *DrawMotor) Cancel(ctx context.Context) (Interruption, error) {
	m.mu.Lock()
	m.body.Reset()
	m.mu.Unlock()
	return Interruption{Reason: "canceled", At: time.Now().UTC()}, nil
}
