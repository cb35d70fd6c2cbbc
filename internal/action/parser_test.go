package action

import (
	"context"
	"testing"
	"time"

	"github.com/dancxjo/psyche/internal/bus"
	"github.com/dancxjo/psyche/internal/sensation"
)

type recordingMotor struct {
	started   Intention
	body      string
	ended     bool
	canceled  bool
	completion Completion
}

func (m *recordingMotor) Start(_ context.Context, intention Intention) error {
	m.started = intention
	return nil
}
func (m *recordingMotor) Body(_ context.Context, chunk string) error {
	m.body += chunk
	return nil
}
func (m *recordingMotor) End(context.Context) (Completion, []sensation.Sensation, error) {
	m.ended = true
	m.completion = Completion{Name: m.started.ActionName, Result: m.body, FinishedAt: time.Now().UTC()}
	return m.completion, []sensation.Sensation{{
		Kind: m.started.ActionName,
		When: time.Now().UTC(),
		What: sensation.StringPayload(m.body),
	}}, nil
}
func (m *recordingMotor) Cancel(context.Context) (Interruption, error) {
	m.canceled = true
	return Interruption{Reason: "canceled", At: time.Now().UTC()}, nil
}

// TestActionTagParsePiecewise mirrors scenario S4: feeding
// "<say pitch=\"gentle\">Hello human</say>" split at arbitrary byte
// boundaries must still yield exactly one intention (emitted right after
// the start tag's '>') and one completion (emitted right after "</say>").
func TestActionTagParsePiecewise(t *testing.T) {
	b := bus.New(nil)
	loop := NewLoop(b, nil)
	motor := &recordingMotor{}
	loop.RegisterMotor("say", motor)

	var completions []Completion
	loop.OnCompletion = func(c Completion) { completions = append(completions, c) }

	fragments := []string{"<sa", "y pit", "ch=\"gentle\">", "Hello ", "human", "</say>"}
	ctx := context.Background()
	for _, f := range fragments {
		if err := loop.Feed(ctx, f); err != nil {
			t.Fatalf("Feed(%q): %v", f, err)
		}
		// The intention must exist immediately after the start tag closes,
		// well before the end tag arrives.
		if f == "ch=\"gentle\">" {
			if motor.started.ActionName != "say" {
				t.Fatalf("expected intention right after start tag, got %+v", motor.started)
			}
			if motor.started.Parameters["pitch"] != "gentle" {
				t.Fatalf("expected pitch=gentle, got %+v", motor.started.Parameters)
			}
			if motor.started.AssignedMotor != "say" {
				t.Fatalf("expected assigned motor 'say', got %q", motor.started.AssignedMotor)
			}
		}
	}

	if motor.body != "Hello human" {
		t.Fatalf("expected body %q, got %q", "Hello human", motor.body)
	}
	if !motor.ended {
		t.Fatal("expected motor.End to have been called")
	}
	if len(completions) != 1 {
		t.Fatalf("expected exactly one completion, got %d", len(completions))
	}
}

func TestUnrecognizedActionEmitsSensation(t *testing.T) {
	b := bus.New(nil)
	out, unsubscribe := b.SubscribeBroadcast("action.unrecognized")
	defer unsubscribe()

	loop := NewLoop(b, nil)
	ctx := context.Background()
	if err := loop.Feed(ctx, "<nonexistent>body</nonexistent>"); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-out:
		if ev.Sensation.Kind != "action.unrecognized" {
			t.Fatalf("unexpected kind %q", ev.Sensation.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for unrecognized sensation")
	}
}

func TestCancelCurrentInterruptsMotor(t *testing.T) {
	b := bus.New(nil)
	loop := NewLoop(b, nil)
	motor := &recordingMotor{}
	loop.RegisterMotor("draw", motor)

	var interruptions []Interruption
	loop.OnInterruption = func(i Interruption) { interruptions = append(interruptions, i) }

	ctx := context.Background()
	if err := loop.Feed(ctx, "<draw>partial svg"); err != nil {
		t.Fatal(err)
	}

	if _, err := loop.CancelCurrent(ctx); err != nil {
		t.Fatal(err)
	}

	if !motor.canceled {
		t.Fatal("expected motor.Cancel to have been called")
	}
	if len(interruptions) != 1 {
		t.Fatalf("expected exactly one interruption, got %d", len(interruptions))
	}

	// After cancellation the parser must be reset: a fresh tag parses clean.
	motor2 := &recordingMotor{}
	loop.RegisterMotor("log", motor2)
	if err := loop.Feed(ctx, "<log>hi</log>"); err != nil {
		t.Fatal(err)
	}
	if !motor2.ended {
		t.Fatal("expected parser to resume cleanly after cancellation")
	}
}
