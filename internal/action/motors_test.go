package action

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLogMotorAppendsAndEmits(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "motor.log")
	m := &LogMotor{Path: path}
	ctx := context.Background()

	if err := m.Start(ctx, Intention{ActionName: "log"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Body(ctx, "hello"); err != nil {
		t.Fatalf("Body: %v", err)
	}
	completion, sensations, err := m.End(ctx)
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if completion.Result != "hello" {
		t.Errorf("completion.Result = %q, want %q", completion.Result, "hello")
	}
	if len(sensations) != 1 || sensations[0].Kind != "log" {
		t.Fatalf("expected one log sensation, got %+v", sensations)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "hello") {
		t.Errorf("log file missing body text, got %q", string(data))
	}
}

func TestDrawMotorBroadcastsAndEmits(t *testing.T) {
	var broadcasted string
	m := &DrawMotor{Broadcast: func(svg string) { broadcasted = svg }}
	ctx := context.Background()

	if err := m.Start(ctx, Intention{ActionName: "draw"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Body(ctx, "<svg></svg>"); err != nil {
		t.Fatalf("Body: %v", err)
	}
	_, sensations, err := m.End(ctx)
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if broadcasted != "<svg></svg>" {
		t.Errorf("broadcasted = %q, want %q", broadcasted, "<svg></svg>")
	}
	if len(sensations) != 1 || sensations[0].Kind != "drawing.svg" {
		t.Fatalf("expected one drawing.svg sensation, got %+v", sensations)
	}
}

func TestDrawMotorCancelClearsBody(t *testing.T) {
	m := &DrawMotor{}
	ctx := context.Background()
	if err := m.Start(ctx, Intention{ActionName: "draw"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Body(ctx, "partial"); err != nil {
		t.Fatalf("Body: %v", err)
	}
	if _, err := m.Cancel(ctx); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	_, sensations, err := m.End(ctx)
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if sensations[0].What.PlainText() != "" {
		t.Errorf("expected empty body after cancel, got %q", sensations[0].What.PlainText())
	}
}
