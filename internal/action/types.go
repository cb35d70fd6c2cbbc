// Package action implements the action loop: an incremental parser that
// watches a streamed LLM completion for action tags (`<name attr="v">body</name>`)
// and drives the named Motor through its lifecycle
package action

import (
	"context"
	"time"

	"github.com/dancxjo/psyche/internal/sensation"
)

// Intention is produced the moment a start tag's header is fully parsed —
// before any body text has arrived — so a motor can begin work immediately.
type Intention struct {
	ID            string
	ActionName    string
	Parameters    map[string]string
	AssignedMotor string
	IssuedAt      time.Time
}

// Completion is emitted by a motor once it finishes handling an intention.
type Completion struct {
	IntentionID string
	Name        string
	Params      map[string]string
	Result      string
	FinishedAt  time.Time
}

// Interruption is emitted by a motor that aborted before finishing, whether
// due to cancellation or an internal error.
type Interruption struct {
	IntentionID string
	Reason      string
	At          time.Time
}

// Motor is the executor a parsed action tag is dispatched to. Start is
// called once the tag header is known, Body once per streamed chunk between
// the start and end tags, End when the end tag closes the action, and
// Cancel if a superseding conversational impression arrives mid-action.
//
// Every motor is expected to emit at least one sensation describing what it
// did (re-entering the bus under its own kind — "log", "drawing.svg",
// "vision.description", and so on).
type Motor interface {
	Start(ctx context.Context, intention Intention) error
	Body(ctx context.Context, chunk string) error
	End(ctx context.Context) (Completion, []sensation.Sensation, error)
	Cancel(ctx context.Context) (Interruption, error)
}

// SensorDirector is implemented by motors that can redirect a named sensor
// (e.g. pointing a camera). DirectSensor returns an error for an unknown
// name.
type SensorDirector interface {
	DirectableSensors() []string
	DirectSensor(name string) error
}

// Unrecognized names an action tag whose name matched no registered motor.
// The loop logs and emits this rather than treating it as fatal.
type Unrecognized struct {
	ActionName string
	At         time.Time
}
