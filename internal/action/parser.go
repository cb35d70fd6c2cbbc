package action

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dancxjo/psyche/internal/bus"
	"github.com/dancxjo/psyche/internal/sensation"
)

type parserState int

const (
	stateOutside parserState = iota
	stateStartTag
	stateBody
	stateEndTag
)

var attrPattern = regexp.MustCompile(`([\w-]+)\s*=\s*"([^"]*)"`)

type activeAction struct {
	intention Intention
	motor     Motor
}

// Loop is the action loop: an incremental state machine that watches an
// LLM's streamed text for action tags and drives the named motor through
// its Start/Body/End lifecycle
type Loop struct {
	mu     sync.Mutex
	motors map[string]Motor
	bus    *bus.Bus
	logger *slog.Logger

	st            parserState
	buf           strings.Builder
	current       *activeAction
	unrecognized  string // non-empty while swallowing an unrecognized action's body

	// OnCompletion, if set, is called after a motor's End succeeds.
	OnCompletion func(Completion)
	// OnInterruption, if set, is called after a motor is canceled.
	OnInterruption func(Interruption)
}

// NewLoop creates an action loop publishing motor-produced sensations onto b.
func NewLoop(b *bus.Bus, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		motors: make(map[string]Motor),
		bus:    b,
		logger: logger,
	}
}

// RegisterMotor binds name (an action tag's name) to m. An action tag whose
// name has no registered motor yields an Unrecognized sensation instead.
func (l *Loop) RegisterMotor(name string, m Motor) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.motors[name] = m
}

// Feed advances the parser with the next fragment of streamed LLM text.
// Fragments may split a tag, an attribute, or body text at any byte
// boundary; the parser holds back anything it cannot yet interpret until
// the next Feed call.
func (l *Loop) Feed(ctx context.Context, fragment string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf.WriteString(fragment)
	for {
		progressed, err := l.tryConsume(ctx)
		if err != nil {
			return err
		}
		if !progressed {
			return nil
		}
	}
}

// tryConsume attempts one state transition against the buffered text,
// reporting whether it made progress (and should be tried again
// immediately) or is blocked waiting for more input.
func (l *Loop) tryConsume(ctx context.Context) (bool, error) {
	s := l.buf.String()

	switch l.st {
	case stateOutside:
		idx := strings.IndexByte(s, '<')
		if idx == -1 {
			l.buf.Reset()
			return false, nil
		}
		l.buf.Reset()
		l.buf.WriteString(s[idx+1:])
		l.st = stateStartTag
		return true, nil

	case stateStartTag:
		idx := strings.IndexByte(s, '>')
		if idx == -1 {
			return false, nil
		}
		header := s[:idx]
		l.buf.Reset()
		l.buf.WriteString(s[idx+1:])
		name, params := parseHeader(header)
		l.startAction(ctx, name, params)
		l.st = stateBody
		return true, nil

	case stateBody:
		idx := strings.Index(s, "</")
		if idx == -1 {
			holdback := 0
			switch {
			case strings.HasSuffix(s, "</"):
				holdback = 2
			case strings.HasSuffix(s, "<"):
				holdback = 1
			}
			safe := s[:len(s)-holdback]
			if safe != "" {
				l.forwardBody(ctx, safe)
			}
			l.buf.Reset()
			l.buf.WriteString(s[len(s)-holdback:])
			return false, nil
		}
		if idx > 0 {
			l.forwardBody(ctx, s[:idx])
		}
		l.buf.Reset()
		l.buf.WriteString(s[idx+2:])
		l.st = stateEndTag
		return true, nil

	case stateEndTag:
		idx := strings.IndexByte(s, '>')
		if idx == -1 {
			return false, nil
		}
		endName := strings.TrimSpace(s[:idx])
		l.buf.Reset()
		l.buf.WriteString(s[idx+1:])
		l.endAction(ctx, endName)
		l.st = stateOutside
		return true, nil
	}
	return false, nil
}

func parseHeader(header string) (name string, params map[string]string) {
	header = strings.TrimSpace(header)
	header = strings.TrimSuffix(header, "/")
	sp := strings.IndexAny(header, " \t\n")
	rest := ""
	if sp == -1 {
		name = header
	} else {
		name = header[:sp]
		rest = header[sp+1:]
	}
	params = make(map[string]string)
	for _, m := range attrPattern.FindAllStringSubmatch(rest, -1) {
		params[m[1]] = m[2]
	}
	return name, params
}

// startAction is called the moment a start tag's header completes, before
// any body text has arrived, so the assigned motor can begin work
// immediately .
func (l *Loop) startAction(ctx context.Context, name string, params map[string]string) {
	intention := Intention{
		ID:            uuid.NewString(),
		ActionName:    name,
		Parameters:    params,
		AssignedMotor: name,
		IssuedAt:      time.Now().UTC(),
	}

	motor, ok := l.motors[name]
	if !ok {
		l.logger.Warn("action loop: unrecognized action", "name", name)
		l.unrecognized = name
		l.current = nil
		if l.bus != nil {
			payload, err := sensation.JSONPayload(Unrecognized{ActionName: name, At: intention.IssuedAt})
			if err == nil {
				l.bus.Publish("action.unrecognized", sensation.Sensation{
					Kind: "action.unrecognized",
					When: intention.IssuedAt,
					What: payload,
				})
			}
		}
		return
	}
	l.unrecognized = ""
	if err := motor.Start(ctx, intention); err != nil {
		l.logger.Error("action loop: motor start failed", "motor", name, "err", err)
	}
	l.current = &activeAction{intention: intention, motor: motor}
}

func (l *Loop) forwardBody(ctx context.Context, text string) {
	if l.current == nil {
		return // unrecognized action; swallow its body
	}
	if err := l.current.motor.Body(ctx, text); err != nil {
		l.logger.Error("action loop: motor body failed", "motor", l.current.intention.AssignedMotor, "err", err)
	}
}

func (l *Loop) endAction(ctx context.Context, endName string) {
	if l.unrecognized != "" {
		if endName != l.unrecognized {
			l.logger.Warn("action loop: mismatched end tag for unrecognized action", "expected", l.unrecognized, "got", endName)
		}
		l.unrecognized = ""
		return
	}
	if l.current == nil {
		return
	}
	if endName != l.current.intention.ActionName {
		l.logger.Warn("action loop: mismatched end tag", "expected", l.current.intention.ActionName, "got", endName)
	}
	completion, sensations, err := l.current.motor.End(ctx)
	if err != nil {
		l.logger.Error("action loop: motor end failed", "motor", l.current.intention.AssignedMotor, "err", err)
	}
	for _, s := range sensations {
		if l.bus != nil {
			l.bus.Publish(s.Kind, s)
		}
	}
	if err == nil && l.OnCompletion != nil {
		l.OnCompletion(completion)
	}
	l.current = nil
}

// CancelCurrent aborts any in-flight action, used when a superseding
// conversational impression arrives mid-action . It is a
// no-op if no action is in flight.
func (l *Loop) CancelCurrent(ctx context.Context) (Interruption, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == nil {
		return Interruption{}, nil
	}
	motor := l.current.motor
	intentionID := l.current.intention.ID
	l.current = nil
	l.st = stateOutside
	l.buf.Reset()
	l.unrecognized = ""

	interruption, err := motor.Cancel(ctx)
	if interruption.IntentionID == "" {
		interruption.IntentionID = intentionID
	}
	if l.OnInterruption != nil {
		l.OnInterruption(interruption)
	}
	return interruption, err
}
