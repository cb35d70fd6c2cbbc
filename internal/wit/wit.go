package wit

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dancxjo/psyche/internal/bus"
	"github.com/dancxjo/psyche/internal/llm"
	"github.com/dancxjo/psyche/internal/memory"
	"github.com/dancxjo/psyche/internal/sensation"
	"github.com/dancxjo/psyche/internal/template"
)

// defaultHistoryDepth is the per-wit input deque capacity when a
// Definition doesn't override it.
const defaultHistoryDepth = 16

// failuresBeforeCooldown is how many consecutive LLM failures push a wit
// into cooldown
const failuresBeforeCooldown = 3

// Wit is one scheduled distiller: state for a single Definition plus its
// runtime deque, cooldown tracking, and at-most-one-concurrent guard.
type Wit struct {
	def Definition

	bus    *bus.Bus
	memory MemoryClient
	client llm.Client
	logger *slog.Logger

	deque *deque

	evaluating atomic.Bool

	mu               sync.Mutex
	previous         string
	consecutiveFails int
	cooldownUntil    time.Time

	// isImpressionKind reports whether kind names another wit's declared
	// output, used to split sensation_ids from impression_ids on emit.
	isImpressionKind func(kind string) bool

	beatInterval time.Duration
}

// newWit constructs a Wit ready to be driven by a Pipeline's clock.
func newWit(def Definition, b *bus.Bus, mem MemoryClient, client llm.Client, logger *slog.Logger, isImpressionKind func(string) bool, beatInterval time.Duration) *Wit {
	depth := def.HistoryDepth
	if depth <= 0 {
		depth = defaultHistoryDepth
	}
	return &Wit{
		def:              def,
		bus:              b,
		memory:           mem,
		client:           client,
		logger:           logger,
		deque:            newDeque(depth),
		isImpressionKind: isImpressionKind,
		beatInterval:     beatInterval,
	}
}

// enqueue adds a sensation to this wit's pending input batch, tagging it as
// already-identified (e.g. a feedback impression) when id is non-empty.
func (w *Wit) enqueue(s sensation.Sensation, id string, isImpression bool) {
	w.deque.push(item{sensation: s, id: id, isImpression: isImpression})
}

// inCooldown reports whether this wit is still serving out a cooldown
// period after three consecutive LLM failures.
func (w *Wit) inCooldown(now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return now.Before(w.cooldownUntil)
}

// recordFailure increments the consecutive-failure counter and, once it
// reaches the threshold, starts a cooldown of 10 beat intervals.
func (w *Wit) recordFailure(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.consecutiveFails++
	if w.consecutiveFails >= failuresBeforeCooldown {
		w.cooldownUntil = now.Add(10 * w.beatInterval)
		w.consecutiveFails = 0
		w.logger.Warn("wit entering cooldown after repeated failures", "wit", w.def.Name, "until", w.cooldownUntil)
	}
}

func (w *Wit) recordSuccess() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.consecutiveFails = 0
}

func (w *Wit) getPrevious() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.previous
}

func (w *Wit) setPrevious(how string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.previous = how
}

// tryEvaluate runs one evaluation of the wit if it is not already
// evaluating and not in cooldown, enforcing at-most-one-concurrent-per-wit
// (testable property 4). It returns immediately (in its own goroutine) and
// reports whether an evaluation was started.
func (w *Wit) tryEvaluate(ctx context.Context, tick uint64, onEmit func(name string, imp sensation.Impression, id string)) bool {
	now := time.Now().UTC()
	if w.inCooldown(now) {
		return false
	}
	if !w.evaluating.CompareAndSwap(false, true) {
		return false // already mid-evaluation; skip this tick
	}
	go func() {
		defer w.evaluating.Store(false)
		w.evaluate(ctx, tick, onEmit)
	}()
	return true
}

// evaluate performs the five-step distillation describes:
// snapshot, render, submit, postprocess, emit.
func (w *Wit) evaluate(ctx context.Context, tick uint64, onEmit func(name string, imp sensation.Impression, id string)) {
	batch := w.deque.snapshotAndClear()
	if len(batch) == 0 {
		return
	}

	sensationIDs, impressionIDs, sensations := w.identifyBatch(ctx, batch)

	vars := map[string]string{
		"current":  currentText(sensations),
		"previous": w.getPrevious(),
		"input":    template.BuildTimeline(sensations),
	}
	prompt := template.Render(w.def.Prompt, vars)

	stream, err := w.client.ChatStream(ctx, []llm.Message{{Role: "user", Text: prompt}})
	if err != nil {
		w.logger.Error("wit llm call failed", "wit", w.def.Name, "err", err)
		w.recordFailure(time.Now().UTC())
		w.restoreBatch(batch)
		return
	}
	text, err := llm.Collect(ctx, stream)
	if err != nil {
		w.logger.Error("wit llm stream failed", "wit", w.def.Name, "err", err)
		w.recordFailure(time.Now().UTC())
		w.restoreBatch(batch)
		return
	}
	w.recordSuccess()

	result := postprocess(text, w.def.Postprocess)
	w.setPrevious(result)

	imp := sensation.Impression{How: result, What: append(append([]string{}, sensationIDs...), impressionIDs...)}
	impID := uuid.NewString()

	impSensation := imp.AsSensation(w.def.Output, time.Now().UTC(), "wit:"+w.def.Name)
	w.bus.Publish(w.def.Output, impSensation)

	if err := w.memory.Memorize(ctx, w.def.Output, memory.StoredImpression{
		ID:            impID,
		Kind:          w.def.Output,
		When:          impSensation.When,
		How:           result,
		SensationIDs:  sensationIDs,
		ImpressionIDs: impressionIDs,
	}); err != nil {
		w.logger.Error("wit failed to memorize impression", "wit", w.def.Name, "err", err)
	}

	if onEmit != nil {
		onEmit(w.def.Name, imp, impID)
	}
	_ = tick
}

// restoreBatch puts a failed evaluation's batch back at the front of the
// deque so it is retried on the next tick rather than dropped. If the
// restored batch plus inputs queued meanwhile exceed the deque's capacity,
// the oldest items are dropped.
func (w *Wit) restoreBatch(batch []item) {
	w.deque.mu.Lock()
	defer w.deque.mu.Unlock()
	w.deque.items = append(batch, w.deque.items...)
	if len(w.deque.items) > w.deque.cap {
		w.deque.items = w.deque.items[len(w.deque.items)-w.deque.cap:]
	}
}

// identifyBatch mints an identifier for every item that doesn't already
// have one (raw sensations first seen by this wit), durably writing each
// as a StoredSensation before it can be referenced as a stored impression's
// sensation_ids note. Items already tagged as
// impressions (arrived via a feedback edge, or whose Kind names a known
// wit output) are split into impressionIDs instead.
func (w *Wit) identifyBatch(ctx context.Context, batch []item) (sensationIDs, impressionIDs []string, sensations []sensation.Sensation) {
	for _, it := range batch {
		sensations = append(sensations, it.sensation)

		id := it.id
		isImpression := it.isImpression || w.isImpressionKind(it.sensation.Kind)
		if id == "" {
			id = uuid.NewString()
			if !isImpression {
				if err := w.memory.Memorize(ctx, it.sensation.Kind, memory.StoredSensation{
					ID:   id,
					Kind: it.sensation.Kind,
					When: it.sensation.When,
					Data: mustMarshalWhat(it.sensation),
				}); err != nil {
					w.logger.Error("wit failed to memorize raw sensation", "wit", w.def.Name, "kind", it.sensation.Kind, "err", err)
				}
			}
		}
		if isImpression {
			impressionIDs = append(impressionIDs, id)
		} else {
			sensationIDs = append(sensationIDs, id)
		}
	}
	return sensationIDs, impressionIDs, sensations
}

func mustMarshalWhat(s sensation.Sensation) []byte {
	data, err := s.What.MarshalJSON()
	if err != nil {
		return []byte(`""`)
	}
	return data
}

// currentText concatenates the how-or-what text of every sensation in the
// batch step 2's {{current}} substitution.
func currentText(sensations []sensation.Sensation) string {
	parts := make([]string, 0, len(sensations))
	for _, s := range sensations {
		if t := strings.TrimSpace(s.What.PlainText()); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// postprocess applies the wit's configured postprocessing option to text.
func postprocess(text, option string) string {
	switch option {
	case "first_sentence":
		return firstSentence(text)
	case "trim":
		return strings.TrimSpace(text)
	case "", "none":
		return text
	default:
		return text
	}
}

func firstSentence(text string) string {
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			return text[:i+1]
		}
	}
	return text
}
