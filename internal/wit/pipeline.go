package wit

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dancxjo/psyche/internal/bus"
	"github.com/dancxjo/psyche/internal/fastclock"
	"github.com/dancxjo/psyche/internal/llm"
	"github.com/dancxjo/psyche/internal/sensation"
)

// DefaultBeatInterval is the pipeline clock's default tick period.
const DefaultBeatInterval = 50 * time.Millisecond

// Pipeline owns the shared clock and the arena of wits it drives. Wits are
// stored by name in an arena, so feedback cycles — including self-loops —
// need no owning cycle between Go values.
type Pipeline struct {
	bus    *bus.Bus
	logger *slog.Logger

	beatInterval time.Duration

	mu   sync.RWMutex
	wits map[string]*Wit
	defs map[string]Definition

	convNames []string // conversational wit names, sorted by (priority, name)
	rrIndex   int

	tick uint64

	unsubscribes []func()
	wg           sync.WaitGroup
}

// NewPipeline creates an empty Pipeline ticking at beatInterval (use
// DefaultBeatInterval, adjusted by fastclock.Interval, unless the caller
// has a specific reason not to).
func NewPipeline(b *bus.Bus, beatInterval time.Duration, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		bus:          b,
		logger:       logger,
		beatInterval: beatInterval,
		wits:         make(map[string]*Wit),
		defs:         make(map[string]Definition),
	}
}

// AddWit registers def in the pipeline's arena, bound to client for its LLM
// calls and mem for durable storage. Call this for every wit before Run.
func (p *Pipeline) AddWit(def Definition, mem MemoryClient, client llm.Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.defs[def.Name] = def
	p.wits[def.Name] = newWit(def, p.bus, mem, client, p.logger, p.isKnownOutput, p.beatInterval)
	if def.Priority != nil {
		p.convNames = append(p.convNames, def.Name)
		sort.SliceStable(p.convNames, func(i, j int) bool {
			a, b := p.defs[p.convNames[i]], p.defs[p.convNames[j]]
			if *a.Priority != *b.Priority {
				return *a.Priority < *b.Priority
			}
			return p.convNames[i] < p.convNames[j]
		})
	}
}

// isKnownOutput reports whether kind is the declared output of some wit in
// the arena — used to classify a batch item as contributing an impression
// rather than a raw sensation.
func (p *Pipeline) isKnownOutput(kind string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, d := range p.defs {
		if d.Output == kind {
			return true
		}
	}
	return false
}

// Run subscribes every wit to its input kind, starts the clock, and blocks
// until ctx is canceled, at which point it unsubscribes and drains any
// in-flight evaluation before returning.
func (p *Pipeline) Run(ctx context.Context) error {
	p.mu.RLock()
	wits := make([]*Wit, 0, len(p.wits))
	for _, w := range p.wits {
		wits = append(wits, w)
	}
	p.mu.RUnlock()

	for _, w := range wits {
		p.subscribeInput(ctx, w)
	}
	defer p.unsubscribeAll()

	interval := fastclock.Interval(p.beatInterval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.wg.Wait()
			return nil
		case <-ticker.C:
			p.tick++
			p.fireTick(ctx, p.tick)
		}
	}
}

// subscribeInput starts a goroutine that feeds every sensation published on
// w's input kind into w's deque, tagging feedback-sourced impressions
// separately from raw bus traffic.
func (p *Pipeline) subscribeInput(ctx context.Context, w *Wit) {
	ch, unsubscribe := p.bus.SubscribeBroadcast(w.def.Input)
	p.unsubscribes = append(p.unsubscribes, unsubscribe)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if ev.Lagged > 0 {
					p.logger.Warn("wit input lagged", "wit", w.def.Name, "dropped", ev.Lagged)
					continue
				}
				w.enqueue(ev.Sensation, "", false)
			}
		}
	}()
}

func (p *Pipeline) unsubscribeAll() {
	for _, u := range p.unsubscribes {
		u()
	}
}

// fireTick schedules every pipeline wit due on tick and, if any
// conversational wit exists, the single one selected for this tick.
func (p *Pipeline) fireTick(ctx context.Context, tick uint64) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	onEmit := p.feedbackRouter()

	for name, def := range p.defs {
		if def.Priority != nil {
			continue // conversational wits are scheduled separately below
		}
		if def.BeatMod <= 0 {
			continue
		}
		if tick%uint64(def.BeatMod) == 0 {
			p.wits[name].tryEvaluate(ctx, tick, onEmit)
		}
	}

	if len(p.convNames) == 0 {
		return
	}
	chosen := p.selectConversational()
	if chosen != "" {
		p.wits[chosen].tryEvaluate(ctx, tick, onEmit)
	}
}

// selectConversational picks the conversational wit with lowest priority,
// round-robining among ties across ticks. Caller must hold p.mu (at least
// for reading).
func (p *Pipeline) selectConversational() string {
	if len(p.convNames) == 0 {
		return ""
	}
	minPriority := *p.defs[p.convNames[0]].Priority
	var group []string
	for _, name := range p.convNames {
		pr := *p.defs[name].Priority
		if pr < minPriority {
			minPriority = pr
			group = []string{name}
		} else if pr == minPriority {
			group = append(group, name)
		}
	}
	chosen := group[p.rrIndex%len(group)]
	p.rrIndex++
	return chosen
}

// feedbackRouter returns the onEmit callback passed to each wit's
// evaluation: if the emitting wit declares a feedback target, the new
// impression is enqueued onto that wit's deque to be picked up on its own
// next beat ('s queue-until-next-beat resolution), tagged with
// its minted impression id so downstream impression_ids stay accurate.
func (p *Pipeline) feedbackRouter() func(name string, imp sensation.Impression, id string) {
	return func(name string, imp sensation.Impression, id string) {
		p.mu.RLock()
		def, ok := p.defs[name]
		p.mu.RUnlock()
		if !ok || def.Feedback == "" {
			return
		}
		p.mu.RLock()
		target, ok := p.wits[def.Feedback]
		p.mu.RUnlock()
		if !ok {
			return
		}
		target.enqueue(imp.AsSensation(def.Output, time.Now().UTC(), "wit:"+name), id, true)
	}
}

// ValidateGraph checks that every wit's feedback target (if any) is a
// registered wit name, returning an error naming the first problem found.
func (p *Pipeline) ValidateGraph() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for name, def := range p.defs {
		if def.Feedback != "" {
			if _, ok := p.defs[def.Feedback]; !ok {
				return fmt.Errorf("wit %q: feedback target %q is not registered", name, def.Feedback)
			}
		}
	}
	return nil
}
