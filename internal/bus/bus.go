// Package bus implements the sensation bus: named, typed channels carrying
// sensations between producers and consumers, in both a broadcast
// (fan-out, drop-with-marker) mode and a fan-in (bounded, drop-newest) mode.
package bus

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/dancxjo/psyche/internal/sensation"
)

// broadcastBufferSize is the default per-subscriber buffer for broadcast
// channels; a subscriber lagging beyond this many unread events observes a
// Lagged marker rather than silently missing them.
const broadcastBufferSize = 32

// Event is what a broadcast subscriber receives: either a sensation or a
// Lagged marker reporting how many events were dropped for that subscriber.
type Event struct {
	Sensation sensation.Sensation
	Lagged    int // > 0 means this many events were dropped before this one
}

// Bus is a set of named channels, each independently broadcast or fan-in.
// The zero value is not usable; construct with New.
type Bus struct {
	logger *slog.Logger

	mu         sync.RWMutex
	broadcast  map[string]map[chan Event]struct{}
	fanin      map[string]chan sensation.Sensation
	dropCounts map[string]*atomic.Int64
}

// New creates an empty Bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger:     logger,
		broadcast:  make(map[string]map[chan Event]struct{}),
		fanin:      make(map[string]chan sensation.Sensation),
		dropCounts: make(map[string]*atomic.Int64),
	}
}

// Publish sends s to every broadcast subscriber of channel and, if a fan-in
// consumer exists for channel, attempts to enqueue it there too. Publish
// never blocks: a full fan-in channel drops the newest sensation with a
// warning naming the channel, and a lagging broadcast subscriber receives a
// Lagged marker instead of missing the event silently.
func (b *Bus) Publish(channel string, s sensation.Sensation) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.broadcast[channel] {
		select {
		case ch <- Event{Sensation: s}:
		default:
			// Subscriber is lagging: evict its oldest buffered entry so a
			// Lagged marker fits, counting the evicted event (or the events
			// an evicted marker already counted) plus this one.
			lost := 1
			select {
			case old := <-ch:
				lost += max(old.Lagged, 1)
			default:
			}
			select {
			case ch <- Event{Lagged: lost}:
			default:
			}
		}
	}

	if fc, ok := b.fanin[channel]; ok {
		select {
		case fc <- s:
		default:
			n := int64(1)
			if count, ok := b.dropCounts[channel]; ok {
				n = count.Add(1)
			}
			b.logger.Warn("fan-in channel full, dropping sensation", "channel", channel, "total_dropped", n)
		}
	}
}

// Drops returns how many sensations have been dropped from channel's fan-in
// consumer due to overflow.
func (b *Bus) Drops(channel string) int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if c, ok := b.dropCounts[channel]; ok {
		return c.Load()
	}
	return 0
}

// SubscribeBroadcast returns a channel receiving every sensation published to
// channel from this point forward, and an unsubscribe function the caller
// must eventually call.
func (b *Bus) SubscribeBroadcast(channel string) (<-chan Event, func()) {
	ch := make(chan Event, broadcastBufferSize)

	b.mu.Lock()
	if b.broadcast[channel] == nil {
		b.broadcast[channel] = make(map[chan Event]struct{})
	}
	b.broadcast[channel][ch] = struct{}{}
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if subs, ok := b.broadcast[channel]; ok {
			if _, present := subs[ch]; present {
				delete(subs, ch)
				close(ch)
			}
		}
	}
	return ch, unsubscribe
}

// SubscribeFanin creates (or returns the existing) single-consumer channel
// for channel with the given capacity. Only one fan-in consumer should read
// from the returned channel.
func (b *Bus) SubscribeFanin(channel string, capacity int) <-chan sensation.Sensation {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.fanin[channel]; ok {
		return ch
	}
	ch := make(chan sensation.Sensation, capacity)
	b.fanin[channel] = ch
	if _, ok := b.dropCounts[channel]; !ok {
		b.dropCounts[channel] = new(atomic.Int64)
	}
	return ch
}

// CloseChannel closes every broadcast subscriber stream and the fan-in
// channel for channel, signaling producers are done. Subsequent Publish
// calls for channel are no-ops until a new subscription recreates it.
func (b *Bus) CloseChannel(channel string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.broadcast[channel] {
		close(ch)
	}
	delete(b.broadcast, channel)
	if fc, ok := b.fanin[channel]; ok {
		close(fc)
		delete(b.fanin, channel)
	}
}

// Merge fans multiple sensation channels into one. Order between sources is
// not preserved; order within a single source is.
func Merge(streams ...<-chan sensation.Sensation) <-chan sensation.Sensation {
	out := make(chan sensation.Sensation)
	var wg sync.WaitGroup
	wg.Add(len(streams))
	for _, s := range streams {
		go func(s <-chan sensation.Sensation) {
			defer wg.Done()
			for v := range s {
				out <- v
			}
		}(s)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}
