package llm

import (
	"context"
	"fmt"
	"sync"
)

// fifoSemaphore is a counting semaphore that wakes waiters in the exact
// order they called acquire, unlike a bare buffered channel (whose wakeup
// order among blocked receivers is unspecified). This is what gives the
// fairness wrapper its FIFO guarantee (testable property 3).
type fifoSemaphore struct {
	mu      sync.Mutex
	count   int
	waiters []chan struct{}
}

func newFIFOSemaphore(n int) *fifoSemaphore {
	return &fifoSemaphore{count: n}
}

func (s *fifoSemaphore) acquire(ctx context.Context) error {
	s.mu.Lock()
	if len(s.waiters) == 0 && s.count > 0 {
		s.count--
		s.mu.Unlock()
		return nil
	}
	ticket := make(chan struct{})
	s.waiters = append(s.waiters, ticket)
	s.mu.Unlock()

	select {
	case <-ticket:
		return nil
	case <-ctx.Done():
		s.cancel(ticket)
		return ctx.Err()
	}
}

// cancel removes ticket from the waiter queue if it hasn't been granted
// yet. If it was already granted (closed) concurrently with the context
// cancellation, the permit it represents is released back immediately so it
// is not lost.
func (s *fifoSemaphore) cancel(ticket chan struct{}) {
	s.mu.Lock()
	for i, w := range s.waiters {
		if w == ticket {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			s.mu.Unlock()
			return
		}
	}
	s.mu.Unlock()
	// Already granted; give the permit back.
	s.release()
}

func (s *fifoSemaphore) release() {
	s.mu.Lock()
	if len(s.waiters) > 0 {
		next := s.waiters[0]
		s.waiters = s.waiters[1:]
		s.mu.Unlock()
		close(next)
		return
	}
	s.count++
	s.mu.Unlock()
}

// FairClient wraps a Client so that at most maxConcurrent ChatStream/Embed
// calls are in flight at once, serving waiters in strict FIFO order. The
// TokenStream returned by ChatStream owns the permit until end-of-stream or
// Close; dropping it mid-stream releases the permit promptly. An inner-call
// failure before any token is produced releases the permit immediately.
type FairClient struct {
	inner Client
	sem   *fifoSemaphore
}

// NewFairClient wraps inner with a fairness gate of size maxConcurrent.
func NewFairClient(inner Client, maxConcurrent int) *FairClient {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &FairClient{inner: inner, sem: newFIFOSemaphore(maxConcurrent)}
}

// ChatStream acquires a permit (FIFO among current waiters), delegates to
// the inner client, and returns a stream that releases the permit on Close
// or end-of-stream.
func (f *FairClient) ChatStream(ctx context.Context, messages []Message) (TokenStream, error) {
	if err := f.sem.acquire(ctx); err != nil {
		return nil, fmt.Errorf("acquire llm permit: %w", err)
	}

	stream, err := f.inner.ChatStream(ctx, messages)
	if err != nil {
		f.sem.release()
		return nil, err
	}
	return &releasingStream{inner: stream, sem: f.sem}, nil
}

// Embed acquires and releases a permit around a single embedding call; it
// has no streaming lifetime to extend the permit across.
func (f *FairClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := f.sem.acquire(ctx); err != nil {
		return nil, fmt.Errorf("acquire llm permit: %w", err)
	}
	defer f.sem.release()
	return f.inner.Embed(ctx, text)
}

// Ping is unrestricted by the fairness gate; it is a liveness check, not a
// model invocation.
func (f *FairClient) Ping(ctx context.Context) error {
	return f.inner.Ping(ctx)
}

// releasingStream wraps a TokenStream so the wrapped semaphore permit is
// released exactly once, whether the stream is drained to completion,
// errors out, or is closed early.
type releasingStream struct {
	inner    TokenStream
	sem      *fifoSemaphore
	mu       sync.Mutex
	released bool
}

func (r *releasingStream) Next(ctx context.Context) (string, bool, error) {
	frag, ok, err := r.inner.Next(ctx)
	if !ok || err != nil {
		r.releaseOnce()
	}
	return frag, ok, err
}

func (r *releasingStream) Close() error {
	r.releaseOnce()
	return r.inner.Close()
}

func (r *releasingStream) releaseOnce() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return
	}
	r.released = true
	r.sem.release()
}
