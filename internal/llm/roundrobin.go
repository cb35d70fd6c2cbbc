package llm

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// RoundRobinClient dispatches calls across multiple backing Clients in
// round-robin order, spreading load across several endpoints. It applies no
// concurrency limit of its own: a backend is gated only if it is itself a
// FairClient, and a global max_concurrent ceiling holds only if the whole
// RoundRobinClient is wrapped in a further FairClient.
type RoundRobinClient struct {
	mu       sync.RWMutex
	backends []Client
	next     atomic.Uint64
}

// NewRoundRobinClient builds a dispatcher over backends, in the order given.
func NewRoundRobinClient(backends ...Client) *RoundRobinClient {
	return &RoundRobinClient{backends: backends}
}

// AddBackend appends another backend to the rotation.
func (r *RoundRobinClient) AddBackend(c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends = append(r.backends, c)
}

func (r *RoundRobinClient) pick() (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.backends) == 0 {
		return nil, fmt.Errorf("round robin: no backends configured")
	}
	i := r.next.Add(1) - 1
	return r.backends[int(i%uint64(len(r.backends)))], nil
}

// ChatStream dispatches to the next backend in rotation.
func (r *RoundRobinClient) ChatStream(ctx context.Context, messages []Message) (TokenStream, error) {
	backend, err := r.pick()
	if err != nil {
		return nil, err
	}
	return backend.ChatStream(ctx, messages)
}

// Embed dispatches to the next backend in rotation.
func (r *RoundRobinClient) Embed(ctx context.Context, text string) ([]float32, error) {
	backend, err := r.pick()
	if err != nil {
		return nil, err
	}
	return backend.Embed(ctx, text)
}

// Ping checks every backend and returns the first error encountered, if any.
func (r *RoundRobinClient) Ping(ctx context.Context) error {
	r.mu.RLock()
	backends := append([]Client(nil), r.backends...)
	r.mu.RUnlock()
	for _, b := range backends {
		if err := b.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}
