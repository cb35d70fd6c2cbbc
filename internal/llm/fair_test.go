package llm

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeStream is a TokenStream over a fixed slice of fragments, used to drive
// the fairness wrapper without a real provider.
type fakeStream struct {
	frags  []string
	i      int
	closed bool
}

func (f *fakeStream) Next(ctx context.Context) (string, bool, error) {
	if f.i >= len(f.frags) {
		return "", false, nil
	}
	frag := f.frags[f.i]
	f.i++
	return frag, true, nil
}

func (f *fakeStream) Close() error {
	f.closed = true
	return nil
}

// fakeClient hands out fakeStreams and blocks in ChatStream until released,
// letting tests control exactly when a permit-holding call completes.
type fakeClient struct {
	mu      sync.Mutex
	release chan struct{}
	order   []int
	calls   int
}

func (c *fakeClient) ChatStream(ctx context.Context, messages []Message) (TokenStream, error) {
	c.mu.Lock()
	id := c.calls
	c.calls++
	c.order = append(c.order, id)
	c.mu.Unlock()

	if c.release != nil {
		<-c.release
	}
	return &fakeStream{frags: []string{"hello"}}, nil
}

func (c *fakeClient) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 2, 3}, nil
}

func (c *fakeClient) Ping(ctx context.Context) error { return nil }

func TestFairClientLimitsConcurrency(t *testing.T) {
	inner := &fakeClient{release: make(chan struct{})}
	fair := NewFairClient(inner, 1)

	ctx := context.Background()
	first := make(chan TokenStream, 1)
	go func() {
		s, err := fair.ChatStream(ctx, []Message{{Role: "user", Text: "hi"}})
		if err != nil {
			t.Error(err)
			return
		}
		first <- s
	}()

	// Give the first call time to acquire the permit and block inside the
	// inner client.
	time.Sleep(20 * time.Millisecond)

	secondDone := make(chan struct{})
	go func() {
		defer close(secondDone)
		fair.ChatStream(ctx, []Message{{Role: "user", Text: "hi again"}})
	}()

	select {
	case <-secondDone:
		t.Fatal("second ChatStream call completed before the first released its permit")
	case <-time.After(30 * time.Millisecond):
	}

	close(inner.release)
	s := <-first
	s.Close()

	select {
	case <-secondDone:
	case <-time.After(time.Second):
		t.Fatal("second ChatStream call never completed after the permit was released")
	}
}

func TestFairClientReleasesPermitOnDrop(t *testing.T) {
	inner := &fakeClient{}
	fair := NewFairClient(inner, 1)
	ctx := context.Background()

	stream, err := fair.ChatStream(ctx, []Message{{Role: "user", Text: "hi"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Drop the stream without draining it.
	if err := stream.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		fair.ChatStream(ctx, []Message{{Role: "user", Text: "next"}})
		close(acquired)
	}()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("permit was not released when the stream was closed early")
	}
}

func TestFairClientFIFOOrdering(t *testing.T) {
	inner := &fakeClient{release: make(chan struct{})}
	fair := NewFairClient(inner, 1)
	ctx := context.Background()

	// Hold the only permit.
	holder := make(chan TokenStream, 1)
	go func() {
		s, _ := fair.ChatStream(ctx, nil)
		holder <- s
	}()
	time.Sleep(20 * time.Millisecond)

	const waiters = 5
	var mu sync.Mutex
	var arrivalOrder []int
	var wg sync.WaitGroup
	wg.Add(waiters)
	for i := 0; i < waiters; i++ {
		i := i
		go func() {
			defer wg.Done()
			// Stagger start so waiters queue in a known order.
			time.Sleep(time.Duration(i) * 5 * time.Millisecond)
			s, err := fair.ChatStream(ctx, nil)
			if err == nil {
				s.Close()
			}
			mu.Lock()
			arrivalOrder = append(arrivalOrder, i)
			mu.Unlock()
		}()
	}

	// Let every waiter enqueue before releasing the held permit.
	time.Sleep(time.Duration(waiters)*5*time.Millisecond + 20*time.Millisecond)
	close(inner.release)
	s := <-holder
	s.Close()

	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for i, got := range arrivalOrder {
		if got != i {
			t.Errorf("waiter completion order not FIFO: position %d completed waiter %d, want %d", i, got, i)
		}
	}
}
