package orchestrator

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestMailboxProcessesRequestsSerially(t *testing.T) {
	mb := NewMailbox(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mb.Run(ctx)

	var counter int64
	const n = 20
	results := make(chan int64, n)
	for i := 0; i < n; i++ {
		go func() {
			res, err := mb.Submit(ctx, func() (any, error) {
				return atomic.AddInt64(&counter, 1), nil
			})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			results <- res.(int64)
		}()
	}

	seen := make(map[int64]bool)
	for i := 0; i < n; i++ {
		select {
		case v := <-results:
			if seen[v] {
				t.Fatalf("duplicate sequence number %d: requests were not serialized", v)
			}
			seen[v] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for mailbox results")
		}
	}
	if atomic.LoadInt64(&counter) != n {
		t.Fatalf("counter = %d, want %d", counter, n)
	}
}

func TestMailboxNotifiesListenersAfterMutation(t *testing.T) {
	mb := NewMailbox(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mb.Run(ctx)

	var notified int64
	mb.AddListener(func() { atomic.AddInt64(&notified, 1) })

	if _, err := mb.Submit(ctx, func() (any, error) { return nil, nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt64(&notified) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if atomic.LoadInt64(&notified) == 0 {
		t.Fatalf("expected listener to be notified after a processed mutation")
	}
}

func TestMailboxSubmitPropagatesError(t *testing.T) {
	mb := NewMailbox(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mb.Run(ctx)

	sentinel := context.Canceled
	_, err := mb.Submit(ctx, func() (any, error) { return nil, sentinel })
	if err != sentinel {
		t.Fatalf("expected sentinel error to propagate, got %v", err)
	}
}
