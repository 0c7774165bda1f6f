package orchestrator

import (
	"context"
	"sync"
)

// Mutation is one enqueued graph-mutating (or querying) operation.
// Mailbox guarantees mutations run serially in arrival order on a
// single owner goroutine, matching spec.md §5's single-writer,
// single-reader channel contract between the HTTP listener and the
// graph: suspension points are exactly the enqueue and dequeue of the
// request channel, never inside a running mutation.
type Mutation func() (any, error)

type mailboxRequest struct {
	fn    Mutation
	reply chan mailboxReply
}

type mailboxReply struct {
	result any
	err    error
}

// Mailbox adapts the teacher's TimeController ticker/listener loop
// (timectrl.go) from a wall-clock ticker to a request-channel drain
// loop: instead of firing listeners every tick, it notifies them after
// every processed mutation, publishing a post-mutation snapshot
// consumable by map updates.
type Mailbox struct {
	requests chan mailboxRequest

	mu        sync.RWMutex
	listeners []func()
}

// NewMailbox constructs a Mailbox with the given request buffer depth.
func NewMailbox(bufferSize int) *Mailbox {
	return &Mailbox{requests: make(chan mailboxRequest, bufferSize)}
}

// AddListener registers a callback invoked after every processed
// mutation (used to push a snapshot to subscribed websocket clients).
func (m *Mailbox) AddListener(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Run drains the request channel serially until ctx is canceled. It is
// meant to be the graph's single owner goroutine.
func (m *Mailbox) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-m.requests:
			result, err := req.fn()
			req.reply <- mailboxReply{result: result, err: err}

			m.mu.RLock()
			listeners := m.listeners
			m.mu.RUnlock()
			for _, listen := range listeners {
				listen()
			}
		}
	}
}

// Submit enqueues fn and blocks until it has run and produced a
// result, or ctx is canceled first. A canceled submit has no effect on
// graph state: fn either has not yet run, or has already completed
// atomically.
func (m *Mailbox) Submit(ctx context.Context, fn Mutation) (any, error) {
	req := mailboxRequest{fn: fn, reply: make(chan mailboxReply, 1)}
	select {
	case m.requests <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case reply := <-req.reply:
		return reply.result, reply.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
