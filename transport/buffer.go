package transport

import (
	"context"
	"sync"

	"github.com/viant/mcpway/jsonrpc"
)

// Buffer is the shared bounded-queue implementation for buffered write
// sides (Memory, the SSE server channel, the Streamable-HTTP standalone
// stream). It enforces the high-water mark and exposes Depth. Exported so
// concrete adapters can compose it instead of reimplementing bounded
// queueing themselves.
type Buffer struct {
	mu     sync.Mutex
	items  []*jsonrpc.Frame
	max    int
	closed bool
	signal chan struct{}
}

// NewBuffer constructs a Buffer with the given high-water mark (256 if <= 0).
func NewBuffer(max int) *Buffer {
	if max <= 0 {
		max = 256
	}
	return &Buffer{max: max, signal: make(chan struct{}, 1)}
}

// Push enqueues a frame, failing with ErrBackpressure once Depth reaches the
// configured high-water mark.
func (b *Buffer) Push(f *jsonrpc.Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if len(b.items) >= b.max {
		return ErrBackpressure
	}
	b.items = append(b.items, f)
	select {
	case b.signal <- struct{}{}:
	default:
	}
	return nil
}

// Drain blocks until at least one item is available or the buffer closes,
// then returns every currently queued frame.
func (b *Buffer) Drain(ctx context.Context) ([]*jsonrpc.Frame, bool) {
	for {
		b.mu.Lock()
		if len(b.items) > 0 {
			items := b.items
			b.items = nil
			b.mu.Unlock()
			return items, true
		}
		if b.closed {
			b.mu.Unlock()
			return nil, false
		}
		b.mu.Unlock()
		select {
		case <-b.signal:
		case <-ctx.Done():
			return nil, false
		}
	}
}

// Depth reports how many frames are currently queued. The bridge pump does
// not consult it: a Send rejected with ErrBackpressure is retried every
// 25 ms and succeeds as soon as the queue is below the high-water mark.
func (b *Buffer) Depth() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Close marks the buffer closed; idempotent.
func (b *Buffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	select {
	case b.signal <- struct{}{}:
	default:
	}
}

// Pump fans parsed Items into a channel, closing it exactly once. Emit may
// be called from more than one goroutine (e.g. an adapter's decode loop and
// its exit-watcher both deliver terminal events). The mutex is never held
// across the blocking send: a pending Emit parks in a select against the
// done channel instead, so Close always makes progress even when the
// consumer has stopped draining C().
type Pump struct {
	mu      sync.Mutex
	closed  bool
	writers sync.WaitGroup
	done    chan struct{}
	ch      chan Item
}

// NewPump constructs a Pump with the given channel capacity.
func NewPump(size int) *Pump {
	return &Pump{ch: make(chan Item, size), done: make(chan struct{})}
}

// C exposes the read side for MessageChannel.Inbound implementations.
func (p *Pump) C() <-chan Item { return p.ch }

// enter registers the caller as an in-flight writer; reports false once the
// pump has been closed.
func (p *Pump) enter() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.writers.Add(1)
	return true
}

// Emit blocks until the item is delivered or the pump closes, preserving
// per-direction ordering rather than dropping frames. A no-op once the pump
// has been closed.
func (p *Pump) Emit(item Item) {
	if !p.enter() {
		return
	}
	defer p.writers.Done()
	select {
	case p.ch <- item:
	case <-p.done:
	}
}

// TryEmit attempts a non-blocking delivery, returning false if the pump's
// buffer is full or the pump is already closed. Used by HTTP handlers that
// must not stall a request goroutine waiting for a slow consumer (they
// answer 503 on backpressure instead).
func (p *Pump) TryEmit(item Item) bool {
	if !p.enter() {
		return false
	}
	defer p.writers.Done()
	select {
	case p.ch <- item:
		return true
	default:
		return false
	}
}

// Close closes the underlying channel exactly once; safe to call
// concurrently with Emit, including an Emit currently parked on a full
// buffer. Already-buffered items remain readable from C() until drained,
// followed by the channel close.
func (p *Pump) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()
	// No new writer can enter and the done channel has released any parked
	// ones; once they all leave, closing ch cannot race a send.
	p.writers.Wait()
	close(p.ch)
}
