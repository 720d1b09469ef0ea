// Package bridge implements the bidirectional message pump: for each
// (input-channel, output-channel) pair it forwards frames in both
// directions, maintains request/response correlation tables, rewrites
// identifiers when needed, and applies backpressure.
package bridge

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/viant/mcpway/jsonrpc"
)

// Entry is one outstanding request's correlation record: the id as seen
// on the input channel, the rewritten id sent on the output channel
// (may equal the original), the method name, the deadline, a cancellation
// token, and an optional partial-response accumulator for streaming SSE
// responses.
type Entry struct {
	InboundID  jsonrpc.ID
	OutboundID jsonrpc.ID
	Method     string
	Deadline   time.Time
	Cancel     context.CancelFunc

	mu          sync.Mutex
	accumulated []jsonrpc.Frame // partial responses observed before the final one
}

// Accumulate appends a partial response frame (used by adapters that stream
// a response across multiple SSE events before the terminal one).
func (e *Entry) Accumulate(f jsonrpc.Frame) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.accumulated = append(e.accumulated, f)
}

// Table is the per-session, single-writer correlation table: the pump owns
// it, and occasional reads from the admin API are served by snapshot
// copies. One Table exists per pump direction.
type Table struct {
	mu      sync.Mutex
	entries map[string]*Entry
	nextID  uint64
	// onCancel delivers the terminal error back to whoever is waiting on
	// the original request (set by the pump; see Pump.Run).
	onCancel func(*Entry, *jsonrpc.Error)
}

// NewTable constructs an empty correlation table.
func NewTable() *Table {
	return &Table{entries: make(map[string]*Entry)}
}

// Register inserts a new outstanding request, optionally rewriting its id to
// a gateway-unique monotonic counter when the output channel requires id
// uniqueness across multiplexed clients. It returns the id to send on the
// output channel.
func (t *Table) Register(ctx context.Context, inboundID jsonrpc.ID, method string, rewrite bool, deadline time.Time, cancel context.CancelFunc) jsonrpc.ID {
	t.mu.Lock()
	defer t.mu.Unlock()

	outboundID := inboundID
	if rewrite {
		id := atomic.AddUint64(&t.nextID, 1)
		outboundID = jsonrpc.NewIntID(int64(id))
	}
	t.entries[outboundID.String()] = &Entry{
		InboundID:  inboundID,
		OutboundID: outboundID,
		Method:     method,
		Deadline:   deadline,
		Cancel:     cancel,
	}
	return outboundID
}

// Resolve looks up and removes the entry for a response arriving keyed by
// the outbound id, so the caller can restore the original client id.
func (t *Table) Resolve(outboundID jsonrpc.ID) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[outboundID.String()]
	if ok {
		delete(t.entries, outboundID.String())
	}
	return e, ok
}

// Peek returns the entry without removing it, for accumulating partial
// responses ahead of a terminal one.
func (t *Table) Peek(outboundID jsonrpc.ID) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[outboundID.String()]
	return e, ok
}

// SetOnCancel registers the callback CancelAll uses to surface the terminal
// error to the waiting originator.
func (t *Table) SetOnCancel(f func(*Entry, *jsonrpc.Error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onCancel = f
}

// CancelAll resolves every outstanding entry with err, invoking each one's
// cancellation token and the onCancel notifier, and returns how many were
// cancelled. Implements session.CorrelationTable; each entry receives
// exactly one terminal outcome.
func (t *Table) CancelAll(err *jsonrpc.Error) int {
	t.mu.Lock()
	entries := t.entries
	notify := t.onCancel
	t.entries = make(map[string]*Entry)
	t.mu.Unlock()

	for _, e := range entries {
		if e.Cancel != nil {
			e.Cancel()
		}
		if notify != nil {
			notify(e, err)
		}
	}
	return len(entries)
}

// Snapshot returns a point-in-time copy of outstanding entries for read-only
// consumers such as the admin API.
func (t *Table) Snapshot() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, Entry{InboundID: e.InboundID, OutboundID: e.OutboundID, Method: e.Method, Deadline: e.Deadline})
	}
	return out
}
