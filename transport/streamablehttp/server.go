// Package streamablehttp implements the StreamableHTTP-server and
// StreamableHTTP-client adapters: POST carries one frame or batch and (in the common case) the correlated
// response(s); GET opens a standalone SSE stream for frames the server
// initiates outside of any POST (sampling requests, unsolicited
// notifications). The server side keeps the request-stream /
// standalone-stream split the MCP streamable transport defines, adapted
// to this package's transport.MessageChannel contract.
package streamablehttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/viant/mcpway/jsonrpc"
	"github.com/viant/mcpway/telemetry"
	"github.com/viant/mcpway/transport"
)

// SessionHeader is the header carrying the session id.
const SessionHeader = "Mcp-Session-Id"

// ServerChannel is bound to one logical session (or, in stateless mode, one
// request/response pair). It satisfies transport.MessageChannel: Inbound
// yields frames POSTed by the client; Send routes a Response to whichever
// POST is waiting on that id; server-initiated requests and notifications
// with no waiting POST go to the standalone GET/SSE stream.
type ServerChannel struct {
	SessionID string
	Stateful  bool

	pump *transport.Pump // inbound: frames decoded from POST bodies

	mu       sync.Mutex
	pending  map[string]chan *jsonrpc.Frame // outbound id -> waiter for that POST's response
	standalone *transport.Buffer             // buffered frames for the GET stream
	getPump    *transport.Pump               // drives the standalone stream's flusher, when connected

	closeOnce sync.Once
	closed    chan struct{}
}

// NewServerChannel constructs a session-bound channel. desc sizes both the
// inbound pump and the standalone-stream buffer.
func NewServerChannel(sessionID string, stateful bool, desc transport.Descriptor) *ServerChannel {
	return &ServerChannel{
		SessionID:  sessionID,
		Stateful:   stateful,
		pump:       transport.NewPump(desc.HighWaterMark),
		pending:    make(map[string]chan *jsonrpc.Frame),
		standalone: transport.NewBuffer(desc.HighWaterMark),
		closed:     make(chan struct{}),
	}
}

func (c *ServerChannel) Inbound() <-chan transport.Item { return c.pump.C() }

// Send implements transport.MessageChannel for frames the bridge pump wants
// delivered to the client. A Response matching an in-flight POST's request
// id goes straight to that waiter; anything else (server-initiated request,
// notification) is queued for the standalone GET stream.
func (c *ServerChannel) Send(ctx context.Context, frame *jsonrpc.Frame) error {
	if frame.Kind == jsonrpc.KindResponse {
		c.mu.Lock()
		waiter, ok := c.pending[frame.Id.String()]
		c.mu.Unlock()
		if ok {
			select {
			case waiter <- frame:
				return nil
			default:
			}
		}
	}
	return c.standalone.Push(frame)
}

// registerWaiter arranges for a Response addressed to id to be delivered on
// the returned channel instead of the standalone stream, for the duration of
// one POST request.
func (c *ServerChannel) registerWaiter(id jsonrpc.ID) (chan *jsonrpc.Frame, func()) {
	ch := make(chan *jsonrpc.Frame, 1)
	key := id.String()
	c.mu.Lock()
	c.pending[key] = ch
	c.mu.Unlock()
	return ch, func() {
		c.mu.Lock()
		delete(c.pending, key)
		c.mu.Unlock()
	}
}

// Close is idempotent.
func (c *ServerChannel) Close(reason error) error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.pump.Close()
		c.standalone.Close()
	})
	return nil
}

// Registry routes POST/GET requests to the right ServerChannel by session id.
// It has no stateless mode of its own: for stateless requests the gateway
// builds an ephemeral Registry and ServerChannel per request.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]*ServerChannel
	sink     telemetry.Sink
	desc     transport.Descriptor
}

// NewRegistry constructs an empty Registry.
func NewRegistry(desc transport.Descriptor, sink telemetry.Sink) *Registry {
	return &Registry{channels: make(map[string]*ServerChannel), sink: sink, desc: desc}
}

// Register tracks a channel so GET/POST by session id can find it.
func (r *Registry) Register(c *ServerChannel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[c.SessionID] = c
}

// Lookup returns the channel for sessionID, if any.
func (r *Registry) Lookup(sessionID string) (*ServerChannel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.channels[sessionID]
	return c, ok
}

// Unregister removes a channel, typically on session termination.
func (r *Registry) Unregister(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.channels, sessionID)
}

// responseTimeout bounds how long a POST waits for correlated responses
// before the connection is released; the bridge's own per-request deadlines
// are expected to be tighter than this in practice.
const responseTimeout = 30 * time.Second

// HandlePost implements the POST surface: decode the body (single frame
// or batch), deliver every element to the session's inbound pump, then block
// for the correlated response(s) to each Request element and write them back
// in the HTTP response body: a single JSON object for one request, or a
// JSON array preserving order for a batch. Notification-only bodies return
// 202 immediately without waiting.
func (r *Registry) HandlePost(w http.ResponseWriter, req *http.Request) {
	sessionID := req.Header.Get(SessionHeader)
	ch, ok := r.Lookup(sessionID)
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	var raw json.RawMessage
	if err := json.NewDecoder(req.Body).Decode(&raw); err != nil {
		writeFrameError(w, jsonrpc.NewParseError(err.Error(), nil))
		return
	}
	frame, err := jsonrpc.Decode(raw)
	if err != nil {
		if rpcErr, ok := err.(*jsonrpc.Error); ok {
			writeFrameError(w, rpcErr)
		} else {
			writeFrameError(w, jsonrpc.NewParseError(err.Error(), nil))
		}
		return
	}

	elements := []*jsonrpc.Frame{frame}
	if frame.Kind == jsonrpc.KindBatch {
		elements = frame.Batch
	}

	type waiter struct {
		id      jsonrpc.ID
		ch      chan *jsonrpc.Frame
		cancel  func()
	}
	var waiters []waiter
	for _, el := range elements {
		if el.Kind == jsonrpc.KindRequest {
			wch, cancel := ch.registerWaiter(el.Id)
			waiters = append(waiters, waiter{id: el.Id, ch: wch, cancel: cancel})
		}
		if !ch.pump.TryEmit(transport.Item{Frame: el}) {
			w.WriteHeader(http.StatusServiceUnavailable)
			for _, ww := range waiters {
				ww.cancel()
			}
			return
		}
	}

	if len(waiters) == 0 {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	responses := make([]*jsonrpc.Frame, 0, len(waiters))
	deadline := time.After(responseTimeout)
	for _, ww := range waiters {
		select {
		case resp := <-ww.ch:
			responses = append(responses, resp)
		case <-deadline:
			telemetry.Warn(req.Context(), r.sink, "streamablehttp", "timed out waiting for response", map[string]any{
				"session_id": sessionID, "id": ww.id.String(),
			})
		}
		ww.cancel()
	}

	w.Header().Set("Content-Type", "application/json")
	if frame.Kind == jsonrpc.KindBatch {
		batch := &jsonrpc.Frame{Kind: jsonrpc.KindBatch, Batch: responses}
		body, _ := jsonrpc.Encode(batch)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
		return
	}
	if len(responses) == 0 {
		w.WriteHeader(http.StatusGatewayTimeout)
		return
	}
	body, _ := jsonrpc.Encode(responses[0])
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// HandleGet implements the standalone GET/SSE stream: server-initiated
// frames with no waiting POST are flushed here until the client disconnects.
func (r *Registry) HandleGet(w http.ResponseWriter, req *http.Request) {
	sessionID := req.Header.Get(SessionHeader)
	ch, ok := r.Lookup(sessionID)
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := req.Context()
	for {
		frames, ok := ch.standalone.Drain(ctx)
		if !ok {
			return
		}
		for _, f := range frames {
			raw, err := jsonrpc.Encode(f)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: message\ndata: %s\n\n", raw); err != nil {
				return
			}
		}
		flusher.Flush()
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func writeFrameError(w http.ResponseWriter, rpcErr *jsonrpc.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(jsonrpc.NewErrorResponse(jsonrpc.ID{}, rpcErr))
}
