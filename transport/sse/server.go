// Package sse implements the SSE-server and SSE-client transport adapters.
// The server side is split into a
// per-connection ServerChannel (one per GET /sse stream, satisfying
// transport.MessageChannel) and a Registry that routes companion POSTs to
// the right channel by session id.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/viant/mcpway/jsonrpc"
	"github.com/viant/mcpway/telemetry"
	"github.com/viant/mcpway/transport"
)

// ServerChannel is bound to one client's GET /sse connection. Frames handed
// to Send are flushed as `event: message` SSE events; frames POSTed to the
// companion message endpoint are delivered to Inbound via DeliverFrame.
type ServerChannel struct {
	SessionID string

	w       http.ResponseWriter
	flusher http.Flusher
	buf     *transport.Buffer
	pump    *transport.Pump
	label   string

	closeOnce sync.Once
	closed    chan struct{}
}

// NewServerChannel wraps an already-established GET /sse response writer.
// The caller must not write to w again after this call; use Send/Run.
func NewServerChannel(sessionID string, w http.ResponseWriter, desc transport.Descriptor) (*ServerChannel, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("sse: ResponseWriter does not support flushing")
	}
	return &ServerChannel{
		SessionID: sessionID,
		w:         w,
		flusher:   flusher,
		buf:       transport.NewBuffer(desc.HighWaterMark),
		pump:      transport.NewPump(desc.HighWaterMark),
		label:     desc.Label,
		closed:    make(chan struct{}),
	}, nil
}

// WriteEndpointEvent writes the mandatory first SSE event carrying the
// companion POST URL.
func (c *ServerChannel) WriteEndpointEvent(postURL string) error {
	if _, err := fmt.Fprintf(c.w, "event: endpoint\ndata: %s\n\n", postURL); err != nil {
		return err
	}
	c.flusher.Flush()
	return nil
}

// Run drains outbound frames and writes them as `event: message` SSE events
// until ctx is cancelled (client disconnect) or Close is called. It owns the
// http.ResponseWriter for the lifetime of the connection, mirroring the
// one-goroutine-per-stream model SSE writers usually take.
func (c *ServerChannel) Run(ctx context.Context) error {
	defer c.pump.Close()
	for {
		frames, ok := c.buf.Drain(ctx)
		if !ok {
			return nil
		}
		for _, f := range frames {
			raw, err := jsonrpc.Encode(f)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(c.w, "event: message\ndata: %s\n\n", raw); err != nil {
				return err
			}
		}
		c.flusher.Flush()
		select {
		case <-ctx.Done():
			return nil
		default:
		}
	}
}

// DeliverFrame is called by the companion message-path HTTP handler with a
// frame decoded from a client POST body. It is non-blocking: if the inbound
// pump's buffer is already at capacity it reports false so the handler can
// answer 503 instead of stalling the HTTP request goroutine.
func (c *ServerChannel) DeliverFrame(f *jsonrpc.Frame) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	return c.pump.TryEmit(transport.Item{Frame: f})
}

func (c *ServerChannel) Inbound() <-chan transport.Item { return c.pump.C() }

func (c *ServerChannel) Send(ctx context.Context, f *jsonrpc.Frame) error {
	select {
	case <-c.closed:
		return transport.ErrClosed
	default:
	}
	return c.buf.Push(f)
}

func (c *ServerChannel) Close(reason error) error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.buf.Close()
	})
	return nil
}

// Registry routes companion POSTs to the right ServerChannel by session id
// and produces the HTTP handlers for the SSE server surface.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]*ServerChannel
	sink     telemetry.Sink
}

// NewRegistry constructs an empty Registry.
func NewRegistry(sink telemetry.Sink) *Registry {
	return &Registry{channels: make(map[string]*ServerChannel), sink: sink}
}

// Register tracks a newly opened channel so POSTs can find it.
func (r *Registry) Register(c *ServerChannel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[c.SessionID] = c
}

// Unregister removes a channel, typically once its Run loop returns.
func (r *Registry) Unregister(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.channels, sessionID)
}

// HandleMessage is the http.HandlerFunc for the companion POST endpoint:
// 202 on enqueue, 404 if session unknown, 503 on backpressure.
func (r *Registry) HandleMessage(w http.ResponseWriter, req *http.Request) {
	sessionID := req.URL.Query().Get("sessionId")
	r.mu.RLock()
	ch, ok := r.channels[sessionID]
	r.mu.RUnlock()
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	var body json.RawMessage
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeFrameError(w, jsonrpc.NewParseError(err.Error(), nil))
		return
	}
	frame, err := jsonrpc.Decode(body)
	if err != nil {
		if rpcErr, ok := err.(*jsonrpc.Error); ok {
			writeFrameError(w, rpcErr)
		} else {
			writeFrameError(w, jsonrpc.NewParseError(err.Error(), nil))
		}
		return
	}

	if !ch.DeliverFrame(frame) {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func writeFrameError(w http.ResponseWriter, rpcErr *jsonrpc.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(jsonrpc.NewErrorResponse(jsonrpc.ID{}, rpcErr))
}
