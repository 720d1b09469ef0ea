package sse

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/viant/mcpway/jsonrpc"
	"github.com/viant/mcpway/telemetry"
	"github.com/viant/mcpway/transport"
)

// Client dials an upstream SSE server: GET the stream, parse `endpoint` and
// `message` events, and POST outbound frames to the resolved endpoint URL.
type Client struct {
	base       *url.URL
	httpClient *http.Client
	sink       telemetry.Sink
	label      string

	pump *transport.Pump

	mu       sync.Mutex
	endpoint *url.URL

	closeOnce sync.Once
	closed    chan struct{}
	cancel    context.CancelFunc
}

// Dial connects to baseURL's SSE stream. baseURL is both the GET target
// and the origin against which relative and absolute `endpoint` events are
// resolved.
func Dial(ctx context.Context, baseURL string, httpClient *http.Client, desc transport.Descriptor, sink telemetry.Sink) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("sse: invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	streamCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, base.String(), nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("sse: connect: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		cancel()
		resp.Body.Close()
		return nil, fmt.Errorf("sse: unexpected status %d", resp.StatusCode)
	}

	c := &Client{
		base:       base,
		httpClient: httpClient,
		sink:       sink,
		label:      desc.Label,
		pump:       transport.NewPump(desc.HighWaterMark),
		closed:     make(chan struct{}),
		cancel:     cancel,
	}
	go c.readLoop(resp)
	return c, nil
}

// resolveEndpoint resolves an `endpoint` event's data against the client's
// base URL. A relative path resolves normally; an absolute URL is accepted
// only when it shares the base's host: a cross-host absolute redirect is
// rejected rather than silently followed, per MCP security guidance.
func (c *Client) resolveEndpoint(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, jsonrpc.NewInvalidRequest(fmt.Sprintf("invalid endpoint event: %v", err), nil)
	}
	resolved := c.base.ResolveReference(parsed)
	if parsed.IsAbs() && !strings.EqualFold(parsed.Host, c.base.Host) {
		return nil, jsonrpc.NewInvalidRequest(fmt.Sprintf("cross-host endpoint event rejected: %s", raw), nil)
	}
	return resolved, nil
}

func (c *Client) readLoop(resp *http.Response) {
	defer resp.Body.Close()
	defer c.pump.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var event, data string
	flush := func() {
		if event == "" && data == "" {
			return
		}
		defer func() { event, data = "", "" }()
		switch event {
		case "endpoint":
			endpoint, err := c.resolveEndpoint(data)
			if err != nil {
				c.pump.Emit(transport.Item{Event: &transport.Event{Kind: transport.EventFatal, Err: err}})
				return
			}
			c.mu.Lock()
			c.endpoint = endpoint
			c.mu.Unlock()
			c.pump.Emit(transport.Item{Event: &transport.Event{Kind: transport.EventEndpoint, Endpoint: endpoint.String()}})
		case "message", "":
			frame, err := jsonrpc.Decode([]byte(data))
			if err != nil {
				telemetry.Warn(context.Background(), c.sink, "sse.client", "parse error on event stream", map[string]any{
					"label": c.label, "err": err.Error(),
				})
				return
			}
			c.pump.Emit(transport.Item{Frame: frame})
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			chunk := strings.TrimPrefix(line, "data:")
			chunk = strings.TrimPrefix(chunk, " ")
			if data != "" {
				data += "\n"
			}
			data += chunk
		default:
			// ignore id:/retry:/comments
		}
	}
	flush()
	if err := scanner.Err(); err != nil {
		c.pump.Emit(transport.Item{Event: &transport.Event{Kind: transport.EventFatal, Err: err}})
		return
	}
	c.pump.Emit(transport.Item{Event: &transport.Event{Kind: transport.EventClosed}})
}

func (c *Client) Inbound() <-chan transport.Item { return c.pump.C() }

// Send POSTs frame to the endpoint resolved from the most recent `endpoint`
// event. It is an error to call Send before that event has arrived.
func (c *Client) Send(ctx context.Context, frame *jsonrpc.Frame) error {
	c.mu.Lock()
	endpoint := c.endpoint
	c.mu.Unlock()
	if endpoint == nil {
		return fmt.Errorf("sse: endpoint not yet known")
	}
	raw, err := jsonrpc.Encode(frame)
	if err != nil {
		return fmt.Errorf("sse: encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), strings.NewReader(string(raw)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sse: post: %w", err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusAccepted, http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusServiceUnavailable:
		return transport.ErrBackpressure
	case http.StatusNotFound:
		return transport.ErrClosed
	default:
		return fmt.Errorf("sse: post returned status %d", resp.StatusCode)
	}
}

func (c *Client) Close(reason error) error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.cancel()
	})
	return nil
}
