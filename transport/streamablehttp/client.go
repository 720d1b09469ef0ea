package streamablehttp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/viant/mcpway/jsonrpc"
	"github.com/viant/mcpway/telemetry"
	"github.com/viant/mcpway/transport"
)

// Client dials an upstream Streamable HTTP endpoint: outbound frames are
// POSTed one at a time, and the response body
// (single JSON object, or an `event: message` SSE stream of them) is decoded
// back onto Inbound. A background GET against the same URL receives
// server-initiated frames outside any POST, once the initial POST response
// has told the client which session id to present.
type Client struct {
	url        string
	httpClient *http.Client
	sink       telemetry.Sink
	label      string

	pump *transport.Pump

	mu        sync.Mutex
	sessionID string

	closeOnce sync.Once
	closed    chan struct{}
	// streamCtx scopes the long-lived standalone GET stream to the
	// adapter's lifetime; Close cancels it.
	streamCtx context.Context
	cancel    context.CancelFunc
}

// New constructs a Client bound to url. The standalone GET stream is started
// lazily, once a POST response has supplied a session id (stateful mode);
// in stateless mode no GET stream is opened.
func New(url string, httpClient *http.Client, desc transport.Descriptor, sink telemetry.Sink) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	streamCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		url:        url,
		httpClient: httpClient,
		sink:       sink,
		label:      desc.Label,
		pump:       transport.NewPump(desc.HighWaterMark),
		closed:     make(chan struct{}),
		streamCtx:  streamCtx,
		cancel:     cancel,
	}
	return c
}

func (c *Client) Inbound() <-chan transport.Item { return c.pump.C() }

// Send POSTs frame and decodes whatever comes back (a single JSON
// response, an SSE-framed sequence of them, or an empty 202/204 body for a
// notification), delivering each decoded frame to Inbound.
func (c *Client) Send(ctx context.Context, frame *jsonrpc.Frame) error {
	select {
	case <-c.closed:
		return transport.ErrClosed
	default:
	}
	raw, err := jsonrpc.Encode(frame)
	if err != nil {
		return fmt.Errorf("streamablehttp: encode: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, strings.NewReader(string(raw)))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	c.mu.Lock()
	sid := c.sessionID
	c.mu.Unlock()
	if sid != "" {
		httpReq.Header.Set(SessionHeader, sid)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("streamablehttp: post: %w", err)
	}
	defer resp.Body.Close()

	if newSid := resp.Header.Get(SessionHeader); newSid != "" {
		c.mu.Lock()
		first := c.sessionID == ""
		c.sessionID = newSid
		c.mu.Unlock()
		if first {
			go c.runStandaloneStream(newSid)
		}
	}

	switch resp.StatusCode {
	case http.StatusAccepted, http.StatusNoContent:
		return nil
	case http.StatusServiceUnavailable:
		return transport.ErrBackpressure
	case http.StatusNotFound:
		return transport.ErrClosed
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("streamablehttp: post returned status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "text/event-stream") {
		return c.decodeEventStream(resp)
	}
	var body json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil // empty body is a valid 200 for a notification-only POST
	}
	decoded, err := jsonrpc.Decode(body)
	if err != nil {
		return nil
	}
	c.pump.Emit(transport.Item{Frame: decoded})
	return nil
}

func (c *Client) decodeEventStream(resp *http.Response) error {
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data != "" {
				if frame, err := jsonrpc.Decode([]byte(data)); err == nil {
					c.pump.Emit(transport.Item{Frame: frame})
				}
				data = ""
			}
		case strings.HasPrefix(line, "data:"):
			chunk := strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " ")
			if data != "" {
				data += "\n"
			}
			data += chunk
		}
	}
	return scanner.Err()
}

// runStandaloneStream opens the GET stream once a session id is known and
// forwards every frame it carries to Inbound until the client closes or the
// upstream disconnects.
func (c *Client) runStandaloneStream(sessionID string) {
	req, err := http.NewRequestWithContext(c.streamCtx, http.MethodGet, c.url, nil)
	if err != nil {
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set(SessionHeader, sessionID)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		telemetry.Warn(context.Background(), c.sink, "streamablehttp.client", "standalone stream failed", map[string]any{
			"label": c.label, "err": err.Error(),
		})
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return
	}
	_ = c.decodeEventStream(resp)
}

func (c *Client) Close(reason error) error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.cancel()
	})
	return nil
}
