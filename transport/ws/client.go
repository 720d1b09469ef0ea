package ws

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/viant/mcpway/telemetry"
	"github.com/viant/mcpway/transport"
)

// Dial connects to an upstream WS endpoint and returns a Channel.
func Dial(ctx context.Context, url string, headers http.Header, desc transport.Descriptor, sink telemetry.Sink) (*Channel, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, headers)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return nil, fmt.Errorf("ws: dial %q (status %d): %w", url, status, err)
	}
	return newChannel(conn, desc, sink), nil
}
