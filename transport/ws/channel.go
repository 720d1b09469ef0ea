// Package ws implements the WS-server and WS-client transport adapters:
// one JSON object per text frame, with a ping/pong liveness check every 30
// seconds and binary frames rejected with close code 1003.
package ws

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/viant/mcpway/jsonrpc"
	"github.com/viant/mcpway/telemetry"
	"github.com/viant/mcpway/transport"
)

// PingInterval is the liveness cadence: ping/pong every 30 s, a missed
// pong closes the connection.
const PingInterval = 30 * time.Second

// pongWait is the read deadline set after each pong: the peer has 10 s past
// the next ping to answer it, and a pong that has not arrived by then lets
// the deadline expire and closes the connection.
const pongWait = PingInterval + 10*time.Second

// Channel wraps one *websocket.Conn (server- or client-side, gorilla makes
// no distinction past the handshake) as a transport.MessageChannel.
type Channel struct {
	conn  *websocket.Conn
	label string
	sink  telemetry.Sink

	pump *transport.Pump

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// newChannel starts the read loop and the ping ticker for an established
// connection. Shared by Dial (client) and the server's Upgrade handler.
func newChannel(conn *websocket.Conn, desc transport.Descriptor, sink telemetry.Sink) *Channel {
	c := &Channel{
		conn:   conn,
		label:  desc.Label,
		sink:   sink,
		pump:   transport.NewPump(desc.HighWaterMark),
		closed: make(chan struct{}),
	}
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	go c.readLoop()
	go c.pingLoop()
	return c
}

func (c *Channel) readLoop() {
	defer c.pump.Close()
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
				c.pump.Emit(transport.Item{Event: &transport.Event{Kind: transport.EventClosed}})
			default:
				c.pump.Emit(transport.Item{Event: &transport.Event{Kind: transport.EventFatal, Err: err}})
			}
			return
		}
		if kind == websocket.BinaryMessage {
			telemetry.Warn(context.Background(), c.sink, "ws", "binary frame rejected", map[string]any{"label": c.label})
			_ = c.closeWithCode(websocket.CloseUnsupportedData, "binary frames not supported")
			return
		}
		frame, err := jsonrpc.Decode(data)
		if err != nil {
			telemetry.Warn(context.Background(), c.sink, "ws", "parse error on text frame", map[string]any{
				"label": c.label, "err": err.Error(),
			})
			continue
		}
		c.pump.Emit(transport.Item{Frame: frame})
	}
}

func (c *Channel) pingLoop() {
	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			c.writeMu.Unlock()
			if err != nil {
				_ = c.Close(err)
				return
			}
		}
	}
}

func (c *Channel) Inbound() <-chan transport.Item { return c.pump.C() }

func (c *Channel) Send(ctx context.Context, frame *jsonrpc.Frame) error {
	select {
	case <-c.closed:
		return transport.ErrClosed
	default:
	}
	raw, err := jsonrpc.Encode(frame)
	if err != nil {
		return fmt.Errorf("ws: encode: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, raw)
}

func (c *Channel) closeWithCode(code int, text string) error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.Close(nil)
}

// Close is idempotent: it sends a close frame best-effort,
// then tears down the connection.
func (c *Channel) Close(reason error) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}
