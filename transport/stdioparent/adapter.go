// Package stdioparent adapts the gateway's own standard input/output to the
// transport.MessageChannel contract, the gateway acting as a stdio MCP peer
// itself. Logs never go to stdout in this mode; callers are expected to
// route telemetry to stderr or a file sink instead.
package stdioparent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/viant/mcpway/jsonrpc"
	"github.com/viant/mcpway/telemetry"
	"github.com/viant/mcpway/transport"
)

// Adapter reads newline-delimited JSON from in and writes newline-delimited
// JSON to out.
type Adapter struct {
	out io.Writer
	sink telemetry.Sink
	label string

	pump      *transport.Pump
	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// New starts scanning in for frames; out receives everything sent through
// Send.
func New(in io.Reader, out io.Writer, desc transport.Descriptor, sink telemetry.Sink) *Adapter {
	a := &Adapter{
		out:    out,
		sink:   sink,
		label:  desc.Label,
		pump:   transport.NewPump(desc.HighWaterMark),
		closed: make(chan struct{}),
	}
	go a.scanLoop(in)
	return a
}

func (a *Adapter) scanLoop(in io.Reader) {
	defer a.pump.Close()
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		frame, err := jsonrpc.Decode(line)
		if err != nil {
			telemetry.Warn(context.Background(), a.sink, "stdioparent", "parse error on stdin", map[string]any{
				"label": a.label, "err": err.Error(),
			})
			// The -32700 response goes back on the same channel, i.e. our
			// own stdout, not toward the upstream.
			a.writeFrame(jsonrpc.NewErrorResponse(recoverID(line), jsonrpc.NewParseError(err.Error(), nil)))
			continue
		}
		a.pump.Emit(transport.Item{Frame: frame})
	}
	if err := scanner.Err(); err != nil {
		a.pump.Emit(transport.Item{Event: &transport.Event{Kind: transport.EventFatal, Err: err}})
		return
	}
	// Clean EOF on stdin is terminal for this transport.
	a.pump.Emit(transport.Item{Event: &transport.Event{Kind: transport.EventClosed}})
}

func (a *Adapter) Inbound() <-chan transport.Item { return a.pump.C() }

func (a *Adapter) Send(ctx context.Context, frame *jsonrpc.Frame) error {
	select {
	case <-a.closed:
		return transport.ErrClosed
	default:
	}
	return a.writeFrame(frame)
}

func (a *Adapter) writeFrame(frame *jsonrpc.Frame) error {
	raw, err := jsonrpc.Encode(frame)
	if err != nil {
		return fmt.Errorf("stdioparent: encode: %w", err)
	}
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if _, err := a.out.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("stdioparent: write: %w", err)
	}
	return nil
}

// recoverID extracts an id from an unparseable line when possible, so the
// error response can still be correlated by the client.
func recoverID(line []byte) jsonrpc.ID {
	var probe struct {
		Id jsonrpc.ID `json:"id"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		return jsonrpc.ID{}
	}
	return probe.Id
}

func (a *Adapter) Close(reason error) error {
	a.closeOnce.Do(func() {
		close(a.closed)
	})
	return nil
}
