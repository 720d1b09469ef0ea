// Package stdiochild adapts a supervised child process (supervisor.Handle)
// to the transport.MessageChannel contract: one JSON object per newline on
// the child's stdout is decoded into a Frame, and Send writes one JSON
// object plus a newline to the child's stdin.
package stdiochild

import (
	"context"
	"fmt"
	"sync"

	"github.com/viant/mcpway/jsonrpc"
	"github.com/viant/mcpway/supervisor"
	"github.com/viant/mcpway/telemetry"
	"github.com/viant/mcpway/transport"
)

// Adapter bridges one consumer (one bridge pump) to a supervised child.
// Multiple Adapters may subscribe to the same supervisor.Handle when the
// upstream child is shared across sessions; each gets its own fan-out
// subscription, while writes serialize on the handle's single stdin
// writer.
type Adapter struct {
	handle *supervisor.Handle
	sink   telemetry.Sink
	label  string

	pump      *transport.Pump
	unsub     func()
	closeOnce sync.Once
	closed    chan struct{}

	writeMu sync.Mutex
}

// New subscribes to handle's stdout broadcast and starts decoding lines into
// frames. The returned Adapter satisfies transport.MessageChannel.
func New(handle *supervisor.Handle, desc transport.Descriptor, sink telemetry.Sink) *Adapter {
	lines, unsub := handle.Subscribe()
	a := &Adapter{
		handle: handle,
		sink:   sink,
		label:  desc.Label,
		pump:   transport.NewPump(desc.HighWaterMark),
		unsub:  unsub,
		closed: make(chan struct{}),
	}
	go a.decodeLoop(lines)
	go a.watchExit()
	return a
}

// decodeLoop delivers every decoded stdout frame to a.pump and closes the
// pump once the subscription channel ends (on unsubscribe or handle
// shutdown). watchExit also emits on the pump, for the terminal
// upstream-exited event.
func (a *Adapter) decodeLoop(lines <-chan supervisor.Line) {
	defer a.pump.Close()
	for line := range lines {
		if line.Err != nil {
			a.pump.Emit(transport.Item{Event: &transport.Event{Kind: transport.EventFatal, Err: line.Err}})
			continue
		}
		frame, err := jsonrpc.Decode([]byte(line.Text))
		if err != nil {
			telemetry.Warn(context.Background(), a.sink, "stdiochild", "parse error on child stdout", map[string]any{
				"label": a.label, "line": line.Text, "err": err.Error(),
			})
			continue
		}
		a.pump.Emit(transport.Item{Frame: frame})
	}
}

func (a *Adapter) watchExit() {
	select {
	case status := <-a.handle.Done:
		telemetry.Warn(context.Background(), a.sink, "stdiochild", "child exited", map[string]any{
			"label": a.label, "code": status.Code, "epoch": status.AtEpoch,
		})
		a.pump.Emit(transport.Item{Event: &transport.Event{Kind: transport.EventFatal, Err: jsonrpc.NewUpstreamExited("upstream exited")}})
		a.Close(jsonrpc.NewUpstreamExited("upstream exited"))
	case <-a.closed:
	}
}

func (a *Adapter) Inbound() <-chan transport.Item { return a.pump.C() }

func (a *Adapter) Send(ctx context.Context, frame *jsonrpc.Frame) error {
	select {
	case <-a.closed:
		return transport.ErrClosed
	default:
	}
	raw, err := jsonrpc.Encode(frame)
	if err != nil {
		return fmt.Errorf("stdiochild: encode: %w", err)
	}
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if _, err := a.handle.Stdin.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("stdiochild: write: %w", err)
	}
	return nil
}

func (a *Adapter) Close(reason error) error {
	a.closeOnce.Do(func() {
		close(a.closed)
		if a.unsub != nil {
			a.unsub()
		}
	})
	return nil
}
