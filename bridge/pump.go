package bridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/viant/mcpway/jsonrpc"
	"github.com/viant/mcpway/telemetry"
	"github.com/viant/mcpway/transport"
)

// Direction labels the two pump goroutines for telemetry.
type Direction string

const (
	Downstream Direction = "downstream" // input -> output
	Upstream   Direction = "upstream"   // output -> input
)

// Options configures a Pump.
type Options struct {
	Label      string
	RewriteIDs bool // rewrite ids when the output requires uniqueness across multiplexed clients
	Sink       telemetry.Sink
	Metrics    *telemetry.Metrics
	OnTouch    func()     // called on every inbound/outbound frame (session.Touch)
	OnOrphan   func(Direction, *jsonrpc.Frame) // called on a Response with no matching entry

	// Intercept lets the gateway answer a downstream Request locally
	// instead of forwarding it (a later client initialize served from the
	// cached handshake). Returning ok sends the response straight back on
	// the input channel.
	Intercept func(*jsonrpc.Frame) (*jsonrpc.Frame, bool)
}

// Pump bridges one (input, output) channel pair for one session. Two
// directional pumps run concurrently: Downstream (input->output, allocating
// correlation entries) and Upstream (output->input, mirroring it for
// server-initiated requests such as sampling/createMessage). A slow
// consumer on one direction must not block the other: each direction owns
// its own correlation table and its own goroutine.
type Pump struct {
	opts   Options
	input  transport.MessageChannel
	output transport.MessageChannel

	downstreamTable *Table // keyed by the id sent to output
	upstreamTable   *Table // keyed by the id sent to input

	closeOnce sync.Once
}

// New constructs a Pump. The returned downstream table should be bound to
// the owning session via Session.BindCorrelations so session sweep/close can
// cancel outstanding requests.
func New(input, output transport.MessageChannel, opts Options) *Pump {
	p := &Pump{
		input:           input,
		output:          output,
		downstreamTable: NewTable(),
		upstreamTable:   NewTable(),
		opts:            opts,
	}
	// Cancelled entries still owe their originator a terminal response; a
	// Send failure here means the channel itself died, which is the
	// terminal signal instead.
	p.downstreamTable.SetOnCancel(func(e *Entry, err *jsonrpc.Error) {
		_ = input.Send(context.Background(), jsonrpc.NewErrorResponse(e.InboundID, err))
	})
	p.upstreamTable.SetOnCancel(func(e *Entry, err *jsonrpc.Error) {
		_ = output.Send(context.Background(), jsonrpc.NewErrorResponse(e.InboundID, err))
	})
	return p
}

// DownstreamTable exposes the input->output correlation table (bind this to
// the session: it is the outstanding-requests table keyed by the inbound
// id).
func (p *Pump) DownstreamTable() *Table { return p.downstreamTable }

// Run drives both directional pumps until ctx is cancelled or either channel
// terminates. Cancellation of either channel triggers symmetric cancellation
// of both pumps and resolves outstanding entries with "-32001 channel
// closed".
func (p *Pump) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	var downErr, upErr error
	go func() {
		defer wg.Done()
		downErr = p.runDirection(ctx, Downstream, p.input, p.output, p.downstreamTable, p.upstreamTable)
		cancel()
	}()
	go func() {
		defer wg.Done()
		upErr = p.runDirection(ctx, Upstream, p.output, p.input, p.upstreamTable, p.downstreamTable)
		cancel()
	}()
	wg.Wait()

	// Outstanding entries get the most specific terminal code available:
	// an adapter-level fatal error that is already a JSON-RPC error (e.g.
	// -32002 upstream exited) wins over the generic -32001.
	cancelErr := jsonrpc.NewChannelClosed("channel closed")
	for _, err := range []error{upErr, downErr} {
		var rpcErr *jsonrpc.Error
		if errors.As(err, &rpcErr) {
			cancelErr = rpcErr
			break
		}
	}
	p.closeOnce.Do(func() {
		p.downstreamTable.CancelAll(cancelErr)
		p.upstreamTable.CancelAll(cancelErr)
	})

	// A clean peer close is a normal way for a pump to end, not a fault.
	if downErr == transport.ErrClosed {
		downErr = nil
	}
	if upErr == transport.ErrClosed {
		upErr = nil
	}
	if downErr != nil {
		return downErr
	}
	return upErr
}

// runDirection pumps from src to dst, allocating entries in ownTable for
// Requests it forwards and resolving entries in peerTable for Responses it
// receives keyed by the id the *other* direction rewrote.
func (p *Pump) runDirection(ctx context.Context, dir Direction, src, dst transport.MessageChannel, ownTable, peerTable *Table) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case item, ok := <-src.Inbound():
			if !ok {
				return nil
			}
			if item.Err != nil {
				return item.Err
			}
			if item.Event != nil {
				if err := p.handleEvent(ctx, dir, *item.Event); err != nil {
					return err
				}
				continue
			}
			if item.Frame == nil {
				continue
			}
			if p.opts.OnTouch != nil {
				p.opts.OnTouch()
			}
			if dir == Downstream && item.Frame.IsRequest() && p.opts.Intercept != nil {
				if resp, ok := p.opts.Intercept(item.Frame); ok {
					if err := p.send(ctx, src, resp); err != nil {
						return err
					}
					continue
				}
			}
			if err := p.forward(ctx, dir, item.Frame, dst, ownTable, peerTable); err != nil {
				return err
			}
		}
	}
}

func (p *Pump) handleEvent(ctx context.Context, dir Direction, ev transport.Event) error {
	switch ev.Kind {
	case transport.EventFatal:
		telemetry.Error(ctx, p.opts.Sink, "bridge", "adapter fatal error", map[string]any{
			"label": p.opts.Label, "direction": dir, "err": ev.Err,
		})
		return ev.Err
	case transport.EventClosed:
		return transport.ErrClosed
	default:
		return nil
	}
}

func (p *Pump) forward(ctx context.Context, dir Direction, f *jsonrpc.Frame, dst transport.MessageChannel, ownTable, peerTable *Table) error {
	switch f.Kind {
	case jsonrpc.KindBatch:
		return p.forwardBatch(ctx, dir, f, dst, ownTable, peerTable)
	case jsonrpc.KindRequest:
		return p.forwardRequest(ctx, dir, f, dst, ownTable)
	case jsonrpc.KindNotification:
		return p.send(ctx, dst, f)
	case jsonrpc.KindResponse:
		return p.forwardResponse(ctx, dir, f, dst, peerTable)
	}
	return nil
}

func (p *Pump) forwardRequest(ctx context.Context, dir Direction, f *jsonrpc.Frame, dst transport.MessageChannel, ownTable *Table) error {
	deadline := time.Time{}
	_, cancel := context.WithCancel(ctx)
	rewritten := ownTable.Register(ctx, f.Id, f.Method, p.opts.RewriteIDs, deadline, cancel)
	outFrame := *f
	outFrame.Id = rewritten
	return p.send(ctx, dst, &outFrame)
}

func (p *Pump) forwardResponse(ctx context.Context, dir Direction, f *jsonrpc.Frame, dst transport.MessageChannel, peerTable *Table) error {
	entry, ok := peerTable.Resolve(f.Id)
	if !ok {
		if p.opts.OnOrphan != nil {
			p.opts.OnOrphan(dir, f)
		}
		telemetry.Warn(ctx, p.opts.Sink, "bridge", "orphan response, no matching correlation entry", map[string]any{
			"label": p.opts.Label, "direction": dir, "id": f.Id.String(),
		})
		return nil
	}
	outFrame := *f
	outFrame.Id = entry.InboundID
	return p.send(ctx, dst, &outFrame)
}

// send pushes a frame to dst, retrying while the outbound buffer reports
// Backpressure so the caller's read loop pauses (stops draining its own
// input) until the sink has room again.
func (p *Pump) send(ctx context.Context, dst transport.MessageChannel, f *jsonrpc.Frame) error {
	for {
		err := dst.Send(ctx, f)
		switch err {
		case nil:
			if p.opts.OnTouch != nil {
				p.opts.OnTouch()
			}
			p.opts.Metrics.RecordFrame(ctx, p.opts.Label)
			return nil
		case transport.ErrBackpressure:
			p.opts.Metrics.RecordBackpressure(ctx, p.opts.Label)
			select {
			case <-time.After(25 * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		default:
			return err
		}
	}
}
