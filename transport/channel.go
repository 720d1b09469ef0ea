// Package transport defines the duplex MessageChannel contract every wire
// adapter implements and the shared event/backpressure vocabulary the
// bridge pump and session manager build on.
package transport

import (
	"context"
	"errors"

	"github.com/viant/mcpway/jsonrpc"
)

// ErrBackpressure is returned by Send when the outbound buffer is saturated
// beyond its configured high-water mark (default 256 frames).
var ErrBackpressure = errors.New("transport: backpressure exceeded")

// ErrClosed is returned by Send/inbound reads once Close has completed.
var ErrClosed = errors.New("transport: channel closed")

// EventKind tags a lifecycle signal surfaced alongside frames on Inbound.
type EventKind int

const (
	// EventOpened marks a completed handshake; none of the adapters in this
	// module emit it.
	EventOpened EventKind = iota
	// EventClosed fires on a clean shutdown of the remote peer.
	EventClosed
	// EventFatal fires on an unrecoverable transport failure.
	EventFatal
	// EventEndpoint carries an SSE "endpoint" event (the POST target URL).
	EventEndpoint
)

// Event is a non-frame item yielded on the inbound sequence.
type Event struct {
	Kind EventKind
	// Endpoint holds the resolved POST URL for EventEndpoint.
	Endpoint string
	// Err holds the cause for EventFatal.
	Err error
}

// Item is exactly one of Frame, Event, or Err (terminal error).
type Item struct {
	Frame *jsonrpc.Frame
	Event *Event
	Err   error
}

// MessageChannel is the common contract every transport adapter presents.
type MessageChannel interface {
	// Inbound returns a channel of Items terminating on clean close or fatal
	// error. The channel is closed exactly once, after the terminal item (if
	// any) has been delivered.
	Inbound() <-chan Item

	// Send enqueues a frame for outbound transmission. It returns
	// ErrBackpressure if the outbound buffer is saturated, ErrClosed if the
	// channel has already been closed.
	Send(ctx context.Context, frame *jsonrpc.Frame) error

	// Close is idempotent: it flushes best-effort, then releases resources.
	// Calling Close n>1 times has the same observable effect as calling it
	// once.
	Close(reason error) error
}

// Descriptor carries the tunables common to every adapter: buffer sizing and
// a label used in logs/metrics.
type Descriptor struct {
	Label           string
	HighWaterMark   int // default 256
	LowWaterMark    int // default 64; not read by any adapter or the pump, so resuming after backpressure does not wait for it
}

// DefaultDescriptor returns the stock watermarks.
func DefaultDescriptor(label string) Descriptor {
	return Descriptor{Label: label, HighWaterMark: 256, LowWaterMark: 64}
}

func (d Descriptor) normalized() Descriptor {
	if d.HighWaterMark <= 0 {
		d.HighWaterMark = 256
	}
	if d.LowWaterMark <= 0 {
		d.LowWaterMark = 64
	}
	return d
}
