package transport

import (
	"context"
	"sync"

	"github.com/viant/mcpway/jsonrpc"
)

// Memory is an in-process MessageChannel. It exists primarily as a test
// double for the bridge pump and session wiring, but doubles as a way to
// compose two in-process MCP peers without a real transport.
type Memory struct {
	desc Descriptor
	buf  *Buffer
	pump *Pump
	peer *Memory

	mu     sync.Mutex
	closed bool
}

// NewMemoryPair returns two linked Memory channels: a frame sent on one
// arrives as an inbound Item on the other, like a duplex pipe.
func NewMemoryPair(desc Descriptor) (*Memory, *Memory) {
	desc = desc.normalized()
	a := &Memory{desc: desc, buf: NewBuffer(desc.HighWaterMark), pump: NewPump(desc.HighWaterMark)}
	b := &Memory{desc: desc, buf: NewBuffer(desc.HighWaterMark), pump: NewPump(desc.HighWaterMark)}
	a.peer = b
	b.peer = a
	return a, b
}

func (m *Memory) Inbound() <-chan Item { return m.pump.C() }

func (m *Memory) Send(ctx context.Context, frame *jsonrpc.Frame) error {
	m.mu.Lock()
	closed := m.closed
	peer := m.peer
	m.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if peer == nil {
		return ErrClosed
	}
	if err := m.buf.Push(frame); err != nil {
		return err
	}
	peer.pump.Emit(Item{Frame: frame})
	return nil
}

func (m *Memory) Close(reason error) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()
	m.buf.Close()
	m.pump.Close()
	return nil
}
