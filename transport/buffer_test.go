package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viant/mcpway/jsonrpc"
)

func TestBufferBackpressureAtHighWaterMark(t *testing.T) {
	b := NewBuffer(2)
	f := &jsonrpc.Frame{Kind: jsonrpc.KindNotification, Method: "n"}
	require.NoError(t, b.Push(f))
	require.NoError(t, b.Push(f))
	assert.ErrorIs(t, b.Push(f), ErrBackpressure)
}

func TestPumpCloseUnblocksParkedEmit(t *testing.T) {
	p := NewPump(1)
	frame := &jsonrpc.Frame{Kind: jsonrpc.KindNotification, Method: "n"}
	require.True(t, p.TryEmit(Item{Frame: frame})) // fill the buffer

	parked := make(chan struct{})
	go func() {
		p.Emit(Item{Frame: frame}) // parks: buffer full, nobody draining
		close(parked)
	}()

	time.Sleep(10 * time.Millisecond)
	closed := make(chan struct{})
	go func() {
		p.Close()
		close(closed)
	}()

	select {
	case <-parked:
	case <-time.After(time.Second):
		t.Fatal("Close did not release the parked Emit")
	}
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close never returned")
	}

	// The buffered item stays readable, then the channel closes.
	item, ok := <-p.C()
	require.True(t, ok)
	assert.NotNil(t, item.Frame)
	_, ok = <-p.C()
	assert.False(t, ok)
}

func TestPumpEmitAfterCloseIsNoop(t *testing.T) {
	p := NewPump(4)
	p.Close()
	p.Close() // idempotent
	p.Emit(Item{Frame: &jsonrpc.Frame{Kind: jsonrpc.KindNotification, Method: "n"}})
	assert.False(t, p.TryEmit(Item{}))
	_, ok := <-p.C()
	assert.False(t, ok)
}
