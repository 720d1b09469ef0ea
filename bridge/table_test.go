package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viant/mcpway/jsonrpc"
)

func TestTableRegisterResolveRestoresOriginalID(t *testing.T) {
	tbl := NewTable()
	outbound := tbl.Register(context.Background(), jsonrpc.NewIntID(1), "tools/call", false, time.Time{}, nil)
	assert.Equal(t, "1", outbound.String())

	entry, ok := tbl.Resolve(outbound)
	require.True(t, ok)
	assert.Equal(t, "1", entry.InboundID.String())
	assert.Equal(t, "tools/call", entry.Method)

	_, ok = tbl.Resolve(outbound)
	assert.False(t, ok, "Resolve should remove the entry")
}

func TestTableRegisterRewritesIDWhenRequested(t *testing.T) {
	tbl := NewTable()
	inbound := jsonrpc.NewStringID("client-1")
	outbound := tbl.Register(context.Background(), inbound, "ping", true, time.Time{}, nil)
	assert.NotEqual(t, inbound.String(), outbound.String())

	entry, ok := tbl.Resolve(outbound)
	require.True(t, ok)
	assert.Equal(t, "client-1", entry.InboundID.String())
}

func TestTableCancelAllInvokesCancelFuncsAndClearsEntries(t *testing.T) {
	tbl := NewTable()
	var cancelled int
	cancel := func() { cancelled++ }
	tbl.Register(context.Background(), jsonrpc.NewIntID(1), "a", false, time.Time{}, cancel)
	tbl.Register(context.Background(), jsonrpc.NewIntID(2), "b", false, time.Time{}, cancel)

	n := tbl.CancelAll(jsonrpc.NewChannelClosed("closed"))
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, cancelled)
	assert.Empty(t, tbl.Snapshot())
}

func TestTablePeekDoesNotRemove(t *testing.T) {
	tbl := NewTable()
	outbound := tbl.Register(context.Background(), jsonrpc.NewIntID(5), "x", false, time.Time{}, nil)

	_, ok := tbl.Peek(outbound)
	require.True(t, ok)
	_, ok = tbl.Resolve(outbound)
	assert.True(t, ok, "entry should still be present after Peek")
}

func TestTableSnapshotIsPointInTimeCopy(t *testing.T) {
	tbl := NewTable()
	tbl.Register(context.Background(), jsonrpc.NewIntID(1), "a", false, time.Time{}, nil)
	snap := tbl.Snapshot()
	require.Len(t, snap, 1)

	tbl.Register(context.Background(), jsonrpc.NewIntID(2), "b", false, time.Time{}, nil)
	assert.Len(t, snap, 1, "prior snapshot must not observe later registrations")
	assert.Len(t, tbl.Snapshot(), 2)
}
