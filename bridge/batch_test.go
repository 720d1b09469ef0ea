package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viant/mcpway/jsonrpc"
	"github.com/viant/mcpway/telemetry"
	"github.com/viant/mcpway/transport"
)

// TestForwardBatchPreservesLeftToRightOrder covers the batch
// decision: a batch containing a notification and two requests forwards
// every element, in its original order, with request ids registered in the
// downstream table so later responses can resolve.
func TestForwardBatchPreservesLeftToRightOrder(t *testing.T) {
	in, _ := transport.NewMemoryPair(transport.DefaultDescriptor("in"))
	out, outPeer := transport.NewMemoryPair(transport.DefaultDescriptor("out"))
	p := New(in, out, Options{Label: "t", Metrics: telemetry.NoopMetrics(), Sink: telemetry.NopSink{}})

	notif, err := jsonrpc.NewNotification("notifications/progress", nil)
	require.NoError(t, err)
	req1, err := jsonrpc.NewRequest(jsonrpc.NewIntID(1), "a", nil)
	require.NoError(t, err)
	req2, err := jsonrpc.NewRequest(jsonrpc.NewIntID(2), "b", nil)
	require.NoError(t, err)

	batch := &jsonrpc.Frame{Kind: jsonrpc.KindBatch, Batch: []*jsonrpc.Frame{notif, req1, req2}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, p.forwardBatch(ctx, Downstream, batch, out, p.downstreamTable, p.upstreamTable))

	var item transport.Item
	select {
	case item = <-outPeer.Inbound():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for forwarded batch")
	}
	require.NotNil(t, item.Frame)
	require.Equal(t, jsonrpc.KindBatch, item.Frame.Kind)
	require.Len(t, item.Frame.Batch, 3)
	assert.Equal(t, jsonrpc.KindNotification, item.Frame.Batch[0].Kind)
	assert.Equal(t, jsonrpc.KindRequest, item.Frame.Batch[1].Kind)
	assert.Equal(t, "1", item.Frame.Batch[1].Id.String())
	assert.Equal(t, jsonrpc.KindRequest, item.Frame.Batch[2].Kind)
	assert.Equal(t, "2", item.Frame.Batch[2].Id.String())

	assert.Len(t, p.downstreamTable.Snapshot(), 2)
}

// TestForwardBatchDropsOrphanResponseButKeepsRest covers the case where one
// batch element is an unresolvable response: it is omitted from the
// forwarded batch while sibling elements still go through.
func TestForwardBatchDropsOrphanResponseButKeepsRest(t *testing.T) {
	in, _ := transport.NewMemoryPair(transport.DefaultDescriptor("in"))
	out, outPeer := transport.NewMemoryPair(transport.DefaultDescriptor("out"))

	var orphans []jsonrpc.ID
	p := New(in, out, Options{
		Label:   "t",
		Metrics: telemetry.NoopMetrics(),
		Sink:    telemetry.NopSink{},
		OnOrphan: func(dir Direction, f *jsonrpc.Frame) {
			orphans = append(orphans, f.Id)
		},
	})

	orphanResp := jsonrpc.NewErrorResponse(jsonrpc.NewIntID(42), jsonrpc.NewInternalError("nope", nil))
	req1, err := jsonrpc.NewRequest(jsonrpc.NewIntID(1), "a", nil)
	require.NoError(t, err)

	batch := &jsonrpc.Frame{Kind: jsonrpc.KindBatch, Batch: []*jsonrpc.Frame{orphanResp, req1}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, p.forwardBatch(ctx, Downstream, batch, out, p.downstreamTable, p.upstreamTable))

	var item transport.Item
	select {
	case item = <-outPeer.Inbound():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for forwarded batch")
	}
	require.Len(t, item.Frame.Batch, 1)
	assert.Equal(t, jsonrpc.KindRequest, item.Frame.Batch[0].Kind)
	require.Len(t, orphans, 1)
	assert.Equal(t, "42", orphans[0].String())
}

// TestForwardBatchAllDroppedYieldsNoSend covers the empty-after-filtering
// case: forwardBatch must not send an empty batch frame downstream.
func TestForwardBatchAllDroppedYieldsNoSend(t *testing.T) {
	in, _ := transport.NewMemoryPair(transport.DefaultDescriptor("in"))
	out, outPeer := transport.NewMemoryPair(transport.DefaultDescriptor("out"))
	p := New(in, out, Options{Label: "t", Metrics: telemetry.NoopMetrics(), Sink: telemetry.NopSink{}})

	orphanResp := jsonrpc.NewErrorResponse(jsonrpc.NewIntID(1), jsonrpc.NewInternalError("nope", nil))
	batch := &jsonrpc.Frame{Kind: jsonrpc.KindBatch, Batch: []*jsonrpc.Frame{orphanResp}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, p.forwardBatch(ctx, Downstream, batch, out, p.downstreamTable, p.upstreamTable))

	select {
	case item := <-outPeer.Inbound():
		t.Fatalf("unexpected send of empty batch: %+v", item)
	case <-time.After(50 * time.Millisecond):
	}
}
