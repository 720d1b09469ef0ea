package stdioparent

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viant/mcpway/jsonrpc"
	"github.com/viant/mcpway/telemetry"
	"github.com/viant/mcpway/transport"
)

func drainUntilClosed(t *testing.T, a *Adapter) []transport.Item {
	t.Helper()
	var items []transport.Item
	for {
		select {
		case item, ok := <-a.Inbound():
			if !ok {
				return items
			}
			items = append(items, item)
		case <-time.After(time.Second):
			t.Fatal("inbound did not terminate")
		}
	}
}

func TestAdapterReadsFramesInOrderAndTerminatesOnEOF(t *testing.T) {
	in := strings.NewReader(
		`{"jsonrpc":"2.0","id":1,"method":"initialize"}` + "\n" +
			`{"jsonrpc":"2.0","method":"notifications/initialized"}` + "\n")
	var out bytes.Buffer
	a := New(in, &out, transport.DefaultDescriptor("test"), telemetry.NopSink{})

	items := drainUntilClosed(t, a)
	require.Len(t, items, 3)
	require.NotNil(t, items[0].Frame)
	assert.Equal(t, "initialize", items[0].Frame.Method)
	assert.Equal(t, jsonrpc.KindRequest, items[0].Frame.Kind)
	require.NotNil(t, items[1].Frame)
	assert.Equal(t, jsonrpc.KindNotification, items[1].Frame.Kind)
	require.NotNil(t, items[2].Event)
	assert.Equal(t, transport.EventClosed, items[2].Event.Kind)
}

func TestAdapterSendWritesNewlineDelimitedJSON(t *testing.T) {
	var out bytes.Buffer
	a := New(strings.NewReader(""), &out, transport.DefaultDescriptor("test"), telemetry.NopSink{})
	drainUntilClosed(t, a)

	frame, err := jsonrpc.NewResultResponse(jsonrpc.NewIntID(1), map[string]any{"ok": true})
	require.NoError(t, err)
	require.NoError(t, a.Send(context.Background(), frame))

	written := out.String()
	assert.True(t, strings.HasSuffix(written, "\n"))
	assert.Contains(t, written, `"id":1`)
	assert.NotContains(t, strings.TrimSuffix(written, "\n"), "\n")
}

func TestAdapterParseErrorRespondsOnOwnStdout(t *testing.T) {
	// Valid JSON but not a valid frame: the id is recoverable and the
	// -32700 response must come back on this channel's own write side.
	in := strings.NewReader(`{"jsonrpc":"1.0","id":7}` + "\n")
	var out bytes.Buffer
	a := New(in, &out, transport.DefaultDescriptor("test"), telemetry.NopSink{})

	items := drainUntilClosed(t, a)
	// Only the terminal EOF event reaches the inbound side; the bad line is
	// answered locally, never forwarded upstream.
	require.Len(t, items, 1)
	require.NotNil(t, items[0].Event)

	written := out.String()
	assert.Contains(t, written, `"id":7`)
	assert.Contains(t, written, `"code":-32700`)
}

func TestAdapterSendAfterCloseFails(t *testing.T) {
	var out bytes.Buffer
	a := New(strings.NewReader(""), &out, transport.DefaultDescriptor("test"), telemetry.NopSink{})
	require.NoError(t, a.Close(nil))
	require.NoError(t, a.Close(nil))

	frame, err := jsonrpc.NewRequest(jsonrpc.NewIntID(1), "ping", nil)
	require.NoError(t, err)
	assert.ErrorIs(t, a.Send(context.Background(), frame), transport.ErrClosed)
}
