package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viant/mcpway/bridge"
	"github.com/viant/mcpway/config"
	"github.com/viant/mcpway/jsonrpc"
	"github.com/viant/mcpway/session"
	"github.com/viant/mcpway/telemetry"
	"github.com/viant/mcpway/transport"
)

func newTestGateway(t *testing.T, protocolVersion string) *Gateway {
	t.Helper()
	return &Gateway{
		sink:      telemetry.NopSink{},
		metrics:   telemetry.NoopMetrics(),
		sessions:  session.NewManager(session.ManagerOptions{Sink: telemetry.NopSink{}, Metrics: telemetry.NoopMetrics()}),
		initCache: session.NewInitializeCache(protocolVersion),
		pumps:     make(map[string]*bridge.Pump),
	}
}

func TestSSEEndpointDataRelativeByDefault(t *testing.T) {
	g := newTestGateway(t, "")
	g.cfg = config.Config{Paths: config.Paths{MessagePath: "/message"}}
	assert.Equal(t, "/message?sessionId=s-1", g.sseEndpointData("s-1"))
}

func TestSSEEndpointDataAbsoluteWithBaseURL(t *testing.T) {
	g := newTestGateway(t, "")
	g.cfg = config.Config{
		BaseURL: "https://gw.example.com/",
		Paths:   config.Paths{MessagePath: "/message"},
	}
	assert.Equal(t, "https://gw.example.com/message?sessionId=s-1", g.sseEndpointData("s-1"))
}

func TestCorsAllowedExactMatch(t *testing.T) {
	assert.True(t, corsAllowed([]string{"https://example.com"}, "https://example.com"))
	assert.False(t, corsAllowed([]string{"https://example.com"}, "https://evil.com"))
}

func TestCorsAllowedRegex(t *testing.T) {
	assert.True(t, corsAllowed([]string{"/^https:\\/\\/.*\\.example\\.com$/"}, "https://app.example.com"))
	assert.False(t, corsAllowed([]string{"/^https:\\/\\/.*\\.example\\.com$/"}, "https://app.other.com"))
}

func TestAutoInitializeSkippedWhenDisabled(t *testing.T) {
	g := newTestGateway(t, "")
	out, _ := transport.NewMemoryPair(transport.DefaultDescriptor("out"))
	require.NoError(t, g.autoInitialize(context.Background(), out))
	assert.False(t, g.initCache.Ready())
}

func TestAutoInitializeCapturesUpstreamResult(t *testing.T) {
	g := newTestGateway(t, "2024-11-05")
	out, outPeer := transport.NewMemoryPair(transport.DefaultDescriptor("out"))

	done := make(chan error, 1)
	go func() { done <- g.autoInitialize(context.Background(), out) }()

	var item transport.Item
	select {
	case item = <-outPeer.Inbound():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for synthesized initialize request")
	}
	require.NotNil(t, item.Frame)
	assert.Equal(t, "initialize", item.Frame.Method)

	resp, err := jsonrpc.NewResultResponse(item.Frame.Id, map[string]any{
		"protocolVersion": "2024-10-01",
		"capabilities":    map[string]any{},
	})
	require.NoError(t, err)
	require.NoError(t, outPeer.Send(context.Background(), resp))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for autoInitialize to finish")
	}

	assert.True(t, g.initCache.Ready())
	satisfied, ok := g.initCache.Satisfy()
	require.True(t, ok)
	assert.Contains(t, string(satisfied), `"2024-11-05"`)
}

func TestRunPumpBridgesFramesAndTerminatesSession(t *testing.T) {
	g := newTestGateway(t, "")
	sess, err := g.sessions.BeginOrAttach(context.Background(), "", "")
	require.NoError(t, err)

	in, inPeer := transport.NewMemoryPair(transport.DefaultDescriptor("in"))
	out, outPeer := transport.NewMemoryPair(transport.DefaultDescriptor("out"))

	ctx, cancel := context.WithCancel(context.Background())
	pumpDone := make(chan struct{})
	go func() {
		g.runPump(ctx, sess, in, out)
		close(pumpDone)
	}()

	req, err := jsonrpc.NewRequest(jsonrpc.NewIntID(1), "tools/list", nil)
	require.NoError(t, err)
	require.NoError(t, inPeer.Send(context.Background(), req))

	select {
	case item := <-outPeer.Inbound():
		require.NotNil(t, item.Frame)
		assert.Equal(t, "tools/list", item.Frame.Method)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for forwarded request")
	}

	cancel()
	select {
	case <-pumpDone:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for pump to exit")
	}

	_, ok := g.sessions.Get(sess.ID)
	assert.False(t, ok, "session should be terminated once the pump exits")
}
