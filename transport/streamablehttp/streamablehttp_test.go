package streamablehttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viant/mcpway/jsonrpc"
	"github.com/viant/mcpway/transport"
)

// echoResponder answers every request delivered to ch with a result response
// carrying the same id, the way a bridge pump would.
func echoResponder(ch *ServerChannel) {
	for item := range ch.Inbound() {
		if item.Frame == nil || !item.Frame.IsRequest() {
			continue
		}
		resp, err := jsonrpc.NewResultResponse(item.Frame.Id, map[string]any{"echo": item.Frame.Method})
		if err != nil {
			continue
		}
		_ = ch.Send(context.Background(), resp)
	}
}

func TestHandlePostCorrelatesResponse(t *testing.T) {
	reg := NewRegistry(transport.DefaultDescriptor("test"), nil)
	ch := NewServerChannel("S", true, transport.DefaultDescriptor("test"))
	reg.Register(ch)
	go echoResponder(ch)
	defer ch.Close(nil)

	body := `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	req.Header.Set(SessionHeader, "S")
	rec := httptest.NewRecorder()

	reg.HandlePost(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	frame, err := jsonrpc.Decode(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, jsonrpc.KindResponse, frame.Kind)
	assert.Equal(t, "1", frame.Id.String())
}

func TestHandlePostBatchPreservesElementOrder(t *testing.T) {
	reg := NewRegistry(transport.DefaultDescriptor("test"), nil)
	ch := NewServerChannel("S", true, transport.DefaultDescriptor("test"))
	reg.Register(ch)
	go echoResponder(ch)
	defer ch.Close(nil)

	body := `[{"jsonrpc":"2.0","id":1,"method":"a"},{"jsonrpc":"2.0","method":"note"},{"jsonrpc":"2.0","id":2,"method":"b"}]`
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	req.Header.Set(SessionHeader, "S")
	rec := httptest.NewRecorder()

	reg.HandlePost(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	frame, err := jsonrpc.Decode(rec.Body.Bytes())
	require.NoError(t, err)
	require.Equal(t, jsonrpc.KindBatch, frame.Kind)
	require.Len(t, frame.Batch, 2)
	assert.Equal(t, "1", frame.Batch[0].Id.String())
	assert.Equal(t, "2", frame.Batch[1].Id.String())
}

func TestHandlePostNotificationOnlyReturns202(t *testing.T) {
	reg := NewRegistry(transport.DefaultDescriptor("test"), nil)
	ch := NewServerChannel("S", true, transport.DefaultDescriptor("test"))
	reg.Register(ch)
	defer ch.Close(nil)

	body := `{"jsonrpc":"2.0","method":"notifications/initialized"}`
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	req.Header.Set(SessionHeader, "S")
	rec := httptest.NewRecorder()

	reg.HandlePost(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case item := <-ch.Inbound():
		require.NotNil(t, item.Frame)
		assert.Equal(t, jsonrpc.KindNotification, item.Frame.Kind)
	case <-time.After(time.Second):
		t.Fatal("notification not delivered")
	}
}

func TestHandlePostUnknownSessionReturns404(t *testing.T) {
	reg := NewRegistry(transport.DefaultDescriptor("test"), nil)
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{}`))
	req.Header.Set(SessionHeader, "missing")
	rec := httptest.NewRecorder()

	reg.HandlePost(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlePostEmptyBodyIsParseError(t *testing.T) {
	reg := NewRegistry(transport.DefaultDescriptor("test"), nil)
	ch := NewServerChannel("S", true, transport.DefaultDescriptor("test"))
	reg.Register(ch)
	defer ch.Close(nil)

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(""))
	req.Header.Set(SessionHeader, "S")
	rec := httptest.NewRecorder()

	reg.HandlePost(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `-32700`)
}

func TestServerChannelSendRoutesUnsolicitedToStandaloneStream(t *testing.T) {
	ch := NewServerChannel("S", true, transport.DefaultDescriptor("test"))
	defer ch.Close(nil)

	note, err := jsonrpc.NewNotification("notifications/progress", map[string]any{"progress": 1})
	require.NoError(t, err)
	require.NoError(t, ch.Send(context.Background(), note))
	assert.Equal(t, 1, ch.standalone.Depth())
}

func TestClientSendDecodesJSONResponse(t *testing.T) {
	var sawSessionHeader atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get(SessionHeader) == "S" {
			sawSessionHeader.Store(true)
		}
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set(SessionHeader, "S")
		w.Header().Set("Content-Type", "application/json")
		resp, _ := jsonrpc.NewResultResponse(jsonrpc.NewIntID(int64(body["id"].(float64))), map[string]any{"ok": true})
		raw, _ := jsonrpc.Encode(resp)
		_, _ = w.Write(raw)
	}))
	defer srv.Close()

	c := New(srv.URL, nil, transport.DefaultDescriptor("client"), nil)
	defer c.Close(nil)

	req, err := jsonrpc.NewRequest(jsonrpc.NewIntID(1), "initialize", nil)
	require.NoError(t, err)
	require.NoError(t, c.Send(context.Background(), req))

	select {
	case item := <-c.Inbound():
		require.NotNil(t, item.Frame)
		assert.Equal(t, jsonrpc.KindResponse, item.Frame.Kind)
		assert.Equal(t, "1", item.Frame.Id.String())
	case <-time.After(time.Second):
		t.Fatal("response never reached inbound")
	}

	// The session id from the first response must ride on the next POST.
	req2, err := jsonrpc.NewRequest(jsonrpc.NewIntID(2), "tools/list", nil)
	require.NoError(t, err)
	require.NoError(t, c.Send(context.Background(), req2))
	assert.True(t, sawSessionHeader.Load())
}

func TestClientSendDecodesSSEFramedResponses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("event: message\ndata: {\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{}}\n\n"))
		_, _ = w.Write([]byte("event: message\ndata: {\"jsonrpc\":\"2.0\",\"method\":\"notifications/progress\"}\n\n"))
	}))
	defer srv.Close()

	c := New(srv.URL, nil, transport.DefaultDescriptor("client"), nil)
	defer c.Close(nil)

	req, err := jsonrpc.NewRequest(jsonrpc.NewIntID(1), "tools/call", nil)
	require.NoError(t, err)
	require.NoError(t, c.Send(context.Background(), req))

	var frames []*jsonrpc.Frame
	for len(frames) < 2 {
		select {
		case item := <-c.Inbound():
			if item.Frame != nil {
				frames = append(frames, item.Frame)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out collecting SSE-framed responses")
		}
	}
	assert.Equal(t, jsonrpc.KindResponse, frames[0].Kind)
	assert.Equal(t, jsonrpc.KindNotification, frames[1].Kind)
}

func TestClientMapsTransportStatuses(t *testing.T) {
	status := int32(http.StatusServiceUnavailable)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(atomic.LoadInt32(&status)))
	}))
	defer srv.Close()

	c := New(srv.URL, nil, transport.DefaultDescriptor("client"), nil)
	defer c.Close(nil)

	req, err := jsonrpc.NewRequest(jsonrpc.NewIntID(1), "ping", nil)
	require.NoError(t, err)
	assert.ErrorIs(t, c.Send(context.Background(), req), transport.ErrBackpressure)

	atomic.StoreInt32(&status, http.StatusNotFound)
	assert.ErrorIs(t, c.Send(context.Background(), req), transport.ErrClosed)
}
