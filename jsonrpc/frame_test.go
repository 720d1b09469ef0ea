package jsonrpc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRequest(t *testing.T) {
	f, err := Decode([]byte(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"a":1}}`))
	require.NoError(t, err)
	assert.Equal(t, KindRequest, f.Kind)
	assert.Equal(t, "initialize", f.Method)
	assert.Equal(t, "1", f.Id.String())
}

func TestDecodeNotification(t *testing.T) {
	f, err := Decode([]byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	require.NoError(t, err)
	assert.Equal(t, KindNotification, f.Kind)
	assert.True(t, f.Id.IsNil())
}

func TestDecodeResponse(t *testing.T) {
	f, err := Decode([]byte(`{"jsonrpc":"2.0","id":"abc","result":{}}`))
	require.NoError(t, err)
	assert.Equal(t, KindResponse, f.Kind)
	assert.Equal(t, "abc", f.Id.String())
}

func TestDecodeBatchPreservesOrder(t *testing.T) {
	f, err := Decode([]byte(`[{"jsonrpc":"2.0","id":1,"method":"ping"},{"jsonrpc":"2.0","id":2,"result":{}}]`))
	require.NoError(t, err)
	require.Equal(t, KindBatch, f.Kind)
	require.Len(t, f.Batch, 2)
	assert.Equal(t, KindRequest, f.Batch[0].Kind)
	assert.Equal(t, KindResponse, f.Batch[1].Kind)
}

func TestDecodeEmptyBodyIsParseError(t *testing.T) {
	_, err := Decode([]byte(``))
	require.Error(t, err)
}

func TestEncodeRoundTrip(t *testing.T) {
	req, err := NewRequest(NewIntID(7), "tools/call", map[string]string{"name": "echo"})
	require.NoError(t, err)
	raw, err := Encode(req)
	require.NoError(t, err)

	decoded, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, KindRequest, decoded.Kind)
	assert.Equal(t, "7", decoded.Id.String())

	var params map[string]string
	require.NoError(t, json.Unmarshal(decoded.Params, &params))
	assert.Equal(t, "echo", params["name"])
}

func TestErrorResponseEncodesCode(t *testing.T) {
	resp := NewErrorResponse(NewIntID(1), NewSessionTimeout("session timed out"))
	raw, err := Encode(resp)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"code":-32000`)
}
