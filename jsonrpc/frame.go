// Package jsonrpc defines the wire-level JSON-RPC 2.0 frame types the bridge
// pumps between transports. Params and Result are carried as opaque
// json.RawMessage: the gateway is transport-transparent and never inspects
// MCP method semantics, only the envelope.
package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// Version is the only JSON-RPC version this package accepts.
const Version = "2.0"

// ID is a JSON-RPC request id: string, number, or absent (nil).
type ID struct {
	value any // nil, float64/int64, or string
}

// NewIntID builds a numeric ID.
func NewIntID(v int64) ID { return ID{value: v} }

// NewStringID builds a string ID.
func NewStringID(v string) ID { return ID{value: v} }

// IsNil reports whether the ID is absent.
func (id ID) IsNil() bool { return id.value == nil }

// String renders the id for logs and map keys.
func (id ID) String() string {
	switch v := id.value.(type) {
	case nil:
		return ""
	case string:
		return v
	case int64:
		return fmt.Sprintf("%d", v)
	case float64:
		return fmt.Sprintf("%v", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Value returns the underlying value for re-marshaling.
func (id ID) Value() any { return id.value }

func (id ID) MarshalJSON() ([]byte, error) {
	if id.value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(id.value)
}

func (id *ID) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case nil:
		id.value = nil
	case string:
		id.value = v
	case float64:
		id.value = v
	default:
		return fmt.Errorf("jsonrpc: id must be string, number or null, got %T", raw)
	}
	return nil
}

// Kind tags which JSON-RPC frame shape a decoded Frame actually is.
type Kind int

const (
	KindRequest Kind = iota
	KindNotification
	KindResponse
	KindBatch
)

// Frame is a tagged union over {Request, Notification, Response, Batch}. Decode
// fills exactly the fields relevant to its Kind; the rest are zero.
type Frame struct {
	Kind Kind

	// Request / Notification fields.
	Method string
	Params json.RawMessage

	// Request / Response share Id; Notification never carries one.
	Id ID

	// Response fields.
	Result json.RawMessage
	Error  *Error

	// Batch holds the ordered sub-frames when Kind == KindBatch.
	Batch []*Frame
}

// IsRequest reports whether the frame expects a correlated response.
func (f *Frame) IsRequest() bool { return f.Kind == KindRequest }

// wireFrame is the shape used to sniff and marshal a single (non-batch) frame.
type wireFrame struct {
	Jsonrpc string          `json:"jsonrpc"`
	Id      *ID             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Decode parses one line/message body into a Frame, which may be KindBatch.
func Decode(data []byte) (*Frame, error) {
	trimmed := trimSpace(data)
	if len(trimmed) == 0 {
		return nil, NewParseError("empty body", nil)
	}
	if trimmed[0] == '[' {
		var raw []json.RawMessage
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, NewParseError(err.Error(), nil)
		}
		if len(raw) == 0 {
			return nil, NewInvalidRequest("empty batch", nil)
		}
		batch := make([]*Frame, 0, len(raw))
		for _, item := range raw {
			f, err := decodeSingle(item)
			if err != nil {
				return nil, err
			}
			batch = append(batch, f)
		}
		return &Frame{Kind: KindBatch, Batch: batch}, nil
	}
	return decodeSingle(trimmed)
}

func decodeSingle(data json.RawMessage) (*Frame, error) {
	var w wireFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, NewParseError(err.Error(), nil)
	}
	if w.Jsonrpc != "" && w.Jsonrpc != Version {
		return nil, NewInvalidRequest(fmt.Sprintf("unsupported jsonrpc version %q", w.Jsonrpc), nil)
	}
	f := &Frame{Method: w.Method, Params: w.Params, Result: w.Result, Error: w.Error}
	switch {
	case w.Method != "" && w.Id == nil:
		f.Kind = KindNotification
	case w.Method != "" && w.Id != nil:
		f.Kind = KindRequest
		f.Id = *w.Id
	case w.Method == "" && w.Id != nil:
		f.Kind = KindResponse
		f.Id = *w.Id
	default:
		return nil, NewInvalidRequest("frame is neither request, notification nor response", nil)
	}
	return f, nil
}

// Encode renders the frame back onto the wire.
func Encode(f *Frame) ([]byte, error) {
	if f.Kind == KindBatch {
		parts := make([]json.RawMessage, 0, len(f.Batch))
		for _, item := range f.Batch {
			raw, err := encodeSingle(item)
			if err != nil {
				return nil, err
			}
			parts = append(parts, raw)
		}
		return json.Marshal(parts)
	}
	return encodeSingle(f)
}

func encodeSingle(f *Frame) ([]byte, error) {
	w := wireFrame{Jsonrpc: Version, Method: f.Method, Params: f.Params, Result: f.Result, Error: f.Error}
	if f.Kind == KindRequest || f.Kind == KindResponse {
		id := f.Id
		w.Id = &id
	}
	return json.Marshal(w)
}

// NewRequest builds a Request frame, marshaling params.
func NewRequest(id ID, method string, params any) (*Frame, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Frame{Kind: KindRequest, Id: id, Method: method, Params: raw}, nil
}

// NewNotification builds a Notification frame.
func NewNotification(method string, params any) (*Frame, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Frame{Kind: KindNotification, Method: method, Params: raw}, nil
}

// NewResultResponse builds a success Response frame.
func NewResultResponse(id ID, result any) (*Frame, error) {
	raw, err := marshalParams(result)
	if err != nil {
		return nil, err
	}
	return &Frame{Kind: KindResponse, Id: id, Result: raw}, nil
}

// NewErrorResponse builds an error Response frame.
func NewErrorResponse(id ID, err *Error) *Frame {
	return &Frame{Kind: KindResponse, Id: id, Error: err}
}

func marshalParams(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}

func trimSpace(data []byte) []byte {
	start, end := 0, len(data)
	for start < end && isSpace(data[start]) {
		start++
	}
	for end > start && isSpace(data[end-1]) {
		end--
	}
	return data[start:end]
}

func isSpace(b byte) bool { return b == ' ' || b == '\t' || b == '\n' || b == '\r' }
