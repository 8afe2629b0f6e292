// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package jsonrpc implements the wire encoding for JSON-RPC 2.0, the
// envelope format used by the Model Context Protocol for all requests,
// notifications, responses and batches, regardless of transport.
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	segjson "github.com/segmentio/encoding/json"

	"github.com/mcpkit/corekit/internal/jsonrpc2"
)

// protocolVersion is the JSON-RPC wire version. It never changes.
const protocolVersion = "2.0"

// ID is a JSON-RPC request identifier. It is either a string or an int64,
// matching the two id forms permitted by the JSON-RPC 2.0 spec. The zero
// value is the invalid ID, used for notifications (which carry no id).
type ID struct {
	name     string
	value    int64
	isString bool
	isSet    bool
}

// StringID returns an ID holding a string value.
func StringID(s string) ID { return ID{name: s, isString: true, isSet: true} }

// Int64ID returns an ID holding a numeric value.
func Int64ID(n int64) ID { return ID{value: n, isSet: true} }

// IsValid reports whether id is a set, meaningful identifier (as opposed to
// the zero ID used internally for messages without one, such as
// notifications).
func (id ID) IsValid() bool { return id.isSet }

// Raw returns the underlying value of the ID: a string, an int64, or nil if
// the ID is not set.
func (id ID) Raw() any {
	switch {
	case !id.isSet:
		return nil
	case id.isString:
		return id.name
	default:
		return id.value
	}
}

func (id ID) String() string {
	if id.isString {
		return strconv.Quote(id.name)
	}
	return strconv.FormatInt(id.value, 10)
}

// MarshalJSON implements [json.Marshaler].
func (id ID) MarshalJSON() ([]byte, error) {
	if !id.isSet {
		return []byte("null"), nil
	}
	if id.isString {
		return json.Marshal(id.name)
	}
	return json.Marshal(id.value)
}

// UnmarshalJSON implements [json.Unmarshaler].
func (id *ID) UnmarshalJSON(data []byte) error {
	*id = ID{}
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = ID{name: s, isString: true, isSet: true}
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("jsonrpc.ID: invalid id %s: %w", data, err)
	}
	*id = ID{value: n, isSet: true}
	return nil
}

// Message is implemented by the three JSON-RPC message kinds: [Request],
// [Response] and [Notification]. Implementations of Message are comparable
// only through type switches; the interface itself exists solely to let
// [Connection] and transports speak of "a JSON-RPC message" generically.
type Message interface {
	// isJSONRPCMessage is unexported so that Message can only be implemented
	// within this package.
	isJSONRPCMessage()
}

// Request is a JSON-RPC request: a call that expects a [Response].
type Request struct {
	ID     ID
	Method string
	Params json.RawMessage
}

func (*Request) isJSONRPCMessage() {}

// Notification is a JSON-RPC request with no ID: the sender does not expect
// (and will not wait for) a reply.
type Notification struct {
	Method string
	Params json.RawMessage
}

func (*Notification) isJSONRPCMessage() {}

// Response is a JSON-RPC response to a [Request]. Exactly one of Result and
// Error is set.
type Response struct {
	ID     ID
	Result json.RawMessage
	Error  *Error
}

func (*Response) isJSONRPCMessage() {}

// Batch is an ordered collection of messages sent or received together, as
// permitted by JSON-RPC 2.0's batch array form.
type Batch []Message

// wireMsg is the union of all possible top-level fields across the three
// message kinds; it is used to sniff which kind a decoded object represents,
// following the same "combined struct" approach used by other JSON-RPC 2
// implementations.
type wireMsg struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *ID             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

func toWire(msg Message) (*wireMsg, error) {
	w := &wireMsg{JSONRPC: protocolVersion}
	switch m := msg.(type) {
	case *Request:
		w.ID = &m.ID
		w.Method = m.Method
		w.Params = m.Params
	case *Notification:
		w.Method = m.Method
		w.Params = m.Params
	case *Response:
		w.ID = &m.ID
		w.Result = m.Result
		w.Error = m.Error
	default:
		return nil, fmt.Errorf("jsonrpc: unknown message type %T", msg)
	}
	return w, nil
}

func fromWire(w *wireMsg) (Message, error) {
	switch {
	case w.Method != "" && w.ID != nil && w.ID.IsValid():
		return &Request{ID: *w.ID, Method: w.Method, Params: w.Params}, nil
	case w.Method != "":
		return &Notification{Method: w.Method, Params: w.Params}, nil
	case w.ID != nil:
		return &Response{ID: *w.ID, Result: w.Result, Error: w.Error}, nil
	default:
		return nil, fmt.Errorf("jsonrpc: message has neither method nor id/result/error")
	}
}

// EncodeMessage marshals a single JSON-RPC message to its wire form. Outbound
// messages are trusted (we built them), so there's no need for the strict
// decode path here; segmentio/encoding/json is used instead of the standard
// library purely because this runs on every send and its allocation-light
// encoder measurably helps on high-throughput connections.
func EncodeMessage(msg Message) ([]byte, error) {
	w, err := toWire(msg)
	if err != nil {
		return nil, err
	}
	return segjson.Marshal(w)
}

// DecodeMessage unmarshals a single JSON-RPC message (request, notification,
// or response) from its wire form, using [jsonrpc2.StrictUnmarshal] to guard
// against field-name-case smuggling.
func DecodeMessage(data []byte) (Message, error) {
	var w wireMsg
	if err := jsonrpc2.StrictUnmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("jsonrpc: decoding message: %w", err)
	}
	return fromWire(&w)
}

// EncodeBatch marshals a batch of messages as a JSON array.
func EncodeBatch(batch Batch) ([]byte, error) {
	wires := make([]*wireMsg, len(batch))
	for i, msg := range batch {
		w, err := toWire(msg)
		if err != nil {
			return nil, err
		}
		wires[i] = w
	}
	return segjson.Marshal(wires)
}

// ReadBatch parses data as either a single JSON-RPC message or a batch
// array, returning the decoded messages and whether the input was a batch.
// Per the JSON-RPC 2.0 spec, an empty batch array is a protocol error.
func ReadBatch(data []byte) (Batch, bool, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, false, fmt.Errorf("jsonrpc: empty payload")
	}
	if trimmed[0] != '[' {
		msg, err := DecodeMessage(data)
		if err != nil {
			return nil, false, err
		}
		return Batch{msg}, false, nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, true, fmt.Errorf("jsonrpc: decoding batch: %w", err)
	}
	if len(raw) == 0 {
		return nil, true, fmt.Errorf("jsonrpc: empty batch array")
	}
	batch := make(Batch, len(raw))
	for i, r := range raw {
		msg, err := DecodeMessage(r)
		if err != nil {
			return nil, true, fmt.Errorf("jsonrpc: decoding batch element %d: %w", i, err)
		}
		batch[i] = msg
	}
	return batch, true, nil
}
