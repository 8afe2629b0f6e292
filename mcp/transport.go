// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/mcpkit/corekit/jsonrpc"
)

// The mcp package speaks JSON-RPC exclusively through the [jsonrpc] package;
// these aliases let the rest of the package (and callers) refer to the wire
// types without an extra import, and keep every transport (stdio, streamable
// HTTP, WebSocket) talking about the same concrete types.
type (
	JSONRPCMessage      = jsonrpc.Message
	JSONRPCRequest      = jsonrpc.Request
	JSONRPCNotification = jsonrpc.Notification
	JSONRPCResponse     = jsonrpc.Response
	JSONRPCID           = jsonrpc.ID
)

// A Transport is anything that can be connected to produce a [Connection].
//
// Transports abstract away the mechanics of a particular wire protocol
// (stdio, streamable HTTP, WebSocket): Connect typically dials or otherwise
// establishes a channel, and returns a [Connection] that can thereafter read
// and write framed JSON-RPC messages.
type Transport interface {
	// Connect establishes the connection and returns it.
	Connect(ctx context.Context) (Connection, error)
}

// A Connection is a bidirectional, framed JSON-RPC message channel.
//
// Read and Write may be called concurrently with each other, but
// implementations need not support concurrent calls to Read, nor concurrent
// calls to Write (the jsonrpc2 engine layered on top serializes both).
type Connection interface {
	// Read reads the next message from the connection, blocking until one is
	// available, the context is cancelled, or the connection is closed (in
	// which case Read returns [io.EOF]).
	Read(ctx context.Context) (JSONRPCMessage, error)

	// Write writes a single message to the connection.
	Write(ctx context.Context, msg JSONRPCMessage) error

	// Close closes the connection. Subsequent Read and Write calls fail.
	Close() error
}

// A LoggingTransport is a [Transport] that delegates to another transport,
// writing a "read: ..." or "write: ..." line for each message to Writer.
// It is for debugging and examples, not production traffic.
type LoggingTransport struct {
	Transport Transport
	Writer    io.Writer
}

// Connect implements the [Transport] interface.
func (t *LoggingTransport) Connect(ctx context.Context) (Connection, error) {
	conn, err := t.Transport.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return &loggingConn{conn, t.Writer}, nil
}

type loggingConn struct {
	delegate Connection
	w        io.Writer
}

func (c *loggingConn) Read(ctx context.Context) (JSONRPCMessage, error) {
	msg, err := c.delegate.Read(ctx)
	if err == nil {
		if data, merr := jsonrpc.EncodeMessage(msg); merr == nil {
			fmt.Fprintf(c.w, "read: %s\n", data)
		}
	}
	return msg, err
}

func (c *loggingConn) Write(ctx context.Context, msg JSONRPCMessage) error {
	err := c.delegate.Write(ctx, msg)
	if err == nil {
		if data, merr := jsonrpc.EncodeMessage(msg); merr == nil {
			fmt.Fprintf(c.w, "write: %s\n", data)
		}
	}
	return err
}

func (c *loggingConn) Close() error { return c.delegate.Close() }

// SessionIDer is implemented by connections whose transport assigns a
// session identifier (streamable HTTP, WebSocket), for transports that need
// to surface it (e.g. as the `Mcp-Session-Id` header).
type SessionIDer interface {
	SessionID() string
}

// event is a single Server-Sent Event.
type event struct {
	name string
	id   string
	data []byte
}

// writeEvent writes a single SSE event to w, flushing if w supports it. It
// returns the number of bytes written to the underlying writer.
func writeEvent(w io.Writer, evt event) (int, error) {
	var b strings.Builder
	if evt.name != "" {
		fmt.Fprintf(&b, "event: %s\n", evt.name)
	}
	if evt.id != "" {
		fmt.Fprintf(&b, "id: %s\n", evt.id)
	}
	for _, line := range strings.Split(string(evt.data), "\n") {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteString("\n")
	n, err := io.WriteString(w, b.String())
	if err == nil {
		if f, ok := w.(interface{ Flush() }); ok {
			f.Flush()
		}
	}
	return n, err
}

// scanEvents returns an iterator over the SSE events in r, in the format
// produced by [writeEvent]. Iteration stops (yielding a final (_, io.EOF)
// pair) when r is exhausted.
func scanEvents(r io.Reader) iter.Seq2[event, error] {
	return func(yield func(event, error) bool) {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

		var cur event
		var data strings.Builder
		haveData := false

		flush := func() (event, bool) {
			if !haveData && cur.name == "" && cur.id == "" {
				return event{}, false
			}
			cur.data = []byte(strings.TrimSuffix(data.String(), "\n"))
			evt := cur
			cur = event{}
			data.Reset()
			haveData = false
			return evt, true
		}

		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case line == "":
				if evt, ok := flush(); ok {
					if !yield(evt, nil) {
						return
					}
				}
			case strings.HasPrefix(line, "event:"):
				cur.name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "id:"):
				cur.id = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
			case strings.HasPrefix(line, "data:"):
				data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
				data.WriteString("\n")
				haveData = true
			case strings.HasPrefix(line, ":"):
				// comment line; ignored.
			}
		}
		if err := scanner.Err(); err != nil {
			yield(event{}, err)
			return
		}
		if evt, ok := flush(); ok {
			if !yield(evt, nil) {
				return
			}
		}
		yield(event{}, io.EOF)
	}
}

// readBatch parses body as either a single JSON-RPC message or a JSON-RPC
// batch, returning the decoded messages and whether it was a batch.
func readBatch(body []byte) ([]JSONRPCMessage, bool, error) {
	batch, isBatch, err := jsonrpc.ReadBatch(body)
	if err != nil {
		return nil, isBatch, err
	}
	return []JSONRPCMessage(batch), isBatch, nil
}

// isRequestWithID reports whether data looks like a JSON object carrying a
// non-null "id" field, a cheap pre-check used before full decoding in a few
// error paths.
func isRequestWithID(data []byte) bool {
	var probe struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return false
	}
	return len(probe.ID) > 0 && string(probe.ID) != "null"
}
