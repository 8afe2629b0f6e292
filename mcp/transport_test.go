// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/mcpkit/corekit/jsonrpc"
)

// nopWriteCloser adapts a plain writer into the io.ReadWriteCloser shape
// ioConn wants.
type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

func TestIOConnFraming(t *testing.T) {
	ctx := context.Background()

	// Write a request through one conn and read it back through another fed
	// the same bytes, checking the header framing round-trips.
	var buf bytes.Buffer
	wconn := newIOConn(rwc{io.NopCloser(strings.NewReader("")), nopWriteCloser{&buf}})
	want := &jsonrpc.Request{ID: jsonrpc.Int64ID(7), Method: "tools/list"}
	if err := wconn.Write(ctx, want); err != nil {
		t.Fatal(err)
	}
	wire := buf.String()
	if !strings.HasPrefix(wire, "Content-Length: ") || !strings.Contains(wire, "\r\n\r\n") {
		t.Fatalf("framed message missing Content-Length header: %q", wire)
	}

	rconn := newIOConn(rwc{io.NopCloser(strings.NewReader(wire)), nopWriteCloser{io.Discard}})
	msg, err := rconn.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := msg.(*jsonrpc.Request)
	if !ok {
		t.Fatalf("read %T, want *jsonrpc.Request", msg)
	}
	if got.Method != want.Method || got.ID.Raw() != want.ID.Raw() {
		t.Errorf("round trip: got (%v, %q), want (%v, %q)", got.ID, got.Method, want.ID, want.Method)
	}

	// A second read on the exhausted stream is a clean EOF.
	if _, err := rconn.Read(ctx); err != io.EOF {
		t.Errorf("read at EOF: got %v, want io.EOF", err)
	}
}

func TestIOConnReadErrors(t *testing.T) {
	ctx := context.Background()
	for _, test := range []struct {
		name  string
		input string
	}{
		{"missing content length", "Some-Header: 3\r\n\r\n{}"},
		{"malformed header line", "not a header\r\n\r\n"},
		{"zero content length", "Content-Length: 0\r\n\r\n"},
		{"truncated payload", "Content-Length: 100\r\n\r\n{}"},
		{"eof mid header", "Content-Length: 2"},
	} {
		t.Run(test.name, func(t *testing.T) {
			conn := newIOConn(rwc{io.NopCloser(strings.NewReader(test.input)), nopWriteCloser{io.Discard}})
			if _, err := conn.Read(ctx); err == nil || err == io.EOF {
				t.Errorf("Read(%q) = %v, want framing error", test.input, err)
			}
		})
	}
}

func TestIOConnSequentialMessages(t *testing.T) {
	ctx := context.Background()
	var wire bytes.Buffer
	for i := 1; i <= 3; i++ {
		payload := fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":"ping"}`, i)
		fmt.Fprintf(&wire, "Content-Length: %d\r\n\r\n%s", len(payload), payload)
	}
	conn := newIOConn(rwc{io.NopCloser(bytes.NewReader(wire.Bytes())), nopWriteCloser{io.Discard}})
	for i := 1; i <= 3; i++ {
		msg, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("message %d: %v", i, err)
		}
		if got := msg.(*jsonrpc.Request).ID.Raw(); got != int64(i) {
			t.Errorf("message %d: got id %v", i, got)
		}
	}
	if _, err := conn.Read(ctx); err != io.EOF {
		t.Errorf("after last message: got %v, want io.EOF", err)
	}
}

func TestScanEventsRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	events := []event{
		{name: "message", id: "0_0", data: []byte(`{"jsonrpc":"2.0","id":1,"result":{}}`)},
		{name: "message", id: "0_1", data: []byte("line one\nline two")},
		{name: "endpoint", data: []byte("/messages?sessionid=abc")},
	}
	for _, evt := range events {
		if _, err := writeEvent(&buf, evt); err != nil {
			t.Fatal(err)
		}
	}
	var got []event
	for evt, err := range scanEvents(&buf) {
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, evt)
	}
	if len(got) != len(events) {
		t.Fatalf("scanned %d events, want %d", len(got), len(events))
	}
	for i := range events {
		if got[i].name != events[i].name || got[i].id != events[i].id || !bytes.Equal(got[i].data, events[i].data) {
			t.Errorf("event %d: got %+v, want %+v", i, got[i], events[i])
		}
	}
}

func TestStdioEndToEnd(t *testing.T) {
	ctx := context.Background()

	// Wire a client and server together over two OS-style pipes framed by
	// ioConn, the same path StdioTransport takes with stdin/stdout.
	cr, sw := io.Pipe()
	sr, cw := io.Pipe()
	clientTransport := &IOTransport{RWC: rwc{cr, cw}}
	serverTransport := &IOTransport{RWC: rwc{sr, sw}}

	server := NewServer(&Implementation{Name: "s", Version: "0"}, nil)
	AddTool(server, &Tool{Name: "echo"}, func(ctx context.Context, req *CallToolRequest, in map[string]any) (*CallToolResult, map[string]any, error) {
		return nil, in, nil
	})
	ss, err := server.Connect(ctx, serverTransport, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ss.Close()

	client := NewClient(&Implementation{Name: "c", Version: "0"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer cs.Close()

	res, err := cs.ListTools(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Tools) != 1 || res.Tools[0].Name != "echo" {
		t.Errorf("ListTools over stdio framing: got %v", res.Tools)
	}
}
