// Copyright 2025 The Go MCP SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package mcp

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestReconnectBackoffSchedule(t *testing.T) {
	m := NewReconnectManager(nil, &ReconnectOptions{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		GrowthFactor: 2,
		Jitter:       0.1,
	})

	// delay_n = min(max, initial * growth^n) * (1 +/- jitter)
	for n, base := range []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second, // capped
		time.Second, // still capped
	} {
		d := m.delayFor(n)
		lo := time.Duration(float64(base) * 0.9)
		hi := time.Duration(float64(base) * 1.1)
		if d < lo || d > hi {
			t.Errorf("delayFor(%d) = %v, want within [%v, %v]", n, d, lo, hi)
		}
	}
}

func TestReconnectCircuitBreaker(t *testing.T) {
	ctx := context.Background()
	connectErr := errors.New("refused")
	fail := true
	m := NewReconnectManager(func(context.Context) error {
		if fail {
			return connectErr
		}
		return nil
	}, &ReconnectOptions{
		InitialDelay:     time.Millisecond,
		MaxDelay:         2 * time.Millisecond,
		FailureThreshold: 2,
		CircuitTimeout:   50 * time.Millisecond,
	})

	// Two consecutive failures open the circuit.
	for range 2 {
		if err := m.Connect(ctx); !errors.Is(err, connectErr) {
			t.Fatalf("got %v, want connect error", err)
		}
	}
	if got := m.State(); got != ReconnectCircuitOpen {
		t.Fatalf("after threshold failures: state %v, want circuit-open", got)
	}

	// While open, attempts are rejected without calling connect.
	if err := m.Connect(ctx); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("open circuit: got %v, want ErrCircuitOpen", err)
	}

	// After the timeout, one half-open probe is allowed; success closes the
	// circuit.
	time.Sleep(60 * time.Millisecond)
	fail = false
	if err := m.Connect(ctx); err != nil {
		t.Fatalf("half-open probe: %v", err)
	}
	if got := m.State(); got != ReconnectConnected {
		t.Fatalf("after probe success: state %v, want connected", got)
	}
}

func TestReconnectHalfOpenFailureReopens(t *testing.T) {
	ctx := context.Background()
	connectErr := errors.New("refused")
	m := NewReconnectManager(func(context.Context) error { return connectErr },
		&ReconnectOptions{
			InitialDelay:     time.Millisecond,
			MaxDelay:         2 * time.Millisecond,
			FailureThreshold: 1,
			CircuitTimeout:   30 * time.Millisecond,
		})

	m.Connect(ctx) // opens the circuit
	if got := m.State(); got != ReconnectCircuitOpen {
		t.Fatalf("state %v, want circuit-open", got)
	}

	time.Sleep(40 * time.Millisecond)
	if err := m.Connect(ctx); !errors.Is(err, connectErr) {
		t.Fatalf("half-open probe: got %v, want connect error", err)
	}
	if got := m.State(); got != ReconnectCircuitOpen {
		t.Fatalf("after failed probe: state %v, want circuit-open again", got)
	}
}

func TestReconnectMaxRetries(t *testing.T) {
	ctx := context.Background()
	m := NewReconnectManager(func(context.Context) error { return errors.New("nope") },
		&ReconnectOptions{
			InitialDelay: time.Millisecond,
			MaxDelay:     2 * time.Millisecond,
			MaxRetries:   2,
			// Keep the breaker out of the way.
			FailureThreshold: 100,
		})

	m.Connect(ctx)
	m.Connect(ctx)
	err := m.Connect(ctx)
	if err == nil || err.Error() != "mcp: max reconnect attempts exceeded" {
		t.Fatalf("got %v, want max-retries error", err)
	}
}
