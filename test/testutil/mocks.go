// Copyright (C) 2025-2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/noldarim/edumesh/internal/protocol"

	"github.com/stretchr/testify/mock"
)

// MockGenerator is a testify mock for services.Generator.
type MockGenerator struct {
	mock.Mock
}

// Generate records the call and returns the configured reply.
func (m *MockGenerator) Generate(ctx context.Context, prompt, systemPrompt string) (string, error) {
	args := m.Called(ctx, prompt, systemPrompt)
	return args.String(0), args.Error(1)
}

// StaticGenerator always answers with Reply (or Err) and counts calls.
type StaticGenerator struct {
	Reply string
	Err   error

	mu    sync.Mutex
	calls int
}

// Generate returns the configured reply.
func (g *StaticGenerator) Generate(_ context.Context, _, _ string) (string, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	return g.Reply, g.Err
}

// Calls reports how many times Generate ran.
func (g *StaticGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// EventCapture collects events sent on its channel.
type EventCapture struct {
	ch     chan protocol.Event
	mu     sync.RWMutex
	events []protocol.Event
	done   chan struct{}
}

// NewEventCapture creates a capture with a buffered channel and starts
// draining it in the background.
func NewEventCapture() *EventCapture {
	c := &EventCapture{
		ch:   make(chan protocol.Event, 256),
		done: make(chan struct{}),
	}

	go func() {
		defer close(c.done)
		for e := range c.ch {
			c.mu.Lock()
			c.events = append(c.events, e)
			c.mu.Unlock()
		}
	}()

	return c
}

// Channel returns the send side for handing to the orchestrator.
func (c *EventCapture) Channel() chan<- protocol.Event {
	return c.ch
}

// Events returns a copy of everything captured so far.
func (c *EventCapture) Events() []protocol.Event {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]protocol.Event, len(c.events))
	copy(out, c.events)
	return out
}

// ForCorrelation returns the captured events carrying correlationID.
func (c *EventCapture) ForCorrelation(correlationID string) []protocol.Event {
	var out []protocol.Event
	for _, e := range c.Events() {
		if protocol.GetCorrelationID(e) == correlationID {
			out = append(out, e)
		}
	}
	return out
}

// WaitForCount blocks until at least n events were captured or timeout passes.
func (c *EventCapture) WaitForCount(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if len(c.Events()) >= n {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return len(c.Events()) >= n
}

// Close stops capturing.
func (c *EventCapture) Close() {
	close(c.ch)
	<-c.done
}
