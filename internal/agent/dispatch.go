// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package agent

import (
	"context"
)

// Behavior is what a concrete agent supplies to a Runtime.
type Behavior interface {
	// Capabilities lists the message types Handle recognises.
	Capabilities() []string
	// Handle processes one message. A non-nil error becomes a failed Response.
	Handle(ctx context.Context, msg Message) (map[string]any, error)
}

// Initializer is implemented by behaviours that need setup before the
// processing loop starts. A returned error aborts Start.
type Initializer interface {
	Init(ctx context.Context) error
}

// HandlerFunc handles a single message type.
type HandlerFunc func(ctx context.Context, msg Message) (map[string]any, error)

// Dispatcher routes messages to handlers by message type. Concrete agents
// embed it and register their handlers at construction time.
type Dispatcher struct {
	agentID  string
	order    []string
	handlers map[string]HandlerFunc
}

// NewDispatcher returns an empty command table for agentID.
func NewDispatcher(agentID string) *Dispatcher {
	return &Dispatcher{
		agentID:  agentID,
		handlers: make(map[string]HandlerFunc),
	}
}

// On registers fn for messageType. Registering the same type twice replaces
// the handler but keeps its original position in Capabilities.
func (d *Dispatcher) On(messageType string, fn HandlerFunc) *Dispatcher {
	if _, exists := d.handlers[messageType]; !exists {
		d.order = append(d.order, messageType)
	}
	d.handlers[messageType] = fn
	return d
}

// Capabilities returns the registered message types in registration order.
func (d *Dispatcher) Capabilities() []string {
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

// Handle looks up the handler for msg.MessageType. Unknown types fail with a
// CapabilityError wrapped in a HandlerError.
func (d *Dispatcher) Handle(ctx context.Context, msg Message) (map[string]any, error) {
	fn, ok := d.handlers[msg.MessageType]
	if !ok {
		return nil, &HandlerError{
			AgentID:     d.agentID,
			MessageType: msg.MessageType,
			Err: &CapabilityError{
				AgentID:     d.agentID,
				MessageType: msg.MessageType,
				Supported:   d.Capabilities(),
			},
		}
	}
	return fn(ctx, msg)
}
