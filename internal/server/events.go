// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides a REST + WebSocket API over the orchestrator.
// Handlers call the orchestrator directly and orchestrator events are
// broadcast to connected WebSocket clients.
package server

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/noldarim/edumesh/internal/logger"
	"github.com/noldarim/edumesh/internal/protocol"

	"github.com/rs/zerolog"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetAPILogger()
		log = &l
	})
	return log
}

// EventBroadcaster reads every event from the orchestrator's eventChan and
// fans them out to all connected WebSocket clients.
type EventBroadcaster struct {
	eventChan <-chan protocol.Event
	clients   *ClientRegistry
	closed    atomic.Bool
}

// NewEventBroadcaster creates a broadcaster that fans out events from the
// orchestrator's event channel.
func NewEventBroadcaster(eventChan <-chan protocol.Event, clients *ClientRegistry) *EventBroadcaster {
	return &EventBroadcaster{
		eventChan: eventChan,
		clients:   clients,
	}
}

// Run reads events until the channel is closed or context is cancelled.
func (b *EventBroadcaster) Run(ctx context.Context) {
	if b.eventChan == nil {
		<-ctx.Done()
		return
	}
	for {
		select {
		case event, ok := <-b.eventChan:
			if !ok {
				b.closed.Store(true)
				getLog().Info().Msg("Event broadcaster stopped (channel closed)")
				return
			}
			b.dispatch(event)
		case <-ctx.Done():
			getLog().Info().Msg("Event broadcaster stopped (context cancelled)")
			return
		}
	}
}

// Closed reports whether the event channel has been closed.
func (b *EventBroadcaster) Closed() bool {
	return b.closed.Load()
}

func (b *EventBroadcaster) dispatch(event protocol.Event) {
	if b.clients != nil {
		b.clients.Broadcast(event)
	}
}
