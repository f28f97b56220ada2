// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"sync"
	"time"
)

// HistoryEntry records one delivery attempt to an agent.
type HistoryEntry struct {
	Timestamp     time.Time `json:"timestamp"`
	AgentID       string    `json:"agent_id"`
	MessageType   string    `json:"message_type"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Success       bool      `json:"success"`
}

// history is a fixed-size ring of the most recent entries.
type history struct {
	mu      sync.Mutex
	entries []HistoryEntry
	next    int
	full    bool
}

func newHistory(size int) *history {
	if size <= 0 {
		size = 1
	}
	return &history{entries: make([]HistoryEntry, size)}
}

func (h *history) add(e HistoryEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[h.next] = e
	h.next = (h.next + 1) % len(h.entries)
	if h.next == 0 {
		h.full = true
	}
}

func (h *history) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.full {
		return len(h.entries)
	}
	return h.next
}

// snapshot returns the entries oldest first.
func (h *history) snapshot() []HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.full {
		return append([]HistoryEntry(nil), h.entries[:h.next]...)
	}
	out := make([]HistoryEntry, 0, len(h.entries))
	out = append(out, h.entries[h.next:]...)
	return append(out, h.entries[:h.next]...)
}
