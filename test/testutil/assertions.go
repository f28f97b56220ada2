// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package testutil

import (
	"fmt"
	"testing"

	"github.com/noldarim/edumesh/internal/protocol"

	"github.com/stretchr/testify/assert"
)

// EventTypes returns the Go type names of events, e.g. "protocol.StageStartedEvent".
func EventTypes(events []protocol.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = fmt.Sprintf("%T", e)
	}
	return out
}

// AssertEventSequence verifies events have exactly the expected types in order.
func AssertEventSequence(t *testing.T, events []protocol.Event, expected ...protocol.Event) {
	t.Helper()
	want := make([]string, len(expected))
	for i, e := range expected {
		want[i] = fmt.Sprintf("%T", e)
	}
	assert.Equal(t, want, EventTypes(events), "event sequence mismatch")
}
