// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package agent

import (
	"errors"
	"fmt"
	"strings"
)

// ErrAgentStopping is returned by Start while a previous Stop is still
// waiting for the processing loop to exit.
var ErrAgentStopping = errors.New("agent is stopping")

// HandlerError wraps any failure raised while handling a message.
type HandlerError struct {
	AgentID     string
	MessageType string
	Err         error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("agent %s failed to handle %q: %v", e.AgentID, e.MessageType, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// CapabilityError reports a message type the agent does not handle. It is
// always delivered wrapped in a HandlerError.
type CapabilityError struct {
	AgentID     string
	MessageType string
	Supported   []string
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("unsupported message type %q (supported: %s)", e.MessageType, strings.Join(e.Supported, ", "))
}

// asHandlerError normalises err so callers always see a *HandlerError.
func asHandlerError(agentID, messageType string, err error) *HandlerError {
	var he *HandlerError
	if errors.As(err, &he) {
		return he
	}
	return &HandlerError{AgentID: agentID, MessageType: messageType, Err: err}
}
