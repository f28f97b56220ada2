// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package common provides shared types used across multiple packages.
package common

// Metadata contains common fields for every event the orchestrator emits.
type Metadata struct {
	// CorrelationID ties every event of one workflow execution together.
	CorrelationID string `json:"correlation_id,omitempty"`

	// Version indicates the protocol version for backward compatibility.
	// Format: "v{major}.{minor}.{patch}" (e.g., "v1.0.0")
	Version string `json:"version"`
}

// CurrentProtocolVersion defines the current version of the protocol.
// This should be updated when making breaking changes to the protocol.
const CurrentProtocolVersion = "v1.0.0"

// NewMetadata returns metadata for correlationID at the current protocol version.
func NewMetadata(correlationID string) Metadata {
	return Metadata{CorrelationID: correlationID, Version: CurrentProtocolVersion}
}

// Event represents events the orchestrator publishes to observers.
// Any type implementing this interface can be sent through the event channel.
type Event interface {
	GetMetadata() Metadata
}
