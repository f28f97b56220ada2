// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package agent

import "time"

// Response is produced once per processed message and never modified after.
type Response struct {
	Success       bool           `json:"success"`
	Data          map[string]any `json:"data,omitempty"`
	Error         string         `json:"error,omitempty"`
	ExecutionTime float64        `json:"execution_time"` // seconds
	AgentID       string         `json:"agent_id"`
	MessageID     string         `json:"message_id"`
	MessageType   string         `json:"message_type"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// Metrics are the per-agent request counters.
type Metrics struct {
	TotalRequests       int64   `json:"total_requests"`
	SuccessfulRequests  int64   `json:"successful_requests"`
	FailedRequests      int64   `json:"failed_requests"`
	AverageResponseTime float64 `json:"average_response_time"`
}

// Record accounts one processed message taking seconds to handle.
func (m *Metrics) Record(success bool, seconds float64) {
	m.TotalRequests++
	if success {
		m.SuccessfulRequests++
	} else {
		m.FailedRequests++
	}

	n := float64(m.TotalRequests)
	if m.TotalRequests == 1 {
		m.AverageResponseTime = seconds
	} else {
		m.AverageResponseTime = (m.AverageResponseTime*(n-1) + seconds) / n
	}
}

// SuccessRate is 0 until the first request completes.
func (m Metrics) SuccessRate() float64 {
	if m.TotalRequests == 0 {
		return 0
	}
	return float64(m.SuccessfulRequests) / float64(m.TotalRequests)
}
