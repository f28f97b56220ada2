// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

// Here lies the definition of the data the orchestrator publishes while it
// runs workflows. Everything an observer (API WebSocket clients, the CLI) can
// receive is an Event. Workflow and stage events share the correlation id of
// the execution that produced them, carried in Metadata.
package protocol

// WorkflowStatus represents the status of a workflow execution
type WorkflowStatus string

// Workflow status constants
const (
	WorkflowStatusRunning   WorkflowStatus = "running"
	WorkflowStatusCompleted WorkflowStatus = "completed"
	WorkflowStatusFailed    WorkflowStatus = "failed"
)

// GetCorrelationID extracts the correlation id from any event
func GetCorrelationID(event Event) string {
	return event.GetMetadata().CorrelationID
}

// WorkflowStartedEvent is sent once a workflow has been resolved and is about
// to run its first stage.
type WorkflowStartedEvent struct {
	Metadata
	Workflow string   `json:"workflow"`
	Stages   []string `json:"stages"`
}

func (e WorkflowStartedEvent) GetMetadata() Metadata {
	return e.Metadata
}

// StageStartedEvent is sent when a stage's message has been delivered.
type StageStartedEvent struct {
	Metadata
	Workflow    string `json:"workflow"`
	AgentID     string `json:"agent_id"`
	StageIndex  int    `json:"stage_index"`
	MessageID   string `json:"message_id"`
	MessageType string `json:"message_type"`
}

func (e StageStartedEvent) GetMetadata() Metadata {
	return e.Metadata
}

// StageCompletedEvent is sent when a stage's agent responded successfully.
type StageCompletedEvent struct {
	Metadata
	Workflow      string  `json:"workflow"`
	AgentID       string  `json:"agent_id"`
	StageIndex    int     `json:"stage_index"`
	ResultKey     string  `json:"result_key"`
	ExecutionTime float64 `json:"execution_time"` // seconds, as measured by the agent
}

func (e StageCompletedEvent) GetMetadata() Metadata {
	return e.Metadata
}

// StageFailedEvent is sent when a stage could not be delivered, its agent
// reported failure, or no response arrived in time.
type StageFailedEvent struct {
	Metadata
	Workflow   string `json:"workflow"`
	AgentID    string `json:"agent_id"`
	StageIndex int    `json:"stage_index"`
	Error      string `json:"error"`
	TimedOut   bool   `json:"timed_out"`
}

func (e StageFailedEvent) GetMetadata() Metadata {
	return e.Metadata
}

// WorkflowCompletedEvent is sent when every stage succeeded.
type WorkflowCompletedEvent struct {
	Metadata
	Workflow   string   `json:"workflow"`
	ResultKeys []string `json:"result_keys"`
	DurationMS int64    `json:"duration_ms"`
}

func (e WorkflowCompletedEvent) GetMetadata() Metadata {
	return e.Metadata
}

// WorkflowFailedEvent is sent when a stage failed and the workflow stopped.
type WorkflowFailedEvent struct {
	Metadata
	Workflow    string `json:"workflow"`
	FailedStage string `json:"failed_stage"`
	Error       string `json:"error"`
	DurationMS  int64  `json:"duration_ms"`
}

func (e WorkflowFailedEvent) GetMetadata() Metadata {
	return e.Metadata
}

// AgentResponseEvent mirrors every response an agent produces, including
// those for messages sent directly rather than by a workflow.
type AgentResponseEvent struct {
	Metadata
	AgentID       string  `json:"agent_id"`
	MessageID     string  `json:"message_id"`
	MessageType   string  `json:"message_type"`
	Success       bool    `json:"success"`
	Error         string  `json:"error,omitempty"`
	ExecutionTime float64 `json:"execution_time"`
}

func (e AgentResponseEvent) GetMetadata() Metadata {
	return e.Metadata
}

// ErrorEvent reports a failure that is not tied to a single stage, such as
// a background workflow that could not start.
type ErrorEvent struct {
	Metadata
	Message string `json:"message"`
	Context string `json:"context,omitempty"`
}

func (e ErrorEvent) GetMetadata() Metadata {
	return e.Metadata
}
