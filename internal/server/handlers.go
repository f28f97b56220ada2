// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/noldarim/edumesh/internal/agent"
	"github.com/noldarim/edumesh/internal/orchestrator"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"
)

// Manager is the orchestrator surface the API needs.
type Manager interface {
	IsReady() bool
	Execute(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
	Submit(ctx context.Context, req orchestrator.Request) (string, error)
	AgentIDs() []string
	Status(agentID string) (agent.Status, error)
	SendTo(agentID string, msg agent.Message) (bool, error)
	Metrics() orchestrator.SystemMetrics
	Workflows() []orchestrator.Workflow
	History() []orchestrator.HistoryEntry
}

// Handlers holds dependencies for HTTP handlers. students may be nil, in
// which case the roster routes are not mounted.
type Handlers struct {
	manager  Manager
	students StudentStore
}

// NewHandlers creates the handler set.
func NewHandlers(manager Manager, students StudentStore) *Handlers {
	return &Handlers{manager: manager, students: students}
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		getLog().Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// statusFor maps orchestrator errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrNotInitialized):
		return http.StatusServiceUnavailable
	case errors.Is(err, orchestrator.ErrUnknownAgent):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrUnknownWorkflow):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

func decodeRequest(w http.ResponseWriter, r *http.Request) (orchestrator.Request, bool) {
	req := orchestrator.NewRequest("", nil)
	if r.ContentLength == 0 {
		return req, true
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON body", "context": err.Error()})
		return req, false
	}
	return req, true
}

// --- GET handlers ---

// GetHealth handles GET /api/v1/health
func (h *Handlers) GetHealth(w http.ResponseWriter, r *http.Request) {
	if !h.manager.IsReady() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "ready": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "ready": true})
}

// GetAgents handles GET /api/v1/agents
func (h *Handlers) GetAgents(w http.ResponseWriter, r *http.Request) {
	ids := h.manager.AgentIDs()
	if len(ids) == 0 && !h.manager.IsReady() {
		writeError(w, orchestrator.ErrNotInitialized)
		return
	}

	statuses := make([]agent.Status, 0, len(ids))
	for _, id := range ids {
		st, err := h.manager.Status(id)
		if err != nil {
			writeError(w, err)
			return
		}
		statuses = append(statuses, st)
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": statuses})
}

// GetAgent handles GET /api/v1/agents/{id}
func (h *Handlers) GetAgent(w http.ResponseWriter, r *http.Request) {
	st, err := h.manager.Status(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GetMetrics handles GET /api/v1/metrics
func (h *Handlers) GetMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.manager.Metrics())
}

// GetWorkflows handles GET /api/v1/workflows
func (h *Handlers) GetWorkflows(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"workflows": h.manager.Workflows()})
}

// GetHistory handles GET /api/v1/history. ?limit=N returns the N most
// recent entries.
func (h *Handlers) GetHistory(w http.ResponseWriter, r *http.Request) {
	entries := h.manager.History()
	if l := r.URL.Query().Get("limit"); l != "" {
		limit, err := strconv.Atoi(l)
		if err != nil || limit < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a non-negative integer"})
			return
		}
		if limit < len(entries) {
			entries = entries[len(entries)-limit:]
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": entries, "count": len(entries)})
}

// --- POST handlers ---

// RunAnalysis handles POST /api/v1/analysis. The workflow runs to
// completion before the response is written; a failed stage still yields
// 200 with status "failed" in the body.
func (h *Handlers) RunAnalysis(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}
	result, err := h.manager.Execute(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// SubmitAnalysis handles POST /api/v1/analysis/async
func (h *Handlers) SubmitAnalysis(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}
	correlationID, err := h.manager.Submit(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"correlation_id": correlationID,
		"status":         "accepted",
	})
}

// sendMessageRequest is the JSON body for a direct agent message.
type sendMessageRequest struct {
	MessageType   string         `json:"message_type"`
	Content       *agent.Content `json:"content"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

// SendMessage handles POST /api/v1/agents/{id}/messages
func (h *Handlers) SendMessage(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")
	var body sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON body"})
		return
	}
	body.MessageType = strings.TrimSpace(body.MessageType)
	if body.MessageType == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "message_type is required"})
		return
	}

	msg := agent.NewMessage(agentID, body.MessageType, body.Content, lo.Ternary(body.CorrelationID != "", body.CorrelationID, GetRequestID(r.Context())))
	accepted, err := h.manager.SendTo(agentID, msg)
	if err != nil {
		writeError(w, err)
		return
	}
	if !accepted {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "agent inbox full", "agent_id": agentID})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"message_id":     msg.ID,
		"agent_id":       agentID,
		"correlation_id": msg.CorrelationID,
	})
}
