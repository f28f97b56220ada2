// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/noldarim/edumesh/internal/agent"
	"github.com/noldarim/edumesh/internal/protocol"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Execute runs a workflow and waits for it to finish. Only usage errors
// (not initialized, unknown workflow) are returned as error; a failing or
// timed out stage yields a Result with status failed.
func (o *Orchestrator) Execute(ctx context.Context, req Request) (*Result, error) {
	o.mu.RLock()
	wf, registry, err := o.resolveLocked(req.Workflow)
	o.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return o.run(ctx, uuid.NewString(), wf, registry, req), nil
}

// Submit validates the request like Execute, then runs the workflow in the
// background and returns its correlation id at once. Progress and outcome
// are published as events. A Submit that loses the race against Shutdown
// fails with ErrNotInitialized; one that wins is waited for by Shutdown.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (string, error) {
	o.mu.RLock()
	wf, registry, err := o.resolveLocked(req.Workflow)
	if err != nil {
		o.mu.RUnlock()
		return "", err
	}
	// Registered under the read lock so Shutdown, which flips ready under
	// the write lock before waiting, always sees this run.
	o.background.Add(1)
	bgCtx := o.bgCtx
	o.mu.RUnlock()

	correlationID := uuid.NewString()
	// Keep the caller's trace but not its cancellation
	runCtx := trace.ContextWithSpanContext(bgCtx, trace.SpanContextFromContext(ctx))

	go func() {
		defer o.background.Done()
		o.run(runCtx, correlationID, wf, registry, req)
	}()
	return correlationID, nil
}

// resolveLocked looks up a workflow; o.mu must be held.
func (o *Orchestrator) resolveLocked(name string) (Workflow, map[string]*agent.Runtime, error) {
	if !o.ready {
		return Workflow{}, nil, ErrNotInitialized
	}
	if name == "" {
		name = o.cfg.DefaultWorkflow
	}
	for _, wf := range o.workflows {
		if wf.Name == name {
			return wf, o.agents, nil
		}
	}
	return Workflow{}, nil, fmt.Errorf("%w: %q", ErrUnknownWorkflow, name)
}

func (o *Orchestrator) run(ctx context.Context, correlationID string, wf Workflow, registry map[string]*agent.Runtime, req Request) *Result {
	ctx, span := o.tracer.Start(ctx, "workflow.execute", trace.WithAttributes(
		attribute.String("correlation_id", correlationID),
		attribute.String("workflow", wf.Name),
		attribute.Int("stages", len(wf.Stages)),
	))
	defer span.End()

	log := getLog().With().Str("correlation_id", correlationID).Str("workflow", wf.Name).Logger()
	result := &Result{
		CorrelationID: correlationID,
		Workflow:      wf.Name,
		Status:        protocol.WorkflowStatusRunning,
		Outputs:       make(map[string]map[string]any, len(wf.Stages)),
		StartedAt:     time.Now().UTC(),
	}

	log.Info().Strs("stages", wf.Stages).Msg("Workflow started")
	o.emit(protocol.WorkflowStartedEvent{
		Metadata: protocol.NewMetadata(correlationID),
		Workflow: wf.Name,
		Stages:   append([]string(nil), wf.Stages...),
	})

	var prior []stageOutput
	for i, agentID := range wf.Stages {
		spec := stageSpecs[agentID]
		data, err := o.runStage(ctx, log, correlationID, wf.Name, i, registry[agentID], spec, req, prior)
		if err != nil {
			result.Status = protocol.WorkflowStatusFailed
			result.Error = err.Error()
			result.FailedStage = agentID
			result.FinishedAt = time.Now().UTC()

			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			log.Error().Err(err).Str("failed_stage", agentID).Msg("Workflow failed")
			o.emit(protocol.WorkflowFailedEvent{
				Metadata:    protocol.NewMetadata(correlationID),
				Workflow:    wf.Name,
				FailedStage: agentID,
				Error:       result.Error,
				DurationMS:  result.FinishedAt.Sub(result.StartedAt).Milliseconds(),
			})
			return result
		}
		result.Outputs[spec.resultKey] = data
		prior = append(prior, stageOutput{key: spec.resultKey, data: data})
	}

	result.Status = protocol.WorkflowStatusCompleted
	result.FinishedAt = time.Now().UTC()
	keys := make([]string, 0, len(prior))
	for _, p := range prior {
		keys = append(keys, p.key)
	}

	log.Info().Dur("duration", result.FinishedAt.Sub(result.StartedAt)).Msg("Workflow completed")
	o.emit(protocol.WorkflowCompletedEvent{
		Metadata:   protocol.NewMetadata(correlationID),
		Workflow:   wf.Name,
		ResultKeys: keys,
		DurationMS: result.FinishedAt.Sub(result.StartedAt).Milliseconds(),
	})
	return result
}

// runStage delivers one stage message and waits for its response. The
// completion is registered before the message is sent so a fast agent
// cannot respond first. A timeout abandons the wait but leaves the agent
// to finish the message on its own.
func (o *Orchestrator) runStage(ctx context.Context, log zerolog.Logger, correlationID, workflow string, index int, rt *agent.Runtime, spec stageSpec, req Request, prior []stageOutput) (map[string]any, error) {
	agentID := rt.ID()
	ctx, span := o.tracer.Start(ctx, "stage."+agentID, trace.WithAttributes(
		attribute.String("correlation_id", correlationID),
		attribute.String("agent_id", agentID),
		attribute.Int("stage_index", index),
	))
	defer span.End()

	msgType, content := spec.build(req, prior)
	msg := agent.NewMessage(agentID, msgType, content, correlationID)
	span.SetAttributes(attribute.String("message_type", msgType))

	failed := func(err error, timedOut bool) (map[string]any, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn().Err(err).Str("agent_id", agentID).Int("stage_index", index).Bool("timed_out", timedOut).Msg("Stage failed")
		o.emit(protocol.StageFailedEvent{
			Metadata:   protocol.NewMetadata(correlationID),
			Workflow:   workflow,
			AgentID:    agentID,
			StageIndex: index,
			Error:      err.Error(),
			TimedOut:   timedOut,
		})
		return nil, err
	}

	done := rt.Expect(msg.ID)
	if !o.deliver(rt, msg) {
		rt.Forget(msg.ID)
		return failed(fmt.Errorf("agent %s rejected %s: inbox full", agentID, msgType), false)
	}

	log.Debug().Str("agent_id", agentID).Str("message_type", msgType).Int("stage_index", index).Msg("Stage started")
	o.emit(protocol.StageStartedEvent{
		Metadata:    protocol.NewMetadata(correlationID),
		Workflow:    workflow,
		AgentID:     agentID,
		StageIndex:  index,
		MessageID:   msg.ID,
		MessageType: msgType,
	})

	waitCtx, cancel := context.WithTimeout(ctx, o.cfg.StageTimeout)
	defer cancel()

	resp, err := done.Wait(waitCtx)
	if err != nil {
		rt.Forget(msg.ID)
		if ctx.Err() != nil {
			return failed(fmt.Errorf("stage %s cancelled: %w", agentID, ctx.Err()), false)
		}
		return failed(fmt.Errorf("%w: %s did not respond within %s", ErrStageTimeout, agentID, o.cfg.StageTimeout), true)
	}
	if !resp.Success {
		return failed(fmt.Errorf("stage %s failed: %s", agentID, resp.Error), false)
	}

	o.emit(protocol.StageCompletedEvent{
		Metadata:      protocol.NewMetadata(correlationID),
		Workflow:      workflow,
		AgentID:       agentID,
		StageIndex:    index,
		ResultKey:     spec.resultKey,
		ExecutionTime: resp.ExecutionTime,
	})
	return resp.Data, nil
}
