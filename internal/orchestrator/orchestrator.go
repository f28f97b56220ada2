// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/noldarim/edumesh/internal/agent"
	"github.com/noldarim/edumesh/internal/config"
	"github.com/noldarim/edumesh/internal/logger"
	"github.com/noldarim/edumesh/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetOrchestratorLogger()
		log = &l
	})
	return log
}

const tracerName = "github.com/noldarim/edumesh/internal/orchestrator"

// AgentBuilder constructs the agent runtimes, in registration order.
type AgentBuilder func() ([]*agent.Runtime, error)

// SystemMetrics aggregates the counters of every registered agent.
type SystemMetrics struct {
	TotalAgents        int     `json:"total_agents"`
	ActiveAgents       int     `json:"active_agents"`
	TotalRequests      int64   `json:"total_requests"`
	SuccessfulRequests int64   `json:"successful_requests"`
	FailedRequests     int64   `json:"failed_requests"`
	SuccessRate        float64 `json:"success_rate"`
	// AverageResponseTime is the unweighted mean of the per-agent averages.
	AverageResponseTime float64   `json:"average_response_time"`
	MessageHistoryCount int       `json:"message_history_count"`
	WorkflowsAvailable  []string  `json:"workflows_available"`
	ReportedAt          time.Time `json:"reported_at"`
}

// Orchestrator owns the agent registry and drives workflows through it.
type Orchestrator struct {
	cfg       config.OrchestratorConfig
	build     AgentBuilder
	eventChan chan<- protocol.Event
	tracer    trace.Tracer
	history   *history

	// lifecycleMu serialises Initialize and Shutdown.
	lifecycleMu sync.Mutex

	// mu guards the fields below. The registry and workflow table are
	// replaced wholesale on Initialize and never mutated in place.
	mu        sync.RWMutex
	ready     bool
	order     []string
	agents    map[string]*agent.Runtime
	workflows []Workflow
	bgCtx     context.Context
	bgCancel  context.CancelFunc

	background sync.WaitGroup
}

// New creates an orchestrator. eventChan may be nil.
func New(cfg config.OrchestratorConfig, build AgentBuilder, eventChan chan<- protocol.Event) *Orchestrator {
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = 5 * time.Minute
	}
	if cfg.DefaultWorkflow == "" {
		cfg.DefaultWorkflow = WorkflowCompleteAnalysis
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 1000
	}
	return &Orchestrator{
		cfg:       cfg,
		build:     build,
		eventChan: eventChan,
		tracer:    otel.Tracer(tracerName),
		history:   newHistory(cfg.HistorySize),
	}
}

// Initialize builds and starts every agent and registers the workflows. On
// any failure the agents already started are stopped again and the
// orchestrator stays uninitialized.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()

	if o.IsReady() {
		getLog().Warn().Msg("Orchestrator already initialized")
		return nil
	}

	runtimes, err := o.build()
	if err != nil {
		return fmt.Errorf("failed to build agents: %w", err)
	}

	registry := make(map[string]*agent.Runtime, len(runtimes))
	order := make([]string, 0, len(runtimes))
	var started []*agent.Runtime
	fail := func(err error) error {
		stopAll(ctx, started)
		getLog().Error().Err(err).Msg("Orchestrator initialization failed")
		return err
	}

	for _, rt := range runtimes {
		id := rt.ID()
		if _, dup := registry[id]; dup {
			return fail(fmt.Errorf("duplicate agent id %q", id))
		}
		if err := rt.Start(ctx); err != nil {
			return fail(fmt.Errorf("failed to start agent %s: %w", id, err))
		}
		started = append(started, rt)
		registry[id] = rt
		order = append(order, id)
	}

	workflows := DefaultWorkflows()
	for _, wf := range workflows {
		for _, stage := range wf.Stages {
			if _, ok := registry[stage]; !ok {
				return fail(fmt.Errorf("workflow %s: stage %s: %w", wf.Name, stage, ErrUnknownAgent))
			}
			if _, ok := stageSpecs[stage]; !ok {
				return fail(fmt.Errorf("workflow %s: no stage definition for agent %s", wf.Name, stage))
			}
		}
	}

	bgCtx, bgCancel := context.WithCancel(context.WithoutCancel(ctx))

	o.mu.Lock()
	o.agents = registry
	o.order = order
	o.workflows = workflows
	o.bgCtx, o.bgCancel = bgCtx, bgCancel
	o.ready = true
	o.mu.Unlock()

	getLog().Info().
		Strs("agents", order).
		Strs("workflows", workflowNames(workflows)).
		Msg("Orchestrator initialized")
	return nil
}

// Shutdown cancels background workflows and stops every agent in
// registration order. Calling it on an uninitialized orchestrator is a no-op.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.lifecycleMu.Lock()
	defer o.lifecycleMu.Unlock()

	o.mu.Lock()
	if !o.ready {
		o.mu.Unlock()
		return nil
	}
	o.ready = false
	cancel := o.bgCancel
	runtimes := lo.Map(o.order, func(id string, _ int) *agent.Runtime { return o.agents[id] })
	o.mu.Unlock()

	getLog().Info().Msg("Shutting down orchestrator...")
	cancel()
	o.background.Wait()

	err := stopAll(ctx, runtimes)
	getLog().Info().Msg("Orchestrator shutdown complete")
	return err
}

func stopAll(ctx context.Context, runtimes []*agent.Runtime) error {
	var errs []error
	for _, rt := range runtimes {
		if err := rt.Stop(ctx); err != nil {
			getLog().Error().Err(err).Str("agent_id", rt.ID()).Msg("Error stopping agent")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// IsReady reports whether Initialize has completed and Shutdown has not run.
func (o *Orchestrator) IsReady() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.ready
}

// SendTo delivers msg to one agent outside of any workflow. The returned
// bool is false when the agent's inbox is full.
func (o *Orchestrator) SendTo(agentID string, msg agent.Message) (bool, error) {
	rt, err := o.agent(agentID)
	if err != nil {
		return false, err
	}
	msg.AgentID = agentID
	return o.deliver(rt, msg), nil
}

// deliver enqueues msg and records the attempt in the history.
func (o *Orchestrator) deliver(rt *agent.Runtime, msg agent.Message) bool {
	ok := rt.Send(msg)
	o.history.add(HistoryEntry{
		Timestamp:     time.Now().UTC(),
		AgentID:       rt.ID(),
		MessageType:   msg.MessageType,
		CorrelationID: msg.CorrelationID,
		Success:       ok,
	})
	return ok
}

func (o *Orchestrator) agent(agentID string) (*agent.Runtime, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.agents == nil {
		return nil, ErrNotInitialized
	}
	rt, ok := o.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAgent, agentID)
	}
	return rt, nil
}

// Status returns one agent's status. Statuses remain readable after
// Shutdown so callers can observe stopped agents.
func (o *Orchestrator) Status(agentID string) (agent.Status, error) {
	rt, err := o.agent(agentID)
	if err != nil {
		return agent.Status{}, err
	}
	return rt.Status(), nil
}

// Statuses returns every agent's status keyed by agent id.
func (o *Orchestrator) Statuses() map[string]agent.Status {
	runtimes := o.runtimes()
	return lo.SliceToMap(runtimes, func(rt *agent.Runtime) (string, agent.Status) {
		return rt.ID(), rt.Status()
	})
}

// StatusList returns every agent's status in registration order.
func (o *Orchestrator) StatusList() []agent.Status {
	return lo.Map(o.runtimes(), func(rt *agent.Runtime, _ int) agent.Status { return rt.Status() })
}

// AgentIDs returns the registered agent ids in registration order.
func (o *Orchestrator) AgentIDs() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]string(nil), o.order...)
}

func (o *Orchestrator) runtimes() []*agent.Runtime {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return lo.Map(o.order, func(id string, _ int) *agent.Runtime { return o.agents[id] })
}

// Workflows returns the registered workflows.
func (o *Orchestrator) Workflows() []Workflow {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return lo.Map(o.workflows, func(wf Workflow, _ int) Workflow {
		return Workflow{Name: wf.Name, Stages: append([]string(nil), wf.Stages...)}
	})
}

// History returns the retained delivery history, oldest first. It covers
// every delivery: direct SendTo messages as well as the stage messages of
// workflow runs, so MessageHistoryCount in Metrics includes both.
func (o *Orchestrator) History() []HistoryEntry {
	return o.history.snapshot()
}

// Metrics aggregates the per-agent counters.
func (o *Orchestrator) Metrics() SystemMetrics {
	runtimes := o.runtimes()
	metrics := lo.Map(runtimes, func(rt *agent.Runtime, _ int) agent.Metrics { return rt.Metrics() })

	m := SystemMetrics{
		TotalAgents:         len(runtimes),
		ActiveAgents:        lo.CountBy(runtimes, func(rt *agent.Runtime) bool { return rt.IsActive() }),
		TotalRequests:       lo.SumBy(metrics, func(am agent.Metrics) int64 { return am.TotalRequests }),
		SuccessfulRequests:  lo.SumBy(metrics, func(am agent.Metrics) int64 { return am.SuccessfulRequests }),
		FailedRequests:      lo.SumBy(metrics, func(am agent.Metrics) int64 { return am.FailedRequests }),
		MessageHistoryCount: o.history.len(),
		WorkflowsAvailable:  workflowNames(o.Workflows()),
		ReportedAt:          time.Now().UTC(),
	}
	if m.TotalRequests > 0 {
		m.SuccessRate = float64(m.SuccessfulRequests) / float64(m.TotalRequests)
	}
	if len(metrics) > 0 {
		m.AverageResponseTime = lo.SumBy(metrics, func(am agent.Metrics) float64 { return am.AverageResponseTime }) / float64(len(metrics))
	}
	return m
}

func workflowNames(workflows []Workflow) []string {
	return lo.Map(workflows, func(wf Workflow, _ int) string { return wf.Name })
}

// emit forwards an event without blocking; events are dropped when the
// channel is full.
func (o *Orchestrator) emit(event protocol.Event) {
	if o.eventChan == nil {
		return
	}
	select {
	case o.eventChan <- event:
	default:
		getLog().Warn().
			Str("event_type", fmt.Sprintf("%T", event)).
			Str("correlation_id", protocol.GetCorrelationID(event)).
			Msg("Event channel full, dropping event")
	}
}

// ResponseObserver returns an agent response hook that publishes every
// response as an AgentResponseEvent on eventChan without blocking.
func ResponseObserver(eventChan chan<- protocol.Event) func(agent.Response) {
	return func(resp agent.Response) {
		event := protocol.AgentResponseEvent{
			Metadata:      protocol.NewMetadata(resp.CorrelationID),
			AgentID:       resp.AgentID,
			MessageID:     resp.MessageID,
			MessageType:   resp.MessageType,
			Success:       resp.Success,
			Error:         resp.Error,
			ExecutionTime: resp.ExecutionTime,
		}
		select {
		case eventChan <- event:
		default:
		}
	}
}
