// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/noldarim/edumesh/internal/logger"
	"github.com/rs/zerolog"
)

const (
	// DefaultInboxCapacity bounds the inbox when Config leaves it unset.
	DefaultInboxCapacity = 1024
	// DefaultPollInterval is how long the loop waits for a message before
	// re-checking whether it should stop.
	DefaultPollInterval = time.Second
)

// State is the lifecycle state of a Runtime.
type State int

const (
	StateStopped State = iota
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// Identity names an agent.
type Identity struct {
	ID          string
	Name        string
	Description string
}

// Config tunes a Runtime.
type Config struct {
	InboxCapacity int
	PollInterval  time.Duration
	// OnResponse, when set, observes every response after it is recorded.
	// It runs on the processing goroutine and must not block.
	OnResponse func(Response)
}

// Status is a point-in-time view of an agent.
type Status struct {
	AgentID      string   `json:"agent_id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	IsActive     bool     `json:"is_active"`
	State        string   `json:"state"`
	Capabilities []string `json:"capabilities"`
	Metrics      Metrics  `json:"performance_metrics"`
	SuccessRate  float64  `json:"success_rate"`
	InboxDepth   int      `json:"inbox_depth"`
}

// Runtime hosts one Behavior: it owns the inbox, the processing goroutine
// and the agent's metrics.
type Runtime struct {
	identity Identity
	behavior Behavior
	cfg      Config
	log      zerolog.Logger

	inbox chan Message

	mu       sync.Mutex
	state    State
	stopCh   chan struct{}
	loopDone chan struct{}
	baseCtx  context.Context

	metricsMu sync.RWMutex
	metrics   Metrics

	waitersMu sync.Mutex
	waiters   map[string]*Completion
}

// New creates a stopped Runtime.
func New(id Identity, behavior Behavior, cfg Config) *Runtime {
	if cfg.InboxCapacity <= 0 {
		cfg.InboxCapacity = DefaultInboxCapacity
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if id.Name == "" {
		id.Name = id.ID
	}

	return &Runtime{
		identity: id,
		behavior: behavior,
		cfg:      cfg,
		log:      logger.ForAgent(id.ID),
		inbox:    make(chan Message, cfg.InboxCapacity),
		state:    StateStopped,
		waiters:  make(map[string]*Completion),
	}
}

// ID returns the agent id.
func (r *Runtime) ID() string { return r.identity.ID }

// Identity returns the agent's identity.
func (r *Runtime) Identity() Identity { return r.identity }

// Start runs the behaviour's initializer, if any, and launches the processing
// loop. Starting a running agent is a no-op.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case StateRunning:
		r.log.Warn().Msg("Agent already running")
		return nil
	case StateStopping:
		return ErrAgentStopping
	}

	if init, ok := r.behavior.(Initializer); ok {
		if err := init.Init(ctx); err != nil {
			return fmt.Errorf("failed to initialize agent %s: %w", r.identity.ID, err)
		}
	}

	r.baseCtx = context.WithoutCancel(ctx)
	r.stopCh = make(chan struct{})
	r.loopDone = make(chan struct{})
	r.state = StateRunning

	go r.run(r.stopCh, r.loopDone)

	r.log.Info().
		Str("name", r.identity.Name).
		Strs("capabilities", r.behavior.Capabilities()).
		Msg("Agent started")
	return nil
}

// Stop signals the loop and waits for it to exit. A message already being
// handled is allowed to finish; nothing else is taken from the inbox.
func (r *Runtime) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.state != StateRunning {
		r.mu.Unlock()
		return nil
	}
	r.state = StateStopping
	close(r.stopCh)
	done := r.loopDone
	r.mu.Unlock()

	select {
	case <-done:
		r.log.Info().Msg("Agent stopped")
		return nil
	case <-ctx.Done():
		r.log.Warn().Err(ctx.Err()).Msg("Timed out waiting for agent loop to exit")
		return fmt.Errorf("stopping agent %s: %w", r.identity.ID, ctx.Err())
	}
}

// Send enqueues msg without blocking. It returns false when the inbox is full.
// Messages sent to a stopped agent are queued but not processed until the
// agent is started again.
func (r *Runtime) Send(msg Message) bool {
	select {
	case r.inbox <- msg:
		return true
	default:
		r.log.Warn().
			Str("message_type", msg.MessageType).
			Str("correlation_id", msg.CorrelationID).
			Int("capacity", r.cfg.InboxCapacity).
			Msg("Inbox full, message rejected")
		return false
	}
}

// Expect registers a completion for the message with the given id. Register
// before Send so a fast handler cannot finish first.
func (r *Runtime) Expect(messageID string) *Completion {
	c := newCompletion()
	r.waitersMu.Lock()
	r.waiters[messageID] = c
	r.waitersMu.Unlock()
	return c
}

// Forget drops a completion the caller no longer waits for.
func (r *Runtime) Forget(messageID string) {
	r.waitersMu.Lock()
	delete(r.waiters, messageID)
	r.waitersMu.Unlock()
}

// State returns the current lifecycle state.
func (r *Runtime) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// IsActive reports whether the processing loop is running.
func (r *Runtime) IsActive() bool {
	return r.State() == StateRunning
}

// InboxDepth returns the number of queued messages.
func (r *Runtime) InboxDepth() int {
	return len(r.inbox)
}

// Metrics returns a snapshot of the agent's counters.
func (r *Runtime) Metrics() Metrics {
	r.metricsMu.RLock()
	defer r.metricsMu.RUnlock()
	return r.metrics
}

// Capabilities returns the message types the behaviour handles.
func (r *Runtime) Capabilities() []string {
	return r.behavior.Capabilities()
}

// Status returns a snapshot safe to hand to other goroutines.
func (r *Runtime) Status() Status {
	state := r.State()
	m := r.Metrics()
	return Status{
		AgentID:      r.identity.ID,
		Name:         r.identity.Name,
		Description:  r.identity.Description,
		IsActive:     state == StateRunning,
		State:        state.String(),
		Capabilities: r.behavior.Capabilities(),
		Metrics:      m,
		SuccessRate:  m.SuccessRate(),
		InboxDepth:   r.InboxDepth(),
	}
}

func (r *Runtime) run(stop <-chan struct{}, done chan<- struct{}) {
	defer func() {
		r.mu.Lock()
		r.state = StateStopped
		r.mu.Unlock()
		close(done)
	}()

	timer := time.NewTimer(r.cfg.PollInterval)
	defer timer.Stop()

	for {
		// Stop wins over a ready inbox
		select {
		case <-stop:
			return
		default:
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(r.cfg.PollInterval)

		select {
		case <-stop:
			return
		case msg := <-r.inbox:
			r.process(msg)
		case <-timer.C:
		}
	}
}

func (r *Runtime) process(msg Message) {
	log := r.log.With().
		Str("message_id", msg.ID).
		Str("message_type", msg.MessageType).
		Str("correlation_id", msg.CorrelationID).
		Logger()

	start := time.Now()
	data, err := r.invoke(msg)
	elapsed := time.Since(start).Seconds()

	resp := Response{
		Success:       err == nil,
		ExecutionTime: elapsed,
		AgentID:       r.identity.ID,
		MessageID:     msg.ID,
		MessageType:   msg.MessageType,
		CorrelationID: msg.CorrelationID,
		Timestamp:     time.Now(),
	}
	if err != nil {
		resp.Error = err.Error()
	} else {
		resp.Data = data
	}

	r.metricsMu.Lock()
	r.metrics.Record(resp.Success, elapsed)
	r.metricsMu.Unlock()

	if err != nil {
		log.Error().Err(err).Float64("execution_time", elapsed).Msg("Message handling failed")
	} else {
		log.Debug().Float64("execution_time", elapsed).Msg("Message handled")
	}

	r.waitersMu.Lock()
	c, waiting := r.waiters[msg.ID]
	delete(r.waiters, msg.ID)
	r.waitersMu.Unlock()

	if waiting {
		c.resolve(resp)
	} else if msg.CorrelationID != "" {
		log.Debug().Msg("No waiter for response, caller gave up or sent fire-and-forget")
	}

	if r.cfg.OnResponse != nil {
		r.cfg.OnResponse(resp)
	}
}

// invoke calls the behaviour, converting panics and errors to *HandlerError.
func (r *Runtime) invoke(msg Message) (data map[string]any, err error) {
	defer func() {
		if p := recover(); p != nil {
			data = nil
			err = &HandlerError{
				AgentID:     r.identity.ID,
				MessageType: msg.MessageType,
				Err:         fmt.Errorf("panic: %v", p),
			}
		}
	}()

	data, err = r.behavior.Handle(r.baseCtx, msg)
	if err != nil {
		return nil, asHandlerError(r.identity.ID, msg.MessageType, err)
	}
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}
