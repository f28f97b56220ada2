// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/noldarim/edumesh/internal/agent"
	"github.com/noldarim/edumesh/internal/orchestrator/agents"
	"github.com/noldarim/edumesh/internal/protocol"
	"github.com/noldarim/edumesh/test/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestExecute_CompleteAnalysis(t *testing.T) {
	o := WithOrchestrator(t, TestConfig(), StubBuilder(StubAgents()), nil)
	ctx := context.Background()

	req := NewRequest(WorkflowCompleteAnalysis, map[string]any{"student_ids": []int{1, 2, 3}})
	first, err := o.Execute(ctx, req)
	require.NoError(t, err)
	second, err := o.Execute(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, protocol.WorkflowStatusCompleted, first.Status)
	assert.NotEmpty(t, first.CorrelationID)
	assert.NotEqual(t, first.CorrelationID, second.CorrelationID)
	assert.Empty(t, first.Error)

	for _, key := range []string{KeyAnalysisResult, KeyReportResult, KeyExportResult} {
		assert.Contains(t, first.Outputs, key)
	}

	analysis, _ := first.Output(KeyAnalysisResult)
	received := analysis["received"].(map[string]any)
	assert.Equal(t, []int{1, 2, 3}, received["student_ids"])

	report, _ := first.Output(KeyReportResult)
	assert.Equal(t, agents.MsgGenerateOverallReport, report["message_type"])
	assert.Equal(t, analysis, report["received"].(map[string]any)["analysis_data"])

	export, _ := first.Output(KeyExportResult)
	data := export["received"].(map[string]any)["data"].([]any)
	require.Len(t, data, 2)
	assert.Equal(t, analysis, data[0])
	assert.Equal(t, report, data[1])
}

func TestExecute_WorkflowShapes(t *testing.T) {
	o := WithOrchestrator(t, TestConfig(), StubBuilder(StubAgents()), nil)

	tests := []struct {
		workflow string
		present  []string
		absent   string
	}{
		{WorkflowReportOnly, []string{KeyAnalysisResult, KeyReportResult}, KeyExportResult},
		{WorkflowDataExport, []string{KeyAnalysisResult, KeyExportResult}, KeyReportResult},
	}

	for _, tt := range tests {
		t.Run(tt.workflow, func(t *testing.T) {
			res, err := o.Execute(context.Background(), NewRequest(tt.workflow, nil))
			require.NoError(t, err)
			assert.Equal(t, protocol.WorkflowStatusCompleted, res.Status)
			assert.Equal(t, tt.workflow, res.Workflow)
			for _, key := range tt.present {
				assert.Contains(t, res.Outputs, key)
			}
			assert.NotContains(t, res.Outputs, tt.absent)
		})
	}
}

func TestExecute_DefaultWorkflow(t *testing.T) {
	cfg := TestConfig()
	cfg.DefaultWorkflow = WorkflowReportOnly
	o := WithOrchestrator(t, cfg, StubBuilder(StubAgents()), nil)

	res, err := o.Execute(context.Background(), NewRequest("", nil))
	require.NoError(t, err)
	assert.Equal(t, WorkflowReportOnly, res.Workflow)
}

func TestExecute_StageFailureKeepsPriorOutputs(t *testing.T) {
	stubs := StubAgents()
	stubs[agents.ReportGenerationID].On(agents.MsgGenerateOverallReport, func(context.Context, agent.Message) (map[string]any, error) {
		return nil, errors.New("renderer exploded")
	})
	o := WithOrchestrator(t, TestConfig(), StubBuilder(stubs), nil)

	res, err := o.Execute(context.Background(), NewRequest(WorkflowCompleteAnalysis, nil))
	require.NoError(t, err, "stage failures are reported in the result")

	assert.Equal(t, protocol.WorkflowStatusFailed, res.Status)
	assert.Equal(t, agents.ReportGenerationID, res.FailedStage)
	assert.Contains(t, res.Error, "renderer exploded")
	assert.NotEmpty(t, res.CorrelationID)
	assert.Contains(t, res.Outputs, KeyAnalysisResult)
	assert.NotContains(t, res.Outputs, KeyReportResult)
	assert.NotContains(t, res.Outputs, KeyExportResult)

	exportStatus, err := o.Status(agents.InterfaceManagementID)
	require.NoError(t, err)
	assert.Zero(t, exportStatus.Metrics.TotalRequests, "third stage must not be attempted")
	assert.Len(t, o.History(), 2)
	assert.Equal(t, 2, o.Metrics().MessageHistoryCount, "stage deliveries are part of the history")

	// Agents keep running after a failed workflow
	assert.True(t, exportStatus.IsActive)
	res, err = o.Execute(context.Background(), NewRequest(WorkflowDataExport, nil))
	require.NoError(t, err)
	assert.Equal(t, protocol.WorkflowStatusCompleted, res.Status)
}

func TestExecute_StageTimeout(t *testing.T) {
	release := make(chan struct{})
	stubs := StubAgents()
	stubs[agents.ReportGenerationID].On(agents.MsgGenerateOverallReport, func(context.Context, agent.Message) (map[string]any, error) {
		<-release
		return map[string]any{"late": true}, nil
	})

	capture := testutil.NewEventCapture()
	t.Cleanup(capture.Close)

	cfg := TestConfig()
	cfg.StageTimeout = 50 * time.Millisecond
	o := WithOrchestrator(t, cfg, StubBuilder(stubs), capture.Channel())

	res, err := o.Execute(context.Background(), NewRequest(WorkflowCompleteAnalysis, nil))
	require.NoError(t, err)
	close(release)

	assert.Equal(t, protocol.WorkflowStatusFailed, res.Status)
	assert.Equal(t, agents.ReportGenerationID, res.FailedStage)
	assert.Contains(t, res.Error, ErrStageTimeout.Error())
	assert.Contains(t, res.Outputs, KeyAnalysisResult)

	require.True(t, capture.WaitForCount(6, time.Second))
	var failed *protocol.StageFailedEvent
	for _, e := range capture.ForCorrelation(res.CorrelationID) {
		if f, ok := e.(protocol.StageFailedEvent); ok {
			failed = &f
		}
	}
	require.NotNil(t, failed)
	assert.True(t, failed.TimedOut)

	// The agent was not cancelled and still finishes the message
	require.Eventually(t, func() bool {
		st, _ := o.Status(agents.ReportGenerationID)
		return st.Metrics.SuccessfulRequests == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestExecute_CallerCancellation(t *testing.T) {
	release := make(chan struct{})
	stubs := StubAgents()
	stubs[agents.ReportGenerationID].On(agents.MsgGenerateOverallReport, func(context.Context, agent.Message) (map[string]any, error) {
		<-release
		return nil, nil
	})
	o := WithOrchestrator(t, TestConfig(), StubBuilder(stubs), nil)
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	res, err := o.Execute(ctx, NewRequest(WorkflowReportOnly, nil))
	require.NoError(t, err)

	assert.Equal(t, protocol.WorkflowStatusFailed, res.Status)
	assert.Contains(t, res.Error, "cancelled")
	assert.NotContains(t, res.Error, ErrStageTimeout.Error())
}

func TestUsageErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("not initialized", func(t *testing.T) {
		o := New(TestConfig(), StubBuilder(StubAgents()), nil)

		_, err := o.Execute(ctx, NewRequest(WorkflowCompleteAnalysis, nil))
		assert.True(t, errors.Is(err, ErrNotInitialized))
		_, err = o.Submit(ctx, NewRequest(WorkflowCompleteAnalysis, nil))
		assert.True(t, errors.Is(err, ErrNotInitialized))
		_, err = o.SendTo(agents.DataAnalysisID, agent.NewMessage(agents.DataAnalysisID, "ping", nil, ""))
		assert.True(t, errors.Is(err, ErrNotInitialized))
		_, err = o.Status(agents.DataAnalysisID)
		assert.True(t, errors.Is(err, ErrNotInitialized))

		m := o.Metrics()
		assert.Zero(t, m.TotalAgents)
		assert.Zero(t, m.SuccessRate)
		assert.Zero(t, m.AverageResponseTime)
	})

	t.Run("unknown workflow", func(t *testing.T) {
		o := WithOrchestrator(t, TestConfig(), StubBuilder(StubAgents()), nil)
		_, err := o.Execute(ctx, NewRequest("weekly_digest", nil))
		assert.True(t, errors.Is(err, ErrUnknownWorkflow))
		assert.Contains(t, err.Error(), "weekly_digest")
		assert.Empty(t, o.History())
	})

	t.Run("unknown agent", func(t *testing.T) {
		o := WithOrchestrator(t, TestConfig(), StubBuilder(StubAgents()), nil)
		before := o.Metrics()

		ok, err := o.SendTo("nonexistent", agent.NewMessage("nonexistent", "ping", nil, ""))
		assert.False(t, ok)
		assert.True(t, errors.Is(err, ErrUnknownAgent))
		_, err = o.Status("nonexistent")
		assert.True(t, errors.Is(err, ErrUnknownAgent))

		after := o.Metrics()
		assert.Equal(t, before.TotalRequests, after.TotalRequests)
		assert.Zero(t, after.MessageHistoryCount)
		assert.Empty(t, o.History())
	})
}

func TestSendTo_RecordsHistory(t *testing.T) {
	cfg := TestConfig()
	cfg.HistorySize = 3
	o := WithOrchestrator(t, cfg, StubBuilder(StubAgents()), nil)

	for i := 0; i < 5; i++ {
		msg := agent.NewMessage(agents.InterfaceManagementID, "ping", nil, fmt.Sprintf("c%d", i))
		ok, err := o.SendTo(agents.InterfaceManagementID, msg)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	history := o.History()
	require.Len(t, history, 3)
	assert.Equal(t, []string{"c2", "c3", "c4"}, []string{history[0].CorrelationID, history[1].CorrelationID, history[2].CorrelationID})
	for _, h := range history {
		assert.Equal(t, agents.InterfaceManagementID, h.AgentID)
		assert.Equal(t, "ping", h.MessageType)
		assert.True(t, h.Success)
	}
	assert.Equal(t, 3, o.Metrics().MessageHistoryCount)

	require.Eventually(t, func() bool {
		st, _ := o.Status(agents.InterfaceManagementID)
		return st.Metrics.SuccessfulRequests == 5
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMetrics_Aggregation(t *testing.T) {
	stubs := StubAgents()
	stubs[agents.InterfaceManagementID].On(agents.MsgExportData, func(context.Context, agent.Message) (map[string]any, error) {
		return nil, errors.New("disk full")
	})
	o := WithOrchestrator(t, TestConfig(), StubBuilder(stubs), nil)

	m := o.Metrics()
	assert.Equal(t, 3, m.TotalAgents)
	assert.Equal(t, 3, m.ActiveAgents)
	assert.Zero(t, m.TotalRequests)
	assert.Zero(t, m.SuccessRate)
	assert.Equal(t, []string{WorkflowCompleteAnalysis, WorkflowDataExport, WorkflowReportOnly}, m.WorkflowsAvailable)

	res, err := o.Execute(context.Background(), NewRequest(WorkflowCompleteAnalysis, nil))
	require.NoError(t, err)
	require.Equal(t, protocol.WorkflowStatusFailed, res.Status)

	m = o.Metrics()
	assert.Equal(t, int64(3), m.TotalRequests)
	assert.Equal(t, int64(2), m.SuccessfulRequests)
	assert.Equal(t, int64(1), m.FailedRequests)
	assert.InDelta(t, 2.0/3.0, m.SuccessRate, 1e-9)
	assert.Equal(t, 3, m.MessageHistoryCount)

	var sum float64
	for _, st := range o.Statuses() {
		sum += st.Metrics.AverageResponseTime
	}
	assert.InDelta(t, sum/3, m.AverageResponseTime, 1e-12)
}

func TestEvents_WorkflowSequence(t *testing.T) {
	capture := testutil.NewEventCapture()
	t.Cleanup(capture.Close)
	o := WithOrchestrator(t, TestConfig(), StubBuilder(StubAgents()), capture.Channel())

	res, err := o.Execute(context.Background(), NewRequest(WorkflowCompleteAnalysis, nil))
	require.NoError(t, err)
	require.True(t, capture.WaitForCount(8, time.Second))

	events := capture.ForCorrelation(res.CorrelationID)
	testutil.AssertEventSequence(t, events,
		protocol.WorkflowStartedEvent{},
		protocol.StageStartedEvent{},
		protocol.StageCompletedEvent{},
		protocol.StageStartedEvent{},
		protocol.StageCompletedEvent{},
		protocol.StageStartedEvent{},
		protocol.StageCompletedEvent{},
		protocol.WorkflowCompletedEvent{},
	)

	completed := events[len(events)-1].(protocol.WorkflowCompletedEvent)
	assert.Equal(t, []string{KeyAnalysisResult, KeyReportResult, KeyExportResult}, completed.ResultKeys)
	assert.Equal(t, protocol.CurrentProtocolVersion, completed.Version)
}

func TestSubmit_RunsInBackground(t *testing.T) {
	capture := testutil.NewEventCapture()
	t.Cleanup(capture.Close)
	o := WithOrchestrator(t, TestConfig(), StubBuilder(StubAgents()), capture.Channel())

	correlationID, err := o.Submit(context.Background(), NewRequest(WorkflowDataExport, nil))
	require.NoError(t, err)
	assert.NotEmpty(t, correlationID)

	require.Eventually(t, func() bool {
		for _, e := range capture.ForCorrelation(correlationID) {
			if _, ok := e.(protocol.WorkflowCompletedEvent); ok {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	_, err = o.Submit(context.Background(), NewRequest("nope", nil))
	assert.True(t, errors.Is(err, ErrUnknownWorkflow))
}

func TestSubmit_ConcurrentWithShutdown(t *testing.T) {
	for i := 0; i < 50; i++ {
		events := make(chan protocol.Event, 4096)
		o := New(TestConfig(), StubBuilder(StubAgents()), events)
		require.NoError(t, o.Initialize(context.Background()))

		var (
			mu       sync.Mutex
			accepted []string
			wg       sync.WaitGroup
		)
		start := make(chan struct{})
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				for n := 0; n < 5; n++ {
					id, err := o.Submit(context.Background(), NewRequest(WorkflowReportOnly, nil))
					if err != nil {
						assert.ErrorIs(t, err, ErrNotInitialized)
						continue
					}
					mu.Lock()
					accepted = append(accepted, id)
					mu.Unlock()
				}
			}()
		}

		close(start)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		require.NoError(t, o.Shutdown(ctx))
		cancel()
		wg.Wait()

		// Every run accepted before Shutdown has finished by the time it
		// returned; no run starts afterwards.
		finished := map[string]bool{}
		for len(events) > 0 {
			switch e := (<-events).(type) {
			case protocol.WorkflowCompletedEvent:
				finished[e.CorrelationID] = true
			case protocol.WorkflowFailedEvent:
				finished[e.CorrelationID] = true
			}
		}
		for _, id := range accepted {
			assert.True(t, finished[id], "run %s outlived Shutdown", id)
		}
	}
}

func TestInitialize_FailFast(t *testing.T) {
	ctx := context.Background()

	t.Run("builder error", func(t *testing.T) {
		o := New(TestConfig(), func() ([]*agent.Runtime, error) { return nil, errors.New("boom") }, nil)
		err := o.Initialize(ctx)
		assert.ErrorContains(t, err, "boom")
		assert.False(t, o.IsReady())
	})

	t.Run("agent start error", func(t *testing.T) {
		var built []*agent.Runtime
		build := func() ([]*agent.Runtime, error) {
			stubs := StubAgents()
			built = []*agent.Runtime{
				agent.New(agent.Identity{ID: agents.DataAnalysisID}, stubs[agents.DataAnalysisID], agent.Config{PollInterval: 10 * time.Millisecond}),
				agent.New(agent.Identity{ID: agents.ReportGenerationID}, failingInit{stubs[agents.ReportGenerationID]}, agent.Config{}),
				agent.New(agent.Identity{ID: agents.InterfaceManagementID}, stubs[agents.InterfaceManagementID], agent.Config{}),
			}
			return built, nil
		}
		o := New(TestConfig(), build, nil)

		err := o.Initialize(ctx)
		assert.ErrorContains(t, err, "model not loaded")
		assert.False(t, o.IsReady())
		for _, rt := range built {
			assert.False(t, rt.IsActive(), rt.ID())
		}
	})

	t.Run("missing stage agent", func(t *testing.T) {
		stubs := StubAgents()
		delete(stubs, agents.InterfaceManagementID)
		var built []*agent.Runtime
		inner := StubBuilder(stubs)
		o := New(TestConfig(), func() ([]*agent.Runtime, error) {
			rts, err := inner()
			built = rts
			return rts, err
		}, nil)

		err := o.Initialize(ctx)
		assert.True(t, errors.Is(err, ErrUnknownAgent))
		assert.False(t, o.IsReady())
		require.Len(t, built, 2)
		for _, rt := range built {
			assert.False(t, rt.IsActive(), rt.ID())
		}
	})
}

type failingInit struct {
	*StubAgent
}

func (failingInit) Init(context.Context) error { return errors.New("model not loaded") }

func TestLifecycle(t *testing.T) {
	var builds atomic.Int32
	inner := StubBuilder(StubAgents())
	build := func() ([]*agent.Runtime, error) {
		builds.Add(1)
		return inner()
	}
	o := New(TestConfig(), build, nil)
	ctx := context.Background()

	require.NoError(t, o.Initialize(ctx))
	require.NoError(t, o.Initialize(ctx))
	assert.Equal(t, int32(1), builds.Load(), "second Initialize is a no-op")
	assert.Equal(t, []string{agents.DataAnalysisID, agents.ReportGenerationID, agents.InterfaceManagementID}, o.AgentIDs())

	require.NoError(t, o.Shutdown(ctx))
	require.NoError(t, o.Shutdown(ctx))
	assert.False(t, o.IsReady())

	for id, st := range o.Statuses() {
		assert.False(t, st.IsActive, id)
		assert.Equal(t, "stopped", st.State, id)
	}

	_, err := o.Execute(ctx, NewRequest(WorkflowCompleteAnalysis, nil))
	assert.True(t, errors.Is(err, ErrNotInitialized))

	// Stopped agents still accept messages but never process them
	ok, err := o.SendTo(agents.InterfaceManagementID, agent.NewMessage(agents.InterfaceManagementID, "ping", nil, ""))
	require.NoError(t, err)
	assert.True(t, ok)
	time.Sleep(50 * time.Millisecond)
	st, err := o.Status(agents.InterfaceManagementID)
	require.NoError(t, err)
	assert.Zero(t, st.Metrics.TotalRequests)
	assert.Equal(t, 1, st.InboxDepth)

	// Re-initializing builds a fresh set of agents
	require.NoError(t, o.Initialize(ctx))
	assert.Equal(t, int32(2), builds.Load())
	require.NoError(t, o.Shutdown(ctx))
}

func TestExecute_Tracing(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	o := WithOrchestrator(t, TestConfig(), StubBuilder(StubAgents()), nil)
	o.tracer = tp.Tracer(tracerName)

	_, err := o.Execute(context.Background(), NewRequest(WorkflowReportOnly, nil))
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 3)
	names := []string{spans[0].Name(), spans[1].Name(), spans[2].Name()}
	assert.Equal(t, []string{"stage." + agents.DataAnalysisID, "stage." + agents.ReportGenerationID, "workflow.execute"}, names)

	root := spans[2].SpanContext().SpanID()
	assert.Equal(t, root, spans[0].Parent().SpanID())
	assert.Equal(t, root, spans[1].Parent().SpanID())
}
