// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingBehavior handles "echo", "fail", "panic" and "block".
type recordingBehavior struct {
	*Dispatcher

	mu      sync.Mutex
	seen    []string
	release chan struct{}
	entered chan struct{}
	initErr error
}

func newRecordingBehavior() *recordingBehavior {
	b := &recordingBehavior{
		Dispatcher: NewDispatcher("test_agent"),
		release:    make(chan struct{}),
		entered:    make(chan struct{}, 16),
	}
	b.On("echo", func(ctx context.Context, msg Message) (map[string]any, error) {
		b.record(msg)
		return map[string]any{"echo": msg.Content.String("value", "")}, nil
	})
	b.On("fail", func(ctx context.Context, msg Message) (map[string]any, error) {
		b.record(msg)
		return nil, errors.New("boom")
	})
	b.On("panic", func(ctx context.Context, msg Message) (map[string]any, error) {
		b.record(msg)
		panic("handler exploded")
	})
	b.On("block", func(ctx context.Context, msg Message) (map[string]any, error) {
		b.record(msg)
		b.entered <- struct{}{}
		<-b.release
		return map[string]any{"released": true}, nil
	})
	return b
}

func (b *recordingBehavior) Init(ctx context.Context) error { return b.initErr }

func (b *recordingBehavior) record(msg Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seen = append(b.seen, msg.Content.String("value", ""))
}

func (b *recordingBehavior) processed() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.seen))
	copy(out, b.seen)
	return out
}

func newTestRuntime(t *testing.T, b Behavior, capacity int) *Runtime {
	t.Helper()
	rt := New(Identity{ID: "test_agent", Name: "Test Agent", Description: "records messages"}, b, Config{
		InboxCapacity: capacity,
		PollInterval:  10 * time.Millisecond,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = rt.Stop(ctx)
	})
	return rt
}

func msgWithValue(messageType, value string) Message {
	return NewMessage("test_agent", messageType, NewContent().Set("value", value), "corr-1")
}

func sendAndWait(t *testing.T, rt *Runtime, msg Message) Response {
	t.Helper()
	c := rt.Expect(msg.ID)
	require.True(t, rt.Send(msg))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := c.Wait(ctx)
	require.NoError(t, err)
	return resp
}

func TestRuntime_ProcessesInFIFOOrder(t *testing.T) {
	b := newRecordingBehavior()
	rt := newTestRuntime(t, b, 16)
	require.NoError(t, rt.Start(context.Background()))

	for _, v := range []string{"a", "b", "c", "d"} {
		require.True(t, rt.Send(msgWithValue("echo", v)))
	}
	sendAndWait(t, rt, msgWithValue("echo", "e"))

	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, b.processed())
}

func TestRuntime_SuccessResponse(t *testing.T) {
	rt := newTestRuntime(t, newRecordingBehavior(), 4)
	require.NoError(t, rt.Start(context.Background()))

	msg := msgWithValue("echo", "hello")
	resp := sendAndWait(t, rt, msg)

	assert.True(t, resp.Success)
	assert.Equal(t, "hello", resp.Data["echo"])
	assert.Empty(t, resp.Error)
	assert.Equal(t, "test_agent", resp.AgentID)
	assert.Equal(t, msg.ID, resp.MessageID)
	assert.Equal(t, "corr-1", resp.CorrelationID)
	assert.GreaterOrEqual(t, resp.ExecutionTime, 0.0)
}

func TestRuntime_FailuresDoNotStopLoop(t *testing.T) {
	rt := newTestRuntime(t, newRecordingBehavior(), 8)
	require.NoError(t, rt.Start(context.Background()))

	failed := sendAndWait(t, rt, msgWithValue("fail", "1"))
	assert.False(t, failed.Success)
	assert.Contains(t, failed.Error, "boom")
	assert.Nil(t, failed.Data)

	panicked := sendAndWait(t, rt, msgWithValue("panic", "2"))
	assert.False(t, panicked.Success)
	assert.Contains(t, panicked.Error, "handler exploded")

	unknown := sendAndWait(t, rt, msgWithValue("dance", "3"))
	assert.False(t, unknown.Success)
	assert.Contains(t, unknown.Error, `unsupported message type "dance"`)

	ok := sendAndWait(t, rt, msgWithValue("echo", "4"))
	assert.True(t, ok.Success)
	assert.True(t, rt.IsActive())

	m := rt.Metrics()
	assert.Equal(t, int64(4), m.TotalRequests)
	assert.Equal(t, int64(1), m.SuccessfulRequests)
	assert.Equal(t, int64(3), m.FailedRequests)
	assert.Equal(t, m.TotalRequests, m.SuccessfulRequests+m.FailedRequests)
}

func TestRuntime_StartStopIdempotent(t *testing.T) {
	b := newRecordingBehavior()
	rt := newTestRuntime(t, b, 4)
	ctx := context.Background()

	assert.Equal(t, StateStopped, rt.State())
	require.NoError(t, rt.Stop(ctx), "stopping a stopped agent is a no-op")

	require.NoError(t, rt.Start(ctx))
	require.NoError(t, rt.Start(ctx))
	assert.Equal(t, StateRunning, rt.State())

	resp := sendAndWait(t, rt, msgWithValue("echo", "once"))
	require.True(t, resp.Success)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"once"}, b.processed())
	assert.Equal(t, int64(1), rt.Metrics().TotalRequests, "one message counted once")

	// A second loop would pick up the second blocking message concurrently.
	first, second := msgWithValue("block", "b1"), msgWithValue("block", "b2")
	c1, c2 := rt.Expect(first.ID), rt.Expect(second.ID)
	require.True(t, rt.Send(first))
	require.True(t, rt.Send(second))
	<-b.entered
	select {
	case <-b.entered:
		t.Fatal("two messages handled concurrently after a repeated Start")
	case <-time.After(50 * time.Millisecond):
	}
	b.release <- struct{}{}
	<-b.entered
	b.release <- struct{}{}

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := c1.Wait(waitCtx)
	require.NoError(t, err)
	_, err = c2.Wait(waitCtx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), rt.Metrics().TotalRequests)

	require.NoError(t, rt.Stop(ctx))
	require.NoError(t, rt.Stop(ctx))
	assert.Equal(t, StateStopped, rt.State())
	assert.False(t, rt.IsActive())
}

func TestRuntime_StopFreezesMetrics(t *testing.T) {
	rt := newTestRuntime(t, newRecordingBehavior(), 4)
	ctx := context.Background()
	require.NoError(t, rt.Start(ctx))

	sendAndWait(t, rt, msgWithValue("echo", "before"))
	require.NoError(t, rt.Stop(ctx))
	before := rt.Metrics()

	assert.True(t, rt.Send(msgWithValue("echo", "after")), "enqueue still succeeds while stopped")
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, before, rt.Metrics())
	assert.Equal(t, 1, rt.InboxDepth())
}

func TestRuntime_StopLetsInFlightMessageFinish(t *testing.T) {
	b := newRecordingBehavior()
	rt := newTestRuntime(t, b, 8)
	require.NoError(t, rt.Start(context.Background()))

	blocking := msgWithValue("block", "in-flight")
	c := rt.Expect(blocking.ID)
	require.True(t, rt.Send(blocking))
	<-b.entered

	require.True(t, rt.Send(msgWithValue("echo", "queued")))

	stopped := make(chan error, 1)
	go func() { stopped <- rt.Stop(context.Background()) }()

	require.Eventually(t, func() bool { return rt.State() == StateStopping }, time.Second, time.Millisecond)
	close(b.release)

	require.NoError(t, <-stopped)
	resp, err := c.Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, resp.Success)

	assert.Equal(t, []string{"in-flight"}, b.processed())
	assert.Equal(t, int64(1), rt.Metrics().TotalRequests)
	assert.Equal(t, 1, rt.InboxDepth())
}

func TestRuntime_StopHonoursContext(t *testing.T) {
	b := newRecordingBehavior()
	rt := newTestRuntime(t, b, 4)
	require.NoError(t, rt.Start(context.Background()))

	require.True(t, rt.Send(msgWithValue("block", "x")))
	<-b.entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := rt.Stop(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, rt.Start(context.Background()), ErrAgentStopping)

	close(b.release)
	require.Eventually(t, func() bool { return rt.State() == StateStopped }, time.Second, time.Millisecond)
}

func TestRuntime_RestartAfterStop(t *testing.T) {
	rt := newTestRuntime(t, newRecordingBehavior(), 4)
	ctx := context.Background()

	require.NoError(t, rt.Start(ctx))
	require.NoError(t, rt.Stop(ctx))
	require.NoError(t, rt.Start(ctx))

	resp := sendAndWait(t, rt, msgWithValue("echo", "again"))
	assert.True(t, resp.Success)
}

func TestRuntime_InitializerFailureAbortsStart(t *testing.T) {
	b := newRecordingBehavior()
	b.initErr = errors.New("no database")
	rt := newTestRuntime(t, b, 4)

	err := rt.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no database")
	assert.Equal(t, StateStopped, rt.State())
}

func TestRuntime_SendRejectsWhenFull(t *testing.T) {
	rt := newTestRuntime(t, newRecordingBehavior(), 2)

	assert.True(t, rt.Send(msgWithValue("echo", "1")))
	assert.True(t, rt.Send(msgWithValue("echo", "2")))
	assert.False(t, rt.Send(msgWithValue("echo", "3")))
	assert.Equal(t, 2, rt.InboxDepth())
}

func TestRuntime_Status(t *testing.T) {
	rt := newTestRuntime(t, newRecordingBehavior(), 4)
	require.NoError(t, rt.Start(context.Background()))
	sendAndWait(t, rt, msgWithValue("echo", "x"))
	sendAndWait(t, rt, msgWithValue("fail", "y"))

	st := rt.Status()
	assert.Equal(t, "test_agent", st.AgentID)
	assert.Equal(t, "Test Agent", st.Name)
	assert.Equal(t, "records messages", st.Description)
	assert.True(t, st.IsActive)
	assert.Equal(t, "running", st.State)
	assert.Equal(t, []string{"echo", "fail", "panic", "block"}, st.Capabilities)
	assert.Equal(t, int64(2), st.Metrics.TotalRequests)
	assert.InDelta(t, 0.5, st.SuccessRate, 1e-9)
	assert.Equal(t, 0, st.InboxDepth)
}

func TestRuntime_OnResponseObserver(t *testing.T) {
	var mu sync.Mutex
	var types []string
	rt := New(Identity{ID: "test_agent"}, newRecordingBehavior(), Config{
		PollInterval: 10 * time.Millisecond,
		OnResponse: func(r Response) {
			mu.Lock()
			types = append(types, r.MessageType)
			mu.Unlock()
		},
	})
	require.NoError(t, rt.Start(context.Background()))
	defer rt.Stop(context.Background())

	sendAndWait(t, rt, msgWithValue("echo", "1"))
	sendAndWait(t, rt, msgWithValue("fail", "2"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(types) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"echo", "fail"}, types)
}

func TestRuntime_ForgottenCompletionIsNotResolved(t *testing.T) {
	b := newRecordingBehavior()
	rt := newTestRuntime(t, b, 4)
	require.NoError(t, rt.Start(context.Background()))

	msg := msgWithValue("echo", "late")
	c := rt.Expect(msg.ID)
	rt.Forget(msg.ID)
	require.True(t, rt.Send(msg))

	require.Eventually(t, func() bool { return rt.Metrics().TotalRequests == 1 }, time.Second, 5*time.Millisecond)
	select {
	case <-c.Done():
		t.Fatal("forgotten completion should not be resolved")
	default:
	}
}

func TestCompletion_ResolvesOnce(t *testing.T) {
	c := newCompletion()
	c.resolve(Response{AgentID: "first"})
	c.resolve(Response{AgentID: "second"})

	resp, err := c.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", resp.AgentID)
}

func TestCompletion_WaitRespectsContext(t *testing.T) {
	c := newCompletion()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := c.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
