package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnihubio/omnihub/internal/access"
	"github.com/omnihubio/omnihub/internal/agent"
	"github.com/omnihubio/omnihub/internal/identity"
	"github.com/omnihubio/omnihub/internal/instance"
	"github.com/omnihubio/omnihub/internal/outbound"
	"github.com/omnihubio/omnihub/internal/trace"
	"github.com/omnihubio/omnihub/internal/webhook"
)

type fakeInstances struct {
	instances map[string]instance.Instance
}

func (f *fakeInstances) Get(_ context.Context, name string) (instance.Instance, error) {
	inst, ok := f.instances[name]
	if !ok {
		return instance.Instance{}, instance.ErrNotFound
	}
	return inst, nil
}

type fakeEvaluator struct {
	decision access.Decision
}

func (f *fakeEvaluator) Evaluate(context.Context, string, string) access.Decision {
	return f.decision
}

type fakeResolver struct{}

func (fakeResolver) Resolve(_ context.Context, instanceName, senderID, _ string) (identity.Resolution, error) {
	return identity.Derive(instanceName, senderID), nil
}

type fakeAgent struct {
	mu    sync.Mutex
	calls []agent.Request
	reply agent.Reply
	err   error
	delay time.Duration
}

func (f *fakeAgent) Call(_ context.Context, _ instance.Instance, req agent.Request) (agent.Reply, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.reply, f.err
}

func (f *fakeAgent) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeSender struct {
	mu     sync.Mutex
	units  []string
	result outbound.SendResult
}

func (f *fakeSender) SendUnits(_ context.Context, _ instance.Instance, _ string, units []string) outbound.SendResult {
	f.mu.Lock()
	f.units = append(f.units, units...)
	f.mu.Unlock()
	if f.result.Success || f.result.Err != nil || f.result.StatusCode != 0 {
		return f.result
	}
	return outbound.SendResult{Success: true, StatusCode: 200}
}

func (f *fakeSender) sentUnits() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.units))
	copy(out, f.units)
	return out
}

type testFixture struct {
	router    *Router
	traces    *trace.Service
	agent     *fakeAgent
	sender    *fakeSender
	evaluator *fakeEvaluator
}

func newFixture(t *testing.T) *testFixture {
	t.Helper()
	log := slog.Default()
	traces := trace.NewService(log, trace.NewMemoryStore())
	agentFake := &fakeAgent{reply: agent.Reply{Text: "agent says hi"}}
	senderFake := &fakeSender{}
	evaluator := &fakeEvaluator{decision: access.Decision{Allowed: true}}
	instances := &fakeInstances{instances: map[string]instance.Instance{
		"bot-a": {
			Name:            "bot-a",
			ChannelType:     instance.ChannelWhatsApp,
			IsActive:        true,
			EnableAutoSplit: true,
		},
	}}

	r := New(log, instances, evaluator, fakeResolver{}, agentFake, senderFake, traces, Options{
		Lanes:      4,
		LaneDepth:  16,
		ChunkLimit: 2000,
	})
	r.Start()
	t.Cleanup(r.Stop)

	return &testFixture{
		router:    r,
		traces:    traces,
		agent:     agentFake,
		sender:    senderFake,
		evaluator: evaluator,
	}
}

func inboundText(sender, text string) webhook.InboundMessage {
	return webhook.InboundMessage{
		InstanceName: "bot-a",
		SenderID:     sender,
		SenderName:   "Tester",
		MessageType:  webhook.TypeText,
		Content:      text,
		Timestamp:    time.Now(),
		MessageID:    "MSG-" + sender,
	}
}

func waitForTerminal(t *testing.T, traces *trace.Service, traceID string) trace.Trace {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		got, err := traces.Get(context.Background(), traceID)
		require.NoError(t, err)
		switch got.Status {
		case trace.StatusCompleted, trace.StatusFailed, trace.StatusBlocked:
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("trace %s never reached a terminal status", traceID)
	return trace.Trace{}
}

func TestProcessCompleted(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	traceID, err := f.router.Dispatch(context.Background(), inboundText("+15550001@s.whatsapp.net", "Hello"))
	require.NoError(t, err)

	got := waitForTerminal(t, f.traces, traceID)
	assert.Equal(t, trace.StatusCompleted, got.Status)
	assert.False(t, got.Degraded)
	assert.Equal(t, "agent says hi", got.ResponseContent)
	require.NotNil(t, got.ChannelSuccess)
	assert.True(t, *got.ChannelSuccess)
	assert.NotNil(t, got.TotalDurationMs)

	assert.Equal(t, 1, f.agent.callCount())
	assert.Equal(t, []string{"agent says hi"}, f.sender.sentUnits())
}

func TestProcessBlocked(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.evaluator.decision = access.Decision{Allowed: false, Reason: "sender blocked"}

	traceID, err := f.router.Dispatch(context.Background(), inboundText("+15550002", "Hello"))
	require.NoError(t, err)

	got := waitForTerminal(t, f.traces, traceID)
	assert.Equal(t, trace.StatusBlocked, got.Status)
	assert.Equal(t, 0, f.agent.callCount(), "blocked senders never reach the agent")
	assert.Empty(t, f.sender.sentUnits(), "blocked senders get no reply")
}

func TestProcessAgentTimeoutDegrades(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.agent.reply = agent.Reply{}
	f.agent.err = &agent.CallError{Kind: agent.FailureTimeout, Err: context.DeadlineExceeded}

	traceID, err := f.router.Dispatch(context.Background(), inboundText("+15550003", "Hello"))
	require.NoError(t, err)

	got := waitForTerminal(t, f.traces, traceID)
	assert.Equal(t, trace.StatusCompleted, got.Status, "agent failure never fails the trace")
	assert.True(t, got.Degraded)
	assert.Equal(t, agent.FallbackTimeout, got.ResponseContent)
	assert.Equal(t, []string{agent.FallbackTimeout}, f.sender.sentUnits())
}

func TestProcessUnknownInstanceFails(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	msg := inboundText("+15550004", "Hello")
	msg.InstanceName = "missing-bot"

	traceID, err := f.router.Dispatch(context.Background(), msg)
	require.NoError(t, err)

	got := waitForTerminal(t, f.traces, traceID)
	assert.Equal(t, trace.StatusFailed, got.Status)
	assert.NotEmpty(t, got.ErrorMessage)
	assert.Equal(t, 0, f.agent.callCount())
}

func TestProcessChannelSendFailureRecorded(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.sender.result = outbound.SendResult{Err: errors.New("bridge down"), StatusCode: 503}

	traceID, err := f.router.Dispatch(context.Background(), inboundText("+15550005", "Hello"))
	require.NoError(t, err)

	got := waitForTerminal(t, f.traces, traceID)
	assert.Equal(t, trace.StatusCompleted, got.Status, "send failure is recorded, not retried here")
	require.NotNil(t, got.ChannelSuccess)
	assert.False(t, *got.ChannelSuccess)
	require.NotNil(t, got.ChannelStatus)
	assert.Equal(t, 503, *got.ChannelStatus)
}

func TestProcessAccessAnomalyFailsOpen(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.evaluator.decision = access.Decision{Allowed: true, Anomaly: errors.New("rule store down")}

	traceID, err := f.router.Dispatch(context.Background(), inboundText("+15550006", "Hello"))
	require.NoError(t, err)

	got := waitForTerminal(t, f.traces, traceID)
	assert.Equal(t, trace.StatusCompleted, got.Status)

	stages, err := f.traces.Stages(context.Background(), traceID)
	require.NoError(t, err)
	var sawAnomaly bool
	for _, e := range stages {
		if e.Stage == trace.StageAccessChecking && e.Status == trace.StageAnomaly {
			sawAnomaly = true
		}
	}
	assert.True(t, sawAnomaly, "fail-open must leave an anomaly entry")
}

func TestReplayProducesIndependentTraces(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	msg := inboundText("+15550007", "Hello again")

	first, err := f.router.Dispatch(context.Background(), msg)
	require.NoError(t, err)
	firstTrace := waitForTerminal(t, f.traces, first)

	second, err := f.router.Dispatch(context.Background(), msg)
	require.NoError(t, err)
	secondTrace := waitForTerminal(t, f.traces, second)

	assert.NotEqual(t, first, second)
	assert.Equal(t, trace.StatusCompleted, secondTrace.Status)

	// The first trace is untouched by the replay.
	recheck, err := f.traces.Get(context.Background(), first)
	require.NoError(t, err)
	assert.Equal(t, firstTrace.CompletedAt, recheck.CompletedAt)
	assert.Equal(t, 2, f.agent.callCount())
}

func TestStageEntriesOrdered(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	traceID, err := f.router.Dispatch(context.Background(), inboundText("+15550008", "Hello"))
	require.NoError(t, err)
	waitForTerminal(t, f.traces, traceID)

	stages, err := f.traces.Stages(context.Background(), traceID)
	require.NoError(t, err)
	require.NotEmpty(t, stages)

	for i := 1; i < len(stages); i++ {
		assert.False(t, stages[i].CreatedAt.Before(stages[i-1].CreatedAt),
			"stage entries must be monotonically ordered")
	}
	assert.Equal(t, trace.StageWebhookReceived, stages[0].Stage)
	assert.Equal(t, trace.StageSending, stages[len(stages)-2].Stage)
}

func TestSameSenderProcessedInOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.agent.delay = 30 * time.Millisecond

	var traceIDs []string
	for i := 0; i < 4; i++ {
		msg := inboundText("+15550009", fmt.Sprintf("message %d", i))
		traceID, err := f.router.Dispatch(context.Background(), msg)
		require.NoError(t, err)
		traceIDs = append(traceIDs, traceID)
	}
	for _, traceID := range traceIDs {
		waitForTerminal(t, f.traces, traceID)
	}

	f.agent.mu.Lock()
	defer f.agent.mu.Unlock()
	require.Len(t, f.agent.calls, 4)
	for i, call := range f.agent.calls {
		assert.Equal(t, fmt.Sprintf("message %d", i), call.Message,
			"same-sender messages must be processed in arrival order")
	}
}

func TestAgentPayloadAlwaysHasUserID(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	traceID, err := f.router.Dispatch(context.Background(), inboundText("+15550010", "Hello"))
	require.NoError(t, err)
	waitForTerminal(t, f.traces, traceID)

	f.agent.mu.Lock()
	defer f.agent.mu.Unlock()
	require.Len(t, f.agent.calls, 1)
	assert.NotEmpty(t, f.agent.calls[0].UserID)
}

func TestLongReplySplitIntoUnits(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	long := ""
	for i := 0; i < 2600; i++ {
		long += "x"
	}
	f.agent.reply = agent.Reply{Text: long}

	traceID, err := f.router.Dispatch(context.Background(), inboundText("+15550011", "Hello"))
	require.NoError(t, err)
	waitForTerminal(t, f.traces, traceID)

	units := f.sender.sentUnits()
	require.GreaterOrEqual(t, len(units), 2)
	total := 0
	for _, unit := range units {
		assert.LessOrEqual(t, len([]rune(unit)), 2000)
		total += len(unit)
	}
	assert.Equal(t, 2600, total)
}
