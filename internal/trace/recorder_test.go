package trace

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService() (*Service, *MemoryStore) {
	store := NewMemoryStore()
	return NewService(slog.Default(), store), store
}

func TestBeginCreatesReceivedTrace(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService()
	rec, err := svc.Begin(context.Background(), BeginMeta{
		InstanceName:   "bot-a",
		SenderID:       "5511999999999",
		MessageType:    "text",
		MessageContent: "Hello",
	})
	require.NoError(t, err)
	require.NotEmpty(t, rec.TraceID())

	got, err := svc.Get(context.Background(), rec.TraceID())
	require.NoError(t, err)
	assert.Equal(t, StatusReceived, got.Status)
	assert.Equal(t, "bot-a", got.InstanceName)

	stages, err := svc.Stages(context.Background(), rec.TraceID())
	require.NoError(t, err)
	require.Len(t, stages, 1)
	assert.Equal(t, StageWebhookReceived, stages[0].Stage)
}

func TestBeginReplayIsIndependent(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService()
	meta := BeginMeta{InstanceName: "bot-a", SenderID: "111", ChannelMessageID: "SAME-ID"}

	first, err := svc.Begin(context.Background(), meta)
	require.NoError(t, err)
	second, err := svc.Begin(context.Background(), meta)
	require.NoError(t, err)

	assert.NotEqual(t, first.TraceID(), second.TraceID())

	done := time.Now().UTC()
	completed := StatusUpdate{Status: StatusCompleted, CompletedAt: &done}
	second.SetStatus(context.Background(), completed)

	firstTrace, err := svc.Get(context.Background(), first.TraceID())
	require.NoError(t, err)
	assert.Equal(t, StatusReceived, firstTrace.Status, "replay must not mutate the prior trace")
}

func TestRecorderAppendsInOrder(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService()
	rec, err := svc.Begin(context.Background(), BeginMeta{InstanceName: "bot-a", SenderID: "111"})
	require.NoError(t, err)

	ctx := context.Background()
	rec.StageStarted(ctx, StageValidatingInstance)
	rec.StageCompleted(ctx, StageValidatingInstance, 3*time.Millisecond)
	rec.StageStarted(ctx, StageAgentCalling)
	rec.StageFailed(ctx, StageAgentCalling, errors.New("timeout"))

	stages, err := svc.Stages(ctx, rec.TraceID())
	require.NoError(t, err)
	require.Len(t, stages, 5)

	wantStages := []Stage{
		StageWebhookReceived,
		StageValidatingInstance,
		StageValidatingInstance,
		StageAgentCalling,
		StageAgentCalling,
	}
	for i, want := range wantStages {
		assert.Equal(t, want, stages[i].Stage)
	}
	assert.Equal(t, StageFailed, stages[4].Status)
	assert.Equal(t, "timeout", stages[4].Error)
	for i := 1; i < len(stages); i++ {
		assert.False(t, stages[i].CreatedAt.Before(stages[i-1].CreatedAt))
	}
}

func TestRecorderConcurrentAppends(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService()
	rec, err := svc.Begin(context.Background(), BeginMeta{InstanceName: "bot-a", SenderID: "111"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec.Anomaly(context.Background(), StageAccessChecking, errors.New("x"))
		}()
	}
	wg.Wait()

	stages, err := svc.Stages(context.Background(), rec.TraceID())
	require.NoError(t, err)
	assert.Len(t, stages, 21)
}

func TestFinalizeStampsDurations(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService()
	rec, err := svc.Begin(context.Background(), BeginMeta{InstanceName: "bot-a", SenderID: "111"})
	require.NoError(t, err)

	degraded := true
	response := "fallback text"
	rec.Finalize(context.Background(), StatusUpdate{
		Status:          StatusCompleted,
		Degraded:        &degraded,
		ResponseContent: &response,
	})

	got, err := svc.Get(context.Background(), rec.TraceID())
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.True(t, got.Degraded)
	assert.Equal(t, "fallback text", got.ResponseContent)
	require.NotNil(t, got.CompletedAt)
	require.NotNil(t, got.TotalDurationMs)
	assert.GreaterOrEqual(t, *got.TotalDurationMs, int64(0))
}

func TestCleanupRemovesOldTraces(t *testing.T) {
	t.Parallel()

	svc, store := newTestService()
	old := Trace{
		TraceID:      "old-trace",
		InstanceName: "bot-a",
		SenderID:     "111",
		Status:       StatusCompleted,
		ReceivedAt:   time.Now().UTC().Add(-48 * time.Hour),
	}
	require.NoError(t, store.Create(context.Background(), old))

	fresh, err := svc.Begin(context.Background(), BeginMeta{InstanceName: "bot-a", SenderID: "111"})
	require.NoError(t, err)

	deleted, err := svc.Cleanup(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = svc.Get(context.Background(), "old-trace")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.Get(context.Background(), fresh.TraceID())
	assert.NoError(t, err)
}

func TestListFilters(t *testing.T) {
	t.Parallel()

	svc, store := newTestService()
	ctx := context.Background()
	ms := int64(1500)
	seed := []Trace{
		{TraceID: "t1", InstanceName: "bot-a", SenderID: "111", Status: StatusCompleted, ReceivedAt: time.Now(), TotalDurationMs: &ms},
		{TraceID: "t2", InstanceName: "bot-a", SenderID: "222", Status: StatusBlocked, ReceivedAt: time.Now()},
		{TraceID: "t3", InstanceName: "bot-b", SenderID: "111", Status: StatusCompleted, ReceivedAt: time.Now()},
	}
	for _, tr := range seed {
		require.NoError(t, store.Create(ctx, tr))
	}

	byInstance, err := svc.List(ctx, Filter{InstanceName: "bot-a"})
	require.NoError(t, err)
	assert.Len(t, byInstance, 2)

	byStatus, err := svc.List(ctx, Filter{Status: StatusBlocked})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, "t2", byStatus[0].TraceID)

	byDuration, err := svc.List(ctx, Filter{MinDurationMs: 1000})
	require.NoError(t, err)
	require.Len(t, byDuration, 1)
	assert.Equal(t, "t1", byDuration[0].TraceID)
}
