package trace

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Recorder appends lifecycle entries for one trace. All writes go through
// the recorder's mutex so stage order is preserved even when stages are
// reported from different goroutines.
type Recorder struct {
	store   Store
	logger  *slog.Logger
	traceID string
	started time.Time

	mu sync.Mutex
}

func (r *Recorder) TraceID() string {
	return r.traceID
}

// StageStarted appends a started entry for the stage.
func (r *Recorder) StageStarted(ctx context.Context, stage Stage) {
	r.append(ctx, StageEntry{
		TraceID:   r.traceID,
		Stage:     stage,
		Status:    StageStarted,
		CreatedAt: time.Now().UTC(),
	})
}

// StageCompleted appends a completed entry with the stage's duration.
func (r *Recorder) StageCompleted(ctx context.Context, stage Stage, took time.Duration) {
	ms := took.Milliseconds()
	r.append(ctx, StageEntry{
		TraceID:    r.traceID,
		Stage:      stage,
		Status:     StageCompleted,
		DurationMs: &ms,
		CreatedAt:  time.Now().UTC(),
	})
}

// StageFailed appends a failed entry carrying the error text.
func (r *Recorder) StageFailed(ctx context.Context, stage Stage, stageErr error) {
	r.append(ctx, StageEntry{
		TraceID:   r.traceID,
		Stage:     stage,
		Status:    StageFailed,
		Error:     stageErr.Error(),
		CreatedAt: time.Now().UTC(),
	})
}

// Anomaly records a non-fatal irregularity, e.g. an access store outage
// that the pipeline failed open on.
func (r *Recorder) Anomaly(ctx context.Context, stage Stage, anomalyErr error) {
	r.append(ctx, StageEntry{
		TraceID:   r.traceID,
		Stage:     stage,
		Status:    StageAnomaly,
		Error:     anomalyErr.Error(),
		CreatedAt: time.Now().UTC(),
	})
}

// SetStatus updates the trace header without finalizing it.
func (r *Recorder) SetStatus(ctx context.Context, upd StatusUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.UpdateStatus(ctx, r.traceID, upd); err != nil {
		r.logger.Warn("trace status update failed",
			slog.String("trace_id", r.traceID),
			slog.Any("error", err))
	}
}

// Finalize stamps the terminal status, completion time and total duration.
func (r *Recorder) Finalize(ctx context.Context, upd StatusUpdate) {
	now := time.Now().UTC()
	total := now.Sub(r.started).Milliseconds()
	upd.CompletedAt = &now
	upd.TotalDurationMs = &total
	r.SetStatus(ctx, upd)
}

func (r *Recorder) append(ctx context.Context, e StageEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.AppendStage(ctx, e); err != nil {
		r.logger.Warn("trace stage append failed",
			slog.String("trace_id", r.traceID),
			slog.String("stage", string(e.Stage)),
			slog.Any("error", err))
	}
}
