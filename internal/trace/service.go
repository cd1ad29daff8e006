package trace

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Service owns trace creation, querying and retention.
type Service struct {
	store  Store
	logger *slog.Logger
}

func NewService(log *slog.Logger, store Store) *Service {
	return &Service{
		store:  store,
		logger: log.With(slog.String("service", "trace")),
	}
}

// BeginMeta seeds a new trace record.
type BeginMeta struct {
	InstanceName     string
	ChannelMessageID string
	SenderID         string
	SenderName       string
	MessageType      string
	MessageContent   string
}

// Begin creates a trace in status received, logs the webhook receipt stage
// and returns a Recorder bound to the new trace id. Every call produces an
// independent trace, including replays of the same channel message id.
func (s *Service) Begin(ctx context.Context, meta BeginMeta) (*Recorder, error) {
	now := time.Now().UTC()
	t := Trace{
		TraceID:          uuid.NewString(),
		InstanceName:     meta.InstanceName,
		ChannelMessageID: meta.ChannelMessageID,
		SenderID:         meta.SenderID,
		SenderName:       meta.SenderName,
		MessageType:      meta.MessageType,
		MessageContent:   meta.MessageContent,
		Status:           StatusReceived,
		ReceivedAt:       now,
	}
	if err := s.store.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("begin trace: %w", err)
	}

	rec := &Recorder{
		store:   s.store,
		logger:  s.logger,
		traceID: t.TraceID,
		started: now,
	}
	rec.append(ctx, StageEntry{
		TraceID:   t.TraceID,
		Stage:     StageWebhookReceived,
		Status:    StageCompleted,
		CreatedAt: now,
	})
	return rec, nil
}

func (s *Service) Get(ctx context.Context, traceID string) (Trace, error) {
	return s.store.Get(ctx, traceID)
}

func (s *Service) Stages(ctx context.Context, traceID string) ([]StageEntry, error) {
	return s.store.ListStages(ctx, traceID)
}

func (s *Service) List(ctx context.Context, f Filter) ([]Trace, error) {
	return s.store.List(ctx, f)
}

// Cleanup removes traces older than the retention window.
func (s *Service) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	n, err := s.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("trace retention sweep",
			slog.Int64("deleted", n),
			slog.Time("cutoff", cutoff))
	}
	return n, nil
}
