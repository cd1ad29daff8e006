package trace

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used in tests and local development.
type MemoryStore struct {
	mu     sync.Mutex
	traces map[string]*Trace
	stages map[string][]StageEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		traces: make(map[string]*Trace),
		stages: make(map[string][]StageEntry),
	}
}

func (s *MemoryStore) Create(_ context.Context, t Trace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := t
	s.traces[t.TraceID] = &cp
	return nil
}

func (s *MemoryStore) AppendStage(_ context.Context, e StageEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stages[e.TraceID] = append(s.stages[e.TraceID], e)
	return nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, traceID string, upd StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.traces[traceID]
	if !ok {
		return ErrNotFound
	}
	t.Status = upd.Status
	if upd.Degraded != nil {
		t.Degraded = *upd.Degraded
	}
	if upd.ResponseContent != nil {
		t.ResponseContent = *upd.ResponseContent
	}
	if upd.ChannelSuccess != nil {
		t.ChannelSuccess = upd.ChannelSuccess
	}
	if upd.ChannelStatus != nil {
		t.ChannelStatus = upd.ChannelStatus
	}
	if upd.AgentDurationMs != nil {
		t.AgentDurationMs = upd.AgentDurationMs
	}
	if upd.TotalDurationMs != nil {
		t.TotalDurationMs = upd.TotalDurationMs
	}
	if upd.Error != nil {
		t.ErrorMessage = *upd.Error
	}
	if upd.CompletedAt != nil {
		t.CompletedAt = upd.CompletedAt
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, traceID string) (Trace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.traces[traceID]
	if !ok {
		return Trace{}, ErrNotFound
	}
	return *t, nil
}

func (s *MemoryStore) ListStages(_ context.Context, traceID string) ([]StageEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StageEntry, len(s.stages[traceID]))
	copy(out, s.stages[traceID])
	return out, nil
}

func (s *MemoryStore) List(_ context.Context, f Filter) ([]Trace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Trace
	for _, t := range s.traces {
		if f.InstanceName != "" && t.InstanceName != f.InstanceName {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.SenderID != "" && t.SenderID != f.SenderID {
			continue
		}
		if f.MinDurationMs > 0 && (t.TotalDurationMs == nil || *t.TotalDurationMs < f.MinDurationMs) {
			continue
		}
		if f.MaxDurationMs > 0 && (t.TotalDurationMs == nil || *t.TotalDurationMs > f.MaxDurationMs) {
			continue
		}
		out = append(out, *t)
	}
	return out, nil
}

func (s *MemoryStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, t := range s.traces {
		if t.ReceivedAt.Before(cutoff) {
			delete(s.traces, id)
			delete(s.stages, id)
			n++
		}
	}
	return n, nil
}
