package trace

import (
	"context"
	"time"
)

// Status is the overall lifecycle status of one trace.
type Status string

const (
	StatusReceived    Status = "received"
	StatusProcessing  Status = "processing"
	StatusAgentCalled Status = "agent_called"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusBlocked     Status = "blocked"
)

// Stage names one step of the routing pipeline.
type Stage string

const (
	StageWebhookReceived    Stage = "webhook_received"
	StageValidatingInstance Stage = "validating_instance"
	StageAccessChecking     Stage = "access_checking"
	StageIdentityResolving  Stage = "identity_resolving"
	StageAgentCalling       Stage = "agent_calling"
	StageFormatting         Stage = "formatting"
	StageSending            Stage = "sending"
)

// StageStatus qualifies one stage entry.
type StageStatus string

const (
	StageStarted   StageStatus = "started"
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
	StageAnomaly   StageStatus = "anomaly"
)

// Trace is the system of record for one inbound message's processing.
// Mutation is restricted to appending stage entries and status updates.
type Trace struct {
	TraceID          string     `json:"trace_id"`
	InstanceName     string     `json:"instance_name"`
	ChannelMessageID string     `json:"channel_message_id,omitempty"`
	SenderID         string     `json:"sender_id"`
	SenderName       string     `json:"sender_name,omitempty"`
	MessageType      string     `json:"message_type,omitempty"`
	MessageContent   string     `json:"message_content,omitempty"`
	ResponseContent  string     `json:"response_content,omitempty"`
	Status           Status     `json:"status"`
	Degraded         bool       `json:"degraded"`
	ChannelSuccess   *bool      `json:"channel_success,omitempty"`
	ChannelStatus    *int       `json:"channel_status_code,omitempty"`
	AgentDurationMs  *int64     `json:"agent_duration_ms,omitempty"`
	TotalDurationMs  *int64     `json:"total_duration_ms,omitempty"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	ReceivedAt       time.Time  `json:"received_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// StageEntry is one append-only record in a trace's stage log.
type StageEntry struct {
	TraceID    string      `json:"trace_id"`
	Stage      Stage       `json:"stage"`
	Status     StageStatus `json:"status"`
	Error      string      `json:"error,omitempty"`
	DurationMs *int64      `json:"duration_ms,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// StatusUpdate mutates the trace header. Nil fields are left untouched.
type StatusUpdate struct {
	Status          Status
	Degraded        *bool
	ResponseContent *string
	ChannelSuccess  *bool
	ChannelStatus   *int
	AgentDurationMs *int64
	TotalDurationMs *int64
	Error           *string
	CompletedAt     *time.Time
}

// Filter narrows trace listings.
type Filter struct {
	InstanceName  string
	Status        Status
	SenderID      string
	MinDurationMs int64
	MaxDurationMs int64
	Limit         int
}

// Store persists traces and their stage logs. Appends within one trace id
// must be observed in call order; callers serialize per trace.
type Store interface {
	Create(ctx context.Context, t Trace) error
	AppendStage(ctx context.Context, e StageEntry) error
	UpdateStatus(ctx context.Context, traceID string, upd StatusUpdate) error
	Get(ctx context.Context, traceID string) (Trace, error)
	ListStages(ctx context.Context, traceID string) ([]StageEntry, error)
	List(ctx context.Context, f Filter) ([]Trace, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
