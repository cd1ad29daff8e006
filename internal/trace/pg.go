package trace

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a trace id has no record.
var ErrNotFound = errors.New("trace not found")

const traceColumns = `trace_id, instance_name, channel_message_id, sender_id, sender_name,
	message_type, message_content, response_content, status, degraded,
	channel_success, channel_status_code, agent_duration_ms, total_duration_ms,
	error_message, received_at, completed_at`

// PGStore persists traces in Postgres.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) Create(ctx context.Context, t Trace) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO traces (trace_id, instance_name, channel_message_id, sender_id,
			sender_name, message_type, message_content, status, received_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.TraceID, t.InstanceName, emptyToNil(t.ChannelMessageID), t.SenderID,
		emptyToNil(t.SenderName), emptyToNil(t.MessageType), emptyToNil(t.MessageContent),
		t.Status, t.ReceivedAt)
	if err != nil {
		return fmt.Errorf("create trace %s: %w", t.TraceID, err)
	}
	return nil
}

func (s *PGStore) AppendStage(ctx context.Context, e StageEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO trace_stages (trace_id, stage, status, error, duration_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.TraceID, e.Stage, e.Status, emptyToNil(e.Error), e.DurationMs, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("append stage %s/%s: %w", e.TraceID, e.Stage, err)
	}
	return nil
}

func (s *PGStore) UpdateStatus(ctx context.Context, traceID string, upd StatusUpdate) error {
	sets := []string{"status = $2"}
	args := []any{traceID, upd.Status}
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if upd.Degraded != nil {
		add("degraded", *upd.Degraded)
	}
	if upd.ResponseContent != nil {
		add("response_content", *upd.ResponseContent)
	}
	if upd.ChannelSuccess != nil {
		add("channel_success", *upd.ChannelSuccess)
	}
	if upd.ChannelStatus != nil {
		add("channel_status_code", *upd.ChannelStatus)
	}
	if upd.AgentDurationMs != nil {
		add("agent_duration_ms", *upd.AgentDurationMs)
	}
	if upd.TotalDurationMs != nil {
		add("total_duration_ms", *upd.TotalDurationMs)
	}
	if upd.Error != nil {
		add("error_message", *upd.Error)
	}
	if upd.CompletedAt != nil {
		add("completed_at", *upd.CompletedAt)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE traces SET `+strings.Join(sets, ", ")+` WHERE trace_id = $1`, args...)
	if err != nil {
		return fmt.Errorf("update trace %s: %w", traceID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) Get(ctx context.Context, traceID string) (Trace, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+traceColumns+` FROM traces WHERE trace_id = $1`, traceID)
	t, err := scanTrace(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Trace{}, ErrNotFound
	}
	if err != nil {
		return Trace{}, fmt.Errorf("get trace %s: %w", traceID, err)
	}
	return t, nil
}

func (s *PGStore) ListStages(ctx context.Context, traceID string) ([]StageEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT trace_id, stage, status, error, duration_ms, created_at
		 FROM trace_stages WHERE trace_id = $1 ORDER BY created_at, id`, traceID)
	if err != nil {
		return nil, fmt.Errorf("list stages %s: %w", traceID, err)
	}
	defer rows.Close()

	var out []StageEntry
	for rows.Next() {
		var e StageEntry
		var errText *string
		if err := rows.Scan(&e.TraceID, &e.Stage, &e.Status, &errText, &e.DurationMs, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan stage: %w", err)
		}
		if errText != nil {
			e.Error = *errText
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PGStore) List(ctx context.Context, f Filter) ([]Trace, error) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.InstanceName != "" {
		add("instance_name = $%d", f.InstanceName)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.SenderID != "" {
		add("sender_id = $%d", f.SenderID)
	}
	if f.MinDurationMs > 0 {
		add("total_duration_ms >= $%d", f.MinDurationMs)
	}
	if f.MaxDurationMs > 0 {
		add("total_duration_ms <= $%d", f.MaxDurationMs)
	}

	query := `SELECT ` + traceColumns + ` FROM traces`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY received_at DESC`
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT %d`, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list traces: %w", err)
	}
	defer rows.Close()

	var out []Trace
	for rows.Next() {
		t, err := scanTrace(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trace: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PGStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM traces WHERE received_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old traces: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanTrace(row pgx.Row) (Trace, error) {
	var t Trace
	var msgID, senderName, msgType, content, response, errMsg *string
	err := row.Scan(&t.TraceID, &t.InstanceName, &msgID, &t.SenderID, &senderName,
		&msgType, &content, &response, &t.Status, &t.Degraded,
		&t.ChannelSuccess, &t.ChannelStatus, &t.AgentDurationMs, &t.TotalDurationMs,
		&errMsg, &t.ReceivedAt, &t.CompletedAt)
	if err != nil {
		return Trace{}, err
	}
	t.ChannelMessageID = derefStr(msgID)
	t.SenderName = derefStr(senderName)
	t.MessageType = derefStr(msgType)
	t.MessageContent = derefStr(content)
	t.ResponseContent = derefStr(response)
	t.ErrorMessage = derefStr(errMsg)
	return t, nil
}

func emptyToNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
