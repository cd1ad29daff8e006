package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/omnihubio/omnihub/internal/identity"
	"github.com/omnihubio/omnihub/internal/instance"
	"github.com/omnihubio/omnihub/internal/webhook"
)

const chatPath = "/api/agent/chat"

// Client performs the timed call to a tenant's agent endpoint.
type Client struct {
	httpClient     *http.Client
	logger         *slog.Logger
	defaultTimeout time.Duration
}

func NewClient(log *slog.Logger, defaultTimeout time.Duration) *Client {
	return &Client{
		httpClient:     &http.Client{},
		logger:         log.With(slog.String("service", "agent")),
		defaultTimeout: defaultTimeout,
	}
}

// BuildRequest assembles the agent payload from the canonical message and
// the resolved identity. The top-level user id is filled unconditionally;
// an empty resolution falls back to the shared default identity rather
// than omitting the field.
func BuildRequest(msg webhook.InboundMessage, res identity.Resolution) Request {
	userID := res.UserID
	if userID == "" {
		userID = uuid.NewSHA1(uuid.NameSpaceOID, []byte("default")).String()
	}
	req := Request{
		Message:       msg.Content,
		MessageType:   msg.MessageType,
		SessionID:     res.SessionID,
		SessionName:   res.SessionName,
		UserID:        userID,
		SessionOrigin: msg.InstanceName,
	}
	sender := identity.NormalizeSender(msg.SenderID)
	if sender != "" || msg.SenderName != "" {
		profile := &UserProfile{PhoneNumber: sender}
		if msg.SenderName != "" {
			profile.UserData = map[string]any{"name": msg.SenderName}
		}
		req.User = profile
	}
	return req
}

// Call posts the request to the instance's agent endpoint. Failures are
// returned as *CallError so callers can substitute the fallback text.
func (c *Client) Call(ctx context.Context, inst instance.Instance, req Request) (Reply, error) {
	timeout := inst.AgentTimeout(c.defaultTimeout)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return Reply{}, &CallError{Kind: FailureConnection, Err: fmt.Errorf("marshal request: %w", err)}
	}

	endpoint := strings.TrimRight(inst.AgentAPIURL, "/") + chatPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Reply{}, &CallError{Kind: FailureConnection, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if inst.AgentAPIKey != "" {
		httpReq.Header.Set("x-api-key", inst.AgentAPIKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	took := time.Since(start)
	if err != nil {
		kind := FailureConnection
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			kind = FailureTimeout
		}
		c.logger.Error("agent call failed",
			slog.String("instance", inst.Name),
			slog.String("kind", string(kind)),
			slog.Duration("took", took),
			slog.Any("error", err))
		return Reply{}, &CallError{Kind: kind, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Reply{}, &CallError{Kind: FailureConnection, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("agent returned error status",
			slog.String("instance", inst.Name),
			slog.Int("status", resp.StatusCode))
		return Reply{}, &CallError{
			Kind:       FailureRemote,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("status %d", resp.StatusCode),
		}
	}

	var wire wireResponse
	if err := json.Unmarshal(raw, &wire); err != nil {
		// Some agents answer with bare text on success.
		text := strings.TrimSpace(string(raw))
		if text == "" {
			return Reply{}, &CallError{Kind: FailureEmptyReply, Err: fmt.Errorf("unparseable empty response")}
		}
		return Reply{Text: text, Duration: took}, nil
	}

	text := strings.TrimSpace(wire.replyText())
	if text == "" || !wire.succeeded() {
		return Reply{}, &CallError{Kind: FailureEmptyReply, Err: fmt.Errorf("no usable reply text")}
	}

	c.logger.Info("agent replied",
		slog.String("instance", inst.Name),
		slog.Int("chars", len(text)),
		slog.Duration("took", took))
	return Reply{Text: text, SessionID: wire.SessionID, Duration: took}, nil
}
