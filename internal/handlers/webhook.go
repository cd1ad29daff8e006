package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/omnihubio/omnihub/internal/webhook"
)

// maxWebhookBody bounds one inbound webhook payload.
const maxWebhookBody = 8 << 20

// Dispatcher hands normalized messages to the routing pipeline.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg webhook.InboundMessage) (string, error)
}

// WebhookHandler is the channel ingress. It normalizes and acknowledges
// immediately; processing continues asynchronously on the router lanes.
type WebhookHandler struct {
	normalizer *webhook.Normalizer
	router     Dispatcher
	logger     *slog.Logger
}

func NewWebhookHandler(log *slog.Logger, normalizer *webhook.Normalizer, router Dispatcher) *WebhookHandler {
	return &WebhookHandler{
		normalizer: normalizer,
		router:     router,
		logger:     log.With(slog.String("handler", "webhook")),
	}
}

func (h *WebhookHandler) Register(e *echo.Echo) {
	e.POST("/webhook/evolution/:instance", h.HandleEvolution)
}

type webhookAck struct {
	Status   string   `json:"status"`
	Instance string   `json:"instance"`
	TraceID  string   `json:"trace_id,omitempty"`
	TraceIDs []string `json:"trace_ids,omitempty"`
}

// HandleEvolution accepts one phone-bridge webhook. The acknowledgment is
// independent of downstream processing outcome.
func (h *WebhookHandler) HandleEvolution(c echo.Context) error {
	instanceName := c.Param("instance")
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "read body failed")
	}

	messages, err := h.normalizer.Normalize(instanceName, body)
	if err != nil {
		if errors.Is(err, webhook.ErrMalformedPayload) {
			h.logger.Warn("malformed webhook payload",
				slog.String("instance", instanceName),
				slog.Any("error", err))
			return echo.NewHTTPError(http.StatusBadRequest, "malformed payload")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "normalization failed")
	}

	if len(messages) == 0 {
		return c.JSON(http.StatusOK, webhookAck{Status: "ignored", Instance: instanceName})
	}

	traceIDs := make([]string, 0, len(messages))
	for _, msg := range messages {
		traceID, err := h.router.Dispatch(c.Request().Context(), msg)
		if err != nil {
			// Already recorded on the trace; the channel still gets its ack.
			h.logger.Warn("dispatch failed",
				slog.String("instance", instanceName),
				slog.String("trace_id", traceID),
				slog.Any("error", err))
		}
		if traceID != "" {
			traceIDs = append(traceIDs, traceID)
		}
	}

	ack := webhookAck{Status: "success", Instance: instanceName}
	if len(traceIDs) == 1 {
		ack.TraceID = traceIDs[0]
	} else {
		ack.TraceIDs = traceIDs
	}
	return c.JSON(http.StatusOK, ack)
}
