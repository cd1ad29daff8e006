package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/omnihubio/omnihub/internal/trace"
)

// TraceHandler exposes the trace query surface.
type TraceHandler struct {
	traces *trace.Service
	logger *slog.Logger
}

func NewTraceHandler(log *slog.Logger, traces *trace.Service) *TraceHandler {
	return &TraceHandler{
		traces: traces,
		logger: log.With(slog.String("handler", "traces")),
	}
}

func (h *TraceHandler) Register(e *echo.Echo) {
	group := e.Group("/api/traces")
	group.GET("", h.List)
	group.GET("/:trace_id", h.Get)
	group.GET("/:trace_id/stages", h.Stages)
}

func (h *TraceHandler) Get(c echo.Context) error {
	t, err := h.traces.Get(c.Request().Context(), c.Param("trace_id"))
	if errors.Is(err, trace.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "trace not found")
	}
	if err != nil {
		h.logger.Error("trace lookup failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "trace lookup failed")
	}
	return c.JSON(http.StatusOK, t)
}

func (h *TraceHandler) Stages(c echo.Context) error {
	stages, err := h.traces.Stages(c.Request().Context(), c.Param("trace_id"))
	if err != nil {
		h.logger.Error("stage listing failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "stage listing failed")
	}
	return c.JSON(http.StatusOK, stages)
}

func (h *TraceHandler) List(c echo.Context) error {
	f := trace.Filter{
		InstanceName: c.QueryParam("instance"),
		Status:       trace.Status(c.QueryParam("status")),
		SenderID:     c.QueryParam("sender"),
	}
	if v := c.QueryParam("min_duration_ms"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid min_duration_ms")
		}
		f.MinDurationMs = ms
	}
	if v := c.QueryParam("max_duration_ms"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid max_duration_ms")
		}
		f.MaxDurationMs = ms
	}
	if v := c.QueryParam("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		f.Limit = limit
	}

	traces, err := h.traces.List(c.Request().Context(), f)
	if err != nil {
		h.logger.Error("trace listing failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "trace listing failed")
	}
	return c.JSON(http.StatusOK, traces)
}
