package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/omnihubio/omnihub/internal/access"
)

// AccessHandler manages allow/block rules for an instance.
type AccessHandler struct {
	rules     *access.PGRuleStore
	evaluator *access.Evaluator
	validate  *validator.Validate
	logger    *slog.Logger
}

func NewAccessHandler(log *slog.Logger, rules *access.PGRuleStore, evaluator *access.Evaluator) *AccessHandler {
	return &AccessHandler{
		rules:     rules,
		evaluator: evaluator,
		validate:  validator.New(),
		logger:    log.With(slog.String("handler", "access")),
	}
}

func (h *AccessHandler) Register(e *echo.Echo) {
	group := e.Group("/api/instances/:name/access-rules")
	group.GET("", h.List)
	group.POST("", h.Add)
	group.DELETE("", h.Delete)
}

func (h *AccessHandler) List(c echo.Context) error {
	rules, err := h.rules.List(c.Request().Context(), c.Param("name"))
	if err != nil {
		h.logger.Error("rule listing failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "rule listing failed")
	}
	return c.JSON(http.StatusOK, rules)
}

func (h *AccessHandler) Add(c echo.Context) error {
	var rule access.Rule
	if err := c.Bind(&rule); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	rule.InstanceName = c.Param("name")
	if err := h.validate.Struct(rule); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.rules.Add(c.Request().Context(), rule); err != nil {
		h.logger.Error("rule add failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "rule add failed")
	}
	h.evaluator.Invalidate(rule.InstanceName)
	return c.JSON(http.StatusCreated, rule)
}

func (h *AccessHandler) Delete(c echo.Context) error {
	instanceName := c.Param("name")
	senderID := c.QueryParam("sender")
	action := access.Action(c.QueryParam("action"))
	if senderID == "" || (action != access.ActionAllow && action != access.ActionBlock) {
		return echo.NewHTTPError(http.StatusBadRequest, "sender and action=allow|block are required")
	}
	if err := h.rules.Delete(c.Request().Context(), instanceName, senderID, action); err != nil {
		h.logger.Error("rule delete failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "rule delete failed")
	}
	h.evaluator.Invalidate(instanceName)
	return c.NoContent(http.StatusNoContent)
}
