package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/omnihubio/omnihub/internal/auth"
	"github.com/omnihubio/omnihub/internal/instance"
)

// InstanceHandler manages tenant instance configuration.
type InstanceHandler struct {
	instances *instance.Service
	validate  *validator.Validate
	logger    *slog.Logger
}

func NewInstanceHandler(log *slog.Logger, instances *instance.Service) *InstanceHandler {
	return &InstanceHandler{
		instances: instances,
		validate:  validator.New(),
		logger:    log.With(slog.String("handler", "instances")),
	}
}

func (h *InstanceHandler) Register(e *echo.Echo) {
	group := e.Group("/api/instances")
	group.GET("", h.List)
	group.POST("", h.Create)
	group.GET("/:name", h.Get)
	group.PUT("/:name", h.Update)
	group.DELETE("/:name", h.Delete)
}

func (h *InstanceHandler) List(c echo.Context) error {
	instances, err := h.instances.List(c.Request().Context())
	if err != nil {
		h.logger.Error("instance listing failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "instance listing failed")
	}
	return c.JSON(http.StatusOK, instances)
}

func (h *InstanceHandler) Get(c echo.Context) error {
	inst, err := h.instances.Get(c.Request().Context(), c.Param("name"))
	if errors.Is(err, instance.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "instance not found")
	}
	if err != nil {
		h.logger.Error("instance lookup failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "instance lookup failed")
	}
	return c.JSON(http.StatusOK, inst)
}

func (h *InstanceHandler) Create(c echo.Context) error {
	var inst instance.Instance
	if err := c.Bind(&inst); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if err := h.validate.Struct(inst); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	created, err := h.instances.Create(c.Request().Context(), inst)
	if err != nil {
		h.logger.Error("instance create failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "instance create failed")
	}
	h.logger.Info("instance created",
		slog.String("instance", created.Name),
		slog.String("actor", h.actor(c)))
	return c.JSON(http.StatusCreated, created)
}

func (h *InstanceHandler) Update(c echo.Context) error {
	var inst instance.Instance
	if err := c.Bind(&inst); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	inst.Name = c.Param("name")
	if err := h.validate.Struct(inst); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	updated, err := h.instances.Update(c.Request().Context(), inst)
	if errors.Is(err, instance.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "instance not found")
	}
	if err != nil {
		h.logger.Error("instance update failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "instance update failed")
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *InstanceHandler) Delete(c echo.Context) error {
	err := h.instances.Delete(c.Request().Context(), c.Param("name"))
	if errors.Is(err, instance.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "instance not found")
	}
	if err != nil {
		h.logger.Error("instance delete failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "instance delete failed")
	}
	h.logger.Info("instance deleted",
		slog.String("instance", c.Param("name")),
		slog.String("actor", h.actor(c)))
	return c.NoContent(http.StatusNoContent)
}

// actor names the authenticated user for audit logs. Webhook routes skip
// auth, so mutations here always carry a token.
func (h *InstanceHandler) actor(c echo.Context) string {
	userID, err := auth.UserIDFromContext(c)
	if err != nil {
		return "unknown"
	}
	return userID
}
