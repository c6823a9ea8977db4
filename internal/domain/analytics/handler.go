package analytics

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/clinix/clinix/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	role := auth.RequireRole("doctor", "nurse")
	api.GET("/analytics/dashboard", h.GetDashboard, role)
	api.POST("/analytics/refresh", h.Refresh, role)
}

func (h *Handler) GetDashboard(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.Dashboard(c.Request().Context()))
}

func (h *Handler) Refresh(c echo.Context) error {
	h.svc.Invalidate()
	return c.JSON(http.StatusOK, h.svc.Dashboard(c.Request().Context()))
}
