package triage

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/clinix/clinix/internal/domain/record"
	"github.com/clinix/clinix/internal/platform/auth"
	"github.com/clinix/clinix/pkg/pagination"
)

// Handler exposes the per-session state machine over HTTP. Session creation
// is unauthenticated; everything else resolves the orchestrator from the
// session token.
type Handler struct {
	sessions *SessionManager
}

func NewHandler(sessions *SessionManager) *Handler {
	return &Handler{sessions: sessions}
}

// RegisterRoutes wires the handler. public carries no auth middleware; api
// is wrapped in the session middleware by the caller.
func (h *Handler) RegisterRoutes(public *echo.Group, api *echo.Group) {
	public.POST("/sessions", h.CreateSession)

	api.DELETE("/session", h.EndSession)
	api.GET("/session", h.GetState)
	api.PUT("/session/language", h.SetLanguage)
	api.PUT("/session/connectivity", h.SetConnectivity)

	api.GET("/notifications", h.ListNotifications)
	api.POST("/notifications/read", h.MarkNotificationsRead)

	triage := api.Group("", auth.RequireRole(string(RoleDoctor), string(RoleNurse), auth.PublicRole))
	triage.POST("/wizard", h.StartWizard)
	triage.POST("/wizard/submit", h.Submit)
	triage.POST("/results/close", h.CloseResults)
	triage.POST("/history/open", h.OpenHistory)
	triage.GET("/history", h.ListHistory)
	triage.POST("/history/:id/select", h.SelectHistoryEntry)
	triage.DELETE("/history/:id", h.DeleteHistoryEntry)
	triage.DELETE("/history", h.ClearHistory)

	clinic := api.Group("", auth.RequireRole(string(RoleDoctor), string(RoleNurse)))
	clinic.POST("/lookup/open", h.OpenCaseLookup)
	clinic.POST("/lookup", h.Lookup)
	clinic.POST("/referrals", h.Refer)
	clinic.POST("/audit/open", h.OpenAuditLog)
	clinic.GET("/audit", h.AuditTrail)

	inbox := api.Group("", auth.RequireRole(string(RoleDoctor), string(RoleNurse), string(RoleSpecialist)))
	inbox.GET("/referrals", h.ListReferrals)
}

// session resolves the caller's orchestrator.
func (h *Handler) session(c echo.Context) (*Orchestrator, error) {
	id := auth.SessionIDFromContext(c.Request().Context())
	o, err := h.sessions.Get(id)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "session expired")
	}
	return o, nil
}

// httpError maps orchestrator sentinels onto HTTP statuses.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrBusy):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrCaseNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "case not found")
	case errors.Is(err, ErrNoResult):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
}

type createSessionRequest struct {
	Role string `json:"role"`
}

func (h *Handler) CreateSession(c echo.Context) error {
	var req createSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Role != auth.PublicRole && !Role(req.Role).Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown role")
	}

	token, o, err := h.sessions.Create(req.Role)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, map[string]any{
		"token": token,
		"state": o.Snapshot(c.Request().Context()),
	})
}

func (h *Handler) EndSession(c echo.Context) error {
	h.sessions.Destroy(auth.SessionIDFromContext(c.Request().Context()))
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) GetState(c echo.Context) error {
	o, err := h.session(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, o.Snapshot(c.Request().Context()))
}

type languageRequest struct {
	Language record.Language `json:"language"`
}

func (h *Handler) SetLanguage(c echo.Context) error {
	o, err := h.session(c)
	if err != nil {
		return err
	}
	var req languageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	o.SetLanguage(req.Language)
	return c.NoContent(http.StatusNoContent)
}

type connectivityRequest struct {
	Online bool `json:"online"`
}

func (h *Handler) SetConnectivity(c echo.Context) error {
	o, err := h.session(c)
	if err != nil {
		return err
	}
	var req connectivityRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	o.SetConnectivity(req.Online)
	return c.JSON(http.StatusOK, o.Snapshot(c.Request().Context()))
}

func (h *Handler) StartWizard(c echo.Context) error {
	o, err := h.session(c)
	if err != nil {
		return err
	}
	id, err := o.StartWizard()
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"patient_id": id.String()})
}

type submitRequest struct {
	Patient     record.PatientData  `json:"patient"`
	Symptoms    record.SymptomsData `json:"symptoms"`
	ImageBase64 string              `json:"image_base64,omitempty"`
}

func (h *Handler) Submit(c echo.Context) error {
	o, err := h.session(c)
	if err != nil {
		return err
	}
	var req submitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	outcome, err := o.Submit(c.Request().Context(), req.Patient, req.Symptoms, req.ImageBase64)
	if err != nil {
		return httpError(err)
	}
	if outcome.Blocked {
		return c.JSON(http.StatusUnprocessableEntity, outcome)
	}
	return c.JSON(http.StatusOK, outcome)
}

func (h *Handler) CloseResults(c echo.Context) error {
	o, err := h.session(c)
	if err != nil {
		return err
	}
	if err := o.GoHome(); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, o.Snapshot(c.Request().Context()))
}

func (h *Handler) Refer(c echo.Context) error {
	o, err := h.session(c)
	if err != nil {
		return err
	}
	ref, err := o.Refer()
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, ref)
}

func (h *Handler) ListReferrals(c echo.Context) error {
	o, err := h.session(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, o.Referrals())
}

func (h *Handler) OpenHistory(c echo.Context) error {
	o, err := h.session(c)
	if err != nil {
		return err
	}
	entries, err := o.OpenHistory(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, entries)
}

func (h *Handler) ListHistory(c echo.Context) error {
	o, err := h.session(c)
	if err != nil {
		return err
	}
	entries := o.ListHistory(c.Request().Context())

	pg := pagination.FromContext(c)
	total := len(entries)
	start := pg.Offset
	if start > total {
		start = total
	}
	end := start + pg.Limit
	if end > total {
		end = total
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(entries[start:end], total, pg.Limit, pg.Offset))
}

func (h *Handler) SelectHistoryEntry(c echo.Context) error {
	o, err := h.session(c)
	if err != nil {
		return err
	}
	entry, err := o.SelectHistoryEntry(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, entry)
}

func (h *Handler) DeleteHistoryEntry(c echo.Context) error {
	o, err := h.session(c)
	if err != nil {
		return err
	}
	if err := o.DeleteHistoryEntry(c.Request().Context(), c.Param("id")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ClearHistory(c echo.Context) error {
	o, err := h.session(c)
	if err != nil {
		return err
	}
	if err := o.ClearHistory(c.Request().Context()); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) OpenCaseLookup(c echo.Context) error {
	o, err := h.session(c)
	if err != nil {
		return err
	}
	if err := o.OpenCaseLookup(); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type lookupRequest struct {
	CaseID string `json:"case_id"`
}

func (h *Handler) Lookup(c echo.Context) error {
	o, err := h.session(c)
	if err != nil {
		return err
	}
	var req lookupRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	entry, err := o.Lookup(c.Request().Context(), req.CaseID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, entry)
}

func (h *Handler) OpenAuditLog(c echo.Context) error {
	o, err := h.session(c)
	if err != nil {
		return err
	}
	if err := o.OpenAuditLog(); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) AuditTrail(c echo.Context) error {
	o, err := h.session(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, o.AuditTrail())
}

func (h *Handler) ListNotifications(c echo.Context) error {
	o, err := h.session(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, o.Notifications().List())
}

func (h *Handler) MarkNotificationsRead(c echo.Context) error {
	o, err := h.session(c)
	if err != nil {
		return err
	}
	o.Notifications().MarkAllRead()
	return c.NoContent(http.StatusNoContent)
}
