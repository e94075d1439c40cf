package lab

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medigen/labreport/internal/platform/auth"
	"github.com/medigen/labreport/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints – admin, lab_tech, physician
	readGroup := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleLabTech, auth.RolePhysician))
	readGroup.GET("/test-groups", h.ListGroups)
	readGroup.GET("/test-groups/:groupId", h.GetGroup)
	readGroup.GET("/reports", h.ListReports)
	readGroup.GET("/reports/:reportId", h.GetReport)

	// Write endpoints – admin, lab_tech
	writeGroup := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleLabTech))
	writeGroup.POST("/test-groups", h.CreateGroup)
	writeGroup.PUT("/test-groups/:groupId", h.EditGroup)
	writeGroup.DELETE("/test-groups/:groupId", h.DeleteGroup)
	writeGroup.POST("/test-groups/:groupId/publish", h.Publish)
	writeGroup.POST("/test-groups/_publish", h.PublishGroups)
	writeGroup.POST("/test-groups/_delete", h.DeleteGroups)

	// Narrative – admin, physician
	api.POST("/reports/:reportId/augment", h.Augment, auth.RequireRole(auth.RoleAdmin, auth.RolePhysician))

	// Admin only
	adminGroup := api.Group("", auth.RequireRole(auth.RoleAdmin))
	adminGroup.DELETE("/reports/:reportId", h.DeleteReport)
	adminGroup.POST("/reports/_delete", h.DeleteReports)
	adminGroup.GET("/stats", h.Stats)
}

type createGroupRequest struct {
	PatientID uuid.UUID   `json:"patient_id"`
	Results   []NewResult `json:"results"`
}

type editGroupRequest struct {
	Results []ResultEdit `json:"results"`
}

type idsRequest struct {
	IDs []string `json:"ids"`
}

// httpError maps service error kinds onto HTTP statuses. Unknown errors are
// not echoed back to the client.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrConcurrency):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrAugmentationFailed):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
	}
}

func actor(c echo.Context) string {
	return auth.UserIDFromContext(c.Request().Context())
}

func groupParam(c echo.Context) (string, error) {
	id := c.Param("groupId")
	if _, err := ParseIdentifier(KindGroup, id); err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, "invalid group id")
	}
	return id, nil
}

func reportParam(c echo.Context) (string, error) {
	id := c.Param("reportId")
	if _, err := ParseIdentifier(KindReport, id); err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, "invalid report id")
	}
	return id, nil
}

// -- Test Group Handlers --

func (h *Handler) CreateGroup(c echo.Context) error {
	var req createGroupRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.PatientID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}
	g, err := h.svc.CreateGroup(c.Request().Context(), req.PatientID, req.Results, actor(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, g)
}

func (h *Handler) GetGroup(c echo.Context) error {
	id, err := groupParam(c)
	if err != nil {
		return err
	}
	g, err := h.svc.GetGroup(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, g)
}

// ListGroups pages through the lazy group sequence; offset groups are
// skipped before limit groups are collected.
func (h *Handler) ListGroups(c echo.Context) error {
	state := GroupState(c.QueryParam("state"))
	if state == "" {
		state = GroupDraft
	}
	pg := pagination.FromContext(c)
	items := make([]*Group, 0, pg.Limit)
	skipped := 0
	hasMore := false
	for g, err := range h.svc.ListGroups(c.Request().Context(), state, pg.Limit) {
		if err != nil {
			return httpError(err)
		}
		if skipped < pg.Offset {
			skipped++
			continue
		}
		if len(items) == pg.Limit {
			hasMore = true
			break
		}
		items = append(items, g)
	}
	return c.JSON(http.StatusOK, pagination.NewCursorResponse(items, pg.Limit, pg.Offset, hasMore))
}

func (h *Handler) EditGroup(c echo.Context) error {
	id, err := groupParam(c)
	if err != nil {
		return err
	}
	var req editGroupRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	g, err := h.svc.EditGroup(c.Request().Context(), id, req.Results, actor(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, g)
}

func (h *Handler) DeleteGroup(c echo.Context) error {
	id, err := groupParam(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteGroup(c.Request().Context(), id, actor(c)); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) DeleteGroups(c echo.Context) error {
	var req idsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	n, err := h.svc.DeleteGroups(c.Request().Context(), req.IDs, actor(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"deleted": n})
}

// -- Report Handlers --

func (h *Handler) Publish(c echo.Context) error {
	id, err := groupParam(c)
	if err != nil {
		return err
	}
	r, err := h.svc.Publish(c.Request().Context(), id, actor(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, r)
}

// PublishGroups always answers 200 with a per-group outcome; individual
// failures do not fail the request.
func (h *Handler) PublishGroups(c echo.Context) error {
	var req idsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	out, err := h.svc.PublishGroups(c.Request().Context(), req.IDs, actor(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"results": out})
}

func (h *Handler) GetReport(c echo.Context) error {
	id, err := reportParam(c)
	if err != nil {
		return err
	}
	detail, err := h.svc.GetReport(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, detail)
}

func (h *Handler) ListReports(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := ReportFilter{Status: ReportStatus(c.QueryParam("status"))}
	if pid := c.QueryParam("patient_id"); pid != "" {
		id, err := uuid.Parse(pid)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		f.PatientID = &id
	}
	items, total, err := h.svc.ListReports(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Augment(c echo.Context) error {
	id, err := reportParam(c)
	if err != nil {
		return err
	}
	r, err := h.svc.Augment(c.Request().Context(), id, actor(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) DeleteReport(c echo.Context) error {
	id, err := reportParam(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteReport(c.Request().Context(), id, actor(c)); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) DeleteReports(c echo.Context) error {
	var req idsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	n, err := h.svc.DeleteReports(c.Request().Context(), req.IDs, actor(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"deleted": n})
}

func (h *Handler) Stats(c echo.Context) error {
	st, err := h.svc.Stats(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, st)
}
