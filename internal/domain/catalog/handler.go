package catalog

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/vaxflow/vaxflow/internal/platform/apperr"
	"github.com/vaxflow/vaxflow/internal/platform/auth"
	"github.com/vaxflow/vaxflow/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	browse := api.Group("/catalog", auth.RequireRole(auth.RoleGuardian, auth.RoleReceptionist))
	browse.GET("/selectable", h.Selectable)
	browse.GET("/items", h.ListItems)

	admin := api.Group("/catalog", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/items", h.CreateItem)
	admin.POST("/combos", h.CreateCombo)

	doctor := api.Group("/doses", auth.RequireRole(auth.RoleDoctor))
	doctor.POST("/:id/reschedule", h.RescheduleDose)
}

// Selectable handles GET /catalog/selectable?child_id=&request_type=.
func (h *Handler) Selectable(c echo.Context) error {
	childID, err := uuid.Parse(c.QueryParam("child_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid child_id")
	}
	requestType := c.QueryParam("request_type")

	items, err := h.svc.ResolveSelectable(c.Request().Context(), childID, requestType)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	if items == nil {
		items = []Selectable{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items})
}

func (h *Handler) ListItems(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListItems(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) CreateItem(c echo.Context) error {
	var item VaccineCatalogItem
	if err := c.Bind(&item); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateItem(c.Request().Context(), &item); err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, item)
}

func (h *Handler) CreateCombo(c echo.Context) error {
	var combo VaccineCombo
	if err := c.Bind(&combo); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateCombo(c.Request().Context(), &combo); err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, combo)
}

type rescheduleRequest struct {
	ScheduledDate time.Time `json:"scheduled_date"`
}

// RescheduleDose handles POST /doses/:id/reschedule.
func (h *Handler) RescheduleDose(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req rescheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ScheduledDate.IsZero() {
		return echo.NewHTTPError(http.StatusBadRequest, "scheduled_date is required")
	}
	d, err := h.svc.RescheduleDose(c.Request().Context(), id, req.ScheduledDate)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, d)
}
