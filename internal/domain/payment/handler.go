package payment

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/vaxflow/vaxflow/internal/platform/apperr"
	"github.com/vaxflow/vaxflow/internal/platform/auth"
)

type Handler struct {
	engine *Engine
}

func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterRoutes mounts the authenticated payment endpoints.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	payments := api.Group("/payments")
	payments.POST("/intents", h.CreateIntent, auth.RequireRole(auth.RoleGuardian, auth.RoleCashier))
	payments.GET("/intents/:orderId/status", h.CheckStatus, auth.RequireRole(auth.RoleGuardian, auth.RoleCashier))
	payments.POST("/cash", h.RecordCash, auth.RequireRole(auth.RoleCashier))
	payments.GET("/appointments/:id/history", h.History, auth.RequireRole(auth.RoleCashier, auth.RoleReceptionist))
}

// RegisterCallbackRoute mounts the provider callback outside the
// authenticated group; the provider does not carry our tokens.
func (h *Handler) RegisterCallbackRoute(e *echo.Echo) {
	e.GET("/payments/callback", h.Callback)
}

type createIntentRequest struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	RequestType   string    `json:"request_type"`
	ReturnURL     string    `json:"return_url,omitempty"`
}

func (h *Handler) CreateIntent(c echo.Context) error {
	var req createIntentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.AppointmentID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "appointment_id is required")
	}
	intent, err := h.engine.CreateIntent(c.Request().Context(), req.AppointmentID, req.RequestType, req.ReturnURL)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, intent)
}

func (h *Handler) CheckStatus(c echo.Context) error {
	intent, err := h.engine.CheckStatus(c.Request().Context(), c.Param("orderId"))
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, intent)
}

func (h *Handler) Callback(c echo.Context) error {
	amount, _ := strconv.ParseInt(c.QueryParam("amount"), 10, 64)
	p := CallbackParams{
		OrderID:       c.QueryParam("orderId"),
		AppointmentID: c.QueryParam("appointmentId"),
		ResultCode:    c.QueryParam("resultCode"),
		Amount:        amount,
		TransactionID: c.QueryParam("transId"),
		Message:       c.QueryParam("message"),
	}
	intent, err := h.engine.HandleCallback(c.Request().Context(), p)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"order_id": intent.OrderID,
		"status":   intent.Status,
	})
}

type cashRequest struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	Amount        int64     `json:"amount"`
	Notes         *string   `json:"notes,omitempty"`
}

func (h *Handler) RecordCash(c echo.Context) error {
	var req cashRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.AppointmentID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "appointment_id is required")
	}
	actor := auth.UserIDFromContext(c.Request().Context())
	cashierID, err := uuid.Parse(actor)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "acting user has no valid id")
	}
	cp, err := h.engine.RecordCash(c.Request().Context(), req.AppointmentID, req.Amount, cashierID, req.Notes)
	if err != nil {
		return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, cp)
}

func (h *Handler) History(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	records, err := h.engine.History(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": records})
}
