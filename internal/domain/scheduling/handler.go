package scheduling

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carebook/carebook/internal/platform/auth"
	"github.com/carebook/carebook/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Directory and open slots, any authenticated caller
	api.GET("/providers", h.ListProviders)
	api.GET("/providers/:id", h.GetProvider)
	api.GET("/providers/:id/availability", h.ListAvailableSlots)

	// Schedule management: providers on their own schedule only
	provider := api.Group("/providers/:id", auth.RequireRole(auth.RoleProvider))
	provider.PATCH("/schedule-type", h.UpdateScheduleType)
	provider.POST("/availability", h.CreateAvailability)
	provider.PATCH("/availability/:availabilityId", h.UpdateAvailability)
	provider.DELETE("/availability/:availabilityId", h.DeleteAvailability)
	provider.POST("/availability/:availabilityId/slots", h.AddSlot)
	provider.PATCH("/availability/:availabilityId/slots/:slotId", h.UpdateSlot)
	provider.DELETE("/availability/:availabilityId/slots/:slotId", h.DeleteSlot)

	// Bookings
	api.GET("/bookings", h.ListBookings)
	api.POST("/bookings", h.Book, auth.RequireRole(auth.RoleClient))
	api.POST("/bookings/:id/cancel", h.CancelBooking)
	api.POST("/bookings/reschedule", h.RescheduleAll, auth.RequireRole(auth.RoleProvider))
	api.POST("/bookings/reschedule/selected", h.RescheduleSelected, auth.RequireRole(auth.RoleProvider))
}

// toHTTPError maps engine error kinds to status codes. Anything unrecognised
// is a 500 whose cause is kept for the request log.
func toHTTPError(err error) error {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
}

func parseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

// ownProviderID returns the :id path provider when it is the caller.
func ownProviderID(c echo.Context) (uuid.UUID, error) {
	id, err := parseID(c, "id")
	if err != nil {
		return uuid.Nil, err
	}
	if id != auth.UserIDFromContext(c.Request().Context()) {
		return uuid.Nil, echo.NewHTTPError(http.StatusForbidden, "providers may only manage their own schedule")
	}
	return id, nil
}

func caller(c echo.Context) (uuid.UUID, Role) {
	ctx := c.Request().Context()
	return auth.UserIDFromContext(ctx), Role(auth.RoleFromContext(ctx))
}

// -- Provider Handlers --

func (h *Handler) ListProviders(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := ProviderFilter{
		Name:           c.QueryParam("name"),
		Specialization: c.QueryParam("specialization"),
	}
	items, total, err := h.svc.ListProviders(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetProvider(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	p, err := h.svc.GetProvider(c.Request().Context(), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) UpdateScheduleType(c echo.Context) error {
	id, err := ownProviderID(c)
	if err != nil {
		return err
	}
	var body struct {
		ScheduleType ScheduleType `json:"schedule_type"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.svc.UpdateScheduleType(c.Request().Context(), id, body.ScheduleType)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, p)
}

// -- Availability Handlers --

type availabilityResponse struct {
	Availability *AvailabilityWindow `json:"availability"`
	Slots        []*Slot             `json:"slots"`
}

func (h *Handler) CreateAvailability(c echo.Context) error {
	id, err := ownProviderID(c)
	if err != nil {
		return err
	}
	var in AvailabilityInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	w, slots, err := h.svc.CreateAvailability(c.Request().Context(), id, in)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, availabilityResponse{Availability: w, Slots: slots})
}

func (h *Handler) ListAvailableSlots(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	f := SlotFilter{
		Date:    Date(c.QueryParam("date")),
		Session: c.QueryParam("session"),
	}
	items, total, err := h.svc.ListAvailableSlots(c.Request().Context(), id, f, pg.Limit, pg.Offset)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateAvailability(c echo.Context) error {
	id, err := ownProviderID(c)
	if err != nil {
		return err
	}
	windowID, err := parseID(c, "availabilityId")
	if err != nil {
		return err
	}
	var in AvailabilityPatch
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	w, slots, err := h.svc.UpdateAvailability(c.Request().Context(), id, windowID, in)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, availabilityResponse{Availability: w, Slots: slots})
}

func (h *Handler) DeleteAvailability(c echo.Context) error {
	id, err := ownProviderID(c)
	if err != nil {
		return err
	}
	windowID, err := parseID(c, "availabilityId")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteAvailability(c.Request().Context(), id, windowID); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Slot Handlers --

func (h *Handler) AddSlot(c echo.Context) error {
	id, err := ownProviderID(c)
	if err != nil {
		return err
	}
	windowID, err := parseID(c, "availabilityId")
	if err != nil {
		return err
	}
	var in SlotInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	slot, err := h.svc.AddManualSlot(c.Request().Context(), id, windowID, in)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, slot)
}

func (h *Handler) UpdateSlot(c echo.Context) error {
	id, err := ownProviderID(c)
	if err != nil {
		return err
	}
	windowID, err := parseID(c, "availabilityId")
	if err != nil {
		return err
	}
	slotID, err := parseID(c, "slotId")
	if err != nil {
		return err
	}
	var in SlotInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	slot, err := h.svc.UpdateSlot(c.Request().Context(), id, windowID, slotID, in)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, slot)
}

func (h *Handler) DeleteSlot(c echo.Context) error {
	id, err := ownProviderID(c)
	if err != nil {
		return err
	}
	windowID, err := parseID(c, "availabilityId")
	if err != nil {
		return err
	}
	slotID, err := parseID(c, "slotId")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteSlot(c.Request().Context(), id, windowID, slotID); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Booking Handlers --

func (h *Handler) Book(c echo.Context) error {
	var req BookRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	clientID, _ := caller(c)
	conf, err := h.svc.Book(c.Request().Context(), clientID, req)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, conf)
}

func (h *Handler) CancelBooking(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	userID, role := caller(c)
	b, err := h.svc.Cancel(c.Request().Context(), id, userID, role)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, b)
}

// ListBookings lists the caller's bookings. The status filter is only
// offered to clients.
func (h *Handler) ListBookings(c echo.Context) error {
	userID, role := caller(c)
	var (
		items []*BookingView
		err   error
	)
	if status := c.QueryParam("status"); status != "" {
		if role != RoleClient {
			return echo.NewHTTPError(http.StatusForbidden, "status filter is only available to clients")
		}
		items, err = h.svc.ListByStatus(c.Request().Context(), userID, StatusFilter(status))
	} else {
		items, err = h.svc.ListForUser(c.Request().Context(), userID, role)
	}
	if err != nil {
		return toHTTPError(err)
	}
	if items == nil {
		items = []*BookingView{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items, "total": len(items)})
}

type rescheduleRequest struct {
	BookingIDs   []uuid.UUID `json:"booking_ids"`
	ShiftMinutes int         `json:"shift_minutes"`
}

func (h *Handler) RescheduleAll(c echo.Context) error {
	var req rescheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	providerID, _ := caller(c)
	res, err := h.svc.RescheduleAllFuture(c.Request().Context(), providerID, req.ShiftMinutes)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) RescheduleSelected(c echo.Context) error {
	var req rescheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	providerID, _ := caller(c)
	res, err := h.svc.RescheduleSelected(c.Request().Context(), providerID, req.BookingIDs, req.ShiftMinutes)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, res)
}
