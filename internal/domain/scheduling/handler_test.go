package scheduling

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carebook/carebook/internal/platform/auth"
)

func newTestHandler() (*Handler, *echo.Echo, *memStore) {
	svc, st := newTestService()
	h := NewHandler(svc)
	e := echo.New()
	return h, e, st
}

// newCtx builds an echo context carrying the caller's identity, the way the
// auth middleware leaves it.
func newCtx(e *echo.Echo, method, target, body string, userID uuid.UUID, role string) (echo.Context, *httptest.ResponseRecorder) {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req = req.WithContext(auth.WithIdentity(req.Context(), userID, role))
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func expectHTTPStatus(t *testing.T, err error, want int) {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected HTTP error %d, got %v", want, err)
	}
	if he.Code != want {
		t.Errorf("expected status %d, got %d (%v)", want, he.Code, he.Message)
	}
}

func TestToHTTPError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{ErrSlotNotFound, http.StatusNotFound},
		{ErrSlotFull, http.StatusConflict},
		{ErrInvalidShift, http.StatusConflict},
		{ErrSlotBusy, http.StatusConflict},
		{ErrNotBookingParty, http.StatusForbidden},
		{validationf("bad"), http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", ErrHasBookings), http.StatusConflict},
		{echo.NewHTTPError(http.StatusTeapot, "tea"), http.StatusTeapot},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			expectHTTPStatus(t, toHTTPError(tt.err), tt.want)
		})
	}

	he := toHTTPError(errors.New("db down")).(*echo.HTTPError)
	if he.Message != "internal server error" || he.Internal == nil {
		t.Errorf("expected internal cause hidden from message, got %+v", he)
	}
}

func TestHandler_Book(t *testing.T) {
	h, e, _ := newTestHandler()
	p := seedProvider(t, h.svc, "Dr Rao", ScheduleStream)
	alice := seedClient(t, h.svc, "alice")
	bob := seedClient(t, h.svc, "bob")
	_, slots := seedWindow(t, h.svc, p, bookDate, "09:00", "10:00", 30)

	body := fmt.Sprintf(`{"provider_id":%q,"date":"2026-03-12","start_time":"09:00","end_time":"09:30"}`, p.ID)
	c, rec := newCtx(e, http.MethodPost, "/api/v1/bookings", body, alice.ID, auth.RoleClient)
	if err := h.Book(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var conf BookingConfirmation
	if err := json.Unmarshal(rec.Body.Bytes(), &conf); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if conf.ReportingTime.String() != "09:00" || conf.Time != "09:00 - 09:30" {
		t.Errorf("unexpected confirmation %+v", conf)
	}

	body = fmt.Sprintf(`{"provider_id":%q,"slot_id":%q}`, p.ID, slots[0].ID)
	c, _ = newCtx(e, http.MethodPost, "/api/v1/bookings", body, bob.ID, auth.RoleClient)
	expectHTTPStatus(t, h.Book(c), http.StatusConflict)
}

func TestHandler_Book_BadRequest(t *testing.T) {
	h, e, _ := newTestHandler()
	alice := seedClient(t, h.svc, "alice")

	tests := []struct {
		name string
		body string
	}{
		{"malformed time", `{"provider_id":"` + uuid.New().String() + `","date":"2026-03-12","start_time":"9am","end_time":"10am"}`},
		{"missing provider", `{"date":"2026-03-12","start_time":"09:00","end_time":"09:30"}`},
		{"malformed date", `{"provider_id":"` + uuid.New().String() + `","date":"12/03/2026"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newCtx(e, http.MethodPost, "/api/v1/bookings", tt.body, alice.ID, auth.RoleClient)
			expectHTTPStatus(t, h.Book(c), http.StatusBadRequest)
		})
	}
}

func TestHandler_CancelBooking(t *testing.T) {
	h, e, _ := newTestHandler()
	p := seedProvider(t, h.svc, "Dr Rao", ScheduleStream)
	alice := seedClient(t, h.svc, "alice")
	stranger := seedClient(t, h.svc, "eve")
	_, slots := seedWindow(t, h.svc, p, bookDate, "09:00", "10:00", 30)
	conf := book(t, h.svc, alice, p, slots[0])

	cancel := func(userID uuid.UUID, role, id string) (*httptest.ResponseRecorder, error) {
		c, rec := newCtx(e, http.MethodPost, "/", "", userID, role)
		c.SetParamNames("id")
		c.SetParamValues(id)
		return rec, h.CancelBooking(c)
	}

	_, err := cancel(stranger.ID, auth.RoleClient, conf.BookingID.String())
	expectHTTPStatus(t, err, http.StatusForbidden)

	_, err = cancel(p.ID, auth.RoleProvider, uuid.New().String())
	expectHTTPStatus(t, err, http.StatusNotFound)

	_, err = cancel(p.ID, auth.RoleProvider, "not-a-uuid")
	expectHTTPStatus(t, err, http.StatusBadRequest)

	rec, err := cancel(p.ID, auth.RoleProvider, conf.BookingID.String())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"cancelled"`) {
		t.Errorf("unexpected response %d %s", rec.Code, rec.Body.String())
	}

	_, err = cancel(alice.ID, auth.RoleClient, conf.BookingID.String())
	expectHTTPStatus(t, err, http.StatusConflict)
}

func TestHandler_CreateAvailability(t *testing.T) {
	h, e, _ := newTestHandler()
	p := seedProvider(t, h.svc, "Dr Rao", ScheduleStream)
	other := seedProvider(t, h.svc, "Dr Other", ScheduleStream)
	body := `{"date":"2026-03-12","start_time":"09:00","end_time":"10:00","session":"Morning","slot_duration":30}`

	c, rec := newCtx(e, http.MethodPost, "/", body, p.ID, auth.RoleProvider)
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())
	if err := h.CreateAvailability(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var resp struct {
		Availability AvailabilityWindow `json:"availability"`
		Slots        []Slot             `json:"slots"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Slots) != 2 || resp.Slots[1].StartTime.String() != "09:30" {
		t.Errorf("unexpected slots %+v", resp.Slots)
	}

	c, _ = newCtx(e, http.MethodPost, "/", body, p.ID, auth.RoleProvider)
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())
	expectHTTPStatus(t, h.CreateAvailability(c), http.StatusConflict)

	c, _ = newCtx(e, http.MethodPost, "/", body, other.ID, auth.RoleProvider)
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())
	expectHTTPStatus(t, h.CreateAvailability(c), http.StatusForbidden)
}

func TestHandler_DeleteAvailability(t *testing.T) {
	h, e, _ := newTestHandler()
	p := seedProvider(t, h.svc, "Dr Rao", ScheduleStream)
	c0 := seedClient(t, h.svc, "alice")
	empty, _ := seedWindow(t, h.svc, p, bookDate, "09:00", "10:00", 30)
	busy, slots := seedWindow(t, h.svc, p, "2026-03-13", "09:00", "10:00", 30)
	book(t, h.svc, c0, p, slots[0])

	del := func(windowID uuid.UUID) (echo.Context, *httptest.ResponseRecorder) {
		c, rec := newCtx(e, http.MethodDelete, "/", "", p.ID, auth.RoleProvider)
		c.SetParamNames("id", "availabilityId")
		c.SetParamValues(p.ID.String(), windowID.String())
		return c, rec
	}

	c, rec := del(empty.ID)
	if err := h.DeleteAvailability(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}

	c, _ = del(busy.ID)
	expectHTTPStatus(t, h.DeleteAvailability(c), http.StatusConflict)
}

func TestHandler_ListAvailableSlots(t *testing.T) {
	h, e, _ := newTestHandler()
	p := seedProvider(t, h.svc, "Dr Rao", ScheduleStream)
	c0 := seedClient(t, h.svc, "alice")
	seedWindow(t, h.svc, p, bookDate, "09:00", "11:00", 30)

	c, rec := newCtx(e, http.MethodGet, "/?date=2026-03-12&limit=3", "", c0.ID, auth.RoleClient)
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())
	if err := h.ListAvailableSlots(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp struct {
		Data    []Slot `json:"data"`
		Total   int    `json:"total"`
		HasMore bool   `json:"has_more"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 4 || len(resp.Data) != 3 || !resp.HasMore {
		t.Errorf("unexpected page: total %d, %d items, has_more %v", resp.Total, len(resp.Data), resp.HasMore)
	}
}

func TestHandler_ListBookings(t *testing.T) {
	h, e, _ := newTestHandler()
	p := seedProvider(t, h.svc, "Dr Rao", ScheduleStream)
	alice := seedClient(t, h.svc, "alice")
	_, slots := seedWindow(t, h.svc, p, bookDate, "09:00", "10:00", 30)
	book(t, h.svc, alice, p, slots[0])

	c, rec := newCtx(e, http.MethodGet, "/?status=upcoming", "", alice.ID, auth.RoleClient)
	if err := h.ListBookings(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"total":1`) {
		t.Errorf("expected one upcoming booking, got %s", rec.Body.String())
	}

	c, rec = newCtx(e, http.MethodGet, "/?status=past", "", alice.ID, auth.RoleClient)
	if err := h.ListBookings(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"data":[]`) {
		t.Errorf("expected empty list rendered as [], got %s", rec.Body.String())
	}

	c, _ = newCtx(e, http.MethodGet, "/?status=upcoming", "", p.ID, auth.RoleProvider)
	expectHTTPStatus(t, h.ListBookings(c), http.StatusForbidden)

	c, _ = newCtx(e, http.MethodGet, "/?status=later", "", alice.ID, auth.RoleClient)
	expectHTTPStatus(t, h.ListBookings(c), http.StatusBadRequest)

	c, rec = newCtx(e, http.MethodGet, "/", "", p.ID, auth.RoleProvider)
	if err := h.ListBookings(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"client_name":"alice"`) {
		t.Errorf("expected provider to see alice's booking, got %s", rec.Body.String())
	}
}

func TestHandler_Reschedule(t *testing.T) {
	h, e, st := newTestHandler()
	p := seedProvider(t, h.svc, "Dr Rao", ScheduleStream)
	alice := seedClient(t, h.svc, "alice")
	_, slots := seedWindow(t, h.svc, p, bookDate, "09:30", "10:30", 20)
	conf := book(t, h.svc, alice, p, slots[1])

	c, _ := newCtx(e, http.MethodPost, "/", `{"shift_minutes":200}`, p.ID, auth.RoleProvider)
	expectHTTPStatus(t, h.RescheduleAll(c), http.StatusConflict)

	c, rec := newCtx(e, http.MethodPost, "/", `{"shift_minutes":15}`, p.ID, auth.RoleProvider)
	if err := h.RescheduleAll(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"updated":1`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
	if got := st.booking(conf.BookingID).ReportingTime.String(); got != "10:05" {
		t.Errorf("expected 10:05, got %s", got)
	}

	body := fmt.Sprintf(`{"booking_ids":[%q],"shift_minutes":10}`, conf.BookingID)
	c, rec = newCtx(e, http.MethodPost, "/", body, p.ID, auth.RoleProvider)
	if err := h.RescheduleSelected(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := st.booking(conf.BookingID).ReportingTime.String(); got != "10:15" {
		t.Errorf("expected 10:15, got %s", got)
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	h, e, _ := newTestHandler()
	h.RegisterRoutes(e.Group("/api/v1"))

	registered := map[string]bool{}
	for _, r := range e.Routes() {
		registered[r.Method+" "+r.Path] = true
	}

	want := []string{
		"GET /api/v1/providers",
		"GET /api/v1/providers/:id",
		"PATCH /api/v1/providers/:id/schedule-type",
		"POST /api/v1/providers/:id/availability",
		"GET /api/v1/providers/:id/availability",
		"PATCH /api/v1/providers/:id/availability/:availabilityId",
		"DELETE /api/v1/providers/:id/availability/:availabilityId",
		"POST /api/v1/providers/:id/availability/:availabilityId/slots",
		"PATCH /api/v1/providers/:id/availability/:availabilityId/slots/:slotId",
		"DELETE /api/v1/providers/:id/availability/:availabilityId/slots/:slotId",
		"GET /api/v1/bookings",
		"POST /api/v1/bookings",
		"POST /api/v1/bookings/:id/cancel",
		"POST /api/v1/bookings/reschedule",
		"POST /api/v1/bookings/reschedule/selected",
	}
	for _, route := range want {
		if !registered[route] {
			t.Errorf("route %s not registered", route)
		}
	}
}

func TestHandler_RoleGuards(t *testing.T) {
	h, e, _ := newTestHandler()
	h.RegisterRoutes(e.Group("/api/v1", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, _ := uuid.Parse(c.Request().Header.Get(auth.DevUserIDHeader))
			ctx := auth.WithIdentity(c.Request().Context(), id, c.Request().Header.Get(auth.DevUserRoleHeader))
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}))

	tests := []struct {
		name   string
		method string
		path   string
		role   string
	}{
		{"provider cannot book", http.MethodPost, "/api/v1/bookings", auth.RoleProvider},
		{"client cannot reschedule", http.MethodPost, "/api/v1/bookings/reschedule", auth.RoleClient},
		{"client cannot publish availability", http.MethodPost, "/api/v1/providers/" + uuid.New().String() + "/availability", auth.RoleClient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(`{}`))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			req.Header.Set(auth.DevUserIDHeader, uuid.New().String())
			req.Header.Set(auth.DevUserRoleHeader, tt.role)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			if rec.Code != http.StatusForbidden {
				t.Errorf("expected 403, got %d", rec.Code)
			}
		})
	}
}
