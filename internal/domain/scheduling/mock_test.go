package scheduling

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carebook/carebook/internal/platform/lock"
)

// -- In-memory store --

// memStore backs every mock repository with one mutex so concurrent
// bookings see a consistent ledger.
type memStore struct {
	mu        sync.Mutex
	providers map[uuid.UUID]*Provider
	clients   map[uuid.UUID]*Client
	windows   map[uuid.UUID]*AvailabilityWindow
	slots     map[uuid.UUID]*Slot
	bookings  map[uuid.UUID]*Booking
	seq       int
}

func newMemStore() *memStore {
	return &memStore{
		providers: make(map[uuid.UUID]*Provider),
		clients:   make(map[uuid.UUID]*Client),
		windows:   make(map[uuid.UUID]*AvailabilityWindow),
		slots:     make(map[uuid.UUID]*Slot),
		bookings:  make(map[uuid.UUID]*Booking),
	}
}

func (m *memStore) repos() Repositories {
	return Repositories{
		Providers:    &mockProviderRepo{m},
		Clients:      &mockClientRepo{m},
		Availability: &mockAvailabilityRepo{m},
		Slots:        &mockSlotRepo{m},
		Bookings:     &mockBookingRepo{m},
	}
}

func (m *memStore) slot(id uuid.UUID) *Slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.slots[id]
	return &cp
}

func (m *memStore) booking(id uuid.UUID) *Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.bookings[id]
	return &cp
}

func (m *memStore) activeInSlot(id uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.bookings {
		if b.SlotID == id && b.Status == StatusBooked {
			n++
		}
	}
	return n
}

func (m *memStore) slotsOf(windowID uuid.UUID) []*Slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Slot
	for _, s := range m.slots {
		if s.AvailabilityID == windowID {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime < out[j].StartTime })
	return out
}

type mockProviderRepo struct{ m *memStore }

func (r *mockProviderRepo) Create(_ context.Context, p *Provider) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt, p.UpdatedAt = time.Now(), time.Now()
	cp := *p
	r.m.providers[p.ID] = &cp
	return nil
}

func (r *mockProviderRepo) GetByID(_ context.Context, id uuid.UUID) (*Provider, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	p, ok := r.m.providers[id]
	if !ok {
		return nil, ErrProviderNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *mockProviderRepo) UpdateScheduleType(_ context.Context, id uuid.UUID, t ScheduleType) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	p, ok := r.m.providers[id]
	if !ok {
		return ErrProviderNotFound
	}
	p.ScheduleType = t
	return nil
}

func (r *mockProviderRepo) Search(_ context.Context, f ProviderFilter, limit, offset int) ([]*Provider, int, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var all []*Provider
	for _, p := range r.m.providers {
		if f.Name != "" && !containsFold(p.Name, f.Name) {
			continue
		}
		if f.Specialization != "" && !containsFold(p.Specialization, f.Specialization) {
			continue
		}
		cp := *p
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return page(all, limit, offset), len(all), nil
}

type mockClientRepo struct{ m *memStore }

func (r *mockClientRepo) Create(_ context.Context, c *Client) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	cp := *c
	r.m.clients[c.ID] = &cp
	return nil
}

func (r *mockClientRepo) GetByID(_ context.Context, id uuid.UUID) (*Client, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	c, ok := r.m.clients[id]
	if !ok {
		return nil, ErrClientNotFound
	}
	cp := *c
	return &cp, nil
}

type mockAvailabilityRepo struct{ m *memStore }

func (r *mockAvailabilityRepo) Create(_ context.Context, w *AvailabilityWindow) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, e := range r.m.windows {
		if e.ProviderID == w.ProviderID && e.Date == w.Date {
			return ErrWindowExists
		}
	}
	cp := *w
	r.m.windows[w.ID] = &cp
	return nil
}

func (r *mockAvailabilityRepo) GetByID(_ context.Context, id uuid.UUID) (*AvailabilityWindow, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	w, ok := r.m.windows[id]
	if !ok {
		return nil, ErrWindowNotFound
	}
	cp := *w
	return &cp, nil
}

func (r *mockAvailabilityRepo) GetByProviderDate(_ context.Context, providerID uuid.UUID, date Date) (*AvailabilityWindow, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, w := range r.m.windows {
		if w.ProviderID == providerID && w.Date == date {
			cp := *w
			return &cp, nil
		}
	}
	return nil, ErrWindowNotFound
}

func (r *mockAvailabilityRepo) Update(_ context.Context, w *AvailabilityWindow) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.windows[w.ID]; !ok {
		return ErrWindowNotFound
	}
	cp := *w
	r.m.windows[w.ID] = &cp
	return nil
}

func (r *mockAvailabilityRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.windows[id]; !ok {
		return ErrWindowNotFound
	}
	delete(r.m.windows, id)
	for sid, s := range r.m.slots {
		if s.AvailabilityID == id {
			delete(r.m.slots, sid)
		}
	}
	return nil
}

type mockSlotRepo struct{ m *memStore }

func (r *mockSlotRepo) CreateBatch(_ context.Context, slots []*Slot) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, s := range slots {
		cp := *s
		r.m.slots[s.ID] = &cp
	}
	return nil
}

func (r *mockSlotRepo) GetByID(_ context.Context, id uuid.UUID) (*Slot, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	s, ok := r.m.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *mockSlotRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*Slot, error) {
	return r.GetByID(ctx, id)
}

func (r *mockSlotRepo) FindByRange(_ context.Context, providerID uuid.UUID, date Date, start, end TimeOfDay) (*Slot, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, s := range r.m.slots {
		w := r.m.windows[s.AvailabilityID]
		if w != nil && w.ProviderID == providerID && s.Date == date && s.StartTime == start && s.EndTime == end {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrSlotNotFound
}

func (r *mockSlotRepo) ListByAvailability(_ context.Context, availabilityID uuid.UUID) ([]*Slot, error) {
	return r.m.slotsOf(availabilityID), nil
}

func (r *mockSlotRepo) SearchAvailable(_ context.Context, providerID uuid.UUID, f SlotFilter, limit, offset int) ([]*Slot, int, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var all []*Slot
	for _, s := range r.m.slots {
		w := r.m.windows[s.AvailabilityID]
		if w == nil || w.ProviderID != providerID || !s.IsAvailable {
			continue
		}
		if f.Date != "" && s.Date != f.Date {
			continue
		}
		if f.Session != "" && w.Session != f.Session {
			continue
		}
		cp := *s
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Date != all[j].Date {
			return all[i].Date < all[j].Date
		}
		return all[i].StartTime < all[j].StartTime
	})
	return page(all, limit, offset), len(all), nil
}

func (r *mockSlotRepo) Update(_ context.Context, s *Slot) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.slots[s.ID]; !ok {
		return ErrSlotNotFound
	}
	cp := *s
	r.m.slots[s.ID] = &cp
	return nil
}

func (r *mockSlotRepo) SetAvailable(_ context.Context, id uuid.UUID, available bool) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	s, ok := r.m.slots[id]
	if !ok {
		return ErrSlotNotFound
	}
	s.IsAvailable = available
	return nil
}

func (r *mockSlotRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.slots[id]; !ok {
		return ErrSlotNotFound
	}
	delete(r.m.slots, id)
	return nil
}

func (r *mockSlotRepo) DeleteByAvailability(_ context.Context, availabilityID uuid.UUID) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for id, s := range r.m.slots {
		if s.AvailabilityID == availabilityID {
			delete(r.m.slots, id)
		}
	}
	return nil
}

type mockBookingRepo struct{ m *memStore }

func (r *mockBookingRepo) Create(_ context.Context, b *Booking) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, other := range r.m.bookings {
		if other.SlotID == b.SlotID && other.Status == StatusBooked && other.Position == b.Position {
			return ErrSlotFull
		}
	}
	r.m.seq++
	// created_at carries insertion order so ledger listings are stable.
	b.CreatedAt = time.Unix(int64(r.m.seq), 0)
	b.UpdatedAt = b.CreatedAt
	cp := *b
	r.m.bookings[b.ID] = &cp
	return nil
}

func (r *mockBookingRepo) GetForUpdate(_ context.Context, id uuid.UUID) (*Booking, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	b, ok := r.m.bookings[id]
	if !ok {
		return nil, ErrBookingNotFound
	}
	cp := *b
	return &cp, nil
}

func (r *mockBookingRepo) countWhere(match func(b *Booking) bool) int {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	n := 0
	for _, b := range r.m.bookings {
		if match(b) {
			n++
		}
	}
	return n
}

func (r *mockBookingRepo) CountActiveBySlot(_ context.Context, slotID uuid.UUID) (int, error) {
	return r.countWhere(func(b *Booking) bool { return b.SlotID == slotID && b.Status == StatusBooked }), nil
}

func (r *mockBookingRepo) ActivePositions(_ context.Context, slotID uuid.UUID) ([]int, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []int
	for _, b := range r.m.bookings {
		if b.SlotID == slotID && b.Status == StatusBooked {
			out = append(out, b.Position)
		}
	}
	sort.Ints(out)
	return out, nil
}

func (r *mockBookingRepo) CountBySlot(_ context.Context, slotID uuid.UUID) (int, error) {
	return r.countWhere(func(b *Booking) bool { return b.SlotID == slotID }), nil
}

func (r *mockBookingRepo) CountByAvailability(_ context.Context, availabilityID uuid.UUID) (int, error) {
	r.m.mu.Lock()
	inWindow := make(map[uuid.UUID]bool)
	for id, s := range r.m.slots {
		if s.AvailabilityID == availabilityID {
			inWindow[id] = true
		}
	}
	r.m.mu.Unlock()
	return r.countWhere(func(b *Booking) bool { return inWindow[b.SlotID] }), nil
}

func (r *mockBookingRepo) CountInSession(_ context.Context, providerID uuid.UUID, date Date, session string) (int, error) {
	return r.countWhere(func(b *Booking) bool {
		return b.ProviderID == providerID && b.Date == date && b.Session == session
	}), nil
}

func (r *mockBookingRepo) ExistsActiveInSession(_ context.Context, clientID, providerID uuid.UUID, date Date, session string) (bool, error) {
	n := r.countWhere(func(b *Booking) bool {
		return b.ClientID == clientID && b.ProviderID == providerID && b.Date == date &&
			b.Session == session && b.Status == StatusBooked
	})
	return n > 0, nil
}

func (r *mockBookingRepo) UpdateStatus(_ context.Context, id uuid.UUID, status BookingStatus) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	b, ok := r.m.bookings[id]
	if !ok {
		return ErrBookingNotFound
	}
	b.Status = status
	return nil
}

func (r *mockBookingRepo) UpdateReportingTimes(_ context.Context, bookings []*Booking) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, b := range bookings {
		if stored, ok := r.m.bookings[b.ID]; ok {
			stored.ReportingTime = b.ReportingTime
		}
	}
	return nil
}

func (r *mockBookingRepo) ListFutureForUpdate(_ context.Context, providerID uuid.UUID, from Date) ([]*Booking, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*Booking
	for _, b := range r.m.bookings {
		if b.ProviderID == providerID && b.Status == StatusBooked && !b.Date.Before(from) {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *mockBookingRepo) GetManyForUpdate(_ context.Context, ids []uuid.UUID) ([]*Booking, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*Booking
	for _, id := range ids {
		if b, ok := r.m.bookings[id]; ok {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *mockBookingRepo) ListViews(_ context.Context, q BookingQuery) ([]*BookingView, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*BookingView
	for _, b := range r.m.bookings {
		switch {
		case q.ProviderID != uuid.Nil && b.ProviderID != q.ProviderID,
			q.ClientID != uuid.Nil && b.ClientID != q.ClientID,
			q.Status != "" && b.Status != q.Status,
			q.FromDate != "" && b.Date.Before(q.FromDate),
			q.BeforeDate != "" && !b.Date.Before(q.BeforeDate):
			continue
		}
		s := r.m.slots[b.SlotID]
		w := r.m.windows[s.AvailabilityID]
		p := r.m.providers[b.ProviderID]
		c := r.m.clients[b.ClientID]
		out = append(out, &BookingView{
			Booking:        *b,
			StartTime:      s.StartTime,
			EndTime:        s.EndTime,
			Weekday:        w.Weekday,
			ProviderName:   p.Name,
			Specialization: p.Specialization,
			ClientName:     c.Name,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if q.Descending {
			a, b = b, a
		}
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.StartTime != b.StartTime {
			return a.StartTime < b.StartTime
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return out, nil
}

func page[T any](all []T, limit, offset int) []T {
	if offset >= len(all) {
		return nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end]
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

// -- Test wiring --

type passthroughTx struct{}

func (passthroughTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

// testToday is the date every test service considers "today".
const testToday Date = "2026-03-10"

func newTestService() (*Service, *memStore) {
	st := newMemStore()
	clock := fixedClock{now: time.Date(2026, 3, 10, 8, 0, 0, 0, time.Local)}
	locker := lock.NewMemoryLocker(lock.Options{Wait: 5 * time.Second})
	return NewService(st.repos(), passthroughTx{}, locker, clock, zerolog.Nop()), st
}

func seedProvider(t *testing.T, svc *Service, name string, st ScheduleType) *Provider {
	t.Helper()
	p := &Provider{Name: name, Email: name + "@clinic.test", Specialization: "General", ScheduleType: st}
	if err := svc.RegisterProvider(context.Background(), p); err != nil {
		t.Fatalf("register provider: %v", err)
	}
	return p
}

func seedClient(t *testing.T, svc *Service, name string) *Client {
	t.Helper()
	c := &Client{Name: name, Email: name + "@mail.test"}
	if err := svc.RegisterClient(context.Background(), c); err != nil {
		t.Fatalf("register client: %v", err)
	}
	return c
}

func tp(s string) *TimeOfDay {
	t := MustTime(s)
	return &t
}

func intp(n int) *int { return &n }

func seedWindow(t *testing.T, svc *Service, p *Provider, date Date, start, end string, duration int) (*AvailabilityWindow, []*Slot) {
	t.Helper()
	w, slots, err := svc.CreateAvailability(context.Background(), p.ID, AvailabilityInput{
		Date:         date,
		StartTime:    tp(start),
		EndTime:      tp(end),
		Session:      "Morning",
		SlotDuration: intp(duration),
	})
	if err != nil {
		t.Fatalf("create availability: %v", err)
	}
	return w, slots
}

func book(t *testing.T, svc *Service, c *Client, p *Provider, s *Slot) *BookingConfirmation {
	t.Helper()
	conf, err := svc.Book(context.Background(), c.ID, BookRequest{ProviderID: p.ID, SlotID: &s.ID, Date: s.Date})
	if err != nil {
		t.Fatalf("book %s for %s: %v", s.StartTime, c.Name, err)
	}
	return conf
}
