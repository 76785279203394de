package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// AvailabilityInput creates a window. Start and end are required; the slot
// duration falls back to the provider's, then to 30 minutes.
type AvailabilityInput struct {
	Date            Date       `json:"date"`
	StartTime       *TimeOfDay `json:"start_time"`
	EndTime         *TimeOfDay `json:"end_time"`
	Weekday         string     `json:"weekday"`
	Session         string     `json:"session"`
	BookingStart    *TimeOfDay `json:"booking_start_time"`
	BookingEnd      *TimeOfDay `json:"booking_end_time"`
	PatientsPerSlot *int       `json:"patients_per_slot"`
	SlotDuration    *int       `json:"slot_duration"`
}

// AvailabilityPatch updates a window. Nil fields keep their value.
type AvailabilityPatch struct {
	Date            *Date      `json:"date"`
	StartTime       *TimeOfDay `json:"start_time"`
	EndTime         *TimeOfDay `json:"end_time"`
	Weekday         *string    `json:"weekday"`
	Session         *string    `json:"session"`
	BookingStart    *TimeOfDay `json:"booking_start_time"`
	BookingEnd      *TimeOfDay `json:"booking_end_time"`
	PatientsPerSlot *int       `json:"patients_per_slot"`
	SlotDuration    *int       `json:"slot_duration"`
}

// SlotInput adds or edits a single slot by hand.
type SlotInput struct {
	Date            *Date      `json:"date"`
	StartTime       *TimeOfDay `json:"start_time"`
	EndTime         *TimeOfDay `json:"end_time"`
	PatientsPerSlot *int       `json:"patients_per_slot"`
}

func validateWindow(w *AvailabilityWindow) error {
	if w.Date == "" {
		return validationf("date is required")
	}
	if _, err := ParseDate(string(w.Date)); err != nil {
		return err
	}
	if strings.TrimSpace(w.Session) == "" {
		return validationf("session is required")
	}
	if w.StartTime >= w.EndTime {
		return validationf("start_time %s must be before end_time %s", w.StartTime, w.EndTime)
	}
	if w.SlotDuration <= 0 {
		return validationf("slot_duration must be positive, got %d", w.SlotDuration)
	}
	if w.PatientsPerSlot != nil && *w.PatientsPerSlot <= 0 {
		return validationf("patients_per_slot must be positive, got %d", *w.PatientsPerSlot)
	}
	if w.BookingStart != nil && w.BookingEnd != nil && *w.BookingStart >= *w.BookingEnd {
		return validationf("booking_start_time must be before booking_end_time")
	}
	return nil
}

// CreateAvailability stores a window and its generated slots together.
func (s *Service) CreateAvailability(ctx context.Context, providerID uuid.UUID, in AvailabilityInput) (*AvailabilityWindow, []*Slot, error) {
	if in.StartTime == nil || in.EndTime == nil {
		return nil, nil, validationf("start_time and end_time are required")
	}
	p, err := s.providers.GetByID(ctx, providerID)
	if err != nil {
		return nil, nil, err
	}

	w := &AvailabilityWindow{
		ID:              uuid.New(),
		ProviderID:      p.ID,
		Date:            in.Date,
		StartTime:       *in.StartTime,
		EndTime:         *in.EndTime,
		Weekday:         in.Weekday,
		Session:         in.Session,
		BookingStart:    in.BookingStart,
		BookingEnd:      in.BookingEnd,
		PatientsPerSlot: in.PatientsPerSlot,
		SlotDuration:    p.SlotDuration,
	}
	if in.SlotDuration != nil {
		w.SlotDuration = *in.SlotDuration
	}
	if w.SlotDuration == 0 {
		w.SlotDuration = DefaultSlotDuration
	}
	if w.Weekday == "" {
		w.Weekday = w.Date.Weekday()
	}
	if err := validateWindow(w); err != nil {
		return nil, nil, err
	}
	slots, err := GenerateSlots(w)
	if err != nil {
		return nil, nil, err
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.ensureDateFree(ctx, p.ID, w.Date, uuid.Nil); err != nil {
			return err
		}
		if err := s.availability.Create(ctx, w); err != nil {
			return err
		}
		if err := s.slots.CreateBatch(ctx, slots); err != nil {
			return fmt.Errorf("create slots: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info().
		Str("availability_id", w.ID.String()).
		Str("date", string(w.Date)).
		Str("range", w.StartTime.String()+"-"+w.EndTime.String()).
		Int("slots", len(slots)).
		Msg("availability created")
	return w, slots, nil
}

// ensureDateFree fails when the provider already has a window on date other
// than the one being edited.
func (s *Service) ensureDateFree(ctx context.Context, providerID uuid.UUID, date Date, self uuid.UUID) error {
	existing, err := s.availability.GetByProviderDate(ctx, providerID, date)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("check existing availability: %w", err)
	case existing.ID != self:
		return ErrWindowExists
	}
	return nil
}

// ownedWindow loads a window and checks it belongs to the provider.
func (s *Service) ownedWindow(ctx context.Context, providerID, windowID uuid.UUID) (*AvailabilityWindow, error) {
	w, err := s.availability.GetByID(ctx, windowID)
	if err != nil {
		return nil, err
	}
	if w.ProviderID != providerID {
		return nil, ErrNotOwner
	}
	return w, nil
}

// ListAvailableSlots pages through the provider's open slots ordered by date
// then start time.
func (s *Service) ListAvailableSlots(ctx context.Context, providerID uuid.UUID, f SlotFilter, limit, offset int) ([]*Slot, int, error) {
	if f.Date != "" {
		if _, err := ParseDate(string(f.Date)); err != nil {
			return nil, 0, err
		}
	}
	if _, err := s.providers.GetByID(ctx, providerID); err != nil {
		return nil, 0, err
	}
	return s.slots.SearchAvailable(ctx, providerID, f, limit, offset)
}

// UpdateAvailability edits a window that has no bookings. A change to the
// date, range, slot duration or capacity regenerates the window's slots.
func (s *Service) UpdateAvailability(ctx context.Context, providerID, windowID uuid.UUID, in AvailabilityPatch) (*AvailabilityWindow, []*Slot, error) {
	var (
		w     *AvailabilityWindow
		slots []*Slot
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if w, err = s.ownedWindow(ctx, providerID, windowID); err != nil {
			return err
		}
		n, err := s.bookings.CountByAvailability(ctx, w.ID)
		if err != nil {
			return fmt.Errorf("count window bookings: %w", err)
		}
		if n > 0 {
			return ErrHasBookings
		}

		regenerate := false
		if in.Date != nil && *in.Date != w.Date {
			if err := s.ensureDateFree(ctx, providerID, *in.Date, w.ID); err != nil {
				return err
			}
			w.Date = *in.Date
			regenerate = true
			if in.Weekday == nil {
				w.Weekday = w.Date.Weekday()
			}
		}
		if in.StartTime != nil && *in.StartTime != w.StartTime {
			w.StartTime = *in.StartTime
			regenerate = true
		}
		if in.EndTime != nil && *in.EndTime != w.EndTime {
			w.EndTime = *in.EndTime
			regenerate = true
		}
		if in.SlotDuration != nil && *in.SlotDuration != w.SlotDuration {
			w.SlotDuration = *in.SlotDuration
			regenerate = true
		}
		if in.PatientsPerSlot != nil {
			w.PatientsPerSlot = in.PatientsPerSlot
			regenerate = true
		}
		if in.Weekday != nil {
			w.Weekday = *in.Weekday
		}
		if in.Session != nil {
			w.Session = *in.Session
		}
		if in.BookingStart != nil {
			w.BookingStart = in.BookingStart
		}
		if in.BookingEnd != nil {
			w.BookingEnd = in.BookingEnd
		}
		if err := validateWindow(w); err != nil {
			return err
		}
		if err := s.availability.Update(ctx, w); err != nil {
			return err
		}

		if !regenerate {
			slots, err = s.slots.ListByAvailability(ctx, w.ID)
			return err
		}
		if slots, err = GenerateSlots(w); err != nil {
			return err
		}
		if err := s.slots.DeleteByAvailability(ctx, w.ID); err != nil {
			return fmt.Errorf("clear slots: %w", err)
		}
		if err := s.slots.CreateBatch(ctx, slots); err != nil {
			return fmt.Errorf("create slots: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info().Str("availability_id", w.ID.String()).Int("slots", len(slots)).Msg("availability updated")
	return w, slots, nil
}

// DeleteAvailability removes a window without bookings; its slots go with it.
func (s *Service) DeleteAvailability(ctx context.Context, providerID, windowID uuid.UUID) error {
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		w, err := s.ownedWindow(ctx, providerID, windowID)
		if err != nil {
			return err
		}
		n, err := s.bookings.CountByAvailability(ctx, w.ID)
		if err != nil {
			return fmt.Errorf("count window bookings: %w", err)
		}
		if n > 0 {
			return ErrHasBookings
		}
		return s.availability.Delete(ctx, w.ID)
	})
	if err != nil {
		return err
	}
	s.logger.Info().Str("availability_id", windowID.String()).Msg("availability deleted")
	return nil
}

// -- Manual slots --

// AddManualSlot inserts one slot into a window whose session has no bookings.
func (s *Service) AddManualSlot(ctx context.Context, providerID, windowID uuid.UUID, in SlotInput) (*Slot, error) {
	if in.StartTime == nil || in.EndTime == nil {
		return nil, validationf("start_time and end_time are required")
	}
	var slot *Slot
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		w, err := s.ownedWindow(ctx, providerID, windowID)
		if err != nil {
			return err
		}
		if in.Date != nil && *in.Date != w.Date {
			return validationf("date %s does not match availability date %s", *in.Date, w.Date)
		}
		n, err := s.bookings.CountInSession(ctx, providerID, w.Date, w.Session)
		if err != nil {
			return fmt.Errorf("count session bookings: %w", err)
		}
		if n > 0 {
			return ErrHasBookings
		}
		if slot, err = newManualSlot(w, *in.StartTime, *in.EndTime, in.PatientsPerSlot); err != nil {
			return err
		}
		if err := s.checkOverlap(ctx, w.ID, slot); err != nil {
			return err
		}
		return s.slots.CreateBatch(ctx, []*Slot{slot})
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("slot_id", slot.ID.String()).Str("availability_id", windowID.String()).Msg("manual slot added")
	return slot, nil
}

func (s *Service) checkOverlap(ctx context.Context, windowID uuid.UUID, slot *Slot) error {
	existing, err := s.slots.ListByAvailability(ctx, windowID)
	if err != nil {
		return fmt.Errorf("list slots: %w", err)
	}
	for _, e := range existing {
		if e.ID != slot.ID && e.overlaps(slot.StartTime, slot.EndTime) {
			return ErrSlotOverlap
		}
	}
	return nil
}

// ownedSlot loads a slot of the given window and rejects it when any
// booking, active or cancelled, still references it.
func (s *Service) ownedSlot(ctx context.Context, providerID, windowID, slotID uuid.UUID) (*AvailabilityWindow, *Slot, error) {
	w, err := s.ownedWindow(ctx, providerID, windowID)
	if err != nil {
		return nil, nil, err
	}
	slot, err := s.slots.GetForUpdate(ctx, slotID)
	if err != nil {
		return nil, nil, err
	}
	if slot.AvailabilityID != w.ID {
		return nil, nil, ErrSlotNotFound
	}
	n, err := s.bookings.CountBySlot(ctx, slot.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("count slot bookings: %w", err)
	}
	if n > 0 {
		return nil, nil, ErrHasBookings
	}
	return w, slot, nil
}

// UpdateSlot edits a slot without bookings. Duration and base reporting time
// are recomputed from the new range.
func (s *Service) UpdateSlot(ctx context.Context, providerID, windowID, slotID uuid.UUID, in SlotInput) (*Slot, error) {
	var slot *Slot
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		w, sl, err := s.ownedSlot(ctx, providerID, windowID, slotID)
		if err != nil {
			return err
		}
		if in.Date != nil && *in.Date != w.Date {
			return validationf("date %s does not match availability date %s", *in.Date, w.Date)
		}
		if in.StartTime != nil {
			sl.StartTime = *in.StartTime
		}
		if in.EndTime != nil {
			sl.EndTime = *in.EndTime
		}
		if in.PatientsPerSlot != nil {
			if *in.PatientsPerSlot <= 0 {
				return validationf("patients_per_slot must be positive, got %d", *in.PatientsPerSlot)
			}
			sl.PatientsPerSlot = in.PatientsPerSlot
		}
		if !w.Contains(sl.StartTime, sl.EndTime) {
			return validationf("slot %s-%s must lie inside window %s-%s", sl.StartTime, sl.EndTime, w.StartTime, w.EndTime)
		}
		if err := s.checkOverlap(ctx, w.ID, sl); err != nil {
			return err
		}
		sl.SlotDuration = int(sl.EndTime - sl.StartTime)
		sl.ReportingTime = manualReportingTime(sl, w)
		sl.IsAvailable = true
		slot = sl
		return s.slots.Update(ctx, sl)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("slot_id", slot.ID.String()).Msg("slot updated")
	return slot, nil
}

// DeleteSlot removes a slot without bookings.
func (s *Service) DeleteSlot(ctx context.Context, providerID, windowID, slotID uuid.UUID) error {
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		_, sl, err := s.ownedSlot(ctx, providerID, windowID, slotID)
		if err != nil {
			return err
		}
		return s.slots.Delete(ctx, sl.ID)
	})
	if err != nil {
		return err
	}
	s.logger.Info().Str("slot_id", slotID.String()).Msg("slot deleted")
	return nil
}

// -- Providers and clients --

func (s *Service) RegisterProvider(ctx context.Context, p *Provider) error {
	if strings.TrimSpace(p.Name) == "" {
		return validationf("name is required")
	}
	if !strings.Contains(p.Email, "@") {
		return validationf("email %q is invalid", p.Email)
	}
	if p.ScheduleType == "" {
		p.ScheduleType = ScheduleStream
	}
	if !p.ScheduleType.Valid() {
		return validationf("schedule_type must be stream or wave, got %q", p.ScheduleType)
	}
	if p.SlotDuration == 0 {
		p.SlotDuration = DefaultSlotDuration
	}
	if p.PatientsPerSlot == 0 {
		p.PatientsPerSlot = DefaultPatientsPerSlot
	}
	if p.SlotDuration < 0 || p.PatientsPerSlot < 0 {
		return validationf("slot_duration and patients_per_slot must be positive")
	}
	return s.providers.Create(ctx, p)
}

func (s *Service) RegisterClient(ctx context.Context, c *Client) error {
	if strings.TrimSpace(c.Name) == "" {
		return validationf("name is required")
	}
	if !strings.Contains(c.Email, "@") {
		return validationf("email %q is invalid", c.Email)
	}
	return s.clients.Create(ctx, c)
}

func (s *Service) GetProvider(ctx context.Context, id uuid.UUID) (*Provider, error) {
	return s.providers.GetByID(ctx, id)
}

func (s *Service) ListProviders(ctx context.Context, f ProviderFilter, limit, offset int) ([]*Provider, int, error) {
	return s.providers.Search(ctx, f, limit, offset)
}

// UpdateScheduleType switches the strategy used for the provider's future
// bookings. Existing bookings keep their reporting times.
func (s *Service) UpdateScheduleType(ctx context.Context, providerID uuid.UUID, t ScheduleType) (*Provider, error) {
	if !t.Valid() {
		return nil, validationf("schedule_type must be stream or wave, got %q", t)
	}
	if err := s.providers.UpdateScheduleType(ctx, providerID, t); err != nil {
		return nil, err
	}
	s.logger.Info().Str("provider_id", providerID.String()).Str("schedule_type", string(t)).Msg("schedule type updated")
	return s.providers.GetByID(ctx, providerID)
}
