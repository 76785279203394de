package scheduling

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/carebook/carebook/internal/platform/lock"
)

const (
	referenceAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	referenceLength   = 10
)

func newReference() (string, error) {
	return gonanoid.Generate(referenceAlphabet, referenceLength)
}

// Repositories groups the stores the engine reads and writes.
type Repositories struct {
	Providers    ProviderRepository
	Clients      ClientRepository
	Availability AvailabilityRepository
	Slots        SlotRepository
	Bookings     BookingRepository
}

type Service struct {
	providers    ProviderRepository
	clients      ClientRepository
	availability AvailabilityRepository
	slots        SlotRepository
	bookings     BookingRepository

	tx     TxRunner
	locker lock.Locker
	clock  Clock
	logger zerolog.Logger

	newRef func() (string, error)
}

func NewService(r Repositories, tx TxRunner, locker lock.Locker, clock Clock, logger zerolog.Logger) *Service {
	if clock == nil {
		clock = SystemClock
	}
	return &Service{
		providers:    r.Providers,
		clients:      r.Clients,
		availability: r.Availability,
		slots:        r.Slots,
		bookings:     r.Bookings,
		tx:           tx,
		locker:       locker,
		clock:        clock,
		logger:       logger.With().Str("component", "scheduling").Logger(),
		newRef:       newReference,
	}
}

// -- Booking --

// BookRequest names the slot either by id or by its date and time range.
type BookRequest struct {
	ProviderID uuid.UUID  `json:"provider_id"`
	SlotID     *uuid.UUID `json:"slot_id,omitempty"`
	Date       Date       `json:"date"`
	StartTime  *TimeOfDay `json:"start_time,omitempty"`
	EndTime    *TimeOfDay `json:"end_time,omitempty"`
}

func (r *BookRequest) Validate() error {
	if r.ProviderID == uuid.Nil {
		return validationf("provider_id is required")
	}
	if r.SlotID != nil {
		return nil
	}
	if r.Date == "" {
		return validationf("date is required")
	}
	if r.StartTime == nil || r.EndTime == nil {
		return validationf("slot_id or start_time and end_time are required")
	}
	if *r.StartTime >= *r.EndTime {
		return validationf("start_time %s must be before end_time %s", r.StartTime, r.EndTime)
	}
	return nil
}

// Book reserves a place in a slot for the client. Capacity and the
// one-booking-per-session rule are checked against the ledger inside a
// transaction while the slot lock is held.
func (s *Service) Book(ctx context.Context, clientID uuid.UUID, req BookRequest) (*BookingConfirmation, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	provider, err := s.providers.GetByID(ctx, req.ProviderID)
	if err != nil {
		return nil, err
	}
	if _, err := s.clients.GetByID(ctx, clientID); err != nil {
		return nil, err
	}
	slot, w, err := s.resolveSlot(ctx, provider.ID, req)
	if err != nil {
		return nil, err
	}

	releaseSlot, err := s.acquire(ctx, "slot:"+slot.ID.String())
	if err != nil {
		return nil, err
	}
	defer releaseSlot()
	releaseSession, err := s.acquire(ctx, fmt.Sprintf("session:%s:%s:%s:%s", clientID, provider.ID, slot.Date, w.Session))
	if err != nil {
		return nil, err
	}
	defer releaseSession()

	var booking *Booking
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		locked, err := s.slots.GetForUpdate(ctx, slot.ID)
		if err != nil {
			return err
		}
		strategy := StrategyFor(provider.ScheduleType)
		taken, err := s.bookings.ActivePositions(ctx, locked.ID)
		if err != nil {
			return fmt.Errorf("list slot positions: %w", err)
		}
		alloc, err := strategy.Allocate(locked, taken, strategy.Capacity(locked, w, provider))
		if err != nil {
			return err
		}
		dup, err := s.bookings.ExistsActiveInSession(ctx, clientID, provider.ID, locked.Date, w.Session)
		if err != nil {
			return fmt.Errorf("check session bookings: %w", err)
		}
		if dup {
			return ErrDuplicateSession
		}

		ref, err := s.newRef()
		if err != nil {
			return fmt.Errorf("generate reference: %w", err)
		}
		booking = &Booking{
			ID:            uuid.New(),
			Reference:     ref,
			ProviderID:    provider.ID,
			SlotID:        locked.ID,
			ClientID:      clientID,
			Date:          locked.Date,
			Session:       w.Session,
			ReportingTime: alloc.ReportingTime,
			Position:      alloc.Position,
			Status:        StatusBooked,
		}
		if err := s.bookings.Create(ctx, booking); err != nil {
			return err
		}
		if alloc.Full && locked.IsAvailable {
			if err := s.slots.SetAvailable(ctx, locked.ID, false); err != nil {
				return fmt.Errorf("mark slot full: %w", err)
			}
			locked.IsAvailable = false
		}
		slot = locked
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("booking_id", booking.ID.String()).
		Str("reference", booking.Reference).
		Str("slot_id", slot.ID.String()).
		Str("schedule_type", string(provider.ScheduleType)).
		Str("reporting_time", booking.ReportingTime.String()).
		Msg("booking created")

	return newConfirmation(booking, slot, provider), nil
}

func (s *Service) resolveSlot(ctx context.Context, providerID uuid.UUID, req BookRequest) (*Slot, *AvailabilityWindow, error) {
	var slot *Slot
	var err error
	if req.SlotID != nil {
		slot, err = s.slots.GetByID(ctx, *req.SlotID)
	} else {
		slot, err = s.slots.FindByRange(ctx, providerID, req.Date, *req.StartTime, *req.EndTime)
	}
	if err != nil {
		return nil, nil, err
	}
	if req.Date != "" && slot.Date != req.Date {
		return nil, nil, ErrSlotNotFound
	}
	w, err := s.availability.GetByID(ctx, slot.AvailabilityID)
	if err != nil {
		return nil, nil, err
	}
	if w.ProviderID != providerID {
		return nil, nil, ErrSlotNotFound
	}
	return slot, w, nil
}

func (s *Service) acquire(ctx context.Context, key string) (func(), error) {
	release, err := s.locker.Acquire(ctx, key)
	if errors.Is(err, lock.ErrTimeout) {
		s.logger.Warn().Str("key", key).Msg("lock wait timed out")
		return nil, ErrSlotBusy
	}
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	return release, nil
}

// Cancel flips a booking to cancelled. Only the booking's provider or client
// may cancel it. The slot's availability flag is recomputed from the ledger.
func (s *Service) Cancel(ctx context.Context, bookingID, callerID uuid.UUID, role Role) (*Booking, error) {
	var booking *Booking
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		b, err := s.bookings.GetForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		isParty := (role == RoleProvider && b.ProviderID == callerID) ||
			(role == RoleClient && b.ClientID == callerID)
		if !isParty {
			return ErrNotBookingParty
		}
		if b.Status == StatusCancelled {
			return ErrAlreadyCancelled
		}
		if err := s.bookings.UpdateStatus(ctx, b.ID, StatusCancelled); err != nil {
			return err
		}
		b.Status = StatusCancelled
		booking = b
		return s.refreshAvailability(ctx, b.SlotID, b.ProviderID)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("booking_id", booking.ID.String()).
		Str("cancelled_by", string(role)).
		Msg("booking cancelled")
	return booking, nil
}

func (s *Service) refreshAvailability(ctx context.Context, slotID, providerID uuid.UUID) error {
	slot, err := s.slots.GetForUpdate(ctx, slotID)
	if err != nil {
		return err
	}
	w, err := s.availability.GetByID(ctx, slot.AvailabilityID)
	if err != nil {
		return err
	}
	p, err := s.providers.GetByID(ctx, providerID)
	if err != nil {
		return err
	}
	active, err := s.bookings.CountActiveBySlot(ctx, slotID)
	if err != nil {
		return fmt.Errorf("count slot bookings: %w", err)
	}
	open := active < StrategyFor(p.ScheduleType).Capacity(slot, w, p)
	if open == slot.IsAvailable {
		return nil
	}
	return s.slots.SetAvailable(ctx, slotID, open)
}

// ListForUser returns the caller's bookings in ascending date order.
func (s *Service) ListForUser(ctx context.Context, userID uuid.UUID, role Role) ([]*BookingView, error) {
	q := BookingQuery{}
	switch role {
	case RoleProvider:
		q.ProviderID = userID
	case RoleClient:
		q.ClientID = userID
	default:
		return nil, validationf("unknown role %q", role)
	}
	return s.bookings.ListViews(ctx, q)
}

// ListByStatus partitions a client's bookings relative to today.
func (s *Service) ListByStatus(ctx context.Context, clientID uuid.UUID, filter StatusFilter) ([]*BookingView, error) {
	now := today(s.clock)
	q := BookingQuery{ClientID: clientID}
	switch filter {
	case FilterUpcoming:
		q.Status = StatusBooked
		q.FromDate = now
	case FilterPast:
		q.Status = StatusBooked
		q.BeforeDate = now
		q.Descending = true
	case FilterCancelled:
		q.Status = StatusCancelled
		q.Descending = true
	default:
		return nil, validationf("status must be one of upcoming, past, cancelled; got %q", filter)
	}
	return s.bookings.ListViews(ctx, q)
}

// -- Reschedule --

func validateShift(minutes int) error {
	if minutes < MinShiftMinutes || minutes > MaxShiftMinutes {
		return ErrInvalidShift
	}
	return nil
}

// RescheduleAllFuture delays every active booking of the provider dated today
// or later by the given minutes.
func (s *Service) RescheduleAllFuture(ctx context.Context, providerID uuid.UUID, minutes int) (*RescheduleResult, error) {
	if err := validateShift(minutes); err != nil {
		return nil, err
	}
	if _, err := s.providers.GetByID(ctx, providerID); err != nil {
		return nil, err
	}

	result := &RescheduleResult{ShiftMinutes: minutes}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		list, err := s.bookings.ListFutureForUpdate(ctx, providerID, today(s.clock))
		if err != nil {
			return fmt.Errorf("list future bookings: %w", err)
		}
		if err := shiftReportingTimes(list, minutes); err != nil {
			return err
		}
		result.Updated = len(list)
		return s.bookings.UpdateReportingTimes(ctx, list)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("provider_id", providerID.String()).
		Int("shift_minutes", minutes).
		Int("updated", result.Updated).
		Msg("future bookings rescheduled")
	return result, nil
}

// RescheduleSelected delays the named bookings. Ids that are unknown, belong
// to another provider, or are no longer booked are skipped.
func (s *Service) RescheduleSelected(ctx context.Context, providerID uuid.UUID, ids []uuid.UUID, minutes int) (*RescheduleResult, error) {
	if err := validateShift(minutes); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, validationf("booking_ids is required")
	}
	unique := make([]uuid.UUID, 0, len(ids))
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}

	result := &RescheduleResult{ShiftMinutes: minutes}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		loaded, err := s.bookings.GetManyForUpdate(ctx, unique)
		if err != nil {
			return fmt.Errorf("load bookings: %w", err)
		}
		var eligible []*Booking
		for _, b := range loaded {
			if b.ProviderID == providerID && b.Status == StatusBooked {
				eligible = append(eligible, b)
			}
		}
		if err := shiftReportingTimes(eligible, minutes); err != nil {
			return err
		}
		result.Updated = len(eligible)
		result.Skipped = len(unique) - len(eligible)
		return s.bookings.UpdateReportingTimes(ctx, eligible)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("provider_id", providerID.String()).
		Int("shift_minutes", minutes).
		Int("updated", result.Updated).
		Int("skipped", result.Skipped).
		Msg("selected bookings rescheduled")
	return result, nil
}

// shiftReportingTimes moves every booking or none of them.
func shiftReportingTimes(list []*Booking, minutes int) error {
	shifted := make([]TimeOfDay, len(list))
	for i, b := range list {
		t, err := b.ReportingTime.Add(minutes)
		if err != nil {
			return fmt.Errorf("%w (booking %s at %s)", ErrShiftPastMidnight, b.Reference, b.ReportingTime)
		}
		shifted[i] = t
	}
	for i, b := range list {
		b.ReportingTime = shifted[i]
	}
	return nil
}
