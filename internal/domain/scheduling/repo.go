package scheduling

import (
	"context"

	"github.com/google/uuid"
)

type ProviderRepository interface {
	Create(ctx context.Context, p *Provider) error
	GetByID(ctx context.Context, id uuid.UUID) (*Provider, error)
	UpdateScheduleType(ctx context.Context, id uuid.UUID, t ScheduleType) error
	Search(ctx context.Context, f ProviderFilter, limit, offset int) ([]*Provider, int, error)
}

type ClientRepository interface {
	Create(ctx context.Context, c *Client) error
	GetByID(ctx context.Context, id uuid.UUID) (*Client, error)
}

type AvailabilityRepository interface {
	Create(ctx context.Context, w *AvailabilityWindow) error
	GetByID(ctx context.Context, id uuid.UUID) (*AvailabilityWindow, error)
	GetByProviderDate(ctx context.Context, providerID uuid.UUID, date Date) (*AvailabilityWindow, error)
	Update(ctx context.Context, w *AvailabilityWindow) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type SlotRepository interface {
	CreateBatch(ctx context.Context, slots []*Slot) error
	GetByID(ctx context.Context, id uuid.UUID) (*Slot, error)
	// GetForUpdate reads the slot and row-locks it for the rest of the transaction.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Slot, error)
	FindByRange(ctx context.Context, providerID uuid.UUID, date Date, start, end TimeOfDay) (*Slot, error)
	ListByAvailability(ctx context.Context, availabilityID uuid.UUID) ([]*Slot, error)
	SearchAvailable(ctx context.Context, providerID uuid.UUID, f SlotFilter, limit, offset int) ([]*Slot, int, error)
	Update(ctx context.Context, s *Slot) error
	SetAvailable(ctx context.Context, id uuid.UUID, available bool) error
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteByAvailability(ctx context.Context, availabilityID uuid.UUID) error
}

// BookingRepository is the booking ledger. Counts are always read from the
// store, never cached.
type BookingRepository interface {
	Create(ctx context.Context, b *Booking) error
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Booking, error)
	CountActiveBySlot(ctx context.Context, slotID uuid.UUID) (int, error)
	// ActivePositions lists the arrival positions held by the slot's booked
	// (not cancelled) bookings.
	ActivePositions(ctx context.Context, slotID uuid.UUID) ([]int, error)
	// CountBySlot and CountByAvailability include cancelled bookings, which
	// still reference their slot.
	CountBySlot(ctx context.Context, slotID uuid.UUID) (int, error)
	CountByAvailability(ctx context.Context, availabilityID uuid.UUID) (int, error)
	CountInSession(ctx context.Context, providerID uuid.UUID, date Date, session string) (int, error)
	ExistsActiveInSession(ctx context.Context, clientID, providerID uuid.UUID, date Date, session string) (bool, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status BookingStatus) error
	// UpdateReportingTimes saves every booking's reporting time as one batch.
	UpdateReportingTimes(ctx context.Context, bookings []*Booking) error
	ListFutureForUpdate(ctx context.Context, providerID uuid.UUID, from Date) ([]*Booking, error)
	GetManyForUpdate(ctx context.Context, ids []uuid.UUID) ([]*Booking, error)
	ListViews(ctx context.Context, q BookingQuery) ([]*BookingView, error)
}

// TxRunner runs fn inside one transaction; repositories called with the
// context fn receives take part in it.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}
