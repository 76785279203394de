package scheduling

import (
	"time"

	"github.com/google/uuid"
)

type ScheduleType string

const (
	ScheduleStream ScheduleType = "stream"
	ScheduleWave   ScheduleType = "wave"
)

func (t ScheduleType) Valid() bool {
	return t == ScheduleStream || t == ScheduleWave
}

type BookingStatus string

const (
	StatusBooked    BookingStatus = "booked"
	StatusCancelled BookingStatus = "cancelled"
)

type Role string

const (
	RoleProvider Role = "provider"
	RoleClient   Role = "client"
)

const (
	DefaultSlotDuration    = 30
	DefaultPatientsPerSlot = 3
	MinShiftMinutes        = 10
	MaxShiftMinutes        = 180
)

type Provider struct {
	ID              uuid.UUID    `json:"id"`
	Name            string       `json:"name"`
	Email           string       `json:"email"`
	Specialization  string       `json:"specialization"`
	ScheduleType    ScheduleType `json:"schedule_type"`
	SlotDuration    int          `json:"slot_duration"`
	PatientsPerSlot int          `json:"patients_per_slot"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

type Client struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// AvailabilityWindow is one provider's bookable range on one date.
type AvailabilityWindow struct {
	ID              uuid.UUID  `json:"id"`
	ProviderID      uuid.UUID  `json:"provider_id"`
	Date            Date       `json:"date"`
	StartTime       TimeOfDay  `json:"start_time"`
	EndTime         TimeOfDay  `json:"end_time"`
	Weekday         string     `json:"weekday"`
	Session         string     `json:"session"`
	BookingStart    *TimeOfDay `json:"booking_start_time,omitempty"`
	BookingEnd      *TimeOfDay `json:"booking_end_time,omitempty"`
	PatientsPerSlot *int       `json:"patients_per_slot,omitempty"`
	SlotDuration    int        `json:"slot_duration"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Contains reports whether [start, end) lies inside the window.
func (w *AvailabilityWindow) Contains(start, end TimeOfDay) bool {
	return start >= w.StartTime && end <= w.EndTime && start < end
}

type Slot struct {
	ID              uuid.UUID `json:"id"`
	AvailabilityID  uuid.UUID `json:"availability_id"`
	Date            Date      `json:"date"`
	StartTime       TimeOfDay `json:"start_time"`
	EndTime         TimeOfDay `json:"end_time"`
	SlotDuration    int       `json:"slot_duration"`
	PatientsPerSlot *int      `json:"patients_per_slot,omitempty"`
	IsAvailable     bool      `json:"is_available"`
	ReportingTime   TimeOfDay `json:"reporting_time"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Duration is the slot length in minutes, derived from the range when the
// stored value is missing.
func (s *Slot) Duration() int {
	if s.SlotDuration > 0 {
		return s.SlotDuration
	}
	return int(s.EndTime - s.StartTime)
}

func (s *Slot) overlaps(start, end TimeOfDay) bool {
	return start < s.EndTime && s.StartTime < end
}

type Booking struct {
	ID            uuid.UUID     `json:"id"`
	Reference     string        `json:"reference"`
	ProviderID    uuid.UUID     `json:"provider_id"`
	SlotID        uuid.UUID     `json:"slot_id"`
	ClientID      uuid.UUID     `json:"client_id"`
	Date          Date          `json:"date"`
	Session       string        `json:"session"`
	ReportingTime TimeOfDay     `json:"reporting_time"`
	// Position is the arrival index within the slot. A cancelled booking
	// frees its position for the next booking.
	Position      int           `json:"position"`
	Status        BookingStatus `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// BookingView is a booking joined with its slot, window and parties.
type BookingView struct {
	Booking
	StartTime      TimeOfDay `json:"start_time"`
	EndTime        TimeOfDay `json:"end_time"`
	Weekday        string    `json:"weekday"`
	ProviderName   string    `json:"provider_name"`
	Specialization string    `json:"specialization"`
	ClientName     string    `json:"client_name"`
}

// BookingConfirmation is what a client gets back after booking or cancelling.
type BookingConfirmation struct {
	BookingID      uuid.UUID     `json:"booking_id"`
	Reference      string        `json:"reference"`
	Date           Date          `json:"date"`
	Time           string        `json:"time"`
	ReportingTime  TimeOfDay     `json:"reporting_time"`
	ProviderName   string        `json:"provider_name"`
	Specialization string        `json:"specialization"`
	Session        string        `json:"session"`
	Status         BookingStatus `json:"status"`
}

func newConfirmation(b *Booking, slot *Slot, p *Provider) *BookingConfirmation {
	return &BookingConfirmation{
		BookingID:      b.ID,
		Reference:      b.Reference,
		Date:           b.Date,
		Time:           slot.StartTime.String() + " - " + slot.EndTime.String(),
		ReportingTime:  b.ReportingTime,
		ProviderName:   p.Name,
		Specialization: p.Specialization,
		Session:        b.Session,
		Status:         b.Status,
	}
}

// RescheduleResult reports how many bookings a reschedule moved.
type RescheduleResult struct {
	ShiftMinutes int `json:"shift_minutes"`
	Updated      int `json:"updated"`
	Skipped      int `json:"skipped"`
}

// StatusFilter partitions a client's bookings for ListByStatus.
type StatusFilter string

const (
	FilterUpcoming  StatusFilter = "upcoming"
	FilterPast      StatusFilter = "past"
	FilterCancelled StatusFilter = "cancelled"
)

// BookingQuery selects booking views. Zero fields do not filter.
type BookingQuery struct {
	ProviderID uuid.UUID
	ClientID   uuid.UUID
	Status     BookingStatus
	FromDate   Date // inclusive
	BeforeDate Date // exclusive
	Descending bool
}

type ProviderFilter struct {
	Name           string
	Specialization string
}

type SlotFilter struct {
	Date    Date
	Session string
}
