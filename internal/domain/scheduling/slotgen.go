package scheduling

import (
	"github.com/google/uuid"
)

// GenerateSlots cuts the window into consecutive slots of its slot duration.
// Stepping stops at the last slot that fits, so a trailing remainder shorter
// than one slot is dropped rather than emitted as a short slot.
func GenerateSlots(w *AvailabilityWindow) ([]*Slot, error) {
	d := w.SlotDuration
	if d <= 0 {
		return nil, validationf("slot duration must be positive, got %d", d)
	}
	if w.StartTime >= w.EndTime {
		return nil, validationf("window start %s must be before end %s", w.StartTime, w.EndTime)
	}

	var slots []*Slot
	for start := w.StartTime; start+TimeOfDay(d) <= w.EndTime; start += TimeOfDay(d) {
		slots = append(slots, &Slot{
			ID:              uuid.New(),
			AvailabilityID:  w.ID,
			Date:            w.Date,
			StartTime:       start,
			EndTime:         start + TimeOfDay(d),
			SlotDuration:    d,
			PatientsPerSlot: w.PatientsPerSlot,
			IsAvailable:     true,
			ReportingTime:   start,
		})
	}
	return slots, nil
}

// newManualSlot builds a slot added outside the generator. Its base
// reporting time is offset by one patient's share of the slot.
func newManualSlot(w *AvailabilityWindow, start, end TimeOfDay, capacity *int) (*Slot, error) {
	if !w.Contains(start, end) {
		return nil, validationf("slot %s-%s must lie inside window %s-%s", start, end, w.StartTime, w.EndTime)
	}
	if capacity != nil && *capacity <= 0 {
		return nil, validationf("patients_per_slot must be positive, got %d", *capacity)
	}

	s := &Slot{
		ID:              uuid.New(),
		AvailabilityID:  w.ID,
		Date:            w.Date,
		StartTime:       start,
		EndTime:         end,
		SlotDuration:    int(end - start),
		PatientsPerSlot: capacity,
		IsAvailable:     true,
	}
	s.ReportingTime = manualReportingTime(s, w)
	return s, nil
}

func manualReportingTime(s *Slot, w *AvailabilityWindow) TimeOfDay {
	c := DefaultPatientsPerSlot
	if s.PatientsPerSlot != nil && *s.PatientsPerSlot > 0 {
		c = *s.PatientsPerSlot
	} else if w.PatientsPerSlot != nil && *w.PatientsPerSlot > 0 {
		c = *w.PatientsPerSlot
	}
	return s.StartTime + TimeOfDay(s.Duration()/c)
}
