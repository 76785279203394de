package scheduling

// Allocation is the outcome of placing one more booking into a slot.
type Allocation struct {
	ReportingTime TimeOfDay
	// Position is the 0-based arrival index within the slot.
	Position int
	// Full is true when this booking takes the last place.
	Full bool
}

// Strategy decides slot capacity and reporting times for one schedule type.
// Occupancy always comes from the booking ledger; the caller passes the
// positions held by the slot's active bookings.
type Strategy interface {
	Type() ScheduleType
	Capacity(slot *Slot, w *AvailabilityWindow, p *Provider) int
	Allocate(slot *Slot, taken []int, capacity int) (Allocation, error)
}

// StrategyFor selects the allocation strategy by the provider's schedule type.
// Unknown or empty types fall back to stream.
func StrategyFor(t ScheduleType) Strategy {
	if t == ScheduleWave {
		return waveStrategy{}
	}
	return streamStrategy{}
}

// streamStrategy admits a single patient per slot, reporting at slot start.
type streamStrategy struct{}

func (streamStrategy) Type() ScheduleType { return ScheduleStream }

func (streamStrategy) Capacity(*Slot, *AvailabilityWindow, *Provider) int { return 1 }

func (streamStrategy) Allocate(slot *Slot, taken []int, capacity int) (Allocation, error) {
	if len(taken) >= 1 {
		return Allocation{}, ErrSlotFull
	}
	return Allocation{ReportingTime: slot.StartTime, Position: 0, Full: true}, nil
}

// waveStrategy admits several patients per slot and staggers their
// reporting times evenly across the slot by arrival position. A new booking
// takes the lowest position no active booking holds.
type waveStrategy struct{}

func (waveStrategy) Type() ScheduleType { return ScheduleWave }

// Capacity resolves the most specific patients_per_slot: slot, then window,
// then provider, then the default of 3.
func (waveStrategy) Capacity(slot *Slot, w *AvailabilityWindow, p *Provider) int {
	if slot != nil && slot.PatientsPerSlot != nil && *slot.PatientsPerSlot > 0 {
		return *slot.PatientsPerSlot
	}
	if w != nil && w.PatientsPerSlot != nil && *w.PatientsPerSlot > 0 {
		return *w.PatientsPerSlot
	}
	if p != nil && p.PatientsPerSlot > 0 {
		return p.PatientsPerSlot
	}
	return DefaultPatientsPerSlot
}

func (waveStrategy) Allocate(slot *Slot, taken []int, capacity int) (Allocation, error) {
	if capacity <= 0 {
		capacity = DefaultPatientsPerSlot
	}
	if len(taken) >= capacity {
		return Allocation{}, ErrSlotFull
	}
	pos := lowestFree(taken)
	if pos >= capacity {
		return Allocation{}, ErrSlotFull
	}
	offset := pos * slot.Duration() / capacity
	return Allocation{
		ReportingTime: slot.StartTime + TimeOfDay(offset),
		Position:      pos,
		Full:          len(taken)+1 >= capacity,
	}, nil
}

func lowestFree(taken []int) int {
	held := make(map[int]struct{}, len(taken))
	for _, p := range taken {
		held[p] = struct{}{}
	}
	pos := 0
	for {
		if _, ok := held[pos]; !ok {
			return pos
		}
		pos++
	}
}
