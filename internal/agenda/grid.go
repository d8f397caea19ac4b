package agenda

import "time"

// Fallback grid used when the clinic configuration is missing or unparsable.
// The agenda must always render something.
const (
	DefaultGridStart   = "08:00"
	DefaultGridEnd     = "18:00"
	DefaultStepMinutes = 15
)

func DefaultScheduleConfig() ScheduleConfig {
	return ScheduleConfig{
		StartTime:   DefaultGridStart,
		EndTime:     DefaultGridEnd,
		StepMinutes: DefaultStepMinutes,
	}
}

// BuildSlots derives the ordered slot grid for a schedule configuration.
// The interval is closed: if the end time lands exactly on a step boundary it
// becomes the last slot. Invalid configurations fall back to the default
// grid instead of failing the caller.
func BuildSlots(cfg ScheduleConfig) []TimeSlot {
	start, errStart := parseClock(cfg.StartTime)
	end, errEnd := parseClock(cfg.EndTime)
	step := cfg.StepMinutes

	if errStart != nil || errEnd != nil || step <= 0 || end < start {
		start, _ = parseClock(DefaultGridStart)
		end, _ = parseClock(DefaultGridEnd)
		step = DefaultStepMinutes
	}

	slots := make([]TimeSlot, 0, (end-start)/step+1)
	for m, i := start, 0; m <= end; m, i = m+step, i+1 {
		slots = append(slots, TimeSlot{Label: formatClock(m), Index: i})
	}
	return slots
}

// NowSlot locates the grid slot the given instant falls into. It reports
// false outside working hours rather than clamping, so the agenda never
// highlights an out-of-hours slot.
func NowSlot(cfg ScheduleConfig, slots []TimeSlot, now time.Time) (NowMarker, bool) {
	if len(slots) == 0 {
		return NowMarker{}, false
	}

	start, err := parseClock(slots[0].Label)
	if err != nil {
		return NowMarker{}, false
	}
	end, err := parseClock(slots[len(slots)-1].Label)
	if err != nil {
		return NowMarker{}, false
	}

	// The grid may be the fallback one, so derive the step from the slots
	// themselves instead of trusting the configuration.
	step := cfg.StepMinutes
	if len(slots) >= 2 {
		if second, err := parseClock(slots[1].Label); err == nil && second > start {
			step = second - start
		}
	}
	if step <= 0 {
		step = DefaultStepMinutes
	}

	minutes := now.Hour()*60 + now.Minute()
	if minutes < start || minutes > end {
		return NowMarker{}, false
	}

	idx := (minutes - start) / step
	if idx < 0 {
		idx = 0
	}
	if idx > len(slots)-1 {
		idx = len(slots) - 1
	}

	return NowMarker{Date: now.Format("2006-01-02"), SlotIndex: idx}, true
}
