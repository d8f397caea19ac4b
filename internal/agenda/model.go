package agenda

import (
	"errors"

	"github.com/google/uuid"
)

type Kind string

const (
	KindConsultation Kind = "CONSULTATION"
	KindBlock        Kind = "BLOCK"
)

// Scope is a logical loading context with its own sequence counter and cache
// namespace.
type Scope string

const (
	ScopeDay  Scope = "day"
	ScopeWeek Scope = "week"
)

var (
	ErrValidation        = errors.New("invalid appointment data")
	ErrBlockedPeriod     = errors.New("time range is blocked")
	ErrOverlapNeedsFitIn = errors.New("overlapping appointment requires fit-in")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrMutationInFlight  = errors.New("operation already in flight for this appointment")
)

// Appointment is the client-side projection of a record owned by the clinic
// service. Date is a calendar day (YYYY-MM-DD) and StartTime a wall-clock
// HH:MM, both in the clinic's local time.
type Appointment struct {
	ID              uuid.UUID  `json:"id"`
	PatientID       *uuid.UUID `json:"patient_id,omitempty"`
	PatientName     string     `json:"patient_name,omitempty"`
	Date            string     `json:"date"`
	StartTime       string     `json:"start_time"`
	DurationMinutes int        `json:"duration_minutes"`
	Kind            Kind       `json:"kind"`
	Status          Status     `json:"status"`
	FitIn           bool       `json:"fit_in"`
	Origin          string     `json:"origin,omitempty"`
	Channel         string     `json:"channel,omitempty"`
	Note            string     `json:"note,omitempty"`
}

// TimeSlot is one cell of the agenda grid. Recomputed whenever the schedule
// configuration changes, never persisted.
type TimeSlot struct {
	Label string `json:"label"` // HH:MM
	Index int    `json:"index"`
}

// ScheduleConfig is the clinic-wide agenda shape, loaded once per session.
type ScheduleConfig struct {
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	StepMinutes int    `json:"step_minutes"`
}

// Overlap is one normalized entry of a failed conflict check.
type Overlap struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	IsBlock   bool   `json:"is_block"`
}

// ConflictResult is the uniform outcome of a pre-flight conflict validation.
type ConflictResult struct {
	OK       bool      `json:"ok"`
	Overlaps []Overlap `json:"overlaps,omitempty"`
	Message  string    `json:"message,omitempty"`
}

// Candidate describes the appointment or block about to be saved.
type Candidate struct {
	Date            string     `json:"date"`
	StartTime       string     `json:"start_time"`
	DurationMinutes int        `json:"duration_minutes"`
	ExcludeID       *uuid.UUID `json:"exclude_id,omitempty"` // set for edits
	FitIn           bool       `json:"fit_in"`
	Kind            Kind       `json:"kind"`
}

// RemoteOverlap is the raw conflict detail as reported by the clinic service,
// before normalization.
type RemoteOverlap struct {
	Kind  string `json:"kind"`
	Start string `json:"start"`
	End   string `json:"end"`
}

// ConflictError is the structured failure of the remote conflict check. Any
// other error from the check is a transport failure and is treated fail-open.
type ConflictError struct {
	Conflicts []RemoteOverlap
}

func (e *ConflictError) Error() string {
	return "appointment conflicts with existing records"
}

// Filters narrow which appointments the aggregator keeps.
type Filters struct {
	Text   string `json:"text,omitempty"`   // matches patient name, accent/case-insensitive
	Status string `json:"status,omitempty"` // canonical value, UI label or legacy synonym
}

// Preferences is the user's persisted agenda view selection.
type Preferences struct {
	ViewMode string  `json:"view_mode"`
	Filters  Filters `json:"filters"`
}

// NowMarker points the presentation layer at the slot the current instant
// falls into.
type NowMarker struct {
	Date      string `json:"date"`
	SlotIndex int    `json:"slot_index"`
}

// DaySnapshot is everything the presentation layer needs to render one day.
type DaySnapshot struct {
	Date       string                   `json:"date"`
	Slots      []TimeSlot               `json:"slots"`
	Buckets    map[string][]Appointment `json:"buckets"`
	Now        *NowMarker               `json:"now,omitempty"`
	FocusSlot  int                      `json:"focus_slot"`
	Stale      bool                     `json:"stale"`
	Refreshing bool                     `json:"refreshing"`
}

// WeekSnapshot is the week-mode equivalent of DaySnapshot.
type WeekSnapshot struct {
	Days       []string                            `json:"days"`
	Slots      []TimeSlot                          `json:"slots"`
	Matrix     map[string]map[string][]Appointment `json:"matrix"`
	Now        *NowMarker                          `json:"now,omitempty"`
	Stale      bool                                `json:"stale"`
	Refreshing bool                                `json:"refreshing"`
}
