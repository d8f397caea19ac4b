package agenda

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/drmarcocomper-ui/prontio-agenda/internal/kv"
)

// UnblockReason accompanies the cancel command used to lift a block. The
// clinic service requires a reason on every cancellation.
const UnblockReason = "Bloqueio removido pela agenda"

const preferencesKey = "prefs:agenda"

// Service is the remote clinic collaborator. It owns every durable record;
// the engine only orchestrates reads and issues commands.
type Service interface {
	ListAppointments(ctx context.Context, periodStart, periodEnd string, f Filters) ([]Appointment, error)
	GetScheduleConfig(ctx context.Context) (ScheduleConfig, error)
	ValidateConflict(ctx context.Context, c Candidate) error
	CreateAppointment(ctx context.Context, a Appointment) error
	UpdateAppointment(ctx context.Context, id uuid.UUID, patch Appointment) error
	CancelAppointment(ctx context.Context, id uuid.UUID, reason string) error
	CreateBlock(ctx context.Context, b Appointment) error
}

// Engine is the scheduling core behind the agenda view: slot grid, cached
// stale-while-revalidate loads guarded by sequence tokens, conflict-checked
// saves and the status lifecycle. One instance per session.
type Engine struct {
	remote    Service
	cache     *ListingCache
	seq       *Sequencer
	store     kv.Store
	validator *Validator
	log       *zap.Logger
	now       func() time.Time

	mu        sync.Mutex
	schedCfg  *ScheduleConfig
	inFlight  map[uuid.UUID]struct{}
	gridStart string
	gridEnd   string
	gridStep  int
}

// Options tune the engine; zero values fall back to the built-in defaults.
type Options struct {
	CacheTTL      time.Duration
	CacheCapacity int
	GridStart     string
	GridEnd       string
	GridStep      int
}

func NewEngine(remote Service, store kv.Store, log *zap.Logger, opts Options) *Engine {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 10 * time.Minute
	}
	if opts.CacheCapacity <= 0 {
		opts.CacheCapacity = 15
	}
	if opts.GridStart == "" {
		opts.GridStart = DefaultGridStart
	}
	if opts.GridEnd == "" {
		opts.GridEnd = DefaultGridEnd
	}
	if opts.GridStep <= 0 {
		opts.GridStep = DefaultStepMinutes
	}

	return &Engine{
		remote:    remote,
		cache:     NewListingCache(store, opts.CacheTTL, opts.CacheCapacity, log),
		seq:       NewSequencer(),
		store:     store,
		validator: NewValidator(remote, log),
		log:       log,
		now:       time.Now,
		inFlight:  make(map[uuid.UUID]struct{}),
		gridStart: opts.GridStart,
		gridEnd:   opts.GridEnd,
		gridStep:  opts.GridStep,
	}
}

// ScheduleConfig returns the clinic grid configuration, fetched lazily and
// memoized on first success. On failure the fallback grid is used so the
// agenda always renders.
func (e *Engine) ScheduleConfig(ctx context.Context) ScheduleConfig {
	e.mu.Lock()
	if e.schedCfg != nil {
		cfg := *e.schedCfg
		e.mu.Unlock()
		return cfg
	}
	e.mu.Unlock()

	cfg, err := e.remote.GetScheduleConfig(ctx)
	if err != nil {
		e.log.Warn("schedule config unavailable, using fallback grid", zap.Error(err))
		return ScheduleConfig{StartTime: e.gridStart, EndTime: e.gridEnd, StepMinutes: e.gridStep}
	}

	e.mu.Lock()
	e.schedCfg = &cfg
	e.mu.Unlock()
	return cfg
}

// LoadDay runs the read-then-render protocol for one day: a cached listing
// renders immediately as possibly stale, the network fetch always runs, and
// only the most recent load for the scope may commit. A fetch failure is
// swallowed when a cached view was already shown.
func (e *Engine) LoadDay(ctx context.Context, date string, f Filters, render func(DaySnapshot)) error {
	token, loadCtx := e.seq.Begin(ctx, ScopeDay)
	defer e.seq.Finish(ScopeDay, token)

	cfg := e.ScheduleConfig(loadCtx)
	slots := BuildSlots(cfg)

	cached, hadCache := e.cache.Read(ctx, ScopeDay, date)
	if hadCache {
		render(e.daySnapshot(date, cfg, slots, cached, f, true, true))
	}

	items, err := e.remote.ListAppointments(loadCtx, date, date, f)
	if !e.seq.IsCurrent(ScopeDay, token) {
		e.log.Debug("day load superseded", zap.String("date", date))
		return nil
	}
	if err != nil {
		if hadCache {
			e.log.Warn("day refresh failed, keeping cached agenda", zap.String("date", date), zap.Error(err))
			render(e.daySnapshot(date, cfg, slots, cached, f, true, false))
			return nil
		}
		return fmt.Errorf("load day agenda: %w", err)
	}

	e.cache.Write(ctx, ScopeDay, date, items)
	if !e.seq.IsCurrent(ScopeDay, token) {
		return nil
	}
	render(e.daySnapshot(date, cfg, slots, items, f, false, false))
	return nil
}

// LoadWeek is LoadDay for a seven-day period starting at weekStart.
func (e *Engine) LoadWeek(ctx context.Context, weekStart string, f Filters, render func(WeekSnapshot)) error {
	token, loadCtx := e.seq.Begin(ctx, ScopeWeek)
	defer e.seq.Finish(ScopeWeek, token)

	cfg := e.ScheduleConfig(loadCtx)
	slots := BuildSlots(cfg)

	days, weekEnd, err := weekDays(weekStart)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	cached, hadCache := e.cache.Read(ctx, ScopeWeek, weekStart)
	if hadCache {
		render(e.weekSnapshot(days, cfg, slots, cached, f, true, true))
	}

	items, err := e.remote.ListAppointments(loadCtx, weekStart, weekEnd, f)
	if !e.seq.IsCurrent(ScopeWeek, token) {
		e.log.Debug("week load superseded", zap.String("week_start", weekStart))
		return nil
	}
	if err != nil {
		if hadCache {
			e.log.Warn("week refresh failed, keeping cached agenda", zap.String("week_start", weekStart), zap.Error(err))
			render(e.weekSnapshot(days, cfg, slots, cached, f, true, false))
			return nil
		}
		return fmt.Errorf("load week agenda: %w", err)
	}

	e.cache.Write(ctx, ScopeWeek, weekStart, items)
	if !e.seq.IsCurrent(ScopeWeek, token) {
		return nil
	}
	render(e.weekSnapshot(days, cfg, slots, items, f, false, false))
	return nil
}

func (e *Engine) daySnapshot(date string, cfg ScheduleConfig, slots []TimeSlot, items []Appointment, f Filters, stale, refreshing bool) DaySnapshot {
	snap := DaySnapshot{
		Date:       date,
		Slots:      slots,
		Buckets:    DayBuckets(slots, items, f),
		Stale:      stale,
		Refreshing: refreshing,
	}
	if marker, ok := NowSlot(cfg, slots, e.now()); ok {
		snap.Now = &marker
		if marker.Date == date {
			snap.FocusSlot = marker.SlotIndex
		}
	}
	return snap
}

func (e *Engine) weekSnapshot(days []string, cfg ScheduleConfig, slots []TimeSlot, items []Appointment, f Filters, stale, refreshing bool) WeekSnapshot {
	snap := WeekSnapshot{
		Days:       days,
		Slots:      slots,
		Matrix:     WeekMatrix(days, slots, items, f),
		Stale:      stale,
		Refreshing: refreshing,
	}
	if marker, ok := NowSlot(cfg, slots, e.now()); ok {
		snap.Now = &marker
	}
	return snap
}

// CreateAppointment validates locally, runs the conflict pre-check and issues
// the create command. The period's cache entries are invalidated afterwards
// so the next load fetches fresh data.
func (e *Engine) CreateAppointment(ctx context.Context, a Appointment) error {
	if err := validateAppointment(a); err != nil {
		return err
	}

	res := e.validator.Validate(ctx, Candidate{
		Date:            a.Date,
		StartTime:       a.StartTime,
		DurationMinutes: a.DurationMinutes,
		FitIn:           a.FitIn,
		Kind:            a.Kind,
	})
	if err := Decide(res, a.FitIn); err != nil {
		return err
	}

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = StatusMarcado
	}
	if err := e.remote.CreateAppointment(ctx, a); err != nil {
		return fmt.Errorf("create appointment: %w", err)
	}

	e.invalidatePeriod(ctx, a.Date)
	return nil
}

// UpdateAppointment re-validates the new time range, excluding the edited
// record itself from the overlap check.
func (e *Engine) UpdateAppointment(ctx context.Context, id uuid.UUID, a Appointment) error {
	if id == uuid.Nil {
		return fmt.Errorf("%w: missing appointment id", ErrValidation)
	}
	if err := validateAppointment(a); err != nil {
		return err
	}

	excludeID := id
	res := e.validator.Validate(ctx, Candidate{
		Date:            a.Date,
		StartTime:       a.StartTime,
		DurationMinutes: a.DurationMinutes,
		ExcludeID:       &excludeID,
		FitIn:           a.FitIn,
		Kind:            a.Kind,
	})
	if err := Decide(res, a.FitIn); err != nil {
		return err
	}

	if err := e.remote.UpdateAppointment(ctx, id, a); err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}

	e.invalidatePeriod(ctx, a.Date)
	return nil
}

// CreateBlock reserves a time range. Blocks skip the conflict pre-check; the
// service is the authority on overlapping blocks.
func (e *Engine) CreateBlock(ctx context.Context, date, startTime string, durationMinutes int, note string) error {
	b := Appointment{
		ID:              uuid.New(),
		Date:            date,
		StartTime:       startTime,
		DurationMinutes: durationMinutes,
		Kind:            KindBlock,
		Status:          StatusMarcado,
		Note:            note,
	}
	if err := validateBlock(b); err != nil {
		return err
	}

	if err := e.remote.CreateBlock(ctx, b); err != nil {
		return fmt.Errorf("create block: %w", err)
	}

	e.invalidatePeriod(ctx, date)
	return nil
}

// ChangeStatus drives the status lifecycle for one appointment. Cancellation
// routes through the dedicated cancel command because it carries a mandatory
// reason; everything else is a plain status update. At most one
// status-changing operation may be in flight per id; duplicates are dropped.
func (e *Engine) ChangeStatus(ctx context.Context, id uuid.UUID, date string, current Status, next Status, reason string) error {
	if !CanTransition(current, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
	}
	if !e.acquire(id) {
		return ErrMutationInFlight
	}
	defer e.release(id)

	var err error
	if next == StatusCancelado {
		if reason == "" {
			return fmt.Errorf("%w: cancellation requires a reason", ErrValidation)
		}
		err = e.remote.CancelAppointment(ctx, id, reason)
	} else {
		err = e.remote.UpdateAppointment(ctx, id, Appointment{Status: next})
	}
	if err != nil {
		return fmt.Errorf("change status: %w", err)
	}

	e.invalidatePeriod(ctx, date)
	return nil
}

// Unblock lifts a block. It rides the cancel command with a fixed reason and
// shares the per-id single-flight guard with ChangeStatus.
func (e *Engine) Unblock(ctx context.Context, id uuid.UUID, date string) error {
	if !e.acquire(id) {
		return ErrMutationInFlight
	}
	defer e.release(id)

	if err := e.remote.CancelAppointment(ctx, id, UnblockReason); err != nil {
		return fmt.Errorf("unblock: %w", err)
	}

	e.invalidatePeriod(ctx, date)
	return nil
}

// Preferences loads the persisted view mode and filters, defaulting to the
// day view.
func (e *Engine) Preferences(ctx context.Context) Preferences {
	prefs := Preferences{ViewMode: string(ScopeDay)}

	raw, ok, err := e.store.Get(ctx, preferencesKey)
	if err != nil || !ok {
		return prefs
	}
	if err := json.Unmarshal(raw, &prefs); err != nil {
		return Preferences{ViewMode: string(ScopeDay)}
	}
	if prefs.ViewMode == "" {
		prefs.ViewMode = string(ScopeDay)
	}
	return prefs
}

// SavePreferences persists the selection best-effort.
func (e *Engine) SavePreferences(ctx context.Context, p Preferences) {
	raw, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := e.store.Set(ctx, preferencesKey, raw); err != nil {
		e.log.Debug("preferences not persisted", zap.Error(err))
	}
}

func (e *Engine) acquire(id uuid.UUID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inFlight[id]; busy {
		return false
	}
	e.inFlight[id] = struct{}{}
	return true
}

func (e *Engine) release(id uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inFlight, id)
}

// invalidatePeriod drops the cached listings a mutation on this date can
// affect: the day itself and the week containing it.
func (e *Engine) invalidatePeriod(ctx context.Context, date string) {
	e.cache.Invalidate(ctx, ScopeDay, date)
	if ws, err := weekStartOf(date); err == nil {
		e.cache.Invalidate(ctx, ScopeWeek, ws)
	}
}

func validateAppointment(a Appointment) error {
	if _, err := time.Parse("2006-01-02", a.Date); err != nil {
		return fmt.Errorf("%w: date must be YYYY-MM-DD", ErrValidation)
	}
	if _, err := parseClock(a.StartTime); err != nil {
		return fmt.Errorf("%w: start time must be HH:MM", ErrValidation)
	}
	if a.DurationMinutes <= 0 {
		return fmt.Errorf("%w: duration must be positive", ErrValidation)
	}
	if a.Kind == KindConsultation && a.PatientID == nil {
		return fmt.Errorf("%w: consultation requires a patient", ErrValidation)
	}
	return nil
}

func validateBlock(b Appointment) error {
	if _, err := time.Parse("2006-01-02", b.Date); err != nil {
		return fmt.Errorf("%w: date must be YYYY-MM-DD", ErrValidation)
	}
	if _, err := parseClock(b.StartTime); err != nil {
		return fmt.Errorf("%w: start time must be HH:MM", ErrValidation)
	}
	if b.DurationMinutes <= 0 {
		return fmt.Errorf("%w: duration must be positive", ErrValidation)
	}
	return nil
}

// weekDays expands a week start date into its seven days and the period end.
func weekDays(weekStart string) ([]string, string, error) {
	start, err := time.Parse("2006-01-02", weekStart)
	if err != nil {
		return nil, "", fmt.Errorf("week start must be YYYY-MM-DD")
	}
	days := make([]string, 7)
	for i := 0; i < 7; i++ {
		days[i] = start.AddDate(0, 0, i).Format("2006-01-02")
	}
	return days, days[6], nil
}

// weekStartOf returns the Monday of the week containing date.
func weekStartOf(date string) (string, error) {
	d, err := time.Parse("2006-01-02", date)
	if err != nil {
		return "", err
	}
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDate(0, 0, -offset).Format("2006-01-02"), nil
}
