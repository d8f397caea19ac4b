package agenda

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/drmarcocomper-ui/prontio-agenda/internal/kv"
)

type fakeRemote struct {
	mu sync.Mutex

	cfg     ScheduleConfig
	cfgErr  error
	cfgHits int

	listFn     func(ctx context.Context, start, end string, f Filters) ([]Appointment, error)
	validateFn func(ctx context.Context, c Candidate) error
	cancelFn   func(ctx context.Context, id uuid.UUID, reason string) error

	created   []Appointment
	updated   []Appointment
	cancelled []string
	blocks    []Appointment
}

func (r *fakeRemote) ListAppointments(ctx context.Context, start, end string, f Filters) ([]Appointment, error) {
	if r.listFn != nil {
		return r.listFn(ctx, start, end, f)
	}
	return nil, nil
}

func (r *fakeRemote) GetScheduleConfig(context.Context) (ScheduleConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfgHits++
	if r.cfgErr != nil {
		return ScheduleConfig{}, r.cfgErr
	}
	if r.cfg.StepMinutes == 0 {
		return ScheduleConfig{StartTime: "08:00", EndTime: "18:00", StepMinutes: 15}, nil
	}
	return r.cfg, nil
}

func (r *fakeRemote) ValidateConflict(ctx context.Context, c Candidate) error {
	if r.validateFn != nil {
		return r.validateFn(ctx, c)
	}
	return nil
}

func (r *fakeRemote) CreateAppointment(_ context.Context, a Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, a)
	return nil
}

func (r *fakeRemote) UpdateAppointment(_ context.Context, id uuid.UUID, patch Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	patch.ID = id
	r.updated = append(r.updated, patch)
	return nil
}

func (r *fakeRemote) CancelAppointment(ctx context.Context, id uuid.UUID, reason string) error {
	if r.cancelFn != nil {
		return r.cancelFn(ctx, id, reason)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = append(r.cancelled, id.String()+":"+reason)
	return nil
}

func (r *fakeRemote) CreateBlock(_ context.Context, b Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blocks = append(r.blocks, b)
	return nil
}

func newTestEngine(remote Service) *Engine {
	return NewEngine(remote, kv.NewMemoryStore(), zap.NewNop(), Options{})
}

func TestLoadDayGridAndDrift(t *testing.T) {
	// Scenario: a 08:00-18:00/15 grid renders 41 slots, and an 08:07
	// appointment still shows up under its own key.
	drifted := consultation("Ana Souza", "2024-06-10", "08:07", StatusMarcado)
	remote := &fakeRemote{
		listFn: func(context.Context, string, string, Filters) ([]Appointment, error) {
			return []Appointment{drifted}, nil
		},
	}
	e := newTestEngine(remote)

	var snap DaySnapshot
	err := e.LoadDay(context.Background(), "2024-06-10", Filters{}, func(s DaySnapshot) { snap = s })
	require.NoError(t, err)

	require.Len(t, snap.Slots, 41)
	assert.Equal(t, "08:00", snap.Slots[0].Label)
	assert.Equal(t, "18:00", snap.Slots[40].Label)
	require.Len(t, snap.Buckets["08:07"], 1)
	assert.Equal(t, drifted.ID, snap.Buckets["08:07"][0].ID)
	assert.False(t, snap.Stale)
}

func TestLoadDaySupersededResponseDiscarded(t *testing.T) {
	// Scenario: two day loads fired in quick succession, the first resolves
	// after the second. Only the second's items may reach the rendered map.
	first := consultation("Primeira Carga", "2024-06-10", "09:00", StatusMarcado)
	second := consultation("Segunda Carga", "2024-06-10", "10:00", StatusMarcado)

	firstStarted := make(chan struct{})
	releaseFirst := make(chan struct{})
	var calls int32

	remote := &fakeRemote{
		listFn: func(ctx context.Context, _, _ string, _ Filters) ([]Appointment, error) {
			if atomic.AddInt32(&calls, 1) == 1 {
				close(firstStarted)
				<-releaseFirst
				return []Appointment{first}, nil
			}
			return []Appointment{second}, nil
		},
	}
	e := newTestEngine(remote)

	var mu sync.Mutex
	var renders []DaySnapshot
	render := func(s DaySnapshot) {
		mu.Lock()
		defer mu.Unlock()
		renders = append(renders, s)
	}

	done := make(chan error, 1)
	go func() {
		done <- e.LoadDay(context.Background(), "2024-06-10", Filters{}, render)
	}()
	<-firstStarted

	require.NoError(t, e.LoadDay(context.Background(), "2024-06-10", Filters{}, render))

	close(releaseFirst)
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, renders, 1, "the superseded load must not render")
	require.Len(t, renders[0].Buckets["10:00"], 1)
	assert.Equal(t, second.ID, renders[0].Buckets["10:00"][0].ID)
	assert.Empty(t, renders[0].Buckets["09:00"])
}

func TestLoadDayStaleWhileRevalidate(t *testing.T) {
	// Scenario: a 9-minute-old cache entry renders immediately, then the
	// fresh fetch replaces it.
	cached := consultation("Valor Antigo", "2024-06-10", "08:00", StatusMarcado)
	fresh := consultation("Valor Novo", "2024-06-10", "08:30", StatusConfirmado)

	remote := &fakeRemote{
		listFn: func(context.Context, string, string, Filters) ([]Appointment, error) {
			return []Appointment{fresh}, nil
		},
	}
	e := newTestEngine(remote)

	now := time.Now()
	e.cache.now = func() time.Time { return now.Add(-9 * time.Minute) }
	e.cache.Write(context.Background(), ScopeDay, "2024-06-10", []Appointment{cached})
	e.cache.now = func() time.Time { return now }

	var renders []DaySnapshot
	err := e.LoadDay(context.Background(), "2024-06-10", Filters{}, func(s DaySnapshot) {
		renders = append(renders, s)
	})
	require.NoError(t, err)

	require.Len(t, renders, 2)
	assert.True(t, renders[0].Stale)
	assert.True(t, renders[0].Refreshing)
	require.Len(t, renders[0].Buckets["08:00"], 1)

	assert.False(t, renders[1].Stale)
	assert.False(t, renders[1].Refreshing)
	assert.Empty(t, renders[1].Buckets["08:00"])
	require.Len(t, renders[1].Buckets["08:30"], 1)
	assert.Equal(t, fresh.ID, renders[1].Buckets["08:30"][0].ID)
}

func TestLoadDayFetchFailure(t *testing.T) {
	t.Run("cached view swallows the refresh error", func(t *testing.T) {
		remote := &fakeRemote{
			listFn: func(context.Context, string, string, Filters) ([]Appointment, error) {
				return nil, errors.New("connection reset")
			},
		}
		e := newTestEngine(remote)
		e.cache.Write(context.Background(), ScopeDay, "2024-06-10", []Appointment{
			consultation("Ana Souza", "2024-06-10", "08:00", StatusMarcado),
		})

		var renders []DaySnapshot
		err := e.LoadDay(context.Background(), "2024-06-10", Filters{}, func(s DaySnapshot) {
			renders = append(renders, s)
		})

		require.NoError(t, err)
		require.Len(t, renders, 2)
		assert.True(t, renders[1].Stale)
		assert.False(t, renders[1].Refreshing)
		require.Len(t, renders[1].Buckets["08:00"], 1)
	})

	t.Run("no cache surfaces the load error", func(t *testing.T) {
		remote := &fakeRemote{
			listFn: func(context.Context, string, string, Filters) ([]Appointment, error) {
				return nil, errors.New("connection reset")
			},
		}
		e := newTestEngine(remote)

		err := e.LoadDay(context.Background(), "2024-06-10", Filters{}, func(DaySnapshot) {
			t.Fatal("nothing should render")
		})

		require.Error(t, err)
	})
}

func TestLoadWeek(t *testing.T) {
	monday := consultation("Ana Souza", "2024-06-10", "08:00", StatusMarcado)
	friday := consultation("Bruno Lima", "2024-06-14", "09:00", StatusMarcado)

	remote := &fakeRemote{
		listFn: func(_ context.Context, start, end string, _ Filters) ([]Appointment, error) {
			assert.Equal(t, "2024-06-10", start)
			assert.Equal(t, "2024-06-16", end)
			return []Appointment{monday, friday}, nil
		},
	}
	e := newTestEngine(remote)

	var snap WeekSnapshot
	err := e.LoadWeek(context.Background(), "2024-06-10", Filters{}, func(s WeekSnapshot) { snap = s })
	require.NoError(t, err)

	require.Len(t, snap.Days, 7)
	assert.Equal(t, "2024-06-10", snap.Days[0])
	assert.Equal(t, "2024-06-16", snap.Days[6])
	assert.Len(t, snap.Matrix["2024-06-10"]["08:00"], 1)
	assert.Len(t, snap.Matrix["2024-06-14"]["09:00"], 1)
}

func TestScheduleConfigMemoized(t *testing.T) {
	remote := &fakeRemote{cfg: ScheduleConfig{StartTime: "07:00", EndTime: "12:00", StepMinutes: 30}}
	e := newTestEngine(remote)

	cfg := e.ScheduleConfig(context.Background())
	assert.Equal(t, "07:00", cfg.StartTime)

	e.ScheduleConfig(context.Background())
	e.ScheduleConfig(context.Background())
	assert.Equal(t, 1, remote.cfgHits)
}

func TestScheduleConfigFallback(t *testing.T) {
	remote := &fakeRemote{cfgErr: errors.New("timeout")}
	e := newTestEngine(remote)

	cfg := e.ScheduleConfig(context.Background())
	assert.Equal(t, DefaultGridStart, cfg.StartTime)
	assert.Equal(t, DefaultGridEnd, cfg.EndTime)

	// The failure is not memoized; a later call may still succeed.
	remote.mu.Lock()
	remote.cfgErr = nil
	remote.cfg = ScheduleConfig{StartTime: "09:00", EndTime: "17:00", StepMinutes: 20}
	remote.mu.Unlock()

	cfg = e.ScheduleConfig(context.Background())
	assert.Equal(t, "09:00", cfg.StartTime)
}

func TestCreateAppointmentPolicy(t *testing.T) {
	pid := uuid.New()
	base := Appointment{
		PatientID:       &pid,
		PatientName:     "Ana Souza",
		Date:            "2024-06-10",
		StartTime:       "09:00",
		DurationMinutes: 30,
		Kind:            KindConsultation,
	}

	t.Run("clean create goes through and invalidates the period", func(t *testing.T) {
		remote := &fakeRemote{}
		e := newTestEngine(remote)
		e.cache.Write(context.Background(), ScopeDay, "2024-06-10", nil)
		e.cache.Write(context.Background(), ScopeWeek, "2024-06-10", nil)

		require.NoError(t, e.CreateAppointment(context.Background(), base))

		require.Len(t, remote.created, 1)
		assert.Equal(t, StatusMarcado, remote.created[0].Status)
		assert.NotEqual(t, uuid.Nil, remote.created[0].ID)

		_, dayCached := e.cache.Read(context.Background(), ScopeDay, "2024-06-10")
		_, weekCached := e.cache.Read(context.Background(), ScopeWeek, "2024-06-10")
		assert.False(t, dayCached, "day cache must be invalidated")
		assert.False(t, weekCached, "week cache must be invalidated")
	})

	t.Run("block overlap refuses even with fit-in", func(t *testing.T) {
		remote := &fakeRemote{
			validateFn: func(context.Context, Candidate) error {
				return &ConflictError{Conflicts: []RemoteOverlap{{Kind: "BLOCK", Start: "09:00", End: "10:00"}}}
			},
		}
		e := newTestEngine(remote)

		withFitIn := base
		withFitIn.FitIn = true
		err := e.CreateAppointment(context.Background(), withFitIn)

		assert.ErrorIs(t, err, ErrBlockedPeriod)
		assert.Empty(t, remote.created)
	})

	t.Run("consultation overlap requires fit-in", func(t *testing.T) {
		remote := &fakeRemote{
			validateFn: func(context.Context, Candidate) error {
				return &ConflictError{Conflicts: []RemoteOverlap{{Kind: "CONSULTATION", Start: "09:00", End: "09:30"}}}
			},
		}
		e := newTestEngine(remote)

		err := e.CreateAppointment(context.Background(), base)
		assert.ErrorIs(t, err, ErrOverlapNeedsFitIn)

		withFitIn := base
		withFitIn.FitIn = true
		require.NoError(t, e.CreateAppointment(context.Background(), withFitIn))
		require.Len(t, remote.created, 1)
	})

	t.Run("pre-check outage does not block the save", func(t *testing.T) {
		remote := &fakeRemote{
			validateFn: func(context.Context, Candidate) error {
				return errors.New("gateway timeout")
			},
		}
		e := newTestEngine(remote)

		require.NoError(t, e.CreateAppointment(context.Background(), base))
		require.Len(t, remote.created, 1)
	})

	t.Run("local validation rejects before any command", func(t *testing.T) {
		remote := &fakeRemote{}
		e := newTestEngine(remote)

		missingPatient := base
		missingPatient.PatientID = nil
		assert.ErrorIs(t, e.CreateAppointment(context.Background(), missingPatient), ErrValidation)

		badDate := base
		badDate.Date = "10/06/2024"
		assert.ErrorIs(t, e.CreateAppointment(context.Background(), badDate), ErrValidation)

		assert.Empty(t, remote.created)
	})
}

func TestUpdateAppointmentExcludesItself(t *testing.T) {
	id := uuid.New()
	var seen Candidate
	remote := &fakeRemote{
		validateFn: func(_ context.Context, c Candidate) error {
			seen = c
			return nil
		},
	}
	e := newTestEngine(remote)

	pid := uuid.New()
	err := e.UpdateAppointment(context.Background(), id, Appointment{
		PatientID:       &pid,
		Date:            "2024-06-10",
		StartTime:       "10:00",
		DurationMinutes: 15,
		Kind:            KindConsultation,
	})
	require.NoError(t, err)

	require.NotNil(t, seen.ExcludeID)
	assert.Equal(t, id, *seen.ExcludeID)
	require.Len(t, remote.updated, 1)
}

func TestChangeStatus(t *testing.T) {
	id := uuid.New()

	t.Run("plain transition issues a status update", func(t *testing.T) {
		remote := &fakeRemote{}
		e := newTestEngine(remote)

		err := e.ChangeStatus(context.Background(), id, "2024-06-10", StatusMarcado, StatusConfirmado, "")
		require.NoError(t, err)

		require.Len(t, remote.updated, 1)
		assert.Equal(t, StatusConfirmado, remote.updated[0].Status)
		assert.Empty(t, remote.cancelled)
	})

	t.Run("cancel routes through the cancel command with a reason", func(t *testing.T) {
		remote := &fakeRemote{}
		e := newTestEngine(remote)

		err := e.ChangeStatus(context.Background(), id, "2024-06-10", StatusConfirmado, StatusCancelado, "paciente desistiu")
		require.NoError(t, err)

		require.Len(t, remote.cancelled, 1)
		assert.Contains(t, remote.cancelled[0], "paciente desistiu")
		assert.Empty(t, remote.updated)
	})

	t.Run("cancel without a reason is a validation error", func(t *testing.T) {
		remote := &fakeRemote{}
		e := newTestEngine(remote)

		err := e.ChangeStatus(context.Background(), id, "2024-06-10", StatusMarcado, StatusCancelado, "")
		assert.ErrorIs(t, err, ErrValidation)
		assert.Empty(t, remote.cancelled)
	})

	t.Run("invalid transition is refused locally", func(t *testing.T) {
		remote := &fakeRemote{}
		e := newTestEngine(remote)

		err := e.ChangeStatus(context.Background(), id, "2024-06-10", StatusCancelado, StatusConfirmado, "")
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.Empty(t, remote.updated)
	})
}

func TestChangeStatusSingleFlightPerID(t *testing.T) {
	id := uuid.New()
	otherID := uuid.New()

	inCancel := make(chan struct{})
	releaseCancel := make(chan struct{})
	remote := &fakeRemote{
		cancelFn: func(context.Context, uuid.UUID, string) error {
			close(inCancel)
			<-releaseCancel
			return nil
		},
	}
	e := newTestEngine(remote)

	done := make(chan error, 1)
	go func() {
		done <- e.ChangeStatus(context.Background(), id, "2024-06-10", StatusMarcado, StatusCancelado, "motivo")
	}()
	<-inCancel

	// Duplicate for the same id is dropped, not queued.
	err := e.ChangeStatus(context.Background(), id, "2024-06-10", StatusMarcado, StatusConfirmado, "")
	assert.ErrorIs(t, err, ErrMutationInFlight)

	// A different id is unaffected.
	require.NoError(t, e.ChangeStatus(context.Background(), otherID, "2024-06-10", StatusMarcado, StatusConfirmado, ""))

	close(releaseCancel)
	require.NoError(t, <-done)

	// The guard is released after completion.
	require.NoError(t, e.ChangeStatus(context.Background(), id, "2024-06-10", StatusMarcado, StatusConfirmado, ""))
}

func TestGuardReleasedOnFailure(t *testing.T) {
	id := uuid.New()
	remote := &fakeRemote{
		cancelFn: func(context.Context, uuid.UUID, string) error {
			return errors.New("boom")
		},
	}
	e := newTestEngine(remote)

	err := e.Unblock(context.Background(), id, "2024-06-10")
	require.Error(t, err)

	// A failed request must not permanently lock the id.
	remote.cancelFn = nil
	require.NoError(t, e.Unblock(context.Background(), id, "2024-06-10"))
	require.Len(t, remote.cancelled, 1)
	assert.Contains(t, remote.cancelled[0], UnblockReason)
}

func TestCreateBlock(t *testing.T) {
	remote := &fakeRemote{}
	e := newTestEngine(remote)

	require.NoError(t, e.CreateBlock(context.Background(), "2024-06-10", "12:00", 60, "Reunião clínica"))

	require.Len(t, remote.blocks, 1)
	assert.Equal(t, KindBlock, remote.blocks[0].Kind)
	assert.Equal(t, "12:00", remote.blocks[0].StartTime)

	assert.ErrorIs(t, e.CreateBlock(context.Background(), "2024-06-10", "12:00", 0, ""), ErrValidation)
}

func TestPreferencesRoundTrip(t *testing.T) {
	e := newTestEngine(&fakeRemote{})
	ctx := context.Background()

	assert.Equal(t, string(ScopeDay), e.Preferences(ctx).ViewMode)

	e.SavePreferences(ctx, Preferences{
		ViewMode: string(ScopeWeek),
		Filters:  Filters{Text: "joao", Status: "Confirmado"},
	})

	got := e.Preferences(ctx)
	assert.Equal(t, string(ScopeWeek), got.ViewMode)
	assert.Equal(t, "joao", got.Filters.Text)
	assert.Equal(t, "Confirmado", got.Filters.Status)
}
