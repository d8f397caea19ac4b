package agenda

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func consultation(name, date, start string, status Status) Appointment {
	pid := uuid.New()
	return Appointment{
		ID:              uuid.New(),
		PatientID:       &pid,
		PatientName:     name,
		Date:            date,
		StartTime:       start,
		DurationMinutes: 15,
		Kind:            KindConsultation,
		Status:          status,
	}
}

func TestDayBuckets(t *testing.T) {
	slots := BuildSlots(ScheduleConfig{StartTime: "08:00", EndTime: "09:00", StepMinutes: 15})

	t.Run("every configured slot is present even when empty", func(t *testing.T) {
		buckets := DayBuckets(slots, nil, Filters{})

		require.Len(t, buckets, 5)
		for _, s := range slots {
			bucket, ok := buckets[s.Label]
			require.True(t, ok, "slot %s missing", s.Label)
			assert.Empty(t, bucket)
		}
	})

	t.Run("appointments land in their slot in arrival order", func(t *testing.T) {
		first := consultation("Ana Souza", "2024-06-10", "08:15", StatusMarcado)
		second := consultation("Bruno Lima", "2024-06-10", "08:15", StatusConfirmado)

		buckets := DayBuckets(slots, []Appointment{first, second}, Filters{})

		require.Len(t, buckets["08:15"], 2)
		assert.Equal(t, first.ID, buckets["08:15"][0].ID)
		assert.Equal(t, second.ID, buckets["08:15"][1].ID)
	})

	t.Run("off-grid start time keeps its literal key", func(t *testing.T) {
		drifted := consultation("Carla Nunes", "2024-06-10", "08:07", StatusMarcado)

		buckets := DayBuckets(slots, []Appointment{drifted}, Filters{})

		require.Len(t, buckets["08:07"], 1)
		assert.Equal(t, drifted.ID, buckets["08:07"][0].ID)
	})

	t.Run("start times are normalized before bucketing", func(t *testing.T) {
		padded := consultation("Davi Melo", "2024-06-10", "8:30", StatusMarcado)

		buckets := DayBuckets(slots, []Appointment{padded}, Filters{})

		require.Len(t, buckets["08:30"], 1)
	})

	t.Run("text filter is accent and case insensitive", func(t *testing.T) {
		joao := consultation("João Álvares", "2024-06-10", "08:00", StatusMarcado)
		maria := consultation("Maria Costa", "2024-06-10", "08:15", StatusMarcado)

		buckets := DayBuckets(slots, []Appointment{joao, maria}, Filters{Text: "JOAO"})

		assert.Len(t, buckets["08:00"], 1)
		assert.Empty(t, buckets["08:15"])
	})

	t.Run("status filter matches through synonyms", func(t *testing.T) {
		attended := consultation("Elisa Prado", "2024-06-10", "08:00", StatusAtendido)
		legacy := consultation("Fábio Dias", "2024-06-10", "08:15", Status("Concluído"))
		pending := consultation("Gil Ramos", "2024-06-10", "08:30", StatusMarcado)

		buckets := DayBuckets(slots, []Appointment{attended, legacy, pending}, Filters{Status: "Concluído"})

		assert.Len(t, buckets["08:00"], 1)
		assert.Len(t, buckets["08:15"], 1)
		assert.Empty(t, buckets["08:30"])
	})
}

func TestWeekMatrix(t *testing.T) {
	slots := BuildSlots(ScheduleConfig{StartTime: "08:00", EndTime: "08:30", StepMinutes: 15})
	days := []string{"2024-06-10", "2024-06-11", "2024-06-12"}

	t.Run("every day gets a full slot row", func(t *testing.T) {
		matrix := WeekMatrix(days, slots, nil, Filters{})

		require.Len(t, matrix, 3)
		for _, d := range days {
			require.Len(t, matrix[d], 3)
		}
	})

	t.Run("appointments land under their day and slot", func(t *testing.T) {
		monday := consultation("Ana Souza", "2024-06-10", "08:00", StatusMarcado)
		tuesday := consultation("Bruno Lima", "2024-06-11", "08:15", StatusMarcado)

		matrix := WeekMatrix(days, slots, []Appointment{monday, tuesday}, Filters{})

		assert.Len(t, matrix["2024-06-10"]["08:00"], 1)
		assert.Len(t, matrix["2024-06-11"]["08:15"], 1)
		assert.Empty(t, matrix["2024-06-12"]["08:00"])
	})

	t.Run("a day outside the requested range is not dropped", func(t *testing.T) {
		stray := consultation("Carla Nunes", "2024-06-14", "08:00", StatusMarcado)

		matrix := WeekMatrix(days, slots, []Appointment{stray}, Filters{})

		require.Contains(t, matrix, "2024-06-14")
		assert.Len(t, matrix["2024-06-14"]["08:00"], 1)
	})
}
