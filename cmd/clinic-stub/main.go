// clinic-stub is a fake clinic service for local development. It implements
// the remote contract the agenda engine consumes (listing, schedule config,
// conflict validation and the mutation commands) over an in-memory store
// seeded with generated appointments.
package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

type appointment struct {
	ID              uuid.UUID  `json:"id"`
	PatientID       *uuid.UUID `json:"patient_id,omitempty"`
	PatientName     string     `json:"patient_name,omitempty"`
	Date            string     `json:"date"`
	StartTime       string     `json:"start_time"`
	DurationMinutes int        `json:"duration_minutes"`
	Kind            string     `json:"kind"`
	Status          string     `json:"status"`
	FitIn           bool       `json:"fit_in"`
	Origin          string     `json:"origin,omitempty"`
	Note            string     `json:"note,omitempty"`
}

type store struct {
	mu    sync.RWMutex
	items map[uuid.UUID]appointment
}

func newStore() *store {
	return &store{items: make(map[uuid.UUID]appointment)}
}

func (s *store) list(periodStart, periodEnd string) []appointment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []appointment
	for _, a := range s.items {
		if a.Status == "CANCELADO" {
			continue
		}
		if a.Date >= periodStart && a.Date <= periodEnd {
			out = append(out, a)
		}
	}
	return out
}

func (s *store) put(a appointment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[a.ID] = a
}

func (s *store) get(id uuid.UUID) (appointment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.items[id]
	return a, ok
}

type candidate struct {
	Date            string     `json:"date"`
	StartTime       string     `json:"start_time"`
	DurationMinutes int        `json:"duration_minutes"`
	ExcludeID       *uuid.UUID `json:"exclude_id,omitempty"`
	Kind            string     `json:"kind"`
}

type conflictEntry struct {
	Kind  string `json:"kind"`
	Start string `json:"start"`
	End   string `json:"end"`
}

// conflicts finds every non-cancelled record overlapping the candidate range.
func (s *store) conflicts(c candidate) []conflictEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	candStart := toMinutes(c.StartTime)
	candEnd := candStart + c.DurationMinutes

	var out []conflictEntry
	for _, a := range s.items {
		if a.Date != c.Date || a.Status == "CANCELADO" {
			continue
		}
		if c.ExcludeID != nil && a.ID == *c.ExcludeID {
			continue
		}
		start := toMinutes(a.StartTime)
		end := start + a.DurationMinutes
		if candStart < end && start < candEnd {
			out = append(out, conflictEntry{
				Kind:  a.Kind,
				Start: a.StartTime,
				End:   fromMinutes(end),
			})
		}
	}
	return out
}

func toMinutes(clock string) int {
	parts := strings.SplitN(clock, ":", 2)
	if len(parts) != 2 {
		return 0
	}
	h, _ := strconv.Atoi(parts[0])
	m, _ := strconv.Atoi(parts[1])
	return h*60 + m
}

func fromMinutes(m int) string {
	return fmt.Sprintf("%02d:%02d", (m/60)%24, m%60)
}

func seed(s *store, days, perDay int) {
	gofakeit.Seed(time.Now().UnixNano())

	statuses := []string{"MARCADO", "CONFIRMADO", "EM_ATENDIMENTO", "ATENDIDO", "FALTOU", "REMARCADO"}
	origins := []string{"recepcao", "telefone", "whatsapp", "portal"}

	today := time.Now()
	for d := 0; d < days; d++ {
		date := today.AddDate(0, 0, d-1).Format("2006-01-02")
		for i := 0; i < perDay; i++ {
			pid := uuid.New()
			start := 8*60 + gofakeit.Number(0, 36)*15
			s.put(appointment{
				ID:              uuid.New(),
				PatientID:       &pid,
				PatientName:     gofakeit.Name(),
				Date:            date,
				StartTime:       fromMinutes(start),
				DurationMinutes: 15 * gofakeit.Number(1, 3),
				Kind:            "CONSULTATION",
				Status:          statuses[gofakeit.Number(0, len(statuses)-1)],
				Origin:          origins[gofakeit.Number(0, len(origins)-1)],
			})
		}
		// one lunch block per day
		s.put(appointment{
			ID:              uuid.New(),
			Date:            date,
			StartTime:       "12:00",
			DurationMinutes: 60,
			Kind:            "BLOCK",
			Status:          "MARCADO",
			Note:            "Almoço",
		})
	}
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	port := os.Getenv("STUB_PORT")
	if port == "" {
		port = "9090"
	}

	s := newStore()
	seed(s, 9, 12)
	log.Printf("clinic-stub seeded with %d records", len(s.items))

	r := chi.NewRouter()

	r.Get("/schedule-config", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"start_time":   "08:00",
			"end_time":     "18:00",
			"step_minutes": 15,
		})
	})

	r.Get("/appointments", func(w http.ResponseWriter, r *http.Request) {
		items := s.list(r.URL.Query().Get("period_start"), r.URL.Query().Get("period_end"))
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	})

	r.Post("/appointments/validate", func(w http.ResponseWriter, r *http.Request) {
		var c candidate
		if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
			http.Error(w, "bad candidate", http.StatusBadRequest)
			return
		}
		if found := s.conflicts(c); len(found) > 0 {
			writeJSON(w, http.StatusConflict, map[string]any{"conflicts": found})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Post("/appointments", func(w http.ResponseWriter, r *http.Request) {
		var a appointment
		if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
			http.Error(w, "bad appointment", http.StatusBadRequest)
			return
		}
		if a.ID == uuid.Nil {
			a.ID = uuid.New()
		}
		s.put(a)
		writeJSON(w, http.StatusCreated, a)
	})

	r.Put("/appointments/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			http.Error(w, "bad id", http.StatusBadRequest)
			return
		}
		existing, ok := s.get(id)
		if !ok {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		var patch appointment
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			http.Error(w, "bad patch", http.StatusBadRequest)
			return
		}
		if patch.Status != "" {
			existing.Status = patch.Status
		}
		if patch.Date != "" {
			existing.Date = patch.Date
		}
		if patch.StartTime != "" {
			existing.StartTime = patch.StartTime
		}
		if patch.DurationMinutes > 0 {
			existing.DurationMinutes = patch.DurationMinutes
		}
		if patch.Note != "" {
			existing.Note = patch.Note
		}
		s.put(existing)
		writeJSON(w, http.StatusOK, existing)
	})

	r.Post("/appointments/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			http.Error(w, "bad id", http.StatusBadRequest)
			return
		}
		var req struct {
			Reason string `json:"reason"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Reason == "" {
			http.Error(w, "cancellation requires a reason", http.StatusBadRequest)
			return
		}
		existing, ok := s.get(id)
		if !ok {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		existing.Status = "CANCELADO"
		existing.Note = req.Reason
		s.put(existing)
		writeJSON(w, http.StatusOK, existing)
	})

	r.Post("/blocks", func(w http.ResponseWriter, r *http.Request) {
		var a appointment
		if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
			http.Error(w, "bad block", http.StatusBadRequest)
			return
		}
		if a.ID == uuid.Nil {
			a.ID = uuid.New()
		}
		a.Kind = "BLOCK"
		s.put(a)
		writeJSON(w, http.StatusCreated, a)
	})

	log.Printf("clinic-stub listening on :%s", port)
	if err := http.ListenAndServe(":"+port, r); err != nil {
		log.Fatalf("clinic-stub server error: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
