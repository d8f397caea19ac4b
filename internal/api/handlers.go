package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/drmarcocomper-ui/prontio-agenda/internal/agenda"
	"github.com/drmarcocomper-ui/prontio-agenda/internal/remote"
)

type agendaHandler struct {
	engine *agenda.Engine
}

func filtersFromQuery(r *http.Request) agenda.Filters {
	return agenda.Filters{
		Text:   r.URL.Query().Get("text"),
		Status: r.URL.Query().Get("status"),
	}
}

// day serves the day view. The engine may render twice (cached snapshot, then
// the fresh one); over synchronous HTTP the last snapshot wins, which is the
// freshest one that survived the sequence check.
func (h *agendaHandler) day(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")

	var snap agenda.DaySnapshot
	var rendered bool
	err := h.engine.LoadDay(r.Context(), date, filtersFromQuery(r), func(s agenda.DaySnapshot) {
		snap = s
		rendered = true
	})
	if err != nil && !rendered {
		handleAgendaError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

func (h *agendaHandler) week(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")

	var snap agenda.WeekSnapshot
	var rendered bool
	err := h.engine.LoadWeek(r.Context(), date, filtersFromQuery(r), func(s agenda.WeekSnapshot) {
		snap = s
		rendered = true
	})
	if err != nil && !rendered {
		handleAgendaError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

func (h *agendaHandler) createAppointment(w http.ResponseWriter, r *http.Request) {
	var a agenda.Appointment
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	if err := h.engine.CreateAppointment(r.Context(), a); err != nil {
		handleAgendaError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, statusResponse{Status: "created"})
}

func (h *agendaHandler) updateAppointment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return
	}

	var a agenda.Appointment
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	if err := h.engine.UpdateAppointment(r.Context(), id, a); err != nil {
		handleAgendaError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{Status: "updated"})
}

type changeStatusRequest struct {
	Date    string `json:"date"`
	Current string `json:"current"`
	Next    string `json:"next"`
	Reason  string `json:"reason,omitempty"`
}

func (h *agendaHandler) changeStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return
	}

	var req changeStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	// Inputs may arrive as canonical values or UI labels.
	current := agenda.ToCanonical(req.Current)
	next := agenda.ToCanonical(req.Next)

	if err := h.engine.ChangeStatus(r.Context(), id, req.Date, current, next, req.Reason); err != nil {
		handleAgendaError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{Status: "updated"})
}

type cancelRequest struct {
	Date   string `json:"date"`
	Reason string `json:"reason"`
}

func (h *agendaHandler) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return
	}

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	err = h.engine.ChangeStatus(r.Context(), id, req.Date, agenda.StatusMarcado, agenda.StatusCancelado, req.Reason)
	if err != nil {
		handleAgendaError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{Status: "cancelled"})
}

type createBlockRequest struct {
	Date            string `json:"date"`
	StartTime       string `json:"start_time"`
	DurationMinutes int    `json:"duration_minutes"`
	Note            string `json:"note,omitempty"`
}

func (h *agendaHandler) createBlock(w http.ResponseWriter, r *http.Request) {
	var req createBlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	if err := h.engine.CreateBlock(r.Context(), req.Date, req.StartTime, req.DurationMinutes, req.Note); err != nil {
		handleAgendaError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, statusResponse{Status: "created"})
}

type unblockRequest struct {
	Date string `json:"date"`
}

func (h *agendaHandler) unblock(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_block_id", "id must be a valid UUID")
		return
	}

	var req unblockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	if err := h.engine.Unblock(r.Context(), id, req.Date); err != nil {
		handleAgendaError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{Status: "unblocked"})
}

func (h *agendaHandler) getPreferences(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Preferences(r.Context()))
}

func (h *agendaHandler) putPreferences(w http.ResponseWriter, r *http.Request) {
	var p agenda.Preferences
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	h.engine.SavePreferences(r.Context(), p)
	writeJSON(w, http.StatusOK, statusResponse{Status: "saved"})
}

func handleAgendaError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, agenda.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, agenda.ErrBlockedPeriod):
		writeError(w, http.StatusConflict, "period_blocked", err.Error())
	case errors.Is(err, agenda.ErrOverlapNeedsFitIn):
		writeError(w, http.StatusConflict, "overlap_needs_fit_in", err.Error())
	case errors.Is(err, agenda.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, agenda.ErrMutationInFlight):
		writeError(w, http.StatusConflict, "operation_in_flight", err.Error())
	case errors.Is(err, remote.ErrUnavailable):
		writeError(w, http.StatusBadGateway, "clinic_service_unavailable", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
