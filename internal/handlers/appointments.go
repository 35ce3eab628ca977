package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/clinicops/appointments/internal/fault"
	"github.com/clinicops/appointments/internal/model"
	"github.com/clinicops/appointments/internal/scheduler"
)

type AppointmentHandler struct {
	scheduler *scheduler.Scheduler
	logger    *slog.Logger
}

func NewAppointmentHandler(sched *scheduler.Scheduler, logger *slog.Logger) *AppointmentHandler {
	return &AppointmentHandler{scheduler: sched, logger: logger}
}

type appointmentResponse struct {
	ID              string `json:"id"`
	PatientID       string `json:"patient_id"`
	DoctorID        string `json:"doctor_id"`
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time"`
	Status          string `json:"status"`
	Reminder24hSent bool   `json:"reminder_24h_sent"`
}

func toAppointmentResponse(a model.Appointment) appointmentResponse {
	return appointmentResponse{
		ID:              a.ID,
		PatientID:       a.PatientID,
		DoctorID:        a.DoctorID,
		StartTime:       a.StartTime.UTC().Format(time.RFC3339),
		EndTime:         a.EndTime.UTC().Format(time.RFC3339),
		Status:          string(a.Status),
		Reminder24hSent: a.Reminder24hSent,
	}
}

type createAppointmentRequest struct {
	PatientID string `json:"patient_id"`
	DoctorID  string `json:"doctor_id"`
	StartTime string `json:"start_time"`
}

func (h *AppointmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	start, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		writeFault(w, h.logger, fault.New(fault.KindValidation, "start_time must be RFC 3339"))
		return
	}

	appt, err := h.scheduler.Create(r.Context(), scheduler.CreateParams{
		PatientID: strings.TrimSpace(req.PatientID),
		DoctorID:  strings.TrimSpace(req.DoctorID),
		StartTime: start,
	}, credentialFromHeader(r))
	if err != nil {
		writeFault(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
}

func (h *AppointmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		writeFault(w, h.logger, fault.New(fault.KindValidation, "id is required"))
		return
	}

	appt, err := h.scheduler.Get(r.Context(), id)
	if err != nil {
		writeFault(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

// Filter lists a doctor's appointments, optionally narrowed to a
// comma-separated set of statuses.
func (h *AppointmentHandler) Filter(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	doctorID := strings.TrimSpace(r.URL.Query().Get("doctor_id"))
	if doctorID == "" {
		writeFault(w, h.logger, fault.New(fault.KindValidation, "doctor_id is required"))
		return
	}

	var statuses []model.AppointmentStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			status, ok := model.ParseAppointmentStatus(strings.TrimSpace(part))
			if !ok {
				writeFault(w, h.logger, fault.New(fault.KindValidation, "unknown status %q", part))
				return
			}
			statuses = append(statuses, status)
		}
	} else {
		statuses = model.AllAppointmentStatuses()
	}

	appts, err := h.scheduler.ListForDoctor(r.Context(), doctorID, statuses...)
	if err != nil {
		writeFault(w, h.logger, err)
		return
	}
	out := make([]appointmentResponse, 0, len(appts))
	for _, a := range appts {
		out = append(out, toAppointmentResponse(a))
	}
	writeJSON(w, http.StatusOK, out)
}

type updateAppointmentRequest struct {
	AppointmentID string  `json:"appointment_id"`
	StartTime     *string `json:"start_time"`
	Status        *string `json:"status"`
	DoctorID      *string `json:"doctor_id"`
}

func (h *AppointmentHandler) Update(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req updateAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.AppointmentID) == "" {
		writeFault(w, h.logger, fault.New(fault.KindValidation, "appointment_id is required"))
		return
	}

	var params scheduler.UpdateParams
	if req.StartTime != nil {
		start, err := time.Parse(time.RFC3339, *req.StartTime)
		if err != nil {
			writeFault(w, h.logger, fault.New(fault.KindValidation, "start_time must be RFC 3339"))
			return
		}
		params.StartTime = &start
	}
	if req.Status != nil {
		status, ok := model.ParseAppointmentStatus(*req.Status)
		if !ok {
			writeFault(w, h.logger, fault.New(fault.KindValidation, "unknown status %q", *req.Status))
			return
		}
		params.Status = &status
	}
	if req.DoctorID != nil {
		params.DoctorID = req.DoctorID
	}

	appt, err := h.scheduler.Update(r.Context(), req.AppointmentID, params, credentialFromHeader(r))
	if err != nil {
		writeFault(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

type appointmentIDRequest struct {
	AppointmentID string `json:"appointment_id"`
}

func (h *AppointmentHandler) decodeID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req appointmentIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return "", false
	}
	id := strings.TrimSpace(req.AppointmentID)
	if id == "" {
		writeFault(w, h.logger, fault.New(fault.KindValidation, "appointment_id is required"))
		return "", false
	}
	return id, true
}

func (h *AppointmentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, ok := h.decodeID(w, r)
	if !ok {
		return
	}

	appt, err := h.scheduler.Cancel(r.Context(), id)
	if err != nil {
		writeFault(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *AppointmentHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, ok := h.decodeID(w, r)
	if !ok {
		return
	}

	appt, err := h.scheduler.Confirm(r.Context(), id, credentialFromHeader(r))
	if err != nil {
		writeFault(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}
