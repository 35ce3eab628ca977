package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/clinicops/appointments/internal/fault"
	"github.com/clinicops/appointments/internal/model"
	"github.com/clinicops/appointments/internal/queue"
)

type QueueHandler struct {
	queue  *queue.Engine
	logger *slog.Logger
}

func NewQueueHandler(q *queue.Engine, logger *slog.Logger) *QueueHandler {
	return &QueueHandler{queue: q, logger: logger}
}

type ticketResponse struct {
	ID                   string `json:"id"`
	AppointmentID        string `json:"appointment_id"`
	PatientID            string `json:"patient_id"`
	DoctorID             string `json:"doctor_id"`
	QueueNumber          int    `json:"queue_number"`
	Status               string `json:"status"`
	EstimatedWaitMinutes *int   `json:"estimated_wait_minutes,omitempty"`
}

func toTicketResponse(t model.Ticket, wait *int) ticketResponse {
	return ticketResponse{
		ID:                   t.ID,
		AppointmentID:        t.AppointmentID,
		PatientID:            t.PatientID,
		DoctorID:             t.DoctorID,
		QueueNumber:          t.QueueNumber,
		Status:               string(t.Status),
		EstimatedWaitMinutes: wait,
	}
}

type checkInRequest struct {
	AppointmentID string `json:"appointment_id"`
}

func (h *QueueHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req checkInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	id := strings.TrimSpace(req.AppointmentID)
	if id == "" {
		writeFault(w, h.logger, fault.New(fault.KindValidation, "appointment_id is required"))
		return
	}

	res, err := h.queue.Join(r.Context(), id)
	if err != nil {
		writeFault(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTicketResponse(res.Ticket, &res.EstimatedWaitMinutes))
}

func (h *QueueHandler) Current(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	doctorID := strings.TrimSpace(r.URL.Query().Get("doctor_id"))
	if doctorID == "" {
		writeFault(w, h.logger, fault.New(fault.KindValidation, "doctor_id is required"))
		return
	}

	tickets, err := h.queue.CurrentByDoctor(r.Context(), doctorID)
	if err != nil {
		writeFault(w, h.logger, err)
		return
	}
	out := make([]ticketResponse, 0, len(tickets))
	for _, t := range tickets {
		out = append(out, toTicketResponse(t, nil))
	}
	writeJSON(w, http.StatusOK, out)
}

type callNextRequest struct {
	DoctorID string `json:"doctor_id"`
}

func (h *QueueHandler) CallNext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req callNextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	doctorID := strings.TrimSpace(req.DoctorID)
	if doctorID == "" {
		writeFault(w, h.logger, fault.New(fault.KindValidation, "doctor_id is required"))
		return
	}

	called, err := h.queue.CallNext(r.Context(), doctorID)
	if err != nil {
		writeFault(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toTicketResponse(called, nil))
}

type completeTicketRequest struct {
	TicketID string `json:"ticket_id"`
}

func (h *QueueHandler) Complete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req completeTicketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	ticketID := strings.TrimSpace(req.TicketID)
	if ticketID == "" {
		writeFault(w, h.logger, fault.New(fault.KindValidation, "ticket_id is required"))
		return
	}

	done, err := h.queue.Complete(r.Context(), ticketID)
	if err != nil {
		writeFault(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toTicketResponse(done, nil))
}

type positionResponse struct {
	Position             *int   `json:"position"`
	EstimatedWaitMinutes int    `json:"estimated_wait_minutes"`
	Status               string `json:"status"`
}

func (h *QueueHandler) Position(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ticketID := strings.TrimSpace(r.URL.Query().Get("ticket_id"))
	if ticketID == "" {
		writeFault(w, h.logger, fault.New(fault.KindValidation, "ticket_id is required"))
		return
	}

	pos, err := h.queue.TicketPosition(r.Context(), ticketID)
	if err != nil {
		writeFault(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, positionResponse{
		Position:             pos.Position,
		EstimatedWaitMinutes: pos.EstimatedWaitMinutes,
		Status:               string(pos.Status),
	})
}
