// Package queue owns ticket issuance, position and wait estimation, and
// the call-next/complete protocol of the clinic waiting line. Appointment
// status cascades triggered by queue events run inside the store's ticket
// transactions.
package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/clinicops/appointments/internal/fault"
	"github.com/clinicops/appointments/internal/model"
	"github.com/clinicops/appointments/internal/outbox"
	"github.com/google/uuid"
)

// Check-in opens 30 minutes before the appointment and closes 10 minutes
// after its start; a later arrival counts as a missed appointment.
const (
	CheckInOpensBefore = 30 * time.Minute
	CheckInClosesAfter = 10 * time.Minute
)

// TicketStore is the persistence contract for tickets. Create assigns the
// queue number atomically per doctor; ClaimNext, CompleteServing and the
// appointment cascades they imply are single atomic operations.
type TicketStore interface {
	Create(ctx context.Context, t model.Ticket) (model.Ticket, error)
	ByID(ctx context.Context, id string) (model.Ticket, error)
	ByAppointment(ctx context.Context, appointmentID string) (model.Ticket, error)
	ActiveByDoctor(ctx context.Context, doctorID string) ([]model.Ticket, error)
	HasActiveForPatient(ctx context.Context, doctorID, patientID string) (bool, error)
	CountWaitingAhead(ctx context.Context, doctorID string, queueNumber int) (int, error)
	ClaimNext(ctx context.Context, doctorID string) (model.Ticket, error)
	CompleteServing(ctx context.Context, ticketID string) (model.Ticket, error)
	ListCalledBefore(ctx context.Context, cutoff time.Time) ([]model.Ticket, error)
}

// AppointmentReader is the read-only slice of the appointment store the
// queue needs for check-in validation.
type AppointmentReader interface {
	Get(ctx context.Context, id string) (model.Appointment, error)
}

type EventSink interface {
	Emit(ctx context.Context, evt outbox.Event) error
}

type Engine struct {
	tickets TicketStore
	appts   AppointmentReader
	events  EventSink
	logger  *slog.Logger

	now func() time.Time
}

func New(tickets TicketStore, appts AppointmentReader, events EventSink, logger *slog.Logger) *Engine {
	return &Engine{
		tickets: tickets,
		appts:   appts,
		events:  events,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CheckedIn is the result of a successful join: the stored ticket plus
// the wait estimate at the moment of check-in.
type CheckedIn struct {
	Ticket               model.Ticket
	EstimatedWaitMinutes int
}

// Join converts an appointment into a WAITING ticket. Check-in is only
// valid on the appointment day, inside the check-in window, once per
// appointment, and while the patient holds no other active ticket with
// the same doctor.
func (e *Engine) Join(ctx context.Context, appointmentID string) (CheckedIn, error) {
	appt, err := e.appts.Get(ctx, appointmentID)
	if err != nil {
		return CheckedIn{}, err
	}
	if appt.Status == model.AppointmentCancelled {
		return CheckedIn{}, fault.New(fault.KindState, "appointment is cancelled")
	}

	now := e.now()
	ny, nm, nd := now.Date()
	ay, am, ad := appt.StartTime.Date()
	if ny != ay || nm != am || nd != ad {
		return CheckedIn{}, fault.New(fault.KindWindow, "check-in is only available on the appointment day")
	}
	if opensAt := appt.StartTime.Add(-CheckInOpensBefore); now.Before(opensAt) {
		wait := opensAt.Sub(now)
		minutes := int((wait + time.Minute - 1) / time.Minute)
		return CheckedIn{}, fault.New(fault.KindWindow, "too early to check in; the window opens in %d minutes", minutes)
	}
	if now.After(appt.StartTime.Add(CheckInClosesAfter)) {
		return CheckedIn{}, fault.New(fault.KindWindow, "check-in closed; the appointment was missed")
	}

	active, err := e.tickets.HasActiveForPatient(ctx, appt.DoctorID, appt.PatientID)
	if err != nil {
		return CheckedIn{}, err
	}
	if active {
		return CheckedIn{}, fault.New(fault.KindConflict, "patient already holds an active ticket with this doctor")
	}

	created, err := e.tickets.Create(ctx, model.Ticket{
		ID:            uuid.NewString(),
		AppointmentID: appt.ID,
		PatientID:     appt.PatientID,
		DoctorID:      appt.DoctorID,
	})
	if err != nil {
		return CheckedIn{}, err
	}

	ahead, err := e.tickets.CountWaitingAhead(ctx, created.DoctorID, created.QueueNumber)
	if err != nil {
		return CheckedIn{}, err
	}

	e.emit(ctx, "queue.ticket_created.v1", created)
	return CheckedIn{Ticket: created, EstimatedWaitMinutes: ahead * int(model.SlotDuration/time.Minute)}, nil
}

// CurrentByDoctor returns the doctor's active tickets ordered by queue
// number.
func (e *Engine) CurrentByDoctor(ctx context.Context, doctorID string) ([]model.Ticket, error) {
	tickets, err := e.tickets.ActiveByDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	if len(tickets) == 0 {
		return nil, fault.New(fault.KindNotFound, "the queue for this doctor is empty")
	}
	return tickets, nil
}

// CallNext claims the lowest-numbered WAITING ticket for the doctor,
// moving it to CALLED and the appointment to IN_PROGRESS. At most one
// patient per doctor is served at a time.
func (e *Engine) CallNext(ctx context.Context, doctorID string) (model.Ticket, error) {
	called, err := e.tickets.ClaimNext(ctx, doctorID)
	if err != nil {
		return model.Ticket{}, err
	}
	e.emit(ctx, "queue.patient_called.v1", called)
	return called, nil
}

// Complete finishes a CALLED or IN_PROGRESS ticket and moves the
// appointment to COMPLETED.
func (e *Engine) Complete(ctx context.Context, ticketID string) (model.Ticket, error) {
	done, err := e.tickets.CompleteServing(ctx, ticketID)
	if err != nil {
		return model.Ticket{}, err
	}
	e.emit(ctx, "queue.ticket_completed.v1", done)
	return done, nil
}

// Position describes where a ticket stands in its doctor's queue.
// Position is nil for terminal tickets.
type Position struct {
	Position             *int
	EstimatedWaitMinutes int
	Status               model.TicketStatus
}

func (e *Engine) TicketPosition(ctx context.Context, ticketID string) (Position, error) {
	t, err := e.tickets.ByID(ctx, ticketID)
	if err != nil {
		return Position{}, err
	}
	if !t.Status.Active() {
		return Position{Status: t.Status}, nil
	}

	ahead, err := e.tickets.CountWaitingAhead(ctx, t.DoctorID, t.QueueNumber)
	if err != nil {
		return Position{}, err
	}
	pos := ahead + 1
	return Position{
		Position:             &pos,
		EstimatedWaitMinutes: ahead * int(model.SlotDuration/time.Minute),
		Status:               t.Status,
	}, nil
}

// StaleCalled returns CALLED tickets that have been waiting on the
// patient longer than the grace period. The no-show sweep feeds them to
// the scheduler.
func (e *Engine) StaleCalled(ctx context.Context, grace time.Duration) ([]model.Ticket, error) {
	return e.tickets.ListCalledBefore(ctx, e.now().Add(-grace))
}

func (e *Engine) emit(ctx context.Context, eventType string, t model.Ticket) {
	if e.events == nil {
		return
	}
	payload, err := json.Marshal(ticketEvent{
		TicketID:      t.ID,
		AppointmentID: t.AppointmentID,
		PatientID:     t.PatientID,
		DoctorID:      t.DoctorID,
		QueueNumber:   t.QueueNumber,
		Status:        string(t.Status),
	})
	if err != nil {
		e.logger.Error("marshal ticket event", "event_type", eventType, "error", err)
		return
	}
	err = e.events.Emit(ctx, outbox.Event{
		AggregateType: "queue_ticket",
		AggregateID:   t.ID,
		EventType:     eventType,
		Payload:       payload,
	})
	if err != nil {
		e.logger.Error("emit ticket event", "event_type", eventType, "ticket_id", t.ID, "error", err)
	}
}

type ticketEvent struct {
	TicketID      string `json:"ticket_id"`
	AppointmentID string `json:"appointment_id"`
	PatientID     string `json:"patient_id"`
	DoctorID      string `json:"doctor_id"`
	QueueNumber   int    `json:"queue_number"`
	Status        string `json:"status"`
}
