// Package scheduler owns conflict detection and the appointment lifecycle
// state machine. All appointment mutations in the system go through it.
package scheduler

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"time"

	"github.com/clinicops/appointments/internal/fault"
	"github.com/clinicops/appointments/internal/identity"
	"github.com/clinicops/appointments/internal/model"
	"github.com/clinicops/appointments/internal/outbox"
	"github.com/google/uuid"
)

// Confirmation is only accepted inside this lead-time window, bounds
// inclusive.
const (
	ConfirmMinLead = 10 * time.Minute
	ConfirmMaxLead = 24 * time.Hour
)

// Doctor and patient identifiers come from the security service, which
// issues 24-character hex ids.
var hexID = regexp.MustCompile(`^[0-9a-fA-F]{24}$`)

// AppointmentStore is the persistence contract the scheduler needs. The
// Create and Reschedule calls run the combined doctor/patient overlap
// check and the write as one atomic unit; a non-nil conflicting row means
// nothing was written.
type AppointmentStore interface {
	Create(ctx context.Context, appt model.Appointment) (model.Appointment, *model.Appointment, error)
	Reschedule(ctx context.Context, appt model.Appointment) (model.Appointment, *model.Appointment, error)
	Get(ctx context.Context, id string) (model.Appointment, error)
	SetStatus(ctx context.Context, id string, status model.AppointmentStatus) (model.Appointment, error)
	SetReminderSent(ctx context.Context, id string) error
	ListByDoctorAndStatus(ctx context.Context, doctorID string, statuses ...model.AppointmentStatus) ([]model.Appointment, error)
	ListScheduledBefore(ctx context.Context, cutoff time.Time) ([]model.Appointment, error)
	ListConfirmedBetween(ctx context.Context, from, to time.Time) ([]model.Appointment, error)
	ListReminderDue(ctx context.Context, from, to time.Time) ([]model.Appointment, error)
}

// TicketStore is the slice of the queue store the scheduler touches: the
// no-show path reads a ticket by appointment and cancels a CALLED one,
// with the appointment cascade applied in the same transaction.
type TicketStore interface {
	ByAppointment(ctx context.Context, appointmentID string) (model.Ticket, error)
	CancelCalled(ctx context.Context, ticketID string) (model.Ticket, error)
}

// EventSink receives domain events after the state change committed.
type EventSink interface {
	Emit(ctx context.Context, evt outbox.Event) error
}

type Scheduler struct {
	appts    AppointmentStore
	tickets  TicketStore
	identity identity.Verifier
	events   EventSink
	logger   *slog.Logger

	now func() time.Time
}

func New(appts AppointmentStore, tickets TicketStore, verifier identity.Verifier, events EventSink, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		appts:    appts,
		tickets:  tickets,
		identity: verifier,
		events:   events,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type CreateParams struct {
	PatientID string
	DoctorID  string
	StartTime time.Time
}

// Create books a new SCHEDULED appointment. Both identities are verified
// first; no write happens on any verification failure.
func (s *Scheduler) Create(ctx context.Context, params CreateParams, credential string) (model.Appointment, error) {
	if !hexID.MatchString(params.DoctorID) {
		return model.Appointment{}, fault.New(fault.KindValidation, "doctor id %q is not a valid identifier", params.DoctorID)
	}
	if !hexID.MatchString(params.PatientID) {
		return model.Appointment{}, fault.New(fault.KindValidation, "patient id %q is not a valid identifier", params.PatientID)
	}
	if params.StartTime.IsZero() {
		return model.Appointment{}, fault.New(fault.KindValidation, "start time is required")
	}
	start := params.StartTime.UTC()
	if start.Before(s.now()) {
		return model.Appointment{}, fault.New(fault.KindValidation, "start time is in the past")
	}

	if err := s.verifyDoctor(ctx, params.DoctorID, credential); err != nil {
		return model.Appointment{}, err
	}
	if err := s.verifyPatient(ctx, params.PatientID, credential); err != nil {
		return model.Appointment{}, err
	}

	appt := model.Appointment{
		ID:        uuid.NewString(),
		PatientID: params.PatientID,
		DoctorID:  params.DoctorID,
		StartTime: start,
		EndTime:   start.Add(model.SlotDuration),
		Status:    model.AppointmentScheduled,
	}

	created, conflicting, err := s.appts.Create(ctx, appt)
	if err != nil {
		return model.Appointment{}, err
	}
	if conflicting != nil {
		return model.Appointment{}, conflictError(*conflicting, params.DoctorID)
	}

	s.emit(ctx, "appointment.scheduled.v1", created)
	return created, nil
}

type UpdateParams struct {
	StartTime *time.Time
	Status    *model.AppointmentStatus
	DoctorID  *string
}

// Update reschedules an appointment and/or moves its status. Status
// changes are validated against the transition table; a new doctor is
// re-verified; a new window (or a new doctor on the old window) re-runs
// the overlap check excluding the appointment itself.
func (s *Scheduler) Update(ctx context.Context, id string, params UpdateParams, credential string) (model.Appointment, error) {
	if params.StartTime == nil && params.Status == nil && params.DoctorID == nil {
		return model.Appointment{}, fault.New(fault.KindValidation, "nothing to update")
	}

	appt, err := s.appts.Get(ctx, id)
	if err != nil {
		return model.Appointment{}, err
	}

	next := appt
	if params.DoctorID != nil {
		if !hexID.MatchString(*params.DoctorID) {
			return model.Appointment{}, fault.New(fault.KindValidation, "doctor id %q is not a valid identifier", *params.DoctorID)
		}
		if err := s.verifyDoctor(ctx, *params.DoctorID, credential); err != nil {
			return model.Appointment{}, err
		}
		next.DoctorID = *params.DoctorID
	}
	if params.StartTime != nil {
		start := params.StartTime.UTC()
		if start.Before(s.now()) {
			return model.Appointment{}, fault.New(fault.KindValidation, "start time is in the past")
		}
		next.StartTime = start
		next.EndTime = start.Add(model.SlotDuration)
	}
	if params.Status != nil {
		if *params.Status != appt.Status && !appt.Status.CanTransition(*params.Status) {
			return model.Appointment{}, fault.New(fault.KindState, "appointment cannot move from %s to %s", appt.Status, *params.Status)
		}
		next.Status = *params.Status
	}

	if params.StartTime == nil && params.DoctorID == nil {
		updated, err := s.appts.SetStatus(ctx, id, next.Status)
		if err != nil {
			return model.Appointment{}, err
		}
		s.emit(ctx, "appointment.updated.v1", updated)
		return updated, nil
	}

	updated, conflicting, err := s.appts.Reschedule(ctx, next)
	if err != nil {
		return model.Appointment{}, err
	}
	if conflicting != nil {
		return model.Appointment{}, conflictError(*conflicting, next.DoctorID)
	}

	s.emit(ctx, "appointment.updated.v1", updated)
	return updated, nil
}

// Cancel moves an appointment to CANCELLED. Cancelling twice is a
// conflict; cancelling a COMPLETED or NO_SHOW appointment is rejected,
// terminal states stay terminal.
func (s *Scheduler) Cancel(ctx context.Context, id string) (model.Appointment, error) {
	appt, err := s.appts.Get(ctx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if appt.Status == model.AppointmentCancelled {
		return model.Appointment{}, fault.New(fault.KindConflict, "appointment is already cancelled")
	}
	if !appt.Status.CanTransition(model.AppointmentCancelled) {
		return model.Appointment{}, fault.New(fault.KindState, "appointment is %s and cannot be cancelled", appt.Status)
	}

	cancelled, err := s.appts.SetStatus(ctx, id, model.AppointmentCancelled)
	if err != nil {
		return model.Appointment{}, err
	}
	s.emit(ctx, "appointment.cancelled.v1", cancelled)
	return cancelled, nil
}

// Confirm moves SCHEDULED to CONFIRMED inside the lead-time window.
// Confirming an already-CONFIRMED appointment is a no-op.
func (s *Scheduler) Confirm(ctx context.Context, id, credential string) (model.Appointment, error) {
	appt, err := s.appts.Get(ctx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if appt.Status == model.AppointmentConfirmed {
		return appt, nil
	}
	if appt.Status != model.AppointmentScheduled {
		return model.Appointment{}, fault.New(fault.KindState, "appointment is %s; only SCHEDULED appointments can be confirmed", appt.Status)
	}

	lead := appt.StartTime.Sub(s.now())
	if lead < ConfirmMinLead {
		return model.Appointment{}, fault.New(fault.KindWindow, "confirmation closes 10 minutes before the start time")
	}
	if lead > ConfirmMaxLead {
		return model.Appointment{}, fault.New(fault.KindWindow, "confirmation opens 24 hours before the start time")
	}

	if err := s.verifyPatient(ctx, appt.PatientID, credential); err != nil {
		return model.Appointment{}, err
	}

	confirmed, err := s.appts.SetStatus(ctx, id, model.AppointmentConfirmed)
	if err != nil {
		return model.Appointment{}, err
	}
	s.emit(ctx, "appointment.confirmed.v1", confirmed)
	return confirmed, nil
}

// MarkNoShow is invoked by the no-show sweep when a called patient never
// showed up. It requires a CALLED ticket; the ticket moves to CANCELLED
// and the appointment to NO_SHOW in one transaction.
func (s *Scheduler) MarkNoShow(ctx context.Context, id string) (model.Appointment, error) {
	t, err := s.tickets.ByAppointment(ctx, id)
	if err != nil {
		if fault.IsNotFound(err) {
			return model.Appointment{}, fault.New(fault.KindState, "appointment has no queue ticket")
		}
		return model.Appointment{}, err
	}

	if _, err := s.tickets.CancelCalled(ctx, t.ID); err != nil {
		return model.Appointment{}, err
	}

	appt, err := s.appts.Get(ctx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	s.emit(ctx, "appointment.no_show.v1", appt)
	return appt, nil
}

// Get returns a single appointment.
func (s *Scheduler) Get(ctx context.Context, id string) (model.Appointment, error) {
	return s.appts.Get(ctx, id)
}

// ListForDoctor returns a doctor's appointments in the given statuses,
// ordered by start time.
func (s *Scheduler) ListForDoctor(ctx context.Context, doctorID string, statuses ...model.AppointmentStatus) ([]model.Appointment, error) {
	return s.appts.ListByDoctorAndStatus(ctx, doctorID, statuses...)
}

// ScheduledBefore returns SCHEDULED appointments whose start is before
// the cutoff. The no-show sweep cancels the ones that never got a ticket.
func (s *Scheduler) ScheduledBefore(ctx context.Context, cutoff time.Time) ([]model.Appointment, error) {
	return s.appts.ListScheduledBefore(ctx, cutoff)
}

// ConfirmedStartingBetween returns CONFIRMED appointments starting inside
// [from, to], for the auto check-in sweep.
func (s *Scheduler) ConfirmedStartingBetween(ctx context.Context, from, to time.Time) ([]model.Appointment, error) {
	return s.appts.ListConfirmedBetween(ctx, from, to)
}

// ReminderDue returns SCHEDULED appointments with an unsent 24h reminder
// starting inside [from, to].
func (s *Scheduler) ReminderDue(ctx context.Context, from, to time.Time) ([]model.Appointment, error) {
	return s.appts.ListReminderDue(ctx, from, to)
}

// MarkReminderSent records that the 24h reminder went out. The flag is
// set once and never reset.
func (s *Scheduler) MarkReminderSent(ctx context.Context, id string) error {
	return s.appts.SetReminderSent(ctx, id)
}

// HasTicket reports whether the appointment already has a queue ticket.
func (s *Scheduler) HasTicket(ctx context.Context, appointmentID string) (bool, error) {
	_, err := s.tickets.ByAppointment(ctx, appointmentID)
	if err == nil {
		return true, nil
	}
	if fault.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

func (s *Scheduler) verifyDoctor(ctx context.Context, id, credential string) error {
	doc, err := s.identity.GetDoctor(ctx, id, credential)
	if err != nil {
		return err
	}
	if doc.Role != identity.RoleDoctor {
		return fault.New(fault.KindNotFound, "id %s does not belong to a doctor", id)
	}
	if doc.Status != identity.StatusActive {
		return fault.New(fault.KindState, "doctor %s is not ACTIVE", id)
	}
	return nil
}

func (s *Scheduler) verifyPatient(ctx context.Context, id, credential string) error {
	pat, err := s.identity.GetPatient(ctx, id, credential)
	if err != nil {
		return err
	}
	if pat.Role != identity.RolePatient {
		return fault.New(fault.KindNotFound, "id %s does not belong to a patient", id)
	}
	if pat.Status != identity.StatusActive {
		return fault.New(fault.KindState, "patient %s is not ACTIVE", id)
	}
	return nil
}

// conflictError attributes an overlap to the doctor or the patient. The
// store returns the doctor-side row when both would conflict.
func conflictError(conflicting model.Appointment, doctorID string) error {
	who := "patient"
	if conflicting.DoctorID == doctorID {
		who = "doctor"
	}
	return fault.New(fault.KindConflict, "the %s already has an appointment from %s to %s",
		who,
		conflicting.StartTime.Format(time.RFC3339),
		conflicting.EndTime.Format(time.RFC3339))
}

// emit records a domain event after the state change committed. Event
// loss here does not roll back the committed change; it is logged and
// the operation still succeeds.
func (s *Scheduler) emit(ctx context.Context, eventType string, appt model.Appointment) {
	if s.events == nil {
		return
	}
	payload, err := json.Marshal(appointmentEvent{
		AppointmentID: appt.ID,
		PatientID:     appt.PatientID,
		DoctorID:      appt.DoctorID,
		StartTime:     appt.StartTime,
		EndTime:       appt.EndTime,
		Status:        string(appt.Status),
	})
	if err != nil {
		s.logger.Error("marshal appointment event", "event_type", eventType, "error", err)
		return
	}
	err = s.events.Emit(ctx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     eventType,
		Payload:       payload,
	})
	if err != nil {
		s.logger.Error("emit appointment event", "event_type", eventType, "appointment_id", appt.ID, "error", err)
	}
}

type appointmentEvent struct {
	AppointmentID string    `json:"appointment_id"`
	PatientID     string    `json:"patient_id"`
	DoctorID      string    `json:"doctor_id"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	Status        string    `json:"status"`
}
