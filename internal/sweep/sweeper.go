// Package sweep runs the periodic lifecycle sweeps: expiring unclaimed
// appointments, marking no-shows, auto check-in of confirmed arrivals and
// 24h reminder emails. Each tick evaluates the predicates and drives the
// engines; the sweeper itself never writes to the stores.
package sweep

import (
	"context"
	"log/slog"
	"time"

	"github.com/clinicops/appointments/internal/identity"
	"github.com/clinicops/appointments/internal/model"
	"github.com/clinicops/appointments/internal/queue"
)

const (
	// MissedAfter is how long past its start a SCHEDULED appointment with
	// no ticket survives before the sweep cancels it.
	MissedAfter = 10 * time.Minute
	// AutoCheckInLead is how close to its start a CONFIRMED appointment
	// gets checked in automatically.
	AutoCheckInLead = 5 * time.Minute
	// ReminderLead and ReminderSlack bound the reminder query: reminders
	// go out for appointments starting 24h from now, give or take.
	ReminderLead  = 24 * time.Hour
	ReminderSlack = 3 * time.Minute
)

type Scheduler interface {
	ScheduledBefore(ctx context.Context, cutoff time.Time) ([]model.Appointment, error)
	ConfirmedStartingBetween(ctx context.Context, from, to time.Time) ([]model.Appointment, error)
	ReminderDue(ctx context.Context, from, to time.Time) ([]model.Appointment, error)
	Cancel(ctx context.Context, id string) (model.Appointment, error)
	MarkNoShow(ctx context.Context, id string) (model.Appointment, error)
	MarkReminderSent(ctx context.Context, id string) error
	HasTicket(ctx context.Context, appointmentID string) (bool, error)
}

type Queue interface {
	Join(ctx context.Context, appointmentID string) (queue.CheckedIn, error)
	StaleCalled(ctx context.Context, grace time.Duration) ([]model.Ticket, error)
}

// ReminderSender delivers the 24h reminder. internal/email implements it
// over SMTP.
type ReminderSender interface {
	SendReminder(ctx context.Context, to, patientName, doctorName string, start time.Time) error
}

type Config struct {
	Interval time.Duration
	// CalledGrace is how long a CALLED ticket may sit unanswered before
	// the patient counts as a no-show.
	CalledGrace time.Duration
	// Credential authenticates the sweeper's own identity lookups.
	Credential string
}

type Sweeper struct {
	scheduler  Scheduler
	queue      Queue
	identity   identity.Verifier
	sender     ReminderSender
	logger     *slog.Logger
	interval   time.Duration
	grace      time.Duration
	credential string

	now func() time.Time
}

func New(sched Scheduler, q Queue, verifier identity.Verifier, sender ReminderSender, logger *slog.Logger, cfg Config) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.CalledGrace <= 0 {
		cfg.CalledGrace = 15 * time.Minute
	}
	return &Sweeper{
		scheduler:  sched,
		queue:      q,
		identity:   verifier,
		sender:     sender,
		logger:     logger,
		interval:   cfg.Interval,
		grace:      cfg.CalledGrace,
		credential: cfg.Credential,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepNoShows(ctx)
			s.SweepAutoCheckIn(ctx)
			s.SweepReminders(ctx)
		}
	}
}

// SweepNoShows cancels SCHEDULED appointments whose start passed more
// than MissedAfter ago without a check-in, and marks appointments of
// stale CALLED tickets as no-shows.
func (s *Sweeper) SweepNoShows(ctx context.Context) {
	expired, err := s.scheduler.ScheduledBefore(ctx, s.now().Add(-MissedAfter))
	if err != nil {
		s.logger.Error("no-show sweep query failed", "err", err)
	}
	for _, appt := range expired {
		ticketed, err := s.scheduler.HasTicket(ctx, appt.ID)
		if err != nil {
			s.logger.Error("ticket lookup failed", "appointment_id", appt.ID, "err", err)
			continue
		}
		if ticketed {
			continue
		}
		if _, err := s.scheduler.Cancel(ctx, appt.ID); err != nil {
			s.logger.Error("expire cancel failed", "appointment_id", appt.ID, "err", err)
			continue
		}
		s.logger.Info("expired unclaimed appointment", "appointment_id", appt.ID)
	}

	stale, err := s.queue.StaleCalled(ctx, s.grace)
	if err != nil {
		s.logger.Error("stale-call sweep query failed", "err", err)
		return
	}
	for _, t := range stale {
		if _, err := s.scheduler.MarkNoShow(ctx, t.AppointmentID); err != nil {
			s.logger.Error("no-show mark failed", "ticket_id", t.ID, "appointment_id", t.AppointmentID, "err", err)
			continue
		}
		s.logger.Info("marked no-show", "ticket_id", t.ID, "appointment_id", t.AppointmentID)
	}
}

// SweepAutoCheckIn joins CONFIRMED appointments starting within
// AutoCheckInLead that do not have a ticket yet.
func (s *Sweeper) SweepAutoCheckIn(ctx context.Context) {
	now := s.now()
	upcoming, err := s.scheduler.ConfirmedStartingBetween(ctx, now, now.Add(AutoCheckInLead))
	if err != nil {
		s.logger.Error("auto check-in query failed", "err", err)
		return
	}
	for _, appt := range upcoming {
		ticketed, err := s.scheduler.HasTicket(ctx, appt.ID)
		if err != nil {
			s.logger.Error("ticket lookup failed", "appointment_id", appt.ID, "err", err)
			continue
		}
		if ticketed {
			continue
		}
		res, err := s.queue.Join(ctx, appt.ID)
		if err != nil {
			s.logger.Error("auto check-in failed", "appointment_id", appt.ID, "err", err)
			continue
		}
		s.logger.Info("auto checked in", "appointment_id", appt.ID, "queue_number", res.Ticket.QueueNumber)
	}
}

// SweepReminders emails patients whose SCHEDULED appointment starts
// ReminderLead from now and whose reminder has not gone out yet. The
// sent flag is only set after a successful send.
func (s *Sweeper) SweepReminders(ctx context.Context) {
	target := s.now().Add(ReminderLead)
	due, err := s.scheduler.ReminderDue(ctx, target.Add(-ReminderSlack), target.Add(ReminderSlack))
	if err != nil {
		s.logger.Error("reminder query failed", "err", err)
		return
	}
	for _, appt := range due {
		patient, err := s.identity.GetPatient(ctx, appt.PatientID, s.credential)
		if err != nil {
			s.logger.Error("patient lookup failed", "appointment_id", appt.ID, "err", err)
			continue
		}
		doctor, err := s.identity.GetDoctor(ctx, appt.DoctorID, s.credential)
		if err != nil {
			s.logger.Error("doctor lookup failed", "appointment_id", appt.ID, "err", err)
			continue
		}
		if err := s.sender.SendReminder(ctx, patient.Email, patient.FullName, doctor.FullName, appt.StartTime); err != nil {
			s.logger.Error("reminder send failed", "appointment_id", appt.ID, "err", err)
			continue
		}
		if err := s.scheduler.MarkReminderSent(ctx, appt.ID); err != nil {
			s.logger.Error("reminder flag update failed", "appointment_id", appt.ID, "err", err)
			continue
		}
		s.logger.Info("reminder sent", "appointment_id", appt.ID)
	}
}
