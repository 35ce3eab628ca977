// Package reassign handles the doctor-inactivation cascade: every open
// appointment of the inactive doctor is cancelled and, best effort,
// rebooked with another active doctor of the same specialty.
package reassign

import (
	"context"
	"log/slog"

	"github.com/clinicops/appointments/internal/fault"
	"github.com/clinicops/appointments/internal/identity"
	"github.com/clinicops/appointments/internal/model"
	"github.com/clinicops/appointments/internal/scheduler"
)

// Scheduler is the slice of the scheduling engine the coordinator drives.
// All appointment mutation goes through it; the coordinator never touches
// the store directly.
type Scheduler interface {
	ListForDoctor(ctx context.Context, doctorID string, statuses ...model.AppointmentStatus) ([]model.Appointment, error)
	Cancel(ctx context.Context, id string) (model.Appointment, error)
	Create(ctx context.Context, params scheduler.CreateParams, credential string) (model.Appointment, error)
}

// Outcome records what happened to one appointment of the inactive
// doctor.
type Outcome struct {
	OldAppointmentID string
	Reassigned       bool
	NewDoctorID      string
	NewAppointmentID string
}

type Coordinator struct {
	scheduler Scheduler
	identity  identity.Verifier
	logger    *slog.Logger
}

func NewCoordinator(sched Scheduler, verifier identity.Verifier, logger *slog.Logger) *Coordinator {
	return &Coordinator{scheduler: sched, identity: verifier, logger: logger}
}

// HandleDoctorInactive cancels the doctor's SCHEDULED and IN_PROGRESS
// appointments and tries to rebook each with the same-specialty
// candidates in the order the identity service returned them. Individual
// failures are recorded, not raised; only the initial doctor/specialty
// lookup is a hard failure.
func (c *Coordinator) HandleDoctorInactive(ctx context.Context, doctorID, credential string) ([]Outcome, error) {
	doc, err := c.identity.GetDoctor(ctx, doctorID, credential)
	if err != nil {
		return nil, err
	}
	if doc.Specialty == "" {
		return nil, fault.New(fault.KindUpstream, "identity service returned no specialty for doctor %s", doctorID)
	}

	all, err := c.identity.DoctorsBySpecialty(ctx, doc.Specialty, credential)
	if err != nil {
		return nil, err
	}
	var candidates []identity.Doctor
	for _, d := range all {
		if d.ID != doctorID && d.Status == identity.StatusActive {
			candidates = append(candidates, d)
		}
	}
	if len(candidates) == 0 {
		c.logger.Warn("no reassignment candidates", "doctor_id", doctorID, "specialty", doc.Specialty)
	}

	appointments, err := c.scheduler.ListForDoctor(ctx, doctorID, model.AppointmentScheduled, model.AppointmentInProgress)
	if err != nil {
		return nil, err
	}

	outcomes := make([]Outcome, 0, len(appointments))
	for _, appt := range appointments {
		outcome := Outcome{OldAppointmentID: appt.ID}

		if _, err := c.scheduler.Cancel(ctx, appt.ID); err != nil {
			c.logger.Error("cancel during reassignment", "appointment_id", appt.ID, "error", err)
			outcomes = append(outcomes, outcome)
			continue
		}

		for _, candidate := range candidates {
			created, err := c.scheduler.Create(ctx, scheduler.CreateParams{
				PatientID: appt.PatientID,
				DoctorID:  candidate.ID,
				StartTime: appt.StartTime,
			}, credential)
			if err == nil {
				outcome.Reassigned = true
				outcome.NewDoctorID = candidate.ID
				outcome.NewAppointmentID = created.ID
				break
			}
			if fault.IsConflict(err) {
				continue
			}
			// Only slot conflicts move on to the next candidate.
			c.logger.Error("rebook during reassignment", "appointment_id", appt.ID, "candidate_id", candidate.ID, "error", err)
			break
		}

		if !outcome.Reassigned {
			c.logger.Warn("appointment not reassigned", "appointment_id", appt.ID, "patient_id", appt.PatientID)
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}
