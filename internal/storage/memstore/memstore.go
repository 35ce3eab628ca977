// Package memstore is an in-memory implementation of the appointment and
// ticket store contracts. It backs the engine tests; the shared mutex
// gives it the same all-or-nothing visibility the Postgres repositories
// get from transactions.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/clinicops/appointments/internal/fault"
	"github.com/clinicops/appointments/internal/model"
)

type DB struct {
	mu           sync.Mutex
	appointments map[string]model.Appointment
	tickets      map[string]model.Ticket
}

func New() *DB {
	return &DB{
		appointments: make(map[string]model.Appointment),
		tickets:      make(map[string]model.Ticket),
	}
}

func (d *DB) Appointments() *AppointmentRepository { return &AppointmentRepository{db: d} }
func (d *DB) Tickets() *TicketRepository           { return &TicketRepository{db: d} }

type AppointmentRepository struct {
	db *DB
}

func (r *AppointmentRepository) Create(_ context.Context, appt model.Appointment) (model.Appointment, *model.Appointment, error) {
	d := r.db
	d.mu.Lock()
	defer d.mu.Unlock()

	if conflicting := d.findOverlapping(appt.DoctorID, appt.PatientID, appt.StartTime, appt.EndTime, ""); conflicting != nil {
		return model.Appointment{}, conflicting, nil
	}

	now := time.Now().UTC()
	appt.CreatedAt = now
	appt.UpdatedAt = now
	d.appointments[appt.ID] = appt
	return appt, nil, nil
}

func (r *AppointmentRepository) Reschedule(_ context.Context, appt model.Appointment) (model.Appointment, *model.Appointment, error) {
	d := r.db
	d.mu.Lock()
	defer d.mu.Unlock()

	stored, ok := d.appointments[appt.ID]
	if !ok {
		return model.Appointment{}, nil, fault.New(fault.KindNotFound, "appointment not found")
	}
	if conflicting := d.findOverlapping(appt.DoctorID, appt.PatientID, appt.StartTime, appt.EndTime, appt.ID); conflicting != nil {
		return model.Appointment{}, conflicting, nil
	}

	stored.DoctorID = appt.DoctorID
	stored.StartTime = appt.StartTime
	stored.EndTime = appt.EndTime
	stored.Status = appt.Status
	stored.UpdatedAt = time.Now().UTC()
	d.appointments[appt.ID] = stored
	return stored, nil, nil
}

// findOverlapping mirrors the SQL ordering: a doctor match wins over a
// patient match when both conflict.
func (d *DB) findOverlapping(doctorID, patientID string, start, end time.Time, excludeID string) *model.Appointment {
	var patientHit *model.Appointment
	for _, a := range sortedAppointments(d.appointments) {
		if a.ID == excludeID || a.Status == model.AppointmentCancelled {
			continue
		}
		if !a.Overlaps(start, end) {
			continue
		}
		if a.DoctorID == doctorID {
			hit := a
			return &hit
		}
		if a.PatientID == patientID && patientHit == nil {
			hit := a
			patientHit = &hit
		}
	}
	return patientHit
}

func (r *AppointmentRepository) Get(_ context.Context, id string) (model.Appointment, error) {
	d := r.db
	d.mu.Lock()
	defer d.mu.Unlock()

	appt, ok := d.appointments[id]
	if !ok {
		return model.Appointment{}, fault.New(fault.KindNotFound, "appointment not found")
	}
	return appt, nil
}

func (r *AppointmentRepository) SetStatus(_ context.Context, id string, status model.AppointmentStatus) (model.Appointment, error) {
	d := r.db
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setStatusLocked(id, status)
}

func (d *DB) setStatusLocked(id string, status model.AppointmentStatus) (model.Appointment, error) {
	appt, ok := d.appointments[id]
	if !ok {
		return model.Appointment{}, fault.New(fault.KindNotFound, "appointment not found")
	}
	appt.Status = status
	appt.UpdatedAt = time.Now().UTC()
	d.appointments[id] = appt
	return appt, nil
}

func (r *AppointmentRepository) SetReminderSent(_ context.Context, id string) error {
	d := r.db
	d.mu.Lock()
	defer d.mu.Unlock()

	appt, ok := d.appointments[id]
	if !ok {
		return fault.New(fault.KindNotFound, "appointment not found")
	}
	appt.Reminder24hSent = true
	d.appointments[id] = appt
	return nil
}

func (r *AppointmentRepository) ListByDoctorAndStatus(_ context.Context, doctorID string, statuses ...model.AppointmentStatus) ([]model.Appointment, error) {
	d := r.db
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []model.Appointment
	for _, a := range sortedAppointments(d.appointments) {
		if a.DoctorID != doctorID {
			continue
		}
		for _, st := range statuses {
			if a.Status == st {
				out = append(out, a)
				break
			}
		}
	}
	return out, nil
}

func (r *AppointmentRepository) ListScheduledBefore(_ context.Context, cutoff time.Time) ([]model.Appointment, error) {
	d := r.db
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []model.Appointment
	for _, a := range sortedAppointments(d.appointments) {
		if a.Status == model.AppointmentScheduled && a.StartTime.Before(cutoff) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *AppointmentRepository) ListConfirmedBetween(_ context.Context, from, to time.Time) ([]model.Appointment, error) {
	d := r.db
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []model.Appointment
	for _, a := range sortedAppointments(d.appointments) {
		if a.Status == model.AppointmentConfirmed && !a.StartTime.Before(from) && !a.StartTime.After(to) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *AppointmentRepository) ListReminderDue(_ context.Context, from, to time.Time) ([]model.Appointment, error) {
	d := r.db
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []model.Appointment
	for _, a := range sortedAppointments(d.appointments) {
		if a.Status != model.AppointmentScheduled || a.Reminder24hSent {
			continue
		}
		if !a.StartTime.Before(from) && !a.StartTime.After(to) {
			out = append(out, a)
		}
	}
	return out, nil
}

func sortedAppointments(m map[string]model.Appointment) []model.Appointment {
	out := make([]model.Appointment, 0, len(m))
	for _, a := range m {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}
