package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/clinicops/appointments/internal/fault"
	"github.com/clinicops/appointments/internal/model"
)

type TicketRepository struct {
	db *DB
}

func (r *TicketRepository) Create(_ context.Context, t model.Ticket) (model.Ticket, error) {
	d := r.db
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, existing := range d.tickets {
		if existing.AppointmentID == t.AppointmentID {
			return model.Ticket{}, fault.New(fault.KindConflict, "check-in already completed for this appointment")
		}
	}

	next := 0
	for _, existing := range d.tickets {
		if existing.DoctorID == t.DoctorID && existing.Status.Active() && existing.QueueNumber > next {
			next = existing.QueueNumber
		}
	}

	now := time.Now().UTC()
	t.QueueNumber = next + 1
	t.Status = model.TicketWaiting
	t.CreatedAt = now
	t.UpdatedAt = now
	d.tickets[t.ID] = t
	return t, nil
}

func (r *TicketRepository) ByID(_ context.Context, id string) (model.Ticket, error) {
	d := r.db
	d.mu.Lock()
	defer d.mu.Unlock()

	t, ok := d.tickets[id]
	if !ok {
		return model.Ticket{}, fault.New(fault.KindNotFound, "ticket not found")
	}
	return t, nil
}

func (r *TicketRepository) ByAppointment(_ context.Context, appointmentID string) (model.Ticket, error) {
	d := r.db
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, t := range d.tickets {
		if t.AppointmentID == appointmentID {
			return t, nil
		}
	}
	return model.Ticket{}, fault.New(fault.KindNotFound, "no ticket for this appointment")
}

func (r *TicketRepository) ActiveByDoctor(_ context.Context, doctorID string) ([]model.Ticket, error) {
	d := r.db
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.activeByDoctorLocked(doctorID), nil
}

func (d *DB) activeByDoctorLocked(doctorID string) []model.Ticket {
	var out []model.Ticket
	for _, t := range d.tickets {
		if t.DoctorID == doctorID && t.Status.Active() {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueueNumber < out[j].QueueNumber })
	return out
}

func (r *TicketRepository) HasActiveForPatient(_ context.Context, doctorID, patientID string) (bool, error) {
	d := r.db
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, t := range d.tickets {
		if t.DoctorID == doctorID && t.PatientID == patientID && t.Status.Active() {
			return true, nil
		}
	}
	return false, nil
}

func (r *TicketRepository) CountWaitingAhead(_ context.Context, doctorID string, queueNumber int) (int, error) {
	d := r.db
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for _, t := range d.tickets {
		if t.DoctorID == doctorID && t.Status == model.TicketWaiting && t.QueueNumber < queueNumber {
			n++
		}
	}
	return n, nil
}

func (r *TicketRepository) ClaimNext(_ context.Context, doctorID string) (model.Ticket, error) {
	d := r.db
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, t := range d.tickets {
		if t.DoctorID == doctorID && t.Status.Serving() {
			return model.Ticket{}, fault.New(fault.KindConflict, "a patient is already called or being seen; complete that ticket first")
		}
	}

	var next *model.Ticket
	for _, t := range d.activeByDoctorLocked(doctorID) {
		if t.Status == model.TicketWaiting {
			tt := t
			next = &tt
			break
		}
	}
	if next == nil {
		return model.Ticket{}, fault.New(fault.KindNotFound, "no patients waiting in the queue")
	}

	called, err := d.transitionLocked(next.ID, model.TicketCalled)
	if err != nil {
		return model.Ticket{}, err
	}
	if _, err := d.setStatusLocked(called.AppointmentID, model.AppointmentInProgress); err != nil {
		return model.Ticket{}, err
	}
	return called, nil
}

func (r *TicketRepository) CompleteServing(_ context.Context, ticketID string) (model.Ticket, error) {
	d := r.db
	d.mu.Lock()
	defer d.mu.Unlock()

	t, ok := d.tickets[ticketID]
	if !ok {
		return model.Ticket{}, fault.New(fault.KindNotFound, "ticket not found")
	}
	if !t.Status.Serving() {
		return model.Ticket{}, fault.New(fault.KindState, "only CALLED or IN_PROGRESS tickets can be completed")
	}

	done, err := d.transitionLocked(ticketID, model.TicketCompleted)
	if err != nil {
		return model.Ticket{}, err
	}
	if _, err := d.setStatusLocked(done.AppointmentID, model.AppointmentCompleted); err != nil {
		return model.Ticket{}, err
	}
	return done, nil
}

func (r *TicketRepository) CancelCalled(_ context.Context, ticketID string) (model.Ticket, error) {
	d := r.db
	d.mu.Lock()
	defer d.mu.Unlock()

	t, ok := d.tickets[ticketID]
	if !ok {
		return model.Ticket{}, fault.New(fault.KindNotFound, "ticket not found")
	}
	if t.Status != model.TicketCalled {
		return model.Ticket{}, fault.New(fault.KindState, "ticket is %s, not CALLED", t.Status)
	}

	cancelled, err := d.transitionLocked(ticketID, model.TicketCancelled)
	if err != nil {
		return model.Ticket{}, err
	}
	if _, err := d.setStatusLocked(cancelled.AppointmentID, model.AppointmentNoShow); err != nil {
		return model.Ticket{}, err
	}
	return cancelled, nil
}

func (r *TicketRepository) ListCalledBefore(_ context.Context, cutoff time.Time) ([]model.Ticket, error) {
	d := r.db
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []model.Ticket
	for _, t := range d.tickets {
		if t.Status == model.TicketCalled && t.UpdatedAt.Before(cutoff) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func (d *DB) transitionLocked(ticketID string, to model.TicketStatus) (model.Ticket, error) {
	t, ok := d.tickets[ticketID]
	if !ok {
		return model.Ticket{}, fault.New(fault.KindNotFound, "ticket not found")
	}
	if !t.Status.CanTransition(to) {
		return model.Ticket{}, fault.New(fault.KindState, "ticket cannot move from %s to %s", t.Status, to)
	}
	t.Status = to
	t.UpdatedAt = time.Now().UTC()
	d.tickets[ticketID] = t
	return t, nil
}

// SetTicketUpdatedAt backdates a ticket for stale-call tests.
func (d *DB) SetTicketUpdatedAt(id string, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.tickets[id]; ok {
		t.UpdatedAt = at
		d.tickets[id] = t
	}
}
