package sweep

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/clinicops/appointments/internal/fault"
	"github.com/clinicops/appointments/internal/identity"
	"github.com/clinicops/appointments/internal/model"
	"github.com/clinicops/appointments/internal/queue"
)

type fakeScheduler struct {
	scheduled []model.Appointment
	confirmed []model.Appointment
	due       []model.Appointment
	hasTicket map[string]bool

	cancelled []string
	noShows   []string
	reminded  []string
}

func (f *fakeScheduler) ScheduledBefore(context.Context, time.Time) ([]model.Appointment, error) {
	return f.scheduled, nil
}

func (f *fakeScheduler) ConfirmedStartingBetween(context.Context, time.Time, time.Time) ([]model.Appointment, error) {
	return f.confirmed, nil
}

func (f *fakeScheduler) ReminderDue(context.Context, time.Time, time.Time) ([]model.Appointment, error) {
	return f.due, nil
}

func (f *fakeScheduler) Cancel(_ context.Context, id string) (model.Appointment, error) {
	f.cancelled = append(f.cancelled, id)
	return model.Appointment{ID: id, Status: model.AppointmentCancelled}, nil
}

func (f *fakeScheduler) MarkNoShow(_ context.Context, id string) (model.Appointment, error) {
	f.noShows = append(f.noShows, id)
	return model.Appointment{ID: id, Status: model.AppointmentNoShow}, nil
}

func (f *fakeScheduler) MarkReminderSent(_ context.Context, id string) error {
	f.reminded = append(f.reminded, id)
	return nil
}

func (f *fakeScheduler) HasTicket(_ context.Context, id string) (bool, error) {
	return f.hasTicket[id], nil
}

type fakeQueue struct {
	stale   []model.Ticket
	joinErr map[string]error

	joined []string
}

func (f *fakeQueue) Join(_ context.Context, appointmentID string) (queue.CheckedIn, error) {
	if err := f.joinErr[appointmentID]; err != nil {
		return queue.CheckedIn{}, err
	}
	f.joined = append(f.joined, appointmentID)
	return queue.CheckedIn{Ticket: model.Ticket{AppointmentID: appointmentID, QueueNumber: 1}}, nil
}

func (f *fakeQueue) StaleCalled(context.Context, time.Duration) ([]model.Ticket, error) {
	return f.stale, nil
}

type fakeVerifier struct{}

func (fakeVerifier) GetDoctor(_ context.Context, id, _ string) (identity.Doctor, error) {
	return identity.Doctor{ID: id, Role: identity.RoleDoctor, Status: identity.StatusActive, FullName: "Dr. Rivera", Email: "rivera@clinic.test"}, nil
}

func (fakeVerifier) GetPatient(_ context.Context, id, _ string) (identity.Patient, error) {
	return identity.Patient{ID: id, Role: identity.RolePatient, Status: identity.StatusActive, FullName: "Sam Lee", Email: "sam@patients.test"}, nil
}

func (fakeVerifier) DoctorsBySpecialty(context.Context, string, string) ([]identity.Doctor, error) {
	return nil, nil
}

type fakeSender struct {
	sent []string
	err  error
}

func (f *fakeSender) SendReminder(_ context.Context, to, _, _ string, _ time.Time) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, to)
	return nil
}

func newTestSweeper(sched *fakeScheduler, q *fakeQueue, sender *fakeSender) *Sweeper {
	return New(sched, q, fakeVerifier{}, sender, slog.New(slog.DiscardHandler), Config{
		Interval:    time.Minute,
		CalledGrace: 15 * time.Minute,
		Credential:  "service-token",
	})
}

func TestSweepNoShows(t *testing.T) {
	sched := &fakeScheduler{
		scheduled: []model.Appointment{
			{ID: "expired-unclaimed", Status: model.AppointmentScheduled},
			{ID: "expired-ticketed", Status: model.AppointmentScheduled},
		},
		hasTicket: map[string]bool{"expired-ticketed": true},
	}
	q := &fakeQueue{
		stale: []model.Ticket{{ID: "tkt-1", AppointmentID: "called-away", Status: model.TicketCalled}},
	}

	newTestSweeper(sched, q, &fakeSender{}).SweepNoShows(context.Background())

	if len(sched.cancelled) != 1 || sched.cancelled[0] != "expired-unclaimed" {
		t.Errorf("cancelled = %v, want only the unclaimed appointment", sched.cancelled)
	}
	if len(sched.noShows) != 1 || sched.noShows[0] != "called-away" {
		t.Errorf("noShows = %v, want the stale call's appointment", sched.noShows)
	}
}

func TestSweepAutoCheckIn(t *testing.T) {
	sched := &fakeScheduler{
		confirmed: []model.Appointment{
			{ID: "arriving", Status: model.AppointmentConfirmed},
			{ID: "already-in", Status: model.AppointmentConfirmed},
			{ID: "join-fails", Status: model.AppointmentConfirmed},
			{ID: "arriving-too", Status: model.AppointmentConfirmed},
		},
		hasTicket: map[string]bool{"already-in": true},
	}
	q := &fakeQueue{
		joinErr: map[string]error{"join-fails": fault.New(fault.KindConflict, "patient already holds an active ticket with this doctor")},
	}

	newTestSweeper(sched, q, &fakeSender{}).SweepAutoCheckIn(context.Background())

	want := []string{"arriving", "arriving-too"}
	if len(q.joined) != len(want) || q.joined[0] != want[0] || q.joined[1] != want[1] {
		t.Errorf("joined = %v, want %v", q.joined, want)
	}
}

func TestSweepReminders(t *testing.T) {
	start := time.Now().UTC().Add(24 * time.Hour)
	sched := &fakeScheduler{
		due: []model.Appointment{{ID: "appt-1", PatientID: "p1", DoctorID: "d1", StartTime: start, Status: model.AppointmentScheduled}},
	}
	sender := &fakeSender{}

	newTestSweeper(sched, &fakeQueue{}, sender).SweepReminders(context.Background())

	if len(sender.sent) != 1 || sender.sent[0] != "sam@patients.test" {
		t.Errorf("sent = %v, want the patient's address", sender.sent)
	}
	if len(sched.reminded) != 1 || sched.reminded[0] != "appt-1" {
		t.Errorf("reminded = %v, want appt-1", sched.reminded)
	}
}

func TestSweepRemindersSendFailure(t *testing.T) {
	sched := &fakeScheduler{
		due: []model.Appointment{{ID: "appt-1", PatientID: "p1", DoctorID: "d1", Status: model.AppointmentScheduled}},
	}
	sender := &fakeSender{err: errors.New("smtp unreachable")}

	newTestSweeper(sched, &fakeQueue{}, sender).SweepReminders(context.Background())

	if len(sched.reminded) != 0 {
		t.Errorf("reminder flag set despite send failure: %v", sched.reminded)
	}
}
