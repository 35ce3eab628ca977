package scheduler

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/clinicops/appointments/internal/fault"
	"github.com/clinicops/appointments/internal/identity"
	"github.com/clinicops/appointments/internal/model"
	"github.com/clinicops/appointments/internal/storage/memstore"
)

const (
	doctorA  = "64a0000000000000000000d1"
	doctorB  = "64a0000000000000000000d2"
	patientA = "64a000000000000000000001"
	patientB = "64a000000000000000000002"
)

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type stubVerifier struct {
	doctors  map[string]identity.Doctor
	patients map[string]identity.Patient
}

func newStubVerifier() *stubVerifier {
	return &stubVerifier{
		doctors: map[string]identity.Doctor{
			doctorA: {ID: doctorA, Role: identity.RoleDoctor, Status: identity.StatusActive, Specialty: "cardiology"},
			doctorB: {ID: doctorB, Role: identity.RoleDoctor, Status: identity.StatusActive, Specialty: "cardiology"},
		},
		patients: map[string]identity.Patient{
			patientA: {ID: patientA, Role: identity.RolePatient, Status: identity.StatusActive},
			patientB: {ID: patientB, Role: identity.RolePatient, Status: identity.StatusActive},
		},
	}
}

func (v *stubVerifier) GetDoctor(_ context.Context, id, _ string) (identity.Doctor, error) {
	d, ok := v.doctors[id]
	if !ok {
		return identity.Doctor{}, fault.New(fault.KindNotFound, "doctor not found")
	}
	return d, nil
}

func (v *stubVerifier) GetPatient(_ context.Context, id, _ string) (identity.Patient, error) {
	p, ok := v.patients[id]
	if !ok {
		return identity.Patient{}, fault.New(fault.KindNotFound, "patient not found")
	}
	return p, nil
}

func (v *stubVerifier) DoctorsBySpecialty(_ context.Context, specialty, _ string) ([]identity.Doctor, error) {
	var out []identity.Doctor
	for _, d := range v.doctors {
		if d.Specialty == specialty {
			out = append(out, d)
		}
	}
	return out, nil
}

func newTestScheduler(t *testing.T) (*Scheduler, *memstore.DB, *stubVerifier) {
	t.Helper()
	db := memstore.New()
	verifier := newStubVerifier()
	s := New(db.Appointments(), db.Tickets(), verifier, nil, slog.New(slog.DiscardHandler))
	s.now = func() time.Time { return testNow }
	return s, db, verifier
}

func TestCreate(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	start := testNow.Add(48 * time.Hour)

	appt, err := s.Create(context.Background(), CreateParams{PatientID: patientA, DoctorID: doctorA, StartTime: start}, "token")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if appt.Status != model.AppointmentScheduled {
		t.Errorf("status = %s, want SCHEDULED", appt.Status)
	}
	if !appt.EndTime.Equal(start.Add(30 * time.Minute)) {
		t.Errorf("end = %v, want start+30m", appt.EndTime)
	}
}

func TestCreateValidation(t *testing.T) {
	s, _, verifier := newTestScheduler(t)
	verifier.doctors["64a000000000000000000bad"] = identity.Doctor{
		ID: "64a000000000000000000bad", Role: identity.RoleDoctor, Status: identity.StatusInactive,
	}

	tests := []struct {
		name   string
		params CreateParams
		kind   fault.Kind
	}{
		{
			name:   "malformed doctor id",
			params: CreateParams{PatientID: patientA, DoctorID: "not-hex", StartTime: testNow.Add(time.Hour)},
			kind:   fault.KindValidation,
		},
		{
			name:   "malformed patient id",
			params: CreateParams{PatientID: "xyz", DoctorID: doctorA, StartTime: testNow.Add(time.Hour)},
			kind:   fault.KindValidation,
		},
		{
			name:   "start in the past",
			params: CreateParams{PatientID: patientA, DoctorID: doctorA, StartTime: testNow.Add(-time.Minute)},
			kind:   fault.KindValidation,
		},
		{
			name:   "zero start",
			params: CreateParams{PatientID: patientA, DoctorID: doctorA},
			kind:   fault.KindValidation,
		},
		{
			name:   "unknown doctor",
			params: CreateParams{PatientID: patientA, DoctorID: "64a00000000000000000beef", StartTime: testNow.Add(time.Hour)},
			kind:   fault.KindNotFound,
		},
		{
			name:   "inactive doctor",
			params: CreateParams{PatientID: patientA, DoctorID: "64a000000000000000000bad", StartTime: testNow.Add(time.Hour)},
			kind:   fault.KindState,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Create(context.Background(), tc.params, "token")
			if fault.KindOf(err) != tc.kind {
				t.Errorf("kind = %v, want %v (err: %v)", fault.KindOf(err), tc.kind, err)
			}
		})
	}
}

func TestCreateConflictAttribution(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	ctx := context.Background()
	start := testNow.Add(48 * time.Hour)

	if _, err := s.Create(ctx, CreateParams{PatientID: patientA, DoctorID: doctorA, StartTime: start}, "token"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Same doctor, different patient, overlapping window.
	_, err := s.Create(ctx, CreateParams{PatientID: patientB, DoctorID: doctorA, StartTime: start.Add(15 * time.Minute)}, "token")
	if !fault.IsConflict(err) {
		t.Fatalf("want conflict, got %v", err)
	}
	if !strings.Contains(err.Error(), "doctor") {
		t.Errorf("conflict should name the doctor: %v", err)
	}

	// Same patient, different doctor.
	_, err = s.Create(ctx, CreateParams{PatientID: patientA, DoctorID: doctorB, StartTime: start.Add(15 * time.Minute)}, "token")
	if !fault.IsConflict(err) {
		t.Fatalf("want conflict, got %v", err)
	}
	if !strings.Contains(err.Error(), "patient") {
		t.Errorf("conflict should name the patient: %v", err)
	}

	// Back-to-back slot is fine, intervals are half-open.
	if _, err := s.Create(ctx, CreateParams{PatientID: patientB, DoctorID: doctorA, StartTime: start.Add(30 * time.Minute)}, "token"); err != nil {
		t.Errorf("adjacent slot should not conflict: %v", err)
	}
}

func TestConfirmWindow(t *testing.T) {
	tests := []struct {
		name     string
		lead     time.Duration
		wantKind fault.Kind
	}{
		{"too close", 5 * time.Minute, fault.KindWindow},
		{"lower bound inclusive", 10 * time.Minute, fault.KindUnknown},
		{"inside window", 3 * time.Hour, fault.KindUnknown},
		{"upper bound inclusive", 24 * time.Hour, fault.KindUnknown},
		{"too far ahead", 25 * time.Hour, fault.KindWindow},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s, _, _ := newTestScheduler(t)
			ctx := context.Background()
			appt, err := s.Create(ctx, CreateParams{PatientID: patientA, DoctorID: doctorA, StartTime: testNow.Add(tc.lead)}, "token")
			if err != nil {
				t.Fatalf("seed: %v", err)
			}

			confirmed, err := s.Confirm(ctx, appt.ID, "token")
			if fault.KindOf(err) != tc.wantKind {
				t.Fatalf("kind = %v, want %v (err: %v)", fault.KindOf(err), tc.wantKind, err)
			}
			if tc.wantKind == fault.KindUnknown && confirmed.Status != model.AppointmentConfirmed {
				t.Errorf("status = %s, want CONFIRMED", confirmed.Status)
			}
		})
	}
}

func TestConfirmIdempotent(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	ctx := context.Background()
	appt, err := s.Create(ctx, CreateParams{PatientID: patientA, DoctorID: doctorA, StartTime: testNow.Add(time.Hour)}, "token")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	first, err := s.Confirm(ctx, appt.ID, "token")
	if err != nil {
		t.Fatalf("first confirm: %v", err)
	}
	second, err := s.Confirm(ctx, appt.ID, "token")
	if err != nil {
		t.Fatalf("second confirm: %v", err)
	}
	if first.Status != second.Status || second.Status != model.AppointmentConfirmed {
		t.Errorf("statuses = %s, %s, want CONFIRMED twice", first.Status, second.Status)
	}
}

func TestConfirmWrongState(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	ctx := context.Background()
	appt, err := s.Create(ctx, CreateParams{PatientID: patientA, DoctorID: doctorA, StartTime: testNow.Add(time.Hour)}, "token")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := s.Cancel(ctx, appt.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	_, err = s.Confirm(ctx, appt.ID, "token")
	if !fault.IsState(err) {
		t.Errorf("confirm on cancelled: kind = %v, want state", fault.KindOf(err))
	}
}

func TestCancel(t *testing.T) {
	s, db, _ := newTestScheduler(t)
	ctx := context.Background()
	appt, err := s.Create(ctx, CreateParams{PatientID: patientA, DoctorID: doctorA, StartTime: testNow.Add(time.Hour)}, "token")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	cancelled, err := s.Cancel(ctx, appt.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != model.AppointmentCancelled {
		t.Errorf("status = %s, want CANCELLED", cancelled.Status)
	}

	if _, err := s.Cancel(ctx, appt.ID); !fault.IsConflict(err) {
		t.Errorf("second cancel: kind = %v, want conflict", fault.KindOf(err))
	}

	// Terminal non-cancelled states reject cancellation.
	done, _, err := db.Appointments().Create(ctx, model.Appointment{
		ID: "completed-1", PatientID: patientB, DoctorID: doctorB,
		StartTime: testNow.Add(2 * time.Hour), EndTime: testNow.Add(2*time.Hour + 30*time.Minute),
		Status: model.AppointmentCompleted,
	})
	if err != nil {
		t.Fatalf("seed completed: %v", err)
	}
	if _, err := s.Cancel(ctx, done.ID); !fault.IsState(err) {
		t.Errorf("cancel completed: kind = %v, want state", fault.KindOf(err))
	}
}

func TestUpdate(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	ctx := context.Background()
	start := testNow.Add(48 * time.Hour)
	appt, err := s.Create(ctx, CreateParams{PatientID: patientA, DoctorID: doctorA, StartTime: start}, "token")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := s.Create(ctx, CreateParams{PatientID: patientB, DoctorID: doctorB, StartTime: start}, "token"); err != nil {
		t.Fatalf("seed blocker: %v", err)
	}

	t.Run("illegal status transition", func(t *testing.T) {
		done := model.AppointmentCompleted
		_, err := s.Update(ctx, appt.ID, UpdateParams{Status: &done}, "token")
		if !fault.IsState(err) {
			t.Errorf("kind = %v, want state", fault.KindOf(err))
		}
	})

	t.Run("empty update", func(t *testing.T) {
		_, err := s.Update(ctx, appt.ID, UpdateParams{}, "token")
		if !fault.IsValidation(err) {
			t.Errorf("kind = %v, want validation", fault.KindOf(err))
		}
	})

	t.Run("new doctor with occupied window", func(t *testing.T) {
		d := doctorB
		_, err := s.Update(ctx, appt.ID, UpdateParams{DoctorID: &d}, "token")
		if !fault.IsConflict(err) {
			t.Errorf("kind = %v, want conflict", fault.KindOf(err))
		}
	})

	t.Run("reschedule excludes self", func(t *testing.T) {
		shifted := start.Add(10 * time.Minute)
		updated, err := s.Update(ctx, appt.ID, UpdateParams{StartTime: &shifted}, "token")
		if err != nil {
			t.Fatalf("reschedule: %v", err)
		}
		if !updated.StartTime.Equal(shifted) || !updated.EndTime.Equal(shifted.Add(30*time.Minute)) {
			t.Errorf("window = [%v, %v], want [%v, %v]", updated.StartTime, updated.EndTime, shifted, shifted.Add(30*time.Minute))
		}
	})

	t.Run("unknown appointment", func(t *testing.T) {
		shifted := start.Add(time.Hour)
		_, err := s.Update(ctx, "missing", UpdateParams{StartTime: &shifted}, "token")
		if !fault.IsNotFound(err) {
			t.Errorf("kind = %v, want not found", fault.KindOf(err))
		}
	})
}

func TestMarkNoShow(t *testing.T) {
	s, db, _ := newTestScheduler(t)
	ctx := context.Background()
	appt, err := s.Create(ctx, CreateParams{PatientID: patientA, DoctorID: doctorA, StartTime: testNow.Add(time.Hour)}, "token")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := s.MarkNoShow(ctx, appt.ID); !fault.IsState(err) {
		t.Fatalf("no ticket: kind = %v, want state", fault.KindOf(err))
	}

	tickets := db.Tickets()
	ticket, err := tickets.Create(ctx, model.Ticket{
		ID: "tkt-1", AppointmentID: appt.ID, PatientID: patientA, DoctorID: doctorA,
	})
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}

	// WAITING is not a no-show candidate; the patient must have been called.
	if _, err := s.MarkNoShow(ctx, appt.ID); !fault.IsState(err) {
		t.Fatalf("waiting ticket: kind = %v, want state", fault.KindOf(err))
	}

	if _, err := tickets.ClaimNext(ctx, doctorA); err != nil {
		t.Fatalf("claim: %v", err)
	}

	got, err := s.MarkNoShow(ctx, appt.ID)
	if err != nil {
		t.Fatalf("mark no-show: %v", err)
	}
	if got.Status != model.AppointmentNoShow {
		t.Errorf("appointment status = %s, want NO_SHOW", got.Status)
	}
	cancelled, err := tickets.ByID(ctx, ticket.ID)
	if err != nil {
		t.Fatalf("ticket lookup: %v", err)
	}
	if cancelled.Status != model.TicketCancelled {
		t.Errorf("ticket status = %s, want CANCELLED", cancelled.Status)
	}
}

func TestHasTicket(t *testing.T) {
	s, db, _ := newTestScheduler(t)
	ctx := context.Background()
	appt, err := s.Create(ctx, CreateParams{PatientID: patientA, DoctorID: doctorA, StartTime: testNow.Add(time.Hour)}, "token")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	ok, err := s.HasTicket(ctx, appt.ID)
	if err != nil || ok {
		t.Fatalf("HasTicket = %v, %v, want false, nil", ok, err)
	}
	if _, err := db.Tickets().Create(ctx, model.Ticket{ID: "tkt-1", AppointmentID: appt.ID, PatientID: patientA, DoctorID: doctorA}); err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	ok, err = s.HasTicket(ctx, appt.ID)
	if err != nil || !ok {
		t.Fatalf("HasTicket = %v, %v, want true, nil", ok, err)
	}
}
