package reassign

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/clinicops/appointments/internal/fault"
	"github.com/clinicops/appointments/internal/identity"
	"github.com/clinicops/appointments/internal/model"
	"github.com/clinicops/appointments/internal/scheduler"
	"github.com/clinicops/appointments/internal/storage/memstore"
)

const (
	doctorA  = "64a0000000000000000000d1"
	doctorB  = "64a0000000000000000000d2"
	doctorC  = "64a0000000000000000000d3"
	patientA = "64a000000000000000000001"
	patientB = "64a000000000000000000002"
)

type stubVerifier struct {
	doctors  map[string]identity.Doctor
	order    []string
	patients map[string]identity.Patient
}

func newStubVerifier() *stubVerifier {
	return &stubVerifier{
		doctors: map[string]identity.Doctor{
			doctorA: {ID: doctorA, Role: identity.RoleDoctor, Status: identity.StatusActive, Specialty: "cardiology"},
			doctorB: {ID: doctorB, Role: identity.RoleDoctor, Status: identity.StatusActive, Specialty: "cardiology"},
			doctorC: {ID: doctorC, Role: identity.RoleDoctor, Status: identity.StatusActive, Specialty: "cardiology"},
		},
		order: []string{doctorA, doctorB, doctorC},
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
	for _, id := range v.order {
		if d, ok := v.doctors[id]; ok && d.Specialty == specialty {
			out = append(out, d)
		}
	}
	return out, nil
}

func newTestCoordinator(t *testing.T) (*Coordinator, *scheduler.Scheduler, *stubVerifier, *memstore.DB) {
	t.Helper()
	db := memstore.New()
	verifier := newStubVerifier()
	logger := slog.New(slog.DiscardHandler)
	sched := scheduler.New(db.Appointments(), db.Tickets(), verifier, nil, logger)
	return NewCoordinator(sched, verifier, logger), sched, verifier, db
}

func TestHandleDoctorInactiveReassigns(t *testing.T) {
	c, sched, _, db := newTestCoordinator(t)
	ctx := context.Background()
	start := time.Now().UTC().Add(48 * time.Hour)

	appt, err := sched.Create(ctx, scheduler.CreateParams{PatientID: patientA, DoctorID: doctorA, StartTime: start}, "token")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	outcomes, err := c.HandleDoctorInactive(ctx, doctorA, "token")
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(outcomes) != 1 {
		t.Fatalf("outcomes = %d, want 1", len(outcomes))
	}
	got := outcomes[0]
	if got.OldAppointmentID != appt.ID || !got.Reassigned || got.NewDoctorID != doctorB {
		t.Errorf("outcome = %+v, want reassigned to %s", got, doctorB)
	}

	old, err := db.Appointments().Get(ctx, appt.ID)
	if err != nil {
		t.Fatalf("old lookup: %v", err)
	}
	if old.Status != model.AppointmentCancelled {
		t.Errorf("old status = %s, want CANCELLED", old.Status)
	}
	replacement, err := db.Appointments().Get(ctx, got.NewAppointmentID)
	if err != nil {
		t.Fatalf("replacement lookup: %v", err)
	}
	if replacement.DoctorID != doctorB || !replacement.StartTime.Equal(appt.StartTime) || replacement.PatientID != patientA {
		t.Errorf("replacement = %+v, want same patient and window with %s", replacement, doctorB)
	}
}

func TestHandleDoctorInactiveSkipsBusyCandidate(t *testing.T) {
	c, sched, _, _ := newTestCoordinator(t)
	ctx := context.Background()
	start := time.Now().UTC().Add(48 * time.Hour)

	if _, err := sched.Create(ctx, scheduler.CreateParams{PatientID: patientA, DoctorID: doctorA, StartTime: start}, "token"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	// doctorB is occupied at the same window, so doctorC wins.
	if _, err := sched.Create(ctx, scheduler.CreateParams{PatientID: patientB, DoctorID: doctorB, StartTime: start}, "token"); err != nil {
		t.Fatalf("seed blocker: %v", err)
	}

	outcomes, err := c.HandleDoctorInactive(ctx, doctorA, "token")
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(outcomes) != 1 || !outcomes[0].Reassigned || outcomes[0].NewDoctorID != doctorC {
		t.Errorf("outcomes = %+v, want reassignment to %s", outcomes, doctorC)
	}
}

func TestHandleDoctorInactiveEmptyPool(t *testing.T) {
	c, sched, verifier, _ := newTestCoordinator(t)
	ctx := context.Background()
	start := time.Now().UTC().Add(48 * time.Hour)

	appt, err := sched.Create(ctx, scheduler.CreateParams{PatientID: patientA, DoctorID: doctorA, StartTime: start}, "token")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	delete(verifier.doctors, doctorB)
	delete(verifier.doctors, doctorC)

	outcomes, err := c.HandleDoctorInactive(ctx, doctorA, "token")
	if err != nil {
		t.Fatalf("empty pool must not be a hard failure: %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].Reassigned {
		t.Fatalf("outcomes = %+v, want one unreassigned record", outcomes)
	}
	if outcomes[0].OldAppointmentID != appt.ID {
		t.Errorf("old id = %s, want %s", outcomes[0].OldAppointmentID, appt.ID)
	}
}

func TestHandleDoctorInactiveLookupFailures(t *testing.T) {
	c, _, verifier, _ := newTestCoordinator(t)
	ctx := context.Background()

	if _, err := c.HandleDoctorInactive(ctx, "64a00000000000000000beef", "token"); !fault.IsNotFound(err) {
		t.Errorf("unknown doctor: kind = %v, want not found", fault.KindOf(err))
	}

	d := verifier.doctors[doctorA]
	d.Specialty = ""
	verifier.doctors[doctorA] = d
	if _, err := c.HandleDoctorInactive(ctx, doctorA, "token"); !fault.IsUpstream(err) {
		t.Errorf("missing specialty: kind = %v, want upstream", fault.KindOf(err))
	}
}
