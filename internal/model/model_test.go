package model

import (
	"testing"
	"time"
)

func TestAppointmentTransitions(t *testing.T) {
	cases := []struct {
		from, to AppointmentStatus
		ok       bool
	}{
		{AppointmentScheduled, AppointmentConfirmed, true},
		{AppointmentScheduled, AppointmentInProgress, true},
		{AppointmentScheduled, AppointmentCancelled, true},
		{AppointmentScheduled, AppointmentCompleted, false},
		{AppointmentConfirmed, AppointmentInProgress, true},
		{AppointmentConfirmed, AppointmentConfirmed, false},
		{AppointmentInProgress, AppointmentCompleted, true},
		{AppointmentInProgress, AppointmentNoShow, true},
		{AppointmentCompleted, AppointmentCancelled, false},
		{AppointmentCancelled, AppointmentScheduled, false},
		{AppointmentNoShow, AppointmentConfirmed, false},
	}
	for _, c := range cases {
		if got := c.from.CanTransition(c.to); got != c.ok {
			t.Errorf("%s -> %s: got %v, want %v", c.from, c.to, got, c.ok)
		}
	}
}

func TestAppointmentTerminal(t *testing.T) {
	for _, s := range []AppointmentStatus{AppointmentCompleted, AppointmentCancelled, AppointmentNoShow} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []AppointmentStatus{AppointmentScheduled, AppointmentConfirmed, AppointmentInProgress} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestTicketTransitions(t *testing.T) {
	cases := []struct {
		from, to TicketStatus
		ok       bool
	}{
		{TicketWaiting, TicketCalled, true},
		{TicketWaiting, TicketCompleted, false},
		{TicketCalled, TicketCompleted, true},
		{TicketCalled, TicketCancelled, true},
		{TicketInProgress, TicketCompleted, true},
		{TicketCompleted, TicketWaiting, false},
		{TicketCancelled, TicketCalled, false},
	}
	for _, c := range cases {
		if got := c.from.CanTransition(c.to); got != c.ok {
			t.Errorf("%s -> %s: got %v, want %v", c.from, c.to, got, c.ok)
		}
	}
}

func TestOverlaps_HalfOpen(t *testing.T) {
	base := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	appt := Appointment{StartTime: base, EndTime: base.Add(SlotDuration)}

	// Back-to-back slots share a boundary instant and do not overlap.
	if appt.Overlaps(base.Add(SlotDuration), base.Add(2*SlotDuration)) {
		t.Fatal("adjacent slot should not overlap")
	}
	if appt.Overlaps(base.Add(-SlotDuration), base) {
		t.Fatal("preceding adjacent slot should not overlap")
	}
	if !appt.Overlaps(base.Add(15*time.Minute), base.Add(45*time.Minute)) {
		t.Fatal("intersecting slot should overlap")
	}
	if !appt.Overlaps(base.Add(-15*time.Minute), base.Add(time.Minute)) {
		t.Fatal("slot covering the start should overlap")
	}
}

func TestParseAppointmentStatus(t *testing.T) {
	if s, ok := ParseAppointmentStatus("CONFIRMED"); !ok || s != AppointmentConfirmed {
		t.Fatalf("parse CONFIRMED failed: %v %v", s, ok)
	}
	if _, ok := ParseAppointmentStatus("confirmed"); ok {
		t.Fatal("status parsing must match stored values exactly")
	}
	if _, ok := ParseAppointmentStatus("ONGOING"); ok {
		t.Fatal("unknown status should not parse")
	}
}
