package model

import "time"

// SlotDuration is the fixed length of every appointment. EndTime is always
// derived from StartTime; it is never set independently.
const SlotDuration = 30 * time.Minute

type AppointmentStatus string

const (
	AppointmentScheduled  AppointmentStatus = "SCHEDULED"
	AppointmentConfirmed  AppointmentStatus = "CONFIRMED"
	AppointmentInProgress AppointmentStatus = "IN_PROGRESS"
	AppointmentCompleted  AppointmentStatus = "COMPLETED"
	AppointmentCancelled  AppointmentStatus = "CANCELLED"
	AppointmentNoShow     AppointmentStatus = "NO_SHOW"
)

// appointmentTransitions is the closed transition table. Terminal states
// (COMPLETED, CANCELLED, NO_SHOW) have no outgoing edges.
var appointmentTransitions = map[AppointmentStatus][]AppointmentStatus{
	AppointmentScheduled:  {AppointmentConfirmed, AppointmentInProgress, AppointmentCancelled, AppointmentNoShow},
	AppointmentConfirmed:  {AppointmentInProgress, AppointmentCancelled, AppointmentNoShow},
	AppointmentInProgress: {AppointmentCompleted, AppointmentCancelled, AppointmentNoShow},
}

// AllAppointmentStatuses returns every status, for unfiltered listings.
func AllAppointmentStatuses() []AppointmentStatus {
	return []AppointmentStatus{
		AppointmentScheduled, AppointmentConfirmed, AppointmentInProgress,
		AppointmentCompleted, AppointmentCancelled, AppointmentNoShow,
	}
}

func ParseAppointmentStatus(raw string) (AppointmentStatus, bool) {
	s := AppointmentStatus(raw)
	switch s {
	case AppointmentScheduled, AppointmentConfirmed, AppointmentInProgress,
		AppointmentCompleted, AppointmentCancelled, AppointmentNoShow:
		return s, true
	}
	return "", false
}

func (s AppointmentStatus) Terminal() bool {
	return len(appointmentTransitions[s]) == 0
}

// CanTransition reports whether moving from s to next is a legal lifecycle
// step. Same-status "transitions" are not legal steps; idempotent no-ops
// are handled by the callers that want them (confirm).
func (s AppointmentStatus) CanTransition(next AppointmentStatus) bool {
	for _, allowed := range appointmentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type Appointment struct {
	ID              string
	PatientID       string
	DoctorID        string
	StartTime       time.Time
	EndTime         time.Time
	Status          AppointmentStatus
	Reminder24hSent bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Overlaps reports whether the appointment's [start,end) interval
// intersects the given half-open interval.
func (a Appointment) Overlaps(start, end time.Time) bool {
	return a.StartTime.Before(end) && start.Before(a.EndTime)
}
