package model

import "time"

type TicketStatus string

const (
	TicketWaiting    TicketStatus = "WAITING"
	TicketCalled     TicketStatus = "CALLED"
	TicketInProgress TicketStatus = "IN_PROGRESS"
	TicketCompleted  TicketStatus = "COMPLETED"
	TicketCancelled  TicketStatus = "CANCELLED"
)

// ActiveTicketStatuses are the statuses that count toward a doctor's live
// queue: they hold a queue number, block duplicate check-ins and define
// the "active batch" for monotonic numbering.
var ActiveTicketStatuses = []TicketStatus{TicketWaiting, TicketCalled, TicketInProgress}

func (s TicketStatus) Active() bool {
	switch s {
	case TicketWaiting, TicketCalled, TicketInProgress:
		return true
	}
	return false
}

// Serving marks the statuses in which the patient occupies the doctor: at
// most one ticket per doctor may be in a serving status at a time.
func (s TicketStatus) Serving() bool {
	return s == TicketCalled || s == TicketInProgress
}

var ticketTransitions = map[TicketStatus][]TicketStatus{
	TicketWaiting:    {TicketCalled, TicketCancelled},
	TicketCalled:     {TicketInProgress, TicketCompleted, TicketCancelled},
	TicketInProgress: {TicketCompleted, TicketCancelled},
}

func (s TicketStatus) CanTransition(next TicketStatus) bool {
	for _, allowed := range ticketTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Ticket is a waiting-line entry tied 1:1 to an appointment.
type Ticket struct {
	ID            string
	AppointmentID string
	PatientID     string
	DoctorID      string
	QueueNumber   int
	Status        TicketStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
