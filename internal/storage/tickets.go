package storage

import (
	"context"
	"time"

	"github.com/clinicops/appointments/internal/fault"
	"github.com/clinicops/appointments/internal/model"
	"github.com/clinicops/appointments/libs/db"
	"github.com/jackc/pgx/v5"
)

const ticketColumns = `id, appointment_id, patient_id, doctor_id, queue_number, status, created_at, updated_at`

type TicketRepository struct {
	pool *db.Pool
}

func NewTicketRepository(pool *db.Pool) *TicketRepository {
	return &TicketRepository{pool: pool}
}

func scanTicket(row pgx.Row) (model.Ticket, error) {
	var t model.Ticket
	var status string
	err := row.Scan(&t.ID, &t.AppointmentID, &t.PatientID, &t.DoctorID,
		&t.QueueNumber, &status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return model.Ticket{}, err
	}
	t.Status = model.TicketStatus(status)
	return t, nil
}

// lockDoctorQueue serializes queue mutations per doctor so numbering and
// the single-active-ticket claim cannot race.
func lockDoctorQueue(ctx context.Context, tx pgx.Tx, doctorID string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1)::bigint)`, doctorID)
	return err
}

// Create assigns queue_number = 1 + max(active numbers for the doctor)
// under the doctor's queue lock and inserts the ticket as WAITING. The
// UNIQUE(appointment_id) constraint turns a duplicate check-in race into a
// conflict error.
func (r *TicketRepository) Create(ctx context.Context, t model.Ticket) (model.Ticket, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Ticket{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockDoctorQueue(ctx, tx, t.DoctorID); err != nil {
		return model.Ticket{}, err
	}

	var next int
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(queue_number), 0) + 1
		FROM queue_tickets
		WHERE doctor_id = $1 AND status = ANY($2)
	`, t.DoctorID, activeStatuses()).Scan(&next)
	if err != nil {
		return model.Ticket{}, err
	}

	created, err := scanTicket(tx.QueryRow(ctx, `
		INSERT INTO queue_tickets (id, appointment_id, patient_id, doctor_id, queue_number, status)
		VALUES ($1, $2, $3, $4, $5, 'WAITING')
		RETURNING `+ticketColumns+`
	`, t.ID, t.AppointmentID, t.PatientID, t.DoctorID, next))
	if err != nil {
		if isUniqueViolation(err) {
			return model.Ticket{}, fault.New(fault.KindConflict, "check-in already completed for this appointment")
		}
		return model.Ticket{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Ticket{}, err
	}
	return created, nil
}

func (r *TicketRepository) ByID(ctx context.Context, id string) (model.Ticket, error) {
	t, err := scanTicket(r.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+` FROM queue_tickets WHERE id = $1
	`, id))
	if err != nil {
		if isNoRows(err) {
			return model.Ticket{}, fault.New(fault.KindNotFound, "ticket not found")
		}
		return model.Ticket{}, err
	}
	return t, nil
}

func (r *TicketRepository) ByAppointment(ctx context.Context, appointmentID string) (model.Ticket, error) {
	t, err := scanTicket(r.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+` FROM queue_tickets WHERE appointment_id = $1
	`, appointmentID))
	if err != nil {
		if isNoRows(err) {
			return model.Ticket{}, fault.New(fault.KindNotFound, "no ticket for this appointment")
		}
		return model.Ticket{}, err
	}
	return t, nil
}

func (r *TicketRepository) ActiveByDoctor(ctx context.Context, doctorID string) ([]model.Ticket, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM queue_tickets
		WHERE doctor_id = $1 AND status = ANY($2)
		ORDER BY queue_number
	`, doctorID, activeStatuses())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []model.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return tickets, nil
}

func (r *TicketRepository) HasActiveForPatient(ctx context.Context, doctorID, patientID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM queue_tickets
			WHERE doctor_id = $1 AND patient_id = $2 AND status = ANY($3)
		)
	`, doctorID, patientID, activeStatuses()).Scan(&exists)
	return exists, err
}

func (r *TicketRepository) CountWaitingAhead(ctx context.Context, doctorID string, queueNumber int) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM queue_tickets
		WHERE doctor_id = $1 AND status = 'WAITING' AND queue_number < $2
	`, doctorID, queueNumber).Scan(&n)
	return n, err
}

// ClaimNext moves the lowest-numbered WAITING ticket to CALLED and its
// appointment to IN_PROGRESS, in one transaction under the doctor's queue
// lock. It fails if a ticket is already CALLED or IN_PROGRESS.
func (r *TicketRepository) ClaimNext(ctx context.Context, doctorID string) (model.Ticket, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Ticket{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockDoctorQueue(ctx, tx, doctorID); err != nil {
		return model.Ticket{}, err
	}

	var serving bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM queue_tickets
			WHERE doctor_id = $1 AND status IN ('CALLED', 'IN_PROGRESS')
		)
	`, doctorID).Scan(&serving)
	if err != nil {
		return model.Ticket{}, err
	}
	if serving {
		return model.Ticket{}, fault.New(fault.KindConflict, "a patient is already called or being seen; complete that ticket first")
	}

	next, err := scanTicket(tx.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM queue_tickets
		WHERE doctor_id = $1 AND status = 'WAITING'
		ORDER BY queue_number
		LIMIT 1
		FOR UPDATE
	`, doctorID))
	if err != nil {
		if isNoRows(err) {
			return model.Ticket{}, fault.New(fault.KindNotFound, "no patients waiting in the queue")
		}
		return model.Ticket{}, err
	}

	called, err := r.transition(ctx, tx, next.ID, model.TicketCalled, next.AppointmentID, model.AppointmentInProgress)
	if err != nil {
		return model.Ticket{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Ticket{}, err
	}
	return called, nil
}

// CompleteServing finishes a CALLED or IN_PROGRESS ticket and cascades the
// appointment to COMPLETED atomically.
func (r *TicketRepository) CompleteServing(ctx context.Context, ticketID string) (model.Ticket, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Ticket{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	t, err := r.lockTicket(ctx, tx, ticketID)
	if err != nil {
		return model.Ticket{}, err
	}
	if !t.Status.Serving() {
		return model.Ticket{}, fault.New(fault.KindState, "only CALLED or IN_PROGRESS tickets can be completed")
	}

	done, err := r.transition(ctx, tx, t.ID, model.TicketCompleted, t.AppointmentID, model.AppointmentCompleted)
	if err != nil {
		return model.Ticket{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Ticket{}, err
	}
	return done, nil
}

// CancelCalled cancels a CALLED ticket and marks its appointment NO_SHOW
// atomically. Used when a called patient never responds.
func (r *TicketRepository) CancelCalled(ctx context.Context, ticketID string) (model.Ticket, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Ticket{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	t, err := r.lockTicket(ctx, tx, ticketID)
	if err != nil {
		return model.Ticket{}, err
	}
	if t.Status != model.TicketCalled {
		return model.Ticket{}, fault.New(fault.KindState, "ticket is %s, not CALLED", t.Status)
	}

	cancelled, err := r.transition(ctx, tx, t.ID, model.TicketCancelled, t.AppointmentID, model.AppointmentNoShow)
	if err != nil {
		return model.Ticket{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Ticket{}, err
	}
	return cancelled, nil
}

func (r *TicketRepository) ListCalledBefore(ctx context.Context, cutoff time.Time) ([]model.Ticket, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM queue_tickets
		WHERE status = 'CALLED' AND updated_at < $1
		ORDER BY updated_at
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []model.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return tickets, nil
}

func (r *TicketRepository) lockTicket(ctx context.Context, tx pgx.Tx, ticketID string) (model.Ticket, error) {
	t, err := scanTicket(tx.QueryRow(ctx, `
		SELECT `+ticketColumns+` FROM queue_tickets WHERE id = $1 FOR UPDATE
	`, ticketID))
	if err != nil {
		if isNoRows(err) {
			return model.Ticket{}, fault.New(fault.KindNotFound, "ticket not found")
		}
		return model.Ticket{}, err
	}
	return t, nil
}

func (r *TicketRepository) transition(ctx context.Context, tx pgx.Tx, ticketID string, ticketStatus model.TicketStatus, appointmentID string, apptStatus model.AppointmentStatus) (model.Ticket, error) {
	t, err := scanTicket(tx.QueryRow(ctx, `
		UPDATE queue_tickets
		SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+ticketColumns+`
	`, ticketID, string(ticketStatus)))
	if err != nil {
		return model.Ticket{}, err
	}
	_, err = tx.Exec(ctx, `
		UPDATE appointments
		SET status = $2, updated_at = now()
		WHERE id = $1
	`, appointmentID, string(apptStatus))
	if err != nil {
		return model.Ticket{}, err
	}
	return t, nil
}

func activeStatuses() []string {
	out := make([]string, 0, len(model.ActiveTicketStatuses))
	for _, s := range model.ActiveTicketStatuses {
		out = append(out, string(s))
	}
	return out
}
