package storage

import (
	"context"
	"time"

	"github.com/clinicops/appointments/internal/fault"
	"github.com/clinicops/appointments/internal/model"
	"github.com/clinicops/appointments/libs/db"
	"github.com/jackc/pgx/v5"
)

const apptColumns = `id, patient_id, doctor_id, start_time, end_time, status, reminder_24h_sent, created_at, updated_at`

type AppointmentRepository struct {
	pool *db.Pool
}

func NewAppointmentRepository(pool *db.Pool) *AppointmentRepository {
	return &AppointmentRepository{pool: pool}
}

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var a model.Appointment
	var status string
	err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.StartTime, &a.EndTime,
		&status, &a.Reminder24hSent, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return model.Appointment{}, err
	}
	a.Status = model.AppointmentStatus(status)
	return a, nil
}

// Create inserts the appointment unless a non-cancelled appointment of the
// same doctor or patient overlaps its window. The matching row (doctor
// match first) is returned so the caller can attribute the conflict. The
// table's exclusion constraints are the backstop for concurrent inserts.
func (r *AppointmentRepository) Create(ctx context.Context, appt model.Appointment) (model.Appointment, *model.Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	conflicting, err := r.findOverlapping(ctx, tx, appt.DoctorID, appt.PatientID, appt.StartTime, appt.EndTime, "")
	if err != nil {
		return model.Appointment{}, nil, err
	}
	if conflicting != nil {
		return model.Appointment{}, conflicting, nil
	}

	created, err := scanAppointment(tx.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, start_time, end_time, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+apptColumns+`
	`, appt.ID, appt.PatientID, appt.DoctorID, appt.StartTime, appt.EndTime, string(appt.Status)))
	if err != nil {
		if isExclusionViolation(err) {
			return model.Appointment{}, nil, fault.New(fault.KindConflict, "the time slot was just taken")
		}
		return model.Appointment{}, nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, nil, err
	}
	return created, nil, nil
}

// Reschedule persists a changed doctor, window or status, re-running the
// overlap check against the new values and excluding the appointment
// itself.
func (r *AppointmentRepository) Reschedule(ctx context.Context, appt model.Appointment) (model.Appointment, *model.Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	conflicting, err := r.findOverlapping(ctx, tx, appt.DoctorID, appt.PatientID, appt.StartTime, appt.EndTime, appt.ID)
	if err != nil {
		return model.Appointment{}, nil, err
	}
	if conflicting != nil {
		return model.Appointment{}, conflicting, nil
	}

	updated, err := scanAppointment(tx.QueryRow(ctx, `
		UPDATE appointments
		SET doctor_id = $2,
			start_time = $3,
			end_time = $4,
			status = $5,
			updated_at = now()
		WHERE id = $1
		RETURNING `+apptColumns+`
	`, appt.ID, appt.DoctorID, appt.StartTime, appt.EndTime, string(appt.Status)))
	if err != nil {
		if isNoRows(err) {
			return model.Appointment{}, nil, fault.New(fault.KindNotFound, "appointment not found")
		}
		if isExclusionViolation(err) {
			return model.Appointment{}, nil, fault.New(fault.KindConflict, "the time slot was just taken")
		}
		return model.Appointment{}, nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, nil, err
	}
	return updated, nil, nil
}

func (r *AppointmentRepository) findOverlapping(ctx context.Context, tx pgx.Tx, doctorID, patientID string, start, end time.Time, excludeID string) (*model.Appointment, error) {
	// Doctor matches sort first so a double conflict is reported as the
	// doctor's.
	row := tx.QueryRow(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE status <> 'CANCELLED'
			AND start_time < $3
			AND end_time > $4
			AND (doctor_id = $1 OR patient_id = $2)
			AND ($5 = '' OR id::text <> $5)
		ORDER BY (doctor_id = $1) DESC, start_time
		LIMIT 1
	`, doctorID, patientID, end, start, excludeID)
	appt, err := scanAppointment(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return &appt, nil
}

func (r *AppointmentRepository) Get(ctx context.Context, id string) (model.Appointment, error) {
	appt, err := scanAppointment(r.pool.QueryRow(ctx, `
		SELECT `+apptColumns+` FROM appointments WHERE id = $1
	`, id))
	if err != nil {
		if isNoRows(err) {
			return model.Appointment{}, fault.New(fault.KindNotFound, "appointment not found")
		}
		return model.Appointment{}, err
	}
	return appt, nil
}

func (r *AppointmentRepository) SetStatus(ctx context.Context, id string, status model.AppointmentStatus) (model.Appointment, error) {
	appt, err := scanAppointment(r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+apptColumns+`
	`, id, string(status)))
	if err != nil {
		if isNoRows(err) {
			return model.Appointment{}, fault.New(fault.KindNotFound, "appointment not found")
		}
		return model.Appointment{}, err
	}
	return appt, nil
}

func (r *AppointmentRepository) SetReminderSent(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET reminder_24h_sent = TRUE, updated_at = now()
		WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fault.New(fault.KindNotFound, "appointment not found")
	}
	return nil
}

func (r *AppointmentRepository) ListByDoctorAndStatus(ctx context.Context, doctorID string, statuses ...model.AppointmentStatus) ([]model.Appointment, error) {
	return r.list(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE doctor_id = $1 AND status = ANY($2)
		ORDER BY start_time
	`, doctorID, statusStrings(statuses))
}

func (r *AppointmentRepository) ListScheduledBefore(ctx context.Context, cutoff time.Time) ([]model.Appointment, error) {
	return r.list(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE status = 'SCHEDULED' AND start_time < $1
		ORDER BY start_time
	`, cutoff)
}

func (r *AppointmentRepository) ListConfirmedBetween(ctx context.Context, from, to time.Time) ([]model.Appointment, error) {
	return r.list(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE status = 'CONFIRMED' AND start_time >= $1 AND start_time <= $2
		ORDER BY start_time
	`, from, to)
}

func (r *AppointmentRepository) ListReminderDue(ctx context.Context, from, to time.Time) ([]model.Appointment, error) {
	return r.list(ctx, `
		SELECT `+apptColumns+`
		FROM appointments
		WHERE status = 'SCHEDULED'
			AND NOT reminder_24h_sent
			AND start_time >= $1 AND start_time <= $2
		ORDER BY start_time
	`, from, to)
}

func (r *AppointmentRepository) list(ctx context.Context, query string, args ...any) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

func statusStrings(statuses []model.AppointmentStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}
