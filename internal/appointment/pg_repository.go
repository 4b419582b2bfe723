package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SQLSTATE codes the store reacts to.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgExclusionViolation   = "23P01"
	pgUniqueViolation      = "23505"
)

// queryable is satisfied by both the pool and an open transaction.
type queryable interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PgStore struct {
	pgReader
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pgReader: pgReader{q: pool}, pool: pool}
}

// InTx runs fn in a READ COMMITTED transaction and classifies Postgres
// failures into ErrTransient / ErrOverlapConstraint.
//
// Every statement takes a fresh snapshot, so reads issued after LockDoctor
// see all bookings committed before the lock was granted. Higher isolation
// levels fix the snapshot before the lock wait.
func (s *PgStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return classifyPgError(fmt.Errorf("begin tx: %w", err))
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(ctx, &pgTx{pgReader: pgReader{q: tx}}); err != nil {
		return classifyPgError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return classifyPgError(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

func classifyPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected:
			return fmt.Errorf("%w: %w", ErrTransient, err)
		case pgExclusionViolation:
			if pgErr.ConstraintName == "appointments_no_overlap" {
				return fmt.Errorf("%w: %w", ErrOverlapConstraint, err)
			}
		case pgUniqueViolation:
			// invoice numbers are random; a collision is worth one more attempt
			if pgErr.ConstraintName == "invoices_invoice_number_key" {
				return fmt.Errorf("%w: %w", ErrTransient, err)
			}
		}
		return err
	}
	if pgconn.SafeToRetry(err) {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	return err
}

// Helpers

func timeOfDayFromPg(t pgtype.Time) TimeOfDay {
	return TimeOfDay(t.Microseconds / int64(time.Minute/time.Microsecond))
}

func optionalTimeOfDay(t pgtype.Time) *TimeOfDay {
	if !t.Valid {
		return nil
	}
	v := timeOfDayFromPg(t)
	return &v
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var from, to, lunchFrom, lunchTo pgtype.Time
	var days []string

	err := row.Scan(
		&d.ID,
		&d.ClinicID,
		&d.Name,
		&d.Specialty,
		&from,
		&to,
		&days,
		&lunchFrom,
		&lunchTo,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	d.AvailableFrom = timeOfDayFromPg(from)
	d.AvailableTo = timeOfDayFromPg(to)
	d.LunchFrom = optionalTimeOfDay(lunchFrom)
	d.LunchTo = optionalTimeOfDay(lunchTo)
	for _, name := range days {
		wd, err := ParseWeekday(name)
		if err != nil {
			return nil, fmt.Errorf("doctor %s: %w", d.ID, err)
		}
		d.AvailableDays = append(d.AvailableDays, wd)
	}
	return &d, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient

	err := row.Scan(
		&p.ID,
		&p.ClinicID,
		&p.Name,
		&p.Email,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanService(row pgx.Row) (*Service, error) {
	var s Service

	err := row.Scan(
		&s.ID,
		&s.ClinicID,
		&s.Name,
		&s.DurationMinutes,
		&s.PriceCents,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrServiceNotFound
		}
		return nil, err
	}
	return &s, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.ClinicID,
		&a.DoctorID,
		&a.PatientID,
		&a.ServiceID,
		&a.AppointmentDate,
		&a.DurationMinutes,
		&a.Status,
		&a.Notes,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice

	err := row.Scan(
		&inv.ID,
		&inv.ClinicID,
		&inv.AppointmentID,
		&inv.InvoiceNumber,
		&inv.AmountCents,
		&inv.TaxCents,
		&inv.TotalCents,
		&inv.Status,
		&inv.DueDate,
		&inv.Description,
		&inv.CreatedAt,
		&inv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvoiceNotFound
		}
		return nil, err
	}
	return &inv, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

const (
	doctorCols = `id, clinic_id, name, specialty, available_from, available_to,
		available_days, lunch_from, lunch_to, created_at, updated_at`
	patientCols     = `id, clinic_id, name, email, created_at, updated_at`
	serviceCols     = `id, clinic_id, name, duration_minutes, price_cents, created_at, updated_at`
	appointmentCols = `id, clinic_id, doctor_id, patient_id, service_id, appointment_date,
		duration_minutes, status, notes, created_at, updated_at`
	invoiceCols = `id, clinic_id, appointment_id, invoice_number, amount_cents, tax_cents,
		total_cents, status, due_date, description, created_at, updated_at`
)

// Reads

type pgReader struct {
	q queryable
}

func (r *pgReader) GetDoctor(ctx context.Context, clinicID, id uuid.UUID) (*Doctor, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+doctorCols+`
		FROM doctors
		WHERE id = $1 AND clinic_id = $2
	`, id, clinicID)
	return scanDoctor(row)
}

func (r *pgReader) GetPatient(ctx context.Context, clinicID, id uuid.UUID) (*Patient, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+patientCols+`
		FROM patients
		WHERE id = $1 AND clinic_id = $2
	`, id, clinicID)
	return scanPatient(row)
}

func (r *pgReader) GetService(ctx context.Context, clinicID, id uuid.UUID) (*Service, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+serviceCols+`
		FROM services
		WHERE id = $1 AND clinic_id = $2
	`, id, clinicID)
	return scanService(row)
}

func (r *pgReader) DoctorOffersService(ctx context.Context, doctorID, serviceID uuid.UUID) (bool, error) {
	var ok bool
	err := r.q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM doctor_services
			WHERE doctor_id = $1 AND service_id = $2
		)
	`, doctorID, serviceID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check doctor service: %w", err)
	}
	return ok, nil
}

func (r *pgReader) ListScheduled(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE doctor_id = $1
		  AND status = 'SCHEDULED'
		  AND appointment_date < $3
		  AND ends_at > $2
		ORDER BY appointment_date
	`, doctorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list scheduled appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (r *pgReader) GetAppointment(ctx context.Context, clinicID, id uuid.UUID) (*Appointment, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE id = $1 AND clinic_id = $2
	`, id, clinicID)
	return scanAppointment(row)
}

func (r *pgReader) GetInvoiceByAppointment(ctx context.Context, clinicID, appointmentID uuid.UUID) (*Invoice, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+invoiceCols+`
		FROM invoices
		WHERE appointment_id = $1 AND clinic_id = $2
	`, appointmentID, clinicID)
	return scanInvoice(row)
}

func (r *pgReader) ListAppointmentsByPatient(ctx context.Context, clinicID, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE clinic_id = $1 AND patient_id = $2
		ORDER BY appointment_date DESC
		LIMIT $3 OFFSET $4
	`, clinicID, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return collectAppointments(rows)
}

func (r *pgReader) ListAppointmentsByDoctor(ctx context.Context, clinicID, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE clinic_id = $1
		  AND doctor_id = $2
		  AND appointment_date >= $3
		  AND appointment_date < $4
		ORDER BY appointment_date
	`, clinicID, doctorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list appointments by doctor: %w", err)
	}
	return collectAppointments(rows)
}

func (r *pgReader) ListInvoicesToVoid(ctx context.Context, statuses []AppointmentStatus, limit int) ([]Invoice, error) {
	names := make([]string, 0, len(statuses))
	for _, s := range statuses {
		names = append(names, string(s))
	}

	rows, err := r.q.Query(ctx, `
		SELECT i.id, i.clinic_id, i.appointment_id, i.invoice_number, i.amount_cents, i.tax_cents,
		       i.total_cents, i.status, i.due_date, i.description, i.created_at, i.updated_at
		FROM invoices i
		JOIN appointments a ON a.id = i.appointment_id
		WHERE i.status = 'PENDING'
		  AND a.status = ANY($1)
		ORDER BY i.created_at
		LIMIT $2
	`, names, limit)
	if err != nil {
		return nil, fmt.Errorf("list invoices to void: %w", err)
	}
	defer rows.Close()

	var result []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Writes, only reachable through InTx

type pgTx struct {
	pgReader
}

// LockDoctor blocks until no other transaction holds the doctor's lock. It is
// released on commit or rollback.
func (t *pgTx) LockDoctor(ctx context.Context, doctorID uuid.UUID) error {
	_, err := t.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, doctorID.String())
	if err != nil {
		return fmt.Errorf("lock doctor %s: %w", doctorID, err)
	}
	return nil
}

func (t *pgTx) FindScheduledForPatient(ctx context.Context, patientID, doctorID uuid.UUID, from, to time.Time) (*Appointment, error) {
	row := t.q.QueryRow(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE patient_id = $1
		  AND doctor_id = $2
		  AND status = 'SCHEDULED'
		  AND appointment_date >= $3
		  AND appointment_date < $4
		ORDER BY appointment_date
		LIMIT 1
	`, patientID, doctorID, from, to)
	return scanAppointment(row)
}

func (t *pgTx) CreateAppointment(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	row := t.q.QueryRow(ctx, `
		INSERT INTO appointments (id, clinic_id, doctor_id, patient_id, service_id, appointment_date,
			ends_at, duration_minutes, status, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
		RETURNING `+appointmentCols,
		a.ID, a.ClinicID, a.DoctorID, a.PatientID, a.ServiceID, a.AppointmentDate,
		a.End(), a.DurationMinutes, a.Status, a.Notes)

	created, err := scanAppointment(row)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	*a = *created
	return nil
}

func (t *pgTx) CreateInvoice(ctx context.Context, inv *Invoice) error {
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}

	row := t.q.QueryRow(ctx, `
		INSERT INTO invoices (id, clinic_id, appointment_id, invoice_number, amount_cents, tax_cents,
			total_cents, status, due_date, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
		RETURNING `+invoiceCols,
		inv.ID, inv.ClinicID, inv.AppointmentID, inv.InvoiceNumber, inv.AmountCents, inv.TaxCents,
		inv.TotalCents, inv.Status, inv.DueDate, inv.Description)

	created, err := scanInvoice(row)
	if err != nil {
		return fmt.Errorf("insert invoice: %w", err)
	}
	*inv = *created
	return nil
}

func (t *pgTx) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	row := t.q.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentCols,
		id, to, from)

	return scanAppointment(row)
}

func (t *pgTx) VoidPendingInvoice(ctx context.Context, appointmentID uuid.UUID) (bool, error) {
	tag, err := t.q.Exec(ctx, `
		UPDATE invoices
		SET status = 'CANCELLED',
		    updated_at = now()
		WHERE appointment_id = $1
		  AND status = 'PENDING'
	`, appointmentID)
	if err != nil {
		return false, fmt.Errorf("void invoice: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (t *pgTx) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
