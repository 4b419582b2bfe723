// Package pgtest opens the Postgres database used by integration tests and
// seeds scheduling fixtures into it. Tests are skipped when
// TEST_POSTGRES_DSN is not set.
package pgtest

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-appointment-engine/internal/appointment"
	"github.com/hackgods/clinic-appointment-engine/internal/db"
)

const dsnEnv = "TEST_POSTGRES_DSN"

// Open connects to the test database and applies the schema.
func Open(t testing.TB) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv(dsnEnv)
	if dsn == "" {
		t.Skipf("%s not set", dsnEnv)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn, 20)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := db.ApplySchema(ctx, pool); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return pool
}

// Fixture is one clinic with a doctor working 08:00-20:00 every day, a
// 30 minute service the doctor offers, and a set of patients. Every fixture
// uses fresh ids, so tests sharing a database never see each other's rows.
type Fixture struct {
	ClinicID uuid.UUID
	Doctor   appointment.Doctor
	Service  appointment.Service
	Patients []appointment.Patient
}

func Seed(t testing.TB, pool *pgxpool.Pool, patients int) *Fixture {
	t.Helper()
	ctx := context.Background()

	f := &Fixture{ClinicID: uuid.New()}
	f.Doctor = appointment.Doctor{
		ID:            uuid.New(),
		ClinicID:      f.ClinicID,
		Name:          gofakeit.LastName(),
		AvailableFrom: appointment.NewTimeOfDay(8, 0),
		AvailableTo:   appointment.NewTimeOfDay(20, 0),
		AvailableDays: []time.Weekday{
			time.Sunday, time.Monday, time.Tuesday, time.Wednesday,
			time.Thursday, time.Friday, time.Saturday,
		},
	}
	f.Service = appointment.Service{
		ID:              uuid.New(),
		ClinicID:        f.ClinicID,
		Name:            "Consultation",
		DurationMinutes: 30,
		PriceCents:      5000,
	}

	days := make([]string, 0, len(f.Doctor.AvailableDays))
	for _, d := range f.Doctor.AvailableDays {
		days = append(days, appointment.WeekdayName(d))
	}

	stmts := []struct {
		sql  string
		args []any
	}{
		{`INSERT INTO clinics (id, name) VALUES ($1, $2)`, []any{f.ClinicID, gofakeit.Company()}},
		{`INSERT INTO doctors (id, clinic_id, name, available_from, available_to, available_days)
		  VALUES ($1, $2, $3, $4::time, $5::time, $6)`,
			[]any{f.Doctor.ID, f.ClinicID, f.Doctor.Name, f.Doctor.AvailableFrom.String(), f.Doctor.AvailableTo.String(), days}},
		{`INSERT INTO services (id, clinic_id, name, duration_minutes, price_cents) VALUES ($1, $2, $3, $4, $5)`,
			[]any{f.Service.ID, f.ClinicID, f.Service.Name, f.Service.DurationMinutes, f.Service.PriceCents}},
		{`INSERT INTO doctor_services (doctor_id, service_id) VALUES ($1, $2)`, []any{f.Doctor.ID, f.Service.ID}},
	}
	for _, st := range stmts {
		if _, err := pool.Exec(ctx, st.sql, st.args...); err != nil {
			t.Fatalf("seed fixture: %v", err)
		}
	}

	for i := 0; i < patients; i++ {
		p := appointment.Patient{ID: uuid.New(), ClinicID: f.ClinicID, Name: gofakeit.Name()}
		if _, err := pool.Exec(ctx, `INSERT INTO patients (id, clinic_id, name) VALUES ($1, $2, $3)`,
			p.ID, p.ClinicID, p.Name); err != nil {
			t.Fatalf("seed patient %d: %v", i, err)
		}
		f.Patients = append(f.Patients, p)
	}
	return f
}

// At returns hh:mm UTC on the day daysAhead from today.
func At(daysAhead, hour, minute int) time.Time {
	y, m, d := time.Now().UTC().AddDate(0, 0, daysAhead).Date()
	return time.Date(y, m, d, hour, minute, 0, 0, time.UTC)
}

// Appointment builds a SCHEDULED appointment of the fixture's service.
func (f *Fixture) Appointment(patient int, start time.Time) *appointment.Appointment {
	return &appointment.Appointment{
		ID:              uuid.New(),
		ClinicID:        f.ClinicID,
		DoctorID:        f.Doctor.ID,
		PatientID:       f.Patients[patient].ID,
		ServiceID:       f.Service.ID,
		AppointmentDate: start,
		DurationMinutes: f.Service.DurationMinutes,
		Status:          appointment.StatusScheduled,
		Notes:           fmt.Sprintf("fixture %d", patient),
	}
}
