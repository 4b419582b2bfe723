package main

import (
	"context"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/hackgods/clinic-appointment-engine/internal/db"
	"github.com/hackgods/clinic-appointment-engine/internal/logger"
)

const (
	doctorCount  = 25
	patientCount = 5000
)

type serviceSeed struct {
	name       string
	minutes    int
	priceCents int64
}

var catalog = []serviceSeed{
	{"General Consultation", 30, 5000},
	{"Follow-up Visit", 15, 2500},
	{"Comprehensive Checkup", 60, 15000},
	{"Vaccination", 15, 3000},
	{"Dermatology Assessment", 45, 9000},
	{"Cardiology Review", 45, 12000},
	{"Pediatric Visit", 30, 6000},
	{"Physiotherapy Session", 60, 8000},
}

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

// working patterns handed out round robin
var schedules = []struct {
	from, to string
	days     []string
}{
	{"09:00", "17:00", []string{"MONDAY", "TUESDAY", "WEDNESDAY", "THURSDAY", "FRIDAY"}},
	{"08:00", "14:00", []string{"MONDAY", "WEDNESDAY", "FRIDAY"}},
	{"10:00", "18:30", []string{"TUESDAY", "THURSDAY", "SATURDAY"}},
	{"13:00", "20:00", []string{"MONDAY", "TUESDAY", "WEDNESDAY", "THURSDAY"}},
}

func main() {
	_ = godotenv.Load()
	lg := logger.Init("seed", os.Getenv("APP_ENV"), os.Getenv("LOG_LEVEL"))
	lg.Info().Msg("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal().Msg("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn, 4)
	if err != nil {
		lg.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if err := db.ApplySchema(ctx, pool); err != nil {
		lg.Fatal().Err(err).Msg("apply schema")
	}

	_ = gofakeit.Seed(time.Now().UnixNano())

	clinicID := uuid.New()
	if _, err := pool.Exec(ctx, `INSERT INTO clinics (id, name) VALUES ($1, $2)`,
		clinicID, gofakeit.Company()+" Clinic"); err != nil {
		lg.Fatal().Err(err).Msg("seed clinic")
	}

	serviceIDs, err := seedServices(ctx, pool, clinicID)
	if err != nil {
		lg.Fatal().Err(err).Msg("seed services")
	}
	if err := seedDoctors(ctx, pool, clinicID, serviceIDs, doctorCount); err != nil {
		lg.Fatal().Err(err).Msg("seed doctors")
	}
	if err := seedPatients(ctx, pool, clinicID, patientCount); err != nil {
		lg.Fatal().Err(err).Msg("seed patients")
	}

	lg.Info().Str("clinic_id", clinicID.String()).Msg("seed complete, use this id as X-Clinic-ID")
}

func seedServices(ctx context.Context, pool *pgxpool.Pool, clinicID uuid.UUID) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(catalog))
	for _, s := range catalog {
		id := uuid.New()
		_, err := pool.Exec(ctx, `
			INSERT INTO services (id, clinic_id, name, duration_minutes, price_cents)
			VALUES ($1, $2, $3, $4, $5)
		`, id, clinicID, s.name, s.minutes, s.priceCents)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	log.Info().Int("count", len(ids)).Msg("services seeded")
	return ids, nil
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, clinicID uuid.UUID, serviceIDs []uuid.UUID, count int) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		id := uuid.New()
		sched := schedules[i%len(schedules)]
		specialty := specialties[gofakeit.Number(0, len(specialties)-1)]

		// every fourth doctor takes a late lunch instead of the clinic window
		var lunchFrom, lunchTo *string
		if i%4 == 3 {
			from, to := "15:00", "15:30"
			lunchFrom, lunchTo = &from, &to
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, clinic_id, name, specialty, available_from, available_to, available_days, lunch_from, lunch_to)
			VALUES ($1, $2, $3, $4, $5::time, $6::time, $7, $8::time, $9::time)
		`, id, clinicID, gofakeit.Name(), specialty, sched.from, sched.to, sched.days, lunchFrom, lunchTo)
		if err != nil {
			return err
		}

		// each doctor offers a random subset of at least two services
		order := seq(len(serviceIDs))
		gofakeit.ShuffleInts(order)
		for _, j := range order[:gofakeit.Number(2, len(serviceIDs))] {
			if _, err := tx.Exec(ctx, `
				INSERT INTO doctor_services (doctor_id, service_id) VALUES ($1, $2)
			`, id, serviceIDs[j]); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Info().Int("count", count).Msg("doctors seeded")
	return nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, clinicID uuid.UUID, count int) error {
	rows := make([][]any, 0, count)
	for i := 0; i < count; i++ {
		rows = append(rows, []any{uuid.New(), clinicID, gofakeit.Name(), gofakeit.Email()})
	}

	n, err := pool.CopyFrom(ctx,
		pgx.Identifier{"patients"},
		[]string{"id", "clinic_id", "name", "email"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return err
	}

	log.Info().Int64("count", n).Msg("patients seeded")
	return nil
}

func seq(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
