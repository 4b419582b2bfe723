package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/hackgods/clinic-appointment-engine/internal/appointment"
	"github.com/hackgods/clinic-appointment-engine/internal/availability"
	"github.com/hackgods/clinic-appointment-engine/internal/config"
	"github.com/hackgods/clinic-appointment-engine/internal/db"
	"github.com/hackgods/clinic-appointment-engine/internal/logger"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	BookingRatio float64
	CancelRatio  float64
	ReadRatio    float64
	PatientLimit int
	DaysAhead    int
	PostgresDSN  string
}

// DataPool is the shared working set: one contended doctor, the slot starts
// every worker aims at, and the appointments created so far.
type DataPool struct {
	ClinicID     uuid.UUID
	DoctorID     uuid.UUID
	ServiceID    uuid.UUID
	Patients     []uuid.UUID
	Starts       []time.Time
	mu           sync.RWMutex
	appointments []uuid.UUID
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) GetRandomAppointment(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]
	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	Booking       OperationMetrics
	Cancel        OperationMetrics
	ReadByID      OperationMetrics
	ListByPatient OperationMetrics
	MonthView     OperationMetrics
	DayView       OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	lg := logger.Init("simulate", baseCfg.Env, baseCfg.LogLevel)

	cfg := loadConfig(baseCfg)
	if err := validateConfig(cfg); err != nil {
		lg.Fatal().Err(err).Msg("invalid simulator config")
	}

	lg.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Float64("booking", cfg.BookingRatio).
		Float64("cancel", cfg.CancelRatio).
		Float64("read", cfg.ReadRatio).
		Msg("simulator starting")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, 4)
	if err != nil {
		lg.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, baseCfg, cfg)
	if err != nil {
		lg.Fatal().Err(err).Msg("load data pool")
	}

	lg.Info().
		Str("clinic_id", dataPool.ClinicID.String()).
		Str("doctor_id", dataPool.DoctorID.String()).
		Int("patients", len(dataPool.Patients)).
		Int("slot_starts", len(dataPool.Starts)).
		Msg("data pool loaded")

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
	}

	sim.Run()
	sim.PrintReport()

	verifyCtx, verifyCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer verifyCancel()
	overlaps, err := countOverlaps(verifyCtx, pgPool, dataPool.DoctorID)
	if err != nil {
		lg.Fatal().Err(err).Msg("verify schedule")
	}
	if overlaps > 0 {
		lg.Error().Int("overlapping_pairs", overlaps).Msg("double booking detected")
		os.Exit(1)
	}
	lg.Info().Msg("no overlapping scheduled appointments")
}

func loadConfig(base config.Config) SimConfig {
	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 20),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.5),
		CancelRatio:  getFloat("SIM_CANCEL_RATIO", 0.1),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.4),
		PatientLimit: getInt("SIM_PATIENT_LIMIT", 2000),
		DaysAhead:    getInt("SIM_DAYS_AHEAD", 5),
		PostgresDSN:  base.PostgresDSN,
	}

	total := cfg.BookingRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}
	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.DaysAhead <= 0 {
		return fmt.Errorf("SIM_DAYS_AHEAD must be > 0")
	}
	return nil
}

// loadDataPool picks the first doctor that offers a service and collects the
// slot starts of its next working days, so every worker competes for the same
// small set of times.
func loadDataPool(ctx context.Context, pool *pgxpool.Pool, base config.Config, cfg SimConfig) (*DataPool, error) {
	dp := &DataPool{}

	err := pool.QueryRow(ctx, `
		SELECT d.clinic_id, d.id, ds.service_id
		FROM doctors d
		JOIN doctor_services ds ON ds.doctor_id = d.id
		ORDER BY d.created_at, d.id
		LIMIT 1
	`).Scan(&dp.ClinicID, &dp.DoctorID, &dp.ServiceID)
	if err != nil {
		return nil, fmt.Errorf("pick doctor: %w", err)
	}

	rows, err := pool.Query(ctx, `
		SELECT id FROM patients WHERE clinic_id = $1 LIMIT $2
	`, dp.ClinicID, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		dp.Patients = append(dp.Patients, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(dp.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded")
	}

	store := appointment.NewPgStore(pool)
	doctor, err := store.GetDoctor(ctx, dp.ClinicID, dp.DoctorID)
	if err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	service, err := store.GetService(ctx, dp.ClinicID, dp.ServiceID)
	if err != nil {
		return nil, fmt.Errorf("load service: %w", err)
	}

	lunch, err := availability.ParseWindow(base.LunchStart, base.LunchEnd)
	if err != nil {
		return nil, fmt.Errorf("lunch window: %w", err)
	}

	loc := base.Location()
	now := time.Now()
	profile := availability.ProfileOf(doctor, lunch)
	for day := 1; day <= cfg.DaysAhead; day++ {
		for _, s := range availability.GenerateSlots(availability.SlotRequest{
			Profile:         profile,
			DurationMinutes: service.DurationMinutes,
			Date:            now.AddDate(0, 0, day),
			Now:             now,
			Location:        loc,
		}) {
			if s.Available {
				dp.Starts = append(dp.Starts, s.Start)
			}
		}
	}
	if len(dp.Starts) == 0 {
		return nil, fmt.Errorf("doctor %s has no slots in the next %d days", doctor.Name, cfg.DaysAhead)
	}
	return dp, nil
}

// countOverlaps counts pairs of SCHEDULED appointments of the doctor whose
// intervals intersect. Anything above zero is a double booking.
func countOverlaps(ctx context.Context, pool *pgxpool.Pool, doctorID uuid.UUID) (int, error) {
	var n int
	err := pool.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments a
		JOIN appointments b
		  ON a.doctor_id = b.doctor_id
		 AND a.id < b.id
		 AND a.appointment_date < b.ends_at
		 AND b.appointment_date < a.ends_at
		WHERE a.doctor_id = $1
		  AND a.status = 'SCHEDULED'
		  AND b.status = 'SCHEDULED'
	`, doctorID).Scan(&n)
	return n, err
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	log.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	log.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			if r < s.config.BookingRatio {
				s.doBooking(ctx, rng)
			} else if r < s.config.BookingRatio+s.config.CancelRatio {
				s.doCancel(ctx, rng)
			} else {
				switch rng.Intn(4) {
				case 0:
					s.doReadByID(ctx, rng)
				case 1:
					s.doListByPatient(ctx, rng)
				case 2:
					s.doMonthView(ctx)
				case 3:
					s.doDayView(ctx, rng)
				}
			}
		}
	}
}

func (s *Simulator) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Clinic-ID", s.pool.ClinicID.String())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// call runs one request and records it. conflict statuses count separately
// from errors so rejected double bookings do not look like failures.
func (s *Simulator) call(om *OperationMetrics, req *http.Request, want int, onSuccess func(*http.Response)) {
	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success, conflict := false, false
	if err == nil {
		defer resp.Body.Close()
		switch resp.StatusCode {
		case want:
			success = true
			if onSuccess != nil {
				onSuccess(resp)
			}
		case http.StatusConflict:
			conflict = true
		}
	}

	om.Record(latency, success, conflict)
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	body := map[string]string{
		"patient_id":       s.pool.Patients[rng.Intn(len(s.pool.Patients))].String(),
		"doctor_id":        s.pool.DoctorID.String(),
		"service_id":       s.pool.ServiceID.String(),
		"appointment_date": s.pool.Starts[rng.Intn(len(s.pool.Starts))].Format(time.RFC3339),
		"notes":            "load test",
	}
	req, err := s.newRequest(ctx, http.MethodPost, "/appointments", body)
	if err != nil {
		return
	}

	s.call(&s.metrics.Booking, req, http.StatusCreated, func(resp *http.Response) {
		var created struct {
			ID uuid.UUID `json:"id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&created); err == nil && created.ID != uuid.Nil {
			s.pool.AddAppointment(created.ID)
		}
	})
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}
	req, err := s.newRequest(ctx, http.MethodPost, "/appointments/"+apptID.String()+"/cancel",
		map[string]string{"reason": "simulated cancellation"})
	if err != nil {
		return
	}
	s.call(&s.metrics.Cancel, req, http.StatusOK, nil)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}
	req, err := s.newRequest(ctx, http.MethodGet, "/appointments/"+apptID.String(), nil)
	if err != nil {
		return
	}
	s.call(&s.metrics.ReadByID, req, http.StatusOK, nil)
}

func (s *Simulator) doListByPatient(ctx context.Context, rng *rand.Rand) {
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	req, err := s.newRequest(ctx, http.MethodGet,
		fmt.Sprintf("/appointments?patient_id=%s&limit=20&offset=0", patientID), nil)
	if err != nil {
		return
	}
	s.call(&s.metrics.ListByPatient, req, http.StatusOK, nil)
}

func (s *Simulator) availabilityPath(kind string) string {
	return fmt.Sprintf("/doctors/%s/services/%s/availability/%s", s.pool.DoctorID, s.pool.ServiceID, kind)
}

func (s *Simulator) doMonthView(ctx context.Context) {
	month := s.pool.Starts[0].Format("2006-01")
	req, err := s.newRequest(ctx, http.MethodGet, s.availabilityPath("month")+"?month="+month, nil)
	if err != nil {
		return
	}
	s.call(&s.metrics.MonthView, req, http.StatusOK, nil)
}

func (s *Simulator) doDayView(ctx context.Context, rng *rand.Rand) {
	date := s.pool.Starts[rng.Intn(len(s.pool.Starts))].Format("2006-01-02")
	req, err := s.newRequest(ctx, http.MethodGet, s.availabilityPath("day")+"?date="+date, nil)
	if err != nil {
		return
	}
	s.call(&s.metrics.DayView, req, http.StatusOK, nil)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Contended slot starts: %d\n", len(s.pool.Starts))
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("List by Patient", &s.metrics.ListByPatient)
	printOperationReport("Month availability", &s.metrics.MonthView)
	printOperationReport("Day availability", &s.metrics.DayView)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
