package booking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-appointment-engine/internal/appointment"
	"github.com/hackgods/clinic-appointment-engine/internal/appointment/memstore"
	"github.com/hackgods/clinic-appointment-engine/internal/availability"
	redisclient "github.com/hackgods/clinic-appointment-engine/internal/redis"
)

// 2026-10-20 is a Tuesday.
var tuesday = time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC)

func at(hour, minute int) time.Time {
	return tuesday.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

type countingNotifier struct {
	mu    sync.Mutex
	calls int
}

func (n *countingNotifier) DoctorScheduleChanged(context.Context, uuid.UUID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
}

type fixture struct {
	store    *memstore.Store
	clinicID uuid.UUID
	doctor   appointment.Doctor
	patients []appointment.Patient
	consult  appointment.Service // 30 min
	quick    appointment.Service // 15 min
	notifier *countingNotifier
	coord    *Coordinator
}

func newFixture(t *testing.T, locker redisclient.Locker) *fixture {
	t.Helper()

	f := &fixture{store: memstore.New(), clinicID: uuid.New(), notifier: &countingNotifier{}}
	f.doctor = appointment.Doctor{
		ID:            uuid.New(),
		ClinicID:      f.clinicID,
		Name:          gofakeit.LastName(),
		AvailableFrom: appointment.NewTimeOfDay(9, 0),
		AvailableTo:   appointment.NewTimeOfDay(17, 0),
		AvailableDays: []time.Weekday{time.Monday, time.Tuesday, time.Wednesday},
	}
	f.consult = appointment.Service{ID: uuid.New(), ClinicID: f.clinicID, Name: "Consultation", DurationMinutes: 30, PriceCents: 10000}
	f.quick = appointment.Service{ID: uuid.New(), ClinicID: f.clinicID, Name: "Follow-up", DurationMinutes: 15, PriceCents: 3333}

	f.store.AddDoctor(f.doctor)
	f.store.AddService(f.consult)
	f.store.AddService(f.quick)
	f.store.Offer(f.doctor.ID, f.consult.ID)
	f.store.Offer(f.doctor.ID, f.quick.ID)

	for i := 0; i < 3; i++ {
		email := gofakeit.Email()
		p := appointment.Patient{ID: uuid.New(), ClinicID: f.clinicID, Name: gofakeit.Name(), Email: &email}
		f.store.AddPatient(p)
		f.patients = append(f.patients, p)
	}

	lunch, err := availability.ParseWindow("12:00", "13:00")
	require.NoError(t, err)

	f.coord = NewCoordinator(f.store, locker, f.notifier, Settings{Location: time.UTC, Lunch: lunch, TaxRateBPS: 1500})
	f.coord.now = func() time.Time { return time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC) }
	return f
}

func (f *fixture) request(patient int, svc appointment.Service, start time.Time) Request {
	return Request{
		ClinicID:        f.clinicID,
		PatientID:       f.patients[patient].ID,
		DoctorID:        f.doctor.ID,
		ServiceID:       svc.ID,
		AppointmentDate: start,
	}
}

func TestBookAppointment_Success(t *testing.T) {
	f := newFixture(t, nil)
	req := f.request(0, f.consult, at(10, 0))
	req.Notes = "first visit"

	detail, err := f.coord.BookAppointment(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, appointment.StatusScheduled, detail.Status)
	assert.Equal(t, 30, detail.DurationMinutes)
	assert.Equal(t, at(10, 0), detail.AppointmentDate)
	assert.Equal(t, "first visit", detail.Notes)
	assert.Equal(t, f.doctor.Name, detail.Doctor.Name)
	assert.Equal(t, f.patients[0].ID, detail.Patient.ID)

	inv := detail.Invoice
	require.NotNil(t, inv)
	assert.Equal(t, detail.ID, inv.AppointmentID)
	assert.Equal(t, int64(10000), inv.AmountCents)
	assert.Equal(t, int64(1500), inv.TaxCents)
	assert.Equal(t, int64(11500), inv.TotalCents)
	assert.Equal(t, appointment.InvoicePending, inv.Status)
	assert.Equal(t, at(10, 0), inv.DueDate)
	assert.Contains(t, inv.Description, "Consultation with Dr. "+f.doctor.Name)
	assert.Regexp(t, `^INV-20261019-[0-9A-F]{8}$`, inv.InvoiceNumber)

	assert.Len(t, f.store.Appointments(), 1)
	assert.Len(t, f.store.Invoices(), 1)
	events := f.store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, appointment.EventAppointmentBooked, events[0].EventType)
	assert.Equal(t, 1, f.notifier.calls)
}

func TestBookAppointment_Overlap(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.coord.BookAppointment(ctx, f.request(0, f.consult, at(10, 0)))
	require.NoError(t, err)

	_, err = f.coord.BookAppointment(ctx, f.request(1, f.quick, at(10, 15)))
	require.ErrorIs(t, err, ErrSlotUnavailable)
	var slotErr *SlotUnavailableError
	require.True(t, errors.As(err, &slotErr))
	assert.Equal(t, f.doctor.Name, slotErr.DoctorName)
	assert.Equal(t, at(10, 0), slotErr.ConflictingStart)

	_, err = f.coord.BookAppointment(ctx, f.request(1, f.consult, at(9, 45)))
	assert.ErrorIs(t, err, ErrSlotUnavailable, "ends inside the existing appointment")

	_, err = f.coord.BookAppointment(ctx, f.request(1, f.consult, at(10, 30)))
	require.NoError(t, err, "back to back is fine")

	assert.Len(t, f.store.Appointments(), 2)
	assert.Len(t, f.store.Invoices(), 2)
}

func TestBookAppointment_CancelledDoesNotBlock(t *testing.T) {
	f := newFixture(t, nil)
	f.store.AddAppointment(appointment.Appointment{
		ClinicID:        f.clinicID,
		DoctorID:        f.doctor.ID,
		PatientID:       f.patients[0].ID,
		ServiceID:       f.consult.ID,
		AppointmentDate: at(10, 0),
		DurationMinutes: 30,
		Status:          appointment.StatusCancelled,
	})

	_, err := f.coord.BookAppointment(context.Background(), f.request(0, f.consult, at(10, 0)))
	assert.NoError(t, err)
}

func TestBookAppointment_DuplicateSameDay(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first, err := f.coord.BookAppointment(ctx, f.request(0, f.consult, at(9, 0)))
	require.NoError(t, err)

	_, err = f.coord.BookAppointment(ctx, f.request(0, f.consult, at(14, 0)))
	require.ErrorIs(t, err, ErrDuplicateBooking)
	var dupErr *DuplicateBookingError
	require.True(t, errors.As(err, &dupErr))
	assert.Equal(t, f.doctor.Name, dupErr.DoctorName)
	assert.Equal(t, "2026-10-20", dupErr.Date)
	assert.Equal(t, first.ID, dupErr.ExistingAppointmentID)
	assert.Contains(t, err.Error(), f.doctor.Name)

	// next day is fine
	_, err = f.coord.BookAppointment(ctx, f.request(0, f.consult, at(14, 0).AddDate(0, 0, 1)))
	assert.NoError(t, err)

	assert.Len(t, f.store.Appointments(), 2)
}

func TestBookAppointment_DuplicateUsesClinicDay(t *testing.T) {
	f := newFixture(t, nil)
	auckland, err := time.LoadLocation("Pacific/Auckland")
	require.NoError(t, err)
	f.coord.settings.Location = auckland
	ctx := context.Background()

	// 09:00 and 14:00 in Auckland fall on different UTC dates.
	morning := time.Date(2026, 10, 20, 9, 0, 0, 0, auckland)
	afternoon := time.Date(2026, 10, 20, 14, 0, 0, 0, auckland)
	require.NotEqual(t, morning.UTC().Day(), afternoon.UTC().Day())

	_, err = f.coord.BookAppointment(ctx, f.request(0, f.consult, morning.UTC()))
	require.NoError(t, err)
	_, err = f.coord.BookAppointment(ctx, f.request(0, f.consult, afternoon.UTC()))
	assert.ErrorIs(t, err, ErrDuplicateBooking)
}

func TestBookAppointment_Atomicity(t *testing.T) {
	f := newFixture(t, nil)
	f.store.SetHooks(memstore.Hooks{
		BeforeCreateInvoice: func(*appointment.Invoice) error { return errors.New("invoice sequence exhausted") },
	})

	_, err := f.coord.BookAppointment(context.Background(), f.request(0, f.consult, at(10, 0)))
	require.Error(t, err)

	assert.Empty(t, f.store.Appointments(), "appointment rolled back with its invoice")
	assert.Empty(t, f.store.Invoices())
	assert.Empty(t, f.store.Events())
	assert.Zero(t, f.notifier.calls)
}

func TestBookAppointment_RetriesTransientOnce(t *testing.T) {
	f := newFixture(t, nil)
	commits := 0
	f.store.SetHooks(memstore.Hooks{BeforeCommit: func() error {
		commits++
		if commits == 1 {
			return fmt.Errorf("%w: serialization failure", appointment.ErrTransient)
		}
		return nil
	}})

	detail, err := f.coord.BookAppointment(context.Background(), f.request(0, f.consult, at(10, 0)))
	require.NoError(t, err)
	assert.Equal(t, 2, commits)

	appts := f.store.Appointments()
	require.Len(t, appts, 1)
	assert.Equal(t, detail.ID, appts[0].ID)
	assert.Len(t, f.store.Invoices(), 1)
}

func TestBookAppointment_TransientTwiceFails(t *testing.T) {
	f := newFixture(t, nil)
	commits := 0
	f.store.SetHooks(memstore.Hooks{BeforeCommit: func() error {
		commits++
		return fmt.Errorf("%w: connection reset", appointment.ErrTransient)
	}})

	_, err := f.coord.BookAppointment(context.Background(), f.request(0, f.consult, at(10, 0)))
	assert.ErrorIs(t, err, appointment.ErrTransient)
	assert.Equal(t, maxAttempts, commits)
	assert.Empty(t, f.store.Appointments())
}

func TestBookAppointment_ConflictsAreNotRetried(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.coord.BookAppointment(context.Background(), f.request(0, f.consult, at(10, 0)))
	require.NoError(t, err)

	created := 0
	f.store.SetHooks(memstore.Hooks{BeforeCreateAppointment: func(*appointment.Appointment) error {
		created++
		return nil
	}})
	_, err = f.coord.BookAppointment(context.Background(), f.request(1, f.consult, at(10, 0)))
	assert.ErrorIs(t, err, ErrSlotUnavailable)
	assert.Zero(t, created)
}

func TestBookAppointment_StorageOverlapConstraint(t *testing.T) {
	f := newFixture(t, nil)
	f.store.SetHooks(memstore.Hooks{BeforeCreateAppointment: func(*appointment.Appointment) error {
		return appointment.ErrOverlapConstraint
	}})

	_, err := f.coord.BookAppointment(context.Background(), f.request(0, f.consult, at(10, 0)))
	var slotErr *SlotUnavailableError
	require.True(t, errors.As(err, &slotErr))
	assert.True(t, slotErr.ConflictingStart.IsZero())
}

func TestBookAppointment_Validation(t *testing.T) {
	f := newFixture(t, nil)
	notOffered := appointment.Service{ID: uuid.New(), ClinicID: f.clinicID, Name: "Surgery", DurationMinutes: 120}
	f.store.AddService(notOffered)

	cases := []struct {
		name   string
		mutate func(*Request)
		want   error
	}{
		{"missing patient", func(r *Request) { r.PatientID = uuid.Nil }, ErrInvalidRequest},
		{"missing date", func(r *Request) { r.AppointmentDate = time.Time{} }, ErrInvalidRequest},
		{"seconds", func(r *Request) { r.AppointmentDate = at(10, 0).Add(30 * time.Second) }, ErrInvalidRequest},
		{"unknown service", func(r *Request) { r.ServiceID = uuid.New() }, appointment.ErrServiceNotFound},
		{"unknown doctor", func(r *Request) { r.DoctorID = uuid.New() }, appointment.ErrDoctorNotFound},
		{"unknown patient", func(r *Request) { r.PatientID = uuid.New() }, appointment.ErrPatientNotFound},
		{"other clinic", func(r *Request) { r.ClinicID = uuid.New() }, ErrInvalidRequest},
		{"not offered", func(r *Request) { r.ServiceID = notOffered.ID }, appointment.ErrServiceNotOffered},
		{"in the past", func(r *Request) { r.AppointmentDate = time.Date(2026, 10, 12, 10, 0, 0, 0, time.UTC) }, ErrAppointmentInPast},
		{"day off", func(r *Request) { r.AppointmentDate = at(10, 0).AddDate(0, 0, 3) }, ErrDoctorNotWorking},
		{"before opening", func(r *Request) { r.AppointmentDate = at(8, 45) }, ErrOutsideWorkingHours},
		{"runs past closing", func(r *Request) { r.AppointmentDate = at(16, 45) }, ErrOutsideWorkingHours},
		{"lunch", func(r *Request) { r.AppointmentDate = at(11, 45) }, ErrLunchBreak},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := f.request(0, f.consult, at(10, 0))
			tc.mutate(&req)

			_, err := f.coord.BookAppointment(context.Background(), req)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
	assert.Empty(t, f.store.Appointments())
}

func TestBookAppointment_Concurrent(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := redisclient.NewRedisClient(context.Background(), mr.Addr(), "", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	lockers := map[string]redisclient.Locker{
		"database only": nil,
		"redis lock":    redisclient.NewRedisDoctorLocker(client, 5*time.Second, 5*time.Second),
	}

	for name, locker := range lockers {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, locker)

			var wg sync.WaitGroup
			errs := make([]error, 2)
			start := make(chan struct{})
			for i := range errs {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					<-start
					_, errs[i] = f.coord.BookAppointment(context.Background(), f.request(i, f.consult, at(10, 0)))
				}(i)
			}
			close(start)
			wg.Wait()

			succeeded, conflicted := 0, 0
			for _, err := range errs {
				switch {
				case err == nil:
					succeeded++
				case errors.Is(err, ErrSlotUnavailable):
					conflicted++
				default:
					t.Fatalf("unexpected error: %v", err)
				}
			}
			assert.Equal(t, 1, succeeded)
			assert.Equal(t, 1, conflicted)
			assert.Len(t, f.store.Appointments(), 1)
			assert.Len(t, f.store.Invoices(), 1)
		})
	}
}

func TestBookAppointment_LockTimeout(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := redisclient.NewRedisClient(context.Background(), mr.Addr(), "", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	f := newFixture(t, redisclient.NewRedisDoctorLocker(client, 5*time.Second, 30*time.Millisecond))
	require.NoError(t, mr.Set("lock:doctor:"+f.doctor.ID.String(), "held"))

	_, err = f.coord.BookAppointment(context.Background(), f.request(0, f.consult, at(10, 0)))
	assert.ErrorIs(t, err, ErrBookingInProgress)
	assert.Empty(t, f.store.Appointments())
}

func TestComputeInvoiceAmounts(t *testing.T) {
	cases := []struct {
		price, bps, tax int64
	}{
		{10000, 1500, 1500},
		{3333, 1500, 500}, // 499.95 rounds up
		{3330, 1500, 500}, // 499.5 rounds up
		{3329, 1500, 499},
		{0, 1500, 0},
		{12345, 0, 0},
	}
	for _, tc := range cases {
		amount, tax, total := ComputeInvoiceAmounts(tc.price, tc.bps)
		assert.Equal(t, tc.price, amount)
		assert.Equal(t, tc.tax, tax, "price %d", tc.price)
		assert.Equal(t, amount+tax, total)
	}
}

func TestNewInvoiceNumber_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		n := NewInvoiceNumber(tuesday)
		assert.False(t, seen[n], n)
		seen[n] = true
	}
}
