package appointment_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-appointment-engine/internal/appointment"
	"github.com/hackgods/clinic-appointment-engine/internal/appointment/pgtest"
)

func TestPgStore_OverlapRejectedByConstraint(t *testing.T) {
	pool := pgtest.Open(t)
	f := pgtest.Seed(t, pool, 2)
	store := appointment.NewPgStore(pool)
	ctx := context.Background()

	insert := func(patient int, start time.Time) error {
		return store.InTx(ctx, func(ctx context.Context, tx appointment.Tx) error {
			return tx.CreateAppointment(ctx, f.Appointment(patient, start))
		})
	}

	require.NoError(t, insert(0, pgtest.At(3, 10, 0)))

	err := insert(1, pgtest.At(3, 10, 15))
	assert.ErrorIs(t, err, appointment.ErrOverlapConstraint)
	assert.NotErrorIs(t, err, appointment.ErrTransient)

	// touching intervals do not overlap
	assert.NoError(t, insert(1, pgtest.At(3, 10, 30)))
}

func TestPgStore_CancelledAppointmentFreesInterval(t *testing.T) {
	pool := pgtest.Open(t)
	f := pgtest.Seed(t, pool, 2)
	store := appointment.NewPgStore(pool)
	ctx := context.Background()

	first := f.Appointment(0, pgtest.At(3, 11, 0))
	require.NoError(t, store.InTx(ctx, func(ctx context.Context, tx appointment.Tx) error {
		return tx.CreateAppointment(ctx, first)
	}))
	require.NoError(t, store.InTx(ctx, func(ctx context.Context, tx appointment.Tx) error {
		_, err := tx.UpdateAppointmentStatus(ctx, first.ID, appointment.StatusScheduled, appointment.StatusCancelled)
		return err
	}))

	assert.NoError(t, store.InTx(ctx, func(ctx context.Context, tx appointment.Tx) error {
		return tx.CreateAppointment(ctx, f.Appointment(1, pgtest.At(3, 11, 0)))
	}))
}

// A transaction waiting on the doctor lock must see the booking committed by
// the holder once it gets the lock.
func TestPgStore_LockDoctorSeesEarlierCommit(t *testing.T) {
	pool := pgtest.Open(t)
	f := pgtest.Seed(t, pool, 1)
	store := appointment.NewPgStore(pool)
	ctx := context.Background()

	start := pgtest.At(4, 9, 0)
	dayStart := pgtest.At(4, 0, 0)
	dayEnd := dayStart.Add(24 * time.Hour)

	locked := make(chan struct{})
	release := make(chan struct{})

	var wg sync.WaitGroup
	var holderErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		holderErr = store.InTx(ctx, func(ctx context.Context, tx appointment.Tx) error {
			if err := tx.LockDoctor(ctx, f.Doctor.ID); err != nil {
				return err
			}
			if err := tx.CreateAppointment(ctx, f.Appointment(0, start)); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()

	select {
	case <-locked:
	case <-time.After(10 * time.Second):
		t.Fatal("holder never took the lock")
	}

	var found *appointment.Appointment
	var waiterErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		waiterErr = store.InTx(ctx, func(ctx context.Context, tx appointment.Tx) error {
			if err := tx.LockDoctor(ctx, f.Doctor.ID); err != nil {
				return err
			}
			var err error
			found, err = tx.FindScheduledForPatient(ctx, f.Patients[0].ID, f.Doctor.ID, dayStart, dayEnd)
			return err
		})
	}()

	// let the waiter block on the lock before the holder commits
	time.Sleep(300 * time.Millisecond)
	close(release)
	wg.Wait()

	require.NoError(t, holderErr)
	require.NoError(t, waiterErr)
	require.NotNil(t, found)
	assert.True(t, found.AppointmentDate.Equal(start))
}
