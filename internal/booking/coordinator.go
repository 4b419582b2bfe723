// Package booking turns a chosen slot into a persisted appointment and its
// invoice. It is the only write path of the scheduling engine.
package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-engine/internal/appointment"
	"github.com/hackgods/clinic-appointment-engine/internal/availability"
	redisclient "github.com/hackgods/clinic-appointment-engine/internal/redis"
)

// maxAttempts bounds transparent retries of transient storage failures.
const maxAttempts = 2

type Request struct {
	ClinicID        uuid.UUID
	PatientID       uuid.UUID
	DoctorID        uuid.UUID
	ServiceID       uuid.UUID
	AppointmentDate time.Time
	Notes           string
}

// Validate checks the request shape before any storage access.
func (r Request) Validate() error {
	switch {
	case r.ClinicID == uuid.Nil:
		return &ValidationError{Field: "clinic_id", Reason: "is required"}
	case r.PatientID == uuid.Nil:
		return &ValidationError{Field: "patient_id", Reason: "is required"}
	case r.DoctorID == uuid.Nil:
		return &ValidationError{Field: "doctor_id", Reason: "is required"}
	case r.ServiceID == uuid.Nil:
		return &ValidationError{Field: "service_id", Reason: "is required"}
	case r.AppointmentDate.IsZero():
		return &ValidationError{Field: "appointment_date", Reason: "is required"}
	case r.AppointmentDate.Second() != 0 || r.AppointmentDate.Nanosecond() != 0:
		return &ValidationError{Field: "appointment_date", Reason: "must be on a whole minute"}
	}
	return nil
}

type Settings struct {
	Location   *time.Location
	Lunch      *availability.Window // clinic wide, doctors may override
	TaxRateBPS int64
}

type Coordinator struct {
	store    appointment.Store
	locker   redisclient.Locker
	notifier appointment.ChangeNotifier
	settings Settings

	now              func() time.Time
	newInvoiceNumber func(time.Time) string
}

// NewCoordinator wires the booking path. locker and notifier may be nil.
func NewCoordinator(store appointment.Store, locker redisclient.Locker, notifier appointment.ChangeNotifier, settings Settings) *Coordinator {
	if locker == nil {
		locker = redisclient.NoopLocker{}
	}
	if settings.Location == nil {
		settings.Location = time.UTC
	}
	return &Coordinator{
		store:            store,
		locker:           locker,
		notifier:         notifier,
		settings:         settings,
		now:              time.Now,
		newInvoiceNumber: NewInvoiceNumber,
	}
}

// BookAppointment creates a SCHEDULED appointment and its PENDING invoice in
// one transaction. Conflicts come back as *DuplicateBookingError or
// *SlotUnavailableError; transient storage failures are retried once.
func (c *Coordinator) BookAppointment(ctx context.Context, req Request) (*appointment.AppointmentDetail, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	logger := zerolog.Ctx(ctx).With().
		Str("doctor_id", req.DoctorID.String()).
		Str("patient_id", req.PatientID.String()).
		Time("appointment_date", req.AppointmentDate).
		Logger()

	var detail *appointment.AppointmentDetail
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = c.locker.WithDoctorLock(ctx, req.DoctorID, func(ctx context.Context) error {
			var bookErr error
			detail, bookErr = c.book(ctx, req)
			return bookErr
		})
		if err == nil || !errors.Is(err, appointment.ErrTransient) || attempt == maxAttempts {
			break
		}
		logger.Warn().Err(err).Int("attempt", attempt).Msg("transient booking failure, retrying")
	}

	if err != nil {
		switch {
		case errors.Is(err, redisclient.ErrLockNotAcquired):
			err = fmt.Errorf("%w: %w", ErrBookingInProgress, err)
		case errors.Is(err, ErrDuplicateBooking), errors.Is(err, ErrSlotUnavailable), errors.Is(err, ErrInvalidRequest):
			logger.Info().Err(err).Msg("booking rejected")
		default:
			logger.Error().Err(err).Msg("booking failed")
		}
		return nil, err
	}

	logger.Info().
		Str("appointment_id", detail.ID.String()).
		Str("invoice_number", detail.Invoice.InvoiceNumber).
		Msg("appointment booked")

	if c.notifier != nil {
		c.notifier.DoctorScheduleChanged(ctx, req.DoctorID)
	}
	return detail, nil
}

func (c *Coordinator) book(ctx context.Context, req Request) (*appointment.AppointmentDetail, error) {
	var detail *appointment.AppointmentDetail
	loc := c.settings.Location
	start := req.AppointmentDate.In(loc)

	err := c.store.InTx(ctx, func(ctx context.Context, tx appointment.Tx) error {
		if err := tx.LockDoctor(ctx, req.DoctorID); err != nil {
			return err
		}

		// 1. referential checks and the doctor's working pattern
		svc, err := tx.GetService(ctx, req.ClinicID, req.ServiceID)
		if err != nil {
			return invalid(err, appointment.ErrServiceNotFound)
		}
		doctor, err := tx.GetDoctor(ctx, req.ClinicID, req.DoctorID)
		if err != nil {
			return invalid(err, appointment.ErrDoctorNotFound)
		}
		patient, err := tx.GetPatient(ctx, req.ClinicID, req.PatientID)
		if err != nil {
			return invalid(err, appointment.ErrPatientNotFound)
		}
		offered, err := tx.DoctorOffersService(ctx, doctor.ID, svc.ID)
		if err != nil {
			return fmt.Errorf("check doctor services: %w", err)
		}
		if !offered {
			return fmt.Errorf("%w: %w", ErrInvalidRequest, appointment.ErrServiceNotOffered)
		}
		if err := c.checkSchedule(doctor, svc, start); err != nil {
			return err
		}

		// 2. one SCHEDULED visit per patient and doctor per local day
		dayStart, dayEnd := availability.DayBounds(start, loc)
		existing, err := tx.FindScheduledForPatient(ctx, patient.ID, doctor.ID, dayStart, dayEnd)
		switch {
		case err == nil:
			return &DuplicateBookingError{
				DoctorName:            doctor.Name,
				Date:                  dayStart.Format("2006-01-02"),
				ExistingAppointmentID: existing.ID,
			}
		case !errors.Is(err, appointment.ErrAppointmentNotFound):
			return fmt.Errorf("check duplicate booking: %w", err)
		}

		// 3. no overlap with any SCHEDULED appointment of the doctor
		end := start.Add(svc.Duration())
		scheduled, err := tx.ListScheduled(ctx, doctor.ID, start, end)
		if err != nil {
			return fmt.Errorf("check overlapping appointments: %w", err)
		}
		if conflict := availability.FirstConflict(scheduled, start, end); conflict != nil {
			return &SlotUnavailableError{DoctorName: doctor.Name, Start: start, ConflictingStart: conflict.AppointmentDate}
		}

		now := c.now()
		appt := &appointment.Appointment{
			ID:              uuid.New(),
			ClinicID:        req.ClinicID,
			DoctorID:        doctor.ID,
			PatientID:       patient.ID,
			ServiceID:       svc.ID,
			AppointmentDate: start,
			DurationMinutes: svc.DurationMinutes,
			Status:          appointment.StatusScheduled,
			Notes:           req.Notes,
		}
		if err := tx.CreateAppointment(ctx, appt); err != nil {
			if errors.Is(err, appointment.ErrOverlapConstraint) {
				return &SlotUnavailableError{DoctorName: doctor.Name, Start: start}
			}
			return fmt.Errorf("create appointment: %w", err)
		}

		amount, tax, total := ComputeInvoiceAmounts(svc.PriceCents, c.settings.TaxRateBPS)
		inv := &appointment.Invoice{
			ID:            uuid.New(),
			ClinicID:      req.ClinicID,
			AppointmentID: appt.ID,
			InvoiceNumber: c.newInvoiceNumber(now.In(loc)),
			AmountCents:   amount,
			TaxCents:      tax,
			TotalCents:    total,
			Status:        appointment.InvoicePending,
			DueDate:       start,
			Description:   invoiceDescription(svc.Name, doctor.Name, start),
		}
		if err := tx.CreateInvoice(ctx, inv); err != nil {
			return fmt.Errorf("create invoice: %w", err)
		}

		if err := appointment.RecordEvent(ctx, tx, appt.ID, appointment.EventAppointmentBooked, map[string]any{
			"doctor_id":      doctor.ID,
			"patient_id":     patient.ID,
			"service_id":     svc.ID,
			"start":          start,
			"invoice_number": inv.InvoiceNumber,
		}, now); err != nil {
			return err
		}

		detail = &appointment.AppointmentDetail{
			Appointment: *appt,
			Doctor:      doctor,
			Patient:     patient,
			Service:     svc,
			Invoice:     inv,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return detail, nil
}

// checkSchedule rejects starts the slot generator would never offer for
// reasons other than existing bookings. Grid alignment is not required.
func (c *Coordinator) checkSchedule(doctor *appointment.Doctor, svc *appointment.Service, start time.Time) error {
	loc := c.settings.Location
	if !start.After(c.now()) {
		return ErrAppointmentInPast
	}

	profile := availability.ProfileOf(doctor, c.settings.Lunch)
	if !profile.WorksOn(start, loc) {
		return ErrDoctorNotWorking
	}

	from := appointment.TimeOfDayOf(start, loc)
	to := from + appointment.TimeOfDay(svc.DurationMinutes)
	if from < profile.From || to > profile.To {
		return ErrOutsideWorkingHours
	}
	if profile.Lunch.Overlaps(from, to) {
		return ErrLunchBreak
	}
	return nil
}

// invalid marks a missing referenced row as a client error.
func invalid(err, notFound error) error {
	if errors.Is(err, notFound) {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return err
}
