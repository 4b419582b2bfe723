package booking

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrDuplicateBooking  = errors.New("duplicate booking")
	ErrSlotUnavailable   = errors.New("slot unavailable")
	ErrBookingInProgress = errors.New("another booking for this doctor is in progress")
	ErrInvalidRequest    = errors.New("invalid booking request")

	ErrAppointmentInPast   = fmt.Errorf("%w: appointment time is in the past", ErrInvalidRequest)
	ErrDoctorNotWorking    = fmt.Errorf("%w: doctor does not work on that day", ErrInvalidRequest)
	ErrOutsideWorkingHours = fmt.Errorf("%w: outside the doctor's working hours", ErrInvalidRequest)
	ErrLunchBreak          = fmt.Errorf("%w: overlaps the lunch break", ErrInvalidRequest)
)

// ValidationError reports a malformed request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidRequest }

// DuplicateBookingError means the patient already holds a SCHEDULED
// appointment with the doctor on that local day.
type DuplicateBookingError struct {
	DoctorName            string
	Date                  string // YYYY-MM-DD, clinic local
	ExistingAppointmentID uuid.UUID
}

func (e *DuplicateBookingError) Error() string {
	return fmt.Sprintf("patient already has an appointment with Dr. %s on %s", e.DoctorName, e.Date)
}

func (e *DuplicateBookingError) Unwrap() error { return ErrDuplicateBooking }

// SlotUnavailableError means the requested interval overlaps another
// SCHEDULED appointment of the doctor.
type SlotUnavailableError struct {
	DoctorName       string
	Start            time.Time
	ConflictingStart time.Time // zero when only the storage constraint caught it
}

func (e *SlotUnavailableError) Error() string {
	msg := fmt.Sprintf("Dr. %s is not available at %s", e.DoctorName, e.Start.Format("2006-01-02 15:04"))
	if !e.ConflictingStart.IsZero() {
		msg += fmt.Sprintf(" (booked from %s)", e.ConflictingStart.In(e.Start.Location()).Format("15:04"))
	}
	return msg
}

func (e *SlotUnavailableError) Unwrap() error { return ErrSlotUnavailable }
