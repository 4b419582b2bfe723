package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound     = errors.New("patient not found")
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrServiceNotFound     = errors.New("service not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrInvoiceNotFound     = errors.New("invoice not found")
	ErrServiceNotOffered   = errors.New("doctor does not offer this service")

	// ErrTransient marks storage failures where rerunning the whole
	// transaction may succeed (deadlocks, serialization failures, dropped connections).
	ErrTransient = errors.New("transient storage failure")

	// ErrOverlapConstraint is raised when the storage layer itself rejects
	// a SCHEDULED appointment overlapping another one of the same doctor.
	ErrOverlapConstraint = errors.New("overlapping scheduled appointment rejected by storage")
)

// Reader contains the read side used by availability queries and the booking path.
type Reader interface {
	GetDoctor(ctx context.Context, clinicID, id uuid.UUID) (*Doctor, error)
	GetPatient(ctx context.Context, clinicID, id uuid.UUID) (*Patient, error)
	GetService(ctx context.Context, clinicID, id uuid.UUID) (*Service, error)
	DoctorOffersService(ctx context.Context, doctorID, serviceID uuid.UUID) (bool, error)

	// ListScheduled returns SCHEDULED appointments of a doctor whose interval
	// intersects [from, to), ordered by start.
	ListScheduled(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error)

	GetAppointment(ctx context.Context, clinicID, id uuid.UUID) (*Appointment, error)
	GetInvoiceByAppointment(ctx context.Context, clinicID, appointmentID uuid.UUID) (*Invoice, error)
	ListAppointmentsByPatient(ctx context.Context, clinicID, patientID uuid.UUID, limit, offset int) ([]Appointment, error)
	ListAppointmentsByDoctor(ctx context.Context, clinicID, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error)

	// ListInvoicesToVoid returns PENDING invoices whose appointment is in one of statuses.
	ListInvoicesToVoid(ctx context.Context, statuses []AppointmentStatus, limit int) ([]Invoice, error)
}

// Tx is the transactional view handed to Store.InTx callbacks.
type Tx interface {
	Reader

	// LockDoctor serializes booking transactions of one doctor until commit.
	// Reads after it observe every booking committed before it returned.
	LockDoctor(ctx context.Context, doctorID uuid.UUID) error

	// FindScheduledForPatient returns a SCHEDULED appointment of the patient with the
	// doctor starting in [from, to), or ErrAppointmentNotFound.
	FindScheduledForPatient(ctx context.Context, patientID, doctorID uuid.UUID, from, to time.Time) (*Appointment, error)

	CreateAppointment(ctx context.Context, a *Appointment) error
	CreateInvoice(ctx context.Context, inv *Invoice) error
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error)
	// VoidPendingInvoice cancels the invoice of an appointment if it is still PENDING.
	VoidPendingInvoice(ctx context.Context, appointmentID uuid.UUID) (bool, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}

// Store is the persistence boundary of the scheduling engine.
type Store interface {
	Reader
	// InTx runs fn inside one transaction. fn's writes commit together or
	// not at all.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// ChangeNotifier is told when a doctor's bookings change so read caches can be dropped.
type ChangeNotifier interface {
	DoctorScheduleChanged(ctx context.Context, doctorID uuid.UUID)
}
