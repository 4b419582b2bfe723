package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-engine/internal/config"
)

const (
	EventAppointmentBooked    = "APPOINTMENT_BOOKED"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventAppointmentNoShow    = "APPOINTMENT_NO_SHOW"
	EventInvoiceVoided        = "INVOICE_VOIDED"
)

var ErrInvalidStatusTransition = errors.New("invalid status transition")

// Manager owns the appointment lifecycle after booking: status transitions,
// the invoice policy tied to them, and the read paths.
type Manager struct {
	store    Store
	policy   config.InvoicePolicy
	notifier ChangeNotifier
	now      func() time.Time
}

func NewManager(store Store, policy config.InvoicePolicy, notifier ChangeNotifier) *Manager {
	return &Manager{
		store:    store,
		policy:   policy,
		notifier: notifier,
		now:      time.Now,
	}
}

// VoidsInvoiceOn reports whether policy cancels the pending invoice when an
// appointment moves to status.
func VoidsInvoiceOn(policy config.InvoicePolicy, status AppointmentStatus) bool {
	switch policy {
	case config.InvoiceVoidOnCancel:
		return status == StatusCancelled
	case config.InvoiceVoidOnCancelOrNoShow:
		return status == StatusCancelled || status == StatusNoShow
	default:
		return false
	}
}

func (m *Manager) Complete(ctx context.Context, clinicID, id uuid.UUID) (*Appointment, error) {
	return m.transition(ctx, clinicID, id, StatusCompleted, EventAppointmentCompleted, "")
}

func (m *Manager) Cancel(ctx context.Context, clinicID, id uuid.UUID, reason string) (*Appointment, error) {
	return m.transition(ctx, clinicID, id, StatusCancelled, EventAppointmentCancelled, reason)
}

func (m *Manager) MarkNoShow(ctx context.Context, clinicID, id uuid.UUID) (*Appointment, error) {
	return m.transition(ctx, clinicID, id, StatusNoShow, EventAppointmentNoShow, "")
}

// transition moves a SCHEDULED appointment to a terminal status. Terminal
// appointments are never re-opened.
func (m *Manager) transition(ctx context.Context, clinicID, id uuid.UUID, to AppointmentStatus, eventType, reason string) (*Appointment, error) {
	logger := zerolog.Ctx(ctx).With().
		Str("appointment_id", id.String()).
		Str("to", string(to)).
		Logger()

	var updated *Appointment
	var voided bool

	err := m.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		appt, err := tx.GetAppointment(ctx, clinicID, id)
		if err != nil {
			return err
		}
		if appt.Status != StatusScheduled {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, appt.Status, to)
		}

		updated, err = tx.UpdateAppointmentStatus(ctx, id, StatusScheduled, to)
		if err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				return fmt.Errorf("%w: appointment changed concurrently", ErrInvalidStatusTransition)
			}
			return fmt.Errorf("update appointment status: %w", err)
		}

		payload := map[string]any{"from": StatusScheduled, "to": to}
		if reason != "" {
			payload["reason"] = reason
		}
		if err := RecordEvent(ctx, tx, id, eventType, payload, m.now()); err != nil {
			return err
		}

		if VoidsInvoiceOn(m.policy, to) {
			voided, err = tx.VoidPendingInvoice(ctx, id)
			if err != nil {
				return err
			}
			if voided {
				if err := RecordEvent(ctx, tx, id, EventInvoiceVoided, map[string]any{"policy": m.policy}, m.now()); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info().Bool("invoice_voided", voided).Msg("appointment status changed")
	if m.notifier != nil {
		m.notifier.DoctorScheduleChanged(ctx, updated.DoctorID)
	}
	return updated, nil
}

// ReconcileInvoices voids pending invoices of appointments that were cancelled
// or marked no-show by other parts of the clinic application. It is a no-op
// under the retain policy. Returns the number of invoices voided.
func (m *Manager) ReconcileInvoices(ctx context.Context, batchSize int) (int, error) {
	var statuses []AppointmentStatus
	for _, st := range []AppointmentStatus{StatusCancelled, StatusNoShow} {
		if VoidsInvoiceOn(m.policy, st) {
			statuses = append(statuses, st)
		}
	}
	if len(statuses) == 0 {
		return 0, nil
	}
	if batchSize <= 0 {
		batchSize = 100
	}

	candidates, err := m.store.ListInvoicesToVoid(ctx, statuses, batchSize)
	if err != nil {
		return 0, fmt.Errorf("find invoices to void: %w", err)
	}

	logger := zerolog.Ctx(ctx)
	voided := 0
	for _, inv := range candidates {
		var ok bool
		err := m.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
			var err error
			ok, err = tx.VoidPendingInvoice(ctx, inv.AppointmentID)
			if err != nil || !ok {
				return err
			}
			return RecordEvent(ctx, tx, inv.AppointmentID, EventInvoiceVoided, map[string]any{
				"policy":         m.policy,
				"invoice_number": inv.InvoiceNumber,
				"reason":         "reconciler",
			}, m.now())
		})
		if err != nil {
			logger.Error().Err(err).Str("invoice_number", inv.InvoiceNumber).Msg("failed to void invoice")
			continue
		}
		if ok {
			voided++
		}
	}

	return voided, nil
}

// RecordEvent writes an event row inside an open transaction.
func RecordEvent(ctx context.Context, tx Tx, appointmentID uuid.UUID, eventType string, payload map[string]any, at time.Time) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	apptID := appointmentID
	return tx.InsertEvent(ctx, EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     at,
	})
}

// GetAppointment retrieves a fully hydrated appointment by ID
func (m *Manager) GetAppointment(ctx context.Context, clinicID, id uuid.UUID) (*AppointmentDetail, error) {
	appt, err := m.store.GetAppointment(ctx, clinicID, id)
	if err != nil {
		return nil, err
	}

	detail := &AppointmentDetail{Appointment: *appt}
	if detail.Doctor, err = m.store.GetDoctor(ctx, clinicID, appt.DoctorID); err != nil && !errors.Is(err, ErrDoctorNotFound) {
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	if detail.Patient, err = m.store.GetPatient(ctx, clinicID, appt.PatientID); err != nil && !errors.Is(err, ErrPatientNotFound) {
		return nil, fmt.Errorf("load patient: %w", err)
	}
	if detail.Service, err = m.store.GetService(ctx, clinicID, appt.ServiceID); err != nil && !errors.Is(err, ErrServiceNotFound) {
		return nil, fmt.Errorf("load service: %w", err)
	}
	if detail.Invoice, err = m.store.GetInvoiceByAppointment(ctx, clinicID, appt.ID); err != nil && !errors.Is(err, ErrInvoiceNotFound) {
		return nil, fmt.Errorf("load invoice: %w", err)
	}
	return detail, nil
}

func (m *Manager) GetInvoice(ctx context.Context, clinicID, appointmentID uuid.UUID) (*Invoice, error) {
	return m.store.GetInvoiceByAppointment(ctx, clinicID, appointmentID)
}

// ListAppointmentsByPatient retrieves appointments for a specific patient, newest first.
func (m *Manager) ListAppointmentsByPatient(ctx context.Context, clinicID, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if offset < 0 {
		offset = 0
	}

	appointments, err := m.store.ListAppointmentsByPatient(ctx, clinicID, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return appointments, nil
}

func (m *Manager) ListAppointmentsByDoctor(ctx context.Context, clinicID, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	if !to.After(from) {
		return nil, fmt.Errorf("list appointments by doctor: empty range %s..%s", from, to)
	}
	appointments, err := m.store.ListAppointmentsByDoctor(ctx, clinicID, doctorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list appointments by doctor: %w", err)
	}
	return appointments, nil
}
