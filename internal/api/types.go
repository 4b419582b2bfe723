package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointment-engine/internal/appointment"
	"github.com/hackgods/clinic-appointment-engine/internal/availability"
)

// CreateAppointmentRequest accepts either an absolute appointment_date
// (RFC 3339) or a clinic local date plus time.
type CreateAppointmentRequest struct {
	PatientID       string `json:"patient_id"`
	DoctorID        string `json:"doctor_id"`
	ServiceID       string `json:"service_id"`
	AppointmentDate string `json:"appointment_date,omitempty"`
	Date            string `json:"date,omitempty"` // YYYY-MM-DD
	Time            string `json:"time,omitempty"` // HH:MM
	Notes           string `json:"notes,omitempty"`
}

type CancelAppointmentRequest struct {
	Reason string `json:"reason"`
}

type DoctorSummary struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Specialty *string   `json:"specialty,omitempty"`
}

type PatientSummary struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email *string   `json:"email,omitempty"`
}

type ServiceSummary struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	DurationMinutes int       `json:"duration_minutes"`
	PriceCents      int64     `json:"price_cents"`
}

type InvoiceResponse struct {
	ID            uuid.UUID `json:"id"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	InvoiceNumber string    `json:"invoice_number"`
	AmountCents   int64     `json:"amount_cents"`
	TaxCents      int64     `json:"tax_cents"`
	TotalCents    int64     `json:"total_cents"`
	Status        string    `json:"status"`
	DueDate       time.Time `json:"due_date"`
	Description   string    `json:"description"`
}

type AppointmentResponse struct {
	ID              uuid.UUID        `json:"id"`
	ClinicID        uuid.UUID        `json:"clinic_id"`
	DoctorID        uuid.UUID        `json:"doctor_id"`
	PatientID       uuid.UUID        `json:"patient_id"`
	ServiceID       uuid.UUID        `json:"service_id"`
	AppointmentDate time.Time        `json:"appointment_date"`
	EndsAt          time.Time        `json:"ends_at"`
	DurationMinutes int              `json:"duration_minutes"`
	Status          string           `json:"status"`
	Notes           string           `json:"notes,omitempty"`
	Doctor          *DoctorSummary   `json:"doctor,omitempty"`
	Patient         *PatientSummary  `json:"patient,omitempty"`
	Service         *ServiceSummary  `json:"service,omitempty"`
	Invoice         *InvoiceResponse `json:"invoice,omitempty"`
}

type MonthAvailabilityResponse struct {
	DoctorID  uuid.UUID                  `json:"doctor_id"`
	ServiceID uuid.UUID                  `json:"service_id"`
	Month     string                     `json:"month"`
	Days      []availability.CalendarDay `json:"days"`
}

type DayAvailabilityResponse struct {
	DoctorID  uuid.UUID `json:"doctor_id"`
	ServiceID uuid.UUID `json:"service_id"`
	*availability.DayView
}

type ListAppointmentsResponse struct {
	Appointments []AppointmentResponse `json:"appointments"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		ClinicID:        a.ClinicID,
		DoctorID:        a.DoctorID,
		PatientID:       a.PatientID,
		ServiceID:       a.ServiceID,
		AppointmentDate: a.AppointmentDate,
		EndsAt:          a.End(),
		DurationMinutes: a.DurationMinutes,
		Status:          string(a.Status),
		Notes:           a.Notes,
	}
}

func toDetailResponse(d *appointment.AppointmentDetail) AppointmentResponse {
	resp := toAppointmentResponse(&d.Appointment)
	if d.Doctor != nil {
		resp.Doctor = &DoctorSummary{ID: d.Doctor.ID, Name: d.Doctor.Name, Specialty: d.Doctor.Specialty}
	}
	if d.Patient != nil {
		resp.Patient = &PatientSummary{ID: d.Patient.ID, Name: d.Patient.Name, Email: d.Patient.Email}
	}
	if d.Service != nil {
		resp.Service = &ServiceSummary{
			ID:              d.Service.ID,
			Name:            d.Service.Name,
			DurationMinutes: d.Service.DurationMinutes,
			PriceCents:      d.Service.PriceCents,
		}
	}
	if d.Invoice != nil {
		inv := toInvoiceResponse(d.Invoice)
		resp.Invoice = &inv
	}
	return resp
}

func toInvoiceResponse(inv *appointment.Invoice) InvoiceResponse {
	return InvoiceResponse{
		ID:            inv.ID,
		AppointmentID: inv.AppointmentID,
		InvoiceNumber: inv.InvoiceNumber,
		AmountCents:   inv.AmountCents,
		TaxCents:      inv.TaxCents,
		TotalCents:    inv.TotalCents,
		Status:        string(inv.Status),
		DueDate:       inv.DueDate,
		Description:   inv.Description,
	}
}
