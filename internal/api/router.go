package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-engine/internal/appointment"
	"github.com/hackgods/clinic-appointment-engine/internal/availability"
	"github.com/hackgods/clinic-appointment-engine/internal/booking"
)

type BookingService interface {
	BookAppointment(ctx context.Context, req booking.Request) (*appointment.AppointmentDetail, error)
}

type AvailabilityService interface {
	MonthAvailability(ctx context.Context, clinicID, doctorID, serviceID uuid.UUID, year int, month time.Month) ([]availability.CalendarDay, error)
	DayAvailability(ctx context.Context, clinicID, doctorID, serviceID uuid.UUID, date time.Time) (*availability.DayView, error)
}

type AppointmentService interface {
	Complete(ctx context.Context, clinicID, id uuid.UUID) (*appointment.Appointment, error)
	Cancel(ctx context.Context, clinicID, id uuid.UUID, reason string) (*appointment.Appointment, error)
	MarkNoShow(ctx context.Context, clinicID, id uuid.UUID) (*appointment.Appointment, error)
	GetAppointment(ctx context.Context, clinicID, id uuid.UUID) (*appointment.AppointmentDetail, error)
	GetInvoice(ctx context.Context, clinicID, appointmentID uuid.UUID) (*appointment.Invoice, error)
	ListAppointmentsByPatient(ctx context.Context, clinicID, patientID uuid.UUID, limit, offset int) ([]appointment.Appointment, error)
	ListAppointmentsByDoctor(ctx context.Context, clinicID, doctorID uuid.UUID, from, to time.Time) ([]appointment.Appointment, error)
}

type RouterConfig struct {
	Booking      BookingService
	Availability AvailabilityService
	Appointments AppointmentService
	Location     *time.Location // clinic time zone for local dates in requests
	DB           Pinger
	Redis        *redis.Client // optional
	Logger       zerolog.Logger
	Env          string
	Version      string
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(RecoveryMiddleware)

	// Health endpoints
	health := NewHealthHandler(cfg.DB, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Group(func(r chi.Router) {
		r.Use(ClinicMiddleware)

		// Availability endpoints
		r.Get("/doctors/{doctorID}/services/{serviceID}/availability/month", monthAvailabilityHandler(cfg.Availability, cfg.Location))
		r.Get("/doctors/{doctorID}/services/{serviceID}/availability/day", dayAvailabilityHandler(cfg.Availability, cfg.Location))

		// Appointment endpoints
		r.Post("/appointments", createAppointmentHandler(cfg.Booking, cfg.Location))
		r.Get("/appointments", listAppointmentsHandler(cfg.Appointments, cfg.Location))
		r.Get("/appointments/{id}", getAppointmentHandler(cfg.Appointments))
		r.Get("/appointments/{id}/invoice", getInvoiceHandler(cfg.Appointments))
		r.Post("/appointments/{id}/complete", completeAppointmentHandler(cfg.Appointments))
		r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Appointments))
		r.Post("/appointments/{id}/no-show", noShowAppointmentHandler(cfg.Appointments))
	})

	return r
}
