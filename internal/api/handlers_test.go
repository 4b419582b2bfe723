package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-appointment-engine/internal/appointment"
	"github.com/hackgods/clinic-appointment-engine/internal/booking"
)

type mockBookingService struct {
	mock.Mock
}

func (m *mockBookingService) BookAppointment(ctx context.Context, req booking.Request) (*appointment.AppointmentDetail, error) {
	args := m.Called(ctx, req)
	detail, _ := args.Get(0).(*appointment.AppointmentDetail)
	return detail, args.Error(1)
}

func postAppointment(t *testing.T, h http.Handler, clinicID uuid.UUID, body map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/appointments", bytes.NewReader(raw))
	req.Header.Set(ClinicHeader, clinicID.String())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateAppointmentHandler_PassesRequestThrough(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	svc := new(mockBookingService)
	h := NewRouter(RouterConfig{Booking: svc, Location: berlin, Logger: zerolog.Nop()})

	clinicID, patientID, doctorID, serviceID := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	want := time.Date(2026, 10, 20, 9, 30, 0, 0, berlin)

	detail := &appointment.AppointmentDetail{Appointment: appointment.Appointment{
		ID:              uuid.New(),
		ClinicID:        clinicID,
		DoctorID:        doctorID,
		PatientID:       patientID,
		ServiceID:       serviceID,
		AppointmentDate: want,
		DurationMinutes: 30,
		Status:          appointment.StatusScheduled,
	}}

	svc.On("BookAppointment", mock.Anything, mock.MatchedBy(func(r booking.Request) bool {
		return r.ClinicID == clinicID &&
			r.PatientID == patientID &&
			r.DoctorID == doctorID &&
			r.ServiceID == serviceID &&
			r.AppointmentDate.Equal(want) &&
			r.Notes == "first visit"
	})).Return(detail, nil).Once()

	rec := postAppointment(t, h, clinicID, map[string]string{
		"patient_id": patientID.String(),
		"doctor_id":  doctorID.String(),
		"service_id": serviceID.String(),
		"date":       "2026-10-20",
		"time":       "09:30",
		"notes":      "first visit",
	})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decode[AppointmentResponse](t, rec)
	assert.Equal(t, detail.ID, resp.ID)
	svc.AssertExpectations(t)
}

func TestCreateAppointmentHandler_ErrorMapping(t *testing.T) {
	start := time.Date(2026, 10, 20, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "slot taken",
			err:        &booking.SlotUnavailableError{DoctorName: "Meyer", Start: start, ConflictingStart: start.Add(-15 * time.Minute)},
			wantStatus: http.StatusConflict,
			wantCode:   "slot_unavailable",
		},
		{
			name:       "same day duplicate",
			err:        &booking.DuplicateBookingError{DoctorName: "Meyer", Date: "2026-10-20", ExistingAppointmentID: uuid.New()},
			wantStatus: http.StatusConflict,
			wantCode:   "duplicate_booking",
		},
		{
			name:       "doctor lock busy",
			err:        booking.ErrBookingInProgress,
			wantStatus: http.StatusConflict,
			wantCode:   "booking_in_progress",
		},
		{
			name:       "unknown doctor",
			err:        fmt.Errorf("%w: %w", booking.ErrInvalidRequest, appointment.ErrDoctorNotFound),
			wantStatus: http.StatusNotFound,
			wantCode:   "doctor_not_found",
		},
		{
			name:       "service not offered",
			err:        fmt.Errorf("%w: %w", booking.ErrInvalidRequest, appointment.ErrServiceNotOffered),
			wantStatus: http.StatusBadRequest,
			wantCode:   "service_not_offered",
		},
		{
			name:       "lunch break",
			err:        booking.ErrLunchBreak,
			wantStatus: http.StatusBadRequest,
			wantCode:   "validation_error",
		},
		{
			name:       "storage keeps failing",
			err:        fmt.Errorf("book appointment: %w", appointment.ErrTransient),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "internal_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(mockBookingService)
			svc.On("BookAppointment", mock.Anything, mock.Anything).Return(nil, tt.err).Once()
			h := NewRouter(RouterConfig{Booking: svc, Logger: zerolog.Nop()})

			rec := postAppointment(t, h, uuid.New(), map[string]string{
				"patient_id":       uuid.NewString(),
				"doctor_id":        uuid.NewString(),
				"service_id":       uuid.NewString(),
				"appointment_date": start.Format(time.RFC3339),
			})

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCode, decode[ErrorResponse](t, rec).Error)
			svc.AssertExpectations(t)
		})
	}
}

func TestCreateAppointmentHandler_RejectsBeforeCallingService(t *testing.T) {
	svc := new(mockBookingService)
	h := NewRouter(RouterConfig{Booking: svc, Logger: zerolog.Nop()})

	rec := postAppointment(t, h, uuid.New(), map[string]string{
		"patient_id": "not-a-uuid",
		"doctor_id":  uuid.NewString(),
		"service_id": uuid.NewString(),
		"date":       "2026-10-20",
		"time":       "09:00",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_patient_id", decode[ErrorResponse](t, rec).Error)
	svc.AssertNotCalled(t, "BookAppointment", mock.Anything, mock.Anything)
}
