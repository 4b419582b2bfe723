package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointment-engine/internal/appointment"
	"github.com/hackgods/clinic-appointment-engine/internal/booking"
)

func createAppointmentHandler(svc BookingService, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}
		serviceID, err := uuid.Parse(req.ServiceID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_service_id", "service_id must be a valid UUID")
			return
		}
		start, err := parseAppointmentTime(req, loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_date", err.Error())
			return
		}

		detail, err := svc.BookAppointment(r.Context(), booking.Request{
			ClinicID:        GetClinicID(r.Context()),
			PatientID:       patientID,
			DoctorID:        doctorID,
			ServiceID:       serviceID,
			AppointmentDate: start,
			Notes:           req.Notes,
		})
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toDetailResponse(detail))
	}
}

var errAppointmentTime = errors.New("provide appointment_date (RFC 3339) or date (YYYY-MM-DD) and time (HH:MM)")

func parseAppointmentTime(req CreateAppointmentRequest, loc *time.Location) (time.Time, error) {
	if req.AppointmentDate != "" {
		t, err := time.Parse(time.RFC3339, req.AppointmentDate)
		if err != nil {
			return time.Time{}, errAppointmentTime
		}
		return t, nil
	}
	if req.Date == "" || req.Time == "" {
		return time.Time{}, errAppointmentTime
	}
	t, err := time.ParseInLocation("2006-01-02 15:04", req.Date+" "+req.Time, loc)
	if err != nil {
		return time.Time{}, errAppointmentTime
	}
	return t, nil
}

func getAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentIDParam(w, r)
		if !ok {
			return
		}

		detail, err := svc.GetAppointment(r.Context(), GetClinicID(r.Context()), id)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toDetailResponse(detail))
	}
}

func getInvoiceHandler(svc AppointmentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentIDParam(w, r)
		if !ok {
			return
		}

		inv, err := svc.GetInvoice(r.Context(), GetClinicID(r.Context()), id)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toInvoiceResponse(inv))
	}
}

// listAppointmentsHandler lists by patient_id (paged) or by doctor_id over a
// from/to date range in clinic local days.
func listAppointmentsHandler(svc AppointmentService, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		clinicID := GetClinicID(r.Context())

		var (
			appts []appointment.Appointment
			err   error
		)
		switch {
		case q.Get("patient_id") != "":
			patientID, perr := uuid.Parse(q.Get("patient_id"))
			if perr != nil {
				writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
				return
			}
			limit, _ := strconv.Atoi(q.Get("limit"))
			offset, _ := strconv.Atoi(q.Get("offset"))
			appts, err = svc.ListAppointmentsByPatient(r.Context(), clinicID, patientID, limit, offset)

		case q.Get("doctor_id") != "":
			doctorID, perr := uuid.Parse(q.Get("doctor_id"))
			if perr != nil {
				writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
				return
			}
			from, ferr := time.ParseInLocation("2006-01-02", q.Get("from"), loc)
			to, terr := time.ParseInLocation("2006-01-02", q.Get("to"), loc)
			if ferr != nil || terr != nil || to.Before(from) {
				writeError(w, http.StatusBadRequest, "invalid_date_range", "from and to must be YYYY-MM-DD with from <= to")
				return
			}
			appts, err = svc.ListAppointmentsByDoctor(r.Context(), clinicID, doctorID, from, to.AddDate(0, 0, 1))

		default:
			writeError(w, http.StatusBadRequest, "missing_filter", "patient_id or doctor_id is required")
			return
		}
		if err != nil {
			handleError(w, r, err)
			return
		}

		resp := ListAppointmentsResponse{Appointments: make([]AppointmentResponse, 0, len(appts))}
		for i := range appts {
			resp.Appointments = append(resp.Appointments, toAppointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type transitionFunc func(ctx context.Context, clinicID, id uuid.UUID, r *http.Request) (*appointment.Appointment, error)

func transitionHandler(fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentIDParam(w, r)
		if !ok {
			return
		}

		appt, err := fn(r.Context(), GetClinicID(r.Context()), id, r)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func completeAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return transitionHandler(func(ctx context.Context, clinicID, id uuid.UUID, _ *http.Request) (*appointment.Appointment, error) {
		return svc.Complete(ctx, clinicID, id)
	})
}

func noShowAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return transitionHandler(func(ctx context.Context, clinicID, id uuid.UUID, _ *http.Request) (*appointment.Appointment, error) {
		return svc.MarkNoShow(ctx, clinicID, id)
	})
}

// cancelAppointmentHandler accepts an optional {"reason": "..."} body.
func cancelAppointmentHandler(svc AppointmentService) http.HandlerFunc {
	return transitionHandler(func(ctx context.Context, clinicID, id uuid.UUID, r *http.Request) (*appointment.Appointment, error) {
		var req CancelAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			return nil, &booking.ValidationError{Field: "body", Reason: "could not parse JSON"}
		}
		return svc.Cancel(ctx, clinicID, id, req.Reason)
	})
}

func appointmentIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}
