package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

func doctorServiceParams(w http.ResponseWriter, r *http.Request) (doctorID, serviceID uuid.UUID, ok bool) {
	doctorID, err := uuid.Parse(chi.URLParam(r, "doctorID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctorID must be a valid UUID")
		return uuid.Nil, uuid.Nil, false
	}
	serviceID, err = uuid.Parse(chi.URLParam(r, "serviceID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_service_id", "serviceID must be a valid UUID")
		return uuid.Nil, uuid.Nil, false
	}
	return doctorID, serviceID, true
}

// monthAvailabilityHandler serves ?month=YYYY-MM, defaulting to the current month.
func monthAvailabilityHandler(svc AvailabilityService, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, serviceID, ok := doctorServiceParams(w, r)
		if !ok {
			return
		}

		month := time.Now().In(loc)
		if raw := r.URL.Query().Get("month"); raw != "" {
			parsed, err := time.ParseInLocation("2006-01", raw, loc)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_month", "month must be YYYY-MM")
				return
			}
			month = parsed
		}

		days, err := svc.MonthAvailability(r.Context(), GetClinicID(r.Context()), doctorID, serviceID, month.Year(), month.Month())
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, MonthAvailabilityResponse{
			DoctorID:  doctorID,
			ServiceID: serviceID,
			Month:     month.Format("2006-01"),
			Days:      days,
		})
	}
}

// dayAvailabilityHandler serves ?date=YYYY-MM-DD in the clinic time zone.
func dayAvailabilityHandler(svc AvailabilityService, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, serviceID, ok := doctorServiceParams(w, r)
		if !ok {
			return
		}

		date, err := time.ParseInLocation("2006-01-02", r.URL.Query().Get("date"), loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		view, err := svc.DayAvailability(r.Context(), GetClinicID(r.Context()), doctorID, serviceID, date)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, DayAvailabilityResponse{
			DoctorID:  doctorID,
			ServiceID: serviceID,
			DayView:   view,
		})
	}
}
