package availability

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointment-engine/internal/appointment"
)

const dayLayout = "2006-01-02"

// Overlaps is the half-open interval test used for every booking conflict.
func Overlaps(startA, endA, startB, endB time.Time) bool {
	return startA.Before(endB) && startB.Before(endA)
}

// MarkBooked flags every slot whose [start, start+duration) intersects a
// SCHEDULED appointment. Other statuses never block a slot.
func MarkBooked(slots []Slot, durationMinutes int, appts []appointment.Appointment) {
	length := time.Duration(durationMinutes) * time.Minute
	for i := range slots {
		end := slots[i].Start.Add(length)
		for j := range appts {
			a := &appts[j]
			if a.Status != appointment.StatusScheduled {
				continue
			}
			if Overlaps(slots[i].Start, end, a.AppointmentDate, a.End()) {
				slots[i].IsBooked = true
				break
			}
		}
		slots[i].refresh()
	}
}

// FirstConflict returns the earliest SCHEDULED appointment overlapping [start, end).
func FirstConflict(appts []appointment.Appointment, start, end time.Time) *appointment.Appointment {
	var first *appointment.Appointment
	for i := range appts {
		a := &appts[i]
		if a.Status != appointment.StatusScheduled || !Overlaps(start, end, a.AppointmentDate, a.End()) {
			continue
		}
		if first == nil || a.AppointmentDate.Before(first.AppointmentDate) {
			first = a
		}
	}
	return first
}

// FindSameDayBooking returns a SCHEDULED appointment of the patient with the
// doctor starting on date's local day, regardless of time overlap.
func FindSameDayBooking(appts []appointment.Appointment, patientID, doctorID uuid.UUID, date time.Time, loc *time.Location) *appointment.Appointment {
	from, to := DayBounds(date, loc)
	for i := range appts {
		a := &appts[i]
		if a.Status != appointment.StatusScheduled || a.PatientID != patientID || a.DoctorID != doctorID {
			continue
		}
		if !a.AppointmentDate.Before(from) && a.AppointmentDate.Before(to) {
			return a
		}
	}
	return nil
}

// PartitionByDay groups appointments by every local day their interval
// touches, keyed by YYYY-MM-DD. An appointment crossing midnight lands in both days.
func PartitionByDay(appts []appointment.Appointment, loc *time.Location) map[string][]appointment.Appointment {
	out := make(map[string][]appointment.Appointment)
	for _, a := range appts {
		day, _ := DayBounds(a.AppointmentDate, loc)
		for day.Before(a.End()) {
			key := day.Format(dayLayout)
			out[key] = append(out[key], a)
			day = day.AddDate(0, 0, 1)
		}
	}
	return out
}
