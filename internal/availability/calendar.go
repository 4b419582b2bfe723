package availability

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hackgods/clinic-appointment-engine/internal/appointment"
)

// DayState is the tagged state of a calendar day. Unavailable and
// FullyBooked days never carry open slots.
type DayState int

const (
	DayOpen DayState = iota
	DayPast
	DayUnavailable
	DayFullyBooked
)

var dayStateNames = map[DayState]string{
	DayOpen:        "open",
	DayPast:        "past",
	DayUnavailable: "unavailable",
	DayFullyBooked: "fully_booked",
}

func (s DayState) String() string {
	if name, ok := dayStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("DayState(%d)", int(s))
}

func parseDayState(s string) (DayState, error) {
	for state, name := range dayStateNames {
		if name == s {
			return state, nil
		}
	}
	return 0, fmt.Errorf("unknown day state %q", s)
}

// CalendarDay summarizes one date for a doctor and service.
type CalendarDay struct {
	Date           string
	State          DayState
	AvailableSlots int
	TotalSlots     int

	// worked records weekday membership of past days, which are not evaluated.
	worked bool
}

func (d CalendarDay) IsPast() bool { return d.State == DayPast }

func (d CalendarDay) IsDoctorAvailable() bool {
	switch d.State {
	case DayUnavailable:
		return false
	case DayPast:
		return d.worked
	default:
		return true
	}
}

func (d CalendarDay) FullyBooked() bool { return d.State == DayFullyBooked }

type calendarDayJSON struct {
	Date              string `json:"date"`
	State             string `json:"state"`
	AvailableSlots    int    `json:"available_slots"`
	TotalSlots        int    `json:"total_slots"`
	FullyBooked       bool   `json:"fully_booked"`
	IsPast            bool   `json:"is_past"`
	IsDoctorAvailable bool   `json:"is_doctor_available"`
}

func (d CalendarDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(calendarDayJSON{
		Date:              d.Date,
		State:             d.State.String(),
		AvailableSlots:    d.AvailableSlots,
		TotalSlots:        d.TotalSlots,
		FullyBooked:       d.FullyBooked(),
		IsPast:            d.IsPast(),
		IsDoctorAvailable: d.IsDoctorAvailable(),
	})
}

func (d *CalendarDay) UnmarshalJSON(b []byte) error {
	var raw calendarDayJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	state, err := parseDayState(raw.State)
	if err != nil {
		return err
	}
	*d = CalendarDay{
		Date:           raw.Date,
		State:          state,
		AvailableSlots: raw.AvailableSlots,
		TotalSlots:     raw.TotalSlots,
		worked:         state == DayPast && raw.IsDoctorAvailable,
	}
	return nil
}

// DaySlots generates the slots of one day and marks them against the
// doctor's SCHEDULED appointments.
func DaySlots(req SlotRequest, appts []appointment.Appointment) []Slot {
	slots := GenerateSlots(req)
	MarkBooked(slots, req.DurationMinutes, appts)
	return slots
}

// Summarize reduces a day's slots to a CalendarDay. Lunch slots do not count
// towards TotalSlots.
func Summarize(date string, worksOn bool, slots []Slot) CalendarDay {
	if !worksOn {
		return CalendarDay{Date: date, State: DayUnavailable}
	}
	day := CalendarDay{Date: date, State: DayOpen}
	for _, s := range slots {
		if s.IsLunchBreak {
			continue
		}
		day.TotalSlots++
		if s.Available {
			day.AvailableSlots++
		}
	}
	if day.AvailableSlots == 0 && day.TotalSlots > 0 {
		day.State = DayFullyBooked
	}
	return day
}

type MonthRequest struct {
	Profile         Profile
	DurationMinutes int
	Year            int
	Month           time.Month
	Now             time.Time
	Location        *time.Location
}

// BuildMonth rolls DaySlots up over every day of a month. appts must hold the
// doctor's SCHEDULED appointments intersecting the month.
func BuildMonth(req MonthRequest, appts []appointment.Appointment) []CalendarDay {
	loc := req.Location
	if loc == nil {
		loc = time.UTC
	}
	today, _ := DayBounds(req.Now, loc)
	byDay := PartitionByDay(appts, loc)

	first := time.Date(req.Year, req.Month, 1, 0, 0, 0, 0, loc)
	days := make([]CalendarDay, 0, 31)
	for date := first; date.Month() == req.Month; date = date.AddDate(0, 0, 1) {
		key := date.Format(dayLayout)
		works := req.Profile.WorksOn(date, loc)
		if date.Before(today) {
			days = append(days, CalendarDay{Date: key, State: DayPast, worked: works})
			continue
		}
		slots := DaySlots(SlotRequest{
			Profile:         req.Profile,
			DurationMinutes: req.DurationMinutes,
			Date:            date,
			Now:             req.Now,
			Location:        loc,
		}, byDay[key])
		days = append(days, Summarize(key, works, slots))
	}
	return days
}

// MonthBounds returns the absolute [start, end) of a calendar month in loc.
func MonthBounds(year int, month time.Month, loc *time.Location) (time.Time, time.Time) {
	start := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 1, 0)
}
