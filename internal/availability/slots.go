// Package availability derives bookable slots and month calendars from a
// doctor's working hours and existing SCHEDULED appointments. Everything
// except Service is pure and safe for concurrent use.
package availability

import (
	"fmt"
	"time"

	"github.com/hackgods/clinic-appointment-engine/internal/appointment"
)

// Window is a half-open wall clock range [Start, End).
type Window struct {
	Start appointment.TimeOfDay
	End   appointment.TimeOfDay
}

// ParseWindow parses a pair of HH:MM bounds. Two empty strings mean no window.
func ParseWindow(start, end string) (*Window, error) {
	if start == "" && end == "" {
		return nil, nil
	}
	s, err := appointment.ParseTimeOfDay(start)
	if err != nil {
		return nil, err
	}
	e, err := appointment.ParseTimeOfDay(end)
	if err != nil {
		return nil, err
	}
	if e <= s {
		return nil, fmt.Errorf("window %s-%s is empty", start, end)
	}
	return &Window{Start: s, End: e}, nil
}

// Overlaps reports whether [start, end) shares any minute with the window.
func (w *Window) Overlaps(start, end appointment.TimeOfDay) bool {
	if w == nil {
		return false
	}
	return start < w.End && w.Start < end
}

// WeekdaySet is a bit set of working days.
type WeekdaySet uint8

func NewWeekdaySet(days ...time.Weekday) WeekdaySet {
	var s WeekdaySet
	for _, d := range days {
		s |= 1 << uint(d)
	}
	return s
}

func (s WeekdaySet) Has(d time.Weekday) bool {
	return s&(1<<uint(d)) != 0
}

// Profile is the availability configuration slot generation works from.
type Profile struct {
	From  appointment.TimeOfDay
	To    appointment.TimeOfDay
	Days  WeekdaySet
	Lunch *Window
}

// ProfileOf builds a doctor's profile. A lunch override stored on the doctor
// wins over the clinic wide lunch window.
func ProfileOf(d *appointment.Doctor, clinicLunch *Window) Profile {
	p := Profile{
		From:  d.AvailableFrom,
		To:    d.AvailableTo,
		Days:  NewWeekdaySet(d.AvailableDays...),
		Lunch: clinicLunch,
	}
	if d.LunchFrom != nil && d.LunchTo != nil && *d.LunchFrom < *d.LunchTo {
		p.Lunch = &Window{Start: *d.LunchFrom, End: *d.LunchTo}
	}
	return p
}

// WorksOn reports whether date's weekday in loc is a working day.
func (p Profile) WorksOn(date time.Time, loc *time.Location) bool {
	return p.Days.Has(date.In(loc).Weekday())
}

// Slot is one candidate start time. It is derived per request and never stored.
type Slot struct {
	Time         string    `json:"time"`
	Start        time.Time `json:"start"`
	Available    bool      `json:"available"`
	IsBooked     bool      `json:"is_booked"`
	IsPast       bool      `json:"is_past"`
	IsLunchBreak bool      `json:"is_lunch_break,omitempty"`
}

func (s *Slot) refresh() {
	s.Available = !s.IsPast && !s.IsBooked && !s.IsLunchBreak
}

type SlotRequest struct {
	Profile         Profile
	DurationMinutes int
	Date            time.Time
	Now             time.Time
	Location        *time.Location
}

// GenerateSlots returns the ordered candidate slots of req.Date. Slots are
// DurationMinutes apart starting at Profile.From; a slot that would end after
// Profile.To is dropped. Days the doctor does not work yield no slots.
func GenerateSlots(req SlotRequest) []Slot {
	loc := req.Location
	if loc == nil {
		loc = time.UTC
	}
	p := req.Profile
	step := appointment.TimeOfDay(req.DurationMinutes)
	if step <= 0 || p.From >= p.To || !p.WorksOn(req.Date, loc) {
		return nil
	}

	slots := make([]Slot, 0, int(p.To-p.From)/int(step))
	for start := p.From; start+step <= p.To; start += step {
		at := start.On(req.Date, loc)
		slot := Slot{
			Time:         start.String(),
			Start:        at,
			IsPast:       !at.After(req.Now),
			IsLunchBreak: p.Lunch.Overlaps(start, start+step),
		}
		slot.refresh()
		slots = append(slots, slot)
	}
	return slots
}

// DayBounds returns the absolute [start, end) of date's local calendar day.
func DayBounds(date time.Time, loc *time.Location) (time.Time, time.Time) {
	y, m, d := date.In(loc).Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}
