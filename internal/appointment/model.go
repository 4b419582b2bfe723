package appointment

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "SCHEDULED"
	StatusCompleted AppointmentStatus = "COMPLETED"
	StatusCancelled AppointmentStatus = "CANCELLED"
	StatusNoShow    AppointmentStatus = "NO_SHOW"
)

type InvoiceStatus string

const (
	InvoicePending   InvoiceStatus = "PENDING"
	InvoicePaid      InvoiceStatus = "PAID"
	InvoiceCancelled InvoiceStatus = "CANCELLED"
)

// TimeOfDay is a wall clock time expressed as minutes after local midnight.
type TimeOfDay int

func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*60 + minute)
}

// ParseTimeOfDay parses "HH:MM". "24:00" is accepted as end of day.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("time of day %q is not HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return 0, fmt.Errorf("time of day %q: invalid hour", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("time of day %q: invalid minute", s)
	}
	if h < 0 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("time of day %q: invalid hour", s)
	}
	return NewTimeOfDay(h, m), nil
}

func (t TimeOfDay) Hour() int   { return int(t) / 60 }
func (t TimeOfDay) Minute() int { return int(t) % 60 }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// On anchors the time of day to the calendar date of day in loc.
func (t TimeOfDay) On(day time.Time, loc *time.Location) time.Time {
	y, m, d := day.In(loc).Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, loc)
}

// TimeOfDayOf returns the wall clock time of ts in loc, truncated to the minute.
func TimeOfDayOf(ts time.Time, loc *time.Location) TimeOfDay {
	local := ts.In(loc)
	return NewTimeOfDay(local.Hour(), local.Minute())
}

var weekdayNames = map[string]time.Weekday{
	"SUNDAY":    time.Sunday,
	"MONDAY":    time.Monday,
	"TUESDAY":   time.Tuesday,
	"WEDNESDAY": time.Wednesday,
	"THURSDAY":  time.Thursday,
	"FRIDAY":    time.Friday,
	"SATURDAY":  time.Saturday,
}

// ParseWeekday accepts the upper case enum names stored in doctors.available_days.
func ParseWeekday(s string) (time.Weekday, error) {
	wd, ok := weekdayNames[strings.ToUpper(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("unknown weekday %q", s)
	}
	return wd, nil
}

func WeekdayName(wd time.Weekday) string {
	return strings.ToUpper(wd.String())
}

type Clinic struct {
	ID        uuid.UUID
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Patient struct {
	ID        uuid.UUID
	ClinicID  uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Doctor carries the availability profile used for slot generation.
type Doctor struct {
	ID            uuid.UUID
	ClinicID      uuid.UUID
	Name          string
	Specialty     *string
	AvailableFrom TimeOfDay
	AvailableTo   TimeOfDay
	AvailableDays []time.Weekday
	LunchFrom     *TimeOfDay
	LunchTo       *TimeOfDay
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (d *Doctor) WorksOn(wd time.Weekday) bool {
	for _, day := range d.AvailableDays {
		if day == wd {
			return true
		}
	}
	return false
}

// Bookable reports whether the profile can produce any slot at all.
func (d *Doctor) Bookable() bool {
	return d.AvailableFrom < d.AvailableTo && len(d.AvailableDays) > 0
}

type Service struct {
	ID              uuid.UUID
	ClinicID        uuid.UUID
	Name            string
	DurationMinutes int
	PriceCents      int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (s *Service) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

type Appointment struct {
	ID              uuid.UUID
	ClinicID        uuid.UUID
	DoctorID        uuid.UUID
	PatientID       uuid.UUID
	ServiceID       uuid.UUID
	AppointmentDate time.Time
	DurationMinutes int
	Status          AppointmentStatus
	Notes           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// End is the exclusive end of the appointment interval.
func (a *Appointment) End() time.Time {
	return a.AppointmentDate.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

type Invoice struct {
	ID            uuid.UUID
	ClinicID      uuid.UUID
	AppointmentID uuid.UUID
	InvoiceNumber string
	AmountCents   int64
	TaxCents      int64
	TotalCents    int64
	Status        InvoiceStatus
	DueDate       time.Time
	Description   string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

type AppointmentDetail struct {
	Appointment
	Doctor  *Doctor
	Patient *Patient
	Service *Service
	Invoice *Invoice
}
