package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-engine/internal/appointment"
)

// MonthKey identifies a cached month view. AsOf holds everything about the
// current time the view depends on, see monthAsOf.
type MonthKey struct {
	DoctorID  uuid.UUID
	ServiceID uuid.UUID
	Month     string // YYYY-MM
	AsOf      string
}

// MonthCache is an optional read-through cache for month views. Misses and
// cache failures are both reported as ok == false.
//
// GetMonth also returns the doctor's schedule version it looked under, read
// before the view is computed. SetMonth stores under that version, so a
// schedule change committed in between orphans the entry instead of
// validating a stale one. A negative version means the lookup failed and
// nothing should be stored.
type MonthCache interface {
	GetMonth(ctx context.Context, key MonthKey) (days []CalendarDay, version int64, ok bool)
	SetMonth(ctx context.Context, key MonthKey, version int64, days []CalendarDay)
}

// monthAsOf reduces now to what a month view depends on. Months wholly
// before or after today do not change as the clock moves. The month holding
// today changes whenever a slot start passes; slot starts are whole minutes,
// so the view is constant within a minute.
func monthAsOf(monthStart, now time.Time, loc *time.Location) string {
	local := now.In(loc)
	current := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
	switch {
	case monthStart.Before(current):
		return "past"
	case monthStart.After(current):
		return "future"
	default:
		return local.Format("2006-01-02T15:04")
	}
}

// DayView is the slot listing of one date.
type DayView struct {
	Date            string `json:"date"`
	DoctorAvailable bool   `json:"doctor_available"`
	Slots           []Slot `json:"slots"`
}

// Service answers availability reads. It takes no locks; bookings re-check
// everything inside their own transaction.
type Service struct {
	store appointment.Reader
	cache MonthCache
	lunch *Window
	loc   *time.Location
	now   func() time.Time
}

func NewService(store appointment.Reader, lunch *Window, loc *time.Location, cache MonthCache) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		store: store,
		cache: cache,
		lunch: lunch,
		loc:   loc,
		now:   time.Now,
	}
}

func (s *Service) Location() *time.Location { return s.loc }

// resolve loads the doctor and service and checks the doctor offers it.
func (s *Service) resolve(ctx context.Context, clinicID, doctorID, serviceID uuid.UUID) (*appointment.Doctor, *appointment.Service, error) {
	doctor, err := s.store.GetDoctor(ctx, clinicID, doctorID)
	if err != nil {
		return nil, nil, err
	}
	svc, err := s.store.GetService(ctx, clinicID, serviceID)
	if err != nil {
		return nil, nil, err
	}
	offered, err := s.store.DoctorOffersService(ctx, doctorID, serviceID)
	if err != nil {
		return nil, nil, fmt.Errorf("check doctor services: %w", err)
	}
	if !offered {
		return nil, nil, appointment.ErrServiceNotOffered
	}
	return doctor, svc, nil
}

// MonthAvailability returns one CalendarDay per day of the month. All
// SCHEDULED appointments of the month are fetched with a single query.
func (s *Service) MonthAvailability(ctx context.Context, clinicID, doctorID, serviceID uuid.UUID, year int, month time.Month) ([]CalendarDay, error) {
	doctor, svc, err := s.resolve(ctx, clinicID, doctorID, serviceID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	from, to := MonthBounds(year, month, s.loc)
	key := MonthKey{
		DoctorID:  doctorID,
		ServiceID: serviceID,
		Month:     from.Format("2006-01"),
		AsOf:      monthAsOf(from, now, s.loc),
	}

	logger := zerolog.Ctx(ctx).With().
		Str("doctor_id", doctorID.String()).
		Str("month", key.Month).
		Logger()

	version := int64(-1)
	if s.cache != nil {
		days, ver, ok := s.cache.GetMonth(ctx, key)
		if ok {
			logger.Debug().Msg("month availability served from cache")
			return days, nil
		}
		version = ver
	}

	appts, err := s.store.ListScheduled(ctx, doctorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list scheduled appointments: %w", err)
	}

	days := BuildMonth(MonthRequest{
		Profile:         ProfileOf(doctor, s.lunch),
		DurationMinutes: svc.DurationMinutes,
		Year:            year,
		Month:           month,
		Now:             now,
		Location:        s.loc,
	}, appts)

	if s.cache != nil && version >= 0 {
		s.cache.SetMonth(ctx, key, version, days)
	}
	logger.Debug().Int("appointments", len(appts)).Msg("month availability computed")
	return days, nil
}

// DayAvailability lists the slots of one date. DoctorAvailable is false when
// the doctor does not work that weekday, which is distinct from a day
// without free slots.
func (s *Service) DayAvailability(ctx context.Context, clinicID, doctorID, serviceID uuid.UUID, date time.Time) (*DayView, error) {
	doctor, svc, err := s.resolve(ctx, clinicID, doctorID, serviceID)
	if err != nil {
		return nil, err
	}

	profile := ProfileOf(doctor, s.lunch)
	from, to := DayBounds(date, s.loc)
	view := &DayView{
		Date:            from.Format(dayLayout),
		DoctorAvailable: profile.WorksOn(from, s.loc),
		Slots:           []Slot{},
	}
	if !view.DoctorAvailable {
		return view, nil
	}

	appts, err := s.store.ListScheduled(ctx, doctorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list scheduled appointments: %w", err)
	}

	slots := DaySlots(SlotRequest{
		Profile:         profile,
		DurationMinutes: svc.DurationMinutes,
		Date:            from,
		Now:             s.now(),
		Location:        s.loc,
	}, appts)
	if slots != nil {
		view.Slots = slots
	}
	return view, nil
}
