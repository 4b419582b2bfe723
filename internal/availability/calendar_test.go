package availability

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-appointment-engine/internal/appointment"
)

func TestBuildMonth(t *testing.T) {
	p := nineToFive(time.Monday, time.Tuesday)
	p.Lunch = &Window{Start: appointment.NewTimeOfDay(12, 0), End: appointment.NewTimeOfDay(13, 0)}

	tuesday := monday.AddDate(0, 0, 1)
	allDay := scheduled(uuid.New(), tuesday.Add(9*time.Hour), 8*60)

	days := BuildMonth(MonthRequest{
		Profile:         p,
		DurationMinutes: 30,
		Year:            2026,
		Month:           time.October,
		Now:             at(10, 0),
	}, []appointment.Appointment{allDay})

	require.Len(t, days, 31)
	byDate := make(map[string]CalendarDay, len(days))
	for _, d := range days {
		byDate[d.Date] = d
	}

	pastMonday := byDate["2026-10-12"]
	assert.Equal(t, DayPast, pastMonday.State)
	assert.True(t, pastMonday.IsPast())
	assert.True(t, pastMonday.IsDoctorAvailable())
	assert.Zero(t, pastMonday.TotalSlots)
	assert.False(t, byDate["2026-10-15"].IsDoctorAvailable(), "thursday is not worked")

	today := byDate["2026-10-19"]
	assert.Equal(t, DayOpen, today.State)
	assert.Equal(t, 14, today.TotalSlots, "two lunch slots excluded")
	assert.Equal(t, 11, today.AvailableSlots, "09:00 09:30 10:00 are past")

	full := byDate["2026-10-20"]
	assert.Equal(t, DayFullyBooked, full.State)
	assert.True(t, full.FullyBooked())
	assert.True(t, full.IsDoctorAvailable())
	assert.Equal(t, 14, full.TotalSlots)
	assert.Zero(t, full.AvailableSlots)

	off := byDate["2026-10-21"]
	assert.Equal(t, DayUnavailable, off.State)
	assert.False(t, off.IsDoctorAvailable())
	assert.False(t, off.FullyBooked())
	assert.Zero(t, off.AvailableSlots)

	assert.Equal(t, 14, byDate["2026-10-26"].AvailableSlots)
}

func TestSummarize_LunchOnlyWindow(t *testing.T) {
	p := Profile{
		From:  appointment.NewTimeOfDay(12, 0),
		To:    appointment.NewTimeOfDay(13, 0),
		Days:  NewWeekdaySet(time.Monday),
		Lunch: &Window{Start: appointment.NewTimeOfDay(12, 0), End: appointment.NewTimeOfDay(13, 0)},
	}
	slots := GenerateSlots(SlotRequest{Profile: p, DurationMinutes: 30, Date: monday, Now: monday})
	day := Summarize("2026-10-19", true, slots)

	assert.Equal(t, DayOpen, day.State, "no bookable slots is not fully booked")
	assert.Zero(t, day.TotalSlots)
}

func TestCalendarDay_JSON(t *testing.T) {
	day := CalendarDay{Date: "2026-10-20", State: DayFullyBooked, TotalSlots: 14}

	b, err := json.Marshal(day)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	assert.Equal(t, "fully_booked", raw["state"])
	assert.Equal(t, true, raw["fully_booked"])
	assert.Equal(t, true, raw["is_doctor_available"])
	assert.Equal(t, false, raw["is_past"])

	// cached past days keep their weekday membership
	past := CalendarDay{Date: "2026-10-12", State: DayPast, worked: true}
	b, err = json.Marshal(past)
	require.NoError(t, err)
	var decoded CalendarDay
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, past, decoded)

	assert.Error(t, json.Unmarshal([]byte(`{"state":"closed"}`), &decoded))
}
