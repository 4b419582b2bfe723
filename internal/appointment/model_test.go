package appointment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-appointment-engine/internal/config"
)

func TestParseTimeOfDay(t *testing.T) {
	tod, err := ParseTimeOfDay("09:30")
	require.NoError(t, err)
	assert.Equal(t, TimeOfDay(570), tod)
	assert.Equal(t, "09:30", tod.String())

	end, err := ParseTimeOfDay("24:00")
	require.NoError(t, err)
	assert.Equal(t, TimeOfDay(1440), end)

	for _, bad := range []string{"", "9", "25:00", "24:30", "10:60", "ab:cd", "-1:00"} {
		_, err := ParseTimeOfDay(bad)
		assert.Error(t, err, bad)
	}
}

func TestTimeOfDay_On(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	// 23:30 UTC on the 14th is already the 15th in Berlin.
	day := time.Date(2026, 3, 14, 23, 30, 0, 0, time.UTC)
	got := NewTimeOfDay(9, 0).On(day, berlin)

	assert.Equal(t, time.Date(2026, 3, 15, 9, 0, 0, 0, berlin), got)
	assert.Equal(t, NewTimeOfDay(9, 0), TimeOfDayOf(got, berlin))
}

func TestParseWeekday(t *testing.T) {
	wd, err := ParseWeekday("monday")
	require.NoError(t, err)
	assert.Equal(t, time.Monday, wd)
	assert.Equal(t, "MONDAY", WeekdayName(wd))

	_, err = ParseWeekday("FUNDAY")
	assert.Error(t, err)
}

func TestDoctor_WorksOnAndBookable(t *testing.T) {
	d := Doctor{
		AvailableFrom: NewTimeOfDay(9, 0),
		AvailableTo:   NewTimeOfDay(17, 0),
		AvailableDays: []time.Weekday{time.Monday, time.Wednesday},
	}
	assert.True(t, d.WorksOn(time.Monday))
	assert.False(t, d.WorksOn(time.Tuesday))
	assert.True(t, d.Bookable())

	d.AvailableDays = nil
	assert.False(t, d.Bookable())

	d.AvailableDays = []time.Weekday{time.Monday}
	d.AvailableTo = d.AvailableFrom
	assert.False(t, d.Bookable())
}

func TestAppointment_End(t *testing.T) {
	start := time.Date(2026, 10, 20, 10, 0, 0, 0, time.UTC)
	a := Appointment{AppointmentDate: start, DurationMinutes: 45}
	assert.Equal(t, start.Add(45*time.Minute), a.End())
}

func TestVoidsInvoiceOn(t *testing.T) {
	cases := []struct {
		policy string
		status AppointmentStatus
		want   bool
	}{
		{"retain", StatusCancelled, false},
		{"retain", StatusNoShow, false},
		{"void_on_cancel", StatusCancelled, true},
		{"void_on_cancel", StatusNoShow, false},
		{"void_on_cancel_or_no_show", StatusNoShow, true},
		{"void_on_cancel_or_no_show", StatusCompleted, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, VoidsInvoiceOn(config.InvoicePolicy(tc.policy), tc.status), "%s/%s", tc.policy, tc.status)
	}
}
