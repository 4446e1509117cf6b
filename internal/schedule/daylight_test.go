package schedule_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wheelibin/sunlamp/internal/constants"
	"github.com/wheelibin/sunlamp/internal/models"
	"github.com/wheelibin/sunlamp/internal/schedule"
)

func Test_TimeFromPattern(t *testing.T) {
	sunrise := time.Date(2023, 6, 27, 4, 43, 18, 0, time.UTC)
	sunset := time.Date(2023, 6, 27, 21, 43, 18, 0, time.UTC)
	baseDate := time.Date(2023, 6, 27, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		patternTime string
		expected    time.Time
	}{
		{"sunrise", sunrise},
		{"sunrise+30m", sunrise.Add(30 * time.Minute)},
		{"sunrise-1h", sunrise.Add(-time.Hour)},
		{"sunset", sunset},
		{"sunset-1h", time.Date(2023, 6, 27, 20, 43, 18, 0, time.UTC)},
		{"19:30", time.Date(2023, 6, 27, 19, 30, 0, 0, time.UTC)},
		{"00:00", time.Date(2023, 6, 27, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.patternTime, func(t *testing.T) {
			got, err := schedule.TimeFromPattern(tt.patternTime, sunrise, sunset, baseDate)
			require.NoError(t, err)
			assert.True(t, tt.expected.Equal(got), "expected %s, got %s", tt.expected, got)
		})
	}

	for _, bad := range []string{"sunrise+soon", "noon", "25:00"} {
		t.Run(bad, func(t *testing.T) {
			_, err := schedule.TimeFromPattern(bad, sunrise, sunset, baseDate)
			assert.Error(t, err)
		})
	}
}

func Test_Daylight(t *testing.T) {
	pattern := []models.DayPatternStep{
		{Time: "22:00", Warm: 0.1, Cool: 0, Label: "night"},
		{Time: "sunrise", Warm: 0.5, Cool: 0.2, Label: "sunrise"},
		{Time: "sunset-1h", Warm: 0.8, Cool: 0.4, Label: "evening"},
	}

	t.Run("should build sorted entries around sunrise and sunset", func(t *testing.T) {
		// at 0,0 on this date sunrise is about 05:59 and sunset about 18:06 UTC
		d, err := schedule.NewDaylight(testLogger, "0,0", 0, pattern)
		require.NoError(t, err)

		now := time.Date(2023, 1, 1, 4, 0, 0, 0, time.UTC)
		sch, err := d.Schedule(now, time.Hour)
		require.NoError(t, err)

		require.Len(t, sch.Entries, 3)
		assert.Equal(t, models.ModeDayNight, sch.Mode)
		assert.Equal(t, constants.ScheduleSourceDaylight, sch.Source)

		assert.Equal(t, "sunrise", sch.Entries[0].Label)
		assert.WithinDuration(t, time.Date(2023, 1, 1, 5, 59, 0, 0, time.UTC), sch.Entries[0].Time(), 3*time.Minute)
		assert.Equal(t, "evening", sch.Entries[1].Label)
		assert.WithinDuration(t, time.Date(2023, 1, 1, 17, 6, 0, 0, time.UTC), sch.Entries[1].Time(), 3*time.Minute)
		assert.Equal(t, time.Date(2023, 1, 1, 22, 0, 0, 0, time.UTC).Unix(), sch.Entries[2].UnixTime)
	})

	t.Run("should reject a bad location or pattern", func(t *testing.T) {
		_, err := schedule.NewDaylight(testLogger, "north", 0, nil)
		assert.Error(t, err)

		_, err = schedule.NewDaylight(testLogger, "91,0", 0, nil)
		assert.Error(t, err)

		_, err = schedule.NewDaylight(testLogger, "0,0", 0, []models.DayPatternStep{{Time: "sunrise", Warm: 2}})
		assert.Error(t, err)
	})

	t.Run("should be adopted only when there is no server schedule", func(t *testing.T) {
		d, err := schedule.NewDaylight(testLogger, "0,0", 0, nil)
		require.NoError(t, err)

		now := time.Date(2023, 1, 1, 4, 0, 0, 0, time.UTC)
		store, fetcher, _ := newStore(`{ "utc_offset": 0, "entries": [ { "time": "05:00", "warm": 40, "cool": 20 } ] }`, now)
		store.WithDaylight(d)

		require.True(t, store.UseFallback(now))
		assert.Equal(t, constants.ScheduleSourceDaylight, store.Source())
		assert.True(t, store.HasSchedule())
		assert.True(t, store.NeedsRefresh(now))

		require.NoError(t, store.Fetch(context.Background()))
		assert.Equal(t, 1, fetcher.calls)
		assert.Equal(t, constants.ScheduleSourceServer, store.Source())
		assert.False(t, store.UseFallback(now))
		assert.Equal(t, constants.ScheduleSourceServer, store.Source())
	})

	t.Run("should do nothing when not enabled", func(t *testing.T) {
		store, _, _ := newStore("", time.Date(2023, 1, 1, 4, 0, 0, 0, time.UTC))
		assert.False(t, store.UseFallback(time.Date(2023, 1, 1, 4, 0, 0, 0, time.UTC)))
		assert.False(t, store.HasSchedule())
	})
}
