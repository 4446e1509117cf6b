package schedule

import (
	"time"

	"github.com/samber/lo"
	"github.com/wheelibin/sunlamp/internal/constants"
	"github.com/wheelibin/sunlamp/internal/models"
)

// DemoCycle is the length of one pass through the demo table
const DemoCycle = 15 * time.Second

type demoStep struct {
	offset time.Duration
	warm   float64
	cool   float64
	label  string
}

// a whole day compressed into one cycle
var demoTable = []demoStep{
	{0, 0.10, 0.00, "night"},
	{2 * time.Second, 0.25, 0.00, "pre_dawn"},
	{4 * time.Second, 0.60, 0.20, "dawn"},
	{6 * time.Second, 1.00, 0.80, "sunrise"},
	{8 * time.Second, 0.90, 1.00, "midday"},
	{10 * time.Second, 0.80, 0.50, "afternoon"},
	{12 * time.Second, 0.50, 0.10, "sunset"},
	{14 * time.Second, 0.20, 0.00, "dusk"},
	{15 * time.Second, 0.10, 0.00, "night_end"},
}

// DemoSchedule anchors the demo table at start
func DemoSchedule(start time.Time) *models.Schedule {
	entries := lo.Map(demoTable, func(step demoStep, _ int) models.ScheduleEntry {
		return models.ScheduleEntry{
			UnixTime: start.Add(step.offset).Unix(),
			Warm:     step.warm,
			Cool:     step.cool,
			Label:    step.label,
		}
	})
	return &models.Schedule{
		Mode:      models.ModeDemo,
		UTCOffset: 0,
		Entries:   entries,
		Source:    constants.ScheduleSourceDemo,
	}
}
