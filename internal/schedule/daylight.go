package schedule

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/nathan-osman/go-sunrise"
	"github.com/wheelibin/sunlamp/internal/constants"
	"github.com/wheelibin/sunlamp/internal/models"
)

// DefaultDayPattern is used when daylight fallback is enabled without a pattern
var DefaultDayPattern = []models.DayPatternStep{
	{Time: "sunrise-1h", Warm: 0.10, Cool: 0.00, Label: "pre_dawn"},
	{Time: "sunrise", Warm: 0.60, Cool: 0.20, Label: "sunrise"},
	{Time: "sunrise+2h", Warm: 0.90, Cool: 1.00, Label: "morning"},
	{Time: "sunset-2h", Warm: 0.80, Cool: 0.50, Label: "afternoon"},
	{Time: "sunset", Warm: 0.50, Cool: 0.10, Label: "sunset"},
	{Time: "sunset+1h", Warm: 0.20, Cool: 0.00, Label: "dusk"},
	{Time: "22:30", Warm: 0.10, Cool: 0.00, Label: "night"},
}

// Daylight builds a day/night schedule locally from sunrise and sunset at a
// fixed location, for when the schedule server cannot be reached
type Daylight struct {
	logger    *log.Logger
	lat       float64
	lng       float64
	utcOffset int
	pattern   []models.DayPatternStep
}

func NewDaylight(logger *log.Logger, geoLocation string, utcOffset int, pattern []models.DayPatternStep) (*Daylight, error) {
	lat, lng, err := parseGeoLocation(geoLocation)
	if err != nil {
		return nil, err
	}
	if len(pattern) == 0 {
		pattern = DefaultDayPattern
	}
	for _, step := range pattern {
		if step.Warm < 0 || step.Warm > 1 || step.Cool < 0 || step.Cool > 1 {
			return nil, fmt.Errorf("daylight pattern step %q: brightness must be within 0-1", step.Time)
		}
	}
	return &Daylight{logger: logger, lat: lat, lng: lng, utcOffset: utcOffset, pattern: pattern}, nil
}

// Schedule computes today's entries. Steps already passed by more than
// rollAfter are moved to tomorrow, like server entries.
func (d *Daylight) Schedule(now time.Time, rollAfter time.Duration) (*models.Schedule, error) {
	localNow := now.In(time.FixedZone("schedule", d.utcOffset))

	rise, set := sunrise.SunriseSunset(d.lat, d.lng, localNow.Year(), localNow.Month(), localNow.Day())
	if rise.IsZero() || set.IsZero() {
		return nil, errors.New("no sunrise or sunset at this location today")
	}
	d.logger.Info("Calculated local sunrise and sunset",
		"sunrise", rise.In(localNow.Location()).Format("15:04"),
		"sunset", set.In(localNow.Location()).Format("15:04"),
	)

	entries := make([]models.ScheduleEntry, 0, len(d.pattern))
	for _, step := range d.pattern {
		at, err := TimeFromPattern(step.Time, rise, set, localNow)
		if err != nil {
			d.logger.Warn("Skipping daylight pattern step", "time", step.Time, "err", err)
			continue
		}
		if rollAfter > 0 && localNow.Sub(at) > rollAfter {
			at = at.AddDate(0, 0, 1)
		}
		entries = append(entries, models.ScheduleEntry{
			UnixTime: at.Unix(),
			Warm:     step.Warm,
			Cool:     step.Cool,
			Label:    step.Label,
		})
	}
	if len(entries) == 0 {
		return nil, errors.New("daylight pattern produced no entries")
	}
	slices.SortStableFunc(entries, compareEntries)

	return &models.Schedule{
		Mode:      models.ModeDayNight,
		UTCOffset: d.utcOffset,
		Entries:   entries,
		Source:    constants.ScheduleSourceDaylight,
	}, nil
}

// TimeFromPattern resolves a pattern time ("sunrise", "sunset-1h", "19:30")
// on the day of baseDate
func TimeFromPattern(patternTime string, sunrise time.Time, sunset time.Time, baseDate time.Time) (time.Time, error) {

	// sunrise or sunrise offset
	if strings.HasPrefix(patternTime, "sunrise") {
		return timeFromAstronomicalPatternTime(patternTime, "sunrise", sunrise.In(baseDate.Location()))
	}

	// sunset or sunset offset
	if strings.HasPrefix(patternTime, "sunset") {
		return timeFromAstronomicalPatternTime(patternTime, "sunset", sunset.In(baseDate.Location()))
	}

	// time e.g 19:30
	hour, minute, err := parseClock(patternTime)
	if err != nil {
		return time.Time{}, err
	}
	return wallClockOn(baseDate, hour, minute, 0), nil
}

// returns an adjusted eventTime e.g ("sunset-1h", "sunset", 2023-06-27 21:43:18) -> 2023-06-27 20:43:18
func timeFromAstronomicalPatternTime(patternTime string, event string, eventTime time.Time) (time.Time, error) {
	if patternTime == event {
		return eventTime, nil
	}
	offset, err := time.ParseDuration(patternTime[len(event):])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid offset in %q: %w", patternTime, err)
	}
	return eventTime.Add(offset), nil
}

func parseGeoLocation(geoLocation string) (float64, float64, error) {
	latLng := strings.Split(geoLocation, ",")
	if len(latLng) != 2 {
		return 0, 0, fmt.Errorf("geoLocation %q must be \"lat,lng\"", geoLocation)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latLng[0]), 64)
	if err != nil || lat < -90 || lat > 90 {
		return 0, 0, fmt.Errorf("invalid latitude in %q", geoLocation)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(latLng[1]), 64)
	if err != nil || lng < -180 || lng > 180 {
		return 0, 0, fmt.Errorf("invalid longitude in %q", geoLocation)
	}
	return lat, lng, nil
}

func compareEntries(a, b models.ScheduleEntry) int {
	return cmp.Compare(a.UnixTime, b.UnixTime)
}
