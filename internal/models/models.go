package models

import (
	"fmt"
	"time"
)

// Mode is the operating mode requested by the schedule server
type Mode string

const (
	ModeDayNight  Mode = "dayNight"
	ModeScheduled Mode = "scheduled"
	ModeDemo      Mode = "demo"
)

// ParseMode maps a server mode string onto a known Mode
func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case ModeDayNight, ModeScheduled, ModeDemo:
		return Mode(s), true
	}
	return "", false
}

// Brightness is a perceived (pre-gamma) warm/cool output pair, each in [0,1]
type Brightness struct {
	Warm float64
	Cool float64
}

func (b Brightness) String() string {
	return fmt.Sprintf("warm=%.3f cool=%.3f", b.Warm, b.Cool)
}

// Clamped returns b with both channels limited to [0,1]
func (b Brightness) Clamped() Brightness {
	return Brightness{Warm: clamp01(b.Warm), Cool: clamp01(b.Cool)}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ScheduleEntry is one validated point of the daylight curve.
// Values are never modified after the entry is built.
type ScheduleEntry struct {
	UnixTime int64
	Warm     float64
	Cool     float64
	Label    string
}

func (e ScheduleEntry) Time() time.Time {
	return time.Unix(e.UnixTime, 0)
}

func (e ScheduleEntry) Brightness() Brightness {
	return Brightness{Warm: e.Warm, Cool: e.Cool}
}

// Schedule is an adopted, sorted set of entries
type Schedule struct {
	Mode      Mode
	UTCOffset int
	Entries   []ScheduleEntry
	// where the entries came from (server, demo, daylight)
	Source string
}

// LastEntry returns the latest entry, entries are kept sorted ascending
func (s *Schedule) LastEntry() (ScheduleEntry, bool) {
	if s == nil || len(s.Entries) == 0 {
		return ScheduleEntry{}, false
	}
	return s.Entries[len(s.Entries)-1], true
}

// DayPatternStep is a locally configured step of the daylight fallback pattern.
// Time is either "HH:MM" or relative to the sun, e.g "sunrise", "sunset-1h"
type DayPatternStep struct {
	Time  string  `mapstructure:"time"`
	Warm  float64 `mapstructure:"warm"`
	Cool  float64 `mapstructure:"cool"`
	Label string  `mapstructure:"label"`
}

// OutputRecord is one applied output, as written to the journal
type OutputRecord struct {
	At       time.Time
	Warm     float64
	Cool     float64
	WarmDuty int
	CoolDuty int
	// what produced the output (schedule, demo, nightLight, off)
	Source string
}
