package transition

import (
	"math"
	"time"

	"github.com/wheelibin/sunlamp/internal/models"
)

// Engine turns a time and a sorted entry list into a brightness target.
// It holds no state and never reads a clock.
type Engine struct {
	NightLight models.Brightness
}

func NewEngine(nightLight models.Brightness) Engine {
	return Engine{NightLight: nightLight}
}

// TargetAt interpolates linearly between the entries either side of now.
// Before the first entry it holds the first entry, at or after the last it
// holds the last, and with no entries it returns the night light.
func (e Engine) TargetAt(now time.Time, entries []models.ScheduleEntry) models.Brightness {
	if len(entries) == 0 {
		return e.NightLight
	}

	nowNs := now.UnixNano()
	nextIdx := -1
	for i, entry := range entries {
		if entry.Time().UnixNano() > nowNs {
			nextIdx = i
			break
		}
	}

	switch nextIdx {
	case -1:
		return entries[len(entries)-1].Brightness()
	case 0:
		return entries[0].Brightness()
	}

	prev := entries[nextIdx-1]
	next := entries[nextIdx]
	start := prev.Time().UnixNano()
	end := next.Time().UnixNano()
	progress := float64(nowNs-start) / float64(end-start)
	return lerpBrightness(prev.Brightness(), next.Brightness(), progress)
}

// DemoTargetAt loops over entries every cycle, measured from the first entry
func (e Engine) DemoTargetAt(now time.Time, entries []models.ScheduleEntry, cycle time.Duration) models.Brightness {
	if len(entries) == 0 {
		return e.NightLight
	}
	if cycle <= 0 || len(entries) == 1 {
		return e.TargetAt(now, entries)
	}

	start := entries[0].Time()
	elapsed := now.Sub(start) % cycle
	if elapsed < 0 {
		elapsed += cycle
	}

	offsets := make([]time.Duration, len(entries))
	for i, entry := range entries {
		offsets[i] = entry.Time().Sub(start)
	}

	// past the last entry blend towards the first entry of the next cycle
	prevIdx, nextIdx := len(entries)-1, 0
	prevOffset, nextOffset := offsets[prevIdx], cycle
	for i := 1; i < len(offsets); i++ {
		if offsets[i] > elapsed {
			prevIdx, nextIdx = i-1, i
			prevOffset, nextOffset = offsets[i-1], offsets[i]
			break
		}
	}

	span := nextOffset - prevOffset
	if span <= 0 {
		return entries[nextIdx].Brightness()
	}
	progress := float64(elapsed-prevOffset) / float64(span)
	return lerpBrightness(entries[prevIdx].Brightness(), entries[nextIdx].Brightness(), progress)
}

func lerpBrightness(from models.Brightness, to models.Brightness, progress float64) models.Brightness {
	progress = math.Max(0, math.Min(1, progress))
	return models.Brightness{
		Warm: lerp(from.Warm, to.Warm, progress),
		Cool: lerp(from.Cool, to.Cool, progress),
	}
}

// lerp never leaves the range spanned by from and to
func lerp(from float64, to float64, progress float64) float64 {
	if progress == 0 {
		return from
	}
	if progress == 1 {
		return to
	}
	v := from + (to-from)*progress
	return math.Max(math.Min(from, to), math.Min(math.Max(from, to), v))
}
