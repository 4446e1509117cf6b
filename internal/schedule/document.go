package schedule

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/wheelibin/sunlamp/internal/faults"
	"github.com/wheelibin/sunlamp/internal/models"
)

// accepted spellings for the document fields, first match wins
var (
	entryListKeys = []string{"entries", "schedule"}
	warmKeys      = []string{"warm", "warmBrightness"}
	coolKeys      = []string{"cool", "coolBrightness"}
)

// document is a schedule response after field names have been normalised
type document struct {
	mode       *string
	utcOffset  *int64
	serverTime *int64
	entries    []entryRecord
}

// entryRecord is one raw entry in canonical form, values are not yet validated
type entryRecord struct {
	time  string
	warm  rawLevel
	cool  rawLevel
	label string
}

// rawLevel is a brightness as sent. A key that is present with a null or
// non numeric value is malformed, an absent key leaves value empty.
type rawLevel struct {
	value     json.Number
	malformed bool
}

func parseDocument(body []byte) (document, error) {
	var fields map[string]json.RawMessage
	if err := decode(body, &fields); err != nil {
		return document{}, fmt.Errorf("schedule is not a JSON object: %w: %w", faults.ErrValidation, err)
	}

	doc := document{}

	if raw, ok := fields["mode"]; ok && !isNull(raw) {
		var mode string
		if err := decode(raw, &mode); err == nil {
			doc.mode = &mode
		}
	}
	doc.utcOffset = optionalInt(fields["utc_offset"])
	doc.serverTime = optionalInt(fields["server_time"])

	list, ok := firstPresent(fields, entryListKeys)
	if !ok {
		return doc, nil
	}
	var rawEntries []map[string]json.RawMessage
	if err := decode(list, &rawEntries); err != nil {
		return document{}, fmt.Errorf("schedule entries are not a list of objects: %w: %w", faults.ErrValidation, err)
	}

	doc.entries = lo.Map(rawEntries, func(fields map[string]json.RawMessage, _ int) entryRecord {
		return entryRecord{
			time:  optionalString(fields["time"]),
			warm:  optionalLevel(fields, warmKeys),
			cool:  optionalLevel(fields, coolKeys),
			label: optionalString(fields["label"]),
		}
	})
	return doc, nil
}

func decode(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

func firstPresent(fields map[string]json.RawMessage, keys []string) (json.RawMessage, bool) {
	key, found := lo.Find(keys, func(k string) bool {
		raw, ok := fields[k]
		return ok && !isNull(raw)
	})
	if !found {
		return nil, false
	}
	return fields[key], true
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(bytes.TrimSpace(raw)) == "null"
}

func optionalString(raw json.RawMessage) string {
	var s string
	if isNull(raw) || decode(raw, &s) != nil {
		return ""
	}
	return s
}

func optionalLevel(fields map[string]json.RawMessage, keys []string) rawLevel {
	key, found := lo.Find(keys, func(k string) bool {
		_, ok := fields[k]
		return ok
	})
	if !found {
		return rawLevel{}
	}
	n := optionalNumber(fields[key], !isNull(fields[key]))
	return rawLevel{value: n, malformed: n == ""}
}

func optionalNumber(raw json.RawMessage, ok bool) json.Number {
	var n json.Number
	if !ok || decode(raw, &n) != nil {
		return ""
	}
	return n
}

func optionalInt(raw json.RawMessage) *int64 {
	n := optionalNumber(raw, !isNull(raw))
	if n == "" {
		return nil
	}
	if i, err := n.Int64(); err == nil {
		return &i
	}
	if f, err := n.Float64(); err == nil {
		i := int64(f)
		return &i
	}
	return nil
}

// parseClock parses "HH:MM" or "HH:MM:SS" with hours 0-23 and minutes 0-59.
// Every part must be unsigned digits. Seconds are checked then dropped.
func parseClock(s string) (hour int, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 || !lo.EveryBy(parts, isDigits) {
		return 0, 0, fmt.Errorf("invalid time format %q: %w", s, faults.ErrValidation)
	}
	hour, _ = strconv.Atoi(parts[0])
	if hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q: %w", s, faults.ErrValidation)
	}
	minute, _ = strconv.Atoi(parts[1])
	if minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q: %w", s, faults.ErrValidation)
	}
	if len(parts) == 3 {
		if second, _ := strconv.Atoi(parts[2]); second > 59 {
			return 0, 0, fmt.Errorf("invalid second in %q: %w", s, faults.ErrValidation)
		}
	}
	return hour, minute, nil
}

func isDigits(s string) bool {
	return s != "" && len(s) <= 2 && strings.Trim(s, "0123456789") == ""
}

// parseLevel converts a raw brightness to [0,1]. Integers are percentages.
// Decimals up to 1 are already fractions, larger decimals are percentages.
// A missing value is 0.
func parseLevel(l rawLevel) (float64, error) {
	if l.malformed {
		return 0, fmt.Errorf("brightness is not a number: %w", faults.ErrValidation)
	}
	n := l.value
	if n == "" {
		return 0, nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, fmt.Errorf("brightness %q is not a number: %w", n, faults.ErrValidation)
	}
	_, intErr := n.Int64()
	isInteger := intErr == nil && !strings.ContainsAny(n.String(), ".eE")
	if isInteger || f > 1 {
		f = f / 100
	}
	if f < 0 || f > 1 {
		return 0, fmt.Errorf("brightness %s out of range: %w", n, faults.ErrValidation)
	}
	return f, nil
}

// toEntry validates one record and pins it to the local calendar day of
// localNow. An entry already passed by more than rollAfter refers to the
// same wall clock time tomorrow.
func (r entryRecord) toEntry(localNow time.Time, rollAfter time.Duration) (models.ScheduleEntry, error) {
	hour, minute, err := parseClock(r.time)
	if err != nil {
		return models.ScheduleEntry{}, err
	}
	warm, err := parseLevel(r.warm)
	if err != nil {
		return models.ScheduleEntry{}, fmt.Errorf("warm: %w", err)
	}
	cool, err := parseLevel(r.cool)
	if err != nil {
		return models.ScheduleEntry{}, fmt.Errorf("cool: %w", err)
	}

	at := wallClockOn(localNow, hour, minute, rollAfter)
	return models.ScheduleEntry{
		UnixTime: at.Unix(),
		Warm:     warm,
		Cool:     cool,
		Label:    r.label,
	}, nil
}

// wallClockOn returns hour:minute on the calendar day of localNow, in its
// zone. A fetch more than rollAfter past the last entry rolls every entry to
// tomorrow, so overnight the lamp clamps to tomorrow's first entry rather
// than holding the evening entry it just passed.
func wallClockOn(localNow time.Time, hour int, minute int, rollAfter time.Duration) time.Time {
	at := time.Date(localNow.Year(), localNow.Month(), localNow.Day(), hour, minute, 0, 0, localNow.Location())
	if rollAfter > 0 && localNow.Sub(at) > rollAfter {
		at = at.AddDate(0, 0, 1)
	}
	return at
}
