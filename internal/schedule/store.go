package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/samber/lo"
	"github.com/wheelibin/sunlamp/internal/constants"
	"github.com/wheelibin/sunlamp/internal/faults"
	"github.com/wheelibin/sunlamp/internal/models"
)

type fetcher interface {
	FetchJSON(ctx context.Context, url string, token string) (json.RawMessage, error)
}

type syncedClock interface {
	Now() time.Time
	Synced() bool
}

type Config struct {
	URL             string
	Token           string
	RefreshInterval time.Duration
	StaleThreshold  time.Duration
	DefaultMode     models.Mode
}

// Store fetches, validates and caches the schedule. The cache is either
// replaced whole by a successful fetch or left exactly as it was.
type Store struct {
	logger   *log.Logger
	cfg      Config
	fetcher  fetcher
	clock    syncedClock
	daylight *Daylight

	mu        sync.RWMutex
	current   *models.Schedule
	lastFetch time.Time

	stale atomic.Bool
}

func NewStore(cfg Config, logger *log.Logger, fetcher fetcher, clock syncedClock) *Store {
	if cfg.DefaultMode == "" {
		cfg.DefaultMode = models.Mode(constants.DefaultScheduleMode)
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = constants.ScheduleStaleThreshold
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = constants.ScheduleRefreshInterval
	}
	return &Store{logger: logger, cfg: cfg, fetcher: fetcher, clock: clock}
}

// WithDaylight enables the locally computed fallback schedule
func (s *Store) WithDaylight(d *Daylight) *Store {
	s.daylight = d
	return s
}

// Fetch runs one fetch, validate and adopt cycle. On any failure the
// previous cache is kept and the error says why.
func (s *Store) Fetch(ctx context.Context) error {
	if !s.clock.Synced() {
		return fmt.Errorf("cannot compute schedule times: %w", faults.ErrClockUnsynced)
	}
	started := s.clock.Now()

	body, err := s.fetcher.FetchJSON(ctx, s.cfg.URL, s.cfg.Token)
	if err != nil {
		return fmt.Errorf("error fetching schedule: %w", err)
	}

	doc, err := parseDocument(body)
	if err != nil {
		return err
	}

	sch, err := s.normalise(doc, started)
	if err != nil {
		return err
	}

	s.adopt(sch, started)
	s.stale.Store(false)
	s.logger.Info("Schedule fetched", "entries", len(sch.Entries), "mode", sch.Mode, "utcOffset", sch.UTCOffset)
	return nil
}

func (s *Store) normalise(doc document, now time.Time) (*models.Schedule, error) {
	mode := s.cfg.DefaultMode
	switch {
	case doc.mode == nil:
		s.logger.Warn("Schedule has no mode, using default", "mode", mode)
	default:
		if m, ok := models.ParseMode(*doc.mode); ok {
			mode = m
		} else {
			s.logger.Warn("Schedule has unknown mode, using default", "received", *doc.mode, "mode", mode)
		}
	}

	// demo ignores whatever entries were sent
	if mode == models.ModeDemo {
		return DemoSchedule(now), nil
	}

	utcOffset := 0
	if doc.utcOffset == nil {
		s.logger.Warn("Schedule has no utc_offset, assuming UTC")
	} else {
		utcOffset = int(*doc.utcOffset)
	}

	if doc.serverTime != nil {
		drift := now.Sub(time.Unix(*doc.serverTime, 0)).Abs()
		if drift > constants.ServerTimeDriftTolerance {
			s.logger.Warn("Server time differs from synced clock", "drift", drift.Round(time.Second))
		}
	}

	if len(doc.entries) == 0 {
		return nil, fmt.Errorf("schedule has no entries: %w", faults.ErrValidation)
	}

	localNow := now.In(time.FixedZone("schedule", utcOffset))
	entries := lo.FilterMap(doc.entries, func(r entryRecord, i int) (models.ScheduleEntry, bool) {
		entry, err := r.toEntry(localNow, s.cfg.StaleThreshold)
		if err != nil {
			s.logger.Warn("Skipping schedule entry", "index", i, "time", r.time, "err", err)
			return models.ScheduleEntry{}, false
		}
		return entry, true
	})
	if len(entries) == 0 {
		return nil, fmt.Errorf("no valid entries out of %d: %w", len(doc.entries), faults.ErrValidation)
	}
	slices.SortStableFunc(entries, compareEntries)

	return &models.Schedule{
		Mode:      mode,
		UTCOffset: utcOffset,
		Entries:   entries,
		Source:    constants.ScheduleSourceServer,
	}, nil
}

func (s *Store) adopt(sch *models.Schedule, fetchedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = sch
	s.lastFetch = fetchedAt
}

// NeedsRefresh is true when there is no schedule, the last entry is more
// than the stale threshold behind now, or the refresh interval has passed
// since the last fetch. A push notification or a locally computed schedule
// also count as due.
func (s *Store) NeedsRefresh(now time.Time) bool {
	if s.stale.Load() {
		return true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	last, ok := s.current.LastEntry()
	if !ok {
		return true
	}
	if s.current.Source == constants.ScheduleSourceDaylight {
		return true
	}
	if now.After(last.Time().Add(s.cfg.StaleThreshold)) {
		return true
	}
	return now.Sub(s.lastFetch) > s.cfg.RefreshInterval
}

// MarkStale forces the next NeedsRefresh to report true
func (s *Store) MarkStale() {
	s.stale.Store(true)
}

// Entries returns a copy of the cached entries, sorted by time
func (s *Store) Entries() []models.ScheduleEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return []models.ScheduleEntry{}
	}
	return slices.Clone(s.current.Entries)
}

func (s *Store) Mode() models.Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return s.cfg.DefaultMode
	}
	return s.current.Mode
}

func (s *Store) Source() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return ""
	}
	return s.current.Source
}

func (s *Store) HasSchedule() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current != nil && len(s.current.Entries) > 0
}

func (s *Store) UTCOffset() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return 0
	}
	return s.current.UTCOffset
}

// LastFetch is the start time of the last successful fetch, zero if none
func (s *Store) LastFetch() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastFetch
}

// UseDemo adopts the demo table anchored at now without touching the network
func (s *Store) UseDemo(now time.Time) {
	s.adopt(DemoSchedule(now), now)
	s.logger.Info("Demo schedule set up", "entries", len(demoTable), "cycle", DemoCycle)
}

// UseFallback adopts the daylight schedule when it is enabled and there is no
// server schedule to keep. It reports whether a schedule was adopted.
func (s *Store) UseFallback(now time.Time) bool {
	if s.daylight == nil {
		return false
	}
	if s.HasSchedule() && s.Source() != constants.ScheduleSourceDaylight {
		return false
	}

	sch, err := s.daylight.Schedule(now, s.cfg.StaleThreshold)
	if err != nil {
		s.logger.Error("Unable to compute daylight schedule", "err", err)
		return false
	}

	s.mu.Lock()
	s.current = sch
	s.mu.Unlock()

	s.logger.Warn("Using locally computed daylight schedule", "entries", len(sch.Entries))
	return true
}
