package lamp

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/wheelibin/sunlamp/internal/clock"
	"github.com/wheelibin/sunlamp/internal/constants"
	"github.com/wheelibin/sunlamp/internal/faults"
	"github.com/wheelibin/sunlamp/internal/models"
	"github.com/wheelibin/sunlamp/internal/schedule"
	"github.com/wheelibin/sunlamp/internal/transition"
)

type Link interface {
	Connect(ctx context.Context) error
	Connected() bool
}

type TimeSyncer interface {
	SyncTime(ctx context.Context) (time.Time, error)
}

type ScheduleStore interface {
	Fetch(ctx context.Context) error
	NeedsRefresh(now time.Time) bool
	Entries() []models.ScheduleEntry
	Mode() models.Mode
	Source() string
	HasSchedule() bool
	UseDemo(now time.Time)
	UseFallback(now time.Time) bool
}

type Output interface {
	Apply(b models.Brightness, source string) error
	NightLight(b models.Brightness) error
	Off() error
}

// EventSink receives best effort copies of the lamp's log events
type EventSink interface {
	Send(level log.Level, msg string, keyvals ...any)
}

type Config struct {
	TickInterval time.Duration
	StartupRetry time.Duration
	RefreshRetry time.Duration
	DemoInterval time.Duration
	NightLight   models.Brightness
}

// Lamp sequences startup and drives the periodic tick. Only a hardware
// fault stops it, every other failure falls back to the night light or the
// cached schedule.
type Lamp struct {
	logger *log.Logger
	cfg    Config
	clock  clock.Clock
	link   Link
	syncer TimeSyncer
	store  ScheduleStore
	output Output
	engine transition.Engine
	events EventSink

	mu              sync.Mutex
	state           State
	startupComplete bool
	lastError       string
	target          models.Brightness
	mode            models.Mode
	source          string
	entryCount      int

	// ticks never overlap
	busy atomic.Bool
	// earliest time for the next refresh attempt after a failed one
	nextRefresh time.Time

	statusChannel chan Status
}

func NewLamp(
	cfg Config,
	logger *log.Logger,
	clk clock.Clock,
	link Link,
	syncer TimeSyncer,
	store ScheduleStore,
	output Output,
) *Lamp {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = constants.TickInterval
	}
	if cfg.StartupRetry <= 0 {
		cfg.StartupRetry = constants.StartupRetryInterval
	}
	if cfg.RefreshRetry <= 0 {
		cfg.RefreshRetry = constants.RefreshRetryInterval
	}
	if cfg.DemoInterval <= 0 {
		cfg.DemoInterval = constants.DemoTickInterval
	}
	return &Lamp{
		logger:        logger,
		cfg:           cfg,
		clock:         clk,
		link:          link,
		syncer:        syncer,
		store:         store,
		output:        output,
		engine:        transition.NewEngine(cfg.NightLight),
		state:         SafeMode,
		statusChannel: make(chan Status, 1),
	}
}

// WithEvents forwards the lamp's log events to sink
func (l *Lamp) WithEvents(sink EventSink) *Lamp {
	l.events = sink
	return l
}

func (l *Lamp) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// StatusUpdates delivers the latest status, older unread snapshots are replaced
func (l *Lamp) StatusUpdates() <-chan Status {
	return l.statusChannel
}

// Run lights the lamp, runs startup and then ticks until ctx is done. A
// failed startup is retried after StartupRetry. The returned error is
// always a hardware fault.
func (l *Lamp) Run(ctx context.Context) error {
	l.logger.Debug("Lamp.Run")
	l.report(log.InfoLevel, "Lamp Controller starting")

	startupErr := l.Startup(ctx)
	if faults.IsFatal(startupErr) {
		return startupErr
	}

	retryTimer := time.NewTimer(l.cfg.StartupRetry)
	defer retryTimer.Stop()
	if startupErr == nil {
		retryTimer.Stop()
	}

	ticker := time.NewTicker(l.cfg.TickInterval)
	defer ticker.Stop()
	l.report(log.InfoLevel, "Timer started", "interval", l.cfg.TickInterval)

	// start the main application loop
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("Lamp.Run: stop signal received")
			return nil

		case <-retryTimer.C:
			l.logger.Info("Retrying startup sequence")
			err := l.Startup(ctx)
			if faults.IsFatal(err) {
				return err
			}
			if err != nil {
				retryTimer.Reset(l.cfg.StartupRetry)
			}

		case <-ticker.C:
			if !l.isStartupComplete() {
				// safe mode holds the night light until startup succeeds
				continue
			}
			if err := l.Tick(ctx); faults.IsFatal(err) {
				l.report(log.ErrorLevel, "Output stage failed, stopping", "err", err)
				return err
			}
		}
	}
}

// Startup runs night light, link, time sync and schedule fetch in that
// order. Any failure returns the lamp to SafeMode with the night light on.
func (l *Lamp) Startup(ctx context.Context) error {
	if err := l.enterSafeMode(); err != nil {
		return err
	}
	l.report(log.InfoLevel, "Night light active")

	l.setState(ConnectingWifi)
	if err := l.link.Connect(ctx); err != nil {
		return l.startupFailed("WiFi connection failed", err)
	}
	l.report(log.InfoLevel, "WiFi connected")

	l.setState(SyncingTime)
	if _, err := l.syncer.SyncTime(ctx); err != nil {
		return l.startupFailed("NTP time sync failed, cannot evaluate schedule times", err)
	}
	l.report(log.InfoLevel, "NTP time sync successful")

	l.setState(FetchingSchedule)
	if err := l.store.Fetch(ctx); err != nil {
		switch {
		case l.store.HasSchedule():
			l.report(log.WarnLevel, "Schedule fetch failed, using cached schedule", "err", err)
		case l.store.UseFallback(l.clock.Now()):
			l.report(log.WarnLevel, "Schedule fetch failed, using daylight schedule", "err", err)
			l.nextRefresh = l.clock.Now().Add(l.cfg.RefreshRetry)
		default:
			return l.startupFailed("Schedule fetch failed, staying in night light mode", err)
		}
	} else {
		l.report(log.InfoLevel, "Schedule fetched", "mode", l.store.Mode())
	}

	l.mu.Lock()
	l.startupComplete = true
	l.lastError = ""
	l.mu.Unlock()
	l.setState(Operating)

	// apply the schedule straight away rather than waiting for the first tick
	if err := l.applyTarget(l.clock.Now()); err != nil {
		return err
	}
	l.report(log.InfoLevel, "Startup sequence complete")
	return nil
}

func (l *Lamp) startupFailed(msg string, err error) error {
	l.report(log.ErrorLevel, msg, "err", err, "retryIn", l.cfg.StartupRetry)
	l.setLastError(err)
	if safeErr := l.enterSafeMode(); safeErr != nil {
		return safeErr
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func (l *Lamp) enterSafeMode() error {
	l.setState(SafeMode)
	if err := l.output.NightLight(l.cfg.NightLight); err != nil {
		l.report(log.ErrorLevel, "Unable to apply night light", "err", err)
		return err
	}
	l.setTarget(l.cfg.NightLight)
	return nil
}

// Tick refreshes the schedule when due and applies the current target. A
// tick that fires while the previous one is still running is skipped.
func (l *Lamp) Tick(ctx context.Context) error {
	if !l.busy.CompareAndSwap(false, true) {
		l.logger.Debug("Previous tick still running, skipping")
		return nil
	}
	defer l.busy.Store(false)

	return l.tick(ctx)
}

func (l *Lamp) tick(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = l.recoverTick(fmt.Errorf("%w: %v", faults.ErrUnexpected, r))
		}
	}()

	now := l.clock.Now()
	l.refreshIfDue(ctx, now)
	return l.applyTarget(now)
}

// recoverTick forces the night light and keeps the lamp operating
func (l *Lamp) recoverTick(cause error) error {
	l.report(log.ErrorLevel, "Timer callback error, falling back to night light", "err", cause)
	l.setLastError(cause)
	if err := l.output.NightLight(l.cfg.NightLight); err != nil {
		return err
	}
	l.setTarget(l.cfg.NightLight)
	l.setState(Operating)
	return nil
}

func (l *Lamp) refreshIfDue(ctx context.Context, now time.Time) {
	if !l.store.NeedsRefresh(now) || now.Before(l.nextRefresh) {
		return
	}
	l.report(log.DebugLevel, "Schedule refresh needed")

	if !l.link.Connected() {
		if err := l.link.Connect(ctx); err != nil {
			l.report(log.ErrorLevel, "WiFi reconnection failed, using cached schedule", "err", err)
			l.setLastError(err)
			l.nextRefresh = now.Add(l.cfg.RefreshRetry)
			return
		}
	}

	if err := l.store.Fetch(ctx); err != nil {
		l.report(log.ErrorLevel, "Schedule refresh failed, using cached schedule", "err", err, "retryIn", l.cfg.RefreshRetry)
		l.setLastError(err)
		l.nextRefresh = now.Add(l.cfg.RefreshRetry)
		if l.store.UseFallback(now) {
			l.logger.Info("Daylight schedule regenerated")
		}
		return
	}

	l.nextRefresh = time.Time{}
	l.setLastError(nil)
	l.report(log.InfoLevel, "Schedule refreshed", "mode", l.store.Mode())
}

func (l *Lamp) applyTarget(now time.Time) error {
	entries := l.store.Entries()
	mode := l.store.Mode()

	var (
		target models.Brightness
		source string
	)
	if mode == models.ModeDemo {
		target = l.engine.DemoTargetAt(now, entries, schedule.DemoCycle)
		source = constants.SourceDemo
	} else {
		target = l.engine.TargetAt(now, entries)
		source = constants.SourceSchedule
	}

	if err := l.output.Apply(target, source); err != nil {
		return err
	}
	scheduleSource := l.store.Source()
	l.mu.Lock()
	l.target = target
	l.mode = mode
	l.source = scheduleSource
	l.entryCount = len(entries)
	l.mu.Unlock()

	l.publish(now)
	return nil
}

// RunDemo cycles the demo table locally without touching the network
func (l *Lamp) RunDemo(ctx context.Context) error {
	l.report(log.InfoLevel, "Starting demo mode (no network)")

	l.store.UseDemo(l.clock.Now())
	l.mu.Lock()
	l.startupComplete = true
	l.mu.Unlock()
	l.setState(Operating)
	l.report(log.InfoLevel, "Demo looping continuously", "cycle", schedule.DemoCycle)

	ticker := time.NewTicker(l.cfg.DemoInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.report(log.InfoLevel, "Demo mode interrupted")
			return nil
		case <-ticker.C:
			now := l.clock.Now()
			// keep the demo anchored near now
			if l.store.NeedsRefresh(now) {
				l.store.UseDemo(now)
			}
			if err := l.applyTarget(now); err != nil {
				return err
			}
		}
	}
}

// Stop turns both channels off
func (l *Lamp) Stop() error {
	err := l.output.Off()
	l.setTarget(models.Brightness{})
	if err != nil {
		l.report(log.ErrorLevel, "Unable to turn the lamp off", "err", err)
		return err
	}
	l.report(log.InfoLevel, "Lamp Controller stopped")
	return nil
}

func (l *Lamp) isStartupComplete() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.startupComplete
}

func (l *Lamp) setState(s State) {
	l.mu.Lock()
	prev := l.state
	l.state = s
	l.mu.Unlock()

	if prev != s {
		l.logger.Debug("State changed", "from", prev, "to", s)
		l.publish(l.clock.Now())
	}
}

func (l *Lamp) setTarget(b models.Brightness) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.target = b
}

func (l *Lamp) setLastError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err == nil {
		l.lastError = ""
		return
	}
	l.lastError = err.Error()
}

func (l *Lamp) publish(now time.Time) {
	l.mu.Lock()
	status := Status{
		At:        now,
		State:     l.state,
		Mode:      l.mode,
		Source:    l.source,
		Target:    l.target,
		Entries:   l.entryCount,
		LastError: l.lastError,
	}
	l.mu.Unlock()

	// replace any snapshot nobody has read yet
	select {
	case l.statusChannel <- status:
	default:
		select {
		case <-l.statusChannel:
		default:
		}
		select {
		case l.statusChannel <- status:
		default:
		}
	}
}

// report logs locally and forwards to the event sink
func (l *Lamp) report(level log.Level, msg string, keyvals ...any) {
	l.logger.Helper()
	l.logger.Log(level, msg, keyvals...)
	if l.events != nil {
		l.events.Send(level, msg, keyvals...)
	}
}
