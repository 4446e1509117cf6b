// Package app wires the lamp services together from the config
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/sync/errgroup"

	"github.com/wheelibin/sunlamp/internal/clock"
	"github.com/wheelibin/sunlamp/internal/config"
	"github.com/wheelibin/sunlamp/internal/lamp"
	"github.com/wheelibin/sunlamp/internal/models"
	"github.com/wheelibin/sunlamp/internal/network"
	"github.com/wheelibin/sunlamp/internal/notify"
	"github.com/wheelibin/sunlamp/internal/output"
	"github.com/wheelibin/sunlamp/internal/remotelog"
	"github.com/wheelibin/sunlamp/internal/repos"
	"github.com/wheelibin/sunlamp/internal/schedule"
)

type closer interface {
	Close() error
}

// App owns every long running service of the lamp
type App struct {
	logger    *log.Logger
	cfg       config.Config
	clock     *clock.Synced
	client    *network.Client
	store     *schedule.Store
	lamp      *lamp.Lamp
	forwarder *remotelog.Forwarder
	events    *notify.ScheduleEvents
	journal   *repos.OutputRepo

	closers []closer
}

func New(cfg config.Config, logger *log.Logger) (*App, error) {
	a := &App{logger: logger, cfg: cfg, clock: clock.NewSynced(nil)}

	a.client = network.NewClient(network.Config{
		NTPServers:  cfg.NTP.Servers,
		NTPTimeout:  cfg.NTP.Timeout,
		HTTPTimeout: cfg.Schedule.Timeout,
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		AuthHeader:  cfg.Schedule.AuthHeader,
	}, logger, a.clock)

	link := network.NewInterfaceLink(logger, cfg.Wifi.Interface, cfg.Wifi.Timeout,
		network.WithCredentials(cfg.Wifi.SSID, cfg.Wifi.Password, network.NMCLIJoin))

	a.store = schedule.NewStore(schedule.Config{
		URL:             cfg.Schedule.URL,
		Token:           cfg.Schedule.Token,
		RefreshInterval: cfg.Schedule.RefreshInterval,
		StaleThreshold:  cfg.Schedule.StaleThreshold,
		DefaultMode:     models.Mode(cfg.Schedule.DefaultMode),
	}, logger, a.client, a.clock)

	if cfg.Daylight.Enabled {
		daylight, err := schedule.NewDaylight(logger, cfg.Daylight.GeoLocation, cfg.Daylight.UTCOffset, cfg.Daylight.Pattern)
		if err != nil {
			return nil, err
		}
		a.store.WithDaylight(daylight)
	}

	writer, err := a.openWriter()
	if err != nil {
		return nil, err
	}
	driver := output.NewDriver(output.Config{Gamma: cfg.Output.Gamma, MaxDuty: cfg.Output.MaxDuty}, logger, writer, a.clock)

	if cfg.Output.JournalPath != "" {
		a.journal, err = a.openJournal(cfg.Output.JournalPath)
		if err != nil {
			a.Close()
			return nil, err
		}
		driver.WithJournal(a.journal)
	}

	a.forwarder = remotelog.NewForwarder(remotelog.Config{
		URL:         cfg.Logging.Remote.URL,
		Token:       cfg.Logging.Remote.Token,
		ClientName:  cfg.ClientName,
		ServiceName: cfg.Logging.Remote.ServiceName,
	}, logger, a.client, link, a.clock)

	a.events = notify.NewScheduleEvents(notify.Config{
		URL:        cfg.Schedule.EventsURL,
		Stream:     cfg.Schedule.EventsStream,
		AuthHeader: cfg.Schedule.AuthHeader,
		Token:      cfg.Schedule.Token,
	}, logger, a.store)

	a.lamp = lamp.NewLamp(lamp.Config{
		TickInterval: cfg.Lamp.TickInterval,
		StartupRetry: cfg.Lamp.StartupRetry,
		RefreshRetry: cfg.Lamp.RefreshRetry,
		DemoInterval: cfg.Lamp.DemoInterval,
		NightLight:   cfg.NightLight(),
	}, logger, a.clock, link, a.client, a.store, driver)

	if a.forwarder.Enabled() {
		a.lamp.WithEvents(a.forwarder)
	}

	return a, nil
}

func (a *App) openWriter() (output.DutyWriter, error) {
	if a.cfg.Output.Driver != "sysfs" {
		a.logger.Warn("No PWM driver configured, output will only be logged")
		return output.NewLogWriter(a.logger), nil
	}
	pwm, err := output.OpenSysfsPWM(output.SysfsConfig{
		Chip:        a.cfg.Output.PWMChip,
		WarmChannel: a.cfg.Output.WarmChannel,
		CoolChannel: a.cfg.Output.CoolChannel,
		PeriodNs:    a.cfg.Output.PeriodNs,
		MaxDuty:     a.cfg.Output.MaxDuty,
	})
	if err != nil {
		return nil, fmt.Errorf("error opening pwm output: %w", err)
	}
	a.closers = append(a.closers, pwm)
	return pwm, nil
}

func (a *App) openJournal(path string) (*repos.OutputRepo, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("error opening output journal: %w", err)
	}
	a.closers = append(a.closers, db)

	journal, err := repos.NewOutputRepo(a.logger, db)
	if err != nil {
		return nil, err
	}

	last, err := journal.Last()
	if err != nil {
		a.logger.Warn("Unable to read the output journal", "err", err)
	} else if last != nil {
		a.logger.Info("Last output before restart", "at", last.At.Format(time.DateTime), "warm", last.Warm, "cool", last.Cool, "source", last.Source)
	}
	return journal, nil
}

// Journal is nil when no journal path is configured
func (a *App) Journal() *repos.OutputRepo {
	return a.journal
}

func (a *App) StatusUpdates() <-chan lamp.Status {
	return a.lamp.StatusUpdates()
}

// Run starts the lamp and its helpers and blocks until ctx is done or the
// output stage fails. The lamp is switched off before returning.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.forwarder.Run(gCtx)
		return nil
	})
	g.Go(func() error {
		a.events.Run(gCtx)
		return nil
	})
	g.Go(func() error {
		a.pruneJournal(gCtx)
		return nil
	})

	runErr := a.lamp.Run(gCtx)
	cancel()
	return errors.Join(runErr, g.Wait(), a.lamp.Stop())
}

// RunDemo loops the demo table without any network access
func (a *App) RunDemo(ctx context.Context) error {
	runErr := a.lamp.RunDemo(ctx)
	return errors.Join(runErr, a.lamp.Stop())
}

// pruneJournal trims old output records once the clock can be trusted, then daily
func (a *App) pruneJournal(ctx context.Context) {
	if a.journal == nil || a.cfg.Output.JournalRetention <= 0 {
		return
	}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	var lastPrune time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := a.clock.Now()
			if !a.clock.Synced() || now.Sub(lastPrune) < 24*time.Hour {
				continue
			}
			if _, err := a.journal.Prune(now.Add(-a.cfg.Output.JournalRetention)); err != nil {
				a.logger.Warn("Unable to prune the output journal", "err", err)
			}
			lastPrune = now
		}
	}
}

// Close releases the PWM channels and the journal
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Warn("Error closing", "err", err)
		}
	}
	a.closers = nil
}
