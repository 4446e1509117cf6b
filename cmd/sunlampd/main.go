package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/wheelibin/sunlamp/internal/app"
	"github.com/wheelibin/sunlamp/internal/config"
	"github.com/wheelibin/sunlamp/internal/logging"
)

var (
	configPath = pflag.StringP("config", "c", "", "config file (default searches /etc/sunlamp, ~/.config/sunlamp and .)")
	demo       = pflag.Bool("demo", false, "loop the demo schedule without any network access")
	history    = pflag.Int("history", 0, "print the last N applied outputs from the journal and exit")
)

func main() {
	pflag.Parse()
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	// read the config file
	cfg, err := config.ReadConfig(*configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging, os.Stderr)
	if err != nil {
		return err
	}
	logger.Info("sunlampd starting", "client", cfg.ClientName)

	// create/wire up services
	a, err := app.New(*cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if *history > 0 {
		return printHistory(a, *history)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *demo {
		err = a.RunDemo(ctx)
	} else {
		err = a.Run(ctx)
	}
	if err != nil {
		logger.Error("sunlampd stopped", "err", err)
		return err
	}

	logger.Info("sunlampd is closing")
	return nil
}

func printHistory(a *app.App, limit int) error {
	if a.Journal() == nil {
		return errors.New("no output journal configured (output.journalPath)")
	}
	records, err := a.Journal().Recent(limit)
	if err != nil {
		return err
	}
	for _, r := range records {
		fmt.Printf("%s  %-10s  warm=%.3f (%5d)  cool=%.3f (%5d)\n",
			r.At.Local().Format(time.DateTime), r.Source, r.Warm, r.WarmDuty, r.Cool, r.CoolDuty)
	}
	return nil
}
