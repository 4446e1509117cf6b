package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"
	"github.com/wheelibin/sunlamp/internal/app"
	"github.com/wheelibin/sunlamp/internal/config"
	"github.com/wheelibin/sunlamp/internal/logging"
	"github.com/wheelibin/sunlamp/internal/tui"
)

const defaultLogFile = "logs/sunlamp.log"

var (
	configPath = pflag.StringP("config", "c", "", "config file (default searches /etc/sunlamp, ~/.config/sunlamp and .)")
	demo       = pflag.Bool("demo", false, "loop the demo schedule without any network access")
)

func main() {
	pflag.Parse()
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.ReadConfig(*configPath)
	if err != nil {
		return err
	}

	// the terminal belongs to the dashboard, so logs always go to a file
	if cfg.Logging.File == "" {
		cfg.Logging.File = defaultLogFile
	}
	logger, err := logging.New(cfg.Logging, os.Stderr)
	if err != nil {
		return err
	}
	logger.Info("sunlamp starting")

	a, err := app.New(*cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// start the lamp loop
	lampDone := make(chan error, 1)
	go func() {
		if *demo {
			lampDone <- a.RunDemo(ctx)
		} else {
			lampDone <- a.Run(ctx)
		}
	}()

	// run the terminal UI until the user quits
	uiErr := tui.Run(ctx, a.StatusUpdates())
	if errors.Is(uiErr, tea.ErrProgramKilled) {
		uiErr = nil
	}

	// cleanup before exit
	cancel()
	lampErr := <-lampDone
	logger.Info("sunlamp is closing")
	return errors.Join(uiErr, lampErr)
}
