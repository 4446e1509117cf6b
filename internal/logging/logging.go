package logging

import (
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	"github.com/wheelibin/sunlamp/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

const timeFormat = "2006/01/02 15:04:05"

// New builds the process logger. Output goes to the rotating log file when
// one is configured, otherwise to w.
func New(cfg config.LoggingConfig, w io.Writer) (*log.Logger, error) {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid logging.level: %w", err)
	}

	if cfg.File != "" {
		w = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    5, // megabytes
			MaxBackups: 3,
			MaxAge:     3, // days
		}
	}

	return log.NewWithOptions(w, log.Options{
		Level:           level,
		ReportTimestamp: true,
		ReportCaller:    true,
		TimeFormat:      timeFormat,
	}), nil
}
