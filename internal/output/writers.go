package output

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
)

// LogWriter only logs the duty cycles, for running without PWM hardware
type LogWriter struct {
	logger *log.Logger
}

func NewLogWriter(logger *log.Logger) *LogWriter {
	return &LogWriter{logger: logger}
}

func (w *LogWriter) WriteDuty(warm int, cool int) error {
	w.logger.Info("PWM", "warm", warm, "cool", cool)
	return nil
}

const sysfsPWMRoot = "/sys/class/pwm"

// SysfsPWM drives two channels of a Linux PWM chip through sysfs
type SysfsPWM struct {
	chipDir     string
	warmChannel int
	coolChannel int
	periodNs    int
	maxDuty     int
}

type SysfsConfig struct {
	// defaults to /sys/class/pwm
	Root        string
	Chip        int
	WarmChannel int
	CoolChannel int
	PeriodNs    int
	MaxDuty     int
}

// OpenSysfsPWM exports and enables both channels
func OpenSysfsPWM(cfg SysfsConfig) (*SysfsPWM, error) {
	if cfg.Root == "" {
		cfg.Root = sysfsPWMRoot
	}
	if cfg.PeriodNs <= 0 || cfg.MaxDuty <= 0 {
		return nil, errors.New("pwm period and max duty must be positive")
	}
	if cfg.WarmChannel == cfg.CoolChannel {
		return nil, errors.New("warm and cool pwm channels must differ")
	}

	p := &SysfsPWM{
		chipDir:     filepath.Join(cfg.Root, fmt.Sprintf("pwmchip%d", cfg.Chip)),
		warmChannel: cfg.WarmChannel,
		coolChannel: cfg.CoolChannel,
		periodNs:    cfg.PeriodNs,
		maxDuty:     cfg.MaxDuty,
	}

	for _, ch := range []int{p.warmChannel, p.coolChannel} {
		if err := p.setup(ch); err != nil {
			return nil, fmt.Errorf("error setting up pwm channel %d: %w", ch, err)
		}
	}
	return p, nil
}

func (p *SysfsPWM) setup(channel int) error {
	dir := p.channelDir(channel)
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		if err := writeValue(filepath.Join(p.chipDir, "export"), channel); err != nil {
			return err
		}
		// udev needs a moment to fix permissions on the new channel
		if err := waitFor(dir, time.Second); err != nil {
			return err
		}
	}
	if err := writeValue(filepath.Join(dir, "period"), p.periodNs); err != nil {
		return err
	}
	if err := writeValue(filepath.Join(dir, "duty_cycle"), 0); err != nil {
		return err
	}
	return writeValue(filepath.Join(dir, "enable"), 1)
}

func (p *SysfsPWM) WriteDuty(warm int, cool int) error {
	if err := writeValue(filepath.Join(p.channelDir(p.warmChannel), "duty_cycle"), p.dutyNs(warm)); err != nil {
		return err
	}
	return writeValue(filepath.Join(p.channelDir(p.coolChannel), "duty_cycle"), p.dutyNs(cool))
}

// Close disables both channels
func (p *SysfsPWM) Close() error {
	return errors.Join(
		writeValue(filepath.Join(p.channelDir(p.warmChannel), "enable"), 0),
		writeValue(filepath.Join(p.channelDir(p.coolChannel), "enable"), 0),
	)
}

func (p *SysfsPWM) channelDir(channel int) string {
	return filepath.Join(p.chipDir, fmt.Sprintf("pwm%d", channel))
}

func (p *SysfsPWM) dutyNs(duty int) int {
	return int(int64(p.periodNs) * int64(duty) / int64(p.maxDuty))
}

func writeValue(path string, v int) error {
	return os.WriteFile(path, []byte(strconv.Itoa(v)), 0o644)
}

func waitFor(path string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%s did not appear", path)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
