package output

import (
	"fmt"
	"math"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/wheelibin/sunlamp/internal/clock"
	"github.com/wheelibin/sunlamp/internal/constants"
	"github.com/wheelibin/sunlamp/internal/faults"
	"github.com/wheelibin/sunlamp/internal/models"
)

// DutyWriter drives the two physical channels
type DutyWriter interface {
	WriteDuty(warm int, cool int) error
}

type journal interface {
	Record(rec models.OutputRecord) error
}

type Config struct {
	Gamma   float64
	MaxDuty int
}

// Driver gamma corrects perceived brightness into duty cycles and remembers
// what was last applied
type Driver struct {
	logger  *log.Logger
	cfg     Config
	writer  DutyWriter
	clock   clock.Clock
	journal journal

	mu       sync.Mutex
	current  models.Brightness
	lastDuty [2]int
	applied  bool
}

func NewDriver(cfg Config, logger *log.Logger, writer DutyWriter, clk clock.Clock) *Driver {
	if cfg.Gamma <= 0 {
		cfg.Gamma = constants.GammaCorrection
	}
	if cfg.MaxDuty <= 0 {
		cfg.MaxDuty = constants.MaxDutyCycle
	}
	return &Driver{logger: logger, cfg: cfg, writer: writer, clock: clk}
}

// WithJournal records every change of output
func (d *Driver) WithJournal(j journal) *Driver {
	d.journal = j
	return d
}

// Apply clamps b to [0,1] and drives the channels. Writing the same duty
// cycles twice in a row is skipped. A failed write is a hardware fault.
func (d *Driver) Apply(b models.Brightness, source string) error {
	b = b.Clamped()
	warmDuty := DutyCycle(b.Warm, d.cfg.Gamma, d.cfg.MaxDuty)
	coolDuty := DutyCycle(b.Cool, d.cfg.Gamma, d.cfg.MaxDuty)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.applied && d.lastDuty == [2]int{warmDuty, coolDuty} {
		d.current = b
		return nil
	}

	if err := d.writer.WriteDuty(warmDuty, coolDuty); err != nil {
		return fmt.Errorf("error driving output (warm=%d cool=%d): %w: %w", warmDuty, coolDuty, faults.ErrHardwareFault, err)
	}
	d.current = b
	d.lastDuty = [2]int{warmDuty, coolDuty}
	d.applied = true

	d.logger.Debug("Output applied", "source", source, "warm", b.Warm, "cool", b.Cool, "warmDuty", warmDuty, "coolDuty", coolDuty)

	if d.journal != nil {
		err := d.journal.Record(models.OutputRecord{
			At:       d.clock.Now(),
			Warm:     b.Warm,
			Cool:     b.Cool,
			WarmDuty: warmDuty,
			CoolDuty: coolDuty,
			Source:   source,
		})
		if err != nil {
			d.logger.Warn("Unable to journal output", "err", err)
		}
	}
	return nil
}

// NightLight applies the warm only fallback
func (d *Driver) NightLight(b models.Brightness) error {
	return d.Apply(b, constants.SourceNightLight)
}

func (d *Driver) Off() error {
	return d.Apply(models.Brightness{}, constants.SourceOff)
}

// Current is the last applied perceived brightness
func (d *Driver) Current() models.Brightness {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// DutyCycle maps a perceived level in [0,1] to round(maxDuty * level^gamma)
func DutyCycle(level float64, gamma float64, maxDuty int) int {
	level = math.Max(0, math.Min(1, level))
	return int(math.Round(float64(maxDuty) * math.Pow(level, gamma)))
}
