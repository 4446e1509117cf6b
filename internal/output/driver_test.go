package output_test

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/wheelibin/sunlamp/internal/clock"
	"github.com/wheelibin/sunlamp/internal/faults"
	"github.com/wheelibin/sunlamp/internal/models"
	"github.com/wheelibin/sunlamp/internal/output"
)

var testLogger = log.NewWithOptions(os.Stderr, log.Options{Level: log.FatalLevel})

type mockWriter struct {
	mock.Mock
}

func (m *mockWriter) WriteDuty(warm int, cool int) error {
	args := m.Called(warm, cool)
	return args.Error(0)
}

type memJournal struct {
	records []models.OutputRecord
}

func (j *memJournal) Record(rec models.OutputRecord) error {
	j.records = append(j.records, rec)
	return nil
}

func Test_DutyCycle(t *testing.T) {
	tests := []struct {
		level    float64
		expected int
	}{
		{0, 0},
		{1, 65535},
		{0.5, int(math.Round(65535 * math.Pow(0.5, 2.2)))},
		{0.25, int(math.Round(65535 * math.Pow(0.25, 2.2)))},
		{-0.2, 0},
		{1.7, 65535},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, output.DutyCycle(tt.level, 2.2, 65535), "level %v", tt.level)
	}
	assert.Equal(t, 14263, output.DutyCycle(0.5, 2.2, 65535))
}

func Test_Driver(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cfg := output.Config{Gamma: 2.2, MaxDuty: 65535}

	t.Run("should clamp, gamma correct and journal", func(t *testing.T) {
		w := &mockWriter{}
		w.On("WriteDuty", 65535, 0).Return(nil).Once()
		j := &memJournal{}
		d := output.NewDriver(cfg, testLogger, w, clock.NewManual(now)).WithJournal(j)

		require.NoError(t, d.Apply(models.Brightness{Warm: 1.4, Cool: -1}, "schedule"))

		w.AssertExpectations(t)
		assert.Equal(t, models.Brightness{Warm: 1, Cool: 0}, d.Current())
		require.Len(t, j.records, 1)
		assert.Equal(t, models.OutputRecord{At: now, Warm: 1, Cool: 0, WarmDuty: 65535, CoolDuty: 0, Source: "schedule"}, j.records[0])
	})

	t.Run("should skip writing the same duty cycles twice", func(t *testing.T) {
		w := &mockWriter{}
		w.On("WriteDuty", mock.Anything, mock.Anything).Return(nil)
		j := &memJournal{}
		d := output.NewDriver(cfg, testLogger, w, clock.NewManual(now)).WithJournal(j)

		require.NoError(t, d.NightLight(models.Brightness{Warm: 0.25}))
		require.NoError(t, d.NightLight(models.Brightness{Warm: 0.25}))
		require.NoError(t, d.Off())

		w.AssertNumberOfCalls(t, "WriteDuty", 2)
		require.Len(t, j.records, 2)
		assert.Equal(t, "nightLight", j.records[0].Source)
		assert.Equal(t, "off", j.records[1].Source)
		assert.Equal(t, models.Brightness{}, d.Current())
	})

	t.Run("should report a failed write as a hardware fault", func(t *testing.T) {
		w := &mockWriter{}
		w.On("WriteDuty", mock.Anything, mock.Anything).Return(errors.New("device busy"))
		d := output.NewDriver(cfg, testLogger, w, clock.NewManual(now))

		err := d.Apply(models.Brightness{Warm: 0.5, Cool: 0.5}, "schedule")

		assert.ErrorIs(t, err, faults.ErrHardwareFault)
		assert.True(t, faults.IsFatal(err))
		assert.Equal(t, models.Brightness{}, d.Current())
	})
}

func Test_SysfsPWM(t *testing.T) {
	root := t.TempDir()
	chip := filepath.Join(root, "pwmchip0")
	for _, ch := range []string{"pwm0", "pwm1"} {
		require.NoError(t, os.MkdirAll(filepath.Join(chip, ch), 0o755))
	}

	read := func(path ...string) string {
		b, err := os.ReadFile(filepath.Join(append([]string{chip}, path...)...))
		require.NoError(t, err)
		return string(b)
	}

	pwm, err := output.OpenSysfsPWM(output.SysfsConfig{
		Root:        root,
		Chip:        0,
		WarmChannel: 0,
		CoolChannel: 1,
		PeriodNs:    100000,
		MaxDuty:     65535,
	})
	require.NoError(t, err)

	assert.Equal(t, "100000", read("pwm0", "period"))
	assert.Equal(t, "1", read("pwm1", "enable"))

	require.NoError(t, pwm.WriteDuty(65535, 0))
	assert.Equal(t, "100000", read("pwm0", "duty_cycle"))
	assert.Equal(t, "0", read("pwm1", "duty_cycle"))

	require.NoError(t, pwm.Close())
	assert.Equal(t, "0", read("pwm0", "enable"))

	_, err = output.OpenSysfsPWM(output.SysfsConfig{Root: root, WarmChannel: 1, CoolChannel: 1, PeriodNs: 1, MaxDuty: 1})
	assert.Error(t, err)
}
