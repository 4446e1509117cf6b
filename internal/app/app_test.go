package app_test

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wheelibin/sunlamp/internal/app"
	"github.com/wheelibin/sunlamp/internal/config"
	"github.com/wheelibin/sunlamp/internal/lamp"
	"github.com/wheelibin/sunlamp/internal/models"
)

var testLogger = log.NewWithOptions(os.Stderr, log.Options{Level: log.FatalLevel})

func Test_RunDemo(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(configPath, []byte(`{
    "lamp": { "demoInterval": "10ms" },
    "output": { "driver": "log", "journalPath": "`+filepath.Join(dir, "journal.db")+`" }
  }`), 0o600))

	cfg, err := config.ReadConfig(configPath)
	require.NoError(t, err)

	a, err := app.New(*cfg, testLogger)
	require.NoError(t, err)
	defer a.Close()
	require.NotNil(t, a.Journal())

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	require.NoError(t, a.RunDemo(ctx))

	records, err := a.Journal().Recent(1000)
	require.NoError(t, err)
	require.NotEmpty(t, records)

	// newest first, the lamp is switched off on the way out
	assert.Equal(t, "off", records[0].Source)
	assert.True(t, lo.ContainsBy(records, func(r models.OutputRecord) bool { return r.Source == "demo" }))

	var latest lamp.Status
	select {
	case latest = <-a.StatusUpdates():
	default:
		require.FailNow(t, "no status published")
	}
	assert.Equal(t, lamp.Operating, latest.State)
	assert.Equal(t, models.ModeDemo, latest.Mode)
}

func Test_RunSwitchesOffWhenCancelled(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	unreachable := "http://" + listener.Addr().String()
	require.NoError(t, listener.Close())

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(configPath, []byte(`{
    "wifi": { "interface": "sunlamp-missing0", "timeout": "50ms" },
    "schedule": { "url": "`+unreachable+`/schedule", "eventsUrl": "`+unreachable+`/events" },
    "lamp": { "tickInterval": "10ms" },
    "output": { "driver": "log", "journalPath": "`+filepath.Join(dir, "journal.db")+`" }
  }`), 0o600))

	cfg, err := config.ReadConfig(configPath)
	require.NoError(t, err)

	a, err := app.New(*cfg, testLogger)
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- a.Run(ctx)
	}()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "Run did not return after the context was cancelled")
	}

	records, err := a.Journal().Recent(1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "off", records[0].Source)
	assert.Zero(t, records[0].Warm)
	assert.Zero(t, records[0].Cool)
}

func Test_NewRejectsBadDaylight(t *testing.T) {
	cfg := config.Config{}
	cfg.Daylight.Enabled = true
	cfg.Daylight.GeoLocation = "not a location"

	_, err := app.New(cfg, testLogger)

	assert.Error(t, err)
}
