package remotelog_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wheelibin/sunlamp/internal/clock"
	"github.com/wheelibin/sunlamp/internal/remotelog"
)

var testLogger = log.NewWithOptions(os.Stderr, log.Options{Level: log.FatalLevel})

type chanPoster struct {
	url     string
	token   string
	records chan remotelog.Record
	err     error
}

func (p *chanPoster) PostJSON(_ context.Context, url string, token string, body any) error {
	p.url, p.token = url, token
	p.records <- body.(remotelog.Record)
	return p.err
}

type fakeLink struct {
	up bool
}

func (l *fakeLink) Connected() bool { return l.up }

func testConfig() remotelog.Config {
	return remotelog.Config{
		URL:         "https://logs.example.com",
		Token:       "log-token",
		ClientName:  "Bedroom Lamp",
		ServiceName: "sunrise-lamp",
	}
}

func Test_Forwarder(t *testing.T) {
	now := time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC)

	t.Run("should post records with client, service and boot id", func(t *testing.T) {
		poster := &chanPoster{records: make(chan remotelog.Record, 1), err: errors.New("swallowed")}
		f := remotelog.NewForwarder(testConfig(), testLogger, poster, &fakeLink{up: true}, clock.NewManual(now))

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go f.Run(ctx)

		f.Send(log.ErrorLevel, "Schedule refresh failed", "err", errors.New("timeout"), "attempt", 3, "wait", time.Minute)

		select {
		case rec := <-poster.records:
			assert.Equal(t, "Schedule refresh failed", rec.Message)
			assert.Equal(t, "error", rec.Level)
			assert.Equal(t, "Bedroom Lamp", rec.ClientName)
			assert.Equal(t, "sunrise-lamp", rec.ServiceName)
			assert.Equal(t, f.BootID(), rec.BootID)
			assert.NotEmpty(t, rec.BootID)
			assert.Equal(t, now.Unix(), rec.Timestamp)
			assert.Equal(t, map[string]any{"err": "timeout", "attempt": 3, "wait": "1m0s"}, rec.Context)
		case <-time.After(2 * time.Second):
			t.Fatal("record was not posted")
		}
		assert.Equal(t, "https://logs.example.com", poster.url)
		assert.Equal(t, "log-token", poster.token)
	})

	t.Run("should drop records while the link is down", func(t *testing.T) {
		poster := &chanPoster{records: make(chan remotelog.Record, 1)}
		f := remotelog.NewForwarder(testConfig(), testLogger, poster, &fakeLink{up: false}, clock.NewManual(now))

		f.Send(log.InfoLevel, "Night light active")

		assert.Equal(t, int64(1), f.Dropped())
	})

	t.Run("should drop records when the queue is full", func(t *testing.T) {
		poster := &chanPoster{records: make(chan remotelog.Record, 1)}
		f := remotelog.NewForwarder(testConfig(), testLogger, poster, nil, clock.NewManual(now))

		// nothing is draining the queue
		for i := 0; i < 40; i++ {
			f.Send(log.InfoLevel, "tick")
		}

		assert.Equal(t, int64(8), f.Dropped())
	})

	t.Run("should do nothing without a url", func(t *testing.T) {
		cfg := testConfig()
		cfg.URL = ""
		f := remotelog.NewForwarder(cfg, testLogger, &chanPoster{}, nil, clock.NewManual(now))

		require.False(t, f.Enabled())
		f.Send(log.InfoLevel, "ignored")
		f.Run(context.Background())
		assert.Equal(t, int64(0), f.Dropped())
	})
}
