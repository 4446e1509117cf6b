package network_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wheelibin/sunlamp/internal/clock"
	"github.com/wheelibin/sunlamp/internal/faults"
	"github.com/wheelibin/sunlamp/internal/network"
)

var testLogger = log.NewWithOptions(os.Stderr, log.Options{Level: log.FatalLevel})

type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

func testConfig() network.Config {
	return network.Config{
		NTPServers:  []string{"a.example", "b.example", "c.example"},
		NTPTimeout:  time.Second,
		HTTPTimeout: time.Second,
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		AuthHeader:  "x-custom-auth",
	}
}

func Test_SyncTime(t *testing.T) {

	t.Run("should try every server with the full retry budget before failing", func(t *testing.T) {
		sleeper := &sleepRecorder{}
		calls := map[string]int{}
		clk := clock.NewSynced(nil)

		c := network.NewClient(testConfig(), testLogger, clk,
			network.WithSleeper(sleeper.sleep),
			network.WithNTPQuery(func(host string, _ time.Duration) (time.Time, error) {
				calls[host]++
				return time.Time{}, errors.New("i/o timeout")
			}),
		)

		_, err := c.SyncTime(context.Background())

		require.Error(t, err)
		assert.ErrorIs(t, err, faults.ErrTransientNetwork)
		assert.Equal(t, map[string]int{"a.example": 3, "b.example": 3, "c.example": 3}, calls)
		assert.Len(t, sleeper.delays, 6)
		assert.False(t, clk.Synced())
	})

	t.Run("should set the clock from the first server that answers", func(t *testing.T) {
		synced := time.Date(2024, 6, 1, 6, 30, 0, 0, time.UTC)
		clk := clock.NewSynced(func() time.Time { return time.Unix(0, 0) })
		var tried []string

		c := network.NewClient(testConfig(), testLogger, clk,
			network.WithSleeper((&sleepRecorder{}).sleep),
			network.WithNTPQuery(func(host string, _ time.Duration) (time.Time, error) {
				tried = append(tried, host)
				if host == "a.example" {
					return time.Time{}, errors.New("no route to host")
				}
				return synced, nil
			}),
		)

		got, err := c.SyncTime(context.Background())

		require.NoError(t, err)
		assert.True(t, synced.Equal(got))
		assert.True(t, clk.Synced())
		assert.True(t, synced.Equal(clk.Now()))
		assert.Equal(t, []string{"a.example", "a.example", "a.example", "b.example"}, tried)
	})

	t.Run("should fail without servers", func(t *testing.T) {
		cfg := testConfig()
		cfg.NTPServers = nil
		c := network.NewClient(cfg, testLogger, clock.NewSynced(nil))

		_, err := c.SyncTime(context.Background())
		assert.ErrorIs(t, err, faults.ErrTransientNetwork)
	})
}

func Test_FetchJSON(t *testing.T) {

	t.Run("should make exactly 3 attempts with 1s and 2s waits", func(t *testing.T) {
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		sleeper := &sleepRecorder{}
		c := network.NewClient(testConfig(), testLogger, clock.NewSynced(nil), network.WithSleeper(sleeper.sleep))

		doc, err := c.FetchJSON(context.Background(), srv.URL, "token")

		assert.Nil(t, doc)
		assert.ErrorIs(t, err, faults.ErrTransientNetwork)
		assert.Equal(t, int32(3), hits.Load())
		assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.delays)
	})

	t.Run("should retry a malformed body and return the first valid one", func(t *testing.T) {
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hits.Add(1) == 1 {
				_, _ = io.WriteString(w, `{"mode": `)
				return
			}
			_, _ = io.WriteString(w, `{"mode":"dayNight"}`)
		}))
		defer srv.Close()

		sleeper := &sleepRecorder{}
		c := network.NewClient(testConfig(), testLogger, clock.NewSynced(nil), network.WithSleeper(sleeper.sleep))

		doc, err := c.FetchJSON(context.Background(), srv.URL, "token")

		require.NoError(t, err)
		assert.JSONEq(t, `{"mode":"dayNight"}`, string(doc))
		assert.Equal(t, int32(2), hits.Load())
		assert.Equal(t, []time.Duration{time.Second}, sleeper.delays)
	})

	t.Run("should send the token in the configured header", func(t *testing.T) {
		tests := []struct {
			header   string
			wantName string
			want     string
		}{
			{header: "x-custom-auth", wantName: "X-Custom-Auth", want: "secret"},
			{header: "Authorization", wantName: "Authorization", want: "Bearer secret"},
		}
		for _, tt := range tests {
			t.Run(tt.header, func(t *testing.T) {
				var got string
				srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					got = r.Header.Get(tt.wantName)
					_, _ = io.WriteString(w, `{}`)
				}))
				defer srv.Close()

				cfg := testConfig()
				cfg.AuthHeader = tt.header
				c := network.NewClient(cfg, testLogger, clock.NewSynced(nil))

				_, err := c.FetchJSON(context.Background(), srv.URL, "secret")
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			})
		}
	})

	t.Run("should stop waiting when the context is cancelled", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		ctx, cancel := context.WithCancel(context.Background())
		c := network.NewClient(testConfig(), testLogger, clock.NewSynced(nil),
			network.WithSleeper(func(ctx context.Context, _ time.Duration) error {
				cancel()
				return ctx.Err()
			}),
		)

		_, err := c.FetchJSON(ctx, srv.URL, "")
		assert.ErrorIs(t, err, faults.ErrTransientNetwork)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func Test_PostJSON(t *testing.T) {
	var body string
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		contentType = r.Header.Get("Content-Type")
	}))
	defer srv.Close()

	c := network.NewClient(testConfig(), testLogger, clock.NewSynced(nil))
	err := c.PostJSON(context.Background(), srv.URL, "token", map[string]string{"message": "started"})

	require.NoError(t, err)
	assert.JSONEq(t, `{"message":"started"}`, body)
	assert.Equal(t, "application/json", contentType)
}

func Test_InterfaceLink(t *testing.T) {

	t.Run("should connect once the check reports the link up", func(t *testing.T) {
		var polls int
		link := network.NewInterfaceLink(testLogger, "wlan0", time.Second,
			network.WithPollInterval(time.Millisecond),
			network.WithLinkCheck(func(name string) (bool, error) {
				polls++
				return polls >= 3, nil
			}),
		)

		require.NoError(t, link.Connect(context.Background()))
		assert.True(t, link.Connected())
	})

	t.Run("should give up after the timeout", func(t *testing.T) {
		link := network.NewInterfaceLink(testLogger, "", 20*time.Millisecond,
			network.WithPollInterval(time.Millisecond),
			network.WithLinkCheck(func(string) (bool, error) { return false, fmt.Errorf("no such interface") }),
		)

		err := link.Connect(context.Background())
		assert.ErrorIs(t, err, faults.ErrTransientNetwork)
		assert.False(t, link.Connected())
	})

	t.Run("should ask to join the access point when the link is down", func(t *testing.T) {
		var joined atomic.Bool
		var gotSSID, gotPassword, gotIface string
		link := network.NewInterfaceLink(testLogger, "wlan0", time.Second,
			network.WithPollInterval(time.Millisecond),
			network.WithLinkCheck(func(string) (bool, error) { return joined.Load(), nil }),
			network.WithCredentials("HomeNet", "secret", func(_ context.Context, iface string, ssid string, password string) error {
				gotIface, gotSSID, gotPassword = iface, ssid, password
				joined.Store(true)
				return nil
			}),
		)

		require.NoError(t, link.Connect(context.Background()))
		assert.Equal(t, "wlan0", gotIface)
		assert.Equal(t, "HomeNet", gotSSID)
		assert.Equal(t, "secret", gotPassword)
	})

	t.Run("should keep waiting when the join request fails", func(t *testing.T) {
		var polls atomic.Int32
		link := network.NewInterfaceLink(testLogger, "", time.Second,
			network.WithPollInterval(time.Millisecond),
			network.WithLinkCheck(func(string) (bool, error) { return polls.Add(1) > 3, nil }),
			network.WithCredentials("HomeNet", "", func(context.Context, string, string, string) error {
				return errors.New("nmcli: not found")
			}),
		)

		assert.NoError(t, link.Connect(context.Background()))
	})
}
