package network

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/samber/lo"
	"github.com/wheelibin/sunlamp/internal/faults"
)

// responses bigger than this are not schedules
const maxResponseBytes = 1 << 20

type Config struct {
	NTPServers  []string
	NTPTimeout  time.Duration
	HTTPTimeout time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
	// header carrying the API token, "Authorization" sends it as a bearer token
	AuthHeader string
}

type clockSetter interface {
	Set(t time.Time)
}

// Sleeper waits for d or until ctx is done
type Sleeper func(ctx context.Context, d time.Duration) error

// NTPQuery asks a single time server for the current time
type NTPQuery func(host string, timeout time.Duration) (time.Time, error)

type Option func(*Client)

func WithSleeper(s Sleeper) Option {
	return func(c *Client) { c.sleep = s }
}

func WithNTPQuery(q NTPQuery) Option {
	return func(c *Client) { c.queryNTP = q }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// Client wraps time sync and HTTP calls with bounded retries. It holds no
// state across calls apart from its configuration.
type Client struct {
	logger   *log.Logger
	cfg      Config
	clock    clockSetter
	http     *http.Client
	sleep    Sleeper
	queryNTP NTPQuery
}

func NewClient(cfg Config, logger *log.Logger, clock clockSetter, opts ...Option) *Client {
	c := &Client{
		logger:   logger,
		cfg:      cfg,
		clock:    clock,
		http:     &http.Client{},
		sleep:    sleepContext,
		queryNTP: queryNTP,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cfg.MaxAttempts < 1 {
		c.cfg.MaxAttempts = 1
	}
	return c
}

// SyncTime tries every configured time server in order, each with the full
// retry budget. The clock is set from the first server that answers.
func (c *Client) SyncTime(ctx context.Context) (time.Time, error) {
	servers := lo.Uniq(c.cfg.NTPServers)
	if len(servers) == 0 {
		return time.Time{}, fmt.Errorf("no time servers configured: %w", faults.ErrTransientNetwork)
	}

	var errs []error
	for _, host := range servers {
		var now time.Time
		err := c.withRetry(ctx, "ntp "+host, c.cfg.NTPTimeout, func(_ context.Context) error {
			t, err := c.queryNTP(host, c.cfg.NTPTimeout)
			if err != nil {
				return err
			}
			now = t
			return nil
		})
		if err == nil {
			c.clock.Set(now)
			c.logger.Info("Time synced", "server", host, "time", now.UTC().Format(time.RFC3339))
			return now, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
		c.logger.Warn("Time server failed, trying the next one", "server", host)
	}

	return time.Time{}, fmt.Errorf("time sync failed, %d of %d servers tried: %w", len(errs), len(servers), errors.Join(errs...))
}

// FetchJSON GETs url and returns the body once it is known to be valid JSON.
// A non 200 status or a malformed body counts as a failed attempt.
func (c *Client) FetchJSON(ctx context.Context, url string, token string) (json.RawMessage, error) {
	var doc json.RawMessage
	err := c.withRetry(ctx, "GET "+url, c.cfg.HTTPTimeout, func(ctx context.Context) error {
		body, err := c.makeRequest(ctx, http.MethodGet, url, token, nil)
		if err != nil {
			return err
		}
		if !json.Valid(body) {
			return errors.New("response is not valid JSON")
		}
		doc = body
		return nil
	})
	return doc, err
}

// PostJSON POSTs body encoded as JSON to url
func (c *Client) PostJSON(ctx context.Context, url string, token string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("error encoding request body: %w", err)
	}
	return c.withRetry(ctx, "POST "+url, c.cfg.HTTPTimeout, func(ctx context.Context) error {
		_, err := c.makeRequest(ctx, http.MethodPost, url, token, data)
		return err
	})
}

func (c *Client) makeRequest(ctx context.Context, verb string, url string, token string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, verb, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	// set headers
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		c.authorise(req, token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("unexpected status: %s", resp.Status)
	}

	responseBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("error reading response: %w", err)
	}
	return responseBody, nil
}

func (c *Client) authorise(req *http.Request, token string) {
	header := c.cfg.AuthHeader
	if header == "" {
		header = "x-custom-auth"
	}
	if http.CanonicalHeaderKey(header) == "Authorization" {
		req.Header.Set("Authorization", "Bearer "+token)
		return
	}
	req.Header.Set(header, token)
}
