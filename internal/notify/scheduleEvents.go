package notify

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/charmbracelet/log"
	sse "github.com/r3labs/sse/v2"
	"gopkg.in/cenkalti/backoff.v1"
)

type staleMarker interface {
	MarkStale()
}

type Config struct {
	URL        string
	Stream     string
	AuthHeader string
	Token      string
}

// ScheduleEvents listens to the server's event stream. Any event means the
// schedule changed, so the cached copy is marked stale and refetched on the
// next tick.
type ScheduleEvents struct {
	logger *log.Logger
	cfg    Config
	store  staleMarker

	client       *sse.Client
	eventChannel chan *sse.Event
	connected    atomic.Bool
}

func NewScheduleEvents(cfg Config, logger *log.Logger, store staleMarker) *ScheduleEvents {
	return &ScheduleEvents{logger: logger, cfg: cfg, store: store}
}

func (s *ScheduleEvents) Enabled() bool {
	return s != nil && s.cfg.URL != ""
}

func (s *ScheduleEvents) Subscribe(ctx context.Context) error {
	s.eventChannel = make(chan *sse.Event)
	s.client = sse.NewClient(s.cfg.URL)

	if s.cfg.Token != "" {
		if http.CanonicalHeaderKey(s.cfg.AuthHeader) == "Authorization" {
			s.client.Headers["Authorization"] = "Bearer " + s.cfg.Token
		} else {
			s.client.Headers[s.cfg.AuthHeader] = s.cfg.Token
		}
	}

	// keep reconnecting until ctx is done
	reconnect := backoff.NewExponentialBackOff()
	reconnect.MaxElapsedTime = 0
	s.client.ReconnectStrategy = backoff.WithContext(reconnect, ctx)

	s.client.OnConnect(func(_ *sse.Client) {
		s.connected.Store(true)
		s.logger.Info("Connected to schedule event stream, listening for changes...")
	})
	s.client.OnDisconnect(func(_ *sse.Client) {
		s.connected.Store(false)
		s.logger.Info("Disconnected from schedule event stream")
	})

	// the client only returns once it has connected or given up
	subscribed := make(chan error, 1)
	go func() {
		subscribed <- s.client.SubscribeChanWithContext(ctx, s.cfg.Stream, s.eventChannel)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-subscribed:
		return err
	}
}

// Unsubscribe stops a live subscription and does nothing while disconnected.
// Cancelling the Subscribe context ends the stream in any state.
func (s *ScheduleEvents) Unsubscribe() {
	if s.client == nil || !s.connected.Load() {
		return
	}
	s.logger.Debug("Unsubscribe schedule events")
	s.client.Unsubscribe(s.eventChannel)
	s.connected.Store(false)
}

// Run subscribes and marks the schedule stale on every event until ctx is done
func (s *ScheduleEvents) Run(ctx context.Context) {
	if !s.Enabled() {
		return
	}
	if err := s.Subscribe(ctx); err != nil {
		if ctx.Err() == nil {
			s.logger.Errorf("error subscribing to schedule events: %s", err)
		}
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-s.eventChannel:
			if !ok {
				return
			}
			s.logger.Info("Schedule change announced", "event", string(event.Event), "id", string(event.ID))
			s.store.MarkStale()
		}
	}
}
