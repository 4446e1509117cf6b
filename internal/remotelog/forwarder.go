// Package remotelog forwards lamp events to a remote logging endpoint. It is
// strictly best effort: records are queued without blocking, dropped when the
// queue is full and send failures are swallowed.
package remotelog

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/wheelibin/sunlamp/internal/clock"
	"github.com/wheelibin/sunlamp/internal/concurrency"
	"github.com/wheelibin/sunlamp/internal/constants"
)

type poster interface {
	PostJSON(ctx context.Context, url string, token string, body any) error
}

type linkState interface {
	Connected() bool
}

type Config struct {
	URL         string
	Token       string
	ClientName  string
	ServiceName string
}

// Record is the JSON body posted for each event
type Record struct {
	Message     string         `json:"message"`
	Level       string         `json:"level"`
	ServiceName string         `json:"service_name"`
	ClientName  string         `json:"client_name"`
	BootID      string         `json:"boot_id"`
	Timestamp   int64          `json:"timestamp"`
	Context     map[string]any `json:"context,omitempty"`
}

type Forwarder struct {
	logger  *log.Logger
	cfg     Config
	poster  poster
	link    linkState
	clock   clock.Clock
	bootID  string
	worker  *concurrency.ThrottledWorker[Record]
	dropped atomic.Int64
}

func NewForwarder(cfg Config, logger *log.Logger, poster poster, link linkState, clk clock.Clock) *Forwarder {
	f := &Forwarder{
		logger: logger,
		cfg:    cfg,
		poster: poster,
		link:   link,
		clock:  clk,
		bootID: uuid.NewString(),
	}
	f.worker = concurrency.NewThrottledWorker(constants.RemoteLogQueueSize, constants.RemoteLogSendInterval, f.send)
	f.worker.OnError = func(err error) {
		f.logger.Debug("Remote log not delivered", "err", err)
	}
	return f
}

func (f *Forwarder) Enabled() bool {
	return f != nil && f.cfg.URL != ""
}

func (f *Forwarder) BootID() string {
	return f.bootID
}

// Dropped counts records lost to a full queue or a down link
func (f *Forwarder) Dropped() int64 {
	return f.dropped.Load()
}

// Send queues a record and returns immediately
func (f *Forwarder) Send(level log.Level, msg string, keyvals ...any) {
	if !f.Enabled() {
		return
	}
	if f.link != nil && !f.link.Connected() {
		f.dropped.Add(1)
		return
	}
	rec := Record{
		Message:     msg,
		Level:       level.String(),
		ServiceName: f.cfg.ServiceName,
		ClientName:  f.cfg.ClientName,
		BootID:      f.bootID,
		Timestamp:   f.clock.Now().Unix(),
		Context:     contextFields(keyvals),
	}
	if !f.worker.TryEnqueue(rec) {
		f.dropped.Add(1)
	}
}

// Run delivers queued records until ctx is done
func (f *Forwarder) Run(ctx context.Context) {
	if !f.Enabled() {
		return
	}
	f.logger.Debug("Remote logging started", "url", f.cfg.URL, "bootId", f.bootID)
	f.worker.Run(ctx)
}

func (f *Forwarder) send(ctx context.Context, rec Record) error {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	return f.poster.PostJSON(ctx, f.cfg.URL, f.cfg.Token, rec)
}

func contextFields(keyvals []any) map[string]any {
	if len(keyvals) == 0 {
		return nil
	}
	fields := make(map[string]any, len(keyvals)/2)
	for i := 0; i < len(keyvals); i += 2 {
		key := fmt.Sprint(keyvals[i])
		if i+1 >= len(keyvals) {
			fields[key] = nil
			break
		}
		v := keyvals[i+1]
		switch val := v.(type) {
		case error:
			v = val.Error()
		case fmt.Stringer:
			v = val.String()
		}
		fields[key] = v
	}
	return fields
}
