// Package publish sends detected encounters to downstream consumers.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/banshee-data/encounters.report/internal/monitoring"
	"github.com/banshee-data/encounters.report/internal/vessel"
)

// DefaultSubject is the NATS subject encounters are published on.
const DefaultSubject = "encounters.detected"

// Event is the message published for each encounter.
type Event struct {
	RunID        string           `json:"run_id"`
	ModelVersion string           `json:"model_version"`
	Key          string           `json:"encounter_key"`
	Encounter    vessel.Encounter `json:"encounter"`
	DurationSec  float64          `json:"duration_s"`
}

// NewEvent wraps e for publishing.
func NewEvent(runID, modelVersion, key string, e vessel.Encounter) Event {
	return Event{
		RunID:        runID,
		ModelVersion: modelVersion,
		Key:          key,
		Encounter:    e,
		DurationSec:  e.Duration().Seconds(),
	}
}

// Publisher delivers encounter events.
type Publisher interface {
	Publish(ctx context.Context, events []Event) error
	Close() error
}

// Options configures the NATS publisher.
type Options struct {
	URL            string
	Subject        string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectTimeout time.Duration
	FlushTimeout   time.Duration
}

func (o Options) withDefaults() Options {
	if o.URL == "" {
		o.URL = nats.DefaultURL
	}
	if o.Subject == "" {
		o.Subject = DefaultSubject
	}
	if o.MaxReconnects == 0 {
		o.MaxReconnects = nats.DefaultMaxReconnect
	}
	if o.ReconnectWait == 0 {
		o.ReconnectWait = nats.DefaultReconnectWait
	}
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = nats.DefaultTimeout
	}
	if o.FlushTimeout == 0 {
		o.FlushTimeout = 5 * time.Second
	}
	return o
}

// NATS publishes events as JSON on a single subject.
type NATS struct {
	conn    *nats.Conn
	subject string
	flush   time.Duration
}

// Connect dials the NATS server described by opts.
func Connect(opts Options) (*NATS, error) {
	opts = opts.withDefaults()
	log := monitoring.Logger().With("component", "publish")

	nc, err := nats.Connect(opts.URL,
		nats.Name("encounters"),
		nats.MaxReconnects(opts.MaxReconnects),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.Timeout(opts.ConnectTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			log.Debug("nats connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to NATS at %s: %w", opts.URL, err)
	}
	return &NATS{conn: nc, subject: opts.Subject, flush: opts.FlushTimeout}, nil
}

// Subject returns the subject events are published on.
func (p *NATS) Subject() string { return p.subject }

// Publish sends every event and waits for the server to acknowledge the
// batch.
func (p *NATS) Publish(ctx context.Context, events []Event) error {
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to encode event %s: %w", ev.Key, err)
		}
		if err := p.conn.Publish(p.subject, data); err != nil {
			return fmt.Errorf("failed to publish event %s: %w", ev.Key, err)
		}
	}

	fctx, cancel := context.WithTimeout(ctx, p.flush)
	defer cancel()
	if err := p.conn.FlushWithContext(fctx); err != nil {
		return fmt.Errorf("failed to flush events: %w", err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (p *NATS) Close() error {
	return p.conn.Drain()
}

// Discard is a Publisher that drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, []Event) error { return nil }
func (Discard) Close() error                           { return nil }
