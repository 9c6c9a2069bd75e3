// Package natspub streams engine events to NATS as JSON so an external
// indexer can rebuild subscription views from them.
//
// Each event is published on "<prefix>.<event type>", for example
// "recur.events.subscription.payment_processed". The event ID travels in the
// Nats-Msg-Id header, which lets a JetStream stream drop redeliveries.
package natspub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/xraph/recur/event"
	"github.com/xraph/recur/plugin"
)

// DefaultSubjectPrefix is the subject prefix used when none is configured.
const DefaultSubjectPrefix = "recur.events"

// Header keys set on every message.
const (
	HeaderMsgID     = "Nats-Msg-Id"
	HeaderEventType = "Recur-Event-Type"
)

var (
	_ plugin.Plugin     = (*Publisher)(nil)
	_ plugin.OnEvent    = (*Publisher)(nil)
	_ plugin.OnShutdown = (*Publisher)(nil)
)

// Conn is the part of *nats.Conn the publisher needs.
type Conn interface {
	PublishMsg(m *nats.Msg) error
}

// Publisher is an engine plugin forwarding every event to NATS.
type Publisher struct {
	conn   Conn
	owned  *nats.Conn
	prefix string
	logger *slog.Logger
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithSubjectPrefix overrides DefaultSubjectPrefix.
func WithSubjectPrefix(prefix string) Option {
	return func(p *Publisher) {
		if prefix != "" {
			p.prefix = prefix
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// New creates a Publisher on an existing connection. The caller keeps
// ownership of conn.
func New(conn Conn, opts ...Option) *Publisher {
	p := &Publisher{
		conn:   conn,
		prefix: DefaultSubjectPrefix,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Connect dials url and returns a Publisher that drains and closes the
// connection on engine shutdown.
func Connect(url string, natsOpts []nats.Option, opts ...Option) (*Publisher, error) {
	nc, err := nats.Connect(url, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("natspub: connect %s: %w", url, err)
	}
	p := New(nc, opts...)
	p.owned = nc
	return p, nil
}

// Name implements plugin.Plugin.
func (p *Publisher) Name() string { return "nats-publisher" }

// Subject returns the subject events of type t are published on.
func (p *Publisher) Subject(t event.Type) string {
	return p.prefix + "." + string(t)
}

// OnEvent implements plugin.OnEvent.
func (p *Publisher) OnEvent(_ context.Context, e event.Event) error {
	h := e.Meta()

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("natspub: encode %s: %w", h.Type, err)
	}

	msg := nats.NewMsg(p.Subject(h.Type))
	msg.Data = data
	msg.Header.Set(HeaderMsgID, h.ID.String())
	msg.Header.Set(HeaderEventType, string(h.Type))

	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("natspub: publish %s: %w", msg.Subject, err)
	}

	p.logger.Debug("event published",
		"subject", msg.Subject,
		"event_id", h.ID.String(),
	)
	return nil
}

// OnShutdown implements plugin.OnShutdown. It only closes connections
// opened by Connect.
func (p *Publisher) OnShutdown(context.Context) error {
	if p.owned == nil {
		return nil
	}
	if err := p.owned.Drain(); err != nil {
		p.owned.Close()
		return fmt.Errorf("natspub: drain: %w", err)
	}
	return nil
}
