// Package natspub publishes buffer readiness events to NATS.
//
// One read and one write subscription are attached to the resource and
// every event is published as JSON to <prefix>.events.read or
// <prefix>.events.write. The publisher is optional: daemons without a
// NATS configuration simply never construct one. Events are volatile;
// JetStream is deliberately not used.
package natspub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go"

	"github.com/c360/echopipe/config"
	"github.com/c360/echopipe/errors"
	"github.com/c360/echopipe/pipe"
)

// conn is the subset of the NATS connection the publisher uses. It is
// an interface so tests can run without a broker.
type conn interface {
	Publish(subject string, data []byte) error
	Drain() error
	Close()
}

// connectFunc is swapped in tests to avoid a live broker.
type connectFunc func(url string, options ...nats.Option) (conn, error)

func dialNATS(url string, options ...nats.Option) (conn, error) {
	return nats.Connect(url, options...)
}

// Publisher forwards pipe events to NATS subjects.
type Publisher struct {
	cfg      config.NATSConfig
	resource *pipe.Resource
	logger   *slog.Logger

	connect connectFunc
	nc      conn

	running atomic.Bool
	wg      sync.WaitGroup
	subs    []*pipe.Subscription

	published atomic.Uint64
	dropped   atomic.Uint64
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) { p.logger = logger }
}

// withConnect overrides broker dialing in tests.
func withConnect(fn connectFunc) Option {
	return func(p *Publisher) { p.connect = fn }
}

// New creates a Publisher for one resource. The configuration must
// carry at least one URL and a subject prefix.
func New(cfg config.NATSConfig, resource *pipe.Resource, options ...Option) (*Publisher, error) {
	if resource == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalid, "Publisher", "New", "resource is required")
	}
	if len(cfg.URLs) == 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalid, "Publisher", "New", "at least one URL is required")
	}
	if cfg.SubjectPrefix == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalid, "Publisher", "New", "subject prefix is required")
	}

	p := &Publisher{
		cfg:      cfg,
		resource: resource,
		logger:   slog.Default(),
		connect:  dialNATS,
	}
	for _, opt := range options {
		opt(p)
	}
	return p, nil
}

// Subject returns the subject events for dir are published to.
func (p *Publisher) Subject(dir pipe.Direction) string {
	return fmt.Sprintf("%s.events.%s", p.cfg.SubjectPrefix, dir)
}

// Start connects to the broker, attaches both subscriptions and begins
// forwarding events.
func (p *Publisher) Start(_ context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return errors.WrapFatal(errors.ErrInvalid, "Publisher", "Start", "publisher already running")
	}

	opts := []nats.Option{
		nats.Name("echopipe-publisher"),
		nats.MaxReconnects(p.cfg.MaxReconnects),
		nats.ReconnectWait(p.cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				p.logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			p.logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}

	nc, err := p.connect(strings.Join(p.cfg.URLs, ","), opts...)
	if err != nil {
		p.running.Store(false)
		return errors.WrapTransient(err, "Publisher", "Start", "broker connect")
	}
	p.nc = nc

	for _, dir := range []pipe.Direction{pipe.DirectionRead, pipe.DirectionWrite} {
		sub, err := p.resource.Subscribe(dir)
		if err != nil {
			p.teardown()
			p.running.Store(false)
			return errors.Wrap(err, "Publisher", "Start", "attach subscription")
		}
		p.subs = append(p.subs, sub)

		p.wg.Add(1)
		go p.forward(sub)
	}

	p.logger.Info("event publisher started",
		"prefix", p.cfg.SubjectPrefix, "urls", p.cfg.URLs)
	return nil
}

// Stop detaches the subscriptions and drains the connection.
func (p *Publisher) Stop() error {
	if !p.running.CompareAndSwap(true, false) {
		return nil
	}
	p.teardown()
	p.logger.Info("event publisher stopped",
		"published", p.published.Load(), "dropped", p.dropped.Load())
	return nil
}

func (p *Publisher) teardown() {
	for _, sub := range p.subs {
		sub.Close()
	}
	p.subs = nil
	p.wg.Wait()

	if p.nc != nil {
		if err := p.nc.Drain(); err != nil {
			p.nc.Close()
		}
		p.nc = nil
	}
}

// Published returns the number of events delivered to the broker.
func (p *Publisher) Published() uint64 { return p.published.Load() }

// Dropped returns the number of events that failed to publish.
func (p *Publisher) Dropped() uint64 { return p.dropped.Load() }

// forward drains one subscription until it ends.
func (p *Publisher) forward(sub *pipe.Subscription) {
	defer p.wg.Done()

	subject := p.Subject(sub.Direction())
	for range sub.C() {
		p.drain(sub, subject)
	}
	// The feed closed; publish anything still queued.
	p.drain(sub, subject)
}

func (p *Publisher) drain(sub *pipe.Subscription, subject string) {
	for {
		ev, ok := sub.Next()
		if !ok {
			return
		}
		data, err := json.Marshal(ev)
		if err != nil {
			p.dropped.Add(1)
			continue
		}
		if err := p.nc.Publish(subject, data); err != nil {
			p.dropped.Add(1)
			p.logger.Warn("event publish failed", "subject", subject, "error", err)
			continue
		}
		p.published.Add(1)
	}
}
