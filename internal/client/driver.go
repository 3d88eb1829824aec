package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/danmuck/eppctl/internal/protocol/frame"
	"github.com/danmuck/eppctl/internal/protocol/session"
	"github.com/danmuck/eppctl/internal/template"
	"github.com/rs/zerolog/log"
)

// Transport is the byte stream a run exchanges frames over.
type Transport interface {
	io.Reader
	io.Writer
	Close() error
}

// DialFunc opens the run's single connection.
type DialFunc func(ctx context.Context, cfg session.Config) (Transport, error)

func dialSession(ctx context.Context, cfg session.Config) (Transport, error) {
	conn, err := session.Dial(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

type Option func(*Driver)

func WithDialer(dial DialFunc) Option {
	return func(d *Driver) {
		if dial != nil {
			d.dial = dial
		}
	}
}

func WithMetrics(m Metrics) Option {
	return func(d *Driver) {
		if m != nil {
			d.metrics = m
		}
	}
}

// WithTransactionIDs overrides the __CLTRID__ generator.
func WithTransactionIDs(next func() string) Option {
	return func(d *Driver) {
		d.nextID = next
	}
}

// Summary describes what a run got through, including on failure.
type Summary struct {
	Templates int
	Completed int
	Greeting  bool
	// TransactionIDs holds the id filled into each sent template, "" when none.
	TransactionIDs []string
}

// Driver runs one half-duplex EPP exchange sequence.
type Driver struct {
	cfg      Config
	observer Observer
	metrics  Metrics
	dial     DialFunc
	nextID   func() string
}

func NewDriver(cfg Config, observer Observer, opts ...Option) *Driver {
	if observer == nil {
		observer = nopObserver{}
	}
	d := &Driver{
		cfg:      cfg,
		observer: observer,
		metrics:  nopMetrics{},
		dial:     dialSession,
	}
	if cfg.TransactionIDs {
		d.nextID = template.TransactionIDs(cfg.TransactionIDPrefix)
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run renders and exchanges templates in order. The first failure aborts the
// sequence; the connection is closed exactly once on every path. Cancelling
// ctx closes the connection, which unblocks a pending read or write; the
// returned error then matches the context's cause.
func (d *Driver) Run(ctx context.Context, templates []template.Template, subs template.Substitutions) (Summary, error) {
	summary := Summary{Templates: len(templates)}
	if len(templates) == 0 {
		return summary, ErrNoTemplates
	}

	if d.cfg.DryRun {
		for i, t := range templates {
			d.observer.Rendered(i+1, t.Name, t.Render(subs))
			summary.Completed++
		}
		log.Debug().Int("templates", len(templates)).Msg("client.Driver dry run complete")
		return summary, nil
	}

	if err := d.cfg.Session.WithDefaults().ValidateClientTransport(); err != nil {
		return summary, &Error{Phase: PhaseConfig, Err: err}
	}

	conn, err := d.dial(ctx, d.cfg.Session)
	if err != nil {
		return summary, runError(ctx, PhaseConnect, 0, "", err)
	}
	closeConn := sync.OnceFunc(func() {
		if cerr := conn.Close(); cerr != nil {
			log.Debug().Err(cerr).Msg("client.Driver close")
		}
	})
	defer closeConn()
	stop := context.AfterFunc(ctx, closeConn)
	defer stop()

	if !d.cfg.SkipGreeting {
		greeting, err := frame.ReadFrame(conn, d.cfg.Limits)
		if err != nil {
			return summary, runError(ctx, PhaseGreeting, 0, "", err)
		}
		d.metrics.FrameReceived(len(greeting))
		summary.Greeting = true
		if d.cfg.Verbose {
			d.observer.Greeting(greeting)
		} else {
			log.Debug().Int("bytes", len(greeting)).Msg("client.Driver greeting discarded")
		}
	}

	for i, t := range templates {
		index := i + 1
		doc := t.Render(subs)
		doc, id := template.FillTransactionID(doc, d.nextID)
		summary.TransactionIDs = append(summary.TransactionIDs, id)

		start := time.Now()
		if err := frame.WriteFrame(conn, []byte(doc), d.cfg.Limits); err != nil {
			d.metrics.Exchange(time.Since(start), err)
			return summary, runError(ctx, PhaseSend, index, t.Name, err)
		}
		d.metrics.FrameSent(len(doc))
		log.Debug().Int("index", index).Str("template", t.Name).Int("bytes", len(doc)).Str("cltrid", id).Msg("client.Driver sent")

		resp, err := frame.ReadFrame(conn, d.cfg.Limits)
		d.metrics.Exchange(time.Since(start), err)
		if err != nil {
			return summary, runError(ctx, PhaseReceive, index, t.Name, err)
		}
		d.metrics.FrameReceived(len(resp))
		d.observer.Response(index, t.Name, resp)
		summary.Completed++
	}
	return summary, nil
}

// runError reports TLS alerts as PhaseTLS whatever step surfaced them; a
// TLS 1.3 server rejects a client certificate only after the handshake
// returns. A cancelled ctx is joined in as the cause.
func runError(ctx context.Context, phase Phase, index int, name string, err error) error {
	if errors.Is(err, session.ErrHandshake) {
		phase = PhaseTLS
	}
	if cause := context.Cause(ctx); cause != nil && !errors.Is(err, cause) {
		err = fmt.Errorf("%w: %w", cause, err)
	}
	return &Error{Phase: phase, Index: index, Name: name, Err: err}
}
