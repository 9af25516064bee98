package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"vaultbridge.mini/vb/internal/metrics"
)

// jetStream is the part of nats.JetStreamContext the publisher uses.
type jetStream interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
	StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
}

// NATSOptions configures NewNATSPublisher.
type NATSOptions struct {
	URL           string
	Stream        string
	SubjectPrefix string
	Timeout       time.Duration
}

// NATSPublisher writes each event to <prefix>.<EventName> on a JetStream
// stream. The envelope ID is the message ID, so a block replayed after a
// crash is deduplicated by the server.
type NATSPublisher struct {
	conn   *nats.Conn
	js     jetStream
	stream string
	prefix string
	log    *logrus.Entry
}

// NewNATSPublisher connects, reconnecting forever on loss, and makes sure
// the stream exists.
func NewNATSPublisher(opts NATSOptions, log *logrus.Entry) (*NATSPublisher, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	conn, err := nats.Connect(opts.URL,
		nats.Name("vaultbridge"),
		nats.Timeout(timeout),
		nats.ReconnectWait(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.WithError(err).Warn("nats disconnected")
			metrics.NATSConnectionStatus.Set(0)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.WithField("url", nc.ConnectedUrl()).Info("nats reconnected")
			metrics.NATSConnectionStatus.Set(1)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	metrics.NATSConnectionStatus.Set(1)

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	p := newNATSPublisher(js, opts, log)
	p.conn = conn
	if err := p.ensureStream(); err != nil {
		conn.Close()
		return nil, err
	}
	return p, nil
}

func newNATSPublisher(js jetStream, opts NATSOptions, log *logrus.Entry) *NATSPublisher {
	prefix := strings.TrimSuffix(opts.SubjectPrefix, ".")
	if prefix == "" {
		prefix = "vaultbridge"
	}
	return &NATSPublisher{js: js, stream: opts.Stream, prefix: prefix, log: log}
}

func (p *NATSPublisher) ensureStream() error {
	if _, err := p.js.StreamInfo(p.stream); err == nil {
		return nil
	}
	_, err := p.js.AddStream(&nats.StreamConfig{
		Name:       p.stream,
		Subjects:   []string{p.prefix + ".>"},
		Retention:  nats.LimitsPolicy,
		Storage:    nats.FileStorage,
		MaxAge:     7 * 24 * time.Hour,
		Duplicates: 24 * time.Hour,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", p.stream, err)
	}
	p.log.WithField("stream", p.stream).Info("created jetstream stream")
	return nil
}

// Subject returns the subject an event name is published on.
func (p *NATSPublisher) Subject(name string) string {
	return p.prefix + "." + name
}

func (p *NATSPublisher) Name() string { return "nats" }

// Publish stops at the first failure; already published events are safe
// to resend because of the message ID.
func (p *NATSPublisher) Publish(ctx context.Context, batch []Envelope) error {
	for _, ev := range batch {
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encode %s: %w", ev.ID(), err)
		}
		if _, err := p.js.Publish(p.Subject(ev.Name), data, nats.MsgId(ev.ID()), nats.Context(ctx)); err != nil {
			return fmt.Errorf("publish %s: %w", ev.ID(), err)
		}
	}
	return nil
}

// Close flushes and closes the connection.
func (p *NATSPublisher) Close() {
	if p.conn != nil {
		_ = p.conn.Drain()
	}
}
