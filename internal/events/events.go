// Package events publishes upload completion events to NATS JetStream.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/input-output-hk/catalyst-forge-libs/aws/s3upload/uploadtypes"
)

const (
	// DefaultSubject is the subject completion events are published on.
	DefaultSubject = "uploads.completed"

	// DefaultStream is the JetStream stream capturing DefaultSubject.
	DefaultStream = "UPLOADS"

	defaultPublishTimeout = 5 * time.Second
)

// Config configures the NATS connection.
type Config struct {
	URL    string
	Name   string
	Stream string
	// Subject defaults to DefaultSubject
	Subject string
	// PublishTimeout bounds one publish, defaults to 5s
	PublishTimeout time.Duration
}

// Publisher is the JetStream call the notifier needs. jetstream.JetStream satisfies it.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Notifier publishes uploadtypes.UploadCompleted events. It implements
// uploadtypes.CompletionNotifier.
type Notifier struct {
	publisher Publisher
	subject   string
	timeout   time.Duration
	logger    *slog.Logger
	conn      *nats.Conn
}

// Connect dials NATS, makes sure the stream exists and returns a notifier
// publishing to it. Close releases the connection.
func Connect(ctx context.Context, cfg Config, logger *slog.Logger) (*Notifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = "s3upload"
	}
	if cfg.Stream == "" {
		cfg.Stream = DefaultStream
	}
	if cfg.Subject == "" {
		cfg.Subject = DefaultSubject
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open jetstream: %w", err)
	}

	if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     cfg.Stream,
		Subjects: []string{cfg.Subject},
	}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create stream %s: %w", cfg.Stream, err)
	}

	n := NewNotifier(js, cfg.Subject, logger)
	n.conn = conn
	if cfg.PublishTimeout > 0 {
		n.timeout = cfg.PublishTimeout
	}
	return n, nil
}

// NewNotifier wraps an existing publisher.
func NewNotifier(p Publisher, subject string, logger *slog.Logger) *Notifier {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		publisher: p,
		subject:   subject,
		timeout:   defaultPublishTimeout,
		logger:    logger,
	}
}

// UploadCompleted publishes event as JSON. The message ID is the operation ID
// so a redelivered publish is deduplicated by the stream.
func (n *Notifier) UploadCompleted(ctx context.Context, event uploadtypes.UploadCompleted) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode completion event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	var opts []jetstream.PublishOpt
	if event.OperationID != "" {
		opts = append(opts, jetstream.WithMsgID(event.OperationID))
	}
	ack, err := n.publisher.Publish(ctx, n.subject, payload, opts...)
	if err != nil {
		return fmt.Errorf("publish %s: %w", n.subject, err)
	}
	n.logger.Debug("completion event published", "key", event.Key, "stream", ack.Stream, "seq", ack.Sequence)
	return nil
}

// Close drains the connection opened by Connect.
func (n *Notifier) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Drain()
}
