package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

const (
	// StreamName is the JetStream stream holding session and call events.
	StreamName = "HOTLINE_EVENTS"

	// SubjectPrefix is the prefix for all event subjects.
	SubjectPrefix = "hotline"
)

// Subject returns the subject an event is published on:
// hotline.<tenant>.<call>.<type>.
func Subject(e Event) string {
	return fmt.Sprintf("%s.%s.%s.%s", SubjectPrefix, e.TenantID, e.CallID, e.Type)
}

// NATSConfig holds NATS connection configuration.
type NATSConfig struct {
	URL   string
	Token string
}

// NATSClient wraps a NATS connection and its JetStream context.
type NATSClient struct {
	conn *nats.Conn
	js   jetstream.JetStream
}

// ConnectNATS dials NATS and opens JetStream. Reconnects are unbounded.
func ConnectNATS(ctx context.Context, cfg NATSConfig, log *zap.Logger) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name("ai-hotline"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error("nats error", zap.Error(err))
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	return &NATSClient{conn: nc, js: js}, nil
}

func (c *NATSClient) JetStream() jetstream.JetStream { return c.js }

func (c *NATSClient) IsConnected() bool { return c.conn != nil && c.conn.IsConnected() }

// Close drains pending async publishes, then closes the connection.
func (c *NATSClient) Close() {
	if c.conn == nil {
		return
	}
	select {
	case <-c.js.PublishAsyncComplete():
	case <-time.After(2 * time.Second):
	}
	c.conn.Close()
}

// EnsureStream creates the event stream if it does not exist.
func (c *NATSClient) EnsureStream(ctx context.Context, maxAge time.Duration) error {
	if _, err := c.js.Stream(ctx, StreamName); err == nil {
		return nil
	}
	if maxAge <= 0 {
		maxAge = 30 * 24 * time.Hour
	}
	_, err := c.js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      maxAge,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Description: "Call session state changes, errors and call lifecycle",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

type asyncPublisher interface {
	PublishAsync(subject string, payload []byte, opts ...jetstream.PublishOpt) (jetstream.PubAckFuture, error)
}

// NATSSink publishes events to JetStream without waiting for acks.
// The event ID is the JetStream message ID, so redeliveries dedupe.
type NATSSink struct {
	js asyncPublisher
}

func NewNATSSink(c *NATSClient) *NATSSink { return &NATSSink{js: c.js} }

func (s *NATSSink) Publish(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := s.js.PublishAsync(Subject(e), data, jetstream.WithMsgID(e.ID)); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}
