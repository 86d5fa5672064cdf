package messagebroker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSClient wraps the NATS connection and its JetStream context. All
// delivery events flow through JetStream so that unacknowledged records are
// redelivered (at-least-once).
type NATSClient struct {
	Conn   *nats.Conn
	JS     jetstream.JetStream
	logger *slog.Logger
}

// NewNATSClient connects to NATS and sets up JetStream.
// natsURL example: "nats://localhost:4222".
func NewNATSClient(natsURL string, appName string, logger *slog.Logger) (*NATSClient, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name(appName),
		nats.Timeout(5*time.Second),
		nats.PingInterval(20*time.Second),
		nats.MaxPingsOutstanding(3),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Error("NATS connection closed", "error", nc.LastError())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &NATSClient{Conn: nc, JS: js, logger: logger}, nil
}

// EnsureStream creates or updates the stream that carries delivery events.
func (c *NATSClient) EnsureStream(ctx context.Context, name string, subjects []string) error {
	_, err := c.JS.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      name,
		Subjects:  subjects,
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to ensure stream %q: %w", name, err)
	}
	return nil
}

// Publish publishes data to the given subject through JetStream and waits
// for the broker ack.
func (c *NATSClient) Publish(ctx context.Context, subject string, data []byte) error {
	if _, err := c.JS.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("failed to publish to %q: %w", subject, err)
	}
	return nil
}

// PullConsumer creates or binds a durable pull consumer on the stream.
// Records not acknowledged within ackWait are redelivered.
func (c *NATSClient) PullConsumer(ctx context.Context, stream, durable, filterSubject string, ackWait time.Duration) (jetstream.Consumer, error) {
	cons, err := c.JS.CreateOrUpdateConsumer(ctx, stream, jetstream.ConsumerConfig{
		Durable:       durable,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       ackWait,
		FilterSubject: filterSubject,
		MaxDeliver:    -1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer %q on stream %q: %w", durable, stream, err)
	}
	return cons, nil
}

// Close drains and closes the NATS connection.
func (c *NATSClient) Close() {
	if c.Conn != nil && !c.Conn.IsClosed() {
		if err := c.Conn.Drain(); err != nil {
			c.logger.Warn("NATS drain failed", "error", err)
		}
		c.Conn.Close()
	}
}
