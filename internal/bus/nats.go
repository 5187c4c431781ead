// Package bus is the NATS transport for triggers and peripheral messages
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// HandlerTimeout bounds one message callback
const HandlerTimeout = 30 * time.Second

// Handler processes one message payload
type Handler func(ctx context.Context, data []byte) error

// Client wraps a NATS connection
type Client struct {
	nc   *nats.Conn
	subs []*nats.Subscription
}

// Connect dials NATS and keeps reconnecting forever
func Connect(url string) (*Client, error) {
	nc, err := nats.Connect(url,
		nats.Name("lms-worker"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("Disconnected from NATS", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("Reconnected to NATS", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &Client{nc: nc}, nil
}

// Close unsubscribes and drains the connection
func (c *Client) Close() {
	if c.nc != nil {
		_ = c.nc.Drain()
	}
}

// Unsubscribe stops every subscription made through this client, leaving
// the connection open for publishing
func (c *Client) Unsubscribe() {
	for _, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			slog.Warn("Failed to drain subscription", "subject", sub.Subject, "error", err)
		}
	}
	c.subs = nil
}

// Connected reports whether the connection is currently up
func (c *Client) Connected() bool {
	return c.nc != nil && c.nc.IsConnected()
}

func (c *Client) Conn() *nats.Conn { return c.nc }

// PublishJSON publishes v encoded as JSON
func (c *Client) PublishJSON(subject string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode message for %s: %w", subject, err)
	}
	if err := c.nc.Publish(subject, b); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// QueueSubscribe delivers each message on subject to one member of queue
func (c *Client) QueueSubscribe(subject, queue string, handler Handler) error {
	sub, err := c.nc.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		Dispatch(msg.Subject, msg.Data, handler)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	c.subs = append(c.subs, sub)
	slog.Info("Listening for messages", "subject", subject, "queue", queue)
	return nil
}

// Dispatch runs handler for one message with a bounded context and logs
// any error it returns
func Dispatch(subject string, data []byte, handler Handler) {
	ctx, cancel := context.WithTimeout(context.Background(), HandlerTimeout)
	defer cancel()

	if err := handler(ctx, data); err != nil {
		slog.Error("Message handler failed", "subject", subject, "error", err)
	}
}
