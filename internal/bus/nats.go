// Package bus publishes pipeline lifecycle events over NATS.
package bus

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
)

// Publisher is the event sink the orchestrator and assembler write to.
// Publishing is fire-and-forget; event delivery never gates pipeline
// progress.
type Publisher interface {
	PublishJSON(subject string, v any) error
}

// Client wraps a NATS connection.
type Client struct{ nc *nats.Conn }

// Connect dials NATS with unbounded reconnects.
func Connect(url string) (*Client, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &Client{nc: nc}, nil
}

// Close drains the connection.
func (c *Client) Close() {
	if c.nc != nil {
		_ = c.nc.Drain()
	}
}

// PublishJSON marshals v and publishes it on subject.
func (c *Client) PublishJSON(subject string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.nc.Publish(subject, b)
}

// Noop discards every event; used when no bus is configured.
type Noop struct{}

func (Noop) PublishJSON(string, any) error { return nil }
