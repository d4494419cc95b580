// Package events announces committed conversation turns to other services.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// DefaultSubject is where turn events are published unless configured otherwise.
const DefaultSubject = "ragchat.turns"

// TurnEvent describes one committed turn.
type TurnEvent struct {
	ThreadID    string    `json:"thread_id"`
	Route       string    `json:"route"`
	NumMessages int       `json:"num_messages"`
	Sources     []string  `json:"sources"`
	At          time.Time `json:"at"`
}

// Publisher sends turn events. Publish failures never affect the turn itself.
type Publisher interface {
	Publish(ctx context.Context, ev TurnEvent) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, TurnEvent) error { return nil }
func (Nop) Close() error                             { return nil }

// MsgPublisher is the part of *nats.Conn used for publishing.
type MsgPublisher interface {
	PublishMsg(m *nats.Msg) error
}

// NATSPublisher publishes JSON events with the trace context in the message headers.
type NATSPublisher struct {
	conn    MsgPublisher
	close   func()
	subject string
}

// ConnectNATS dials url and returns a publisher for subject.
func ConnectNATS(url, subject string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url, nats.Name("ragchat"))
	if err != nil {
		return nil, fmt.Errorf("events: connect %s: %w", url, err)
	}
	p := NewNATSPublisher(nc, subject)
	p.close = nc.Close
	return p, nil
}

// NewNATSPublisher wraps an existing connection.
func NewNATSPublisher(conn MsgPublisher, subject string) *NATSPublisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSPublisher{conn: conn, subject: subject}
}

// Publish serializes ev and publishes it.
func (p *NATSPublisher) Publish(ctx context.Context, ev TurnEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: marshal: %w", err)
	}
	msg := &nats.Msg{Subject: p.subject, Data: data}
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(msg))
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("events: publish %s: %w", p.subject, err)
	}
	return nil
}

// Close closes the connection if this publisher opened it.
func (p *NATSPublisher) Close() error {
	if p.close != nil {
		p.close()
	}
	return nil
}

// headerCarrier adapts nats.Msg headers to propagation.TextMapCarrier.
type headerCarrier nats.Msg

func (c *headerCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *headerCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *headerCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}
