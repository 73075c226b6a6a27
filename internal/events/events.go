// Package events publishes record lifecycle notifications so other services
// can react to new or updated records.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subjects for record events.
const (
	SubjectRecordCreated = "contactpipe.record.created"
	SubjectRecordUpdated = "contactpipe.record.updated"
)

// Record actions.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
)

// RecordEvent describes a record written to the remote store.
type RecordEvent struct {
	Action     string    `json:"action"`
	PageID     string    `json:"page_id"`
	URL        string    `json:"url"`
	Name       string    `json:"name"`
	City       string    `json:"city"`
	Source     string    `json:"source,omitempty"`
	UserID     string    `json:"user_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Subject returns the subject the event is published on.
func (e RecordEvent) Subject() string {
	if e.Action == ActionUpdated {
		return SubjectRecordUpdated
	}
	return SubjectRecordCreated
}

// Publisher delivers record events.
type Publisher interface {
	Publish(ctx context.Context, ev RecordEvent) error
	Close()
}

// NopPublisher drops every event. It is used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, RecordEvent) error { return nil }
func (NopPublisher) Close()                                     {}

// NATSPublisher publishes events as JSON on NATS.
type NATSPublisher struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// NewNATSPublisher connects to url. The connection retries in the
// background, so a broker that is down at startup does not block the bot.
func NewNATSPublisher(url, token string, logger *slog.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []nats.Option{
		nats.Name("contactpipe"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NATSPublisher{conn: nc, logger: logger}, nil
}

func (p *NATSPublisher) Publish(_ context.Context, ev RecordEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal record event: %w", err)
	}
	if err := p.conn.Publish(ev.Subject(), payload); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Subject(), err)
	}
	p.logger.Debug("record event published", "subject", ev.Subject(), "page_id", ev.PageID)
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}

// MemoryPublisher keeps published events in memory.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []RecordEvent
	Err    error
}

func (p *MemoryPublisher) Publish(_ context.Context, ev RecordEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *MemoryPublisher) Close() {}

// Events returns a copy of the published events.
func (p *MemoryPublisher) Events() []RecordEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]RecordEvent, len(p.events))
	copy(out, p.events)
	return out
}
