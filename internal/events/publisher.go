// Package events carries orchestration step events to consumers.
//
// The engine publishes one event per completed step; the HTTP streaming
// surface subscribes (via NATS) and forwards them as SSE, and the CLI
// consumes them through a channel publisher.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Event types.
const (
	TypeStart    = "start"
	TypeMessage  = "message"
	TypeDraft    = "draft"
	TypeScore    = "score"
	TypeComplete = "complete"
	TypeError    = "error"
)

// Event describes one observable orchestration step outcome.
type Event struct {
	ThreadID string    `json:"thread_id"`
	Node     string    `json:"node"`
	Type     string    `json:"type"`
	Content  string    `json:"content,omitempty"`
	Score    int       `json:"score,omitempty"`
	At       time.Time `json:"at"`
}

// Publisher delivers step events. Publishing is best-effort: the engine
// treats delivery failure as observable but never fatal.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// NopPublisher drops all events.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, Event) error { return nil }

// SubjectPrefix namespaces research step events on the broker.
const SubjectPrefix = "research"

// Subject returns the NATS subject for a thread and event type.
func Subject(threadID, eventType string) string {
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, threadID, eventType)
}

// SubjectWildcard returns the subscription pattern covering all event
// types for a thread.
func SubjectWildcard(threadID string) string {
	return fmt.Sprintf("%s.%s.*", SubjectPrefix, threadID)
}

// NATSPublisher publishes events as JSON on per-thread subjects.
type NATSPublisher struct {
	nc     *nats.Conn
	logger *zap.Logger
}

// NewNATSPublisher creates a broker-backed publisher.
func NewNATSPublisher(nc *nats.Conn, logger *zap.Logger) (*NATSPublisher, error) {
	if nc == nil {
		return nil, fmt.Errorf("nats connection is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSPublisher{nc: nc, logger: logger}, nil
}

// Publish implements Publisher.
func (p *NATSPublisher) Publish(_ context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := p.nc.Publish(Subject(ev.ThreadID, ev.Type), data); err != nil {
		p.logger.Warn("failed to publish step event",
			zap.String("thread_id", ev.ThreadID),
			zap.String("type", ev.Type),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// ChanPublisher delivers events on a buffered channel.
// Used by the CLI to print progress as it happens.
type ChanPublisher struct {
	ch chan Event
}

// NewChanPublisher creates a channel publisher with the given buffer size.
func NewChanPublisher(buffer int) *ChanPublisher {
	return &ChanPublisher{ch: make(chan Event, buffer)}
}

// Events returns the receive side.
func (p *ChanPublisher) Events() <-chan Event { return p.ch }

// Close closes the channel; no Publish may follow.
func (p *ChanPublisher) Close() { close(p.ch) }

// Publish implements Publisher. When the buffer is full it blocks until
// the consumer catches up or the context is cancelled.
func (p *ChanPublisher) Publish(ctx context.Context, ev Event) error {
	select {
	case p.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
