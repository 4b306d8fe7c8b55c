package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/craftdesk/be-workflow-core/internal/workflow"
)

// EventPublisher publishes workflow events to NATS for downstream consumers
// (notifications, reporting).
//
// Subject convention: workflow.<entity_type>.<event_type>
// Event types: transition_applied, transition_requested, transition_approved,
//              transition_rejected
//
// All publish operations are non-fatal: errors are logged but never
// propagated, so event delivery failures never interrupt workflow operations.
type EventPublisher struct {
	conn *nats.Conn
	log  zerolog.Logger
}

// Event is the JSON schema published to NATS.
type Event struct {
	EventType  string         `json:"event_type"`
	TenantID   string         `json:"tenant_id"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	RequestID  string         `json:"request_id,omitempty"`
	FromState  string         `json:"from_state"`
	ToState    string         `json:"to_state"`
	ActorID    string         `json:"actor_id"`
	Details    map[string]any `json:"details,omitempty"`
	Timestamp  string         `json:"timestamp"`
}

// NewEventPublisher connects to NATS at url.
func NewEventPublisher(url string, log zerolog.Logger) (*EventPublisher, error) {
	conn, err := nats.Connect(url, nats.Name("be-workflow-core"))
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &EventPublisher{conn: conn, log: log}, nil
}

// Close drains the connection.
func (p *EventPublisher) Close() {
	if p != nil && p.conn != nil {
		_ = p.conn.Drain()
	}
}

// Publish implements workflow.EventPublisher.
func (p *EventPublisher) Publish(_ context.Context, eventType string, entry *workflow.LogEntry) {
	if p == nil || p.conn == nil || entry == nil {
		return
	}

	event := &Event{
		EventType:  eventType,
		TenantID:   entry.TenantID,
		EntityType: string(entry.EntityType),
		EntityID:   entry.EntityID,
		FromState:  entry.FromState,
		ToState:    entry.ToState,
		ActorID:    entry.UserID,
		Details:    entry.Details,
		Timestamp:  entry.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"),
	}
	if entry.RequestID != nil {
		event.RequestID = *entry.RequestID
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("event: failed to marshal")
		return
	}

	subject := fmt.Sprintf("workflow.%s.%s", strings.ToLower(string(entry.EntityType)), eventType)
	if err := p.conn.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("entity_id", entry.EntityID).
			Msg("event: failed to publish (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("entity_id", entry.EntityID).
		Msg("event: published")
}
