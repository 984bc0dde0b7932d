package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
)

// Notification event types.
const (
	EventExpenseSubmitted        = "expense_submitted"
	EventExpenseApprovalRequired = "expense_approval_required"
	EventExpenseApproved         = "expense_approved"
	EventExpenseRejected         = "expense_rejected"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "notifications.expenses"

// Publisher sends raw messages. *natsclient.Client satisfies it.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// NotificationPublisher publishes expense workflow events to NATS for the
// notifications service.
//
// Subject convention: <prefix>.<event_type>
//
// Publishing is non-fatal: errors are logged and never returned, so a
// notification outage never blocks a submission or a decision.
type NotificationPublisher struct {
	pub    Publisher
	prefix string
	log    zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType    string                 `json:"event_type"`
	ActorID      string                 `json:"actor_id"`
	Recipients   []string               `json:"recipients"`
	ResourceType string                 `json:"resource_type,omitempty"`
	ResourceID   string                 `json:"resource_id,omitempty"`
	IsActionable bool                   `json:"is_actionable,omitempty"`
	Severity     string                 `json:"severity,omitempty"`
	Category     string                 `json:"category,omitempty"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher. A nil pub disables publishing.
func NewNotificationPublisher(pub Publisher, prefix string, log zerolog.Logger) *NotificationPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NotificationPublisher{pub: pub, prefix: prefix, log: log}
}

// PublishExpenseEvent publishes one expense event to <prefix>.<eventType>.
func (p *NotificationPublisher) PublishExpenseEvent(ctx context.Context, eventType, expenseID, actorID string, recipients []string, payload map[string]interface{}) {
	if p == nil || p.pub == nil {
		return
	}
	if len(recipients) == 0 {
		return
	}

	event := &NotificationEvent{
		EventType:    eventType,
		ActorID:      actorID,
		Recipients:   recipients,
		ResourceType: "expense",
		ResourceID:   expenseID,
		IsActionable: eventType == EventExpenseApprovalRequired,
		Severity:     severityFor(eventType),
		Category:     "expense_approval",
		Payload:      payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("%s.%s", p.prefix, eventType)
	if err := p.pub.Publish(ctx, subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("expense_id", expenseID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("expense_id", expenseID).
		Int("recipients", len(recipients)).
		Msg("notification: event published")
}

func severityFor(eventType string) string {
	if eventType == EventExpenseRejected {
		return "warning"
	}
	return "info"
}
