package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (Community) or NATS (Pro).
// All methods require tenantID for strict multi-tenancy isolation.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

	// QueueSubscribe registers a handler in a queue group. Each message is
	// delivered to exactly one member of the group.
	QueueSubscribe(ctx context.Context, tenantID string, topic string, queue string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenantId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `yaml:"type"`

	// Channel settings (Community tier)
	ChannelBufferSize int `yaml:"channel_buffer_size"`

	// NATS settings (Pro tier)
	NATSUrl           string `yaml:"nats_url"`
	NATSToken         string `yaml:"nats_token"`
	NATSMaxReconnects int    `yaml:"nats_max_reconnects"`
	NATSReconnectWait int    `yaml:"nats_reconnect_wait"` // seconds
}

// Topics for the asynchronous compliance pipeline.
const (
	TopicComplianceRequested    = "smellreg.compliance.requested"
	TopicComplianceCompleted    = "smellreg.compliance.completed"
	TopicComplianceNonCompliant = "smellreg.compliance.noncompliant"
	TopicComplianceFailed       = "smellreg.compliance.failed"
)

// CheckRequest is the payload of TopicComplianceRequested.
type CheckRequest struct {
	RequestID string            `json:"requestId"`
	FormulaID string            `json:"formulaId,omitempty"`
	Formula   Formula           `json:"formula"`
	Request   EvaluationRequest `json:"request"`
}

// CheckFailure is the payload of TopicComplianceFailed.
type CheckFailure struct {
	RequestID string `json:"requestId"`
	FormulaID string `json:"formulaId,omitempty"`
	Error     string `json:"error"`
}
