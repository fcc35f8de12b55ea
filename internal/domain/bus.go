package domain

import (
	"context"
)

// EventBus is the transport for payment events.
// Supports Go channels (embedded), NATS, or Kafka.
// All methods require tenantID for strict multi-tenancy isolation.
type EventBus interface {
	// Publish sends a message to a topic. key selects the ordering domain
	// on backends that partition (payment id for outcome events); headers
	// travel alongside the payload.
	Publish(ctx context.Context, tenantID string, topic string, key string, payload []byte, headers map[string]string) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

	// Request sends a message and waits for a response (request-reply
	// pattern). Used by bus-backed compliance screens; not every backend
	// supports it.
	Request(ctx context.Context, tenantID string, topic string, payload []byte) ([]byte, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages. A non-nil error tells the
// backend the message was not handled; backends with delivery tracking
// will not acknowledge it.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenantId"`
	Topic     string            `json:"topic"`
	Key       string            `json:"key,omitempty"`
	Payload   []byte            `json:"payload"`
	Headers   map[string]string `json:"headers,omitempty"`
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
	// Type is the bus type: "channel", "nats" or "kafka"
	Type string

	// Channel settings (embedded bus)
	ChannelBufferSize int

	// NATS settings
	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds

	// Kafka settings
	KafkaBrokers []string
	KafkaGroupID string
	KafkaVersion string
}

// Standard topic names for the validation pipeline.
const (
	TopicPaymentInitiated = "kestrel.payment.initiated"
	TopicPaymentValidated = "kestrel.payment.validated"
	TopicValidationFailed = "kestrel.validation.failed"

	// TopicScreenPrefix + check name addresses a bus-backed compliance
	// screening service (request-reply).
	TopicScreenPrefix = "kestrel.screen."
)
