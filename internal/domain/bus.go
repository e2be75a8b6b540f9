package domain

import (
	"context"
	"time"
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

	// Request sends a message and waits for a response (request-reply pattern).
	Request(ctx context.Context, tenantID string, topic string, payload []byte) ([]byte, error)

	// Reply answers a message received from Request.
	Reply(ctx context.Context, msg *Message, payload []byte) error

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

// MessageMetadata keys set by publishers.
const (
	MetaTraceID  = "trace_id"
	MetaRecordID = "record_id"
	MetaClaimID  = "claim_id"
	MetaReplyTo  = "reply_to"
)

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `mapstructure:"type" yaml:"type"`

	// Channel settings (Community tier)
	ChannelBufferSize int `mapstructure:"channelBufferSize" yaml:"channelBufferSize"`

	// NATS settings (Pro tier)
	NATSUrl           string `mapstructure:"natsUrl" yaml:"natsUrl"`
	NATSToken         string `mapstructure:"natsToken" yaml:"-"`
	NATSMaxReconnects int    `mapstructure:"natsMaxReconnects" yaml:"natsMaxReconnects"`
	NATSReconnectWait int    `mapstructure:"natsReconnectWait" yaml:"natsReconnectWait"` // seconds

	// NATSQueueGroup, when set, load-balances deliveries across every
	// subscriber in the group instead of fanning out.
	NATSQueueGroup string `mapstructure:"natsQueueGroup" yaml:"natsQueueGroup"`

	// RequestTimeout bounds Request when the context has no deadline.
	RequestTimeout time.Duration `mapstructure:"requestTimeout" yaml:"requestTimeout"`
}

// AnyTenant subscribes to a topic for every tenant.
const AnyTenant = "*"

// Standard topic names for the claim pipeline.
const (
	TopicClaimSubmitted   = "medoracle.claim.submitted"
	TopicClaimReview      = "medoracle.claim.review"
	TopicClaimAdjudicated = "medoracle.claim.adjudicated"
	TopicDecisionRecorded = "medoracle.decision.recorded"
)
