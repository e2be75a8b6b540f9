// Package bus provides event bus implementations for Medoracle.
package bus

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/medoracle/internal/domain"
	"go.opentelemetry.io/otel/trace"
)

const defaultRequestTimeout = 30 * time.Second

// New creates a new event bus based on configuration.
// For Community tier: returns ChannelBus.
// For Pro tier: returns NATSBus.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		b := NewChannelBus(cfg.ChannelBufferSize)
		if cfg.RequestTimeout > 0 {
			b.requestTimeout = cfg.RequestTimeout
		}
		return b, nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

type metadataKey struct{}

// WithMetadata returns a context whose published messages carry key=value
// in their metadata.
func WithMetadata(ctx context.Context, key, value string) context.Context {
	md := make(map[string]string)
	if prev, ok := ctx.Value(metadataKey{}).(map[string]string); ok {
		maps.Copy(md, prev)
	}
	md[key] = value
	return context.WithValue(ctx, metadataKey{}, md)
}

func newMessage(ctx context.Context, tenantID, topic string, payload []byte) *domain.Message {
	msg := &domain.Message{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}
	if md, ok := ctx.Value(metadataKey{}).(map[string]string); ok {
		maps.Copy(msg.Metadata, md)
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		msg.Metadata[domain.MetaTraceID] = sc.TraceID().String()
	}
	return msg
}
