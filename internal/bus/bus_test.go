package bus

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/medoracle/internal/domain"
)

func waitFor(t *testing.T, ch <-chan *domain.Message) *domain.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
		return nil
	}
}

func collect(ch chan *domain.Message) domain.MessageHandler {
	return func(ctx context.Context, msg *domain.Message) error {
		ch <- msg
		return nil
	}
}

func TestChannelBus(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("PublishAndSubscribe", func(t *testing.T) {
		received := make(chan *domain.Message, 1)
		if _, err := bus.Subscribe(ctx, tenantID, domain.TopicClaimSubmitted, collect(received)); err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		if err := bus.Publish(ctx, tenantID, domain.TopicClaimSubmitted, []byte("hello")); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		msg := waitFor(t, received)
		if string(msg.Payload) != "hello" {
			t.Errorf("expected payload 'hello', got '%s'", string(msg.Payload))
		}
		if msg.TenantID != tenantID {
			t.Errorf("expected tenantID '%s', got '%s'", tenantID, msg.TenantID)
		}
		if msg.ID == "" || msg.Timestamp == 0 {
			t.Error("expected message id and timestamp")
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		var received1, received2 atomic.Int32
		done := make(chan *domain.Message, 1)

		bus.Subscribe(ctx, "tenant-001", "isolation.topic", func(ctx context.Context, msg *domain.Message) error {
			received1.Add(1)
			done <- msg
			return nil
		})
		bus.Subscribe(ctx, "tenant-002", "isolation.topic", func(ctx context.Context, msg *domain.Message) error {
			received2.Add(1)
			return nil
		})

		bus.Publish(ctx, "tenant-001", "isolation.topic", []byte("msg1"))
		waitFor(t, done)
		time.Sleep(20 * time.Millisecond)

		if received1.Load() != 1 {
			t.Errorf("tenant1 should receive 1 message, got %d", received1.Load())
		}
		if received2.Load() != 0 {
			t.Errorf("tenant2 should receive 0 messages, got %d", received2.Load())
		}
	})

	t.Run("AnyTenantSubscription", func(t *testing.T) {
		received := make(chan *domain.Message, 2)
		sub, err := bus.Subscribe(ctx, domain.AnyTenant, domain.TopicClaimReview, collect(received))
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}
		defer sub.Unsubscribe()

		bus.Publish(ctx, "tenant-a", domain.TopicClaimReview, []byte("a"))
		bus.Publish(ctx, "tenant-b", domain.TopicClaimReview, []byte("b"))

		tenants := map[string]bool{}
		tenants[waitFor(t, received).TenantID] = true
		tenants[waitFor(t, received).TenantID] = true
		if !tenants["tenant-a"] || !tenants["tenant-b"] {
			t.Errorf("expected messages from both tenants, got %v", tenants)
		}

		if err := bus.Publish(ctx, domain.AnyTenant, domain.TopicClaimReview, nil); err == nil {
			t.Error("publishing to the wildcard tenant must fail")
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		if err := bus.Publish(ctx, "", "topic", []byte("data")); err == nil {
			t.Error("expected error for empty tenantID")
		}

		_, err := bus.Subscribe(ctx, "", "topic", func(ctx context.Context, msg *domain.Message) error {
			return nil
		})
		if err == nil {
			t.Error("expected error for empty tenantID")
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		var count atomic.Int32
		first := make(chan *domain.Message, 1)

		sub, _ := bus.Subscribe(ctx, tenantID, "unsub.topic", func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			first <- msg
			return nil
		})

		bus.Publish(ctx, tenantID, "unsub.topic", []byte("msg1"))
		waitFor(t, first)

		if err := sub.Unsubscribe(); err != nil {
			t.Fatalf("unsubscribe failed: %v", err)
		}

		bus.Publish(ctx, tenantID, "unsub.topic", []byte("msg2"))
		time.Sleep(20 * time.Millisecond)

		if count.Load() != 1 {
			t.Errorf("expected 1 message before unsubscribe, got %d", count.Load())
		}

		bus.mu.RLock()
		_, still := bus.subscriptions[bus.makeKey(tenantID, "unsub.topic")]
		bus.mu.RUnlock()
		if still {
			t.Error("unsubscribe must detach the subscription")
		}
	})

	t.Run("MultipleSubscribers", func(t *testing.T) {
		received := make(chan *domain.Message, 3)
		for i := 0; i < 3; i++ {
			bus.Subscribe(ctx, tenantID, "multi.topic", collect(received))
		}

		bus.Publish(ctx, tenantID, "multi.topic", []byte("broadcast"))

		for i := 0; i < 3; i++ {
			waitFor(t, received)
		}
	})

	t.Run("RequestReply", func(t *testing.T) {
		bus.Subscribe(ctx, tenantID, "echo.topic", func(ctx context.Context, msg *domain.Message) error {
			return bus.Reply(ctx, msg, append([]byte("echo:"), msg.Payload...))
		})

		reqCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()

		reply, err := bus.Request(reqCtx, tenantID, "echo.topic", []byte("ping"))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if string(reply) != "echo:ping" {
			t.Errorf("expected 'echo:ping', got '%s'", reply)
		}
	})

	t.Run("ReplyWithoutRequest", func(t *testing.T) {
		if err := bus.Reply(ctx, &domain.Message{ID: "m", TenantID: tenantID, Metadata: map[string]string{}}, nil); err == nil {
			t.Error("expected error replying to a plain message")
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := bus.Ping(ctx); err != nil {
			t.Errorf("ping failed: %v", err)
		}
	})

	t.Run("SubscriptionTopic", func(t *testing.T) {
		sub, _ := bus.Subscribe(ctx, tenantID, domain.TopicDecisionRecorded, func(ctx context.Context, msg *domain.Message) error {
			return nil
		})
		if sub.Topic() != domain.TopicDecisionRecorded {
			t.Errorf("expected topic %s, got %s", domain.TopicDecisionRecorded, sub.Topic())
		}
	})
}

func TestChannelBusDropsOnFullBuffer(t *testing.T) {
	bus := NewChannelBus(1)
	defer bus.Close()
	ctx := context.Background()

	block := make(chan struct{})
	bus.Subscribe(ctx, "tenant-001", "slow.topic", func(ctx context.Context, msg *domain.Message) error {
		<-block
		return nil
	})

	for i := 0; i < 5; i++ {
		_ = bus.Publish(ctx, "tenant-001", "slow.topic", []byte("x"))
	}
	close(block)

	if bus.Dropped() == 0 {
		t.Error("expected drops on a full buffer")
	}
}

func TestChannelBusClose(t *testing.T) {
	bus := NewChannelBus(10)
	ctx := context.Background()

	bus.Subscribe(ctx, "tenant-001", "topic", func(ctx context.Context, msg *domain.Message) error {
		return nil
	})

	if err := bus.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("second close must be a no-op, got %v", err)
	}

	if err := bus.Publish(ctx, "tenant-001", "topic", []byte("data")); err == nil {
		t.Error("expected error publishing to closed bus")
	}
	if err := bus.Ping(ctx); err == nil {
		t.Error("expected ping error on closed bus")
	}
}

func TestNewBus(t *testing.T) {
	t.Run("ChannelType", func(t *testing.T) {
		b, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 10, RequestTimeout: time.Second})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer b.Close()

		cb, ok := b.(*ChannelBus)
		if !ok {
			t.Fatal("expected ChannelBus for channel type")
		}
		if cb.requestTimeout != time.Second {
			t.Errorf("expected request timeout to be configured, got %s", cb.requestTimeout)
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}

func TestMakeSubject(t *testing.T) {
	tests := []struct {
		tenant, topic, want string
	}{
		{"tenant-001", domain.TopicClaimSubmitted, "medoracle.tenant-001.claim.submitted"},
		{domain.AnyTenant, domain.TopicClaimReview, "medoracle.*.claim.review"},
		{"t", "custom", "medoracle.t.custom"},
	}
	for _, tt := range tests {
		if got := makeSubject(tt.tenant, tt.topic); got != tt.want {
			t.Errorf("makeSubject(%q, %q) = %q, want %q", tt.tenant, tt.topic, got, tt.want)
		}
	}
}

func TestPublishCarriesContextMetadata(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()

	ch := make(chan *domain.Message, 1)
	if _, err := b.Subscribe(context.Background(), "tenant-001", domain.TopicDecisionRecorded, collect(ch)); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	ctx := WithMetadata(context.Background(), domain.MetaRecordID, "rec-1")
	ctx = WithMetadata(ctx, domain.MetaClaimID, "claim-1")
	if err := b.Publish(ctx, "tenant-001", domain.TopicDecisionRecorded, []byte("{}")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	msg := waitFor(t, ch)
	if msg.Metadata[domain.MetaRecordID] != "rec-1" {
		t.Errorf("record_id = %q, want rec-1", msg.Metadata[domain.MetaRecordID])
	}
	if msg.Metadata[domain.MetaClaimID] != "claim-1" {
		t.Errorf("claim_id = %q, want claim-1", msg.Metadata[domain.MetaClaimID])
	}
	if _, ok := msg.Metadata[domain.MetaTraceID]; ok {
		t.Error("trace_id set without an active span")
	}
}
