// Package worker processes claims and adjudications from the event bus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/medoracle/internal/domain"
	"github.com/opensource-finance/medoracle/internal/oracle"
)

// ErrStopped is returned for messages delivered after Stop began.
var ErrStopped = errors.New("worker stopped")

// Pipeline is the part of oracle.Service the worker drives.
type Pipeline interface {
	SubmitClaim(ctx context.Context, tenantID string, raw *domain.RawExtraction) (*oracle.Outcome, error)
	Adjudicate(ctx context.Context, tenantID string, req domain.AdjudicationRequest) (*oracle.Outcome, error)
}

// Worker consumes claim.submitted and claim.adjudicated messages and runs
// them through the pipeline. The pipeline publishes the resulting
// decision.recorded and claim.review events.
type Worker struct {
	bus      domain.EventBus
	pipeline Pipeline
	logger   *slog.Logger

	mu            sync.Mutex
	subscriptions []domain.Subscription
	stopping      bool
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process. Empty subscribes for
	// every tenant.
	TenantIDs []string
}

// Reply is the payload sent back to a requester.
type Reply struct {
	Outcome *oracle.Outcome `json:"outcome,omitempty"`
	Error   *ReplyError     `json:"error,omitempty"`
}

// ReplyError describes a failed request.
type ReplyError struct {
	Kind    string              `json:"kind"`
	Message string              `json:"message"`
	Issues  []domain.FieldIssue `json:"issues,omitempty"`
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, pipeline Pipeline, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		pipeline: pipeline,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to the claim topics for the configured tenants.
func (w *Worker) Start(cfg Config) error {
	tenants := cfg.TenantIDs
	if len(tenants) == 0 {
		tenants = []string{domain.AnyTenant}
	}

	for _, tenantID := range tenants {
		if err := w.startTenantWorker(tenantID); err != nil {
			w.logger.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			return err
		}
	}

	w.logger.Info("workers started", "tenant_count", len(tenants))
	return nil
}

func (w *Worker) startTenantWorker(tenantID string) error {
	handlers := map[string]domain.MessageHandler{
		domain.TopicClaimSubmitted:   w.handleSubmitted,
		domain.TopicClaimAdjudicated: w.handleAdjudicated,
	}

	for topic, handler := range handlers {
		sub, err := w.bus.Subscribe(w.ctx, tenantID, topic, w.track(handler))
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		w.mu.Lock()
		w.subscriptions = append(w.subscriptions, sub)
		w.mu.Unlock()

		w.logger.Info("tenant worker started",
			"tenant_id", tenantID,
			"topic", topic,
		)
	}
	return nil
}

// track counts in-flight handlers so Stop can wait for them. Once Stop
// has begun no handler is admitted.
func (w *Worker) track(h domain.MessageHandler) domain.MessageHandler {
	return func(ctx context.Context, msg *domain.Message) error {
		w.mu.Lock()
		if w.stopping {
			w.mu.Unlock()
			return ErrStopped
		}
		w.wg.Add(1)
		w.mu.Unlock()
		defer w.wg.Done()
		return h(ctx, msg)
	}
}

func (w *Worker) handleSubmitted(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var raw domain.RawExtraction
	if err := json.Unmarshal(msg.Payload, &raw); err != nil {
		w.logger.Error("failed to parse claim message",
			"message_id", msg.ID,
			"tenant_id", msg.TenantID,
			"error", err,
		)
		return w.reply(ctx, msg, nil, fmt.Errorf("invalid payload: %w", err))
	}

	out, err := w.pipeline.SubmitClaim(ctx, msg.TenantID, &raw)
	if err != nil {
		w.logger.Error("claim processing failed",
			"message_id", msg.ID,
			"tenant_id", msg.TenantID,
			"trace_id", msg.Metadata[domain.MetaTraceID],
			"error", err,
		)
		return errors.Join(err, w.reply(ctx, msg, out, err))
	}

	w.logger.Info("claim processed",
		"message_id", msg.ID,
		"tenant_id", msg.TenantID,
		"claim_id", out.Claim.ID,
		"record_id", out.RecordID,
		"status", out.Decision.Status,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return w.reply(ctx, msg, out, nil)
}

func (w *Worker) handleAdjudicated(ctx context.Context, msg *domain.Message) error {
	var req domain.AdjudicationRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		w.logger.Error("failed to parse adjudication message",
			"message_id", msg.ID,
			"tenant_id", msg.TenantID,
			"error", err,
		)
		return w.reply(ctx, msg, nil, fmt.Errorf("invalid payload: %w", err))
	}

	out, err := w.pipeline.Adjudicate(ctx, msg.TenantID, req)
	if err != nil {
		w.logger.Error("adjudication failed",
			"message_id", msg.ID,
			"tenant_id", msg.TenantID,
			"record_id", req.RecordID,
			"error", err,
		)
		return errors.Join(err, w.reply(ctx, msg, out, err))
	}

	return w.reply(ctx, msg, out, nil)
}

// reply answers request messages; published messages expect no reply.
func (w *Worker) reply(ctx context.Context, msg *domain.Message, out *oracle.Outcome, cause error) error {
	if msg.Metadata[domain.MetaReplyTo] == "" {
		return nil
	}

	r := Reply{Outcome: out}
	if cause != nil {
		r.Error = replyError(cause)
	}
	payload, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return w.bus.Reply(ctx, msg, payload)
}

func replyError(err error) *ReplyError {
	var nerr *domain.NormalizationError
	var rerr *domain.RecordError
	switch {
	case errors.As(err, &nerr):
		return &ReplyError{Kind: "normalization", Message: err.Error(), Issues: nerr.Issues}
	case errors.As(err, &rerr):
		return &ReplyError{Kind: string(rerr.Kind), Message: err.Error()}
	default:
		return &ReplyError{Kind: "error", Message: err.Error()}
	}
}

// Stop unsubscribes and waits for in-flight messages.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	w.stopping = true
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			w.logger.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}

	w.wg.Wait()

	w.logger.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
