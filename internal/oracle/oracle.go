// Package oracle runs the claim pipeline: normalize, evaluate, decide and
// record. It is the single entry point used by the HTTP API, the bus
// worker and the CLI.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/opensource-finance/medoracle/internal/bus"
	"github.com/opensource-finance/medoracle/internal/decision"
	"github.com/opensource-finance/medoracle/internal/domain"
	"github.com/opensource-finance/medoracle/internal/metrics"
	"github.com/opensource-finance/medoracle/internal/normalize"
	"github.com/opensource-finance/medoracle/internal/recorder"
	"github.com/opensource-finance/medoracle/internal/rules"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("medoracle-oracle")

var (
	ErrTenantRequired     = errors.New("tenantID is required")
	ErrNotPending         = errors.New("decision is not pending review")
	ErrAlreadyAdjudicated = errors.New("decision already adjudicated")
	ErrNoRuleSource       = errors.New("no rule source configured")
)

// Outcome is the result of running one claim through the pipeline.
type Outcome struct {
	RecordID string           `json:"recordId,omitempty"`
	Decision *domain.Decision `json:"decision"`
	Claim    *domain.Claim    `json:"claim"`
	Verdict  *domain.Verdict  `json:"verdict"`

	// Recorded is false when the audit append failed. Such a decision is
	// not final; pass the outcome to Service.Record to retry it.
	Recorded bool `json:"recorded"`
}

// Config wires the pipeline stages. Normalizer, Engine, Processor,
// Recorder and Repository are required.
type Config struct {
	Normalizer *normalize.Normalizer
	Engine     *rules.Engine
	Processor  *decision.Processor
	Recorder   *recorder.Recorder
	Repository domain.Repository

	Cache    domain.Cache
	CacheTTL time.Duration
	Bus      domain.EventBus
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	// RulesPath is re-read by ReloadRules. When empty, the latest stored
	// rule source is used.
	RulesPath string

	BatchConcurrency int
	Now              func() time.Time
}

// Service runs claims through the pipeline.
type Service struct {
	normalizer *normalize.Normalizer
	engine     *rules.Engine
	processor  *decision.Processor
	recorder   *recorder.Recorder
	repo       domain.Repository
	cache      domain.Cache
	cacheTTL   time.Duration
	bus        domain.EventBus
	metrics    *metrics.Metrics
	logger     *slog.Logger
	rulesPath  string
	batchLimit int
	now        func() time.Time
}

// New creates a service from cfg.
func New(cfg Config) *Service {
	s := &Service{
		normalizer: cfg.Normalizer,
		engine:     cfg.Engine,
		processor:  cfg.Processor,
		recorder:   cfg.Recorder,
		repo:       cfg.Repository,
		cache:      cfg.Cache,
		cacheTTL:   cfg.CacheTTL,
		bus:        cfg.Bus,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		rulesPath:  cfg.RulesPath,
		batchLimit: cfg.BatchConcurrency,
		now:        cfg.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.batchLimit <= 0 {
		s.batchLimit = 8
	}
	if s.cacheTTL <= 0 {
		s.cacheTTL = time.Hour
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Engine returns the rule engine.
func (s *Service) Engine() *rules.Engine {
	return s.engine
}

// SubmitClaim runs one extraction through the pipeline and records the
// decision. A *domain.NormalizationError means no decision was made. A
// *domain.RecordError is returned together with the unrecorded outcome.
func (s *Service) SubmitClaim(ctx context.Context, tenantID string, raw *domain.RawExtraction) (*Outcome, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}

	start := time.Now()
	ctx, span := tracer.Start(ctx, "oracle.SubmitClaim",
		trace.WithAttributes(attribute.String("tenant.id", tenantID)),
	)
	defer span.End()

	claim, err := s.normalizeClaim(ctx, tenantID, raw)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "normalization failed")
		return nil, err
	}
	span.SetAttributes(attribute.String("claim.id", claim.ID))

	_, evalSpan := tracer.Start(ctx, "oracle.evaluate")
	stageStart := time.Now()
	verdict := s.engine.Evaluate(claim)
	s.metrics.ObserveStage("evaluate", time.Since(stageStart))
	evalSpan.SetAttributes(
		attribute.String("catalog.version", verdict.CatalogVersion),
		attribute.String("verdict.status", string(verdict.Status)),
	)
	evalSpan.End()

	stageStart = time.Now()
	d := s.processor.Decide(claim, verdict)
	s.metrics.ObserveStage("decide", time.Since(stageStart))
	span.SetAttributes(attribute.String("decision.status", string(d.Status)))

	out := &Outcome{Decision: d, Claim: claim, Verdict: verdict}
	if err := s.Record(ctx, tenantID, out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "record failed")
		return out, err
	}

	s.metrics.ObserveStage("pipeline", time.Since(start))
	s.logger.Info("claim decided",
		"tenant_id", tenantID,
		"claim_id", claim.ID,
		"record_id", out.RecordID,
		"status", d.Status,
		"amount", d.ReimbursementAmount.String(),
		"catalog_version", verdict.CatalogVersion,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return out, nil
}

func (s *Service) normalizeClaim(ctx context.Context, tenantID string, raw *domain.RawExtraction) (*domain.Claim, error) {
	_, span := tracer.Start(ctx, "oracle.normalize")
	defer span.End()

	start := time.Now()
	claim, err := s.normalizer.Normalize(raw)
	s.metrics.ObserveStage("normalize", time.Since(start))
	if err != nil {
		var nerr *domain.NormalizationError
		if errors.As(err, &nerr) {
			for _, issue := range nerr.Issues {
				s.metrics.IncrementNormalizationIssue(issue.Field, string(issue.Kind))
			}
			s.logger.Warn("claim rejected by normalizer",
				"tenant_id", tenantID,
				"fields", nerr.Fields(),
			)
		}
		return nil, err
	}
	return claim, nil
}

// Record appends the outcome's decision to the audit store and publishes
// it. It is safe to call again with the same outcome after a failure:
// the decision keeps its id, so the record is never duplicated.
func (s *Service) Record(ctx context.Context, tenantID string, out *Outcome) error {
	if tenantID == "" {
		return ErrTenantRequired
	}
	id, err := s.recorder.Record(ctx, tenantID, out.Decision, out.Claim, out.Verdict)
	if err != nil {
		return err
	}
	out.RecordID = id
	out.Recorded = true

	s.metrics.IncrementDecision(string(out.Decision.Status), tenantID)
	s.publish(ctx, tenantID, out)
	return nil
}

func (s *Service) publish(ctx context.Context, tenantID string, out *Outcome) {
	if s.bus == nil {
		return
	}

	payload, err := json.Marshal(out)
	if err != nil {
		s.logger.Error("failed to encode outcome", "record_id", out.RecordID, "error", err)
		return
	}

	ctx = bus.WithMetadata(ctx, domain.MetaRecordID, out.RecordID)
	ctx = bus.WithMetadata(ctx, domain.MetaClaimID, out.Decision.ClaimID)

	if err := s.bus.Publish(ctx, tenantID, domain.TopicDecisionRecorded, payload); err != nil {
		s.logger.Error("failed to publish decision",
			"tenant_id", tenantID,
			"record_id", out.RecordID,
			"error", err,
		)
	}

	if out.Decision.Pending {
		if err := s.bus.Publish(ctx, tenantID, domain.TopicClaimReview, payload); err != nil {
			s.logger.Error("failed to publish review request",
				"tenant_id", tenantID,
				"record_id", out.RecordID,
				"error", err,
			)
		}
	}
}

// BatchResult is the outcome of one claim in a batch.
type BatchResult struct {
	Outcome *Outcome `json:"outcome,omitempty"`
	Err     error    `json:"-"`
}

// SubmitBatch runs every extraction through the pipeline with bounded
// parallelism. Results are in input order; one claim failing does not
// stop the others.
func (s *Service) SubmitBatch(ctx context.Context, tenantID string, raws []*domain.RawExtraction) ([]BatchResult, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}

	results := make([]BatchResult, len(raws))

	var g errgroup.Group
	g.SetLimit(s.batchLimit)
	for i, raw := range raws {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = BatchResult{Err: err}
				return nil
			}
			out, err := s.SubmitClaim(ctx, tenantID, raw)
			results[i] = BatchResult{Outcome: out, Err: err}
			return nil
		})
	}
	g.Wait()

	return results, nil
}
