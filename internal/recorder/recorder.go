// Package recorder durably appends decisions to the audit store.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/opensource-finance/medoracle/internal/domain"
	"github.com/opensource-finance/medoracle/internal/metrics"
	"github.com/opensource-finance/medoracle/internal/repository"
)

// ErrConflict means a different record already exists under the same id.
var ErrConflict = errors.New("record id conflict")

// Recorder appends immutable decision records. Appends are keyed by the
// decision id, so retrying the same decision never duplicates a record.
type Recorder struct {
	store   domain.AuditStore
	cache   domain.Cache
	cfg     domain.RecorderConfig
	ttl     time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithCache writes records through to cache after a successful append.
func WithCache(c domain.Cache, ttl time.Duration) Option {
	return func(r *Recorder) {
		r.cache = c
		r.ttl = ttl
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Recorder) { r.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) { r.logger = l }
}

// WithClock sets the clock used for RecordedAt.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// New creates a recorder over store.
func New(store domain.AuditStore, cfg domain.RecorderConfig, opts ...Option) *Recorder {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 100 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}

	r := &Recorder{
		store:  store,
		cfg:    cfg,
		ttl:    time.Hour,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record builds the audit record for a decision and appends it. Each store
// call is bounded by the configured timeout; failures are retried with
// exponential backoff. It returns the record id, or a *domain.RecordError
// when the record could not be written; the decision is then not final.
func (r *Recorder) Record(ctx context.Context, tenantID string, d *domain.Decision, c *domain.Claim, v *domain.Verdict) (string, error) {
	rec, err := Build(tenantID, d, c, v, r.now())
	if err != nil {
		return "", &domain.RecordError{Kind: domain.RecordStorageUnavailable, RecordID: d.ID, Err: err}
	}

	start := time.Now()
	attempts, err := r.appendWithRetry(ctx, tenantID, rec)
	r.metrics.ObserveStage("record", time.Since(start))
	if err != nil {
		r.metrics.IncrementRecordAttempt("exhausted")
		r.logger.Error("failed to record decision",
			"tenant_id", tenantID,
			"record_id", rec.ID,
			"claim_id", rec.Decision.ClaimID,
			"attempts", attempts,
			"error", err,
		)
		return "", &domain.RecordError{
			Kind:     domain.RecordStorageUnavailable,
			RecordID: rec.ID,
			Attempts: attempts,
			Err:      err,
		}
	}

	if r.cache != nil {
		if err := r.cache.SetRecord(ctx, tenantID, rec, r.ttl); err != nil {
			r.logger.Warn("failed to cache record",
				"tenant_id", tenantID,
				"record_id", rec.ID,
				"error", err,
			)
		}
	}

	return rec.ID, nil
}

func (r *Recorder) appendWithRetry(ctx context.Context, tenantID string, rec *domain.Record) (int, error) {
	attempts := 0
	op := func() error {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()

		written, err := r.store.AppendRecord(attemptCtx, tenantID, rec)
		if err != nil {
			if errors.Is(err, repository.ErrInvalidInput) {
				r.metrics.IncrementRecordAttempt("invalid")
				return backoff.Permanent(err)
			}
			r.metrics.IncrementRecordAttempt("error")
			return err
		}
		if written {
			r.metrics.IncrementRecordAttempt("written")
			return nil
		}

		// Already stored, most likely by an earlier attempt whose
		// acknowledgement was lost. It must be the same record.
		existing, err := r.store.GetRecord(attemptCtx, tenantID, rec.ID)
		if err != nil {
			r.metrics.IncrementRecordAttempt("error")
			return err
		}
		if existing.ContentHash != rec.ContentHash {
			return backoff.Permanent(fmt.Errorf("%w: %s", ErrConflict, rec.ID))
		}
		r.metrics.IncrementRecordAttempt("duplicate")
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.cfg.InitialBackoff
	policy.MaxInterval = r.cfg.MaxBackoff
	policy.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(r.cfg.MaxAttempts-1)), ctx)

	err := backoff.RetryNotify(op, b, func(err error, wait time.Duration) {
		r.logger.Warn("record attempt failed, retrying",
			"tenant_id", tenantID,
			"record_id", rec.ID,
			"attempt", attempts,
			"retry_in_ms", wait.Milliseconds(),
			"error", err,
		)
	})
	return attempts, err
}

// Build assembles the immutable record for a decision, including its
// content hash.
func Build(tenantID string, d *domain.Decision, c *domain.Claim, v *domain.Verdict, recordedAt time.Time) (*domain.Record, error) {
	hash, err := domain.ContentHash(d, c, v)
	if err != nil {
		return nil, err
	}
	return &domain.Record{
		ID:          d.ID,
		TenantID:    tenantID,
		Decision:    *d,
		Claim:       *c,
		Verdict:     *v,
		ContentHash: hash,
		RecordedAt:  recordedAt.UTC(),
	}, nil
}
