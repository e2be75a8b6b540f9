package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/medoracle/internal/decision"
	"github.com/opensource-finance/medoracle/internal/domain"
	"github.com/opensource-finance/medoracle/internal/recorder"
	"github.com/opensource-finance/medoracle/internal/rules"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

// GetRecord returns a record, reading through the cache when one is
// configured.
func (s *Service) GetRecord(ctx context.Context, tenantID, recordID string) (*domain.Record, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}

	if s.cache != nil {
		rec, err := s.cache.GetRecord(ctx, tenantID, recordID)
		if err != nil {
			s.logger.Warn("record cache read failed", "record_id", recordID, "error", err)
		} else if rec != nil {
			return rec, nil
		}
	}

	rec, err := s.repo.GetRecord(ctx, tenantID, recordID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetRecord(ctx, tenantID, rec, s.cacheTTL); err != nil {
			s.logger.Warn("record cache write failed", "record_id", recordID, "error", err)
		}
	}
	return rec, nil
}

// ListByClaim returns every decision recorded for a claim, oldest first.
// Adjudicated decisions follow the decision they supersede.
func (s *Service) ListByClaim(ctx context.Context, tenantID, claimID string) ([]*domain.Record, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	return s.repo.ListRecordsByClaim(ctx, tenantID, claimID)
}

// Adjudicate records a reviewer's verdict on a pending decision as a new
// decision that supersedes it. The original record is left untouched.
func (s *Service) Adjudicate(ctx context.Context, tenantID string, req domain.AdjudicationRequest) (*Outcome, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}

	ctx, span := tracer.Start(ctx, "oracle.Adjudicate")
	defer span.End()
	span.SetAttributes(attribute.String("record.id", req.RecordID))

	original, err := s.GetRecord(ctx, tenantID, req.RecordID)
	if err != nil {
		return nil, err
	}
	if !original.Decision.Pending {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotPending, original.ID, original.Decision.Status)
	}

	history, err := s.repo.ListRecordsByClaim(ctx, tenantID, original.Decision.ClaimID)
	if err != nil {
		return nil, err
	}
	for _, rec := range history {
		if rec.Decision.Supersedes == original.ID {
			return nil, fmt.Errorf("%w: %s by %s", ErrAlreadyAdjudicated, original.ID, rec.ID)
		}
	}

	d, err := s.processor.Adjudicate(original, req)
	if err != nil {
		return nil, err
	}

	out := &Outcome{Decision: d, Claim: &original.Claim, Verdict: &original.Verdict}
	if err := s.Record(ctx, tenantID, out); err != nil {
		if errors.Is(err, recorder.ErrConflict) {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyAdjudicated, original.ID)
		}
		return out, err
	}

	s.logger.Info("decision adjudicated",
		"tenant_id", tenantID,
		"claim_id", d.ClaimID,
		"record_id", out.RecordID,
		"supersedes", original.ID,
		"reviewer", req.Reviewer,
		"status", d.Status,
	)
	return out, nil
}

// Verification is the result of recomputing a record's content hash.
type Verification struct {
	RecordID     string `json:"recordId"`
	Valid        bool   `json:"valid"`
	StoredHash   string `json:"storedHash"`
	ComputedHash string `json:"computedHash"`
}

// Verify recomputes the content hash of a stored record. It reads from
// the audit store, never the cache.
func (s *Service) Verify(ctx context.Context, tenantID, recordID string) (*Verification, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}

	rec, err := s.repo.GetRecord(ctx, tenantID, recordID)
	if err != nil {
		return nil, err
	}
	ok, computed, err := rec.Verify()
	if err != nil {
		return nil, err
	}
	if !ok {
		s.logger.Warn("record integrity check failed",
			"tenant_id", tenantID,
			"record_id", recordID,
		)
	}
	return &Verification{
		RecordID:     rec.ID,
		Valid:        ok,
		StoredHash:   rec.ContentHash,
		ComputedHash: computed,
	}, nil
}

// Divergence is a stored decision that the active catalog would decide
// differently.
type Divergence struct {
	RecordID        string        `json:"recordId"`
	ClaimID         string        `json:"claimId"`
	RecordedStatus  domain.Status `json:"recordedStatus"`
	ReplayedStatus  domain.Status `json:"replayedStatus"`
	RecordedAmount  string        `json:"recordedAmount"`
	ReplayedAmount  string        `json:"replayedAmount"`
	RecordedVersion string        `json:"recordedVersion"`
}

// ReplayReport summarizes a replay run.
type ReplayReport struct {
	CatalogVersion string       `json:"catalogVersion"`
	Checked        int          `json:"checked"`
	Skipped        int          `json:"skipped"`
	Diverged       []Divergence `json:"diverged"`
}

// Replay re-evaluates recorded claims against the active catalog and
// reports decisions that would come out differently. Adjudicated
// decisions are skipped. Nothing is written.
func (s *Service) Replay(ctx context.Context, tenantID string, since time.Time, limit int) (*ReplayReport, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}

	records, err := s.repo.ListRecords(ctx, tenantID, since, limit)
	if err != nil {
		return nil, err
	}

	cat := s.engine.Catalog()
	report := &ReplayReport{CatalogVersion: cat.Version(), Diverged: []Divergence{}}

	for _, rec := range records {
		if rec.Decision.Supersedes != "" {
			report.Skipped++
			continue
		}
		report.Checked++

		verdict := rules.Evaluate(&rec.Claim, cat)
		amount := replayAmount(&rec.Claim, verdict)

		if verdict.Status == rec.Decision.Status && amount.Equal(rec.Decision.ReimbursementAmount) {
			continue
		}
		report.Diverged = append(report.Diverged, Divergence{
			RecordID:        rec.ID,
			ClaimID:         rec.Decision.ClaimID,
			RecordedStatus:  rec.Decision.Status,
			ReplayedStatus:  verdict.Status,
			RecordedAmount:  rec.Decision.ReimbursementAmount.String(),
			ReplayedAmount:  amount.String(),
			RecordedVersion: rec.Verdict.CatalogVersion,
		})
	}

	s.logger.Info("replay finished",
		"tenant_id", tenantID,
		"catalog_version", report.CatalogVersion,
		"checked", report.Checked,
		"diverged", len(report.Diverged),
	)
	return report, nil
}

func replayAmount(c *domain.Claim, v *domain.Verdict) decimal.Decimal {
	if v.Status != domain.StatusApproved {
		return decimal.Zero
	}
	return decision.Reimbursement(c.ClaimedAmount, v.Caps())
}
