// Package decision turns a verdict into a reimbursement decision.
package decision

import (
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/medoracle/internal/domain"
	"github.com/shopspring/decimal"
)

// ErrInvalidAdjudication is returned for adjudication requests that cannot
// produce a valid superseding decision.
var ErrInvalidAdjudication = errors.New("invalid adjudication")

// Clock returns the current time.
type Clock func() time.Time

// Processor computes decisions from verdicts.
type Processor struct {
	now Clock
}

// NewProcessor creates a processor. A nil clock uses time.Now.
func NewProcessor(now Clock) *Processor {
	if now == nil {
		now = time.Now
	}
	return &Processor{now: now}
}

// Decide computes the decision for a claim and its verdict. Neither input
// is modified.
func (p *Processor) Decide(claim *domain.Claim, verdict *domain.Verdict) *domain.Decision {
	ts := p.now().UTC()

	d := &domain.Decision{
		ID:                  domain.RecordID(claim.ID, ts),
		ClaimID:             claim.ID,
		Status:              verdict.Status,
		ReimbursementAmount: decimal.Zero,
		Currency:            claim.Currency,
		Reasons:             verdict.Reasons(),
		Timestamp:           ts,
	}

	switch verdict.Status {
	case domain.StatusApproved:
		d.ReimbursementAmount = Reimbursement(claim.ClaimedAmount, verdict.Caps())
	case domain.StatusNeedsReview:
		d.Pending = true
	}

	return d
}

// Reimbursement is the claimed amount reduced to the smallest cap. The
// result is never negative and never exceeds claimed.
func Reimbursement(claimed decimal.Decimal, caps []decimal.Decimal) decimal.Decimal {
	amount := claimed
	for _, c := range caps {
		if c.LessThan(amount) {
			amount = c
		}
	}
	if amount.IsNegative() {
		return decimal.Zero
	}
	return amount
}

// Adjudicate builds the decision that supersedes original according to a
// human reviewer. An approval without an explicit amount reimburses the
// claimed amount reduced by the caps matched in the original verdict.
func (p *Processor) Adjudicate(original *domain.Record, req domain.AdjudicationRequest) (*domain.Decision, error) {
	if original == nil {
		return nil, fmt.Errorf("%w: original record is required", ErrInvalidAdjudication)
	}
	if req.Reviewer == "" {
		return nil, fmt.Errorf("%w: reviewer is required", ErrInvalidAdjudication)
	}

	claim := &original.Claim
	ts := p.now().UTC()
	if !ts.After(original.Decision.Timestamp) {
		ts = original.Decision.Timestamp.Add(time.Nanosecond)
	}

	d := &domain.Decision{
		ID:                  domain.AdjudicationID(original.ID),
		ClaimID:             claim.ID,
		Status:              req.Status,
		ReimbursementAmount: decimal.Zero,
		Currency:            claim.Currency,
		Supersedes:          original.ID,
		Reviewer:            req.Reviewer,
		Reason:              req.Reason,
		Reasons:             original.Verdict.Reasons(),
		Timestamp:           ts,
	}

	switch req.Status {
	case domain.StatusRejected:
		if req.Amount != "" {
			return nil, fmt.Errorf("%w: a rejection cannot carry an amount", ErrInvalidAdjudication)
		}
	case domain.StatusApproved:
		if req.Amount == "" {
			d.ReimbursementAmount = Reimbursement(claim.ClaimedAmount, original.Verdict.Caps())
			break
		}
		amount, err := decimal.NewFromString(req.Amount)
		if err != nil {
			return nil, fmt.Errorf("%w: cannot parse amount %q", ErrInvalidAdjudication, req.Amount)
		}
		if amount.IsNegative() || amount.GreaterThan(claim.ClaimedAmount) {
			return nil, fmt.Errorf("%w: amount %s must be between 0 and claimed %s", ErrInvalidAdjudication, amount, claim.ClaimedAmount)
		}
		d.ReimbursementAmount = amount
	default:
		return nil, fmt.Errorf("%w: status must be %s or %s, got %q", ErrInvalidAdjudication, domain.StatusApproved, domain.StatusRejected, req.Status)
	}

	return d, nil
}

// IsFinal reports whether a decision needs no further action.
func IsFinal(d *domain.Decision) bool {
	return !d.Pending
}
