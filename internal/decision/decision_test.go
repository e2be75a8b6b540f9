package decision

import (
	"errors"
	"testing"
	"time"

	"github.com/opensource-finance/medoracle/internal/domain"
	"github.com/shopspring/decimal"
)

var fixed = time.Date(2025, 4, 11, 9, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return fixed }

func claim(amount string) *domain.Claim {
	return &domain.Claim{
		ID:            "claim-1",
		ExamType:      "MRI",
		ExamDate:      time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC),
		ClaimedAmount: decimal.RequireFromString(amount),
		Currency:      "EUR",
		PatientID:     "P1",
	}
}

func capResult(id, amount string) domain.RuleResult {
	c := decimal.RequireFromString(amount)
	return domain.RuleResult{RuleID: id, Passed: true, Applicable: true, Severity: domain.SeveritySoft, Effect: domain.EffectCapAmount, Cap: &c, Detail: "capped"}
}

func TestDecide(t *testing.T) {
	proc := NewProcessor(fixedClock)

	t.Run("ApprovedNoCaps", func(t *testing.T) {
		v := &domain.Verdict{ClaimID: "claim-1", Status: domain.StatusApproved}
		d := proc.Decide(claim("500"), v)

		if d.Status != domain.StatusApproved {
			t.Errorf("expected APPROVED, got %s", d.Status)
		}
		if !d.ReimbursementAmount.Equal(decimal.NewFromInt(500)) {
			t.Errorf("expected 500, got %s", d.ReimbursementAmount)
		}
		if d.Pending {
			t.Error("approved decision must not be pending")
		}
		if !d.Timestamp.Equal(fixed) {
			t.Errorf("expected injected timestamp, got %s", d.Timestamp)
		}
	})

	t.Run("SmallestCapWins", func(t *testing.T) {
		v := &domain.Verdict{
			ClaimID: "claim-1",
			Status:  domain.StatusApproved,
			Results: []domain.RuleResult{capResult("cap-100", "100"), capResult("cap-50", "50")},
		}
		d := proc.Decide(claim("500"), v)

		if !d.ReimbursementAmount.Equal(decimal.NewFromInt(50)) {
			t.Errorf("expected 50, got %s", d.ReimbursementAmount)
		}
		if len(d.Reasons) != 2 {
			t.Errorf("expected both caps as reasons, got %v", d.Reasons)
		}
	})

	t.Run("CapAboveClaimedKeepsClaimed", func(t *testing.T) {
		v := &domain.Verdict{
			ClaimID: "claim-1",
			Status:  domain.StatusApproved,
			Results: []domain.RuleResult{capResult("cap-1000", "1000")},
		}
		d := proc.Decide(claim("500"), v)

		if !d.ReimbursementAmount.Equal(decimal.NewFromInt(500)) {
			t.Errorf("amount must never exceed claimed, got %s", d.ReimbursementAmount)
		}
	})

	t.Run("Rejected", func(t *testing.T) {
		v := &domain.Verdict{
			ClaimID: "claim-1",
			Status:  domain.StatusRejected,
			Results: []domain.RuleResult{
				{RuleID: "R1", Passed: false, Applicable: true, Severity: domain.SeverityHard, Effect: domain.EffectReject, Detail: "examDate 2024-11-02 outside [2025-01-01, 2025-12-31]"},
				capResult("R2", "400"),
			},
		}
		d := proc.Decide(claim("500"), v)

		if d.Status != domain.StatusRejected {
			t.Errorf("expected REJECTED, got %s", d.Status)
		}
		if !d.ReimbursementAmount.IsZero() {
			t.Errorf("expected 0, got %s", d.ReimbursementAmount)
		}
		if len(d.Reasons) == 0 || d.Reasons[0][:3] != "R1:" {
			t.Errorf("expected R1 in reasons, got %v", d.Reasons)
		}
	})

	t.Run("NeedsReviewIsPending", func(t *testing.T) {
		v := &domain.Verdict{ClaimID: "claim-1", Status: domain.StatusNeedsReview}
		d := proc.Decide(claim("500"), v)

		if !d.Pending || IsFinal(d) {
			t.Error("needs-review decision must be pending")
		}
		if !d.ReimbursementAmount.IsZero() {
			t.Errorf("expected 0, got %s", d.ReimbursementAmount)
		}
	})

	t.Run("IDIsDerivedFromClaimAndTimestamp", func(t *testing.T) {
		v := &domain.Verdict{ClaimID: "claim-1", Status: domain.StatusApproved}
		a := proc.Decide(claim("500"), v)
		b := proc.Decide(claim("500"), v)

		if a.ID != b.ID {
			t.Errorf("same claim and timestamp must give the same id: %s != %s", a.ID, b.ID)
		}
		if a.ID != domain.RecordID("claim-1", fixed) {
			t.Errorf("unexpected id %s", a.ID)
		}
	})
}

func TestDecideDoesNotMutateVerdict(t *testing.T) {
	proc := NewProcessor(fixedClock)
	v := &domain.Verdict{
		ClaimID: "claim-1",
		Status:  domain.StatusApproved,
		Results: []domain.RuleResult{capResult("cap-50", "50")},
	}
	proc.Decide(claim("500"), v)

	if v.Status != domain.StatusApproved || !v.Results[0].Cap.Equal(decimal.NewFromInt(50)) {
		t.Error("verdict was mutated")
	}
}

func TestReimbursement(t *testing.T) {
	tests := []struct {
		name    string
		claimed string
		caps    []string
		want    string
	}{
		{"no caps", "500", nil, "500"},
		{"single cap", "500", []string{"400"}, "400"},
		{"smallest of many", "500", []string{"100", "50", "75"}, "50"},
		{"zero cap", "500", []string{"0"}, "0"},
		{"zero claimed", "0", []string{"100"}, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caps := make([]decimal.Decimal, len(tt.caps))
			for i, c := range tt.caps {
				caps[i] = decimal.RequireFromString(c)
			}
			got := Reimbursement(decimal.RequireFromString(tt.claimed), caps)
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
			if got.IsNegative() {
				t.Error("amount must never be negative")
			}
		})
	}
}

func pendingRecord(proc *Processor) *domain.Record {
	c := claim("500")
	v := &domain.Verdict{
		ClaimID: c.ID,
		Status:  domain.StatusNeedsReview,
		Results: []domain.RuleResult{
			{RuleID: "R3", Passed: false, Applicable: true, Severity: domain.SeveritySoft, Effect: domain.EffectFlagReview, Detail: "institution not contracted"},
			capResult("R2", "400"),
		},
	}
	d := proc.Decide(c, v)
	return &domain.Record{ID: d.ID, TenantID: "tenant-001", Decision: *d, Claim: *c, Verdict: *v}
}

func TestAdjudicate(t *testing.T) {
	proc := NewProcessor(fixedClock)
	original := pendingRecord(proc)

	t.Run("ApproveDefaultsToCappedAmount", func(t *testing.T) {
		d, err := proc.Adjudicate(original, domain.AdjudicationRequest{Status: domain.StatusApproved, Reviewer: "dr-house", Reason: "contract confirmed"})
		if err != nil {
			t.Fatalf("adjudicate failed: %v", err)
		}
		if !d.ReimbursementAmount.Equal(decimal.NewFromInt(400)) {
			t.Errorf("expected 400, got %s", d.ReimbursementAmount)
		}
		if d.Supersedes != original.ID {
			t.Errorf("expected supersedes %s, got %s", original.ID, d.Supersedes)
		}
		if d.Pending {
			t.Error("adjudicated decision must be final")
		}
		if d.ID == original.ID {
			t.Error("superseding decision must have its own id")
		}
		if d.ID != domain.AdjudicationID(original.ID) {
			t.Errorf("expected id %s derived from the original, got %s", domain.AdjudicationID(original.ID), d.ID)
		}
		if !d.Timestamp.After(original.Decision.Timestamp) {
			t.Error("superseding decision must be later than the original")
		}
	})

	t.Run("ApproveExplicitAmount", func(t *testing.T) {
		d, err := proc.Adjudicate(original, domain.AdjudicationRequest{Status: domain.StatusApproved, Amount: "250.50", Reviewer: "dr-house"})
		if err != nil {
			t.Fatalf("adjudicate failed: %v", err)
		}
		if !d.ReimbursementAmount.Equal(decimal.RequireFromString("250.50")) {
			t.Errorf("expected 250.50, got %s", d.ReimbursementAmount)
		}
	})

	t.Run("Reject", func(t *testing.T) {
		d, err := proc.Adjudicate(original, domain.AdjudicationRequest{Status: domain.StatusRejected, Reviewer: "dr-house", Reason: "not covered"})
		if err != nil {
			t.Fatalf("adjudicate failed: %v", err)
		}
		if !d.ReimbursementAmount.IsZero() || d.Status != domain.StatusRejected {
			t.Errorf("unexpected decision %+v", d)
		}
		if d.Reason != "not covered" || d.Reviewer != "dr-house" {
			t.Errorf("reviewer metadata missing: %+v", d)
		}
	})

	invalid := []struct {
		name string
		req  domain.AdjudicationRequest
	}{
		{"missing reviewer", domain.AdjudicationRequest{Status: domain.StatusApproved}},
		{"needs review is not a verdict", domain.AdjudicationRequest{Status: domain.StatusNeedsReview, Reviewer: "r"}},
		{"amount above claimed", domain.AdjudicationRequest{Status: domain.StatusApproved, Amount: "501", Reviewer: "r"}},
		{"negative amount", domain.AdjudicationRequest{Status: domain.StatusApproved, Amount: "-1", Reviewer: "r"}},
		{"bad amount", domain.AdjudicationRequest{Status: domain.StatusApproved, Amount: "lots", Reviewer: "r"}},
		{"reject with amount", domain.AdjudicationRequest{Status: domain.StatusRejected, Amount: "10", Reviewer: "r"}},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			_, err := proc.Adjudicate(original, tt.req)
			if !errors.Is(err, ErrInvalidAdjudication) {
				t.Errorf("expected ErrInvalidAdjudication, got %v", err)
			}
		})
	}
}
