package domain

import "github.com/shopspring/decimal"

// Status is the aggregate outcome of a claim evaluation.
type Status string

const (
	StatusApproved    Status = "APPROVED"
	StatusRejected    Status = "REJECTED"
	StatusNeedsReview Status = "NEEDS_REVIEW"
)

// RuleResult is the outcome of a single rule against a claim.
type RuleResult struct {
	RuleID     string   `json:"ruleId"`
	Passed     bool     `json:"passed"`
	Applicable bool     `json:"applicable"`
	Severity   Severity `json:"severity"`
	Effect     Effect   `json:"effect"`
	Detail     string   `json:"detail"`

	// Cap is set when a cap_amount rule matched.
	Cap *decimal.Decimal `json:"cap,omitempty"`
}

// Verdict is the complete per-rule evaluation trail for one claim.
type Verdict struct {
	ClaimID        string       `json:"claimId"`
	CatalogVersion string       `json:"catalogVersion"`
	Results        []RuleResult `json:"results"`
	Status         Status       `json:"status"`
}

// Failed returns the results of rules that did not pass.
func (v *Verdict) Failed() []RuleResult {
	var failed []RuleResult
	for _, r := range v.Results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}

// Caps returns the caps of every matched cap_amount rule, in rule order.
func (v *Verdict) Caps() []decimal.Decimal {
	var caps []decimal.Decimal
	for _, r := range v.Results {
		if r.Cap != nil {
			caps = append(caps, *r.Cap)
		}
	}
	return caps
}

// Reasons returns human-readable reasons for every failed or capping rule.
func (v *Verdict) Reasons() []string {
	var reasons []string
	for _, r := range v.Results {
		if !r.Passed || r.Cap != nil {
			reasons = append(reasons, r.RuleID+": "+r.Detail)
		}
	}
	return reasons
}
