package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Decision is the final outcome for a claim. It is never altered once
// recorded; corrections are new decisions that reference the original.
type Decision struct {
	// ID doubles as the record id and is derived from ClaimID and Timestamp.
	ID                  string          `json:"id"`
	ClaimID             string          `json:"claimId"`
	Status              Status          `json:"status"`
	ReimbursementAmount decimal.Decimal `json:"reimbursementAmount"`
	Currency            string          `json:"currency"`

	// Pending marks a decision awaiting human adjudication.
	Pending bool `json:"pending"`

	// Reasons lists the rules behind a rejection, review or cap as
	// "ruleID: detail".
	Reasons []string `json:"reasons,omitempty"`

	// Supersedes is the record id of the decision this one replaces.
	Supersedes string `json:"supersedes,omitempty"`

	// Reviewer and Reason are set on adjudicated decisions.
	Reviewer string `json:"reviewer,omitempty"`
	Reason   string `json:"reason,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// AdjudicationRequest is a human verdict on a pending decision.
type AdjudicationRequest struct {
	RecordID string `json:"recordId"`
	Status   Status `json:"status"`

	// Amount is optional; when empty an approval reimburses the claimed
	// amount reduced by any matched caps.
	Amount   string `json:"amount,omitempty"`
	Reviewer string `json:"reviewer"`
	Reason   string `json:"reason"`
}

// Record is an immutable audit entry holding everything needed for replay.
type Record struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenantId"`
	Decision    Decision  `json:"decision"`
	Claim       Claim     `json:"claim"`
	Verdict     Verdict   `json:"verdict"`
	ContentHash string    `json:"contentHash"`
	RecordedAt  time.Time `json:"recordedAt"`
}
