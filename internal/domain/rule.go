package domain

// Operator is a comparison operator supported by the rule catalog.
type Operator string

const (
	OpEquals         Operator = "equals"
	OpNotEquals      Operator = "notEquals"
	OpBefore         Operator = "before"
	OpAfter          Operator = "after"
	OpWithinRange    Operator = "withinRange"
	OpMatchesPattern Operator = "matchesPattern"
)

// Severity controls how a failing rule affects the aggregate status.
type Severity string

const (
	// SeverityHard failures reject the claim.
	SeverityHard Severity = "hard"

	// SeveritySoft failures send the claim to human review.
	SeveritySoft Severity = "soft"
)

// Effect is what happens when a rule's predicate does not hold.
type Effect string

const (
	EffectReject     Effect = "reject"
	EffectCapAmount  Effect = "cap_amount"
	EffectFlagReview Effect = "flag_review"
)

// RuleDefinition is the declarative form of a rule as written in the rule
// source document.
type RuleDefinition struct {
	ID          string     `json:"id" yaml:"id"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
	Field       string     `json:"field" yaml:"field"`
	Operator    Operator   `json:"operator" yaml:"operator"`
	Value       string     `json:"value,omitempty" yaml:"value,omitempty"`
	Range       *RuleRange `json:"range,omitempty" yaml:"range,omitempty"`
	Severity    Severity   `json:"severity" yaml:"severity"`
	Effect      Effect     `json:"effect" yaml:"effect"`

	// Cap is the maximum reimbursement when a cap_amount rule matches.
	Cap string `json:"cap,omitempty" yaml:"cap,omitempty"`

	// When is an optional CEL guard over the claim. The rule only applies
	// when the guard evaluates to true.
	When string `json:"when,omitempty" yaml:"when,omitempty"`
}

// RuleRange is an inclusive range. Either bound may be empty (open).
type RuleRange struct {
	Min string `json:"min,omitempty" yaml:"min,omitempty"`
	Max string `json:"max,omitempty" yaml:"max,omitempty"`
}

// RuleSource is a stored revision of a rule source document.
type RuleSource struct {
	Version   string `json:"version"`
	Document  []byte `json:"-"`
	CreatedBy string `json:"createdBy,omitempty"`
	CreatedAt int64  `json:"createdAt"`
}
