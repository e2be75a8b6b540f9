package rules

import (
	"fmt"
	"time"

	"github.com/opensource-finance/medoracle/internal/domain"
	"github.com/shopspring/decimal"
)

// Rule is a compiled rule ready for evaluation.
type Rule struct {
	domain.RuleDefinition

	cap   *decimal.Decimal
	pred  predicate
	guard *guard
}

// evaluate runs the rule against a claim.
func (r *Rule) evaluate(c *domain.Claim) domain.RuleResult {
	result := domain.RuleResult{
		RuleID:     r.ID,
		Passed:     true,
		Applicable: true,
		Severity:   r.Severity,
		Effect:     r.Effect,
	}

	if r.guard != nil && !r.guard.applies(c) {
		result.Applicable = false
		result.Detail = "not applicable: " + r.guard.expr
		return result
	}

	ok, detail := r.pred.eval(c)
	result.Detail = detail

	if r.Effect == domain.EffectCapAmount {
		// A violated cap rule adjusts the amount instead of failing.
		if !ok {
			capped := *r.cap
			result.Cap = &capped
			result.Detail = fmt.Sprintf("capped at %s: %s", capped, detail)
		}
		return result
	}

	result.Passed = ok
	return result
}

// Catalog is an immutable, ordered set of compiled rules.
type Catalog struct {
	name     string
	label    string
	version  string
	rules    []*Rule
	index    map[string]*Rule
	source   []byte
	loadedAt time.Time
}

// Lookup returns the rule with the given id.
func (c *Catalog) Lookup(id string) (*Rule, bool) {
	r, ok := c.index[id]
	return r, ok
}

// Rules returns the rules in declaration order, which is also evaluation order.
func (c *Catalog) Rules() []*Rule {
	out := make([]*Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

// Definitions returns the declarative form of every rule, in order.
func (c *Catalog) Definitions() []domain.RuleDefinition {
	out := make([]domain.RuleDefinition, len(c.rules))
	for i, r := range c.rules {
		out[i] = r.RuleDefinition
	}
	return out
}

// Len returns the number of rules.
func (c *Catalog) Len() int { return len(c.rules) }

// Version is the content hash of the source document.
func (c *Catalog) Version() string { return c.version }

// Label is the human version string declared in the document.
func (c *Catalog) Label() string { return c.label }

// Name is the declared policy name.
func (c *Catalog) Name() string { return c.name }

// Source returns a copy of the document the catalog was loaded from.
func (c *Catalog) Source() []byte {
	out := make([]byte, len(c.source))
	copy(out, c.source)
	return out
}

// LoadedAt is when the catalog was built.
func (c *Catalog) LoadedAt() time.Time { return c.loadedAt }

// Empty returns a catalog with no rules.
func Empty() *Catalog {
	return &Catalog{
		version:  "empty",
		index:    map[string]*Rule{},
		loadedAt: time.Now().UTC(),
	}
}

// compileRule validates a definition and builds its predicate, cap and guard.
func compileRule(def domain.RuleDefinition) (*Rule, *domain.RuleLoadError) {
	if def.ID == "" {
		return nil, &domain.RuleLoadError{Kind: domain.RuleLoadMalformed, Message: "rule id is required"}
	}

	ft, known := domain.ClaimFields[def.Field]
	if !known {
		return nil, &domain.RuleLoadError{
			Kind:    domain.RuleLoadUnknownField,
			RuleID:  def.ID,
			Field:   def.Field,
			Message: fmt.Sprintf("unknown claim field %q", def.Field),
		}
	}

	switch def.Severity {
	case domain.SeverityHard, domain.SeveritySoft:
	default:
		return nil, &domain.RuleLoadError{
			Kind:    domain.RuleLoadMalformed,
			RuleID:  def.ID,
			Message: fmt.Sprintf("unknown severity %q", def.Severity),
		}
	}

	rule := &Rule{RuleDefinition: def}

	switch def.Effect {
	case domain.EffectReject:
		if def.Severity != domain.SeverityHard {
			return nil, &domain.RuleLoadError{Kind: domain.RuleLoadMalformed, RuleID: def.ID, Message: "reject effect requires hard severity"}
		}
	case domain.EffectFlagReview:
		if def.Severity != domain.SeveritySoft {
			return nil, &domain.RuleLoadError{Kind: domain.RuleLoadMalformed, RuleID: def.ID, Message: "flag_review effect requires soft severity"}
		}
	case domain.EffectCapAmount:
		c, err := decimal.NewFromString(def.Cap)
		if err != nil {
			return nil, &domain.RuleLoadError{Kind: domain.RuleLoadMalformed, RuleID: def.ID, Message: fmt.Sprintf("invalid cap %q", def.Cap)}
		}
		if c.IsNegative() {
			return nil, &domain.RuleLoadError{Kind: domain.RuleLoadMalformed, RuleID: def.ID, Message: "cap must not be negative"}
		}
		rule.cap = &c
	default:
		return nil, &domain.RuleLoadError{
			Kind:    domain.RuleLoadMalformed,
			RuleID:  def.ID,
			Message: fmt.Sprintf("unknown effect %q", def.Effect),
		}
	}

	pred, lerr := compilePredicate(&def, ft)
	if lerr != nil {
		return nil, lerr
	}
	rule.pred = pred

	if def.When != "" {
		g, lerr := compileGuard(&def)
		if lerr != nil {
			return nil, lerr
		}
		rule.guard = g
	}

	return rule, nil
}
