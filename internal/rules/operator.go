package rules

import (
	"fmt"
	"regexp"
	"time"

	"github.com/opensource-finance/medoracle/internal/domain"
	"github.com/shopspring/decimal"
)

// predicate is a compiled, typed comparison over one claim field.
// The set of implementations is closed; each is built by compilePredicate.
type predicate interface {
	eval(c *domain.Claim) (bool, string)
}

type stringEquals struct {
	field  string
	want   string
	negate bool
}

func (p stringEquals) eval(c *domain.Claim) (bool, string) {
	got, _ := c.StringField(p.field)
	eq := got == p.want
	if p.negate {
		if eq {
			return false, fmt.Sprintf("%s is %q, must not be %q", p.field, got, p.want)
		}
		return true, fmt.Sprintf("%s %q differs from %q", p.field, got, p.want)
	}
	if eq {
		return true, fmt.Sprintf("%s is %q", p.field, got)
	}
	return false, fmt.Sprintf("%s is %q, expected %q", p.field, got, p.want)
}

type dateEquals struct {
	field  string
	want   time.Time
	negate bool
}

func (p dateEquals) eval(c *domain.Claim) (bool, string) {
	got, _ := c.DateField(p.field)
	eq := got.Equal(p.want)
	g, w := got.Format(domain.DateLayout), p.want.Format(domain.DateLayout)
	if p.negate {
		if eq {
			return false, fmt.Sprintf("%s is %s, must not be %s", p.field, g, w)
		}
		return true, fmt.Sprintf("%s %s differs from %s", p.field, g, w)
	}
	if eq {
		return true, fmt.Sprintf("%s is %s", p.field, g)
	}
	return false, fmt.Sprintf("%s is %s, expected %s", p.field, g, w)
}

type amountEquals struct {
	field  string
	want   decimal.Decimal
	negate bool
}

func (p amountEquals) eval(c *domain.Claim) (bool, string) {
	got, _ := c.AmountField(p.field)
	eq := got.Equal(p.want)
	if p.negate {
		if eq {
			return false, fmt.Sprintf("%s is %s, must not be %s", p.field, got, p.want)
		}
		return true, fmt.Sprintf("%s %s differs from %s", p.field, got, p.want)
	}
	if eq {
		return true, fmt.Sprintf("%s is %s", p.field, got)
	}
	return false, fmt.Sprintf("%s is %s, expected %s", p.field, got, p.want)
}

// dateBefore holds when the field is strictly before bound.
type dateBefore struct {
	field string
	bound time.Time
}

func (p dateBefore) eval(c *domain.Claim) (bool, string) {
	got, _ := c.DateField(p.field)
	g, b := got.Format(domain.DateLayout), p.bound.Format(domain.DateLayout)
	if got.Before(p.bound) {
		return true, fmt.Sprintf("%s %s is before %s", p.field, g, b)
	}
	return false, fmt.Sprintf("%s %s is not before %s", p.field, g, b)
}

// dateAfter holds when the field is strictly after bound.
type dateAfter struct {
	field string
	bound time.Time
}

func (p dateAfter) eval(c *domain.Claim) (bool, string) {
	got, _ := c.DateField(p.field)
	g, b := got.Format(domain.DateLayout), p.bound.Format(domain.DateLayout)
	if got.After(p.bound) {
		return true, fmt.Sprintf("%s %s is after %s", p.field, g, b)
	}
	return false, fmt.Sprintf("%s %s is not after %s", p.field, g, b)
}

// dateRange is inclusive on both ends; a nil bound is open.
type dateRange struct {
	field    string
	min, max *time.Time
}

func (p dateRange) eval(c *domain.Claim) (bool, string) {
	got, _ := c.DateField(p.field)
	bounds := formatBounds(formatDate(p.min), formatDate(p.max))
	g := got.Format(domain.DateLayout)
	if (p.min != nil && got.Before(*p.min)) || (p.max != nil && got.After(*p.max)) {
		return false, fmt.Sprintf("%s %s outside %s", p.field, g, bounds)
	}
	return true, fmt.Sprintf("%s %s within %s", p.field, g, bounds)
}

// amountRange is inclusive on both ends; a nil bound is open.
type amountRange struct {
	field    string
	min, max *decimal.Decimal
}

func (p amountRange) eval(c *domain.Claim) (bool, string) {
	got, _ := c.AmountField(p.field)
	bounds := formatBounds(formatAmount(p.min), formatAmount(p.max))
	if (p.min != nil && got.LessThan(*p.min)) || (p.max != nil && got.GreaterThan(*p.max)) {
		return false, fmt.Sprintf("%s %s outside %s", p.field, got, bounds)
	}
	return true, fmt.Sprintf("%s %s within %s", p.field, got, bounds)
}

type patternMatch struct {
	field string
	re    *regexp.Regexp
}

func (p patternMatch) eval(c *domain.Claim) (bool, string) {
	got, _ := c.StringField(p.field)
	if p.re.MatchString(got) {
		return true, fmt.Sprintf("%s %q matches /%s/", p.field, got, p.re.String())
	}
	return false, fmt.Sprintf("%s %q does not match /%s/", p.field, got, p.re.String())
}

// compilePredicate builds the typed predicate for a rule definition.
// The caller has already checked that def.Field is a known claim field.
func compilePredicate(def *domain.RuleDefinition, ft domain.FieldType) (predicate, *domain.RuleLoadError) {
	unsupported := func() *domain.RuleLoadError {
		return &domain.RuleLoadError{
			Kind:    domain.RuleLoadUnsupportedOperator,
			RuleID:  def.ID,
			Field:   def.Field,
			Message: fmt.Sprintf("operator %q cannot be applied to %s field", def.Operator, ft),
		}
	}
	malformed := func(format string, args ...any) *domain.RuleLoadError {
		return &domain.RuleLoadError{
			Kind:    domain.RuleLoadMalformed,
			RuleID:  def.ID,
			Field:   def.Field,
			Message: fmt.Sprintf(format, args...),
		}
	}

	switch def.Operator {
	case domain.OpEquals, domain.OpNotEquals:
		negate := def.Operator == domain.OpNotEquals
		switch ft {
		case domain.FieldTypeString:
			return stringEquals{field: def.Field, want: def.Value, negate: negate}, nil
		case domain.FieldTypeDate:
			d, err := parseDate(def.Value)
			if err != nil {
				return nil, malformed("invalid date value %q", def.Value)
			}
			return dateEquals{field: def.Field, want: d, negate: negate}, nil
		case domain.FieldTypeAmount:
			a, err := decimal.NewFromString(def.Value)
			if err != nil {
				return nil, malformed("invalid amount value %q", def.Value)
			}
			return amountEquals{field: def.Field, want: a, negate: negate}, nil
		}

	case domain.OpBefore, domain.OpAfter:
		if ft != domain.FieldTypeDate {
			return nil, unsupported()
		}
		d, err := parseDate(def.Value)
		if err != nil {
			return nil, malformed("invalid date value %q", def.Value)
		}
		if def.Operator == domain.OpBefore {
			return dateBefore{field: def.Field, bound: d}, nil
		}
		return dateAfter{field: def.Field, bound: d}, nil

	case domain.OpWithinRange:
		if def.Range == nil || (def.Range.Min == "" && def.Range.Max == "") {
			return nil, malformed("withinRange requires range.min and/or range.max")
		}
		switch ft {
		case domain.FieldTypeDate:
			p := dateRange{field: def.Field}
			if def.Range.Min != "" {
				d, err := parseDate(def.Range.Min)
				if err != nil {
					return nil, malformed("invalid range.min %q", def.Range.Min)
				}
				p.min = &d
			}
			if def.Range.Max != "" {
				d, err := parseDate(def.Range.Max)
				if err != nil {
					return nil, malformed("invalid range.max %q", def.Range.Max)
				}
				p.max = &d
			}
			if p.min != nil && p.max != nil && p.min.After(*p.max) {
				return nil, malformed("range.min is after range.max")
			}
			return p, nil
		case domain.FieldTypeAmount:
			p := amountRange{field: def.Field}
			if def.Range.Min != "" {
				a, err := decimal.NewFromString(def.Range.Min)
				if err != nil {
					return nil, malformed("invalid range.min %q", def.Range.Min)
				}
				p.min = &a
			}
			if def.Range.Max != "" {
				a, err := decimal.NewFromString(def.Range.Max)
				if err != nil {
					return nil, malformed("invalid range.max %q", def.Range.Max)
				}
				p.max = &a
			}
			if p.min != nil && p.max != nil && p.min.GreaterThan(*p.max) {
				return nil, malformed("range.min is greater than range.max")
			}
			return p, nil
		}
		return nil, unsupported()

	case domain.OpMatchesPattern:
		if ft != domain.FieldTypeString {
			return nil, unsupported()
		}
		re, err := regexp.Compile(def.Value)
		if err != nil {
			return nil, malformed("invalid pattern: %v", err)
		}
		return patternMatch{field: def.Field, re: re}, nil
	}

	return nil, &domain.RuleLoadError{
		Kind:    domain.RuleLoadUnsupportedOperator,
		RuleID:  def.ID,
		Field:   def.Field,
		Message: fmt.Sprintf("unsupported operator %q", def.Operator),
	}
}

func parseDate(s string) (time.Time, error) {
	return time.ParseInLocation(domain.DateLayout, s, time.UTC)
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(domain.DateLayout)
}

func formatAmount(a *decimal.Decimal) string {
	if a == nil {
		return ""
	}
	return a.String()
}

func formatBounds(lo, hi string) string {
	if lo == "" {
		lo = "-inf"
	}
	if hi == "" {
		hi = "+inf"
	}
	return "[" + lo + ", " + hi + "]"
}
