// Package normalize turns untrusted extraction output into a valid Claim.
package normalize

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/opensource-finance/medoracle/internal/domain"
	"github.com/shopspring/decimal"
)

var currencyCode = regexp.MustCompile(`^[A-Z]{3}$`)

// Accepted amount shapes. Anything else is unparsable.
var (
	plainAmount    = regexp.MustCompile(`^-?\d+(\.\d+)?$`)
	commaThousands = regexp.MustCompile(`^-?\d{1,3}(,\d{3})+(\.\d+)?$`)
	decimalComma   = regexp.MustCompile(`^-?\d+,\d{1,2}$`)
	dotThousands   = regexp.MustCompile(`^-?\d{1,3}(\.\d{3})+(,\d+)?$`)
)

// currencySymbols maps common symbols to ISO 4217 codes.
var currencySymbols = map[string]string{
	"€": "EUR",
	"$": "USD",
	"£": "GBP",
}

// Normalizer coerces raw extractions into claims.
type Normalizer struct {
	defaultCurrency string
	minConfidence   float64
	layouts         []string
}

// New creates a Normalizer from configuration.
func New(cfg domain.NormalizerConfig) *Normalizer {
	layouts := []string{domain.DateLayout}
	for _, l := range cfg.DateLayouts {
		if l != domain.DateLayout {
			layouts = append(layouts, l)
		}
	}
	return &Normalizer{
		defaultCurrency: strings.ToUpper(cfg.DefaultCurrency),
		minConfidence:   cfg.MinConfidence,
		layouts:         layouts,
	}
}

// Normalize validates and coerces raw into a Claim. Every field problem is
// reported in a single *domain.NormalizationError; a partial claim is never
// returned.
func (n *Normalizer) Normalize(raw *domain.RawExtraction) (*domain.Claim, error) {
	var issues []domain.FieldIssue
	add := func(field string, kind domain.NormalizationIssueKind, format string, args ...any) {
		issues = append(issues, domain.FieldIssue{Field: field, Kind: kind, Message: fmt.Sprintf(format, args...)})
	}

	claim := &domain.Claim{}
	if raw != nil {
		claim.Source = strings.TrimSpace(raw.Source)
	}

	if v, ok := n.value(raw, domain.FieldExamType, add); ok {
		claim.ExamType = strings.ToUpper(v)
	}

	if v, ok := n.value(raw, domain.FieldExamDate, add); ok {
		d, err := n.parseDate(v)
		if err != nil {
			add(domain.FieldExamDate, domain.IssueUnparsableValue, "cannot parse date %q", v)
		} else {
			claim.ExamDate = d
		}
	}

	var suffixCurrency string
	if v, ok := n.value(raw, domain.FieldClaimedAmount, add); ok {
		amount, cur, err := parseAmount(v)
		switch {
		case err != nil:
			add(domain.FieldClaimedAmount, domain.IssueUnparsableValue, "cannot parse amount %q", v)
		case amount.IsNegative():
			add(domain.FieldClaimedAmount, domain.IssueOutOfDomain, "amount %s is negative", amount)
		default:
			claim.ClaimedAmount = amount
			suffixCurrency = cur
		}
	}

	if v, ok := n.value(raw, domain.FieldPatientID, add); ok {
		claim.PatientID = v
	}

	claim.Currency = n.defaultCurrency
	if suffixCurrency != "" {
		claim.Currency = suffixCurrency
	}
	if v, ok := n.optional(raw, domain.FieldCurrency); ok {
		cur := strings.ToUpper(v)
		if sym, known := currencySymbols[v]; known {
			cur = sym
		}
		if !currencyCode.MatchString(cur) {
			add(domain.FieldCurrency, domain.IssueOutOfDomain, "currency %q is not an ISO 4217 code", v)
		} else if suffixCurrency != "" && suffixCurrency != cur {
			add(domain.FieldCurrency, domain.IssueOutOfDomain, "currency %s conflicts with amount currency %s", cur, suffixCurrency)
		} else {
			claim.Currency = cur
		}
	}

	if v, ok := n.optional(raw, domain.FieldInstitution); ok {
		claim.Institution = v
	}

	if len(issues) > 0 {
		return nil, &domain.NormalizationError{Issues: issues}
	}

	if id := strings.TrimSpace(raw.ClaimID); id != "" {
		claim.ID = id
	} else {
		claim.ID = domain.DeriveClaimID(
			claim.PatientID,
			claim.ExamType,
			claim.ExamDate.Format(domain.DateLayout),
			claim.ClaimedAmount.String(),
			claim.Currency,
			claim.Institution,
		)
	}

	return claim, nil
}

// value returns a required field, recording a missing_field issue when it
// is absent, blank or below the confidence threshold.
func (n *Normalizer) value(raw *domain.RawExtraction, field string, add func(string, domain.NormalizationIssueKind, string, ...any)) (string, bool) {
	f, ok := raw.Field(field)
	if !ok || !f.Present || strings.TrimSpace(f.Value) == "" {
		add(field, domain.IssueMissingField, "field is missing")
		return "", false
	}
	if f.Confidence < n.minConfidence {
		add(field, domain.IssueMissingField, "confidence %.2f below threshold %.2f", f.Confidence, n.minConfidence)
		return "", false
	}
	return strings.TrimSpace(f.Value), true
}

// optional returns a field only when it is present and trusted.
func (n *Normalizer) optional(raw *domain.RawExtraction, field string) (string, bool) {
	f, ok := raw.Field(field)
	if !ok || !f.Present || f.Confidence < n.minConfidence {
		return "", false
	}
	v := strings.TrimSpace(f.Value)
	return v, v != ""
}

func (n *Normalizer) parseDate(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range n.layouts {
		t, err := time.ParseInLocation(layout, s, time.UTC)
		if err == nil {
			y, m, d := t.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// parseAmount accepts "1,234.50", "1.234,50", "12,50", "500 EUR", "€500"
// and "500€". A lone comma followed by one or two digits is a decimal
// comma; "1,234" reads as one thousand two hundred thirty-four. The
// currency, when given, is returned as an ISO code.
func parseAmount(s string) (decimal.Decimal, string, error) {
	s = strings.TrimSpace(s)
	var currency string

	for sym, code := range currencySymbols {
		if strings.HasPrefix(s, sym) {
			s, currency = strings.TrimSpace(strings.TrimPrefix(s, sym)), code
			break
		}
		if strings.HasSuffix(s, sym) {
			s, currency = strings.TrimSpace(strings.TrimSuffix(s, sym)), code
			break
		}
	}

	if currency == "" {
		if i := strings.LastIndexFunc(s, func(r rune) bool { return !unicode.IsLetter(r) }); i >= 0 && i < len(s)-1 {
			suffix := strings.ToUpper(s[i+1:])
			if currencyCode.MatchString(suffix) {
				s, currency = strings.TrimSpace(s[:i+1]), suffix
			}
		}
	}

	s = strings.ReplaceAll(s, " ", "")
	switch {
	case plainAmount.MatchString(s):
	case commaThousands.MatchString(s):
		s = strings.ReplaceAll(s, ",", "")
	case decimalComma.MatchString(s):
		s = strings.Replace(s, ",", ".", 1)
	case dotThousands.MatchString(s):
		s = strings.Replace(strings.ReplaceAll(s, ".", ""), ",", ".", 1)
	default:
		return decimal.Zero, "", fmt.Errorf("amount %q has no recognised number format", s)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, "", err
	}
	return d, currency, nil
}
