package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Claim field names. These are the only names rules may reference.
const (
	FieldExamType      = "examType"
	FieldExamDate      = "examDate"
	FieldClaimedAmount = "claimedAmount"
	FieldCurrency      = "currency"
	FieldPatientID     = "patientId"
	FieldInstitution   = "institution"
)

// FieldType is the value type of a claim field.
type FieldType string

const (
	FieldTypeString FieldType = "string"
	FieldTypeDate   FieldType = "date"
	FieldTypeAmount FieldType = "amount"
)

// ClaimFields lists every known claim field with its type.
var ClaimFields = map[string]FieldType{
	FieldExamType:      FieldTypeString,
	FieldExamDate:      FieldTypeDate,
	FieldClaimedAmount: FieldTypeAmount,
	FieldCurrency:      FieldTypeString,
	FieldPatientID:     FieldTypeString,
	FieldInstitution:   FieldTypeString,
}

// RequiredFields must be present in every extraction.
var RequiredFields = []string{
	FieldExamType,
	FieldExamDate,
	FieldClaimedAmount,
	FieldPatientID,
}

// DateLayout is the canonical calendar date layout.
const DateLayout = "2006-01-02"

// Claim is the canonical, type-valid record of facts used for validation.
// A Claim is only ever constructed fully valid.
type Claim struct {
	ID            string          `json:"id"`
	ExamType      string          `json:"examType"`
	ExamDate      time.Time       `json:"examDate"` // UTC midnight
	ClaimedAmount decimal.Decimal `json:"claimedAmount"`
	Currency      string          `json:"currency"`
	PatientID     string          `json:"patientId"`
	Institution   string          `json:"institution,omitempty"`
	Source        string          `json:"source,omitempty"`
}

// StringField returns the value of a string-typed field.
func (c *Claim) StringField(name string) (string, bool) {
	switch name {
	case FieldExamType:
		return c.ExamType, true
	case FieldCurrency:
		return c.Currency, true
	case FieldPatientID:
		return c.PatientID, true
	case FieldInstitution:
		return c.Institution, true
	}
	return "", false
}

// DateField returns the value of a date-typed field.
func (c *Claim) DateField(name string) (time.Time, bool) {
	if name == FieldExamDate {
		return c.ExamDate, true
	}
	return time.Time{}, false
}

// AmountField returns the value of an amount-typed field.
func (c *Claim) AmountField(name string) (decimal.Decimal, bool) {
	if name == FieldClaimedAmount {
		return c.ClaimedAmount, true
	}
	return decimal.Zero, false
}

// Facts returns the claim as a flat map for expression evaluation. The
// claimed amount is a float64 there and may differ from ClaimedAmount in
// the last digits; exact money comparisons belong in rule operators.
func (c *Claim) Facts() map[string]any {
	return map[string]any{
		FieldExamType:      c.ExamType,
		FieldExamDate:      c.ExamDate.Format(DateLayout),
		FieldClaimedAmount: c.ClaimedAmount.InexactFloat64(),
		FieldCurrency:      c.Currency,
		FieldPatientID:     c.PatientID,
		FieldInstitution:   c.Institution,
	}
}
