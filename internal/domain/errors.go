package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels for classifying pipeline failures with errors.Is.
var (
	ErrRuleLoad      = errors.New("rule load failed")
	ErrNormalization = errors.New("normalization failed")
	ErrRecord        = errors.New("record failed")
)

// RuleLoadErrorKind classifies a rejected rule source.
type RuleLoadErrorKind string

const (
	RuleLoadMalformed           RuleLoadErrorKind = "malformed_source"
	RuleLoadUnknownField        RuleLoadErrorKind = "unknown_field"
	RuleLoadDuplicateID         RuleLoadErrorKind = "duplicate_id"
	RuleLoadUnsupportedOperator RuleLoadErrorKind = "unsupported_operator"
)

// RuleLoadError reports why a rule source was rejected. Loading is
// all-or-nothing, so a single error rejects the whole document.
type RuleLoadError struct {
	Kind    RuleLoadErrorKind `json:"kind"`
	RuleID  string            `json:"ruleId,omitempty"`
	Field   string            `json:"field,omitempty"`
	Message string            `json:"message"`
}

func (e *RuleLoadError) Error() string {
	var b strings.Builder
	b.WriteString("rule load: ")
	b.WriteString(string(e.Kind))
	if e.RuleID != "" {
		fmt.Fprintf(&b, " (rule %s)", e.RuleID)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " (field %s)", e.Field)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	return b.String()
}

func (e *RuleLoadError) Is(target error) bool { return target == ErrRuleLoad }

// NormalizationIssueKind classifies a single field problem.
type NormalizationIssueKind string

const (
	IssueMissingField    NormalizationIssueKind = "missing_field"
	IssueUnparsableValue NormalizationIssueKind = "unparsable_value"
	IssueOutOfDomain     NormalizationIssueKind = "out_of_domain"
)

// FieldIssue describes why one field could not be normalized.
type FieldIssue struct {
	Field   string                 `json:"field"`
	Kind    NormalizationIssueKind `json:"kind"`
	Message string                 `json:"message"`
}

// NormalizationError carries every field issue found in an extraction.
type NormalizationError struct {
	Issues []FieldIssue `json:"issues"`
}

func (e *NormalizationError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, i := range e.Issues {
		parts = append(parts, fmt.Sprintf("%s: %s (%s)", i.Field, i.Message, i.Kind))
	}
	return "normalization: " + strings.Join(parts, "; ")
}

func (e *NormalizationError) Is(target error) bool { return target == ErrNormalization }

// Fields returns the names of the offending fields.
func (e *NormalizationError) Fields() []string {
	fields := make([]string, 0, len(e.Issues))
	for _, i := range e.Issues {
		fields = append(fields, i.Field)
	}
	return fields
}

// HasIssue reports whether field has an issue of the given kind.
func (e *NormalizationError) HasIssue(field string, kind NormalizationIssueKind) bool {
	for _, i := range e.Issues {
		if i.Field == field && i.Kind == kind {
			return true
		}
	}
	return false
}

// RecordErrorKind classifies an audit store failure.
type RecordErrorKind string

const RecordStorageUnavailable RecordErrorKind = "storage_unavailable"

// RecordError means a decision could not be durably recorded. Such a
// decision is not final and the caller must retry.
type RecordError struct {
	Kind     RecordErrorKind `json:"kind"`
	RecordID string          `json:"recordId"`
	Attempts int             `json:"attempts"`
	Err      error           `json:"-"`
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %s: %s after %d attempts: %v", e.RecordID, e.Kind, e.Attempts, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

func (e *RecordError) Is(target error) bool { return target == ErrRecord }
