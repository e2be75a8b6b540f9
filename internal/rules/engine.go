// Package rules loads declarative reimbursement rules and evaluates claims
// against them.
package rules

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/opensource-finance/medoracle/internal/domain"
)

// Evaluate runs every rule of the catalog, in declaration order, against
// the claim. There is no short-circuit: every result is recorded. The
// function is pure; the same claim and catalog give the same verdict.
func Evaluate(claim *domain.Claim, cat *Catalog) *domain.Verdict {
	verdict := &domain.Verdict{
		ClaimID:        claim.ID,
		CatalogVersion: cat.version,
		Results:        make([]domain.RuleResult, 0, len(cat.rules)),
	}

	hardFailed, softFailed := false, false
	for _, rule := range cat.rules {
		result := rule.evaluate(claim)
		verdict.Results = append(verdict.Results, result)
		if result.Passed {
			continue
		}
		switch result.Severity {
		case domain.SeverityHard:
			hardFailed = true
		case domain.SeveritySoft:
			softFailed = true
		}
	}

	switch {
	case hardFailed:
		verdict.Status = domain.StatusRejected
	case softFailed:
		verdict.Status = domain.StatusNeedsReview
	default:
		verdict.Status = domain.StatusApproved
	}

	return verdict
}

// Engine owns the active catalog. Reads are lock-free; reload builds a
// new catalog and swaps the pointer, so an evaluation sees either the
// old catalog or the new one in full.
type Engine struct {
	current atomic.Pointer[Catalog]
	logger  *slog.Logger
}

// NewEngine creates an engine serving cat. A nil catalog starts empty.
func NewEngine(cat *Catalog, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cat == nil {
		cat = Empty()
	}
	e := &Engine{logger: logger}
	e.current.Store(cat)
	return e
}

// Catalog returns the active catalog.
func (e *Engine) Catalog() *Catalog {
	return e.current.Load()
}

// Evaluate evaluates the claim against the active catalog. The catalog
// reference is read once, so a concurrent reload cannot mix versions.
func (e *Engine) Evaluate(claim *domain.Claim) *domain.Verdict {
	return Evaluate(claim, e.current.Load())
}

// Swap installs cat and returns the previous catalog.
func (e *Engine) Swap(cat *Catalog) *Catalog {
	prev := e.current.Swap(cat)
	e.logger.Info("rule catalog swapped",
		"previous_version", prev.Version(),
		"version", cat.Version(),
		"rules_count", cat.Len(),
	)
	return prev
}

// Reload loads src and swaps it in. On error the active catalog is kept.
func (e *Engine) Reload(src []byte) (*Catalog, error) {
	cat, err := Load(src)
	if err != nil {
		e.logger.Warn("rule catalog reload rejected", "error", err)
		return nil, err
	}
	e.Swap(cat)
	return cat, nil
}

// ReloadFile loads the rule document at path and swaps it in.
func (e *Engine) ReloadFile(path string) (*Catalog, error) {
	cat, err := LoadFile(path)
	if err != nil {
		e.logger.Warn("rule catalog reload rejected", "path", path, "error", err)
		return nil, fmt.Errorf("reload %s: %w", path, err)
	}
	e.Swap(cat)
	return cat, nil
}
