package oracle

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/opensource-finance/medoracle/internal/domain"
	"github.com/opensource-finance/medoracle/internal/repository"
	"github.com/opensource-finance/medoracle/internal/rules"
)

// LoadRules installs the initial catalog. The configured rule file wins;
// without one, the latest stored rule source is used, and with neither the
// engine keeps its empty catalog.
func (s *Service) LoadRules(ctx context.Context) (*rules.Catalog, error) {
	if s.rulesPath != "" {
		if _, err := os.Stat(s.rulesPath); err == nil {
			return s.ReloadRules(ctx)
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		s.logger.Warn("rule file not found, falling back to stored rule source", "path", s.rulesPath)
	}

	cat, err := s.reloadStored(ctx)
	if errors.Is(err, ErrNoRuleSource) {
		s.logger.Warn("no rule source available, serving an empty catalog")
		return s.engine.Catalog(), nil
	}
	return cat, err
}

// ReloadRules re-reads the configured rule file, or the latest stored rule
// source when no file is configured, and swaps it in. On failure the
// active catalog keeps serving.
func (s *Service) ReloadRules(ctx context.Context) (*rules.Catalog, error) {
	if s.rulesPath == "" {
		return s.reloadStored(ctx)
	}

	cat, err := s.engine.ReloadFile(s.rulesPath)
	s.observeReload(cat, err)
	return cat, err
}

func (s *Service) reloadStored(ctx context.Context) (*rules.Catalog, error) {
	src, err := s.repo.LatestRuleSource(ctx)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNoRuleSource
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read rule source: %w", err)
	}

	cat, err := s.engine.Reload(src.Document)
	s.observeReload(cat, err)
	return cat, err
}

// PutRules validates a rule document, stores it in the rule source
// history and swaps it in. Nothing is stored when validation fails.
func (s *Service) PutRules(ctx context.Context, src []byte, createdBy string) (*rules.Catalog, error) {
	cat, err := rules.Load(src)
	if err != nil {
		s.observeReload(nil, err)
		return nil, err
	}

	if err := s.repo.SaveRuleSource(ctx, &domain.RuleSource{
		Version:   cat.Version(),
		Document:  src,
		CreatedBy: createdBy,
		CreatedAt: s.now().UTC().UnixNano(),
	}); err != nil {
		return nil, fmt.Errorf("failed to store rule source: %w", err)
	}

	s.engine.Swap(cat)
	s.observeReload(cat, nil)
	return cat, nil
}

func (s *Service) observeReload(cat *rules.Catalog, err error) {
	if err != nil {
		s.metrics.ObserveCatalog("error", 0)
		return
	}
	s.metrics.ObserveCatalog("ok", cat.Len())
}
