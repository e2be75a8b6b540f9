package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/medoracle/internal/bus"
	"github.com/opensource-finance/medoracle/internal/cache"
	"github.com/opensource-finance/medoracle/internal/decision"
	"github.com/opensource-finance/medoracle/internal/domain"
	"github.com/opensource-finance/medoracle/internal/metrics"
	"github.com/opensource-finance/medoracle/internal/normalize"
	"github.com/opensource-finance/medoracle/internal/oracle"
	"github.com/opensource-finance/medoracle/internal/recorder"
	"github.com/opensource-finance/medoracle/internal/repository"
	"github.com/opensource-finance/medoracle/internal/rules"
	"github.com/prometheus/client_golang/prometheus"
)

// components is the wired pipeline and its infrastructure.
type components struct {
	repo    *repository.SQLRepository
	cache   domain.Cache
	bus     domain.EventBus
	metrics *metrics.Metrics
	service *oracle.Service
	closers []func() error
}

type componentOptions struct {
	// online connects the cache and event bus and registers metrics.
	online     bool
	registerer prometheus.Registerer
}

func buildComponents(ctx context.Context, cfg *domain.Config, logger *slog.Logger, opts componentOptions) (*components, error) {
	c := &components{}

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return nil, fmt.Errorf("initialize repository: %w", err)
	}
	c.repo = repo
	c.closers = append(c.closers, repo.Close)
	logger.Info("repository initialized", "driver", cfg.Repository.Driver)

	if opts.online {
		cacheImpl, err := cache.New(cfg.Cache)
		if err != nil {
			c.close()
			return nil, fmt.Errorf("initialize cache: %w", err)
		}
		c.cache = cacheImpl
		c.closers = append(c.closers, cacheImpl.Close)
		logger.Info("cache initialized", "type", cfg.Cache.Type)

		busImpl, err := bus.New(cfg.EventBus)
		if err != nil {
			c.close()
			return nil, fmt.Errorf("initialize event bus: %w", err)
		}
		c.bus = busImpl
		c.closers = append(c.closers, busImpl.Close)
		logger.Info("event bus initialized", "type", cfg.EventBus.Type)

		if opts.registerer != nil {
			c.metrics = metrics.New(opts.registerer)
		}
	}

	recOpts := []recorder.Option{
		recorder.WithMetrics(c.metrics),
		recorder.WithLogger(logger),
	}
	if c.cache != nil {
		recOpts = append(recOpts, recorder.WithCache(c.cache, cfg.Cache.RecordTTL))
	}

	c.service = oracle.New(oracle.Config{
		Normalizer:       normalize.New(cfg.Normalizer),
		Engine:           rules.NewEngine(nil, logger),
		Processor:        decision.NewProcessor(nil),
		Recorder:         recorder.New(repo, cfg.Recorder, recOpts...),
		Repository:       repo,
		Cache:            c.cache,
		CacheTTL:         cfg.Cache.RecordTTL,
		Bus:              c.bus,
		Metrics:          c.metrics,
		Logger:           logger,
		RulesPath:        cfg.Rules.Path,
		BatchConcurrency: cfg.Server.BatchConcurrency,
	})

	cat, err := c.service.LoadRules(ctx)
	if err != nil {
		c.close()
		return nil, fmt.Errorf("load rules: %w", err)
	}
	logger.Info("rule catalog loaded",
		"policy", cat.Name(),
		"version", cat.Version(),
		"rules_count", cat.Len(),
	)

	return c, nil
}

// close releases resources in reverse order of acquisition.
func (c *components) close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
