package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/medoracle/internal/api"
	"github.com/opensource-finance/medoracle/internal/domain"
	"github.com/opensource-finance/medoracle/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

// serveCmd runs the HTTP API and, when enabled, the bus worker.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the medoracle server",
	Long: `Start the HTTP API, load the rule catalog and, when worker.enabled is
set (always on in the pro tier), consume claims from the event bus.

Example:
  medoracle serve
  medoracle serve --config /etc/medoracle/medoracle.yaml
  MEDORACLE_TIER=pro MEDORACLE_SERVER_PORT=9090 medoracle serve`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	slog.Info("starting medoracle",
		"version", build.Version,
		"commit", build.Commit,
		"build_date", build.BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"rules", cfg.Rules.Path,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			slog.Info("received shutdown signal", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	c, err := buildComponents(ctx, cfg, logger, componentOptions{
		online:     true,
		registerer: prometheus.DefaultRegisterer,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := c.close(); err != nil {
			slog.Error("failed to release resources", "error", err)
		}
	}()

	if cfg.Rules.Watch {
		go func() {
			if err := c.service.WatchRules(ctx); err != nil {
				slog.Error("rule watcher stopped", "error", err)
			}
		}()
	}

	// Async worker (always on in the pro tier)
	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled || cfg.Tier == domain.TierPro {
		asyncWorker = worker.NewWorker(c.bus, c.service, logger)
		if err := asyncWorker.Start(worker.Config{TenantIDs: cfg.Worker.TenantIDs}); err != nil {
			return fmt.Errorf("start async worker: %w", err)
		}
	}

	srv := api.NewServer(cfg.Server, api.Dependencies{
		Service:  c.service,
		Repo:     c.repo,
		Cache:    c.cache,
		Bus:      c.bus,
		Metrics:  c.metrics,
		Gatherer: prometheus.DefaultGatherer,
		Version:  build.Version,
	})

	srvErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
		close(srvErr)
	}()

	slog.Info("medoracle is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)
	printBanner(cmd, cfg)

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-srvErr:
		if err != nil {
			runErr = fmt.Errorf("server failed: %w", err)
		}
	}
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("medoracle shutdown complete")
	return runErr
}

func printBanner(cmd *cobra.Command, cfg *domain.Config) {
	out := cmd.ErrOrStderr()
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  ═══════════════════════════════════════════")
	fmt.Fprintln(out, "    MEDORACLE")
	fmt.Fprintln(out, "    Medical reimbursement validation oracle")
	fmt.Fprintln(out, "  ═══════════════════════════════════════════")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Version:  %s\n", build.Version)
	fmt.Fprintf(out, "  Tier:     %s\n", cfg.Tier)
	fmt.Fprintf(out, "  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  Endpoints:")
	fmt.Fprintln(out, "    POST /claims                    - Submit a claim extraction")
	fmt.Fprintln(out, "    POST /claims/batch              - Submit several extractions")
	fmt.Fprintln(out, "    GET  /claims/{id}/decisions     - Decision history of a claim")
	fmt.Fprintln(out, "    GET  /decisions/{id}            - Get a recorded decision")
	fmt.Fprintln(out, "    POST /decisions/{id}/adjudicate - Resolve a NEEDS_REVIEW decision")
	fmt.Fprintln(out, "    GET  /records/{id}/verify       - Check a record's integrity hash")
	fmt.Fprintln(out, "    GET  /rules                     - List the active catalog")
	fmt.Fprintln(out, "    PUT  /rules                     - Upload a rule document")
	fmt.Fprintln(out, "    POST /rules/reload              - Reload the rule source")
	fmt.Fprintln(out, "    GET  /health                    - Health check")
	fmt.Fprintln(out, "    GET  /metrics                   - Prometheus metrics")
	fmt.Fprintln(out)
}
