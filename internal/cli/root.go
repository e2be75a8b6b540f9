// Package cli implements the medoracle command line.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/opensource-finance/medoracle/internal/config"
	"github.com/opensource-finance/medoracle/internal/domain"
	"github.com/spf13/cobra"
)

// BuildInfo is set by main from ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

var (
	cfgFile string
	build   = BuildInfo{Version: "dev", Commit: "none", BuildDate: "unknown"}
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "medoracle",
	Short: "Medoracle - Medical reimbursement validation oracle",
	Long: `Medoracle turns structured extractions of medical reports into
APPROVED, REJECTED or NEEDS_REVIEW reimbursement decisions.

Claims are validated against a declarative rule catalog and every
decision is appended to a tamper-evident audit store.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command.
func Execute(info BuildInfo) error {
	build = info
	return rootCmd.Execute()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "medoracle %s (commit %s, built %s)\n",
			build.Version, build.Commit, build.BuildDate)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./medoracle.yaml or /etc/medoracle/medoracle.yaml)")

	rootCmd.AddCommand(versionCmd)
}

func loadConfig() (*domain.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger. MEDORACLE_DEBUG=true forces debug.
func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if os.Getenv("MEDORACLE_DEBUG") == "true" {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
