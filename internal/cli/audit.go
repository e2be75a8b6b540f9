package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
)

var (
	tenantID    string
	replaySince string
	replayLimit int
)

// ErrIntegrity is returned by verify when a record's hash does not match.
var ErrIntegrity = errors.New("record integrity check failed")

var verifyCmd = &cobra.Command{
	Use:   "verify <record-id>",
	Short: "Recompute a record's content hash",
	Long: `Read a record straight from the audit store and recompute the hash of
its decision, claim and verdict. Exits non-zero when the stored hash does
not match.

Example:
  medoracle verify 2f0c...e1 --tenant clinic-a`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Re-evaluate recorded claims against the current catalog",
	Long: `Replay stored claims through the rule catalog the server would load
and report decisions that would come out differently. Nothing is written.

Example:
  medoracle replay --tenant clinic-a
  medoracle replay --tenant clinic-a --since 2025-06-01 --limit 500`,
	Args: cobra.NoArgs,
	RunE: runReplay,
}

func init() {
	for _, cmd := range []*cobra.Command{verifyCmd, replayCmd} {
		cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id (required)")
		_ = cmd.MarkFlagRequired("tenant")
		rootCmd.AddCommand(cmd)
	}
	replayCmd.Flags().StringVar(&replaySince, "since", "", "only records at or after this date (YYYY-MM-DD or RFC3339)")
	replayCmd.Flags().IntVar(&replayLimit, "limit", 1000, "maximum records to replay (0 for all)")
}

// offlineComponents opens the audit store and rule source without the
// cache, bus or metrics. Logs go to stderr at warn level.
func offlineComponents(cmd *cobra.Command) (*components, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))
	return buildComponents(cmd.Context(), cfg, logger, componentOptions{})
}

func runVerify(cmd *cobra.Command, args []string) error {
	c, err := offlineComponents(cmd)
	if err != nil {
		return err
	}
	defer c.close()

	v, err := c.service.Verify(cmd.Context(), tenantID, args[0])
	if err != nil {
		return fmt.Errorf("verify %s: %w", args[0], err)
	}
	if err := printJSON(cmd, v); err != nil {
		return err
	}
	if !v.Valid {
		return ErrIntegrity
	}
	return nil
}

func runReplay(cmd *cobra.Command, args []string) error {
	since, err := parseSince(replaySince)
	if err != nil {
		return err
	}

	c, err := offlineComponents(cmd)
	if err != nil {
		return err
	}
	defer c.close()

	report, err := c.service.Replay(cmd.Context(), tenantID, since, replayLimit)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	return printJSON(cmd, report)
}

func parseSince(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --since %q: want YYYY-MM-DD or RFC3339", s)
	}
	return t, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
