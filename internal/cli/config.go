package cli

import (
	"fmt"

	"github.com/opensource-finance/medoracle/internal/config"
	"github.com/spf13/cobra"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect medoracle configuration",
	Long: `Inspect medoracle configuration.

Configuration hierarchy (highest to lowest priority):
1. Environment variables (MEDORACLE_*)
2. Config file (--config, ./medoracle.yaml, /etc/medoracle/medoracle.yaml)
3. Tier defaults`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long:  `Print the configuration the server would run with, after the file and environment are applied. Secrets are omitted.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		data, err := config.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
