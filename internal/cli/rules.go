package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/opensource-finance/medoracle/internal/domain"
	"github.com/opensource-finance/medoracle/internal/rules"
	"github.com/spf13/cobra"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Work with rule documents",
}

var rulesValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate a rule document without installing it",
	Long: `Parse and compile a rule document exactly as the server would and
print the resulting catalog. A document with any invalid rule is rejected
as a whole.

Example:
  medoracle rules validate rules.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runRulesValidate,
}

func init() {
	rulesCmd.AddCommand(rulesValidateCmd)
	rootCmd.AddCommand(rulesCmd)
}

func runRulesValidate(cmd *cobra.Command, args []string) error {
	cat, err := rules.LoadFile(args[0])
	if err != nil {
		var lerr *domain.RuleLoadError
		if errors.As(err, &lerr) {
			return fmt.Errorf("%s: invalid rule document: %w", args[0], lerr)
		}
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "policy:   %s\n", cat.Name())
	fmt.Fprintf(out, "label:    %s\n", cat.Label())
	fmt.Fprintf(out, "version:  %s\n", cat.Version())
	fmt.Fprintf(out, "rules:    %d\n\n", cat.Len())

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tFIELD\tOPERATOR\tSEVERITY\tEFFECT\tGUARD")
	for _, def := range cat.Definitions() {
		guard := "-"
		if def.When != "" {
			guard = def.When
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			def.ID, def.Field, def.Operator, def.Severity, def.Effect, guard)
	}
	return tw.Flush()
}
