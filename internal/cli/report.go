package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/memlens/memlens/episode"
	"github.com/memlens/memlens/evaluation"
)

var (
	reportInput  string
	reportOutput string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Recompute a report from saved results",
	Long: `Recompute the evaluation report from a saved results file.

Reports are pure functions of the results, so recomputing from the
results.jsonl of a past run reproduces that run's report.

Examples:
  memlens report --input out/results.jsonl
  memlens report --input out/results.jsonl --output out/report.json`,
	Args: cobra.NoArgs,
	RunE: runReport,
}

func init() {
	reportCmd.Flags().StringVarP(&reportInput, "input", "i", "out/results.jsonl", "results file to read")
	reportCmd.Flags().StringVarP(&reportOutput, "output", "o", "", "report file to write (default stdout)")
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := buildLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	results, err := episode.ReadResultsFile(reportInput)
	if err != nil {
		return fmt.Errorf("read results: %w", err)
	}

	reporter := evaluation.NewReporter(logger)
	report := reporter.Build(results)

	if reportOutput == "" {
		return reporter.WriteJSON(cmd.OutOrStdout(), report)
	}
	if err := reporter.WriteFile(reportOutput, report); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "report: %s\n", reportOutput)
	return nil
}
