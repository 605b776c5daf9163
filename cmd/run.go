package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobharvest/internal/schedule"
)

func newRunCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one scan, then classify and notify",
		Long: `Scans every configured target once, waits until every discovered job has
been ingested, then runs the classification and notification passes that
are enabled. Interrupting the command stops the scan at the next safe
point and still drains the queue.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			report, runErr := appInstance.Runner().Run(cmd.Context(), "cli")
			if err := writeReport(cmd.OutOrStdout(), report, asJSON); err != nil {
				appInstance.Logger().Warn("failed to print run report", zap.Error(err))
			}
			if runErr != nil {
				return fmt.Errorf("run pipeline: %w", runErr)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the run report as JSON")
	return cmd
}

func writeReport(w io.Writer, report schedule.Report, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	scan := report.Scan
	if _, err := fmt.Fprintf(w, "run %s: %d scanned, %d kept, %d saved, %d duplicates, %d filtered, %d failed targets\n",
		scan.RunID, scan.Totals.Scanned, scan.Totals.Kept, scan.Totals.Saved,
		scan.Totals.Duplicates, scan.Totals.Filtered, scan.Totals.Failed); err != nil {
		return err
	}
	for _, t := range scan.Targets {
		status := t.Reason
		if t.Failed {
			status = "failed: " + t.Error
		}
		if _, err := fmt.Fprintf(w, "  %-24s %4d scanned %4d saved  %s\n", t.Name, t.Scanned, t.Saved, status); err != nil {
			return err
		}
	}
	post := report.PostScan
	if post.Classified > 0 || post.Notified > 0 || post.ClassifyErrors > 0 {
		if _, err := fmt.Fprintf(w, "post-scan: %d classified (%d relevant, %d rejected, %d errors), %d notified\n",
			post.Classified, post.Relevant, post.Rejected, post.ClassifyErrors, post.Notified); err != nil {
			return err
		}
	}
	if scan.Stopped {
		if _, err := fmt.Fprintln(w, "run was stopped before every target finished"); err != nil {
			return err
		}
	}
	return nil
}
