package main

import (
	"fmt"

	"github.com/erp/syncengine/internal/domain/reconciliation"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func healingCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{Use: "healing", Short: "Auto-healing statistics and passes"}
	cmd.AddCommand(healingStatsCmd(c), healingRunCmd(c))
	return cmd
}

func healingStatsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show totals since the server started",
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := c.client()
			if err != nil {
				return err
			}
			var s reconciliation.AutoHealingStats
			if _, err := api.get(cmd.Context(), "/auto-healing/stats", nil, &s); err != nil {
				return err
			}
			return c.printer(cmd).fields(s, []table.Row{
				{"Passes", s.Passes},
				{"Failed passes", s.FailedPasses},
				{"Last pass", formatTime(s.LastPassAt)},
				{"Discrepancies found", s.DiscrepanciesFound},
				{"Auto-corrected", s.AutoCorrected},
				{"Alert only", s.AlertOnly},
				{"Open discrepancies", s.OpenDiscrepancies},
				{"Last score", fmt.Sprintf("%.1f", s.LastScore)},
			})
		},
	}
}

func healingRunCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run a reconciliation pass now and print its report",
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := c.client()
			if err != nil {
				return err
			}
			var report reconciliation.Report
			if err := api.post(cmd.Context(), "/auto-healing/run", nil, &report); err != nil {
				return err
			}
			p := c.printer(cmd)
			if p.json {
				return p.printJSON(report)
			}
			rows := make([]table.Row, 0, len(report.Stats))
			for _, s := range report.Stats {
				rows = append(rows, table.Row{
					s.EntityType, s.ZohoTotal, s.LocalTotal, s.Matching,
					s.MissingInLocal, s.MissingInZoho, s.Mismatched,
					fmt.Sprintf("%.1f%%", s.MatchPercentage),
				})
			}
			if err := p.table(report, table.Row{"Entity", "Zoho", "Local", "Match", "Missing local", "Missing Zoho", "Mismatched", "Match %"}, rows, nil); err != nil {
				return err
			}
			_, err = fmt.Fprintf(p.out, "Score %.1f, %d auto-corrected, %d alert only, %d reported, %d deferred in %dms\n",
				report.DataQualityScore, report.AutoCorrected, report.AlertOnly, report.Reported, report.Deferred, report.DurationMs)
			return err
		},
	}
}
