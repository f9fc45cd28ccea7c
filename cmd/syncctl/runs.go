package main

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/erp/syncengine/internal/interfaces/http/dto"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func runsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{Use: "runs", Short: "Inspect and control sync runs"}
	cmd.AddCommand(runsListCmd(c), runsGetCmd(c), runsTriggerCmd(c), runsCancelCmd(c))
	return cmd
}

// pageFlags adds --page and --page-size, returning a query builder
func pageFlags(cmd *cobra.Command) func() url.Values {
	var page, size int
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&size, "page-size", 20, "items per page (max 100)")
	return func() url.Values {
		q := url.Values{}
		q.Set("page", strconv.Itoa(page))
		q.Set("page_size", strconv.Itoa(size))
		return q
	}
}

func setIf(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}

func runsListCmd(c *cli) *cobra.Command {
	var status, entityType, runType string
	var query func() url.Values
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := c.client()
			if err != nil {
				return err
			}
			q := query()
			setIf(q, "status", status)
			setIf(q, "entity_type", entityType)
			setIf(q, "run_type", runType)

			var runs []dto.RunResponse
			meta, err := api.get(cmd.Context(), "/runs", q, &runs)
			if err != nil {
				return err
			}
			rows := make([]table.Row, 0, len(runs))
			for _, r := range runs {
				rows = append(rows, table.Row{
					r.ID, r.RunType, r.EntityType, r.Status,
					fmt.Sprintf("%d/%d", r.ProcessedEvents, r.TotalEvents),
					r.FailedEvents, r.SkippedEvents, formatTime(r.StartedAt),
				})
			}
			return c.printer(cmd).table(runs,
				table.Row{"ID", "Type", "Entity", "Status", "Processed", "Failed", "Skipped", "Started"},
				rows, meta)
		},
	}
	query = pageFlags(cmd)
	cmd.Flags().StringVar(&status, "status", "", "pending, running, completed, failed or cancelled")
	cmd.Flags().StringVar(&entityType, "entity-type", "", "entity type filter")
	cmd.Flags().StringVar(&runType, "run-type", "", "manual, scheduled or webhook")
	return cmd
}

func printRun(c *cli, cmd *cobra.Command, r dto.RunResponse) error {
	return c.printer(cmd).fields(r, []table.Row{
		{"ID", r.ID},
		{"Run type", r.RunType},
		{"Entity type", r.EntityType},
		{"Work set", r.WorkSet},
		{"Status", r.Status},
		{"Events", fmt.Sprintf("%d total, %d processed, %d failed, %d skipped",
			r.TotalEvents, r.ProcessedEvents, r.FailedEvents, r.SkippedEvents)},
		{"Started", formatTime(r.StartedAt)},
		{"Completed", formatTime(r.CompletedAt)},
		{"Duration", fmt.Sprintf("%dms", r.DurationMs)},
		{"Worker", orDash(r.WorkerID)},
		{"Error", orDash(r.ErrorSummary)},
	})
}

func runsGetCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "get <run-id>",
		Short: "Show one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := c.client()
			if err != nil {
				return err
			}
			var run dto.RunResponse
			if _, err := api.get(cmd.Context(), "/runs/"+url.PathEscape(args[0]), nil, &run); err != nil {
				return err
			}
			return printRun(c, cmd, run)
		},
	}
}

func runsTriggerCmd(c *cli) *cobra.Command {
	var ids []string
	cmd := &cobra.Command{
		Use:   "trigger <entity-type|all>",
		Short: "Start a manual sync run",
		Long:  "Start a manual sync for one entity type, or every type with 'all'. --id limits the run to specific records.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := c.client()
			if err != nil {
				return err
			}
			var res dto.TriggerSyncResponse
			body := dto.TriggerSyncRequest{ItemIDs: ids}
			if err := api.post(cmd.Context(), "/sync/"+url.PathEscape(args[0]), body, &res); err != nil {
				return err
			}
			p := c.printer(cmd)
			if p.json {
				return p.printJSON(res)
			}
			_, err = fmt.Fprintf(p.out, "Run %s started\n", res.RunID)
			return err
		},
	}
	cmd.Flags().StringSliceVar(&ids, "id", nil, "record ids to sync (repeatable)")
	return cmd
}

func runsCancelCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <run-id>",
		Short: "Cancel a pending or running run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := c.client()
			if err != nil {
				return err
			}
			var run dto.RunResponse
			if err := api.post(cmd.Context(), "/runs/"+url.PathEscape(args[0])+"/cancel", nil, &run); err != nil {
				return err
			}
			return printRun(c, cmd, run)
		},
	}
}
