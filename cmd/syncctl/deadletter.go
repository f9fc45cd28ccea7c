package main

import (
	"fmt"
	"net/url"

	appdl "github.com/erp/syncengine/internal/application/deadletter"
	"github.com/erp/syncengine/internal/interfaces/http/dto"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func deadLetterCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "deadletter",
		Aliases: []string{"dl"},
		Short:   "Inspect, requeue and purge dead-lettered events",
	}
	cmd.AddCommand(deadLetterListCmd(c), deadLetterRequeueCmd(c), deadLetterPurgeCmd(c))
	return cmd
}

func deadLetterListCmd(c *cli) *cobra.Command {
	var priority, entityType string
	var query func() url.Values
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead-letter items by priority",
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := c.client()
			if err != nil {
				return err
			}
			q := query()
			setIf(q, "priority", priority)
			setIf(q, "entity_type", entityType)

			var items []dto.DeadLetterItemResponse
			meta, err := api.get(cmd.Context(), "/dead-letter", q, &items)
			if err != nil {
				return err
			}
			rows := make([]table.Row, 0, len(items))
			for _, i := range items {
				escalated := ""
				if i.Escalated {
					escalated = "yes"
				}
				rows = append(rows, table.Row{
					i.ID, i.Priority, i.EntityType, i.EntityID, i.Operation,
					i.AttemptCount, i.RequeueCount, escalated, i.FailureReason,
				})
			}
			return c.printer(cmd).table(items,
				table.Row{"ID", "Priority", "Entity", "Record", "Op", "Attempts", "Requeues", "Escalated", "Reason"},
				rows, meta)
		},
	}
	query = pageFlags(cmd)
	cmd.Flags().StringVar(&priority, "priority", "", "low, normal, high or critical")
	cmd.Flags().StringVar(&entityType, "entity-type", "", "entity type filter")
	return cmd
}

func deadLetterRequeueCmd(c *cli) *cobra.Command {
	var all bool
	var priority string
	cmd := &cobra.Command{
		Use:   "requeue [item-id]",
		Short: "Resubmit one item, or every item with --all",
		Args: func(cmd *cobra.Command, args []string) error {
			if all {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := c.client()
			if err != nil {
				return err
			}
			p := c.printer(cmd)
			if all {
				var res appdl.RequeueAllResult
				if err := api.post(cmd.Context(), "/dead-letter/requeue-all", dto.RequeueAllRequest{Priority: priority}, &res); err != nil {
					return err
				}
				if p.json {
					return p.printJSON(res)
				}
				_, err = fmt.Fprintf(p.out, "Requeued %d items in run %s\n", res.Requeued, res.RunID)
				return err
			}
			var res appdl.RequeueResult
			if err := api.post(cmd.Context(), "/dead-letter/"+url.PathEscape(args[0])+"/requeue", nil, &res); err != nil {
				return err
			}
			if p.json {
				return p.printJSON(res)
			}
			_, err = fmt.Fprintf(p.out, "Requeued item %s as event %s in run %s\n", res.ItemID, res.EventID, res.RunID)
			return err
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "requeue every item")
	cmd.Flags().StringVar(&priority, "priority", "", "with --all, only this priority")
	return cmd
}

func deadLetterPurgeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "purge <item-id>",
		Short: "Delete a dead-letter item without replaying it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := c.client()
			if err != nil {
				return err
			}
			if err := api.delete(cmd.Context(), "/dead-letter/"+url.PathEscape(args[0])); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Purged item %s\n", args[0])
			return err
		},
	}
}
