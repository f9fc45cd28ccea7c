package main

import (
	"net/url"
	"strconv"

	"github.com/erp/syncengine/internal/interfaces/http/dto"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func alertsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{Use: "alerts", Short: "List and acknowledge alerts"}
	cmd.AddCommand(alertsListCmd(c), alertsAckCmd(c))
	return cmd
}

func alertsListCmd(c *cli) *cobra.Command {
	var severity, source string
	var all bool
	var query func() url.Values
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List alerts, active only unless --all",
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := c.client()
			if err != nil {
				return err
			}
			q := query()
			setIf(q, "severity", severity)
			setIf(q, "source", source)
			if !all {
				q.Set("is_active", strconv.FormatBool(true))
			}

			var alerts []dto.AlertResponse
			meta, err := api.get(cmd.Context(), "/alerts", q, &alerts)
			if err != nil {
				return err
			}
			rows := make([]table.Row, 0, len(alerts))
			for _, a := range alerts {
				acked := "no"
				if a.Acknowledged {
					acked = a.AcknowledgedBy
				}
				rows = append(rows, table.Row{
					a.ID, a.Severity, a.Source, a.Title, a.Occurrences,
					formatTime(&a.LastSeenAt), acked,
				})
			}
			return c.printer(cmd).table(alerts,
				table.Row{"ID", "Severity", "Source", "Title", "Seen", "Last seen", "Acknowledged"},
				rows, meta)
		},
	}
	query = pageFlags(cmd)
	cmd.Flags().StringVar(&severity, "severity", "", "info, warning, error or critical")
	cmd.Flags().StringVar(&source, "source", "", "alert source filter")
	cmd.Flags().BoolVar(&all, "all", false, "include resolved alerts")
	return cmd
}

func alertsAckCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "ack <alert-id>",
		Short: "Acknowledge an alert as the token subject",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := c.client()
			if err != nil {
				return err
			}
			var a dto.AlertResponse
			if err := api.post(cmd.Context(), "/alerts/"+url.PathEscape(args[0])+"/acknowledge", nil, &a); err != nil {
				return err
			}
			return c.printer(cmd).fields(a, []table.Row{
				{"ID", a.ID},
				{"Title", a.Title},
				{"Severity", a.Severity},
				{"Acknowledged by", a.AcknowledgedBy},
				{"Acknowledged at", formatTime(a.AcknowledgedAt)},
			})
		},
	}
}
