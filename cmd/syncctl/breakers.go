package main

import (
	"net/url"

	"github.com/erp/syncengine/internal/domain/breaker"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func breakersCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{Use: "breakers", Short: "Show and reset circuit breakers"}
	cmd.AddCommand(breakersListCmd(c), breakersResetCmd(c))
	return cmd
}

func breakerRows(statuses ...breaker.Status) []table.Row {
	rows := make([]table.Row, 0, len(statuses))
	for _, s := range statuses {
		rows = append(rows, table.Row{
			s.Name, s.State,
			s.FailureCount, s.FailureThreshold, s.ConsecutiveTrips,
			formatTime(&s.LastStateChange), formatTime(s.NextRetryAt), orDash(s.LastError),
		})
	}
	return rows
}

var breakerHeader = table.Row{"Name", "State", "Failures", "Threshold", "Trips", "Changed", "Next retry", "Last error"}

func breakersListCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List breaker states",
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := c.client()
			if err != nil {
				return err
			}
			var statuses []breaker.Status
			if _, err := api.get(cmd.Context(), "/circuit-breakers", nil, &statuses); err != nil {
				return err
			}
			return c.printer(cmd).table(statuses, breakerHeader, breakerRows(statuses...), nil)
		},
	}
}

func breakersResetCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <name>",
		Short: "Force a breaker closed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := c.client()
			if err != nil {
				return err
			}
			var status breaker.Status
			if err := api.post(cmd.Context(), "/circuit-breakers/"+url.PathEscape(args[0])+"/reset", nil, &status); err != nil {
				return err
			}
			return c.printer(cmd).table(status, breakerHeader, breakerRows(status), nil)
		},
	}
}
