package cli

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"qms/queue-service/internal/models"
)

func stationCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "station",
		Short: "Work a service station",
	}
	cmd.AddCommand(stationCallNextCmd(opts))
	cmd.AddCommand(stationActiveCmd(opts))
	return cmd
}

func stationCallNextCmd(opts *options) *cobra.Command {
	var agent string
	cmd := &cobra.Command{
		Use:   "call-next <station-id>",
		Short: "Call the highest priority waiting ticket to the station",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			var raw json.RawMessage
			if _, err := client.Post(cmd.Context(), "/api/stations/"+args[0]+"/call-next", map[string]interface{}{"agent_id": agent}, &raw); err != nil {
				return err
			}
			var empty struct {
				Empty bool `json:"empty"`
			}
			if err := json.Unmarshal(raw, &empty); err == nil && empty.Empty {
				fmt.Fprintln(cmd.OutOrStdout(), color.New(color.FgYellow).Sprint("Queue is empty"))
				return nil
			}
			var ticket models.Ticket
			if err := json.Unmarshal(raw, &ticket); err != nil {
				return fmt.Errorf("decode ticket: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s to station %s\n",
				color.New(color.FgGreen).Sprint("Calling"), ticket.TicketNumber, args[0])
			printTicket(cmd.OutOrStdout(), ticket)
			return nil
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "", "agent working the station")
	_ = cmd.MarkFlagRequired("agent")
	return cmd
}

func stationActiveCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "active <station-id>",
		Short: "Show the ticket currently held by a station",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			var ticket models.Ticket
			status, err := client.Get(cmd.Context(), "/api/stations/"+args[0]+"/active", nil, &ticket)
			if err != nil {
				return err
			}
			if status == http.StatusNoContent {
				fmt.Fprintf(cmd.OutOrStdout(), "Station %s is idle\n", args[0])
				return nil
			}
			printTicket(cmd.OutOrStdout(), ticket)
			return nil
		},
	}
}
