package cli

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"qms/queue-service/internal/models"
	"qms/queue-service/internal/store"
)

func queueCmd(opts *options) *cobra.Command {
	var branch, service string
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "List waiting tickets in call order",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			query := url.Values{}
			query.Set("branch_id", branch)
			query.Set("service_id", service)
			var tickets []models.Ticket
			if _, err := client.Get(cmd.Context(), "/api/queues", query, &tickets); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(tickets) == 0 {
				fmt.Fprintln(out, "No tickets waiting")
				return nil
			}
			now := time.Now()
			table := newTable(out)
			fmt.Fprintln(table, "#\tNUMBER\tSERVICE\tPRIORITY\tWAITING\tCUSTOMER")
			for i, ticket := range tickets {
				waiting := now.Sub(ticket.CreatedAt).Truncate(time.Second)
				fmt.Fprintf(table, "%d\t%s\t%s\t%d\t%s\t%s\n",
					i+1, ticket.TicketNumber, ticket.ServiceID, ticket.Priority, waiting, ticket.Customer.Name)
			}
			return table.Flush()
		},
	}
	cmd.Flags().StringVar(&branch, "branch", "", "branch id")
	cmd.Flags().StringVar(&service, "service", "", "limit to one service")
	_ = cmd.MarkFlagRequired("branch")
	return cmd
}

func estimateCmd(opts *options) *cobra.Command {
	var branch, service string
	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate the wait for a customer arriving now",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			query := url.Values{}
			query.Set("branch_id", branch)
			query.Set("service_id", service)
			var estimate models.Estimate
			if _, err := client.Get(cmd.Context(), "/api/estimates", query, &estimate); err != nil {
				return err
			}
			printEstimate(cmd.OutOrStdout(), estimate)
			return nil
		},
	}
	cmd.Flags().StringVar(&branch, "branch", "", "branch id")
	cmd.Flags().StringVar(&service, "service", "", "service id")
	_ = cmd.MarkFlagRequired("branch")
	_ = cmd.MarkFlagRequired("service")
	return cmd
}

func eventsCmd(opts *options) *cobra.Command {
	var afterTx, after int64
	var limit int
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List outbox events for the tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			query := url.Values{}
			query.Set("after_tx", strconv.FormatInt(afterTx, 10))
			query.Set("after_seq", strconv.FormatInt(after, 10))
			query.Set("limit", strconv.Itoa(limit))
			var events []store.OutboxEvent
			if _, err := client.Get(cmd.Context(), "/api/events", query, &events); err != nil {
				return err
			}
			table := newTable(cmd.OutOrStdout())
			fmt.Fprintln(table, "TX\tSEQ\tTYPE\tAT\tPAYLOAD")
			for _, event := range events {
				fmt.Fprintf(table, "%d\t%d\t%s\t%s\t%s\n", event.TxID, event.Seq, event.Type, formatTime(event.CreatedAt), string(event.Payload))
			}
			return table.Flush()
		},
	}
	cmd.Flags().Int64Var(&afterTx, "after-tx", 0, "tx id of the last event seen")
	cmd.Flags().Int64Var(&after, "after", 0, "seq of the last event seen")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of events")
	return cmd
}
