package cli

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"qms/queue-service/internal/models"
	"qms/queue-service/internal/queue"
)

func ticketCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ticket",
		Short: "Issue and manage tickets",
	}
	cmd.AddCommand(ticketCreateCmd(opts))
	cmd.AddCommand(ticketShowCmd(opts))
	cmd.AddCommand(ticketHistoryCmd(opts))
	cmd.AddCommand(ticketNotificationsCmd(opts))
	for _, action := range []struct {
		name  string
		short string
	}{
		{"start", "Begin serving a called ticket"},
		{"hold", "Put a serving ticket on hold"},
		{"resume", "Resume a ticket that is on hold"},
		{"complete", "Finish serving a ticket"},
		{"no-show", "Mark a called ticket as no-show"},
		{"cancel", "Cancel a ticket"},
		{"recall", "Send a called ticket back to the queue"},
	} {
		cmd.AddCommand(ticketActionCmd(opts, action.name, action.short))
	}
	cmd.AddCommand(ticketTransferCmd(opts))
	cmd.AddCommand(ticketEscalateCmd(opts))
	cmd.AddCommand(ticketFeedbackCmd(opts))
	return cmd
}

func ticketCreateCmd(opts *options) *cobra.Command {
	var (
		branch, service, source, notes, requestID string
		customer                                  models.Customer
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Issue a new ticket",
		Example: `  queuectl ticket create --branch main --service svc-cs --name "Ana" --phone +15550100
  queuectl ticket create --branch main --service svc-teller --source web --request-id 7f1c`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			body := map[string]interface{}{
				"branch_id":  branch,
				"service_id": service,
				"source":     source,
				"notes":      notes,
				"customer":   customer,
			}
			if requestID != "" {
				body["request_id"] = requestID
			}
			var ticket models.Ticket
			status, err := client.Post(cmd.Context(), "/api/tickets", body, &ticket)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if status == http.StatusCreated {
				fmt.Fprintf(out, "%s ticket %s\n", color.New(color.FgGreen).Sprint("Created"), ticket.TicketNumber)
			} else {
				fmt.Fprintf(out, "%s ticket %s (request already issued)\n", color.New(color.FgYellow).Sprint("Existing"), ticket.TicketNumber)
			}
			printTicket(out, ticket)

			var estimate models.Estimate
			if _, err := client.Get(cmd.Context(), "/api/tickets/"+ticket.TicketID+"/estimate", nil, &estimate); err == nil {
				fmt.Fprint(out, "  estimate: ")
				printEstimate(out, estimate)
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&branch, "branch", "", "branch id")
	flags.StringVar(&service, "service", "", "service id")
	flags.StringVar(&source, "source", "kiosk", "ticket source (kiosk, web, phone)")
	flags.StringVar(&notes, "notes", "", "initial notes")
	flags.StringVar(&requestID, "request-id", "", "idempotency key; repeat it to get the same ticket back")
	flags.StringVar(&customer.Name, "name", "", "customer name")
	flags.StringVar(&customer.Phone, "phone", "", "customer phone for SMS")
	flags.StringVar(&customer.PushTarget, "push-target", "", "push notification target")
	flags.StringVar(&customer.MemberRef, "member-ref", "", "membership reference")
	flags.StringVar(&customer.MemberTier, "member-tier", "", "membership tier")
	flags.BoolVar(&customer.Disability, "disability", false, "customer needs accessibility support")
	flags.BoolVar(&customer.Pregnant, "pregnant", false, "customer is pregnant")
	_ = cmd.MarkFlagRequired("branch")
	_ = cmd.MarkFlagRequired("service")
	return cmd
}

func ticketShowCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show <ticket-id>",
		Short: "Show a ticket with its SLA phase and wait estimate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			base := "/api/tickets/" + args[0]
			var ticket models.Ticket
			if _, err := client.Get(cmd.Context(), base, nil, &ticket); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printTicket(out, ticket)

			var phase models.SLAStatus
			if _, err := client.Get(cmd.Context(), base+"/sla", nil, &phase); err == nil && phase.Tracked {
				fmt.Fprintf(out, "  sla:      %s after %.1f min\n", colorizePhase(phase.Phase), phase.ElapsedMinutes)
			}
			if ticket.Status == models.StatusWaiting {
				var estimate models.Estimate
				if _, err := client.Get(cmd.Context(), base+"/estimate", nil, &estimate); err == nil {
					fmt.Fprint(out, "  estimate: ")
					printEstimate(out, estimate)
				}
			}
			return nil
		},
	}
}

func ticketHistoryCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "history <ticket-id>",
		Short: "List the audit events of a ticket and verify the hash chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			var history queue.HistoryResult
			if _, err := client.Get(cmd.Context(), "/api/tickets/"+args[0]+"/history", nil, &history); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			table := newTable(out)
			fmt.Fprintln(table, "SEQ\tTYPE\tAT\tHASH")
			for _, event := range history.Events {
				hash := event.Hash
				if len(hash) > 12 {
					hash = hash[:12]
				}
				fmt.Fprintf(table, "%d\t%s\t%s\t%s\n", event.TicketSeq, event.Type, formatTime(event.CreatedAt), hash)
			}
			if err := table.Flush(); err != nil {
				return err
			}
			if history.Intact {
				fmt.Fprintf(out, "chain: %s\n", color.New(color.FgHiGreen).Sprint("✓ INTACT"))
			} else {
				fmt.Fprintf(out, "chain: %s at seq %d\n", color.New(color.FgRed).Sprint("BROKEN"), history.BrokenAtSeq)
			}
			fmt.Fprintf(out, "reconstructed status: %s\n", colorizeStatus(history.Reconstructed.Status))
			return nil
		},
	}
}

func ticketNotificationsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "notifications <ticket-id>",
		Short: "List notification attempts for a ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			var records []models.NotificationRecord
			if _, err := client.Get(cmd.Context(), "/api/tickets/"+args[0]+"/notifications", nil, &records); err != nil {
				return err
			}
			table := newTable(cmd.OutOrStdout())
			fmt.Fprintln(table, "EVENT\tCHANNEL\tATTEMPT\tSTATUS\tERROR")
			for _, record := range records {
				status := record.Status
				if status == models.NotificationSent {
					status = color.New(color.FgGreen).Sprint(status)
				} else if status == models.NotificationFailed {
					status = color.New(color.FgRed).Sprint(status)
				}
				fmt.Fprintf(table, "%s\t%s\t%d\t%s\t%s\n", record.EventType, record.Channel, record.Attempt, status, record.Error)
			}
			return table.Flush()
		},
	}
}

func ticketActionCmd(opts *options, action, short string) *cobra.Command {
	var agent, notes string
	cmd := &cobra.Command{
		Use:   action + " <ticket-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]interface{}{}
			if agent != "" {
				body["agent_id"] = agent
			}
			if notes != "" {
				body["notes"] = notes
			}
			return runAction(cmd, opts, args[0], action, body)
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "", "agent performing the action")
	cmd.Flags().StringVar(&notes, "notes", "", "note appended to the ticket")
	return cmd
}

func ticketTransferCmd(opts *options) *cobra.Command {
	var agent, toService, reason string
	cmd := &cobra.Command{
		Use:   "transfer <ticket-id>",
		Short: "Close a ticket and reissue it in another service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			body := map[string]interface{}{"to_service_id": toService, "reason": reason}
			if agent != "" {
				body["agent_id"] = agent
			}
			var result queue.TransferResult
			if _, err := client.Post(cmd.Context(), "/api/tickets/"+args[0]+"/actions/transfer", body, &result); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s %s\n",
				result.Closed.TicketNumber, colorizeStatus(result.Closed.Status),
				color.New(color.FgGreen).Sprint("->"), result.New.TicketNumber)
			printTicket(cmd.OutOrStdout(), result.New)
			return nil
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "", "agent performing the transfer")
	cmd.Flags().StringVar(&toService, "to", "", "target service id")
	cmd.Flags().StringVar(&reason, "reason", "", "transfer reason")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func ticketEscalateCmd(opts *options) *cobra.Command {
	var level int
	var reason string
	cmd := &cobra.Command{
		Use:   "escalate <ticket-id>",
		Short: "Raise the priority of a waiting ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]interface{}{"level": level, "reason": reason}
			return runAction(cmd, opts, args[0], "escalate", body)
		},
	}
	cmd.Flags().IntVar(&level, "level", 0, "new priority level (0-3)")
	cmd.Flags().StringVar(&reason, "reason", "", "escalation reason")
	_ = cmd.MarkFlagRequired("level")
	return cmd
}

func ticketFeedbackCmd(opts *options) *cobra.Command {
	var rating int
	var comment, sentiment string
	cmd := &cobra.Command{
		Use:   "feedback <ticket-id>",
		Short: "Record customer feedback on a finished ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]interface{}{"rating": rating}
			if comment != "" {
				body["comment"] = comment
			}
			if sentiment != "" {
				body["sentiment"] = sentiment
			}
			return runAction(cmd, opts, args[0], "feedback", body)
		},
	}
	cmd.Flags().IntVar(&rating, "rating", 0, "rating from 1 to 5")
	cmd.Flags().StringVar(&comment, "comment", "", "free-text comment")
	cmd.Flags().StringVar(&sentiment, "sentiment", "", "sentiment label")
	_ = cmd.MarkFlagRequired("rating")
	return cmd
}

func runAction(cmd *cobra.Command, opts *options, ticketID, action string, body map[string]interface{}) error {
	client, err := opts.client()
	if err != nil {
		return err
	}
	var ticket models.Ticket
	if _, err := client.Post(cmd.Context(), "/api/tickets/"+ticketID+"/actions/"+action, body, &ticket); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", strings.ToLower(action), ticket.TicketNumber, colorizeStatus(ticket.Status))
	return nil
}
