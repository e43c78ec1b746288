package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"qms/queue-service/internal/models"
)

func colorizeStatus(status string) string {
	upper := strings.ToUpper(status)
	switch status {
	case models.StatusWaiting:
		return color.New(color.FgYellow).Sprint(upper)
	case models.StatusCalled:
		return color.New(color.FgCyan).Sprint(upper)
	case models.StatusServing:
		return color.New(color.FgHiBlue).Sprint(upper)
	case models.StatusOnHold:
		return color.New(color.FgMagenta).Sprint(upper)
	case models.StatusCompleted:
		return color.New(color.FgHiGreen).Sprintf("✓ %s", upper)
	case models.StatusNoShow, models.StatusCancelled:
		return color.New(color.FgRed).Sprint(upper)
	default:
		return upper // transferred
	}
}

func colorizePhase(phase string) string {
	upper := strings.ToUpper(phase)
	switch phase {
	case models.PhaseOK:
		return color.New(color.FgHiGreen).Sprint(upper)
	case models.PhaseWarning:
		return color.New(color.FgYellow).Sprintf("⚠ %s", upper)
	case models.PhaseCritical:
		return color.New(color.FgRed).Sprintf("⚠ %s", upper)
	case models.PhaseBreached:
		return color.New(color.FgHiRed, color.Bold).Sprint(upper)
	default:
		return upper
	}
}

func newTable(out io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
}

func printTicket(out io.Writer, ticket models.Ticket) {
	fmt.Fprintf(out, "%s  %s\n", color.New(color.Bold).Sprint(ticket.TicketNumber), colorizeStatus(ticket.Status))
	fmt.Fprintf(out, "  id:       %s\n", ticket.TicketID)
	fmt.Fprintf(out, "  service:  %s (branch %s)\n", ticket.ServiceID, ticket.BranchID)
	if ticket.Customer.Name != "" {
		fmt.Fprintf(out, "  customer: %s\n", ticket.Customer.Name)
	}
	fmt.Fprintf(out, "  priority: %d", ticket.Priority)
	if ticket.PriorityRuleID != "" {
		fmt.Fprintf(out, " (%s)", ticket.PriorityRuleID)
	}
	fmt.Fprintln(out)
	if ticket.StationID != nil {
		agent := ""
		if ticket.AgentID != nil {
			agent = " agent " + *ticket.AgentID
		}
		fmt.Fprintf(out, "  station:  %s%s\n", *ticket.StationID, agent)
	}
	fmt.Fprintf(out, "  created:  %s\n", formatTime(ticket.CreatedAt))
	if ticket.WaitSeconds != nil {
		fmt.Fprintf(out, "  waited:   %s\n", time.Duration(*ticket.WaitSeconds)*time.Second)
	}
	if ticket.ServiceSeconds != nil {
		fmt.Fprintf(out, "  served:   %s\n", time.Duration(*ticket.ServiceSeconds)*time.Second)
	}
	if ticket.RecallCount > 0 {
		fmt.Fprintf(out, "  recalls:  %d\n", ticket.RecallCount)
	}
	if ticket.TransferredFrom != "" {
		fmt.Fprintf(out, "  transferred from: %s\n", ticket.TransferredFrom)
	}
	if ticket.Notes != "" {
		fmt.Fprintf(out, "  notes:    %s\n", strings.ReplaceAll(ticket.Notes, "\n", "\n            "))
	}
	if ticket.Feedback != nil {
		fmt.Fprintf(out, "  feedback: %d/5 %s\n", ticket.Feedback.Rating, ticket.Feedback.Comment)
	}
}

func printEstimate(out io.Writer, estimate models.Estimate) {
	line := fmt.Sprintf("~%d min, %d waiting, %d active agents, confidence %s",
		estimate.EstimatedMinutes, estimate.WaitingCount, estimate.ActiveAgents, estimate.Confidence)
	if estimate.Position > 0 {
		line = fmt.Sprintf("position %d, %s", estimate.Position, line)
	}
	if estimate.Degraded {
		line += color.New(color.FgYellow).Sprint(" (degraded)")
	}
	fmt.Fprintln(out, line)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
