package store

import (
	"sort"

	"qms/queue-service/internal/models"
)

// Ahead reports whether a is served before b: higher priority first, then
// earlier creation, then ticket id so the order is total.
func Ahead(a, b models.Ticket) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.TicketID < b.TicketID
}

func SortQueue(tickets []models.Ticket) {
	sort.SliceStable(tickets, func(i, j int) bool {
		return Ahead(tickets[i], tickets[j])
	})
}

// ApplyDurations fills the derived duration fields from the stored
// timestamps.
func ApplyDurations(ticket *models.Ticket) {
	if ticket.CalledAt != nil && ticket.WaitSeconds == nil {
		wait := int64(ticket.CalledAt.Sub(ticket.CreatedAt).Seconds())
		if wait < 0 {
			wait = 0
		}
		ticket.WaitSeconds = &wait
	}
	if ticket.StartedAt != nil && ticket.CompletedAt != nil && ticket.ServiceSeconds == nil {
		if ticket.Status == models.StatusCompleted || ticket.Status == models.StatusTransferred {
			served := int64(ticket.CompletedAt.Sub(*ticket.StartedAt).Seconds())
			if served < 0 {
				served = 0
			}
			ticket.ServiceSeconds = &served
		}
	}
}
