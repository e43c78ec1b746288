package store

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"qms/queue-service/internal/models"
)

type TicketEvent struct {
	TicketID  string          `json:"ticket_id"`
	TicketSeq int             `json:"ticket_seq"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	PrevHash  string          `json:"prev_hash"`
	Hash      string          `json:"hash"`
}

// EventPayload is the body of both outbox and ticket_events rows. Consumers
// decode it to render notifications and realtime changes.
type EventPayload struct {
	TicketID        string     `json:"ticket_id"`
	TicketNumber    string     `json:"ticket_number"`
	Status          string     `json:"status"`
	TenantID        string     `json:"tenant_id"`
	BranchID        string     `json:"branch_id"`
	ServiceID       string     `json:"service_id"`
	ServiceName     string     `json:"service_name,omitempty"`
	FromServiceID   string     `json:"from_service_id,omitempty"`
	ToServiceID     string     `json:"to_service_id,omitempty"`
	NewTicketID     string     `json:"new_ticket_id,omitempty"`
	StationID       *string    `json:"station_id,omitempty"`
	StationNumber   string     `json:"station_number,omitempty"`
	AgentID         *string    `json:"agent_id,omitempty"`
	Priority        int        `json:"priority"`
	CustomerName    string     `json:"customer_name,omitempty"`
	Phone           string     `json:"phone,omitempty"`
	PushTarget      string     `json:"push_target,omitempty"`
	Reason          string     `json:"reason,omitempty"`
	RecallCount     int        `json:"recall_count,omitempty"`
	TransferredFrom string     `json:"transferred_from,omitempty"`
	CreatedAt       *time.Time `json:"created_at,omitempty"`
	CalledAt        *time.Time `json:"called_at,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	ChangedAt       time.Time  `json:"changed_at"`
}

func NewEventPayload(ticket models.Ticket, changedAt time.Time) EventPayload {
	createdAt := ticket.CreatedAt
	return EventPayload{
		TicketID:        ticket.TicketID,
		TicketNumber:    ticket.TicketNumber,
		Status:          ticket.Status,
		TenantID:        ticket.TenantID,
		BranchID:        ticket.BranchID,
		ServiceID:       ticket.ServiceID,
		StationID:       ticket.StationID,
		AgentID:         ticket.AgentID,
		Priority:        ticket.Priority,
		CustomerName:    ticket.Customer.Name,
		Phone:           ticket.Customer.Phone,
		PushTarget:      ticket.Customer.PushTarget,
		RecallCount:     ticket.RecallCount,
		TransferredFrom: ticket.TransferredFrom,
		CreatedAt:       &createdAt,
		CalledAt:        ticket.CalledAt,
		StartedAt:       ticket.StartedAt,
		CompletedAt:     ticket.CompletedAt,
		ChangedAt:       changedAt.UTC(),
	}
}

func DecodeEventPayload(raw json.RawMessage) (EventPayload, error) {
	var payload EventPayload
	if len(raw) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return EventPayload{}, err
	}
	return payload, nil
}

func ComputeTicketEventHash(prevHash, ticketID, eventType string, payload json.RawMessage, createdAt time.Time, seq int) string {
	raw := fmt.Sprintf("%s|%s|%s|%s|%d|%s", prevHash, ticketID, eventType, createdAt.UTC().Format(time.RFC3339Nano), seq, payload)
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", sum)
}

// VerifyChain returns the sequence number of the first event whose hash or
// back-link does not match, or 0 when the chain is intact.
func VerifyChain(events []TicketEvent) int {
	prev := ""
	for _, event := range events {
		if event.PrevHash != prev {
			return event.TicketSeq
		}
		want := ComputeTicketEventHash(event.PrevHash, event.TicketID, event.Type, event.Payload, event.CreatedAt, event.TicketSeq)
		if want != event.Hash {
			return event.TicketSeq
		}
		prev = event.Hash
	}
	return 0
}

func RehydrateTicket(events []TicketEvent) (models.Ticket, error) {
	var ticket models.Ticket
	for _, event := range events {
		if len(event.Payload) == 0 {
			continue
		}
		payload, err := DecodeEventPayload(event.Payload)
		if err != nil {
			return models.Ticket{}, err
		}
		if payload.TicketID != "" {
			ticket.TicketID = payload.TicketID
		}
		if payload.TicketNumber != "" {
			ticket.TicketNumber = payload.TicketNumber
		}
		if payload.TenantID != "" {
			ticket.TenantID = payload.TenantID
		}
		if payload.BranchID != "" {
			ticket.BranchID = payload.BranchID
		}
		if payload.ServiceID != "" {
			ticket.ServiceID = payload.ServiceID
		}
		if payload.Status != "" {
			ticket.Status = payload.Status
		}
		if payload.CustomerName != "" {
			ticket.Customer.Name = payload.CustomerName
		}
		ticket.Priority = payload.Priority
		ticket.RecallCount = payload.RecallCount
		if payload.TransferredFrom != "" {
			ticket.TransferredFrom = payload.TransferredFrom
		}
		if payload.CreatedAt != nil {
			ticket.CreatedAt = *payload.CreatedAt
		}
		if payload.CalledAt != nil {
			ticket.CalledAt = payload.CalledAt
		}
		if payload.StartedAt != nil {
			ticket.StartedAt = payload.StartedAt
		}
		if payload.CompletedAt != nil {
			ticket.CompletedAt = payload.CompletedAt
		}
		if payload.StationID != nil {
			ticket.StationID = payload.StationID
		}
		if payload.AgentID != nil {
			ticket.AgentID = payload.AgentID
		}
	}
	return ticket, nil
}

// ChainEvent builds the next link for a ticket's event log.
func ChainEvent(prev *TicketEvent, ticketID, eventType string, payload json.RawMessage, createdAt time.Time) TicketEvent {
	seq := 1
	prevHash := ""
	if prev != nil {
		seq = prev.TicketSeq + 1
		prevHash = prev.Hash
	}
	return TicketEvent{
		TicketID:  ticketID,
		TicketSeq: seq,
		Type:      eventType,
		Payload:   payload,
		CreatedAt: createdAt,
		PrevHash:  prevHash,
		Hash:      ComputeTicketEventHash(prevHash, ticketID, eventType, payload, createdAt, seq),
	}
}
