package store

import (
	"context"
	"encoding/json"
	"time"

	"qms/queue-service/internal/models"
)

type CreateTicketInput struct {
	RequestID       string
	TenantID        string
	BranchID        string
	ServiceID       string
	Customer        models.Customer
	Source          string
	Priority        int
	PriorityRuleID  string
	Notes           string
	TransferredFrom string
	CreatedAt       time.Time
}

// ClaimInput scopes a claim to one branch and, optionally, a set of
// services. An empty ServiceIDs list claims across the whole branch.
type ClaimInput struct {
	TenantID   string
	BranchID   string
	StationID  string
	AgentID    string
	ServiceIDs []string
	CalledAt   time.Time
}

type TransitionInput struct {
	TenantID   string
	TicketID   string
	AgentID    string
	Action     string
	Notes      string
	OccurredAt time.Time
}

type TransferInput struct {
	TenantID     string
	TicketID     string
	AgentID      string
	ToServiceID  string
	Reason       string
	Priority     int
	PriorityRule string
	OccurredAt   time.Time
}

type EscalateInput struct {
	TenantID   string
	TicketID   string
	Priority   int
	OccurredAt time.Time
}

type FeedbackInput struct {
	TenantID    string
	TicketID    string
	Rating      int
	Comment     string
	Sentiment   string
	SubmittedAt time.Time
}

// History aggregates completed tickets for one branch/service.
type History struct {
	AvgWaitSeconds    float64
	AvgServiceSeconds float64
	Samples           int
}

type TicketStore interface {
	CreateTicket(ctx context.Context, input CreateTicketInput) (models.Ticket, bool, error)
	GetTicket(ctx context.Context, tenantID, ticketID string) (models.Ticket, error)
	ListWaiting(ctx context.Context, tenantID, branchID string, serviceIDs []string) ([]models.Ticket, error)
	ListServing(ctx context.Context, tenantID string) ([]models.Ticket, error)
	GetActiveTicket(ctx context.Context, tenantID, stationID string) (models.Ticket, bool, error)
	ClaimNext(ctx context.Context, input ClaimInput) (models.Ticket, error)
	Transition(ctx context.Context, input TransitionInput) (models.Ticket, error)
	TransferTicket(ctx context.Context, input TransferInput) (models.Ticket, models.Ticket, error)
	RecallTicket(ctx context.Context, input TransitionInput) (models.Ticket, error)
	EscalatePriority(ctx context.Context, input EscalateInput) (models.Ticket, error)
	SubmitFeedback(ctx context.Context, input FeedbackInput) (models.Ticket, error)
	AutoNoShow(ctx context.Context, cutoff time.Time, batchSize int) ([]models.Ticket, error)
	ListTicketEvents(ctx context.Context, tenantID, ticketID string) ([]TicketEvent, error)
}

type StatsStore interface {
	CountWaiting(ctx context.Context, tenantID, branchID, serviceID string) (int, error)
	CountWaitingAhead(ctx context.Context, ticket models.Ticket) (int, error)
	CountActiveStations(ctx context.Context, tenantID, branchID, serviceID string) (int, error)
	ServiceHistory(ctx context.Context, tenantID, branchID, serviceID string, since time.Time, limit int) (History, error)
}

type ConfigStore interface {
	GetService(ctx context.Context, tenantID, serviceID string) (models.Service, error)
	GetStation(ctx context.Context, tenantID, stationID string) (models.Station, error)
	ListPriorityRules(ctx context.Context, tenantID string) ([]models.PriorityRule, error)
	ListSLAConfigs(ctx context.Context, tenantID string) ([]models.SLAConfig, error)
}

type OutboxStore interface {
	ListOutboxEvents(ctx context.Context, after OutboxOffset, limit int) ([]OutboxEvent, error)
	GetOffset(ctx context.Context, consumer string) (OutboxOffset, error)
	UpdateOffset(ctx context.Context, consumer string, offset OutboxOffset) error
	LatestOutboxOffset(ctx context.Context) (OutboxOffset, error)
}

type NotificationStore interface {
	// InsertNotification assigns the next attempt ordinal for
	// (ticket, event, channel) and stores the record as given.
	InsertNotification(ctx context.Context, record models.NotificationRecord) (models.NotificationRecord, error)
	MarkNotificationSent(ctx context.Context, notificationID, externalID string, sentAt time.Time) error
	MarkNotificationFailed(ctx context.Context, notificationID, lastError string) error
	ListNotifications(ctx context.Context, tenantID, ticketID string) ([]models.NotificationRecord, error)
	DeactivatePushTarget(ctx context.Context, tenantID, target string) error
}

type Store interface {
	TicketStore
	StatsStore
	ConfigStore
	OutboxStore
	NotificationStore
}

// OutboxEvent is ordered by (TxID, Seq). TxID is the id of the writing
// transaction, so every event of one mutation shares it.
type OutboxEvent struct {
	TxID      int64           `json:"tx_id"`
	Seq       int64           `json:"seq"`
	EventID   string          `json:"event_id"`
	TenantID  string          `json:"tenant_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

type OutboxOffset struct {
	LastTxID    int64
	LastSeq     int64
	LastEventID string
}

// Before reports whether event comes after the offset.
func (o OutboxOffset) Before(event OutboxEvent) bool {
	if event.TxID != o.LastTxID {
		return event.TxID > o.LastTxID
	}
	return event.Seq > o.LastSeq
}

func (o OutboxOffset) Advance(event OutboxEvent) OutboxOffset {
	if !o.Before(event) {
		return o
	}
	return OutboxOffset{LastTxID: event.TxID, LastSeq: event.Seq, LastEventID: event.EventID}
}

const ConsumerNotification = "notification"
